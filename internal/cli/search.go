package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kioku-ai/kioku/internal/scoring"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search memories",
		Long: "Search memories. Modes:\n" +
			"  vector  pure semantic similarity (default)\n" +
			"  hybrid  semantic + normalized full-text, weighted fusion\n" +
			"  fuzzy   typo-tolerant text matching\n" +
			"  scored  semantic candidates re-ranked by recency/emotion/importance",
		Args: cobra.MinimumNArgs(1),
		Run:  runSearch,
	}

	cmd.Flags().StringP("mode", "m", "vector", "Search mode: vector, hybrid, fuzzy, scored")
	cmd.Flags().IntP("limit", "l", 5, "Max results")
	cmd.Flags().Float64("text-weight", 0, "Hybrid: text ranking weight (0 = config default)")
	cmd.Flags().Float64("vector-weight", 0, "Hybrid: vector ranking weight (0 = config default)")
	cmd.Flags().Bool("time-decay", true, "Scored: penalize stale memories")
	cmd.Flags().Bool("emotion-boost", true, "Scored: favor emotionally salient memories")

	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	mode, _ := cmd.Flags().GetString("mode")
	limit, _ := cmd.Flags().GetInt("limit")
	textWeight, _ := cmd.Flags().GetFloat64("text-weight")
	vectorWeight, _ := cmd.Flags().GetFloat64("vector-weight")
	timeDecay, _ := cmd.Flags().GetBool("time-decay")
	emotionBoost, _ := cmd.Flags().GetBool("emotion-boost")
	query := strings.Join(args, " ")

	m, err := openMemory(cmd.Context())
	if err != nil {
		exitErr("connect", err)
	}
	defer m.Disconnect()

	var out interface{}
	switch mode {
	case "vector":
		out, err = m.Search(cmd.Context(), query, limit)
	case "hybrid":
		out, err = m.HybridSearch(cmd.Context(), query, limit, textWeight, vectorWeight)
	case "fuzzy":
		out, err = m.FuzzySearch(cmd.Context(), query, limit)
	case "scored":
		out, err = m.SearchWithScoring(cmd.Context(), query, limit, scoring.Options{
			UseTimeDecay:    timeDecay,
			UseEmotionBoost: emotionBoost,
		})
	default:
		exitErr("search", fmt.Errorf("unknown mode %q (valid: vector, hybrid, fuzzy, scored)", mode))
	}
	if err != nil {
		exitErr("search", err)
	}

	b, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(b))
}
