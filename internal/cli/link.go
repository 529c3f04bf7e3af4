package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "link [source-id] [target-id]",
		Short: "Associate two memories",
		Args:  cobra.ExactArgs(2),
		Run:   runLink,
	}
	cmd.Flags().Float64P("weight", "w", 1.0, "Association weight")
	RootCmd.AddCommand(cmd)

	recall := &cobra.Command{
		Use:   "recall [query]",
		Short: "Associative recall",
		Long:  "Vector search that also strengthens co-activation between the recalled memories.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runRecall,
	}
	recall.Flags().IntP("limit", "l", 5, "Max results")
	RootCmd.AddCommand(recall)
}

func runLink(cmd *cobra.Command, args []string) {
	weight, _ := cmd.Flags().GetFloat64("weight")

	m, err := openMemory(cmd.Context())
	if err != nil {
		exitErr("connect", err)
	}
	defer m.Disconnect()

	l, err := m.Link(cmd.Context(), args[0], args[1], weight)
	if err != nil {
		exitErr("link", err)
	}

	b, _ := json.Marshal(l)
	fmt.Println(string(b))
}

func runRecall(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")

	m, err := openMemory(cmd.Context())
	if err != nil {
		exitErr("connect", err)
	}
	defer m.Disconnect()

	hits, err := m.Recall(cmd.Context(), strings.Join(args, " "), limit)
	if err != nil {
		exitErr("recall", err)
	}

	b, _ := json.MarshalIndent(hits, "", "  ")
	fmt.Println(string(b))
}
