package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kioku-ai/kioku/internal/memory"
	"github.com/kioku-ai/kioku/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "save [content]",
		Short: "Save a memory",
		Long:  "Save a memory. Content can be a positional arg or piped via stdin.",
		Run:   runSave,
	}

	cmd.Flags().IntP("importance", "i", model.DefaultImportance, "Importance 1-5")
	cmd.Flags().StringP("emotion", "e", string(model.EmotionNeutral),
		"Emotion: neutral, happy, excited, surprised, sad, angry, fearful")

	RootCmd.AddCommand(cmd)
}

func runSave(cmd *cobra.Command, args []string) {
	importance, _ := cmd.Flags().GetInt("importance")
	emotion, _ := cmd.Flags().GetString("emotion")

	// Content: positional arg first, then stdin.
	var content string
	if len(args) > 0 {
		content = strings.Join(args, " ")
	} else {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				exitErr("read stdin", err)
			}
			content = string(b)
		}
	}

	if strings.TrimSpace(content) == "" {
		exitErr("save", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	m, err := openMemory(cmd.Context())
	if err != nil {
		exitErr("connect", err)
	}
	defer m.Disconnect()

	mem, err := m.Save(cmd.Context(), memory.SaveParams{
		Content:    strings.TrimSpace(content),
		Importance: importance,
		Emotion:    model.Emotion(emotion),
	})
	if err != nil {
		exitErr("save", err)
	}

	b, _ := json.Marshal(mem)
	fmt.Println(string(b))
}
