package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kioku-ai/kioku/internal/model"
)

// exportRecord is the JSONL export shape. Unlike the search output it
// carries the embedding, so an import does not need the embedding service.
type exportRecord struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	Embedding  []float32 `json:"embedding"`
	Importance int       `json:"importance"`
	Emotion    string    `json:"emotion"`
	CreatedAt  time.Time `json:"created_at"`
}

func init() {
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export all memories as JSONL to stdout",
		Run:   runExport,
	}
	RootCmd.AddCommand(exportCmd)

	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Import memories from JSONL on stdin",
		Run:   runImport,
	}
	RootCmd.AddCommand(importCmd)
}

func runExport(cmd *cobra.Command, args []string) {
	m, err := openMemory(cmd.Context())
	if err != nil {
		exitErr("connect", err)
	}
	defer m.Disconnect()

	mems, err := m.ExportAll(cmd.Context())
	if err != nil {
		exitErr("export", err)
	}

	enc := json.NewEncoder(os.Stdout)
	for _, mem := range mems {
		rec := exportRecord{
			ID:         mem.ID,
			Content:    mem.Content,
			Embedding:  mem.Embedding,
			Importance: mem.Importance,
			Emotion:    string(mem.Emotion),
			CreatedAt:  mem.CreatedAt,
		}
		if err := enc.Encode(rec); err != nil {
			exitErr("export", err)
		}
	}
}

func runImport(cmd *cobra.Command, args []string) {
	m, err := openMemory(cmd.Context())
	if err != nil {
		exitErr("connect", err)
	}
	defer m.Disconnect()

	var memories []model.Memory
	dec := json.NewDecoder(os.Stdin)
	for {
		var rec exportRecord
		if err := dec.Decode(&rec); err == io.EOF {
			break
		} else if err != nil {
			exitErr("import: parse", err)
		}
		memories = append(memories, model.Memory{
			ID:         rec.ID,
			Content:    rec.Content,
			Embedding:  rec.Embedding,
			Importance: rec.Importance,
			Emotion:    model.Emotion(rec.Emotion),
			CreatedAt:  rec.CreatedAt,
		})
	}

	n, err := m.Import(cmd.Context(), memories)
	if err != nil {
		exitErr("import", err)
	}
	fmt.Printf("imported %d memories\n", n)
}
