package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show database statistics",
		Run:   runStats,
	}
	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	m, err := openMemory(cmd.Context())
	if err != nil {
		exitErr("connect", err)
	}
	defer m.Disconnect()

	stats, err := m.Stats(cmd.Context())
	if err != nil {
		exitErr("stats", err)
	}

	b, _ := json.MarshalIndent(stats, "", "  ")
	fmt.Println(string(b))
}
