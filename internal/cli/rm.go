package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "rm [memory-id]",
		Short: "Delete a memory",
		Args:  cobra.ExactArgs(1),
		Run:   runRm,
	}
	RootCmd.AddCommand(cmd)
}

func runRm(cmd *cobra.Command, args []string) {
	m, err := openMemory(cmd.Context())
	if err != nil {
		exitErr("connect", err)
	}
	defer m.Disconnect()

	if err := m.Delete(cmd.Context(), args[0]); err != nil {
		exitErr("rm", err)
	}
	fmt.Printf("deleted %s\n", args[0])
}
