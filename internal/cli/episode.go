package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "episode [title]",
		Short: "Begin a new episode",
		Long:  "Open a session boundary. Memories saved afterwards attach to the new episode.",
		Run:   runEpisode,
	}
	RootCmd.AddCommand(cmd)
}

func runEpisode(cmd *cobra.Command, args []string) {
	m, err := openMemory(cmd.Context())
	if err != nil {
		exitErr("connect", err)
	}
	defer m.Disconnect()

	ep, err := m.BeginEpisode(cmd.Context(), strings.Join(args, " "))
	if err != nil {
		exitErr("episode", err)
	}

	b, _ := json.Marshal(ep)
	fmt.Println(string(b))
}
