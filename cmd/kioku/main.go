package main

import (
	"os"

	"github.com/kioku-ai/kioku/internal/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
