// Package cli implements the kioku CLI commands.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kioku-ai/kioku/internal/config"
	"github.com/kioku-ai/kioku/internal/memory"
)

var (
	configPath string
	dbPath     string
	verbose    bool
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "kioku",
	Short: "Episodic memory with hybrid retrieval",
	Long: "kioku stores short natural-language memories and retrieves them by meaning,\n" +
		"text form, and a recency/emotion/importance-weighted relevance score.",
}

func init() {
	// .env is optional; missing files are fine.
	godotenv.Load()

	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (default: $KIOKU_CONFIG)")
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $KIOKU_DB or ~/.kioku/memory.db)")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
}

func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func loadConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("KIOKU_CONFIG")
	}

	cfg := config.Default()
	if path != "" {
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return cfg, err
		}
	}

	if dbPath != "" {
		cfg.DBPath = dbPath
	} else if env := os.Getenv("KIOKU_DB"); env != "" {
		cfg.DBPath = env
	} else if cfg.DBPath == "" {
		home, _ := os.UserHomeDir()
		cfg.DBPath = filepath.Join(home, ".kioku", "memory.db")
	}
	return cfg, nil
}

// openMemory builds a connected facade; the caller must Disconnect.
func openMemory(ctx context.Context) (*memory.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	m := memory.New(cfg, newLogger())
	if err := m.Connect(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
