package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/rolechat/internal/config"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "rolechat",
	Short: "Role-restricted question answering over company documents",
	Long: `rolechat indexes per-role document folders and answers questions
using only the documents of the role the user logged in as.

Typical flow:
  rolechat ingest              build the vector index of every role
  rolechat serve               start the HTTP API (/login, /chat)
  rolechat chat -u alice -r engineering`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       version,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(rolesCmd)
	rootCmd.AddCommand(interactionsCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		noColor = true
	}
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

// setupLogging installs the process-wide slog handler on stderr. Stdout is
// kept free for command output and the MCP stdio transport.
func setupLogging(cfg config.Config) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}
