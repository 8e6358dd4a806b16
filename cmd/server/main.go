package main

import (
	"fmt"
	"os"

	"github.com/RichardoC/localchat/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "localchat",
	Short: "Private chat with language models running on this machine",
	Long: `localchat serves a chat UI backend over locally hosted models. It downloads
the configured models through Ollama, keeps conversations in SQLite and can
augment prompts with web search results.`,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "localchat.yaml", "path to the YAML config file")
	rootCmd.AddCommand(serveCmd, exportCmd, importCmd)
}

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads the configuration and builds the logger for a command.
func setup() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, nil, err
	}
	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, logger, nil
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return cfg.Build()
}
