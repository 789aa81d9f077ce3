package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/antoniostano/voxline/internal/config"
	"github.com/antoniostano/voxline/internal/observability"
)

var rootCmd = &cobra.Command{
	Use:           "voxline",
	Short:         "Real-time voice call engine",
	SilenceUsage:  true,
	SilenceErrors: false,
	Long: `voxline runs one live voice call at a time: it streams the microphone to a
speech backend, turns transcripts into agent replies with a language model
and speaks the replies back.`,
}

// loadConfig reads the environment and installs the process logger.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("config error: %w", err)
	}
	observability.SetupLogger(os.Stderr, cfg.LogFormat, cfg.LogLevel)
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
