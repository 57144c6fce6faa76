package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"murmur/internal/config"
)

var (
	flagConfig string
	flagAPI    string
	flagJSON   bool
)

var rootCmd = &cobra.Command{
	Use:           "murmur",
	Short:         "Transcribe, diarize, and summarize media files via murmurd",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&flagAPI, "api", "", "daemon API base URL (default from config)")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "print raw JSON responses")

	rootCmd.AddCommand(
		newSubmitCommand(),
		newStatusCommand(),
		newResultCommand(),
		newListCommand(),
		newCancelCommand(),
		newDeleteCommand(),
		newQueueCommand(),
		newConfigCommand(),
	)
}

// apiBase resolves the daemon address: the --api flag wins, otherwise the
// configured bind address.
func apiBase() (string, error) {
	if flagAPI != "" {
		return strings.TrimRight(flagAPI, "/"), nil
	}
	cfg, _, _, err := config.Load(flagConfig)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("http://%s", cfg.Paths.APIBind), nil
}
