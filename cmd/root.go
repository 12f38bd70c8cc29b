// Package cmd wires the composition root: serve, migrate and worker are
// the three processes this module can run, each a thin cobra command
// wrapping the package constructors that the rest of the repo defines.
// Grounded on the teacher's cmd/root.go (cobra root + persistent flags,
// zerolog console writer at startup) adapted from a desktop-CLI tool with
// one command per video/subtitle operation to a small set of daemon
// subcommands for an automation service.
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).With().Timestamp().Logger()

var configFile string

var rootCmd = &cobra.Command{
	Use:   "subtrans <command>",
	Short: "Background subtitle translation automation service",
	Long: `subtrans watches a media library for newly added movies and
episodes, probes their embedded subtitle tracks, and keeps a translated
sidecar up to date for every configured target language.`,
}

// Execute runs the root command, following the teacher's main.go ->
// cmd.Execute() entry point.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is $XDG_CONFIG_HOME/subtrans/config.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(workerCmd)
}
