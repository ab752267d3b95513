// Package cli wires the codex command line: the API server and its
// maintenance commands.
package cli

import (
	"os"
	"strings"

	"codex/api/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "codex",
	Short: "Exicon and Lexicon glossary API",
	Example: `codex serve
codex migrate
codex reindex
codex references rebuild
codex export --type exicon --format csv -o exicon.csv`,
	SilenceUsage: true,
}

// Execute runs the command named on the command line. It is called once
// from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(reindexCmd())
	rootCmd.AddCommand(referencesCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.SetHelpCommand(&cobra.Command{Use: "no-help", Hidden: true})

	rootCmd.CompletionOptions.HiddenDefaultCmd = true
	cobra.EnableCommandSorting = false
}

// newLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func newLogger(cfg config.Config) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	if strings.EqualFold(cfg.LogFormat, "text") {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log
}
