// Command koe runs the meeting transcription and note-taking engine as
// a standalone process, restructuring the teacher's Discord bot
// entrypoint (config load, logging setup, signal-driven graceful
// shutdown) around a Cobra command tree instead of a single always-on
// bot process.
package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/user/koe/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal().Err(err).Msg("koe exited with error")
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "koe",
		Short: "Real-time meeting transcription and note-taking engine",
	}

	root.AddCommand(newStartCmd())
	root.AddCommand(newExportCmd())
	root.AddCommand(newSessionsCmd())

	return root
}

func setupLogging(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	setupLogging(cfg.LogLevel)
	return cfg, nil
}
