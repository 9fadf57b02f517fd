package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/user/koe/internal/capture/oggcapture"
	"github.com/user/koe/internal/catalog"
	"github.com/user/koe/internal/config"
	"github.com/user/koe/internal/eventbus"
	"github.com/user/koe/internal/koetypes"
	"github.com/user/koe/internal/notes"
	"github.com/user/koe/internal/notes/gemini"
	"github.com/user/koe/internal/session"
	"github.com/user/koe/internal/stt"
	"github.com/user/koe/internal/stt/deepgram"
	"github.com/user/koe/internal/stt/vosk"
)

func newStartCmd() *cobra.Command {
	var systemFixture, micFixture string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run one meeting session end to end against a capture source",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(systemFixture, micFixture)
		},
	}

	cmd.Flags().StringVar(&systemFixture, "system-fixture", "", "path to a recorded Opus packet stream for the system stream")
	cmd.Flags().StringVar(&micFixture, "mic-fixture", "", "path to a recorded Opus packet stream for the microphone stream")

	return cmd
}

func runStart(systemFixture, micFixture string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	transcribers := buildTranscribers(cfg)
	transcriber, ok := transcribers[cfg.STTBackend]
	if !ok {
		return fmt.Errorf("build transcriber: backend %q unavailable", cfg.STTBackend)
	}

	summarizers := buildSummarizers(cfg)
	summarizer, ok := summarizers["gemini"]
	if !ok {
		return fmt.Errorf("build summarizer: gemini backend unavailable")
	}

	stats := &koetypes.CaptureStats{}
	adapter, err := buildAdapter(systemFixture, micFixture, stats)
	if err != nil {
		return fmt.Errorf("build capture adapter: %w", err)
	}

	cat, err := catalog.Open(cfg.CatalogDB)
	if err != nil {
		log.Warn().Err(err).Msg("failed to open session catalog, continuing without it")
		cat = nil
	}
	if cat != nil {
		defer cat.Close()
	}

	sess, err := session.New(adapter, transcriber, summarizer, session.Config{
		ChunkQueueCapacity: cfg.ChunkQueueCapacity,
		LedgerMaxSegments:  cfg.LedgerMaxSegments,
		TriggerPhrases:     cfg.NotesTriggerPhrases,
		DataDir:            cfg.DataDir,
	}, cat, log.Logger)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	log.Info().Str("session_id", sess.ID()).Msg("starting session")

	if err := adapter.Start(); err != nil {
		return fmt.Errorf("start capture: %w", err)
	}
	defer adapter.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go logEvents(sess)
	go readCommands(ctx, sess, transcribers, summarizers)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	runDone := make(chan error, 1)
	go func() { runDone <- sess.Run(ctx) }()

	select {
	case <-sig:
		log.Info().Msg("shutdown signal received")
	case err := <-runDone:
		if err != nil {
			return fmt.Errorf("session run: %w", err)
		}
		return finishExport(sess)
	}

	sess.Stop()

	select {
	case err := <-runDone:
		if err != nil {
			return fmt.Errorf("session run: %w", err)
		}
	case <-time.After(30 * time.Second):
		log.Warn().Msg("session did not stop within 30s, forcing exit")
	}

	return finishExport(sess)
}

func finishExport(sess *session.Session) error {
	exportCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sess.Export(exportCtx); err != nil {
		log.Warn().Err(err).Msg("failed to export session artifacts")
	}
	return nil
}

func logEvents(sess *session.Session) {
	for ev := range sess.Events() {
		log.Info().Interface("event", ev).Msg("core event")
	}
}

// readCommands implements SPEC_FULL.md 4.8's command surface as a line-
// oriented stdin loop read while a session is running: each line is parsed
// into a CoreCommand and routed through Session.Dispatch, covering
// switch-transcriber/switch-summarizer plus the rest of the CoreCommand
// set (pause, resume, force-summarize, context, export).
func readCommands(ctx context.Context, sess *session.Session, transcribers map[string]stt.Transcriber, summarizers map[string]notes.Summarizer) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		cmd, ok := parseCommand(scanner.Text())
		if !ok {
			continue
		}
		if err := sess.Dispatch(ctx, cmd, transcribers, summarizers); err != nil {
			log.Warn().Err(err).Msg("command dispatch failed")
		}
	}
}

func parseCommand(line string) (eventbus.CoreCommand, bool) {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) == 0 {
		return eventbus.CoreCommand{}, false
	}

	switch fields[0] {
	case "pause":
		return eventbus.CoreCommand{Kind: eventbus.PauseCapture}, true
	case "resume":
		return eventbus.CoreCommand{Kind: eventbus.ResumeCapture}, true
	case "force-summarize":
		return eventbus.CoreCommand{Kind: eventbus.ForceSummarize}, true
	case "export":
		return eventbus.CoreCommand{Kind: eventbus.Export}, true
	case "context":
		return eventbus.CoreCommand{Kind: eventbus.SetContext, Text: strings.TrimSpace(strings.TrimPrefix(line, "context"))}, true
	case "switch-transcriber":
		if len(fields) < 2 {
			log.Warn().Msg("switch-transcriber requires a backend name")
			return eventbus.CoreCommand{}, false
		}
		return eventbus.CoreCommand{Kind: eventbus.SwitchTranscriber, Backend: fields[1]}, true
	case "switch-summarizer":
		if len(fields) < 2 {
			log.Warn().Msg("switch-summarizer requires a backend name")
			return eventbus.CoreCommand{}, false
		}
		return eventbus.CoreCommand{Kind: eventbus.SwitchSummarizer, Backend: fields[1]}, true
	default:
		log.Warn().Str("command", fields[0]).Msg("unrecognized command")
		return eventbus.CoreCommand{}, false
	}
}

// buildTranscribers constructs every transcriber backend switch-transcriber
// can target, keyed by name, skipping any backend whose required config is
// absent rather than failing the whole session over an optional target.
func buildTranscribers(cfg *config.Config) map[string]stt.Transcriber {
	out := make(map[string]stt.Transcriber)
	if v, err := vosk.New(cfg.VoskModelPath, log.Logger); err == nil {
		out["vosk"] = v
	} else {
		log.Warn().Err(err).Msg("vosk backend unavailable for switch-transcriber")
	}
	if cfg.DeepgramAPIKey != "" {
		out["deepgram"] = deepgram.New(cfg.DeepgramAPIKey, cfg.DeepgramTier, cfg.DeepgramPunctuate)
	}
	return out
}

// buildSummarizers constructs every summarizer backend switch-summarizer
// can target, keyed by name.
func buildSummarizers(cfg *config.Config) map[string]notes.Summarizer {
	out := make(map[string]notes.Summarizer)
	if cfg.GenAIAPIKey != "" {
		if g, err := gemini.New(cfg.GenAIAPIKey, cfg.GenAIModel); err == nil {
			out["gemini"] = g
		} else {
			log.Warn().Err(err).Msg("gemini backend unavailable for switch-summarizer")
		}
	}
	return out
}

func buildAdapter(systemFixture, micFixture string, stats *koetypes.CaptureStats) (*oggcapture.Adapter, error) {
	var systemPackets, micPackets [][]byte
	var err error

	if systemFixture != "" {
		systemPackets, err = oggcapture.LoadFixture(systemFixture)
		if err != nil {
			return nil, fmt.Errorf("load system fixture: %w", err)
		}
	}
	if micFixture != "" {
		micPackets, err = oggcapture.LoadFixture(micFixture)
		if err != nil {
			return nil, fmt.Errorf("load mic fixture: %w", err)
		}
	}

	return oggcapture.New(systemPackets, micPackets, stats)
}
