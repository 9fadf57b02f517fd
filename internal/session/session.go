// Package session wires every pipeline component into one running
// meeting: two StreamProcessors (system, microphone) feeding a shared
// ChunkQueue, a transcriber Worker draining it into the Ledger, a notes
// Engine fed by the Ledger's finalized segments, and an eventbus.Bus
// fanning every component's events out to the shell. It replaces the
// teacher's VoiceSession/Bot, which wired a Discord voice connection,
// a per-speaker chunker pool and an errgroup-supervised STT pool into
// a single guild session; here there are exactly two fixed streams and
// one worker per stage, so the errgroup is used for coordinated
// shutdown of the stage goroutines rather than for pool supervision.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/user/koe/internal/capture"
	"github.com/user/koe/internal/catalog"
	"github.com/user/koe/internal/eventbus"
	"github.com/user/koe/internal/koetypes"
	"github.com/user/koe/internal/ledger"
	"github.com/user/koe/internal/notes"
	"github.com/user/koe/internal/pipeline"
	"github.com/user/koe/internal/queue"
	"github.com/user/koe/internal/stt"
	"github.com/user/koe/internal/store"
)

// Config bundles the tunables a Session needs beyond its backend
// instances, mirroring internal/config.Config's session-relevant fields.
type Config struct {
	ChunkQueueCapacity int
	LedgerMaxSegments  int
	TriggerPhrases     []string
	DataDir            string
}

// StatsInterval is how often Run pushes a Stats CoreEvent carrying a
// CaptureStats snapshot, per spec.md 4.7.
const StatsInterval = 5 * time.Second

// Session owns one meeting end to end: capture through notes, plus
// persistence and the outward event bus. It is not safe for concurrent
// use beyond the exported command methods, which are safe to call from
// any goroutine while Run is active.
type Session struct {
	id string

	system *pipeline.StreamProcessor
	mic    *pipeline.StreamProcessor

	chunks *queue.ChunkQueue

	sttWorker *stt.Worker
	ledger    *ledger.Ledger
	notes     *notes.Engine

	bus   *eventbus.Bus
	store *store.Store
	cat   *catalog.Catalog

	stats *koetypes.CaptureStats
	log   zerolog.Logger

	cancel context.CancelFunc
}

// New builds a Session over a capture Adapter and the chosen backends.
// cat may be nil if no catalog index is in use.
func New(
	adapter capture.Adapter,
	transcriber stt.Transcriber,
	summarizer notes.Summarizer,
	cfg Config,
	cat *catalog.Catalog,
	log zerolog.Logger,
) (*Session, error) {
	id := store.GenerateSessionID()
	sessionLog := log.With().Str("session", id).Logger()

	stats := &koetypes.CaptureStats{}
	chunks := queue.New(cfg.ChunkQueueCapacity)

	system, err := pipeline.NewSystemProcessor(adapter, chunks, stats, sessionLog)
	if err != nil {
		return nil, fmt.Errorf("create system processor: %w", err)
	}
	mic, err := pipeline.NewMicProcessor(adapter, chunks, stats, sessionLog)
	if err != nil {
		return nil, fmt.Errorf("create mic processor: %w", err)
	}

	sttWorker := stt.NewWorker(chunks, transcriber, stats, sessionLog)
	l := ledger.New(cfg.LedgerMaxSegments)
	notesEngine := notes.NewEngine(l, summarizer, sessionLog)
	notesEngine.SetTriggerPhrases(cfg.TriggerPhrases)

	st, err := store.New(cfg.DataDir, id, sessionLog)
	if err != nil {
		return nil, fmt.Errorf("create session store: %w", err)
	}

	return &Session{
		id:        id,
		system:    system,
		mic:       mic,
		chunks:    chunks,
		sttWorker: sttWorker,
		ledger:    l,
		notes:     notesEngine,
		bus:       eventbus.New(64),
		store:     st,
		cat:       cat,
		stats:     stats,
		log:       sessionLog,
	}, nil
}

// ID returns the generated session id, also used as the store directory
// name.
func (s *Session) ID() string { return s.id }

// Events returns the session's outward event stream.
func (s *Session) Events() <-chan eventbus.CoreEvent { return s.bus.Events() }

// Run starts every stage goroutine and blocks until ctx is canceled or
// Stop is called, then waits for every stage to unwind before
// returning. Each stage polls ctx/stop at its own natural yield points,
// matching spec.md 5's cancellation model.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer cancel()

	if err := s.recordStart(); err != nil {
		s.log.Warn().Err(err).Msg("failed to record session start in catalog")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { s.system.Run(gctx); return nil })
	g.Go(func() error { s.mic.Run(gctx); return nil })
	g.Go(func() error { s.sttWorker.Run(gctx); return nil })
	g.Go(func() error { s.notes.Run(gctx); return nil })
	g.Go(func() error { s.drainSTTEvents(gctx); return nil })
	g.Go(func() error { s.drainNotesEvents(gctx); return nil })
	g.Go(func() error { s.pushStats(gctx); return nil })

	err := g.Wait()
	s.bus.Close()

	if finalizeErr := s.recordEnd(); finalizeErr != nil {
		s.log.Warn().Err(finalizeErr).Msg("failed to record session end in catalog")
	}
	return err
}

// Stop requests every stage to wind down. Run returns once they do.
func (s *Session) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.sttWorker.Stop()
	s.notes.Stop()
	s.chunks.Close()
}

// Pause halts new audio ingestion on both streams, per PauseCapture.
func (s *Session) Pause() {
	s.system.Pause()
	s.mic.Pause()
}

// Resume resumes ingestion on both streams, per ResumeCapture.
func (s *Session) Resume() {
	s.system.Resume()
	s.mic.Resume()
}

// SwitchTranscriber swaps the active STT backend.
func (s *Session) SwitchTranscriber(t stt.Transcriber) { s.sttWorker.SwitchTranscriber(t) }

// SwitchSummarizer swaps the active notes backend.
func (s *Session) SwitchSummarizer(n notes.Summarizer) { s.notes.SwitchSummarizer(n) }

// ForceSummarize requests an out-of-band notes cycle.
func (s *Session) ForceSummarize() { s.notes.ForceSummarize() }

// SetContext updates the free-text meeting context fed to the
// summarizer prompt.
func (s *Session) SetContext(text string) { s.notes.SetContext(text) }

// Export flushes the session's derived artifacts (audio.wav,
// transcript.md, notes.md) to its store directory, bounded to the
// export timeout so a hung render never blocks the caller indefinitely.
func (s *Session) Export(ctx context.Context) error {
	return s.store.ExportWithTimeout(ctx)
}

// Dispatch applies one inbound CoreCommand to the session. Start/Stop
// are handled by the caller (they own Run's lifecycle); every other
// command maps directly onto a Session method.
func (s *Session) Dispatch(ctx context.Context, cmd eventbus.CoreCommand, transcribers map[string]stt.Transcriber, summarizers map[string]notes.Summarizer) error {
	switch cmd.Kind {
	case eventbus.PauseCapture:
		s.Pause()
	case eventbus.ResumeCapture:
		s.Resume()
	case eventbus.ForceSummarize:
		s.ForceSummarize()
	case eventbus.SetContext:
		s.SetContext(cmd.Text)
	case eventbus.Export:
		return s.Export(ctx)
	case eventbus.SwitchTranscriber:
		t, ok := transcribers[cmd.Backend]
		if !ok {
			return fmt.Errorf("unknown transcriber backend %q", cmd.Backend)
		}
		s.SwitchTranscriber(t)
	case eventbus.SwitchSummarizer:
		n, ok := summarizers[cmd.Backend]
		if !ok {
			return fmt.Errorf("unknown summarizer backend %q", cmd.Backend)
		}
		s.SwitchSummarizer(n)
	}
	return nil
}

// drainSTTEvents pulls stt.Worker events, appends SegmentsProduced into
// the ledger and persists finalized segments, and republishes every
// event onto the bus.
func (s *Session) drainSTTEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.sttWorker.Events():
			if !ok {
				return
			}
			if ev.Kind == stt.SegmentsProduced {
				chunkStartMS := ev.Chunk.StartPTSNs / int64(time.Millisecond)
				result := s.ledger.Append(ev.Chunk.Source, chunkStartMS, ev.Segments)
				s.persistFinalized(result.FinalizedIDs)
				s.notes.NotifyFinalized(s.newlyFinalized(result.FinalizedIDs))
				for _, coreEv := range eventbus.LedgerAppendEvents(result) {
					s.bus.Push(ctx, coreEv)
				}
				continue
			}
			if coreEv, ok := eventbus.TranslateSTT(ev); ok {
				s.bus.Push(ctx, coreEv)
			}
		}
	}
}

// pushStats periodically snapshots s.stats and publishes it as a Stats
// CoreEvent, so the shell sees live frame/chunk/drop counters without
// polling CaptureStats itself.
func (s *Session) pushStats(ctx context.Context) {
	ticker := time.NewTicker(StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.bus.Push(ctx, eventbus.CoreEvent{Kind: eventbus.Stats, StatsSnapshot: s.stats.Snapshot()})
		}
	}
}

func (s *Session) drainNotesEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.notes.Events():
			if !ok {
				return
			}
			if ev.Kind == notes.NotesPatched {
				if err := s.store.WriteNotes(s.notes.Notes()); err != nil {
					s.log.Warn().Err(err).Msg("failed to persist notes snapshot")
				}
			}
			if coreEv, ok := eventbus.TranslateNotes(ev); ok {
				s.bus.Push(ctx, coreEv)
			}
		}
	}
}

func (s *Session) newlyFinalized(ids []uint64) []koetypes.TranscriptSegment {
	if len(ids) == 0 {
		return nil
	}
	want := make(map[uint64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []koetypes.TranscriptSegment
	for _, seg := range s.ledger.Segments() {
		if want[seg.ID] {
			out = append(out, seg)
		}
	}
	return out
}

func (s *Session) persistFinalized(ids []uint64) {
	for _, seg := range s.newlyFinalized(ids) {
		rec := store.TranscriptRecord{
			ID:        seg.ID,
			StartMS:   seg.StartMS,
			EndMS:     seg.EndMS,
			Speaker:   seg.Speaker,
			Text:      seg.Text,
			Finalized: seg.Finalized,
			Source:    seg.Source,
		}
		if err := s.store.AppendTranscript(rec); err != nil {
			s.log.Warn().Err(err).Uint64("segment_id", seg.ID).Msg("failed to persist finalized segment")
		}
	}
}

func (s *Session) recordStart() error {
	if s.cat == nil {
		return nil
	}
	return s.cat.InsertSession(catalog.Session{
		ID:        s.id,
		StartedAt: time.Now(),
	})
}

func (s *Session) recordEnd() error {
	if s.cat == nil {
		return nil
	}
	return s.cat.FinalizeSession(s.id, time.Now())
}
