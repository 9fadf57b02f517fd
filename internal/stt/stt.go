// Package stt defines the pluggable speech-to-text backend contract and
// the single dedicated transcriber worker that drives it (spec.md 4.4).
// It replaces the teacher's fixed-size TranscriberPool with exactly one
// worker, since the source material only ever needs one in-flight chunk
// at a time and a pool adds backpressure semantics the chunk queue
// already provides.
package stt

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/user/koe/internal/koetypes"
	"github.com/user/koe/internal/queue"
)

// Transcriber is a pluggable STT backend. Input is 16kHz mono float32
// PCM; output segment start/end-ms are relative to the chunk, offset by
// the caller to session-relative time.
type Transcriber interface {
	Transcribe(ctx context.Context, chunk *koetypes.AudioChunk) ([]koetypes.TranscriptSegment, error)
	Name() string
	Close() error
}

// EventKind discriminates the worker's output events.
type EventKind int

const (
	SegmentsProduced EventKind = iota
	ProviderError
	ProviderStatus
)

// Event is emitted to the ledger (SegmentsProduced) or up to the shell
// (ProviderError, ProviderStatus) for each chunk the worker handles.
type Event struct {
	Kind      EventKind
	Chunk     *koetypes.AudioChunk
	Segments  []koetypes.TranscriptSegment
	ErrKind   koetypes.TranscribeErrorKind
	Message   string
	Backend   string
	OK        bool
	LatencyMS int64
}

const (
	maxRetries       = 3
	backoffBase      = 500 * time.Millisecond
	backoffCap       = 5 * time.Second
	latencyEWMAAlpha = 0.3
)

// Worker pulls chunks one at a time from a ChunkQueue, invokes the
// active Transcriber, and emits Events. It is safe to call
// SwitchTranscriber concurrently with Run.
type Worker struct {
	in     *queue.ChunkQueue
	events chan Event
	switchCh chan Transcriber
	stopCh   chan struct{}

	stats *koetypes.CaptureStats
	log   zerolog.Logger

	transcriber Transcriber
	degraded    bool

	latencyEWMA float64
	hasLatency  bool
}

// NewWorker creates a Worker reading chunks from in and driving the
// given initial backend.
func NewWorker(in *queue.ChunkQueue, initial Transcriber, stats *koetypes.CaptureStats, log zerolog.Logger) *Worker {
	return &Worker{
		in:          in,
		events:      make(chan Event, 8),
		switchCh:    make(chan Transcriber, 1),
		stopCh:      make(chan struct{}),
		stats:       stats,
		log:         log.With().Str("component", "stt").Logger(),
		transcriber: initial,
	}
}

// Events returns the worker's output event stream.
func (w *Worker) Events() <-chan Event { return w.events }

// SwitchTranscriber queues a backend swap. It takes effect once the
// in-flight chunk (if any) finishes, per spec.md 4.4's "never discard
// in-flight work" rule.
func (w *Worker) SwitchTranscriber(t Transcriber) {
	select {
	case w.switchCh <- t:
	case <-w.stopCh:
	}
}

// Stop halts the worker after its current chunk completes.
func (w *Worker) Stop() {
	close(w.stopCh)
}

// Run drives the worker loop until Stop is called or ctx is canceled.
// It owns its backend's lifecycle and closes it on exit. The blocking
// queue receive runs on a separate goroutine so a pending switch
// command can be applied immediately while the worker is idle, rather
// than waiting for the next chunk to arrive.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.events)
	defer func() {
		if w.transcriber != nil {
			if err := w.transcriber.Close(); err != nil {
				w.log.Warn().Err(err).Msg("closing transcriber backend")
			}
		}
	}()

	chunkCh := make(chan *koetypes.AudioChunk)
	recvDone := make(chan struct{})
	go func() {
		defer close(recvDone)
		for {
			chunk, ok := w.in.Recv()
			if !ok {
				return
			}
			select {
			case chunkCh <- chunk:
			case <-w.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-recvDone:
			return
		case next := <-w.switchCh:
			w.applySwitch(next)
		case chunk := <-chunkCh:
			w.handle(ctx, chunk)
		}
	}
}

func (w *Worker) applySwitch(next Transcriber) {
	prev := w.transcriber
	w.transcriber = next
	w.degraded = false
	if prev != nil {
		if err := prev.Close(); err != nil {
			w.log.Warn().Err(err).Msg("closing previous transcriber backend")
		}
	}
	w.log.Info().Str("backend", next.Name()).Msg("switched transcriber backend")
	w.events <- Event{Kind: ProviderStatus, Backend: next.Name(), OK: true}
}

func (w *Worker) handle(ctx context.Context, chunk *koetypes.AudioChunk) {
	if w.degraded {
		return
	}

	start := time.Now()
	segments, err := w.transcribeWithRetry(ctx, chunk)
	latency := time.Since(start)

	if err != nil {
		w.emitError(err)
		return
	}

	w.recordLatency(latency)
	w.stats.SetLastTranscribeLatencyMS(uint64(latency.Milliseconds()))

	if len(segments) == 0 {
		return
	}
	w.events <- Event{Kind: SegmentsProduced, Chunk: chunk, Segments: segments}
}

func (w *Worker) transcribeWithRetry(ctx context.Context, chunk *koetypes.AudioChunk) ([]koetypes.TranscriptSegment, error) {
	var lastErr error
	backoff := backoffBase
	for attempt := 0; attempt <= maxRetries; attempt++ {
		segments, err := w.transcriber.Transcribe(ctx, chunk)
		if err == nil {
			return segments, nil
		}
		lastErr = err

		te, ok := err.(*koetypes.TranscribeError)
		if !ok || !te.Transient() || attempt == maxRetries {
			return nil, err
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
		if backoff > backoffCap {
			backoff = backoffCap
		}
	}
	return nil, lastErr
}

func (w *Worker) emitError(err error) {
	te, ok := err.(*koetypes.TranscribeError)
	if !ok {
		w.events <- Event{Kind: ProviderError, Message: err.Error()}
		return
	}

	if !te.Transient() {
		w.degraded = true
		w.events <- Event{Kind: ProviderStatus, Backend: w.transcriber.Name(), OK: false}
	}
	w.events <- Event{Kind: ProviderError, ErrKind: te.Kind, Message: te.Error()}
}

func (w *Worker) recordLatency(d time.Duration) {
	ms := float64(d.Milliseconds())
	if !w.hasLatency {
		w.latencyEWMA = ms
		w.hasLatency = true
		return
	}
	w.latencyEWMA = latencyEWMAAlpha*ms + (1-latencyEWMAAlpha)*w.latencyEWMA
}

// LatencyEWMA returns the current exponentially weighted moving average
// latency in milliseconds, or 0 if no chunk has completed yet.
func (w *Worker) LatencyEWMA() float64 {
	if !w.hasLatency {
		return 0
	}
	return math.Round(w.latencyEWMA)
}
