// Package eventbus defines the core's outbound event and inbound command
// surface (spec.md 4.7) and the fan-in merge that combines the per-stage
// channels of the transcriber worker, the notes engine, and the ledger
// into a single stream for the shell.
package eventbus

import (
	"context"
	"sync"

	"github.com/user/koe/internal/koetypes"
	"github.com/user/koe/internal/ledger"
	"github.com/user/koe/internal/notes"
	"github.com/user/koe/internal/stt"
)

// EventKind discriminates an outbound CoreEvent.
type EventKind int

const (
	TranscriptUpdated EventKind = iota
	SegmentFinalized
	NotesPatched
	ProviderStatus
	Stats
	Error
	LedgerPruned
)

// CoreEvent is the single outbound event type merged onto the bus.
// Only the fields relevant to Kind are populated.
type CoreEvent struct {
	Kind EventKind

	ChangedIDs   []uint64
	FinalizedIDs []uint64

	Patch koetypes.NotesPatch

	Which     string
	Backend   string
	OK        bool
	LatencyMS int64
	HasLatency bool

	StatsSnapshot koetypes.CaptureStatsSnapshot

	ErrKind string
	Message string

	FirstKeptID uint64
}

// CommandKind discriminates an inbound CoreCommand.
type CommandKind int

const (
	Start CommandKind = iota
	Stop
	PauseCapture
	ResumeCapture
	SwitchTranscriber
	SwitchSummarizer
	ForceSummarize
	SetContext
	Export
)

// CoreCommand is the single inbound command type accepted from the shell.
type CoreCommand struct {
	Kind    CommandKind
	Backend string
	Text    string
	Path    string
}

// Bus merges the independent event sources (transcriber worker, notes
// engine, ledger) into one outbound channel. It carries events only;
// inbound commands do not pass through it.
type Bus struct {
	out chan CoreEvent

	wg sync.WaitGroup
}

// New creates a Bus with the given outbound buffer capacity.
func New(capacity int) *Bus {
	return &Bus{out: make(chan CoreEvent, capacity)}
}

// Events returns the merged outbound event stream.
func (b *Bus) Events() <-chan CoreEvent { return b.out }

// Merge starts a goroutine draining src and translating each item via
// translate into a CoreEvent pushed onto the bus. Call before Close.
func Merge[T any](b *Bus, ctx context.Context, src <-chan T, translate func(T) (CoreEvent, bool)) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case item, ok := <-src:
				if !ok {
					return
				}
				if ev, keep := translate(item); keep {
					select {
					case b.out <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
}

// Close waits for all registered Merge goroutines to exit, then closes
// the outbound channel. Callers must ensure every merged source channel
// is itself closed (or ctx canceled) before calling Close.
func (b *Bus) Close() {
	b.wg.Wait()
	close(b.out)
}

// Push enqueues a CoreEvent directly, for sources (like the ledger) that
// aren't fed through Merge because they're driven synchronously by the
// caller rather than owning a channel of their own.
func (b *Bus) Push(ctx context.Context, ev CoreEvent) {
	select {
	case b.out <- ev:
	case <-ctx.Done():
	}
}

// TranslateSTT maps a transcriber worker event onto the bus. Segments
// produced are not themselves forwarded — they flow into the ledger,
// whose own AppendResult produces the TranscriptUpdated/SegmentFinalized
// events — so this only ever yields ProviderError/ProviderStatus.
func TranslateSTT(ev stt.Event) (CoreEvent, bool) {
	switch ev.Kind {
	case stt.ProviderStatus:
		return CoreEvent{Kind: ProviderStatus, Which: "transcriber", Backend: ev.Backend, OK: ev.OK}, true
	case stt.ProviderError:
		return CoreEvent{Kind: Error, ErrKind: "transcribe", Message: ev.Message}, true
	default:
		return CoreEvent{}, false
	}
}

// TranslateNotes maps a notes engine event onto the bus. DraftProgress
// (partial streamed tokens) is intentionally not forwarded; the bus only
// carries the terminal patch per spec.md 4.7's event list.
func TranslateNotes(ev notes.Event) (CoreEvent, bool) {
	switch ev.Kind {
	case notes.NotesPatched:
		return CoreEvent{Kind: NotesPatched, Patch: ev.Patch}, true
	case notes.ProviderStatus:
		return CoreEvent{Kind: ProviderStatus, Which: "summarizer", Backend: ev.Backend, OK: ev.OK}, true
	default:
		return CoreEvent{}, false
	}
}

// LedgerAppendEvents converts a ledger append result into zero, one, or
// two CoreEvents: TranscriptUpdated for any changed ids, SegmentFinalized
// for any newly finalized ids (emitted after TranscriptUpdated so a
// finalization is never seen before the update that produced it, per
// spec.md 5's ordering guarantee), and LedgerPruned if pruning ran.
func LedgerAppendEvents(r ledger.AppendResult) []CoreEvent {
	var out []CoreEvent
	if len(r.ChangedIDs) > 0 {
		out = append(out, CoreEvent{Kind: TranscriptUpdated, ChangedIDs: r.ChangedIDs})
	}
	if len(r.FinalizedIDs) > 0 {
		out = append(out, CoreEvent{Kind: SegmentFinalized, FinalizedIDs: r.FinalizedIDs})
	}
	if r.Pruned {
		out = append(out, CoreEvent{Kind: LedgerPruned, FirstKeptID: r.FirstKeptID})
	}
	return out
}
