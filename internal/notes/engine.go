package notes

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/user/koe/internal/koetypes"
)

// Interval is how often the scheduler fires a cycle absent a trigger
// phrase, per spec.md 4.6.
const Interval = 10 * time.Second

// defaultTriggerPhrases fire an out-of-band cycle as soon as finalized
// transcript text contains one of them.
var defaultTriggerPhrases = []string{
	"decided", "decision", "action item", "will", "owes",
}

// SummarizerEventKind discriminates a backend's streamed events.
type SummarizerEventKind int

const (
	DraftToken SummarizerEventKind = iota
	PatchReady
)

// SummarizerEvent is one element of a Summarizer's output stream:
// zero or more DraftToken events followed by exactly one PatchReady.
type SummarizerEvent struct {
	Kind  SummarizerEventKind
	Token string
	Patch koetypes.NotesPatch
}

// Summarizer is a pluggable LLM backend driving the notes engine.
type Summarizer interface {
	// Summarize streams progress tokens and a terminal patch for the
	// given finalized segments and current notes state.
	Summarize(ctx context.Context, recent []koetypes.TranscriptSegment, current *koetypes.MeetingNotes, contextText string, participants []string) (<-chan SummarizerEvent, error)
	Name() string
	Close() error
}

// EventKind discriminates the engine's outbound events.
type EventKind int

const (
	NotesPatched EventKind = iota
	ProviderStatus
	DraftProgress
)

// Event is emitted for each meaningful step of a cycle.
type Event struct {
	Kind    EventKind
	Patch   koetypes.NotesPatch
	Backend string
	OK      bool
	Token   string
}

// Engine runs the periodic/triggered notes cycle described in spec.md
// 4.6. It holds the single in-memory MeetingNotes for a session.
type Engine struct {
	ledgerView EvidenceChecker
	segments   func(sinceID uint64) []koetypes.TranscriptSegment

	mu    sync.Mutex
	notes *koetypes.MeetingNotes
	cursor uint64

	// backendMu guards backend against the concurrent read in a
	// runCycle goroutine racing the write in swapBackend. Both readers
	// and the one writer take it for the duration of the access; it is
	// never held across a Summarize/Close call.
	backendMu     sync.Mutex
	backend       Summarizer
	pendingSwitch Summarizer

	contextMu   sync.RWMutex
	contextText string
	participants []string

	busy atomic.Bool
	wg   sync.WaitGroup

	events    chan Event
	forceCh   chan struct{}
	switchCh  chan Summarizer
	cycleDone chan struct{}
	stopCh    chan struct{}

	triggerPhrases []string
	log            zerolog.Logger
}

// FinalizedSource supplies finalized segments since a cursor; ledger.Ledger
// satisfies this via its FinalizedSince method.
type FinalizedSource interface {
	EvidenceChecker
	FinalizedSince(sinceID uint64) []koetypes.TranscriptSegment
}

// NewEngine creates an Engine over the given ledger view and initial
// backend.
func NewEngine(source FinalizedSource, backend Summarizer, log zerolog.Logger) *Engine {
	return &Engine{
		ledgerView:     source,
		segments:       source.FinalizedSince,
		notes:          &koetypes.MeetingNotes{UpdatedAt: time.Time{}},
		backend:        backend,
		events:         make(chan Event, 8),
		forceCh:        make(chan struct{}, 1),
		switchCh:       make(chan Summarizer, 1),
		cycleDone:      make(chan struct{}),
		stopCh:         make(chan struct{}),
		triggerPhrases: defaultTriggerPhrases,
		log:            log.With().Str("component", "notes").Logger(),
	}
}

// Events returns the engine's outbound event stream.
func (e *Engine) Events() <-chan Event { return e.events }

// Notes returns a snapshot of the current notes state.
func (e *Engine) Notes() *koetypes.MeetingNotes {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.notes.Clone()
}

// SetContext updates the free-text meeting context included in the
// summarizer prompt.
func (e *Engine) SetContext(text string) {
	e.contextMu.Lock()
	defer e.contextMu.Unlock()
	e.contextText = text
}

// SetParticipants updates the participant list included in the prompt.
func (e *Engine) SetParticipants(names []string) {
	e.contextMu.Lock()
	defer e.contextMu.Unlock()
	e.participants = append([]string{}, names...)
}

// SetTriggerPhrases replaces the phrase list that NotifyFinalized scans
// for, overriding the package default.
func (e *Engine) SetTriggerPhrases(phrases []string) {
	if len(phrases) == 0 {
		return
	}
	e.triggerPhrases = append([]string{}, phrases...)
}

// ForceSummarize requests an immediate cycle, subject to skip-if-busy.
func (e *Engine) ForceSummarize() {
	select {
	case e.forceCh <- struct{}{}:
	default:
	}
}

// SwitchSummarizer queues a backend swap, applied once any in-flight
// cycle completes.
func (e *Engine) SwitchSummarizer(next Summarizer) {
	select {
	case e.switchCh <- next:
	case <-e.stopCh:
	}
}

// NotifyFinalized scans newly finalized segments for configured
// trigger phrases and requests an out-of-band cycle if one matches.
func (e *Engine) NotifyFinalized(segments []koetypes.TranscriptSegment) {
	for _, seg := range segments {
		lower := strings.ToLower(seg.Text)
		for _, phrase := range e.triggerPhrases {
			if strings.Contains(lower, phrase) {
				e.ForceSummarize()
				return
			}
		}
	}
}

// Stop halts the engine after any in-flight cycle completes.
func (e *Engine) Stop() { close(e.stopCh) }

// Run drives the scheduler until ctx is canceled or Stop is called. It
// is the sole goroutine that ever mutates busy, pendingSwitch or the
// backend field for a "not currently busy" swap; a runCycle goroutine
// only ever reads the backend (under backendMu) while busy is true, so
// the two never observe an in-flight backend concurrently with a swap.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.events)
	defer e.closeBackend()

	ticker := time.NewTicker(Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case next := <-e.switchCh:
			e.applySwitch(next)
		case <-ticker.C:
			e.maybeRunCycle(ctx)
		case <-e.forceCh:
			e.maybeRunCycle(ctx)
		case <-e.cycleDone:
			e.busy.Store(false)
			if e.pendingSwitch != nil {
				pending := e.pendingSwitch
				e.pendingSwitch = nil
				e.swapBackend(pending)
			}
		}
	}
}

// applySwitch runs on Run's goroutine. If a cycle is currently in
// flight it queues the swap for cycleDone to apply once that cycle
// finishes, per SwitchSummarizer's "applied once any in-flight cycle
// completes" contract; otherwise it swaps immediately, since no
// runCycle goroutine can be reading the backend right now.
func (e *Engine) applySwitch(next Summarizer) {
	if e.busy.Load() {
		e.pendingSwitch = next
		return
	}
	e.swapBackend(next)
}

func (e *Engine) swapBackend(next Summarizer) {
	e.backendMu.Lock()
	prev := e.backend
	e.backend = next
	e.backendMu.Unlock()

	if prev != nil {
		if err := prev.Close(); err != nil {
			e.log.Warn().Err(err).Msg("closing previous summarizer backend")
		}
	}
	e.log.Info().Str("backend", next.Name()).Msg("switched summarizer backend")
	e.events <- Event{Kind: ProviderStatus, Backend: next.Name(), OK: true}
}

func (e *Engine) closeBackend() {
	e.wg.Wait()
	e.backendMu.Lock()
	backend := e.backend
	e.backendMu.Unlock()
	if backend != nil {
		if err := backend.Close(); err != nil {
			e.log.Warn().Err(err).Msg("closing summarizer backend")
		}
	}
}

// maybeRunCycle skips entirely if a cycle is already in flight
// (capacity-1 skip-if-busy queue, spec.md 4.6 step 1), and otherwise
// runs it on its own goroutine so the scheduler keeps ticking.
func (e *Engine) maybeRunCycle(ctx context.Context) {
	if !e.busy.CompareAndSwap(false, true) {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runCycle(ctx)
		select {
		case e.cycleDone <- struct{}{}:
		case <-e.stopCh:
		case <-ctx.Done():
		}
	}()
}

func (e *Engine) runCycle(ctx context.Context) {
	e.mu.Lock()
	cursor := e.cursor
	e.mu.Unlock()

	recent := e.segments(cursor)
	if len(recent) == 0 {
		return
	}

	current := e.Notes()
	e.contextMu.RLock()
	contextText := e.contextText
	participants := append([]string{}, e.participants...)
	e.contextMu.RUnlock()

	e.backendMu.Lock()
	backend := e.backend
	e.backendMu.Unlock()

	stream, err := backend.Summarize(ctx, recent, current, contextText, participants)
	if err != nil {
		e.events <- Event{Kind: ProviderStatus, Backend: backend.Name(), OK: false}
		return
	}

	var patch koetypes.NotesPatch
	gotPatch := false
	for ev := range stream {
		switch ev.Kind {
		case DraftToken:
			e.events <- Event{Kind: DraftProgress, Token: ev.Token}
		case PatchReady:
			patch = ev.Patch
			gotPatch = true
		}
	}
	if !gotPatch {
		return
	}

	e.applyPatch(patch)

	lastID := recent[len(recent)-1].ID
	e.mu.Lock()
	if lastID > e.cursor {
		e.cursor = lastID
	}
	e.mu.Unlock()
}

func (e *Engine) applyPatch(patch koetypes.NotesPatch) {
	e.mu.Lock()
	defer e.mu.Unlock()

	next, changed := ApplyPatch(e.notes, patch, e.ledgerView, e.log)
	if !changed {
		return
	}
	next.UpdatedAt = time.Now()
	e.notes = next
	e.events <- Event{Kind: NotesPatched, Patch: patch}
}
