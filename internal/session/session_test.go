package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/user/koe/internal/eventbus"
	"github.com/user/koe/internal/koetypes"
	"github.com/user/koe/internal/notes"
	"github.com/user/koe/internal/stt"
)

// fakeAdapter feeds a fixed set of frames once per stream, then reports
// no more frames are available, matching a capture.Adapter that has
// finished playing a fixture file.
type fakeAdapter struct {
	mu        sync.Mutex
	systemOut []koetypes.AudioFrame
	micOut    []koetypes.AudioFrame
}

func (a *fakeAdapter) Start() error { return nil }
func (a *fakeAdapter) Stop()        {}

func (a *fakeAdapter) TryRecvSystem() (koetypes.AudioFrame, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.systemOut) == 0 {
		return koetypes.AudioFrame{}, false
	}
	f := a.systemOut[0]
	a.systemOut = a.systemOut[1:]
	return f, true
}

func (a *fakeAdapter) TryRecvMic() (koetypes.AudioFrame, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.micOut) == 0 {
		return koetypes.AudioFrame{}, false
	}
	f := a.micOut[0]
	a.micOut = a.micOut[1:]
	return f, true
}

type fakeTranscriber struct{}

func (fakeTranscriber) Transcribe(ctx context.Context, chunk *koetypes.AudioChunk) ([]koetypes.TranscriptSegment, error) {
	return nil, nil
}
func (fakeTranscriber) Name() string  { return "fake" }
func (fakeTranscriber) Close() error { return nil }

type fakeSummarizer struct{}

func (fakeSummarizer) Summarize(ctx context.Context, recent []koetypes.TranscriptSegment, current *koetypes.MeetingNotes, contextText string, participants []string) (<-chan notes.SummarizerEvent, error) {
	out := make(chan notes.SummarizerEvent)
	close(out)
	return out, nil
}
func (fakeSummarizer) Name() string  { return "fake" }
func (fakeSummarizer) Close() error { return nil }

func newTestSession(t *testing.T) *Session {
	t.Helper()
	adapter := &fakeAdapter{}
	cfg := Config{
		ChunkQueueCapacity: 4,
		LedgerMaxSegments:  100,
		TriggerPhrases:     []string{"decided"},
		DataDir:            t.TempDir(),
	}
	s, err := New(adapter, fakeTranscriber{}, fakeSummarizer{}, cfg, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNewAssignsSessionID(t *testing.T) {
	s := newTestSession(t)
	if s.ID() == "" {
		t.Fatal("expected a non-empty session id")
	}
}

func TestRunStopsCleanlyOnStop(t *testing.T) {
	s := newTestSession(t)

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	// Drain events so Run's bus-push goroutines never block.
	go func() {
		for range s.Events() {
		}
	}()

	time.Sleep(20 * time.Millisecond)
	s.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return within 2s of Stop")
	}
}

func TestPauseResumeDelegatesToBothProcessors(t *testing.T) {
	s := newTestSession(t)

	s.Pause()
	if !s.system.Paused() || !s.mic.Paused() {
		t.Fatal("expected Pause to pause both stream processors")
	}
	s.Resume()
	if s.system.Paused() || s.mic.Paused() {
		t.Fatal("expected Resume to resume both stream processors")
	}
}

func TestSetContextForwardsToNotesEngine(t *testing.T) {
	s := newTestSession(t)
	s.SetContext("quarterly planning")
	// SetContext is fire-and-forget on the engine; verifying it does not
	// panic and the engine remains usable is the relevant guarantee here
	// since the engine's internal context field is not exported.
	s.ForceSummarize()
}

func TestDispatchUnknownTranscriberBackendReturnsError(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()

	cmd := eventbus.CoreCommand{Kind: eventbus.SwitchTranscriber, Backend: "unknown"}
	err := s.Dispatch(ctx, cmd, map[string]stt.Transcriber{"fake": fakeTranscriber{}}, nil)
	if err == nil {
		t.Fatal("expected an error for an unknown transcriber backend")
	}
}

func TestDispatchPauseCapture(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()

	if err := s.Dispatch(ctx, eventbus.CoreCommand{Kind: eventbus.PauseCapture}, nil, nil); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !s.system.Paused() || !s.mic.Paused() {
		t.Fatal("expected PauseCapture to pause both stream processors")
	}
}
