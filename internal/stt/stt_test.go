package stt

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/user/koe/internal/koetypes"
	"github.com/user/koe/internal/queue"
)

type fakeTranscriber struct {
	name      string
	calls     atomic.Int32
	resultFn  func(call int32) ([]koetypes.TranscriptSegment, error)
	closeErr  error
	closed    atomic.Bool
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, chunk *koetypes.AudioChunk) ([]koetypes.TranscriptSegment, error) {
	n := f.calls.Add(1)
	return f.resultFn(n)
}

func (f *fakeTranscriber) Name() string { return f.name }

func (f *fakeTranscriber) Close() error {
	f.closed.Store(true)
	return f.closeErr
}

func sendChunk(q *queue.ChunkQueue, id string) {
	q.Send(&koetypes.AudioChunk{ID: id, Source: koetypes.SourceMicrophone, SampleRate: 16000, PCM: make([]float32, 32000)})
}

func TestWorkerEmitsSegmentsProduced(t *testing.T) {
	q := queue.New(4)
	backend := &fakeTranscriber{name: "fake", resultFn: func(n int32) ([]koetypes.TranscriptSegment, error) {
		return []koetypes.TranscriptSegment{{Text: "hello world"}}, nil
	}}
	w := NewWorker(q, backend, &koetypes.CaptureStats{}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	sendChunk(q, "c1")

	select {
	case ev := <-w.Events():
		if ev.Kind != SegmentsProduced {
			t.Fatalf("event kind = %v, want SegmentsProduced", ev.Kind)
		}
		if len(ev.Segments) != 1 || ev.Segments[0].Text != "hello world" {
			t.Fatalf("unexpected segments: %+v", ev.Segments)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for SegmentsProduced event")
	}
}

func TestWorkerSkipsEmptySegmentsSilently(t *testing.T) {
	q := queue.New(4)
	backend := &fakeTranscriber{name: "fake", resultFn: func(n int32) ([]koetypes.TranscriptSegment, error) {
		return nil, nil
	}}
	w := NewWorker(q, backend, &koetypes.CaptureStats{}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	sendChunk(q, "c1")

	select {
	case ev := <-w.Events():
		t.Fatalf("expected no event for empty segment list, got %+v", ev)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWorkerRetriesTransientErrorsThenSucceeds(t *testing.T) {
	q := queue.New(4)
	backend := &fakeTranscriber{name: "fake", resultFn: func(n int32) ([]koetypes.TranscriptSegment, error) {
		if n < 3 {
			return nil, &koetypes.TranscribeError{Kind: koetypes.TranscribeNetwork, Err: context.DeadlineExceeded}
		}
		return []koetypes.TranscriptSegment{{Text: "ok"}}, nil
	}}
	w := NewWorker(q, backend, &koetypes.CaptureStats{}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	sendChunk(q, "c1")

	select {
	case ev := <-w.Events():
		if ev.Kind != SegmentsProduced {
			t.Fatalf("event kind = %v, want SegmentsProduced after retries succeed", ev.Kind)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for eventual success after retries")
	}
	if backend.calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3 (2 failures + 1 success)", backend.calls.Load())
	}
}

func TestWorkerFatalErrorDegradesUntilSwitch(t *testing.T) {
	q := queue.New(4)
	backend := &fakeTranscriber{name: "broken", resultFn: func(n int32) ([]koetypes.TranscriptSegment, error) {
		return nil, &koetypes.TranscribeError{Kind: koetypes.TranscribeAuthInvalid, Err: context.Canceled}
	}}
	w := NewWorker(q, backend, &koetypes.CaptureStats{}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	sendChunk(q, "c1")

	gotStatus, gotError := false, false
	for i := 0; i < 2; i++ {
		select {
		case ev := <-w.Events():
			switch ev.Kind {
			case ProviderStatus:
				gotStatus = true
				if ev.OK {
					t.Fatal("expected ProviderStatus ok=false on fatal error")
				}
			case ProviderError:
				gotError = true
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for fatal error events")
		}
	}
	if !gotStatus || !gotError {
		t.Fatalf("expected both ProviderStatus and ProviderError, got status=%v error=%v", gotStatus, gotError)
	}

	// While degraded, further chunks produce no events.
	sendChunk(q, "c2")
	select {
	case ev := <-w.Events():
		t.Fatalf("expected no events while degraded, got %+v", ev)
	case <-time.After(300 * time.Millisecond):
	}

	// Switching backend clears the degraded state.
	good := &fakeTranscriber{name: "good", resultFn: func(n int32) ([]koetypes.TranscriptSegment, error) {
		return []koetypes.TranscriptSegment{{Text: "recovered"}}, nil
	}}
	w.SwitchTranscriber(good)

	select {
	case ev := <-w.Events():
		if ev.Kind != ProviderStatus || !ev.OK {
			t.Fatalf("expected ok ProviderStatus after switch, got %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for switch status event")
	}

	sendChunk(q, "c3")
	select {
	case ev := <-w.Events():
		if ev.Kind != SegmentsProduced {
			t.Fatalf("expected SegmentsProduced from new backend, got %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for new backend to transcribe")
	}
}
