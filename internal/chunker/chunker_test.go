package chunker

import (
	"testing"

	"github.com/user/koe/internal/koetypes"
)

func speechFrames(totalSamples int) [][]float32 {
	const frame = 512
	var out [][]float32
	for totalSamples > 0 {
		n := frame
		if n > totalSamples {
			n = totalSamples
		}
		out = append(out, make([]float32, n))
		totalSamples -= n
	}
	return out
}

func pushAll(c *Chunker, frames [][]float32, startPTS int64, speech bool) (*koetypes.AudioChunk, int64) {
	pts := startPTS
	var emitted *koetypes.AudioChunk
	for _, f := range frames {
		if chunk := c.Push(f, pts, speech); chunk != nil {
			emitted = chunk
		}
		pts += int64(len(f)) * 1_000_000_000 / sampleRate
	}
	return emitted, pts
}

func TestNoEmitBelowOpenThreshold(t *testing.T) {
	c := New(koetypes.SourceMicrophone)
	// 100ms of speech, below the 200ms open threshold.
	frames := speechFrames(sampleRate / 10)
	if chunk, _ := pushAll(c, frames, 0, true); chunk != nil {
		t.Fatalf("expected no chunk below open threshold, got %+v", chunk)
	}
	if c.st != stateIdle {
		t.Fatalf("expected chunker to remain idle, got state %v", c.st)
	}
}

func TestEmitOnHangoverBelowTargetWindow(t *testing.T) {
	c := New(koetypes.SourceMicrophone)
	// Open with 250ms speech, sustain to just past the 2.0s minimum
	// (well below the 4.0s target), then go silent for 300ms: the
	// hangover branch of the OR should fire even though the window
	// never reached target.
	open := speechFrames(sampleRate / 4)
	chunk, pts := pushAll(c, open, 0, true)
	if chunk != nil {
		t.Fatalf("unexpected emit while opening: %+v", chunk)
	}
	if c.st != stateActive {
		t.Fatalf("expected Active state after opening, got %v", c.st)
	}

	sustain := speechFrames(minSamples + sampleRate/4 - len(c.buffer))
	chunk, pts = pushAll(c, sustain, pts, true)
	if chunk != nil {
		t.Fatalf("unexpected emit before hangover: %+v", chunk)
	}
	if len(c.buffer) >= targetSamples {
		t.Fatalf("test setup invalid: buffer already reached target window (%d >= %d)", len(c.buffer), targetSamples)
	}

	silence := speechFrames(hangoverThresholdSamples)
	chunk, _ = pushAll(c, silence, pts, false)
	if chunk == nil {
		t.Fatal("expected emit after hangover silence below target window")
	}
	if chunk.DurationMS() < 2000 || chunk.DurationMS() > 6000 {
		t.Errorf("emitted chunk duration = %dms, want within [2000,6000]", chunk.DurationMS())
	}
}

func TestEmitAtTargetWindowWithoutSilence(t *testing.T) {
	c := New(koetypes.SourceMicrophone)
	// Sustained speech with no silence still emits once the window
	// reaches the 4.0s target, per the table's "window >= 4.0s" arm.
	frames := speechFrames(targetSamples + sampleRate/4)
	chunk, _ := pushAll(c, frames, 0, true)
	if chunk == nil {
		t.Fatal("expected emit once window reaches the 4.0s target under continuous speech")
	}
	if chunk.DurationMS() < 2000 || chunk.DurationMS() > 6000 {
		t.Errorf("emitted chunk duration = %dms, want within [2000,6000]", chunk.DurationMS())
	}
}

func TestForceEmitAtMax(t *testing.T) {
	c := New(koetypes.SourceMicrophone)
	// Open normally, then simulate a processor that fell behind and
	// drained a single oversized batch (as could happen if the ring
	// backed up): one Push call jumps straight past the 6.0s cap
	// without an intermediate check at the 4.0s target.
	open := speechFrames(sampleRate / 4)
	chunk, pts := pushAll(c, open, 0, true)
	if chunk != nil {
		t.Fatalf("unexpected emit while opening: %+v", chunk)
	}

	huge := make([]float32, maxSamples+sampleRate)
	chunk = c.Push(huge, pts, true)
	if chunk == nil {
		t.Fatal("expected force-emit once a single push exceeds max samples")
	}
	if len(chunk.PCM) > maxSamples {
		t.Errorf("emitted chunk has %d samples, want <= %d", len(chunk.PCM), maxSamples)
	}
}

func TestOverlapRetainedAfterEmit(t *testing.T) {
	c := New(koetypes.SourceMicrophone)
	// Continuous speech up to exactly the 4.0s target triggers exactly
	// one emit (the window>=target arm); verify the retained buffer is
	// the 1.0s overlap immediately afterward.
	frames := speechFrames(targetSamples)
	chunk, _ := pushAll(c, frames, 0, true)
	if chunk == nil {
		t.Fatal("expected an emit once the window reached the 4.0s target")
	}
	if len(c.buffer) != overlapSamples {
		t.Fatalf("buffer after emit = %d samples, want overlap of %d", len(c.buffer), overlapSamples)
	}
}

func TestFlushDropsBelowMinimum(t *testing.T) {
	c := New(koetypes.SourceMicrophone)
	open := speechFrames(sampleRate / 4)
	pushAll(c, open, 0, true)
	if chunk := c.Flush(); chunk != nil {
		t.Fatalf("expected Flush to drop sub-minimum open chunk, got %+v", chunk)
	}
}

func TestFlushEmitsAtOrAboveMinimum(t *testing.T) {
	c := New(koetypes.SourceMicrophone)
	frames := speechFrames(minSamples)
	pushAll(c, frames, 0, true)
	chunk := c.Flush()
	if chunk == nil {
		t.Fatal("expected Flush to emit a chunk at or above the minimum duration")
	}
}

func TestIdleOnSilenceToSilenceStaysIdle(t *testing.T) {
	c := New(koetypes.SourceMicrophone)
	frames := speechFrames(sampleRate)
	pushAll(c, frames, 0, false)
	if c.st != stateIdle {
		t.Fatalf("expected to remain Idle on sustained silence, got %v", c.st)
	}
}

func TestChunkSourcePreserved(t *testing.T) {
	c := New(koetypes.SourceSystem)
	frames := speechFrames(minSamples)
	pushAll(c, frames, 0, true)
	chunk := c.Flush()
	if chunk == nil {
		t.Fatal("expected a chunk from Flush")
	}
	if chunk.Source != koetypes.SourceSystem {
		t.Errorf("chunk.Source = %v, want SourceSystem", chunk.Source)
	}
}
