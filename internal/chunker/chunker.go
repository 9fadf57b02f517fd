// Package chunker implements the Idle/Active speech-gated chunk emitter
// (spec.md 4.2's chunker state machine table). It consumes a stream of
// 16kHz mono float32 samples tagged speech/silence by the vad package and
// emits bounded, overlapping AudioChunks.
package chunker

import (
	"github.com/user/koe/internal/koetypes"
)

const (
	sampleRate = 16000

	minSamples    = 2 * sampleRate // 2.0s
	targetSamples = 4 * sampleRate // 4.0s
	maxSamples    = 6 * sampleRate // 6.0s
	overlapSamples = 1 * sampleRate // 1.0s

	// openThresholdSamples is 200ms of contiguous speech required to
	// transition Idle -> Active.
	openThresholdSamples = sampleRate / 5
	// hangoverThresholdSamples is 300ms of contiguous silence required
	// to emit while Active.
	hangoverThresholdSamples = 3 * sampleRate / 10
)

type state int

const (
	stateIdle state = iota
	stateActive
)

// Chunker assembles speech-gated AudioChunks for a single source stream.
// It is not safe for concurrent use; one instance per stream is expected
// to be driven by the pipeline's single processor goroutine.
type Chunker struct {
	source koetypes.Source

	st state

	buffer   []float32
	startPTS int64

	// speechRun/silenceRun count contiguous speech/silence samples seen
	// since the last transition, used against the open/hangover
	// thresholds above.
	speechRun  int
	silenceRun int

	// pendingOpenPTS is the pts of the first sample of the current
	// contiguous speech run while Idle, so the chunk can open at the
	// first-speech boundary rather than where the threshold was crossed.
	pendingOpenPTS int64
	pendingOpenBuf []float32
}

// New creates a Chunker for the given source stream.
func New(source koetypes.Source) *Chunker {
	return &Chunker{source: source}
}

// Push feeds one speech-tagged sample batch (typically one 32ms VAD frame)
// into the state machine. ptsNanos is the presentation timestamp of the
// batch's first sample. It returns an emitted chunk, if the state
// transition produced one.
func (c *Chunker) Push(samples []float32, ptsNanos int64, speech bool) *koetypes.AudioChunk {
	switch c.st {
	case stateIdle:
		return c.pushIdle(samples, ptsNanos, speech)
	default:
		return c.pushActive(samples, ptsNanos, speech)
	}
}

func (c *Chunker) pushIdle(samples []float32, ptsNanos int64, speech bool) *koetypes.AudioChunk {
	if !speech {
		c.speechRun = 0
		c.pendingOpenBuf = nil
		return nil
	}

	if c.speechRun == 0 {
		c.pendingOpenPTS = ptsNanos
		c.pendingOpenBuf = append([]float32{}, samples...)
	} else {
		c.pendingOpenBuf = append(c.pendingOpenBuf, samples...)
	}
	c.speechRun += len(samples)

	if c.speechRun < openThresholdSamples {
		return nil
	}

	// Open: the new speech run is appended after any retained overlap
	// from the previous emission. If there is no retained overlap (the
	// very first chunk of the stream), the chunk starts at the
	// first-speech boundary instead.
	c.st = stateActive
	if len(c.buffer) == 0 {
		c.startPTS = c.pendingOpenPTS
	}
	c.buffer = append(c.buffer, c.pendingOpenBuf...)
	c.pendingOpenBuf = nil
	c.speechRun = 0
	c.silenceRun = 0
	return nil
}

func (c *Chunker) pushActive(samples []float32, ptsNanos int64, speech bool) *koetypes.AudioChunk {
	c.buffer = append(c.buffer, samples...)

	if speech {
		c.silenceRun = 0
	} else {
		c.silenceRun += len(samples)
	}

	switch {
	case len(c.buffer) >= maxSamples:
		// Force-emit at 6.0s regardless of speech state.
		return c.emit()
	case len(c.buffer) >= minSamples &&
		(c.silenceRun >= hangoverThresholdSamples || len(c.buffer) >= targetSamples):
		return c.emit()
	default:
		return nil
	}
}

// emit cuts the current buffer into a chunk capped at maxSamples, retains
// the trailing overlap window as the seed for the next chunk, and returns
// to Idle. Any samples beyond maxSamples (possible if the processor fell
// behind and drained a larger-than-usual batch in one Push call) are
// preserved rather than dropped: they are carried forward after the
// overlap seed so no audio is lost.
func (c *Chunker) emit() *koetypes.AudioChunk {
	emitLen := len(c.buffer)
	if emitLen > maxSamples {
		emitLen = maxSamples
	}
	emitted := c.buffer[:emitLen]
	overshoot := c.buffer[emitLen:]

	chunk := &koetypes.AudioChunk{
		Source:     c.source,
		StartPTSNs: c.startPTS,
		SampleRate: sampleRate,
		PCM:        append([]float32{}, emitted...),
	}

	retain := overlapSamples
	if retain > emitLen {
		retain = emitLen
	}
	advanced := emitLen - retain
	advancedNanos := int64(advanced) * 1_000_000_000 / sampleRate

	next := append([]float32{}, emitted[advanced:]...)
	next = append(next, overshoot...)

	c.buffer = next
	c.startPTS += advancedNanos

	c.st = stateIdle
	c.silenceRun = 0
	c.speechRun = 0
	return chunk
}

// Flush closes any open chunk on stream stop. Per spec.md's table, a
// sub-2.0s open chunk is dropped rather than emitted, unlike the original
// implementation's "always flush" behavior (see DESIGN.md).
func (c *Chunker) Flush() *koetypes.AudioChunk {
	if c.st != stateActive {
		return nil
	}
	if len(c.buffer) < minSamples {
		c.st = stateIdle
		c.buffer = nil
		return nil
	}

	chunk := &koetypes.AudioChunk{
		Source:     c.source,
		StartPTSNs: c.startPTS,
		SampleRate: sampleRate,
		PCM:        append([]float32{}, c.buffer...),
	}
	c.st = stateIdle
	c.buffer = nil
	return chunk
}
