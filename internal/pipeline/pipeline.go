// Package pipeline wires one stream (system or microphone) from the
// capture adapter through resampling, voice-activity detection and
// chunking, pushing emitted chunks onto a shared ChunkQueue. It mirrors
// the original implementation's AudioProcessor: a single goroutine per
// stream running a non-blocking try-recv loop with a short idle sleep,
// rather than a blocking channel read, since the capture side is driven
// by a real-time callback that cannot be made to wait on a consumer.
package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/user/koe/internal/capture"
	"github.com/user/koe/internal/chunker"
	"github.com/user/koe/internal/dsp/resample"
	"github.com/user/koe/internal/dsp/vad"
	"github.com/user/koe/internal/koetypes"
	"github.com/user/koe/internal/queue"
)

// idleSleep is how long a stream goroutine waits between try-recv polls
// when no frame was available, matching the original's 10ms tick.
const idleSleep = 10 * time.Millisecond

// recvFunc is the per-stream half of capture.Adapter, injected so a
// single StreamProcessor implementation serves both the system and
// microphone streams.
type recvFunc func() (koetypes.AudioFrame, bool)

// StreamProcessor drains one capture stream and feeds it through the
// resample -> VAD -> chunker stages, pushing emitted chunks onto out.
// It is not safe for concurrent use; Run owns the instance for its
// entire lifetime.
type StreamProcessor struct {
	source koetypes.Source
	recv   recvFunc

	resampler *resample.Converter
	detector  *vad.Detector
	chunk     *chunker.Chunker

	out   *queue.ChunkQueue
	stats *koetypes.CaptureStats
	log   zerolog.Logger

	// preBuf accumulates raw 48kHz samples until resample.ChunkSamples
	// are available; postBuf accumulates resampled 16kHz samples until
	// vad.FrameSamples are available. Both carry any remainder forward
	// across ticks, matching the original's buffer discipline.
	preBuf  []float32
	postBuf []float32

	paused atomic.Bool
}

// NewStreamProcessor builds a processor for one stream. recv is the
// Adapter method bound to this stream (TryRecvSystem or TryRecvMic).
func NewStreamProcessor(source koetypes.Source, recv recvFunc, out *queue.ChunkQueue, stats *koetypes.CaptureStats, log zerolog.Logger) (*StreamProcessor, error) {
	r, err := resample.New()
	if err != nil {
		return nil, err
	}
	d, err := vad.New()
	if err != nil {
		return nil, err
	}
	return &StreamProcessor{
		source:    source,
		recv:      recv,
		resampler: r,
		detector:  d,
		chunk:     chunker.New(source),
		out:       out,
		stats:     stats,
		log:       log.With().Str("stream", source.String()).Logger(),
	}, nil
}

// Pause halts new audio ingestion; frames still arriving at the adapter
// are simply not drained until Resume, and the adapter's own ring
// backpressure policy applies to them. In-flight chunks already pushed
// onto the queue continue through transcribe and notes, per spec.md
// 4.7's PauseCapture semantics.
func (p *StreamProcessor) Pause() { p.paused.Store(true) }

// Resume resumes draining the stream after Pause.
func (p *StreamProcessor) Resume() { p.paused.Store(false) }

// Paused reports whether the stream is currently paused.
func (p *StreamProcessor) Paused() bool { return p.paused.Load() }

// Run drains the stream until ctx is canceled, then flushes any open
// chunk before returning.
func (p *StreamProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.flush()
			return
		default:
		}

		if p.paused.Load() {
			time.Sleep(idleSleep)
			continue
		}

		frame, ok := p.recv()
		if !ok {
			time.Sleep(idleSleep)
			continue
		}
		p.ingest(frame)
	}
}

func (p *StreamProcessor) ingest(frame koetypes.AudioFrame) {
	p.preBuf = append(p.preBuf, frame.Samples...)

	for len(p.preBuf) >= resample.ChunkSamples {
		block := p.preBuf[:resample.ChunkSamples]
		p.preBuf = append([]float32{}, p.preBuf[resample.ChunkSamples:]...)

		resampled, err := p.resampler.Process(block)
		if err != nil {
			p.log.Error().Err(err).Msg("resample failed, dropping block")
			continue
		}
		p.postBuf = append(p.postBuf, resampled...)
	}

	for len(p.postBuf) >= vad.FrameSamples {
		vFrame := p.postBuf[:vad.FrameSamples]
		p.postBuf = append([]float32{}, p.postBuf[vad.FrameSamples:]...)

		speech := p.detector.Process(vFrame)
		framePTS := frame.PTSNanos
		if chunk := p.chunk.Push(vFrame, framePTS, speech); chunk != nil {
			p.emit(chunk)
		}
	}
}

func (p *StreamProcessor) flush() {
	if chunk := p.chunk.Flush(); chunk != nil {
		p.emit(chunk)
	}
	if p.detector != nil {
		if err := p.detector.Close(); err != nil {
			p.log.Warn().Err(err).Msg("closing detector")
		}
	}
}

func (p *StreamProcessor) emit(chunk *koetypes.AudioChunk) {
	chunk.ID = uuid.NewString()
	switch p.out.Send(chunk) {
	case queue.Sent:
		p.stats.IncChunksEmitted()
	case queue.DroppedOldest:
		p.stats.IncChunksEmitted()
		p.stats.IncChunksDropped()
		p.log.Warn().Msg("chunk queue full, dropped oldest pending chunk")
	case queue.Disconnected:
		p.log.Warn().Msg("chunk queue closed, discarding chunk")
	}
}

// NewSystemProcessor and NewMicProcessor bind a StreamProcessor to the
// matching half of an Adapter.
func NewSystemProcessor(a capture.Adapter, out *queue.ChunkQueue, stats *koetypes.CaptureStats, log zerolog.Logger) (*StreamProcessor, error) {
	return NewStreamProcessor(koetypes.SourceSystem, a.TryRecvSystem, out, stats, log)
}

func NewMicProcessor(a capture.Adapter, out *queue.ChunkQueue, stats *koetypes.CaptureStats, log zerolog.Logger) (*StreamProcessor, error) {
	return NewStreamProcessor(koetypes.SourceMicrophone, a.TryRecvMic, out, stats, log)
}
