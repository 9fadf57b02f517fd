// Package oggcapture is a reference Adapter that decodes two pre-recorded
// fixture files of length-prefixed raw Opus packets (system output and
// microphone; no Ogg container is parsed) and paces their
// frames to real time, so the pipeline can be exercised end to end without
// a live platform capture SDK. Decoding mirrors the teacher's
// internal/audio decoder: 48kHz mono Opus frames of 960 samples (20ms),
// with comfort-noise silence frames handled specially.
package oggcapture

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/user/koe/internal/koetypes"
	"github.com/user/koe/internal/ring"
	"layeh.com/gopus"
)

const (
	sampleRate = 48000
	channels   = 1
	frameSize  = 960 // 20ms @ 48kHz
	frameDur   = 20 * time.Millisecond
)

// silenceMarker is the 3-byte Opus comfort-noise payload the teacher's
// decoder special-cased; encountering it yields a full frame of
// zero-valued (silent) samples rather than attempting a real decode.
var silenceMarker = []byte{0xF8, 0xFF, 0xFE}

// Adapter reads raw Opus packet streams from two fixture files and
// delivers decoded frames through per-stream SPSC rings, matching the
// capture.Adapter contract.
type Adapter struct {
	systemPackets [][]byte
	micPackets    [][]byte

	systemDecoder *gopus.Decoder
	micDecoder    *gopus.Decoder

	systemRing *ring.Ring
	micRing    *ring.Ring

	stats *koetypes.CaptureStats

	stopCh  chan struct{}
	started bool
}

// New constructs an Adapter from two packetized Opus fixture streams. Each
// stream is a slice of raw Opus packets in playback order; silenceMarker
// packets are treated as comfort noise.
func New(systemPackets, micPackets [][]byte, stats *koetypes.CaptureStats) (*Adapter, error) {
	systemDecoder, err := gopus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("create system opus decoder: %w", err)
	}
	micDecoder, err := gopus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("create mic opus decoder: %w", err)
	}

	return &Adapter{
		systemPackets: systemPackets,
		micPackets:    micPackets,
		systemDecoder: systemDecoder,
		micDecoder:    micDecoder,
		systemRing:    ring.New(sampleRate*10, 2048),
		micRing:       ring.New(sampleRate*10, 2048),
		stats:         stats,
		stopCh:        make(chan struct{}),
	}, nil
}

// LoadFixture reads a raw Opus packet stream from disk, length-prefixed as
// written by the dev capture recorder (a 4-byte big-endian length followed
// by the packet bytes, repeated to EOF).
func LoadFixture(path string) ([][]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &koetypes.CaptureError{Kind: koetypes.CaptureIO, Err: err}
	}

	var packets [][]byte
	for off := 0; off+4 <= len(data); {
		n := int(data[off])<<24 | int(data[off+1])<<16 | int(data[off+2])<<8 | int(data[off+3])
		off += 4
		if off+n > len(data) {
			return nil, &koetypes.CaptureError{Kind: koetypes.CaptureIO, Err: fmt.Errorf("%s: truncated packet at offset %d", path, off)}
		}
		packets = append(packets, data[off:off+n])
		off += n
	}
	return packets, nil
}

func (a *Adapter) Start() error {
	if a.started {
		return &koetypes.CaptureError{Kind: koetypes.CaptureAlreadyRunning, Err: fmt.Errorf("adapter already started")}
	}
	a.started = true

	go a.pump(koetypes.SourceSystem, a.systemPackets, a.systemDecoder, a.systemRing)
	go a.pump(koetypes.SourceMicrophone, a.micPackets, a.micDecoder, a.micRing)

	return nil
}

func (a *Adapter) Stop() {
	if !a.started {
		return
	}
	close(a.stopCh)
	a.started = false
}

// pump runs on its own goroutine, playing back one packet per frameDur
// tick and writing decoded samples into its ring. This is the
// platform-owned capture thread analogue: it must not block the
// processor, so it only ever writes into the ring and increments
// dropped-frame counters on backpressure.
func (a *Adapter) pump(src koetypes.Source, packets [][]byte, dec *gopus.Decoder, r *ring.Ring) {
	ticker := time.NewTicker(frameDur)
	defer ticker.Stop()

	var pts int64
	for _, pkt := range packets {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
		}

		samples, err := decodeFrame(dec, pkt)
		if err != nil {
			log.Warn().Err(err).Str("source", src.String()).Msg("failed to decode opus packet, dropping frame")
			a.stats.IncFramesDropped(src)
			pts += frameDur.Nanoseconds()
			continue
		}

		if !r.Write(samples, pts) {
			a.stats.IncFramesDropped(src)
		} else {
			a.stats.IncFramesCaptured(src)
		}
		pts += frameDur.Nanoseconds()
	}
}

func decodeFrame(dec *gopus.Decoder, pkt []byte) ([]float32, error) {
	if len(pkt) == 3 && pkt[0] == silenceMarker[0] && pkt[1] == silenceMarker[1] && pkt[2] == silenceMarker[2] {
		return make([]float32, frameSize), nil
	}

	pcm, err := dec.Decode(pkt, frameSize, false)
	if err != nil {
		return nil, fmt.Errorf("opus decode: %w", err)
	}

	out := make([]float32, len(pcm))
	for i, s := range pcm {
		out[i] = float32(s) / 32768.0
	}
	return out, nil
}

func (a *Adapter) TryRecvSystem() (koetypes.AudioFrame, bool) {
	return tryRecv(a.systemRing, koetypes.SourceSystem)
}

func (a *Adapter) TryRecvMic() (koetypes.AudioFrame, bool) {
	return tryRecv(a.micRing, koetypes.SourceMicrophone)
}

func tryRecv(r *ring.Ring, src koetypes.Source) (koetypes.AudioFrame, bool) {
	b, ok := r.ReadOne()
	if !ok {
		return koetypes.AudioFrame{}, false
	}
	return koetypes.AudioFrame{
		PTSNanos:   b.PTSNanos,
		SampleRate: sampleRate,
		Channels:   channels,
		Samples:    b.Samples,
	}, true
}
