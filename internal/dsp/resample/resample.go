// Package resample wraps a high-quality polyphase resampler converting the
// processor's 48kHz capture stream down to the 16kHz mono stream the VAD,
// chunker and transcriber backends operate on.
package resample

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

const (
	InputRate  = 48000
	OutputRate = 16000
	// ChunkSamples is the only input size the resampler is fed at once:
	// 10ms at 48kHz. Callers must buffer any remainder themselves and
	// prepend it to the next Process call, matching the original
	// implementation's remainder-carry discipline.
	ChunkSamples = 480
)

// Converter holds the resampler's internal filter state across ticks.
type Converter struct {
	r resampling.Resampler
}

// New creates a Converter for mono 48kHz -> 16kHz conversion at high
// quality.
func New() (*Converter, error) {
	cfg := &resampling.Config{
		InputRate:  InputRate,
		OutputRate: OutputRate,
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	}
	r, err := resampling.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("create resampler: %w", err)
	}
	return &Converter{r: r}, nil
}

// Process resamples exactly one ChunkSamples-length block of float32
// samples and returns the resampled float32 output. Any caller that has
// fewer than ChunkSamples buffered must hold them until enough have
// accumulated.
func (c *Converter) Process(in []float32) ([]float32, error) {
	if len(in) != ChunkSamples {
		return nil, fmt.Errorf("resample: expected %d samples, got %d", ChunkSamples, len(in))
	}

	f64 := make([]float64, len(in))
	for i, s := range in {
		f64[i] = float64(s)
	}

	out, err := c.r.Process(f64)
	if err != nil {
		return nil, fmt.Errorf("resample process: %w", err)
	}

	f32 := make([]float32, len(out))
	for i, s := range out {
		if s > 1.0 {
			s = 1.0
		} else if s < -1.0 {
			s = -1.0
		}
		f32[i] = float32(s)
	}
	return f32, nil
}
