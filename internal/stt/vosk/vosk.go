// Package vosk adapts the local Vosk recognizer to the stt.Transcriber
// contract, for fully offline transcription.
package vosk

import (
	"context"
	"encoding/json"
	"fmt"

	vosk "github.com/alphacep/vosk-api/go"
	"github.com/rs/zerolog"

	"github.com/user/koe/internal/koetypes"
)

// sampleRate is the rate every chunk the pipeline produces is already
// resampled to.
const sampleRate = 16000

type Transcriber struct {
	model      *vosk.VoskModel
	recognizer *vosk.VoskRecognizer
	sampleRate int
	log        zerolog.Logger
}

type result struct {
	Text       string `json:"text"`
	Confidence float64 `json:"confidence"`
}

// New loads a Vosk model from modelPath and creates a recognizer for
// 16kHz mono input, the sample rate every chunk the pipeline produces
// already matches.
func New(modelPath string, log zerolog.Logger) (*Transcriber, error) {
	log.Info().Str("model_path", modelPath).Msg("loading vosk model")

	model, err := vosk.NewModel(modelPath)
	if err != nil {
		return nil, &koetypes.TranscribeError{Kind: koetypes.TranscribeModelMissing, Err: fmt.Errorf("load model %s: %w", modelPath, err)}
	}

	recognizer, err := vosk.NewRecognizer(model, float64(sampleRate))
	if err != nil {
		model.Free()
		return nil, &koetypes.TranscribeError{Kind: koetypes.TranscribeModelMissing, Err: fmt.Errorf("create recognizer: %w", err)}
	}

	return &Transcriber{model: model, recognizer: recognizer, sampleRate: sampleRate, log: log}, nil
}

func (v *Transcriber) Name() string { return "vosk" }

func (v *Transcriber) Transcribe(ctx context.Context, chunk *koetypes.AudioChunk) ([]koetypes.TranscriptSegment, error) {
	if len(chunk.PCM) == 0 {
		return nil, nil
	}

	pcmBytes := floatToPCM16Bytes(chunk.PCM)

	status := v.recognizer.AcceptWaveform(pcmBytes)
	if status == -1 {
		return nil, &koetypes.TranscribeError{Kind: koetypes.TranscribeDecode, Err: fmt.Errorf("vosk rejected waveform")}
	}

	var jsonResult string
	if status == 1 {
		jsonResult = v.recognizer.Result()
	} else {
		jsonResult = v.recognizer.PartialResult()
	}
	if jsonResult == "" {
		return nil, nil
	}

	var r result
	if err := json.Unmarshal([]byte(jsonResult), &r); err != nil {
		v.log.Warn().Err(err).Str("json", jsonResult).Msg("failed to parse vosk result")
		return nil, nil
	}
	if r.Text == "" {
		return nil, nil
	}

	durationMS := chunk.DurationMS()
	return []koetypes.TranscriptSegment{{
		StartMS: 0,
		EndMS:   durationMS,
		Text:    r.Text,
		Source:  chunk.Source,
	}}, nil
}

func (v *Transcriber) Close() error {
	if v.recognizer != nil {
		v.recognizer.Free()
	}
	if v.model != nil {
		v.model.Free()
	}
	return nil
}

// floatToPCM16Bytes converts normalized float32 PCM to little-endian
// int16 PCM bytes, the wire format vosk's waveform API expects.
func floatToPCM16Bytes(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1.0 {
			s = 1.0
		} else if s < -1.0 {
			s = -1.0
		}
		v := int16(s * 32767.0)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}
