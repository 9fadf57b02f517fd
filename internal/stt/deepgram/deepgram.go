// Package deepgram adapts the Deepgram pre-recorded transcription API to
// the stt.Transcriber contract. It keeps the teacher's hand-rolled HTTP
// client rather than the declared-but-unimported SDK (see DESIGN.md).
package deepgram

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/user/koe/internal/koetypes"
)

const sampleRate = 16000

type Transcriber struct {
	apiKey     string
	model      string
	punctuate  bool
	httpClient *http.Client
}

type response struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// New creates a Deepgram-backed Transcriber. model selects the Deepgram
// model (e.g. "nova-2"); punctuate enables smart punctuation.
func New(apiKey, model string, punctuate bool) *Transcriber {
	return &Transcriber{
		apiKey:     apiKey,
		model:      model,
		punctuate:  punctuate,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (d *Transcriber) Name() string { return "deepgram" }

func (d *Transcriber) Transcribe(ctx context.Context, chunk *koetypes.AudioChunk) ([]koetypes.TranscriptSegment, error) {
	if len(chunk.PCM) == 0 {
		return nil, nil
	}

	wavData, err := pcmToWAV(chunk.PCM, sampleRate)
	if err != nil {
		return nil, &koetypes.TranscribeError{Kind: koetypes.TranscribeDecode, Err: err}
	}

	params := url.Values{}
	if d.model != "" {
		params.Set("model", d.model)
	}
	params.Set("punctuate", strconv.FormatBool(d.punctuate))
	params.Set("smart_format", "true")
	params.Set("language", "en")

	reqURL := "https://api.deepgram.com/v1/listen?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(wavData))
	if err != nil {
		return nil, &koetypes.TranscribeError{Kind: koetypes.TranscribeNetwork, Err: err}
	}
	req.Header.Set("Authorization", "Token "+d.apiKey)
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &koetypes.TranscribeError{Kind: koetypes.TranscribeTimeout, Err: err}
		}
		return nil, &koetypes.TranscribeError{Kind: koetypes.TranscribeNetwork, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &koetypes.TranscribeError{Kind: koetypes.TranscribeNetwork, Err: err}
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, &koetypes.TranscribeError{Kind: koetypes.TranscribeAuthInvalid, Err: fmt.Errorf("deepgram auth error: %s", body)}
	case http.StatusTooManyRequests:
		return nil, &koetypes.TranscribeError{Kind: koetypes.TranscribeRateLimited, Err: fmt.Errorf("deepgram rate limited")}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &koetypes.TranscribeError{Kind: koetypes.TranscribeNetwork, Err: fmt.Errorf("deepgram error %d: %s", resp.StatusCode, body)}
	}

	var r response
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, &koetypes.TranscribeError{Kind: koetypes.TranscribeDecode, Err: err}
	}
	if len(r.Results.Channels) == 0 {
		return nil, nil
	}

	var segments []koetypes.TranscriptSegment
	durationMS := chunk.DurationMS()
	for _, alt := range r.Results.Channels[0].Alternatives {
		if alt.Transcript == "" {
			continue
		}
		segments = append(segments, koetypes.TranscriptSegment{
			StartMS: 0,
			EndMS:   durationMS,
			Text:    alt.Transcript,
			Source:  chunk.Source,
		})
	}
	return segments, nil
}

func (d *Transcriber) Close() error { return nil }

// pcmToWAV encodes normalized float32 mono PCM as a 16-bit signed PCM
// WAV container, Deepgram's accepted wire format.
func pcmToWAV(pcm []float32, sampleRate int) ([]byte, error) {
	buf := new(bytes.Buffer)

	buf.WriteString("RIFF")
	chunkSizePos := buf.Len()
	binary.Write(buf, binary.LittleEndian, uint32(0))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*2)) // byte rate
	binary.Write(buf, binary.LittleEndian, uint16(2))            // block align
	binary.Write(buf, binary.LittleEndian, uint16(16))            // bits per sample

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)*2))
	for _, s := range pcm {
		if s > 1.0 {
			s = 1.0
		} else if s < -1.0 {
			s = -1.0
		}
		binary.Write(buf, binary.LittleEndian, int16(s*32767.0))
	}

	wavData := buf.Bytes()
	chunkSize := uint32(len(wavData) - 8)
	binary.LittleEndian.PutUint32(wavData[chunkSizePos:chunkSizePos+4], chunkSize)
	return wavData, nil
}
