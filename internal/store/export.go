package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/user/koe/internal/koetypes"
)

// Export writes the derived exports (audio.wav, transcript.md, notes.md)
// from the canonical files already on disk. Only called on an explicit
// Export command, per spec.md 6.
func (s *Store) Export() error {
	raw, err := os.ReadFile(s.path("audio.raw"))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read audio.raw: %w", err)
	}
	if len(raw) > 0 {
		samples := make([]float32, len(raw)/4)
		for i := range samples {
			samples[i] = readFloat32LE(raw[i*4:])
		}
		wav := EncodeWAV(samples, 48000)
		if err := os.WriteFile(s.path("audio.wav"), wav, filePerm); err != nil {
			return fmt.Errorf("write audio.wav: %w", err)
		}
	}

	records, err := s.ReadTranscript()
	if err != nil {
		return fmt.Errorf("read transcript: %w", err)
	}
	if err := os.WriteFile(s.path("transcript.md"), []byte(RenderTranscriptMarkdown(records)), filePerm); err != nil {
		return fmt.Errorf("write transcript.md: %w", err)
	}

	notes, err := s.ReadNotes()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read notes: %w", err)
	}
	if notes != nil {
		if err := os.WriteFile(s.path("notes.md"), []byte(RenderNotesMarkdown(notes)), filePerm); err != nil {
			return fmt.Errorf("write notes.md: %w", err)
		}
	}

	return nil
}

// ExportTimeout bounds how long ExportWithTimeout waits before giving
// up and reporting that export timed out, grounded on the original
// implementation's export_session_with_timeout (2s grace period).
const ExportTimeout = 2 * time.Second

// ExportWithTimeout runs Export on its own goroutine and waits up to
// ExportTimeout; a timeout is logged as a warning rather than returned
// as an error, matching the original's "export timed out after 2s,
// continue anyway" behavior — the session must still be able to
// finalize even if the disk is slow.
func (s *Store) ExportWithTimeout(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		done <- s.Export()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(ExportTimeout):
		s.log.Warn().Msg("export timed out after 2s")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func readFloat32LE(src []byte) float32 {
	bits := uint32(src[0]) | uint32(src[1])<<8 | uint32(src[2])<<16 | uint32(src[3])<<24
	return math.Float32frombits(bits)
}

// EncodeWAV renders mono float32 PCM as an IEEE-float WAV file, ported
// in meaning from the original implementation's
// transcribe/mod.rs::encode_wav (fmt chunk with format code 3 plus the
// fact chunk non-PCM formats require).
func EncodeWAV(samples []float32, sampleRate uint32) []byte {
	const numChannels = 1
	const bitsPerSample = 32
	blockAlign := uint16(numChannels * (bitsPerSample / 8))
	byteRate := sampleRate * uint32(blockAlign)
	dataSize := uint32(len(samples) * 4)

	const fmtChunkSize = 18
	const factChunkSize = 4
	fileSize := 4 + (8 + fmtChunkSize) + (8 + factChunkSize) + (8 + dataSize)

	buf := make([]byte, 0, 12+fileSize)
	buf = append(buf, 'R', 'I', 'F', 'F')
	buf = appendU32LE(buf, fileSize)
	buf = append(buf, 'W', 'A', 'V', 'E')

	buf = append(buf, 'f', 'm', 't', ' ')
	buf = appendU32LE(buf, fmtChunkSize)
	buf = appendU16LE(buf, 3) // IEEE float
	buf = appendU16LE(buf, numChannels)
	buf = appendU32LE(buf, sampleRate)
	buf = appendU32LE(buf, byteRate)
	buf = appendU16LE(buf, blockAlign)
	buf = appendU16LE(buf, bitsPerSample)
	buf = appendU16LE(buf, 0) // cbSize

	buf = append(buf, 'f', 'a', 'c', 't')
	buf = appendU32LE(buf, factChunkSize)
	buf = appendU32LE(buf, uint32(len(samples)))

	buf = append(buf, 'd', 'a', 't', 'a')
	buf = appendU32LE(buf, dataSize)
	for _, v := range samples {
		bits := math.Float32bits(v)
		buf = appendU32LE(buf, bits)
	}

	return buf
}

func appendU32LE(buf []byte, v uint32) []byte {
	return append(buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func appendU16LE(buf []byte, v uint16) []byte {
	return append(buf, byte(v), byte(v>>8))
}

// RenderTranscriptMarkdown renders transcript records as a flat,
// chronological markdown listing.
func RenderTranscriptMarkdown(records []TranscriptRecord) string {
	var b strings.Builder
	b.WriteString("# Transcript\n\n")
	for _, r := range records {
		fmt.Fprintf(&b, "**[%s] %s:** %s\n\n", formatRange(r.StartMS, r.EndMS), r.Speaker, r.Text)
	}
	return b.String()
}

func formatRange(startMS, endMS int64) string {
	start := time.Duration(startMS) * time.Millisecond
	end := time.Duration(endMS) * time.Millisecond
	return fmt.Sprintf("%s - %s", formatDuration(start), formatDuration(end))
}

func formatDuration(d time.Duration) string {
	total := int64(d.Seconds())
	h, rem := total/3600, total%3600
	m, s := rem/60, rem%60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// RenderNotesMarkdown renders a MeetingNotes snapshot as markdown.
func RenderNotesMarkdown(notes *koetypes.MeetingNotes) string {
	var b strings.Builder
	b.WriteString("# Meeting Notes\n\n")

	b.WriteString("## Key Points\n\n")
	for _, kp := range notes.KeyPoints {
		fmt.Fprintf(&b, "- %s\n", kp.Text)
	}

	b.WriteString("\n## Decisions\n\n")
	for _, d := range notes.Decisions {
		fmt.Fprintf(&b, "- %s\n", d.Text)
	}

	b.WriteString("\n## Action Items\n\n")
	for _, a := range notes.Actions {
		line := "- " + a.Text
		if a.Owner != "" {
			line += " (" + a.Owner + ")"
		}
		if a.Due != "" {
			line += " due " + a.Due
		}
		fmt.Fprintf(&b, "%s\n", line)
	}

	return b.String()
}
