// Package store persists one session per directory using spec.md 6's
// canonical flat-file layout, grounded on the teacher's FileStore (jsonl
// encode/decode idiom, GenerateSessionID) generalized from a two-directory
// (transcripts/, notes/) layout to one directory per session holding every
// canonical file plus derived exports written only on explicit export.
package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/user/koe/internal/koetypes"
)

const (
	filePerm = 0o600
	dirPerm  = 0o700
)

// Metadata is the single-record `metadata` file for a session.
type Metadata struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at,omitempty"`
	Finalized   bool      `json:"finalized"`
	Transcriber string    `json:"transcriber"`
	Summarizer  string    `json:"summarizer"`
}

// TranscriptRecord is one append-only line of the `transcript` jsonl file.
type TranscriptRecord struct {
	ID        uint64          `json:"id"`
	StartMS   int64           `json:"start_ms"`
	EndMS     int64           `json:"end_ms"`
	Speaker   string          `json:"speaker"`
	Text      string          `json:"text"`
	Finalized bool            `json:"finalized"`
	Source    koetypes.Source `json:"source"`
}

// Store owns the on-disk layout for a single session directory.
type Store struct {
	dir string
	log zerolog.Logger
}

// GenerateSessionID returns a time-ordered unique id suitable as a
// session directory name.
func GenerateSessionID() string {
	return fmt.Sprintf("session_%s", time.Now().Format("20060102_150405"))
}

// New creates (or reopens) the directory for sessionID under baseDir,
// warning if an existing directory or file is looser than owner-only
// permissions.
func New(baseDir, sessionID string, log zerolog.Logger) (*Store, error) {
	dir := filepath.Join(baseDir, sessionID)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}
	s := &Store{dir: dir, log: log.With().Str("component", "store").Str("session", sessionID).Logger()}
	s.warnIfLoose(dir)
	for _, name := range []string{"metadata", "transcript", "notes", "context", "audio.raw"} {
		s.warnIfLoose(s.path(name))
	}
	return s, nil
}

func (s *Store) path(name string) string { return filepath.Join(s.dir, name) }

func (s *Store) warnIfLoose(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if info.Mode().Perm()&0o077 != 0 {
		s.log.Warn().Str("path", path).Msg("existing file has looser-than-owner-only permissions")
	}
}

// WriteMetadata overwrites the `metadata` file.
func (s *Store) WriteMetadata(m Metadata) error {
	return s.writeJSON("metadata", m)
}

// ReadMetadata loads the `metadata` file.
func (s *Store) ReadMetadata() (Metadata, error) {
	var m Metadata
	err := s.readJSON("metadata", &m)
	return m, err
}

// AppendTranscript appends one record to the `transcript` jsonl file.
func (s *Store) AppendTranscript(rec TranscriptRecord) error {
	f, err := os.OpenFile(s.path("transcript"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(rec); err != nil {
		return fmt.Errorf("encode transcript record: %w", err)
	}
	return nil
}

// ReadTranscript loads every record from the `transcript` jsonl file.
func (s *Store) ReadTranscript() ([]TranscriptRecord, error) {
	f, err := os.Open(s.path("transcript"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	var records []TranscriptRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec TranscriptRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("decode transcript record: %w", err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan transcript: %w", err)
	}
	return records, nil
}

// WriteNotes overwrites the `notes` snapshot file.
func (s *Store) WriteNotes(notes *koetypes.MeetingNotes) error {
	return s.writeJSON("notes", notes)
}

// ReadNotes loads the `notes` snapshot file.
func (s *Store) ReadNotes() (*koetypes.MeetingNotes, error) {
	var notes koetypes.MeetingNotes
	if err := s.readJSON("notes", &notes); err != nil {
		return nil, err
	}
	return &notes, nil
}

// WriteContext overwrites the `context` verbatim text file.
func (s *Store) WriteContext(text string) error {
	return os.WriteFile(s.path("context"), []byte(text), filePerm)
}

// ReadContext loads the `context` verbatim text file.
func (s *Store) ReadContext() (string, error) {
	b, err := os.ReadFile(s.path("context"))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read context: %w", err)
	}
	return string(b), nil
}

// AppendAudio appends interleaved float32 little-endian 48kHz mono PCM
// to the `audio.raw` file, used for crash-safe raw persistence.
func (s *Store) AppendAudio(samples []float32) error {
	f, err := os.OpenFile(s.path("audio.raw"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("open audio.raw: %w", err)
	}
	defer f.Close()

	buf := make([]byte, 4*len(samples))
	for i, v := range samples {
		writeFloat32LE(buf[i*4:], v)
	}
	if _, err := f.Write(buf); err != nil {
		return fmt.Errorf("write audio.raw: %w", err)
	}
	return nil
}

func (s *Store) writeJSON(name string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	if err := os.WriteFile(s.path(name), b, filePerm); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func (s *Store) readJSON(name string, v any) error {
	b, err := os.ReadFile(s.path(name))
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

func writeFloat32LE(dst []byte, v float32) {
	bits := math.Float32bits(v)
	dst[0] = byte(bits)
	dst[1] = byte(bits >> 8)
	dst[2] = byte(bits >> 16)
	dst[3] = byte(bits >> 24)
}
