// Package koetypes holds the data model shared across the capture, chunk,
// transcript and notes stages of the pipeline.
package koetypes

import (
	"sync/atomic"
	"time"
)

// Source identifies which physical stream an AudioFrame or AudioChunk came
// from.
type Source int

const (
	SourceSystem Source = iota
	SourceMicrophone
	SourceMixed
)

func (s Source) String() string {
	switch s {
	case SourceSystem:
		return "system"
	case SourceMicrophone:
		return "microphone"
	case SourceMixed:
		return "mixed"
	default:
		return "unknown"
	}
}

// SpeakerLabel maps a Source to the stable label used in transcript and
// notes output.
func (s Source) SpeakerLabel() string {
	switch s {
	case SourceSystem:
		return "Them"
	case SourceMicrophone:
		return "Me"
	default:
		return "Unknown"
	}
}

// AudioFrame is produced by the capture callback. It is consumed
// immediately by the ring writer and never retained past that call.
type AudioFrame struct {
	PTSNanos   int64
	SampleRate int
	Channels   int
	Samples    []float32
}

// AudioChunk is a bounded, speech-gated window of mono 16kHz PCM ready for
// transcription.
type AudioChunk struct {
	ID         string
	Source     Source
	StartPTSNs int64
	SampleRate int
	PCM        []float32
}

// DurationMS returns the chunk's duration in milliseconds given its sample
// rate.
func (c *AudioChunk) DurationMS() int64 {
	if c.SampleRate == 0 {
		return 0
	}
	return int64(len(c.PCM)) * 1000 / int64(c.SampleRate)
}

// TranscriptSegment is a unit of transcribed speech held by the ledger.
type TranscriptSegment struct {
	ID        uint64
	StartMS   int64
	EndMS     int64
	Speaker   string
	Text      string
	Finalized bool
	Source    Source
}

// NoteItem is a key point or decision produced by the notes engine.
type NoteItem struct {
	ID       string
	Text     string
	Evidence []uint64
}

// ActionItem is a NoteItem with an optional owner and due date.
type ActionItem struct {
	ID       string
	Text     string
	Owner    string
	Due      string
	Evidence []uint64
}

// MeetingNotes is the long-lived notes state, mutated only through
// NotesPatch application.
type MeetingNotes struct {
	KeyPoints []NoteItem
	Decisions []NoteItem
	Actions   []ActionItem
	UpdatedAt time.Time
}

// Clone returns a deep copy, used to snapshot state before a patch is
// applied so a failed patch can roll back to an identical value.
func (m *MeetingNotes) Clone() *MeetingNotes {
	out := &MeetingNotes{
		KeyPoints: make([]NoteItem, len(m.KeyPoints)),
		Decisions: make([]NoteItem, len(m.Decisions)),
		Actions:   make([]ActionItem, len(m.Actions)),
		UpdatedAt: m.UpdatedAt,
	}
	for i, kp := range m.KeyPoints {
		out.KeyPoints[i] = NoteItem{ID: kp.ID, Text: kp.Text, Evidence: append([]uint64{}, kp.Evidence...)}
	}
	for i, d := range m.Decisions {
		out.Decisions[i] = NoteItem{ID: d.ID, Text: d.Text, Evidence: append([]uint64{}, d.Evidence...)}
	}
	for i, a := range m.Actions {
		out.Actions[i] = ActionItem{ID: a.ID, Text: a.Text, Owner: a.Owner, Due: a.Due, Evidence: append([]uint64{}, a.Evidence...)}
	}
	return out
}

// NoteOpKind discriminates NotesPatch operations.
type NoteOpKind int

const (
	OpAddKeyPoint NoteOpKind = iota
	OpAddDecision
	OpAddAction
	OpUpdateAction
)

// NotesOp is a single patch operation. Fields not applicable to Kind are
// left zero.
type NotesOp struct {
	Kind     NoteOpKind
	ID       string
	Text     string
	Owner    *string
	Due      *string
	Evidence []uint64
}

// NotesPatch is an ordered list of operations applied atomically.
type NotesPatch struct {
	Ops []NotesOp
}

// CaptureStats holds single-writer-per-field atomic counters shared between
// the capture callback, the processor, and the shell.
type CaptureStats struct {
	framesCapturedSystem atomic.Uint64
	framesCapturedMic    atomic.Uint64
	framesDroppedSystem  atomic.Uint64
	framesDroppedMic     atomic.Uint64
	chunksEmitted        atomic.Uint64
	chunksDropped        atomic.Uint64
	audioWritesDropped   atomic.Uint64
	lastTranscribeMS     atomic.Uint64
}

func (s *CaptureStats) IncFramesCaptured(src Source) {
	if src == SourceMicrophone {
		s.framesCapturedMic.Add(1)
	} else {
		s.framesCapturedSystem.Add(1)
	}
}

func (s *CaptureStats) IncFramesDropped(src Source) {
	if src == SourceMicrophone {
		s.framesDroppedMic.Add(1)
	} else {
		s.framesDroppedSystem.Add(1)
	}
}

func (s *CaptureStats) IncChunksEmitted() { s.chunksEmitted.Add(1) }
func (s *CaptureStats) IncChunksDropped() { s.chunksDropped.Add(1) }
func (s *CaptureStats) IncAudioWritesDropped() { s.audioWritesDropped.Add(1) }
func (s *CaptureStats) SetLastTranscribeLatencyMS(ms uint64) { s.lastTranscribeMS.Store(ms) }

// Snapshot is a point-in-time, non-atomic copy suitable for a Stats event.
type CaptureStatsSnapshot struct {
	FramesCapturedSystem  uint64
	FramesCapturedMic     uint64
	FramesDroppedSystem   uint64
	FramesDroppedMic      uint64
	ChunksEmitted         uint64
	ChunksDropped         uint64
	AudioWritesDropped    uint64
	LastTranscribeLatency uint64
}

func (s *CaptureStats) Snapshot() CaptureStatsSnapshot {
	return CaptureStatsSnapshot{
		FramesCapturedSystem:  s.framesCapturedSystem.Load(),
		FramesCapturedMic:     s.framesCapturedMic.Load(),
		FramesDroppedSystem:   s.framesDroppedSystem.Load(),
		FramesDroppedMic:      s.framesDroppedMic.Load(),
		ChunksEmitted:         s.chunksEmitted.Load(),
		ChunksDropped:         s.chunksDropped.Load(),
		AudioWritesDropped:    s.audioWritesDropped.Load(),
		LastTranscribeLatency: s.lastTranscribeMS.Load(),
	}
}
