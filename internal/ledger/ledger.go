// Package ledger implements the transcript ledger (spec.md 4.5): a
// time-ordered, overlap-aware store of TranscriptSegments fed by the
// transcriber worker. It is grounded on the original implementation's
// TranscriptLedger, adapted to this repo's stricter merge rule (a
// minimum temporal overlap before two segments are even compared, a
// higher similarity bar, and preserving the EXISTING segment's id
// rather than the incoming one on a merge).
package ledger

import (
	"sort"
	"strings"
	"unicode"

	"github.com/user/koe/internal/koetypes"
)

const (
	// OverlapWindowMS is the mutable tail width: a segment finalizes
	// once its end lies more than this far behind the latest segment end
	// the ledger has seen.
	OverlapWindowMS = 15_000

	similarityThreshold = 0.6
	minOverlapMS        = 300
	defaultMaxSegments  = 2_000
)

// Ledger holds the growing transcript for one session.
type Ledger struct {
	segments     []koetypes.TranscriptSegment
	highestEndMS int64
	nextID       uint64
	maxSegments  int
}

// New creates an empty Ledger. maxSegments <= 0 uses the default of
// 2000.
func New(maxSegments int) *Ledger {
	if maxSegments <= 0 {
		maxSegments = defaultMaxSegments
	}
	return &Ledger{maxSegments: maxSegments, nextID: 1}
}

// AppendResult reports what an Append call changed.
type AppendResult struct {
	ChangedIDs      []uint64
	FinalizedIDs    []uint64
	Pruned          bool
	FirstKeptID     uint64
}

// Append merges raw transcriber output for one chunk into the ledger.
// raw segment times are chunk-relative; chunkStartMS is added to reach
// session-relative time, and speaker is derived from source.
func (l *Ledger) Append(source koetypes.Source, chunkStartMS int64, raw []koetypes.TranscriptSegment) AppendResult {
	speaker := source.SpeakerLabel()

	incoming := make([]koetypes.TranscriptSegment, len(raw))
	for i, seg := range raw {
		incoming[i] = seg
		incoming[i].StartMS += chunkStartMS
		incoming[i].EndMS += chunkStartMS
		incoming[i].Speaker = speaker
		incoming[i].Source = source
		incoming[i].Finalized = false
	}
	sort.Slice(incoming, func(i, j int) bool { return incoming[i].StartMS < incoming[j].StartMS })

	var changed []uint64
	for _, seg := range incoming {
		if seg.EndMS > l.highestEndMS {
			l.highestEndMS = seg.EndMS
		}

		if l.overlapsFinalized(seg) {
			continue
		}

		if mergedID, ok := l.tryMerge(seg); ok {
			changed = append(changed, mergedID)
			continue
		}

		seg.ID = l.nextID
		l.nextID++
		l.insertSorted(seg)
		changed = append(changed, seg.ID)
	}

	finalized := l.finalizeSweep()

	result := AppendResult{ChangedIDs: changed, FinalizedIDs: finalized}
	if pruned, firstKept, ok := l.pruneFinalized(); ok {
		result.Pruned = pruned
		result.FirstKeptID = firstKept
	}
	return result
}

func (l *Ledger) overlapsFinalized(seg koetypes.TranscriptSegment) bool {
	for _, existing := range l.segments {
		if existing.Finalized && overlapsBy(existing, seg) >= minOverlapMS {
			return true
		}
	}
	return false
}

// tryMerge looks for a non-finalized existing segment overlapping seg
// by at least minOverlapMS with similar-enough text, and if found
// replaces its text/time range in place, preserving its id.
func (l *Ledger) tryMerge(seg koetypes.TranscriptSegment) (uint64, bool) {
	for i := range l.segments {
		existing := &l.segments[i]
		if existing.Finalized {
			continue
		}
		if overlapsBy(*existing, seg) < minOverlapMS {
			continue
		}
		if textSimilarity(existing.Text, seg.Text) < similarityThreshold {
			continue
		}

		if seg.StartMS < existing.StartMS {
			existing.StartMS = seg.StartMS
		}
		if seg.EndMS > existing.EndMS {
			existing.EndMS = seg.EndMS
		}
		existing.Text = seg.Text
		existing.Speaker = seg.Speaker
		return existing.ID, true
	}
	return 0, false
}

func (l *Ledger) insertSorted(seg koetypes.TranscriptSegment) {
	pos := sort.Search(len(l.segments), func(i int) bool { return l.segments[i].StartMS > seg.StartMS })
	l.segments = append(l.segments, koetypes.TranscriptSegment{})
	copy(l.segments[pos+1:], l.segments[pos:])
	l.segments[pos] = seg
}

// finalizeSweep marks segments outside the mutable tail as finalized
// and returns the ids that transitioned this call.
func (l *Ledger) finalizeSweep() []uint64 {
	cutoff := l.highestEndMS - OverlapWindowMS
	var finalized []uint64
	for i := range l.segments {
		seg := &l.segments[i]
		if !seg.Finalized && seg.EndMS < cutoff {
			seg.Finalized = true
			finalized = append(finalized, seg.ID)
		}
	}
	return finalized
}

// pruneFinalized drops the oldest finalized segments once the ledger
// exceeds maxSegments, keeping all non-finalized segments regardless of
// count (they are still mutable and must not be lost).
func (l *Ledger) pruneFinalized() (pruned bool, firstKeptID uint64, changed bool) {
	if len(l.segments) <= l.maxSegments {
		return false, 0, false
	}

	var keep []koetypes.TranscriptSegment
	var finalized []koetypes.TranscriptSegment
	for _, seg := range l.segments {
		if seg.Finalized {
			finalized = append(finalized, seg)
		} else {
			keep = append(keep, seg)
		}
	}

	remaining := l.maxSegments - len(keep)
	if remaining <= 0 {
		l.segments = sortedByStart(keep)
		return true, 0, true
	}

	start := len(finalized) - remaining
	if start < 0 {
		start = 0
	}
	kept := finalized[start:]
	keep = append(keep, kept...)
	l.segments = sortedByStart(keep)

	if len(kept) == 0 {
		return true, 0, true
	}
	return true, kept[0].ID, true
}

func sortedByStart(segs []koetypes.TranscriptSegment) []koetypes.TranscriptSegment {
	sort.Slice(segs, func(i, j int) bool { return segs[i].StartMS < segs[j].StartMS })
	return segs
}

// Segments returns the full transcript, in start-ms order.
func (l *Ledger) Segments() []koetypes.TranscriptSegment {
	return l.segments
}

// SegmentsSince returns segments with id > sinceID, in start-ms order.
func (l *Ledger) SegmentsSince(sinceID uint64) []koetypes.TranscriptSegment {
	var out []koetypes.TranscriptSegment
	for _, seg := range l.segments {
		if seg.ID > sinceID {
			out = append(out, seg)
		}
	}
	return out
}

// FinalizedSince returns finalized segments with id > sinceID, the
// notes engine's input window.
func (l *Ledger) FinalizedSince(sinceID uint64) []koetypes.TranscriptSegment {
	var out []koetypes.TranscriptSegment
	for _, seg := range l.segments {
		if seg.ID > sinceID && seg.Finalized {
			out = append(out, seg)
		}
	}
	return out
}

// HasID reports whether a segment with the given id currently exists in
// the ledger, used to drop dangling evidence ids from notes patches.
func (l *Ledger) HasID(id uint64) bool {
	for _, seg := range l.segments {
		if seg.ID == id {
			return true
		}
	}
	return false
}

func overlapsBy(a, b koetypes.TranscriptSegment) int64 {
	start := a.StartMS
	if b.StartMS > start {
		start = b.StartMS
	}
	end := a.EndMS
	if b.EndMS < end {
		end = b.EndMS
	}
	if end <= start {
		return 0
	}
	return end - start
}

// textSimilarity scores two strings on normalized text using
// containment and longest-common-prefix/suffix ratio, matching the
// original's fast heuristic.
func textSimilarity(a, b string) float64 {
	na, nb := normalizeText(a), normalizeText(b)
	shorter := len(na)
	if len(nb) < shorter {
		shorter = len(nb)
	}
	if shorter == 0 {
		return 0
	}
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		return 1.0
	}
	prefix := commonPrefixLen(na, nb)
	suffix := commonSuffixLen(na, nb)
	longest := prefix
	if suffix > longest {
		longest = suffix
	}
	return float64(longest) / float64(shorter)
}

// normalizeText lowercases, strips punctuation, and collapses runs of
// whitespace to a single space.
func normalizeText(s string) string {
	var b strings.Builder
	lastWasSpace := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsSpace(r):
			if !lastWasSpace && b.Len() > 0 {
				b.WriteRune(' ')
			}
			lastWasSpace = true
		case unicode.IsPunct(r):
			continue
		default:
			b.WriteRune(r)
			lastWasSpace = false
		}
	}
	return strings.TrimSpace(b.String())
}

func commonPrefixLen(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}

func commonSuffixLen(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[len(a)-1-n] == b[len(b)-1-n] {
		n++
	}
	return n
}
