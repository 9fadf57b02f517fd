package ledger

import (
	"testing"

	"github.com/user/koe/internal/koetypes"
)

func seg(startMS, endMS int64, text string) koetypes.TranscriptSegment {
	return koetypes.TranscriptSegment{StartMS: startMS, EndMS: endMS, Text: text}
}

func TestAppendToEmptyOrdersByStart(t *testing.T) {
	l := New(0)
	l.Append(koetypes.SourceMicrophone, 0, []koetypes.TranscriptSegment{
		seg(2000, 2500, "second"),
		seg(0, 1000, "first"),
	})

	segs := l.Segments()
	if len(segs) != 2 {
		t.Fatalf("len = %d, want 2", len(segs))
	}
	if segs[0].Text != "first" || segs[1].Text != "second" {
		t.Fatalf("unexpected order: %+v", segs)
	}
}

func TestNonOverlappingKept(t *testing.T) {
	l := New(0)
	l.Append(koetypes.SourceMicrophone, 0, []koetypes.TranscriptSegment{seg(0, 1000, "hello")})
	l.Append(koetypes.SourceMicrophone, 0, []koetypes.TranscriptSegment{seg(5000, 6000, "world")})
	if len(l.Segments()) != 2 {
		t.Fatalf("len = %d, want 2", len(l.Segments()))
	}
}

func TestOverlapMergePreservesExistingID(t *testing.T) {
	l := New(0)
	l.Append(koetypes.SourceMicrophone, 0, []koetypes.TranscriptSegment{seg(0, 2000, "the quick brown")})
	firstID := l.Segments()[0].ID

	result := l.Append(koetypes.SourceMicrophone, 0, []koetypes.TranscriptSegment{seg(0, 2500, "the quick brown fox")})

	segs := l.Segments()
	if len(segs) != 1 {
		t.Fatalf("len = %d, want 1 (merged)", len(segs))
	}
	if segs[0].ID != firstID {
		t.Fatalf("merged segment id = %d, want preserved existing id %d", segs[0].ID, firstID)
	}
	if segs[0].Text != "the quick brown fox" {
		t.Fatalf("merged text = %q, want incoming text", segs[0].Text)
	}
	if segs[0].EndMS != 2500 {
		t.Fatalf("merged end = %d, want 2500 (union range)", segs[0].EndMS)
	}
	if len(result.ChangedIDs) != 1 || result.ChangedIDs[0] != firstID {
		t.Fatalf("ChangedIDs = %v, want [%d]", result.ChangedIDs, firstID)
	}
}

func TestDissimilarOverlapKept(t *testing.T) {
	l := New(0)
	l.Append(koetypes.SourceMicrophone, 0, []koetypes.TranscriptSegment{seg(0, 2000, "hello world")})
	l.Append(koetypes.SourceMicrophone, 0, []koetypes.TranscriptSegment{seg(500, 2500, "goodbye moon")})
	if len(l.Segments()) != 2 {
		t.Fatalf("len = %d, want 2 (dissimilar text should not merge)", len(l.Segments()))
	}
}

func TestBelowMinOverlapNotMerged(t *testing.T) {
	l := New(0)
	l.Append(koetypes.SourceMicrophone, 0, []koetypes.TranscriptSegment{seg(0, 1000, "hello world")})
	// Only 100ms of overlap despite identical text: below the 300ms
	// floor, so the two must stay distinct segments.
	l.Append(koetypes.SourceMicrophone, 0, []koetypes.TranscriptSegment{seg(900, 2000, "hello world")})
	if len(l.Segments()) != 2 {
		t.Fatalf("len = %d, want 2 (overlap below 300ms floor)", len(l.Segments()))
	}
}

func TestFinalizationAfterWindow(t *testing.T) {
	l := New(0)
	l.Append(koetypes.SourceMicrophone, 0, []koetypes.TranscriptSegment{seg(0, 1000, "old segment")})
	l.Append(koetypes.SourceMicrophone, 0, []koetypes.TranscriptSegment{seg(20000, 21000, "new segment")})

	segs := l.Segments()
	if !segs[0].Finalized {
		t.Error("expected old segment to be finalized once outside the mutable window")
	}
	if segs[1].Finalized {
		t.Error("expected new segment to remain mutable")
	}
}

func TestFinalizedSegmentsIgnoreOverlaps(t *testing.T) {
	l := New(0)
	l.Append(koetypes.SourceMicrophone, 0, []koetypes.TranscriptSegment{seg(0, 1000, "old segment")})
	l.Append(koetypes.SourceMicrophone, 0, []koetypes.TranscriptSegment{seg(20000, 21000, "new segment")})
	if !l.Segments()[0].Finalized {
		t.Fatal("setup: expected first segment finalized")
	}

	l.Append(koetypes.SourceMicrophone, 0, []koetypes.TranscriptSegment{seg(200, 1200, "old segment")})
	segs := l.Segments()
	if len(segs) != 2 {
		t.Fatalf("len = %d, want 2 (finalized segment must not be touched)", len(segs))
	}
	if segs[0].ID != 1 {
		t.Fatalf("first segment id = %d, want 1 (unchanged)", segs[0].ID)
	}
}

func TestSpeakerTaggingBySource(t *testing.T) {
	l := New(0)
	l.Append(koetypes.SourceSystem, 0, []koetypes.TranscriptSegment{seg(0, 1000, "hi")})
	l.Append(koetypes.SourceMicrophone, 2000, []koetypes.TranscriptSegment{seg(0, 1000, "there")})
	l.Append(koetypes.SourceMixed, 5000, []koetypes.TranscriptSegment{seg(0, 1000, "unclear")})

	segs := l.Segments()
	got := map[string]string{}
	for _, s := range segs {
		got[s.Text] = s.Speaker
	}
	if got["hi"] != "Them" || got["there"] != "Me" || got["unclear"] != "Unknown" {
		t.Fatalf("unexpected speaker tags: %+v", got)
	}
}

func TestChunkStartOffsetsSegmentTime(t *testing.T) {
	l := New(0)
	l.Append(koetypes.SourceMicrophone, 5000, []koetypes.TranscriptSegment{seg(0, 1000, "hi")})
	segs := l.Segments()
	if segs[0].StartMS != 5000 || segs[0].EndMS != 6000 {
		t.Fatalf("segment time = [%d,%d], want [5000,6000]", segs[0].StartMS, segs[0].EndMS)
	}
}

func TestPruneRetainsAllOpenAndTrimsOldestFinalized(t *testing.T) {
	l := New(3)

	l.Append(koetypes.SourceMicrophone, 0, []koetypes.TranscriptSegment{seg(0, 1000, "a")})
	l.Append(koetypes.SourceMicrophone, 0, []koetypes.TranscriptSegment{seg(20000, 21000, "b")})
	l.Append(koetypes.SourceMicrophone, 0, []koetypes.TranscriptSegment{seg(40000, 41000, "c")})
	l.Append(koetypes.SourceMicrophone, 0, []koetypes.TranscriptSegment{seg(60000, 61000, "d")})
	result := l.Append(koetypes.SourceMicrophone, 0, []koetypes.TranscriptSegment{seg(80000, 81000, "e")})

	if !result.Pruned {
		t.Fatal("expected pruning once the ledger exceeded maxSegments")
	}
	segs := l.Segments()
	if len(segs) != 3 {
		t.Fatalf("len = %d, want 3 after pruning", len(segs))
	}
	texts := []string{segs[0].Text, segs[1].Text, segs[2].Text}
	if texts[0] != "c" || texts[1] != "d" || texts[2] != "e" {
		t.Fatalf("unexpected surviving segments: %v", texts)
	}
	if result.FirstKeptID != segs[0].ID {
		t.Fatalf("FirstKeptID = %d, want %d", result.FirstKeptID, segs[0].ID)
	}
}

func TestTextSimilarityNormalizesPunctuationAndWhitespace(t *testing.T) {
	if s := textSimilarity("Hello,   World!", "hello world"); s != 1.0 {
		t.Fatalf("similarity = %f, want 1.0 after normalization", s)
	}
}
