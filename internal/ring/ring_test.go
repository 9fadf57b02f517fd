package ring

import "testing"

func TestWriteDrainRoundTrip(t *testing.T) {
	r := New(64, 8)

	if ok := r.Write([]float32{1, 2, 3}, 1000); !ok {
		t.Fatal("Write returned false on fresh ring")
	}
	if ok := r.Write([]float32{4, 5}, 2000); !ok {
		t.Fatal("Write returned false on second write")
	}

	drained := r.Drain()
	if len(drained) != 2 {
		t.Fatalf("Drain() returned %d batches, want 2", len(drained))
	}
	if drained[0].PTSNanos != 1000 || len(drained[0].Samples) != 3 {
		t.Errorf("first batch = %+v", drained[0])
	}
	if drained[1].PTSNanos != 2000 || len(drained[1].Samples) != 2 {
		t.Errorf("second batch = %+v", drained[1])
	}
}

func TestWriteDropsWhenFull(t *testing.T) {
	r := New(4, 8)

	if ok := r.Write([]float32{1, 2, 3, 4}, 0); !ok {
		t.Fatal("expected first write to fit exactly in capacity")
	}
	if ok := r.Write([]float32{5}, 1); ok {
		t.Fatal("expected Write to report false once ring is full")
	}

	drained := r.Drain()
	if len(drained) != 1 || len(drained[0].Samples) != 4 {
		t.Fatalf("unexpected drain after overflow attempt: %+v", drained)
	}
}

func TestDrainEmptyReturnsNil(t *testing.T) {
	r := New(16, 4)
	if got := r.Drain(); got != nil {
		t.Errorf("Drain() on empty ring = %+v, want nil", got)
	}
}

func TestReadOneReturnsSingleBatch(t *testing.T) {
	r := New(16, 4)
	r.Write([]float32{1, 2}, 10)
	r.Write([]float32{3}, 20)

	first, ok := r.ReadOne()
	if !ok || first.PTSNanos != 10 || len(first.Samples) != 2 {
		t.Fatalf("first ReadOne() = %+v, ok=%v", first, ok)
	}
	second, ok := r.ReadOne()
	if !ok || second.PTSNanos != 20 || len(second.Samples) != 1 {
		t.Fatalf("second ReadOne() = %+v, ok=%v", second, ok)
	}
	if _, ok := r.ReadOne(); ok {
		t.Fatal("expected ReadOne() to report empty after draining both batches")
	}
}

func TestDrainIsIdempotentBetweenWrites(t *testing.T) {
	r := New(16, 4)
	r.Write([]float32{1, 2}, 0)
	first := r.Drain()
	second := r.Drain()
	if len(first) != 1 {
		t.Fatalf("first drain = %d batches, want 1", len(first))
	}
	if len(second) != 0 {
		t.Fatalf("second drain = %d batches, want 0", len(second))
	}
}
