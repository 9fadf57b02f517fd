// Package ring implements the single-producer/single-consumer lock-free
// handoff between a real-time capture callback and the audio processor.
//
// The capture callback runs on a platform-owned thread and must never
// allocate, lock, or block (spec.md 4.1/9). Every mutex-based ring in the
// example corpus is unsuitable for that constraint, so this is a small
// atomics-only circular buffer of float32 samples with a parallel sidecar
// ring of (pts, length) records so the consumer can reconstruct the
// presentation timestamp of each drained batch.
package ring

import (
	"sync/atomic"
)

// batch describes one producer write: the pts of its first sample and how
// many samples it wrote.
type batch struct {
	ptsNanos int64
	length   int
}

// Ring is a fixed-capacity SPSC float32 ring buffer. One goroutine may call
// Write; a different single goroutine may call Drain or ReadOne. Capacity is rounded
// up internally; callers should size it for the desired audio duration
// (spec.md's default is ~10s at the stream's sample rate).
type Ring struct {
	samples []float32
	mask    uint64

	writeIdx atomic.Uint64
	readIdx  atomic.Uint64

	batches    []batch
	batchMask  uint64
	batchWrite atomic.Uint64
	batchRead  atomic.Uint64
}

// New creates a Ring sized to hold at least capacitySamples samples and
// batchCapacity sidecar records. Both are rounded up to the next power of
// two.
func New(capacitySamples, batchCapacity int) *Ring {
	n := nextPow2(capacitySamples)
	bn := nextPow2(batchCapacity)
	return &Ring{
		samples:   make([]float32, n),
		mask:      uint64(n - 1),
		batches:   make([]batch, bn),
		batchMask: uint64(bn - 1),
	}
}

func nextPow2(n int) int {
	if n < 2 {
		return 2
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Write copies samples into the ring, tagging them with ptsNanos as the
// timestamp of their first sample. It never allocates, locks, or blocks:
// if there is insufficient free space, it writes nothing and returns false
// so the caller can bump a dropped-frames counter. Write must only be
// called from the single producer goroutine.
func (r *Ring) Write(samples []float32, ptsNanos int64) bool {
	if len(samples) == 0 {
		return true
	}

	free := uint64(len(r.samples)) - (r.writeIdx.Load() - r.readIdx.Load())
	if uint64(len(samples)) > free {
		return false
	}
	if r.batchWrite.Load()-r.batchRead.Load() >= uint64(len(r.batches)) {
		return false
	}

	w := r.writeIdx.Load()
	for i, s := range samples {
		r.samples[(w+uint64(i))&r.mask] = s
	}
	r.writeIdx.Store(w + uint64(len(samples)))

	bw := r.batchWrite.Load()
	r.batches[bw&r.batchMask] = batch{ptsNanos: ptsNanos, length: len(samples)}
	r.batchWrite.Store(bw + 1)

	return true
}

// Drained is one batch of samples read back out of the ring along with the
// pts of its first sample.
type Drained struct {
	PTSNanos int64
	Samples  []float32
}

// Drain reads every fully-written batch currently in the ring and returns
// the drained batches, each copied into a newly allocated sample slice.
// Drain must only be called from the single consumer goroutine.
func (r *Ring) Drain() []Drained {
	var out []Drained

	br := r.batchRead.Load()
	bw := r.batchWrite.Load()
	if br == bw {
		return nil
	}

	readPos := r.readIdx.Load()
	for ; br != bw; br++ {
		b := r.batches[br&r.batchMask]
		samples := make([]float32, b.length)
		for i := range samples {
			samples[i] = r.samples[(readPos+uint64(i))&r.mask]
		}
		readPos += uint64(b.length)
		out = append(out, Drained{PTSNanos: b.ptsNanos, Samples: samples})
	}

	r.readIdx.Store(readPos)
	r.batchRead.Store(bw)
	return out
}

// ReadOne drains a single batch, matching the Adapter contract's
// at-most-one-frame-per-call semantics. Returns ok=false if the ring is
// empty. ReadOne must only be called from the single consumer goroutine,
// and must not be interleaved with Drain on the same Ring.
func (r *Ring) ReadOne() (Drained, bool) {
	br := r.batchRead.Load()
	bw := r.batchWrite.Load()
	if br == bw {
		return Drained{}, false
	}

	b := r.batches[br&r.batchMask]
	readPos := r.readIdx.Load()
	samples := make([]float32, b.length)
	for i := range samples {
		samples[i] = r.samples[(readPos+uint64(i))&r.mask]
	}

	r.readIdx.Store(readPos + uint64(b.length))
	r.batchRead.Store(br + 1)
	return Drained{PTSNanos: b.ptsNanos, Samples: samples}, true
}

// Len returns the number of samples currently buffered. Safe to call from
// either side; intended for diagnostics only.
func (r *Ring) Len() int {
	return int(r.writeIdx.Load() - r.readIdx.Load())
}
