// Package queue implements the bounded, drop-oldest chunk queue connecting
// the audio processor to the transcriber worker (spec.md 4.3). A plain
// buffered channel cannot implement drop-oldest without a receive-side
// race, so this mirrors the original implementation's mutex+condvar
// bounded queue instead.
package queue

import (
	"sync"

	"github.com/user/koe/internal/koetypes"
)

// SendOutcome reports what happened to a Send call.
type SendOutcome int

const (
	Sent SendOutcome = iota
	DroppedOldest
	Disconnected
)

// ChunkQueue is a bounded FIFO of AudioChunks with drop-oldest overflow.
type ChunkQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    []*koetypes.AudioChunk
	capacity int
	closed   bool
}

// New creates a ChunkQueue with the given capacity (spec.md's default is
// 4).
func New(capacity int) *ChunkQueue {
	q := &ChunkQueue{capacity: capacity}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Send enqueues a chunk. If the queue is at capacity, the oldest item is
// evicted to make room, favoring freshness over completeness.
func (q *ChunkQueue) Send(chunk *koetypes.AudioChunk) SendOutcome {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return Disconnected
	}

	outcome := Sent
	if len(q.items) >= q.capacity {
		q.items = q.items[1:]
		outcome = DroppedOldest
	}
	q.items = append(q.items, chunk)
	q.cond.Signal()
	return outcome
}

// Recv blocks until an item is available or the queue is closed. It
// returns ok=false once the queue is closed and drained.
func (q *ChunkQueue) Recv() (*koetypes.AudioChunk, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}

	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// Close marks the queue closed; pending items may still be drained via
// Recv, but no further Send calls will succeed and Recv unblocks once
// drained.
func (q *ChunkQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Len reports the current queue depth, for diagnostics.
func (q *ChunkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
