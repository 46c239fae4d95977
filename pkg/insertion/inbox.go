package insertion

import (
	"sync"
	"time"

	"github.com/lidarserv/lidarserv/pkg/nodeid"
	"github.com/lidarserv/lidarserv/pkg/pointbuffer"
)

// batch is one Enqueue call's worth of points, stamped with the time they
// arrived — needed to compute OldestPoint/NewestPoint/TaskAge priority
// scores without carrying a timestamp column through pointbuffer itself.
type batch struct {
	points    *pointbuffer.Buffer
	arrivedAt time.Time
}

// inbox is the per-node queue of not-yet-processed point batches (spec §4.8:
// "each node has an inbox of pending insertions"). A node's inbox is
// eligible for scheduling whenever it is non-empty and not already being
// processed by a worker.
type inbox struct {
	id nodeid.ID

	mu      sync.Mutex
	batches []batch
	firstAt time.Time // arrival time of the oldest still-pending batch
}

func newInbox(id nodeid.ID) *inbox {
	return &inbox{id: id}
}

// enqueue appends pts as a new batch arriving now.
func (ib *inbox) enqueue(pts *pointbuffer.Buffer, now time.Time) {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	if len(ib.batches) == 0 {
		ib.firstAt = now
	}
	ib.batches = append(ib.batches, batch{points: pts, arrivedAt: now})
}

// size returns the total number of pending points across all batches.
func (ib *inbox) size() int {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	n := 0
	for _, b := range ib.batches {
		n += b.points.Len()
	}
	return n
}

// empty reports whether the inbox currently has no pending batches.
func (ib *inbox) empty() bool {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	return len(ib.batches) == 0
}

// snapshot computes the priority-scoring facts for this inbox at time now,
// without draining it.
func (ib *inbox) snapshot(now time.Time, lod uint8) taskSnapshot {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	if len(ib.batches) == 0 {
		return taskSnapshot{lod: lod}
	}
	oldest, newest := ib.batches[0].arrivedAt, ib.batches[0].arrivedAt
	n := 0
	for _, b := range ib.batches {
		if b.arrivedAt.Before(oldest) {
			oldest = b.arrivedAt
		}
		if b.arrivedAt.After(newest) {
			newest = b.arrivedAt
		}
		n += b.points.Len()
	}
	return taskSnapshot{
		inboxSize:     n,
		taskAge:       now.Sub(ib.firstAt),
		minPendingAge: now.Sub(oldest),
		maxPendingAge: now.Sub(newest),
		lod:           lod,
	}
}

// drain removes and returns every pending batch's points merged into one
// buffer, leaving the inbox empty. schema is used to build the empty-case
// buffer so callers never see a nil result.
func (ib *inbox) drain(schema pointbuffer.Schema) *pointbuffer.Buffer {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	out := pointbuffer.New(schema)
	for _, b := range ib.batches {
		out.Extend(b.points)
	}
	ib.batches = nil
	return out
}
