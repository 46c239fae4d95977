package insertion

import (
	"context"
	"sync"
	"time"

	"github.com/lidarserv/lidarserv/pkg/nodeid"
)

// scheduler holds the set of nodes with pending, not-currently-processed
// inboxes and hands the highest-priority one to a worker on Pop.
//
// Priority functions can depend on how long a task has been waiting, so a
// static heap would go stale the moment time passes without the task being
// touched. Rather than maintain a heap with lazy re-scoring, we keep a
// plain map of eligible nodes and re-score every candidate at Pop time —
// O(eligible) per pop, which is fine at the node-count scales this index
// targets, and it is always exactly correct.
type scheduler struct {
	kind PriorityKind
	k    float64

	mu         sync.Mutex
	cond       *sync.Cond
	inboxes    map[nodeid.ID]*inbox
	lods       map[nodeid.ID]uint8
	processing map[nodeid.ID]bool
	closed     bool
}

func newScheduler(kind PriorityKind, k float64) *scheduler {
	s := &scheduler{
		kind:       kind,
		k:          k,
		inboxes:    make(map[nodeid.ID]*inbox),
		lods:       make(map[nodeid.ID]uint8),
		processing: make(map[nodeid.ID]bool),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// enqueue registers that id has new pending work, creating its inbox on
// first use, and wakes a waiting worker.
func (s *scheduler) enqueue(id nodeid.ID) *inbox {
	s.mu.Lock()
	defer s.mu.Unlock()
	ib, ok := s.inboxes[id]
	if !ok {
		ib = newInbox(id)
		s.inboxes[id] = ib
		s.lods[id] = id.Lod
	}
	s.cond.Broadcast()
	return ib
}

// pop blocks until some node has eligible (non-empty, not already
// in-flight) work or ctx is done, then marks that node as processing and
// returns its id and inbox. ok is false if ctx was cancelled or the
// scheduler was closed with nothing left to hand out.
func (s *scheduler) pop(ctx context.Context) (nodeid.ID, *inbox, bool) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.cond.Broadcast()
			s.mu.Unlock()
		case <-stop:
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if ctx.Err() != nil {
			return nodeid.ID{}, nil, false
		}
		id, ib, found := s.bestEligibleLocked()
		if found {
			s.processing[id] = true
			return id, ib, true
		}
		if s.closed {
			return nodeid.ID{}, nil, false
		}
		s.cond.Wait()
	}
}

// bestEligibleLocked scans every non-processing, non-empty inbox and
// returns the one with the highest priority score. Caller must hold s.mu.
func (s *scheduler) bestEligibleLocked() (nodeid.ID, *inbox, bool) {
	now := time.Now()
	var bestID nodeid.ID
	var bestInbox *inbox
	bestScore := 0.0
	found := false
	for id, ib := range s.inboxes {
		if s.processing[id] || ib.empty() {
			continue
		}
		sc := score(s.kind, ib.snapshot(now, s.lods[id]), s.k)
		if !found || sc > bestScore {
			found = true
			bestID, bestInbox, bestScore = id, ib, sc
		}
	}
	return bestID, bestInbox, found
}

// done marks id as no longer being processed, re-signalling waiters in case
// more work arrived for it while it was in flight.
func (s *scheduler) done(id nodeid.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.processing, id)
	s.cond.Broadcast()
}

// close wakes every blocked pop so workers can exit once draining is done.
func (s *scheduler) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cond.Broadcast()
}

// pendingCount returns the number of nodes with work left to settle, used
// by the pipeline to implement Quiesce's wait. A node counts as pending
// both while its inbox holds undrained points and while a worker is still
// routing an already-drained batch for it (processTask holds points in a
// scratch buffer between draining the inbox and either marking itself done
// or spilling into a child's inbox) — counting only non-empty inboxes would
// let Quiesce return while that routing is still in flight.
func (s *scheduler) pendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := make(map[nodeid.ID]struct{}, len(s.inboxes))
	for id, ib := range s.inboxes {
		if !ib.empty() {
			pending[id] = struct{}{}
		}
	}
	for id := range s.processing {
		pending[id] = struct{}{}
	}
	return len(pending)
}
