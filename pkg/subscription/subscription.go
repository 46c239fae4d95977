// Package subscription implements the per-viewer diffing and flow-control
// logic that turns query re-evaluations into a stream of IncrementalResult
// events (spec §4.10). Grounded on the original implementation's
// OctreeReader frontier/load-queue/remove-queue diffing
// (lidarserv-common/src/index/reader.rs), adapted from its per-call
// load_one/reload_one/remove_one polling API into one Manager.Poll call
// that the wire connection's write loop drains after every trigger.
package subscription

import (
	"github.com/lidarserv/lidarserv/pkg/nodeid"
	"github.com/lidarserv/lidarserv/pkg/octree"
	"github.com/lidarserv/lidarserv/pkg/query"
)

// InFlightWindow bounds the number of unacknowledged events a subscription
// may have outstanding before further events are deferred (spec §4.10.4).
const InFlightWindow = 10

// EventKind distinguishes the three IncrementalResult shapes the manager
// produces: add, replace and remove. It has no kind for the wire
// protocol's split shape (spec §6).
type EventKind int

const (
	// EventAdd: a node matched the query for the first time. Replaces is unset.
	EventAdd EventKind = iota
	// EventReplace: a previously-sent node's version changed. Replaces and
	// Nodes are both set to the node's (possibly new) id and content.
	EventReplace
	// EventRemove: a previously-sent node no longer matches. Nodes is empty.
	EventRemove
)

// Event is one add/replace/remove notification, queued until flow control
// permits sending it and an update number is assigned.
type Event struct {
	Kind    EventKind
	ID      nodeid.ID
	Version uint64

	// Include and Filter carry the evaluator's decision for this node at
	// the moment it was diffed, so the connection's write loop can build
	// the outgoing node buffer without re-walking the tree itself. Unset
	// for EventRemove.
	Include bool
	Filter  query.PointFilter

	// UpdateNumber is assigned when the event is handed to Poll's caller,
	// monotonically increasing per subscription; the client echoes it back
	// via ResultAck to free in-flight capacity.
	UpdateNumber uint64
}

// sentState is what the manager remembers it last told the client about one node.
type sentState struct {
	version uint64
}

// match is the subset of query.Match diff cares about, keyed by ID.
type match struct {
	version uint64
	include bool
	filter  query.PointFilter
}

// Manager tracks one viewer subscription's diff state and in-flight window.
// Not safe for concurrent use: the wire connection owns one Manager per
// viewer connection and drives it from its single read/write goroutine pair
// under its own serialization (see internal/server's connection handler).
type Manager struct {
	tree *octree.Tree
	eval *query.Evaluator

	sent map[nodeid.ID]sentState

	pending      []Event // events not yet handed out, in generation order
	nextUpdateNr uint64
	inFlight     uint64 // highest UpdateNumber handed out, not yet acked
	acked        uint64 // highest UpdateNumber the client has acked
}

// New creates a Manager with no active query; Poll returns no events until
// SetQuery is called.
func New(tree *octree.Tree) *Manager {
	return &Manager{tree: tree, sent: make(map[nodeid.ID]sentState)}
}

// SetQuery installs a new query, discarding any events still queued for the
// previous one (spec §4.10.5) and any memory of what was previously sent —
// the next Poll re-sends every matching node from scratch as Add events,
// which is correct since the client has no prior state for this query
// either (a switched query is treated as a fresh subscription).
func (m *Manager) SetQuery(eval *query.Evaluator) {
	m.eval = eval
	m.sent = make(map[nodeid.ID]sentState)
	m.pending = nil
}

// Ack records that the client has processed every IncrementalResult up to
// and including updateNumber, freeing that many slots in the in-flight
// window.
func (m *Manager) Ack(updateNumber uint64) {
	if updateNumber > m.acked {
		m.acked = updateNumber
	}
}

// Poll re-evaluates the current query against the tree's present state,
// diffs against what was last sent, and returns as many events as the
// in-flight window currently allows (spec §4.10 steps 1-4). Call this after
// every coalesced version-bump notification and after every Ack.
func (m *Manager) Poll() []Event {
	if m.eval == nil {
		return nil
	}
	m.diff()
	return m.drain()
}

// diff recomputes m.pending from the evaluator's current match set versus
// m.sent, appending new work without disturbing events already queued from
// an earlier diff that haven't been drained yet.
func (m *Manager) diff() {
	matches := m.eval.Walk(m.tree)

	current := make(map[nodeid.ID]match, len(matches))
	for _, mt := range matches {
		current[mt.ID] = match{version: mt.Version, include: mt.Include, filter: mt.Filter}
	}

	for id, cur := range current {
		prev, ok := m.sent[id]
		if !ok {
			m.pending = append(m.pending, Event{Kind: EventAdd, ID: id, Version: cur.version, Include: cur.include, Filter: cur.filter})
			m.sent[id] = sentState{version: cur.version}
			continue
		}
		if prev.version != cur.version {
			m.pending = append(m.pending, Event{Kind: EventReplace, ID: id, Version: cur.version, Include: cur.include, Filter: cur.filter})
			m.sent[id] = sentState{version: cur.version}
		}
	}

	for id := range m.sent {
		if _, stillMatches := current[id]; !stillMatches {
			m.pending = append(m.pending, Event{Kind: EventRemove, ID: id})
			delete(m.sent, id)
		}
	}
}

// drain hands out as many queued events as the in-flight window still has
// room for, assigning each an UpdateNumber.
func (m *Manager) drain() []Event {
	capacity := m.acked + InFlightWindow - m.inFlight
	if m.inFlight > m.acked+InFlightWindow {
		capacity = 0 // acked hasn't caught up yet; nothing new fits
	}
	n := uint64(len(m.pending))
	if n > capacity {
		n = capacity
	}
	if n == 0 {
		return nil
	}

	out := make([]Event, n)
	for i := uint64(0); i < n; i++ {
		m.nextUpdateNr++
		ev := m.pending[i]
		ev.UpdateNumber = m.nextUpdateNr
		out[i] = ev
	}
	m.inFlight = m.nextUpdateNr
	m.pending = m.pending[n:]
	return out
}

// Pending reports how many diffed-but-not-yet-sent events are queued,
// useful for tests and metrics.
func (m *Manager) Pending() int { return len(m.pending) }
