// Package pagecache implements the LRU cache fronting the node store
// (spec §4.4): bounded by node count, pinned entries are never evicted,
// concurrent loads of the same id coalesce, and dirty entries are written
// through on eviction and at shutdown.
//
// The eviction list is hashicorp/golang-lru/v2/simplelru; we drive it
// manually rather than relying on its built-in size-triggered eviction,
// because simplelru has no notion of pinning — GetOldest/Get/Remove give
// us just enough surface to skip pinned entries by promoting them and
// re-checking the new oldest.
package pagecache

import (
	"errors"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/lidarserv/lidarserv/internal/errs"
	"github.com/lidarserv/lidarserv/pkg/nodeid"
	"github.com/lidarserv/lidarserv/pkg/nodestore"
	"github.com/lidarserv/lidarserv/pkg/pointbuffer"
)

// entry holds one node's cached content. mu guards Points/Bogus/AttrSnapshot/Dirty
// and must be held for the duration of any mutation — per spec §4.4, the
// cache's per-entry mutex is the only thing making a node mutable, and
// callers that both read a node and spill to its children must acquire
// these mutexes parent-before-child.
type entry struct {
	id nodeid.ID
	mu sync.Mutex

	Points, Bogus *pointbuffer.Buffer
	AttrSnapshot  []byte
	Dirty         bool

	loadDone chan struct{}
	loadErr  error
}

// Handle is a pinned, loaded reference to one node's cache entry. It must
// be Released exactly once.
type Handle struct {
	cache *Cache
	e     *entry
}

// Lock acquires the entry's mutex for mutation.
func (h *Handle) Lock() { h.e.mu.Lock() }

// Unlock releases the entry's mutex.
func (h *Handle) Unlock() { h.e.mu.Unlock() }

// Points returns the node's currently accepted points. Caller must hold Lock.
func (h *Handle) Points() *pointbuffer.Buffer { return h.e.Points }

// Bogus returns the node's currently retained bogus points. Caller must hold Lock.
func (h *Handle) Bogus() *pointbuffer.Buffer { return h.e.Bogus }

// AttrSnapshot returns the node's serialised attribute-index snapshot. Caller must hold Lock.
func (h *Handle) AttrSnapshot() []byte { return h.e.AttrSnapshot }

// SetContent replaces the entry's content and marks it dirty. Caller must hold Lock.
func (h *Handle) SetContent(points, bogus *pointbuffer.Buffer, attrSnapshot []byte) {
	h.e.Points, h.e.Bogus, h.e.AttrSnapshot = points, bogus, attrSnapshot
	h.e.Dirty = true
}

// ID returns the handle's node id.
func (h *Handle) ID() nodeid.ID { return h.e.id }

// Release unpins the entry, making it eligible for eviction again.
func (h *Handle) Release() {
	h.cache.unpin(h.e.id)
}

// Cache is the bounded, pin-aware LRU cache over node contents.
type Cache struct {
	mu    sync.Mutex // guards lru and pins; never held during disk I/O
	lru   *lru.LRU[nodeid.ID, *entry]
	pins  map[nodeid.ID]int
	store *nodestore.Store
	max   int
}

// New creates a Cache bounded at maxEntries nodes, backed by store.
func New(store *nodestore.Store, maxEntries int) *Cache {
	// size is a large ceiling, not the real budget: we never let simplelru's
	// own Add-triggered eviction fire (it isn't pin-aware), and instead run
	// maybeEvict ourselves after every unpin.
	l, _ := lru.NewLRU[nodeid.ID, *entry](1<<30, nil)
	return &Cache{
		lru:   l,
		pins:  make(map[nodeid.ID]int),
		store: store,
		max:   maxEntries,
	}
}

// Get loads (if absent) and pins id, blocking concurrent callers of the
// same id on a single in-flight load. Returns errs.ErrNodeNotFound if no
// such node has ever been written — callers expecting to create a node
// lazily should use GetOrCreate.
func (c *Cache) Get(id nodeid.ID) (*Handle, error) {
	return c.get(id, false)
}

// GetOrCreate behaves like Get, but a missing node is treated as a fresh
// empty node rather than an error (spec §3: nodes are created lazily).
func (c *Cache) GetOrCreate(id nodeid.ID, schema pointbuffer.Schema) (*Handle, error) {
	h, err := c.get(id, true)
	if err != nil {
		return nil, err
	}
	h.Lock()
	if h.e.Points == nil {
		h.e.Points = pointbuffer.New(schema)
		h.e.Bogus = pointbuffer.New(schema)
	}
	h.Unlock()
	return h, nil
}

func (c *Cache) get(id nodeid.ID, tolerateMissing bool) (*Handle, error) {
	c.mu.Lock()
	e, ok := c.lru.Get(id)
	created := false
	if !ok {
		e = &entry{id: id, loadDone: make(chan struct{})}
		c.lru.Add(id, e)
		created = true
	}
	c.pins[id]++
	c.mu.Unlock()

	if created {
		points, bogus, snap, err := c.store.Read(id)
		if err != nil {
			// Leave Points/Bogus nil; GetOrCreate fills them in below, plain
			// Get surfaces the error (unwrapped below) to its caller.
			e.loadErr = err
		} else {
			e.Points, e.Bogus, e.AttrSnapshot = points, bogus, snap
		}
		close(e.loadDone)
	} else {
		<-e.loadDone
	}

	if e.loadErr != nil && !(tolerateMissing && errors.Is(e.loadErr, errs.ErrNodeNotFound)) {
		// A node the store did not have may since have been created in
		// the cache by GetOrCreate; only a still-empty entry is missing.
		e.mu.Lock()
		populated := e.Points != nil
		e.mu.Unlock()
		if !populated {
			c.unpin(id)
			return nil, e.loadErr
		}
	}
	return &Handle{cache: c, e: e}, nil
}

func (c *Cache) unpin(id nodeid.ID) {
	c.mu.Lock()
	c.pins[id]--
	if c.pins[id] <= 0 {
		delete(c.pins, id)
	}
	c.mu.Unlock()
	c.maybeEvict()
}

// maybeEvict brings the cache back under its node-count budget, skipping
// pinned entries by promoting them to most-recently-used and re-checking
// the new oldest — GetOldest/Get/Remove are simplelru's real surface; the
// pin-skip logic on top of them is ours.
//
// A candidate is pinned (not removed from c.lru) for the duration of its
// own flush, exactly like an ordinary caller's pin: this keeps it visible
// to a concurrent Get/GetOrCreate, which then waits on the same *entry
// instead of finding the id absent, treating it as a fresh load, and
// re-reading pre-flush bytes from the store (spec §4.4 requires the
// write-through to finish before the entry is discarded). It is only
// dropped from c.lru after flushEntry returns.
func (c *Cache) maybeEvict() {
	var toFlush []*entry

	c.mu.Lock()
	promotedSinceProgress := 0
	for c.lru.Len() > c.max {
		id, e, ok := c.lru.GetOldest()
		if !ok {
			break
		}
		if c.pins[id] > 0 {
			c.lru.Get(id) // promotes id to most-recently-used
			promotedSinceProgress++
			if promotedSinceProgress >= c.lru.Len() {
				break // every cached entry is currently pinned
			}
			continue
		}
		c.pins[id]++  // hold it through the flush below
		c.lru.Get(id) // promotes id past the entries not yet considered
		toFlush = append(toFlush, e)
		promotedSinceProgress = 0
	}
	c.mu.Unlock()

	for _, e := range toFlush {
		c.flushEntry(e)

		// Drop our own hold; only actually discard the entry if nothing
		// else pinned it (e.g. a concurrent Get) while the flush ran.
		c.mu.Lock()
		c.pins[e.id]--
		if c.pins[e.id] <= 0 {
			delete(c.pins, e.id)
			c.lru.Remove(e.id)
		}
		c.mu.Unlock()
	}
}

// flushEntry writes e through to the store if dirty. Disk errors are
// logged by Store.Write itself (which also owns the single-retry), not
// propagated here — per spec §7, a node write failure is local to that
// node and must not stall the rest of the pipeline. On eviction,
// maybeEvict drops the entry from the cache once this returns, whether or
// not the write succeeded, so a failed flush there means that node's most
// recent mutations are lost, same as an unflushed dirty page at process
// death. FlushAll leaves entries cached.
func (c *Cache) flushEntry(e *entry) {
	e.mu.Lock()
	dirty := e.Dirty
	points, bogus, snap := e.Points, e.Bogus, e.AttrSnapshot
	e.mu.Unlock()
	if !dirty || points == nil {
		return
	}
	if err := c.store.Write(e.id, points, bogus, snap); err != nil {
		return
	}
	e.mu.Lock()
	e.Dirty = false
	e.mu.Unlock()
}

// FlushAll writes through every dirty entry, used at shutdown quiesce.
func (c *Cache) FlushAll() {
	c.mu.Lock()
	keys := c.lru.Keys()
	entries := make([]*entry, 0, len(keys))
	for _, k := range keys {
		if e, ok := c.lru.Peek(k); ok {
			entries = append(entries, e)
		}
	}
	c.mu.Unlock()

	for _, e := range entries {
		c.flushEntry(e)
	}
}

// Len returns the number of entries currently resident, for tests/metrics.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
