// Package octree implements the persistent skeleton of node descriptors
// (spec §4.7): an in-memory map from id to descriptor, rebuilt at startup
// from the node store's list(), protected by a single read-write lock
// (many readers, one writer creating descriptors). The octree is strictly
// acyclic; descriptors reference each other only through id-based paths,
// never back-pointers (spec §9 "Cycles").
package octree

import (
	"sync"

	"github.com/lidarserv/lidarserv/pkg/attrindex"
	"github.com/lidarserv/lidarserv/pkg/nodeid"
)

// Descriptor is a node's lightweight, always-in-memory metadata. The bulk
// of a node's state (points, bogus points) lives in the page cache, keyed
// by the same id; a Descriptor existing does not imply an on-disk file
// exists yet (spec §3 "Lifecycles": "reserves the id but does not allocate
// an on-disk node until a write happens").
//
// The attribute index summary is kept here, rather than in the page
// cache, on purpose: the query evaluator's pruning pass (spec §4.6, §4.9)
// must be able to decide a node is excluded without paying for a cache
// load/disk read, and Descriptors are already always resident in memory.
type Descriptor struct {
	ID           nodeid.ID
	ChildrenMask uint8 // which of eight children currently have descriptors
	Version      uint64

	attrsMu sync.Mutex
	attrs   *attrindex.Index
}

// SetAttrs replaces this node's attribute-index summary, called by the
// insertion pipeline every time the node's content is rewritten. Per spec
// §4.6 this summary bounds only d's own points ∪ bogus_points, not its
// subtree — it is not refreshed as a union of children, so query-time
// pruning against it is sound only per-node, not per-subtree (spec
// §4.6: "until refresh, fall back to per-node pruning").
func (d *Descriptor) SetAttrs(idx *attrindex.Index) {
	d.attrsMu.Lock()
	d.attrs = idx
	d.attrsMu.Unlock()
}

// Attrs returns this node's current attribute-index summary, or nil if
// the node has never been processed (e.g. a reserved-but-empty child).
func (d *Descriptor) Attrs() *attrindex.Index {
	d.attrsMu.Lock()
	defer d.attrsMu.Unlock()
	return d.attrs
}

// HasChild reports whether octant currently has a descriptor.
func (d *Descriptor) HasChild(octant uint8) bool {
	return d.ChildrenMask&(1<<octant) != 0
}

// Tree is the persistent id -> descriptor map.
type Tree struct {
	mu    sync.RWMutex
	nodes map[nodeid.ID]*Descriptor
	hs    nodeid.HierarchyShift
}

// New creates a Tree with just the root descriptor reserved.
func New(hs nodeid.HierarchyShift) *Tree {
	t := &Tree{nodes: make(map[nodeid.ID]*Descriptor), hs: hs}
	root := &Descriptor{ID: nodeid.Root()}
	t.nodes[root.ID] = root
	return t
}

// HierarchyShift returns the tree's region-shaping parameters.
func (t *Tree) HierarchyShift() nodeid.HierarchyShift { return t.hs }

// Get returns the descriptor for id, if it has been reserved.
func (t *Tree) Get(id nodeid.ID) (*Descriptor, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.nodes[id]
	return d, ok
}

// Exists reports whether id has a reserved descriptor.
func (t *Tree) Exists(id nodeid.ID) bool {
	_, ok := t.Get(id)
	return ok
}

// GetOrCreateChild reserves (if necessary) and returns the descriptor for
// parent's child in the given octant. Reserving an id does not allocate an
// on-disk node.
func (t *Tree) GetOrCreateChild(parent nodeid.ID, octant uint8) *Descriptor {
	childID := parent.Child(octant)

	t.mu.RLock()
	if d, ok := t.nodes[childID]; ok {
		t.mu.RUnlock()
		return d
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if d, ok := t.nodes[childID]; ok {
		return d // another writer created it between our RUnlock and Lock
	}
	child := &Descriptor{ID: childID}
	t.nodes[childID] = child
	if p, ok := t.nodes[parent]; ok {
		p.ChildrenMask |= 1 << octant
	}
	return child
}

// Children returns the descriptors of id's existing children, in octant order.
func (t *Tree) Children(id nodeid.ID) []*Descriptor {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.nodes[id]
	if !ok {
		return nil
	}
	var out []*Descriptor
	for oct := uint8(0); oct < 8; oct++ {
		if d.HasChild(oct) {
			if c, ok := t.nodes[id.Child(oct)]; ok {
				out = append(out, c)
			}
		}
	}
	return out
}

// RegionOf returns id's region of local-coordinate space.
func (t *Tree) RegionOf(id nodeid.ID) nodeid.Region {
	return nodeid.RegionOf(id, t.hs)
}

// Rebuild reserves a descriptor for every id in ids and for every ancestor
// on its path to the root, restoring children masks along the way. Used
// at startup against the node store's List() result.
func (t *Tree) Rebuild(ids []nodeid.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		t.reserveChain(id)
	}
}

// reserveChain ensures id and every ancestor of id has a descriptor, and
// that children masks are set along the chain. Caller must hold t.mu.
func (t *Tree) reserveChain(id nodeid.ID) {
	if _, ok := t.nodes[id]; ok {
		return
	}
	t.nodes[id] = &Descriptor{ID: id}
	cur := id
	for {
		parent, ok := cur.Parent()
		if !ok {
			break
		}
		octant := cur.Octant(int(parent.Lod))
		p, ok := t.nodes[parent]
		if !ok {
			p = &Descriptor{ID: parent}
			t.nodes[parent] = p
		}
		alreadySet := p.HasChild(octant)
		p.ChildrenMask |= 1 << octant
		cur = parent
		if alreadySet {
			break // the rest of the chain to root was already reserved
		}
	}
}

// Count returns the number of reserved descriptors, mostly for tests/metrics.
func (t *Tree) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}
