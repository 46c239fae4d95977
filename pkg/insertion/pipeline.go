// Package insertion implements the concurrent, priority-scheduled
// construction of the octree from incoming points (spec §4.8): each node
// has an inbox of pending batches, a pool of workers pulls the highest
// priority pending node, runs it through that node's sampling grid and
// attribute index, and spills whatever doesn't fit down to the matching
// children.
package insertion

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/lidarserv/lidarserv/internal/errs"
	"github.com/lidarserv/lidarserv/internal/logger"
	"github.com/lidarserv/lidarserv/pkg/attrindex"
	"github.com/lidarserv/lidarserv/pkg/nodeid"
	"github.com/lidarserv/lidarserv/pkg/octree"
	"github.com/lidarserv/lidarserv/pkg/pagecache"
	"github.com/lidarserv/lidarserv/pkg/pointbuffer"
	"github.com/lidarserv/lidarserv/pkg/samplinggrid"
)

// NotifyFunc is called after a node's content is rewritten, with its new
// version number — the hook the subscription manager registers against to
// learn which nodes need re-diffing to subscribers.
type NotifyFunc func(id nodeid.ID, version uint64)

// Pipeline drives insertion for one open point cloud.
type Pipeline struct {
	cfg   Config
	tree  *octree.Tree
	cache *pagecache.Cache
	sched *scheduler
	sem   *semaphore.Weighted
	log   *logger.Logger

	onVersionBump NotifyFunc

	eg     *errgroup.Group
	cancel context.CancelFunc
}

// New creates a Pipeline over an already-open tree and page cache. tree's
// HierarchyShift must match cfg.HierarchyShift.
func New(cfg Config, tree *octree.Tree, cache *pagecache.Cache, onVersionBump NotifyFunc) *Pipeline {
	return &Pipeline{
		cfg:           cfg,
		tree:          tree,
		cache:         cache,
		sched:         newScheduler(cfg.Priority, cfg.PriorityWeight),
		sem:           semaphore.NewWeighted(cfg.TargetPointPressure),
		log:           logger.GetGlobalLogger(),
		onVersionBump: onVersionBump,
	}
}

// Start launches the worker pool under a context derived from ctx. Stop
// cancels that context and joins all workers.
func (p *Pipeline) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	eg, egCtx := errgroup.WithContext(workerCtx)
	p.eg = eg
	for i := 0; i < p.cfg.Workers; i++ {
		workerID := i
		eg.Go(func() error {
			p.runWorker(egCtx, workerID)
			return nil
		})
	}
}

func (p *Pipeline) runWorker(ctx context.Context, workerID int) {
	wlog := p.log.WorkerLogger(workerID)
	for {
		id, ib, ok := p.sched.pop(ctx)
		if !ok {
			return
		}
		nrPoints := ib.size()
		start := time.Now()
		err := p.processTask(ctx, id, ib)
		wlog.LogTaskProcessed(id.Lod, nrPoints, time.Since(start), err)
		p.sched.done(id)
	}
}

// Stop cancels every worker and waits for them to return.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.sched.close()
	if p.eg != nil {
		p.eg.Wait()
	}
}

// Quiesce blocks until every node's inbox is empty, i.e. every point
// handed to Insert so far has been routed to a resting place. It does not
// stop the worker pool.
func (p *Pipeline) Quiesce(ctx context.Context) error {
	for p.sched.pendingCount() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
	return nil
}

// Insert enqueues pts (already quantised into the root's local coordinate
// system, by the wire layer) for processing at the root node, blocking
// until the pipeline has pressure budget to accept them.
func (p *Pipeline) Insert(ctx context.Context, pts *pointbuffer.Buffer) error {
	return p.enqueueBatch(ctx, nodeid.Root(), pts)
}

// enqueueBatch is the single place that grows an inbox: it acquires
// pressure budget before handing the batch to the scheduler, and that
// budget is released the moment the batch is drained into a worker's
// working set in processTask — bounding memory held by not-yet-routed
// points to TargetPointPressure, independent of how deep the recursion
// that eventually resolves each point goes.
func (p *Pipeline) enqueueBatch(ctx context.Context, id nodeid.ID, pts *pointbuffer.Buffer) error {
	if pts.Len() == 0 {
		return nil
	}
	if err := p.sem.Acquire(ctx, int64(pts.Len())); err != nil {
		return errs.Wrap(errs.KindResource, err)
	}
	ib := p.sched.enqueue(id)
	ib.enqueue(pts, time.Now())
	return nil
}

// processTask drains id's inbox and folds every pending point into the
// node: accepted into its sampling grid slot, retained as bogus up to that
// LOD's cap, or spilled to the matching child once the cap is exhausted.
func (p *Pipeline) processTask(ctx context.Context, id nodeid.ID, ib *inbox) error {
	schema := p.cfg.Schema
	handle, err := p.cache.GetOrCreate(id, schema)
	if err != nil {
		return err
	}
	defer handle.Release()

	handle.Lock()
	existing := handle.Points()
	bogus := handle.Bogus()
	region := p.tree.RegionOf(id)
	cellWidth := p.cfg.HierarchyShift.CellWidth(id.Lod)
	grid := rebuildGrid(region, cellWidth, existing)
	idx := p.rebuildIndex(existing, bogus)

	incoming := ib.drain(schema)
	p.sem.Release(int64(incoming.Len()))

	spill := make(map[uint8]*pointbuffer.Buffer)
	bogusCap := p.cfg.bogusCapForLod(id.Lod)
	isLeaf := id.Lod >= p.cfg.HierarchyShift.MaxLod

	for i := 0; i < incoming.Len(); i++ {
		pos := incoming.Positions[i]
		cell := grid.CellOf(int64(pos.X), int64(pos.Y), int64(pos.Z))
		if grid.TryAccept(cell) {
			existing.AppendFrom(incoming, i)
			p.fold(idx, schema, existing, existing.Len()-1)
			continue
		}
		if bogus.Len() < bogusCap {
			bogus.AppendFrom(incoming, i)
			p.fold(idx, schema, bogus, bogus.Len()-1)
			continue
		}
		if isLeaf {
			continue // cap exhausted and there is no lower LOD to push into: drop
		}
		oct := nodeid.ChildOctant(region, int64(pos.X), int64(pos.Y), int64(pos.Z))
		buf, ok := spill[oct]
		if !ok {
			buf = pointbuffer.New(schema)
			spill[oct] = buf
		}
		buf.AppendFrom(incoming, i)
	}

	// idx now covers existing+bogus post-mutation (the loop above folded
	// in every accepted or bogus-retained incoming point); it is published
	// to the node's descriptor so the query evaluator can prune against it
	// without touching the page cache (see octree.Descriptor.SetAttrs).
	//
	// The attribute index is not itself persisted: it is fully rebuilt
	// from a node's points+bogus buffers (via rebuildIndex, above) every
	// time that node is loaded, so there is nothing for the sidecar's
	// opaque attrSnapshot slot to carry here.
	handle.SetContent(existing, bogus, nil)
	handle.Unlock()

	if d, ok := p.tree.Get(id); ok {
		d.SetAttrs(idx)
	}

	version := p.bumpVersion(id)
	if p.onVersionBump != nil {
		p.onVersionBump(id, version)
	}

	for oct, buf := range spill {
		p.tree.GetOrCreateChild(id, oct)
		childID := id.Child(oct)
		if err := p.enqueueBatch(ctx, childID, buf); err != nil {
			return err
		}
	}
	return nil
}

// fold folds point i of buf into idx, decoding every configured attribute
// from its raw column bytes.
func (p *Pipeline) fold(idx *attrindex.Index, schema pointbuffer.Schema, buf *pointbuffer.Buffer, i int) {
	for _, ac := range p.cfg.AttrConfigs {
		defIdx := schema.IndexOf(ac.Attribute)
		if defIdx < 0 {
			continue
		}
		def := schema.Attributes[defIdx]
		vals := decodeComponents(def, buf.AttrAt(ac.Attribute, i))
		if ac.VectorDims > 0 {
			idx.UpdateVector(ac.Attribute, vals)
		} else {
			idx.UpdateScalar(ac.Attribute, vals[0])
		}
	}
}

// rebuildIndex re-derives the attribute index from scratch over a node's
// existing accepted and bogus points, matching spec §4.6's "summaries are
// re-derived from scratch on split/rewrite" — we do this on every load
// rather than trying to persist and incrementally patch index state,
// since the points themselves are the sole source of truth.
func (p *Pipeline) rebuildIndex(existing, bogus *pointbuffer.Buffer) *attrindex.Index {
	idx := attrindex.New(p.cfg.AttrConfigs)
	for i := 0; i < existing.Len(); i++ {
		p.fold(idx, p.cfg.Schema, existing, i)
	}
	for i := 0; i < bogus.Len(); i++ {
		p.fold(idx, p.cfg.Schema, bogus, i)
	}
	return idx
}

// RebuildIndex re-derives the attribute index for a node loaded from disk,
// for populating Descriptor.SetAttrs at startup before any insertion has
// touched that node in this process.
func (p *Pipeline) RebuildIndex(existing, bogus *pointbuffer.Buffer) *attrindex.Index {
	return p.rebuildIndex(existing, bogus)
}

// bumpVersion increments id's descriptor version, returning the new value.
func (p *Pipeline) bumpVersion(id nodeid.ID) uint64 {
	d, ok := p.tree.Get(id)
	if !ok {
		return 0
	}
	return versionMu.bump(d)
}

// rebuildGrid replays every point of existing into a fresh Grid over
// region, used at the start of each processTask since the grid's
// occupancy is not itself persisted (spec: derived, not stored).
func rebuildGrid(region nodeid.Region, cellWidth int64, existing *pointbuffer.Buffer) *samplinggrid.Grid {
	g := samplinggrid.New(region, cellWidth)
	for i := 0; i < existing.Len(); i++ {
		pos := existing.Positions[i]
		g.TryAccept(g.CellOf(int64(pos.X), int64(pos.Y), int64(pos.Z)))
	}
	return g
}

// versionGuard serialises Descriptor.Version increments; octree.Descriptor
// has no lock of its own since the tree's RWMutex only protects the
// id->descriptor map, not the mutable fields of descriptors already handed
// out to callers.
type versionGuard struct {
	mu sync.Mutex
}

func (v *versionGuard) bump(d *octree.Descriptor) uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	d.Version++
	return d.Version
}

var versionMu versionGuard
