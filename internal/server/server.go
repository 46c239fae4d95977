// Package server wires together the node store, page cache, octree
// skeleton, and insertion pipeline into one running point cloud, and
// drives the wire protocol's connection lifecycle (spec §6) over it.
package server

import (
	"context"
	"net"
	"path/filepath"
	"sync"
	"time"

	"github.com/lidarserv/lidarserv/internal/config"
	"github.com/lidarserv/lidarserv/internal/errs"
	"github.com/lidarserv/lidarserv/internal/logger"
	"github.com/lidarserv/lidarserv/pkg/coordsys"
	"github.com/lidarserv/lidarserv/pkg/insertion"
	"github.com/lidarserv/lidarserv/pkg/nodeid"
	"github.com/lidarserv/lidarserv/pkg/nodestore"
	"github.com/lidarserv/lidarserv/pkg/octree"
	"github.com/lidarserv/lidarserv/pkg/pagecache"
)

// Server owns one open point cloud directory and accepts wire-protocol
// connections against it.
type Server struct {
	dir string
	cfg config.Settings
	cs  coordsys.System

	store    *nodestore.Store
	cache    *pagecache.Cache
	tree     *octree.Tree
	pipeline *insertion.Pipeline
	changed  *changeBroadcaster

	log *logger.Logger

	wg sync.WaitGroup
}

// Open loads settings.json from dir, recovers the octree skeleton from
// the node store's List(), rehydrates every loaded node's attribute-index
// summary (so query pruning is correct from the first connection), and
// builds the insertion pipeline ready for Start.
func Open(dir string) (*Server, error) {
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}

	store, err := nodestore.Open(filepath.Join(dir, "nodes"), cfg.Schema)
	if err != nil {
		return nil, err
	}

	tree := octree.New(cfg.HierarchyShift)
	ids, err := store.List()
	if err != nil {
		return nil, err
	}
	tree.Rebuild(ids)

	cache := pagecache.New(store, cfg.CacheSize)
	changed := newChangeBroadcaster()

	s := &Server{
		dir:     dir,
		cfg:     cfg,
		cs:      coordsys.New(cfg.CoordSysScale, cfg.CoordSysOffset),
		store:   store,
		cache:   cache,
		tree:    tree,
		changed: changed,
		log:     logger.GetGlobalLogger(),
	}

	s.pipeline = insertion.New(cfg.InsertionConfig(), tree, cache, s.onVersionBump)

	if err := s.hydrateAttrIndexes(ids); err != nil {
		return nil, err
	}

	return s, nil
}

// onVersionBump is the insertion pipeline's NotifyFunc: it just wakes
// every viewer's writer goroutine, which re-polls its own subscription
// manager to learn what actually changed (spec §4.10: "triggered by ...
// index mutation notifications ... coalesced into batches" — coalescing
// happens for free here, since a writer blocked in changed.wait only
// wakes once per burst of calls, not once per call).
func (s *Server) onVersionBump(_ nodeid.ID, _ uint64) {
	s.changed.notify()
}

// hydrateAttrIndexes rebuilds and publishes the attribute-index summary
// for every node recovered from disk, using Pipeline.RebuildIndex, so a
// restarted server's first query evaluation prunes correctly without
// waiting for that node to be touched by a fresh insertion in this
// process.
func (s *Server) hydrateAttrIndexes(ids []nodeid.ID) error {
	for _, id := range ids {
		h, err := s.cache.Get(id)
		if err != nil {
			return err
		}
		h.Lock()
		idx := s.pipeline.RebuildIndex(h.Points(), h.Bogus())
		h.Unlock()
		h.Release()

		if d, ok := s.tree.Get(id); ok {
			d.SetAttrs(idx)
		}
	}
	return nil
}

// Tree returns the server's octree skeleton, for the query subcommand's
// read-only evaluator walk.
func (s *Server) Tree() *octree.Tree { return s.tree }

// Cache returns the server's page cache, for the query subcommand to load
// matched nodes' points without going through the insertion pipeline.
func (s *Server) Cache() *pagecache.Cache { return s.cache }

// CoordSys returns the point cloud's coordinate system.
func (s *Server) CoordSys() coordsys.System { return s.cs }

// Settings returns the point cloud's parsed settings.json.
func (s *Server) Settings() config.Settings { return s.cfg }

// quiesceTimeout bounds how long Close waits for in-flight insertions to
// settle before cancelling the worker pool outright. Termination must not
// hang forever on a stuck worker, but it must give a normal-sized inbox
// backlog real time to drain (spec.md:119's "drain all inboxes through the
// worker pool" before flushing the cache).
const quiesceTimeout = 30 * time.Second

// Start launches the insertion worker pool on a context independent of
// anything the caller may cancel for unrelated reasons (e.g. the
// wire-protocol accept loop's SIGINT-triggered ctx): the worker pool's
// lifetime is owned entirely by Close/Stop, so that a shutdown signal
// reaching the accept loop does not also abandon in-flight inbox routing
// before Close gets a chance to Quiesce it.
func (s *Server) Start() {
	s.pipeline.Start(context.Background())
}

// Close implements spec.md:119's termination contract: stop accepting
// (the caller's Serve/Wait sequence has already returned by the time this
// runs), drain all inboxes through the worker pool, join the workers, then
// flush the cache. Quiesce is best-effort and bounded by quiesceTimeout —
// a Quiesce that times out still falls through to Stop so the process can
// exit, it just risks losing whatever didn't finish routing in time.
func (s *Server) Close() {
	qctx, cancel := context.WithTimeout(context.Background(), quiesceTimeout)
	defer cancel()
	if err := s.pipeline.Quiesce(qctx); err != nil {
		s.log.Warn("quiesce timed out before shutdown, stopping workers anyway").Err(err).Send()
	}
	s.pipeline.Stop()
	s.changed.close()
	s.cache.FlushAll()
}

// Serve accepts connections on ln until ctx is cancelled or ln.Accept
// fails, handling each on its own goroutine. It returns once ln stops
// accepting; callers should follow with Wait to drain in-flight
// connections.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		nc, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return errs.Wrap(errs.KindIO, err)
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, nc)
		}()
	}
}

// Wait blocks until every in-flight connection handler has returned.
func (s *Server) Wait() {
	s.wg.Wait()
}
