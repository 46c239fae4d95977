// LidarServ point cloud server.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/lidarserv/lidarserv/internal/config"
	"github.com/lidarserv/lidarserv/internal/errs"
	"github.com/lidarserv/lidarserv/internal/logger"
	"github.com/lidarserv/lidarserv/internal/server"
	"github.com/lidarserv/lidarserv/pkg/attrindex"
	"github.com/lidarserv/lidarserv/pkg/insertion"
	"github.com/lidarserv/lidarserv/pkg/nodeid"
	"github.com/lidarserv/lidarserv/pkg/nodestore"
	"github.com/lidarserv/lidarserv/pkg/pointbuffer"
	"github.com/lidarserv/lidarserv/pkg/query"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "init":
		err = runInit(os.Args[2:])
	case "serve":
		err = runServe(os.Args[2:])
	case "query":
		err = runQuery(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "lidarserv-server: %v\n", err)
		os.Exit(errs.ExitCode(err))
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: lidarserv-server <init|serve|query> [flags]")
}

// runInit writes a fresh settings.json into --dir, with the default
// schema/hierarchy/priority knobs a capture session can refine later by
// hand-editing the file (spec §6: "written once at init, mutated by
// editing").
func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	dir := fs.String("dir", ".", "point cloud directory to initialise")
	leafCellWidth := fs.Int64("leaf-cell-width", 1024, "leaf node sampling-grid cell width, in local units (power of two)")
	maxLod := fs.Int("max-lod", 10, "deepest LOD level")
	gridCellsPerAxis := fs.Int64("grid-cells-per-axis", 128, "sampling-grid cells per axis (power of two)")
	scale := fs.Float64("scale", 0.001, "uniform coordinate scale (local = round((global-offset)/scale))")
	cacheSize := fs.Int("cache-size", 4096, "page cache size, in nodes")
	workers := fs.Int("workers", 4, "insertion worker pool size")
	pressure := fs.Int64("target-point-pressure", 1_000_000, "max points buffered across all node inboxes at once")
	bogusCap := fs.Int("bogus-cap", 4096, "default bogus-point cap per node")
	if err := fs.Parse(args); err != nil {
		return err
	}

	settings := config.Settings{
		Schema: pointbuffer.Schema{Attributes: []pointbuffer.AttrDef{
			{Name: "Intensity", Kind: pointbuffer.KindU16, Components: 1},
			{Name: "Classification", Kind: pointbuffer.KindU8, Components: 1},
		}},
		CoordSysScale:  [3]float64{*scale, *scale, *scale},
		CoordSysOffset: [3]float64{0, 0, 0},
		HierarchyShift: nodeid.HierarchyShift{
			LeafCellWidth:    *leafCellWidth,
			MaxLod:           uint8(*maxLod),
			GridCellsPerAxis: *gridCellsPerAxis,
		},
		Priority:       insertion.NrPointsWeightedByTaskAge,
		PriorityWeight: 1.0,
		CacheSize:      *cacheSize,
		BogusCap:       *bogusCap,
		InnerBogusCap:  -1,
		LeafBogusCap:   -1,
		AttrConfigs: []attrindex.Config{
			{Attribute: "Classification", HistogramBins: 32, Domain: [2]float64{0, 255}},
		},
		Workers:             *workers,
		TargetPointPressure: *pressure,
	}

	if err := config.Save(*dir, settings); err != nil {
		return err
	}
	fmt.Printf("initialised point cloud at %s\n", *dir)
	return nil
}

// runServe opens an already-initialised point cloud directory and serves
// the wire protocol on --port until interrupted.
func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	dir := fs.String("dir", ".", "point cloud directory (must already be initialised with init)")
	port := fs.Int("port", 4567, "TCP port to listen on")
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn, error")
	pretty := fs.Bool("log-pretty", true, "pretty-print logs for a terminal")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger.InitGlobalLogger(logger.Config{Level: *logLevel, Pretty: *pretty})
	lg := logger.GetGlobalLogger()
	lg.LogServerStart(*port, *dir)

	srv, err := server.Open(*dir)
	if err != nil {
		return err
	}
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv.Start()

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", *port))
	if err != nil {
		return errs.Wrap(errs.KindIO, err)
	}
	lg.LogServerReady(*port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		lg.LogServerShutdown()
		cancel()
	}()

	serveErr := srv.Serve(ctx, ln)
	srv.Wait()
	return serveErr
}

// runQuery evaluates a textual query (spec §6's query language grammar)
// directly against an on-disk point cloud directory — no running server
// or wire connection involved, since the wire protocol's Query message
// only carries the aabb/view_frustum subset of this grammar (attr/not/
// and/or/full/empty have no wire representation). Matching nodes' points
// are merged and written out as one LAS file, mirroring the original
// query tool's one-file-per-invocation output.
func runQuery(args []string) error {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	dir := fs.String("dir", ".", "point cloud directory to query")
	outfile := fs.String("outfile", "", "output LAS file (default: stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("query: expected exactly one query-language argument, got %d", fs.NArg())
	}
	queryStr := fs.Arg(0)

	srv, err := server.Open(*dir)
	if err != nil {
		return err
	}
	defer srv.Close()

	eval, err := query.NewEvaluator(queryStr, srv.CoordSys())
	if err != nil {
		return err
	}

	schema := srv.Settings().Schema
	merged := pointbuffer.New(schema)
	for _, m := range eval.Walk(srv.Tree()) {
		h, err := srv.Cache().Get(m.ID)
		if err != nil {
			return err
		}
		h.Lock()
		pts := h.Points()
		h.Unlock()

		if !m.Include && m.Filter != nil {
			pts = pts.Select(func(i int) bool { return m.Filter(pts, i) })
		}
		merged.Extend(pts)
		h.Release()
	}

	if *outfile != "" {
		return nodestore.WriteLAS(*outfile, schema, merged)
	}
	return writeLASToStdout(schema, merged)
}

// writeLASToStdout spills the result to a named temp file (lidario only
// writes to a path), streams it to stdout, and removes the file on return.
func writeLASToStdout(schema pointbuffer.Schema, points *pointbuffer.Buffer) error {
	tmp, err := os.CreateTemp("", "lidarserv-query-*.las")
	if err != nil {
		return errs.Wrap(errs.KindIO, err)
	}
	path := tmp.Name()
	tmp.Close()
	defer os.Remove(path)

	if err := nodestore.WriteLAS(path, schema, points); err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return errs.Wrap(errs.KindIO, err)
	}
	defer f.Close()
	if _, err := io.Copy(os.Stdout, f); err != nil {
		return errs.Wrap(errs.KindIO, err)
	}
	return nil
}
