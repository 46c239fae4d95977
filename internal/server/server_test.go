package server

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/lidarserv/lidarserv/internal/config"
	"github.com/lidarserv/lidarserv/pkg/attrindex"
	"github.com/lidarserv/lidarserv/pkg/coordsys"
	"github.com/lidarserv/lidarserv/pkg/insertion"
	"github.com/lidarserv/lidarserv/pkg/nodeid"
	"github.com/lidarserv/lidarserv/pkg/pointbuffer"
)

func testSettings() config.Settings {
	return config.Settings{
		Schema: pointbuffer.Schema{Attributes: []pointbuffer.AttrDef{
			{Name: "Intensity", Kind: pointbuffer.KindU16, Components: 1},
		}},
		CoordSysScale:  [3]float64{1, 1, 1},
		CoordSysOffset: [3]float64{0, 0, 0},
		HierarchyShift: nodeid.HierarchyShift{LeafCellWidth: 1, MaxLod: 2, GridCellsPerAxis: 4},
		Priority:       insertion.NrPointsWeightedByTaskAge,
		PriorityWeight: 1.0,
		CacheSize:      64,
		BogusCap:       4,
		InnerBogusCap:  -1,
		LeafBogusCap:   -1,
		AttrConfigs: []attrindex.Config{
			{Attribute: "Intensity", HistogramBins: 4, Domain: [2]float64{0, 65535}},
		},
		Workers:             2,
		TargetPointPressure: 1000,
	}
}

func u16le(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

func testPoint(schema pointbuffer.Schema, x, y, z int32, intensity uint16) *pointbuffer.Buffer {
	b := pointbuffer.New(schema)
	b.Append(coordsys.Local{X: x, Y: y, Z: z}, map[string][]byte{"Intensity": u16le(intensity)})
	return b
}

func TestOpenOnFreshDirectoryStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	settings := testSettings()
	if err := config.Save(dir, settings); err != nil {
		t.Fatal(err)
	}

	srv, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	if srv.Tree().Count() != 1 { // root descriptor always exists
		t.Errorf("got %d reserved nodes, want 1 (root only)", srv.Tree().Count())
	}
	if got := srv.Settings().Schema.IndexOf("Intensity"); got < 0 {
		t.Error("Settings() did not round-trip the schema")
	}
}

func TestInsertAndHydrateAfterRestart(t *testing.T) {
	dir := t.TempDir()
	settings := testSettings()
	if err := config.Save(dir, settings); err != nil {
		t.Fatal(err)
	}

	srv, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	srv.Start()

	if err := srv.pipeline.Insert(ctx, testPoint(settings.Schema, 0, 0, 0, 123)); err != nil {
		t.Fatal(err)
	}
	if err := srv.pipeline.Quiesce(ctx); err != nil {
		t.Fatal(err)
	}
	srv.Close()

	// Reopening must recover the node from disk and rehydrate its
	// attribute-index summary without any fresh insertion.
	srv2, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer srv2.Close()

	root, ok := srv2.Tree().Get(nodeid.Root())
	if !ok {
		t.Fatal("root descriptor missing after restart")
	}
	if root.Attrs() == nil {
		t.Error("hydrateAttrIndexes did not populate the root's attribute-index summary")
	}

	h, err := srv2.Cache().Get(nodeid.Root())
	if err != nil {
		t.Fatal(err)
	}
	h.Lock()
	n := h.Points().Len()
	h.Unlock()
	h.Release()
	if n != 1 {
		t.Errorf("got %d points recovered at root, want 1", n)
	}
}

func TestOnVersionBumpWakesBroadcaster(t *testing.T) {
	dir := t.TempDir()
	settings := testSettings()
	if err := config.Save(dir, settings); err != nil {
		t.Fatal(err)
	}

	srv, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	srv.Start()
	defer srv.Close()

	done := make(chan struct{})
	go func() {
		srv.changed.wait(0)
		close(done)
	}()

	if err := srv.pipeline.Insert(ctx, testPoint(settings.Schema, 0, 0, 0, 1)); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("insertion never woke the change broadcaster")
	}
}
