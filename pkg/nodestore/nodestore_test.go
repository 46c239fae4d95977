package nodestore

import (
	"os"
	"testing"

	"github.com/lidarserv/lidarserv/pkg/coordsys"
	"github.com/lidarserv/lidarserv/pkg/nodeid"
	"github.com/lidarserv/lidarserv/pkg/pointbuffer"
)

func testSchema() pointbuffer.Schema {
	return pointbuffer.Schema{Attributes: []pointbuffer.AttrDef{
		{Name: "Intensity", Kind: pointbuffer.KindU16, Components: 1},
		{Name: "Classification", Kind: pointbuffer.KindU8, Components: 1},
	}}
}

func TestWriteReadRoundTrip(t *testing.T) {
	dir, err := os.MkdirTemp("", "nodestore")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	schema := testSchema()
	store, err := Open(dir, schema)
	if err != nil {
		t.Fatal(err)
	}

	points := pointbuffer.New(schema)
	points.Append(coordsys.Local{X: 1, Y: 2, Z: 3}, map[string][]byte{
		"Intensity":      {0x10, 0x00},
		"Classification": {26},
	})
	bogus := pointbuffer.New(schema)
	bogus.Append(coordsys.Local{X: 4, Y: 5, Z: 6}, map[string][]byte{
		"Intensity":      {0x20, 0x00},
		"Classification": {2},
	})

	id := nodeid.Root().Child(3)
	if err := store.Write(id, points, bogus, []byte("attr-snapshot")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	gotPoints, gotBogus, gotSnapshot, err := store.Read(id)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if gotPoints.Len() != 1 || gotBogus.Len() != 1 {
		t.Fatalf("unexpected lengths: points=%d bogus=%d", gotPoints.Len(), gotBogus.Len())
	}
	if gotPoints.Positions[0] != (coordsys.Local{X: 1, Y: 2, Z: 3}) {
		t.Errorf("unexpected point position: %v", gotPoints.Positions[0])
	}
	if string(gotSnapshot) != "attr-snapshot" {
		t.Errorf("unexpected attr snapshot: %q", gotSnapshot)
	}
}

func TestReadMissingNode(t *testing.T) {
	dir, err := os.MkdirTemp("", "nodestore")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	store, err := Open(dir, testSchema())
	if err != nil {
		t.Fatal(err)
	}
	_, _, _, err = store.Read(nodeid.Root())
	if err == nil {
		t.Fatal("expected error reading a node that was never written")
	}
}

func TestList(t *testing.T) {
	dir, err := os.MkdirTemp("", "nodestore")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	schema := testSchema()
	store, err := Open(dir, schema)
	if err != nil {
		t.Fatal(err)
	}
	empty := pointbuffer.New(schema)
	ids := []nodeid.ID{nodeid.Root(), nodeid.Root().Child(1), nodeid.Root().Child(1).Child(5)}
	for _, id := range ids {
		if err := store.Write(id, empty, empty, nil); err != nil {
			t.Fatalf("Write(%v): %v", id, err)
		}
	}

	listed, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(listed) != len(ids) {
		t.Fatalf("want %d ids, got %d: %v", len(ids), len(listed), listed)
	}
	seen := map[nodeid.ID]bool{}
	for _, id := range listed {
		seen[id] = true
	}
	for _, id := range ids {
		if !seen[id] {
			t.Errorf("List missing id %v", id)
		}
	}
}
