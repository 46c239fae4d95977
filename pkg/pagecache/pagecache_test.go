package pagecache

import (
	"os"
	"testing"

	"github.com/lidarserv/lidarserv/pkg/coordsys"
	"github.com/lidarserv/lidarserv/pkg/nodeid"
	"github.com/lidarserv/lidarserv/pkg/nodestore"
	"github.com/lidarserv/lidarserv/pkg/pointbuffer"
)

func testSchema() pointbuffer.Schema {
	return pointbuffer.Schema{Attributes: []pointbuffer.AttrDef{
		{Name: "Classification", Kind: pointbuffer.KindU8, Components: 1},
	}}
}

func newTestCache(t *testing.T, maxEntries int) (*Cache, *nodestore.Store) {
	dir, err := os.MkdirTemp("", "pagecache")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	store, err := nodestore.Open(dir, testSchema())
	if err != nil {
		t.Fatal(err)
	}
	return New(store, maxEntries), store
}

func TestGetOrCreateThenWriteBackOnEvict(t *testing.T) {
	cache, store := newTestCache(t, 1)
	schema := testSchema()

	id := nodeid.Root()
	h, err := cache.GetOrCreate(id, schema)
	if err != nil {
		t.Fatal(err)
	}
	h.Lock()
	pts := pointbuffer.New(schema)
	pts.Append(coordsys.Local{X: 1}, map[string][]byte{"Classification": {7}})
	h.SetContent(pts, pointbuffer.New(schema), nil)
	h.Unlock()
	h.Release()

	// Force eviction of the only slot by loading a second, distinct node.
	other := nodeid.Root().Child(1)
	h2, err := cache.GetOrCreate(other, schema)
	if err != nil {
		t.Fatal(err)
	}
	h2.Release()

	gotPoints, _, _, err := store.Read(id)
	if err != nil {
		t.Fatalf("expected evicted dirty node to have been flushed to disk: %v", err)
	}
	if gotPoints.Len() != 1 {
		t.Fatalf("want 1 point flushed, got %d", gotPoints.Len())
	}
}

func TestPinnedEntryNotEvicted(t *testing.T) {
	cache, _ := newTestCache(t, 1)
	schema := testSchema()

	id := nodeid.Root()
	h, err := cache.GetOrCreate(id, schema)
	if err != nil {
		t.Fatal(err)
	}
	// id stays pinned (no Release) while we load a second node.
	other := nodeid.Root().Child(2)
	h2, err := cache.GetOrCreate(other, schema)
	if err != nil {
		t.Fatal(err)
	}
	if cache.Len() != 2 {
		t.Fatalf("pinned entry should not have been evicted even over budget: len=%d", cache.Len())
	}
	h.Release()
	h2.Release()
}

func TestConcurrentGetCoalesces(t *testing.T) {
	cache, _ := newTestCache(t, 4)
	schema := testSchema()
	id := nodeid.Root()

	h1, err := cache.GetOrCreate(id, schema)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := cache.GetOrCreate(id, schema)
	if err != nil {
		t.Fatal(err)
	}
	if h1.e != h2.e {
		t.Error("two Gets of the same id should share one underlying entry")
	}
	h1.Release()
	h2.Release()
}
