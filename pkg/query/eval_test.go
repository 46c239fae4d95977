package query

import (
	"testing"

	"github.com/lidarserv/lidarserv/pkg/attrindex"
	"github.com/lidarserv/lidarserv/pkg/coordsys"
	"github.com/lidarserv/lidarserv/pkg/nodeid"
	"github.com/lidarserv/lidarserv/pkg/octree"
	"github.com/lidarserv/lidarserv/pkg/pointbuffer"
)

func testHS() nodeid.HierarchyShift {
	return nodeid.HierarchyShift{LeafCellWidth: 1024, MaxLod: 4, GridCellsPerAxis: 8}
}

func testCS() coordsys.System {
	return coordsys.New([3]float64{1, 1, 1}, [3]float64{0, 0, 0})
}

func testSchema() pointbuffer.Schema {
	return pointbuffer.Schema{Attributes: []pointbuffer.AttrDef{
		{Name: "Classification", Kind: pointbuffer.KindU8, Components: 1},
	}}
}

func TestWalkFullIncludesEveryReservedNode(t *testing.T) {
	tree := octree.New(testHS())
	tree.GetOrCreateChild(nodeid.Root(), 3)

	ev, err := NewEvaluator("full", testCS())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	matches := ev.Walk(tree)
	if len(matches) != 2 {
		t.Fatalf("want 2 matches (root + child), got %d", len(matches))
	}
	for _, m := range matches {
		if !m.Include {
			t.Errorf("full query should Include every node, got %#v", m)
		}
	}
}

func TestWalkEmptyExcludesEverything(t *testing.T) {
	tree := octree.New(testHS())
	tree.GetOrCreateChild(nodeid.Root(), 3)

	ev, err := NewEvaluator("empty", testCS())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if matches := ev.Walk(tree); len(matches) != 0 {
		t.Fatalf("empty query should match nothing, got %d matches", len(matches))
	}
}

func TestWalkLodStopsDescending(t *testing.T) {
	tree := octree.New(testHS())
	child := tree.GetOrCreateChild(nodeid.Root(), 0)
	tree.GetOrCreateChild(child.ID, 0)

	ev, err := NewEvaluator("lod(0)", testCS())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	matches := ev.Walk(tree)
	if len(matches) != 1 {
		t.Fatalf("lod(0) should match only the root, got %d matches: %#v", len(matches), matches)
	}
	if matches[0].ID != nodeid.Root() {
		t.Errorf("want root match, got %v", matches[0].ID)
	}
}

func TestWalkAabbDisjointFromRootPrunesWholeTree(t *testing.T) {
	hs := testHS()
	tree := octree.New(hs)
	child := tree.GetOrCreateChild(nodeid.Root(), 0)
	tree.GetOrCreateChild(child.ID, 0)

	// An aabb entirely past the root's far corner is disjoint from
	// everything, root included.
	far := float64(hs.SideLength(0)) * 10
	ev, err := CompileEvaluator(Aabb{Min: Vec3{far, far, far}, Max: Vec3{far + 1, far + 1, far + 1}}, testCS())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if matches := ev.Walk(tree); len(matches) != 0 {
		t.Fatalf("disjoint aabb should prune everything, got %d matches", len(matches))
	}
}

func TestWalkAabbContainingRootIncludesAll(t *testing.T) {
	hs := testHS()
	tree := octree.New(hs)
	child := tree.GetOrCreateChild(nodeid.Root(), 0)
	tree.GetOrCreateChild(child.ID, 0)

	side := float64(hs.SideLength(0))
	ev, err := CompileEvaluator(Aabb{Min: Vec3{-1, -1, -1}, Max: Vec3{side + 1, side + 1, side + 1}}, testCS())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	matches := ev.Walk(tree)
	if len(matches) != 3 {
		t.Fatalf("containing aabb should include every node, got %d", len(matches))
	}
	for _, m := range matches {
		if !m.Include {
			t.Errorf("fully-contained node should be Include, got %#v", m)
		}
	}
}

func TestAttrPredicateNeverStopsDescent(t *testing.T) {
	tree := octree.New(testHS())
	child := tree.GetOrCreateChild(nodeid.Root(), 0)

	idx := attrindex.New([]attrindex.Config{{Attribute: "Classification", HistogramBins: 8, Domain: [2]float64{0, 32}}})
	idx.UpdateScalar("Classification", 2)
	root, _ := tree.Get(nodeid.Root())
	root.SetAttrs(idx)
	// child has no attribute summary yet (never processed)

	ev, err := NewEvaluator("attr(Classification==99)", testCS())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	matches := ev.Walk(tree)
	if len(matches) != 0 {
		t.Fatalf("root should be excluded by its own summary, and its child visited but also excluded (no attrs); got %d matches: %#v", len(matches), matches)
	}

	// Give the child a summary that admits the value: the walk must still
	// reach it below the excluded root.
	childIdx := attrindex.New([]attrindex.Config{{Attribute: "Classification", HistogramBins: 8, Domain: [2]float64{0, 32}}})
	childIdx.UpdateScalar("Classification", 99)
	child.SetAttrs(childIdx)
	matches = ev.Walk(tree)
	if len(matches) != 1 || matches[0].ID != child.ID {
		t.Fatalf("an excluded root must not stop descent to a matching child; got %d matches: %#v", len(matches), matches)
	}
}

func TestAttrPredicatePartialCarriesPointFilter(t *testing.T) {
	tree := octree.New(testHS())

	idx := attrindex.New([]attrindex.Config{{Attribute: "Classification", HistogramBins: 8, Domain: [2]float64{0, 32}}})
	idx.UpdateScalar("Classification", 2)
	idx.UpdateScalar("Classification", 9)
	root, _ := tree.Get(nodeid.Root())
	root.SetAttrs(idx)

	ev, err := NewEvaluator("attr(Classification==2)", testCS())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	matches := ev.Walk(tree)
	if len(matches) != 1 {
		t.Fatalf("want 1 match, got %d", len(matches))
	}
	m := matches[0]
	if m.Include || m.Filter == nil {
		t.Fatalf("want a filtered Partial match, got %#v", m)
	}

	buf := pointbuffer.New(testSchema())
	buf.Append(coordsys.Local{}, map[string][]byte{"Classification": {2}})
	buf.Append(coordsys.Local{}, map[string][]byte{"Classification": {9}})
	if !m.Filter(buf, 0) {
		t.Error("point with Classification==2 should pass the filter")
	}
	if m.Filter(buf, 1) {
		t.Error("point with Classification==9 should not pass the filter")
	}
}

func TestNotFlipsIncludeExclude(t *testing.T) {
	tree := octree.New(testHS())

	ev, err := NewEvaluator("!empty", testCS())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	matches := ev.Walk(tree)
	if len(matches) != 1 || !matches[0].Include {
		t.Fatalf("!empty should Include the root, got %#v", matches)
	}
}

func TestAndExcludesWhenEitherSideExcludes(t *testing.T) {
	tree := octree.New(testHS())

	ev, err := NewEvaluator("full and empty", testCS())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if matches := ev.Walk(tree); len(matches) != 0 {
		t.Fatalf("full and empty should match nothing, got %d", len(matches))
	}
}

func TestOrIncludesWhenEitherSideIncludes(t *testing.T) {
	tree := octree.New(testHS())

	ev, err := NewEvaluator("empty or full", testCS())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	matches := ev.Walk(tree)
	if len(matches) != 1 || !matches[0].Include {
		t.Fatalf("empty or full should Include the root, got %#v", matches)
	}
}
