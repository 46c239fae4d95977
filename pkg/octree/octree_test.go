package octree

import (
	"testing"

	"github.com/lidarserv/lidarserv/pkg/nodeid"
)

func testHS() nodeid.HierarchyShift { return nodeid.HierarchyShift{LeafCellWidth: 1, MaxLod: 8} }

func TestGetOrCreateChildSetsMask(t *testing.T) {
	tree := New(testHS())
	root, _ := tree.Get(nodeid.Root())
	if root.ChildrenMask != 0 {
		t.Fatal("fresh root should have no children")
	}
	child := tree.GetOrCreateChild(nodeid.Root(), 3)
	if !root.HasChild(3) {
		t.Error("root should report octant 3 as existing after GetOrCreateChild")
	}
	if child.ID != nodeid.Root().Child(3) {
		t.Errorf("unexpected child id: %v", child.ID)
	}

	again := tree.GetOrCreateChild(nodeid.Root(), 3)
	if again != child {
		t.Error("GetOrCreateChild should return the same descriptor on repeat calls")
	}
}

func TestChildrenOrdering(t *testing.T) {
	tree := New(testHS())
	tree.GetOrCreateChild(nodeid.Root(), 5)
	tree.GetOrCreateChild(nodeid.Root(), 1)
	children := tree.Children(nodeid.Root())
	if len(children) != 2 {
		t.Fatalf("want 2 children, got %d", len(children))
	}
	if children[0].ID.Octant(0) != 1 || children[1].ID.Octant(0) != 5 {
		t.Errorf("expected octant order 1,5, got %d,%d", children[0].ID.Octant(0), children[1].ID.Octant(0))
	}
}

func TestRebuildReservesAncestors(t *testing.T) {
	tree := New(testHS())
	deep := nodeid.Root().Child(2).Child(6).Child(1)
	tree.Rebuild([]nodeid.ID{deep})

	if !tree.Exists(deep) {
		t.Fatal("deep node should exist after Rebuild")
	}
	mid, _ := deep.Parent()
	if !tree.Exists(mid) {
		t.Fatal("intermediate ancestor should exist after Rebuild")
	}
	if !tree.Exists(nodeid.Root()) {
		t.Fatal("root should exist after Rebuild")
	}

	root, _ := tree.Get(nodeid.Root())
	if !root.HasChild(2) {
		t.Error("root's children mask should include octant 2 after Rebuild")
	}
}
