package nodeid

import "testing"

func TestChildParentRoundTrip(t *testing.T) {
	root := Root()
	n1 := root.Child(5)
	n2 := n1.Child(2)
	n3 := n2.Child(7)

	if n3.Lod != 3 {
		t.Fatalf("want lod 3, got %d", n3.Lod)
	}
	if got := n3.Octant(0); got != 5 {
		t.Errorf("octant 0: want 5 got %d", got)
	}
	if got := n3.Octant(1); got != 2 {
		t.Errorf("octant 1: want 2 got %d", got)
	}
	if got := n3.Octant(2); got != 7 {
		t.Errorf("octant 2: want 7 got %d", got)
	}

	p2, ok := n3.Parent()
	if !ok || p2 != n2 {
		t.Errorf("parent of n3 should equal n2, got %v ok=%v", p2, ok)
	}
	p1, ok := p2.Parent()
	if !ok || p1 != n1 {
		t.Errorf("parent of n2 should equal n1, got %v ok=%v", p1, ok)
	}
	p0, ok := p1.Parent()
	if !ok || p0 != root {
		t.Errorf("parent of n1 should equal root, got %v ok=%v", p0, ok)
	}
	if _, ok := root.Parent(); ok {
		t.Error("root should have no parent")
	}
}

func TestSiblingsSharePrefix(t *testing.T) {
	root := Root()
	parent := root.Child(3).Child(1)
	for oct := uint8(0); oct < 8; oct++ {
		child := parent.Child(oct)
		for l := 0; l < int(parent.Lod); l++ {
			if child.Octant(l) != parent.Octant(l) {
				t.Fatalf("child octant %d level %d diverges from parent", oct, l)
			}
		}
		if child.Octant(int(parent.Lod)) != oct {
			t.Fatalf("child octant %d: last level mismatch", oct)
		}
	}
}

func TestIsAncestorOf(t *testing.T) {
	root := Root()
	a := root.Child(1)
	b := a.Child(4)
	if !root.IsAncestorOf(a) || !root.IsAncestorOf(b) || !a.IsAncestorOf(b) {
		t.Error("expected ancestor relationships to hold")
	}
	if b.IsAncestorOf(a) || a.IsAncestorOf(a) {
		t.Error("unexpected ancestor relationship")
	}
	c := root.Child(2)
	if a.IsAncestorOf(c) {
		t.Error("siblings should not be ancestors of each other")
	}
}

func TestRegionNesting(t *testing.T) {
	hs := HierarchyShift{LeafCellWidth: 1, MaxLod: 4}
	root := Root()
	rootRegion := RegionOf(root, hs)
	if rootRegion.Min != [3]int64{0, 0, 0} {
		t.Fatalf("unexpected root min: %v", rootRegion.Min)
	}
	wantSide := hs.SideLength(0)
	if rootRegion.Max[0]-rootRegion.Min[0] != wantSide {
		t.Fatalf("unexpected root side length: %v", rootRegion)
	}

	for oct := uint8(0); oct < 8; oct++ {
		child := root.Child(oct)
		cr := RegionOf(child, hs)
		// child region must be strictly contained in the parent region (spec invariant 4)
		for axis := 0; axis < 3; axis++ {
			if cr.Min[axis] < rootRegion.Min[axis] || cr.Max[axis] > rootRegion.Max[axis] {
				t.Fatalf("child region %v escapes parent %v", cr, rootRegion)
			}
			if cr.Max[axis]-cr.Min[axis] >= rootRegion.Max[axis]-rootRegion.Min[axis] {
				t.Fatalf("child region %v not strictly smaller than parent %v", cr, rootRegion)
			}
		}
		if ChildRegion(rootRegion, oct) != cr {
			t.Errorf("ChildRegion disagrees with RegionOf for octant %d: %v vs %v", oct, ChildRegion(rootRegion, oct), cr)
		}
	}
}

func TestChildOctantBoundaryGoesToLowerChild(t *testing.T) {
	hs := HierarchyShift{LeafCellWidth: 1, MaxLod: 1}
	region := RegionOf(Root(), hs)
	mid := region.Mid()
	oct := ChildOctant(region, mid[0], mid[1], mid[2])
	if oct != 0 {
		t.Errorf("point exactly on boundary should route to octant 0 (lower child), got %d", oct)
	}
}
