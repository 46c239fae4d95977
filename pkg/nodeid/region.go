package nodeid

// HierarchyShift carries the three parameters that turn a bare octant path
// into a concrete cube of local-coordinate space: the sampling grid's cell
// width at the finest configured LOD, how many LODs deep the tree goes, and
// how many grid cells span a node along each axis.
// Every coarser LOD's cell is twice the width of the next finer one.
type HierarchyShift struct {
	// LeafCellWidth is the sampling grid cell width, in local coordinate
	// units, at MaxLod. Must be a power of two.
	LeafCellWidth int64
	// MaxLod is the finest LOD the hierarchy is configured for.
	MaxLod uint8
	// GridCellsPerAxis is G, the sampling grid resolution every node is
	// subdivided into regardless of LOD (spec §4.5's G×G×G grid). Must be
	// a power of two; defaults to 1 (a node holds exactly one point) when
	// left zero, which keeps older, grid-resolution-agnostic call sites
	// such as octree's bookkeeping tests well-defined.
	GridCellsPerAxis int64
}

func (hs HierarchyShift) gridCells() int64 {
	if hs.GridCellsPerAxis <= 0 {
		return 1
	}
	return hs.GridCellsPerAxis
}

// CellWidth returns the sampling grid's cell width at the given LOD —
// spec §4.5: "each deeper LOD halves the cell width".
func (hs HierarchyShift) CellWidth(lod uint8) int64 {
	return hs.LeafCellWidth << (hs.MaxLod - lod)
}

// SideLength returns the side length, in local coordinate units, of a
// node's cubic region at the given LOD: its cell width times the grid
// resolution, since G is held constant across LODs.
func (hs HierarchyShift) SideLength(lod uint8) int64 {
	return hs.CellWidth(lod) * hs.gridCells()
}

// GridSize returns the sampling grid resolution (cells per axis) a node at
// any LOD is subdivided into — constant across LODs for a uniform
// hierarchy.
func (hs HierarchyShift) GridSize(lod uint8) int64 {
	return hs.gridCells()
}

// Region is the axis-aligned cube [Min, Max) in local coordinates that a
// node's id addresses.
type Region struct {
	Min, Max [3]int64
}

// Contains64 reports whether local (given as an int64 triple, to allow
// comparison with Region math without re-truncating to int32) lies in the
// half-open region.
func (r Region) Contains64(x, y, z int64) bool {
	return x >= r.Min[0] && x < r.Max[0] &&
		y >= r.Min[1] && y < r.Max[1] &&
		z >= r.Min[2] && z < r.Max[2]
}

// Mid returns the region's midpoint on each axis, the boundary used to
// route a point to one of the region's eight children.
func (r Region) Mid() [3]int64 {
	return [3]int64{
		r.Min[0] + (r.Max[0]-r.Min[0])/2,
		r.Min[1] + (r.Max[1]-r.Min[1])/2,
		r.Min[2] + (r.Max[2]-r.Min[2])/2,
	}
}

// RegionOf computes id's region within a tree shaped by hs, with the root
// node's region anchored at the local-coordinate origin.
func RegionOf(id ID, hs HierarchyShift) Region {
	side := hs.SideLength(0)
	min := [3]int64{0, 0, 0}
	for level := 0; level < int(id.Lod); level++ {
		half := side / 2
		oct := id.Octant(level)
		if oct&0b100 != 0 {
			min[0] += half
		}
		if oct&0b010 != 0 {
			min[1] += half
		}
		if oct&0b001 != 0 {
			min[2] += half
		}
		side = half
	}
	return Region{Min: min, Max: [3]int64{min[0] + side, min[1] + side, min[2] + side}}
}

// ChildOctant determines, for a point at local coordinates (x,y,z) known to
// lie within region, which of the region's eight children it belongs to.
// A point exactly on the midpoint boundary is routed to the
// lexicographically-least-coordinate child (spec §8 boundary rule), so the
// comparison is strict greater-than.
func ChildOctant(region Region, x, y, z int64) uint8 {
	mid := region.Mid()
	var oct uint8
	if x > mid[0] {
		oct |= 0b100
	}
	if y > mid[1] {
		oct |= 0b010
	}
	if z > mid[2] {
		oct |= 0b001
	}
	return oct
}

// ChildRegion returns the sub-region of region addressed by octant,
// without needing a full id — used by the sampling grid and the
// insertion pipeline's routing step.
func ChildRegion(region Region, octant uint8) Region {
	mid := region.Mid()
	min := region.Min
	max := region.Max
	if octant&0b100 != 0 {
		min[0] = mid[0]
	} else {
		max[0] = mid[0]
	}
	if octant&0b010 != 0 {
		min[1] = mid[1]
	} else {
		max[1] = mid[1]
	}
	if octant&0b001 != 0 {
		min[2] = mid[2]
	} else {
		max[2] = mid[2]
	}
	return Region{Min: min, Max: max}
}
