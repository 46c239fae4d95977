// Package samplinggrid implements the per-node occupancy grid that bounds
// point density at each LOD (spec §4.5). It is deliberately a separate type
// from the attribute index (pkg/attrindex) even though both are "per-node
// summaries" — the original implementation keeps a grid-cell directory
// distinct from attribute bounds/histograms, and we follow that module
// boundary.
package samplinggrid

import "github.com/lidarserv/lidarserv/pkg/nodeid"

// Cell is a grid cell's integer coordinates, relative to its node's
// region origin.
type Cell [3]int64

// Grid is one node's sampling grid: a G×G×G subdivision of the node's
// region, tracking which cells already hold an accepted point.
type Grid struct {
	region    nodeid.Region
	cellWidth int64
	occupied  map[Cell]struct{}
}

// New creates an empty grid over region, with the given cell width (in
// local coordinate units — spec §4.5 requires this to be a power of two
// dividing the region's side length).
func New(region nodeid.Region, cellWidth int64) *Grid {
	return &Grid{region: region, cellWidth: cellWidth, occupied: make(map[Cell]struct{})}
}

// Size returns G, the number of cells along one axis.
func (g *Grid) Size() int64 {
	return (g.region.Max[0] - g.region.Min[0]) / g.cellWidth
}

// CellOf computes the grid cell containing local coordinates (x,y,z),
// which must lie within g's region.
func (g *Grid) CellOf(x, y, z int64) Cell {
	return Cell{
		(x - g.region.Min[0]) / g.cellWidth,
		(y - g.region.Min[1]) / g.cellWidth,
		(z - g.region.Min[2]) / g.cellWidth,
	}
}

// IsOccupied reports whether a point already occupies cell.
func (g *Grid) IsOccupied(cell Cell) bool {
	_, ok := g.occupied[cell]
	return ok
}

// TryAccept reports whether a point landing in cell would be accepted
// (the cell is currently free) and, if so, marks the cell occupied.
// Ties are broken by insertion order: the first caller to reach a free
// cell wins, matching spec §4.5 ("earlier wins").
func (g *Grid) TryAccept(cell Cell) bool {
	if g.IsOccupied(cell) {
		return false
	}
	g.occupied[cell] = struct{}{}
	return true
}

// Release clears a cell's occupancy.
func (g *Grid) Release(cell Cell) {
	delete(g.occupied, cell)
}

// Len returns the number of currently-occupied cells.
func (g *Grid) Len() int { return len(g.occupied) }

// Reset clears all occupancy.
func (g *Grid) Reset() { g.occupied = make(map[Cell]struct{}) }
