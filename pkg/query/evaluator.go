package query

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/lidarserv/lidarserv/pkg/coordsys"
	"github.com/lidarserv/lidarserv/pkg/nodeid"
	"github.com/lidarserv/lidarserv/pkg/octree"
)

// Evaluator is a compiled query, ready to be walked against an octree
// snapshot (spec §4.9).
type Evaluator struct {
	pred predicate
}

// NewEvaluator parses and compiles a textual query against cs.
func NewEvaluator(src string, cs coordsys.System) (*Evaluator, error) {
	ast, err := Parse(src)
	if err != nil {
		return nil, err
	}
	return CompileEvaluator(ast, cs)
}

// CompileEvaluator compiles an already-parsed Expr (used by the wire
// layer, which builds Expr directly from AabbQuery/ViewFrustumQuery
// messages rather than round-tripping through the textual grammar).
func CompileEvaluator(ast Expr, cs coordsys.System) (*Evaluator, error) {
	p, err := Compile(ast, cs)
	if err != nil {
		return nil, err
	}
	return &Evaluator{pred: p}, nil
}

// CompileMatrixFrustum compiles a view-frustum query expressed as an
// already-composed view-projection matrix pair — the form the wire
// protocol's ViewFrustumQuery carries, the client having built and
// verified it with ComposeAndVerify itself, as opposed to the textual
// grammar's camera-pose ViewFrustum (compiled via Compile/Evaluate).
func CompileMatrixFrustum(viewProjection, viewProjectionInv [16]float64, windowWidthPixels, minDistancePixels float64, cs coordsys.System) *Evaluator {
	vp := mgl64.Mat4(viewProjection)
	pred := viewFrustumPred{
		fm: frustumMatrices{
			viewProjection:    vp,
			viewProjectionInv: mgl64.Mat4(viewProjectionInv),
			planes:            extractPlanes(vp),
		},
		cs:               cs,
		clipMaxPointDist: minDistancePixels / windowWidthPixels * 2.0,
		lod0Spacing:      cs.MaxHalfScale() * 2,
	}
	return &Evaluator{pred: pred}
}

// Match is one node the evaluator selected: either Include (emit the
// node's points unfiltered) or Partial (emit filtered through Filter, or
// as-is if Filter is nil).
type Match struct {
	ID      nodeid.ID
	Version uint64
	Include bool // true: every point matches; false: Filter (possibly nil) decides
	Filter  PointFilter
}

// Walk evaluates the query against every reserved node in tree, depth
// first from the root, visiting existing children in deterministic octant
// order (0..7), and returns every node that isn't
// fully excluded. It touches only the in-memory octree skeleton — never
// the page cache — so pruned subtrees never pay for a disk read (spec §8
// test S3).
//
// The returned sequence is deterministic for a fixed tree snapshot and
// query (spec §4.9: "MUST produce a deterministic, reproducible sequence
// of node ids").
func (e *Evaluator) Walk(tree *octree.Tree) []Match {
	var out []Match
	root, ok := tree.Get(nodeid.Root())
	if !ok {
		return out
	}
	e.walkNode(tree, root, &out)
	return out
}

func (e *Evaluator) walkNode(tree *octree.Tree, d *octree.Descriptor, out *[]Match) {
	ctx := &nodeCtx{id: d.ID, region: tree.RegionOf(d.ID), attrs: d.Attrs()}
	res := e.pred.evaluate(ctx)

	switch res.decision {
	case Exclude:
		if res.stopDescent {
			return
		}
	case Include:
		*out = append(*out, Match{ID: d.ID, Version: d.Version, Include: true})
	case Partial:
		if res.pointLevel {
			*out = append(*out, Match{ID: d.ID, Version: d.Version, Include: false, Filter: res.filter})
		} else {
			*out = append(*out, Match{ID: d.ID, Version: d.Version, Include: true})
		}
	}

	// stopDescent on an Include (e.g. view_frustum's density bound already
	// satisfied at this LOD) means the node is a sufficient representation
	// on its own — descending further would only emit redundant finer
	// points already covered by this node's sample.
	if res.decision == Include && res.stopDescent {
		return
	}
	for oct := uint8(0); oct < 8; oct++ {
		if !d.HasChild(oct) {
			continue
		}
		child, ok := tree.Get(d.ID.Child(oct))
		if !ok {
			continue
		}
		e.walkNode(tree, child, out)
	}
}
