package query

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/lidarserv/lidarserv/internal/errs"
	"github.com/lidarserv/lidarserv/pkg/attrindex"
	"github.com/lidarserv/lidarserv/pkg/coordsys"
	"github.com/lidarserv/lidarserv/pkg/nodeid"
	"github.com/lidarserv/lidarserv/pkg/pointbuffer"
)

// Decision is a predicate's verdict at one visited node, per spec §4.9.
type Decision int

const (
	// Exclude means no point at this node matches; the node is skipped.
	Exclude Decision = iota
	// Include means every point at this node matches; emit it unfiltered.
	Include
	// Partial means some points may match; emit as-is if the predicate is
	// node-level only, or apply Filter per point if PointLevel is true.
	Partial
)

// PointFilter reports whether point i of buf matches. A nil PointFilter
// means every point passes (used when decision is Include, or Partial
// from a node-level-only predicate).
type PointFilter func(buf *pointbuffer.Buffer, i int) bool

// result is the outcome of evaluating a compiled predicate at one node.
type result struct {
	decision Decision
	// stopDescent on an Exclude means
	// every descendant of this node is also guaranteed Exclude, so the
	// evaluator may stop descending (spec §4.6's "subtree skipping is
	// sound only when the attribute index is hierarchical" — geometric
	// predicates are hierarchical by construction since a child's region
	// nests inside its parent's; attr() alone never sets this).
	stopDescent bool
	// pointLevel is true if, on Partial, the caller must filter
	// point-by-point rather than emit the node as-is.
	pointLevel bool
	filter     PointFilter
}

// nodeCtx carries everything a compiled predicate needs to evaluate
// itself against one node, without touching the page cache (pruning must
// not pay for a disk read — spec §8 test S3).
type nodeCtx struct {
	id     nodeid.ID
	region nodeid.Region // local coordinates
	attrs  *attrindex.Index
	cs     coordsys.System
}

// predicate is a compiled query node. Compile turns an Expr into one of
// these; Evaluator.Walk calls Evaluate at every visited octree node.
type predicate interface {
	evaluate(ctx *nodeCtx) result
}

// Compile turns a parsed Expr into an evaluatable predicate, resolving
// global-coordinate literals (aabb bounds, view-frustum geometry is
// evaluated in global space directly) against cs.
func Compile(e Expr, cs coordsys.System) (predicate, error) {
	switch v := e.(type) {
	case Empty:
		return emptyPred{}, nil
	case Full:
		return fullPred{}, nil
	case Lod:
		return lodPred{k: v.K}, nil
	case Aabb:
		minL, err := cs.Quantise(coordsys.Global{X: v.Min.X, Y: v.Min.Y, Z: v.Min.Z})
		if err != nil {
			return nil, err
		}
		maxL, err := cs.Quantise(coordsys.Global{X: v.Max.X, Y: v.Max.Y, Z: v.Max.Z})
		if err != nil {
			return nil, err
		}
		return aabbPred{min: minL, max: maxL}, nil
	case ViewFrustum:
		return newViewFrustumPred(v, cs), nil
	case Attr:
		return attrPred{expr: v}, nil
	case Not:
		inner, err := Compile(v.X, cs)
		if err != nil {
			return nil, err
		}
		return notPred{x: inner}, nil
	case And:
		l, err := Compile(v.L, cs)
		if err != nil {
			return nil, err
		}
		r, err := Compile(v.R, cs)
		if err != nil {
			return nil, err
		}
		return andPred{l: l, r: r}, nil
	case Or:
		l, err := Compile(v.L, cs)
		if err != nil {
			return nil, err
		}
		r, err := Compile(v.R, cs)
		if err != nil {
			return nil, err
		}
		return orPred{l: l, r: r}, nil
	default:
		return nil, errs.Newf(errs.KindProtocol, "query: unknown expression type %T", e)
	}
}

type emptyPred struct{}

func (emptyPred) evaluate(*nodeCtx) result { return result{decision: Exclude, stopDescent: true} }

type fullPred struct{}

func (fullPred) evaluate(*nodeCtx) result { return result{decision: Include} }

// lodPred implements spec §4.9's lod(k): included iff L<=k, and pruning
// stops descent once L would exceed k — sound because LOD only increases
// with depth.
type lodPred struct{ k uint8 }

func (p lodPred) evaluate(ctx *nodeCtx) result {
	if ctx.id.Lod <= p.k {
		return result{decision: Include}
	}
	return result{decision: Exclude, stopDescent: true}
}

// aabbPred implements spec §4.9's aabb(min,max): disjoint from a node's
// region excludes the whole subtree (regions nest), containing the
// region fully includes it, otherwise partial and emitted as-is
// (node-level only — no point-level refinement per spec's own example).
type aabbPred struct{ min, max coordsys.Local }

func (p aabbPred) evaluate(ctx *nodeCtx) result {
	r := ctx.region
	disjoint := int64(p.max.X) < r.Min[0] || int64(p.min.X) >= r.Max[0] ||
		int64(p.max.Y) < r.Min[1] || int64(p.min.Y) >= r.Max[1] ||
		int64(p.max.Z) < r.Min[2] || int64(p.min.Z) >= r.Max[2]
	if disjoint {
		return result{decision: Exclude, stopDescent: true}
	}
	contains := int64(p.min.X) <= r.Min[0] && int64(p.max.X) >= r.Max[0]-1 &&
		int64(p.min.Y) <= r.Min[1] && int64(p.max.Y) >= r.Max[1]-1 &&
		int64(p.min.Z) <= r.Min[2] && int64(p.max.Z) >= r.Max[2]-1
	if contains {
		return result{decision: Include}
	}
	return result{decision: Partial}
}

// attrPred implements spec §4.6's attr(cmp): consults the node's own
// (non-hierarchical) attribute summary. An exclude here bounds only this
// node's points, never the subtree (stopDescent stays false) — per spec
// §4.6's explicit fallback-to-per-node-pruning rule.
type attrPred struct{ expr Attr }

func (p attrPred) evaluate(ctx *nodeCtx) result {
	if ctx.attrs == nil {
		// Node never processed yet (reserved descriptor with no content):
		// nothing to exclude against, nothing to filter.
		return result{decision: Exclude, stopDescent: false}
	}
	excluded, cmp := p.excludes(ctx.attrs)
	if excluded {
		return result{decision: Exclude, stopDescent: false}
	}
	return result{
		decision:   Partial,
		pointLevel: true,
		filter: func(buf *pointbuffer.Buffer, i int) bool {
			return cmp(buf, i)
		},
	}
}

func (p attrPred) excludes(idx *attrindex.Index) (bool, func(buf *pointbuffer.Buffer, i int) bool) {
	a := p.expr
	if a.IsRange {
		lowExcl := idx.Excludes(a.Name, flip(a.LowOp), a.LowValue)
		highExcl := idx.Excludes(a.Name, a.HighOp, a.HighValue)
		return lowExcl || highExcl, func(buf *pointbuffer.Buffer, i int) bool {
			v := scalarOf(buf, a.Name, i)
			return compareOK(flip(a.LowOp), v, a.LowValue) && compareOK(a.HighOp, v, a.HighValue)
		}
	}
	return idx.Excludes(a.Name, a.Op, a.Value), func(buf *pointbuffer.Buffer, i int) bool {
		return compareOK(a.Op, scalarOf(buf, a.Name, i), a.Value)
	}
}

// flip turns "value < name" into "name > value" for the chained range
// form's low bound, so it can be fed to attrindex.Excludes/compareOK
// uniformly as "name OP value".
func flip(op attrindex.CompareOp) attrindex.CompareOp {
	switch op {
	case attrindex.OpLt:
		return attrindex.OpGt
	case attrindex.OpLe:
		return attrindex.OpGe
	default:
		return op
	}
}

func compareOK(op attrindex.CompareOp, v, val float64) bool {
	switch op {
	case attrindex.OpEq:
		return v == val
	case attrindex.OpNe:
		return v != val
	case attrindex.OpLt:
		return v < val
	case attrindex.OpLe:
		return v <= val
	case attrindex.OpGt:
		return v > val
	case attrindex.OpGe:
		return v >= val
	default:
		return false
	}
}

func scalarOf(buf *pointbuffer.Buffer, name string, i int) float64 {
	schema := buf.Schema()
	idx := schema.IndexOf(name)
	if idx < 0 {
		return 0
	}
	def := schema.Attributes[idx]
	raw := buf.AttrAt(name, i)
	if len(raw) == 0 {
		return 0
	}
	vals := def.DecodeComponents(raw)
	if len(vals) == 0 {
		return 0
	}
	return vals[0]
}

type notPred struct{ x predicate }

func (p notPred) evaluate(ctx *nodeCtx) result {
	inner := p.x.evaluate(ctx)
	out := result{pointLevel: inner.pointLevel}
	switch inner.decision {
	case Include:
		out.decision = Exclude
		out.stopDescent = false // flipped from Include: no hierarchical guarantee established
	case Exclude:
		out.decision = Include
	default:
		out.decision = Partial
	}
	if inner.filter != nil {
		f := inner.filter
		out.filter = func(buf *pointbuffer.Buffer, i int) bool { return !f(buf, i) }
	}
	return out
}

type andPred struct{ l, r predicate }

func (p andPred) evaluate(ctx *nodeCtx) result {
	l := p.l.evaluate(ctx)
	r := p.r.evaluate(ctx)
	out := result{pointLevel: l.pointLevel || r.pointLevel}
	switch {
	case l.decision == Exclude || r.decision == Exclude:
		out.decision = Exclude
		out.stopDescent = (l.decision == Exclude && l.stopDescent) || (r.decision == Exclude && r.stopDescent)
	case l.decision == Include && r.decision == Include:
		out.decision = Include
	default:
		out.decision = Partial
		out.filter = combineAnd(l.filter, r.filter)
	}
	return out
}

type orPred struct{ l, r predicate }

func (p orPred) evaluate(ctx *nodeCtx) result {
	l := p.l.evaluate(ctx)
	r := p.r.evaluate(ctx)
	out := result{pointLevel: l.pointLevel || r.pointLevel}
	switch {
	case l.decision == Include || r.decision == Include:
		out.decision = Include
	case l.decision == Exclude && r.decision == Exclude:
		out.decision = Exclude
		out.stopDescent = l.stopDescent && r.stopDescent
	default:
		out.decision = Partial
		out.filter = combineOr(l.filter, r.filter)
	}
	return out
}

// combineAnd composes two optional per-point filters; nil means "always
// true" (a node-level-only partial isn't refined per point).
func combineAnd(l, r PointFilter) PointFilter {
	switch {
	case l == nil && r == nil:
		return nil
	case l == nil:
		return r
	case r == nil:
		return l
	default:
		return func(buf *pointbuffer.Buffer, i int) bool { return l(buf, i) && r(buf, i) }
	}
}

func combineOr(l, r PointFilter) PointFilter {
	if l == nil || r == nil {
		return nil // one side always passes, so the disjunction always passes
	}
	return func(buf *pointbuffer.Buffer, i int) bool { return l(buf, i) || r(buf, i) }
}

// viewFrustumPred implements spec §4.9's view_frustum(...): exclude nodes
// whose region is entirely outside a single frustum plane (hierarchically
// sound, since child regions nest); otherwise check whether the current
// LOD's sampling-grid spacing already satisfies the screen-space density
// bound and, if so, include-and-stop-descending rather than requiring a
// finer LOD.
type viewFrustumPred struct {
	fm               frustumMatrices
	cs               coordsys.System
	clipMaxPointDist float64
	lod0Spacing      float64 // the root LOD's sampling-grid spacing, in global units
}

func newViewFrustumPred(vf ViewFrustum, cs coordsys.System) viewFrustumPred {
	return viewFrustumPred{
		fm:               composeFrustum(vf),
		cs:               cs,
		clipMaxPointDist: vf.MinDistancePixels / vf.WindowWidthPixels * 2.0,
		lod0Spacing:      cs.MaxHalfScale() * 2,
	}
}

func (p viewFrustumPred) evaluate(ctx *nodeCtx) result {
	gMin := p.cs.Dequantise(coordsys.Local{X: int32(clampToInt32(ctx.region.Min[0])), Y: int32(clampToInt32(ctx.region.Min[1])), Z: int32(clampToInt32(ctx.region.Min[2]))})
	gMax := p.cs.Dequantise(coordsys.Local{X: int32(clampToInt32(ctx.region.Max[0])), Y: int32(clampToInt32(ctx.region.Max[1])), Z: int32(clampToInt32(ctx.region.Max[2]))})
	min := mgl64.Vec3{gMin.X, gMin.Y, gMin.Z}
	max := mgl64.Vec3{gMax.X, gMax.Y, gMax.Z}

	for _, pl := range p.fm.planes {
		if aabbOutsidePlane(pl, min, max) {
			return result{decision: Exclude, stopDescent: true}
		}
	}

	// Use the node's centre as the proxy for screen-space point spacing at
	// this LOD.
	center := min.Add(max).Mul(0.5)
	spacing := p.fm.projectedSpacing(center, p.clipMaxPointDist)
	lodSpacing := p.lod0Spacing / math.Pow(2, float64(ctx.id.Lod))
	if lodSpacing <= spacing {
		// The sampling grid is already denser than the screen needs:
		// this node is a sufficient representation, stop descending.
		return result{decision: Include, stopDescent: true}
	}
	return result{decision: Partial}
}

func clampToInt32(v int64) int64 {
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	if v < math.MinInt32 {
		return math.MinInt32
	}
	return v
}
