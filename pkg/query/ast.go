// Package query implements the textual query grammar (spec §6), its
// compilation into a pruning tree-walker (spec §4.9), and the
// view-frustum matrix derivation the wire protocol's ViewFrustumQuery
// needs (spec §9 open question).
package query

import "github.com/lidarserv/lidarserv/pkg/attrindex"

// Expr is the parsed query AST, following the grammar in spec §6:
//
//	query := or
//	or    := and ("or" and)*
//	and   := not ("and" not)*
//	not   := "!"? atom
//	atom  := "empty" | "full" | "lod(" N ")" | "aabb(" v3 "," v3 ")"
//	       | "view_frustum(" args ")" | "attr(" cmp ")" | "(" query ")"
type Expr interface {
	exprNode()
}

// Empty matches no points.
type Empty struct{}

// Full matches every point.
type Full struct{}

// Lod matches nodes at LOD <= K.
type Lod struct{ K uint8 }

// Vec3 is a global-coordinate triple, as used by Aabb's bounds.
type Vec3 struct{ X, Y, Z float64 }

// Aabb matches nodes/points inside the global-coordinate box [Min, Max].
type Aabb struct{ Min, Max Vec3 }

// ViewFrustum matches nodes/points visible from a camera, pruning finer
// LODs once the sampling grid's spacing already satisfies the screen-space
// density bound (spec §4.9).
type ViewFrustum struct {
	CameraPos, CameraDir, CameraUp Vec3
	FovY, ZNear, ZFar              float64
	WindowWidthPixels              float64
	WindowHeightPixels             float64
	MinDistancePixels              float64
}

// Attr matches points whose named attribute satisfies a comparison.
//
// RangeLow/RangeHigh are used only when Op is a chained-range form
// (value < name < value); otherwise a single Op/Value pair is used.
type Attr struct {
	Name  string
	Op    attrindex.CompareOp
	Value float64

	IsRange             bool
	LowOp, HighOp       attrindex.CompareOp // OpLt or OpLe
	LowValue, HighValue float64
}

// Not negates its operand (spec §4.9: "flips include/exclude, keeps partial").
type Not struct{ X Expr }

// And matches the conjunction of two sub-expressions.
type And struct{ L, R Expr }

// Or matches the disjunction of two sub-expressions.
type Or struct{ L, R Expr }

func (Empty) exprNode()       {}
func (Full) exprNode()        {}
func (Lod) exprNode()         {}
func (Aabb) exprNode()        {}
func (ViewFrustum) exprNode() {}
func (Attr) exprNode()        {}
func (Not) exprNode()         {}
func (And) exprNode()         {}
func (Or) exprNode()          {}
