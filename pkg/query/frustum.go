package query

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// frustumMatrices holds a view-frustum query's compiled clip-space
// transform and its inverse, matching the wire protocol's
// ViewFrustumQuery{view_projection_matrix, view_projection_matrix_inv}
// pair (spec §6, §9 open question).
//
// Resolved per DESIGN.md: view_projection = proj * view (not view * proj),
// and its inverse is view.Inv() * proj.Inv() rather than a generic 4x4
// inverse of the product — cheaper, and exact to float64 precision since
// both factors are themselves cheaply invertible (a rigid view transform
// and a perspective projection).
type frustumMatrices struct {
	viewProjection    mgl64.Mat4
	viewProjectionInv mgl64.Mat4
	planes            [6]plane // extracted from viewProjection, pointing inward
}

// plane is ax+by+cz+d, with the convention that a point is "inside" when
// the dot product is >= 0.
type plane struct {
	normal mgl64.Vec3
	d      float64
}

func (p plane) signedDistance(v mgl64.Vec3) float64 {
	return p.normal.Dot(v) + p.d
}

// composeFrustum builds the view/projection matrices for a ViewFrustum
// query's camera parameters, using mgl64.LookAtV and mgl64.Perspective —
// the standard go-gl/mathgl entry points for exactly this (spec §9:
// "the exact projection convention... must match the inverse").
func composeFrustum(vf ViewFrustum) frustumMatrices {
	eye := mgl64.Vec3{vf.CameraPos.X, vf.CameraPos.Y, vf.CameraPos.Z}
	dir := mgl64.Vec3{vf.CameraDir.X, vf.CameraDir.Y, vf.CameraDir.Z}
	up := mgl64.Vec3{vf.CameraUp.X, vf.CameraUp.Y, vf.CameraUp.Z}
	center := eye.Add(dir)

	view := mgl64.LookAtV(eye, center, up)
	aspect := vf.WindowWidthPixels / vf.WindowHeightPixels
	proj := mgl64.Perspective(vf.FovY, aspect, vf.ZNear, vf.ZFar)

	viewProjection := proj.Mul4(view)
	viewInv := rigidInverse(view)
	projInv := proj.Inv()
	viewProjectionInv := viewInv.Mul4(projInv)

	return frustumMatrices{
		viewProjection:    viewProjection,
		viewProjectionInv: viewProjectionInv,
		planes:            extractPlanes(viewProjection),
	}
}

// rigidInverse inverts a rotation+translation matrix analytically
// (transpose the rotation block, negate the translation rotated back) —
// avoiding Mat4.Inv()'s general Cramer's-rule path for a matrix we know
// is orthogonal, matching the original implementation's use of
// Isometry3::inverse() rather than a generic matrix inverse.
func rigidInverse(m mgl64.Mat4) mgl64.Mat4 {
	rT := mgl64.Mat3{
		m[0], m[4], m[8],
		m[1], m[5], m[9],
		m[2], m[6], m[10],
	}
	t := mgl64.Vec3{m[12], m[13], m[14]}
	tInv := rT.Mul3x1(t).Mul(-1)
	return mgl64.Mat4{
		rT[0], rT[1], rT[2], 0,
		rT[3], rT[4], rT[5], 0,
		rT[6], rT[7], rT[8], 0,
		tInv[0], tInv[1], tInv[2], 1,
	}
}

// extractPlanes pulls the six clip-space bounding planes (x=-1,x=1,y=-1,
// y=1,z=-1,z=1) out of a combined view-projection matrix by the standard
// Gribb/Hartmann row-combination trick, each normalised so
// signedDistance >= 0 means "inside".
func extractPlanes(m mgl64.Mat4) [6]plane {
	row := func(i int) mgl64.Vec4 { return mgl64.Vec4{m.At(i, 0), m.At(i, 1), m.At(i, 2), m.At(i, 3)} }
	r0, r1, r2, r3 := row(0), row(1), row(2), row(3)

	mk := func(v mgl64.Vec4) plane {
		n := mgl64.Vec3{v[0], v[1], v[2]}
		length := n.Len()
		if length == 0 {
			return plane{}
		}
		return plane{normal: n.Mul(1 / length), d: v[3] / length}
	}

	return [6]plane{
		mk(r3.Add(r0)), // left:   x >= -w
		mk(r3.Sub(r0)), // right:  x <= w
		mk(r3.Add(r1)), // bottom: y >= -w
		mk(r3.Sub(r1)), // top:    y <= w
		mk(r3.Add(r2)), // near:   z >= -w
		mk(r3.Sub(r2)), // far:    z <= w
	}
}

// aabbOutsidePlane reports whether every corner of the box [min,max] lies
// on the negative side of p — i.e. the whole box is outside that single
// clip plane, a sufficient (not necessary) condition for excluding the
// box from the frustum. Since a node's region is always a subset of its
// parent's region, "outside a fixed plane" is hierarchically monotonic:
// once a box is outside, every sub-box of it is too.
func aabbOutsidePlane(p plane, min, max mgl64.Vec3) bool {
	for i := 0; i < 8; i++ {
		v := mgl64.Vec3{
			pick(i&1 != 0, min[0], max[0]),
			pick(i&2 != 0, min[1], max[1]),
			pick(i&4 != 0, min[2], max[2]),
		}
		if p.signedDistance(v) >= 0 {
			return false
		}
	}
	return true
}

func pick(b bool, a, c float64) float64 {
	if b {
		return c
	}
	return a
}

// projectedSpacing estimates, in world units, how far apart two points
// that are clipMaxPointDist apart in clip space would be near world point
// p — used to decide whether the current LOD's point spacing already
// satisfies the screen-space density bound (spec §4.9's
// "min_distance_pixels" rule), following the same clip-space-offset trick
// as the original view_frustum.rs (project, offset in clip space by the
// pixel-derived delta, unproject, measure).
func (f frustumMatrices) projectedSpacing(p mgl64.Vec3, clipMaxPointDist float64) float64 {
	pHom := mgl64.Vec4{p[0], p[1], p[2], 1}
	clipHom := f.viewProjection.Mul4x1(pHom)
	offsetHom := clipHom.Add(mgl64.Vec4{clipMaxPointDist * clipHom[3], 0, 0, 0})

	unproj := func(h mgl64.Vec4) mgl64.Vec3 {
		w := f.viewProjectionInv.Mul4x1(h)
		return mgl64.Vec3{w[0], w[1], w[2]}
	}
	a := unproj(clipHom)
	b := unproj(offsetHom)
	return b.Sub(a).Len()
}

// ComposeAndVerify builds the view/projection matrices for vf and checks
// M * M^-1 == I within eps, matching spec §9's explicit test requirement
// for whichever clip-space convention is chosen. Exported so a client can
// build the matrix pair a wire ViewFrustumQuery carries; the tests use it
// too.
func ComposeAndVerify(vf ViewFrustum, eps float64) (view, viewInv mgl64.Mat4, ok bool) {
	fm := composeFrustum(vf)
	prod := fm.viewProjection.Mul4(fm.viewProjectionInv)
	ident := mgl64.Ident4()
	maxDiff := 0.0
	for i := 0; i < 16; i++ {
		d := math.Abs(prod[i] - ident[i])
		if d > maxDiff {
			maxDiff = d
		}
	}
	return fm.viewProjection, fm.viewProjectionInv, maxDiff <= eps
}
