package wire

import (
	"github.com/lidarserv/lidarserv/internal/errs"
	"github.com/lidarserv/lidarserv/pkg/coordsys"
	"github.com/lidarserv/lidarserv/pkg/query"
)

// EvaluatorOf compiles a client's Query message into a query.Evaluator,
// bridging the wire union's two variants onto the two distinct ways
// pkg/query can be compiled: Aabb goes through the textual-grammar AST
// (Aabb combined with Lod for the lod_level cap), while ViewFrustum goes
// through query.CompileMatrixFrustum, since the wire form carries an
// already-composed matrix pair rather than the grammar's camera pose.
func EvaluatorOf(q Query, cs coordsys.System) (*query.Evaluator, error) {
	switch {
	case q.Aabb != nil:
		ast := query.And{
			L: query.Aabb{
				Min: query.Vec3{X: q.Aabb.MinBounds[0], Y: q.Aabb.MinBounds[1], Z: q.Aabb.MinBounds[2]},
				Max: query.Vec3{X: q.Aabb.MaxBounds[0], Y: q.Aabb.MaxBounds[1], Z: q.Aabb.MaxBounds[2]},
			},
			R: query.Lod{K: q.Aabb.LodLevel},
		}
		return query.CompileEvaluator(ast, cs)
	case q.ViewFrustum != nil:
		vf := q.ViewFrustum
		return query.CompileMatrixFrustum(vf.ViewProjectionMatrix, vf.ViewProjectionMatrixInv, vf.WindowWidthPixels, vf.MinDistancePixels, cs), nil
	default:
		return nil, errs.Newf(errs.KindProtocol, "wire: Query carries neither aabb nor view_frustum")
	}
}
