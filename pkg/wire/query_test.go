package wire

import (
	"testing"

	"github.com/lidarserv/lidarserv/pkg/coordsys"
)

func testCoordSys() coordsys.System {
	return coordsys.New([3]float64{1, 1, 1}, [3]float64{0, 0, 0})
}

func TestEvaluatorOfAabb(t *testing.T) {
	q := Query{Aabb: &AabbQuery{
		MinBounds: [3]float64{-10, -10, -10},
		MaxBounds: [3]float64{10, 10, 10},
		LodLevel:  3,
	}}
	eval, err := EvaluatorOf(q, testCoordSys())
	if err != nil {
		t.Fatal(err)
	}
	if eval == nil {
		t.Fatal("EvaluatorOf returned a nil evaluator with no error")
	}
}

func TestEvaluatorOfViewFrustum(t *testing.T) {
	identity := [16]float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
	q := Query{ViewFrustum: &ViewFrustumQuery{
		ViewProjectionMatrix:    identity,
		ViewProjectionMatrixInv: identity,
		WindowWidthPixels:       1920,
		MinDistancePixels:       1,
	}}
	eval, err := EvaluatorOf(q, testCoordSys())
	if err != nil {
		t.Fatal(err)
	}
	if eval == nil {
		t.Fatal("EvaluatorOf returned a nil evaluator with no error")
	}
}

func TestEvaluatorOfRejectsEmptyQuery(t *testing.T) {
	_, err := EvaluatorOf(Query{}, testCoordSys())
	if err == nil {
		t.Fatal("expected an error for a Query with neither aabb nor view_frustum set")
	}
}
