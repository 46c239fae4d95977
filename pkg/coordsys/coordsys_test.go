package coordsys

import (
	"math"
	"testing"

	"github.com/lidarserv/lidarserv/internal/errs"
)

func TestQuantiseDequantiseRoundTrip(t *testing.T) {
	sys := New([3]float64{0.01, 0.01, 0.01}, [3]float64{100, 200, 300})

	cases := []Local{
		{0, 0, 0},
		{1, -1, 1},
		{math.MaxInt32, math.MinInt32, 0},
	}
	for _, l := range cases {
		g := sys.Dequantise(l)
		got, err := sys.Quantise(g)
		if err != nil {
			t.Fatalf("Quantise(%v) unexpected error: %v", g, err)
		}
		if got != l {
			t.Errorf("round trip mismatch: want %v got %v", l, got)
		}
	}
}

func TestQuantiseOutOfRange(t *testing.T) {
	sys := New([3]float64{1, 1, 1}, [3]float64{0, 0, 0})
	_, err := sys.Quantise(Global{X: math.MaxInt64, Y: 0, Z: 0})
	if err == nil {
		t.Fatal("expected out-of-range error")
	}
	if errs.AsKind(err) != errs.KindOutOfRange {
		t.Errorf("want KindOutOfRange, got %v", errs.AsKind(err))
	}
}

func TestQuantiseSaturationBoundary(t *testing.T) {
	sys := New([3]float64{1, 1, 1}, [3]float64{0, 0, 0})
	g := Global{X: float64(math.MaxInt32), Y: 0, Z: 0}
	l, err := sys.Quantise(g)
	if err != nil {
		t.Fatalf("unexpected error at boundary: %v", err)
	}
	if l.X != math.MaxInt32 {
		t.Errorf("want %d got %d", math.MaxInt32, l.X)
	}
}

func TestRoundHalfAwayFromZero(t *testing.T) {
	sys := New([3]float64{1, 1, 1}, [3]float64{0, 0, 0})
	l, err := sys.Quantise(Global{X: 0.5, Y: -0.5, Z: 1.5})
	if err != nil {
		t.Fatal(err)
	}
	if l != (Local{X: 1, Y: -1, Z: 2}) {
		t.Errorf("unexpected rounding: %v", l)
	}
}

func TestContains(t *testing.T) {
	min := Local{0, 0, 0}
	max := Local{16, 16, 16}
	if !Contains(min, max, Local{0, 0, 0}) {
		t.Error("min corner should be contained")
	}
	if Contains(min, max, Local{16, 0, 0}) {
		t.Error("max corner is exclusive, should not be contained")
	}
}
