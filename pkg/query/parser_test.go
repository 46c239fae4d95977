package query

import (
	"testing"

	"github.com/lidarserv/lidarserv/pkg/attrindex"
)

func TestParseKeywordAtoms(t *testing.T) {
	cases := map[string]Expr{
		"empty":  Empty{},
		"full":   Full{},
		"lod(3)": Lod{K: 3},
	}
	for src, want := range cases {
		got, err := Parse(src)
		if err != nil {
			t.Fatalf("Parse(%q): %v", src, err)
		}
		if got != want {
			t.Errorf("Parse(%q) = %#v, want %#v", src, got, want)
		}
	}
}

func TestParseAabb(t *testing.T) {
	got, err := Parse("aabb(0 0 0,10 20 30)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := Aabb{Min: Vec3{0, 0, 0}, Max: Vec3{10, 20, 30}}
	if got != want {
		t.Errorf("got %#v, want %#v", got, want)
	}
}

func TestParseAttrSimple(t *testing.T) {
	got, err := Parse("attr(Classification==2)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a, ok := got.(Attr)
	if !ok {
		t.Fatalf("want Attr, got %T", got)
	}
	if a.Name != "Classification" || a.Op != attrindex.OpEq || a.Value != 2 {
		t.Errorf("unexpected attr: %#v", a)
	}
}

func TestParseAttrChainedRange(t *testing.T) {
	got, err := Parse("attr(0<=Intensity<100)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a, ok := got.(Attr)
	if !ok {
		t.Fatalf("want Attr, got %T", got)
	}
	if !a.IsRange || a.LowValue != 0 || a.HighValue != 100 {
		t.Errorf("unexpected range attr: %#v", a)
	}
	if a.LowOp != attrindex.OpLe || a.HighOp != attrindex.OpLt {
		t.Errorf("unexpected ops: low=%v high=%v", a.LowOp, a.HighOp)
	}
}

func TestParseNotAndOr(t *testing.T) {
	got, err := Parse("!lod(2) and full or empty")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// "and" binds tighter than "or": (!lod(2) and full) or empty
	or, ok := got.(Or)
	if !ok {
		t.Fatalf("want top-level Or, got %T", got)
	}
	and, ok := or.L.(And)
	if !ok {
		t.Fatalf("want And on the left of Or, got %T", or.L)
	}
	if _, ok := and.L.(Not); !ok {
		t.Errorf("want Not on the left of And, got %T", and.L)
	}
	if _, ok := or.R.(Empty); !ok {
		t.Errorf("want Empty on the right of Or, got %T", or.R)
	}
}

func TestParseParensOverridePrecedence(t *testing.T) {
	got, err := Parse("full and (empty or full)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	and, ok := got.(And)
	if !ok {
		t.Fatalf("want And, got %T", got)
	}
	if _, ok := and.R.(Or); !ok {
		t.Errorf("want Or on the right of And, got %T", and.R)
	}
}

func TestParseViewFrustumArgCount(t *testing.T) {
	_, err := Parse("view_frustum(0 0 0,0 0 -1,0 1 0,1.0,0.1,100,60,90,1)")
	if err == nil {
		t.Fatal("expected error for too few view_frustum arguments")
	}

	good := "view_frustum(0,0,0,0,0,-1,0,1,0,1.0,0.1,100,640,480,2)"
	expr, err := Parse(good)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	vf, ok := expr.(ViewFrustum)
	if !ok {
		t.Fatalf("want ViewFrustum, got %T", expr)
	}
	if vf.WindowWidthPixels != 640 || vf.WindowHeightPixels != 480 || vf.MinDistancePixels != 2 {
		t.Errorf("unexpected view frustum: %#v", vf)
	}
}

func TestParseUnknownKeyword(t *testing.T) {
	if _, err := Parse("bogus(1)"); err == nil {
		t.Fatal("expected error for unknown keyword")
	}
}

func TestStringRoundTripsAabb(t *testing.T) {
	e := Aabb{Min: Vec3{1, 2, 3}, Max: Vec3{4, 5, 6}}
	s := String(e)
	got, err := Parse(s)
	if err != nil {
		t.Fatalf("re-parsing %q: %v", s, err)
	}
	if got != e {
		t.Errorf("round trip mismatch: got %#v, want %#v", got, e)
	}
}
