package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lidarserv/lidarserv/internal/errs"
	"github.com/lidarserv/lidarserv/pkg/attrindex"
	"github.com/lidarserv/lidarserv/pkg/insertion"
	"github.com/lidarserv/lidarserv/pkg/nodeid"
	"github.com/lidarserv/lidarserv/pkg/pointbuffer"
)

func testSettings() Settings {
	return Settings{
		Schema: pointbuffer.Schema{Attributes: []pointbuffer.AttrDef{
			{Name: "Classification", Kind: pointbuffer.KindU8, Components: 1},
			{Name: "Color", Kind: pointbuffer.KindU16, Components: 3},
		}},
		CoordSysScale:       [3]float64{0.001, 0.001, 0.001},
		CoordSysOffset:      [3]float64{100, 200, 300},
		HierarchyShift:      nodeid.HierarchyShift{LeafCellWidth: 64, MaxLod: 5, GridCellsPerAxis: 8},
		Priority:            insertion.NrPointsWeightedByOldestPoint,
		PriorityWeight:      0.5,
		CacheSize:           1024,
		BogusCap:            16,
		InnerBogusCap:       -1,
		LeafBogusCap:        32,
		AttrConfigs: []attrindex.Config{
			{Attribute: "Classification", HistogramBins: 16, Domain: [2]float64{0, 255}},
		},
		Compress:            true,
		Workers:             4,
		TargetPointPressure: 100000,
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	want := testSettings()
	if err := Save(dir, want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if !got.Schema.Equal(want.Schema) {
		t.Errorf("schema mismatch: got %+v, want %+v", got.Schema, want.Schema)
	}
	if got.CoordSysScale != want.CoordSysScale || got.CoordSysOffset != want.CoordSysOffset {
		t.Errorf("coordinate system mismatch: got %+v/%+v", got.CoordSysScale, got.CoordSysOffset)
	}
	if got.HierarchyShift != want.HierarchyShift {
		t.Errorf("hierarchy shift mismatch: got %+v, want %+v", got.HierarchyShift, want.HierarchyShift)
	}
	if got.Priority != want.Priority || got.PriorityWeight != want.PriorityWeight {
		t.Errorf("priority mismatch: got %v/%v, want %v/%v", got.Priority, got.PriorityWeight, want.Priority, want.PriorityWeight)
	}
	if got.CacheSize != want.CacheSize || got.Workers != want.Workers {
		t.Errorf("cache/workers mismatch")
	}
	if got.BogusCap != want.BogusCap || got.InnerBogusCap != want.InnerBogusCap || got.LeafBogusCap != want.LeafBogusCap {
		t.Errorf("bogus cap mismatch")
	}
	if len(got.AttrConfigs) != 1 || got.AttrConfigs[0].Attribute != "Classification" {
		t.Errorf("attribute index config mismatch: got %+v", got.AttrConfigs)
	}
	if got.Compress != want.Compress {
		t.Errorf("compress mismatch")
	}
}

func TestLoadMissingFileIsConfigurationError(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(dir)
	if err == nil {
		t.Fatal("expected an error loading a missing settings.json")
	}
	if errs.AsKind(err) != errs.KindConfiguration {
		t.Errorf("got kind %v, want KindConfiguration", errs.AsKind(err))
	}
}

func TestSaveRejectsNonPowerOfTwoCellWidth(t *testing.T) {
	dir := t.TempDir()
	s := testSettings()
	s.HierarchyShift.LeafCellWidth = 63
	err := Save(dir, s)
	if err == nil {
		t.Fatal("expected an error saving a non-power-of-two leaf cell width")
	}
	if errs.AsKind(err) != errs.KindConfiguration {
		t.Errorf("got kind %v, want KindConfiguration", errs.AsKind(err))
	}
}

func TestSaveRejectsAttrIndexWithNoMatchingSchemaAttribute(t *testing.T) {
	dir := t.TempDir()
	s := testSettings()
	s.AttrConfigs = append(s.AttrConfigs, attrindex.Config{Attribute: "DoesNotExist"})
	err := Save(dir, s)
	if err == nil {
		t.Fatal("expected an error saving an attribute_index entry with no schema match")
	}
}

func TestInsertionConfigCarriesFieldsThrough(t *testing.T) {
	s := testSettings()
	ic := s.InsertionConfig()
	if ic.Workers != s.Workers || ic.TargetPointPressure != s.TargetPointPressure {
		t.Errorf("InsertionConfig dropped scheduling fields: %+v", ic)
	}
	if ic.Priority != s.Priority || ic.PriorityWeight != s.PriorityWeight {
		t.Errorf("InsertionConfig dropped priority fields: %+v", ic)
	}
	if !ic.Schema.Equal(s.Schema) {
		t.Errorf("InsertionConfig dropped schema")
	}
}

func TestFileNameIsSettingsJSON(t *testing.T) {
	dir := t.TempDir()
	if err := Save(dir, testSettings()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if FileName != "settings.json" {
		t.Errorf("FileName = %q, want %q", FileName, "settings.json")
	}
	if _, err := os.Stat(filepath.Join(dir, FileName)); err != nil {
		t.Fatalf("Save did not create %s: %v", FileName, err)
	}
}
