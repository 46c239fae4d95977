// Package config loads and saves a point cloud's settings.json (spec §6):
// schema, coordinate system, hierarchy shift, priority function, cache
// size, bogus caps, attribute-index configuration, and compression flag.
// Written once at init time by the `lidarserv-server init` subcommand, then read at
// every subsequent startup; mutated only by hand-editing the file.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/lidarserv/lidarserv/internal/errs"
	"github.com/lidarserv/lidarserv/pkg/attrindex"
	"github.com/lidarserv/lidarserv/pkg/insertion"
	"github.com/lidarserv/lidarserv/pkg/nodeid"
	"github.com/lidarserv/lidarserv/pkg/pointbuffer"
)

// FileName is settings.json's name within a point cloud directory.
const FileName = "settings.json"

// attrDefJSON is pointbuffer.AttrDef's on-disk shape: AttrDef itself
// carries no json tags since pkg/pointbuffer has no on-disk concerns of
// its own, so settings.json gets its own mirror struct here.
type attrDefJSON struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Components int    `json:"components"`
}

var kindNames = map[pointbuffer.Kind]string{
	pointbuffer.KindI8:  "i8",
	pointbuffer.KindU8:  "u8",
	pointbuffer.KindI16: "i16",
	pointbuffer.KindU16: "u16",
	pointbuffer.KindI32: "i32",
	pointbuffer.KindU32: "u32",
	pointbuffer.KindF32: "f32",
	pointbuffer.KindF64: "f64",
}

var kindValues = map[string]pointbuffer.Kind{
	"i8": pointbuffer.KindI8, "u8": pointbuffer.KindU8,
	"i16": pointbuffer.KindI16, "u16": pointbuffer.KindU16,
	"i32": pointbuffer.KindI32, "u32": pointbuffer.KindU32,
	"f32": pointbuffer.KindF32, "f64": pointbuffer.KindF64,
}

// attrIndexConfigJSON mirrors attrindex.Config for settings.json.
type attrIndexConfigJSON struct {
	Attribute     string     `json:"attribute"`
	HistogramBins int        `json:"histogram_bins"`
	Domain        [2]float64 `json:"domain"`
	SFCBins       int        `json:"sfc_bins"`
	VectorDims    int        `json:"vector_dims"`
}

// Settings is the parsed settings.json, and the single source every
// package needing point-cloud-wide configuration (pkg/insertion,
// pkg/query, pkg/nodestore) is constructed from.
type Settings struct {
	Schema         pointbuffer.Schema
	CoordSysScale  [3]float64
	CoordSysOffset [3]float64
	HierarchyShift nodeid.HierarchyShift

	Priority       insertion.PriorityKind
	PriorityWeight float64

	CacheSize int

	BogusCap      int
	InnerBogusCap int
	LeafBogusCap  int

	AttrConfigs []attrindex.Config

	// Compress selects LAZ over LAS for the node-file export
	// (pkg/nodestore.writeLAS has no LAZ path yet; this flag is recorded
	// now so the sidecar's correctness-bearing format never depends on
	// it, and a LAZ-capable export can be wired in later without a
	// settings.json migration).
	Compress bool

	// Workers and TargetPointPressure size the insertion worker pool;
	// unlike the fields above they are safe to change between restarts
	// (spec §6: "mutated by editing" — these two are the intended knobs).
	Workers              int
	TargetPointPressure  int64
}

type settingsJSON struct {
	Schema struct {
		Attributes []attrDefJSON `json:"attributes"`
	} `json:"schema"`
	CoordinateSystem struct {
		Scale  [3]float64 `json:"scale"`
		Offset [3]float64 `json:"offset"`
	} `json:"coordinate_system"`
	HierarchyShift struct {
		LeafCellWidth    int64 `json:"leaf_cell_width"`
		MaxLod           uint8 `json:"max_lod"`
		GridCellsPerAxis int64 `json:"grid_cells_per_axis"`
	} `json:"hierarchy_shift"`
	Priority             string                `json:"priority"`
	PriorityWeight       float64               `json:"priority_weight"`
	CacheSize            int                   `json:"cache_size"`
	BogusCap             int                   `json:"bogus_cap"`
	InnerBogusCap        int                   `json:"inner_bogus_cap"`
	LeafBogusCap         int                   `json:"leaf_bogus_cap"`
	AttrIndex            []attrIndexConfigJSON `json:"attribute_index"`
	Compress             bool                  `json:"compress"`
	Workers              int                   `json:"workers"`
	TargetPointPressure  int64                 `json:"target_point_pressure"`
}

var priorityNames = map[insertion.PriorityKind]string{
	insertion.NrPointsWeightedByTaskAge:        "nr_points_weighted_by_task_age",
	insertion.NrPoints:                         "nr_points",
	insertion.Lod:                              "lod",
	insertion.OldestPoint:                      "oldest_point",
	insertion.NewestPoint:                      "newest_point",
	insertion.TaskAge:                          "task_age",
	insertion.NrPointsWeightedByOldestPoint:    "nr_points_weighted_by_oldest_point",
	insertion.NrPointsWeightedByNegNewestPoint: "nr_points_weighted_by_neg_newest_point",
}

var priorityValues = func() map[string]insertion.PriorityKind {
	m := make(map[string]insertion.PriorityKind, len(priorityNames))
	for k, v := range priorityNames {
		m[v] = k
	}
	return m
}()

// Load reads and validates settings.json from dir.
func Load(dir string) (Settings, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, errs.Wrap(errs.KindConfiguration, err)
	}

	var raw settingsJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return Settings{}, errs.Wrap(errs.KindConfiguration, err)
	}

	s := Settings{
		CoordSysScale:       raw.CoordinateSystem.Scale,
		CoordSysOffset:      raw.CoordinateSystem.Offset,
		HierarchyShift: nodeid.HierarchyShift{
			LeafCellWidth:    raw.HierarchyShift.LeafCellWidth,
			MaxLod:           raw.HierarchyShift.MaxLod,
			GridCellsPerAxis: raw.HierarchyShift.GridCellsPerAxis,
		},
		PriorityWeight:       raw.PriorityWeight,
		CacheSize:            raw.CacheSize,
		BogusCap:             raw.BogusCap,
		InnerBogusCap:        raw.InnerBogusCap,
		LeafBogusCap:         raw.LeafBogusCap,
		Compress:             raw.Compress,
		Workers:              raw.Workers,
		TargetPointPressure:  raw.TargetPointPressure,
	}

	for _, a := range raw.Schema.Attributes {
		kind, ok := kindValues[a.Kind]
		if !ok {
			return Settings{}, errs.Newf(errs.KindConfiguration, "config: unknown attribute kind %q for %q", a.Kind, a.Name)
		}
		s.Schema.Attributes = append(s.Schema.Attributes, pointbuffer.AttrDef{
			Name: a.Name, Kind: kind, Components: a.Components,
		})
	}

	priority, ok := priorityValues[raw.Priority]
	if !ok {
		return Settings{}, errs.Newf(errs.KindConfiguration, "config: unknown priority function %q", raw.Priority)
	}
	s.Priority = priority

	for _, a := range raw.AttrIndex {
		s.AttrConfigs = append(s.AttrConfigs, attrindex.Config{
			Attribute:     a.Attribute,
			HistogramBins: a.HistogramBins,
			Domain:        a.Domain,
			SFCBins:       a.SFCBins,
			VectorDims:    a.VectorDims,
		})
	}

	if err := validate(s); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Save writes settings.json to dir, creating the directory if needed.
// Intended to be called exactly once, at init.
func Save(dir string, s Settings) error {
	if err := validate(s); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Wrap(errs.KindIO, err)
	}

	var raw settingsJSON
	raw.CoordinateSystem.Scale = s.CoordSysScale
	raw.CoordinateSystem.Offset = s.CoordSysOffset
	raw.HierarchyShift.LeafCellWidth = s.HierarchyShift.LeafCellWidth
	raw.HierarchyShift.MaxLod = s.HierarchyShift.MaxLod
	raw.HierarchyShift.GridCellsPerAxis = s.HierarchyShift.GridCellsPerAxis
	raw.PriorityWeight = s.PriorityWeight
	raw.CacheSize = s.CacheSize
	raw.BogusCap = s.BogusCap
	raw.InnerBogusCap = s.InnerBogusCap
	raw.LeafBogusCap = s.LeafBogusCap
	raw.Compress = s.Compress
	raw.Workers = s.Workers
	raw.TargetPointPressure = s.TargetPointPressure

	for _, a := range s.Schema.Attributes {
		name, ok := kindNames[a.Kind]
		if !ok {
			return errs.Newf(errs.KindConfiguration, "config: unknown attribute kind %d for %q", a.Kind, a.Name)
		}
		raw.Schema.Attributes = append(raw.Schema.Attributes, attrDefJSON{
			Name: a.Name, Kind: name, Components: a.Components,
		})
	}

	name, ok := priorityNames[s.Priority]
	if !ok {
		return errs.Newf(errs.KindConfiguration, "config: unknown priority function %d", s.Priority)
	}
	raw.Priority = name

	for _, a := range s.AttrConfigs {
		raw.AttrIndex = append(raw.AttrIndex, attrIndexConfigJSON{
			Attribute:     a.Attribute,
			HistogramBins: a.HistogramBins,
			Domain:        a.Domain,
			SFCBins:       a.SFCBins,
			VectorDims:    a.VectorDims,
		})
	}

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return errs.Wrap(errs.KindConfiguration, err)
	}
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errs.Wrap(errs.KindIO, err)
	}
	return nil
}

// InsertionConfig builds the pkg/insertion.Config this Settings implies.
func (s Settings) InsertionConfig() insertion.Config {
	return insertion.Config{
		Schema:               s.Schema,
		HierarchyShift:       s.HierarchyShift,
		AttrConfigs:          s.AttrConfigs,
		BogusCap:             s.BogusCap,
		InnerBogusCap:        s.InnerBogusCap,
		LeafBogusCap:         s.LeafBogusCap,
		Workers:              s.Workers,
		TargetPointPressure:  s.TargetPointPressure,
		Priority:             s.Priority,
		PriorityWeight:       s.PriorityWeight,
	}
}

// validate checks the handful of settings invariants the spec states
// explicitly (hierarchy shift must be power-of-two cell widths; cache
// size and worker count must be positive) and that every attribute-index
// config names a schema attribute that actually exists.
func validate(s Settings) error {
	if s.HierarchyShift.LeafCellWidth <= 0 || s.HierarchyShift.LeafCellWidth&(s.HierarchyShift.LeafCellWidth-1) != 0 {
		return errs.Newf(errs.KindConfiguration, "config: leaf_cell_width must be a positive power of two, got %d", s.HierarchyShift.LeafCellWidth)
	}
	if s.HierarchyShift.GridCellsPerAxis > 0 && s.HierarchyShift.GridCellsPerAxis&(s.HierarchyShift.GridCellsPerAxis-1) != 0 {
		return errs.Newf(errs.KindConfiguration, "config: grid_cells_per_axis must be a power of two, got %d", s.HierarchyShift.GridCellsPerAxis)
	}
	if s.CacheSize <= 0 {
		return errs.Newf(errs.KindConfiguration, "config: cache_size must be positive, got %d", s.CacheSize)
	}
	if s.Workers <= 0 {
		return errs.Newf(errs.KindConfiguration, "config: workers must be positive, got %d", s.Workers)
	}
	for _, ac := range s.AttrConfigs {
		if s.Schema.IndexOf(ac.Attribute) < 0 {
			return errs.Newf(errs.KindConfiguration, "config: attribute_index entry %q has no matching schema attribute", ac.Attribute)
		}
	}
	return nil
}
