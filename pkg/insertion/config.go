package insertion

import (
	"github.com/lidarserv/lidarserv/pkg/attrindex"
	"github.com/lidarserv/lidarserv/pkg/nodeid"
	"github.com/lidarserv/lidarserv/pkg/pointbuffer"
)

// Config carries everything the insertion pipeline needs — the schema,
// hierarchy shape, indexed attributes, bogus-point caps, and scheduling
// knobs — as read from settings.json's top-level keys (see
// internal/config's Settings.InsertionConfig).
type Config struct {
	Schema         pointbuffer.Schema
	HierarchyShift nodeid.HierarchyShift
	AttrConfigs    []attrindex.Config

	// BogusCap is the fallback bogus-point cap used whenever InnerBogusCap
	// or LeafBogusCap is left unset (-1). The source material specifies a
	// single bogus cap; we resolve the independent-inner/leaf-cap open
	// question by treating them as independent knobs that both default to
	// this one value when the config only supplies one number.
	BogusCap      int
	InnerBogusCap int
	LeafBogusCap  int

	// Workers is the size of the worker pool draining node inboxes.
	Workers int
	// TargetPointPressure bounds the total number of points sitting in any
	// inbox at once, across the whole tree.
	TargetPointPressure int64

	// Priority selects which scoring function governs which inbox a free
	// worker picks up next; PriorityWeight is the k term used by the
	// NrPointsWeightedBy* variants.
	Priority       PriorityKind
	PriorityWeight float64
}

// bogusCapForLod resolves the effective bogus cap at lod, applying the
// inner/leaf independence with single-value fallback described on Config.
func (c Config) bogusCapForLod(lod uint8) int {
	if lod == c.HierarchyShift.MaxLod {
		if c.LeafBogusCap >= 0 {
			return c.LeafBogusCap
		}
	} else if c.InnerBogusCap >= 0 {
		return c.InnerBogusCap
	}
	return c.BogusCap
}
