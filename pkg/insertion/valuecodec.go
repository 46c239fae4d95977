package insertion

import "github.com/lidarserv/lidarserv/pkg/pointbuffer"

// decodeComponents reads a single attribute element's raw bytes as
// Components values of Kind, little-endian — used to feed the attribute
// index, which operates on float64 regardless of a column's storage type.
// Delegates to pointbuffer.AttrDef.DecodeComponents, the single decode
// implementation shared with pkg/query's point-level attr() filters.
func decodeComponents(def pointbuffer.AttrDef, raw []byte) []float64 {
	return def.DecodeComponents(raw)
}
