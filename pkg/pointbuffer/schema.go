// Package pointbuffer implements the column-wise typed point storage (spec
// §4.2): a point cloud's schema is fixed at init time, and every bulk
// operation (append, extend, select, gather) operates column-at-a-time to
// amortise per-point overhead.
package pointbuffer

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Kind is the closed set of primitive element types an attribute column
// can hold, per the design notes' "closed set of primitive/vector kinds
// with explicit type tags, not open polymorphism".
type Kind uint8

const (
	KindI8 Kind = iota
	KindU8
	KindI16
	KindU16
	KindI32
	KindU32
	KindF32
	KindF64
)

// Size returns the byte width of a single scalar of this Kind.
func (k Kind) Size() int {
	switch k {
	case KindI8, KindU8:
		return 1
	case KindI16, KindU16:
		return 2
	case KindI32, KindU32, KindF32:
		return 4
	case KindF64:
		return 8
	default:
		panic(fmt.Sprintf("pointbuffer: unknown kind %d", k))
	}
}

func (k Kind) String() string {
	switch k {
	case KindI8:
		return "i8"
	case KindU8:
		return "u8"
	case KindI16:
		return "i16"
	case KindU16:
		return "u16"
	case KindI32:
		return "i32"
	case KindU32:
		return "u32"
	case KindF32:
		return "f32"
	case KindF64:
		return "f64"
	default:
		return "unknown"
	}
}

// AttrDef describes one named attribute: a scalar Kind replicated across
// Components lanes (Components==1 is a plain scalar; 2/3/4 are vectors,
// e.g. Components==3, Kind==KindU8 for an RGB-as-bytes attribute).
type AttrDef struct {
	Name       string
	Kind       Kind
	Components int
}

// ElemSize is the byte width of one point's value for this attribute.
func (a AttrDef) ElemSize() int { return a.Kind.Size() * a.Components }

// DecodeComponents reads raw (one point's worth of this attribute's raw
// column bytes) as Components little-endian scalars of Kind — the single
// place attribute-value-consuming code (the insertion pipeline's
// attribute-index fold, the query evaluator's point-level filters)
// converts a column's typed storage into float64, so every caller agrees
// on the same decode regardless of which primitive Kind the schema used.
func (a AttrDef) DecodeComponents(raw []byte) []float64 {
	out := make([]float64, a.Components)
	sz := a.Kind.Size()
	for i := 0; i < a.Components; i++ {
		out[i] = DecodeScalar(a.Kind, raw[i*sz:(i+1)*sz])
	}
	return out
}

// DecodeScalar decodes a single little-endian scalar of kind from raw.
func DecodeScalar(kind Kind, raw []byte) float64 {
	switch kind {
	case KindI8:
		return float64(int8(raw[0]))
	case KindU8:
		return float64(raw[0])
	case KindI16:
		return float64(int16(binary.LittleEndian.Uint16(raw)))
	case KindU16:
		return float64(binary.LittleEndian.Uint16(raw))
	case KindI32:
		return float64(int32(binary.LittleEndian.Uint32(raw)))
	case KindU32:
		return float64(binary.LittleEndian.Uint32(raw))
	case KindF32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(raw)))
	case KindF64:
		return math.Float64frombits(binary.LittleEndian.Uint64(raw))
	default:
		return 0
	}
}

// Schema is the immutable-after-init point layout: a required position
// (handled separately, see Buffer.Positions) plus zero or more named
// attributes.
type Schema struct {
	Attributes []AttrDef
}

// IndexOf returns the index of the named attribute in s.Attributes, or -1.
func (s Schema) IndexOf(name string) int {
	for i, a := range s.Attributes {
		if a.Name == name {
			return i
		}
	}
	return -1
}

// Equal reports whether two schemas describe the same attributes in the
// same order — used by round-trip tests (spec §8) that compare buffers
// "by attribute-schema equality".
func (s Schema) Equal(other Schema) bool {
	if len(s.Attributes) != len(other.Attributes) {
		return false
	}
	for i, a := range s.Attributes {
		b := other.Attributes[i]
		if a.Name != b.Name || a.Kind != b.Kind || a.Components != b.Components {
			return false
		}
	}
	return true
}
