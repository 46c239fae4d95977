package pointbuffer

import (
	"fmt"

	"github.com/lidarserv/lidarserv/pkg/coordsys"
)

// column is one attribute's contiguous byte storage, packed elemSize bytes
// per point in schema order.
type column struct {
	def  AttrDef
	data []byte
}

func (c *column) elemSize() int { return c.def.ElemSize() }

func (c *column) len() int { return len(c.data) / c.elemSize() }

func (c *column) at(i int) []byte {
	sz := c.elemSize()
	return c.data[i*sz : (i+1)*sz]
}

func (c *column) append(val []byte) {
	if len(val) != c.elemSize() {
		panic(fmt.Sprintf("pointbuffer: attribute %q expects %d bytes, got %d", c.def.Name, c.elemSize(), len(val)))
	}
	c.data = append(c.data, val...)
}

// Buffer is a batch of points: a position per point plus schema-defined
// attribute columns, each a contiguous byte slice.
type Buffer struct {
	schema    Schema
	Positions []coordsys.Local
	columns   []*column
	index     map[string]int
}

// New creates an empty Buffer for the given schema.
func New(schema Schema) *Buffer {
	b := &Buffer{schema: schema, index: make(map[string]int, len(schema.Attributes))}
	for i, def := range schema.Attributes {
		b.columns = append(b.columns, &column{def: def})
		b.index[def.Name] = i
	}
	return b
}

// NewWithCapacity creates an empty Buffer, preallocating n points' worth of
// backing storage in each column.
func NewWithCapacity(schema Schema, n int) *Buffer {
	b := New(schema)
	for _, c := range b.columns {
		c.data = make([]byte, 0, n*c.elemSize())
	}
	b.Positions = make([]coordsys.Local, 0, n)
	return b
}

// Schema returns the buffer's (immutable) schema.
func (b *Buffer) Schema() Schema { return b.schema }

// Len returns the number of points in the buffer.
func (b *Buffer) Len() int { return len(b.Positions) }

// Append adds one point. attrs must supply exactly the raw bytes for every
// schema attribute, keyed by name; a missing attribute panics, matching
// the fixed-schema contract (the schema is immutable after init, so a
// caller omitting a column is a programming error, not a runtime
// condition to recover from).
func (b *Buffer) Append(pos coordsys.Local, attrs map[string][]byte) {
	b.Positions = append(b.Positions, pos)
	for _, c := range b.columns {
		val, ok := attrs[c.def.Name]
		if !ok {
			panic(fmt.Sprintf("pointbuffer: missing attribute %q", c.def.Name))
		}
		c.append(val)
	}
}

// RawColumn returns the named attribute's raw backing bytes, for the codec
// to serialise directly without a per-point copy.
func (b *Buffer) RawColumn(name string) []byte {
	i, ok := b.index[name]
	if !ok {
		return nil
	}
	return b.columns[i].data
}

// AttrAt returns the named attribute's raw bytes for point i.
func (b *Buffer) AttrAt(name string, i int) []byte {
	idx, ok := b.index[name]
	if !ok {
		return nil
	}
	return b.columns[idx].at(i)
}

// Extend appends every point of other to b. Schemas must be Equal.
func (b *Buffer) Extend(other *Buffer) {
	if !b.schema.Equal(other.schema) {
		panic("pointbuffer: Extend requires identical schemas")
	}
	b.Positions = append(b.Positions, other.Positions...)
	for i, c := range b.columns {
		c.data = append(c.data, other.columns[i].data...)
	}
}

// AppendFrom copies point i of src onto the end of b. src and b must have
// Equal schemas. Used by the insertion pipeline to route individual points
// between a node's accepted/bogus buffers and a child's inbox batch
// without building an intermediate attrs map per call.
func (b *Buffer) AppendFrom(src *Buffer, i int) {
	b.Positions = append(b.Positions, src.Positions[i])
	for j, c := range b.columns {
		c.append(src.columns[j].at(i))
	}
}

// Gather builds a new Buffer containing only the points at the given
// indices, in order. Select uses it to build its result.
func (b *Buffer) Gather(indices []int) *Buffer {
	out := NewWithCapacity(b.schema, len(indices))
	for _, i := range indices {
		attrs := make(map[string][]byte, len(b.columns))
		for _, c := range b.columns {
			attrs[c.def.Name] = c.at(i)
		}
		out.Append(b.Positions[i], attrs)
	}
	return out
}

// Select returns a new Buffer containing only the points for which pred
// returns true.
func (b *Buffer) Select(pred func(i int) bool) *Buffer {
	var idx []int
	for i := 0; i < b.Len(); i++ {
		if pred(i) {
			idx = append(idx, i)
		}
	}
	return b.Gather(idx)
}
