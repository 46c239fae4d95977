package wire

import (
	"encoding/binary"

	"github.com/lidarserv/lidarserv/internal/errs"
	"github.com/lidarserv/lidarserv/pkg/coordsys"
	"github.com/lidarserv/lidarserv/pkg/pointbuffer"
)

// EncodePoints serialises buf's positions and attribute columns into the
// single byte chunk a NodeUpdate.Data entry carries — the same
// length-prefixed-columns layout the node store's sidecar uses (see
// pkg/nodestore/sidecar.go), minus the bogus-buffer and CRC framing that
// format needs for on-disk durability and this one doesn't.
func EncodePoints(schema pointbuffer.Schema, buf *pointbuffer.Buffer) []byte {
	out := appendUint32(nil, uint32(buf.Len()))
	out = appendPositions(out, buf.Positions)
	for _, def := range schema.Attributes {
		col := buf.RawColumn(def.Name)
		out = appendUint32(out, uint32(len(col)))
		out = append(out, col...)
	}
	return out
}

// DecodePoints is the inverse of EncodePoints.
func DecodePoints(schema pointbuffer.Schema, data []byte) (*pointbuffer.Buffer, error) {
	if len(data) < 4 {
		return nil, errs.Newf(errs.KindCodec, "wire: point chunk truncated")
	}
	n, off := readUint32(data, 0)
	positions, off, err := readPositionsChecked(data, off, int(n))
	if err != nil {
		return nil, err
	}

	cols := make(map[string][]byte, len(schema.Attributes))
	for _, def := range schema.Attributes {
		var colLen uint32
		if off+4 > len(data) {
			return nil, errs.Newf(errs.KindCodec, "wire: point chunk truncated reading %q column length", def.Name)
		}
		colLen, off = readUint32(data, off)
		if off+int(colLen) > len(data) {
			return nil, errs.Newf(errs.KindCodec, "wire: point chunk truncated reading %q column data", def.Name)
		}
		cols[def.Name] = data[off : off+int(colLen)]
		off += int(colLen)
	}

	out := pointbuffer.New(schema)
	for i, pos := range positions {
		attrs := make(map[string][]byte, len(schema.Attributes))
		for _, def := range schema.Attributes {
			sz := def.ElemSize()
			attrs[def.Name] = cols[def.Name][i*sz : (i+1)*sz]
		}
		out.Append(pos, attrs)
	}
	return out, nil
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func readUint32(data []byte, off int) (uint32, int) {
	return binary.LittleEndian.Uint32(data[off : off+4]), off + 4
}

func appendPositions(buf []byte, positions []coordsys.Local) []byte {
	for _, p := range positions {
		var tmp [12]byte
		binary.LittleEndian.PutUint32(tmp[0:4], uint32(p.X))
		binary.LittleEndian.PutUint32(tmp[4:8], uint32(p.Y))
		binary.LittleEndian.PutUint32(tmp[8:12], uint32(p.Z))
		buf = append(buf, tmp[:]...)
	}
	return buf
}

func readPositionsChecked(data []byte, off, n int) ([]coordsys.Local, int, error) {
	if off+n*12 > len(data) {
		return nil, off, errs.Newf(errs.KindCodec, "wire: point chunk truncated reading positions")
	}
	out := make([]coordsys.Local, n)
	for i := 0; i < n; i++ {
		out[i] = coordsys.Local{
			X: int32(binary.LittleEndian.Uint32(data[off : off+4])),
			Y: int32(binary.LittleEndian.Uint32(data[off+4 : off+8])),
			Z: int32(binary.LittleEndian.Uint32(data[off+8 : off+12])),
		}
		off += 12
	}
	return out, off, nil
}
