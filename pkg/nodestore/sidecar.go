package nodestore

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/lidarserv/lidarserv/internal/errs"
	"github.com/lidarserv/lidarserv/pkg/coordsys"
	"github.com/lidarserv/lidarserv/pkg/pointbuffer"
)

// sidecarMagic identifies our binary sidecar format, framed the way the
// teacher's WAL entries are: a fixed header, a payload, and a trailing
// CRC32 over everything before it (pkg/wal/entry.go's Encode/DecodeEntry).
var sidecarMagic = [4]byte{'L', 'S', 'V', 'N'}

const sidecarVersion = 1

// encodeSidecar serialises the authoritative node state: accepted points,
// bogus points, and a caller-supplied attribute-index snapshot. This is
// the correctness-bearing representation; the companion LAS file (codec.go)
// is a best-effort export, not re-parsed on Read.
func encodeSidecar(schema pointbuffer.Schema, points, bogus *pointbuffer.Buffer, attrSnapshot []byte) []byte {
	var buf []byte
	buf = append(buf, sidecarMagic[:]...)
	buf = append(buf, sidecarVersion)

	buf = appendUint32(buf, uint32(points.Len()))
	buf = appendUint32(buf, uint32(bogus.Len()))
	buf = appendUint32(buf, uint32(len(attrSnapshot)))

	buf = appendPositions(buf, points.Positions)
	buf = appendPositions(buf, bogus.Positions)

	for _, def := range schema.Attributes {
		buf = appendUint32(buf, uint32(len(points.RawColumn(def.Name))))
		buf = append(buf, points.RawColumn(def.Name)...)
		buf = appendUint32(buf, uint32(len(bogus.RawColumn(def.Name))))
		buf = append(buf, bogus.RawColumn(def.Name)...)
	}

	buf = append(buf, attrSnapshot...)

	crc := crc32.ChecksumIEEE(buf)
	buf = appendUint32(buf, crc)
	return buf
}

// decodeSidecar is the inverse of encodeSidecar.
func decodeSidecar(schema pointbuffer.Schema, data []byte) (points, bogus *pointbuffer.Buffer, attrSnapshot []byte, err error) {
	if len(data) < 4+1+4+4+4+4 {
		return nil, nil, nil, errs.Newf(errs.KindCodec, "nodestore: sidecar truncated")
	}
	if [4]byte(data[0:4]) != sidecarMagic {
		return nil, nil, nil, errs.Newf(errs.KindCodec, "nodestore: bad sidecar magic")
	}
	if data[4] != sidecarVersion {
		return nil, nil, nil, errs.Newf(errs.KindCodec, "nodestore: unsupported sidecar version %d", data[4])
	}

	body := data[:len(data)-4]
	wantCRC := binary.LittleEndian.Uint32(data[len(data)-4:])
	if gotCRC := crc32.ChecksumIEEE(body); gotCRC != wantCRC {
		return nil, nil, nil, errs.Newf(errs.KindCodec, "nodestore: sidecar crc mismatch")
	}

	off := 5
	nPoints, off := readUint32(data, off)
	nBogus, off := readUint32(data, off)
	attrLen, off := readUint32(data, off)

	var pointPositions, bogusPositions []coordsys.Local
	pointPositions, off = readPositions(data, off, int(nPoints))
	bogusPositions, off = readPositions(data, off, int(nBogus))

	points = pointbuffer.New(schema)
	bogus = pointbuffer.New(schema)

	pointCols := make(map[string][]byte, len(schema.Attributes))
	bogusCols := make(map[string][]byte, len(schema.Attributes))
	for _, def := range schema.Attributes {
		var n uint32
		n, off = readUint32(data, off)
		pointCols[def.Name] = data[off : off+int(n)]
		off += int(n)
		n, off = readUint32(data, off)
		bogusCols[def.Name] = data[off : off+int(n)]
		off += int(n)
	}
	attrSnapshot = append([]byte(nil), data[off:off+int(attrLen)]...)

	fillBuffer(points, pointPositions, pointCols, schema)
	fillBuffer(bogus, bogusPositions, bogusCols, schema)

	return points, bogus, attrSnapshot, nil
}

func fillBuffer(b *pointbuffer.Buffer, positions []coordsys.Local, cols map[string][]byte, schema pointbuffer.Schema) {
	for i, pos := range positions {
		attrs := make(map[string][]byte, len(schema.Attributes))
		for _, def := range schema.Attributes {
			sz := def.ElemSize()
			attrs[def.Name] = cols[def.Name][i*sz : (i+1)*sz]
		}
		b.Append(pos, attrs)
	}
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

func readPositions(data []byte, off, n int) ([]coordsys.Local, int) {
	out := make([]coordsys.Local, n)
	for i := 0; i < n; i++ {
		out[i] = coordsys.Local{
			X: int32(binary.LittleEndian.Uint32(data[off : off+4])),
			Y: int32(binary.LittleEndian.Uint32(data[off+4 : off+8])),
			Z: int32(binary.LittleEndian.Uint32(data[off+8 : off+12])),
		}
		off += 12
	}
	return out, off
}
