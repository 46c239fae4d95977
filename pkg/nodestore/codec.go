package nodestore

import (
	"os"

	"github.com/edaniels/lidario"

	"github.com/lidarserv/lidarserv/internal/errs"
	"github.com/lidarserv/lidarserv/pkg/coordsys"
	"github.com/lidarserv/lidarserv/pkg/pointbuffer"
)

// WriteLAS exports points as a standalone LAS file at path, for the query
// CLI's result output — the same codec writeLAS uses for a node's
// companion export, just not tied to a node id's filename.
func WriteLAS(path string, schema pointbuffer.Schema, points *pointbuffer.Buffer) error {
	return writeLAS(path, schema, points)
}

// writeLAS exports points as LAS-format point records, per spec §4.3 ("the
// file is the point buffer serialised as LAS-format point records"). Only
// the schema's conventional Intensity/Classification attributes (if
// present) map onto native LAS fields; every other attribute, and the
// bogus points, are not represented here — the LAS/LAZ codec is an
// external collaborator per spec §1, and the sidecar (sidecar.go) is this
// store's correctness-bearing representation. Read never re-parses this
// file; it exists purely so a capture/replay tool downstream can consume
// "binary point data" directly.
func writeLAS(path string, schema pointbuffer.Schema, points *pointbuffer.Buffer) error {
	lf, err := lidario.NewLasFile(path, "w")
	if err != nil {
		return err
	}
	defer lf.Close()

	if err := lf.AddHeader(lidario.LasHeader{PointFormatID: 0}); err != nil {
		return err
	}

	intensityIdx := schema.IndexOf("Intensity")
	classIdx := schema.IndexOf("Classification")

	for i := 0; i < points.Len(); i++ {
		pos := points.Positions[i]
		pr := &lidario.PointRecord0{
			X: float64(pos.X),
			Y: float64(pos.Y),
			Z: float64(pos.Z),
			BitField: lidario.PointBitField{
				Value: (1) | (1 << 3) | (0 << 6) | (0 << 7),
			},
			ClassBitField: lidario.ClassificationBitField{
				Value: 0,
			},
			ScanAngle:     0,
			UserData:      0,
			PointSourceID: 1,
		}
		if intensityIdx >= 0 {
			pr.Intensity = uint16(scalarAttrAsUint(points, i, "Intensity"))
		}
		if classIdx >= 0 {
			pr.ClassBitField.Value = byte(scalarAttrAsUint(points, i, "Classification"))
		}
		if err := lf.AddLasPoint(pr); err != nil {
			return err
		}
	}
	return nil
}

// ReadLASBytes decodes a client's InsertPoints.data (LAS-format records,
// already in the point cloud's local coordinate system — spec §6 requires
// the LAS header's scale/offset to equal PointCloudInfo's) into a Buffer.
// lidario only reads from a path, not a byte slice, so the bytes are
// spilled to a temp file first, mirroring writeLAS's use of the same
// library on the export side.
func ReadLASBytes(schema pointbuffer.Schema, data []byte) (*pointbuffer.Buffer, error) {
	tmp, err := os.CreateTemp("", "lidarserv-insert-*.las")
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, err)
	}
	path := tmp.Name()
	defer os.Remove(path)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, errs.Wrap(errs.KindCodec, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, errs.Wrap(errs.KindIO, err)
	}

	lf, err := lidario.NewLasFile(path, "r")
	if err != nil {
		return nil, errs.Wrap(errs.KindCodec, err)
	}
	defer lf.Close()

	// Only position round-trips through LAS with certainty across point
	// formats (the examples that read LAS back, e.g. viamrobotics-rdk's
	// pointcloud.NewFromLASFile, only rely on PointData().X/Y/Z for this
	// reason); every other schema attribute is zero-filled on ingest via
	// this path, matching writeLAS's documented lossiness on export.
	buf := pointbuffer.NewWithCapacity(schema, lf.Header.NumberPoints)
	zero := make(map[string][]byte, len(schema.Attributes))
	for _, def := range schema.Attributes {
		zero[def.Name] = make([]byte, def.ElemSize())
	}
	for i := 0; i < lf.Header.NumberPoints; i++ {
		p, err := lf.LasPoint(i)
		if err != nil {
			return nil, errs.Wrap(errs.KindCodec, err)
		}
		d := p.PointData()
		pos := coordsys.Local{X: int32(d.X), Y: int32(d.Y), Z: int32(d.Z)}
		buf.Append(pos, zero)
	}
	return buf, nil
}

// scalarAttrAsUint reads a single-byte-or-wider little-endian unsigned
// scalar attribute, truncating to the low bytes if the column is wider
// than the LAS field it's being mapped onto.
func scalarAttrAsUint(b *pointbuffer.Buffer, i int, name string) uint64 {
	raw := b.AttrAt(name, i)
	var v uint64
	for j := len(raw) - 1; j >= 0; j-- {
		v = v<<8 | uint64(raw[j])
	}
	return v
}
