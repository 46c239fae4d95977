package wire

import "github.com/lidarserv/lidarserv/pkg/coordsys"

// PointCloudInfoOf builds the PointCloudInfo message advertising cs.
func PointCloudInfoOf(cs coordsys.System) PointCloudInfo {
	return PointCloudInfo{
		CoordinateSystem: CoordinateSystemWire{
			I32CoordinateSystem: &I32CoordinateSystem{
				Scale:  cs.Scale,
				Offset: cs.Offset,
			},
		},
	}
}

// CoordSysOf extracts the coordinate system a PointCloudInfo advertises.
// Returns false if the message carries a coordinate-system representation
// this build does not understand.
func CoordSysOf(m PointCloudInfo) (coordsys.System, bool) {
	w := m.CoordinateSystem.I32CoordinateSystem
	if w == nil {
		return coordsys.System{}, false
	}
	return coordsys.New(w.Scale, w.Offset), true
}
