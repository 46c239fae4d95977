package wire

import "github.com/lidarserv/lidarserv/pkg/nodeid"

// RefOf converts an in-process node id into its wire representation.
func RefOf(id nodeid.ID) NodeRef {
	return NodeRef{LodLevel: id.Lod, ID: id.Path}
}

// IDOf converts a wire node reference back into an in-process node id.
func (r NodeRef) IDOf() nodeid.ID {
	return nodeid.ID{Lod: r.LodLevel, Path: r.ID}
}
