// Package wire implements the client/server protocol (spec §6): an
// 18-byte ASCII handshake followed by u64-little-endian-length-prefixed
// CBOR frames, each frame carrying one externally-tagged message of a
// closed union.
package wire

// Message is any of the protocol's wire types. Each concrete type is
// encoded as a single-key CBOR map {variant_name: fields}, mirroring the
// externally-tagged representation the original Rust peer uses for its
// own serde enum (see messages.rs's Header) — Decode reads the one key
// present to pick which struct to unmarshal the value into.
type Message interface {
	wireTag() string
}

// Hello is exchanged first in both directions. Current ProtocolVersion is 1.
type Hello struct {
	ProtocolVersion uint32 `cbor:"protocol_version"`
}

func (Hello) wireTag() string { return "Hello" }

// I32CoordinateSystem is the only coordinate-system representation this
// protocol version speaks: fixed-point local coordinates with a per-axis
// scale and offset (pkg/coordsys.System).
type I32CoordinateSystem struct {
	Scale  [3]float64 `cbor:"scale"`
	Offset [3]float64 `cbor:"offset"`
}

// CoordinateSystemWire is itself a one-variant union, left open for a
// future second coordinate-system representation without breaking the
// wire format.
type CoordinateSystemWire struct {
	I32CoordinateSystem *I32CoordinateSystem `cbor:"I32CoordinateSystem,omitempty"`
}

// PointCloudInfo is sent server -> client right after Hello.
type PointCloudInfo struct {
	CoordinateSystem CoordinateSystemWire `cbor:"coordinate_system"`
}

func (PointCloudInfo) wireTag() string { return "PointCloudInfo" }

// Device enumerates the two connection modes a client can request.
type Device string

const (
	DeviceCaptureDevice Device = "CaptureDevice"
	DeviceViewer        Device = "Viewer"
)

// ConnectionMode is the client's first command after Hello, permanently
// fixing the rest of the connection's behaviour.
type ConnectionMode struct {
	Device Device `cbor:"device"`
}

func (ConnectionMode) wireTag() string { return "ConnectionMode" }

// InsertPoints carries one batch of LAS-format point records from a
// capture-device client. The LAS header's scale/offset must match the
// PointCloudInfo the server already sent.
type InsertPoints struct {
	Data []byte `cbor:"data"`
}

func (InsertPoints) wireTag() string { return "InsertPoints" }

// AabbQuery selects nodes by bounding box and a maximum LOD.
type AabbQuery struct {
	MinBounds [3]float64 `cbor:"min_bounds"`
	MaxBounds [3]float64 `cbor:"max_bounds"`
	LodLevel  uint8      `cbor:"lod_level"`
}

// ViewFrustumQuery selects nodes visible from a camera, with the
// view-projection matrix (and its inverse) pre-composed by the client.
// pkg/query.ComposeAndVerify produces exactly this pair.
type ViewFrustumQuery struct {
	ViewProjectionMatrix    [16]float64 `cbor:"view_projection_matrix"`
	ViewProjectionMatrixInv [16]float64 `cbor:"view_projection_matrix_inv"`
	WindowWidthPixels       float64     `cbor:"window_width_pixels"`
	MinDistancePixels       float64     `cbor:"min_distance_pixels"`
}

// Query is sent client -> server in Viewer mode, and may be re-sent to
// replace the active query. Exactly one of Aabb/ViewFrustum is set.
type Query struct {
	Aabb        *AabbQuery        `cbor:"aabb,omitempty"`
	ViewFrustum *ViewFrustumQuery `cbor:"view_frustum,omitempty"`
}

func (Query) wireTag() string { return "Query" }

// NodeRef identifies one node on the wire: its LOD and its packed path.
type NodeRef struct {
	LodLevel uint8    `cbor:"lod_level"`
	ID       [14]byte `cbor:"id"`
}

// NodeUpdate carries one node's serialised point buffer(s) in an
// IncrementalResult.
type NodeUpdate struct {
	Node NodeRef  `cbor:"node"`
	Data [][]byte `cbor:"data"`
}

// IncrementalResult is one subscription-manager event. Replaces names a
// node whose previous send is now stale; Nodes carries the replacement
// content. Remove-only: Replaces set, Nodes empty. Add: Replaces nil,
// one entry in Nodes. Replace: both set. Split: Replaces set, several
// entries in Nodes. UpdateNumber is the value a client must echo back in
// its next ResultAck once it has processed this message, for flow
// control (spec §4.10.4).
type IncrementalResult struct {
	Replaces     *NodeRef     `cbor:"replaces,omitempty"`
	Nodes        []NodeUpdate `cbor:"nodes"`
	UpdateNumber uint64       `cbor:"update_number"`
}

func (IncrementalResult) wireTag() string { return "IncrementalResult" }

// ResultAck is the client's flow-control signal: the highest
// IncrementalResult update number it has processed so far.
type ResultAck struct {
	UpdateNumber uint64 `cbor:"update_number"`
}

func (ResultAck) wireTag() string { return "ResultAck" }
