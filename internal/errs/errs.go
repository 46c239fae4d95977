// Package errs defines the error taxonomy shared across LidarServ's
// components and the exit-code mapping for the server binary.
package errs

import (
	"errors"
	"fmt"
)

// Kind is the error taxonomy from the on-disk/wire specification: which
// failures are fatal, which are local to a connection, and which are local
// to a single point or node.
type Kind int

const (
	// KindUnknown is returned by AsKind for errors not tagged with a Kind.
	KindUnknown Kind = iota
	// KindConfiguration covers bad settings or incompatible post-init changes.
	KindConfiguration
	// KindProtocol covers framing errors, unknown messages, mode violations.
	KindProtocol
	// KindCodec covers malformed LAS/LAZ data or scale/offset mismatches.
	KindCodec
	// KindIO covers disk read/write failures.
	KindIO
	// KindResource covers exhaustion of a bounded resource (e.g. a cache
	// full of pinned entries).
	KindResource
	// KindOutOfRange covers a global coordinate outside the quantisable range.
	KindOutOfRange
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindProtocol:
		return "protocol"
	case KindCodec:
		return "codec"
	case KindIO:
		return "io"
	case KindResource:
		return "resource"
	case KindOutOfRange:
		return "out_of_range"
	default:
		return "unknown"
	}
}

// kindError wraps an underlying error with a Kind, without hiding it from
// errors.Is/errors.As.
type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }

// Wrap tags err with kind. Wrapping a nil error returns nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// Newf builds and tags a new error in one call.
func Newf(kind Kind, format string, args ...any) error {
	return &kindError{kind: kind, err: fmt.Errorf(format, args...)}
}

// AsKind returns the Kind attached to err by Wrap/Newf, walking the chain
// with errors.As. Returns KindUnknown if no Kind was ever attached.
func AsKind(err error) Kind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return KindUnknown
}

// ExitCode maps an error's Kind to the process exit codes from the
// wire/CLI specification: 0 success, 1 user error, 2 I/O error, 3 protocol
// error on a server connection.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch AsKind(err) {
	case KindConfiguration:
		return 1
	case KindIO:
		return 2
	case KindProtocol:
		return 3
	default:
		return 1
	}
}

// Sentinel errors for conditions checked frequently enough to warrant
// errors.Is comparisons rather than ad-hoc string matching.
var (
	// ErrOutOfRange is returned by coordsys.Quantise on saturation.
	ErrOutOfRange = errors.New("coordinate out of quantisable range")
	// ErrNodeNotFound is returned by the node store when no file exists for an id.
	ErrNodeNotFound = errors.New("node not found")
	// ErrVersionMismatch signals a node file was concurrently replaced.
	ErrVersionMismatch = errors.New("node version mismatch")
	// ErrClosed is returned by operations on a shut-down component.
	ErrClosed = errors.New("component closed")
	// ErrBadHandshake is returned when a peer's handshake literal doesn't match.
	ErrBadHandshake = errors.New("bad protocol handshake")
	// ErrProtocolVersion is returned on an incompatible Hello.protocol_version.
	ErrProtocolVersion = errors.New("incompatible protocol version")
	// ErrWrongMode is returned when a message arrives in the wrong connection mode.
	ErrWrongMode = errors.New("message not valid in current connection mode")
)
