package wire

import (
	"encoding/binary"
	"io"
	"net"

	"github.com/lidarserv/lidarserv/internal/errs"
)

// Magic is the 18-byte ASCII literal both peers exchange before any
// framed message.
const Magic = "LidarServ Protocol"

// CurrentProtocolVersion is the Hello.protocol_version this build speaks.
const CurrentProtocolVersion = 1

const lengthPrefixSize = 8

// Conn is one handshaken protocol connection: a net.Conn plus the
// length-prefixed CBOR framing in both directions. Grounded on the
// original peer's one-goroutine-per-connection read/write shape
// (net/protocol/connection.go's Connection type), adapted from
// async-select-based cancellation to plain blocking I/O with
// context-driven deadlines set by the caller.
type Conn struct {
	nc net.Conn
}

// Handshake writes Magic, reads the peer's Magic, and returns a framed
// Conn. Both sides write before reading so neither blocks waiting for
// the other to go first. A peer that sends the wrong magic is rejected
// without waiting for our own write to complete.
func Handshake(nc net.Conn) (*Conn, error) {
	writeErr := make(chan error, 1)
	go func() {
		_, err := nc.Write([]byte(Magic))
		writeErr <- err
	}()

	buf := make([]byte, len(Magic))
	_, readErr := io.ReadFull(nc, buf)
	if readErr == nil && string(buf) != Magic {
		return nil, errs.Wrap(errs.KindProtocol, errs.ErrBadHandshake)
	}
	if err := <-writeErr; err != nil {
		return nil, errs.Wrap(errs.KindIO, err)
	}
	if readErr != nil {
		return nil, errs.Wrap(errs.KindProtocol, readErr)
	}
	if string(buf) != Magic {
		return nil, errs.Wrap(errs.KindProtocol, errs.ErrBadHandshake)
	}
	return &Conn{nc: nc}, nil
}

// ReadMessage blocks for one complete frame and decodes it.
func (c *Conn) ReadMessage() (Message, error) {
	var lenBuf [lengthPrefixSize]byte
	if _, err := io.ReadFull(c.nc, lenBuf[:]); err != nil {
		return nil, errs.Wrap(errs.KindProtocol, err)
	}
	n := binary.LittleEndian.Uint64(lenBuf[:])
	payload := make([]byte, n)
	if _, err := io.ReadFull(c.nc, payload); err != nil {
		return nil, errs.Wrap(errs.KindProtocol, err)
	}
	return Decode(payload)
}

// WriteMessage encodes and sends one frame.
func (c *Conn) WriteMessage(m Message) error {
	payload, err := Encode(m)
	if err != nil {
		return err
	}
	var lenBuf [lengthPrefixSize]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(payload)))
	if _, err := c.nc.Write(lenBuf[:]); err != nil {
		return errs.Wrap(errs.KindIO, err)
	}
	if _, err := c.nc.Write(payload); err != nil {
		return errs.Wrap(errs.KindIO, err)
	}
	return nil
}

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.nc.Close() }

// RemoteAddr returns the underlying connection's remote address, for logging.
func (c *Conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }
