package server

import (
	"context"
	"net"

	"github.com/lidarserv/lidarserv/internal/errs"
	"github.com/lidarserv/lidarserv/internal/logger"
	"github.com/lidarserv/lidarserv/pkg/nodestore"
	"github.com/lidarserv/lidarserv/pkg/subscription"
	"github.com/lidarserv/lidarserv/pkg/wire"
)

// handleConn runs one connection's full lifecycle: handshake, Hello,
// PointCloudInfo, ConnectionMode, then either capture-mode or viewer-mode
// handling until the peer disconnects or a protocol-kind error occurs
// (spec §7: "Protocol ... close the offending connection; the server
// continues").
func (s *Server) handleConn(ctx context.Context, nc net.Conn) {
	defer nc.Close()
	clog := s.log.ConnLogger(nc.RemoteAddr().String())

	c, err := wire.Handshake(nc)
	if err != nil {
		clog.Warn("handshake failed").Err(err).Send()
		return
	}

	mode, err := s.negotiate(c)
	if err != nil {
		clog.Warn("negotiation failed").Err(err).Send()
		return
	}

	switch mode {
	case wire.DeviceCaptureDevice:
		s.runCapture(ctx, c, clog)
	case wire.DeviceViewer:
		s.runViewer(ctx, c, clog)
	}
}

// negotiate runs the fixed Hello/PointCloudInfo/ConnectionMode preamble
// every connection goes through before its mode-specific loop starts: the
// server sends its Hello first, then checks the client's.
func (s *Server) negotiate(c *wire.Conn) (wire.Device, error) {
	if err := c.WriteMessage(wire.Hello{ProtocolVersion: wire.CurrentProtocolVersion}); err != nil {
		return "", err
	}

	msg, err := c.ReadMessage()
	if err != nil {
		return "", err
	}
	hello, ok := msg.(wire.Hello)
	if !ok {
		return "", errs.Newf(errs.KindProtocol, "server: expected Hello, got %T", msg)
	}
	if hello.ProtocolVersion != wire.CurrentProtocolVersion {
		return "", errs.Wrap(errs.KindProtocol, errs.ErrProtocolVersion)
	}

	if err := c.WriteMessage(wire.PointCloudInfoOf(s.cs)); err != nil {
		return "", err
	}

	msg, err = c.ReadMessage()
	if err != nil {
		return "", err
	}
	cm, ok := msg.(wire.ConnectionMode)
	if !ok {
		return "", errs.Newf(errs.KindProtocol, "server: expected ConnectionMode, got %T", msg)
	}
	if cm.Device != wire.DeviceCaptureDevice && cm.Device != wire.DeviceViewer {
		return "", errs.Wrap(errs.KindProtocol, errs.ErrWrongMode)
	}
	return cm.Device, nil
}

// runCapture handles a capture-device connection: every InsertPoints
// message is decoded from LAS and fed to the insertion pipeline.
// Per spec §9 "Cancellation", a capture session that closes mid-batch
// still has its already-enqueued points processed — Insert has already
// handed them to the scheduler before ReadMessage can return an error for
// the next frame.
func (s *Server) runCapture(ctx context.Context, c *wire.Conn, clog *logger.Logger) {
	for {
		msg, err := c.ReadMessage()
		if err != nil {
			clog.Info("capture connection closed").Send()
			return
		}
		ip, ok := msg.(wire.InsertPoints)
		if !ok {
			clog.Warn("unexpected message in capture mode").Send()
			return
		}
		pts, err := nodestore.ReadLASBytes(s.cfg.Schema, ip.Data)
		if err != nil {
			clog.Warn("malformed InsertPoints payload").Err(err).Send()
			return
		}
		if err := s.pipeline.Insert(ctx, pts); err != nil {
			clog.Warn("insert failed").Err(err).Send()
			return
		}
	}
}

// runViewer handles a viewer connection: a reader goroutine forwards
// Query and ResultAck messages, while the connection's own goroutine
// owns a subscription.Manager and writes IncrementalResult messages
// whenever the broadcaster wakes it or a new query arrives.
func (s *Server) runViewer(ctx context.Context, c *wire.Conn, clog *logger.Logger) {
	mgr := subscription.New(s.tree)

	type inbound struct {
		query *wire.Query
		ack   *wire.ResultAck
	}
	inCh := make(chan inbound)
	readErrCh := make(chan error, 1)

	go func() {
		for {
			msg, err := c.ReadMessage()
			if err != nil {
				readErrCh <- err
				return
			}
			switch m := msg.(type) {
			case wire.Query:
				inCh <- inbound{query: &m}
			case wire.ResultAck:
				inCh <- inbound{ack: &m}
			default:
				readErrCh <- errs.Newf(errs.KindProtocol, "server: unexpected message in viewer mode: %T", msg)
				return
			}
		}
	}()

	var gen uint64
	wake := make(chan struct{}, 1)
	go func() {
		for {
			g, ok := s.changed.wait(gen)
			if !ok {
				close(wake)
				return
			}
			gen = g
			select {
			case wake <- struct{}{}:
			default:
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-readErrCh:
			clog.Info("viewer connection closed").Send()
			return
		case in := <-inCh:
			if in.query != nil {
				eval, err := wire.EvaluatorOf(*in.query, s.cs)
				if err != nil {
					clog.Warn("bad query").Err(err).Send()
					return
				}
				mgr.SetQuery(eval)
			}
			if in.ack != nil {
				mgr.Ack(in.ack.UpdateNumber)
			}
			if err := s.drainEvents(c, mgr); err != nil {
				clog.Warn("write failed").Err(err).Send()
				return
			}
		case _, ok := <-wake:
			if !ok {
				return
			}
			if err := s.drainEvents(c, mgr); err != nil {
				clog.Warn("write failed").Err(err).Send()
				return
			}
		}
	}
}

// drainEvents polls mgr and writes every event Poll currently allows as
// one IncrementalResult per event, fetching each add/replace node's
// current content from the page cache and filtering it through the
// event's PointFilter when the match was partial.
func (s *Server) drainEvents(c *wire.Conn, mgr *subscription.Manager) error {
	for _, ev := range mgr.Poll() {
		ref := wire.RefOf(ev.ID)
		switch ev.Kind {
		case subscription.EventRemove:
			if err := c.WriteMessage(wire.IncrementalResult{Replaces: &ref, UpdateNumber: ev.UpdateNumber}); err != nil {
				return err
			}
		case subscription.EventAdd, subscription.EventReplace:
			data, err := s.encodeNode(ev)
			if err != nil {
				return err
			}
			result := wire.IncrementalResult{
				Nodes:        []wire.NodeUpdate{{Node: ref, Data: data}},
				UpdateNumber: ev.UpdateNumber,
			}
			if ev.Kind == subscription.EventReplace {
				result.Replaces = &ref
			}
			if err := c.WriteMessage(result); err != nil {
				return err
			}
		}
	}
	return nil
}

// encodeNode loads ev.ID's current points from the page cache and
// serialises them for the wire, applying ev.Filter if the match was
// partial. Returns a single-element slice, matching the wire's
// data:[bytes] shape (one element per serialised buffer; this server
// never splits a node's content across multiple buffers).
func (s *Server) encodeNode(ev subscription.Event) ([][]byte, error) {
	h, err := s.cache.Get(ev.ID)
	if err != nil {
		return nil, err
	}
	defer h.Release()

	h.Lock()
	points := h.Points()
	h.Unlock()

	if !ev.Include && ev.Filter != nil {
		points = points.Select(func(i int) bool { return ev.Filter(points, i) })
	}
	return [][]byte{wire.EncodePoints(s.cfg.Schema, points)}, nil
}
