package server

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/lidarserv/lidarserv/internal/config"
	"github.com/lidarserv/lidarserv/pkg/nodeid"
	"github.com/lidarserv/lidarserv/pkg/nodestore"
	"github.com/lidarserv/lidarserv/pkg/wire"
)

func negotiateAsClient(t *testing.T, c *wire.Conn, device wire.Device) {
	t.Helper()
	msg, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read server Hello: %v", err)
	}
	if _, ok := msg.(wire.Hello); !ok {
		t.Fatalf("got %T, want Hello", msg)
	}
	if err := c.WriteMessage(wire.Hello{ProtocolVersion: wire.CurrentProtocolVersion}); err != nil {
		t.Fatalf("write client Hello: %v", err)
	}
	msg, err = c.ReadMessage()
	if err != nil {
		t.Fatalf("read PointCloudInfo: %v", err)
	}
	if _, ok := msg.(wire.PointCloudInfo); !ok {
		t.Fatalf("got %T, want PointCloudInfo", msg)
	}
	if err := c.WriteMessage(wire.ConnectionMode{Device: device}); err != nil {
		t.Fatalf("write ConnectionMode: %v", err)
	}
}

func TestCaptureConnectionInsertsPoints(t *testing.T) {
	dir := t.TempDir()
	settings := testSettings()
	if err := config.Save(dir, settings); err != nil {
		t.Fatal(err)
	}
	srv, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Start()
	defer srv.Close()

	clientNC, serverNC := net.Pipe()
	defer clientNC.Close()
	connDone := make(chan struct{})
	go func() {
		srv.handleConn(ctx, serverNC)
		close(connDone)
	}()

	c, err := wire.Handshake(clientNC)
	if err != nil {
		t.Fatal(err)
	}
	negotiateAsClient(t, c, wire.DeviceCaptureDevice)

	lasPath := t.TempDir() + "/insert.las"
	if err := nodestore.WriteLAS(lasPath, settings.Schema, testPoint(settings.Schema, 0, 0, 0, 7)); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(lasPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.WriteMessage(wire.InsertPoints{Data: data}); err != nil {
		t.Fatal(err)
	}

	clientNC.Close()
	select {
	case <-connDone:
	case <-time.After(time.Second):
		t.Fatal("server capture handler never returned after client close")
	}

	if err := srv.pipeline.Quiesce(ctx); err != nil {
		t.Fatal(err)
	}
	h, err := srv.Cache().Get(nodeid.Root())
	if err != nil {
		t.Fatal(err)
	}
	h.Lock()
	n := h.Points().Len()
	h.Unlock()
	h.Release()
	if n != 1 {
		t.Errorf("got %d points at root after capture insert, want 1", n)
	}
}

func TestViewerConnectionReceivesExistingContent(t *testing.T) {
	dir := t.TempDir()
	settings := testSettings()
	if err := config.Save(dir, settings); err != nil {
		t.Fatal(err)
	}
	srv, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Start()
	defer srv.Close()

	if err := srv.pipeline.Insert(ctx, testPoint(settings.Schema, 0, 0, 0, 42)); err != nil {
		t.Fatal(err)
	}
	if err := srv.pipeline.Quiesce(ctx); err != nil {
		t.Fatal(err)
	}

	clientNC, serverNC := net.Pipe()
	defer clientNC.Close()
	go srv.handleConn(ctx, serverNC)

	c, err := wire.Handshake(clientNC)
	if err != nil {
		t.Fatal(err)
	}
	negotiateAsClient(t, c, wire.DeviceViewer)

	query := wire.Query{Aabb: &wire.AabbQuery{
		MinBounds: [3]float64{-1000, -1000, -1000},
		MaxBounds: [3]float64{1000, 1000, 1000},
		LodLevel:  settings.HierarchyShift.MaxLod,
	}}
	if err := c.WriteMessage(query); err != nil {
		t.Fatal(err)
	}

	msg, err := c.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	result, ok := msg.(wire.IncrementalResult)
	if !ok {
		t.Fatalf("got %T, want IncrementalResult", msg)
	}
	if len(result.Nodes) != 1 {
		t.Fatalf("got %d node updates, want 1", len(result.Nodes))
	}
	if result.UpdateNumber == 0 {
		t.Error("IncrementalResult carries no update number to ack")
	}

	if err := c.WriteMessage(wire.ResultAck{UpdateNumber: result.UpdateNumber}); err != nil {
		t.Fatal(err)
	}
}
