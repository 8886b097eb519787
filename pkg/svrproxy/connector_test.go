package svrproxy

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/VTMIST/aal-pip/internal/aalpipcfg"
	"github.com/VTMIST/aal-pip/pkg/proxypkt"
	"github.com/VTMIST/aal-pip/pkg/sockio"
)

func withFlagFiles(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origConnect, origDisconnect := aalpipcfg.ConnectTimeFile, aalpipcfg.DisconnectTimeFile
	aalpipcfg.ConnectTimeFile = filepath.Join(dir, "connect_time")
	aalpipcfg.DisconnectTimeFile = filepath.Join(dir, "disconnect_time")
	t.Cleanup(func() {
		aalpipcfg.ConnectTimeFile = origConnect
		aalpipcfg.DisconnectTimeFile = origDisconnect
	})
	return dir
}

func waitForFile(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("file %s was never created", path)
}

// acceptOne starts a listener and returns a channel delivering the first
// accepted connection, standing in for modem_svr's tunnel-accept socket.
func acceptOne(t *testing.T) (addr string, next func() net.Conn, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ch := make(chan net.Conn, 4)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			ch <- conn
		}
	}()
	return ln.Addr().String(), func() net.Conn {
		select {
		case c := <-ch:
			return c
		case <-time.After(2 * time.Second):
			t.Fatal("no connection accepted in time")
			return nil
		}
	}, func() { ln.Close() }
}

func TestConnectorRepliesToPing(t *testing.T) {
	dir := withFlagFiles(t)
	addr, next, stop := acceptOne(t)
	defer stop()

	c := NewConnector(addr, nil, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	modemConn := next()
	h := sockio.New(modemConn, sockio.PacketMode, nil)
	defer h.Stop()

	waitForFile(t, filepath.Join(dir, "connect_time"))

	if err := h.Write(ctx, proxypkt.NewPing().Marshal()); err != nil {
		t.Fatal(err)
	}

	select {
	case buf := <-h.ReadQueue():
		pkt, err := proxypkt.Parse(buf)
		if err != nil {
			t.Fatal(err)
		}
		if pkt.Type != proxypkt.Ping {
			t.Errorf("got %v, want Ping", pkt.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no ping reply")
	}
}

func TestConnectorTouchesDisconnectFlagOnSessionEnd(t *testing.T) {
	dir := withFlagFiles(t)
	addr, next, stop := acceptOne(t)
	defer stop()

	c := NewConnector(addr, nil, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	modemConn := next()
	waitForFile(t, filepath.Join(dir, "connect_time"))

	modemConn.Close()

	waitForFile(t, filepath.Join(dir, "disconnect_time"))
}

func TestConnectorRedialsAfterDisconnect(t *testing.T) {
	withFlagFiles(t)
	addr, next, stop := acceptOne(t)
	defer stop()

	c := NewConnector(addr, nil, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	first := next()
	first.Close()

	// Connector should notice the loss and redial, producing a second
	// accepted connection without Run itself returning.
	second := next()
	if second == nil {
		t.Fatal("expected a second connection after the first was dropped")
	}
}

func TestConnectorLastTransferZeroWhenNotConnected(t *testing.T) {
	withFlagFiles(t)
	c := NewConnector("127.0.0.1:1", nil, nil, zerolog.Nop())
	if !c.LastTransfer().IsZero() {
		t.Error("expected zero LastTransfer with no active session")
	}
}

func TestConnectorLastTransferUpdatesOnDataPacket(t *testing.T) {
	withFlagFiles(t)
	addr, next, stop := acceptOne(t)
	defer stop()

	c := NewConnector(addr, nil, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	modemConn := next()
	h := sockio.New(modemConn, sockio.PacketMode, nil)
	defer h.Stop()

	before := c.LastTransfer()

	if err := h.Write(ctx, proxypkt.NewICCIDReq().Marshal()); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.LastTransfer().After(before) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("LastTransfer did not advance after an ICCID_REQ packet")
}
