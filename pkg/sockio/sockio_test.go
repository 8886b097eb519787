package sockio

import (
	"context"
	"net"
	"testing"
	"time"
)

func pipeConns(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	clientCh := make(chan net.Conn, 1)
	go func() {
		c, err := net.Dial("tcp", ln.Addr().String())
		if err != nil {
			t.Error(err)
			return
		}
		clientCh <- c
	}()
	server, err := ln.Accept()
	if err != nil {
		t.Fatal(err)
	}
	client := <-clientCh
	return server, client
}

func TestStreamModeRoundTrip(t *testing.T) {
	a, b := pipeConns(t)
	ha := New(a, StreamMode, nil)
	hb := New(b, StreamMode, nil)
	defer ha.Stop()
	defer hb.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ha.Write(ctx, []byte("hello")); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-hb.ReadQueue():
		if string(got) != "hello" {
			t.Errorf("got %q, want hello", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for data")
	}
}

func TestPacketModeRoundTrip(t *testing.T) {
	a, b := pipeConns(t)
	ha := New(a, PacketMode, nil)
	hb := New(b, PacketMode, nil)
	defer ha.Stop()
	defer hb.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	payload := []byte("a framed packet")
	if err := ha.Write(ctx, payload); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-hb.ReadQueue():
		if string(got) != string(payload) {
			t.Errorf("got %q, want %q", got, payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for packet")
	}
}

func TestStopInvokesExitCallback(t *testing.T) {
	a, b := pipeConns(t)
	defer b.Close()

	done := make(chan struct{})
	h := New(a, StreamMode, func(*Handler) { close(done) })
	h.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("exit callback was not invoked")
	}
	if h.IsRunning() {
		t.Error("expected IsRunning to be false after Stop")
	}
}

func TestPeerCloseInvokesExitCallback(t *testing.T) {
	a, b := pipeConns(t)

	done := make(chan struct{})
	h := New(a, StreamMode, func(*Handler) { close(done) })
	defer h.Stop()

	b.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("exit callback was not invoked after peer closed")
	}
}

func TestWriteAfterStopReturnsErrClosed(t *testing.T) {
	a, b := pipeConns(t)
	defer b.Close()

	h := New(a, StreamMode, nil)
	h.Stop()

	if err := h.Write(context.Background(), []byte("x")); err != ErrClosed {
		t.Errorf("got %v, want ErrClosed", err)
	}
}
