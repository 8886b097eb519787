package svrproxy

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/VTMIST/aal-pip/pkg/rpc"
)

func startServiceRPC(t *testing.T, connector *Connector) *Client {
	t.Helper()
	svc := NewService(connector)
	srv, err := rpc.Serve("127.0.0.1:0", svc, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(srv.Stop)

	client := NewClient(srv.Addr().String(), 2*time.Second, nil, zerolog.Nop())
	t.Cleanup(func() { client.Close() })
	return client
}

func TestClientLastTransferZeroWhenNoSession(t *testing.T) {
	withFlagFiles(t)
	connector := NewConnector("127.0.0.1:1", nil, nil, zerolog.Nop())
	client := startServiceRPC(t, connector)

	if !client.LastTransfer().IsZero() {
		t.Error("expected zero LastTransfer with no active session")
	}
}

func TestClientLastTransferReflectsActiveSession(t *testing.T) {
	withFlagFiles(t)
	addr, next, stop := acceptOne(t)
	defer stop()

	connector := NewConnector(addr, nil, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go connector.Run(ctx)

	_ = next() // wait for the session to establish

	client := startServiceRPC(t, connector)

	before := time.Now().Add(-time.Minute)
	got := client.LastTransfer()
	if got.Before(before) {
		t.Errorf("LastTransfer = %v, want a time close to now", got)
	}
}
