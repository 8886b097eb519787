package modemsvr

import (
	"context"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"github.com/VTMIST/aal-pip/pkg/rpc"
)

// Service adapts Connector to the net/rpc method shape for registration
// with pkg/rpc.Server, replacing the original XML-RPC get_iccid method.
type Service struct {
	connector *Connector
}

// NewService wraps connector for RPC registration.
func NewService(connector *Connector) *Service { return &Service{connector: connector} }

// GetICCID returns the modem's SIM ICCID, or "" if not currently connected.
func (s *Service) GetICCID(_ struct{}, reply *string) error {
	*reply = s.connector.ICCID()
	return nil
}

// Client calls a remote modem server's GetICCID method, implementing
// proxyhub.ICCIDFetcher.
type Client struct {
	rpc *rpc.Client
}

// NewClient wraps an RPC client addressed at a modem server's RPC port. set
// may be nil.
func NewClient(addr string, timeout time.Duration, set *metrics.Set) *Client {
	return &Client{rpc: rpc.NewClient(addr, timeout, set)}
}

// ICCID implements proxyhub.ICCIDFetcher.
func (c *Client) ICCID(ctx context.Context) (string, error) {
	var reply string
	if err := c.rpc.Call(ctx, "Service.GetICCID", struct{}{}, &reply); err != nil {
		return "", err
	}
	return reply, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() error { return c.rpc.Close() }
