package svrproxy

import (
	"context"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/rs/zerolog"

	"github.com/VTMIST/aal-pip/pkg/rpc"
)

// Service adapts Connector to the net/rpc method shape for registration with
// pkg/rpc.Server, replacing the original XMLRPCThread.time_of_last_data_xfer.
type Service struct {
	connector *Connector
}

// NewService wraps connector for RPC registration.
func NewService(connector *Connector) *Service { return &Service{connector: connector} }

// TimeOfLastXfer returns the Unix time of the most recent non-ping data
// transfer across the tunnel, or 0 if no session is currently connected.
func (s *Service) TimeOfLastXfer(_ struct{}, reply *int64) error {
	last := s.connector.LastTransfer()
	if last.IsZero() {
		*reply = 0
		return nil
	}
	*reply = last.Unix()
	return nil
}

// Client calls a remote server proxy's TimeOfLastXfer method, used by the
// supervisor's modem power controller to tell whether the tunnel is still
// carrying data.
type Client struct {
	rpc *rpc.Client
	log zerolog.Logger
}

// NewClient wraps an RPC client addressed at a server proxy's RPC port. set
// may be nil.
func NewClient(addr string, timeout time.Duration, set *metrics.Set, log zerolog.Logger) *Client {
	return &Client{rpc: rpc.NewClient(addr, timeout, set), log: log}
}

// LastTransfer returns the time of the most recent non-ping data transfer
// reported by the server proxy, or the zero Time if the call fails --
// matching ModemPowerController's tolerance of a momentarily unreachable
// collaborator.
func (c *Client) LastTransfer() time.Time {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var unix int64
	if err := c.rpc.Call(ctx, "Service.TimeOfLastXfer", struct{}{}, &unix); err != nil {
		c.log.Error().Err(err).Msg("could not fetch last transfer time from server proxy")
		return time.Time{}
	}
	if unix == 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0)
}

// Close releases the underlying RPC connection.
func (c *Client) Close() error { return c.rpc.Close() }
