package hwmgr

import (
	"context"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"github.com/VTMIST/aal-pip/pkg/hwstatus"
	"github.com/VTMIST/aal-pip/pkg/rpc"
)

// Client calls a remote hardware manager's RPC surface. It wraps pkg/rpc's
// lazy-dial, retry-once Client, replacing the original's per-caller XML-RPC
// server handle plus utils.Lock serialization (pkg/rpc.Client already
// serializes calls on its own mutex).
type Client struct {
	rpc *rpc.Client
}

// NewClient addresses a hardware manager's RPC port. set may be nil.
func NewClient(addr string, timeout time.Duration, set *metrics.Set) *Client {
	return &Client{rpc: rpc.NewClient(addr, timeout, set)}
}

// SetPower turns device on or off, mirroring utils.set_power_state.
func (c *Client) SetPower(ctx context.Context, device, state string) error {
	var reply string
	return c.rpc.Call(ctx, "Service.SetPower", SetPowerArgs{Device: device, State: state}, &reply)
}

// ResetOvercurrent clears a latched overcurrent condition.
func (c *Client) ResetOvercurrent(ctx context.Context) error {
	var reply string
	return c.rpc.Call(ctx, "Service.ResetOvercurrent", struct{}{}, &reply)
}

// Refresh asks the manager to update its status snapshot.
func (c *Client) Refresh(ctx context.Context) error {
	var reply string
	return c.rpc.Call(ctx, "Service.Refresh", struct{}{}, &reply)
}

// GetStatus fetches a single named status value, mirroring utils.get_hw_status.
func (c *Client) GetStatus(ctx context.Context, name string) (string, error) {
	var reply string
	if err := c.rpc.Call(ctx, "Service.GetStatus", name, &reply); err != nil {
		return "", err
	}
	return reply, nil
}

// GetFullStatus fetches the entire status snapshot, mirroring
// utils.get_full_hw_status.
func (c *Client) GetFullStatus(ctx context.Context) (hwstatus.Status, error) {
	var reply hwstatus.Status
	if err := c.rpc.Call(ctx, "Service.GetFullStatus", struct{}{}, &reply); err != nil {
		return hwstatus.Status{}, err
	}
	return reply, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() error { return c.rpc.Close() }
