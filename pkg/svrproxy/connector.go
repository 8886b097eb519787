// Package svrproxy implements the observatory-side half of the RUDICS
// tunnel: it keeps dialing the modem server's local tunnel socket, and while
// connected pumps proxy packets between that link and a proxyhub.Hub, which
// fans them out to (and collects replies from) the local server processes
// the remote end is actually talking to. It is grounded on the original
// server proxy's ModemSvrConnector/ModemSvrConnection pair, collapsed into a
// single retrying Connector now that sockio.Handler and proxyhub.Hub already
// supply the per-connection plumbing.
package svrproxy

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/rs/zerolog"

	"github.com/VTMIST/aal-pip/internal/aalpipcfg"
	"github.com/VTMIST/aal-pip/pkg/proxyhub"
	"github.com/VTMIST/aal-pip/pkg/proxypkt"
	"github.com/VTMIST/aal-pip/pkg/sockio"
)

// redialPeriod is how long Connector waits between failed dial attempts,
// matching ModemSvrConnector's 0.5s poll.
const redialPeriod = 500 * time.Millisecond

// dialTimeout bounds a single connection attempt to the modem server.
const dialTimeout = 5 * time.Second

// reapInterval is how often a session's Hub prunes dead per-stream
// connections.
const reapInterval = 30 * time.Second

// Connector owns the modem server tunnel link: it redials modemSvrAddr
// whenever disconnected, and for each successful connection runs a session
// that demultiplexes proxy packets through a fresh proxyhub.Hub.
type Connector struct {
	modemSvrAddr string
	iccid        proxyhub.ICCIDFetcher
	set          *metrics.Set
	log          zerolog.Logger

	mu         sync.Mutex
	curHub     *proxyhub.Hub
	curHandler *sockio.Handler
}

// NewConnector creates a Connector that will dial modemSvrAddr. iccid is
// used to answer ICCID_REQ packets arriving over the tunnel; it may be nil,
// in which case such requests are logged and dropped. set may be nil, in
// which case no metrics are registered.
func NewConnector(modemSvrAddr string, iccid proxyhub.ICCIDFetcher, set *metrics.Set, log zerolog.Logger) *Connector {
	c := &Connector{modemSvrAddr: modemSvrAddr, iccid: iccid, set: set, log: log}
	if set != nil {
		set.NewGauge(`svrproxy_tunnel_rx_bytes`, func() float64 { return float64(c.rxBytes()) })
		set.NewGauge(`svrproxy_tunnel_tx_bytes`, func() float64 { return float64(c.txBytes()) })
	}
	return c
}

// rxBytes and txBytes report cumulative tunnel byte counts for the
// currently active session, or 0 if no session is connected.
func (c *Connector) rxBytes() uint64 {
	c.mu.Lock()
	h := c.curHandler
	c.mu.Unlock()
	if h == nil {
		return 0
	}
	return h.RXBytes()
}

func (c *Connector) txBytes() uint64 {
	c.mu.Lock()
	h := c.curHandler
	c.mu.Unlock()
	if h == nil {
		return 0
	}
	return h.TXBytes()
}

// Run dials and redials the modem server until ctx is canceled, running one
// session per successful connection.
func (c *Connector) Run(ctx context.Context) {
	for {
		conn, err := net.DialTimeout("tcp", c.modemSvrAddr, dialTimeout)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(redialPeriod):
				continue
			}
		}

		c.log.Info().Str("addr", c.modemSvrAddr).Msg("connected to modem server")
		c.runSession(ctx, conn)
		c.log.Info().Msg("disconnected from modem server")

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// LastTransfer returns the time of the most recent non-ping packet handled
// by the current session's Hub, or the zero Time if no session is active.
func (c *Connector) LastTransfer() time.Time {
	c.mu.Lock()
	hub := c.curHub
	c.mu.Unlock()
	if hub == nil {
		return time.Time{}
	}
	return hub.XferRec().LastTransfer()
}

func (c *Connector) runSession(ctx context.Context, conn net.Conn) {
	sessDone := make(chan struct{})
	handler := sockio.New(conn, sockio.PacketMode, func(*sockio.Handler) {
		close(sessDone)
	})
	defer handler.Stop()

	hub := proxyhub.New(dialLocalServer, c.iccid, c.set, c.log)
	c.mu.Lock()
	c.curHub = hub
	c.curHandler = handler
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.curHub = nil
		c.curHandler = nil
		c.mu.Unlock()
	}()

	reapCtx, cancelReap := context.WithCancel(ctx)
	defer cancelReap()
	hub.Reap(reapCtx, reapInterval)

	if err := proxyhub.TouchFlagFile(aalpipcfg.ConnectTimeFile); err != nil {
		c.log.Error().Err(err).Msg("could not touch connect flag file")
	}
	defer func() {
		if err := proxyhub.TouchFlagFile(aalpipcfg.DisconnectTimeFile); err != nil {
			c.log.Error().Err(err).Msg("could not touch disconnect flag file")
		}
	}()

	stopOut := make(chan struct{})
	defer close(stopOut)
	go c.pumpOutgoing(ctx, handler, hub, stopOut)

	for {
		select {
		case buf, ok := <-handler.ReadQueue():
			if !ok {
				return
			}
			pkt, err := proxypkt.Parse(buf)
			if err != nil {
				c.log.Error().Err(err).Msg("bad proxy packet from modem server")
				continue
			}
			hub.HandlePacket(pkt)

		case <-sessDone:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *Connector) pumpOutgoing(ctx context.Context, handler *sockio.Handler, hub *proxyhub.Hub, stop <-chan struct{}) {
	for {
		select {
		case pkt := <-hub.Outgoing():
			if err := handler.Write(ctx, pkt.Marshal()); err != nil {
				return
			}
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func dialLocalServer(port uint16) (net.Conn, error) {
	return net.DialTimeout("tcp", fmt.Sprintf("localhost:%d", port), dialTimeout)
}
