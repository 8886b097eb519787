// Package proxyhub implements the server-proxy side of the RUDICS tunnel:
// it demultiplexes proxy packets arriving from the modem server among the
// local TCP streams they belong to, and multiplexes local stream data back
// into proxy packets toward the modem server. It is grounded on the
// original server proxy's ModemSvrConnection/ServerConnection pair.
package proxyhub

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/rs/zerolog"

	"github.com/VTMIST/aal-pip/pkg/proxypkt"
)

// ICCIDFetcher retrieves the modem's SIM ICCID, proxied to the modem server
// process over RPC.
type ICCIDFetcher interface {
	ICCID(ctx context.Context) (string, error)
}

// Hub dispatches incoming proxy packets to per-stream connections and
// collects outgoing proxy packets (PASSTHROUGH from local streams, PING
// replies, ICCID responses) onto a single channel the caller drains toward
// the modem server link.
type Hub struct {
	dialServer func(port uint16) (net.Conn, error)
	iccid      ICCIDFetcher
	outgoing   chan proxypkt.Pkt
	xfer       *XferRec
	log        zerolog.Logger

	pktsTotal *metrics.Counter

	mu    sync.Mutex
	conns map[connKey]*serverConn
}

// New creates a Hub. dialServer connects to a local server given its port;
// in production this is net.Dial("tcp", fmt.Sprintf("localhost:%d", port)).
// set may be nil, in which case no metrics are registered.
func New(dialServer func(port uint16) (net.Conn, error), iccid ICCIDFetcher, set *metrics.Set, log zerolog.Logger) *Hub {
	h := &Hub{
		dialServer: dialServer,
		iccid:      iccid,
		outgoing:   make(chan proxypkt.Pkt, 64),
		xfer:       NewXferRec(),
		log:        log,
		conns:      make(map[connKey]*serverConn),
	}
	if set != nil {
		h.pktsTotal = set.NewCounter(`proxyhub_packets_total`)
	}
	return h
}

// Outgoing returns the channel of packets the Hub wants sent to the modem
// server. The caller is responsible for draining it and writing each packet
// to the link.
func (h *Hub) Outgoing() <-chan proxypkt.Pkt { return h.outgoing }

// XferRec returns the hub's transfer-activity record.
func (h *Hub) XferRec() *XferRec { return h.xfer }

// HandlePacket dispatches a single packet received from the modem server,
// matching ModemSvrConnection.run's packet-type switch.
func (h *Hub) HandlePacket(pkt proxypkt.Pkt) {
	if h.pktsTotal != nil {
		h.pktsTotal.Inc()
	}
	switch pkt.Type {
	case proxypkt.Ping:
		h.outgoing <- proxypkt.NewPing()

	case proxypkt.ICCIDReq:
		h.xfer.Touch(time.Now())
		h.replyICCID()

	case proxypkt.Passthrough, proxypkt.Disconnect:
		h.xfer.Touch(time.Now())
		key := connKey{ServerPort: pkt.DestPort, ClientPort: pkt.SrcPort}
		h.mu.Lock()
		sc := h.conns[key]
		h.mu.Unlock()
		if sc != nil {
			sc.Send(pkt)
		}

	case proxypkt.Connect:
		h.xfer.Touch(time.Now())
		h.handleConnect(pkt)
	}
}

func (h *Hub) handleConnect(pkt proxypkt.Pkt) {
	key := connKey{ServerPort: pkt.DestPort, ClientPort: pkt.SrcPort}
	sc := dial(h.dialServer, key, h.outgoing, h.log)
	if sc == nil {
		return
	}
	h.mu.Lock()
	h.conns[key] = sc
	h.mu.Unlock()
}

func (h *Hub) replyICCID() {
	if h.iccid == nil {
		h.log.Error().Msg("no ICCID fetcher configured, cannot reply to ICCID_REQ")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	iccid, err := h.iccid.ICCID(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("could not fetch ICCID from modem server")
		return
	}
	h.outgoing <- proxypkt.NewICCID(iccid)
}

// removeDeadConns prunes stream entries whose connection has torn itself
// down, so the map does not grow without bound across a long-running link.
func (h *Hub) removeDeadConns() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for key, sc := range h.conns {
		select {
		case <-sc.done:
			delete(h.conns, key)
		default:
		}
	}
}

// Reap starts a background goroutine that periodically prunes dead stream
// entries until ctx is canceled.
func (h *Hub) Reap(ctx context.Context, interval time.Duration) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				h.removeDeadConns()
			}
		}
	}()
}
