package proxyhub

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/VTMIST/aal-pip/pkg/proxypkt"
	"github.com/VTMIST/aal-pip/pkg/sockio"
)

// connKey identifies one tunneled stream by the local server port it
// terminates on and the remote client port it was opened for.
type connKey struct {
	ServerPort uint16
	ClientPort uint16
}

// serverConn is the local half of one tunneled TCP stream: a connection to
// a server listening on ServerPort, paired with a packetizer (local bytes ->
// PASSTHROUGH packets toward the modem) and a depacketizer (PASSTHROUGH
// packets from the modem -> local bytes), mirroring the original
// implementation's ServerConnection plus its Packetize/Depacketize threads.
type serverConn struct {
	key connKey

	handler  *sockio.Handler
	pktIn    chan proxypkt.Pkt
	outgoing chan<- proxypkt.Pkt

	gotDisconnect atomic.Bool
	doneOnce      sync.Once
	done          chan struct{}

	log zerolog.Logger
}

// dial attempts to connect to a server on connKey.ServerPort and, on
// success, starts the packetize/depacketize goroutines. If the connection
// attempt fails, it sends a single DISCONNECT packet toward the modem and
// returns nil, matching ServerConnection's "failed to connect" path.
func dial(dialServer func(port uint16) (net.Conn, error), key connKey, outgoing chan<- proxypkt.Pkt, log zerolog.Logger) *serverConn {
	conn, err := dialServer(key.ServerPort)
	if err != nil {
		log.Error().Err(err).Uint16("server_port", key.ServerPort).Msg("could not connect to local server")
		outgoing <- proxypkt.NewDisconnect(key.ClientPort, key.ServerPort)
		return nil
	}

	sc := &serverConn{
		key:      key,
		pktIn:    make(chan proxypkt.Pkt, 32),
		outgoing: outgoing,
		done:     make(chan struct{}),
		log:      log,
	}
	sc.handler = sockio.New(conn, sockio.StreamMode, func(*sockio.Handler) { sc.close() })

	go sc.packetize()
	go sc.depacketize()
	return sc
}

func (sc *serverConn) packetize() {
	for data := range sc.handler.ReadQueue() {
		for _, pkt := range proxypkt.Chunks(sc.key.ServerPort, sc.key.ClientPort, data) {
			sc.outgoing <- pkt
		}
	}
}

func (sc *serverConn) depacketize() {
	for {
		select {
		case pkt, ok := <-sc.pktIn:
			if !ok {
				return
			}
			switch pkt.Type {
			case proxypkt.Passthrough:
				if len(pkt.Payload) > 0 {
					_ = sc.handler.Write(context.Background(), pkt.Payload)
				}
			case proxypkt.Disconnect:
				sc.gotDisconnect.Store(true)
				sc.close()
				return
			}
		case <-sc.done:
			return
		}
	}
}

// Send delivers an incoming proxy packet addressed to this stream to its
// depacketizer.
func (sc *serverConn) Send(pkt proxypkt.Pkt) {
	select {
	case sc.pktIn <- pkt:
	case <-sc.done:
	}
}

// close tears the connection down. If the peer never sent a DISCONNECT, one
// is sent now, matching ServerConnection._stop_all_children.
func (sc *serverConn) close() {
	sc.doneOnce.Do(func() {
		if !sc.gotDisconnect.Load() {
			sc.outgoing <- proxypkt.NewDisconnect(sc.key.ClientPort, sc.key.ServerPort)
		}
		close(sc.done)
		// Stop asynchronously: close may itself be running inside the
		// handler's own exit callback, and Stop waits for both of the
		// handler's goroutines to finish.
		go sc.handler.Stop()
	})
}
