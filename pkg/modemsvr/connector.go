package modemsvr

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/rs/zerolog"
)

// connState is the RUDICSSvrProxyConnector's state machine: wait for a
// modem connection, then wait for the server proxy to attach locally, then
// run until either side drops.
type connState int

const (
	stateStart connState = iota
	stateConnectToProxy
	stateEstablished
)

// Connector owns the modem and repeatedly dials out, waits for the local
// server proxy to connect, and bridges the two until either drops, then
// starts over. It mirrors RUDICSSvrProxyConnector's polling state machine.
type Connector struct {
	modem      Modem
	listenAddr string
	rxTimeout  time.Duration
	log        zerolog.Logger

	pollInterval time.Duration
	redialDelay  time.Duration

	mu      sync.Mutex
	session *Session

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewConnector creates a Connector. listenAddr is the local address the
// server proxy connects to (client_port). set may be nil, in which case no
// metrics are registered.
func NewConnector(modem Modem, listenAddr string, rxTimeout time.Duration, set *metrics.Set, log zerolog.Logger) *Connector {
	c := &Connector{
		modem:        modem,
		listenAddr:   listenAddr,
		rxTimeout:    rxTimeout,
		log:          log,
		pollInterval: 500 * time.Millisecond,
		redialDelay:  5 * time.Second,
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
	}
	if set != nil {
		set.NewGauge(`modemsvr_tunnel_rx_bytes`, func() float64 { return float64(c.sessionRXBytes()) })
		set.NewGauge(`modemsvr_tunnel_tx_bytes`, func() float64 { return float64(c.sessionTXBytes()) })
	}
	return c
}

// sessionRXBytes and sessionTXBytes report cumulative tunnel byte counts
// for the currently active session, or 0 if no session is established.
func (c *Connector) sessionRXBytes() uint64 {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess == nil {
		return 0
	}
	return sess.handler.RXBytes()
}

func (c *Connector) sessionTXBytes() uint64 {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess == nil {
		return 0
	}
	return sess.handler.TXBytes()
}

// Run drives the state machine until Stop is called.
func (c *Connector) Run() {
	defer close(c.done)
	state := stateStart

	var ln net.Listener

	for {
		select {
		case <-c.stopCh:
			c.teardown(ln)
			return
		case <-time.After(c.pollInterval):
		}

		switch state {
		case stateStart:
			if c.modem.IsConnected() {
				state = stateConnectToProxy
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
			err := c.modem.Dialup(ctx)
			cancel()
			if err != nil {
				c.log.Error().Err(err).Msg("modem dialup failed")
				c.modem.Hangup()
				select {
				case <-time.After(c.redialDelay):
				case <-c.stopCh:
				}
			}

		case stateConnectToProxy:
			if !c.modem.IsConnected() {
				state = stateStart
				continue
			}
			if ln == nil {
				var err error
				ln, err = net.Listen("tcp", c.listenAddr)
				if err != nil {
					c.log.Error().Err(err).Str("addr", c.listenAddr).Msg("could not listen for server proxy")
					state = stateStart
					continue
				}
			}
			conn, err := acceptWithDeadline(ln, c.pollInterval)
			if err != nil {
				continue
			}
			ln.Close()
			ln = nil
			sess := NewSession(conn, c.modem, c.rxTimeout, c.log)
			c.mu.Lock()
			c.session = sess
			c.mu.Unlock()
			state = stateEstablished

		case stateEstablished:
			c.mu.Lock()
			sess := c.session
			c.mu.Unlock()
			fullyConnected := sess != nil && c.modem.IsConnected()
			select {
			case <-sess.Done():
				fullyConnected = false
			default:
			}
			if !fullyConnected {
				c.killConnections()
				state = stateStart
			}
		}
	}
}

func acceptWithDeadline(ln net.Listener, timeout time.Duration) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := ln.Accept()
		ch <- result{conn, err}
	}()
	select {
	case r := <-ch:
		return r.conn, r.err
	case <-time.After(timeout):
		return nil, errTimeout
	}
}

var errTimeout = timeoutError{}

type timeoutError struct{}

func (timeoutError) Error() string { return "modemsvr: accept timed out" }

func (c *Connector) killConnections() {
	c.mu.Lock()
	sess := c.session
	c.session = nil
	c.mu.Unlock()
	if sess != nil {
		sess.Stop()
	}
	c.modem.Hangup()
}

func (c *Connector) teardown(ln net.Listener) {
	if ln != nil {
		ln.Close()
	}
	c.killConnections()
}

// ICCID returns the modem's SIM ICCID, or "" if not currently connected.
func (c *Connector) ICCID() string {
	if !c.modem.IsConnected() {
		return ""
	}
	return c.modem.ICCID()
}

// Stop halts the connector and tears down any active session.
func (c *Connector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	<-c.done
}
