// Package rpc provides the RPC server (at most 10 concurrent clients) and
// retrying client used between the supervisor and its hardware/modem/proxy worker
// processes. The original implementation marshalled a method name plus
// positional arguments and ran them through eval() inside the server
// process; this package keeps the same call shape (method name, args,
// single response) but dispatches through an explicit registered method
// table instead of evaluating code sent over the wire.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// ErrNotConnected is returned by Client.Call when no connection to the
// server could be established.
var ErrNotConnected = errors.New("rpc: not connected")

// maxConcurrentClients mirrors the original server's refusal to accept more
// than 10 simultaneous connections.
const maxConcurrentClients = 10

// Server accepts connections one at a time (up to maxConcurrentClients
// concurrently) and dispatches calls to a registered receiver via the
// standard library's net/rpc, which already gives us the
// "method name plus positional args" call shape the original RPC layer used.
type Server struct {
	listener net.Listener
	sem      chan struct{}

	connsTotal *metrics.Counter

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Serve registers receiver's exported methods (in the net/rpc sense: each
// method takes (args, *reply) and returns error) and starts accepting
// connections on addr. It returns once the listener is bound; Stop shuts the
// server down. set may be nil, in which case no metrics are registered.
func Serve(addr string, receiver any, set *metrics.Set) (*Server, error) {
	rpcSrv := rpc.NewServer()
	if err := rpcSrv.Register(receiver); err != nil {
		return nil, fmt.Errorf("rpc: register receiver: %w", err)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("rpc: listen %s: %w", addr, err)
	}

	s := &Server{
		listener: ln,
		sem:      make(chan struct{}, maxConcurrentClients),
		stopCh:   make(chan struct{}),
	}
	if set != nil {
		s.connsTotal = set.NewCounter(`rpc_server_connections_total`)
		set.GetOrCreateGauge(`rpc_server_connections_active`, func() float64 { return float64(len(s.sem)) })
	}

	s.wg.Add(1)
	go s.acceptLoop(rpcSrv)
	return s, nil
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

func (s *Server) acceptLoop(rpcSrv *rpc.Server) {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				continue
			}
		}
		select {
		case s.sem <- struct{}{}:
		default:
			conn.Close()
			continue
		}
		if s.connsTotal != nil {
			s.connsTotal.Inc()
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() { <-s.sem }()
			defer conn.Close()
			rpcSrv.ServeConn(conn)
		}()
	}
}

// Stop closes the listener and waits for in-flight connections to finish.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.listener.Close()
	})
	s.wg.Wait()
}

// Client dials an RPC server and retries once on a stale connection, mirroring
// RPCServerProxy's behavior of reconnecting rather than failing outright on
// a single dropped link.
type Client struct {
	addr    string
	timeout time.Duration
	set     *metrics.Set

	mu   sync.Mutex
	conn *rpc.Client
}

// NewClient creates a Client that dials addr lazily on first Call. set may
// be nil, in which case no metrics are registered.
func NewClient(addr string, timeout time.Duration, set *metrics.Set) *Client {
	return &Client{addr: addr, timeout: timeout, set: set}
}

// Call invokes method on the server with args, decoding the response into
// reply. It dials on demand and retries exactly once against a fresh
// connection if the first attempt fails, matching the original proxy's
// single-retry-then-report-error behavior.
func (c *Client) Call(ctx context.Context, method string, args, reply any) error {
	err := c.call(ctx, method, args, reply)
	if c.set != nil {
		c.set.GetOrCreateCounter(fmt.Sprintf(`rpc_client_calls_total{method=%q}`, method)).Inc()
		if err != nil {
			c.set.GetOrCreateCounter(fmt.Sprintf(`rpc_client_errors_total{method=%q}`, method)).Inc()
		}
	}
	return err
}

func (c *Client) call(ctx context.Context, method string, args, reply any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		if err := c.dialLocked(); err != nil {
			return err
		}
	}

	err := c.callOnce(ctx, method, args, reply)
	if err == nil {
		return nil
	}

	c.conn.Close()
	c.conn = nil
	if err := c.dialLocked(); err != nil {
		return err
	}
	return c.callOnce(ctx, method, args, reply)
}

func (c *Client) dialLocked() error {
	conn, err := net.DialTimeout("tcp", c.addr, c.timeout)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNotConnected, c.addr, err)
	}
	c.conn = rpc.NewClient(conn)
	return nil
}

func (c *Client) callOnce(ctx context.Context, method string, args, reply any) error {
	call := c.conn.Go(method, args, reply, nil)
	select {
	case <-call.Done:
		return call.Error
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.timeout):
		return fmt.Errorf("rpc: call %s timed out after %s", method, c.timeout)
	}
}

// Close releases the client's connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
