// Package sockio provides a framed socket handler: one TCP connection paired
// with a read queue and a write queue, running in either stream mode
// (transparent byte forwarding, for tunneled local streams) or packet mode
// (length-prefixed framing, for the serial-replacement loopback sockets used
// between processes). It replaces the original implementation's
// thread-plus-Queue.Queue socket handler with goroutines and channels.
package sockio

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Mode selects how Handler frames data read from and written to the
// connection.
type Mode int

const (
	// StreamMode forwards raw bytes with no framing, one read/write queue
	// entry per chunk read from the wire.
	StreamMode Mode = iota
	// PacketMode length-prefixes every read/write queue entry with a
	// 4-byte big-endian length.
	PacketMode
)

// ErrClosed is returned by Handler methods after Stop has been called.
var ErrClosed = errors.New("sockio: handler closed")

const readBufSize = 4096

// maxPacketLen bounds a single packet-mode frame to guard against a
// corrupted length prefix causing an unbounded allocation.
const maxPacketLen = 16 << 20

// Handler pairs a net.Conn with a read queue (bytes/packets arriving from the
// peer) and a write queue (bytes/packets to send to the peer). It runs two
// goroutines -- one per direction -- and invokes an optional exit callback
// exactly once when either goroutine observes the connection is no longer
// usable.
type Handler struct {
	conn net.Conn
	mode Mode

	readCh  chan []byte
	writeCh chan []byte

	stopCh   chan struct{}
	stopOnce sync.Once
	doneWG   sync.WaitGroup

	exitOnce     sync.Once
	exitCallback func(*Handler)

	running atomic.Bool

	rxBytes atomic.Uint64
	txBytes atomic.Uint64
}

// New creates and starts a Handler around conn. exitCallback, if non-nil, is
// invoked exactly once (from whichever goroutine notices first) when the
// handler stops running, whether due to Stop, a read error, or a write
// error.
func New(conn net.Conn, mode Mode, exitCallback func(*Handler)) *Handler {
	h := &Handler{
		conn:         conn,
		mode:         mode,
		readCh:       make(chan []byte, 64),
		writeCh:      make(chan []byte, 64),
		stopCh:       make(chan struct{}),
		exitCallback: exitCallback,
	}
	h.running.Store(true)

	h.doneWG.Add(2)
	go h.readLoop()
	go h.writeLoop()
	return h
}

// ReadQueue returns the channel on which data arriving from the peer is
// delivered, in stream-mode chunks or packet-mode frames depending on Mode.
func (h *Handler) ReadQueue() <-chan []byte { return h.readCh }

// Write enqueues data to be sent to the peer. In packet mode, data is sent as
// a single length-prefixed frame; in stream mode, as a raw write. Write
// blocks briefly if the internal queue is full, and returns ErrClosed if the
// handler has stopped.
func (h *Handler) Write(ctx context.Context, data []byte) error {
	if !h.running.Load() {
		return ErrClosed
	}
	select {
	case h.writeCh <- data:
		return nil
	case <-h.stopCh:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning reports whether the handler's connection is still considered
// live.
func (h *Handler) IsRunning() bool { return h.running.Load() }

// PeerAddr returns the connection's remote address.
func (h *Handler) PeerAddr() net.Addr { return h.conn.RemoteAddr() }

// RXBytes and TXBytes report cumulative byte counts, for metrics.
func (h *Handler) RXBytes() uint64 { return h.rxBytes.Load() }
func (h *Handler) TXBytes() uint64 { return h.txBytes.Load() }

// Stop closes the underlying connection and waits for both goroutines to
// exit. It is safe to call multiple times and from multiple goroutines.
func (h *Handler) Stop() {
	h.stopOnce.Do(func() {
		h.running.Store(false)
		close(h.stopCh)
		h.conn.Close()
	})
	h.doneWG.Wait()
}

func (h *Handler) readLoop() {
	defer h.doneWG.Done()
	defer h.finish()
	defer close(h.readCh)

	switch h.mode {
	case PacketMode:
		h.readPackets()
	default:
		h.readStream()
	}
}

func (h *Handler) readStream() {
	buf := make([]byte, readBufSize)
	for {
		h.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, err := h.conn.Read(buf)
		if n > 0 {
			h.rxBytes.Add(uint64(n))
			chunk := append([]byte(nil), buf[:n]...)
			select {
			case h.readCh <- chunk:
			case <-h.stopCh:
				return
			}
		}
		if err != nil {
			if isTimeout(err) {
				select {
				case <-h.stopCh:
					return
				default:
					continue
				}
			}
			return
		}
	}
}

func (h *Handler) readPackets() {
	var lenBuf [4]byte
	for {
		h.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		if _, err := io.ReadFull(h.conn, lenBuf[:]); err != nil {
			if isTimeout(err) {
				select {
				case <-h.stopCh:
					return
				default:
					continue
				}
			}
			return
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		if n > maxPacketLen {
			return
		}
		pkt := make([]byte, n)
		h.conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		if _, err := io.ReadFull(h.conn, pkt); err != nil {
			return
		}
		h.rxBytes.Add(uint64(4 + n))
		select {
		case h.readCh <- pkt:
		case <-h.stopCh:
			return
		}
	}
}

func (h *Handler) writeLoop() {
	defer h.doneWG.Done()
	defer h.finish()

	for {
		select {
		case data := <-h.writeCh:
			if err := h.writeOne(data); err != nil {
				return
			}
		case <-h.stopCh:
			return
		}
	}
}

func (h *Handler) writeOne(data []byte) error {
	if h.mode == PacketMode {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
		if _, err := h.conn.Write(lenBuf[:]); err != nil {
			return err
		}
	}
	n, err := h.conn.Write(data)
	h.txBytes.Add(uint64(n))
	return err
}

func (h *Handler) finish() {
	h.running.Store(false)
	h.exitOnce.Do(func() {
		if h.exitCallback != nil {
			h.exitCallback(h)
		}
	})
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
