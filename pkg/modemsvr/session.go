package modemsvr

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/VTMIST/aal-pip/pkg/sockio"
)

const modemReadBufSize = 4096

// Session bridges one server-proxy connection to the modem: it reads
// whatever bytes the modem produces and forwards each read as a single
// packet-framed message to the proxy, and forwards every packet-framed
// message from the proxy to the modem as raw bytes. It exits if the modem
// stops producing data for longer than rxTimeout, or if the proxy
// connection drops -- mirroring ModemReadThread/ModemWriteThread/
// RUDICSSvrProxyConnection.
type Session struct {
	modem     Modem
	handler   *sockio.Handler
	rxTimeout time.Duration
	log       zerolog.Logger

	lastRx atomic.Int64 // unix nanos

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewSession starts bridging proxyConn (the server proxy's connection to
// this process) to modem. rxTimeout bounds how long the session tolerates
// silence from the modem before assuming the call has died.
func NewSession(proxyConn net.Conn, modem Modem, rxTimeout time.Duration, log zerolog.Logger) *Session {
	s := &Session{
		modem:     modem,
		rxTimeout: rxTimeout,
		log:       log,
		stopCh:    make(chan struct{}),
	}
	s.lastRx.Store(time.Now().UnixNano())
	s.handler = sockio.New(proxyConn, sockio.PacketMode, func(*sockio.Handler) { go s.Stop() })

	modem.FlushBoth()

	s.wg.Add(2)
	go s.readFromModem()
	go s.writeToModem()
	return s
}

func (s *Session) readFromModem() {
	defer s.wg.Done()
	buf := make([]byte, modemReadBufSize)
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		if time.Since(time.Unix(0, s.lastRx.Load())) > s.rxTimeout {
			s.log.Info().Msg("modem read timed out, tearing down session")
			s.Stop()
			return
		}

		n, err := s.modem.Read(buf)
		if n > 0 {
			s.lastRx.Store(time.Now().UnixNano())
			chunk := append([]byte(nil), buf[:n]...)
			if werr := s.handler.Write(context.Background(), chunk); werr != nil {
				return
			}
		}
		if err != nil {
			time.Sleep(100 * time.Millisecond)
		}
	}
}

func (s *Session) writeToModem() {
	defer s.wg.Done()
	for {
		select {
		case data, ok := <-s.handler.ReadQueue():
			if !ok {
				return
			}
			if _, err := s.modem.Write(data); err != nil {
				s.log.Error().Err(err).Msg("write to modem failed")
			}
		case <-s.stopCh:
			return
		}
	}
}

// Done reports whether the session has stopped.
func (s *Session) Done() <-chan struct{} { return s.stopCh }

// Stop tears the session down.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.handler.Stop()
	})
	s.wg.Wait()
}
