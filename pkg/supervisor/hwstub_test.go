package supervisor

import (
	"context"
	"net"
	"net/rpc"
	"sync"
	"testing"
	"time"

	"github.com/VTMIST/aal-pip/pkg/hwmgr"
	"github.com/VTMIST/aal-pip/pkg/hwstatus"
)

// hwStub is a minimal stand-in for the hardware manager's RPC service,
// registered under the name "Service" so that hwmgr.Client's hardcoded
// "Service.<Method>" calls route to it over a real loopback connection,
// the same approach pkg/rpc's own tests use for EchoService.
type hwStub struct {
	mu     sync.Mutex
	status hwstatus.Status
	calls  []string
}

func (s *hwStub) SetPower(args hwmgr.SetPowerArgs, reply *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, args.Device+":"+args.State)

	on := hwstatus.PowerOff
	if args.State == "on" {
		on = hwstatus.PowerOn
	}
	switch args.Device {
	case "fg":
		s.status.FGPwr = on
	case "sc":
		s.status.SCPwr = on
	case "cases":
		s.status.CASESPwr = on
	case "hf":
		s.status.HFPwr = on
	case "htr":
		s.status.HtrPwr = on
	case "gps":
		s.status.GPSPwr = on
	case "irid":
		s.status.IridPwr = on
	case "ethernet":
		s.status.EthernetPwr = on
	}
	*reply = "OK"
	return nil
}

func (s *hwStub) ResetOvercurrent(_ struct{}, reply *string) error {
	*reply = "OK"
	return nil
}

func (s *hwStub) Refresh(_ struct{}, reply *string) error {
	*reply = "OK"
	return nil
}

func (s *hwStub) GetStatus(_ string, reply *string) error {
	*reply = ""
	return nil
}

func (s *hwStub) GetFullStatus(_ struct{}, reply *hwstatus.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	*reply = s.status
	return nil
}

func (s *hwStub) setStatus(st hwstatus.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = st
}

func (s *hwStub) callLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

// startHWStub spins up a real TCP listener serving stub under the name
// "Service" and returns a hwmgr.Client already dialed at it.
func startHWStub(t *testing.T, status hwstatus.Status) (*hwStub, *hwmgr.Client) {
	t.Helper()

	stub := &hwStub{status: status}
	srv := rpc.NewServer()
	if err := srv.RegisterName("Service", stub); err != nil {
		t.Fatal(err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.ServeConn(conn)
		}
	}()
	t.Cleanup(func() { ln.Close() })

	client := hwmgr.NewClient(ln.Addr().String(), 2*time.Second, nil)
	t.Cleanup(func() { client.Close() })
	return stub, client
}

func bgCtx() context.Context { return context.Background() }
