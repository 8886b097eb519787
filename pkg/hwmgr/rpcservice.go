package hwmgr

import (
	"context"
	"fmt"

	"github.com/VTMIST/aal-pip/pkg/hwstatus"
)

// Service adapts Manager to the net/rpc method shape (one argument struct,
// one reply pointer, an error return) used by pkg/rpc, replacing the
// original XML-RPC method table.
type Service struct {
	mgr *Manager
}

// NewService wraps mgr for RPC registration.
func NewService(mgr *Manager) *Service { return &Service{mgr: mgr} }

// SetPowerArgs names the device and requested state for Service.SetPower.
type SetPowerArgs struct {
	Device string
	State  string
}

// SetPower turns device on or off.
func (s *Service) SetPower(args SetPowerArgs, reply *string) error {
	if err := s.mgr.SetPower(context.Background(), args.Device, args.State); err != nil {
		*reply = "failed"
		return err
	}
	*reply = "OK"
	return nil
}

// ResetOvercurrent clears a latched overcurrent condition.
func (s *Service) ResetOvercurrent(_ struct{}, reply *string) error {
	s.mgr.ResetOvercurrent(context.Background())
	*reply = "OK"
	return nil
}

// Refresh updates the status snapshot.
func (s *Service) Refresh(_ struct{}, reply *string) error {
	if err := s.mgr.Refresh(context.Background()); err != nil {
		*reply = "failed"
		return err
	}
	*reply = "OK"
	return nil
}

// GetStatus returns a single named status value.
func (s *Service) GetStatus(name string, reply *string) error {
	st := s.mgr.Status()
	v, err := statusField(st, name)
	if err != nil {
		*reply = "failed"
		return err
	}
	*reply = v
	return nil
}

// GetFullStatus returns the entire status snapshot.
func (s *Service) GetFullStatus(_ struct{}, reply *hwstatus.Status) error {
	*reply = s.mgr.Status()
	return nil
}

func statusField(st hwstatus.Status, name string) (string, error) {
	switch name {
	case "sys_date":
		return st.SysDate, nil
	case "sys_time":
		return st.SysTime, nil
	case "uptime":
		return st.Uptime, nil
	default:
		return "", fmt.Errorf("hwmgr: no such status value %q", name)
	}
}
