package supervisor

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/VTMIST/aal-pip/pkg/hwstatus"
)

func TestGPSPowerControllerTurnsOffOnceSynced(t *testing.T) {
	stub, hw := startHWStub(t, hwstatus.Status{SyncAge: 10, GPSPwr: hwstatus.PowerOn})
	c := NewGPSPowerController(hw, zerolog.Nop())
	c.MaxSyncAge = 3600

	c.Run(bgCtx())

	if got := stub.callLog(); len(got) != 1 || got[0] != "gps:off" {
		t.Errorf("calls = %v, want [gps:off]", got)
	}
}

func TestGPSPowerControllerTurnsOnWhenStale(t *testing.T) {
	stub, hw := startHWStub(t, hwstatus.Status{SyncAge: 99999, GPSPwr: hwstatus.PowerOff})
	c := NewGPSPowerController(hw, zerolog.Nop())
	c.MaxSyncAge = 3600

	c.Run(bgCtx())

	if got := stub.callLog(); len(got) != 1 || got[0] != "gps:on" {
		t.Errorf("calls = %v, want [gps:on]", got)
	}
}

func TestGPSPowerControllerNoChangeWhenAlreadyCorrect(t *testing.T) {
	stub, hw := startHWStub(t, hwstatus.Status{SyncAge: 10, GPSPwr: hwstatus.PowerOff})
	c := NewGPSPowerController(hw, zerolog.Nop())
	c.MaxSyncAge = 3600

	c.Run(bgCtx())

	if got := stub.callLog(); len(got) != 0 {
		t.Errorf("calls = %v, want none", got)
	}
}

func TestGPSPowerControllerStopForcesOff(t *testing.T) {
	stub, hw := startHWStub(t, hwstatus.Status{GPSPwr: hwstatus.PowerOn})
	c := NewGPSPowerController(hw, zerolog.Nop())

	c.Stop(bgCtx())

	if got := stub.callLog(); len(got) != 1 || got[0] != "gps:off" {
		t.Errorf("calls = %v, want [gps:off]", got)
	}
}
