package supervisor

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/VTMIST/aal-pip/pkg/hwstatus"
)

func TestModemPowerControllerOnWhileActive(t *testing.T) {
	stub, hw := startHWStub(t, hwstatus.Status{IridPwr: hwstatus.PowerOff})
	last := time.Now()
	c := NewModemPowerController(hw, func() time.Time { return last }, zerolog.Nop())

	c.Run(bgCtx())

	if got := stub.callLog(); len(got) != 1 || got[0] != "irid:on" {
		t.Errorf("calls = %v, want [irid:on]", got)
	}
}

func TestModemPowerControllerOffAfterTimeout(t *testing.T) {
	stub, hw := startHWStub(t, hwstatus.Status{IridPwr: hwstatus.PowerOn})
	stale := time.Now().Add(-time.Hour)
	c := NewModemPowerController(hw, func() time.Time { return stale }, zerolog.Nop())

	c.Run(bgCtx())

	if got := stub.callLog(); len(got) != 1 || got[0] != "irid:off" {
		t.Errorf("calls = %v, want [irid:off]", got)
	}
}

func TestModemPowerControllerAdminOverrides(t *testing.T) {
	stub, hw := startHWStub(t, hwstatus.Status{})
	c := NewModemPowerController(hw, time.Now, zerolog.Nop())

	if err := c.PowerOn(bgCtx()); err != nil {
		t.Fatal(err)
	}
	if err := c.PowerOff(bgCtx()); err != nil {
		t.Fatal(err)
	}

	got := stub.callLog()
	if len(got) != 2 || got[0] != "irid:on" || got[1] != "irid:off" {
		t.Errorf("calls = %v, want [irid:on irid:off]", got)
	}
}

func TestModemPowerControllerStopForcesOff(t *testing.T) {
	stub, hw := startHWStub(t, hwstatus.Status{IridPwr: hwstatus.PowerOn})
	c := NewModemPowerController(hw, time.Now, zerolog.Nop())

	c.Stop(bgCtx())

	if got := stub.callLog(); len(got) != 1 || got[0] != "irid:off" {
		t.Errorf("calls = %v, want [irid:off]", got)
	}
}
