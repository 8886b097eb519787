package supervisor

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/VTMIST/aal-pip/pkg/hwstatus"
)

func TestFGSCPowerControllerTurnsBothOnAtConstruction(t *testing.T) {
	stub, hw := startHWStub(t, hwstatus.Status{FGPwr: hwstatus.PowerOff, SCPwr: hwstatus.PowerOff})
	NewFGSCPowerController(bgCtx(), hw, zerolog.Nop())

	calls := stub.callLog()
	if len(calls) != 2 || calls[0] != "fg:on" || calls[1] != "sc:on" {
		t.Errorf("calls = %v, want [fg:on sc:on]", calls)
	}
}

func TestFGSCPowerControllerEnforcesCommandedOff(t *testing.T) {
	stub, hw := startHWStub(t, hwstatus.Status{FGPwr: hwstatus.PowerOn, SCPwr: hwstatus.PowerOn})
	c := NewFGSCPowerController(bgCtx(), hw, zerolog.Nop())

	c.SetFGPower(false)
	c.Run(bgCtx())

	calls := stub.callLog()
	last := calls[len(calls)-1]
	if last != "fg:off" {
		t.Errorf("last call = %q, want fg:off", last)
	}
	for _, call := range calls {
		if call == "sc:off" {
			t.Errorf("sc should not have been commanded off: %v", calls)
		}
	}
}

func TestFGSCPowerControllerNoRedundantCommands(t *testing.T) {
	stub, hw := startHWStub(t, hwstatus.Status{FGPwr: hwstatus.PowerOn, SCPwr: hwstatus.PowerOn})
	c := NewFGSCPowerController(bgCtx(), hw, zerolog.Nop())
	stub.mu.Lock()
	stub.calls = nil
	stub.mu.Unlock()

	c.Run(bgCtx())

	if got := stub.callLog(); len(got) != 0 {
		t.Errorf("calls = %v, want none since rails already match commanded state", got)
	}
}

func TestFGSCPowerControllerStopTurnsBothOff(t *testing.T) {
	stub, hw := startHWStub(t, hwstatus.Status{FGPwr: hwstatus.PowerOn, SCPwr: hwstatus.PowerOn})
	c := NewFGSCPowerController(bgCtx(), hw, zerolog.Nop())
	stub.mu.Lock()
	stub.calls = nil
	stub.mu.Unlock()

	c.Stop(bgCtx())

	calls := stub.callLog()
	if len(calls) != 2 || calls[0] != "fg:off" || calls[1] != "sc:off" {
		t.Errorf("calls = %v, want [fg:off sc:off]", calls)
	}
}
