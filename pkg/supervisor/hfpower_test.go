package supervisor

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/VTMIST/aal-pip/internal/aalpipcfg"
	"github.com/VTMIST/aal-pip/pkg/hwstatus"
)

func TestHFInScheduleMatchesWindowStart(t *testing.T) {
	now := time.Date(2026, time.July, 30, 2, 30, 0, 0, time.UTC)
	if !hfInSchedule(now) {
		t.Error("expected 02:30 to fall inside an HF run window")
	}
}

func TestHFInScheduleMissesBetweenWindows(t *testing.T) {
	now := time.Date(2026, time.July, 30, 1, 0, 0, 0, time.UTC)
	if hfInSchedule(now) {
		t.Error("expected 01:00 to fall outside every HF run window")
	}
}

func TestHFPowerControllerOverheatedForcesOff(t *testing.T) {
	stub, hw := startHWStub(t, hwstatus.Status{RouterTemp: 10, HFPwr: hwstatus.PowerOn})
	c := NewHFPowerController(bgCtx(), hw, zerolog.Nop())
	stub.mu.Lock()
	stub.calls = nil
	stub.mu.Unlock()

	stub.setStatus(hwstatus.Status{RouterTemp: 60, HFPwr: hwstatus.PowerOn})
	c.Run(bgCtx())

	if got := stub.callLog(); len(got) != 1 || got[0] != "hf:off" {
		t.Errorf("calls = %v, want [hf:off] once the thermostat trips", got)
	}
}

func TestHFPowerControllerMasterDisableForcesOff(t *testing.T) {
	stub, hw := startHWStub(t, hwstatus.Status{RouterTemp: 0, HFPwr: hwstatus.PowerOn})
	c := NewHFPowerController(bgCtx(), hw, zerolog.Nop())
	c.SetMasterPowerEnable(false)
	stub.mu.Lock()
	stub.calls = nil
	stub.mu.Unlock()

	c.Run(bgCtx())

	if got := stub.callLog(); len(got) != 1 || got[0] != "hf:off" {
		t.Errorf("calls = %v, want [hf:off] with master power disabled", got)
	}
}

func TestHFPowerControllerDutyCycleCapForcesOff(t *testing.T) {
	// poweredSince defaults to the zero Time, so time.Since(poweredSince)
	// vastly exceeds HFMaxOnTime regardless of when the test runs.
	stub, hw := startHWStub(t, hwstatus.Status{RouterTemp: 0, HFPwr: hwstatus.PowerOn})
	c := NewHFPowerController(bgCtx(), hw, zerolog.Nop())
	stub.mu.Lock()
	stub.calls = nil
	stub.mu.Unlock()

	stub.setStatus(hwstatus.Status{RouterTemp: 0, HFPwr: hwstatus.PowerOn})
	c.Run(bgCtx())

	if got := stub.callLog(); len(got) != 1 || got[0] != "hf:off" {
		t.Errorf("calls = %v, want [hf:off] once the duty-cycle cap trips", got)
	}
}

func TestHFPowerControllerToneFrequencyUsesStationCoefficients(t *testing.T) {
	c := &HFPowerController{station: aalpipcfg.HFStation{ToneCoeff0: 1, ToneCoeff1: 2, ToneCoeff2: 3, ToneShift: 0.5}}
	got := c.toneFrequency(2)
	want := 3*2*2 + 2*2 + 1 + 0.5
	if got != want {
		t.Errorf("toneFrequency = %v, want %v", got, want)
	}
}

func TestHFPowerControllerStopTurnsOff(t *testing.T) {
	stub, hw := startHWStub(t, hwstatus.Status{HFPwr: hwstatus.PowerOn})
	c := NewHFPowerController(bgCtx(), hw, zerolog.Nop())
	stub.mu.Lock()
	stub.calls = nil
	stub.mu.Unlock()

	c.Stop(bgCtx())

	if got := stub.callLog(); len(got) != 1 || got[0] != "hf:off" {
		t.Errorf("calls = %v, want [hf:off]", got)
	}
}
