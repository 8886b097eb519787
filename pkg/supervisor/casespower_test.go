package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/VTMIST/aal-pip/internal/aalpipcfg"
	"github.com/VTMIST/aal-pip/pkg/hwstatus"
)

type fakeCASESManager struct {
	cleared  bool
	halted   bool
	produced int64
	prodErr  error
}

func (f *fakeCASESManager) ClearDataProduction(context.Context) error {
	f.cleared = true
	return nil
}

func (f *fakeCASESManager) DataProduction(context.Context) (int64, error) {
	if f.prodErr != nil {
		return 0, f.prodErr
	}
	return f.produced, nil
}

func (f *fakeCASESManager) Halt(context.Context) error {
	f.halted = true
	return nil
}

func TestCASESScheduleStartItemOutsideWindowMonths(t *testing.T) {
	// May is not in CASESWindowMonths (Dec-Apr).
	now := time.Date(2026, time.May, 1, 1, 0, 0, 0, time.UTC)
	if _, ok := casesScheduleStartItem("normal", now); ok {
		t.Error("expected no schedule match outside the storm-season window")
	}
}

func TestCASESScheduleStartItemMatchesNormalSchedule(t *testing.T) {
	now := time.Date(2026, time.January, 15, 1, 0, 0, 0, time.UTC)
	item, ok := casesScheduleStartItem("normal", now)
	if !ok {
		t.Fatal("expected a schedule match at 01:00 in January")
	}
	if item.DataLimit != 4_000_000 {
		t.Errorf("data limit = %d, want 4000000", item.DataLimit)
	}
}

func TestCASESScheduleStartItemUpdateModeUsesNormalSchedule(t *testing.T) {
	now := time.Date(2026, time.January, 1, 7, 0, 0, 0, time.UTC)
	item, ok := casesScheduleStartItem("update", now)
	if !ok {
		t.Fatal("expected update mode to look up the normal schedule")
	}
	if item.Stop != (aalpipcfg.ClockTime{Hour: 8, Minute: 0, Second: 0}) {
		t.Errorf("stop = %+v, want 08:00:00", item.Stop)
	}
}

func TestCASESScheduleStartItemStormSchedule(t *testing.T) {
	now := time.Date(2026, time.February, 1, 3, 0, 0, 0, time.UTC)
	item, ok := casesScheduleStartItem("storm", now)
	if !ok {
		t.Fatal("expected a storm schedule match at 03:00")
	}
	if item.DataLimit != 100_000_000 {
		t.Errorf("data limit = %d, want 100000000", item.DataLimit)
	}
}

func TestCASESPowerControllerUpdateModeIgnoresScheduler(t *testing.T) {
	// update mode should power CASES on purely from the thermostat, with no
	// regard for whether "now" falls on a schedule boundary.
	stub, hw := startHWStub(t, hwstatus.Status{RouterTemp: -10, CASESPwr: hwstatus.PowerOff})
	cases := &fakeCASESManager{}
	c := NewCASESPowerController(bgCtx(), hw, cases, zerolog.Nop())
	c.SetMode("update")
	stub.mu.Lock()
	stub.calls = nil
	stub.mu.Unlock()

	c.Run(bgCtx())

	if got := stub.callLog(); len(got) != 1 || got[0] != "cases:on" {
		t.Errorf("calls = %v, want [cases:on]", got)
	}
}

func TestCASESPowerControllerOverheatedSendsHaltThenPowersDownNextTick(t *testing.T) {
	stub, hw := startHWStub(t, hwstatus.Status{RouterTemp: 60, CASESPwr: hwstatus.PowerOn})
	cases := &fakeCASESManager{}
	c := NewCASESPowerController(bgCtx(), hw, cases, zerolog.Nop())
	c.SetMode("update")
	stub.mu.Lock()
	stub.calls = nil
	stub.mu.Unlock()

	c.Run(bgCtx())
	if !cases.halted {
		t.Error("expected a halt command before power-down")
	}
	if got := stub.callLog(); len(got) != 0 {
		t.Errorf("calls = %v, want none on the tick that sends halt", got)
	}

	c.Run(bgCtx())
	if got := stub.callLog(); len(got) != 1 || got[0] != "cases:off" {
		t.Errorf("calls = %v, want [cases:off] on the deferred tick", got)
	}
}

func TestCASESPowerControllerMasterDisableOverridesSchedule(t *testing.T) {
	stub, hw := startHWStub(t, hwstatus.Status{RouterTemp: -10, CASESPwr: hwstatus.PowerOff})
	cases := &fakeCASESManager{}
	c := NewCASESPowerController(bgCtx(), hw, cases, zerolog.Nop())
	c.SetMode("update")
	c.SetMasterPowerEnable(false)
	stub.mu.Lock()
	stub.calls = nil
	stub.mu.Unlock()

	c.Run(bgCtx())

	if got := stub.callLog(); len(got) != 0 {
		t.Errorf("calls = %v, want none with master power disabled", got)
	}
}

func TestCASESPowerControllerStopHaltsWaitsThenPowersOff(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping 10s halt dwell in short mode")
	}
	stub, hw := startHWStub(t, hwstatus.Status{CASESPwr: hwstatus.PowerOn})
	cases := &fakeCASESManager{}
	c := NewCASESPowerController(bgCtx(), hw, cases, zerolog.Nop())
	stub.mu.Lock()
	stub.calls = nil
	stub.mu.Unlock()

	start := time.Now()
	c.Stop(bgCtx())
	if elapsed := time.Since(start); elapsed < 9*time.Second {
		t.Errorf("Stop returned after %s, want to wait out the 10s halt dwell", elapsed)
	}
	if !cases.halted {
		t.Error("expected Stop to send a halt command")
	}
	if got := stub.callLog(); len(got) != 1 || got[0] != "cases:off" {
		t.Errorf("calls = %v, want [cases:off]", got)
	}
}

func TestFakeCASESManagerDataProductionError(t *testing.T) {
	f := &fakeCASESManager{prodErr: errors.New("boom")}
	if _, err := f.DataProduction(context.Background()); err == nil {
		t.Error("expected error to propagate")
	}
}
