package hwmgr

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/VTMIST/aal-pip/pkg/hwstatus"
	"github.com/VTMIST/aal-pip/pkg/subprocessx"
)

func newTestManager() *Manager {
	return New(subprocessx.New(), "/usr/local/bin", ADCCalibration{Offset: 0, Gain: 1}, zerolog.Nop())
}

func TestSetPowerDirectCommand(t *testing.T) {
	m := newTestManager()
	if err := m.SetPower(context.Background(), "USB", "ON"); err != nil {
		t.Fatal(err)
	}
}

func TestSetPowerUnknownDevice(t *testing.T) {
	m := newTestManager()
	if err := m.SetPower(context.Background(), "bogus", "on"); err == nil {
		t.Error("expected error for unknown device")
	}
}

func TestSetPowerInvalidState(t *testing.T) {
	m := newTestManager()
	if err := m.SetPower(context.Background(), "fg", "sideways"); err == nil {
		t.Error("expected error for invalid state")
	}
}

func TestStatusFieldLookup(t *testing.T) {
	svc := NewService(newTestManager())
	var reply string
	if err := svc.GetStatus("uptime", &reply); err != nil {
		t.Fatal(err)
	}
	if err := svc.GetStatus("not_a_field", &reply); err == nil {
		t.Error("expected error for unknown status field")
	}
}

func TestGetFullStatusReturnsSnapshot(t *testing.T) {
	svc := NewService(newTestManager())
	var reply hwstatus.Status
	if err := svc.GetFullStatus(struct{}{}, &reply); err != nil {
		t.Fatal(err)
	}
	if reply.SyncAge != syncAgeNeverSynced {
		t.Errorf("got sync age %d before first refresh, want %d", reply.SyncAge, syncAgeNeverSynced)
	}
}
