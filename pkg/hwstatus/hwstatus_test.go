package hwstatus

import "testing"

func approxEqual(a, b, eps float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= eps
}

func TestCorrectedADCVoltage(t *testing.T) {
	if v := CorrectedADCVoltage(1.0, 0.1, 1.0); !approxEqual(v, 0.9, 1e-9) {
		t.Errorf("got %v, want 0.9", v)
	}
	if v := CorrectedADCVoltage(0.05, 0.1, 1.0); v != 0 {
		t.Errorf("expected clamp to 0, got %v", v)
	}
}

func TestThermistorTempRouter(t *testing.T) {
	// a mid-range router-board reading should land somewhere plausible for
	// a polar field instrument, and increasing voltage (resistance) should
	// decrease the computed temperature monotonically on this branch.
	hot := ThermistorTemp(1.5, RouterThermistorK)
	cold := ThermistorTemp(2.5, RouterThermistorK)
	if !(hot > cold) {
		t.Errorf("expected higher voltage -> lower temp (higher R): hot=%v cold=%v", hot, cold)
	}
}

func TestGarminToDegrees(t *testing.T) {
	// 4217.6544 -> 42 deg, 17.6544 min
	got := GarminToDegrees(4217.6544)
	want := 42.0 + 17.6544/60.0
	if !approxEqual(got, want, 1e-9) {
		t.Errorf("got %v, want %v", got, want)
	}
	gotNeg := GarminToDegrees(-8342.6943)
	wantNeg := -(83.0 + 42.6943/60.0)
	if !approxEqual(gotNeg, wantNeg, 1e-9) {
		t.Errorf("got %v, want %v", gotNeg, wantNeg)
	}
}

func TestInputPowerUsesHighestBattery(t *testing.T) {
	p := InputPower(2.0, 11.0, 12.5, 12.0)
	if !approxEqual(p, 25.0, 1e-9) {
		t.Errorf("got %v, want 25.0", p)
	}
}
