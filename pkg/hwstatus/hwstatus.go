// Package hwstatus defines the hardware manager's status snapshot and the
// analog sensor math (Steinhart-Hart thermistor conversion, ADC correction,
// Garmin-format position decoding) used to populate it.
package hwstatus

import "math"

// Steinhart-Hart coefficients shared by every thermistor channel on the
// router board and battery packs.
const (
	steinhartA = 1.40408e-3
	steinhartB = 2.36858e-4
	steinhartC = 7.10570e-8
	steinhartD = 9.56178e-8
)

// Thermistor divider constants (ohms), one per sensor family.
const (
	RouterThermistorK  = 53200.0
	BatteryThermistorK = 549000.0
)

// CorrectedADCVoltage applies the per-board ADC offset/gain calibration to a
// raw ADC reading, clamping negative results to zero.
func CorrectedADCVoltage(raw, offset, gain float64) float64 {
	v := raw - offset
	if v < 0 {
		v = 0
	}
	if gain == 0 {
		return 0
	}
	return v / gain
}

// ThermistorTemp converts a corrected ADC voltage to a temperature in
// degrees Celsius via the Steinhart-Hart polynomial, given the thermistor's
// divider constant k (RouterThermistorK or BatteryThermistorK).
func ThermistorTemp(correctedV, k float64) float64 {
	if correctedV < 0.001 {
		correctedV = 0.001
	}
	r := (k * correctedV) / (5.0 - correctedV)
	lnR := math.Log(r)
	lnR2 := lnR * lnR
	lnR3 := lnR * lnR2
	return 1.0/(steinhartA+steinhartB*lnR+steinhartC*lnR2+steinhartD*lnR3) - 273.15
}

// InputCurrentAmps converts a corrected ADC voltage on the input current
// sense channel to amps.
func InputCurrentAmps(correctedV float64) float64 { return correctedV * 1.6997 }

// BatteryVolts converts a corrected ADC voltage on a battery sense channel
// to volts.
func BatteryVolts(correctedV float64) float64 { return correctedV * 4.3887 }

// GarminToDegrees converts a Garmin-format latitude or longitude (DDDMM.MMMM,
// sign-carrying) into decimal degrees.
func GarminToDegrees(garmin float64) float64 {
	sign := 1.0
	if garmin < 0 {
		garmin = -garmin
		sign = -1.0
	}
	degrees := math.Trunc(garmin / 100.0)
	minutes := garmin - degrees*100.0
	return (degrees + minutes/60.0) * sign
}

// PowerState is the binary on/off state of a switched hardware rail.
type PowerState int

const (
	PowerOff PowerState = 0
	PowerOn  PowerState = 1
)

// Status is the hardware manager's point-in-time snapshot of the
// observatory's power rails, temperatures, voltages, current, overcurrent
// latch, jumper block, and time/position sync state.
type Status struct {
	SysDate string
	SysTime string

	IridPwr  PowerState
	FGPwr    PowerState
	SCPwr    PowerState
	CASESPwr PowerState
	HFPwr    PowerState
	HtrPwr   PowerState
	GPSPwr   PowerState

	EthernetPwr PowerState
	USBPwr      PowerState
	PC104Pwr    PowerState
	RS232Pwr    PowerState

	CPUTemp        float64
	RouterTemp     float64
	Batt1Temp      float64
	Batt1TempRawV  float64
	Batt2Temp      float64
	Batt3Temp      float64
	FGElecTemp     float64
	FGSensTemp     float64
	Batt1Volt      float64
	Batt2Volt      float64
	Batt3Volt      float64
	InCurrent      float64
	InCurrentADC   float64
	InPower        float64
	OvrCurStatus   int
	OvrCurReset    int
	Jumper2        int
	Jumper3        int
	Jumper4        int
	Jumper5        int
	Jumper6        int

	// SyncAge is the number of seconds since the last successful UTC
	// discipline via GPS PPS, or (as a fallback, when the PPS sync age
	// exceeds 10000 seconds) the Iridium network epoch age.
	SyncAge       int
	SysTimeErrorS float64
	Lat           float64
	Long          float64

	Uptime string
}

// InputPower computes total input power from the input current and the
// highest of the three battery voltages, matching the way the hardware
// manager estimates power draw without a dedicated input voltage sense.
func InputPower(inCurrent, v1, v2, v3 float64) float64 {
	v := v1
	if v2 > v {
		v = v2
	}
	if v3 > v {
		v = v3
	}
	return inCurrent * v
}
