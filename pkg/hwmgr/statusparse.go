package hwmgr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/VTMIST/aal-pip/pkg/hwstatus"
)

// sbcctl status emits a fixed-layout text report; every field is read from a
// specific line and whitespace-separated column, matching the layout the
// hardware manager has always parsed against.
const (
	lineSysDateTime  = 2
	lineIridPwr      = 6
	lineFGPwr        = 7
	lineSCPwr        = 8
	lineCASESPwr     = 9
	lineHFPwr        = 10
	lineHtrPwr       = 11
	lineGPSPwr       = 12
	lineOvrCurReset  = 19
	lineOvrCurStatus = 20
	lineJumper2      = 25
	lineJumper3      = 26
	lineJumper4      = 27
	lineJumper5      = 28
	lineJumper6      = 29
	lineCPUTemp      = 31
	lineBatt1Temp    = 39
	lineBatt2Temp    = 40
	lineBatt3Temp    = 41
	lineBatt1Volt    = 42
	lineBatt2Volt    = 43
	lineBatt3Volt    = 44
	lineRouterTemp   = 45
	lineInCurrent    = 46
	lineEthernetPwr  = 48
	lineUSBPwr       = 49
	linePC104Pwr     = 50
	lineRS232Pwr     = 51

	minSbcctlLines = lineRS232Pwr + 1
)

// ADCCalibration is the per-board ADC offset/gain pair looked up by CPU
// serial number.
type ADCCalibration struct {
	Offset float64
	Gain   float64
}

func field(line string, idx int) (string, error) {
	fields := strings.Fields(line)
	if idx >= len(fields) {
		return "", fmt.Errorf("hwmgr: line %q has no field %d", line, idx)
	}
	return fields[idx], nil
}

func fieldInt(line string, idx int) (int, error) {
	s, err := field(line, idx)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(s)
}

func fieldFloat(line string, idx int) (float64, error) {
	s, err := field(line, idx)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(s, 64)
}

// ParseSbcctlStatus parses the text output of `sbcctl status` into a Status
// snapshot, applying cal to every raw ADC voltage reading.
func ParseSbcctlStatus(output string, cal ADCCalibration) (hwstatus.Status, error) {
	lines := strings.Split(output, "\n")
	if len(lines) < minSbcctlLines {
		return hwstatus.Status{}, fmt.Errorf("hwmgr: sbcctl status output has only %d lines, want at least %d", len(lines), minSbcctlLines)
	}

	var st hwstatus.Status
	var err error

	dateFields := strings.Fields(lines[lineSysDateTime])
	if len(dateFields) > 2 {
		st.SysDate = dateFields[1]
		st.SysTime = dateFields[2]
	}

	intFields := []struct {
		line int
		idx  int
		dst  *hwstatus.PowerState
	}{
		{lineIridPwr, 2, &st.IridPwr},
		{lineFGPwr, 2, &st.FGPwr},
		{lineSCPwr, 2, &st.SCPwr},
		{lineCASESPwr, 2, &st.CASESPwr},
		{lineHFPwr, 2, &st.HFPwr},
		{lineHtrPwr, 2, &st.HtrPwr},
		{lineGPSPwr, 2, &st.GPSPwr},
		{lineEthernetPwr, 1, &st.EthernetPwr},
		{lineUSBPwr, 1, &st.USBPwr},
		{linePC104Pwr, 1, &st.PC104Pwr},
		{lineRS232Pwr, 1, &st.RS232Pwr},
	}
	for _, f := range intFields {
		v, ferr := fieldInt(lines[f.line], f.idx)
		if ferr != nil {
			return hwstatus.Status{}, ferr
		}
		*f.dst = hwstatus.PowerState(v)
	}

	if st.OvrCurStatus, err = fieldInt(lines[lineOvrCurStatus], 2); err != nil {
		return hwstatus.Status{}, err
	}
	if st.OvrCurReset, err = fieldInt(lines[lineOvrCurReset], 2); err != nil {
		return hwstatus.Status{}, err
	}
	for _, f := range []struct {
		line int
		dst  *int
	}{
		{lineJumper2, &st.Jumper2},
		{lineJumper3, &st.Jumper3},
		{lineJumper4, &st.Jumper4},
		{lineJumper5, &st.Jumper5},
		{lineJumper6, &st.Jumper6},
	} {
		if *f.dst, err = fieldInt(lines[f.line], 1); err != nil {
			return hwstatus.Status{}, err
		}
	}

	if st.CPUTemp, err = fieldFloat(lines[lineCPUTemp], 1); err != nil {
		return hwstatus.Status{}, err
	}

	rawRouterV, err := fieldFloat(lines[lineRouterTemp], 1)
	if err != nil {
		return hwstatus.Status{}, err
	}
	correctedRouterV := hwstatus.CorrectedADCVoltage(rawRouterV, cal.Offset, cal.Gain)
	st.RouterTemp = hwstatus.ThermistorTemp(correctedRouterV, hwstatus.RouterThermistorK)

	batt1Raw, err := fieldFloat(lines[lineBatt1Temp], 1)
	if err != nil {
		return hwstatus.Status{}, err
	}
	st.Batt1TempRawV = batt1Raw
	st.Batt1Temp = hwstatus.ThermistorTemp(hwstatus.CorrectedADCVoltage(batt1Raw, cal.Offset, cal.Gain), hwstatus.BatteryThermistorK)

	batt2Raw, err := fieldFloat(lines[lineBatt2Temp], 1)
	if err != nil {
		return hwstatus.Status{}, err
	}
	st.Batt2Temp = hwstatus.ThermistorTemp(hwstatus.CorrectedADCVoltage(batt2Raw, cal.Offset, cal.Gain), hwstatus.BatteryThermistorK)

	batt3Raw, err := fieldFloat(lines[lineBatt3Temp], 1)
	if err != nil {
		return hwstatus.Status{}, err
	}
	st.Batt3Temp = hwstatus.ThermistorTemp(hwstatus.CorrectedADCVoltage(batt3Raw, cal.Offset, cal.Gain), hwstatus.BatteryThermistorK)

	for _, f := range []struct {
		line int
		dst  *float64
	}{
		{lineBatt1Volt, &st.Batt1Volt},
		{lineBatt2Volt, &st.Batt2Volt},
		{lineBatt3Volt, &st.Batt3Volt},
	} {
		raw, ferr := fieldFloat(lines[f.line], 1)
		if ferr != nil {
			return hwstatus.Status{}, ferr
		}
		*f.dst = hwstatus.BatteryVolts(hwstatus.CorrectedADCVoltage(raw, cal.Offset, cal.Gain))
	}

	inCurRaw, err := fieldFloat(lines[lineInCurrent], 1)
	if err != nil {
		return hwstatus.Status{}, err
	}
	st.InCurrentADC = inCurRaw
	st.InCurrent = hwstatus.InputCurrentAmps(hwstatus.CorrectedADCVoltage(inCurRaw, cal.Offset, cal.Gain))

	st.InPower = hwstatus.InputPower(st.InCurrent, st.Batt1Volt, st.Batt2Volt, st.Batt3Volt)

	return st, nil
}

// GPSPPSStatus is the parsed content of /proc/gps_pps.
type GPSPPSStatus struct {
	SyncAge       int
	SysTimeErrorS float64
	Lat           float64
	Long          float64
}

// ParseGPSPPSStatus parses the two-line CSV report the gps_pps driver
// exposes under /proc. A missing or malformed report (driver not loaded) is
// not an error; it yields the zero-value report, whose sync age is 0.
func ParseGPSPPSStatus(output string) GPSPPSStatus {
	var st GPSPPSStatus
	lines := strings.Split(output, "\n")
	if len(lines) < 2 {
		return st
	}
	header := strings.Split(lines[0], ",")
	if len(header) == 0 || header[0] != "Sync Age" {
		return st
	}
	fields := strings.Split(lines[1], ",")
	if len(fields) < 4 {
		return st
	}
	syncAge, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil {
		return GPSPPSStatus{}
	}
	sysErr, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	if err != nil {
		return GPSPPSStatus{}
	}
	latG, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
	if err != nil {
		return GPSPPSStatus{}
	}
	longG, err := strconv.ParseFloat(strings.TrimSpace(fields[3]), 64)
	if err != nil {
		return GPSPPSStatus{}
	}
	st.SyncAge = syncAge
	st.SysTimeErrorS = sysErr
	st.Lat = hwstatus.GarminToDegrees(latG)
	st.Long = hwstatus.GarminToDegrees(longG)
	return st
}

// ParseCPUSerial extracts the "Serial" field from /proc/cpuinfo output, or
// "" if not present.
func ParseCPUSerial(cpuinfo string) string {
	for _, line := range strings.Split(cpuinfo, "\n") {
		if strings.Contains(line, "Serial") {
			fields := strings.Fields(line)
			if len(fields) >= 3 {
				return fields[2]
			}
		}
	}
	return ""
}
