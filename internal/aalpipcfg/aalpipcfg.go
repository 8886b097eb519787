// Package aalpipcfg holds the process layout, directory conventions, and
// static schedule/calibration tables shared by every AAL-PIP process:
// console and RPC port numbers, flag-file paths, the CASES and HF power
// schedules, and the CPU-serial-keyed HF call sign/tone table.
package aalpipcfg

import "time"

// Base port numbers for each process. The console (human-readable, plus
// /metrics) listens on BasePort+0; the RPC server listens on BasePort+40.
const (
	ModemSvrBasePort = 26003
	SvrProxyBasePort = 27003
	FGMgrBasePort    = 28003
	USBMgrBasePort   = 29003
	SCMgrBasePort    = 30003
	CASESMgrBasePort = 31003
	HWMgrBasePort    = 32003
	SuperBasePort    = 33003
	WatchdogBasePort = 34003
)

// ConsolePort and RPCPort derive the two well-known ports for a process from
// its base port, per the base_port+0 / base_port+40 convention. Every
// process uses this uniform scheme for its console/metrics port and its
// admin RPC port, including modem_svr (the original instead put modem_svr's
// RPC port at base_port+1; that's folded into the uniform +40 here so every
// process's RPC port is derivable the same way).
func ConsolePort(base int) int { return base + 0 }
func RPCPort(base int) int     { return base + 40 }

// ModemSvrTunnelPort is modem_svr's local loopback listen port for the
// server proxy's tunnel connection (client_port in the original), distinct
// from its console and RPC ports. There is no equivalent for any other
// process: modem_svr is the only one with a local peer process attaching
// over a raw TCP socket rather than RPC.
const ModemSvrTunnelPort = ModemSvrBasePort + 1

// Remote (RUDICS-side) well-known ports, reachable only through the tunnel.
const (
	SSHServerPort    = 22
	FileServerPort   = 37559
)

// Default directory layout.
const (
	TempDir = "/tmp/"
	FlagDir = "/var/log"
)

// ProcTempDir returns the scratch directory for a process's mnemonic (e.g.
// "super" -> "/tmp/super/").
func ProcTempDir(mnemonic string) string { return TempDir + mnemonic + "/" }

// Link liveness flag files, touched by the server proxy and read by the comm
// monitor (and any external watchdog).
var (
	ConnectTimeFile    = FlagDir + "/connect_time"
	DisconnectTimeFile = FlagDir + "/disconnect_time"
)

// Golden image fallback paths used by the reboot escalation logic.
const (
	GoldenImagePath    = "/golden_code/image.tar.gz"
	GoldenImageMD5Path = "/golden_code/image.tar.gz.md5"
	InstallDir         = "/install"
)

// Housekeeping storage.
var HskpTempDir = TempDir + "hskp/"

// RX inactivity timeout: the modem server tears down and re-dials if no data
// has been received for this long.
const ModemRxDataTimeout = 90 * time.Second

// Comm monitor thresholds.
const (
	CommMaxInitTime = 180 * time.Minute
	CommMaxDownTime = 2 * time.Hour
	CommMaxUpTime   = 12 * time.Hour
)

// Standalone comm watchdog thresholds. This is a second, independent
// decider from the in-supervisor CommMonitor: it polls less often, allows
// much longer intervals before acting, and always escalates straight to
// the golden image rather than a plain reboot, mirroring
// comm-watchdog-daemon.py's deliberately coarser, last-resort thresholds.
const (
	WatchdogPollPeriod  = 20 * time.Second
	WatchdogMaxInitTime = 2 * time.Hour
	WatchdogMaxUpTime   = 24 * time.Hour
	WatchdogMaxDownTime = 24 * time.Hour
)

// Thermostat setpoints (measured at the router board thermistor).
const (
	CASESPowerOnTemp  = 45.0
	CASESPowerOffTemp = 50.0
	HFPowerOnTemp     = 45.0
	HFPowerOffTemp    = 50.0
)

const (
	TempDefaultSetpoint = -25.0
	TempHysteresis      = 0.25
)

// HF transmit duty cycle.
const HFMaxOnTime = 30 * time.Minute

// Modem power controller: the supervisor commands the modem off after this
// long without tunnel data transfer activity.
const DataXferTimeout = 5 * time.Minute

// GPS control: a sync age beyond this is treated as "never synced" for power
// management purposes.
const GPSMaxSyncAge = 3600

// HWMgrRestartTimeout bounds how long the supervisor waits for the hardware
// manager's RPC server to come up during startup.
const HWMgrRestartTimeout = 15 * time.Second

// ClockTime is a wall-clock time of day with second resolution, used for
// schedule entries (avoiding a dependency on a specific day).
type ClockTime struct {
	Hour, Minute, Second int
}

// Minutes returns t as minutes since midnight, ignoring seconds.
func (t ClockTime) Minutes() int { return t.Hour*60 + t.Minute }

// CASESScheduleEntry is one scheduled CASES run window.
type CASESScheduleEntry struct {
	Start     ClockTime
	Stop      ClockTime
	DataLimit int64 // bytes; controller halts the run if production reaches this
}

// CASESNormalSchedule is the default (non-storm) CASES run schedule: four
// one-hour windows per day with a 4MB data cap each.
var CASESNormalSchedule = []CASESScheduleEntry{
	{ClockTime{1, 0, 0}, ClockTime{2, 0, 0}, 4_000_000},
	{ClockTime{7, 0, 0}, ClockTime{8, 0, 0}, 4_000_000},
	{ClockTime{13, 0, 0}, ClockTime{14, 0, 0}, 4_000_000},
	{ClockTime{19, 0, 0}, ClockTime{20, 0, 0}, 4_000_000},
}

// CASESStormSchedule is the higher-cadence schedule used during active
// magnetic storms: twelve one-hour windows per day, one starting every other
// hour, with a 100MB data cap each.
var CASESStormSchedule = []CASESScheduleEntry{
	{ClockTime{1, 0, 0}, ClockTime{2, 0, 0}, 100_000_000},
	{ClockTime{3, 0, 0}, ClockTime{4, 0, 0}, 100_000_000},
	{ClockTime{5, 0, 0}, ClockTime{6, 0, 0}, 100_000_000},
	{ClockTime{7, 0, 0}, ClockTime{8, 0, 0}, 100_000_000},
	{ClockTime{9, 0, 0}, ClockTime{10, 0, 0}, 100_000_000},
	{ClockTime{11, 0, 0}, ClockTime{12, 0, 0}, 100_000_000},
	{ClockTime{13, 0, 0}, ClockTime{14, 0, 0}, 100_000_000},
	{ClockTime{15, 0, 0}, ClockTime{16, 0, 0}, 100_000_000},
	{ClockTime{17, 0, 0}, ClockTime{18, 0, 0}, 100_000_000},
	{ClockTime{19, 0, 0}, ClockTime{20, 0, 0}, 100_000_000},
	{ClockTime{21, 0, 0}, ClockTime{22, 0, 0}, 100_000_000},
	{ClockTime{23, 0, 0}, ClockTime{0, 0, 0}, 100_000_000},
}

// CASESWindowMonths lists the months (1-12) during which CASES is allowed to
// run at all (the instrument observes equinox/solstice storm seasons).
var CASESWindowMonths = []int{12, 1, 2, 3, 4}

// HFScheduleEntry is one scheduled HF transceiver run window.
type HFScheduleEntry struct {
	Start ClockTime
	Stop  ClockTime
}

// HFPowerOnMinutes is the duration of each HF run window.
const HFPowerOnMinutes = 10

// HFSchedule lists the twelve HF run windows per day, each HFPowerOnMinutes
// long, starting on the half hour.
var HFSchedule = buildHFSchedule()

func buildHFSchedule() []HFScheduleEntry {
	var s []HFScheduleEntry
	for h := 0; h < 24; h += 2 {
		start := ClockTime{h, 30, 0}
		stopMin := 30 + HFPowerOnMinutes
		s = append(s, HFScheduleEntry{start, ClockTime{h, stopMin, 0}})
	}
	return s
}

// HFStation describes the call sign and tone coefficients for one CPU
// serial number, used by the HF controller to identify which observatory's
// HF beacon it is keying.
type HFStation struct {
	CPUSerial  string
	CallSign   string
	ToneCoeff0 float64
	ToneCoeff1 float64
	ToneCoeff2 float64
	ToneShift  float64
}

// HFStations is looked up once at HF controller startup by matching the
// running CPU's serial number (from /proc/cpuinfo). An unrecognized serial
// number falls back to a default, unshifted station identity.
var HFStations = []HFStation{
	{CPUSerial: "0000000000000001", CallSign: "KC4AAL", ToneCoeff0: 1.0, ToneCoeff1: 0.0, ToneCoeff2: 0.0, ToneShift: 0},
}

// DefaultHFStation is used when the running CPU's serial number isn't found
// in HFStations.
var DefaultHFStation = HFStation{CallSign: "UNKNOWN", ToneCoeff0: 1.0, ToneCoeff1: 0, ToneCoeff2: 0, ToneShift: 0}

// LookupHFStation finds the HF station entry for a CPU serial number,
// falling back to DefaultHFStation.
func LookupHFStation(cpuSerial string) HFStation {
	for _, s := range HFStations {
		if s.CPUSerial == cpuSerial {
			return s
		}
	}
	return DefaultHFStation
}
