// Package hwmgr implements the hardware manager: the process that owns the
// SBC's digital I/O lines and analog sensors through sbcctl, maintains a
// point-in-time status snapshot, and exposes power-control and status-query
// operations over RPC.
package hwmgr

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/VTMIST/aal-pip/pkg/hwstatus"
	"github.com/VTMIST/aal-pip/pkg/subprocessx"
)

// syncAgeNeverSynced is the sentinel the status map starts at before the
// first successful GPS/Iridium time sync, chosen to be larger than any
// real sync age the supervisor's staleness threshold would tolerate.
const syncAgeNeverSynced = 8888888

// overcurrentResetDwell is how long the overcurrent-reset pin is held
// asserted before being released.
const overcurrentResetDwell = 250 * time.Millisecond

// FluxgateClient is the subset of the fluxgate manager's RPC surface the
// hardware manager needs to fold fluxgate temperatures into its own status.
type FluxgateClient interface {
	ElecTemp(ctx context.Context) (float64, error)
	SensorTemp(ctx context.Context) (float64, error)
}

// Manager owns the hardware manager's status snapshot and serializes every
// sbcctl invocation and digital pin change through a single subprocess
// runner, matching the original implementation's global subprocess lock.
type Manager struct {
	runner  *subprocessx.Runner
	binDir  string
	cal     ADCCalibration
	fluxgate FluxgateClient
	log     zerolog.Logger

	iridiumTime func() int

	mu     sync.Mutex
	status hwstatus.Status
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithFluxgateClient supplies the RPC client used to fold fluxgate
// electronics/sensor temperatures into the status snapshot.
func WithFluxgateClient(c FluxgateClient) Option {
	return func(m *Manager) { m.fluxgate = c }
}

// WithIridiumTimeFallback supplies the function used to estimate sync age
// from the Iridium network epoch when the GPS PPS sync age exceeds
// 10000 seconds.
func WithIridiumTimeFallback(f func() int) Option {
	return func(m *Manager) { m.iridiumTime = f }
}

// New creates a Manager. binDir is the directory containing the sbcctl
// executable.
func New(runner *subprocessx.Runner, binDir string, cal ADCCalibration, log zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		runner: runner,
		binDir: binDir,
		cal:    cal,
		log:    log,
		status: hwstatus.Status{SyncAge: syncAgeNeverSynced},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) sbcctlPath() string { return m.binDir + "/sbcctl" }

// RunSbcctl executes a single sbcctl subcommand line (e.g. "setpin DIO1 3
// on") and logs, but does not return, its stderr -- matching sbcctl_cmd's
// fire-and-forget semantics for pin changes.
func (m *Manager) RunSbcctl(ctx context.Context, args string) {
	out, errOut, err := m.runner.RunShell(ctx, strings.Join([]string{m.sbcctlPath(), args}, " "))
	if err != nil {
		m.log.Error().Err(err).Str("args", args).Msg("sbcctl command failed")
		return
	}
	if errOut != "" {
		m.log.Error().Str("args", args).Str("stderr", errOut).Msg("sbcctl reported an error")
	}
	_ = out
}

// InitDigitalIO configures DIO2 pin directions and clears any latched
// overcurrent condition, run once at startup.
func (m *Manager) InitDigitalIO(ctx context.Context) {
	m.RunSbcctl(ctx, "setdir DIO2 0 out")
	m.RunSbcctl(ctx, "setdir DIO2 1 out")
	m.RunSbcctl(ctx, "setdir DIO2 2 out")
	m.RunSbcctl(ctx, "setdir DIO2 3 out")
	m.RunSbcctl(ctx, "setdir DIO2 4 in")
	m.RunSbcctl(ctx, "setdir DIO2 7 out")

	m.RunSbcctl(ctx, "setpin DIO2 7 off")

	m.RunSbcctl(ctx, "setpin DIO2 3 on")
	time.Sleep(overcurrentResetDwell)
	m.RunSbcctl(ctx, "setpin DIO2 3 off")
}

// StopDigitalIO disables latched overcurrent detection, run once at
// shutdown.
func (m *Manager) StopDigitalIO(ctx context.Context) {
	m.RunSbcctl(ctx, "setpin DIO2 7 on")
}

var devicePins = map[string]string{
	"fg":   "DIO1 1",
	"sc":   "DIO1 2",
	"cases": "DIO1 3",
	"hf":   "DIO1 4",
	"htr":  "DIO1 5",
	"gps":  "DIO1 6",
}

// pc104Devices controls the PC-104 bus, which must be left powered once any
// device needing USB connectivity through it is turned on.
var pc104Devices = map[string]bool{
	"irid":  true,
	"cases": true,
	"hf":    true,
	"gps":   true,
}

var directCommands = map[string]bool{
	"usb": true, "ethernet": true, "pc104": true, "rs232": true,
}

// SetPower turns a hardware device on or off. device/state are
// case-insensitive; valid devices are irid, fg, sc, cases, hf, htr, gps, usb,
// ethernet, pc104, rs232.
func (m *Manager) SetPower(ctx context.Context, device, state string) error {
	device = strings.ToLower(device)
	state = strings.ToLower(state)
	if state != "on" && state != "off" {
		return fmt.Errorf("hwmgr: invalid power state %q", state)
	}

	switch {
	case directCommands[device]:
		m.RunSbcctl(ctx, fmt.Sprintf("%s %s", device, state))
		return nil
	case device == "irid":
		m.RunSbcctl(ctx, fmt.Sprintf("setpin DIO1 0 %s", state))
	case devicePins[device] != "":
		m.RunSbcctl(ctx, fmt.Sprintf("setpin %s %s", devicePins[device], state))
	default:
		return fmt.Errorf("hwmgr: unknown device %q", device)
	}

	if pc104Devices[device] {
		m.controlPC104Power(ctx)
	}
	return nil
}

// controlPC104Power turns the PC-104 bus on if it is currently off. It is
// never turned back off automatically, since USB depends on it remaining
// powered.
func (m *Manager) controlPC104Power(ctx context.Context) {
	m.mu.Lock()
	pc104Off := m.status.PC104Pwr == hwstatus.PowerOff
	m.mu.Unlock()
	if pc104Off {
		m.RunSbcctl(ctx, "pc104 on")
	}
}

// ResetOvercurrent clears a latched router-board overcurrent condition.
func (m *Manager) ResetOvercurrent(ctx context.Context) {
	m.RunSbcctl(ctx, "setpin DIO2 3 on")
	time.Sleep(overcurrentResetDwell)
	m.RunSbcctl(ctx, "setpin DIO2 3 off")
}

// Refresh updates the status snapshot from sbcctl, the GPS PPS driver, the
// fluxgate manager, and the system uptime command.
func (m *Manager) Refresh(ctx context.Context) error {
	st, err := m.refreshSbcctl(ctx)
	if err != nil {
		return fmt.Errorf("hwmgr: refresh sbcctl status: %w", err)
	}

	gps := m.refreshGPS(ctx)
	st.SyncAge = gps.SyncAge
	st.SysTimeErrorS = gps.SysTimeErrorS
	st.Lat = gps.Lat
	st.Long = gps.Long
	if st.SyncAge > 10000 && m.iridiumTime != nil {
		st.SyncAge = m.iridiumTime()
	}

	st.FGElecTemp, st.FGSensTemp = m.refreshFluxgate(ctx)
	st.Uptime = m.refreshUptime(ctx)

	m.mu.Lock()
	m.status = st
	m.mu.Unlock()
	return nil
}

func (m *Manager) refreshSbcctl(ctx context.Context) (hwstatus.Status, error) {
	out, errOut, err := m.runner.Run(ctx, m.sbcctlPath(), "status")
	if err != nil {
		return hwstatus.Status{}, err
	}
	if errOut != "" {
		m.log.Error().Str("stderr", errOut).Msg("sbcctl status reported an error")
	}
	return ParseSbcctlStatus(out, m.cal)
}

func (m *Manager) refreshGPS(ctx context.Context) GPSPPSStatus {
	out, _, err := m.runner.RunShell(ctx, "cat /proc/gps_pps")
	if err != nil {
		return GPSPPSStatus{}
	}
	return ParseGPSPPSStatus(out)
}

func (m *Manager) refreshFluxgate(ctx context.Context) (elec, sensor float64) {
	if m.fluxgate == nil {
		return 0, 0
	}
	elec, err := m.fluxgate.ElecTemp(ctx)
	if err != nil {
		m.log.Error().Err(err).Msg("could not read fluxgate electronics temperature")
		return 0, 0
	}
	sensor, err = m.fluxgate.SensorTemp(ctx)
	if err != nil {
		m.log.Error().Err(err).Msg("could not read fluxgate sensor temperature")
		return elec, 0
	}
	return elec, sensor
}

func (m *Manager) refreshUptime(ctx context.Context) string {
	out, _, err := m.runner.Run(ctx, "uptime")
	if err != nil {
		return ""
	}
	return strings.TrimRight(out, "\n")
}

// Status returns a copy of the current status snapshot.
func (m *Manager) Status() hwstatus.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}
