package supervisor

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/VTMIST/aal-pip/internal/aalpipcfg"
	"github.com/VTMIST/aal-pip/pkg/hwmgr"
	"github.com/VTMIST/aal-pip/pkg/hwstatus"
)

// HFPowerController runs the HF radio power FSM: a router-board thermostat,
// a fixed daily transmit-window schedule, a master enable, and a duty-cycle
// cap, structurally mirroring CASESPowerController per spec.md Design Note
// (c) (no dedicated original_source module exists for it).
type HFPowerController struct {
	hw  *hwmgr.Client
	log zerolog.Logger

	masterPowerEnable atomic.Bool

	station      aalpipcfg.HFStation
	thermostatOn bool
	poweredSince time.Time
}

// NewHFPowerController builds a controller, looking up this node's call
// sign/tone identity by CPU serial number, and turns HF power off.
func NewHFPowerController(ctx context.Context, hw *hwmgr.Client, log zerolog.Logger) *HFPowerController {
	c := &HFPowerController{
		hw:           hw,
		log:          log,
		thermostatOn: true,
		station:      lookupHFStation(log),
	}
	c.masterPowerEnable.Store(true)
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.hw.SetPower(ctx, "hf", "off"); err != nil {
		log.Error().Err(err).Msg("could not turn HF power off at startup")
	}
	return c
}

func lookupHFStation(log zerolog.Logger) aalpipcfg.HFStation {
	data, err := os.ReadFile("/proc/cpuinfo")
	if err != nil {
		log.Error().Err(err).Msg("could not read /proc/cpuinfo for HF call sign lookup")
		return aalpipcfg.DefaultHFStation
	}
	serial := hwmgr.ParseCPUSerial(string(data))
	station := aalpipcfg.LookupHFStation(serial)
	log.Info().Str("call_sign", station.CallSign).Msg("HF station identity resolved")
	return station
}

// SetMasterPowerEnable enables or disables HF power entirely, for the
// supervisor's "hf on|off" admin command.
func (c *HFPowerController) SetMasterPowerEnable(on bool) { c.masterPowerEnable.Store(on) }

// Run advances the HF FSM by one tick.
func (c *HFPowerController) Run(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	st, err := c.hw.GetFullStatus(callCtx)
	if err != nil {
		c.log.Error().Err(err).Msg("could not get HF power status from hw_mgr")
		return
	}

	thermostatVotesYes := c.runThermostat(st.RouterTemp)
	inWindow := hfInSchedule(time.Now())
	dutyOK := !(st.HFPwr == hwstatus.PowerOn && time.Since(c.poweredSince) > aalpipcfg.HFMaxOnTime)

	desiredOn := thermostatVotesYes && inWindow && dutyOK && c.masterPowerEnable.Load()
	currentOn := st.HFPwr == hwstatus.PowerOn
	if currentOn == desiredOn {
		return
	}

	state := "off"
	if desiredOn {
		state = "on"
	}
	if err := c.hw.SetPower(callCtx, "hf", state); err != nil {
		c.log.Error().Err(err).Str("state", state).Msg("could not set HF power")
		return
	}
	if desiredOn {
		c.poweredSince = time.Now()
		mark := c.toneFrequency(st.FGElecTemp)
		c.log.Info().Str("call_sign", c.station.CallSign).Float64("mark_hz", mark).Msg("turned HF power on")
	} else {
		c.log.Info().Msg("turned HF power off")
	}
}

func (c *HFPowerController) runThermostat(routerTemp float64) bool {
	if routerTemp > aalpipcfg.HFPowerOffTemp {
		c.thermostatOn = false
	}
	if routerTemp < aalpipcfg.HFPowerOnTemp {
		c.thermostatOn = true
	}
	return c.thermostatOn
}

// toneFrequency computes the HF mark tone as a quadratic function of the
// fluxgate electronics temperature, per this station's tone coefficients.
func (c *HFPowerController) toneFrequency(fgElecTemp float64) float64 {
	s := c.station
	return s.ToneCoeff2*fgElecTemp*fgElecTemp + s.ToneCoeff1*fgElecTemp + s.ToneCoeff0 + s.ToneShift
}

func hfInSchedule(now time.Time) bool {
	nowMin := now.Hour()*60 + now.Minute()
	for _, w := range aalpipcfg.HFSchedule {
		start := w.Start.Minutes()
		stop := w.Stop.Minutes()
		if stop <= start {
			stop += 24 * 60
		}
		m := nowMin
		if m < start {
			m += 24 * 60
		}
		if m >= start && m < stop {
			return true
		}
	}
	return false
}

// Stop turns HF power off.
func (c *HFPowerController) Stop(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.hw.SetPower(ctx, "hf", "off"); err != nil {
		c.log.Error().Err(err).Msg("could not turn HF power off on stop")
	}
}
