package supervisor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/VTMIST/aal-pip/pkg/hwmgr"
	"github.com/VTMIST/aal-pip/pkg/hwstatus"
)

// FGSCPowerController keeps the fluxgate and search-coil magnetometer power
// rails in their commanded state. Both default on at startup and stay on
// unless commanded off through SetFGPower/SetSCPower. Mirrors
// ControlFGSCPower.
type FGSCPowerController struct {
	hw  *hwmgr.Client
	log zerolog.Logger

	fgSetting atomic.Int32
	scSetting atomic.Int32
}

// NewFGSCPowerController builds a controller and turns both rails on.
func NewFGSCPowerController(ctx context.Context, hw *hwmgr.Client, log zerolog.Logger) *FGSCPowerController {
	c := &FGSCPowerController{hw: hw, log: log}
	c.fgSetting.Store(int32(hwstatus.PowerOn))
	c.scSetting.Store(int32(hwstatus.PowerOn))
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.hw.SetPower(ctx, "fg", "on"); err != nil {
		log.Error().Err(err).Msg("could not turn fluxgate power on")
	}
	if err := c.hw.SetPower(ctx, "sc", "on"); err != nil {
		log.Error().Err(err).Msg("could not turn search-coil power on")
	}
	return c
}

// SetFGPower sets the commanded fluxgate power state, for the supervisor's
// "fg on|off" admin command.
func (c *FGSCPowerController) SetFGPower(on bool) { c.fgSetting.Store(int32(powerStateOf(on))) }

// SetSCPower sets the commanded search-coil power state, for the
// supervisor's "sc on|off" admin command.
func (c *FGSCPowerController) SetSCPower(on bool) { c.scSetting.Store(int32(powerStateOf(on))) }

func powerStateOf(on bool) hwstatus.PowerState {
	if on {
		return hwstatus.PowerOn
	}
	return hwstatus.PowerOff
}

// Run enforces the commanded FG/SC power state for one tick.
func (c *FGSCPowerController) Run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	st, err := c.hw.GetFullStatus(ctx)
	if err != nil {
		c.log.Error().Err(err).Msg("could not get FG/SC power status from hw_mgr")
		return
	}

	fgWant := hwstatus.PowerState(c.fgSetting.Load())
	scWant := hwstatus.PowerState(c.scSetting.Load())

	if st.FGPwr != fgWant {
		if err := c.hw.SetPower(ctx, "fg", powerWord(fgWant)); err != nil {
			c.log.Error().Err(err).Msg("could not set fluxgate power")
		}
	}
	if st.SCPwr != scWant {
		if err := c.hw.SetPower(ctx, "sc", powerWord(scWant)); err != nil {
			c.log.Error().Err(err).Msg("could not set search-coil power")
		}
	}
}

// Stop turns both rails off.
func (c *FGSCPowerController) Stop(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.hw.SetPower(ctx, "fg", "off"); err != nil {
		c.log.Error().Err(err).Msg("could not turn fluxgate power off")
	}
	if err := c.hw.SetPower(ctx, "sc", "off"); err != nil {
		c.log.Error().Err(err).Msg("could not turn search-coil power off")
	}
}

func powerWord(s hwstatus.PowerState) string {
	if s == hwstatus.PowerOn {
		return "on"
	}
	return "off"
}
