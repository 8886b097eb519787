package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/VTMIST/aal-pip/internal/aalpipcfg"
	"github.com/VTMIST/aal-pip/pkg/hwmgr"
	"github.com/VTMIST/aal-pip/pkg/hwstatus"
)

// TempController runs the enclosure heater off the router board
// thermistor, holding its setpoint within a hysteresis band. Mirrors
// ControlTemp.
type TempController struct {
	hw  *hwmgr.Client
	log zerolog.Logger

	mu         sync.Mutex
	setpoint   float64
	hysteresis float64

	desiredOn bool
}

// NewTempController builds a controller at aalpipcfg's default setpoint.
func NewTempController(hw *hwmgr.Client, log zerolog.Logger) *TempController {
	return &TempController{
		hw:         hw,
		log:        log,
		setpoint:   aalpipcfg.TempDefaultSetpoint,
		hysteresis: aalpipcfg.TempHysteresis,
	}
}

// SetSetpoint updates the desired electronics temperature, in degrees C.
// Used by the supervisor's "set_temp" admin command.
func (c *TempController) SetSetpoint(temp float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setpoint = temp
}

// Run evaluates the heater thermostat for one tick.
func (c *TempController) Run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	st, err := c.hw.GetFullStatus(ctx)
	if err != nil {
		c.log.Error().Err(err).Msg("could not get router board temp from hw_mgr")
		return
	}

	c.mu.Lock()
	setpoint, hysteresis := c.setpoint, c.hysteresis
	c.mu.Unlock()

	if st.RouterTemp > setpoint+hysteresis {
		c.desiredOn = false
	}
	if st.RouterTemp < setpoint-hysteresis {
		c.desiredOn = true
	}

	htrOn := st.HtrPwr == hwstatus.PowerOn
	if htrOn == c.desiredOn {
		return
	}
	state := "off"
	if c.desiredOn {
		state = "on"
	}
	if err := c.hw.SetPower(ctx, "htr", state); err != nil {
		c.log.Error().Err(err).Str("state", state).Msg("could not set heater power")
	}
}

// Stop always forces the heater off.
func (c *TempController) Stop(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.hw.SetPower(ctx, "htr", "off"); err != nil {
		c.log.Error().Err(err).Msg("could not turn heater off on stop")
	}
}
