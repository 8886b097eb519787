package supervisor

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/VTMIST/aal-pip/internal/aalpipcfg"
	"github.com/VTMIST/aal-pip/pkg/hwmgr"
	"github.com/VTMIST/aal-pip/pkg/hwstatus"
)

// GPSPowerController turns the Garmin GPS receiver on when its UTC sync has
// gone stale and off once it has resynced, mirroring ControlGPSPower.
type GPSPowerController struct {
	hw  *hwmgr.Client
	log zerolog.Logger

	MaxSyncAge int
}

// NewGPSPowerController builds a controller using aalpipcfg's default
// max sync age.
func NewGPSPowerController(hw *hwmgr.Client, log zerolog.Logger) *GPSPowerController {
	return &GPSPowerController{hw: hw, log: log, MaxSyncAge: aalpipcfg.GPSMaxSyncAge}
}

// Run evaluates the GPS power thermostat for one tick.
func (c *GPSPowerController) Run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	st, err := c.hw.GetFullStatus(ctx)
	if err != nil {
		c.log.Error().Err(err).Msg("could not get GPS status from hw_mgr")
		return
	}

	switch {
	case st.SyncAge < c.MaxSyncAge && st.GPSPwr == hwstatus.PowerOn:
		if err := c.hw.SetPower(ctx, "gps", "off"); err != nil {
			c.log.Error().Err(err).Msg("could not turn GPS power off")
		}
	case st.SyncAge > c.MaxSyncAge && st.GPSPwr == hwstatus.PowerOff:
		if err := c.hw.SetPower(ctx, "gps", "on"); err != nil {
			c.log.Error().Err(err).Msg("could not turn GPS power on")
		}
	}
}

// Stop always forces the GPS receiver off.
func (c *GPSPowerController) Stop(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.hw.SetPower(ctx, "gps", "off"); err != nil {
		c.log.Error().Err(err).Msg("could not turn GPS power off on stop")
	}
}
