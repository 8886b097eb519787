package supervisor

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/VTMIST/aal-pip/internal/aalpipcfg"
	"github.com/VTMIST/aal-pip/pkg/hwmgr"
)

// ModemPowerController keeps the Iridium modem's power rail on while the
// RUDICS tunnel is actively moving data, and cuts it after a period of
// inactivity. Activity is read from the server proxy's transfer record
// (pkg/proxyhub.XferRec), the same record the tunnel dispatcher touches on
// every PASSTHROUGH/CONNECT/ICCID_REQ packet.
type ModemPowerController struct {
	hw             *hwmgr.Client
	log            zerolog.Logger
	lastTransfer   func() time.Time
	dataXferTimeout time.Duration
}

// NewModemPowerController builds a controller. lastTransfer reports the
// time of the most recent tunnel activity (ordinarily
// (*proxyhub.XferRec).LastTransfer).
func NewModemPowerController(hw *hwmgr.Client, lastTransfer func() time.Time, log zerolog.Logger) *ModemPowerController {
	return &ModemPowerController{
		hw:              hw,
		log:             log,
		lastTransfer:    lastTransfer,
		dataXferTimeout: aalpipcfg.DataXferTimeout,
	}
}

// Run turns the modem on if the tunnel has been active recently, off if it
// has been idle for longer than the data-transfer timeout.
func (c *ModemPowerController) Run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	idle := time.Since(c.lastTransfer())
	if idle > c.dataXferTimeout {
		if err := c.hw.SetPower(ctx, "irid", "off"); err != nil {
			c.log.Error().Err(err).Msg("could not turn Iridium modem power off")
		}
		return
	}
	if err := c.hw.SetPower(ctx, "irid", "on"); err != nil {
		c.log.Error().Err(err).Msg("could not turn Iridium modem power on")
	}
}

// PowerOn forces the modem on, for the supervisor's "irid on" admin command.
func (c *ModemPowerController) PowerOn(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.hw.SetPower(ctx, "irid", "on")
}

// PowerOff forces the modem off, for the supervisor's "irid off" admin command.
func (c *ModemPowerController) PowerOff(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.hw.SetPower(ctx, "irid", "off")
}

// Stop turns the modem off.
func (c *ModemPowerController) Stop(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.hw.SetPower(ctx, "irid", "off"); err != nil {
		c.log.Error().Err(err).Msg("could not turn Iridium modem power off on stop")
	}
}
