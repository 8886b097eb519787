package supervisor

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/VTMIST/aal-pip/pkg/hwmgr"
	"github.com/VTMIST/aal-pip/pkg/subprocessx"
)

// EthernetPowerController cuts ethernet power once at startup if the link is
// not up, on the assumption that nothing is plugged into it for this
// deployment. Mirrors ControlEthernetPower; it never turns the rail back on.
type EthernetPowerController struct {
	hw     *hwmgr.Client
	runner *subprocessx.Runner
	log    zerolog.Logger
}

// NewEthernetPowerController builds a controller.
func NewEthernetPowerController(hw *hwmgr.Client, runner *subprocessx.Runner, log zerolog.Logger) *EthernetPowerController {
	return &EthernetPowerController{hw: hw, runner: runner, log: log}
}

// Run checks the eth0 link state and cuts power if it is not up. Intended to
// run exactly once, at supervisor startup.
func (c *EthernetPowerController) Run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	stdout, _, err := c.runner.Run(ctx, "ifconfig", "eth0")
	if err != nil {
		c.log.Error().Err(err).Msg("could not run ifconfig eth0")
		return
	}
	if strings.Contains(stdout, "RUNNING") {
		c.log.Info().Msg("ethernet cable is connected, leaving ethernet power on")
		return
	}
	c.log.Info().Msg("ethernet cable is not connected, turning ethernet power off")
	if err := c.hw.SetPower(ctx, "ethernet", "off"); err != nil {
		c.log.Error().Err(err).Msg("could not turn ethernet power off")
	}
}

// Stop is a no-op; the controller never re-enables the rail.
func (c *EthernetPowerController) Stop(context.Context) {}
