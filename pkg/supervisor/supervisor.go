// Package supervisor drives AAL-PIP's periodic instrument power and
// housekeeping controllers: CASES, GPS, heater, fluxgate/search-coil, HF,
// Iridium modem, and the RUDICS comm-link watchdog, plus the housekeeping
// CSV emitter. Mirrors super.py's Controllers/run_super_loop pair.
package supervisor

import (
	"context"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/rs/zerolog"

	"github.com/VTMIST/aal-pip/db/rebootlog"
	"github.com/VTMIST/aal-pip/pkg/hwmgr"
	"github.com/VTMIST/aal-pip/pkg/subprocessx"
)

// Controllers bundles every sub-controller the tick loop drives.
type Controllers struct {
	CASESPower      *CASESPowerController
	Ethernet        *EthernetPowerController
	GPSPower        *GPSPowerController
	Temp            *TempController
	FGSCPower       *FGSCPowerController
	HFPower         *HFPowerController
	ModemPower      *ModemPowerController
	CommMonitor     *CommMonitor
	Housekeeping    *HousekeepingEmitter
}

// NewControllers builds the full controller set. cases and storer are the
// CASES instrument manager and USB manager RPC contracts respectively;
// either may be nil in a reduced deployment, in which case the
// corresponding functionality logs and no-ops. set may be nil, in which
// case no metrics are registered.
func NewControllers(ctx context.Context, hw *hwmgr.Client, runner *subprocessx.Runner, cases CASESManager, storer HskpStorer, lastTransfer func() time.Time, ledger *rebootlog.DB, set *metrics.Set, log zerolog.Logger) (*Controllers, error) {
	hskp, err := NewHousekeepingEmitter(hw, storer, set, log.With().Str("controller", "housekeeping").Logger())
	if err != nil {
		return nil, err
	}
	return &Controllers{
		CASESPower:   NewCASESPowerController(ctx, hw, cases, log.With().Str("controller", "cases_power").Logger()),
		Ethernet:     NewEthernetPowerController(hw, runner, log.With().Str("controller", "ethernet_power").Logger()),
		GPSPower:     NewGPSPowerController(hw, log.With().Str("controller", "gps_power").Logger()),
		Temp:         NewTempController(hw, log.With().Str("controller", "temp").Logger()),
		FGSCPower:    NewFGSCPowerController(ctx, hw, log.With().Str("controller", "fgsc_power").Logger()),
		HFPower:      NewHFPowerController(ctx, hw, log.With().Str("controller", "hf_power").Logger()),
		ModemPower:   NewModemPowerController(hw, lastTransfer, log.With().Str("controller", "modem_power").Logger()),
		CommMonitor:  NewCommMonitor(runner, ledger, set, log.With().Str("controller", "comm_monitor").Logger()),
		Housekeeping: hskp,
	}, nil
}

// Stop shuts down every controller in the original's reverse-ish order,
// matching _shutdown_super.
func (c *Controllers) Stop(ctx context.Context) {
	c.Housekeeping.Stop(ctx)
	c.Ethernet.Stop(ctx)
	c.CASESPower.Stop(ctx)
	c.GPSPower.Stop(ctx)
	c.Temp.Stop(ctx)
	c.FGSCPower.Stop(ctx)
	c.HFPower.Stop(ctx)
	c.ModemPower.Stop(ctx)
	c.CommMonitor.Stop(ctx)
}

// Supervisor drives the 15-second tick loop.
type Supervisor struct {
	controllers *Controllers
	hw          *hwmgr.Client
	log         zerolog.Logger

	stopCh chan struct{}
	done   chan struct{}
}

// New builds a Supervisor around an already-constructed Controllers set.
func New(controllers *Controllers, hw *hwmgr.Client, log zerolog.Logger) *Supervisor {
	return &Supervisor{
		controllers: controllers,
		hw:          hw,
		log:         log,
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Run blocks, ticking every 15 wall-clock seconds, until Stop is called.
// The ethernet-power controller runs exactly once, at startup, per
// run_super_loop.
func (s *Supervisor) Run(ctx context.Context) {
	defer close(s.done)
	c := s.controllers

	select {
	case <-time.After(15 * time.Second):
	case <-s.stopCh:
		return
	}
	c.Ethernet.Run(ctx)

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var lastTick int64
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
		}

		now := time.Now()
		if now.Second()%15 != 0 || now.Unix() == lastTick {
			continue
		}
		lastTick = now.Unix()

		if err := s.hw.Refresh(ctx); err != nil {
			s.log.Error().Err(err).Msg("could not refresh hw_mgr status")
		}
		c.Housekeeping.Run(ctx, now)
		c.CASESPower.Run(ctx)
		c.GPSPower.Run(ctx)
		c.Temp.Run(ctx)
		c.FGSCPower.Run(ctx)
		c.HFPower.Run(ctx)
		c.ModemPower.Run(ctx)
		c.CommMonitor.Run(ctx)
	}
}

// Stop halts the tick loop and shuts down every controller.
func (s *Supervisor) Stop(ctx context.Context) {
	close(s.stopCh)
	<-s.done
	s.controllers.Stop(ctx)
}
