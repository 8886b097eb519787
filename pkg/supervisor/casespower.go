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

// CASESManager is the RPC contract the CASES instrument manager exposes to
// the supervisor: clear its accumulated data-production counter, report
// that counter, and halt an in-progress run. The manager itself is an
// external collaborator and is not implemented here.
type CASESManager interface {
	ClearDataProduction(ctx context.Context) error
	DataProduction(ctx context.Context) (int64, error)
	Halt(ctx context.Context) error
}

type casesSchedState int

const (
	casesArmed casesSchedState = iota
	casesRunning
)

// CASESPowerController runs the CASES GPS receiver power FSM: a
// router-board thermostat, a daily (or storm) run schedule with a
// data-production cap, and a master enable, mirroring ControlCASESPower.
type CASESPowerController struct {
	hw    *hwmgr.Client
	cases CASESManager
	log   zerolog.Logger

	mu                sync.Mutex
	masterPowerEnable bool
	mode              string // "normal", "storm", or "update"

	schedState       casesSchedState
	stopTime         aalpipcfg.ClockTime
	dataLimit        int64
	thermostatOn     bool
	powerDownPending bool
}

// NewCASESPowerController builds a controller and turns CASES off.
func NewCASESPowerController(ctx context.Context, hw *hwmgr.Client, cases CASESManager, log zerolog.Logger) *CASESPowerController {
	c := &CASESPowerController{
		hw:                hw,
		cases:             cases,
		log:               log,
		masterPowerEnable: true,
		mode:              "normal",
		schedState:        casesArmed,
		thermostatOn:      true,
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.hw.SetPower(ctx, "cases", "off"); err != nil {
		log.Error().Err(err).Msg("could not turn CASES power off at startup")
	}
	return c
}

// SetMasterPowerEnable enables or disables CASES power entirely, for the
// supervisor's "cases on|off" admin command.
func (c *CASESPowerController) SetMasterPowerEnable(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.masterPowerEnable = on
}

// SetMode switches between "normal", "storm", and "update" operating modes,
// for the supervisor's "cases normal_mode|storm_mode|update_mode" admin
// command.
func (c *CASESPowerController) SetMode(mode string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = mode
}

// Run advances the CASES FSM by one tick.
func (c *CASESPowerController) Run(ctx context.Context) {
	if c.powerDownPending {
		c.powerDownPending = false
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := c.hw.SetPower(ctx, "cases", "off"); err != nil {
			c.log.Error().Err(err).Msg("could not turn CASES power off")
			return
		}
		c.log.Info().Msg("turned CASES power off")
		return
	}
	c.controlPower(ctx)
}

func (c *CASESPowerController) controlPower(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	st, err := c.hw.GetFullStatus(callCtx)
	powerKnown := err == nil
	if err != nil {
		c.log.Error().Err(err).Msg("could not get CASES power state from hw_mgr")
	}

	tempKnown := err == nil
	thermostatVotesYes := tempKnown && c.runThermostat(st.RouterTemp)

	c.mu.Lock()
	mode, masterPowerEnable := c.mode, c.masterPowerEnable
	c.mu.Unlock()

	schedulerVotesYes := c.runScheduler(ctx, mode, time.Now())

	var casesShouldBeOn bool
	if mode == "update" {
		casesShouldBeOn = powerKnown && tempKnown && thermostatVotesYes
	} else {
		casesShouldBeOn = powerKnown && tempKnown && thermostatVotesYes && schedulerVotesYes
	}

	desiredOn := casesShouldBeOn && masterPowerEnable
	if !powerKnown {
		return
	}
	c.turnPowerOnOrOff(ctx, st.CASESPwr, desiredOn)
}

func (c *CASESPowerController) runThermostat(routerTemp float64) bool {
	if routerTemp > aalpipcfg.CASESPowerOffTemp {
		c.thermostatOn = false
	}
	if routerTemp < aalpipcfg.CASESPowerOnTemp {
		c.thermostatOn = true
	}
	return c.thermostatOn
}

func (c *CASESPowerController) runScheduler(ctx context.Context, mode string, now time.Time) bool {
	switch c.schedState {
	case casesArmed:
		item, ok := casesScheduleStartItem(mode, now)
		if !ok {
			return false
		}
		c.clearDataProduction(ctx)
		c.stopTime = item.Stop
		c.dataLimit = item.DataLimit
		c.schedState = casesRunning
		return true
	case casesRunning:
		stopTimeHit := now.Hour() == c.stopTime.Hour && now.Minute() == c.stopTime.Minute
		if stopTimeHit || c.dataLimitExceeded(ctx) {
			c.schedState = casesArmed
			return false
		}
		return true
	default:
		return false
	}
}

// casesScheduleStartItem returns the schedule entry whose start matches now,
// gated on aalpipcfg.CASESWindowMonths (CASES only runs during the
// equinox/solstice storm season).
func casesScheduleStartItem(mode string, now time.Time) (aalpipcfg.CASESScheduleEntry, bool) {
	inWindow := false
	for _, m := range aalpipcfg.CASESWindowMonths {
		if int(now.Month()) == m {
			inWindow = true
			break
		}
	}
	if !inWindow {
		return aalpipcfg.CASESScheduleEntry{}, false
	}

	var schedule []aalpipcfg.CASESScheduleEntry
	switch mode {
	case "normal", "update":
		schedule = aalpipcfg.CASESNormalSchedule
	case "storm":
		schedule = aalpipcfg.CASESStormSchedule
	default:
		return aalpipcfg.CASESScheduleEntry{}, false
	}
	for _, item := range schedule {
		if item.Start.Hour == now.Hour() && item.Start.Minute == now.Minute() {
			return item, true
		}
	}
	return aalpipcfg.CASESScheduleEntry{}, false
}

func (c *CASESPowerController) clearDataProduction(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.cases.ClearDataProduction(callCtx); err != nil {
		c.log.Error().Err(err).Msg("could not clear CASES data production")
	}
}

func (c *CASESPowerController) dataLimitExceeded(ctx context.Context) bool {
	callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	produced, err := c.cases.DataProduction(callCtx)
	if err != nil {
		c.log.Error().Err(err).Msg("could not get CASES data production")
		return false
	}
	if produced > c.dataLimit {
		c.log.Info().Msg("hit the CASES data production limit")
		return true
	}
	return false
}

func (c *CASESPowerController) turnPowerOnOrOff(ctx context.Context, current hwstatus.PowerState, desiredOn bool) {
	currentOn := current == hwstatus.PowerOn
	if currentOn == desiredOn {
		return
	}
	if desiredOn {
		callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := c.hw.SetPower(callCtx, "cases", "on"); err != nil {
			c.log.Error().Err(err).Msg("could not turn CASES power on")
			return
		}
		c.log.Info().Msg("turned CASES power on")
		return
	}
	c.sendHaltCmd(ctx)
	c.powerDownPending = true
}

func (c *CASESPowerController) sendHaltCmd(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.cases.Halt(callCtx); err != nil {
		c.log.Error().Err(err).Msg("CASES halt command failed")
		return
	}
	c.log.Info().Msg("sent halt command to CASES")
}

// Stop sends a halt command, waits for it to take effect, then cuts power.
func (c *CASESPowerController) Stop(ctx context.Context) {
	c.sendHaltCmd(ctx)
	time.Sleep(10 * time.Second)
	callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.hw.SetPower(callCtx, "cases", "off"); err != nil {
		c.log.Error().Err(err).Msg("could not turn CASES power off on stop")
	}
}
