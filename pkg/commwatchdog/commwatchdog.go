// Package commwatchdog is the standalone, last-resort comm link watchdog:
// a second, independent decider from pkg/supervisor's in-process
// CommMonitor, with much coarser thresholds, that always escalates straight
// to a golden-image reinstall. Mirrors comm-watchdog-daemon.py.
package commwatchdog

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/rs/zerolog"

	"github.com/VTMIST/aal-pip/internal/aalpipcfg"
	"github.com/VTMIST/aal-pip/pkg/subprocessx"
)

type state int32

const (
	stateInit state = iota
	stateStartingUp
	stateConnected
	stateDisconnected
	stateWaitingToDie
)

// Watchdog polls the same connect/disconnect flag files pkg/supervisor's
// CommMonitor reads, but as a wholly separate process: it is meant to run
// outside the supervisor, so a supervisor crash or hang doesn't also take
// down the one thing watching for a truly stuck comm link.
type Watchdog struct {
	runner *subprocessx.Runner
	log    zerolog.Logger

	state atomic.Int32
	timer time.Time
}

// New builds a Watchdog. It does not start polling until Run is called.
// set may be nil, in which case no metrics are registered.
func New(runner *subprocessx.Runner, set *metrics.Set, log zerolog.Logger) *Watchdog {
	w := &Watchdog{runner: runner, log: log}
	w.state.Store(int32(stateInit))
	if set != nil {
		set.NewGauge(`commwatchdog_state`, func() float64 { return float64(w.getState()) })
	}
	return w
}

func (w *Watchdog) getState() state  { return state(w.state.Load()) }
func (w *Watchdog) setState(s state) { w.state.Store(int32(s)) }

// Run polls every aalpipcfg.WatchdogPollPeriod until ctx is canceled.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(aalpipcfg.WatchdogPollPeriod)
	defer ticker.Stop()

	w.check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.check(ctx)
		}
	}
}

func (w *Watchdog) check(ctx context.Context) {
	now := time.Now()
	switch w.getState() {
	case stateInit:
		w.timer = now
		w.log.Info().Msg("state is starting_up")
		w.setState(stateStartingUp)

	case stateStartingUp:
		if w.connected() {
			w.timer = now
			w.log.Info().Msg("state is connected")
			w.setState(stateConnected)
			return
		}
		if now.Sub(w.timer) > aalpipcfg.WatchdogMaxInitTime {
			w.log.Error().Msg("rebooting: no initial RUDICS connection")
			w.rebootGoldenCode(ctx)
			w.setState(stateWaitingToDie)
		}

	case stateConnected:
		if !w.connected() {
			w.timer = now
			w.log.Info().Msg("state is disconnected")
			w.setState(stateDisconnected)
			return
		}
		if now.Sub(w.timer) > aalpipcfg.WatchdogMaxUpTime {
			w.log.Error().Msg("rebooting: exceeded max connect time")
			w.rebootGoldenCode(ctx)
			w.setState(stateWaitingToDie)
		}

	case stateDisconnected:
		if w.connected() {
			w.timer = now
			w.log.Info().Msg("state is connected")
			w.setState(stateConnected)
			return
		}
		if now.Sub(w.timer) > aalpipcfg.WatchdogMaxDownTime {
			w.log.Error().Msg("rebooting: exceeded max disconnect time")
			w.rebootGoldenCode(ctx)
			w.setState(stateWaitingToDie)
		}

	case stateWaitingToDie:
		return

	default:
		w.log.Error().Msg("unknown state, rebooting with golden code")
		w.rebootGoldenCode(ctx)
		w.setState(stateWaitingToDie)
	}
}

func (w *Watchdog) connected() bool {
	connectInfo, err := os.Stat(aalpipcfg.ConnectTimeFile)
	if err != nil {
		return false
	}
	disconnectInfo, err := os.Stat(aalpipcfg.DisconnectTimeFile)
	if err != nil {
		return true
	}
	return connectInfo.ModTime().After(disconnectInfo.ModTime())
}

func (w *Watchdog) rebootGoldenCode(ctx context.Context) {
	if _, _, err := w.runner.RunShell(ctx, "cp "+aalpipcfg.GoldenImagePath+" "+aalpipcfg.InstallDir); err != nil {
		w.log.Error().Err(err).Msg("could not copy golden image")
	}
	if _, _, err := w.runner.RunShell(ctx, "cp "+aalpipcfg.GoldenImageMD5Path+" "+aalpipcfg.InstallDir); err != nil {
		w.log.Error().Err(err).Msg("could not copy golden image checksum")
	}
	time.Sleep(2 * time.Second)
	if _, _, err := w.runner.Run(ctx, "/sbin/reboot"); err != nil {
		w.log.Error().Err(err).Msg("reboot command failed")
	}
}
