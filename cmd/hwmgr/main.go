// Command hwmgr owns the SBC's digital I/O lines and analog sensors through
// sbcctl, and exposes power-control and status-query operations over RPC to
// the supervisor and the instrument managers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-envparse"
	"github.com/spf13/pflag"

	"github.com/VictoriaMetrics/metrics"

	"github.com/VTMIST/aal-pip/internal/envcfg"
	"github.com/VTMIST/aal-pip/internal/procmain"
	"github.com/VTMIST/aal-pip/pkg/hwmgr"
	"github.com/VTMIST/aal-pip/pkg/rpc"
	"github.com/VTMIST/aal-pip/pkg/subprocessx"
)

// Config is loaded from the environment, or an env_file if one is given on
// the command line, per cmd/atlas's convention.
type Config struct {
	procmain.LogConfig

	BinDir    string  `env:"HWMGR_BIN_DIR=/usr/local/bin"`
	ADCOffset float64 `env:"HWMGR_ADC_OFFSET=0"`
	ADCGain   float64 `env:"HWMGR_ADC_GAIN=1"`

	ConsoleAddr string `env:"HWMGR_CONSOLE_ADDR=:32003"`
	RPCAddr     string `env:"HWMGR_RPC_ADDR=:32043"`
}

var opt struct {
	Help bool
}

func init() {
	pflag.BoolVarP(&opt.Help, "help", "h", false, "Show this help text")
}

func main() {
	pflag.Parse()

	if pflag.NArg() > 1 || opt.Help {
		fmt.Printf("usage: %s [options] [env_file]\n\noptions:\n%s\n", os.Args[0], pflag.CommandLine.FlagUsages())
		if opt.Help {
			os.Exit(2)
		}
		os.Exit(0)
	}

	e, err := readEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	var c Config
	if err := envcfg.Unmarshal(&c, e, false); err != nil {
		fmt.Fprintf(os.Stderr, "error: parse config: %v\n", err)
		os.Exit(1)
	}

	log, reopen, err := procmain.ConfigureLogging(c.LogConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: configure logging: %v\n", err)
		os.Exit(1)
	}

	if reopen != nil {
		hch := make(chan os.Signal, 1)
		signal.Notify(hch, syscall.SIGHUP)
		go func() {
			for range hch {
				log.Info().Msg("got SIGHUP, reopening log file")
				reopen()
			}
		}()
	}

	set := metrics.NewSet()

	mgr := hwmgr.New(subprocessx.New(), c.BinDir, hwmgr.ADCCalibration{Offset: c.ADCOffset, Gain: c.ADCGain}, log)

	initCtx, cancelInit := context.WithTimeout(context.Background(), 10*time.Second)
	mgr.InitDigitalIO(initCtx)
	cancelInit()

	svc := hwmgr.NewService(mgr)
	rpcSrv, err := rpc.Serve(c.RPCAddr, svc, set)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: serve rpc: %v\n", err)
		os.Exit(1)
	}

	procmain.ServeConsole(c.ConsoleAddr, "hwmgr", set, log)

	sch := make(chan os.Signal, 1)
	signal.Notify(sch, os.Interrupt, syscall.SIGTERM)

	log.Info().Str("rpc_addr", c.RPCAddr).Msg("hwmgr starting")
	<-sch

	log.Info().Msg("shutting down")
	stopCtx, cancelStop := context.WithTimeout(context.Background(), 10*time.Second)
	mgr.StopDigitalIO(stopCtx)
	cancelStop()
	rpcSrv.Stop()
}

func readEnv() ([]string, error) {
	if pflag.NArg() == 0 {
		return os.Environ(), nil
	}
	f, err := os.Open(pflag.Arg(0))
	if err != nil {
		return nil, fmt.Errorf("open env file: %w", err)
	}
	defer f.Close()

	m, err := envparse.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse env file: %w", err)
	}
	var r []string
	for k, v := range m {
		r = append(r, k+"="+v)
	}
	return r, nil
}
