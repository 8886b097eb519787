// Command commwatchdog runs the standalone, last-resort RUDICS comm link
// watchdog. It is deliberately a separate process from the supervisor, with
// much coarser thresholds, so it keeps working even if the supervisor
// itself hangs or is restarting.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-envparse"
	"github.com/spf13/pflag"

	"github.com/VictoriaMetrics/metrics"

	"github.com/VTMIST/aal-pip/internal/envcfg"
	"github.com/VTMIST/aal-pip/internal/procmain"
	"github.com/VTMIST/aal-pip/pkg/commwatchdog"
	"github.com/VTMIST/aal-pip/pkg/subprocessx"
)

// Config is loaded from the environment, or an env_file if one is given on
// the command line, per cmd/atlas's convention.
type Config struct {
	procmain.LogConfig
	ConsoleAddr string `env:"COMMWATCHDOG_CONSOLE_ADDR=:34003"`
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
	procmain.ServeConsole(c.ConsoleAddr, "commwatchdog", set, log)

	w := commwatchdog.New(subprocessx.New(), set, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("addr", c.ConsoleAddr).Msg("commwatchdog starting")
	w.Run(ctx)
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
