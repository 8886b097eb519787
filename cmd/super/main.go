// Command super is the AAL-PIP supervisor: it drives the 15-second periodic
// instrument power, housekeeping, and comm-link tick loop, and exposes the
// operator command surface over RPC.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hashicorp/go-envparse"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/VictoriaMetrics/metrics"

	"github.com/VTMIST/aal-pip/db/rebootlog"
	"github.com/VTMIST/aal-pip/internal/aalpipcfg"
	"github.com/VTMIST/aal-pip/internal/envcfg"
	"github.com/VTMIST/aal-pip/internal/procmain"
	"github.com/VTMIST/aal-pip/pkg/hwmgr"
	"github.com/VTMIST/aal-pip/pkg/rpc"
	"github.com/VTMIST/aal-pip/pkg/subprocessx"
	"github.com/VTMIST/aal-pip/pkg/supervisor"
	"github.com/VTMIST/aal-pip/pkg/svrproxy"
)

// Config is loaded from the environment, or an env_file if one is given on
// the command line, per cmd/atlas's convention.
type Config struct {
	procmain.LogConfig

	HWMgrRPCAddr    string `env:"SUPER_HWMGR_RPC_ADDR=localhost:32043"`
	SvrProxyRPCAddr string `env:"SUPER_SVRPROXY_RPC_ADDR=localhost:27043"`

	RebootLogPath string `env:"SUPER_REBOOT_LOG_PATH=/var/aal-pip/super/rebootlog.db"`

	ConsoleAddr string `env:"SUPER_CONSOLE_ADDR=:33003"`
	RPCAddr     string `env:"SUPER_RPC_ADDR=:33043"`
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

	log.Info().Msg("")
	log.Info().Msg("****** Starting AAL-PIP Supervisor ******")

	set := metrics.NewSet()

	hw := hwmgr.NewClient(c.HWMgrRPCAddr, 5*time.Second, set)
	defer hw.Close()

	startCtx, cancelStart := context.WithTimeout(context.Background(), aalpipcfg.HWMgrRestartTimeout)
	err = waitForHWMgr(startCtx, hw, log)
	cancelStart()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(filepath.Dir(c.RebootLogPath), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "error: create reboot log dir: %v\n", err)
		os.Exit(1)
	}
	ledger, err := rebootlog.Open(c.RebootLogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: open reboot log: %v\n", err)
		os.Exit(1)
	}
	defer ledger.Close()

	svrProxyClient := svrproxy.NewClient(c.SvrProxyRPCAddr, 5*time.Second, set, log.With().Str("component", "svrproxy_client").Logger())
	defer svrProxyClient.Close()

	runner := subprocessx.New()

	initCtx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
	controllers, err := supervisor.NewControllers(initCtx, hw, runner, nil, nil, svrProxyClient.LastTransfer, ledger, set, log)
	cancelInit()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: init controllers: %v\n", err)
		os.Exit(1)
	}

	svc := supervisor.NewService(controllers)
	rpcSrv, err := rpc.Serve(c.RPCAddr, svc, set)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: serve rpc: %v\n", err)
		os.Exit(1)
	}

	procmain.ServeConsole(c.ConsoleAddr, "super", set, log)

	sup := supervisor.New(controllers, hw, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sup.Run(ctx)

	log.Info().Msg("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	sup.Stop(shutdownCtx)
	cancelShutdown()
	rpcSrv.Stop()
	log.Info().Msg("****** Exiting AAL-PIP Supervisor ******")
}

// waitForHWMgr blocks until the hardware manager's RPC server accepts a
// command or ctx's deadline passes, matching _wait_for_hw_mgr's tolerance of
// hw_mgr taking a while to come up after boot.
func waitForHWMgr(ctx context.Context, hw *hwmgr.Client, log zerolog.Logger) error {
	for {
		if _, err := hw.GetStatus(ctx, "uptime"); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			log.Error().Msg("timed out connecting to hw_mgr RPC server")
			return fmt.Errorf("super: timed out connecting to hw_mgr: %w", ctx.Err())
		case <-time.After(time.Second):
		}
	}
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
