// Command svrproxy is the observatory-side half of the RUDICS tunnel: it
// stays connected to the modem server's local tunnel socket and relays
// proxy packets to and from whichever local server processes the remote end
// is talking to.
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
	"github.com/VTMIST/aal-pip/pkg/modemsvr"
	"github.com/VTMIST/aal-pip/pkg/rpc"
	"github.com/VTMIST/aal-pip/pkg/svrproxy"
)

// Config is loaded from the environment, or an env_file if one is given on
// the command line, per cmd/atlas's convention.
type Config struct {
	procmain.LogConfig

	ModemSvrTunnelAddr string `env:"SVRPROXY_MODEMSVR_TUNNEL_ADDR=localhost:26004"`
	ModemSvrRPCAddr    string `env:"SVRPROXY_MODEMSVR_RPC_ADDR=localhost:26043"`

	ConsoleAddr string `env:"SVRPROXY_CONSOLE_ADDR=:27003"`
	RPCAddr     string `env:"SVRPROXY_RPC_ADDR=:27043"`
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

	modemSvrClient := modemsvr.NewClient(c.ModemSvrRPCAddr, 5*time.Second, set)
	defer modemSvrClient.Close()

	connector := svrproxy.NewConnector(c.ModemSvrTunnelAddr, modemSvrClient, set, log.With().Str("component", "connector").Logger())

	svc := svrproxy.NewService(connector)
	rpcSrv, err := rpc.Serve(c.RPCAddr, svc, set)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: serve rpc: %v\n", err)
		os.Exit(1)
	}

	procmain.ServeConsole(c.ConsoleAddr, "svrproxy", set, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("modemsvr_tunnel_addr", c.ModemSvrTunnelAddr).Msg("svrproxy starting")
	connector.Run(ctx)

	log.Info().Msg("shutting down")
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
