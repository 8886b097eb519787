// Command modemsvr owns the Iridium RUDICS modem's serial port, dials the
// gateway, and relays the resulting data stream to the server proxy over a
// local tunnel socket.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-envparse"
	"github.com/spf13/pflag"

	"github.com/VictoriaMetrics/metrics"

	"github.com/VTMIST/aal-pip/internal/aalpipcfg"
	"github.com/VTMIST/aal-pip/internal/envcfg"
	"github.com/VTMIST/aal-pip/internal/procmain"
	"github.com/VTMIST/aal-pip/pkg/modemsvr"
	"github.com/VTMIST/aal-pip/pkg/rpc"
)

// Config is loaded from the environment, or an env_file if one is given on
// the command line, per cmd/atlas's convention.
type Config struct {
	procmain.LogConfig

	SerialDevice string `env:"MODEMSVR_SERIAL_DEVICE=/dev/ttyUSB0"`
	SerialBaud   int    `env:"MODEMSVR_SERIAL_BAUD=19200"`

	ConsoleAddr string `env:"MODEMSVR_CONSOLE_ADDR=:26003"`
	RPCAddr     string `env:"MODEMSVR_RPC_ADDR=:26043"`
	TunnelAddr  string `env:"MODEMSVR_TUNNEL_ADDR=:26004"`
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

	modem, err := modemsvr.OpenSerialModem(c.SerialDevice, c.SerialBaud)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: open modem: %v\n", err)
		os.Exit(1)
	}

	set := metrics.NewSet()

	connector := modemsvr.NewConnector(modem, c.TunnelAddr, aalpipcfg.ModemRxDataTimeout, set, log.With().Str("component", "connector").Logger())

	svc := modemsvr.NewService(connector)
	rpcSrv, err := rpc.Serve(c.RPCAddr, svc, set)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: serve rpc: %v\n", err)
		os.Exit(1)
	}

	procmain.ServeConsole(c.ConsoleAddr, "modemsvr", set, log)

	sch := make(chan os.Signal, 1)
	signal.Notify(sch, os.Interrupt, syscall.SIGTERM)

	log.Info().Str("tunnel_addr", c.TunnelAddr).Str("rpc_addr", c.RPCAddr).Msg("modemsvr starting")
	go connector.Run()

	<-sch
	log.Info().Msg("shutting down")
	connector.Stop()
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
