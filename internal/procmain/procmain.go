// Package procmain holds the process bootstrap pieces shared by every
// cmd/* binary: log configuration with SIGHUP-triggered file reopening, and
// the console/metrics HTTP server each process exposes on its base port.
// Generalized from pkg/atlas/server.go's configureLogging and serveRest.
package procmain

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/VictoriaMetrics/metrics"
	"github.com/rs/zerolog"
)

// LogConfig is the subset of a process Config that drives logging, meant to
// be embedded (not wrapped) by each binary's own Config struct.
type LogConfig struct {
	LogLevel        zerolog.Level `env:"LOG_LEVEL=info"`
	LogStdout       bool          `env:"LOG_STDOUT=true"`
	LogStdoutPretty bool          `env:"LOG_STDOUT_PRETTY=true"`
	LogFile         string        `env:"LOG_FILE"`
	LogFileLevel    zerolog.Level `env:"LOG_FILE_LEVEL=info"`
}

// reopenWriter is an io.Writer that can swap its underlying file out from
// under concurrent writers, used to implement SIGHUP log rotation.
type reopenWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (r *reopenWriter) Write(p []byte) (int, error) {
	r.mu.Lock()
	w := r.w
	r.mu.Unlock()
	if w == nil {
		return len(p), nil
	}
	return w.Write(p)
}

func (r *reopenWriter) swap(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.w.(io.Closer); ok {
		c.Close()
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to open log file: %v\n", err)
		r.w = nil
		return
	}
	r.w = f
}

// ConfigureLogging builds a zerolog.Logger from c, returning a reopen
// function to call on SIGHUP if c.LogFile is set (reopen is nil otherwise).
func ConfigureLogging(c LogConfig) (log zerolog.Logger, reopen func(), err error) {
	var outputs []io.Writer
	if c.LogStdout {
		if c.LogStdoutPretty {
			outputs = append(outputs, zerolog.ConsoleWriter{Out: os.Stdout})
		} else {
			outputs = append(outputs, os.Stdout)
		}
	}
	if c.LogFile != "" {
		abs, aerr := filepath.Abs(c.LogFile)
		if aerr != nil {
			return log, nil, fmt.Errorf("resolve log file: %w", aerr)
		}
		rw := &reopenWriter{}
		rw.swap(abs)
		outputs = append(outputs, rw)
		reopen = func() { rw.swap(abs) }
	}
	if len(outputs) == 0 {
		outputs = append(outputs, io.Discard)
	}
	log = zerolog.New(zerolog.MultiLevelWriter(outputs...)).
		Level(c.LogLevel).
		With().
		Timestamp().
		Logger()
	return log, reopen, nil
}

// ServeConsole starts the per-process console/metrics HTTP server on addr: a
// plain-text landing page plus /metrics in VictoriaMetrics exposition
// format, mirroring pkg/atlas/server.go's serveRest metrics handling without
// the game-server-specific REST surface. It runs until the process exits;
// listen errors are logged, not fatal, matching the original SockConsole's
// best-effort console.
func ServeConsole(addr, name string, set *metrics.Set, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "%s\n", name)
	})
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		set.WritePrometheus(w)
		metrics.WriteProcessMetrics(w)
	})
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error().Err(err).Str("addr", addr).Msg("console server stopped")
		}
	}()
}
