package supervisor

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/VTMIST/aal-pip/internal/aalpipcfg"
	"github.com/VTMIST/aal-pip/pkg/hwstatus"
)

type fakeHskpStorer struct {
	mu    sync.Mutex
	paths []string
	done  chan struct{}
}

func newFakeHskpStorer() *fakeHskpStorer { return &fakeHskpStorer{done: make(chan struct{}, 8)} }

func (f *fakeHskpStorer) StoreFile(_ context.Context, kind, path string, compress bool) error {
	f.mu.Lock()
	f.paths = append(f.paths, path)
	f.mu.Unlock()
	f.done <- struct{}{}
	return nil
}

func withHskpTempDir(t *testing.T) {
	t.Helper()
	orig := aalpipcfg.HskpTempDir
	aalpipcfg.HskpTempDir = t.TempDir() + "/"
	t.Cleanup(func() { aalpipcfg.HskpTempDir = orig })
}

func TestHousekeepingEmitterWritesHeaderOnFirstRow(t *testing.T) {
	withHskpTempDir(t)
	_, hw := startHWStub(t, hwstatus.Status{})
	h, err := NewHousekeepingEmitter(hw, nil, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	ts := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	h.Run(context.Background(), ts)

	data, err := os.ReadFile(h.filePath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), hskpHeaderRow) {
		t.Errorf("file does not start with the fixed header row:\n%s", data)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2 (header + one data row)", len(lines))
	}
}

func TestHousekeepingEmitterAppendsWithoutRewritingHeader(t *testing.T) {
	withHskpTempDir(t)
	_, hw := startHWStub(t, hwstatus.Status{})
	h, err := NewHousekeepingEmitter(hw, nil, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	base := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	h.Run(context.Background(), base)
	h.Run(context.Background(), base.Add(15*time.Second))

	data, err := os.ReadFile(h.filePath)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Count(string(data), hskpHeaderRow) != 1 {
		t.Error("header row should appear exactly once")
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3 (header + two data rows)", len(lines))
	}
}

func TestHousekeepingEmitterRollsOverAtTopOfHour(t *testing.T) {
	withHskpTempDir(t)
	_, hw := startHWStub(t, hwstatus.Status{})
	storer := newFakeHskpStorer()
	h, err := NewHousekeepingEmitter(hw, storer, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	base := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	h.Run(context.Background(), base)
	rollover := time.Date(2026, 7, 30, 12, 59, 45, 0, time.UTC)
	h.Run(context.Background(), rollover)

	select {
	case <-storer.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for housekeeping hand-off")
	}

	if h.state != hskpNeedsNewFile {
		t.Error("expected the emitter to start a new file after rollover")
	}
	storer.mu.Lock()
	gzPath := ""
	if len(storer.paths) == 1 && strings.HasSuffix(storer.paths[0], ".gz") {
		gzPath = storer.paths[0]
	} else {
		t.Errorf("stored paths = %v, want one .gz path", storer.paths)
	}
	storer.mu.Unlock()

	// Cleanup happens in the same goroutine just after StoreFile returns, so
	// poll briefly rather than racing it.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(gzPath); os.IsNotExist(err) {
			break
		}
		if time.Now().After(deadline) {
			t.Error("expected the compressed file to be deleted after storage")
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHousekeepingEmitterStopHandsOffPartialFile(t *testing.T) {
	withHskpTempDir(t)
	_, hw := startHWStub(t, hwstatus.Status{})
	storer := newFakeHskpStorer()
	h, err := NewHousekeepingEmitter(hw, storer, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	h.Run(context.Background(), time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC))
	h.Stop(context.Background())

	select {
	case <-storer.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for housekeeping hand-off on stop")
	}
}

func TestParseLoadAvg(t *testing.T) {
	l1, l5, l15, err := parseLoadAvg(" 12:01:00 up 3 days,  2:14,  1 user,  load average: 0.10, 0.05, 0.01")
	if err != nil {
		t.Fatal(err)
	}
	if l1 != 0.10 || l5 != 0.05 || l15 != 0.01 {
		t.Errorf("got %v %v %v, want 0.10 0.05 0.01", l1, l5, l15)
	}
}

func TestParseLoadAvgRejectsShortInput(t *testing.T) {
	if _, _, _, err := parseLoadAvg("too short"); err == nil {
		t.Error("expected an error for input without three trailing fields")
	}
}

func TestReadUptimeSecondsReadsRealProcUptime(t *testing.T) {
	// readUptimeSeconds is hardcoded to /proc/uptime, matching the original's
	// direct file read; this only confirms it parses whatever the test host
	// actually reports without erroring.
	secs, err := readUptimeSeconds()
	if err != nil {
		t.Fatal(err)
	}
	if secs < 0 {
		t.Errorf("got negative uptime %d", secs)
	}
}
