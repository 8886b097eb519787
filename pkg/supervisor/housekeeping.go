package supervisor

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"

	"github.com/VTMIST/aal-pip/internal/aalpipcfg"
	"github.com/VTMIST/aal-pip/pkg/hwmgr"
	"github.com/VTMIST/aal-pip/pkg/metricsx"
)

// hskpGeohashLevel buckets the GPS fix coarsely, appropriate for a node
// that drifts with the ice rather than moving under its own power.
const hskpGeohashLevel = 3

// hskpHeaderRow is the fixed CSV column order; consumers downstream depend
// on it matching exactly.
const hskpHeaderRow = "Year,Month,Day,Hour,Minute,Second,Modem_on,FG_on,SC_on,CASES_on,HF_On,Htr_On,Garmin_GPS_on,Overcurrent_status_on,T_batt_1,T_batt_2,T_batt_3,T_FG_electronics,T_FG_sensor,T_router,V_batt_1,V_batt_2,V_batt_3,I_input,P_input,lat,long,sys_time_error_secs,UTC_sync_age_secs,Uptime_secs,CPU_load_1_min,CPU_load_5_min,CPU_load_15_min\n"

type hskpFileState int

const (
	hskpNeedsNewFile hskpFileState = iota
	hskpWriting
)

// HskpStorer hands a completed, compressed housekeeping file off for
// durable storage, matching the original's usb_mgr XML-RPC
// store_file('hskp', path, compress) contract. The USB manager itself is an
// external collaborator and is not implemented here.
type HskpStorer interface {
	StoreFile(ctx context.Context, kind, path string, compress bool) error
}

// HousekeepingEmitter appends one CSV row per tick to an hourly data file
// under a temp directory, handing completed files off for compression and
// durable storage at the top of each hour. Mirrors StoreHskp.
type HousekeepingEmitter struct {
	hw      *hwmgr.Client
	storer  HskpStorer
	tempDir string
	geo     *metricsx.GeoCounter
	log     zerolog.Logger

	state    hskpFileState
	file     *os.File
	filePath string
}

// NewHousekeepingEmitter builds an emitter and creates the scratch
// directory. storer may be nil, in which case completed files are left on
// disk uncollected (logged). set may be nil, in which case no metrics are
// registered.
func NewHousekeepingEmitter(hw *hwmgr.Client, storer HskpStorer, set *metrics.Set, log zerolog.Logger) (*HousekeepingEmitter, error) {
	tempDir := aalpipcfg.HskpTempDir
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("supervisor: create housekeeping temp dir: %w", err)
	}
	h := &HousekeepingEmitter{hw: hw, storer: storer, tempDir: tempDir, log: log, state: hskpNeedsNewFile}
	if set != nil {
		h.geo = metricsx.NewGeoCounter(set, "supervisor_position", hskpGeohashLevel)
	}
	return h, nil
}

// Run appends one housekeeping row for timestamp ts, rolling the file over
// at the top of each hour.
func (h *HousekeepingEmitter) Run(ctx context.Context, ts time.Time) {
	row, err := h.dataRow(ctx, ts)
	if err != nil {
		h.log.Error().Err(err).Msg("could not build housekeeping row")
		return
	}

	if h.state == hskpNeedsNewFile {
		h.filePath = h.tempDir + "hskp_" + ts.Format("20060102_150405") + ".dat.csv"
		f, err := os.Create(h.filePath)
		if err != nil {
			h.log.Error().Err(err).Str("path", h.filePath).Msg("could not open housekeeping file")
			return
		}
		h.file = f
		h.writeString(hskpHeaderRow)
		h.writeString(row)
		h.state = hskpWriting
		return
	}

	h.writeString(row)
	if ts.Minute() == 59 && ts.Second() == 45 {
		h.rollOver(ctx)
	}
}

func (h *HousekeepingEmitter) writeString(s string) {
	if h.file == nil {
		return
	}
	if _, err := h.file.WriteString(s); err != nil {
		h.log.Error().Err(err).Msg("could not write housekeeping row")
	}
}

func (h *HousekeepingEmitter) rollOver(ctx context.Context) {
	path := h.filePath
	if h.file != nil {
		h.file.Close()
		h.file = nil
	}
	h.filePath = ""
	h.state = hskpNeedsNewFile
	h.handOff(ctx, path)
}

func (h *HousekeepingEmitter) handOff(ctx context.Context, path string) {
	if h.storer == nil {
		h.log.Info().Str("path", path).Msg("no USB manager configured, leaving housekeeping file on disk")
		return
	}
	go func() {
		gzPath, err := gzipFile(path)
		if err != nil {
			h.log.Error().Err(err).Str("path", path).Msg("could not compress housekeeping file")
			return
		}
		storeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := h.storer.StoreFile(storeCtx, "hskp", gzPath, false); err != nil {
			h.log.Error().Err(err).Str("path", gzPath).Msg("could not store housekeeping file on USB flash drive")
			return
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			h.log.Error().Err(err).Str("path", path).Msg("could not delete housekeeping file after storage")
		}
		if err := os.Remove(gzPath); err != nil && !os.IsNotExist(err) {
			h.log.Error().Err(err).Str("path", gzPath).Msg("could not delete compressed housekeeping file after storage")
		}
	}()
}

// gzipFile compresses path in place, returning the new ".gz" path.
func gzipFile(path string) (string, error) {
	in, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer in.Close()

	gzPath := path + ".gz"
	out, err := os.Create(gzPath)
	if err != nil {
		return "", err
	}
	defer out.Close()

	gw := gzip.NewWriter(out)
	if _, err := io.Copy(gw, in); err != nil {
		gw.Close()
		return "", err
	}
	if err := gw.Close(); err != nil {
		return "", err
	}
	return gzPath, nil
}

// Stop closes and hands off any partially written file.
func (h *HousekeepingEmitter) Stop(ctx context.Context) {
	if h.file == nil {
		return
	}
	path := h.filePath
	h.file.Close()
	h.file = nil
	h.filePath = ""
	h.state = hskpNeedsNewFile
	h.handOff(ctx, path)
}

func (h *HousekeepingEmitter) dataRow(ctx context.Context, ts time.Time) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	st, err := h.hw.GetFullStatus(callCtx)
	if err != nil {
		return "", fmt.Errorf("could not get full status from hw_mgr: %w", err)
	}

	if h.geo != nil {
		h.geo.Inc(st.Lat, st.Long)
	}

	uptimeSecs, err := readUptimeSeconds()
	if err != nil {
		h.log.Error().Err(err).Msg("could not read /proc/uptime")
		uptimeSecs = 0
	}
	l1, l5, l15, err := parseLoadAvg(st.Uptime)
	if err != nil {
		h.log.Error().Err(err).Msg("could not parse CPU load averages")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d,%d,%d,%d,%d,%d,", ts.Year(), ts.Month(), ts.Day(), ts.Hour(), ts.Minute(), ts.Second())
	fmt.Fprintf(&b, "%d,%d,%d,%d,%d,%d,%d,%d,",
		st.IridPwr, st.FGPwr, st.SCPwr, st.CASESPwr, st.HFPwr, st.HtrPwr, st.GPSPwr, st.OvrCurStatus)
	fmt.Fprintf(&b, "%.2f,%.2f,%.2f,%.2f,%.2f,%.2f,",
		st.Batt1Temp, st.Batt2Temp, st.Batt3Temp, st.FGElecTemp, st.FGSensTemp, st.RouterTemp)
	fmt.Fprintf(&b, "%.2f,%.2f,%.2f,%.3f,%.3f,", st.Batt1Volt, st.Batt2Volt, st.Batt3Volt, st.InCurrent, st.InPower)
	fmt.Fprintf(&b, "%.6f,%.6f,%.6f,%d,", st.Lat, st.Long, st.SysTimeErrorS, st.SyncAge)
	fmt.Fprintf(&b, "%d,%.2f,%.2f,%.2f\n", uptimeSecs, l1, l5, l15)
	return b.String(), nil
}

func readUptimeSeconds() (int64, error) {
	data, err := os.ReadFile("/proc/uptime")
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) < 1 {
		return 0, fmt.Errorf("unexpected /proc/uptime contents")
	}
	secs, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, err
	}
	return int64(secs), nil
}

// parseLoadAvg pulls the trailing "load average: N, N, N" out of sbcctl's
// uptime-style status field, matching StoreHskp's parse of hw_status['uptime'].
func parseLoadAvg(uptime string) (l1, l5, l15 float64, err error) {
	fields := strings.Fields(strings.ReplaceAll(uptime, ",", ""))
	if len(fields) < 3 {
		return 0, 0, 0, fmt.Errorf("unexpected uptime field contents %q", uptime)
	}
	last := len(fields)
	vals := make([]float64, 3)
	for i := 0; i < 3; i++ {
		v, perr := strconv.ParseFloat(fields[last-3+i], 64)
		if perr != nil {
			return 0, 0, 0, perr
		}
		vals[i] = v
	}
	return vals[0], vals[1], vals[2], nil
}
