// Package supervisor owns the daemon's process lifecycle: wiring the
// transport, link driver, poller, archive syncer, IPC server, and the two
// SQLite-backed stores together, then running them until a shutdown signal
// arrives. Signal handling and the cancel-then-wait shutdown sequence are
// adapted from the reference application's top-level Run loop; this
// version adds the bounded graceful-then-hard-exit shutdown deadlines, a
// rain-state checkpoint file the reference never needed, and a
// degraded-mode startup path that runs the IPC server even when the
// station isn't connected yet.
package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/chrissnell/weatherlink-core/internal/archivesync"
	"github.com/chrissnell/weatherlink-core/internal/configstore"
	"github.com/chrissnell/weatherlink-core/internal/ipc"
	"github.com/chrissnell/weatherlink-core/internal/linkdriver"
	"github.com/chrissnell/weatherlink-core/internal/log"
	"github.com/chrissnell/weatherlink-core/internal/polling"
	"github.com/chrissnell/weatherlink-core/internal/serialtransport"
	"github.com/chrissnell/weatherlink-core/internal/timeseries"
	"github.com/chrissnell/weatherlink-core/internal/types"
	"github.com/chrissnell/weatherlink-core/internal/wireproto"
)

const (
	gracefulShutdownDeadline = 6 * time.Second
	hardExitDeadline         = 10 * time.Second
	rainStateCheckpointEvery = 60 * time.Second
	rainStateFileName        = "rain_state.json"
)

// ErrNotConnected is returned by device-command IPC handlers when the
// station port is closed or has never been opened.
var ErrNotConnected = errors.New("supervisor: station not connected")

// Config bundles the supervisor's startup parameters.
type Config struct {
	SerialDevice     string
	BaudRate         int
	PollInterval     time.Duration
	IPCAddr          string
	ConfigStorePath  string
	TimeseriesPath   string
	Location         *time.Location
	ArchiveSyncEvery time.Duration
}

// Supervisor owns every long-running component and their shutdown order.
// transport, driver, poller, and syncer are (re)built by connect and are
// nil until the first successful connection; every access to them outside
// connect itself goes through connMu.
type Supervisor struct {
	cfg Config

	ipcServer *ipc.Server
	configDB  *configstore.Store
	tsDB      *timeseries.Store

	startedAt time.Time

	runCtx context.Context
	wg     *sync.WaitGroup

	connMu     sync.RWMutex
	connected  bool
	transport  *serialtransport.Transport
	driver     *linkdriver.Driver
	poller     *polling.Poller
	syncer     *archivesync.Syncer
	lastPoll   time.Time
	lastDevice string
	lastBaud   int
}

// New constructs a Supervisor and its stores, but does not open the
// station port or start any component yet.
func New(cfg Config) (*Supervisor, error) {
	configDB, err := configstore.Open(cfg.ConfigStorePath, 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("supervisor: opening config store: %w", err)
	}

	tsDB, err := timeseries.Open(cfg.TimeseriesPath)
	if err != nil {
		configDB.Close()
		return nil, fmt.Errorf("supervisor: opening timeseries store: %w", err)
	}

	return &Supervisor{
		cfg:       cfg,
		ipcServer: ipc.New(),
		configDB:  configDB,
		tsDB:      tsDB,
	}, nil
}

// Run registers IPC handlers, starts the IPC server unconditionally, and —
// if the configuration store marks setup as complete — opens the station
// port and starts the poller and archive syncer. A failure to connect at
// startup is degraded-mode, not fatal: the IPC server keeps running and
// `connect`/`reconnect` can retry later. Run blocks until a shutdown signal
// (SIGINT/SIGTERM) or ctx cancellation, then shuts down within a bounded
// deadline.
func (s *Supervisor) Run(ctx context.Context) error {
	s.startedAt = time.Now()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	s.runCtx = runCtx
	s.wg = &wg

	s.registerIPCHandlers()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.ipcServer.Listen(runCtx, s.cfg.IPCAddr); err != nil && runCtx.Err() == nil {
			log.Errorw("ipc server exited with error", "error", err)
		}
	}()

	if setupComplete, _ := s.configDB.Get(configstore.KeySetupComplete); setupComplete == "true" {
		if err := s.connect(runCtx, s.cfg.SerialDevice, s.cfg.BaudRate); err != nil {
			log.Warnw("initial connect failed, running in degraded mode", "error", err)
		}
	} else {
		log.Info("setup not marked complete, running in degraded mode until connect")
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.runRainStateCheckpointLoop(runCtx)
	}()

	log.Infow("daemon started", "ipc_addr", s.cfg.IPCAddr)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		log.Infow("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		log.Info("parent context cancelled, shutting down")
	}

	return s.shutdown(cancel, &wg)
}

// connect opens a transport to device/baud, detects the station family,
// reads calibration, and starts the poller and (if configured) archive
// sync loop against it, replacing whatever was previously connected. It is
// used both at startup and by the connect/reconnect IPC commands, so it
// never treats a failure as fatal to the daemon -- the caller decides.
func (s *Supervisor) connect(ctx context.Context, device string, baud int) error {
	transport := serialtransport.New(device, baud)
	if err := transport.Open(ctx); err != nil {
		return fmt.Errorf("supervisor: opening transport: %w", err)
	}
	driver := linkdriver.New(transport)
	if err := driver.DetectFamily(ctx); err != nil {
		transport.Close(ctx)
		transport.Shutdown()
		return fmt.Errorf("supervisor: detecting station family: %w", err)
	}
	calibration, err := s.configDB.ReadCalibration()
	if err != nil {
		transport.Close(ctx)
		transport.Shutdown()
		return fmt.Errorf("supervisor: reading calibration: %w", err)
	}

	poller := polling.New(driver, s.tsDB, calibration, s.cfg.PollInterval, s.cfg.Location)
	syncer := archivesync.New(driver, s.tsDB, s.cfg.Location)

	s.connMu.Lock()
	prevTransport := s.transport
	s.transport = transport
	s.driver = driver
	s.poller = poller
	s.syncer = syncer
	s.connected = true
	s.lastDevice = device
	s.lastBaud = baud
	s.connMu.Unlock()

	if prevTransport != nil {
		prevTransport.Close(ctx)
		prevTransport.Shutdown()
	}

	s.restoreRainState()
	poller.SetBroadcastCallback(func(update types.SensorUpdate) {
		s.connMu.Lock()
		s.lastPoll = time.Now()
		s.connMu.Unlock()
		s.ipcServer.Broadcast(update)
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := poller.Run(s.runCtx); err != nil && s.runCtx.Err() == nil {
			log.Errorw("poller exited with error", "error", err)
		}
	}()

	if s.cfg.ArchiveSyncEvery > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runArchiveSyncLoop(s.runCtx, syncer)
		}()
	}

	log.Infow("connected to station", "device", device, "baud", baud, "station_family", wireproto.Names[driver.Family()])
	return nil
}

// requireConnected returns the live driver, or ErrNotConnected if the
// station port isn't open.
func (s *Supervisor) requireConnected() (*linkdriver.Driver, error) {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	if !s.connected || s.driver == nil {
		return nil, ErrNotConnected
	}
	return s.driver, nil
}

func (s *Supervisor) shutdown(cancel context.CancelFunc, wg *sync.WaitGroup) error {
	s.connMu.RLock()
	poller, transport := s.poller, s.transport
	s.connMu.RUnlock()

	if poller != nil {
		poller.Stop()
		s.saveRainState()
	}
	cancel()
	s.ipcServer.Close()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Infow("graceful shutdown complete", "uptime", humanize.Time(s.startedAt))
	case <-time.After(gracefulShutdownDeadline):
		log.Warn("graceful shutdown deadline exceeded, forcing remaining components closed")
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), hardExitDeadline-gracefulShutdownDeadline)
	defer closeCancel()
	if transport != nil {
		if err := transport.Close(closeCtx); err != nil {
			log.Errorw("error closing transport", "error", err)
		}
		transport.Shutdown()
	}

	s.tsDB.Close()
	s.configDB.Close()

	select {
	case <-done:
	case <-time.After(hardExitDeadline):
		log.Warn("hard exit deadline exceeded, exiting with workers still running")
	}
	return nil
}

func (s *Supervisor) runArchiveSyncLoop(ctx context.Context, syncer *archivesync.Syncer) {
	ticker := time.NewTicker(s.cfg.ArchiveSyncEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := syncer.Sync(ctx)
			if err != nil {
				log.Errorw("archive sync failed", "error", err)
				continue
			}
			if n > 0 {
				log.Infow("archive sync inserted records", "count", n)
			}
		}
	}
}

func (s *Supervisor) runRainStateCheckpointLoop(ctx context.Context) {
	ticker := time.NewTicker(rainStateCheckpointEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.saveRainState()
		}
	}
}

func (s *Supervisor) rainStatePath() string {
	return filepath.Join(filepath.Dir(s.cfg.TimeseriesPath), rainStateFileName)
}

func (s *Supervisor) saveRainState() {
	s.connMu.RLock()
	poller := s.poller
	s.connMu.RUnlock()
	if poller == nil {
		return
	}
	state := poller.State()
	data, err := json.Marshal(state)
	if err != nil {
		log.Errorw("marshaling rain state", "error", err)
		return
	}
	if err := os.WriteFile(s.rainStatePath(), data, 0o644); err != nil {
		log.Errorw("writing rain state checkpoint", "error", err)
	}
}

func (s *Supervisor) restoreRainState() {
	data, err := os.ReadFile(s.rainStatePath())
	if err != nil {
		return
	}
	var state polling.RainState
	if err := json.Unmarshal(data, &state); err != nil {
		log.Errorw("parsing rain state checkpoint", "error", err)
		return
	}
	s.connMu.RLock()
	poller := s.poller
	s.connMu.RUnlock()
	if poller != nil {
		poller.RestoreState(state)
	}
}

// ForceArchive triggers an immediate station archive write plus a sync.
func (s *Supervisor) ForceArchive(ctx context.Context) (int, error) {
	driver, err := s.requireConnected()
	if err != nil {
		return 0, err
	}
	if err := driver.ForceArchive(ctx); err != nil {
		return 0, err
	}
	s.connMu.RLock()
	syncer := s.syncer
	s.connMu.RUnlock()
	return syncer.Sync(ctx)
}

func (s *Supervisor) registerIPCHandlers() {
	s.ipcServer.Handle("ping", func(ctx context.Context, args json.RawMessage) (any, error) {
		return "pong", nil
	})

	s.ipcServer.Handle("status", func(ctx context.Context, args json.RawMessage) (any, error) {
		return s.statusData(), nil
	})

	s.ipcServer.Handle("probe", func(ctx context.Context, args json.RawMessage) (any, error) {
		var req struct {
			Port string `json:"port"`
			Baud int    `json:"baud"`
		}
		if len(args) > 0 {
			if err := json.Unmarshal(args, &req); err != nil {
				return nil, fmt.Errorf("supervisor: parsing probe request: %w", err)
			}
		}
		if req.Port == "" {
			req.Port = s.cfg.SerialDevice
		}
		if req.Baud == 0 {
			req.Baud = s.cfg.BaudRate
		}

		t := serialtransport.New(req.Port, req.Baud)
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := t.Open(probeCtx); err != nil {
			t.Shutdown()
			return map[string]any{"success": false, "station_type": nil, "station_code": nil}, nil
		}
		d := linkdriver.New(t)
		detectErr := d.DetectFamily(probeCtx)
		t.Close(ctx)
		t.Shutdown()
		if detectErr != nil {
			return map[string]any{"success": false, "station_type": nil, "station_code": nil}, nil
		}
		return map[string]any{
			"success":      true,
			"station_type": wireproto.Names[d.Family()],
			"station_code": int(d.Family()),
		}, nil
	})

	s.ipcServer.Handle("auto_detect", func(ctx context.Context, args json.RawMessage) (any, error) {
		return s.autoDetect(ctx, args)
	})

	s.ipcServer.Handle("connect", func(ctx context.Context, args json.RawMessage) (any, error) {
		var req struct {
			Port string `json:"port"`
			Baud int    `json:"baud"`
		}
		if len(args) > 0 {
			if err := json.Unmarshal(args, &req); err != nil {
				return nil, fmt.Errorf("supervisor: parsing connect request: %w", err)
			}
		}
		if req.Port == "" {
			req.Port = s.cfg.SerialDevice
		}
		if req.Baud == 0 {
			req.Baud = s.cfg.BaudRate
		}
		if err := s.connect(ctx, req.Port, req.Baud); err != nil {
			return nil, err
		}
		driver, _ := s.requireConnected()
		return map[string]any{"success": true, "station_type": wireproto.Names[driver.Family()]}, nil
	})

	s.ipcServer.Handle("reconnect", func(ctx context.Context, args json.RawMessage) (any, error) {
		s.connMu.RLock()
		device, baud := s.lastDevice, s.lastBaud
		s.connMu.RUnlock()
		if device == "" {
			device, baud = s.cfg.SerialDevice, s.cfg.BaudRate
		}
		if err := s.connect(ctx, device, baud); err != nil {
			return nil, err
		}
		driver, _ := s.requireConnected()
		return map[string]any{"success": true, "station_type": wireproto.Names[driver.Family()]}, nil
	})

	s.ipcServer.Handle("read_station_time", func(ctx context.Context, args json.RawMessage) (any, error) {
		driver, err := s.requireConnected()
		if err != nil {
			return nil, err
		}
		loc := s.cfg.Location
		if loc == nil {
			loc = time.UTC
		}
		t, err := driver.ReadStationTime(ctx, loc)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"hour":   t.Hour(),
			"minute": t.Minute(),
			"second": t.Second(),
			"day":    t.Day(),
			"month":  int(t.Month()),
			"year":   t.Year(),
		}, nil
	})

	s.ipcServer.Handle("sync_station_time", func(ctx context.Context, args json.RawMessage) (any, error) {
		driver, err := s.requireConnected()
		if err != nil {
			return nil, err
		}
		loc := s.cfg.Location
		if loc == nil {
			loc = time.UTC
		}
		now := time.Now().In(loc)
		if err := driver.WriteStationTime(ctx, now); err != nil {
			return nil, err
		}
		return map[string]any{"success": true, "synced_to": now.Format(time.RFC3339)}, nil
	})

	s.ipcServer.Handle("read_config", func(ctx context.Context, args json.RawMessage) (any, error) {
		driver, err := s.requireConnected()
		if err != nil {
			return nil, err
		}
		archivePeriod, err := driver.ReadArchivePeriod(ctx)
		if err != nil {
			return nil, err
		}
		calibration, err := s.configDB.ReadCalibration()
		if err != nil {
			return nil, err
		}
		samplePeriod := 0
		if v, ok := s.configDB.Get(configstore.KeySamplePeriod); ok {
			samplePeriod, _ = strconv.Atoi(v)
		}
		return map[string]any{
			"archive_period": archivePeriod,
			"sample_period":  samplePeriod,
			"calibration":    calibration,
		}, nil
	})

	s.ipcServer.Handle("write_config", func(ctx context.Context, args json.RawMessage) (any, error) {
		driver, err := s.requireConnected()
		if err != nil {
			return nil, err
		}
		var req struct {
			ArchivePeriod *int                      `json:"archive_period"`
			SamplePeriod  *int                      `json:"sample_period"`
			Calibration   *types.CalibrationOffsets `json:"calibration"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, fmt.Errorf("supervisor: parsing write_config request: %w", err)
		}

		results := map[string]string{}
		if req.ArchivePeriod != nil {
			if err := driver.SetArchivePeriod(ctx, *req.ArchivePeriod); err != nil {
				log.Errorw("write_config: setting archive period failed", "error", err)
				results["archive_period"] = "failed"
			} else {
				s.configDB.Set(configstore.KeyArchivePeriod, strconv.Itoa(*req.ArchivePeriod))
				results["archive_period"] = "ok"
			}
		}
		if req.SamplePeriod != nil {
			if err := driver.SetSamplePeriod(ctx, *req.SamplePeriod); err != nil {
				log.Errorw("write_config: setting sample period failed", "error", err)
				results["sample_period"] = "failed"
			} else {
				s.configDB.Set(configstore.KeySamplePeriod, strconv.Itoa(*req.SamplePeriod))
				results["sample_period"] = "ok"
			}
		}
		if req.Calibration != nil {
			if err := s.configDB.WriteCalibration(req.Calibration); err != nil {
				log.Errorw("write_config: writing calibration failed", "error", err)
				results["calibration"] = "failed"
			} else {
				results["calibration"] = "ok"
			}
		}
		return map[string]any{"results": results}, nil
	})

	s.ipcServer.Handle("clear_rain_daily", func(ctx context.Context, args json.RawMessage) (any, error) {
		driver, err := s.requireConnected()
		if err != nil {
			return nil, err
		}
		if err := driver.ClearRainDaily(ctx); err != nil {
			return nil, err
		}
		return map[string]any{"success": true}, nil
	})

	s.ipcServer.Handle("clear_rain_yearly", func(ctx context.Context, args json.RawMessage) (any, error) {
		driver, err := s.requireConnected()
		if err != nil {
			return nil, err
		}
		if err := driver.ClearRainYearly(ctx); err != nil {
			return nil, err
		}
		return map[string]any{"success": true}, nil
	})

	s.ipcServer.Handle("force_archive", func(ctx context.Context, args json.RawMessage) (any, error) {
		n, err := s.ForceArchive(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"success": true, "inserted": n}, nil
	})

	s.ipcServer.Handle("sync_archive", func(ctx context.Context, args json.RawMessage) (any, error) {
		s.connMu.RLock()
		syncer := s.syncer
		s.connMu.RUnlock()
		if syncer == nil {
			return nil, ErrNotConnected
		}
		n, err := syncer.Sync(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"inserted": n}, nil
	})
}

// statusData builds the status IPC command's response document. It always
// returns a well-typed result regardless of connection state.
func (s *Supervisor) statusData() map[string]any {
	s.connMu.RLock()
	defer s.connMu.RUnlock()

	resp := map[string]any{
		"connected":      s.connected,
		"poll_interval":  int(s.cfg.PollInterval.Seconds()),
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		"type_code":      nil,
		"type_name":      nil,
		"link_revision":  nil,
		"crc_errors":     uint64(0),
		"timeouts":       uint64(0),
		"last_poll":      nil,
	}
	if s.connected && s.driver != nil {
		resp["type_code"] = int(s.driver.Family())
		resp["type_name"] = wireproto.Names[s.driver.Family()]
		resp["link_revision"] = s.driver.Revision()
		resp["crc_errors"] = s.driver.CRCErrors()
		resp["timeouts"] = s.driver.Timeouts()
	}
	if !s.lastPoll.IsZero() {
		resp["last_poll"] = s.lastPoll.UTC().Format(time.RFC3339)
	}
	return resp
}

// autoDetectCandidate is one (port, baud) pair to try during auto_detect.
type autoDetectCandidate struct {
	Port string `json:"port"`
	Baud int    `json:"baud"`
}

// defaultAutoDetectCandidates covers the serial paths and baud rates a
// WeatherLink datalogger is plugged into on a typical Linux/USB-serial
// install; the request body may override this list entirely.
var defaultAutoDetectCandidates = []autoDetectCandidate{
	{Port: "/dev/ttyUSB0", Baud: 2400},
	{Port: "/dev/ttyUSB1", Baud: 2400},
	{Port: "/dev/ttyS0", Baud: 2400},
	{Port: "/dev/ttyUSB0", Baud: 19200},
}

// attempt records the outcome of one auto_detect candidate: Result is set
// on success, Error on failure.
type attempt struct {
	Port   string `json:"port"`
	Baud   int    `json:"baud"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// autoDetect tries each candidate port/baud pair in turn against a fresh
// transport's DetectFamily, stopping at the first success. It always
// closes every transport it opens, success or not, and returns the full
// attempt log alongside the result so a caller can see why a port was
// skipped.
func (s *Supervisor) autoDetect(ctx context.Context, args json.RawMessage) (any, error) {
	candidates := defaultAutoDetectCandidates
	if len(args) > 0 {
		var req struct {
			Candidates []autoDetectCandidate `json:"candidates"`
		}
		if err := json.Unmarshal(args, &req); err == nil && len(req.Candidates) > 0 {
			candidates = req.Candidates
		}
	}

	attempts := make([]attempt, 0, len(candidates))

	for _, c := range candidates {
		t := serialtransport.New(c.Port, c.Baud)
		openCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := t.Open(openCtx)
		if err == nil {
			d := linkdriver.New(t)
			err = d.DetectFamily(openCtx)
			if err == nil {
				family := d.Family()
				t.Close(ctx)
				t.Shutdown()
				cancel()
				attempts = append(attempts, attempt{Port: c.Port, Baud: c.Baud, Result: wireproto.Names[family]})
				return map[string]any{
					"found":        true,
					"port":         c.Port,
					"baud_rate":    c.Baud,
					"station_type": wireproto.Names[family],
					"station_code": int(family),
					"attempts":     attempts,
				}, nil
			}
		}
		cancel()
		t.Close(ctx)
		t.Shutdown()
		attempts = append(attempts, attempt{Port: c.Port, Baud: c.Baud, Error: err.Error()})
	}

	return map[string]any{
		"found":    false,
		"attempts": attempts,
	}, nil
}
