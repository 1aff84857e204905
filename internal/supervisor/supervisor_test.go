package supervisor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chrissnell/weatherlink-core/internal/polling"
	"github.com/chrissnell/weatherlink-core/internal/timeseries"
)

func openTestTimeseries(t *testing.T) (*timeseries.Store, error) {
	t.Helper()
	return timeseries.Open(filepath.Join(t.TempDir(), "timeseries.db"))
}

func TestRainStatePathDerivesFromTimeseriesDir(t *testing.T) {
	s := &Supervisor{cfg: Config{TimeseriesPath: "/var/lib/weatherlinkd/timeseries.db"}}
	want := filepath.Join("/var/lib/weatherlinkd", rainStateFileName)
	if got := s.rainStatePath(); got != want {
		t.Errorf("rainStatePath() = %q, want %q", got, want)
	}
}

func TestSaveAndRestoreRainStateRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := openTestTimeseries(t)
	if err != nil {
		t.Fatalf("openTestTimeseries: %v", err)
	}
	defer store.Close()

	s := &Supervisor{
		cfg:    Config{TimeseriesPath: filepath.Join(dir, "timeseries.db")},
		poller: polling.New(nil, store, nil, time.Second, time.UTC),
	}

	total := uint16(42)
	s.poller.RestoreState(polling.RainState{
		LastRainTotal: &total,
		LastTipTime:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		LastRainRate:  0.25,
	})

	s.saveRainState()

	data, err := os.ReadFile(s.rainStatePath())
	if err != nil {
		t.Fatalf("reading checkpoint: %v", err)
	}
	var onDisk polling.RainState
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("unmarshal checkpoint: %v", err)
	}
	if onDisk.LastRainTotal == nil || *onDisk.LastRainTotal != 42 {
		t.Errorf("checkpointed LastRainTotal = %v, want 42", onDisk.LastRainTotal)
	}

	restored := &Supervisor{
		cfg:    s.cfg,
		poller: polling.New(nil, store, nil, time.Second, time.UTC),
	}
	restored.restoreRainState()
	got := restored.poller.State()
	if got.LastRainTotal == nil || *got.LastRainTotal != 42 {
		t.Errorf("restored LastRainTotal = %v, want 42", got.LastRainTotal)
	}
	if got.LastRainRate != 0.25 {
		t.Errorf("restored LastRainRate = %v, want 0.25", got.LastRainRate)
	}
}

func TestRestoreRainStateIsNoOpWhenFileMissing(t *testing.T) {
	dir := t.TempDir()
	store, err := openTestTimeseries(t)
	if err != nil {
		t.Fatalf("openTestTimeseries: %v", err)
	}
	defer store.Close()

	s := &Supervisor{
		cfg:    Config{TimeseriesPath: filepath.Join(dir, "timeseries.db")},
		poller: polling.New(nil, store, nil, time.Second, time.UTC),
	}
	s.restoreRainState()
	if s.poller.State().LastRainTotal != nil {
		t.Error("expected no rain state to be restored when checkpoint file is absent")
	}
}

func TestAutoDetectReportsFailedAttemptsWhenNoPortOpens(t *testing.T) {
	s := &Supervisor{}
	req, err := json.Marshal(map[string]any{
		"candidates": []map[string]any{
			{"port": "/dev/nonexistent-weatherlinkd-test-0", "baud": 2400},
			{"port": "/dev/nonexistent-weatherlinkd-test-1", "baud": 19200},
		},
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	result, err := s.autoDetect(context.Background(), req)
	if err != nil {
		t.Fatalf("autoDetect: %v", err)
	}

	resp, ok := result.(map[string]any)
	if !ok {
		t.Fatalf("autoDetect result type = %T, want map[string]any", result)
	}
	if found, _ := resp["found"].(bool); found {
		t.Errorf("found = true, want false for nonexistent ports")
	}
	attempts, ok := resp["attempts"].([]attempt)
	if !ok {
		t.Fatalf("attempts type = %T, want []attempt", resp["attempts"])
	}
	if len(attempts) != 2 {
		t.Fatalf("len(attempts) = %d, want 2", len(attempts))
	}
	for _, a := range attempts {
		if a.Result != "" {
			t.Errorf("attempt for port %q reported a result against a nonexistent device", a.Port)
		}
		if a.Error == "" {
			t.Errorf("attempt for port %q has no recorded error", a.Port)
		}
	}
}
