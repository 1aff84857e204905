package polling

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/chrissnell/weatherlink-core/internal/timeseries"
	"github.com/chrissnell/weatherlink-core/internal/types"
)

func newTestPoller(t *testing.T) *Poller {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ts.db")
	store, err := timeseries.Open(path)
	if err != nil {
		t.Fatalf("timeseries.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(nil, store, nil, time.Second, time.UTC)
}

func u16p(v uint16) *uint16 { return &v }

func TestCardinalPoints(t *testing.T) {
	cases := map[uint16]string{
		0:   "N",
		90:  "E",
		180: "S",
		270: "W",
		359: "N",
		45:  "NE",
	}
	for deg, want := range cases {
		if got := Cardinal(deg); got != want {
			t.Errorf("Cardinal(%d) = %q, want %q", deg, got, want)
		}
	}
}

func TestUpdateRainRateFirstReadingEstablishesBaseline(t *testing.T) {
	p := newTestPoller(t)
	now := time.Now()
	rate := p.updateRainRate(now, &types.SensorReading{RainTotal: u16p(10)})
	if rate != nil {
		t.Errorf("first reading should not yield a rate, got %v", *rate)
	}
}

func TestUpdateRainRateTipProducesRate(t *testing.T) {
	p := newTestPoller(t)
	now := time.Now()
	p.updateRainRate(now, &types.SensorReading{RainTotal: u16p(10)})

	later := now.Add(6 * time.Minute) // 0.1 hour
	rate := p.updateRainRate(later, &types.SensorReading{RainTotal: u16p(11)})
	if rate == nil {
		t.Fatal("expected a non-nil rate after a tip")
	}
	// 0.01in / 0.1hr = 0.1 in/hr = 1 tenth-in/hr
	if *rate != 1 {
		t.Errorf("rate = %d tenths in/hr, want 1", *rate)
	}
}

func TestUpdateRainRateZerosAfterQuiescence(t *testing.T) {
	p := newTestPoller(t)
	now := time.Now()
	p.updateRainRate(now, &types.SensorReading{RainTotal: u16p(10)})
	p.updateRainRate(now.Add(time.Minute), &types.SensorReading{RainTotal: u16p(11)})

	stale := now.Add(20 * time.Minute)
	rate := p.updateRainRate(stale, &types.SensorReading{RainTotal: u16p(11)})
	if rate == nil || *rate != 0 {
		t.Errorf("rate after 15min quiescence = %v, want 0", rate)
	}
}

func TestProcessReadingPersistsAndBroadcasts(t *testing.T) {
	p := newTestPoller(t)

	var broadcast *types.SensorUpdate
	p.SetBroadcastCallback(func(u types.SensorUpdate) { broadcast = &u })

	outTemp := int16(720)
	outHum := uint8(55)
	raw := &types.SensorReading{OutsideTemp: &outTemp, OutsideHumidity: &outHum}

	if _, err := p.processReading(context.Background(), time.Now().UTC(), raw); err != nil {
		t.Fatalf("processReading: %v", err)
	}
	if broadcast == nil {
		t.Fatal("expected broadcast callback to be invoked")
	}
	if broadcast.Type != "sensor_update" {
		t.Errorf("broadcast type = %q, want sensor_update", broadcast.Type)
	}
}
