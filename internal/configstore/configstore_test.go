package configstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/chrissnell/weatherlink-core/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.db")
	s, err := Open(path, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSetGetRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if err := s.Set(KeySerialPort, "/dev/ttyUSB0"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok := s.Get(KeySerialPort)
	if !ok || v != "/dev/ttyUSB0" {
		t.Errorf("Get(%q) = (%q, %v), want (/dev/ttyUSB0, true)", KeySerialPort, v, ok)
	}
}

func TestGetMissingKey(t *testing.T) {
	s := openTestStore(t)
	if _, ok := s.Get("nonexistent"); ok {
		t.Error("expected ok=false for missing key")
	}
}

func TestSetOverwrites(t *testing.T) {
	s := openTestStore(t)
	if err := s.Set(KeyPollInterval, "10"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(KeyPollInterval, "20"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, _ := s.Get(KeyPollInterval)
	if v != "20" {
		t.Errorf("Get = %q, want 20", v)
	}
}

func TestCalibrationDefaultsWhenUnset(t *testing.T) {
	s := openTestStore(t)
	c, err := s.ReadCalibration()
	if err != nil {
		t.Fatalf("ReadCalibration: %v", err)
	}
	if c.RainCalibration != 1 {
		t.Errorf("default RainCalibration = %d, want 1", c.RainCalibration)
	}
}

func TestCalibrationRoundTrip(t *testing.T) {
	s := openTestStore(t)
	want := &types.CalibrationOffsets{
		InsideTemp:      10,
		OutsideTemp:     -5,
		Barometer:       20,
		OutsideHumidity: 2,
		RainCalibration: 100,
	}
	if err := s.WriteCalibration(want); err != nil {
		t.Fatalf("WriteCalibration: %v", err)
	}
	got, err := s.ReadCalibration()
	if err != nil {
		t.Fatalf("ReadCalibration: %v", err)
	}
	if *got != *want {
		t.Errorf("ReadCalibration = %+v, want %+v", got, want)
	}
}

func TestCachedGetSeesPrecedingSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.db")
	s, err := Open(path, time.Minute)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.Set(KeyBaudRate, "19200"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok := s.Get(KeyBaudRate)
	if !ok || v != "19200" {
		t.Fatalf("Get = (%q, %v), want (19200, true)", v, ok)
	}
}
