package timeseries

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/chrissnell/weatherlink-core/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "timeseries.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func ptrInt16(v int16) *int16 { return &v }
func ptrUint16(v uint16) *uint16 { return &v }

func TestInsertAndQueryReading(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()
	r := &types.DerivedReading{
		Timestamp: now,
		PressureTrend: "rising",
	}
	r.OutsideTemp = ptrInt16(720)
	r.Barometer = ptrUint16(29950)

	if err := s.InsertReading(r); err != nil {
		t.Fatalf("InsertReading: %v", err)
	}

	readings, err := s.PressureReadingsSince(now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("PressureReadingsSince: %v", err)
	}
	if len(readings) != 1 || readings[0].Barometer != 29950 {
		t.Errorf("PressureReadingsSince = %+v, want one reading with barometer 29950", readings)
	}
}

func TestInsertArchiveRecordDeduplicates(t *testing.T) {
	s := openTestStore(t)
	rec := &types.ArchiveRecord{
		ArchiveAddress: 0x100,
		RecordTime:     time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}

	inserted, err := s.InsertArchiveRecord(rec)
	if err != nil {
		t.Fatalf("InsertArchiveRecord: %v", err)
	}
	if !inserted {
		t.Fatal("expected first insert to report inserted=true")
	}

	inserted, err = s.InsertArchiveRecord(rec)
	if err != nil {
		t.Fatalf("InsertArchiveRecord (dup): %v", err)
	}
	if inserted {
		t.Error("expected duplicate insert to report inserted=false")
	}
}

func TestDailyExtremes(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	for i, temp := range []int16{700, 750, 680} {
		r := &types.DerivedReading{Timestamp: base.Add(time.Duration(i) * time.Hour)}
		r.OutsideTemp = ptrInt16(temp)
		if err := s.InsertReading(r); err != nil {
			t.Fatalf("InsertReading: %v", err)
		}
	}

	extremes, err := s.DailyExtremes(base, base.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("DailyExtremes: %v", err)
	}
	if extremes.OutsideTempHi == nil || *extremes.OutsideTempHi != 75.0 {
		t.Errorf("OutsideTempHi = %v, want 75.0", extremes.OutsideTempHi)
	}
	if extremes.OutsideTempLo == nil || *extremes.OutsideTempLo != 68.0 {
		t.Errorf("OutsideTempLo = %v, want 68.0", extremes.OutsideTempLo)
	}
}
