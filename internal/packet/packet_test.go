package packet

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/chrissnell/weatherlink-core/internal/crc"
	"github.com/chrissnell/weatherlink-core/internal/wireproto"
)

func buildLoopPacket(t *testing.T, data []byte) []byte {
	t.Helper()
	c := crc.Calculate(data)
	raw := make([]byte, 0, 1+len(data)+2)
	raw = append(raw, wireproto.SOH)
	raw = append(raw, data...)
	raw = append(raw, byte(c>>8), byte(c))
	return raw
}

func TestParseLoopBasic(t *testing.T) {
	data := make([]byte, 15)
	binary.LittleEndian.PutUint16(data[0:], uint16(int16(685))) // inside temp 68.5F
	binary.LittleEndian.PutUint16(data[2:], uint16(int16(721))) // outside temp 72.1F
	data[4] = 5                                                 // wind speed
	binary.LittleEndian.PutUint16(data[5:], 180)                // wind dir
	binary.LittleEndian.PutUint16(data[7:], 29920)              // barometer
	data[9] = 45                                                // inside humidity
	data[10] = 60                                               // outside humidity
	binary.LittleEndian.PutUint16(data[11:], 100)               // rain total

	raw := buildLoopPacket(t, data)

	r, err := ParseLoop(raw, wireproto.Monitor)
	if err != nil {
		t.Fatalf("ParseLoop: %v", err)
	}
	if r.InsideTemp == nil || *r.InsideTemp != 685 {
		t.Errorf("InsideTemp = %v, want 685", r.InsideTemp)
	}
	if r.OutsideHumidity == nil || *r.OutsideHumidity != 60 {
		t.Errorf("OutsideHumidity = %v, want 60", r.OutsideHumidity)
	}
	if r.WindDirection == nil || *r.WindDirection != 180 {
		t.Errorf("WindDirection = %v, want 180", r.WindDirection)
	}
}

func TestParseLoopRejectsBadCRC(t *testing.T) {
	data := make([]byte, 15)
	raw := buildLoopPacket(t, data)
	raw[len(raw)-1] ^= 0xFF
	if _, err := ParseLoop(raw, wireproto.Monitor); err == nil {
		t.Fatal("expected CRC validation error")
	}
}

func TestParseLoopRejectsShortPacket(t *testing.T) {
	if _, err := ParseLoop([]byte{wireproto.SOH, 0x00}, wireproto.Monitor); err == nil {
		t.Fatal("expected length error")
	}
}

func TestParseLoopSentinelRejection(t *testing.T) {
	data := make([]byte, 15)
	sentinel := int16(wireproto.InvalidTemp4Nibble)
	binary.LittleEndian.PutUint16(data[0:], uint16(sentinel))
	data[9] = wireproto.InvalidHumidity
	binary.LittleEndian.PutUint16(data[5:], wireproto.InvalidWindDir)

	raw := buildLoopPacket(t, data)
	r, err := ParseLoop(raw, wireproto.WizardIII)
	if err != nil {
		t.Fatalf("ParseLoop: %v", err)
	}
	if r.InsideTemp != nil {
		t.Errorf("InsideTemp should be nil for sentinel value, got %v", *r.InsideTemp)
	}
	if r.InsideHumidity != nil {
		t.Errorf("InsideHumidity should be nil for sentinel value, got %v", *r.InsideHumidity)
	}
	if r.WindDirection != nil {
		t.Errorf("WindDirection should be nil for sentinel value, got %v", *r.WindDirection)
	}
}

func TestDecodeArchiveTimestampRollsBackYear(t *testing.T) {
	now := time.Date(2026, time.January, 1, 0, 30, 0, 0, time.UTC)
	data := []byte{0x23, 0x59, 0x31, 0x0C} // 23:59, day 31 BCD, month 12 in the low nibble
	ts, err := decodeArchiveTimestamp(data, 0, now)
	if err != nil {
		t.Fatalf("decodeArchiveTimestamp: %v", err)
	}
	if ts.Year() != 2025 || ts.Month() != time.December || ts.Day() != 31 {
		t.Errorf("got %v, want 2025-12-31", ts)
	}
}

func TestParseBasicArchiveRecord(t *testing.T) {
	data := make([]byte, 21)
	binary.LittleEndian.PutUint16(data[0:], 29920) // barometer
	data[2] = 45
	data[3] = 0xFF // outside humidity sentinel
	binary.LittleEndian.PutUint16(data[4:], 5)
	binary.LittleEndian.PutUint16(data[6:], uint16(int16(685)))
	binary.LittleEndian.PutUint16(data[8:], uint16(int16(710)))
	data[10] = 3
	data[11] = 90
	binary.LittleEndian.PutUint16(data[12:], uint16(int16(730)))
	data[14] = 12
	binary.LittleEndian.PutUint16(data[19:], uint16(int16(680)))
	// timestamp at offset 15: 10:30 on the 15th of the current month
	now := time.Date(2026, time.March, 15, 12, 0, 0, 0, time.UTC)
	data[15] = 0x10 // 10 hours BCD
	data[16] = 0x30 // 30 minutes BCD
	data[17] = 0x15 // day 15 BCD
	data[18] = byte(now.Month())

	rec, err := ParseArchiveRecord(data, wireproto.Monitor, 0x100, 5, now)
	if err != nil {
		t.Fatalf("ParseArchiveRecord: %v", err)
	}
	if rec.OutsideHumidity != nil {
		t.Errorf("OutsideHumidity should be nil for 0xFF sentinel, got %v", *rec.OutsideHumidity)
	}
	if rec.OutsideTempHi == nil || *rec.OutsideTempHi != 730 {
		t.Errorf("OutsideTempHi = %v, want 730", rec.OutsideTempHi)
	}
	if rec.RecordTime.Day() != 15 || rec.RecordTime.Hour() != 10 {
		t.Errorf("RecordTime = %v, want day 15 10:30", rec.RecordTime)
	}
}
