package linkdriver

import (
	"testing"

	"github.com/chrissnell/weatherlink-core/internal/types"
)

func TestApplyCalibration(t *testing.T) {
	inside := int16(700)
	outside := int16(650)
	baro := uint16(30000)
	humidity := uint8(50)
	r := &types.SensorReading{
		InsideTemp:      &inside,
		OutsideTemp:     &outside,
		Barometer:       &baro,
		OutsideHumidity: &humidity,
	}
	cal := &types.CalibrationOffsets{
		InsideTemp:      10,
		OutsideTemp:     -5,
		Barometer:       20,
		OutsideHumidity: 60, // forces clamp to 100
	}

	ApplyCalibration(r, cal)

	if *r.InsideTemp != 710 {
		t.Errorf("InsideTemp = %d, want 710", *r.InsideTemp)
	}
	if *r.OutsideTemp != 645 {
		t.Errorf("OutsideTemp = %d, want 645", *r.OutsideTemp)
	}
	if *r.Barometer != 29980 {
		t.Errorf("Barometer = %d, want 29980", *r.Barometer)
	}
	if *r.OutsideHumidity != 100 {
		t.Errorf("OutsideHumidity = %d, want clamped 100", *r.OutsideHumidity)
	}
}

func TestApplyCalibrationClampsLow(t *testing.T) {
	humidity := uint8(5)
	r := &types.SensorReading{OutsideHumidity: &humidity}
	cal := &types.CalibrationOffsets{OutsideHumidity: -20}

	ApplyCalibration(r, cal)

	if *r.OutsideHumidity != 1 {
		t.Errorf("OutsideHumidity = %d, want clamped 1", *r.OutsideHumidity)
	}
}

func TestBCDByteRoundTrip(t *testing.T) {
	for _, v := range []int{0, 1, 9, 10, 23, 59} {
		if got := bcdByte(toBCD(v)); got != v {
			t.Errorf("bcdByte(toBCD(%d)) = %d, want %d", v, got, v)
		}
	}
}
