package packet

import (
	"fmt"
	"time"

	"github.com/chrissnell/weatherlink-core/internal/types"
	"github.com/chrissnell/weatherlink-core/internal/wireproto"
)

func bcd(b byte) int { return int(b>>4)*10 + int(b&0x0F) }

// decodeArchiveTimestamp decodes the BCD hours/minutes/day and packed month
// nibble found at off in every archive record family, rolling the year back
// one if the resulting date would otherwise land in the future.
func decodeArchiveTimestamp(data []byte, off int, now time.Time) (time.Time, error) {
	hours := bcd(data[off])
	minutes := bcd(data[off+1])
	day := bcd(data[off+2])
	month := int(data[off+3] & 0x0F)

	if hours > 23 || minutes > 59 || day < 1 || day > 31 || month < 1 || month > 12 {
		return time.Time{}, fmt.Errorf("packet: invalid archive timestamp h=%d m=%d d=%d mo=%d", hours, minutes, day, month)
	}

	year := now.Year()
	t := time.Date(year, time.Month(month), day, hours, minutes, 0, 0, now.Location())
	if t.After(now) {
		t = time.Date(year-1, time.Month(month), day, hours, minutes, 0, 0, now.Location())
	}
	return t, nil
}

// ParseArchiveRecord decodes one archive-buffer record at archiveAddress,
// dispatching on family for the byte layout.
func ParseArchiveRecord(data []byte, family wireproto.StationFamily, archiveAddress uint16, archiveInterval int, now time.Time) (*types.ArchiveRecord, error) {
	switch {
	case wireproto.BasicFamilies[family]:
		return parseBasicArchive(data, archiveAddress, archiveInterval, now)
	case family == wireproto.GroWeather:
		return parseGroWeatherArchive(data, archiveAddress, archiveInterval, now, true)
	case family == wireproto.Energy:
		return parseGroWeatherArchive(data, archiveAddress, archiveInterval, now, false)
	case family == wireproto.Health:
		return parseHealthArchive(data, archiveAddress, archiveInterval, now)
	default:
		return nil, fmt.Errorf("packet: unknown station family %v", family)
	}
}

func archiveWindDir(v byte) *uint8 {
	if v == 0xFF {
		return nil
	}
	r := uint8(v)
	return &r
}

func archiveHumidity(v byte) *uint8 {
	if v == 0xFF {
		return nil
	}
	r := uint8(v)
	return &r
}

func parseBasicArchive(data []byte, addr uint16, interval int, now time.Time) (*types.ArchiveRecord, error) {
	ts, err := decodeArchiveTimestamp(data, 15, now)
	if err != nil {
		return nil, err
	}
	return &types.ArchiveRecord{
		ArchiveAddress:  addr,
		RecordTime:      ts,
		StationType:     int(wireproto.OldLink),
		ArchiveInterval: interval,
		Barometer:       ptrU16(u16(data, 0)),
		InsideHumidity:  archiveHumidity(data[2]),
		OutsideHumidity: archiveHumidity(data[3]),
		RainInPeriod:    ptrU16(u16(data, 4)),
		InsideTempAvg:   validTemp4Nibble(i16(data, 6)),
		OutsideTempAvg:  validTemp4Nibble(i16(data, 8)),
		WindSpeedAvg:    ptrU8(u8(data, 10)),
		WindDirection:   archiveWindDir(data[11]),
		OutsideTempHi:   validTemp4Nibble(i16(data, 12)),
		WindGust:        ptrU8(u8(data, 14)),
		OutsideTempLo:   validTemp4Nibble(i16(data, 19)),
	}, nil
}

// parseGroWeatherArchive handles both the GroWeather and Energy families,
// which share every field except DegreeDays' width (u16 vs u8).
func parseGroWeatherArchive(data []byte, addr uint16, interval int, now time.Time, wideDegreeDays bool) (*types.ArchiveRecord, error) {
	ts, err := decodeArchiveTimestamp(data, 12, now)
	if err != nil {
		return nil, err
	}
	rec := &types.ArchiveRecord{
		ArchiveAddress:  addr,
		RecordTime:      ts,
		ArchiveInterval: interval,
		Barometer:       ptrU16(u16(data, 0)),
		OutsideHumidity: archiveHumidity(data[2]),
		WindSpeedAvg:    ptrU8(u8(data, 3)),
		WindGust:        ptrU8(u8(data, 4)),
		WindDirection:   archiveWindDir(data[5]),
		RainInPeriod:    ptrU16(u16(data, 6)),
		InsideTempAvg:   validTemp4Nibble(i16(data, 8)),
		OutsideTempAvg:  validTemp4Nibble(i16(data, 10)),
		OutsideTempHi:   validTemp4Nibble(i16(data, 16)),
		OutsideTempLo:   validTemp4Nibble(i16(data, 18)),
		ET:              ptrU8(u8(data, 22)),
		WindRun:         ptrU16(u16(data, 24)),
		SolarRadAvg:     ptrU16(u16(data, 26)),
		RainRateHi:      ptrU8(u8(data, 30)),
	}
	if wideDegreeDays {
		rec.StationType = int(wireproto.GroWeather)
		dd := uint32(u16(data, 20))
		rec.DegreeDays = &dd
		se := uint32(u16(data, 28))
		rec.SolarEnergy = &se
	} else {
		rec.StationType = int(wireproto.Energy)
		dd := uint32(data[20])
		rec.DegreeDays = &dd
		se := uint32(u16(data, 28))
		rec.SolarEnergy = &se
	}
	return rec, nil
}

func parseHealthArchive(data []byte, addr uint16, interval int, now time.Time) (*types.ArchiveRecord, error) {
	ts, err := decodeArchiveTimestamp(data, 12, now)
	if err != nil {
		return nil, err
	}
	return &types.ArchiveRecord{
		ArchiveAddress:  addr,
		RecordTime:      ts,
		StationType:     int(wireproto.Health),
		ArchiveInterval: interval,
		Barometer:       ptrU16(u16(data, 0)),
		WindSpeedAvg:    ptrU8(u8(data, 2)),
		WindGust:        ptrU8(u8(data, 3)),
		WindDirection:   archiveWindDir(data[4]),
		RainRateHi:      ptrU8(u8(data, 5)),
		RainInPeriod:    ptrU16(u16(data, 6)),
		InsideTempAvg:   validTemp4Nibble(i16(data, 8)),
		OutsideTempAvg:  validTemp4Nibble(i16(data, 10)),
		OutsideTempHi:   validTemp4Nibble(i16(data, 16)),
		OutsideTempLo:   validTemp4Nibble(i16(data, 18)),
		InsideHumidity:  archiveHumidity(data[20]),
		OutsideHumidity: archiveHumidity(data[21]),
		UVAvg:           ptrU8(u8(data, 22)),
		UVDose:          ptrU16(u16(data, 24)),
		SolarRadAvg:     ptrU16(u16(data, 26)),
	}, nil
}
