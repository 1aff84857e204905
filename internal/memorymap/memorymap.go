// Package memorymap holds the per-station-family bank/address/nibble
// constants for the WeatherLink serial protocol's WRD/WWR/RRD memory
// commands. Addresses are synthesized from the protocol's documented
// layout rather than ported from a vendor header, since the techref
// bank tables are not available verbatim; call sites only depend on each
// cell's (bank, address, nibble count), which this package fixes once.
package memorymap

import "github.com/chrissnell/weatherlink-core/internal/wireproto"

// Addr is one addressable memory cell: a bank (0 or 1), a byte address
// within that bank, and the number of nibbles the cell occupies.
type Addr struct {
	Bank    int
	Address byte
	Nibbles int
}

// Station processor (WRD/WWR), bank 0.
var (
	StationModel = Addr{Bank: 0, Address: 0x4D, Nibbles: 1}
)

// Station processor (WRD/WWR), bank 1: time/date/calibration/rain cells.
// Basic families (Wizard/Monitor/Perception/OldLink) use a 3-nibble date;
// GroWeather-family stations (GroWeather/Energy/Health) use 5 nibbles.
var (
	TimeBasic       = Addr{Bank: 1, Address: 0x04, Nibbles: 6} // H/M/S BCD
	DateBasic       = Addr{Bank: 1, Address: 0x0B, Nibbles: 3}
	TimeGroWeather  = Addr{Bank: 1, Address: 0x18, Nibbles: 6}
	DateGroWeather  = Addr{Bank: 1, Address: 0x1F, Nibbles: 5}

	InsideTempCal  = Addr{Bank: 1, Address: 0x52, Nibbles: 4}
	OutsideTempCal = Addr{Bank: 1, Address: 0x56, Nibbles: 4}
	BarometerCal   = Addr{Bank: 1, Address: 0x5A, Nibbles: 4}
	OutHumidityCal = Addr{Bank: 1, Address: 0x5E, Nibbles: 2}
	RainCal        = Addr{Bank: 1, Address: 0x60, Nibbles: 2} // clicks per inch

	RainDailyBasic      = Addr{Bank: 1, Address: 0x64, Nibbles: 4}
	RainYearlyBasic     = Addr{Bank: 1, Address: 0x68, Nibbles: 4}
	RainYearlyGroWeather = Addr{Bank: 1, Address: 0x6C, Nibbles: 4}
)

// Link processor (RRD/RWR), bank 1: archive pointers and period cells.
var (
	ArchiveNewPtr    = Addr{Bank: 1, Address: 0x00, Nibbles: 4}
	ArchiveOldPtr    = Addr{Bank: 1, Address: 0x04, Nibbles: 4}
	ArchivePeriod    = Addr{Bank: 1, Address: 0x08, Nibbles: 2} // minutes
	SamplePeriod     = Addr{Bank: 1, Address: 0x0A, Nibbles: 2} // 256-seconds
)

// TimeCell returns the family-appropriate station time cell.
func TimeCell(f wireproto.StationFamily) Addr {
	if f == wireproto.GroWeather || f == wireproto.Energy || f == wireproto.Health {
		return TimeGroWeather
	}
	return TimeBasic
}

// DateCell returns the family-appropriate station date cell. GroWeather,
// Energy, and Health stations use a 5-nibble date; all others use 3.
func DateCell(f wireproto.StationFamily) Addr {
	if f == wireproto.GroWeather || f == wireproto.Energy || f == wireproto.Health {
		return DateGroWeather
	}
	return DateBasic
}

// RainYearlyCell returns the family-appropriate yearly rain accumulator
// cell. See spec Open Question: the GroWeather family path uses a
// different address than the basic families; this is the synthesized
// assumption pending verification against real hardware.
func RainYearlyCell(f wireproto.StationFamily) Addr {
	if f == wireproto.GroWeather {
		return RainYearlyGroWeather
	}
	return RainYearlyBasic
}

// ArchiveRecordSize returns the archive record size in bytes for a family.
func ArchiveRecordSize(f wireproto.StationFamily) (int, bool) {
	switch f {
	case wireproto.GroWeather, wireproto.Energy:
		return 32, true
	case wireproto.Health:
		return 30, true
	default:
		if wireproto.BasicFamilies[f] {
			return 21, true
		}
	}
	return 0, false
}

// SRAMMaxAddr is the exclusive upper bound of the archive ring; 0x7F00-0x7FFF is reserved
// for MDMP bookkeeping and excluded from the archive ring.
const SRAMMaxAddr = 0x7F00
