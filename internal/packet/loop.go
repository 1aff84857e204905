// Package packet decodes LOOP sensor-image packets and archive records
// into the shared reading/record types, applying the per-family layouts
// and sentinel-rejection rules the protocol defines.
package packet

import (
	"encoding/binary"
	"fmt"

	"github.com/chrissnell/weatherlink-core/internal/crc"
	"github.com/chrissnell/weatherlink-core/internal/types"
	"github.com/chrissnell/weatherlink-core/internal/wireproto"
)

func u8(data []byte, off int) uint8  { return data[off] }
func i16(data []byte, off int) int16 { return int16(binary.LittleEndian.Uint16(data[off:])) }
func u16(data []byte, off int) uint16 { return binary.LittleEndian.Uint16(data[off:]) }
func u24(data []byte, off int) uint32 {
	return uint32(data[off]) | uint32(data[off+1])<<8 | uint32(data[off+2])<<16
}

func validTemp4Nibble(v int16) *int16 {
	if v == wireproto.InvalidTemp4Nibble {
		return nil
	}
	if int(v) > wireproto.MaxValidTempTenthsF || int(v) < wireproto.MinValidTempTenthsF {
		return nil
	}
	return &v
}

func validHumidity(v uint8) *uint8 {
	if v == wireproto.InvalidHumidity || v > 100 {
		return nil
	}
	return &v
}

func validWindDir(v uint16) *uint16 {
	if v == wireproto.InvalidWindDir || v > 359 {
		return nil
	}
	return &v
}

func validSolar(v uint16) *uint16 {
	if v >= wireproto.InvalidSolarRad {
		return nil
	}
	return &v
}

func validUV(v uint8) *uint8 {
	if v == wireproto.InvalidUV {
		return nil
	}
	return &v
}

func ptrU8(v uint8) *uint8   { return &v }
func ptrU16(v uint16) *uint16 { return &v }
func ptrU32(v uint32) *uint32 { return &v }

// ParseLoop decodes a complete LOOP packet: SOH || data || CRC_big_endian_2.
func ParseLoop(raw []byte, family wireproto.StationFamily) (*types.SensorReading, error) {
	dataSize, ok := wireproto.LoopDataSize[family]
	if !ok {
		return nil, fmt.Errorf("packet: unknown station family %v", family)
	}
	expectedTotal := 1 + dataSize + 2
	if len(raw) < expectedTotal {
		return nil, fmt.Errorf("packet: LOOP packet too short: %d bytes, expected %d", len(raw), expectedTotal)
	}
	if raw[0] != wireproto.SOH {
		return nil, fmt.Errorf("packet: LOOP packet missing SOH header: 0x%02X", raw[0])
	}

	dataAndCRC := raw[1:expectedTotal]
	if !crc.Validate(dataAndCRC) {
		return nil, fmt.Errorf("packet: LOOP packet CRC validation failed")
	}

	data := raw[1 : 1+dataSize]

	switch {
	case wireproto.BasicFamilies[family]:
		return parseBasicLoop(data), nil
	case family == wireproto.GroWeather:
		return parseGroWeatherLoop(data), nil
	case family == wireproto.Energy:
		return parseEnergyLoop(data), nil
	case family == wireproto.Health:
		return parseHealthLoop(data), nil
	default:
		return nil, fmt.Errorf("packet: unknown station family %v", family)
	}
}

func parseBasicLoop(data []byte) *types.SensorReading {
	r := &types.SensorReading{
		InsideTemp:      validTemp4Nibble(i16(data, 0)),
		OutsideTemp:     validTemp4Nibble(i16(data, 2)),
		WindSpeed:       ptrU8(u8(data, 4)),
		WindDirection:   validWindDir(u16(data, 5)),
		Barometer:       ptrU16(u16(data, 7)),
		InsideHumidity:  validHumidity(u8(data, 9)),
		OutsideHumidity: validHumidity(u8(data, 10)),
		RainTotal:       ptrU16(u16(data, 11)),
	}
	return r
}

func parseGroWeatherLoop(data []byte) *types.SensorReading {
	return &types.SensorReading{
		ArchivePointer:   ptrU16(u16(data, 0)),
		SoilTemp:         validTemp4Nibble(i16(data, 3)),
		OutsideTemp:      validTemp4Nibble(i16(data, 5)),
		WindSpeed:        ptrU8(u8(data, 7)),
		WindDirection:    validWindDir(u16(data, 8)),
		Barometer:        ptrU16(u16(data, 10)),
		RainRate:         ptrU16(uint16(u8(data, 12))),
		OutsideHumidity:  validHumidity(u8(data, 13)),
		RainTotal:        ptrU16(u16(data, 14)),
		SolarRadiation:   validSolar(u16(data, 16)),
		WindRunTotal:     ptrU32(u24(data, 18)),
		ETTotal:          ptrU16(u16(data, 21)),
		DegreeDaysTotal:  ptrU32(u24(data, 23)),
		SolarEnergyTotal: ptrU32(u24(data, 26)),
		LeafWetness:      ptrU8(u8(data, 32)),
	}
}

func parseEnergyLoop(data []byte) *types.SensorReading {
	return &types.SensorReading{
		ArchivePointer:  ptrU16(u16(data, 0)),
		InsideTemp:      validTemp4Nibble(i16(data, 3)),
		OutsideTemp:     validTemp4Nibble(i16(data, 5)),
		WindSpeed:       ptrU8(u8(data, 7)),
		WindDirection:   validWindDir(u16(data, 8)),
		Barometer:       ptrU16(u16(data, 10)),
		RainRate:        ptrU16(uint16(u8(data, 12))),
		OutsideHumidity: validHumidity(u8(data, 13)),
		RainTotal:       ptrU16(u16(data, 14)),
		SolarRadiation:  validSolar(u16(data, 16)),
	}
}

func parseHealthLoop(data []byte) *types.SensorReading {
	return &types.SensorReading{
		ArchivePointer:  ptrU16(u16(data, 0)),
		InsideTemp:      validTemp4Nibble(i16(data, 3)),
		OutsideTemp:     validTemp4Nibble(i16(data, 5)),
		WindSpeed:       ptrU8(u8(data, 7)),
		WindDirection:   validWindDir(u16(data, 8)),
		Barometer:       ptrU16(u16(data, 10)),
		RainRate:        ptrU16(uint16(u8(data, 12))),
		RainTotal:       ptrU16(u16(data, 13)),
		SolarRadiation:  validSolar(u16(data, 15)),
		InsideHumidity:  validHumidity(u8(data, 17)),
		OutsideHumidity: validHumidity(u8(data, 18)),
		UVIndex:         validUV(u8(data, 19)),
		UVDose:          ptrU16(u16(data, 20)),
	}
}
