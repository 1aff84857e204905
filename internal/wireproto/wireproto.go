// Package wireproto builds and recognises every wire command and response
// byte of the Davis WeatherLink legacy serial protocol.
package wireproto

import "encoding/binary"

// Response bytes the transport recognises by name.
const (
	ACK byte = 0x06
	NAK byte = 0x21 // protocol NAK
	NAKWireAlias byte = 0x15
	CAN byte = 0x18 // Rev-E CRC failure
	ESC byte = 0x1B
	SOH byte = 0x01
	CR  byte = 0x0D
)

// StationFamily is an opaque tagged variant identifying the datalogger's
// hardware generation. Numeric codes are a wire detail only.
type StationFamily int

const (
	WizardIII StationFamily = iota
	WizardII
	Monitor
	Perception
	GroWeather
	Energy
	Health
	OldLink StationFamily = 0xF
)

// Names mirrors the station's human-readable model names.
var Names = map[StationFamily]string{
	WizardIII:  "Weather Wizard III",
	WizardII:   "Weather Wizard II",
	Monitor:    "Weather Monitor II",
	Perception: "Perception II",
	GroWeather: "GroWeather",
	Energy:     "Energy EnviroMonitor",
	Health:     "Health EnviroMonitor",
	OldLink:    "Old WeatherLink",
}

// BasicFamilies are the stations sharing the 15-byte LOOP layout.
var BasicFamilies = map[StationFamily]bool{
	WizardIII:  true,
	WizardII:   true,
	Monitor:    true,
	Perception: true,
	OldLink:    true,
}

// LoopDataSize is the data-only (excludes SOH and CRC) byte count of a LOOP
// packet for each family.
var LoopDataSize = map[StationFamily]int{
	WizardIII:  15,
	WizardII:   15,
	Monitor:    15,
	Perception: 15,
	OldLink:    15,
	GroWeather: 33,
	Energy:     27,
	Health:     25,
}

// LinkRevision distinguishes Rev D (no CRC gating commands) from Rev E
// (accepts CRC-extended commands and may answer with CAN on CRC failure).
type LinkRevision int

const (
	RevD LinkRevision = iota
	RevE
)

// Sanity/sentinel bounds shared by the packet parser and memory map.
const (
	MinValidTempTenthsF = -900  // -90.0F
	MaxValidTempTenthsF = 2500  // 250.0F
	InvalidTemp4Nibble  = -32768
	InvalidTemp3Nibble  = 0x7FFF
	InvalidHumidity     = 0xFF
	InvalidWindDir      = 0x7FFF
	InvalidSolarRad     = 0xFFF
	InvalidUV           = 0xFF
	MaxRetries          = 2
)

// BuildLoop builds the LOOP command requesting n sensor-image packets.
// Format: "LOOP" + (65536-n) little-endian + CR.
func BuildLoop(n int) []byte {
	count := uint16(65536 - n)
	buf := make([]byte, 0, 7)
	buf = append(buf, "LOOP"...)
	var le [2]byte
	binary.LittleEndian.PutUint16(le[:], count)
	buf = append(buf, le[:]...)
	buf = append(buf, CR)
	return buf
}

// BuildWRD builds a command reading nNibbles nibbles of station processor
// memory from the given bank (0 or 1) at address.
func BuildWRD(nNibbles int, bank int, address byte) []byte {
	bankCode := byte(0x02)
	if bank != 0 {
		bankCode = 0x04
	}
	cmdByte := (byte(nNibbles&0x0F) << 4) | bankCode
	return []byte{'W', 'R', 'D', cmdByte, address, CR}
}

// BuildWWR builds a command writing data to station processor memory.
func BuildWWR(nNibbles int, bank int, address byte, data []byte) []byte {
	bankCode := byte(0x01)
	if bank != 0 {
		bankCode = 0x03
	}
	cmdByte := (byte(nNibbles&0x0F) << 4) | bankCode
	buf := make([]byte, 0, 5+len(data))
	buf = append(buf, 'W', 'W', 'R', cmdByte, address)
	buf = append(buf, data...)
	buf = append(buf, CR)
	return buf
}

// BuildRRD builds a command reading nNibbles nibbles of link processor
// memory from bank at address.
func BuildRRD(bank byte, address byte, nNibbles int) []byte {
	return []byte{'R', 'R', 'D', bank, address, byte(nNibbles - 1), CR}
}

// BuildRWR builds a command writing 2 bytes of link processor memory.
func BuildRWR(bank int, nNibbles int, address byte, data []byte) []byte {
	cmdByte := byte(bank&0x0F) | (byte((nNibbles-1)&0x0F) << 4)
	buf := make([]byte, 0, 4+len(data))
	buf = append(buf, 'R', 'W', 'R', cmdByte, address)
	buf = append(buf, data...)
	buf = append(buf, CR)
	return buf
}

// BuildSRD builds a command reading nBytes bytes of SRAM/archive memory
// starting at address.
func BuildSRD(address uint16, nBytes int) []byte {
	buf := make([]byte, 0, 8)
	buf = append(buf, 'S', 'R', 'D')
	var a, n [2]byte
	binary.LittleEndian.PutUint16(a[:], address)
	binary.LittleEndian.PutUint16(n[:], uint16(nBytes-1))
	buf = append(buf, a[:]...)
	buf = append(buf, n[:]...)
	buf = append(buf, CR)
	return buf
}

func simple(text string) []byte {
	return append([]byte(text), CR)
}

// BuildDMP builds the DMP (archive dump, XMODEM CRC) command.
func BuildDMP() []byte { return simple("DMP") }

// BuildSAP builds the SAP (set archive period, minutes 1-120) command.
func BuildSAP(minutes int) []byte {
	return []byte{'S', 'A', 'P', byte(minutes), CR}
}

// BuildSSP builds the SSP (set sample period) command. Format: SSP (256-n) CR
// where n is seconds 1-255.
func BuildSSP(seconds int) []byte {
	return []byte{'S', 'S', 'P', byte(256 - seconds), CR}
}

// BuildSTOP builds the STOP (pause station polling) command.
func BuildSTOP() []byte { return simple("STOP") }

// BuildSTART builds the START (resume station polling) command.
func BuildSTART() []byte { return simple("START") }

// BuildARC builds the ARC (force archive write) command.
func BuildARC() []byte { return simple("ARC") }

// BuildIMG builds the IMG (force sensor image sample) command.
func BuildIMG() []byte { return simple("IMG") }

// BuildDBT builds the DBT (disable archive timer) command.
func BuildDBT() []byte { return simple("DBT") }

// BuildEBT builds the EBT (enable archive timer) command.
func BuildEBT() []byte { return simple("EBT") }

// BuildCRC0 builds the CRC0 (disable Rev-E CRC checking) command, prefixed
// by the 0x2C 0xF7 CRC-gate bytes it requires.
func BuildCRC0() []byte {
	return append([]byte{0x2C, 0xF7}, simple("CRC0")...)
}

// BuildCRC1 builds the CRC1 (enable Rev-E CRC checking) command.
func BuildCRC1() []byte { return simple("CRC1") }
