// Package simulator provides an in-memory serial-like io.ReadWriteCloser
// that answers WeatherLink wire commands the way a real datalogger would,
// for driving the driver/poller/archivesync stack in end-to-end tests
// without a physical serial port.
package simulator

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/chrissnell/weatherlink-core/internal/crc"
	"github.com/chrissnell/weatherlink-core/internal/memorymap"
	"github.com/chrissnell/weatherlink-core/internal/wireproto"
)

// Station is a minimal software model of a WeatherLink datalogger: enough
// station/link processor memory to answer WRD/WWR/RRD/SRD/LOOP/STOP/
// START/SAP/SSP/ARC the way real hardware does, backed by plain byte
// arrays rather than real EEPROM.
type Station struct {
	mu sync.Mutex

	procMem [2][256]byte
	linkMem [2][256]byte
	sram    [0x8000]byte

	loopQueue   [][]byte // pending raw LOOP packets (SOH+data+CRC), FIFO
	nextCRCFail bool     // corrupt the CRC of the next queued packet once

	resp bytes.Buffer

	closed bool
}

// NewStation builds a Station with its model nibble set to family.
func NewStation(family wireproto.StationFamily) *Station {
	s := &Station{}
	s.procMem[memorymap.StationModel.Bank][memorymap.StationModel.Address] = byte(family)
	return s
}

// QueueLoopPacket appends a pre-built raw LOOP packet to be returned by the
// next LOOP command's Nth read.
func (s *Station) QueueLoopPacket(raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loopQueue = append(s.loopQueue, raw)
}

// CorruptNextPacket flips the CRC bytes of the next queued LOOP packet so
// the station answers a bad frame exactly once.
func (s *Station) CorruptNextPacket() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextCRCFail = true
}

// SetArchivePointers seeds the link processor's new/old archive pointer
// cells directly.
func (s *Station) SetArchivePointers(oldPtr, newPtr uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	binary.LittleEndian.PutUint16(s.linkMem[memorymap.ArchiveNewPtr.Bank][memorymap.ArchiveNewPtr.Address:], newPtr)
	binary.LittleEndian.PutUint16(s.linkMem[memorymap.ArchiveOldPtr.Bank][memorymap.ArchiveOldPtr.Address:], oldPtr)
}

// WriteSRAM seeds nBytes of archive SRAM starting at address, used to stage
// archive records an archive sync test expects to read back.
func (s *Station) WriteSRAM(address uint16, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy(s.sram[address:], data)
}

// Read drains bytes queued by prior Write calls.
func (s *Station) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resp.Len() == 0 {
		return 0, nil
	}
	return s.resp.Read(p)
}

// Write feeds a complete wire command to the station and queues its
// response for the next Read calls.
func (s *Station) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.handle(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close marks the station closed. Read and Write do not check the flag and
// keep serving commands after Close.
func (s *Station) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Station) handle(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	switch {
	case len(p) >= 4 && string(p[0:4]) == "LOOP":
		return s.handleLoop(p)
	case len(p) >= 3 && string(p[0:3]) == "WRD":
		return s.handleWRD(p)
	case len(p) >= 3 && string(p[0:3]) == "WWR":
		return s.handleWWR(p)
	case len(p) >= 3 && string(p[0:3]) == "RRD":
		return s.handleRRD(p)
	case len(p) >= 3 && string(p[0:3]) == "RWR":
		return s.handleRWR(p)
	case len(p) >= 3 && string(p[0:3]) == "SRD":
		return s.handleSRD(p)
	case len(p) >= 5 && string(p[0:5]) == "START":
		s.resp.WriteByte(wireproto.ACK)
		return nil
	case len(p) >= 4 && string(p[0:4]) == "STOP":
		s.resp.WriteByte(wireproto.ACK)
		return nil
	case len(p) >= 3 && string(p[0:3]) == "SAP":
		s.linkMem[memorymap.ArchivePeriod.Bank][memorymap.ArchivePeriod.Address] = p[3]
		s.resp.WriteByte(wireproto.ACK)
		return nil
	case len(p) >= 3 && string(p[0:3]) == "SSP":
		s.linkMem[memorymap.SamplePeriod.Bank][memorymap.SamplePeriod.Address] = p[3]
		s.resp.WriteByte(wireproto.ACK)
		return nil
	case len(p) >= 3 && string(p[0:3]) == "ARC":
		s.resp.WriteByte(wireproto.ACK)
		return nil
	case len(p) >= 3 && (string(p[0:3]) == "IMG" || string(p[0:3]) == "DBT" || string(p[0:3]) == "EBT" || string(p[0:3]) == "DMP"):
		s.resp.WriteByte(wireproto.ACK)
		return nil
	default:
		return fmt.Errorf("simulator: unrecognised command %q", p)
	}
}

func (s *Station) handleLoop(p []byte) error {
	if len(p) != 7 {
		return fmt.Errorf("simulator: malformed LOOP command")
	}
	count := binary.LittleEndian.Uint16(p[4:6])
	n := int(65536 - int(count))
	s.resp.WriteByte(wireproto.ACK)
	for i := 0; i < n; i++ {
		if len(s.loopQueue) == 0 {
			return nil
		}
		pkt := s.loopQueue[0]
		s.loopQueue = s.loopQueue[1:]
		if s.nextCRCFail {
			pkt = corruptCRC(pkt)
			s.nextCRCFail = false
		}
		s.resp.Write(pkt)
	}
	return nil
}

func corruptCRC(pkt []byte) []byte {
	out := make([]byte, len(pkt))
	copy(out, pkt)
	out[len(out)-1] ^= 0xFF
	return out
}

// appendCRC returns data followed by its big-endian CRC-CCITT, the same
// trailing two bytes every real memory read emits and the driver drains
// after every WRD/RRD/SRD exchange.
func appendCRC(data []byte) []byte {
	c := crc.Calculate(data)
	out := make([]byte, 0, len(data)+2)
	out = append(out, data...)
	out = append(out, byte(c>>8), byte(c))
	return out
}

func (s *Station) handleWRD(p []byte) error {
	if len(p) != 6 {
		return fmt.Errorf("simulator: malformed WRD command")
	}
	cmdByte, address := p[3], p[4]
	nNibbles := int(cmdByte >> 4)
	bank := 0
	if cmdByte&0x0F == 0x04 {
		bank = 1
	}
	nBytes := (nNibbles + 1) / 2
	data := s.procMem[bank][int(address) : int(address)+nBytes]
	s.resp.WriteByte(wireproto.ACK)
	s.resp.Write(appendCRC(data))
	return nil
}

func (s *Station) handleWWR(p []byte) error {
	if len(p) < 6 {
		return fmt.Errorf("simulator: malformed WWR command")
	}
	cmdByte, address := p[3], p[4]
	nNibbles := int(cmdByte >> 4)
	bank := 0
	if cmdByte&0x0F == 0x03 {
		bank = 1
	}
	nBytes := (nNibbles + 1) / 2
	data := p[5 : 5+nBytes]
	copy(s.procMem[bank][int(address):], data)
	s.resp.WriteByte(wireproto.ACK)
	return nil
}

func (s *Station) handleRRD(p []byte) error {
	if len(p) != 7 {
		return fmt.Errorf("simulator: malformed RRD command")
	}
	bank, address, nNibblesMinus1 := int(p[3]), p[4], int(p[5])
	nBytes := (nNibblesMinus1 + 1 + 1) / 2
	data := s.linkMem[bank][int(address) : int(address)+nBytes]
	s.resp.Write(appendCRC(data))
	return nil
}

func (s *Station) handleRWR(p []byte) error {
	if len(p) < 6 {
		return fmt.Errorf("simulator: malformed RWR command")
	}
	cmdByte, address := p[3], p[4]
	bank := int(cmdByte & 0x0F)
	nNibbles := int(cmdByte>>4) + 1
	nBytes := (nNibbles + 1) / 2
	data := p[5 : 5+nBytes]
	copy(s.linkMem[bank][int(address):], data)
	s.resp.WriteByte(wireproto.ACK)
	return nil
}

func (s *Station) handleSRD(p []byte) error {
	if len(p) != 8 {
		return fmt.Errorf("simulator: malformed SRD command")
	}
	address := binary.LittleEndian.Uint16(p[3:5])
	nBytes := int(binary.LittleEndian.Uint16(p[5:7])) + 1
	data := s.sram[int(address) : int(address)+nBytes]
	s.resp.Write(appendCRC(data))
	return nil
}

// BuildBasicLoopPacket assembles a valid SOH+data+CRC LOOP packet for a
// basic-family (15-byte) station from the given field values, the same
// layout ParseLoop decodes.
func BuildBasicLoopPacket(insideTemp, outsideTemp int16, windSpeed uint8, windDir uint16, barometer uint16, insideHumidity, outsideHumidity uint8, rainTotal uint16) []byte {
	data := make([]byte, 15)
	binary.LittleEndian.PutUint16(data[0:], uint16(insideTemp))
	binary.LittleEndian.PutUint16(data[2:], uint16(outsideTemp))
	data[4] = windSpeed
	binary.LittleEndian.PutUint16(data[5:], windDir)
	binary.LittleEndian.PutUint16(data[7:], barometer)
	data[9] = insideHumidity
	data[10] = outsideHumidity
	binary.LittleEndian.PutUint16(data[11:], rainTotal)

	c := crc.Calculate(data)
	pkt := make([]byte, 0, 1+15+2)
	pkt = append(pkt, wireproto.SOH)
	pkt = append(pkt, data...)
	pkt = append(pkt, byte(c>>8), byte(c))
	return pkt
}
