// Package linkdriver implements the station-facing half of the WeatherLink
// protocol: family detection, calibration, LOOP polling, and the memory
// read/write operations the archive syncer and configuration layer need.
// Every wire exchange goes through a single serialtransport.Transport,
// which already serializes access; this package adds the protocol-level
// sequencing (STOP/WWR/START brackets, flush-and-retry on bad frames) on
// top of it.
package linkdriver

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/chrissnell/weatherlink-core/internal/crc"
	"github.com/chrissnell/weatherlink-core/internal/log"
	"github.com/chrissnell/weatherlink-core/internal/memorymap"
	"github.com/chrissnell/weatherlink-core/internal/packet"
	"github.com/chrissnell/weatherlink-core/internal/serialtransport"
	"github.com/chrissnell/weatherlink-core/internal/types"
	"github.com/chrissnell/weatherlink-core/internal/wireproto"
)

// Driver drives one physical station over one Transport.
type Driver struct {
	t *serialtransport.Transport

	family    wireproto.StationFamily
	revision  wireproto.LinkRevision
	stopAsked bool

	crcErrors uint64
	timeouts  uint64
}

// CRCErrors returns the count of CRC/parse validation failures observed
// since the driver was created, for the status IPC command.
func (d *Driver) CRCErrors() uint64 { return atomic.LoadUint64(&d.crcErrors) }

// Timeouts returns the count of transport read/write failures observed
// since the driver was created, for the status IPC command.
func (d *Driver) Timeouts() uint64 { return atomic.LoadUint64(&d.timeouts) }

// New binds a Driver to an already-constructed Transport. The family is
// unknown until DetectFamily succeeds.
func New(t *serialtransport.Transport) *Driver {
	return &Driver{t: t, revision: wireproto.RevD}
}

// Family returns the station family discovered by DetectFamily.
func (d *Driver) Family() wireproto.StationFamily { return d.family }

// Revision returns the link protocol revision ("RevE" or "RevD") for the
// status IPC command. New sets RevD and no driver method changes it;
// archive record layout and CRC framing do not depend on it.
func (d *Driver) Revision() string {
	if d.revision == wireproto.RevE {
		return "RevE"
	}
	return "RevD"
}

// DetectFamily reads the station-model nibble and records the family for
// subsequent calls. Must be called once before PollLoop or ReadArchive*.
func (d *Driver) DetectFamily(ctx context.Context) error {
	nibble, err := d.readStationNibble(ctx, memorymap.StationModel)
	if err != nil {
		return fmt.Errorf("linkdriver: detecting station family: %w", err)
	}
	family := wireproto.StationFamily(nibble)
	if _, ok := wireproto.Names[family]; !ok {
		log.Warnw("unrecognised station family code, defaulting to Monitor", "code", fmt.Sprintf("0x%X", nibble))
		family = wireproto.Monitor
	}
	d.family = family
	return nil
}

// drainCRC reads and discards the two trailing CRC bytes every successful
// memory read emits, whether or not CRC validation is being performed, so
// the next command on the wire never starts mid-CRC.
func (d *Driver) drainCRC(ctx context.Context) error {
	_, err := d.t.Receive(ctx, 2)
	return err
}

// readStationNibble issues a WRD for a to read its raw nibble value.
func (d *Driver) readStationNibble(ctx context.Context, a memorymap.Addr) (int, error) {
	cmd := wireproto.BuildWRD(a.Nibbles, a.Bank, a.Address)
	if err := d.t.WaitForACK(ctx, cmd); err != nil {
		return 0, err
	}
	nBytes := (a.Nibbles + 1) / 2
	resp, err := d.t.Receive(ctx, nBytes)
	if err != nil {
		return 0, err
	}
	if err := d.drainCRC(ctx); err != nil {
		return 0, fmt.Errorf("linkdriver: draining trailing CRC: %w", err)
	}
	return int(resp[0]), nil
}

// ReadCalibration reads the five calibration cells into a CalibrationOffsets.
func (d *Driver) ReadCalibration(ctx context.Context) (*types.CalibrationOffsets, error) {
	insideTemp, err := d.readStationWord(ctx, memorymap.InsideTempCal)
	if err != nil {
		return nil, fmt.Errorf("linkdriver: reading inside temp calibration: %w", err)
	}
	outsideTemp, err := d.readStationWord(ctx, memorymap.OutsideTempCal)
	if err != nil {
		return nil, fmt.Errorf("linkdriver: reading outside temp calibration: %w", err)
	}
	barometer, err := d.readStationWord(ctx, memorymap.BarometerCal)
	if err != nil {
		return nil, fmt.Errorf("linkdriver: reading barometer calibration: %w", err)
	}
	humidity, err := d.readStationByte(ctx, memorymap.OutHumidityCal)
	if err != nil {
		return nil, fmt.Errorf("linkdriver: reading humidity calibration: %w", err)
	}
	rainCal, err := d.readStationByte(ctx, memorymap.RainCal)
	if err != nil {
		return nil, fmt.Errorf("linkdriver: reading rain calibration: %w", err)
	}
	if rainCal < 1 {
		rainCal = 1
	}
	return &types.CalibrationOffsets{
		InsideTemp:      int16(insideTemp),
		OutsideTemp:     int16(outsideTemp),
		Barometer:       int16(barometer),
		OutsideHumidity: int8(humidity),
		RainCalibration: rainCal,
	}, nil
}

func (d *Driver) readStationWord(ctx context.Context, a memorymap.Addr) (int16, error) {
	cmd := wireproto.BuildWRD(a.Nibbles, a.Bank, a.Address)
	if err := d.t.WaitForACK(ctx, cmd); err != nil {
		return 0, err
	}
	resp, err := d.t.Receive(ctx, 2)
	if err != nil {
		return 0, err
	}
	if err := d.drainCRC(ctx); err != nil {
		return 0, fmt.Errorf("linkdriver: draining trailing CRC: %w", err)
	}
	return int16(binary.LittleEndian.Uint16(resp)), nil
}

func (d *Driver) readStationByte(ctx context.Context, a memorymap.Addr) (int, error) {
	cmd := wireproto.BuildWRD(a.Nibbles, a.Bank, a.Address)
	if err := d.t.WaitForACK(ctx, cmd); err != nil {
		return 0, err
	}
	resp, err := d.t.Receive(ctx, 1)
	if err != nil {
		return 0, err
	}
	if err := d.drainCRC(ctx); err != nil {
		return 0, fmt.Errorf("linkdriver: draining trailing CRC: %w", err)
	}
	return int(resp[0]), nil
}

// ApplyCalibration applies offsets to a freshly decoded reading in place.
func ApplyCalibration(r *types.SensorReading, c *types.CalibrationOffsets) {
	if r.InsideTemp != nil {
		v := *r.InsideTemp + c.InsideTemp
		r.InsideTemp = &v
	}
	if r.OutsideTemp != nil {
		v := *r.OutsideTemp + c.OutsideTemp
		r.OutsideTemp = &v
	}
	if r.Barometer != nil {
		v := *r.Barometer - uint16(c.Barometer)
		r.Barometer = &v
	}
	if r.OutsideHumidity != nil {
		adjusted := int(*r.OutsideHumidity) + int(c.OutsideHumidity)
		if adjusted < 1 {
			adjusted = 1
		}
		if adjusted > 100 {
			adjusted = 100
		}
		v := uint8(adjusted)
		r.OutsideHumidity = &v
	}
}

// PollLoop requests n LOOP packets and returns each successfully parsed
// reading. A packet that fails to arrive or fails CRC/length validation is
// retried by flushing the port and re-issuing LOOP for the packets still
// owed, for at most wireproto.MaxRetries attempts per packet.
func (d *Driver) PollLoop(ctx context.Context, n int) ([]*types.SensorReading, error) {
	dataSize, ok := wireproto.LoopDataSize[d.family]
	if !ok {
		return nil, fmt.Errorf("linkdriver: unknown station family, call DetectFamily first")
	}
	packetSize := 1 + dataSize + 2

	cmd := wireproto.BuildLoop(n)
	if err := d.t.WaitForACK(ctx, cmd); err != nil {
		return nil, fmt.Errorf("linkdriver: LOOP command rejected: %w", err)
	}

	readings := make([]*types.SensorReading, 0, n)
	for i := 0; i < n; i++ {
		if d.stopAsked {
			break
		}
		var reading *types.SensorReading
		var lastErr error
		for try := 0; try < wireproto.MaxRetries; try++ {
			if try > 0 {
				if err := d.t.Flush(ctx); err != nil {
					lastErr = err
					continue
				}
				if err := d.t.WaitForACK(ctx, wireproto.BuildLoop(n-i)); err != nil {
					lastErr = err
					continue
				}
			}
			raw, err := d.t.Receive(ctx, packetSize)
			if err != nil {
				atomic.AddUint64(&d.timeouts, 1)
				lastErr = err
				continue
			}
			r, err := packet.ParseLoop(raw, d.family)
			if err != nil {
				atomic.AddUint64(&d.crcErrors, 1)
				lastErr = err
				continue
			}
			reading = r
			lastErr = nil
			break
		}
		if reading == nil {
			return readings, fmt.Errorf("linkdriver: LOOP packet %d/%d failed after retries: %w", i+1, n, lastErr)
		}
		readings = append(readings, reading)
	}
	return readings, nil
}

// RequestStop asks an in-progress PollLoop to return early after its
// current packet. It is a local flag, not a wire command.
func (d *Driver) RequestStop() { d.stopAsked = true }

// ReadArchivePointers reads the link processor's new/old archive pointers.
func (d *Driver) ReadArchivePointers(ctx context.Context) (newPtr, oldPtr uint16, err error) {
	newPtr, err = d.readLinkWord(ctx, memorymap.ArchiveNewPtr)
	if err != nil {
		return 0, 0, fmt.Errorf("linkdriver: reading new archive pointer: %w", err)
	}
	oldPtr, err = d.readLinkWord(ctx, memorymap.ArchiveOldPtr)
	if err != nil {
		return 0, 0, fmt.Errorf("linkdriver: reading old archive pointer: %w", err)
	}
	return newPtr, oldPtr, nil
}

func (d *Driver) readLinkWord(ctx context.Context, a memorymap.Addr) (uint16, error) {
	cmd := wireproto.BuildRRD(byte(a.Bank), a.Address, a.Nibbles)
	if err := d.t.Send(ctx, cmd); err != nil {
		return 0, err
	}
	resp, err := d.t.Receive(ctx, (a.Nibbles+1)/2)
	if err != nil {
		return 0, err
	}
	if err := d.drainCRC(ctx); err != nil {
		return 0, fmt.Errorf("linkdriver: draining trailing CRC: %w", err)
	}
	if len(resp) == 1 {
		return uint16(resp[0]), nil
	}
	return binary.LittleEndian.Uint16(resp), nil
}

// ReadArchivePeriod reads the configured archive interval in minutes.
func (d *Driver) ReadArchivePeriod(ctx context.Context) (int, error) {
	v, err := d.readLinkWord(ctx, memorymap.ArchivePeriod)
	if err != nil {
		return 0, fmt.Errorf("linkdriver: reading archive period: %w", err)
	}
	return int(v), nil
}

// SetArchivePeriod sets the archive interval (minutes, 1-120), bracketing
// the write in a STOP/.../START sequence so the logger never writes a
// half-applied setting mid-exchange.
func (d *Driver) SetArchivePeriod(ctx context.Context, minutes int) error {
	if minutes < 1 || minutes > 120 {
		return fmt.Errorf("linkdriver: archive period %d out of range [1,120]", minutes)
	}
	return d.t.Atomic(ctx, func(io serialtransport.IO) error {
		if err := io.WaitForACK(wireproto.BuildSTOP()); err != nil {
			return err
		}
		if err := io.WaitForACK(wireproto.BuildSAP(minutes)); err != nil {
			return err
		}
		return io.WaitForACK(wireproto.BuildSTART())
	})
}

// SetSamplePeriod sets the sensor sample period in seconds (1-255).
func (d *Driver) SetSamplePeriod(ctx context.Context, seconds int) error {
	if seconds < 1 || seconds > 255 {
		return fmt.Errorf("linkdriver: sample period %d out of range [1,255]", seconds)
	}
	return d.t.Atomic(ctx, func(io serialtransport.IO) error {
		if err := io.WaitForACK(wireproto.BuildSTOP()); err != nil {
			return err
		}
		if err := io.WaitForACK(wireproto.BuildSSP(seconds)); err != nil {
			return err
		}
		return io.WaitForACK(wireproto.BuildSTART())
	})
}

// ReadStationTime reads the station's current time/date cells and decodes
// them against loc. The 3-nibble basic-family date cell holds no year, so
// for those families the current year in loc is used.
func (d *Driver) ReadStationTime(ctx context.Context, loc *time.Location) (time.Time, error) {
	timeCell := memorymap.TimeCell(d.family)
	dateCell := memorymap.DateCell(d.family)

	timeCmd := wireproto.BuildWRD(timeCell.Nibbles, timeCell.Bank, timeCell.Address)
	if err := d.t.WaitForACK(ctx, timeCmd); err != nil {
		return time.Time{}, fmt.Errorf("linkdriver: reading station time: %w", err)
	}
	timeResp, err := d.t.Receive(ctx, (timeCell.Nibbles+1)/2)
	if err != nil {
		return time.Time{}, err
	}
	if err := d.drainCRC(ctx); err != nil {
		return time.Time{}, fmt.Errorf("linkdriver: draining trailing CRC: %w", err)
	}

	dateCmd := wireproto.BuildWRD(dateCell.Nibbles, dateCell.Bank, dateCell.Address)
	if err := d.t.WaitForACK(ctx, dateCmd); err != nil {
		return time.Time{}, fmt.Errorf("linkdriver: reading station date: %w", err)
	}
	dateResp, err := d.t.Receive(ctx, (dateCell.Nibbles+1)/2)
	if err != nil {
		return time.Time{}, err
	}
	if err := d.drainCRC(ctx); err != nil {
		return time.Time{}, fmt.Errorf("linkdriver: draining trailing CRC: %w", err)
	}

	hours := bcdByte(timeResp[0])
	minutes := bcdByte(timeResp[1])
	seconds := bcdByte(timeResp[2])
	day := bcdByte(dateResp[0])
	month := bcdByte(dateResp[1])
	year := time.Now().In(loc).Year()
	if len(dateResp) >= 3 {
		year = 2000 + bcdByte(dateResp[2])
	}

	return time.Date(year, time.Month(month), day, hours, minutes, seconds, 0, loc), nil
}

func bcdByte(b byte) int { return int(b>>4)*10 + int(b&0x0F) }

// WriteStationTime writes the host's current time to the station, bracketed
// in STOP/.../START so the write lands atomically.
func (d *Driver) WriteStationTime(ctx context.Context, now time.Time) error {
	timeCell := memorymap.TimeCell(d.family)
	dateCell := memorymap.DateCell(d.family)

	timeData := []byte{toBCD(now.Hour()), toBCD(now.Minute()), toBCD(now.Second())}
	dateData := []byte{toBCD(now.Day()), toBCD(int(now.Month())), toBCD(now.Year() % 100)}

	return d.t.Atomic(ctx, func(io serialtransport.IO) error {
		if err := io.WaitForACK(wireproto.BuildSTOP()); err != nil {
			return err
		}
		if err := io.WaitForACK(wireproto.BuildWWR(timeCell.Nibbles, timeCell.Bank, timeCell.Address, timeData)); err != nil {
			return err
		}
		if err := io.WaitForACK(wireproto.BuildWWR(dateCell.Nibbles, dateCell.Bank, dateCell.Address, dateData)); err != nil {
			return err
		}
		return io.WaitForACK(wireproto.BuildSTART())
	})
}

func toBCD(v int) byte { return byte((v/10)<<4 | (v % 10)) }

// ClearRainDaily zeroes the station's daily rain accumulator.
func (d *Driver) ClearRainDaily(ctx context.Context) error {
	a := memorymap.RainDailyBasic
	return d.t.Atomic(ctx, func(io serialtransport.IO) error {
		if err := io.WaitForACK(wireproto.BuildSTOP()); err != nil {
			return err
		}
		zero := make([]byte, (a.Nibbles+1)/2)
		if err := io.WaitForACK(wireproto.BuildWWR(a.Nibbles, a.Bank, a.Address, zero)); err != nil {
			return err
		}
		return io.WaitForACK(wireproto.BuildSTART())
	})
}

// ClearRainYearly zeroes the station's yearly rain accumulator.
func (d *Driver) ClearRainYearly(ctx context.Context) error {
	a := memorymap.RainYearlyCell(d.family)
	return d.t.Atomic(ctx, func(io serialtransport.IO) error {
		if err := io.WaitForACK(wireproto.BuildSTOP()); err != nil {
			return err
		}
		zero := make([]byte, (a.Nibbles+1)/2)
		if err := io.WaitForACK(wireproto.BuildWWR(a.Nibbles, a.Bank, a.Address, zero)); err != nil {
			return err
		}
		return io.WaitForACK(wireproto.BuildSTART())
	})
}

// ReadRainYearly reads the station's yearly rain accumulator directly from
// RAM, independently of the LOOP packet's own rain_yearly field.
func (d *Driver) ReadRainYearly(ctx context.Context) (uint16, error) {
	a := memorymap.RainYearlyCell(d.family)
	v, err := d.readStationWord(ctx, a)
	if err != nil {
		return 0, fmt.Errorf("linkdriver: reading yearly rain: %w", err)
	}
	return uint16(v), nil
}

// ForceArchive asks the station to write an archive record immediately.
func (d *Driver) ForceArchive(ctx context.Context) error {
	return d.t.WaitForACK(ctx, wireproto.BuildARC())
}

// ReadSRAM reads nBytes bytes of archive SRAM starting at address,
// validating the trailing CRC over the payload and retrying the whole
// exchange up to wireproto.MaxRetries times on a mismatch.
func (d *Driver) ReadSRAM(ctx context.Context, address uint16, nBytes int) ([]byte, error) {
	var lastErr error
	for try := 0; try < wireproto.MaxRetries; try++ {
		cmd := wireproto.BuildSRD(address, nBytes)
		if err := d.t.Send(ctx, cmd); err != nil {
			atomic.AddUint64(&d.timeouts, 1)
			lastErr = err
			continue
		}
		resp, err := d.t.Receive(ctx, nBytes+2)
		if err != nil {
			atomic.AddUint64(&d.timeouts, 1)
			lastErr = err
			continue
		}
		if !crc.Validate(resp) {
			atomic.AddUint64(&d.crcErrors, 1)
			lastErr = fmt.Errorf("linkdriver: SRAM read CRC validation failed at address 0x%04X", address)
			continue
		}
		return resp[:nBytes], nil
	}
	return nil, fmt.Errorf("linkdriver: reading SRAM at 0x%04X failed after retries: %w", address, lastErr)
}
