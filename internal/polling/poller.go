// Package polling runs the periodic LOOP-packet poll loop: read one
// sensor image, derive the meteorological values that aren't already on
// the wire, persist the result, and hand it to a broadcast callback. The
// rain-rate-from-tips state machine, derived-value wiring, and daily
// extremes lookup mirror the reference poller's per-cycle pipeline.
package polling

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/chrissnell/weatherlink-core/internal/calc"
	"github.com/chrissnell/weatherlink-core/internal/linkdriver"
	"github.com/chrissnell/weatherlink-core/internal/log"
	"github.com/chrissnell/weatherlink-core/internal/pressuretrend"
	"github.com/chrissnell/weatherlink-core/internal/timeseries"
	"github.com/chrissnell/weatherlink-core/internal/types"
	"github.com/chrissnell/weatherlink-core/internal/wireproto"
)

const rainTipQuiescence = 15 * time.Minute

// Poller repeatedly polls one LOOP packet, derives values from it, and
// persists + broadcasts the result.
type Poller struct {
	driver       *linkdriver.Driver
	store        *timeseries.Store
	calibration  *types.CalibrationOffsets
	pollInterval time.Duration
	loc          *time.Location

	broadcast func(update types.SensorUpdate)

	lastRainTotal *uint16
	lastTipTime   time.Time
	lastRainRate  float64 // inches/hour

	stopped bool
}

// New builds a Poller bound to driver and store. calibration may be nil,
// meaning no offsets are applied.
func New(driver *linkdriver.Driver, store *timeseries.Store, calibration *types.CalibrationOffsets, pollInterval time.Duration, loc *time.Location) *Poller {
	if calibration == nil {
		calibration = &types.CalibrationOffsets{RainCalibration: 1}
	}
	return &Poller{
		driver:       driver,
		store:        store,
		calibration:  calibration,
		pollInterval: pollInterval,
		loc:          loc,
	}
}

// SetBroadcastCallback registers fn to receive each cycle's sensor_update
// payload. Safe to call before Run.
func (p *Poller) SetBroadcastCallback(fn func(update types.SensorUpdate)) {
	p.broadcast = fn
}

// RainState is the rain-rate-from-tips state machine's persisted fields,
// checkpointed across restarts so a restart doesn't momentarily report a
// spurious rate while it waits to observe a second tip.
type RainState struct {
	LastRainTotal *uint16   `json:"last_rain_total,omitempty"`
	LastTipTime   time.Time `json:"last_tip_time"`
	LastRainRate  float64   `json:"last_rain_rate"`
}

// State returns the current rain-rate state for checkpointing.
func (p *Poller) State() RainState {
	return RainState{
		LastRainTotal: p.lastRainTotal,
		LastTipTime:   p.lastTipTime,
		LastRainRate:  p.lastRainRate,
	}
}

// RestoreState loads a previously checkpointed rain-rate state. Call before
// Run.
func (p *Poller) RestoreState(s RainState) {
	p.lastRainTotal = s.LastRainTotal
	p.lastTipTime = s.LastTipTime
	p.lastRainRate = s.LastRainRate
}

// Stop asks Run to return after its current cycle and tells the driver to
// end PollLoop after the packet it is currently reading.
func (p *Poller) Stop() {
	p.stopped = true
	p.driver.RequestStop()
}

// Run polls in a loop until ctx is cancelled or Stop is called, sleeping
// pollInterval between cycles.
func (p *Poller) Run(ctx context.Context) error {
	for {
		if p.stopped {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		readings, err := p.driver.PollLoop(ctx, 1)
		if err != nil {
			log.Errorw("poll cycle failed", "error", err)
		} else if len(readings) == 1 {
			now := time.Now().UTC()
			linkdriver.ApplyCalibration(readings[0], p.calibration)
			if _, err := p.processReading(ctx, now, readings[0]); err != nil {
				log.Errorw("processing reading failed", "error", err)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.pollInterval):
		}
	}
}

func (p *Poller) processReading(ctx context.Context, now time.Time, raw *types.SensorReading) (*types.DerivedReading, error) {
	rainRateTenths := p.updateRainRate(now, raw)

	var stationTypeName string
	if p.driver != nil {
		if yearly, err := p.driver.ReadRainYearly(ctx); err != nil {
			log.Debugw("best-effort yearly rain read failed", "error", err)
		} else {
			raw.RainYearly = &yearly
		}
		stationTypeName = wireproto.Names[p.driver.Family()]
	}

	derived := &types.DerivedReading{
		SensorReading:     *raw,
		Timestamp:         now,
		StationFamilyName: stationTypeName,
	}
	if rainRateTenths != nil && derived.RainRate == nil {
		derived.RainRate = rainRateTenths
	}

	if derived.OutsideTemp != nil && derived.OutsideHumidity != nil {
		derived.HeatIndex = calc.HeatIndex(int(*derived.OutsideTemp), int(*derived.OutsideHumidity))
		derived.DewPoint = calc.DewPoint(int(*derived.OutsideTemp), int(*derived.OutsideHumidity))
		windSpeed := 0
		if derived.WindSpeed != nil {
			windSpeed = int(*derived.WindSpeed)
		}
		derived.WindChill = calc.WindChill(int(*derived.OutsideTemp), windSpeed)
		fl := calc.FeelsLike(int(*derived.OutsideTemp), int(*derived.OutsideHumidity), windSpeed)
		derived.FeelsLike = &fl

		if derived.Barometer != nil {
			derived.EquivalentPotentialTempTenthsK = calc.EquivalentPotentialTemperature(
				int(*derived.OutsideTemp), int(*derived.OutsideHumidity), int(*derived.Barometer))
		}
	}

	trend, err := p.pressureTrend(now)
	if err != nil {
		log.Errorw("pressure trend lookup failed", "error", err)
	} else {
		derived.PressureTrend = trend.Trend
	}

	if err := p.store.InsertReading(derived); err != nil {
		return nil, fmt.Errorf("polling: persisting reading: %w", err)
	}

	extremes, err := p.store.DailyExtremes(localMidnight(now, p.loc), now)
	if err != nil {
		log.Errorw("daily extremes lookup failed", "error", err)
		extremes = nil
	}

	if p.broadcast != nil {
		p.broadcast(toSensorUpdate(derived, extremes))
	}
	return derived, nil
}

// updateRainRate runs the rain-rate-from-tips state machine: a changed
// accumulator counts as a tip and sets a fresh instantaneous rate; an
// unchanged counter decays the previous rate towards zero, and 15 minutes
// with no tip forces the rate to exactly zero.
func (p *Poller) updateRainRate(now time.Time, raw *types.SensorReading) *uint16 {
	if raw.RainTotal == nil {
		return nil
	}

	if p.lastRainTotal == nil {
		p.lastRainTotal = raw.RainTotal
		p.lastTipTime = now
		return nil
	}

	var rate float64
	if *raw.RainTotal != *p.lastRainTotal {
		elapsedHours := now.Sub(p.lastTipTime).Hours()
		if elapsedHours <= 0 {
			elapsedHours = 1.0 / 3600.0
		}
		rate = 0.01 / elapsedHours
		p.lastTipTime = now
	} else {
		sinceLastTip := now.Sub(p.lastTipTime)
		if sinceLastTip >= rainTipQuiescence {
			rate = 0
		} else {
			elapsedHours := sinceLastTip.Hours()
			if elapsedHours <= 0 {
				elapsedHours = 1.0 / 3600.0
			}
			decayed := 0.01 / elapsedHours
			rate = p.lastRainRate
			if decayed < rate {
				rate = decayed
			}
		}
	}

	p.lastRainTotal = raw.RainTotal
	p.lastRainRate = rate

	tenths := uint16(math.Round(rate * 10))
	return &tenths
}

func (p *Poller) pressureTrend(now time.Time) (pressuretrend.Trend, error) {
	window := now.Add(-pressuretrend.WindowHours * time.Hour)
	readings, err := p.store.PressureReadingsSince(window)
	if err != nil {
		return pressuretrend.Trend{}, err
	}
	return pressuretrend.Analyze(readings), nil
}

func localMidnight(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

var compassPoints = [16]string{
	"N", "NNE", "NE", "ENE", "E", "ESE", "SE", "SSE",
	"S", "SSW", "SW", "WSW", "W", "WNW", "NW", "NNW",
}

// Cardinal returns the 16-point compass label for a wind direction in
// degrees.
func Cardinal(degrees uint16) string {
	idx := int((float64(degrees)+11.25)/22.5) % 16
	if idx < 0 {
		idx += 16
	}
	return compassPoints[idx]
}

func cell(value *int16, divisor float64, unit string) types.Cell {
	if value == nil {
		return types.Cell{Unit: unit}
	}
	v := float64(*value) / divisor
	return types.Cell{Value: &v, Unit: unit}
}

func cellU(value *uint16, divisor float64, unit string) types.Cell {
	if value == nil {
		return types.Cell{Unit: unit}
	}
	v := float64(*value) / divisor
	return types.Cell{Value: &v, Unit: unit}
}

func cellU8(value *uint8, divisor float64, unit string) types.Cell {
	if value == nil {
		return types.Cell{Unit: unit}
	}
	v := float64(*value) / divisor
	return types.Cell{Value: &v, Unit: unit}
}

// toSensorUpdate builds the sensor_update broadcast/IPC payload shape:
// nested {value, unit} cells for every physical quantity, plus the
// cardinal wind label and today's extremes when available.
func toSensorUpdate(r *types.DerivedReading, extremes *types.DailyExtremes) types.SensorUpdate {
	data := types.SensorUpdateData{
		Timestamp:   r.Timestamp,
		StationType: r.StationFamilyName,

		OutsideTemp: cell(r.OutsideTemp, 10, "F"),
		InsideTemp:  cell(r.InsideTemp, 10, "F"),
		HeatIndex:   cell(r.HeatIndex, 10, "F"),
		DewPoint:    cell(r.DewPoint, 10, "F"),
		WindChill:   cell(r.WindChill, 10, "F"),
		FeelsLike:   cell(r.FeelsLike, 10, "F"),

		OutsideHumidity: cellU8(r.OutsideHumidity, 1, "%"),
		InsideHumidity:  cellU8(r.InsideHumidity, 1, "%"),

		WindSpeed: cellU8(r.WindSpeed, 1, "mph"),
		Barometer: cellU(r.Barometer, 1000, "inHg"),
		RainRate:  cellU(r.RainRate, 10, "in/hr"),

		PressureTrend: r.PressureTrend,
		DailyExtremes: extremes,
	}
	if r.WindDirection != nil {
		deg := float64(*r.WindDirection)
		data.WindDirection = types.Cell{Value: &deg, Unit: "deg"}
		c := Cardinal(*r.WindDirection)
		data.Cardinal = &c
	} else {
		data.WindDirection = types.Cell{Unit: "deg"}
	}
	return types.SensorUpdate{Type: "sensor_update", Data: data}
}
