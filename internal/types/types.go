// Package types holds the data model shared across the WeatherLink core:
// decoded sensor readings, derived meteorological values, archive records,
// and calibration offsets. Numeric sensor fields are pointers so a nil value
// means "sentinel/not applicable", matching spec's nullable-field model;
// calibration offsets and the archive record's address, time, station type
// and interval are plain values.
package types

import "time"

// SensorReading is the decoded output of one LOOP packet. All values are
// raw native units as emitted by the station; nothing here is converted.
type SensorReading struct {
	InsideTemp       *int16 // tenths F
	OutsideTemp      *int16 // tenths F
	SoilTemp         *int16 // tenths F
	InsideHumidity   *uint8 // percent
	OutsideHumidity  *uint8 // percent
	WindSpeed        *uint8 // mph
	WindDirection    *uint16 // degrees 0-359
	Barometer        *uint16 // thousandths inHg
	RainTotal        *uint16 // clicks
	RainYearly       *uint16 // clicks
	RainRate         *uint16 // tenths in/hr (derived) or station-native
	SolarRadiation   *uint16 // W/m^2
	UVIndex          *uint8  // tenths index
	UVDose           *uint16 // MED x10
	LeafWetness      *uint8  // 0 dry - 15 wet
	WindRunTotal     *uint32
	ETTotal          *uint16
	DegreeDaysTotal  *uint32
	SolarEnergyTotal *uint32
	ArchivePointer   *uint16
}

// CalibrationOffsets are per-field additive/subtractive corrections read
// from station memory and applied to every decoded reading.
type CalibrationOffsets struct {
	InsideTemp      int16 `json:"inside_temp"`      // tenths F, added
	OutsideTemp     int16 `json:"outside_temp"`     // tenths F, added
	Barometer       int16 `json:"barometer"`        // thousandths inHg, subtracted
	OutsideHumidity int8  `json:"outside_humidity"` // percent, added then clamped to [1,100]
	RainCalibration int   `json:"rain_cal"`         // clicks per inch, >= 1
}

// DerivedReading is a SensorReading augmented with the pure-function
// derived meteorological values and the UTC timestamp assigned at decode
// time.
type DerivedReading struct {
	SensorReading
	Timestamp                    time.Time
	StationFamilyName            string
	HeatIndex                    *int16 // tenths F
	DewPoint                     *int16 // tenths F
	WindChill                    *int16 // tenths F
	FeelsLike                    *int16 // tenths F
	EquivalentPotentialTempTenthsK *int32
	PressureTrend                string // "rising" | "falling" | "steady" | ""
}

// ArchiveRecord is one interval-summary row decoded from the station's
// SRAM circular buffer. Uniquely identified by (ArchiveAddress, RecordTime).
type ArchiveRecord struct {
	ArchiveAddress  uint16
	RecordTime      time.Time
	StationType     int
	ArchiveInterval int // minutes

	Barometer       *uint16
	InsideHumidity  *uint8
	OutsideHumidity *uint8
	RainInPeriod    *uint16
	InsideTempAvg   *int16
	OutsideTempAvg  *int16
	OutsideTempHi   *int16
	OutsideTempLo   *int16
	WindSpeedAvg    *uint8
	WindGust        *uint8
	WindDirection   *uint8
	RainRateHi      *uint8
	DegreeDays      *uint32
	ET              *uint8
	WindRun         *uint16
	SolarRadAvg     *uint16
	SolarEnergy     *uint32
	UVAvg           *uint8
	UVDose          *uint16
}

// Cell pairs one display-unit value with its unit label, the wire shape
// every physical quantity takes in a SensorUpdate. Value is nil when the
// underlying reading is absent or sentinel-rejected.
type Cell struct {
	Value *float64 `json:"value"`
	Unit  string   `json:"unit"`
}

// SensorUpdate is the sensor_update broadcast/IPC push frame: a
// DerivedReading converted to display units with nested {value,unit}
// cells, never an untyped map.
type SensorUpdate struct {
	Type string           `json:"type"`
	Data SensorUpdateData `json:"data"`
}

// SensorUpdateData is the `data` payload of a SensorUpdate.
type SensorUpdateData struct {
	Timestamp   time.Time `json:"timestamp"`
	StationType string    `json:"station_type"`

	OutsideTemp Cell `json:"outside_temp"`
	InsideTemp  Cell `json:"inside_temp"`
	HeatIndex   Cell `json:"heat_index"`
	DewPoint    Cell `json:"dew_point"`
	WindChill   Cell `json:"wind_chill"`
	FeelsLike   Cell `json:"feels_like"`

	OutsideHumidity Cell `json:"outside_humidity"`
	InsideHumidity  Cell `json:"inside_humidity"`

	WindSpeed     Cell    `json:"wind_speed"`
	WindDirection Cell    `json:"wind_direction"`
	Cardinal      *string `json:"cardinal"`
	Barometer     Cell    `json:"barometer"`
	RainRate      Cell    `json:"rain_rate"`

	PressureTrend string         `json:"pressure_trend"`
	DailyExtremes *DailyExtremes `json:"daily_extremes,omitempty"`
}

// DailyExtremes is the set of today's high/low aggregates attached to a
// sensor_update broadcast when available.
type DailyExtremes struct {
	OutsideTempHi *float64
	OutsideTempLo *float64
	InsideTempHi  *float64
	InsideTempLo  *float64
	WindSpeedHi   *float64
	BarometerHi   *float64
	BarometerLo   *float64
	HumidityHi    *float64
	HumidityLo    *float64
	RainRateHi    *float64
}
