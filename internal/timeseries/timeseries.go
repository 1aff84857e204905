// Package timeseries is the daemon's local time-series store: every
// decoded-and-derived sensor reading and every archive record backfilled
// from the station's SRAM, held in a WAL-mode SQLite database using the
// same connection-string and PRAGMA tuning pattern the reference
// configuration provider uses. Archive records are deduplicated on
// (archive_address, record_time) via a unique index plus INSERT OR IGNORE,
// matching the circular-buffer replay semantics archive resync requires.
package timeseries

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/chrissnell/weatherlink-core/internal/pressuretrend"
	"github.com/chrissnell/weatherlink-core/internal/types"
)

// Store is the sensor_readings/archive_records database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path.
func Open(path string) (*Store, error) {
	connStr := fmt.Sprintf("%s?_busy_timeout=10000&_journal_mode=WAL&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("timeseries: opening %s: %w", path, err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("timeseries: pinging %s: %w", path, err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	for _, pragma := range []string{
		"PRAGMA temp_store = MEMORY",
		"PRAGMA mmap_size = 268435456",
		"PRAGMA cache_size = -64000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("timeseries: applying %q: %w", pragma, err)
		}
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS sensor_readings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	recorded_at DATETIME NOT NULL,
	inside_temp INTEGER,
	outside_temp INTEGER,
	inside_humidity INTEGER,
	outside_humidity INTEGER,
	wind_speed INTEGER,
	wind_direction INTEGER,
	barometer INTEGER,
	rain_total INTEGER,
	rain_rate INTEGER,
	solar_radiation INTEGER,
	uv_index INTEGER,
	heat_index INTEGER,
	dew_point INTEGER,
	wind_chill INTEGER,
	feels_like INTEGER,
	equivalent_potential_temp INTEGER,
	pressure_trend TEXT
);
CREATE INDEX IF NOT EXISTS idx_sensor_readings_recorded_at ON sensor_readings(recorded_at);

CREATE TABLE IF NOT EXISTS archive_records (
	archive_address INTEGER NOT NULL,
	record_time DATETIME NOT NULL,
	station_type INTEGER,
	archive_interval INTEGER,
	barometer INTEGER,
	inside_humidity INTEGER,
	outside_humidity INTEGER,
	rain_in_period INTEGER,
	inside_temp_avg INTEGER,
	outside_temp_avg INTEGER,
	outside_temp_hi INTEGER,
	outside_temp_lo INTEGER,
	wind_speed_avg INTEGER,
	wind_gust INTEGER,
	wind_direction INTEGER,
	rain_rate_hi INTEGER,
	degree_days INTEGER,
	et INTEGER,
	wind_run INTEGER,
	solar_rad_avg INTEGER,
	solar_energy INTEGER,
	uv_avg INTEGER,
	uv_dose INTEGER,
	PRIMARY KEY (archive_address, record_time)
);
CREATE INDEX IF NOT EXISTS idx_archive_records_record_time ON archive_records(record_time);
`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("timeseries: initializing schema: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// InsertReading appends one derived sensor reading.
func (s *Store) InsertReading(r *types.DerivedReading) error {
	_, err := s.db.Exec(`
INSERT INTO sensor_readings (
	recorded_at, inside_temp, outside_temp, inside_humidity, outside_humidity,
	wind_speed, wind_direction, barometer, rain_total, rain_rate, solar_radiation,
	uv_index, heat_index, dew_point, wind_chill, feels_like,
	equivalent_potential_temp, pressure_trend
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Timestamp, r.InsideTemp, r.OutsideTemp, r.InsideHumidity, r.OutsideHumidity,
		r.WindSpeed, r.WindDirection, r.Barometer, r.RainTotal, r.RainRate, r.SolarRadiation,
		r.UVIndex, r.HeatIndex, r.DewPoint, r.WindChill, r.FeelsLike,
		r.EquivalentPotentialTempTenthsK, nullIfEmpty(r.PressureTrend),
	)
	if err != nil {
		return fmt.Errorf("timeseries: inserting reading: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// InsertArchiveRecord inserts one archive record, silently ignoring a
// duplicate (archive_address, record_time) pair. Returns true if a new row
// was actually written.
func (s *Store) InsertArchiveRecord(r *types.ArchiveRecord) (inserted bool, err error) {
	res, err := s.db.Exec(`
INSERT OR IGNORE INTO archive_records (
	archive_address, record_time, station_type, archive_interval, barometer,
	inside_humidity, outside_humidity, rain_in_period, inside_temp_avg, outside_temp_avg,
	outside_temp_hi, outside_temp_lo, wind_speed_avg, wind_gust, wind_direction,
	rain_rate_hi, degree_days, et, wind_run, solar_rad_avg, solar_energy, uv_avg, uv_dose
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ArchiveAddress, r.RecordTime, r.StationType, r.ArchiveInterval, r.Barometer,
		r.InsideHumidity, r.OutsideHumidity, r.RainInPeriod, r.InsideTempAvg, r.OutsideTempAvg,
		r.OutsideTempHi, r.OutsideTempLo, r.WindSpeedAvg, r.WindGust, r.WindDirection,
		r.RainRateHi, r.DegreeDays, r.ET, r.WindRun, r.SolarRadAvg, r.SolarEnergy, r.UVAvg, r.UVDose,
	)
	if err != nil {
		return false, fmt.Errorf("timeseries: inserting archive record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("timeseries: checking archive insert result: %w", err)
	}
	return n > 0, nil
}

// PressureReadingsSince returns barometer samples at or after since,
// ordered oldest-first, for pressure-trend classification.
func (s *Store) PressureReadingsSince(since time.Time) ([]pressuretrend.Reading, error) {
	rows, err := s.db.Query(`
SELECT recorded_at, barometer FROM sensor_readings
WHERE recorded_at >= ? AND barometer IS NOT NULL
ORDER BY recorded_at ASC`, since)
	if err != nil {
		return nil, fmt.Errorf("timeseries: querying pressure trend window: %w", err)
	}
	defer rows.Close()

	var out []pressuretrend.Reading
	for rows.Next() {
		var r pressuretrend.Reading
		if err := rows.Scan(&r.Timestamp, &r.Barometer); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DailyExtremes aggregates today's high/low values from since (local
// midnight) through now.
func (s *Store) DailyExtremes(since, now time.Time) (*types.DailyExtremes, error) {
	row := s.db.QueryRow(`
SELECT
	MAX(outside_temp) / 10.0, MIN(outside_temp) / 10.0,
	MAX(inside_temp) / 10.0, MIN(inside_temp) / 10.0,
	MAX(wind_speed) * 1.0,
	MAX(barometer) / 1000.0, MIN(barometer) / 1000.0,
	MAX(outside_humidity) * 1.0, MIN(outside_humidity) * 1.0,
	MAX(rain_rate) / 10.0
FROM sensor_readings
WHERE recorded_at >= ? AND recorded_at <= ?`, since, now)

	e := &types.DailyExtremes{}
	err := row.Scan(
		&e.OutsideTempHi, &e.OutsideTempLo,
		&e.InsideTempHi, &e.InsideTempLo,
		&e.WindSpeedHi,
		&e.BarometerHi, &e.BarometerLo,
		&e.HumidityHi, &e.HumidityLo,
		&e.RainRateHi,
	)
	if err != nil {
		return nil, fmt.Errorf("timeseries: aggregating daily extremes: %w", err)
	}
	return e, nil
}
