// Package configstore is the daemon's local configuration key/value store:
// serial port settings, poll interval, station timezone, calibration
// offsets, and the archive/sample period the station was last told to use.
// It is backed by a WAL-mode SQLite database using the same connection
// string and PRAGMA tuning the reference configuration provider uses, kept
// intentionally narrow (one table) instead of the reference's much broader
// multi-entity schema, since this daemon has exactly one station.
package configstore

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/chrissnell/weatherlink-core/internal/types"
)

// Keys for the well-known configuration entries.
const (
	KeySetupComplete   = "setup_complete"
	KeySerialPort      = "serial_port"
	KeyBaudRate        = "baud_rate"
	KeyPollInterval    = "poll_interval"
	KeyStationTimezone = "station_timezone"
	KeyArchivePeriod   = "archive_period"
	KeySamplePeriod    = "sample_period"
)

// Store is a cached, WAL-backed KV store plus a dedicated calibration row.
type Store struct {
	db *sql.DB

	mu    sync.RWMutex
	cache map[string]string
	ttl   time.Duration
	stamp time.Time
}

// Open opens (creating if necessary) the SQLite database at path and
// prepares the schema. ttl controls how long Get results are served from an
// in-process cache before the next read refreshes from disk.
func Open(path string, ttl time.Duration) (*Store, error) {
	connStr := fmt.Sprintf("%s?_busy_timeout=10000&_journal_mode=WAL&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("configstore: opening %s: %w", path, err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("configstore: pinging %s: %w", path, err)
	}

	s := &Store{db: db, cache: make(map[string]string), ttl: ttl}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	for _, pragma := range []string{
		"PRAGMA temp_store = MEMORY",
		"PRAGMA cache_size = -16000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("configstore: applying %q: %w", pragma, err)
		}
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS station_config (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS calibration (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	inside_temp INTEGER NOT NULL DEFAULT 0,
	outside_temp INTEGER NOT NULL DEFAULT 0,
	barometer INTEGER NOT NULL DEFAULT 0,
	outside_humidity INTEGER NOT NULL DEFAULT 0,
	rain_calibration INTEGER NOT NULL DEFAULT 1
);
`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("configstore: initializing schema: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Get returns the string value for key, or ok=false if unset. Served from
// cache when fresh.
func (s *Store) Get(key string) (value string, ok bool) {
	s.mu.RLock()
	if time.Since(s.stamp) < s.ttl {
		v, found := s.cache[key]
		s.mu.RUnlock()
		return v, found
	}
	s.mu.RUnlock()

	if err := s.refresh(); err != nil {
		s.mu.RLock()
		v, found := s.cache[key]
		s.mu.RUnlock()
		return v, found
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	v, found := s.cache[key]
	return v, found
}

func (s *Store) refresh() error {
	rows, err := s.db.Query("SELECT key, value FROM station_config")
	if err != nil {
		return fmt.Errorf("configstore: refreshing cache: %w", err)
	}
	defer rows.Close()

	next := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return err
		}
		next[k] = v
	}

	s.mu.Lock()
	s.cache = next
	s.stamp = time.Now()
	s.mu.Unlock()
	return nil
}

// Set upserts key=value and invalidates the cache for the next Get.
func (s *Store) Set(key, value string) error {
	_, err := s.db.Exec(`
INSERT INTO station_config (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value)
	if err != nil {
		return fmt.Errorf("configstore: setting %q: %w", key, err)
	}
	s.mu.Lock()
	s.stamp = time.Time{} // force refresh on next Get
	s.mu.Unlock()
	return nil
}

// ReadCalibration reads the singleton calibration row.
func (s *Store) ReadCalibration() (*types.CalibrationOffsets, error) {
	row := s.db.QueryRow(`SELECT inside_temp, outside_temp, barometer, outside_humidity, rain_calibration FROM calibration WHERE id = 1`)
	c := &types.CalibrationOffsets{}
	var insideTemp, outsideTemp, barometer, humidity int
	err := row.Scan(&insideTemp, &outsideTemp, &barometer, &humidity, &c.RainCalibration)
	if err == sql.ErrNoRows {
		return &types.CalibrationOffsets{RainCalibration: 1}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("configstore: reading calibration: %w", err)
	}
	c.InsideTemp = int16(insideTemp)
	c.OutsideTemp = int16(outsideTemp)
	c.Barometer = int16(barometer)
	c.OutsideHumidity = int8(humidity)
	return c, nil
}

// WriteCalibration upserts the singleton calibration row.
func (s *Store) WriteCalibration(c *types.CalibrationOffsets) error {
	_, err := s.db.Exec(`
INSERT INTO calibration (id, inside_temp, outside_temp, barometer, outside_humidity, rain_calibration)
VALUES (1, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	inside_temp = excluded.inside_temp,
	outside_temp = excluded.outside_temp,
	barometer = excluded.barometer,
	outside_humidity = excluded.outside_humidity,
	rain_calibration = excluded.rain_calibration`,
		c.InsideTemp, c.OutsideTemp, c.Barometer, c.OutsideHumidity, c.RainCalibration)
	if err != nil {
		return fmt.Errorf("configstore: writing calibration: %w", err)
	}
	return nil
}
