// Package main provides the weatherlinkd daemon: poll a Davis WeatherLink
// legacy datalogger over serial, derive weather values, persist them, and
// serve them over a local IPC socket.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/chrissnell/weatherlink-core/internal/log"
	"github.com/chrissnell/weatherlink-core/internal/supervisor"
)

const version = "0.1.0"

func main() {
	serialDevice := flag.String("serial-device", "/dev/ttyUSB0", "Serial device path for the WeatherLink datalogger")
	baudRate := flag.Int("baud", 2400, "Serial baud rate")
	pollInterval := flag.Duration("poll-interval", 30*time.Second, "Interval between LOOP polls")
	archiveSyncInterval := flag.Duration("archive-sync-interval", 0, "Interval between archive backfill syncs (0 disables)")
	ipcAddr := flag.String("ipc-addr", "127.0.0.1:17890", "Localhost address the IPC server listens on")
	dataDir := flag.String("data-dir", "./weatherlinkd-data", "Directory holding the config and time-series databases")
	timezone := flag.String("timezone", "UTC", "Station's local timezone, e.g. America/Chicago")
	debug := flag.Bool("debug", false, "Turn on debugging output")
	logFile := flag.String("log-file", "", "Optional rotating log file path")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("weatherlinkd %s (%s/%s)\n", version, runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	if err := log.Init(*debug, *logFile); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		log.Fatalf("creating data directory %s: %v", *dataDir, err)
	}

	loc, err := time.LoadLocation(*timezone)
	if err != nil {
		log.Fatalf("loading timezone %q: %v", *timezone, err)
	}

	cfg := supervisor.Config{
		SerialDevice:     *serialDevice,
		BaudRate:         *baudRate,
		PollInterval:     *pollInterval,
		IPCAddr:          *ipcAddr,
		ConfigStorePath:  filepath.Join(*dataDir, "config.db"),
		TimeseriesPath:   filepath.Join(*dataDir, "timeseries.db"),
		Location:         loc,
		ArchiveSyncEvery: *archiveSyncInterval,
	}

	sup, err := supervisor.New(cfg)
	if err != nil {
		log.Fatalf("initializing supervisor: %v", err)
	}

	if err := sup.Run(context.Background()); err != nil {
		log.Errorf("daemon error: %v", err)
		os.Exit(1)
	}
}
