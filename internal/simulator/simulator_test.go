package simulator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/chrissnell/weatherlink-core/internal/archivesync"
	"github.com/chrissnell/weatherlink-core/internal/linkdriver"
	"github.com/chrissnell/weatherlink-core/internal/serialtransport"
	"github.com/chrissnell/weatherlink-core/internal/timeseries"
	"github.com/chrissnell/weatherlink-core/internal/wireproto"
)

func openTestStore(t *testing.T) *timeseries.Store {
	t.Helper()
	store, err := timeseries.Open(filepath.Join(t.TempDir(), "ts.db"))
	if err != nil {
		t.Fatalf("timeseries.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// TestColdStartAutoConnectBasicFamily drives DetectFamily and a single
// PollLoop against a simulated Weather Monitor II, mirroring the cold-start
// scenario: the station answers the model query with nibble 2 and a clean
// LOOP packet.
func TestColdStartAutoConnectBasicFamily(t *testing.T) {
	station := NewStation(wireproto.Monitor)
	station.QueueLoopPacket(BuildBasicLoopPacket(680, 725, 5, 180, 30123, 45, 55, 100))

	transport := serialtransport.NewWithConn(station)
	driver := linkdriver.New(transport)

	ctx := context.Background()
	if err := driver.DetectFamily(ctx); err != nil {
		t.Fatalf("DetectFamily: %v", err)
	}
	if driver.Family() != wireproto.Monitor {
		t.Errorf("Family() = %v, want Monitor", driver.Family())
	}
	if name := wireproto.Names[driver.Family()]; name != "Weather Monitor II" {
		t.Errorf("Names[family] = %q, want %q", name, "Weather Monitor II")
	}

	readings, err := driver.PollLoop(ctx, 1)
	if err != nil {
		t.Fatalf("PollLoop: %v", err)
	}
	if len(readings) != 1 {
		t.Fatalf("got %d readings, want 1", len(readings))
	}
	if *readings[0].OutsideTemp != 725 {
		t.Errorf("OutsideTemp = %d, want 725", *readings[0].OutsideTemp)
	}
}

// TestLoopCRCFailureThenSuccess mirrors end-to-end scenario 2: the first
// LOOP response has a corrupted CRC, the second is clean, and PollLoop's
// internal retry recovers without the caller seeing the bad frame.
func TestLoopCRCFailureThenSuccess(t *testing.T) {
	station := NewStation(wireproto.Monitor)
	station.CorruptNextPacket()
	station.QueueLoopPacket(BuildBasicLoopPacket(680, 725, 5, 180, 30123, 45, 55, 100))
	station.QueueLoopPacket(BuildBasicLoopPacket(681, 726, 6, 181, 30124, 46, 56, 101))

	transport := serialtransport.NewWithConn(station)
	driver := linkdriver.New(transport)

	ctx := context.Background()
	if err := driver.DetectFamily(ctx); err != nil {
		t.Fatalf("DetectFamily: %v", err)
	}

	readings, err := driver.PollLoop(ctx, 1)
	if err != nil {
		t.Fatalf("PollLoop: %v", err)
	}
	if len(readings) != 1 {
		t.Fatalf("got %d readings, want 1", len(readings))
	}
	if *readings[0].OutsideTemp != 726 {
		t.Errorf("OutsideTemp = %d, want 726 (the second, clean packet)", *readings[0].OutsideTemp)
	}
}

// TestArchiveSyncAcrossWrap mirrors end-to-end scenario 4: archive pointers
// straddling the SRAM wraparound boundary are enumerated in ring order and
// every record is parsed and persisted.
func TestArchiveSyncAcrossWrap(t *testing.T) {
	station := NewStation(wireproto.Monitor)

	recordSize := 21
	oldPtr := uint16(0x7F00 - recordSize)
	newPtr := uint16(recordSize)
	station.SetArchivePointers(oldPtr, newPtr)

	record := make([]byte, recordSize)
	record[15] = 0x01 // hour 01 BCD
	record[16] = 0x00 // minute 00 BCD
	record[17] = 0x01 // day 01 BCD
	record[18] = 0x01 // month 1, packed in the low nibble
	station.WriteSRAM(oldPtr, record)
	station.WriteSRAM(0, record)

	transport := serialtransport.NewWithConn(station)
	driver := linkdriver.New(transport)
	ctx := context.Background()
	if err := driver.DetectFamily(ctx); err != nil {
		t.Fatalf("DetectFamily: %v", err)
	}

	store := openTestStore(t)
	syncer := archivesync.New(driver, store, time.UTC)

	n, err := syncer.Sync(ctx)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if n != 2 {
		t.Fatalf("Sync inserted %d records, want 2", n)
	}
}
