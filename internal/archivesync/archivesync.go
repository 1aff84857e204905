// Package archivesync backfills the time-series store from the station's
// SRAM circular archive buffer: it walks every record between the old and
// new archive pointers, decodes each one, and inserts it, relying on the
// store's (archive_address, record_time) uniqueness to make repeated runs
// safe. The enumeration and progress-logging cadence mirror the reference
// archive sync service.
package archivesync

import (
	"context"
	"fmt"
	"time"

	"github.com/chrissnell/weatherlink-core/internal/linkdriver"
	"github.com/chrissnell/weatherlink-core/internal/log"
	"github.com/chrissnell/weatherlink-core/internal/memorymap"
	"github.com/chrissnell/weatherlink-core/internal/packet"
	"github.com/chrissnell/weatherlink-core/internal/timeseries"
)

const logProgressEvery = 50

// Syncer backfills archive_records from one station via driver.
type Syncer struct {
	driver *linkdriver.Driver
	store  *timeseries.Store
	loc    *time.Location
}

// New builds a Syncer. loc is used to resolve each record's BCD timestamp
// against the current date; pass nil for UTC.
func New(driver *linkdriver.Driver, store *timeseries.Store, loc *time.Location) *Syncer {
	if loc == nil {
		loc = time.UTC
	}
	return &Syncer{driver: driver, store: store, loc: loc}
}

// Sync reads every archive record between the station's old and new
// pointers and inserts any not already present, returning the count of
// genuinely new rows.
func (s *Syncer) Sync(ctx context.Context) (int, error) {
	newPtr, oldPtr, err := s.driver.ReadArchivePointers(ctx)
	if err != nil {
		return 0, fmt.Errorf("archivesync: reading archive pointers: %w", err)
	}
	if newPtr == oldPtr {
		return 0, nil
	}

	period, err := s.driver.ReadArchivePeriod(ctx)
	if err != nil {
		return 0, fmt.Errorf("archivesync: reading archive period: %w", err)
	}

	recordSize, ok := memorymap.ArchiveRecordSize(s.driver.Family())
	if !ok {
		return 0, fmt.Errorf("archivesync: unknown archive record size for family %v", s.driver.Family())
	}

	addresses := iterArchiveAddresses(oldPtr, newPtr, recordSize)

	inserted := 0
	now := time.Now().In(s.loc)
	for i, addr := range addresses {
		select {
		case <-ctx.Done():
			return inserted, ctx.Err()
		default:
		}

		data, err := s.driver.ReadSRAM(ctx, addr, recordSize)
		if err != nil {
			return inserted, fmt.Errorf("archivesync: reading SRAM at 0x%04X: %w", addr, err)
		}

		rec, err := packet.ParseArchiveRecord(data, s.driver.Family(), addr, period, now)
		if err != nil {
			log.Errorw("skipping unparseable archive record", "address", addr, "error", err)
			continue
		}

		wasInserted, err := s.store.InsertArchiveRecord(rec)
		if err != nil {
			return inserted, fmt.Errorf("archivesync: inserting archive record at 0x%04X: %w", addr, err)
		}
		if wasInserted {
			inserted++
		}

		if (i+1)%logProgressEvery == 0 {
			log.Infow("archive sync progress", "processed", i+1, "total", len(addresses), "inserted", inserted)
		}
	}

	log.Infow("archive sync complete", "processed", len(addresses), "inserted", inserted)
	return inserted, nil
}

// iterArchiveAddresses enumerates every record address from the oldest
// unread record up to (but excluding) newPtr, wrapping around
// memorymap.SRAMMaxAddr the way the station's circular buffer does.
func iterArchiveAddresses(oldPtr, newPtr uint16, recordSize int) []uint16 {
	var addrs []uint16
	addr := oldPtr
	for addr != newPtr {
		addrs = append(addrs, addr)
		addr += uint16(recordSize)
		if int(addr) >= memorymap.SRAMMaxAddr {
			addr = 0
		}
	}
	return addrs
}
