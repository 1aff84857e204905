package archivesync

import "testing"

func TestIterArchiveAddressesNoWrap(t *testing.T) {
	addrs := iterArchiveAddresses(0x100, 0x100+3*21, 21)
	want := []uint16{0x100, 0x100 + 21, 0x100 + 42}
	if len(addrs) != len(want) {
		t.Fatalf("got %d addresses, want %d", len(addrs), len(want))
	}
	for i, a := range want {
		if addrs[i] != a {
			t.Errorf("addrs[%d] = 0x%04X, want 0x%04X", i, addrs[i], a)
		}
	}
}

func TestIterArchiveAddressesWraps(t *testing.T) {
	recordSize := 32
	oldPtr := uint16(0x7F00 - recordSize) // last record before the wrap boundary
	newPtr := uint16(recordSize)          // one record past the wrap
	addrs := iterArchiveAddresses(oldPtr, newPtr, recordSize)

	if len(addrs) != 2 {
		t.Fatalf("got %d addresses, want 2", len(addrs))
	}
	if addrs[0] != oldPtr {
		t.Errorf("addrs[0] = 0x%04X, want 0x%04X", addrs[0], oldPtr)
	}
	if addrs[1] != 0 {
		t.Errorf("addrs[1] = 0x%04X, want 0x0000 after wraparound", addrs[1])
	}
}

func TestIterArchiveAddressesEmptyWhenEqual(t *testing.T) {
	addrs := iterArchiveAddresses(0x200, 0x200, 21)
	if len(addrs) != 0 {
		t.Errorf("got %d addresses, want 0 for empty buffer", len(addrs))
	}
}
