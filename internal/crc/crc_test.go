package crc

import "testing"

func TestCalculateReferenceVector(t *testing.T) {
	got := Calculate([]byte("123456789"))
	if got != 0x31C3 {
		t.Fatalf("Calculate(123456789) = 0x%04X, want 0x31C3", got)
	}
}

func TestTableFixedEntries(t *testing.T) {
	want := map[int]uint16{
		0: 0x0000,
		1: 0x1021,
		2: 0x2042,
	}
	for idx, v := range want {
		if table[idx] != v {
			t.Errorf("table[%d] = 0x%04X, want 0x%04X", idx, table[idx], v)
		}
	}
}

func TestValidateRoundTrip(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0xAB, 0xCD}
	c := Calculate(data)
	withCRC := append(append([]byte{}, data...), byte(c>>8), byte(c))
	if !Validate(withCRC) {
		t.Fatal("expected validation to succeed for correctly appended CRC")
	}
}

func TestValidateDetectsBitFlips(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0xAB, 0xCD}
	c := Calculate(data)
	withCRC := append(append([]byte{}, data...), byte(c>>8), byte(c))

	for i := range withCRC {
		corrupted := append([]byte{}, withCRC...)
		corrupted[i] ^= 0x01
		if Validate(corrupted) {
			t.Errorf("expected validation to fail with a flipped bit at index %d", i)
		}
	}
}
