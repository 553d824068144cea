package wire

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

func mustEncode(t *testing.T, seq uint64, gens []uint64, payload []byte) []byte {
	t.Helper()
	b, err := EncodeEntry(seq, gens, payload)
	if err != nil {
		t.Fatalf("EncodeEntry error: %v", err)
	}
	return b
}

func mustDecode(t *testing.T, b []byte) Entry {
	t.Helper()
	e, err := DecodeEntry(b)
	if err != nil {
		t.Fatalf("DecodeEntry error: %v", err)
	}
	return e
}

func TestEntryRoundTrip(t *testing.T) {
	cases := []struct {
		seq     uint64
		gens    []uint64
		payload []byte
	}{
		{0, []uint64{0}, nil},
		{42, []uint64{1, 2, 3}, []byte("hello")},
		{math.MaxUint64, []uint64{math.MaxUint64, 0}, []byte{0, 1, 2, 3, 4}},
	}
	for _, tc := range cases {
		got := mustDecode(t, mustEncode(t, tc.seq, tc.gens, tc.payload))
		if got.Seq != tc.seq {
			t.Fatalf("seq mismatch: got %d want %d", got.Seq, tc.seq)
		}
		if len(got.Gens) != len(tc.gens) {
			t.Fatalf("gens len mismatch: got %d want %d", len(got.Gens), len(tc.gens))
		}
		for i := range tc.gens {
			if got.Gens[i] != tc.gens[i] {
				t.Fatalf("gen %d mismatch: got %d want %d", i, got.Gens[i], tc.gens[i])
			}
		}
		if !bytes.Equal(got.Payload, tc.payload) {
			t.Fatalf("payload mismatch: got %x want %x", got.Payload, tc.payload)
		}
	}
}

func TestEncodeRejectsBadGenCount(t *testing.T) {
	if _, err := EncodeEntry(1, nil, []byte("x")); err == nil {
		t.Fatalf("expected error on zero generations")
	}
	if _, err := EncodeEntry(1, make([]uint64, MaxGens+1), nil); err == nil {
		t.Fatalf("expected error on generation count > 0xFFFF")
	}
	if _, err := EncodeEntry(1, make([]uint64, 3), nil); err != nil {
		t.Fatalf("small generation count should succeed: %v", err)
	}
}

func TestEntryRejectsTrailingBytes(t *testing.T) {
	enc := mustEncode(t, 7, []uint64{1}, []byte("x"))
	enc = append(enc, 0xDE, 0xAD)
	if _, err := DecodeEntry(enc); err == nil {
		t.Fatalf("expected error on trailing bytes")
	}
}

func TestEntryCorruptHeadersAndLengths(t *testing.T) {
	enc := mustEncode(t, 1, []uint64{5}, []byte("abc"))

	badMagic := append([]byte(nil), enc...)
	badMagic[0] = 'X'
	if _, err := DecodeEntry(badMagic); err == nil {
		t.Fatalf("expected error on bad magic")
	}

	badVer := append([]byte(nil), enc...)
	badVer[4] = version + 1
	if _, err := DecodeEntry(badVer); err == nil {
		t.Fatalf("expected error on bad version")
	}

	badKind := append([]byte(nil), enc...)
	badKind[5] = kindEntry + 1
	if _, err := DecodeEntry(badKind); err == nil {
		t.Fatalf("expected error on bad kind")
	}

	// n is at offset 14..15 (4 magic +1 ver +1 kind +8 seq)
	zeroN := append([]byte(nil), enc...)
	binary.BigEndian.PutUint16(zeroN[14:16], 0)
	if _, err := DecodeEntry(zeroN); err == nil {
		t.Fatalf("expected error on n=0")
	}

	hugeN := append([]byte(nil), enc...)
	binary.BigEndian.PutUint16(hugeN[14:16], 0xFFFF)
	if _, err := DecodeEntry(hugeN); err == nil {
		t.Fatalf("expected error on n beyond buffer")
	}

	// vlen follows one generation: 16 + 8 = 24
	tooLong := append([]byte(nil), enc...)
	binary.BigEndian.PutUint32(tooLong[24:28], uint32(len("abc")+1))
	if _, err := DecodeEntry(tooLong); err == nil {
		t.Fatalf("expected error on vlen beyond buffer")
	}

	trunc := enc[:len(enc)-1]
	if _, err := DecodeEntry(trunc); err == nil {
		t.Fatalf("expected error on truncated buffer")
	}

	if _, err := DecodeEntry(enc[:10]); err == nil {
		t.Fatalf("expected error on short header")
	}
}

func TestEntryZeroCopyPayload(t *testing.T) {
	enc := mustEncode(t, 1, []uint64{0}, []byte("Z"))
	e := mustDecode(t, enc)
	e.Payload[0] = 'Q'
	if mustDecode(t, enc).Payload[0] != 'Q' {
		t.Fatalf("expected zero-copy slice into enc buffer")
	}
}
