package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	version   byte = 1
	kindEntry byte = 1

	// MaxGens is the deepest key the frame can describe (u16 count).
	MaxGens = 0xFFFF
)

var (
	ErrCorrupt = errors.New("querykit: corrupt entry")
	magic4     = [...]byte{'Q', 'K', 'I', 'T'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Entry is a decoded cache frame. Gens holds one generation per key prefix,
// shortest prefix first.
type Entry struct {
	Seq     uint64
	Gens    []uint64
	Payload []byte
}

// EncodeEntry frames a cache entry:
//
//	magic(4) | ver(1) | kind(1=entry) | seq(u64 be) | n(u16 be) | gens(n * u64 be) | vlen(u32 be) | payload(vlen)
func EncodeEntry(seq uint64, gens []uint64, payload []byte) ([]byte, error) {
	if n := len(gens); n == 0 || n > MaxGens {
		return nil, fmt.Errorf("querykit: invalid generation count %d", n)
	}

	var buf bytes.Buffer
	buf.Grow(4 + 1 + 1 + 8 + 2 + 8*len(gens) + 4 + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindEntry)

	var u8 [8]byte
	var u4 [4]byte
	var u2 [2]byte

	binary.BigEndian.PutUint64(u8[:], seq)
	buf.Write(u8[:])

	binary.BigEndian.PutUint16(u2[:], uint16(len(gens)))
	buf.Write(u2[:])
	for _, g := range gens {
		binary.BigEndian.PutUint64(u8[:], g)
		buf.Write(u8[:])
	}

	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])
	buf.Write(payload)

	return buf.Bytes(), nil
}

// DecodeEntry parses a frame produced by EncodeEntry. Any framing violation,
// including trailing bytes, yields ErrCorrupt.
func DecodeEntry(b []byte) (Entry, error) {
	const hdr = 4 + 1 + 1 + 8 + 2
	if len(b) < hdr || !hasMagic(b) || b[4] != version || b[5] != kindEntry {
		return Entry{}, ErrCorrupt
	}

	off := 6
	seq := binary.BigEndian.Uint64(b[off : off+8])
	off += 8

	n := int(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2
	// n*8 is bounded by 0xFFFF*8, no overflow
	if n == 0 || n*8 > len(b)-off {
		return Entry{}, ErrCorrupt
	}
	gens := make([]uint64, n)
	for i := range gens {
		gens[i] = binary.BigEndian.Uint64(b[off : off+8])
		off += 8
	}

	if off+4 > len(b) {
		return Entry{}, ErrCorrupt
	}
	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off {
		return Entry{}, ErrCorrupt
	}

	return Entry{Seq: seq, Gens: gens, Payload: b[off : off+vlen]}, nil
}
