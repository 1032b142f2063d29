package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

const version byte = 1

// Kind tags what a frame carries so a foreign or misplaced value is
// rejected instead of decoded.
type Kind byte

const (
	KindEntry   Kind = 1 // persisted query cache entry
	KindSession Kind = 2 // persisted auth session
)

const hdrLen = 4 + 1 + 1 + 8 + 8 + 4

var (
	ErrCorrupt = errors.New("deskquery: corrupt frame")
	magic4     = [...]byte{'D', 'S', 'K', 'Q'}
)

// Frame is the decoded form of a stored value.
type Frame struct {
	Kind      Kind
	Gen       uint64    // generation observed before the value was produced
	UpdatedAt time.Time // UTC, nanosecond precision
	Payload   []byte    // aliases the encoded buffer
}

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Encode lays out:
//
//	magic(4) | ver(1) | kind(1) | gen(u64 be) | updatedAt(unix nano, i64 be) | vlen(u32 be) | payload(vlen)
func Encode(kind Kind, gen uint64, updatedAt time.Time, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(hdrLen + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(byte(kind))

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], gen)
	buf.Write(u8[:])

	var stamp int64
	if !updatedAt.IsZero() {
		stamp = updatedAt.UnixNano()
	}
	binary.BigEndian.PutUint64(u8[:], uint64(stamp))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

// Decode parses b and requires it to be a frame of the given kind with no
// trailing bytes.
func Decode(kind Kind, b []byte) (Frame, error) {
	if len(b) < hdrLen || !hasMagic(b) || b[4] != version || Kind(b[5]) != kind {
		return Frame{}, ErrCorrupt
	}
	off := 6

	gen := binary.BigEndian.Uint64(b[off : off+8])
	off += 8

	stamp := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off { // overflow-safe, exact length
		return Frame{}, ErrCorrupt
	}

	f := Frame{Kind: kind, Gen: gen, Payload: b[off : off+vlen]}
	if stamp != 0 {
		f.UpdatedAt = time.Unix(0, stamp).UTC()
	}
	return f, nil
}
