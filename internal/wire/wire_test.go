package wire

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
	"time"
)

func mustDecode(t *testing.T, kind Kind, b []byte) Frame {
	t.Helper()
	f, err := Decode(kind, b)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	return f
}

func TestEntryRTEmptyAndNonEmpty(t *testing.T) {
	stamp := time.Date(2026, 3, 14, 9, 26, 53, 589793000, time.UTC)
	cases := []struct {
		gen     uint64
		at      time.Time
		payload []byte
	}{
		{0, time.Time{}, nil},
		{42, stamp, []byte("hello")},
		{math.MaxUint64, stamp, []byte{0, 1, 2, 3, 4}},
	}
	for _, tc := range cases {
		enc := Encode(KindEntry, tc.gen, tc.at, tc.payload)
		f := mustDecode(t, KindEntry, enc)
		if f.Gen != tc.gen {
			t.Fatalf("gen mismatch: got %d want %d", f.Gen, tc.gen)
		}
		if !f.UpdatedAt.Equal(tc.at) {
			t.Fatalf("updatedAt mismatch: got %v want %v", f.UpdatedAt, tc.at)
		}
		if !bytes.Equal(f.Payload, tc.payload) {
			t.Fatalf("payload mismatch: got %x want %x", f.Payload, tc.payload)
		}
	}
}

func TestDecodeNormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	at := time.Date(2026, 1, 2, 10, 0, 0, 0, loc)
	f := mustDecode(t, KindSession, Encode(KindSession, 0, at, []byte("{}")))
	if f.UpdatedAt.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", f.UpdatedAt.Location())
	}
	if !f.UpdatedAt.Equal(at) {
		t.Fatalf("instant changed: %v vs %v", f.UpdatedAt, at)
	}
}

func TestRejectsTrailingBytes(t *testing.T) {
	enc := Encode(KindEntry, 7, time.Time{}, []byte("x"))
	enc = append(enc, 0xDE, 0xAD) // add junk
	if _, err := Decode(KindEntry, enc); err == nil {
		t.Fatalf("expected error on trailing bytes")
	}
}

func TestCorruptHeadersAndLengths(t *testing.T) {
	enc := Encode(KindEntry, 1, time.Unix(10, 0), []byte("abc"))

	// bad magic
	badMagic := append([]byte(nil), enc...)
	badMagic[0] = 'X'
	if _, err := Decode(KindEntry, badMagic); err == nil {
		t.Fatalf("expected error on bad magic")
	}

	// wrong version
	badVer := append([]byte(nil), enc...)
	badVer[4] = version + 1
	if _, err := Decode(KindEntry, badVer); err == nil {
		t.Fatalf("expected error on bad version")
	}

	// entry decoded as session
	if _, err := Decode(KindSession, enc); err == nil {
		t.Fatalf("expected error on kind mismatch")
	}

	// vlen announces more than available; at offset 22 (4 magic +1 ver +1 kind +8 gen +8 stamp)
	tooLong := append([]byte(nil), enc...)
	binary.BigEndian.PutUint32(tooLong[22:26], uint32(len("abc")+1))
	if _, err := Decode(KindEntry, tooLong); err == nil {
		t.Fatalf("expected error on vlen beyond buffer")
	}

	// truncated buffer
	if _, err := Decode(KindEntry, enc[:len(enc)-1]); err == nil {
		t.Fatalf("expected error on truncated buffer")
	}
	if _, err := Decode(KindEntry, enc[:5]); err == nil {
		t.Fatalf("expected error on truncated header")
	}
}

func TestZeroCopyPayload(t *testing.T) {
	enc := Encode(KindEntry, 1, time.Time{}, []byte("Z"))
	f := mustDecode(t, KindEntry, enc)
	// mutate payload slice. should mutate underlying enc bytes (zero-copy)
	f.Payload[0] = 'Q'
	if f2 := mustDecode(t, KindEntry, enc); f2.Payload[0] != 'Q' {
		t.Fatalf("expected zero-copy slice into enc buffer")
	}
}
