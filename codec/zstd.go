package codec

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Zstd wraps another codec and compresses its output. Ticket and client
// lists are repetitive JSON and shrink well, which matters for stores with
// per-entry size caps such as BigCache's MaxEntrySize.
//
// Construct with NewZstd; encoders are shared and safe for concurrent use.
type Zstd[V any] struct {
	inner      Codec[V]
	enc        *zstd.Encoder
	dec        *zstd.Decoder
	maxDecoded uint64
}

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

func sharedZstd() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEnc, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if zstdErr != nil {
			return
		}
		zstdDec, zstdErr = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(64<<20))
	})
	return zstdEnc, zstdDec, zstdErr
}

// NewZstd wraps inner. maxDecoded <= 0 uses the 64 MiB default.
func NewZstd[V any](inner Codec[V], maxDecoded int) (Zstd[V], error) {
	if inner == nil {
		return Zstd[V]{}, fmt.Errorf("codec: zstd requires an inner codec")
	}
	enc, dec, err := sharedZstd()
	if err != nil {
		return Zstd[V]{}, err
	}
	limit := uint64(64 << 20)
	if maxDecoded > 0 {
		limit = uint64(maxDecoded)
	}
	return Zstd[V]{inner: inner, enc: enc, dec: dec, maxDecoded: limit}, nil
}

func (z Zstd[V]) Encode(v V) ([]byte, error) {
	raw, err := z.inner.Encode(v)
	if err != nil {
		return nil, err
	}
	return z.enc.EncodeAll(raw, nil), nil
}

func (z Zstd[V]) Decode(b []byte) (V, error) {
	var zero V
	raw, err := z.dec.DecodeAll(b, nil)
	if err != nil {
		return zero, err
	}
	if uint64(len(raw)) > z.maxDecoded {
		return zero, fmt.Errorf("payload too large: %d > %d", len(raw), z.maxDecoded)
	}
	return z.inner.Decode(raw)
}
