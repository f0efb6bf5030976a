// Package encoding holds the shared zstd codec used for block data,
// definitions and metadata payloads.
package encoding

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// MaxDecompressedSize bounds any single decompressed payload.
const MaxDecompressedSize = 16 << 20

var ErrTooLarge = errors.New("encoding: decompressed payload too large")

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxDecompressedSize))
)

// Compress returns the zstd frame for b. Safe for concurrent use.
func Compress(b []byte) []byte {
	return encoder.EncodeAll(b, make([]byte, 0, len(b)/2+16))
}

// Decompress reverses Compress.
func Decompress(b []byte) ([]byte, error) {
	out, err := decoder.DecodeAll(b, nil)
	if err != nil {
		if errors.Is(err, zstd.ErrDecoderSizeExceeded) {
			return nil, ErrTooLarge
		}
		return nil, fmt.Errorf("zstd: %w", err)
	}
	return out, nil
}
