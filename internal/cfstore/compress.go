package cfstore

import (
	"github.com/klauspost/compress/zstd"
)

const zstdSuffix = ".zst"

// Both are safe for concurrent EncodeAll/DecodeAll calls.
var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

func compress(raw []byte) []byte {
	return zstdEncoder.EncodeAll(raw, make([]byte, 0, len(raw)/2))
}

func decompress(raw []byte) ([]byte, error) {
	return zstdDecoder.DecodeAll(raw, nil)
}
