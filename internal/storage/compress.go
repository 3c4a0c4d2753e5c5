package storage

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// zstdLevels maps compression_level 1..5 onto zstd levels.
var zstdLevels = map[int]int{1: 1, 2: 3, 3: 6, 4: 12, 5: 19}

var (
	encMu    sync.Mutex
	encoders = map[int]*zstd.Encoder{}

	decOnce sync.Once
	decoder *zstd.Decoder
	decErr  error
)

// encoderFor returns a shared encoder for level (1..5).
func encoderFor(level int) (*zstd.Encoder, error) {
	zl, ok := zstdLevels[level]
	if !ok {
		return nil, fmt.Errorf("unsupported compression level %d", level)
	}

	encMu.Lock()
	defer encMu.Unlock()
	if enc, ok := encoders[level]; ok {
		return enc, nil
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(zl)))
	if err != nil {
		return nil, err
	}
	encoders[level] = enc
	return enc, nil
}

// compress encodes data at level (1..5).
func compress(data []byte, level int) ([]byte, error) {
	enc, err := encoderFor(level)
	if err != nil {
		return nil, err
	}
	return enc.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

// decompress decodes a zstd frame.
func decompress(data []byte) ([]byte, error) {
	decOnce.Do(func() {
		decoder, decErr = zstd.NewReader(nil)
	})
	if decErr != nil {
		return nil, decErr
	}
	out, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress blob: %w", err)
	}
	return out, nil
}
