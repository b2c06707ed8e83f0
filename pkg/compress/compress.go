// Copyright © 2018 One Concern

// Package compress provides the reversible codec used for chunks at rest.
//
// Chunks are self-describing: Decompress detects the codec from the frame magic number,
// so readers never need to know which codec the producer picked.
package compress

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/oneconcern/castor/pkg/core/status"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies a compression algorithm for chunks.
type Codec uint8

const (
	// Zstd compresses at level 3 (zstd.SpeedDefault). This is the default codec.
	Zstd Codec = iota
	// LZ4 uses the LZ4 frame format: faster, with lower ratios.
	LZ4
)

const (
	zstdMagic uint32 = 0xFD2FB528
	lz4Magic  uint32 = 0x184D2204
)

// String returns the human-readable name of a codec
func (c Codec) String() string {
	switch c {
	case Zstd:
		return "zstd"
	case LZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", c)
	}
}

// ParseCodec parses a codec name. An empty name selects zstd.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "", "zstd":
		return Zstd, nil
	case "lz4":
		return LZ4, nil
	default:
		return 0, fmt.Errorf("unknown compression codec: %q", name)
	}
}

// zstd.Encoder and zstd.Decoder are safe for concurrent use with EncodeAll/DecodeAll.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithZeroFrames(true), // empty input still yields a complete frame
	)
	if err != nil {
		panic("compress: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("compress: zstd decoder initialization failed: " + err.Error())
	}
}

// Compress data with the given codec.
//
// Empty input is always encoded as an empty zstd frame.
func Compress(data []byte, codec Codec) ([]byte, error) {
	if len(data) == 0 {
		return zstdEncoder.EncodeAll(data, nil), nil
	}

	switch codec {
	case Zstd:
		return zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
	case LZ4:
		return compressLZ4(data)
	default:
		return nil, fmt.Errorf("unsupported compression codec: %v", codec)
	}
}

// Decompress a chunk produced by Compress, whatever its codec.
func Decompress(compressed []byte) ([]byte, error) {
	if len(compressed) < 4 {
		return nil, status.ErrMalformed.Wrap(fmt.Errorf("compressed chunk too short (%d bytes)", len(compressed)))
	}

	switch binary.LittleEndian.Uint32(compressed[:4]) {
	case zstdMagic:
		out, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, 2*len(compressed)))
		if err != nil {
			return nil, status.ErrMalformed.Wrap(fmt.Errorf("zstd decompress: %w", err))
		}
		return out, nil
	case lz4Magic:
		return decompressLZ4(compressed)
	default:
		return nil, status.ErrMalformed.Wrap(fmt.Errorf("unknown compression frame magic %x", compressed[:4]))
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	return buf.Bytes(), nil
}

func decompressLZ4(compressed []byte) ([]byte, error) {
	out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(compressed)))
	if err != nil {
		return nil, status.ErrMalformed.Wrap(fmt.Errorf("lz4 decompress: %w", err))
	}
	return out, nil
}
