package wtpage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// Compression identifies the block compressor configured for a file. The
// set matches the stock WiredTiger extensions a MongoDB build ships.
type Compression uint8

const (
	CompressNone Compression = iota
	CompressSnappy
	CompressZlib
	CompressZstd
)

func (c Compression) String() string {
	switch c {
	case CompressNone:
		return "none"
	case CompressSnappy:
		return "snappy"
	case CompressZlib:
		return "zlib"
	case CompressZstd:
		return "zstd"
	}
	return fmt.Sprintf("compression(%d)", uint8(c))
}

// CompressionByName maps a block_compressor metadata value to a Compression.
func CompressionByName(name string) (Compression, error) {
	switch name {
	case "", "none":
		return CompressNone, nil
	case "snappy":
		return CompressSnappy, nil
	case "zlib":
		return CompressZlib, nil
	case "zstd":
		return CompressZstd, nil
	}
	return CompressNone, fmt.Errorf("unsupported block compressor %q", name)
}

var (
	zstdOnce    sync.Once
	zstdDecoder *zstd.Decoder
)

// decompress inflates the compressed tail of a block. The snappy and zstd
// extensions prefix the stream with its length as a little-endian uint64;
// zlib streams are self-terminating and carry no prefix. want is the
// expected inflated size (used only as an allocation hint; the caller
// validates the final total).
func decompress(comp Compression, src []byte, want int) ([]byte, error) {
	switch comp {
	case CompressSnappy:
		stream, err := prefixedStream(src)
		if err != nil {
			return nil, err
		}
		out, err := snappy.Decode(nil, stream)
		if err != nil {
			return nil, fmt.Errorf("snappy: %w", err)
		}
		return out, nil

	case CompressZstd:
		stream, err := prefixedStream(src)
		if err != nil {
			return nil, err
		}
		zstdOnce.Do(func() {
			zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		})
		if zstdDecoder == nil {
			return nil, fmt.Errorf("zstd: decoder unavailable")
		}
		capacity := want
		if capacity < 0 {
			capacity = 0
		}
		out, err := zstdDecoder.DecodeAll(stream, make([]byte, 0, capacity))
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return out, nil

	case CompressZlib:
		r, err := zlib.NewReader(bytes.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("zlib: %w", err)
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("zlib: %w", err)
		}
		return out, nil

	case CompressNone:
		return nil, fmt.Errorf("compressed page in a file with no block compressor configured")
	}
	return nil, fmt.Errorf("unsupported block compressor %d", uint8(comp))
}

// prefixedStream strips the 8-byte length prefix the snappy/zstd extensions
// store ahead of the compressed bytes. Blocks are padded to the allocation
// size, so the prefix is what bounds the real stream.
func prefixedStream(src []byte) ([]byte, error) {
	if len(src) < 8 {
		return nil, fmt.Errorf("compressed payload shorter than its length prefix")
	}
	n := binary.LittleEndian.Uint64(src[0:8])
	if n > uint64(len(src)-8) {
		return nil, fmt.Errorf("compressed length prefix %d exceeds payload %d", n, len(src)-8)
	}
	return src[8 : 8+n], nil
}
