// Package compress encodes downloaded point payloads for storage.
package compress

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Tag identifies a codec. Values are written to manifests by name.
type Tag uint8

const (
	None Tag = iota
	LZ4
	Zstd
	// BG4LZ4 groups bytes by position within 4-byte words before LZ4.
	// Float channels of nearby points share exponents, so the grouped
	// high bytes compress well.
	BG4LZ4
)

// ErrIncompressible is returned when the encoded form is not smaller than
// the input. Callers store the data with None instead.
var ErrIncompressible = errors.New("compress: data is incompressible")

func (t Tag) String() string {
	switch t {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	case BG4LZ4:
		return "bg4_lz4"
	default:
		return fmt.Sprintf("unknown(%d)", t)
	}
}

// Ext is the file extension for data stored with t.
func (t Tag) Ext() string {
	switch t {
	case LZ4, BG4LZ4:
		return ".lz4"
	case Zstd:
		return ".zst"
	default:
		return ""
	}
}

// ParseTag parses a codec name as returned by Tag.String.
func ParseTag(name string) (Tag, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	case "bg4_lz4":
		return BG4LZ4, nil
	default:
		return None, fmt.Errorf("unknown compression %q", name)
	}
}

func (t Tag) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Tag) UnmarshalText(text []byte) error {
	parsed, err := ParseTag(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

var (
	zstdEncoder = sync.OnceValues(func() (*zstd.Encoder, error) {
		return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	zstdDecoder = sync.OnceValues(func() (*zstd.Decoder, error) {
		return zstd.NewReader(nil)
	})
)

// Compress encodes data with t. None returns data unchanged.
func Compress(data []byte, t Tag) ([]byte, error) {
	switch t {
	case None:
		return data, nil
	case LZ4:
		return compressLZ4(data)
	case Zstd:
		return compressZstd(data)
	case BG4LZ4:
		return compressLZ4(groupBytes(data))
	default:
		return nil, fmt.Errorf("unsupported compression %s", t)
	}
}

// Decompress reverses Compress. size must be the original length.
func Decompress(data []byte, t Tag, size int) ([]byte, error) {
	switch t {
	case None:
		if len(data) != size {
			return nil, fmt.Errorf("stored payload has %d bytes, expected %d", len(data), size)
		}
		return data, nil
	case LZ4:
		return decompressLZ4(data, size)
	case Zstd:
		return decompressZstd(data, size)
	case BG4LZ4:
		grouped, err := decompressLZ4(data, size)
		if err != nil {
			return nil, err
		}
		return ungroupBytes(grouped), nil
	default:
		return nil, fmt.Errorf("unsupported compression %s", t)
	}
}

// Auto compresses with t and falls back to None for incompressible data.
func Auto(data []byte, t Tag) ([]byte, Tag, error) {
	out, err := Compress(data, t)
	if errors.Is(err, ErrIncompressible) {
		return data, None, nil
	}
	if err != nil {
		return nil, None, err
	}
	return out, t, nil
}

// Select probes data with zstd: a ratio of 1.5 or better picks Zstd, 1.1
// or better picks LZ4, anything less None.
func Select(data []byte) Tag {
	if len(data) == 0 {
		return None
	}
	enc, err := zstdEncoder()
	if err != nil {
		return LZ4
	}
	ratio := float64(len(data)) / float64(len(enc.EncodeAll(data, nil)))
	switch {
	case ratio >= 1.5:
		return Zstd
	case ratio >= 1.1:
		return LZ4
	default:
		return None
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if n == 0 || n >= len(data) {
		return nil, ErrIncompressible
	}
	return dst[:n], nil
}

func decompressLZ4(data []byte, size int) ([]byte, error) {
	dst := make([]byte, size)
	n, err := lz4.UncompressBlock(data, dst)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if n != size {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", n, size)
	}
	return dst, nil
}

func compressZstd(data []byte) ([]byte, error) {
	enc, err := zstdEncoder()
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	out := enc.EncodeAll(data, nil)
	if len(out) >= len(data) {
		return nil, ErrIncompressible
	}
	return out, nil
}

func decompressZstd(data []byte, size int) ([]byte, error) {
	dec, err := zstdDecoder()
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	out, err := dec.DecodeAll(data, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(out) != size {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(out), size)
	}
	return out, nil
}

// groupBytes stores byte 0 of every 4-byte word first, then byte 1, and
// so on. A trailing partial word is kept as is.
func groupBytes(data []byte) []byte {
	words := len(data) / 4
	out := make([]byte, len(data))
	for i := 0; i < words; i++ {
		out[i] = data[i*4]
		out[words+i] = data[i*4+1]
		out[words*2+i] = data[i*4+2]
		out[words*3+i] = data[i*4+3]
	}
	copy(out[words*4:], data[words*4:])
	return out
}

func ungroupBytes(data []byte) []byte {
	words := len(data) / 4
	out := make([]byte, len(data))
	for i := 0; i < words; i++ {
		out[i*4] = data[i]
		out[i*4+1] = data[words+i]
		out[i*4+2] = data[words*2+i]
		out[i*4+3] = data[words*3+i]
	}
	copy(out[words*4:], data[words*4:])
	return out
}
