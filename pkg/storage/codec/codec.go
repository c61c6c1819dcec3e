// Package codec compresses the numeric columns of a snapshot. Float vectors
// are XOR-encoded against their predecessor then zstd-compressed; NaN payloads
// and signed infinities survive bit-for-bit.
package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"
)

// ErrShortData is returned when a decoded stream holds fewer values than expected.
var ErrShortData = errors.New("codec: decoded data shorter than count")

// Compressor is safe for concurrent use.
type Compressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// New creates a compressor. Level 1 is fastest, 4 is best; anything else
// uses zstd's default.
func New(level int) (*Compressor, error) {
	encLevel := zstd.SpeedDefault
	switch level {
	case 1:
		encLevel = zstd.SpeedFastest
	case 3:
		encLevel = zstd.SpeedBetterCompression
	case 4:
		encLevel = zstd.SpeedBestCompression
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	return &Compressor{encoder: encoder, decoder: decoder}, nil
}

// Floats XOR-encodes values and compresses the result.
func (c *Compressor) Floats(values []float64) []byte {
	if len(values) == 0 {
		return nil
	}
	raw := make([]byte, 8*len(values))
	var prev uint64
	for i, v := range values {
		bits := math.Float64bits(v)
		binary.LittleEndian.PutUint64(raw[8*i:], bits^prev)
		prev = bits
	}
	return c.encoder.EncodeAll(raw, make([]byte, 0, len(raw)/2))
}

// DecodeFloats reverses Floats. count must match the encoded length.
func (c *Compressor) DecodeFloats(data []byte, count int) ([]float64, error) {
	if count == 0 {
		return []float64{}, nil
	}
	raw, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompression failed: %w", err)
	}
	if len(raw) != 8*count {
		return nil, fmt.Errorf("%w: %d bytes for %d values", ErrShortData, len(raw), count)
	}

	values := make([]float64, count)
	var prev uint64
	for i := range values {
		bits := binary.LittleEndian.Uint64(raw[8*i:]) ^ prev
		values[i] = math.Float64frombits(bits)
		prev = bits
	}
	return values, nil
}

// Bytes compresses an opaque byte slice (quality codes, reason tables).
func (c *Compressor) Bytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return c.encoder.EncodeAll(b, make([]byte, 0, len(b)))
}

// DecodeBytes reverses Bytes. count must match the original length.
func (c *Compressor) DecodeBytes(data []byte, count int) ([]byte, error) {
	if count == 0 {
		return []byte{}, nil
	}
	raw, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompression failed: %w", err)
	}
	if len(raw) != count {
		return nil, fmt.Errorf("%w: %d bytes, want %d", ErrShortData, len(raw), count)
	}
	return raw, nil
}

// Strings packs a string list with uvarint length prefixes, then compresses it.
func (c *Compressor) Strings(ss []string) []byte {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte
	for _, s := range ss {
		n := binary.PutUvarint(tmp[:], uint64(len(s)))
		buf.Write(tmp[:n])
		buf.WriteString(s)
	}
	return c.Bytes(buf.Bytes())
}

// DecodeStrings reverses Strings.
func (c *Compressor) DecodeStrings(data []byte, count int) ([]string, error) {
	if count == 0 {
		return []string{}, nil
	}
	raw, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompression failed: %w", err)
	}
	r := bytes.NewReader(raw)
	out := make([]string, count)
	for i := range out {
		n, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("%w: string %d: %v", ErrShortData, i, err)
		}
		if n > uint64(r.Len()) {
			return nil, fmt.Errorf("%w: string %d wants %d bytes", ErrShortData, i, n)
		}
		b := make([]byte, n)
		if _, err := r.Read(b); err != nil && n > 0 {
			return nil, fmt.Errorf("%w: string %d: %v", ErrShortData, i, err)
		}
		out[i] = string(b)
	}
	return out, nil
}

// Close releases the encoder and decoder.
func (c *Compressor) Close() {
	if c.encoder != nil {
		c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
}
