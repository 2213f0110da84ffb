package sketch

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// Wire format tags, spec.md §4.7.
const (
	tagVerbose int32 = 1
	tagCompact int32 = 2

	// varintMaxPayloadBytes is the 5-payload-byte cap on the compact
	// format's count encoding: 5*7 = 35 bits, matching the Overflow
	// threshold of 2^35 counts in spec.md §7.
	varintMaxPayloadBytes = 5
	varintOverflowAt      = uint64(1) << (7 * varintMaxPayloadBytes)
)

// ByteSize returns the exact size of the verbose encoding: a 4-byte
// tag, an 8-byte compression, a 4-byte count, and 12 bytes (8-byte mean
// + 4-byte count) per centroid.
func (s *Sketch) ByteSize() int {
	return 4 + 8 + 4 + 12*s.index.size()
}

// ToBytes appends the verbose encoding of the sketch to buf and
// returns the resulting slice.
func (s *Sketch) ToBytes(buf []byte) []byte {
	var scratch [8]byte

	binary.BigEndian.PutUint32(scratch[:4], uint32(tagVerbose))
	buf = append(buf, scratch[:4]...)

	binary.BigEndian.PutUint64(scratch[:8], math.Float64bits(s.compression))
	buf = append(buf, scratch[:8]...)

	binary.BigEndian.PutUint32(scratch[:4], uint32(s.index.size()))
	buf = append(buf, scratch[:4]...)

	s.Centroids(func(c Centroid) bool {
		binary.BigEndian.PutUint64(scratch[:8], math.Float64bits(c.Mean))
		buf = append(buf, scratch[:8]...)
		return true
	})
	s.Centroids(func(c Centroid) bool {
		binary.BigEndian.PutUint32(scratch[:4], uint32(c.Count))
		buf = append(buf, scratch[:4]...)
		return true
	})

	return buf
}

// ToSmallBytes appends the compact encoding of the sketch to buf.
// Means are delta-encoded as float32; counts are varint-encoded. It
// fails with ErrOverflow if any centroid's count needs more than five
// payload bytes to encode (counts >= 2^35).
func (s *Sketch) ToSmallBytes(buf []byte) ([]byte, error) {
	var scratch [8]byte

	binary.BigEndian.PutUint32(scratch[:4], uint32(tagCompact))
	buf = append(buf, scratch[:4]...)

	binary.BigEndian.PutUint64(scratch[:8], math.Float64bits(s.compression))
	buf = append(buf, scratch[:8]...)

	binary.BigEndian.PutUint32(scratch[:4], uint32(s.index.size()))
	buf = append(buf, scratch[:4]...)

	var prev float64
	s.Centroids(func(c Centroid) bool {
		delta := float32(c.Mean - prev)
		prev = c.Mean
		binary.BigEndian.PutUint32(scratch[:4], math.Float32bits(delta))
		buf = append(buf, scratch[:4]...)
		return true
	})

	var encErr error
	s.Centroids(func(c Centroid) bool {
		var err error
		buf, err = encodeVarint(buf, c.Count)
		if err != nil {
			encErr = err
			return false
		}
		return true
	})
	if encErr != nil {
		return nil, encErr
	}

	return buf, nil
}

// SmallByteSize returns the exact size of the compact encoding.
func (s *Sketch) SmallByteSize() int {
	buf, err := s.ToSmallBytes(make([]byte, 0, s.ByteSize()))
	if err != nil {
		// A live sketch's own counts cannot exceed the varint cap
		// without ToSmallBytes itself already having failed upstream;
		// the verbose upper bound is a safe, if loose, fallback.
		return s.ByteSize()
	}
	return len(buf)
}

// FromBytes reconstructs a Sketch from a buffer written by ToBytes or
// ToSmallBytes. Deserialization replays every decoded centroid through
// Add, so the result is a statistically equivalent sketch, not a
// bit-identical copy of whatever produced buf.
func FromBytes(buf []byte, rng *RNG) (*Sketch, error) {
	if len(buf) < 4 {
		return nil, errors.Wrapf(ErrTruncated, "buffer too short for format tag")
	}
	tag := int32(binary.BigEndian.Uint32(buf[:4]))
	buf = buf[4:]

	switch tag {
	case tagVerbose:
		return decodeVerbose(buf, rng)
	case tagCompact:
		return decodeCompact(buf, rng)
	default:
		return nil, errors.Wrapf(ErrUnknownFormat, "unknown format tag %d", tag)
	}
}

func decodeHeader(buf []byte) (compression float64, n int, rest []byte, err error) {
	if len(buf) < 8 {
		return 0, 0, nil, errors.Wrapf(ErrTruncated, "buffer too short for compression")
	}
	compression = math.Float64frombits(binary.BigEndian.Uint64(buf[:8]))
	buf = buf[8:]

	if len(buf) < 4 {
		return 0, 0, nil, errors.Wrapf(ErrTruncated, "buffer too short for centroid count")
	}
	n32 := int32(binary.BigEndian.Uint32(buf[:4]))
	if n32 < 0 {
		return 0, 0, nil, errors.Wrapf(ErrTruncated, "negative centroid count %d", n32)
	}
	return compression, int(n32), buf[4:], nil
}

func decodeVerbose(buf []byte, rng *RNG) (*Sketch, error) {
	compression, n, buf, err := decodeHeader(buf)
	if err != nil {
		return nil, err
	}

	if len(buf) < n*8 {
		return nil, errors.Wrapf(ErrTruncated, "buffer truncated before means")
	}
	means := make([]float64, n)
	for i := 0; i < n; i++ {
		means[i] = math.Float64frombits(binary.BigEndian.Uint64(buf[:8]))
		buf = buf[8:]
	}

	if len(buf) < n*4 {
		return nil, errors.Wrapf(ErrTruncated, "buffer truncated before counts")
	}
	counts := make([]uint64, n)
	for i := 0; i < n; i++ {
		counts[i] = uint64(binary.BigEndian.Uint32(buf[:4]))
		buf = buf[4:]
	}

	return replay(compression, rng, means, counts)
}

func decodeCompact(buf []byte, rng *RNG) (*Sketch, error) {
	compression, n, buf, err := decodeHeader(buf)
	if err != nil {
		return nil, err
	}

	if len(buf) < n*4 {
		return nil, errors.Wrapf(ErrTruncated, "buffer truncated before means")
	}
	means := make([]float64, n)
	var x float64
	for i := 0; i < n; i++ {
		delta := float64(math.Float32frombits(binary.BigEndian.Uint32(buf[:4])))
		buf = buf[4:]
		x += delta
		means[i] = x
	}

	counts := make([]uint64, n)
	for i := 0; i < n; i++ {
		v, rest, err := decodeVarint(buf)
		if err != nil {
			return nil, err
		}
		counts[i] = v
		buf = rest
	}

	return replay(compression, rng, means, counts)
}

func replay(compression float64, rng *RNG, means []float64, counts []uint64) (*Sketch, error) {
	out, err := NewWithRNG(compression, rng)
	if err != nil {
		return nil, err
	}
	for i := range means {
		if err := out.Add(means[i], counts[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// encodeVarint appends v to buf as an unsigned base-128 varint: 7 bits
// per byte, high bit as the continuation flag, least-significant group
// first. It fails with ErrOverflow if v needs more than five payload
// bytes (v >= 2^35).
func encodeVarint(buf []byte, v uint64) ([]byte, error) {
	if v >= varintOverflowAt {
		return nil, errors.Wrapf(ErrOverflow, "count %d exceeds the %d-byte varint cap", v, varintMaxPayloadBytes)
	}
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(buf, b), nil
		}
		buf = append(buf, b|0x80)
	}
}

// decodeVarint reads one varint from the front of buf and returns its
// value plus the remaining bytes. It fails with ErrTruncated if buf
// runs out mid-varint, or ErrOverflow if all five payload bytes carry
// the continuation bit, so the varint does not terminate within the
// cap (a corrupt stream).
func decodeVarint(buf []byte) (uint64, []byte, error) {
	var v uint64
	for i := 0; i < varintMaxPayloadBytes; i++ {
		if len(buf) == 0 {
			return 0, nil, errors.Wrapf(ErrTruncated, "varint truncated")
		}
		b := buf[0]
		buf = buf[1:]
		v |= uint64(b&0x7f) << (7 * uint(i))
		if b&0x80 == 0 {
			return v, buf, nil
		}
	}
	return 0, nil, errors.Wrapf(ErrOverflow, "varint exceeds %d continuation bytes", varintMaxPayloadBytes)
}
