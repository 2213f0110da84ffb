package sketch

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildCodecTestSketch(t *testing.T) *Sketch {
	t.Helper()
	s, err := NewWithSeed(50, 123)
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 2000; i++ {
		require.NoError(t, s.Add(rng.NormFloat64()*10, 1))
	}
	return s
}

func TestVerboseRoundTrip(t *testing.T) {
	s := buildCodecTestSketch(t)

	buf := s.ToBytes(nil)
	require.Equal(t, s.ByteSize(), len(buf))

	out, err := FromBytes(buf, NewRNG(7))
	require.NoError(t, err)
	require.Equal(t, s.Size(), out.Size())

	for _, q := range []float64{0.1, 0.5, 0.9} {
		want, err := s.Quantile(q)
		require.NoError(t, err)
		got, err := out.Quantile(q)
		require.NoError(t, err)
		require.InDelta(t, want, got, 0.5)
	}
}

func TestCompactRoundTrip(t *testing.T) {
	s := buildCodecTestSketch(t)

	buf, err := s.ToSmallBytes(nil)
	require.NoError(t, err)
	require.Equal(t, s.SmallByteSize(), len(buf))
	require.Less(t, len(buf), s.ByteSize())

	out, err := FromBytes(buf, NewRNG(7))
	require.NoError(t, err)
	require.Equal(t, s.Size(), out.Size())

	for _, q := range []float64{0.1, 0.5, 0.9} {
		want, err := s.Quantile(q)
		require.NoError(t, err)
		got, err := out.Quantile(q)
		require.NoError(t, err)
		require.InDelta(t, want, got, 0.5)
	}
}

func TestToBytesAppendsToExistingBuffer(t *testing.T) {
	s := buildCodecTestSketch(t)
	prefix := []byte{1, 2, 3}

	buf := s.ToBytes(append([]byte(nil), prefix...))
	require.Equal(t, prefix, buf[:3])
	require.Equal(t, len(prefix)+s.ByteSize(), len(buf))
}

func TestFromBytesRejectsUnknownTag(t *testing.T) {
	buf := make([]byte, 4)
	buf[3] = 9 // tag = 9, big-endian

	_, err := FromBytes(buf, NewRNG(1))
	require.ErrorIs(t, err, ErrUnknownFormat)
}

func TestFromBytesRejectsShortBuffers(t *testing.T) {
	s := buildCodecTestSketch(t)
	full := s.ToBytes(nil)

	for _, n := range []int{0, 1, 4, 8, 11, len(full) - 1} {
		_, err := FromBytes(full[:n], NewRNG(1))
		require.ErrorIs(t, err, ErrTruncated, "truncated at %d bytes", n)
	}
}

func TestEncodeVarintRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 300, 1 << 20, (1 << 35) - 1}
	for _, v := range values {
		buf, err := encodeVarint(nil, v)
		require.NoError(t, err)

		got, rest, err := decodeVarint(buf)
		require.NoError(t, err)
		require.Empty(t, rest)
		require.Equal(t, v, got)
	}
}

func TestEncodeVarintOverflow(t *testing.T) {
	_, err := encodeVarint(nil, uint64(1)<<35)
	require.ErrorIs(t, err, ErrOverflow)
}

func TestDecodeVarintTruncated(t *testing.T) {
	_, _, err := decodeVarint([]byte{0x80, 0x80})
	require.ErrorIs(t, err, ErrTruncated)
}

func TestDecodeVarintOverflow(t *testing.T) {
	buf := []byte{0x80, 0x80, 0x80, 0x80, 0x80}
	_, _, err := decodeVarint(buf)
	require.ErrorIs(t, err, ErrOverflow)
}

func TestCompactEncodingRejectsOversizedCount(t *testing.T) {
	s, err := NewWithSeed(100, 1)
	require.NoError(t, err)
	require.NoError(t, s.Add(1, 1))

	// Force an oversized count directly on the single centroid node to
	// exercise the overflow path without adding 2^35 observations.
	n := s.index.first()
	n.count = uint64(1) << 35
	s.totalWeight = n.count

	_, err = s.ToSmallBytes(nil)
	require.ErrorIs(t, err, ErrOverflow)
}

func TestByteSizeAccountsForCentroidCount(t *testing.T) {
	s, err := NewWithSeed(100, 1)
	require.NoError(t, err)
	require.Equal(t, 16, s.ByteSize())

	require.NoError(t, s.Add(1, 1))
	require.Equal(t, 16+12, s.ByteSize())
}
