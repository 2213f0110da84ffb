package sketch

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCentroidIndexFloorCeiling(t *testing.T) {
	idx := newCentroidIndex()
	for i, mean := range []float64{1, 3, 5, 7, 9} {
		idx.insert(mean, uint64(i+1), 1, nil)
	}

	f := idx.floor(4, 0)
	require.NotEqual(t, idx.nilNode, f)
	require.Equal(t, 3.0, f.mean)

	c := idx.ceiling(4, 0)
	require.NotEqual(t, idx.nilNode, c)
	require.Equal(t, 5.0, c.mean)

	require.Equal(t, 1.0, idx.floor(1, 0).mean)
	require.Equal(t, idx.nilNode, idx.floor(0, 0))
	require.Equal(t, idx.nilNode, idx.ceiling(10, 0))
}

func TestCentroidIndexInOrderIteration(t *testing.T) {
	idx := newCentroidIndex()
	means := []float64{5, 1, 9, 3, 7, 2, 8, 4, 6}
	for i, m := range means {
		idx.insert(m, uint64(i+1), 1, nil)
	}

	var got []float64
	for n := idx.first(); n != idx.nilNode; n = idx.next(n) {
		got = append(got, n.mean)
	}
	require.Equal(t, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
}

func TestCentroidIndexHeadCountAndHeadSum(t *testing.T) {
	idx := newCentroidIndex()
	// counts 10, 20, 30, 40, 50 at means 1..5
	for i := 0; i < 5; i++ {
		idx.insert(float64(i+1), uint64(i+1), uint64((i+1)*10), nil)
	}

	n := idx.first()
	require.Equal(t, 0, idx.headCount(n))
	require.Equal(t, uint64(0), idx.headSum(n))

	for i := 0; i < 2; i++ {
		n = idx.next(n)
	}
	// n is now the third element (mean 3, count 30)
	require.Equal(t, 2, idx.headCount(n))
	require.Equal(t, uint64(30), idx.headSum(n))
}

func TestCentroidIndexRemoveMaintainsOrderAndAggregates(t *testing.T) {
	idx := newCentroidIndex()
	rng := rand.New(rand.NewSource(7))
	means := rng.Perm(200)

	nodes := make([]*centroidNode, 0, len(means))
	for i, m := range means {
		nodes = append(nodes, idx.insert(float64(m), uint64(i+1), 1, nil))
	}
	require.Equal(t, len(means), idx.size())

	for i := 0; i < len(nodes); i += 2 {
		idx.remove(nodes[i])
	}
	require.Equal(t, len(means)/2, idx.size())

	var prevMean float64
	var prevID uint64
	count := 0
	for n := idx.first(); n != idx.nilNode; n = idx.next(n) {
		if count > 0 {
			require.True(t, less(prevMean, prevID, n.mean, n.id))
		}
		prevMean, prevID = n.mean, n.id
		count++
		require.Equal(t, idx.headCount(n), count-1)
	}
	require.Equal(t, idx.size(), count)
	require.Equal(t, uint64(count), idx.totalWeight())
}

func TestCentroidIndexTombstoneProbeOrdering(t *testing.T) {
	idx := newCentroidIndex()
	real := idx.insert(5.0, 1, 1, nil)

	// A probe with id 0 must sort strictly before a real centroid at
	// the same mean.
	require.True(t, less(5.0, 0, real.mean, real.id))
	require.False(t, less(real.mean, real.id, 5.0, 0))
}
