// Package sketch provides an adaptive, single-pass quantile summary
// (a t-digest) over a stream of real-valued observations. It bounds
// its centroid count by a compression parameter while targeting
// part-per-million accuracy near the tails of the distribution and
// sub-percent accuracy in the middle.
package sketch

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// Centroid is a weighted point summarizing a cluster of observations
// absorbed at roughly the same value. Samples is populated only when
// the owning Sketch was constructed with WithRecordAll, and is never
// read back by the sketch's own algorithm.
type Centroid struct {
	Mean    float64
	Count   uint64
	ID      uint64
	Samples []float64
}

// Sketch is a single-writer, mergeable quantile summary. See the
// package doc for the algorithm; concurrent mutation of one Sketch, or
// mutation concurrent with a read, is the caller's responsibility.
type Sketch struct {
	compression float64
	index       *centroidIndex
	totalWeight uint64
	recordAll   bool
	nextID      uint64
	rng         *RNG
}

// Option configures a Sketch at construction time.
type Option func(*Sketch)

// WithRecordAll turns on the write-only "record all" diagnostic mode:
// every absorbed observation is appended to its centroid's Samples.
// It has no effect on the sketch's accuracy or update behavior.
func WithRecordAll() Option {
	return func(s *Sketch) { s.recordAll = true }
}

// New returns an empty Sketch with the given compression, seeded from
// the current time. Use NewWithSeed or NewWithRNG for reproducible
// randomness.
func New(compression float64, opts ...Option) (*Sketch, error) {
	return NewWithRNG(compression, newTimeSeededRNG(), opts...)
}

// NewWithSeed returns an empty Sketch whose internal RNG is seeded
// deterministically from seed.
func NewWithSeed(compression float64, seed uint64, opts ...Option) (*Sketch, error) {
	return NewWithRNG(compression, NewRNG(seed), opts...)
}

// NewWithRNG returns an empty Sketch that draws all of its randomized
// decisions (the Add reservoir tie-break, the Compress shuffle) from
// rng. Passing the same rng state to two sketches makes their
// randomized decisions diverge as soon as either is mutated, since
// both share the single underlying generator.
func NewWithRNG(compression float64, rng *RNG, opts ...Option) (*Sketch, error) {
	if !(compression > 0) {
		return nil, errors.Wrapf(ErrInvalidInput, "compression must be > 0, got %v", compression)
	}
	if rng == nil {
		rng = newTimeSeededRNG()
	}
	s := &Sketch{
		compression: compression,
		index:       newCentroidIndex(),
		nextID:      1,
		rng:         rng,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Sketch) String() string {
	return fmt.Sprintf("Sketch<compression=%.2f, size=%d, centroids=%d>", s.compression, s.totalWeight, s.index.size())
}

// Compression returns the sketch's compression parameter.
func (s *Sketch) Compression() float64 { return s.compression }

// Size returns the total weight absorbed by the sketch.
func (s *Sketch) Size() uint64 { return s.totalWeight }

// CentroidCount returns the number of centroids currently held.
func (s *Sketch) CentroidCount() int { return s.index.size() }

// Centroids calls fn for each centroid in ascending (mean, id) order,
// stopping early if fn returns false. The Centroid values passed to fn
// are snapshots of the node at call time; Samples aliases the node's
// backing slice and must not be retained past a subsequent mutation.
func (s *Sketch) Centroids(fn func(Centroid) bool) {
	for n := s.index.first(); n != s.index.nilNode; n = s.index.next(n) {
		if !fn(Centroid{Mean: n.mean, Count: n.count, ID: n.id, Samples: n.samples}) {
			return
		}
	}
}

func (s *Sketch) snapshot() []Centroid {
	out := make([]Centroid, 0, s.index.size())
	s.Centroids(func(c Centroid) bool {
		out = append(out, c)
		return true
	})
	return out
}

func (s *Sketch) insertCentroid(mean float64, count uint64, samples []float64) *centroidNode {
	id := s.nextID
	s.nextID++
	return s.index.insert(mean, id, count, samples)
}

// threshold is the size bound k = 4*N*q*(1-q)/compression from
// spec.md §4.2: the maximum weight a centroid sitting at rank
// fraction q may absorb.
func (s *Sketch) threshold(q float64) float64 {
	return 4 * float64(s.totalWeight) * q * (1 - q) / s.compression
}

// Add incorporates one observation of value x with weight w into the
// sketch. w must be >= 1; x must be finite.
func (s *Sketch) Add(x float64, w uint64) error {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return errors.Wrapf(ErrInvalidInput, "value %v is not finite", x)
	}
	if w == 0 {
		return errors.Wrapf(ErrInvalidInput, "weight must be >= 1, got %d", w)
	}

	var newSamples []float64
	if s.recordAll {
		newSamples = []float64{x}
	}

	if s.index.size() == 0 {
		s.insertCentroid(x, w, newSamples)
		s.totalWeight = w
		return nil
	}

	start := s.index.floor(x, 0)
	if start == s.index.nilNode {
		start = s.index.ceiling(x, 0)
	}
	if start == s.index.nilNode {
		panic("sketch: floor and ceiling both missing on a non-empty index")
	}

	// Pass 1: distance to x is unimodal along ascending mean order once
	// we've passed the nearest centroid, so scan forward from start
	// until the distance strictly increases, remembering the last node
	// tied for the minimum.
	minDist := math.Abs(start.mean - x)
	last := start
	for cur := s.index.next(start); cur != s.index.nilNode; cur = s.index.next(cur) {
		d := math.Abs(cur.mean - x)
		if d > minDist {
			break
		}
		minDist = d
		last = cur
	}

	// Pass 2: among the tie pool [start, last], reservoir-sample one
	// candidate whose post-absorption weight would stay under its
	// rank-dependent size bound.
	var chosen *centroidNode
	ties := 0
	sum := s.index.headSum(start)
	for cur := start; ; cur = s.index.next(cur) {
		if math.Abs(cur.mean-x) == minDist {
			q := (float64(sum) + float64(cur.count)/2) / float64(s.totalWeight)
			k := s.threshold(q)
			if float64(cur.count+w) <= k {
				ties++
				if s.rng.Intn(ties) == 0 {
					chosen = cur
				}
			}
		}
		sum += cur.count
		if cur == last {
			break
		}
	}

	if chosen == nil {
		s.insertCentroid(x, w, newSamples)
	} else {
		mean, count, id, samples := chosen.mean, chosen.count, chosen.id, chosen.samples
		s.index.remove(chosen)

		newMean := (mean*float64(count) + x*float64(w)) / float64(count+w)
		newCount := count + w
		if s.recordAll {
			samples = append(samples, x)
		}
		s.index.insert(newMean, id, newCount, samples)
	}

	s.totalWeight += w

	if float64(s.index.size()) > 100*s.compression {
		s.Compress()
	}

	return nil
}

// Compress re-inserts every centroid in a fresh random order, which
// undoes the clustering a sorted or adversarial insertion order can
// otherwise force onto the update rule in Add.
func (s *Sketch) Compress() {
	if s.index.size() <= 1 {
		return
	}

	items := s.snapshot()
	s.rng.shuffleCentroids(items)

	fresh := &Sketch{
		compression: s.compression,
		index:       newCentroidIndex(),
		nextID:      1,
		rng:         s.rng,
	}
	for _, c := range items {
		// Re-adding by (mean, count) only, as spec.md §4.3 requires;
		// any accumulated Samples are intentionally not carried over.
		// fresh leaves recordAll off so the replayed means are not
		// recorded as samples; s keeps its own recordAll setting.
		_ = fresh.Add(c.Mean, c.Count)
	}

	s.index = fresh.index
	s.totalWeight = fresh.totalWeight
	s.nextID = fresh.nextID
}

// Merge concatenates the centroids of every non-empty input sketch,
// shuffles them with rng, and replays them into a new Sketch at the
// given compression. The result's record-all mode is on if any input's
// was, but record-all samples are not carried across the merge: it is
// a write-only diagnostic that never feeds back into the algorithm.
func Merge(compression float64, sketches []*Sketch, rng *RNG) (*Sketch, error) {
	if rng == nil {
		return nil, errors.Wrapf(ErrInvalidInput, "merge requires an explicit RNG")
	}
	out, err := NewWithRNG(compression, rng)
	if err != nil {
		return nil, err
	}

	var items []Centroid
	recordAll := false
	for _, sk := range sketches {
		if sk == nil || sk.index.size() == 0 {
			continue
		}
		if sk.recordAll {
			recordAll = true
		}
		items = append(items, sk.snapshot()...)
	}

	rng.shuffleCentroids(items)

	for _, c := range items {
		if err := out.Add(c.Mean, c.Count); err != nil {
			return nil, err
		}
	}
	// Set only after the replay, so the replayed means are not recorded
	// as samples.
	out.recordAll = recordAll
	return out, nil
}

// CDF returns the approximate fraction of absorbed weight at or below
// x, or NaN if the sketch is empty.
func (s *Sketch) CDF(x float64) float64 {
	n := s.index.size()
	if n == 0 {
		return math.NaN()
	}
	if n == 1 {
		only := s.index.first()
		if x < only.mean {
			return 0
		}
		return 1
	}

	a := s.index.first()
	b := s.index.next(a)
	right := (b.mean - a.mean) / 2
	left := right
	var r uint64

	for {
		if v, ok := intervalCDF(a, left, right, r, s.totalWeight, x); ok {
			return v
		}

		r += a.count
		nb := s.index.next(b)
		if nb == s.index.nilNode {
			// b is the final centroid: mirror its left width into its
			// right half for a symmetric tail interval.
			left = right
			if x > b.mean+right {
				return 1
			}
			v, _ := intervalCDF(b, left, right, r, s.totalWeight, x)
			return v
		}

		left = right
		a = b
		b = nb
		right = (b.mean - a.mean) / 2
	}
}

// intervalCDF tests whether x falls in centroid c's represented
// interval [c.mean-left, c.mean+right] and, if so, returns the
// interpolated CDF value.
func intervalCDF(c *centroidNode, left, right float64, r uint64, total uint64, x float64) (float64, bool) {
	lo := c.mean - left
	hi := c.mean + right
	if x < lo || x > hi {
		return 0, false
	}
	t := 0.0
	if width := hi - lo; width > 0 {
		t = (x - lo) / width
		if t < 0 {
			t = 0
		} else if t > 1 {
			t = 1
		}
	}
	return (float64(r) + float64(c.count)*t) / float64(total), true
}

// Quantile returns the approximate value at cumulative weight fraction
// q. It fails with ErrInvalidInput if q is outside [0,1] or the sketch
// holds fewer than two centroids.
func (s *Sketch) Quantile(q float64) (float64, error) {
	if q < 0 || q > 1 {
		return 0, errors.Wrapf(ErrInvalidInput, "quantile %v outside [0,1]", q)
	}
	n := s.index.size()
	if n < 2 {
		return 0, errors.Wrapf(ErrInvalidInput, "quantile requires at least 2 centroids, have %d", n)
	}

	Q := q * float64(s.totalWeight)
	a := s.index.first()
	b := s.index.next(a)

	if n == 2 {
		half := (b.mean - a.mean) / 2
		if q > 0.75 {
			return b.mean + half*(4*q-3), nil
		}
		return a.mean + half*(4*q-1), nil
	}

	right := (b.mean - a.mean) / 2
	left := right

	if Q <= float64(a.count) {
		return a.mean + left*(2*Q-float64(a.count))/float64(a.count), nil
	}

	t := float64(a.count)
	for {
		if t+float64(b.count)/2 >= Q {
			return b.mean - left*2*(Q-t)/float64(b.count), nil
		}
		if t+float64(b.count) >= Q {
			return b.mean + right*2*(Q-t-float64(b.count)/2)/float64(b.count), nil
		}

		t += float64(b.count)
		a = b
		nb := s.index.next(b)
		if nb == s.index.nilNode {
			return b.mean + right, nil
		}
		b = nb
		left = right
		right = (b.mean - a.mean) / 2
	}
}
