package sketch

import "time"

// pcgMultiplier is the LCG step multiplier used by the PCG32 family.
const pcgMultiplier = 6364136223846793005

// RNG is the deterministic randomness source a Sketch draws from for
// its reservoir tie-break in Add and its shuffles in Compress and
// Merge. It is a small PCG32 generator rather than math/rand's global
// source so that every randomized decision a Sketch makes is
// reproducible from a single seed, and so concurrently-used sketches
// never contend on a shared global generator.
type RNG struct {
	state uint64
	inc   uint64
}

// NewRNG returns an RNG seeded deterministically from seed. The same
// seed always produces the same sequence of Intn/shuffle decisions.
func NewRNG(seed uint64) *RNG {
	r := &RNG{}
	r.seed(seed, 0xda3e39cb94b95bdb)
	return r
}

// newTimeSeededRNG is used by constructors that don't ask the caller
// for a seed; it trades reproducibility for convenience.
func newTimeSeededRNG() *RNG {
	return NewRNG(uint64(time.Now().UnixNano()))
}

func (r *RNG) seed(state, sequence uint64) {
	r.state = 0
	r.inc = (sequence << 1) | 1
	r.step()
	r.state += state
	r.step()
}

func (r *RNG) step() uint32 {
	oldstate := r.state
	r.state = oldstate*pcgMultiplier + r.inc

	xorshifted := uint32(((oldstate >> 18) ^ oldstate) >> 27)
	rot := uint32(oldstate >> 59)
	return xorshifted>>rot | (xorshifted << ((-rot) & 31))
}

// Uint32 returns the next pseudo-random 32-bit value in the sequence.
func (r *RNG) Uint32() uint32 {
	return r.step()
}

// Intn returns a pseudo-random int in [0, n). It panics if n <= 0.
func (r *RNG) Intn(n int) int {
	if n <= 0 {
		panic("sketch: RNG.Intn called with n <= 0")
	}
	return int((uint64(r.Uint32()) * uint64(n)) >> 32)
}

// shuffleCentroids permutes data in place using Fisher-Yates.
func (r *RNG) shuffleCentroids(data []Centroid) {
	for i := len(data) - 1; i > 0; i-- {
		j := r.Intn(i + 1)
		data[i], data[j] = data[j], data[i]
	}
}
