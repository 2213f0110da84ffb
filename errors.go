package sketch

import "github.com/pkg/errors"

// Kind identifies which class of failure an error returned by this
// package belongs to. Test for a specific kind with the standard
// library's errors.Is against the corresponding sentinel below, not by
// comparing Kind values directly, since wrapped errors satisfy Is
// without exposing their Kind.
type Kind int

const (
	// KindInvalidInput covers non-finite values, non-positive weights,
	// out-of-range quantiles, quantile queries on fewer than two
	// centroids, and non-positive compression.
	KindInvalidInput Kind = iota + 1
	// KindOverflow covers a varint count that needs more than five
	// payload bytes to encode, or a decode whose five payload bytes
	// all carry the continuation bit.
	KindOverflow
	// KindUnknownFormat covers a deserialization tag outside {1, 2}.
	KindUnknownFormat
	// KindTruncated covers a byte buffer that runs out before the
	// declared number of centroids has been consumed.
	KindTruncated
)

// Sentinel errors identifying the four failure kinds above. Errors
// returned from this package wrap one of these via errors.Wrapf, so
// callers should test with errors.Is(err, sketch.ErrInvalidInput) and
// similar rather than string-matching messages.
var (
	ErrInvalidInput  = errors.New("sketch: invalid input")
	ErrOverflow      = errors.New("sketch: overflow")
	ErrUnknownFormat = errors.New("sketch: unknown format")
	ErrTruncated     = errors.New("sketch: truncated")
)
