package estimate

import (
	"math"
	"sort"
)

// BucketSet is a fixed ordered set of half-open fee rate intervals
// [low, high) covering (0, +inf) sat/vbyte. The set is shared by every
// computation in a cycle so that results are directly comparable.
//
// Boundaries are denser at low fee rates, where marginal differences matter
// more for probability discrimination. The top bucket is unbounded above.
type BucketSet struct {
	bounds []float64 // ascending bucket lower bounds; bounds[0] is the min rate
}

// Default bucket spacing. MinBucketRate/MaxBucketRate clamp the covered
// range; rates outside map to the first/last bucket.
const (
	MinBucketRate     = 1.0
	MaxBucketRate     = 10000.0
	bucketSpacingRate = 1.1
)

// NewBucketSet generates bucket lower bounds geometrically from min up to
// max with the given ratio, rounded down to whole sat/vbyte and deduped.
// Panics on nonsensical arguments, since bucket sets are fixed at startup.
func NewBucketSet(min, max, ratio float64) BucketSet {
	if min <= 0 || max <= min || ratio <= 1 {
		panic("invalid bucket set parameters")
	}
	bounds := []float64{min}
	for x := min * ratio; x <= max; x *= ratio {
		b := math.Floor(x)
		if b > bounds[len(bounds)-1] {
			bounds = append(bounds, b)
		}
	}
	return BucketSet{bounds: bounds}
}

// DefaultBucketSet returns the bucket set used in production.
func DefaultBucketSet() BucketSet {
	return NewBucketSet(MinBucketRate, MaxBucketRate, bucketSpacingRate)
}

// Len returns the number of buckets.
func (b BucketSet) Len() int {
	return len(b.bounds)
}

// Bucket maps a fee rate to its bucket index. It is total for positive fee
// rates and monotone: a higher fee rate never maps to a lower bucket. Rates
// below the lowest bound clamp to bucket 0.
func (b BucketSet) Bucket(feerate float64) int {
	// Index of the last bound <= feerate.
	i := sort.SearchFloat64s(b.bounds, feerate)
	if i < len(b.bounds) && b.bounds[i] == feerate {
		return i
	}
	if i == 0 {
		return 0
	}
	return i - 1
}

// Bounds returns the half-open interval [low, high) of bucket i. The top
// bucket has high == +inf.
func (b BucketSet) Bounds(i int) (low, high float64) {
	low = b.bounds[i]
	if i == len(b.bounds)-1 {
		high = math.Inf(1)
	} else {
		high = b.bounds[i+1]
	}
	return low, high
}

// LowerBound returns the lower bound of bucket i; recommended fee rates are
// always bucket lower bounds.
func (b BucketSet) LowerBound(i int) float64 {
	return b.bounds[i]
}
