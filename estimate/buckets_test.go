package estimate

import (
	"math"
	"testing"

	"github.com/joltfun/btcflow/testutil"
)

func TestBucketSetBounds(t *testing.T) {
	b := DefaultBucketSet()

	// Lower bounds start at the minimum rate and are strictly ascending.
	if err := testutil.CheckEqual(b.LowerBound(0), MinBucketRate); err != nil {
		t.Error(err)
	}
	for i := 1; i < b.Len(); i++ {
		if b.LowerBound(i) <= b.LowerBound(i-1) {
			t.Fatalf("bounds not ascending at %d", i)
		}
	}

	// Buckets tile the space: each bucket's high is the next bucket's low.
	for i := 0; i < b.Len()-1; i++ {
		_, high := b.Bounds(i)
		low, _ := b.Bounds(i + 1)
		if err := testutil.CheckEqual(high, low); err != nil {
			t.Error(err)
		}
	}
	_, top := b.Bounds(b.Len() - 1)
	if !math.IsInf(top, 1) {
		t.Error("top bucket should be unbounded above")
	}
}

func TestBucketSetMonotone(t *testing.T) {
	b := DefaultBucketSet()
	prev := 0
	for rate := 0.5; rate < 20000; rate *= 1.07 {
		i := b.Bucket(rate)
		if i < prev {
			t.Fatalf("Bucket(%v) = %d < %d, not monotone", rate, i, prev)
		}
		prev = i
	}

	// Each bucket contains its own bounds.
	for i := 0; i < b.Len(); i++ {
		low, high := b.Bounds(i)
		if err := testutil.CheckEqual(b.Bucket(low), i); err != nil {
			t.Error(err)
		}
		if !math.IsInf(high, 1) {
			if err := testutil.CheckEqual(b.Bucket(high-0.01), i); err != nil {
				t.Error(err)
			}
		}
	}

	// Out-of-range rates clamp to the extreme buckets.
	if err := testutil.CheckEqual(b.Bucket(0.1), 0); err != nil {
		t.Error(err)
	}
	if err := testutil.CheckEqual(b.Bucket(1e9), b.Len()-1); err != nil {
		t.Error(err)
	}
}

func TestBucketSetDenseAtLow(t *testing.T) {
	// Boundaries are denser at low fee rates: single sat/vbyte resolution
	// up to 10 sat/vb, and much coarser near the top of the range.
	b := DefaultBucketSet()
	for want := 1.0; want <= 10; want++ {
		low, _ := b.Bounds(b.Bucket(want))
		if err := testutil.CheckEqual(low, want); err != nil {
			t.Error(err)
		}
	}
	firstGap := b.LowerBound(1) - b.LowerBound(0)
	lastGap := b.LowerBound(b.Len()-1) - b.LowerBound(b.Len()-2)
	if lastGap < 100*firstGap {
		t.Errorf("expected coarse top spacing, got first=%v last=%v", firstGap, lastGap)
	}
}
