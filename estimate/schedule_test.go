package estimate

import (
	"strconv"
	"testing"

	"github.com/joltfun/btcflow/testutil"
)

// tableFixture builds a ProbTable directly, bypassing trial accumulation.
func tableFixture(b BucketSet, horizons []int64, fill func(bucket, horizon int) float64) *ProbTable {
	p := makeGrid(b.Len(), len(horizons))
	for i := range p {
		for j := range p[i] {
			p[i][j] = fill(i, j)
		}
	}
	return &ProbTable{b: b, horizons: horizons, p: p}
}

func TestEstimateSelection(t *testing.T) {
	b := DefaultBucketSet()
	horizons := []int64{30}

	// Probability ramps with bucket index; the estimate must be the lower
	// bound of the lowest bucket meeting the target.
	table := tableFixture(b, horizons, func(i, j int) float64 {
		return float64(i) / float64(b.Len()-1)
	})
	feerate, guaranteed, ok := table.Estimate(0, 0.5)
	if !ok || !guaranteed {
		t.Fatalf("got ok=%v guaranteed=%v", ok, guaranteed)
	}
	want := -1
	for i := 0; i < b.Len(); i++ {
		if float64(i)/float64(b.Len()-1) >= 0.5 {
			want = i
			break
		}
	}
	if err := testutil.CheckEqual(feerate, b.LowerBound(want)); err != nil {
		t.Error(err)
	}
}

func TestEstimateNotGuaranteed(t *testing.T) {
	b := DefaultBucketSet()
	table := tableFixture(b, []int64{30}, func(i, j int) float64 {
		return 0.5 // nothing ever reaches 0.95
	})

	feerate, guaranteed, ok := table.Estimate(0, 0.95)
	if !ok {
		t.Fatal("estimate should be known")
	}
	if guaranteed {
		t.Error("target unreachable: must be flagged not guaranteed")
	}
	if err := testutil.CheckEqual(feerate, b.LowerBound(b.Len()-1)); err != nil {
		t.Error(err)
	}
}

func TestEstimateUnknown(t *testing.T) {
	b := DefaultBucketSet()
	table := tableFixture(b, []int64{30}, func(i, j int) float64 {
		return unknownProb
	})
	if _, _, ok := table.Estimate(0, 0.5); ok {
		t.Error("all-unknown horizon must yield an unknown estimate")
	}
}

func TestBuildScheduleRoundTrip(t *testing.T) {
	b := DefaultBucketSet()
	horizons := []int64{30, 60}
	probs := []float64{0.5, 0.9}

	table := tableFixture(b, horizons, func(i, j int) float64 {
		return float64(i) / float64(b.Len()-1)
	})
	mempool := make([]float64, b.Len())
	mempool[b.Bucket(3)] = 5000
	flows := map[int64][]float64{30: InflowRate(b, []Tx{{FeeRate: 2, Weight: 900, Time: 10}}, 1800)}

	s := BuildSchedule(b, 12345, mempool, flows, table, probs)
	if err := testutil.CheckEqual(s.Timestamp, int64(12345)); err != nil {
		t.Error(err)
	}

	// Every published fee rate corresponds to an existing bucket's lower
	// bound, never an interpolated value.
	bounds := make(map[float64]bool)
	for i := 0; i < b.Len(); i++ {
		bounds[b.LowerBound(i)] = true
	}
	for minutes, cells := range s.Estimates.ByMinute {
		for prob, cell := range cells {
			if cell == nil {
				t.Errorf("unexpected unknown cell at %s/%s", minutes, prob)
				continue
			}
			if !bounds[cell.FeeRate] {
				t.Errorf("estimate %v at %s/%s is not a bucket bound", cell.FeeRate, minutes, prob)
			}
		}
	}

	// Mempool and flow maps are keyed by bucket lower bound.
	if err := testutil.CheckEqual(s.Mempool, map[string]float64{"3": 5000}); err != nil {
		t.Error(err)
	}
	if err := testutil.CheckEqual(s.Flow["30"], map[string]float64{"2": 30}); err != nil {
		t.Error(err)
	}
}

func TestScheduleDecreasingFees(t *testing.T) {
	b := DefaultBucketSet()
	horizons := []int64{30, 60, 120}
	probs := []float64{0.9}

	// Craft a table where the 60 minute horizon is missing data in low
	// buckets, pushing its raw estimate above the 30 minute one.
	table := tableFixture(b, horizons, func(i, j int) float64 {
		switch j {
		case 1:
			if i < b.Len()/2 {
				return unknownProb
			}
			return 1.0
		default:
			return float64(i) / float64(b.Len()-1)
		}
	})

	s := BuildSchedule(b, 0, make([]float64, b.Len()), nil, table, probs)
	prev := -1.0
	for _, minutes := range horizons {
		cell := s.Estimates.ByMinute[strconv.FormatInt(minutes, 10)]["0.9"]
		if cell == nil {
			t.Fatalf("cell for %d should be known", minutes)
		}
		if prev >= 0 && cell.FeeRate > prev {
			t.Errorf("fee increases with horizon: %v > %v at %d min", cell.FeeRate, prev, minutes)
		}
		prev = cell.FeeRate
	}
}
