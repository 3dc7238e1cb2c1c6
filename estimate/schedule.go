package estimate

import (
	"strconv"
)

// EstimateCell is one published recommendation: the lowest bucket lower
// bound whose confirmation probability meets the target. Guaranteed is false
// when no bucket reached the target and the top bucket's bound is reported
// instead.
type EstimateCell struct {
	FeeRate    float64 `json:"feerate"`
	Guaranteed bool    `json:"guaranteed"`
}

// ScheduleEstimates holds the recommended fee rates, keyed by horizon in
// minutes, then by target probability. A nil cell means insufficient data.
type ScheduleEstimates struct {
	ByMinute map[string]map[string]*EstimateCell `json:"by_minute"`
}

// Schedule is the output artifact of one compute cycle. Fee rates are in
// sat/vbyte, timespans in minutes, flow in weight-units per minute.
// Immutable once written.
type Schedule struct {
	Timestamp int64                         `json:"timestamp"`
	Mempool   map[string]float64            `json:"mempool"`
	Flow      map[string]map[string]float64 `json:"flow"`
	Estimates ScheduleEstimates             `json:"estimates"`
}

// BuildSchedule assembles the output schedule from the per-bucket mempool
// weights, the per-timespan inflow rates, and the probability table. probs
// are the target probabilities to report.
func BuildSchedule(b BucketSet, now int64, mempool []float64, flows map[int64][]float64,
	table *ProbTable, probs []float64) *Schedule {

	s := &Schedule{
		Timestamp: now,
		Mempool:   BucketMap(b, mempool),
		Flow:      make(map[string]map[string]float64),
		Estimates: ScheduleEstimates{
			ByMinute: make(map[string]map[string]*EstimateCell),
		},
	}
	for minutes, rate := range flows {
		s.Flow[strconv.FormatInt(minutes, 10)] = BucketMap(b, rate)
	}

	for j, minutes := range table.Horizons() {
		cells := make(map[string]*EstimateCell)
		for _, target := range probs {
			if feerate, guaranteed, ok := table.Estimate(j, target); ok {
				cells[formatProb(target)] = &EstimateCell{
					FeeRate:    feerate,
					Guaranteed: guaranteed,
				}
			} else {
				cells[formatProb(target)] = nil
			}
		}
		s.Estimates.ByMinute[strconv.FormatInt(minutes, 10)] = cells
	}

	s.correctDecreasingFees(table.Horizons(), probs)
	return s
}

// correctDecreasingFees enforces that, for a fixed target probability, the
// recommended fee never increases as the horizon grows: a longer deadline
// must not cost more.
func (s *Schedule) correctDecreasingFees(horizons []int64, probs []float64) {
	for _, target := range probs {
		pkey := formatProb(target)
		var best *EstimateCell
		for _, minutes := range horizons {
			cells := s.Estimates.ByMinute[strconv.FormatInt(minutes, 10)]
			cell := cells[pkey]
			if cell == nil {
				continue
			}
			if best != nil && best.FeeRate < cell.FeeRate {
				cells[pkey] = &EstimateCell{
					FeeRate:    best.FeeRate,
					Guaranteed: best.Guaranteed || cell.Guaranteed,
				}
			} else {
				best = cell
			}
		}
	}
}

// BucketMap converts a per-bucket vector into a map keyed by bucket lower
// bound, omitting empty buckets.
func BucketMap(b BucketSet, v []float64) map[string]float64 {
	m := make(map[string]float64)
	for i, x := range v {
		if x != 0 {
			m[strconv.FormatFloat(b.LowerBound(i), 'f', -1, 64)] = x
		}
	}
	return m
}

func formatProb(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}
