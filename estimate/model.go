package estimate

import (
	"fmt"
)

// unknownProb marks a (bucket, horizon) cell with too few trials to report.
const unknownProb = -1

// ConfirmModelConfig configures the confirmation probability model.
type ConfirmModelConfig struct {
	// Horizons are the confirmation time windows to evaluate, in minutes,
	// ascending.
	Horizons []int64

	// MinTrials is the minimum trial count below which a cell is reported
	// as unknown instead of a noisy point estimate.
	MinTrials int
}

// ConfirmModel accumulates survival trials from historical snapshot
// intervals. For each adjacent snapshot pair and each transaction present in
// the earlier snapshot, every horizon no shorter than the pair's interval
// gets one trial; the trial is a hit if the transaction was observed absent
// from the pool at or before the horizon deadline.
//
// The model is rebuilt from the retained log window each cycle, so it is a
// pure function of the log and restartable by replaying a fixture.
type ConfirmModel struct {
	b      BucketSet
	cfg    ConfirmModelConfig
	hits   [][]float64 // [bucket][horizon]
	trials [][]float64
}

func NewConfirmModel(b BucketSet, cfg ConfirmModelConfig) (*ConfirmModel, error) {
	if len(cfg.Horizons) == 0 {
		return nil, fmt.Errorf("no horizons configured")
	}
	for i, h := range cfg.Horizons {
		if h <= 0 {
			return nil, fmt.Errorf("horizon %d is not positive", h)
		}
		if i > 0 && h <= cfg.Horizons[i-1] {
			return nil, fmt.Errorf("horizons not ascending")
		}
	}
	if cfg.MinTrials < 1 {
		return nil, fmt.Errorf("mintrials must be >= 1")
	}
	m := &ConfirmModel{b: b, cfg: cfg}
	m.hits = makeGrid(b.Len(), len(cfg.Horizons))
	m.trials = makeGrid(b.Len(), len(cfg.Horizons))
	return m, nil
}

// AddSnapshots accumulates trials from a time-sorted snapshot window.
func (m *ConfirmModel) AddSnapshots(snaps []*Snapshot) error {
	if len(snaps) < 2 {
		return SnapWindowError{NumSnaps: len(snaps), MinSnaps: 2}
	}
	if err := checkSnapshots(snaps); err != nil {
		return err
	}

	n := len(snaps)
	coverageEnd := snaps[n-1].Time

	// absentAt maps txids present in snaps[i+1] to the time of their first
	// observed absence in snaps[i+2:], or 0 if present through the end.
	// Built backwards so each pair is processed in O(len(entries)).
	absentAt := make(map[string]int64)
	for i := n - 2; i >= 0; i-- {
		curr, next := snaps[i], snaps[i+1]
		interval := next.Time - curr.Time

		drained := make(map[string]int64, len(curr.Entries))
		for txid := range curr.Entries {
			if _, ok := next.Entries[txid]; !ok {
				drained[txid] = next.Time
			} else {
				drained[txid] = absentAt[txid] // 0 if never absent
			}
		}

		for txid, entry := range curr.Entries {
			drain := drained[txid]
			bkt := m.b.Bucket(entry.FeeRate)
			for h, minutes := range m.cfg.Horizons {
				hsec := minutes * 60
				if hsec < interval {
					// Horizon below snapshot resolution; cannot be
					// reliably estimated.
					continue
				}
				deadline := curr.Time + hsec
				switch {
				case drain != 0 && drain <= deadline:
					m.trials[bkt][h]++
					m.hits[bkt][h]++
				case drain != 0:
					// Drained, but only after the deadline.
					m.trials[bkt][h]++
				case coverageEnd >= deadline:
					// Observed still present at the deadline.
					m.trials[bkt][h]++
				default:
					// Coverage ends before the deadline with the tx
					// still present; outcome unknown, no trial.
				}
			}
		}
		absentAt = drained
	}
	return nil
}

// Probs computes the per-cell empirical probabilities, applies the mandatory
// monotone repair, and returns the resulting table. An error is returned only
// if monotonicity cannot be established, which indicates a logic bug; the
// caller should abandon the cycle.
func (m *ConfirmModel) Probs() (*ProbTable, error) {
	nb, nh := m.b.Len(), len(m.cfg.Horizons)
	p := makeGrid(nb, nh)
	for i := 0; i < nb; i++ {
		for j := 0; j < nh; j++ {
			if m.trials[i][j] >= float64(m.cfg.MinTrials) {
				p[i][j] = m.hits[i][j] / m.trials[i][j]
			} else {
				p[i][j] = unknownProb
			}
		}
	}

	// Isotonic correction across buckets for each fixed horizon: sampling
	// noise must not make a higher fee rate look slower to confirm.
	for j := 0; j < nh; j++ {
		var idx []int
		var vals, weights []float64
		for i := 0; i < nb; i++ {
			if p[i][j] != unknownProb {
				idx = append(idx, i)
				vals = append(vals, p[i][j])
				weights = append(weights, m.trials[i][j])
			}
		}
		for k, v := range isotonic(vals, weights) {
			p[idx[k]][j] = v
		}
	}

	// Monotone closure across both axes: probability is non-decreasing in
	// fee rate and in horizon. Values only ever increase, so this
	// terminates; the cap is a safety net.
	t := &ProbTable{b: m.b, horizons: m.cfg.Horizons, p: p}
	for iter := 0; iter < nb*nh+1; iter++ {
		if !t.closePass() {
			break
		}
	}
	if err := t.checkMonotone(); err != nil {
		return nil, err
	}
	return t, nil
}

// ProbTable is the repaired (bucket, horizon) -> confirmation probability
// table exposed by the model.
type ProbTable struct {
	b        BucketSet
	horizons []int64
	p        [][]float64
}

// Horizons returns the evaluated horizons in minutes, ascending.
func (t *ProbTable) Horizons() []int64 {
	return t.horizons
}

// Prob returns the estimated probability that weight entering at bucket i
// confirms within horizons[j] minutes. ok is false if the cell is unknown.
func (t *ProbTable) Prob(i, j int) (prob float64, ok bool) {
	if t.p[i][j] == unknownProb {
		return 0, false
	}
	return t.p[i][j], true
}

// Estimate selects the lowest bucket whose probability meets target for
// horizon index j, returning that bucket's lower bound. If no bucket reaches
// the target, the top bucket's lower bound is returned with guaranteed set
// to false. ok is false when every cell for the horizon is unknown.
func (t *ProbTable) Estimate(j int, target float64) (feerate float64, guaranteed, ok bool) {
	known := false
	for i := 0; i < t.b.Len(); i++ {
		p, k := t.Prob(i, j)
		if !k {
			continue
		}
		known = true
		if p >= target {
			return t.b.LowerBound(i), true, true
		}
	}
	if !known {
		return 0, false, false
	}
	return t.b.LowerBound(t.b.Len() - 1), false, true
}

// closePass does one running-max sweep along each axis over known cells,
// reporting whether anything changed.
func (t *ProbTable) closePass() (changed bool) {
	nb, nh := t.b.Len(), len(t.horizons)
	for j := 0; j < nh; j++ {
		max := float64(unknownProb)
		for i := 0; i < nb; i++ {
			if t.p[i][j] == unknownProb {
				continue
			}
			if t.p[i][j] < max {
				t.p[i][j] = max
				changed = true
			} else {
				max = t.p[i][j]
			}
		}
	}
	for i := 0; i < nb; i++ {
		max := float64(unknownProb)
		for j := 0; j < nh; j++ {
			if t.p[i][j] == unknownProb {
				continue
			}
			if t.p[i][j] < max {
				t.p[i][j] = max
				changed = true
			} else {
				max = t.p[i][j]
			}
		}
	}
	return changed
}

func (t *ProbTable) checkMonotone() error {
	nb, nh := t.b.Len(), len(t.horizons)
	for j := 0; j < nh; j++ {
		prev := float64(unknownProb)
		for i := 0; i < nb; i++ {
			if t.p[i][j] == unknownProb {
				continue
			}
			if t.p[i][j] < prev {
				return fmt.Errorf("probability not monotone in feerate at bucket %d, horizon %d", i, t.horizons[j])
			}
			prev = t.p[i][j]
		}
	}
	for i := 0; i < nb; i++ {
		prev := float64(unknownProb)
		for j := 0; j < nh; j++ {
			if t.p[i][j] == unknownProb {
				continue
			}
			if t.p[i][j] < prev {
				return fmt.Errorf("probability not monotone in horizon at bucket %d, horizon %d", i, t.horizons[j])
			}
			prev = t.p[i][j]
		}
	}
	return nil
}

// isotonic performs weighted isotonic regression (pool adjacent violators),
// returning the non-decreasing fit of vals.
func isotonic(vals, weights []float64) []float64 {
	type block struct {
		sum, w float64
		n      int
	}
	var blocks []block
	for i := range vals {
		blocks = append(blocks, block{sum: vals[i] * weights[i], w: weights[i], n: 1})
		for len(blocks) > 1 {
			a, b := blocks[len(blocks)-2], blocks[len(blocks)-1]
			if a.sum/a.w <= b.sum/b.w {
				break
			}
			blocks = blocks[:len(blocks)-2]
			blocks = append(blocks, block{sum: a.sum + b.sum, w: a.w + b.w, n: a.n + b.n})
		}
	}
	fit := make([]float64, 0, len(vals))
	for _, blk := range blocks {
		mean := blk.sum / blk.w
		for k := 0; k < blk.n; k++ {
			fit = append(fit, mean)
		}
	}
	return fit
}

func makeGrid(n, m int) [][]float64 {
	g := make([][]float64, n)
	for i := range g {
		g[i] = make([]float64, m)
	}
	return g
}
