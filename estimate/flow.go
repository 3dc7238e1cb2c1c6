package estimate

// InflowRate computes, per bucket, the weight-units per minute that entered
// the mempool over a window of windowSec seconds. txs must already be
// restricted to that window; fee rate is used only for bucket assignment.
func InflowRate(b BucketSet, txs []Tx, windowSec int64) []float64 {
	rate := make([]float64, b.Len())
	for _, tx := range txs {
		rate[b.Bucket(tx.FeeRate)] += float64(tx.Weight)
	}
	minutes := float64(windowSec) / 60
	for i := range rate {
		rate[i] /= minutes
	}
	return rate
}

// DrainRate computes, per bucket, the weight-units per minute that left the
// mempool (confirmed or evicted) over the span covered by snaps. The drained
// set of each adjacent snapshot pair is an ordinary set difference by txid.
//
// A transaction that both arrives and drains within a single snapshot
// interval never appears in any snapshot; it is recovered from the arrival
// log: any arrival timestamped inside the interval and absent from the
// interval's closing snapshot has drained. txs must be sorted by increasing
// time and cover at least the span of snaps.
func DrainRate(b BucketSet, snaps []*Snapshot, txs []Tx) ([]float64, error) {
	if len(snaps) < 2 {
		return nil, SnapWindowError{NumSnaps: len(snaps), MinSnaps: 2}
	}
	if err := checkSnapshots(snaps); err != nil {
		return nil, err
	}

	rate := make([]float64, b.Len())
	j := 0 // cursor into txs, which are sorted by increasing time
	for i := 0; i < len(snaps)-1; i++ {
		prev, curr := snaps[i], snaps[i+1]
		for _, entry := range prev.Sub(curr) {
			rate[b.Bucket(entry.FeeRate)] += float64(entry.Weight)
		}
		// Fast-confirming arrivals, seen by neither bounding snapshot.
		for j < len(txs) && txs[j].Time <= prev.Time {
			j++
		}
		for k := j; k < len(txs) && txs[k].Time <= curr.Time; k++ {
			tx := txs[k]
			if _, ok := prev.Entries[tx.Txid]; ok {
				continue
			}
			if _, ok := curr.Entries[tx.Txid]; ok {
				continue
			}
			rate[b.Bucket(tx.FeeRate)] += float64(tx.Weight)
		}
	}

	minutes := float64(snaps[len(snaps)-1].Time-snaps[0].Time) / 60
	for i := range rate {
		rate[i] /= minutes
	}
	return rate, nil
}
