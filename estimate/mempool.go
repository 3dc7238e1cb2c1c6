package estimate

import "errors"

// ErrNoSnapshot indicates that no mempool snapshot has been captured yet for
// this run. Downstream consumers must report insufficient data rather than
// treat the pool as empty.
var ErrNoSnapshot = errors.New("no mempool snapshot available")

// MempoolWeight computes, per bucket, the weight-units currently resident in
// the mempool, from the latest snapshot. Pure reduction; the summed result
// always equals snap.TotalWeight().
func MempoolWeight(b BucketSet, snap *Snapshot) ([]float64, error) {
	if snap == nil {
		return nil, ErrNoSnapshot
	}
	weight := make([]float64, b.Len())
	for _, entry := range snap.Entries {
		weight[b.Bucket(entry.FeeRate)] += float64(entry.Weight)
	}
	return weight, nil
}
