package estimate

import (
	"strconv"
	"testing"

	"github.com/joltfun/btcflow/testutil"
)

func snapshot(t int64, entries map[string][2]float64) *Snapshot {
	s := &Snapshot{Time: t, Entries: make(map[string]SnapEntry)}
	for txid, e := range entries {
		s.Entries[txid] = SnapEntry{FeeRate: e[0], Weight: int64(e[1])}
	}
	return s
}

func TestInflowRate(t *testing.T) {
	b := DefaultBucketSet()

	// Three txs at 2 sat/vb, 500 WU each, within a 5 minute window:
	// 1500/5 = 300 WU/min in the feerate-2 bucket.
	var txs []Tx
	for i := 0; i < 3; i++ {
		txs = append(txs, Tx{
			Txid:    strconv.Itoa(i),
			FeeRate: 2,
			Weight:  500,
			Time:    int64(100 + i*60),
		})
	}
	rate := InflowRate(b, txs, 300)
	if err := testutil.CheckEqual(rate[b.Bucket(2)], 300.0); err != nil {
		t.Error(err)
	}

	// All other buckets are empty.
	var total float64
	for _, r := range rate {
		total += r
	}
	if err := testutil.CheckEqual(total, 300.0); err != nil {
		t.Error(err)
	}
}

func TestDrainRate(t *testing.T) {
	b := DefaultBucketSet()

	// Two snapshots 10 minutes apart; "a" (5 sat/vb, 4000 WU) drains,
	// "b" stays.
	s0 := snapshot(1000, map[string][2]float64{
		"a": {5, 4000},
		"b": {3, 2000},
	})
	s1 := snapshot(1600, map[string][2]float64{
		"b": {3, 2000},
	})

	rate, err := DrainRate(b, []*Snapshot{s0, s1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := testutil.CheckEqual(rate[b.Bucket(5)], 400.0); err != nil {
		t.Error(err)
	}
	if err := testutil.CheckEqual(rate[b.Bucket(3)], 0.0); err != nil {
		t.Error(err)
	}
}

func TestDrainRateFastConfirm(t *testing.T) {
	b := DefaultBucketSet()

	// "c" arrives and drains within the interval: it shows up in the
	// arrival log but in neither snapshot. It must still count as drain.
	s0 := snapshot(1000, map[string][2]float64{"a": {5, 4000}})
	s1 := snapshot(1600, map[string][2]float64{"a": {5, 4000}})
	txs := []Tx{{Txid: "c", FeeRate: 50, Weight: 600, Time: 1200}}

	rate, err := DrainRate(b, []*Snapshot{s0, s1}, txs)
	if err != nil {
		t.Fatal(err)
	}
	if err := testutil.CheckEqual(rate[b.Bucket(50)], 60.0); err != nil {
		t.Error(err)
	}

	// An arrival still present in the closing snapshot is not a drain.
	s1.Entries["c"] = SnapEntry{FeeRate: 50, Weight: 600}
	rate, err = DrainRate(b, []*Snapshot{s0, s1}, txs)
	if err != nil {
		t.Fatal(err)
	}
	if err := testutil.CheckEqual(rate[b.Bucket(50)], 0.0); err != nil {
		t.Error(err)
	}
}

func TestDrainRateErrors(t *testing.T) {
	b := DefaultBucketSet()
	s0 := snapshot(1000, nil)

	// A single snapshot is insufficient data, of the retriable kind.
	_, err := DrainRate(b, []*Snapshot{s0}, nil)
	if _, ok := err.(SnapWindowError); !ok {
		t.Errorf("expected SnapWindowError, got %v", err)
	}

	// Duplicate snapshot times indicate corruption, not missing data.
	s1 := snapshot(1000, nil)
	_, err = DrainRate(b, []*Snapshot{s0, s1}, nil)
	if err == nil {
		t.Error("expected error on duplicate snapshot time")
	}
	if _, ok := err.(SnapWindowError); ok {
		t.Error("duplicate time should not be a SnapWindowError")
	}
}

func TestMempoolWeightConservation(t *testing.T) {
	b := DefaultBucketSet()
	s := snapshot(1000, map[string][2]float64{
		"a": {1, 400},
		"b": {2.5, 800},
		"c": {7, 1200},
		"d": {7, 300},
		"e": {9999999, 4000},
	})

	weight, err := MempoolWeight(b, s)
	if err != nil {
		t.Fatal(err)
	}
	var total float64
	for _, w := range weight {
		total += w
	}
	if err := testutil.CheckEqual(total, float64(s.TotalWeight())); err != nil {
		t.Error(err)
	}

	// No snapshot is insufficient data, never an all-zeros result.
	if _, err := MempoolWeight(b, nil); err != ErrNoSnapshot {
		t.Errorf("expected ErrNoSnapshot, got %v", err)
	}
}
