/*
Package estimate implements the flow-based fee estimation engine: it turns a
time-stamped transaction arrival log and periodic mempool snapshots into a
fee rate / confirmation probability schedule.
*/
package estimate

import (
	"fmt"
	"sort"
)

// Tx is a single arrival record: a transaction observed entering the mempool.
// There is at most one record per txid; Time is the first-seen time.
type Tx struct {
	Txid    string  `json:"txid"`
	FeeRate float64 `json:"feerate"` // sat/vbyte
	Weight  int64   `json:"weight"`  // weight units
	Time    int64   `json:"time"`    // Unix time in seconds
}

// SnapEntry is one mempool transaction as captured in a Snapshot. Time is
// the node-reported pool entry time; the engine never reads it, but the
// ingestion side uses it to backfill missed arrival notifications.
type SnapEntry struct {
	FeeRate float64 `json:"feerate"` // sat/vbyte
	Weight  int64   `json:"weight"`  // weight units
	Time    int64   `json:"time"`    // Unix time in seconds
}

// Snapshot is the complete mempool contents at a single instant, keyed by
// txid. It is not a delta; two adjacent snapshots define an interval whose
// drained set is computed by Sub.
type Snapshot struct {
	Time    int64                `json:"time"`
	Entries map[string]SnapEntry `json:"entries"`
}

// Sub returns the entries present in s but absent from t.
func (s *Snapshot) Sub(t *Snapshot) map[string]SnapEntry {
	d := make(map[string]SnapEntry)
	for txid, entry := range s.Entries {
		if _, ok := t.Entries[txid]; !ok {
			d[txid] = entry
		}
	}
	return d
}

// TotalWeight returns the summed weight of all entries.
func (s *Snapshot) TotalWeight() int64 {
	var total int64
	for _, entry := range s.Entries {
		total += entry.Weight
	}
	return total
}

func (s *Snapshot) String() string {
	return fmt.Sprintf("Snapshot{time: %d, entries: %d}", s.Time, len(s.Entries))
}

// TxDB is the arrival log read interface. Put must be idempotent by txid.
type TxDB interface {
	// Get returns all arrival records with first-seen time within
	// [start, end], sorted by increasing time.
	Get(start, end int64) ([]Tx, error)
}

// SnapshotDB is the snapshot log read interface.
type SnapshotDB interface {
	// Get returns all snapshots with capture time within [start, end],
	// sorted by increasing time.
	Get(start, end int64) ([]*Snapshot, error)

	// Latest returns the most recent snapshot, or nil if none exists.
	Latest() (*Snapshot, error)
}

// SnapWindowError indicates that the snapshot log does not yet contain
// enough history to compute the requested estimate. It is insufficient data,
// not a failure; callers typically retry at the next cycle.
type SnapWindowError struct {
	NumSnaps int
	MinSnaps int
}

func (err SnapWindowError) Error() string {
	return fmt.Sprintf("only %d snapshots in window, need at least %d",
		err.NumSnaps, err.MinSnaps)
}

// checkSnapshots verifies that snaps is sorted by strictly increasing time.
// A duplicate or decreasing snapshot time is a data-corruption bug, not an
// insufficient-data condition.
func checkSnapshots(snaps []*Snapshot) error {
	if !sort.SliceIsSorted(snaps, func(i, j int) bool {
		return snaps[i].Time < snaps[j].Time
	}) {
		return fmt.Errorf("snapshot times not increasing")
	}
	for i := 1; i < len(snaps); i++ {
		if snaps[i].Time == snaps[i-1].Time {
			return fmt.Errorf("duplicate snapshot time %d", snaps[i].Time)
		}
	}
	return nil
}
