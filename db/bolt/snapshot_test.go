package bolt

import (
	"os"
	"testing"

	est "github.com/joltfun/btcflow/estimate"
	"github.com/joltfun/btcflow/testutil"
)

func snap(t int64, txids ...string) *est.Snapshot {
	s := &est.Snapshot{Time: t, Entries: make(map[string]est.SnapEntry)}
	for _, txid := range txids {
		s.Entries[txid] = est.SnapEntry{FeeRate: 5, Weight: 1000}
	}
	return s
}

func TestSnapshotDB(t *testing.T) {
	const dbfile = "testdata/.snapshot.db"
	os.MkdirAll("testdata", 0755)
	os.Remove(dbfile)

	d, err := LoadSnapshotDB(dbfile)
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(dbfile)
	defer d.Close()

	// Empty DB: no latest snapshot.
	latest, err := d.Latest()
	if err != nil {
		t.Fatal(err)
	}
	if latest != nil {
		t.Error("expected nil latest on empty db")
	}

	ref := []*est.Snapshot{snap(10, "a"), snap(20, "a", "b"), snap(30, "b")}
	for _, s := range ref {
		if err := d.Put(s); err != nil {
			t.Fatal(err)
		}
	}

	// Duplicate snapshot time must be rejected, not overwritten.
	if err := d.Put(snap(20, "x")); err == nil {
		t.Error("expected error on duplicate snapshot time")
	}

	snaps, err := d.Get(10, 30)
	if err != nil {
		t.Fatal(err)
	}
	if err := testutil.CheckEqual(snaps, ref); err != nil {
		t.Error(err)
	}

	if snaps, err = d.Get(11, 30); err != nil {
		t.Fatal(err)
	}
	if err := testutil.CheckEqual(snaps, ref[1:]); err != nil {
		t.Error(err)
	}

	if latest, err = d.Latest(); err != nil {
		t.Fatal(err)
	}
	if err := testutil.CheckEqual(latest, ref[2]); err != nil {
		t.Error(err)
	}

	if err := d.Delete(0, 20); err != nil {
		t.Fatal(err)
	}
	if snaps, err = d.Get(0, 100); err != nil {
		t.Fatal(err)
	}
	if err := testutil.CheckEqual(snaps, ref[2:]); err != nil {
		t.Error(err)
	}
}

func TestHistoryDBFullSchedule(t *testing.T) {
	const dbfile = "testdata/.history.db"
	os.MkdirAll("testdata", 0755)
	os.Remove(dbfile)

	d, err := LoadHistoryDB(dbfile)
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(dbfile)
	defer d.Close()

	ref := &est.Schedule{
		Timestamp: 1000,
		Mempool:   map[string]float64{"2": 500},
		Flow:      map[string]map[string]float64{"30": {"2": 10}},
		Estimates: est.ScheduleEstimates{
			ByMinute: map[string]map[string]*est.EstimateCell{
				"30": {"0.9": {FeeRate: 2, Guaranteed: true}, "0.5": nil},
			},
		},
	}
	if err := d.Put(ref); err != nil {
		t.Fatal(err)
	}

	scheds, err := d.Get(0, 2000)
	if err != nil {
		t.Fatal(err)
	}
	if err := testutil.CheckEqual(scheds, []*est.Schedule{ref}); err != nil {
		t.Error(err)
	}

	if err := d.Delete(0, 2000); err != nil {
		t.Fatal(err)
	}
	if scheds, err = d.Get(0, 2000); err != nil {
		t.Fatal(err)
	}
	if len(scheds) != 0 {
		t.Error("expected empty history after delete")
	}
}
