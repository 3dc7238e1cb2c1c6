package bolt

import (
	"os"
	"testing"

	"github.com/joltfun/btcflow/predict"
	"github.com/joltfun/btcflow/testutil"
)

func TestPredictDB(t *testing.T) {
	const dbfile = "testdata/.predict.db"
	os.MkdirAll("testdata", 0755)
	os.Remove(dbfile)

	d, err := LoadPredictDB(dbfile)
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(dbfile)
	defer d.Close()

	txsRef := map[string]predict.Tx{
		"a": {DrainBy: 1600, Horizon: 10},
		"b": {DrainBy: 2200, Horizon: 20},
	}
	if err := d.PutTxs(txsRef); err != nil {
		t.Fatal(err)
	}
	txs, err := d.AllTxs()
	if err != nil {
		t.Fatal(err)
	}
	if err := testutil.CheckEqual(txs, txsRef); err != nil {
		t.Error(err)
	}

	if err := d.DeleteTxs([]string{"a"}); err != nil {
		t.Fatal(err)
	}
	if txs, err = d.AllTxs(); err != nil {
		t.Fatal(err)
	}
	if err := testutil.CheckEqual(txs, map[string]predict.Tx{"b": txsRef["b"]}); err != nil {
		t.Error(err)
	}

	// Scores start empty and round-trip.
	attained, exceeded, err := d.GetScores()
	if err != nil {
		t.Fatal(err)
	}
	if len(attained) != 0 || len(exceeded) != 0 {
		t.Error("expected empty scores on fresh db")
	}
	aRef := map[int64]float64{10: 3, 20: 1.5}
	eRef := map[int64]float64{10: 0.5, 20: 2}
	if err := d.PutScores(aRef, eRef); err != nil {
		t.Fatal(err)
	}
	if attained, exceeded, err = d.GetScores(); err != nil {
		t.Fatal(err)
	}
	if err := testutil.CheckEqual(attained, aRef); err != nil {
		t.Error(err)
	}
	if err := testutil.CheckEqual(exceeded, eRef); err != nil {
		t.Error(err)
	}
}
