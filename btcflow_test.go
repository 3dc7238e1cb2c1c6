package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	col "github.com/joltfun/btcflow/collect"
	est "github.com/joltfun/btcflow/estimate"
	"github.com/joltfun/btcflow/predict"
	"github.com/joltfun/btcflow/testutil"
)

type testTxDB struct {
	txs []est.Tx
	mux sync.Mutex
}

func (d *testTxDB) Put(txs []est.Tx) error {
	d.mux.Lock()
	defer d.mux.Unlock()
	d.txs = append(d.txs, txs...)
	return nil
}

func (d *testTxDB) Get(start, end int64) ([]est.Tx, error) {
	d.mux.Lock()
	defer d.mux.Unlock()
	var txs []est.Tx
	for _, tx := range d.txs {
		if tx.Time >= start && tx.Time <= end {
			txs = append(txs, tx)
		}
	}
	return txs, nil
}

func (d *testTxDB) Delete(start, end int64) error { return nil }
func (d *testTxDB) Close() error                  { return nil }

// testSnapshotDB serves a pre-seeded snapshot window and can inject read
// failures, signalling the first one.
type testSnapshotDB struct {
	snaps    []*est.Snapshot
	failures int
	failed   chan struct{}
	mux      sync.Mutex
}

func (d *testSnapshotDB) Put(s *est.Snapshot) error {
	d.mux.Lock()
	defer d.mux.Unlock()
	d.snaps = append(d.snaps, s)
	return nil
}

func (d *testSnapshotDB) Get(start, end int64) ([]*est.Snapshot, error) {
	d.mux.Lock()
	defer d.mux.Unlock()
	if d.failures > 0 {
		d.failures--
		select {
		case <-d.failed:
		default:
			close(d.failed)
		}
		return nil, errors.New("log store unavailable")
	}
	var snaps []*est.Snapshot
	for _, s := range d.snaps {
		if s.Time >= start && s.Time <= end {
			snaps = append(snaps, s)
		}
	}
	return snaps, nil
}

func (d *testSnapshotDB) Latest() (*est.Snapshot, error) {
	d.mux.Lock()
	defer d.mux.Unlock()
	if len(d.snaps) == 0 {
		return nil, nil
	}
	return d.snaps[len(d.snaps)-1], nil
}

func (d *testSnapshotDB) Delete(start, end int64) error { return nil }
func (d *testSnapshotDB) Close() error                  { return nil }

type testHistoryDB struct {
	scheds    []*est.Schedule
	published chan struct{}
	mux       sync.Mutex
}

func (d *testHistoryDB) Put(s *est.Schedule) error {
	d.mux.Lock()
	defer d.mux.Unlock()
	d.scheds = append(d.scheds, s)
	select {
	case <-d.published:
	default:
		close(d.published)
	}
	return nil
}

func (d *testHistoryDB) Get(start, end int64) ([]*est.Schedule, error) {
	d.mux.Lock()
	defer d.mux.Unlock()
	var scheds []*est.Schedule
	for _, s := range d.scheds {
		if s.Timestamp >= start && s.Timestamp <= end {
			scheds = append(scheds, s)
		}
	}
	return scheds, nil
}

func (d *testHistoryDB) Delete(start, end int64) error { return nil }
func (d *testHistoryDB) Close() error                  { return nil }

type testPredictDB struct {
	txs      map[string]predict.Tx
	attained map[int64]float64
	exceeded map[int64]float64
	mux      sync.Mutex
}

func newTestPredictDB() *testPredictDB {
	return &testPredictDB{
		txs:      make(map[string]predict.Tx),
		attained: make(map[int64]float64),
		exceeded: make(map[int64]float64),
	}
}

func (d *testPredictDB) PutTxs(txs map[string]predict.Tx) error {
	d.mux.Lock()
	defer d.mux.Unlock()
	for txid, tx := range txs {
		d.txs[txid] = tx
	}
	return nil
}

func (d *testPredictDB) AllTxs() (map[string]predict.Tx, error) {
	d.mux.Lock()
	defer d.mux.Unlock()
	txs := make(map[string]predict.Tx, len(d.txs))
	for txid, tx := range d.txs {
		txs[txid] = tx
	}
	return txs, nil
}

func (d *testPredictDB) DeleteTxs(txids []string) error {
	d.mux.Lock()
	defer d.mux.Unlock()
	for _, txid := range txids {
		delete(d.txs, txid)
	}
	return nil
}

func (d *testPredictDB) GetScores() (map[int64]float64, map[int64]float64, error) {
	d.mux.Lock()
	defer d.mux.Unlock()
	a := make(map[int64]float64, len(d.attained))
	e := make(map[int64]float64, len(d.exceeded))
	for h, v := range d.attained {
		a[h] = v
	}
	for h, v := range d.exceeded {
		e[h] = v
	}
	return a, e, nil
}

func (d *testPredictDB) PutScores(attained, exceeded map[int64]float64) error {
	d.mux.Lock()
	defer d.mux.Unlock()
	d.attained = attained
	d.exceeded = exceeded
	return nil
}

func (d *testPredictDB) Close() error { return nil }

type testFeed struct {
	c chan string
}

func (f *testFeed) Txids() <-chan string { return f.c }
func (f *testFeed) Run() error           { return nil }
func (f *testFeed) Stop()                {}

// A transient cycle failure must leave the previously written output file
// untouched, and the next period must still publish a fresh schedule.
func TestCycleFailureKeepsOutput(t *testing.T) {
	dir := t.TempDir()
	outpath := filepath.Join(dir, "estimates.json")
	prev := []byte(`{"timestamp":1,"mempool":{},"flow":{},"estimates":{"by_minute":{}}}`)
	if err := os.WriteFile(outpath, prev, 0644); err != nil {
		t.Fatal(err)
	}

	// Seeded history: tx "x" at 5 sat/vb drains within one interval, so
	// the model has one clean hit for that bucket.
	sdb := &testSnapshotDB{
		snaps: []*est.Snapshot{
			{Time: 1000, Entries: map[string]est.SnapEntry{
				"x": {FeeRate: 5, Weight: 400, Time: 990},
			}},
			{Time: 1060, Entries: map[string]est.SnapEntry{}},
		},
		failures: 1,
		failed:   make(chan struct{}),
	}
	txdb := &testTxDB{}
	histdb := &testHistoryDB{published: make(chan struct{})}

	var clock int64 = 2000
	getState := func() (*est.Snapshot, error) {
		now := atomic.AddInt64(&clock, 1)
		return &est.Snapshot{
			Time: now,
			Entries: map[string]est.SnapEntry{
				"a": {FeeRate: 5, Weight: 400, Time: now},
			},
		}, nil
	}
	getTx := func(txid string) (*est.Tx, error) {
		return nil, errors.New("no such mempool tx")
	}

	cfg := BtcFlowConfig{
		Collect: col.Config{
			SnapshotPeriod: 1,
			GetState:       getState,
			GetTx:          getTx,
			Feed:           &testFeed{c: make(chan string)},
		},
		Predict:        predict.Config{Prob: 0.9, Halflife: 10},
		CyclePeriod:    1,
		Retention:      1 << 40, // keep the seeded window alive
		FlowMultiplier: 2,
		Targets:        []int64{30},
		Probs:          []float64{0.9},
		MinTrials:      1,
		OutputPath:     outpath,
		logger:         log.New(io.Discard, "", log.LstdFlags),
	}
	s, err := NewBtcFlow(txdb, sdb, newTestPredictDB(), histdb, cfg)
	if err != nil {
		t.Fatal(err)
	}

	errc := make(chan error, 1)
	go func() { errc <- s.Run() }()

	// The first cycle hits the injected read failure.
	select {
	case <-sdb.failed:
	case <-time.After(5 * time.Second):
		t.Fatal("first cycle never read the snapshot log")
	}
	time.Sleep(200 * time.Millisecond)
	b, err := os.ReadFile(outpath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(b, prev) {
		t.Errorf("failed cycle replaced the output file: %s", b)
	}

	// The loop stays on schedule: the next period publishes fresh output.
	select {
	case <-histdb.published:
	case <-time.After(5 * time.Second):
		t.Fatal("no schedule produced after the transient failure")
	}
	var sched est.Schedule
	deadline := time.Now().Add(3 * time.Second)
	for {
		b, err := os.ReadFile(outpath)
		if err == nil && !bytes.Equal(b, prev) {
			if err := json.Unmarshal(b, &sched); err != nil {
				t.Fatal(err)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("fresh schedule was not written")
		}
		time.Sleep(50 * time.Millisecond)
	}
	if sched.Timestamp < 2000 {
		t.Errorf("stale schedule timestamp %d", sched.Timestamp)
	}
	cell := sched.Estimates.ByMinute["30"]["0.9"]
	if cell == nil {
		t.Fatal("no estimate cell for the modeled bucket")
	}
	if err := testutil.CheckEqual(*cell, est.EstimateCell{FeeRate: 5, Guaranteed: true}); err != nil {
		t.Error(err)
	}

	s.Stop()
	if err := <-errc; err != nil {
		t.Error(err)
	}
}

func TestNewBtcFlowConfigValidation(t *testing.T) {
	cfg := BtcFlowConfig{
		Predict:   predict.Config{Prob: 0.9, Halflife: 10},
		Probs:     []float64{0.9},
		MinTrials: 1,
		logger:    log.New(io.Discard, "", log.LstdFlags),
	}
	_, err := NewBtcFlow(&testTxDB{}, &testSnapshotDB{failed: make(chan struct{})},
		newTestPredictDB(), &testHistoryDB{published: make(chan struct{})}, cfg)
	if err == nil {
		t.Error("empty targets should be rejected")
	}
}
