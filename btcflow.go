package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rcrowley/go-metrics"

	col "github.com/joltfun/btcflow/collect"
	est "github.com/joltfun/btcflow/estimate"
	"github.com/joltfun/btcflow/predict"
)

var errPause = errors.New("estimation is paused")
var errInProgress = errors.New("estimation is in progress")
var errShutdown = errors.New("estimation is shutting down")

type TxDB interface {
	est.TxDB
	col.TxDB
	Delete(start, end int64) error
	Close() error
}

type SnapshotDB interface {
	est.SnapshotDB
	col.SnapshotDB
	Delete(start, end int64) error
	Close() error
}

type HistoryDB interface {
	Put(*est.Schedule) error
	Get(start, end int64) ([]*est.Schedule, error)
	Delete(start, end int64) error
	Close() error
}

type BtcFlow struct {
	schedule *est.Schedule
	err      error

	collect   *col.Collector
	predictor *predict.Predictor
	buckets   est.BucketSet
	txdb      TxDB
	sdb       SnapshotDB
	predictdb predict.DB
	histdb    HistoryDB
	cfg       BtcFlowConfig

	pause chan bool
	done  chan struct{}
	wg    sync.WaitGroup
	mux   sync.RWMutex
}

type BtcFlowConfig struct {
	Collect        col.Config     `yaml:"collect" json:"collect"`
	Predict        predict.Config `yaml:"predict" json:"predict"`
	CyclePeriod    int            `yaml:"cycleperiod" json:"cycleperiod"`
	Retention      int64          `yaml:"retention" json:"retention"`
	FlowMultiplier int64          `yaml:"flowmultiplier" json:"flowmultiplier"`
	Targets        []int64        `yaml:"targets" json:"targets"`
	Probs          []float64      `yaml:"probs" json:"probs"`
	MinTrials      int            `yaml:"mintrials" json:"mintrials"`
	OutputPath     string         `yaml:"outputpath" json:"outputpath"`

	logger *log.Logger `yaml:"-" json:"-"`
}

func NewBtcFlow(txdb TxDB, sdb SnapshotDB, predictdb predict.DB, histdb HistoryDB,
	cfg BtcFlowConfig) (*BtcFlow, error) {

	if len(cfg.Targets) == 0 {
		return nil, fmt.Errorf("no targets configured")
	}

	cfg.Collect.Logger = cfg.logger
	collect := col.NewCollector(txdb, sdb, cfg.Collect)

	cfg.Predict.Logger = cfg.logger
	if len(cfg.Predict.Horizons) == 0 {
		cfg.Predict.Horizons = cfg.Targets
	}
	predictor, err := predict.NewPredictor(predictdb, cfg.Predict)
	if err != nil {
		return nil, err
	}

	s := &BtcFlow{
		collect:   collect,
		predictor: predictor,
		buckets:   est.DefaultBucketSet(),
		txdb:      txdb,
		sdb:       sdb,
		predictdb: predictdb,
		histdb:    histdb,
		cfg:       cfg,
		pause:     make(chan bool),
		done:      make(chan struct{}),
	}
	return s, nil
}

func (s *BtcFlow) Run() error {
	logger := s.cfg.logger
	s.wg.Add(1)
	defer logger.Println("btcflow all stopped.")
	defer s.wg.Wait()
	defer s.wg.Done()
	defer s.histdb.Close()
	defer s.predictdb.Close()
	defer s.sdb.Close()
	defer s.txdb.Close()

	logger.Printf("btcflow v%s starting up..", version)

	// Prune anything outside the retention window before reading it back.
	now := time.Now().Unix()
	if err := s.prune(now); err != nil {
		return err
	}

	if err := s.collect.Run(); err != nil {
		return err
	}
	defer s.collect.Stop()

	s.SetSchedule(nil, errInProgress)

	s.wg.Add(1)
	go s.loopCycle(s.cfg.CyclePeriod)

	sc := make(chan *est.Snapshot, 10)
	s.wg.Add(1)
	go s.predictWorker(sc)

	logger.Println("btcflow startup complete.")
	for {
		select {
		case state := <-s.collect.S:
			select {
			case sc <- state:
			default:
				logger.Println("[WARNING] Predictor was busy.")
			}
		case err := <-s.collect.E:
			logger.Println("[ERROR] Collector:", err)
		case <-s.done:
			return nil
		}
	}
}

func (s *BtcFlow) Status() map[string]string {
	status := make(map[string]string)

	if _, err := s.Schedule(); err != nil {
		status["estimates"] = err.Error()
	} else {
		status["estimates"] = "OK"
	}

	if state := s.State(); state == nil {
		status["mempool"] = "Mempool state not available."
	} else {
		status["mempool"] = "OK"
	}

	if snaps, err := s.sdb.Get(0, time.Now().Unix()); err != nil {
		status["snapshots"] = err.Error()
	} else {
		status["snapshots"] = fmt.Sprintf("%d in log", len(snaps))
	}

	return status
}

func (s *BtcFlow) Pause(p bool) {
	s.pause <- p
	if p {
		s.cfg.logger.Println("Estimation paused.")
	} else {
		s.cfg.logger.Println("Estimation unpaused.")
	}
}

func (s *BtcFlow) Stop() {
	s.closeDone()
	s.wg.Wait()
}

func (s *BtcFlow) State() *est.Snapshot {
	return s.collect.State()
}

// closeDone closes s.done in a concurrent-safe way.
func (s *BtcFlow) closeDone() {
	s.mux.Lock()
	defer s.mux.Unlock()
	select {
	case <-s.done: // Already closed
	default:
		close(s.done)
	}
}

// predictWorker scores the published estimates against reality: each new
// snapshot first resolves outstanding predictions, then registers new ones
// for the txs that just arrived.
func (s *BtcFlow) predictWorker(sc <-chan *est.Snapshot) {
	logger := s.cfg.logger
	defer s.wg.Done()
	defer logger.Println("Predict worker stopped.")

	for {
		select {
		case state := <-sc:
			// state is never nil here.
			if err := s.predictor.ProcessSnapshot(state); err != nil {
				logger.Println("[ERROR] Predictor ProcessSnapshot:", err)
			}
			sched, err := s.Schedule()
			if err != nil {
				continue
			}
			if err := s.predictor.AddPredicts(state, sched); err != nil {
				logger.Println("[ERROR] AddPredicts:", err)
			}
		case <-s.done:
			return
		}
	}
}

// loopCycle runs the compute cycle on a fixed period. A failed cycle is
// logged and retried next period, with the previous output file left in
// place.
func (s *BtcFlow) loopCycle(period int) {
	logger := s.cfg.logger
	defer s.wg.Done()
	defer logger.Println("Cycle loop stopped.")
	ticker := time.NewTicker(time.Duration(period) * time.Second)
	defer func() { ticker.Stop() }() // Stop is idempotent, so no problems here

	// Metrics
	names := []string{"cycle1", "cycle60", "cycle1440"}
	sizes := []int{1, 60, 1440}
	cycleTimers := make([]metrics.Timer, 3)
	for i, size := range sizes {
		h := metrics.NewHistogram(metrics.NewSimpleExpDecaySample(size))
		cycleTimers[i] = metrics.NewCustomTimer(h, metrics.NewMeter())
		metrics.Register(names[i], cycleTimers[i])
	}

	for {
		startTime := time.Now()
		sched, err := s.cycle()
		switch err := err.(type) {
		case nil:
			for _, m := range cycleTimers {
				m.UpdateSince(startTime)
			}
			s.SetSchedule(sched, nil)
			if err := s.publish(sched); err != nil {
				logger.Println("[ERROR] Publish:", err)
			}
			logger.Println("[DEBUG] Cycle complete.")
		case est.SnapWindowError:
			// Not enough history yet; keep whatever estimate we had.
			logger.Println("[DEBUG] Cycle skipped:", err)
		default:
			if err == est.ErrNoSnapshot {
				logger.Println("[DEBUG] Cycle skipped:", err)
			} else {
				logger.Println("[ERROR] Cycle:", err)
			}
			if _, serr := s.Schedule(); serr != nil {
				s.SetSchedule(nil, err)
			}
		}

	WaitLoop:
		select {
		case <-ticker.C:
		case p := <-s.pause:
			if p {
				ticker.Stop()
				s.SetSchedule(nil, errPause)
				goto WaitLoop
			} else if !s.IsPaused() {
				// Not paused, so no change; wait for ticker
				goto WaitLoop
			}
			// Is paused, so restart the ticker and resume
			ticker = time.NewTicker(time.Duration(period) * time.Second)
			s.SetSchedule(nil, errInProgress)
		case <-s.done:
			s.SetSchedule(nil, errShutdown)
			return
		}
	}
}

// cycle runs one full compute pass: read the retained log window, rebuild
// the confirmation model, aggregate flow and pool state, and assemble the
// schedule.
func (s *BtcFlow) cycle() (*est.Schedule, error) {
	state := s.State()
	if state == nil {
		return nil, est.ErrNoSnapshot
	}
	now := state.Time

	snaps, err := s.sdb.Get(now-s.cfg.Retention, now)
	if err != nil {
		return nil, fmt.Errorf("SnapshotDB.Get: %v", err)
	}
	txs, err := s.txdb.Get(now-s.cfg.Retention, now)
	if err != nil {
		return nil, fmt.Errorf("TxDB.Get: %v", err)
	}

	model, err := est.NewConfirmModel(s.buckets, est.ConfirmModelConfig{
		Horizons:  s.cfg.Targets,
		MinTrials: s.cfg.MinTrials,
	})
	if err != nil {
		return nil, err
	}
	if err := model.AddSnapshots(snaps); err != nil {
		return nil, err
	}
	table, err := model.Probs()
	if err != nil {
		return nil, err
	}

	mempool, err := est.MempoolWeight(s.buckets, state)
	if err != nil {
		return nil, err
	}

	flows := make(map[int64][]float64)
	for _, target := range s.cfg.Targets {
		window := target * 60 * s.cfg.FlowMultiplier
		if window > s.cfg.Retention {
			window = s.cfg.Retention
		}
		var wtxs []est.Tx
		for _, tx := range txs {
			if tx.Time >= now-window {
				wtxs = append(wtxs, tx)
			}
		}
		flows[target] = est.InflowRate(s.buckets, wtxs, window)
	}

	sched := est.BuildSchedule(s.buckets, now, mempool, flows, table, s.cfg.Probs)

	if err := s.histdb.Put(sched); err != nil {
		s.cfg.logger.Println("[ERROR] HistoryDB.Put:", err)
	}
	if err := s.prune(now); err != nil {
		s.cfg.logger.Println("[ERROR] Prune:", err)
	}
	return sched, nil
}

// publish atomically replaces the output file.
func (s *BtcFlow) publish(sched *est.Schedule) error {
	b, err := json.Marshal(sched)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.cfg.OutputPath)
	f, err := os.CreateTemp(dir, ".estimates*.json")
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		os.Remove(f.Name())
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return err
	}
	return os.Rename(f.Name(), s.cfg.OutputPath)
}

func (s *BtcFlow) prune(now int64) error {
	cutoff := now - s.cfg.Retention - 1
	if cutoff < 0 {
		return nil
	}
	if err := s.txdb.Delete(0, cutoff); err != nil {
		return fmt.Errorf("TxDB.Delete: %v", err)
	}
	if err := s.sdb.Delete(0, cutoff); err != nil {
		return fmt.Errorf("SnapshotDB.Delete: %v", err)
	}
	if err := s.histdb.Delete(0, cutoff); err != nil {
		return fmt.Errorf("HistoryDB.Delete: %v", err)
	}
	return nil
}

// FlowRates returns the current per-bucket inflow and drain rates, keyed by
// bucket lower bound, over the shortest target's sampling window.
func (s *BtcFlow) FlowRates() (map[string]map[string]float64, error) {
	state := s.State()
	if state == nil {
		return nil, est.ErrNoSnapshot
	}
	now := state.Time
	window := s.cfg.Targets[0] * 60 * s.cfg.FlowMultiplier
	if window > s.cfg.Retention {
		window = s.cfg.Retention
	}

	txs, err := s.txdb.Get(now-window, now)
	if err != nil {
		return nil, err
	}
	snaps, err := s.sdb.Get(now-window, now)
	if err != nil {
		return nil, err
	}

	inflow := est.InflowRate(s.buckets, txs, window)
	drain, err := est.DrainRate(s.buckets, snaps, txs)
	if err != nil {
		return nil, err
	}
	return map[string]map[string]float64{
		"inflow": est.BucketMap(s.buckets, inflow),
		"drain":  est.BucketMap(s.buckets, drain),
	}, nil
}

// MempoolWeights returns the per-bucket resident weight of the latest
// snapshot, keyed by bucket lower bound.
func (s *BtcFlow) MempoolWeights() (map[string]float64, error) {
	state := s.State()
	if state == nil {
		return nil, est.ErrNoSnapshot
	}
	w, err := est.MempoolWeight(s.buckets, state)
	if err != nil {
		return nil, err
	}
	return est.BucketMap(s.buckets, w), nil
}

func (s *BtcFlow) History(start, end int64) ([]*est.Schedule, error) {
	return s.histdb.Get(start, end)
}

func (s *BtcFlow) IsPaused() bool {
	_, err := s.Schedule()
	return err == errPause
}

func (s *BtcFlow) Schedule() (*est.Schedule, error) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return s.schedule, s.err
}

func (s *BtcFlow) SetSchedule(sched *est.Schedule, err error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.schedule, s.err = sched, err
}

func (s *BtcFlow) PredictScores() (attained, exceeded map[int64]float64, err error) {
	return s.predictor.GetScores()
}
