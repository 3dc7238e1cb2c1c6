// Package predict contains routines for validating the published fee
// schedule, by predicting the drain times of arriving transactions and
// comparing with the observed drain times.
package predict

import (
	"fmt"
	"log"
	"math"
	"os"
	"strconv"

	est "github.com/joltfun/btcflow/estimate"
)

// Tx is one outstanding prediction: the transaction should leave the pool by
// DrainBy, according to the published estimate for Horizon.
type Tx struct {
	DrainBy int64 // Unix time in seconds
	Horizon int64 // minutes
}

type DB interface {
	PutTxs(txs map[string]Tx) error

	// AllTxs returns every outstanding prediction.
	AllTxs() (map[string]Tx, error)

	DeleteTxs(txids []string) error

	// Scores are decayed attained/exceeded tallies keyed by horizon.
	GetScores() (attained, exceeded map[int64]float64, err error)
	PutScores(attained, exceeded map[int64]float64) error

	Close() error
}

type Config struct {
	// Horizons to validate, in minutes.
	Horizons []int64 `yaml:"horizons" json:"horizons"`

	// Prob selects which target probability's estimates are validated.
	Prob float64 `yaml:"prob" json:"prob"`

	// Halflife of the score decay, in number of snapshots.
	Halflife int `yaml:"halflife" json:"halflife"`

	Logger *log.Logger `yaml:"-" json:"-"`
}

type Predictor struct {
	db    DB
	cfg   Config
	a     float64
	state *est.Snapshot
}

func NewPredictor(db DB, cfg Config) (*Predictor, error) {
	if cfg.Halflife <= 0 {
		return nil, fmt.Errorf("predict halflife must be positive")
	}
	// Normalize the persisted scores to the configured horizon set.
	attained, exceeded, err := db.GetScores()
	if err != nil {
		return nil, err
	}
	na := make(map[int64]float64, len(cfg.Horizons))
	ne := make(map[int64]float64, len(cfg.Horizons))
	for _, h := range cfg.Horizons {
		na[h] = attained[h]
		ne[h] = exceeded[h]
	}
	if err := db.PutScores(na, ne); err != nil {
		return nil, err
	}

	a := math.Pow(0.5, 1/float64(cfg.Halflife))
	return &Predictor{db: db, cfg: cfg, a: a}, nil
}

// AddPredicts registers predictions for transactions that entered the pool
// since the previous snapshot, using the currently published schedule: a new
// arrival whose fee rate meets the recommended rate for some horizon is
// predicted to drain within the shortest such horizon.
func (p *Predictor) AddPredicts(s *est.Snapshot, sched *est.Schedule) error {
	defer func() { p.state = s }()
	if p.state == nil || sched == nil {
		return nil
	}

	logger := p.cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}

	pkey := strconv.FormatFloat(p.cfg.Prob, 'f', -1, 64)
	predictTxs := make(map[string]Tx)
	for txid, entry := range s.Sub(p.state) {
		for _, h := range p.cfg.Horizons {
			cells := sched.Estimates.ByMinute[strconv.FormatInt(h, 10)]
			cell := cells[pkey]
			if cell == nil || !cell.Guaranteed {
				continue
			}
			if entry.FeeRate >= cell.FeeRate {
				predictTxs[txid] = Tx{DrainBy: s.Time + h*60, Horizon: h}
				break
			}
		}
	}
	logger.Printf("[DEBUG] Predictor: %d predicts added.", len(predictTxs))
	return p.db.PutTxs(predictTxs)
}

// ProcessSnapshot resolves outstanding predictions against the current pool
// contents: a tracked transaction absent from the pool drained (confirmed or
// evicted), attained if within its deadline; one still present past its
// deadline has exceeded it. Scores decay with the configured halflife.
func (p *Predictor) ProcessSnapshot(s *est.Snapshot) error {
	logger := p.cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}

	tracked, err := p.db.AllTxs()
	if err != nil {
		return err
	}
	attained := make(map[int64]float64)
	exceeded := make(map[int64]float64)
	var resolved []string
	for txid, tx := range tracked {
		_, present := s.Entries[txid]
		switch {
		case !present && s.Time <= tx.DrainBy:
			attained[tx.Horizon]++
		case !present:
			exceeded[tx.Horizon]++
		case s.Time > tx.DrainBy:
			exceeded[tx.Horizon]++
		default:
			continue // still pending
		}
		resolved = append(resolved, txid)
	}
	if err := p.db.DeleteTxs(resolved); err != nil {
		return err
	}
	logger.Printf("[DEBUG] Predictor: %d predicts resolved.", len(resolved))

	attainedTotal, exceededTotal, err := p.db.GetScores()
	if err != nil {
		return err
	}
	for _, h := range p.cfg.Horizons {
		attainedTotal[h] = p.a*attainedTotal[h] + attained[h]
		exceededTotal[h] = p.a*exceededTotal[h] + exceeded[h]
	}
	return p.db.PutScores(attainedTotal, exceededTotal)
}

// GetScores returns the decayed attained/exceeded tallies per horizon.
func (p *Predictor) GetScores() (attained, exceeded map[int64]float64, err error) {
	return p.db.GetScores()
}
