/*
Package collect contains the ingestion side of btcflow: the arrival recorder,
which logs each transaction's first-seen time as it enters the mempool, and
the snapshot recorder, which captures full pool state on a fixed cadence.
Both write to the durable log consumed by package estimate.
*/
package collect

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	est "github.com/joltfun/btcflow/estimate"
)

type Config struct {
	// SnapshotPeriod is the pool snapshot cadence in seconds.
	SnapshotPeriod int `yaml:"snapshotperiod" json:"snapshotperiod"`

	GetState MempoolStateGetter `yaml:"-" json:"-"`
	GetTx    TxDetailGetter     `yaml:"-" json:"-"`
	Feed     TxFeed             `yaml:"-" json:"-"`
	Logger   *log.Logger        `yaml:"-" json:"-"`
}

// Collector runs both recorders. The S and E channels must be serviced.
//
// Ingestion never blocks on the compute cycle: arrivals are written as they
// come in, and a slow snapshot fetch only delays the snapshot path.
type Collector struct {
	S <-chan *est.Snapshot
	E <-chan error

	state *est.Snapshot
	txdb  TxDB
	sdb   SnapshotDB
	cfg   Config

	done chan struct{}
	wg   sync.WaitGroup
	mux  sync.RWMutex
}

func NewCollector(txdb TxDB, sdb SnapshotDB, cfg Config) *Collector {
	return &Collector{
		txdb: txdb,
		sdb:  sdb,
		cfg:  cfg,
		done: make(chan struct{}),
	}
}

// State returns the latest captured snapshot; nil if the last capture
// failed or none has happened yet.
func (c *Collector) State() *est.Snapshot {
	c.mux.RLock()
	defer c.mux.RUnlock()
	return c.state
}

func (c *Collector) setState(state *est.Snapshot) {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.state = state
}

func (c *Collector) Run() error {
	// Initial snapshot; fail fast if the node is unreachable at startup.
	s, err := c.cfg.GetState()
	if err != nil {
		return err
	}
	if err := c.recordSnapshot(s, nil); err != nil {
		return err
	}
	c.setState(s)

	if err := c.cfg.Feed.Run(); err != nil {
		return err
	}

	sc := make(chan *est.Snapshot)
	ec := make(chan error)
	c.S = sc
	c.E = ec
	c.wg.Add(2)
	go c.runSnapshots(sc, ec)
	go c.runArrivals(ec)
	go func() {
		c.wg.Wait()
		close(ec)
		close(sc)
	}()
	return nil
}

func (c *Collector) Stop() {
	if err := c.closeDone(); err != nil {
		return
	}
	c.cfg.Feed.Stop()
	// Block until the err chan is closed when the recorders terminate.
	for range c.E {
	}
}

// runArrivals is the arrival recorder: it services the notification feed,
// fetches transaction detail, and appends one immutable record per txid.
func (c *Collector) runArrivals(ec chan<- error) {
	defer c.wg.Done()
	logger := c.logger()

	for {
		var txid string
		select {
		case txid = <-c.cfg.Feed.Txids():
		case <-c.done:
			return
		}

		tx, err := c.cfg.GetTx(txid)
		if err != nil {
			// Usually a race: the tx left the pool (or was never
			// accepted locally) before we could query it.
			logger.Printf("[DEBUG] arrival %s dropped: %v", txid, err)
			continue
		}
		if err := validateTx(tx); err != nil {
			logger.Println("[WARNING] arrival dropped:", err)
			continue
		}
		if err := c.txdb.Put([]est.Tx{*tx}); err != nil {
			select {
			case ec <- fmt.Errorf("TxDB.Put: %v", err):
			case <-c.done:
				return
			}
		}
	}
}

// runSnapshots is the snapshot recorder: on a fixed cadence it captures full
// pool state, persists it, backfills the arrival log from the pool diff
// (covering notifications the feed missed), and publishes the state.
func (c *Collector) runSnapshots(sc chan<- *est.Snapshot, ec chan<- error) {
	defer c.wg.Done()
	defer c.setState(nil)
	logger := c.logger()

	ticker := time.NewTicker(time.Duration(c.cfg.SnapshotPeriod) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-c.done:
			return
		}

		curr, err := c.cfg.GetState()
		if err != nil {
			c.setState(nil)
			select {
			case ec <- fmt.Errorf("GetState: %v", err):
				continue
			case <-c.done:
				return
			}
		}

		prev := c.State()
		if prev != nil && curr.Time <= prev.Time {
			select {
			case ec <- fmt.Errorf("snapshot time did not increase: %d <= %d", curr.Time, prev.Time):
				continue
			case <-c.done:
				return
			}
		}
		c.setState(curr)

		if err := c.recordSnapshot(curr, prev); err != nil {
			select {
			case ec <- err:
				continue
			case <-c.done:
				return
			}
		}
		logger.Printf("[DEBUG] %s", curr)

		select {
		case sc <- curr:
		case <-c.done:
			return
		}
	}
}

// recordSnapshot persists a snapshot and backfills arrivals from the diff
// against the previous one.
func (c *Collector) recordSnapshot(curr, prev *est.Snapshot) error {
	logger := c.logger()

	if err := c.sdb.Put(curr); err != nil {
		return fmt.Errorf("SnapshotDB.Put: %v", err)
	}
	if prev == nil {
		return nil
	}

	var newTxs []est.Tx
	for txid, entry := range curr.Sub(prev) {
		tx := est.Tx{
			Txid:    txid,
			FeeRate: entry.FeeRate,
			Weight:  entry.Weight,
			Time:    entry.Time,
		}
		if err := validateTx(&tx); err != nil {
			logger.Println("[WARNING] snapshot entry dropped:", err)
			continue
		}
		newTxs = append(newTxs, tx)
	}
	if len(newTxs) == 0 {
		return nil
	}
	// Idempotent insert: txids already recorded through the feed keep
	// their original first-seen time.
	if err := c.txdb.Put(newTxs); err != nil {
		return fmt.Errorf("TxDB.Put: %v", err)
	}
	logger.Printf("[DEBUG] %d arrivals backfilled from snapshot", len(newTxs))
	return nil
}

func (c *Collector) closeDone() error {
	c.mux.Lock()
	defer c.mux.Unlock()
	select {
	case <-c.done: // Already closed
		return fmt.Errorf("Collector.done already closed")
	default:
		close(c.done)
		return nil
	}
}

func (c *Collector) logger() *log.Logger {
	if c.cfg.Logger != nil {
		return c.cfg.Logger
	}
	return log.New(os.Stderr, "", log.LstdFlags)
}
