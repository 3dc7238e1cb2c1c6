package collect

import (
	"fmt"

	est "github.com/joltfun/btcflow/estimate"
)

// MempoolStateGetter captures the complete pool contents at this instant.
type MempoolStateGetter func() (*est.Snapshot, error)

// TxDetailGetter fetches fee rate, weight and entry time for a single
// in-pool transaction.
type TxDetailGetter func(txid string) (*est.Tx, error)

// TxFeed is a push-style stream of txids of transactions entering the pool.
// The feed may drop or duplicate notifications; the snapshot path backfills
// drops, and the arrival log's idempotent insert absorbs duplicates.
type TxFeed interface {
	Txids() <-chan string
	Run() error
	Stop()
}

type TxDB interface {
	Put([]est.Tx) error
}

type SnapshotDB interface {
	Put(*est.Snapshot) error
}

// validateTx rejects malformed node data. A bad record is dropped with a
// warning upstream; it is never fatal for the cycle.
func validateTx(tx *est.Tx) error {
	if tx.FeeRate <= 0 {
		return fmt.Errorf("tx %s: non-positive feerate %v", tx.Txid, tx.FeeRate)
	}
	if tx.Weight <= 0 {
		return fmt.Errorf("tx %s: non-positive weight %d", tx.Txid, tx.Weight)
	}
	return nil
}
