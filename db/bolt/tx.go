// Package bolt contains implementations of the DB interfaces used by package
// main.
package bolt

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/boltdb/bolt"

	est "github.com/joltfun/btcflow/estimate"
)

type txdb struct {
	db         *bolt.DB
	timeBucket []byte // itob(time)+txid -> json(Tx)
	seenBucket []byte // txid -> itob(time), for idempotence and pruning
}

func LoadTxDB(dbfile string) (*txdb, error) {
	db, err := bolt.Open(dbfile, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	d := &txdb{
		db:         db,
		timeBucket: []byte("arrivals"),
		seenBucket: []byte("seen"),
	}
	err = d.db.Update(func(tr *bolt.Tx) error {
		if _, err := tr.CreateBucketIfNotExists(d.timeBucket); err != nil {
			return err
		}
		_, err := tr.CreateBucketIfNotExists(d.seenBucket)
		return err
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Put inserts arrival records, at most one per txid: a record whose txid was
// already inserted is a no-op, so duplicate notifications are harmless and
// the first-seen time wins.
func (d *txdb) Put(txs []est.Tx) error {
	return d.db.Update(func(tr *bolt.Tx) error {
		tb := tr.Bucket(d.timeBucket)
		sb := tr.Bucket(d.seenBucket)
		for _, tx := range txs {
			txid := []byte(tx.Txid)
			if sb.Get(txid) != nil {
				continue
			}
			if err := sb.Put(txid, itob(tx.Time)); err != nil {
				return err
			}
			v, err := json.Marshal(tx)
			if err != nil {
				return err
			}
			if err := tb.Put(timeKey(tx.Time, tx.Txid), v); err != nil {
				return err
			}
		}
		return nil
	})
}

// Get returns all arrival records with first-seen time within [start, end],
// sorted by increasing time.
func (d *txdb) Get(start, end int64) ([]est.Tx, error) {
	var txs []est.Tx
	err := d.db.View(func(tr *bolt.Tx) error {
		c := tr.Bucket(d.timeBucket).Cursor()
		startkey, endkey := itob(start), itob(end)
		for k, v := c.Seek(startkey); k != nil && bytes.Compare(k[:8], endkey) <= 0; k, v = c.Next() {
			var tx est.Tx
			if err := json.Unmarshal(v, &tx); err != nil {
				return err
			}
			txs = append(txs, tx)
		}
		return nil
	})
	return txs, err
}

// Delete removes all arrival records with time in between start and end.
func (d *txdb) Delete(start, end int64) error {
	return d.db.Update(func(tr *bolt.Tx) error {
		tb := tr.Bucket(d.timeBucket)
		sb := tr.Bucket(d.seenBucket)
		c := tb.Cursor()
		startkey, endkey := itob(start), itob(end)
		var del [][]byte
		for k, _ := c.Seek(startkey); k != nil && bytes.Compare(k[:8], endkey) <= 0; k, _ = c.Next() {
			del = append(del, k)
		}
		for _, k := range del {
			if err := sb.Delete(k[8:]); err != nil {
				return err
			}
			if err := tb.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *txdb) Close() error {
	return d.db.Close()
}

func timeKey(t int64, txid string) []byte {
	k := make([]byte, 8+len(txid))
	binary.BigEndian.PutUint64(k, uint64(t))
	copy(k[8:], txid)
	return k
}

// itob returns an 8-byte big endian representation of v.
// The input argument v must be positive.
func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}
