package bolt

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"time"

	"github.com/boltdb/bolt"

	"github.com/joltfun/btcflow/predict"
)

type predictdb struct {
	db           *bolt.DB
	byteOrder    binary.ByteOrder
	txBucket     []byte
	countsBucket []byte
}

func LoadPredictDB(dbfile string) (*predictdb, error) {
	db, err := bolt.Open(dbfile, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	d := &predictdb{
		db:           db,
		byteOrder:    binary.BigEndian,
		txBucket:     []byte("tx"),
		countsBucket: []byte("counts"),
	}
	err = d.db.Update(func(tr *bolt.Tx) error {
		if _, err := tr.CreateBucketIfNotExists(d.txBucket); err != nil {
			return err
		}
		_, err := tr.CreateBucketIfNotExists(d.countsBucket)
		return err
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (d *predictdb) PutTxs(txs map[string]predict.Tx) error {
	return d.db.Update(func(tr *bolt.Tx) error {
		bkt := tr.Bucket(d.txBucket)
		for txid, tx := range txs {
			buf := new(bytes.Buffer)
			if err := binary.Write(buf, d.byteOrder, tx); err != nil {
				return err
			}
			if err := bkt.Put([]byte(txid), buf.Bytes()); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *predictdb) AllTxs() (map[string]predict.Tx, error) {
	txs := make(map[string]predict.Tx)
	err := d.db.View(func(tr *bolt.Tx) error {
		return tr.Bucket(d.txBucket).ForEach(func(k, v []byte) error {
			var tx predict.Tx
			if err := binary.Read(bytes.NewBuffer(v), d.byteOrder, &tx); err != nil {
				return err
			}
			txs[string(k)] = tx
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return txs, nil
}

func (d *predictdb) DeleteTxs(txids []string) error {
	return d.db.Update(func(tr *bolt.Tx) error {
		bkt := tr.Bucket(d.txBucket)
		for _, txid := range txids {
			if err := bkt.Delete([]byte(txid)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *predictdb) GetScores() (attained, exceeded map[int64]float64, err error) {
	attained = make(map[int64]float64)
	exceeded = make(map[int64]float64)
	err = d.db.View(func(tr *bolt.Tx) error {
		bkt := tr.Bucket(d.countsBucket)
		if v := bkt.Get([]byte("attained")); v != nil {
			if err := gob.NewDecoder(bytes.NewBuffer(v)).Decode(&attained); err != nil {
				return err
			}
		}
		if v := bkt.Get([]byte("exceeded")); v != nil {
			if err := gob.NewDecoder(bytes.NewBuffer(v)).Decode(&exceeded); err != nil {
				return err
			}
		}
		return nil
	})
	return
}

func (d *predictdb) PutScores(attained, exceeded map[int64]float64) error {
	return d.db.Update(func(tr *bolt.Tx) error {
		bkt := tr.Bucket(d.countsBucket)
		buf := new(bytes.Buffer)
		if err := gob.NewEncoder(buf).Encode(attained); err != nil {
			return err
		}
		if err := bkt.Put([]byte("attained"), buf.Bytes()); err != nil {
			return err
		}

		buf = new(bytes.Buffer)
		if err := gob.NewEncoder(buf).Encode(exceeded); err != nil {
			return err
		}
		return bkt.Put([]byte("exceeded"), buf.Bytes())
	})
}

func (d *predictdb) Close() error {
	return d.db.Close()
}
