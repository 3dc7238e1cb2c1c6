package bolt

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/boltdb/bolt"

	est "github.com/joltfun/btcflow/estimate"
)

type historydb struct {
	db            *bolt.DB
	historyBucket []byte // itob(timestamp) -> json(Schedule)
}

// LoadHistoryDB opens the published-schedule history. Every successful cycle
// appends its schedule here, so past estimates can be inspected after the
// fact.
func LoadHistoryDB(dbfile string) (*historydb, error) {
	db, err := bolt.Open(dbfile, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	d := &historydb{
		db:            db,
		historyBucket: []byte("history"),
	}
	err = d.db.Update(func(tr *bolt.Tx) error {
		_, err := tr.CreateBucketIfNotExists(d.historyBucket)
		return err
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (d *historydb) Put(s *est.Schedule) error {
	return d.db.Update(func(tr *bolt.Tx) error {
		v, err := json.Marshal(s)
		if err != nil {
			return err
		}
		return tr.Bucket(d.historyBucket).Put(itob(s.Timestamp), v)
	})
}

func (d *historydb) Get(start, end int64) ([]*est.Schedule, error) {
	var scheds []*est.Schedule
	err := d.db.View(func(tr *bolt.Tx) error {
		c := tr.Bucket(d.historyBucket).Cursor()
		startkey, endkey := itob(start), itob(end)
		for k, v := c.Seek(startkey); k != nil && bytes.Compare(k, endkey) <= 0; k, v = c.Next() {
			s := new(est.Schedule)
			if err := json.Unmarshal(v, s); err != nil {
				return err
			}
			scheds = append(scheds, s)
		}
		return nil
	})
	return scheds, err
}

func (d *historydb) Delete(start, end int64) error {
	return d.db.Update(func(tr *bolt.Tx) error {
		bkt := tr.Bucket(d.historyBucket)
		c := bkt.Cursor()
		startkey, endkey := itob(start), itob(end)
		var del [][]byte
		for k, _ := c.Seek(startkey); k != nil && bytes.Compare(k, endkey) <= 0; k, _ = c.Next() {
			del = append(del, k)
		}
		for _, k := range del {
			if err := bkt.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *historydb) Close() error {
	return d.db.Close()
}
