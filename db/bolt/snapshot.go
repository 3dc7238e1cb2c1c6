package bolt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/boltdb/bolt"

	est "github.com/joltfun/btcflow/estimate"
)

type snapshotdb struct {
	db         *bolt.DB
	snapBucket []byte // itob(time) -> json(Snapshot)
}

func LoadSnapshotDB(dbfile string) (*snapshotdb, error) {
	db, err := bolt.Open(dbfile, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	d := &snapshotdb{
		db:         db,
		snapBucket: []byte("snapshots"),
	}
	err = d.db.Update(func(tr *bolt.Tx) error {
		_, err := tr.CreateBucketIfNotExists(d.snapBucket)
		return err
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Put stores a snapshot keyed by its capture time. Snapshot times are
// strictly increasing per run, so an existing key is a data bug, not
// something to silently overwrite.
func (d *snapshotdb) Put(s *est.Snapshot) error {
	return d.db.Update(func(tr *bolt.Tx) error {
		bkt := tr.Bucket(d.snapBucket)
		key := itob(s.Time)
		if bkt.Get(key) != nil {
			return fmt.Errorf("duplicate snapshot time %d", s.Time)
		}
		v, err := json.Marshal(s)
		if err != nil {
			return err
		}
		return bkt.Put(key, v)
	})
}

// Get returns all snapshots with capture time within [start, end], sorted by
// increasing time.
func (d *snapshotdb) Get(start, end int64) ([]*est.Snapshot, error) {
	var snaps []*est.Snapshot
	err := d.db.View(func(tr *bolt.Tx) error {
		c := tr.Bucket(d.snapBucket).Cursor()
		startkey, endkey := itob(start), itob(end)
		for k, v := c.Seek(startkey); k != nil && bytes.Compare(k, endkey) <= 0; k, v = c.Next() {
			s := new(est.Snapshot)
			if err := json.Unmarshal(v, s); err != nil {
				return err
			}
			snaps = append(snaps, s)
		}
		return nil
	})
	return snaps, err
}

// Latest returns the most recent snapshot, or nil if none has been captured
// yet.
func (d *snapshotdb) Latest() (*est.Snapshot, error) {
	var snap *est.Snapshot
	err := d.db.View(func(tr *bolt.Tx) error {
		_, v := tr.Bucket(d.snapBucket).Cursor().Last()
		if v == nil {
			return nil
		}
		snap = new(est.Snapshot)
		return json.Unmarshal(v, snap)
	})
	return snap, err
}

// Delete removes all snapshots with capture time in between start and end.
func (d *snapshotdb) Delete(start, end int64) error {
	return d.db.Update(func(tr *bolt.Tx) error {
		bkt := tr.Bucket(d.snapBucket)
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

func (d *snapshotdb) Close() error {
	return d.db.Close()
}
