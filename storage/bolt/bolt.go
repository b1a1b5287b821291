// Package bolt is a storage.Storage backed by a bbolt file.
//
// Each command gets a bucket.  Keys sort by report time so a cursor
// walks history in order.
package bolt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Comcast/metronome/sink"
	"github.com/Comcast/metronome/storage"
	"github.com/Comcast/metronome/util"

	bolt "go.etcd.io/bbolt"
)

type Storage struct {
	Debug    bool
	filename string
	db       *bolt.DB
}

func NewStorage(filename string) (*Storage, error) {
	return &Storage{
		filename: filename,
	}, nil
}

func (s *Storage) Open(ctx context.Context) error {
	opts := &bolt.Options{
		Timeout: time.Second,
	}

	db, err := bolt.Open(s.filename, 0644, opts)
	if err != nil {
		return err
	}
	s.db = db
	return nil
}

func (s *Storage) Close(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Storage) logf(format string, args ...interface{}) {
	if s.Debug {
		util.Logger().Infof("BoltDB Storage."+format, args...)
	}
}

func (s *Storage) MakeCommand(ctx context.Context, name string) error {
	s.logf("MakeCommand %s", name)
	return s.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(name))
		return err
	})
}

func (s *Storage) RemCommand(ctx context.Context, name string) error {
	s.logf("RemCommand %s", name)
	return s.db.Update(func(tx *bolt.Tx) error {
		err := tx.DeleteBucket([]byte(name))
		if errors.Is(err, bolt.ErrBucketNotFound) {
			return storage.NotFound
		}
		return err
	})
}

func (s *Storage) Commands(ctx context.Context) ([]string, error) {
	acc := make([]string, 0, 8)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			acc = append(acc, string(name))
			return nil
		})
	})
	return acc, err
}

func (s *Storage) GetHistory(ctx context.Context, name string, limit int) ([]*sink.Report, error) {
	s.logf("GetHistory %s %d", name, limit)
	rs := make([]*sink.Report, 0, 32)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(name))
		if b == nil {
			return storage.NotFound
		}
		// Walk backwards from the newest and then reverse.
		c := b.Cursor()
		for k, js := c.Last(); k != nil; k, js = c.Prev() {
			if 0 < limit && len(rs) == limit {
				break
			}
			var r sink.Report
			if err := json.Unmarshal(js, &r); err != nil {
				return fmt.Errorf("bad report at %s/%s: %w", name, k, err)
			}
			rs = append(rs, &r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(rs)-1; i < j; i, j = i+1, j-1 {
		rs[i], rs[j] = rs[j], rs[i]
	}

	s.logf("GetHistory %s found %d reports", name, len(rs))

	return rs, nil
}

func (s *Storage) WriteReports(ctx context.Context, name string, rs []*sink.Report) error {
	s.logf("WriteReports %s %d", name, len(rs))

	if 0 == len(rs) {
		return nil
	}

	vals := make([][]byte, 0, len(rs))
	for _, r := range rs {
		js, err := json.Marshal(r)
		if err != nil {
			return err
		}
		vals = append(vals, js)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(name))
		if err != nil {
			return err
		}
		for i, js := range vals {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			if err = b.Put(key(rs[i], seq), js); err != nil {
				return err
			}
		}
		return nil
	})
}

// key orders by report time, then by insertion.
func key(r *sink.Report, seq uint64) []byte {
	return []byte(fmt.Sprintf("%020d-%020d", r.At.UnixNano(), seq))
}
