package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"entryminder/internal/reminder"
	logx "entryminder/pkg/logx"
)

var (
	bucketRecords   = []byte("records")
	bucketGuards    = []byte("guards")
	bucketEvents    = []byte("events")
	bucketAggregate = []byte("aggregate")

	aggregateKey = []byte("v1")
)

type boltStore struct {
	db  *bbolt.DB
	log logx.Logger
}

func openBolt(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("bbolt path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(cfg.Path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketRecords, bucketGuards, bucketEvents, bucketAggregate} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &boltStore{db: db, log: log}, nil
}

func (s *boltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *boltStore) PutSeries(ctx context.Context, entityID string, t reminder.Type, recs []reminder.Record) error {
	_ = ctx
	key := []byte(reminder.Key(entityID, t))
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		if len(recs) == 0 {
			return b.Delete(key)
		}
		for i := range recs {
			if recs[i].Schema == 0 {
				recs[i].Schema = reminder.SchemaVersion
			}
		}
		data, err := json.Marshal(recs)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

func (s *boltStore) GetSeries(ctx context.Context, entityID string, t reminder.Type) ([]reminder.Record, error) {
	_ = ctx
	var out []reminder.Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketRecords).Get([]byte(reminder.Key(entityID, t)))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &out)
	})
	return out, err
}

func (s *boltStore) ListActive(ctx context.Context) ([]reminder.Record, error) {
	_ = ctx
	var out []reminder.Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRecords).ForEach(func(_, data []byte) error {
			var recs []reminder.Record
			if err := json.Unmarshal(data, &recs); err != nil {
				return err
			}
			for _, r := range recs {
				if r.Active() {
					out = append(out, r)
				}
			}
			return nil
		})
	})
	return out, err
}

func (s *boltStore) Compact(ctx context.Context) (int, error) {
	_ = ctx
	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		type upd struct {
			key  []byte
			recs []reminder.Record
		}
		var updates []upd
		err := b.ForEach(func(k, data []byte) error {
			var recs []reminder.Record
			if err := json.Unmarshal(data, &recs); err != nil {
				return err
			}
			kept := recs[:0]
			for _, r := range recs {
				if r.Active() {
					kept = append(kept, r)
				} else {
					removed++
				}
			}
			if len(kept) != len(recs) {
				kc := make([]byte, len(k))
				copy(kc, k)
				updates = append(updates, upd{key: kc, recs: kept})
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, u := range updates {
			if len(u.recs) == 0 {
				if err := b.Delete(u.key); err != nil {
					return err
				}
				continue
			}
			data, err := json.Marshal(u.recs)
			if err != nil {
				return err
			}
			if err := b.Put(u.key, data); err != nil {
				return err
			}
		}
		return nil
	})
	return removed, err
}

func (s *boltStore) PutGuard(ctx context.Context, entityID string, t reminder.Type, lastSentAt time.Time) error {
	_ = ctx
	return s.db.Update(func(tx *bbolt.Tx) error {
		var v [8]byte
		binary.BigEndian.PutUint64(v[:], uint64(lastSentAt.UnixMilli()))
		return tx.Bucket(bucketGuards).Put([]byte(reminder.Key(entityID, t)), v[:])
	})
}

func (s *boltStore) GetGuard(ctx context.Context, entityID string, t reminder.Type) (time.Time, bool, error) {
	_ = ctx
	var at time.Time
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketGuards).Get([]byte(reminder.Key(entityID, t)))
		if len(v) != 8 {
			return nil
		}
		at = time.UnixMilli(int64(binary.BigEndian.Uint64(v)))
		found = true
		return nil
	})
	return at, found, err
}

func (s *boltStore) AppendEvent(ctx context.Context, ev reminder.Event) error {
	_ = ctx
	if ev.Schema == 0 {
		ev.Schema = reminder.SchemaVersion
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		// Key orders by append time first so range prunes stay cheap.
		key := fmt.Sprintf("%020d|%012d", ev.At.UnixMilli(), seq)
		return b.Put([]byte(key), data)
	})
}

func (s *boltStore) ListEvents(ctx context.Context, since time.Time) ([]reminder.Event, error) {
	_ = ctx
	var out []reminder.Event
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketEvents).Cursor()
		var start []byte
		if !since.IsZero() {
			start = []byte(fmt.Sprintf("%020d", since.UnixMilli()))
		}
		k, v := c.First()
		if start != nil {
			k, v = c.Seek(start)
		}
		for ; k != nil; k, v = c.Next() {
			var ev reminder.Event
			if err := json.Unmarshal(v, &ev); err != nil {
				return err
			}
			out = append(out, ev)
		}
		return nil
	})
	return out, err
}

func (s *boltStore) PruneEvents(ctx context.Context, before time.Time) (int, error) {
	_ = ctx
	removed := 0
	limit := []byte(fmt.Sprintf("%020d", before.UnixMilli()))
	err := s.db.Update(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketEvents).Cursor()
		var doomed [][]byte
		for k, _ := c.First(); k != nil && string(k) < string(limit); k, _ = c.Next() {
			kc := make([]byte, len(k))
			copy(kc, k)
			doomed = append(doomed, kc)
		}
		for _, k := range doomed {
			if err := tx.Bucket(bucketEvents).Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

func (s *boltStore) GetAggregate(ctx context.Context) (reminder.Aggregate, bool, error) {
	_ = ctx
	var agg reminder.Aggregate
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketAggregate).Get(aggregateKey)
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &agg); err != nil {
			return err
		}
		found = true
		return nil
	})
	return agg, found, err
}

func (s *boltStore) PutAggregate(ctx context.Context, agg reminder.Aggregate) error {
	_ = ctx
	data, err := json.Marshal(agg)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAggregate).Put(aggregateKey, data)
	})
}
