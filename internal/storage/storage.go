// Package storage persists tradecore's two durable artifacts: the orphan
// stop-loss journal StopManager consults on startup, and a bar cache for
// the backtest driver (spec §6.2), using BoltDB as the embedded engine.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"tradecore/internal/common"
	"tradecore/internal/exchange"

	"go.etcd.io/bbolt"
)

const (
	orphanBucket = "orphan_sl"
	barsBucket   = "bars"
)

// Store is the BoltDB-backed implementation of stopmanager.OrphanStore
// plus a bar cache used by the backtest driver.
type Store struct {
	db *bbolt.DB
}

// New opens (creating if absent) the database file under dataPath and
// ensures both buckets exist.
func New(dataPath string) (*Store, error) {
	dbPath := filepath.Join(dataPath, "tradecore.db")

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(orphanBucket)); err != nil {
			return fmt.Errorf("create orphan_sl bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(barsBucket)); err != nil {
			return fmt.Errorf("create bars bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveOrphan persists a failed SL cancel, capped at OrphanSLJournalCap
// entries (oldest evicted first) per spec §4.12/§6.2.
func (s *Store) SaveOrphan(ctx context.Context, o common.OrphanSL) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(orphanBucket))

		data, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("marshal orphan sl: %w", err)
		}
		if err := b.Put([]byte(o.SLOrderID), data); err != nil {
			return err
		}
		return evictOldest(b, common.OrphanSLJournalCap)
	})
}

// evictOldest drops the entries with the oldest Timestamp once count
// exceeds cap. Keys are SL order IDs, not time-ordered, so key order is
// not used.
func evictOldest(b *bbolt.Bucket, capacity int) error {
	if b.Stats().KeyN <= capacity {
		return nil
	}
	type keyed struct {
		key []byte
		ts  time.Time
	}
	var all []keyed
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var o common.OrphanSL
		if err := json.Unmarshal(v, &o); err != nil {
			continue
		}
		all = append(all, keyed{key: append([]byte(nil), k...), ts: o.Timestamp})
	}
	excess := len(all) - capacity
	if excess <= 0 {
		return nil
	}
	for i := 0; i < len(all); i++ {
		for j := i + 1; j < len(all); j++ {
			if all[j].ts.Before(all[i].ts) {
				all[i], all[j] = all[j], all[i]
			}
		}
	}
	for i := 0; i < excess; i++ {
		if err := b.Delete(all[i].key); err != nil {
			return err
		}
	}
	return nil
}

// ListOrphans returns every persisted orphan record, pruning any older
// than OrphanSLTTLDays as it goes.
func (s *Store) ListOrphans(ctx context.Context) ([]common.OrphanSL, error) {
	var out []common.OrphanSL
	cutoff := time.Now().Add(-time.Duration(common.OrphanSLTTLDays) * 24 * time.Hour)
	var expired [][]byte

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(orphanBucket))
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var o common.OrphanSL
			if err := json.Unmarshal(v, &o); err != nil {
				continue
			}
			if o.Timestamp.Before(cutoff) {
				expired = append(expired, append([]byte(nil), k...))
				continue
			}
			out = append(out, o)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list orphans: %w", err)
	}

	if len(expired) > 0 {
		_ = s.db.Update(func(tx *bbolt.Tx) error {
			b := tx.Bucket([]byte(orphanBucket))
			for _, k := range expired {
				if err := b.Delete(k); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return out, nil
}

// RemoveOrphan deletes one drained orphan record by SL order ID.
func (s *Store) RemoveOrphan(ctx context.Context, slOrderID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(orphanBucket)).Delete([]byte(slOrderID))
	})
}

// SaveBar stores one OHLCV bar keyed "symbol_timeframe_timestampUnixNano",
// feeding the backtest driver's bar cache.
func (s *Store) SaveBar(symbol, timeframe string, bar exchange.Bar) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(barsBucket))
		data, err := json.Marshal(bar)
		if err != nil {
			return fmt.Errorf("marshal bar: %w", err)
		}
		key := barKey(symbol, timeframe, bar.TimestampMs*int64(time.Millisecond))
		return b.Put(key, data)
	})
}

// GetBars retrieves bars for symbol/timeframe within [start, end], ordered
// by timestamp, generalizing the teacher's GetTrades/GetDepths range scan.
func (s *Store) GetBars(symbol, timeframe string, start, end time.Time) ([]exchange.Bar, error) {
	var out []exchange.Bar
	prefix := []byte(symbol + "_" + timeframe + "_")
	startKey := barKey(symbol, timeframe, start.UnixNano())
	endKey := barKey(symbol, timeframe, end.UnixNano())

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(barsBucket))
		c := b.Cursor()
		for k, v := c.Seek(startKey); k != nil && bytes.Compare(k, endKey) <= 0; k, v = c.Next() {
			if !bytes.HasPrefix(k, prefix) {
				continue
			}
			var bar exchange.Bar
			if err := json.Unmarshal(v, &bar); err != nil {
				continue
			}
			out = append(out, bar)
		}
		return nil
	})
	return out, err
}

func barKey(symbol, timeframe string, tsUnixNano int64) []byte {
	return []byte(fmt.Sprintf("%s_%s_%020d", symbol, timeframe, tsUnixNano))
}
