package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/NethermindEth/nfaclaw-agent/gatekeeper"
)

const ratePrefix = "rate:"

// RateStore persists rate buckets so limits survive a restart. Each hit is
// one Badger transaction; buckets expire with their window.
type RateStore struct {
	db *DBStorage
}

func NewRateStore(db *DBStorage) *RateStore {
	return &RateStore{db: db}
}

// Hit implements gatekeeper.Store.
func (r *RateStore) Hit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (gatekeeper.Decision, error) {
	if err := ctx.Err(); err != nil {
		return gatekeeper.Decision{}, err
	}
	dbKey := []byte(ratePrefix + key)

	var decision gatekeeper.Decision
	err := r.db.update(func(txn *badger.Txn) error {
		var (
			bucket gatekeeper.Bucket
			found  bool
		)
		item, err := txn.Get(dbKey)
		switch {
		case err == nil:
			if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &bucket) }); err != nil {
				return fmt.Errorf("failed to decode bucket %s: %w", key, err)
			}
			found = true
		case errors.Is(err, badger.ErrKeyNotFound):
		default:
			return err
		}

		next, d := gatekeeper.Advance(bucket, found, limit, window, now)
		decision = d
		if !d.Allowed {
			return nil
		}
		data, err := json.Marshal(next)
		if err != nil {
			return err
		}
		return txn.SetEntry(newEntry(string(dbKey), data, next.ResetAt.Sub(now)))
	})
	if err != nil {
		r.db.logOperation("hit", key, err)
		return gatekeeper.Decision{}, fmt.Errorf("failed to record hit: %w", err)
	}
	return decision, nil
}

// Buckets lists live buckets by key, without the storage prefix.
func (r *RateStore) Buckets() (map[string]gatekeeper.Bucket, error) {
	raw, err := r.db.GetByPrefix(ratePrefix)
	if err != nil {
		return nil, err
	}
	out := make(map[string]gatekeeper.Bucket, len(raw))
	for k, v := range raw {
		var b gatekeeper.Bucket
		if err := json.Unmarshal(v, &b); err != nil {
			return nil, fmt.Errorf("failed to decode bucket %s: %w", k, err)
		}
		out[k[len(ratePrefix):]] = b
	}
	return out, nil
}
