package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/stoplimit/pkg/app/core/governance"
	"github.com/uhyunpark/stoplimit/pkg/app/core/ledger"
)

// PebbleStore persists fill records and governance state.
type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	opts := &pebble.Options{
		MemTableSize:             8 << 20, // fill records are tiny
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    4,
		L0StopWritesThreshold:    12,
		LBaseMaxBytes:            64 << 20,
		MaxOpenFiles:             500,
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

func (s *PebbleStore) getJSON(key []byte, out any) (bool, error) {
	val, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	defer closer.Close()
	if err := json.Unmarshal(val, out); err != nil {
		return false, fmt.Errorf("decode %q: %w", key, err)
	}
	return true, nil
}

func (s *PebbleStore) LoadFill(digest common.Hash) (*ledger.Record, error) {
	var rec ledger.Record
	ok, err := s.getJSON(fillKey(digest), &rec)
	if err != nil || !ok {
		return nil, err
	}
	return &rec, nil
}

// SaveFills writes every record in one synced batch.
func (s *PebbleStore) SaveFills(records map[common.Hash]*ledger.Record) error {
	batch := s.db.NewBatch()
	defer batch.Close()
	for digest, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode fill %s: %w", digest.Hex(), err)
		}
		if err := batch.Set(fillKey(digest), data, nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

// ForEachFill visits every stored record in digest order until fn returns false.
func (s *PebbleStore) ForEachFill(fn func(digest common.Hash, rec *ledger.Record) bool) error {
	prefix := []byte(prefixFill)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		digest, ok := digestFromFillKey(iter.Key())
		if !ok {
			continue
		}
		var rec ledger.Record
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return fmt.Errorf("decode fill %s: %w", digest.Hex(), err)
		}
		if !fn(digest, &rec) {
			break
		}
	}
	return iter.Error()
}

func (s *PebbleStore) LoadGovernance() (*governance.State, error) {
	var st governance.State
	ok, err := s.getJSON([]byte(keyGov), &st)
	if err != nil || !ok {
		return nil, err
	}
	return &st, nil
}

func (s *PebbleStore) SaveGovernance(st *governance.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode governance: %w", err)
	}
	return s.db.Set([]byte(keyGov), data, pebble.Sync)
}

var (
	_ ledger.Store     = (*PebbleStore)(nil)
	_ governance.Store = (*PebbleStore)(nil)
)
