package storage

import (
	"bytes"
	"encoding/json"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/stoplimit/pkg/app/core/governance"
	"github.com/uhyunpark/stoplimit/pkg/app/core/ledger"
)

// MemoryStore keeps records in process. Values are stored encoded so callers never share
// pointers with the store.
type MemoryStore struct {
	mu    sync.RWMutex
	fills map[common.Hash][]byte
	gov   []byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{fills: make(map[common.Hash][]byte)}
}

func (s *MemoryStore) LoadFill(digest common.Hash) (*ledger.Record, error) {
	s.mu.RLock()
	data, ok := s.fills[digest]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	var rec ledger.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *MemoryStore) SaveFills(records map[common.Hash]*ledger.Record) error {
	encoded := make(map[common.Hash][]byte, len(records))
	for d, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		encoded[d] = data
	}
	s.mu.Lock()
	for d, data := range encoded {
		s.fills[d] = data
	}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ForEachFill(fn func(digest common.Hash, rec *ledger.Record) bool) error {
	s.mu.RLock()
	digests := make([]common.Hash, 0, len(s.fills))
	for d := range s.fills {
		digests = append(digests, d)
	}
	s.mu.RUnlock()
	sort.Slice(digests, func(i, j int) bool { return bytes.Compare(digests[i][:], digests[j][:]) < 0 })

	for _, d := range digests {
		rec, err := s.LoadFill(d)
		if err != nil {
			return err
		}
		if !fn(d, rec) {
			break
		}
	}
	return nil
}

func (s *MemoryStore) LoadGovernance() (*governance.State, error) {
	s.mu.RLock()
	data := s.gov
	s.mu.RUnlock()
	if data == nil {
		return nil, nil
	}
	var st governance.State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *MemoryStore) SaveGovernance(st *governance.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.gov = data
	s.mu.Unlock()
	return nil
}

var (
	_ ledger.Store     = (*MemoryStore)(nil)
	_ governance.Store = (*MemoryStore)(nil)
)
