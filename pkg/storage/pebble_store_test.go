package storage

import (
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/stoplimit/pkg/app/core/governance"
	"github.com/uhyunpark/stoplimit/pkg/app/core/ledger"
)

type fillStore interface {
	ledger.Store
	governance.Store
	ForEachFill(fn func(common.Hash, *ledger.Record) bool) error
}

func openPebble(t *testing.T) *PebbleStore {
	t.Helper()
	s, err := NewPebbleStore(filepath.Join(t.TempDir(), "fills.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStores(t *testing.T) {
	stores := map[string]func(t *testing.T) fillStore{
		"pebble": func(t *testing.T) fillStore { return openPebble(t) },
		"memory": func(t *testing.T) fillStore { return NewMemoryStore() },
	}
	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			testFillRecords(t, open(t))
			testGovernanceState(t, open(t))
		})
	}
}

func testFillRecords(t *testing.T, s fillStore) {
	d1 := common.HexToHash("0x01")
	d2 := common.HexToHash("0x02")

	rec, err := s.LoadFill(d1)
	if err != nil || rec != nil {
		t.Fatalf("LoadFill on empty store = %v, %v", rec, err)
	}

	err = s.SaveFills(map[common.Hash]*ledger.Record{
		d1: {Filled: big.NewInt(9)},
		d2: {Filled: big.NewInt(0), Cancelled: true},
	})
	if err != nil {
		t.Fatalf("SaveFills: %v", err)
	}

	rec, err = s.LoadFill(d1)
	if err != nil {
		t.Fatalf("LoadFill: %v", err)
	}
	if rec.Filled.Int64() != 9 || rec.Cancelled {
		t.Errorf("d1 = %+v", rec)
	}
	rec, _ = s.LoadFill(d2)
	if !rec.Cancelled {
		t.Errorf("d2 should be cancelled")
	}

	var visited []common.Hash
	if err := s.ForEachFill(func(d common.Hash, _ *ledger.Record) bool {
		visited = append(visited, d)
		return true
	}); err != nil {
		t.Fatalf("ForEachFill: %v", err)
	}
	if len(visited) != 2 || visited[0] != d1 || visited[1] != d2 {
		t.Errorf("ForEachFill visited %v", visited)
	}
}

func testGovernanceState(t *testing.T, s fillStore) {
	st, err := s.LoadGovernance()
	if err != nil || st != nil {
		t.Fatalf("LoadGovernance on empty store = %v, %v", st, err)
	}
	want := &governance.State{
		Owner:        common.HexToAddress("0xaa"),
		FeeRecipient: common.HexToAddress("0xbb"),
		FeeNumerator: 100,
		Whitelist:    []common.Address{common.HexToAddress("0xcc")},
	}
	if err := s.SaveGovernance(want); err != nil {
		t.Fatalf("SaveGovernance: %v", err)
	}
	got, err := s.LoadGovernance()
	if err != nil {
		t.Fatalf("LoadGovernance: %v", err)
	}
	if got.Owner != want.Owner || got.FeeNumerator != 100 || len(got.Whitelist) != 1 {
		t.Errorf("governance round trip = %+v", got)
	}
}

func TestPebbleStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fills.db")
	s, err := NewPebbleStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	d := common.HexToHash("0xfeed")
	if err := s.SaveFills(map[common.Hash]*ledger.Record{d: {Filled: big.NewInt(3)}}); err != nil {
		t.Fatalf("SaveFills: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err = NewPebbleStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	rec, err := s.LoadFill(d)
	if err != nil || rec == nil || rec.Filled.Int64() != 3 {
		t.Fatalf("after reopen LoadFill = %+v, %v", rec, err)
	}
}
