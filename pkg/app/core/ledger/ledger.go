// Package ledger tracks how much of each order digest has been filled and whether its maker
// cancelled it.
package ledger

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/stoplimit/pkg/app/core/errs"
)

// Record is the persisted state of one digest. A cancelled record is frozen.
type Record struct {
	Filled    *big.Int `json:"filled"`
	Cancelled bool     `json:"cancelled"`
}

func (r *Record) clone() *Record {
	out := &Record{Filled: new(big.Int), Cancelled: r.Cancelled}
	if r.Filled != nil {
		out.Filled.Set(r.Filled)
	}
	return out
}

// Store persists records. SaveFills must apply all records or none.
type Store interface {
	LoadFill(digest common.Hash) (*Record, error) // nil, nil when absent
	SaveFills(records map[common.Hash]*Record) error
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

type Ledger struct {
	store Store

	mu    sync.Mutex
	locks map[common.Hash]*lockEntry
}

func New(store Store) *Ledger {
	return &Ledger{store: store, locks: make(map[common.Hash]*lockEntry)}
}

// Lock takes the per-digest critical sections for digests, in byte order, and returns the
// matching unlock. Duplicates are locked once.
func (l *Ledger) Lock(digests ...common.Hash) (unlock func()) {
	uniq := make([]common.Hash, 0, len(digests))
	seen := make(map[common.Hash]struct{}, len(digests))
	for _, d := range digests {
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		uniq = append(uniq, d)
	}
	sort.Slice(uniq, func(i, j int) bool { return bytes.Compare(uniq[i][:], uniq[j][:]) < 0 })

	entries := make([]*lockEntry, len(uniq))
	l.mu.Lock()
	for i, d := range uniq {
		e, ok := l.locks[d]
		if !ok {
			e = &lockEntry{}
			l.locks[d] = e
		}
		e.refs++
		entries[i] = e
	}
	l.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
	}

	return func() {
		for i := len(entries) - 1; i >= 0; i-- {
			entries[i].mu.Unlock()
		}
		l.mu.Lock()
		for i, d := range uniq {
			entries[i].refs--
			if entries[i].refs == 0 {
				delete(l.locks, d)
			}
		}
		l.mu.Unlock()
	}
}

// Status returns the record for digest; digests never seen report zero filled.
func (l *Ledger) Status(digest common.Hash) (*Record, error) {
	rec, err := l.store.LoadFill(digest)
	if err != nil {
		return nil, fmt.Errorf("load fill %s: %w", digest.Hex(), err)
	}
	if rec == nil {
		return &Record{Filled: new(big.Int)}, nil
	}
	return rec.clone(), nil
}

// Statuses returns the records for several digests in input order.
func (l *Ledger) Statuses(digests []common.Hash) ([]*Record, error) {
	out := make([]*Record, len(digests))
	for i, d := range digests {
		rec, err := l.Status(d)
		if err != nil {
			return nil, err
		}
		out[i] = rec
	}
	return out, nil
}

// Filled returns the cumulative filled amount for digest.
func (l *Ledger) Filled(digest common.Hash) (*big.Int, error) {
	rec, err := l.Status(digest)
	if err != nil {
		return nil, err
	}
	return rec.Filled, nil
}

// Reserve checks that requested more units of tokenIn can be filled. pending is what the
// current call has already reserved on the same digest and may be nil. Reserve never writes;
// the caller must hold the digest lock through Commit.
func (l *Ledger) Reserve(digest common.Hash, amountIn, requested, pending *big.Int) error {
	rec, err := l.Status(digest)
	if err != nil {
		return err
	}
	if rec.Cancelled {
		return errs.New(errs.OrderCancelled, digest)
	}
	total := new(big.Int).Add(rec.Filled, requested)
	if pending != nil {
		total.Add(total, pending)
	}
	if total.Cmp(amountIn) > 0 {
		return errs.Errorf(errs.Overfilled, digest, "filled %s + requested %s exceeds %s", rec.Filled, new(big.Int).Sub(total, rec.Filled), amountIn)
	}
	return nil
}

// Commit adds each amount to its digest's cumulative total in one store write. Callers must
// hold the digest locks taken for the matching Reserve calls.
func (l *Ledger) Commit(fills map[common.Hash]*big.Int) error {
	records := make(map[common.Hash]*Record, len(fills))
	for d, amount := range fills {
		rec, err := l.Status(d)
		if err != nil {
			return err
		}
		if rec.Cancelled {
			return errs.New(errs.OrderCancelled, d)
		}
		rec.Filled.Add(rec.Filled, amount)
		records[d] = rec
	}
	if err := l.store.SaveFills(records); err != nil {
		return fmt.Errorf("save fills: %w", err)
	}
	return nil
}

// Cancel freezes digest on behalf of caller. It fails with NotMaker unless caller is the
// order's maker. Cancelling twice succeeds; repeat reports whether it was already frozen.
func (l *Ledger) Cancel(digest common.Hash, caller, maker common.Address) (repeat bool, err error) {
	if caller != maker {
		return false, errs.New(errs.NotMaker, digest)
	}
	unlock := l.Lock(digest)
	defer unlock()

	rec, err := l.Status(digest)
	if err != nil {
		return false, err
	}
	if rec.Cancelled {
		return true, nil
	}
	rec.Cancelled = true
	if err := l.store.SaveFills(map[common.Hash]*Record{digest: rec}); err != nil {
		return false, fmt.Errorf("save cancel: %w", err)
	}
	return false, nil
}
