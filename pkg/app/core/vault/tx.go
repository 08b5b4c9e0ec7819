package vault

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Tx buffers transfers against a Memory book.
//
// The first read of each balance is pinned so the transaction sees a stable view, and every
// transfer is recorded as a delta. Nothing reaches the book until Commit or CommitWith, which
// fail with ErrConflict if any pinned balance moved in the meantime. Credits to balances the
// transaction never read are not checked.
type Tx struct {
	mu       sync.Mutex
	base     *Memory
	snapshot map[key]*big.Int
	deltas   map[key]*big.Int
	closed   bool
}

func (tx *Tx) balanceLocked(k key) *big.Int {
	b, ok := tx.snapshot[k]
	if !ok {
		b = tx.base.BalanceOf(k.token, k.owner)
		tx.snapshot[k] = b
	}
	out := new(big.Int).Set(b)
	if d, ok := tx.deltas[k]; ok {
		out.Add(out, d)
	}
	return out
}

func (tx *Tx) addDeltaLocked(k key, d *big.Int) {
	cur, ok := tx.deltas[k]
	if !ok {
		cur = new(big.Int)
		tx.deltas[k] = cur
	}
	cur.Add(cur, d)
}

func (tx *Tx) BalanceOf(token, owner common.Address) *big.Int {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.balanceLocked(key{token, owner})
}

func (tx *Tx) Transfer(token, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.closed {
		return ErrTxClosed
	}
	src := key{token, from}
	bal := tx.balanceLocked(src)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s of %s, needs %s", ErrInsufficientBalance, from.Hex(), bal, token.Hex(), amount)
	}
	tx.addDeltaLocked(src, new(big.Int).Neg(amount))
	tx.addDeltaLocked(key{token, to}, amount)
	return nil
}

// changed reports the net movement recorded for owner's token balance.
func (tx *Tx) changed(token, owner common.Address) *big.Int {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if d, ok := tx.deltas[key{token, owner}]; ok {
		return new(big.Int).Set(d)
	}
	return new(big.Int)
}

func (tx *Tx) Commit() error {
	return tx.CommitWith(nil)
}

// CommitWith applies the buffered transfers atomically. hook runs while the book is locked and
// after the read set and the resulting balances were validated; if it fails nothing is
// applied. A failed commit closes the transaction.
func (tx *Tx) CommitWith(hook func() error) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.closed {
		return ErrTxClosed
	}
	tx.closed = true
	deltas := make(map[key]*big.Int, len(tx.deltas))
	for k, d := range tx.deltas {
		if d.Sign() != 0 {
			deltas[k] = d
		}
	}
	return tx.base.apply(tx.snapshot, deltas, hook)
}

// Rollback discards the buffered transfers. Safe to call after Commit.
func (tx *Tx) Rollback() {
	tx.mu.Lock()
	tx.closed = true
	tx.deltas = nil
	tx.mu.Unlock()
}
