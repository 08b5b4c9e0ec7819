// Package vault is an in-process balance book standing in for the external custody vault.
//
// Settlement never mutates the book directly: it opens a Tx, lets untrusted filler code move
// balances inside it, checks the outcome and then either commits every movement at once or
// drops them all.
package vault

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("amount must be non-negative")
	ErrTxClosed            = errors.New("transaction already closed")

	// ErrConflict means a balance the transaction read was changed by another writer before
	// it committed. Retrying from a fresh transaction is safe.
	ErrConflict = errors.New("balance changed since read")
)

// Reader exposes balance lookups.
type Reader interface {
	BalanceOf(token, owner common.Address) *big.Int
}

// Vault moves balances between owners.
type Vault interface {
	Reader
	Transfer(token, from, to common.Address, amount *big.Int) error
}

type key struct {
	token common.Address
	owner common.Address
}

// Memory is a mutex-guarded balance book.
type Memory struct {
	mu       sync.RWMutex
	balances map[key]*big.Int
}

func NewMemory() *Memory {
	return &Memory{balances: make(map[key]*big.Int)}
}

func (m *Memory) BalanceOf(token, owner common.Address) *big.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balanceLocked(key{token, owner})
}

func (m *Memory) balanceLocked(k key) *big.Int {
	if b, ok := m.balances[k]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (m *Memory) setLocked(k key, v *big.Int) {
	if v.Sign() == 0 {
		delete(m.balances, k)
		return
	}
	m.balances[k] = v
}

// Deposit credits amount of token to owner.
func (m *Memory) Deposit(token, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{token, to}
	m.setLocked(k, new(big.Int).Add(m.balanceLocked(k), amount))
	return nil
}

// Withdraw debits amount of token from owner.
func (m *Memory) Withdraw(token, from common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{token, from}
	bal := m.balanceLocked(k)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s of %s, needs %s", ErrInsufficientBalance, from.Hex(), bal, token.Hex(), amount)
	}
	m.setLocked(k, bal.Sub(bal, amount))
	return nil
}

func (m *Memory) Transfer(token, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	src, dst := key{token, from}, key{token, to}
	bal := m.balanceLocked(src)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s of %s, needs %s", ErrInsufficientBalance, from.Hex(), bal, token.Hex(), amount)
	}
	m.setLocked(src, bal.Sub(bal, amount))
	m.setLocked(dst, new(big.Int).Add(m.balanceLocked(dst), amount))
	return nil
}

// Begin opens a transaction over the book.
func (m *Memory) Begin() *Tx {
	return &Tx{
		base:     m,
		snapshot: make(map[key]*big.Int),
		deltas:   make(map[key]*big.Int),
	}
}

// apply validates and applies deltas under the write lock. Every balance in reads must still
// hold the value the transaction saw. hook runs after validation and before any balance
// changes; an error from it leaves the book untouched.
func (m *Memory) apply(reads, deltas map[key]*big.Int, hook func() error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, seen := range reads {
		if m.balanceLocked(k).Cmp(seen) != 0 {
			return fmt.Errorf("%w: %s of %s", ErrConflict, k.owner.Hex(), k.token.Hex())
		}
	}
	next := make(map[key]*big.Int, len(deltas))
	for k, d := range deltas {
		v := new(big.Int).Add(m.balanceLocked(k), d)
		if v.Sign() < 0 {
			return fmt.Errorf("%w: %s of %s would go negative on commit", ErrInsufficientBalance, k.owner.Hex(), k.token.Hex())
		}
		next[k] = v
	}
	if hook != nil {
		if err := hook(); err != nil {
			return err
		}
	}
	for k, v := range next {
		m.setLocked(k, v)
	}
	return nil
}

// Transactional is a book that can group transfers into one atomic unit.
type Transactional interface {
	Reader
	Begin() *Tx
}
