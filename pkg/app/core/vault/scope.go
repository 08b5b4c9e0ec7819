package vault

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var ErrUnauthorized = errors.New("not authorised to debit account")

// Capability authorises debits from a fixed set of accounts on one book. Only the book can
// mint one, so holding it is proof of authority.
type Capability struct {
	book   *Memory
	owners map[common.Address]struct{}
}

// Grant mints a capability over owners.
func (m *Memory) Grant(owners ...common.Address) *Capability {
	c := &Capability{book: m, owners: make(map[common.Address]struct{}, len(owners))}
	for _, o := range owners {
		c.owners[o] = struct{}{}
	}
	return c
}

// Scope is a view of a Tx that can read any balance but only debit the accounts it was
// opened for, plus those of any capability added with With.
type Scope struct {
	tx     *Tx
	owners map[common.Address]struct{}
}

// Scope opens a restricted view on tx for owners.
func (tx *Tx) Scope(owners ...common.Address) *Scope {
	s := &Scope{tx: tx, owners: make(map[common.Address]struct{}, len(owners))}
	for _, o := range owners {
		s.owners[o] = struct{}{}
	}
	return s
}

// With returns a wider scope that may also debit the capability's accounts.
func (s *Scope) With(c *Capability) (*Scope, error) {
	if c == nil || c.book != s.tx.base {
		return nil, fmt.Errorf("%w: capability belongs to another book", ErrUnauthorized)
	}
	out := &Scope{tx: s.tx, owners: make(map[common.Address]struct{}, len(s.owners)+len(c.owners))}
	for o := range s.owners {
		out.owners[o] = struct{}{}
	}
	for o := range c.owners {
		out.owners[o] = struct{}{}
	}
	return out, nil
}

func (s *Scope) BalanceOf(token, owner common.Address) *big.Int {
	return s.tx.BalanceOf(token, owner)
}

func (s *Scope) Transfer(token, from, to common.Address, amount *big.Int) error {
	if _, ok := s.owners[from]; !ok {
		return fmt.Errorf("%w %s", ErrUnauthorized, from.Hex())
	}
	return s.tx.Transfer(token, from, to, amount)
}
