// Package governance holds the owner-controlled configuration: the fee rate and recipient,
// the filler whitelist and the owner identity with its two-phase transfer.
package governance

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/stoplimit/pkg/app/core/errs"
)

const (
	// FeeDivisor is the fixed denominator of the fee rate.
	FeeDivisor uint64 = 100000
	// DefaultFeeNumerator charges 0.1% on open fills.
	DefaultFeeNumerator uint64 = 100
)

// State is the persisted form of Config.
type State struct {
	Owner        common.Address   `json:"owner"`
	PendingOwner common.Address   `json:"pending_owner"`
	FeeRecipient common.Address   `json:"fee_recipient"`
	FeeNumerator uint64           `json:"fee_numerator"`
	Whitelist    []common.Address `json:"whitelist"`
}

type Store interface {
	LoadGovernance() (*State, error) // nil, nil when nothing was saved yet
	SaveGovernance(*State) error
}

// Fees is a read-only view of the fee configuration.
type Fees struct {
	Recipient common.Address
	Numerator uint64
	Divisor   uint64
}

// Of returns amount * Numerator / Divisor, truncated.
func (f Fees) Of(amount *big.Int) *big.Int {
	out := new(big.Int).Mul(amount, new(big.Int).SetUint64(f.Numerator))
	return out.Quo(out, new(big.Int).SetUint64(f.Divisor))
}

// Config is the single owned configuration object shared by the engine. Reads take a read
// lock; owner mutations are persisted before they become visible.
type Config struct {
	mu    sync.RWMutex
	store Store
	state State
	wl    map[common.Address]struct{}
}

// New loads the persisted configuration, or seeds it from genesis when the store is empty.
func New(store Store, genesis State) (*Config, error) {
	st, err := store.LoadGovernance()
	if err != nil {
		return nil, fmt.Errorf("load governance: %w", err)
	}
	if st == nil {
		if genesis.FeeNumerator > FeeDivisor {
			return nil, fmt.Errorf("genesis fee numerator %d exceeds divisor %d", genesis.FeeNumerator, FeeDivisor)
		}
		st = &genesis
		st.Whitelist = normalise(st.Whitelist)
		if err := store.SaveGovernance(st); err != nil {
			return nil, fmt.Errorf("save genesis governance: %w", err)
		}
	}
	c := &Config{store: store}
	c.install(*st)
	return c, nil
}

func normalise(addrs []common.Address) []common.Address {
	set := make(map[common.Address]struct{}, len(addrs))
	out := make([]common.Address, 0, len(addrs))
	for _, a := range addrs {
		if _, ok := set[a]; ok {
			continue
		}
		set[a] = struct{}{}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

func (c *Config) install(st State) {
	c.state = st
	c.wl = make(map[common.Address]struct{}, len(st.Whitelist))
	for _, a := range st.Whitelist {
		c.wl[a] = struct{}{}
	}
}

func (c *Config) snapshotLocked() State {
	st := c.state
	st.Whitelist = append([]common.Address(nil), c.state.Whitelist...)
	return st
}

// mutate applies fn to a copy of the state, persists it and only then makes it visible.
func (c *Config) mutate(fn func(st *State) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.snapshotLocked()
	if err := fn(&next); err != nil {
		return err
	}
	next.Whitelist = normalise(next.Whitelist)
	if err := c.store.SaveGovernance(&next); err != nil {
		return fmt.Errorf("save governance: %w", err)
	}
	c.install(next)
	return nil
}

func (c *Config) requireOwnerLocked(st *State, caller common.Address) error {
	if st.Owner == (common.Address{}) || caller != st.Owner {
		return errs.NotOwner
	}
	return nil
}

// RequireOwner fails with NotOwner unless caller currently owns the configuration.
func (c *Config) RequireOwner(caller common.Address) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.requireOwnerLocked(&c.state, caller)
}

func (c *Config) Owner() common.Address {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Owner
}

func (c *Config) PendingOwner() common.Address {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.PendingOwner
}

func (c *Config) Fees() Fees {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Fees{Recipient: c.state.FeeRecipient, Numerator: c.state.FeeNumerator, Divisor: FeeDivisor}
}

func (c *Config) IsWhitelisted(filler common.Address) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.wl[filler]
	return ok
}

// Whitelisted lists the current whitelist in byte order.
func (c *Config) Whitelisted() []common.Address {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]common.Address(nil), c.state.Whitelist...)
}

// Snapshot returns a copy of the full state.
func (c *Config) Snapshot() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

// SetFees changes the fee recipient and rate.
func (c *Config) SetFees(caller, recipient common.Address, numerator uint64) error {
	return c.mutate(func(st *State) error {
		if err := c.requireOwnerLocked(st, caller); err != nil {
			return err
		}
		if numerator > FeeDivisor {
			return fmt.Errorf("%w: fee numerator %d exceeds divisor %d", errs.InvalidAmount, numerator, FeeDivisor)
		}
		st.FeeRecipient = recipient
		st.FeeNumerator = numerator
		return nil
	})
}

// SetWhitelisted adds or removes filler from the whitelist.
func (c *Config) SetWhitelisted(caller, filler common.Address, allowed bool) error {
	return c.mutate(func(st *State) error {
		if err := c.requireOwnerLocked(st, caller); err != nil {
			return err
		}
		if allowed {
			st.Whitelist = append(st.Whitelist, filler)
			return nil
		}
		kept := st.Whitelist[:0]
		for _, a := range st.Whitelist {
			if a != filler {
				kept = append(kept, a)
			}
		}
		st.Whitelist = kept
		return nil
	})
}

// TransferOwnership hands ownership to newOwner immediately when direct is set, otherwise
// records newOwner as pending until it calls ClaimOwnership. A direct transfer to the zero
// address is only allowed with renounce.
func (c *Config) TransferOwnership(caller, newOwner common.Address, direct, renounce bool) (previous common.Address, err error) {
	err = c.mutate(func(st *State) error {
		if err := c.requireOwnerLocked(st, caller); err != nil {
			return err
		}
		previous = st.Owner
		if !direct {
			st.PendingOwner = newOwner
			return nil
		}
		if newOwner == (common.Address{}) && !renounce {
			return fmt.Errorf("%w: zero address", errs.InvalidOwner)
		}
		st.Owner = newOwner
		st.PendingOwner = common.Address{}
		return nil
	})
	return previous, err
}

// ClaimOwnership completes a pending transfer. Only the pending owner may call it.
func (c *Config) ClaimOwnership(caller common.Address) (previous common.Address, err error) {
	err = c.mutate(func(st *State) error {
		if st.PendingOwner == (common.Address{}) || caller != st.PendingOwner {
			return fmt.Errorf("%w: caller is not the pending owner", errs.NotOwner)
		}
		previous = st.Owner
		st.Owner = st.PendingOwner
		st.PendingOwner = common.Address{}
		return nil
	})
	return previous, err
}
