package venue

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/stoplimit/pkg/app/core/vault"
)

type pair struct{ a, b common.Address }

func pairOf(x, y common.Address) pair {
	if x.Cmp(y) > 0 {
		x, y = y, x
	}
	return pair{x, y}
}

// Router finds pools by token pair and runs multi-hop swaps. It holds the capability to debit
// every pool it manages.
type Router struct {
	book *vault.Memory

	mu    sync.RWMutex
	pools map[pair]*Pool
	cap   *vault.Capability
}

func NewRouter(book *vault.Memory) *Router {
	return &Router{book: book, pools: make(map[pair]*Pool), cap: book.Grant()}
}

// AddPool registers p. A second pool for the same pair replaces the first.
func (r *Router) AddPool(p *Pool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pools[pairOf(p.Token0, p.Token1)] = p
	owners := make([]common.Address, 0, len(r.pools))
	for _, q := range r.pools {
		owners = append(owners, q.Address)
	}
	r.cap = r.book.Grant(owners...)
}

// Pool returns the pool trading a against b.
func (r *Router) Pool(a, b common.Address) (*Pool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pools[pairOf(a, b)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownPair, a.Hex(), b.Hex())
	}
	return p, nil
}

func (r *Router) Pools() []*Pool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Pool, 0, len(r.pools))
	for _, p := range r.pools {
		out = append(out, p)
	}
	return out
}

// AmountsOut quotes every hop of path for amountIn. The first element is amountIn.
func (r *Router) AmountsOut(reader vault.Reader, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	if len(path) < 2 {
		return nil, fmt.Errorf("%w: need at least two tokens, got %d", ErrInvalidPath, len(path))
	}
	amounts := make([]*big.Int, len(path))
	amounts[0] = new(big.Int).Set(amountIn)
	for i := 0; i < len(path)-1; i++ {
		p, err := r.Pool(path[i], path[i+1])
		if err != nil {
			return nil, err
		}
		out, err := p.Quote(reader, path[i], amounts[i])
		if err != nil {
			return nil, err
		}
		amounts[i+1] = out
	}
	return amounts, nil
}

// SwapExactIn trades amountIn of path[0] held by from along path and credits the final output
// to `to`. It fails with ErrInsufficientOutput if that output is below minOut.
func (r *Router) SwapExactIn(scope *vault.Scope, amountIn, minOut *big.Int, path []common.Address, from, to common.Address) (*big.Int, error) {
	if len(path) < 2 {
		return nil, fmt.Errorf("%w: need at least two tokens, got %d", ErrInvalidPath, len(path))
	}
	r.mu.RLock()
	c := r.cap
	r.mu.RUnlock()
	v, err := scope.With(c)
	if err != nil {
		return nil, err
	}

	amount := new(big.Int).Set(amountIn)
	holder := from
	for i := 0; i < len(path)-1; i++ {
		p, err := r.Pool(path[i], path[i+1])
		if err != nil {
			return nil, err
		}
		// intermediate outputs stay with from
		next := to
		if i < len(path)-2 {
			next = from
		}
		amount, err = p.Swap(v, path[i], amount, holder, next)
		if err != nil {
			return nil, err
		}
		holder = next
	}
	if minOut != nil && amount.Cmp(minOut) < 0 {
		return nil, fmt.Errorf("%w: got %s, want at least %s", ErrInsufficientOutput, amount, minOut)
	}
	return amount, nil
}
