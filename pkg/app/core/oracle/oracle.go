// Package oracle gates stop orders on an external price.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// None disables the stop check when used as an order's oracle address.
var None = common.Address{}

var ErrUnknownOracle = errors.New("unknown oracle")

// Oracle reports a fixed-point rate for the given opaque order data.
type Oracle interface {
	Price(ctx context.Context, data []byte) (*big.Int, error)
}

// Func adapts a function to Oracle.
type Func func(ctx context.Context, data []byte) (*big.Int, error)

func (f Func) Price(ctx context.Context, data []byte) (*big.Int, error) { return f(ctx, data) }

// Comparison decides on which side of the stop price an order becomes fillable.
type Comparison uint8

const (
	Above Comparison = iota // rate > stop
	AtOrAbove
	Below
	AtOrBelow
)

func (c Comparison) String() string {
	switch c {
	case Above:
		return "above"
	case AtOrAbove:
		return "at_or_above"
	case Below:
		return "below"
	case AtOrBelow:
		return "at_or_below"
	}
	return fmt.Sprintf("comparison(%d)", uint8(c))
}

func ParseComparison(s string) (Comparison, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "above", ">":
		return Above, nil
	case "at_or_above", ">=":
		return AtOrAbove, nil
	case "below", "<":
		return Below, nil
	case "at_or_below", "<=":
		return AtOrBelow, nil
	}
	return Above, fmt.Errorf("unknown stop comparison %q", s)
}

// Triggered reports whether rate has crossed stop.
func (c Comparison) Triggered(rate, stop *big.Int) bool {
	cmp := rate.Cmp(stop)
	switch c {
	case AtOrAbove:
		return cmp >= 0
	case Below:
		return cmp < 0
	case AtOrBelow:
		return cmp <= 0
	default:
		return cmp > 0
	}
}

// Registry maps oracle addresses to implementations.
type Registry struct {
	mu      sync.RWMutex
	oracles map[common.Address]Oracle
}

func NewRegistry() *Registry {
	return &Registry{oracles: make(map[common.Address]Oracle)}
}

func (r *Registry) Register(addr common.Address, o Oracle) {
	r.mu.Lock()
	r.oracles[addr] = o
	r.mu.Unlock()
}

func (r *Registry) Lookup(addr common.Address) (Oracle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.oracles[addr]
	return o, ok
}

// Gateway calls the oracle named by an order and applies the stop comparison.
type Gateway struct {
	registry   *Registry
	comparison Comparison
}

func NewGateway(registry *Registry, comparison Comparison) *Gateway {
	return &Gateway{registry: registry, comparison: comparison}
}

func (g *Gateway) Comparison() Comparison { return g.comparison }

// Check reports whether the stop condition holds. The None address always passes. Oracle
// errors are returned as errors, never as a pass or a fail.
func (g *Gateway) Check(ctx context.Context, addr common.Address, data []byte, stop *big.Int) (bool, *big.Int, error) {
	if addr == None {
		return true, nil, nil
	}
	o, ok := g.registry.Lookup(addr)
	if !ok {
		return false, nil, fmt.Errorf("%w %s", ErrUnknownOracle, addr.Hex())
	}
	rate, err := o.Price(ctx, data)
	if err != nil {
		return false, nil, fmt.Errorf("oracle %s: %w", addr.Hex(), err)
	}
	if rate == nil {
		return false, nil, fmt.Errorf("oracle %s returned no rate", addr.Hex())
	}
	return g.comparison.Triggered(rate, stop), rate, nil
}

// Fixed is an operator-set rate.
type Fixed struct {
	mu   sync.RWMutex
	rate *big.Int
}

func NewFixed(rate *big.Int) *Fixed {
	f := &Fixed{}
	f.Set(rate)
	return f
}

func (f *Fixed) Set(rate *big.Int) {
	f.mu.Lock()
	if rate == nil {
		f.rate = nil
	} else {
		f.rate = new(big.Int).Set(rate)
	}
	f.mu.Unlock()
}

func (f *Fixed) Price(ctx context.Context, _ []byte) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.rate == nil {
		return nil, errors.New("rate not set")
	}
	return new(big.Int).Set(f.rate), nil
}
