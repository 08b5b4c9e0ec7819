package venue

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/stoplimit/pkg/app/core/settlement"
	"github.com/uhyunpark/stoplimit/pkg/app/core/vault"
	"github.com/uhyunpark/stoplimit/pkg/util"
)

// SwapFiller sells the released tokenIn through the router, pays every recipient and the
// engine's fee, and sends what is left to the address named in the filler data.
type SwapFiller struct {
	address common.Address
	router  *Router
	log     *zap.SugaredLogger
}

func NewSwapFiller(address common.Address, router *Router, logger *zap.Logger) *SwapFiller {
	return &SwapFiller{address: address, router: router, log: util.Sugar(logger).Named("filler")}
}

func (f *SwapFiller) Address() common.Address { return f.address }

func (f *SwapFiller) OnSettle(ctx context.Context, v *vault.Scope, s settlement.Settlement) error {
	d, err := DecodeSwapData(s.Data)
	if err != nil {
		return err
	}
	if len(d.Path) < 2 || d.Path[0] != s.TokenIn || d.Path[len(d.Path)-1] != s.TokenOut {
		return fmt.Errorf("%w: path does not run from %s to %s", ErrInvalidPath, s.TokenIn.Hex(), s.TokenOut.Hex())
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	out, err := f.router.SwapExactIn(v, s.AmountIn, nil, d.Path, f.address, f.address)
	if err != nil {
		return err
	}
	due := new(big.Int).Add(s.Owed, s.Fee)
	profit := new(big.Int).Sub(out, due)
	if profit.Cmp(d.MinimumOut) < 0 {
		return fmt.Errorf("%w: swap returned %s, owed %s, minimum profit %s", ErrInsufficientOutput, out, due, d.MinimumOut)
	}

	for _, p := range s.Payouts {
		if err := v.Transfer(s.TokenOut, f.address, p.Recipient, p.Amount); err != nil {
			return fmt.Errorf("pay %s: %w", p.Recipient.Hex(), err)
		}
	}
	if s.Fee.Sign() > 0 {
		if err := v.Transfer(s.TokenOut, f.address, s.Engine, s.Fee); err != nil {
			return fmt.Errorf("pay fee: %w", err)
		}
	}
	if profit.Sign() > 0 {
		if err := v.Transfer(s.TokenOut, f.address, d.To, profit); err != nil {
			return fmt.Errorf("pay profit: %w", err)
		}
	}
	f.log.Debugw("swap settled", "in", s.AmountIn.String(), "out", out.String(), "profit", profit.String(), "to", d.To.Hex())
	return nil
}

// Registry maps filler addresses to their implementations.
type Registry struct {
	mu      sync.RWMutex
	fillers map[common.Address]settlement.Filler
}

func NewRegistry() *Registry {
	return &Registry{fillers: make(map[common.Address]settlement.Filler)}
}

func (r *Registry) Register(f settlement.Filler) {
	r.mu.Lock()
	r.fillers[f.Address()] = f
	r.mu.Unlock()
}

func (r *Registry) Lookup(addr common.Address) (settlement.Filler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.fillers[addr]
	return f, ok
}
