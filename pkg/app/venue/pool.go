// Package venue is the liquidity venue fillers trade against: constant-product pools whose
// reserves live in the vault, a router for multi-hop swaps, a swap filler and a spot oracle
// reading pool reserves.
package venue

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/stoplimit/pkg/app/core/vault"
)

// 0.3% swap fee, applied to the input amount.
const (
	FeeNumerator   = 997
	FeeDenominator = 1000
)

var (
	ErrUnknownPair           = errors.New("venue: no pool for pair")
	ErrInsufficientLiquidity = errors.New("venue: insufficient liquidity")
	ErrInsufficientOutput    = errors.New("venue: insufficient output amount")
	ErrInvalidPath           = errors.New("venue: invalid path")
)

// Pool is a constant-product pair. Its reserves are the vault balances of Address, so a swap is
// just two vault transfers and reverts with the surrounding transaction.
type Pool struct {
	Address common.Address
	Token0  common.Address
	Token1  common.Address
}

func NewPool(address, tokenA, tokenB common.Address) (*Pool, error) {
	if tokenA == tokenB {
		return nil, fmt.Errorf("%w: identical tokens %s", ErrInvalidPath, tokenA.Hex())
	}
	return &Pool{Address: address, Token0: tokenA, Token1: tokenB}, nil
}

// Has reports whether token is one side of the pair.
func (p *Pool) Has(token common.Address) bool {
	return token == p.Token0 || token == p.Token1
}

func (p *Pool) other(token common.Address) common.Address {
	if token == p.Token0 {
		return p.Token1
	}
	return p.Token0
}

// Reserves returns the pool's balances of tokenIn and its counterpart.
func (p *Pool) Reserves(r vault.Reader, tokenIn common.Address) (reserveIn, reserveOut *big.Int) {
	return r.BalanceOf(tokenIn, p.Address), r.BalanceOf(p.other(tokenIn), p.Address)
}

// AmountOut quotes a swap of amountIn against the given reserves.
func AmountOut(amountIn, reserveIn, reserveOut *big.Int) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, fmt.Errorf("%w: non-positive input", ErrInsufficientOutput)
	}
	if reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return nil, ErrInsufficientLiquidity
	}
	withFee := new(big.Int).Mul(amountIn, big.NewInt(FeeNumerator))
	num := new(big.Int).Mul(withFee, reserveOut)
	den := new(big.Int).Mul(reserveIn, big.NewInt(FeeDenominator))
	den.Add(den, withFee)
	return num.Quo(num, den), nil
}

// Quote prices a swap of amountIn of tokenIn at the reserves r reports.
func (p *Pool) Quote(r vault.Reader, tokenIn common.Address, amountIn *big.Int) (*big.Int, error) {
	if !p.Has(tokenIn) {
		return nil, fmt.Errorf("%w: %s not in pool %s", ErrUnknownPair, tokenIn.Hex(), p.Address.Hex())
	}
	in, out := p.Reserves(r, tokenIn)
	return AmountOut(amountIn, in, out)
}

// Swap moves amountIn of tokenIn from `from` into the pool and the quoted output to `to`. v must
// be allowed to debit both `from` and the pool.
func (p *Pool) Swap(v vault.Vault, tokenIn common.Address, amountIn *big.Int, from, to common.Address) (*big.Int, error) {
	out, err := p.Quote(v, tokenIn, amountIn)
	if err != nil {
		return nil, err
	}
	if out.Sign() == 0 {
		return nil, ErrInsufficientOutput
	}
	if err := v.Transfer(tokenIn, from, p.Address, amountIn); err != nil {
		return nil, fmt.Errorf("swap input: %w", err)
	}
	if err := v.Transfer(p.other(tokenIn), p.Address, to, out); err != nil {
		return nil, fmt.Errorf("swap output: %w", err)
	}
	return out, nil
}
