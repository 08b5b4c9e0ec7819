// Package order holds the maker-signed stop/limit order and the per-call fill request.
// Orders are never stored: callers resubmit the full field set on every call and only the
// digest and its fill record persist.
package order

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/stoplimit/pkg/app/core/errs"
)

// Args are the signed order fields that travel with a fill request. The token pair is supplied
// once per call so a batch can share it.
type Args struct {
	Maker         common.Address
	AmountIn      *big.Int
	AmountOut     *big.Int
	Recipient     common.Address
	StartTime     *big.Int // inclusive, unix seconds
	EndTime       *big.Int // exclusive, unix seconds
	StopPrice     *big.Int
	OracleAddress common.Address // zero address disables the stop check
	OracleData    []byte
}

// Order is the full field set covered by the maker's signature.
type Order struct {
	Args
	TokenIn  common.Address
	TokenOut common.Address
}

func (a Args) WithTokens(tokenIn, tokenOut common.Address) *Order {
	return &Order{Args: a, TokenIn: tokenIn, TokenOut: tokenOut}
}

// Validate checks that every magnitude is present. Zero AmountIn would make proportional
// proceeds undefined and is rejected.
func (a *Args) Validate() error {
	if a.AmountIn == nil || a.AmountIn.Sign() <= 0 {
		return errs.Errorf(errs.InvalidAmount, common.Hash{}, "amountIn must be positive")
	}
	if a.AmountOut == nil || a.AmountOut.Sign() < 0 {
		return errs.Errorf(errs.InvalidAmount, common.Hash{}, "amountOut must be non-negative")
	}
	fields := []struct {
		name string
		v    *big.Int
	}{{"startTime", a.StartTime}, {"endTime", a.EndTime}, {"stopPrice", a.StopPrice}}
	for _, f := range fields {
		if f.v == nil || f.v.Sign() < 0 {
			return errs.Errorf(errs.InvalidAmount, common.Hash{}, "%s must be non-negative", f.name)
		}
	}
	return nil
}

// ExpectedOut is the proportional tokenOut owed for filling amount of tokenIn, truncated.
func (a *Args) ExpectedOut(amount *big.Int) *big.Int {
	out := new(big.Int).Mul(amount, a.AmountOut)
	return out.Quo(out, a.AmountIn)
}

// Signature is an ECDSA signature over the order digest. V is 27 or 28.
type Signature struct {
	V uint8
	R common.Hash
	S common.Hash
}

// Bytes returns the 65-byte [R || S || V] encoding.
func (s Signature) Bytes() []byte {
	out := make([]byte, 65)
	copy(out[:32], s.R[:])
	copy(out[32:64], s.S[:])
	out[64] = s.V
	return out
}

// SignatureFromBytes splits a 65-byte [R || S || V] signature. A 0/1 recovery id is
// normalised to 27/28.
func SignatureFromBytes(b []byte) (Signature, error) {
	if len(b) != 65 {
		return Signature{}, fmt.Errorf("signature must be 65 bytes, got %d", len(b))
	}
	sig := Signature{V: b[64]}
	copy(sig.R[:], b[:32])
	copy(sig.S[:], b[32:64])
	if sig.V < 27 {
		sig.V += 27
	}
	return sig, nil
}

// FillRequest asks to settle Amount of the order's AmountIn in this call.
type FillRequest struct {
	Args
	Amount    *big.Int
	Signature Signature
}

func (r *FillRequest) Validate() error {
	if r.Amount == nil || r.Amount.Sign() <= 0 {
		return errs.Errorf(errs.InvalidAmount, common.Hash{}, "fill amount must be positive")
	}
	return r.Args.Validate()
}
