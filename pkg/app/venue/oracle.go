package venue

import (
	"context"
	"fmt"
	"math/big"

	"github.com/uhyunpark/stoplimit/pkg/app/core/vault"
)

// PriceScale is the fixed-point base of spot prices: 1e18 means one quote unit per base unit.
var PriceScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// SpotOracle prices a base/quote pair from the committed pool reserves. Oracle data is
// abi(address base, address quote).
type SpotOracle struct {
	router *Router
	book   vault.Reader
}

func NewSpotOracle(router *Router, book vault.Reader) *SpotOracle {
	return &SpotOracle{router: router, book: book}
}

func (o *SpotOracle) Price(ctx context.Context, data []byte) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	base, quote, err := DecodePair(data)
	if err != nil {
		return nil, err
	}
	p, err := o.router.Pool(base, quote)
	if err != nil {
		return nil, err
	}
	rb, rq := p.Reserves(o.book, base)
	if rb.Sign() == 0 {
		return nil, fmt.Errorf("%w: empty %s reserve", ErrInsufficientLiquidity, base.Hex())
	}
	price := new(big.Int).Mul(rq, PriceScale)
	return price.Quo(price, rb), nil
}
