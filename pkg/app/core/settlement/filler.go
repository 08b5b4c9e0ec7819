package settlement

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/stoplimit/pkg/app/core/vault"
)

// Payout is tokenOut the filler must deliver to one recipient.
type Payout struct {
	Recipient common.Address
	Amount    *big.Int
}

// Settlement describes one custody handoff. Amounts are totals across every order in the call.
type Settlement struct {
	Engine   common.Address
	Filler   common.Address
	TokenIn  common.Address
	TokenOut common.Address
	AmountIn *big.Int // tokenIn released to the filler
	Owed     *big.Int // tokenOut due to recipients
	Fee      *big.Int // tokenOut due to the engine; zero outside open fills
	Payouts  []Payout
	Data     []byte
}

// Filler receives custody of tokenIn and must leave the recipients (and, for open fills, the
// engine) holding at least what they are owed when OnSettle returns. v can only debit the
// filler's own account. Anything it does is discarded if the call is rejected.
type Filler interface {
	Address() common.Address
	OnSettle(ctx context.Context, v *vault.Scope, s Settlement) error
}
