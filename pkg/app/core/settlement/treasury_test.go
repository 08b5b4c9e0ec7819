package settlement_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/stoplimit/pkg/app/core/errs"
	"github.com/uhyunpark/stoplimit/pkg/app/core/governance"
	"github.com/uhyunpark/stoplimit/pkg/app/core/settlement"
)

func TestSweepFeesKeepsOneUnit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.book.Deposit(tokenOut, engineAddr, big.NewInt(1)))
	_, err := f.engine.SweepFees(ctx, owner, tokenOut)
	requireCode(t, err, errs.Underflow)

	_, err = f.engine.SweepFees(ctx, owner, tokenIn)
	requireCode(t, err, errs.Underflow)

	require.NoError(t, f.book.Deposit(tokenOut, engineAddr, big.NewInt(999)))
	moved, err := f.engine.SweepFees(ctx, owner, tokenOut)
	require.NoError(t, err)
	require.Equal(t, int64(999), moved.Int64())
	require.Equal(t, int64(1), f.balance(tokenOut, engineAddr).Int64())
	require.Equal(t, int64(999), f.balance(tokenOut, feeRecipient).Int64())

	_, err = f.engine.SweepFees(ctx, owner, tokenOut)
	requireCode(t, err, errs.Underflow)

	events := f.events.Drain()
	require.Len(t, events, 1)
	sweep := events[0].Payload.(settlement.SweepEvent)
	require.Equal(t, "fees", sweep.Kind)
	require.Equal(t, "999", sweep.Amount)
	require.Equal(t, feeRecipient, sweep.To)
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Sweeps.WithLabelValues("fees")))
}

func TestSweepFeesOwnerOnly(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.book.Deposit(tokenOut, engineAddr, big.NewInt(1000)))

	_, err := f.engine.SweepFees(context.Background(), feeRecipient, tokenOut)
	requireCode(t, err, errs.NotOwner)
	require.Equal(t, int64(1000), f.balance(tokenOut, engineAddr).Int64())
}

func TestSweepAccruedOpenFees(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.engine.FillOrderOpen(ctx, f.sign(t, f.maker, f.args(), e18(9)), tokenIn, tokenOut, f.swap, swapData(t, 1))
	require.NoError(t, err)

	moved, err := f.engine.SweepFees(ctx, owner, tokenOut)
	require.NoError(t, err)
	require.Equal(t, 0, big.NewInt(8e15-1).Cmp(moved))
	require.Equal(t, int64(1), f.balance(tokenOut, engineAddr).Int64())
}

func TestSweepStray(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.direct.Deposit(tokenIn, engineAddr, big.NewInt(50)))

	_, err := f.engine.SweepStray(ctx, dev, tokenIn)
	requireCode(t, err, errs.NotOwner)

	moved, err := f.engine.SweepStray(ctx, owner, tokenIn)
	require.NoError(t, err)
	require.Equal(t, int64(50), moved.Int64())
	require.Equal(t, int64(0), f.direct.BalanceOf(tokenIn, engineAddr).Int64())
	require.Equal(t, int64(50), f.direct.BalanceOf(tokenIn, feeRecipient).Int64())
	// vault balances are untouched
	require.Equal(t, int64(0), f.balance(tokenIn, feeRecipient).Int64())

	moved, err = f.engine.SweepStray(ctx, owner, tokenIn)
	require.NoError(t, err)
	require.Equal(t, 0, moved.Sign())
}

func TestSetFees(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.engine.SetFees(ctx, dev, dev, 5)
	requireCode(t, err, errs.NotOwner)

	err = f.engine.SetFees(ctx, owner, dev, governance.FeeDivisor+1)
	requireCode(t, err, errs.InvalidAmount)

	require.NoError(t, f.engine.SetFees(ctx, owner, dev, 500))
	fees := f.engine.Fees()
	require.Equal(t, dev, fees.Recipient)
	require.Equal(t, uint64(500), fees.Numerator)
	require.Equal(t, uint64(governance.FeeDivisor), fees.Divisor)

	events := f.events.Drain()
	require.Len(t, events, 1)
	require.Equal(t, settlement.EventFees, events[0].Type)

	// the new rate applies to the next open fill
	receipt, err := f.engine.FillOrderOpen(ctx, f.sign(t, f.maker, f.args(), e18(9)), tokenIn, tokenOut, f.swap, swapData(t, 1))
	require.NoError(t, err)
	require.Equal(t, 0, big.NewInt(4e16).Cmp(receipt.Fee))
}

func TestSetWhitelisted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	requireCode(t, f.engine.SetWhitelisted(ctx, dev, outsider, true), errs.NotOwner)
	require.False(t, f.engine.IsWhitelisted(outsider))

	require.NoError(t, f.engine.SetWhitelisted(ctx, owner, outsider, true))
	require.True(t, f.engine.IsWhitelisted(outsider))
	require.ElementsMatch(t, []common.Address{swapper, outsider}, f.engine.Whitelisted())

	require.NoError(t, f.engine.SetWhitelisted(ctx, owner, swapper, false))
	_, err := f.engine.FillOrder(ctx, f.sign(t, f.maker, f.args(), e18(9)), tokenIn, tokenOut, f.swap, swapData(t, 1))
	requireCode(t, err, errs.FillerNotWhitelisted)
	require.Equal(t, 2.0, testutil.ToFloat64(f.metrics.ConfigChanges.WithLabelValues("whitelist")))
}

func TestOwnershipTransfer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	next := common.HexToAddress("0x0000000000000000000000000000000000000b0b")

	requireCode(t, f.engine.TransferOwnership(ctx, dev, next, false, false), errs.NotOwner)

	require.NoError(t, f.engine.TransferOwnership(ctx, owner, next, false, false))
	require.Equal(t, owner, f.engine.Owner())
	require.Equal(t, next, f.engine.PendingOwner())

	requireCode(t, f.engine.ClaimOwnership(ctx, dev), errs.NotOwner)
	require.NoError(t, f.engine.ClaimOwnership(ctx, next))
	require.Equal(t, next, f.engine.Owner())
	require.Equal(t, common.Address{}, f.engine.PendingOwner())

	// the previous owner lost its powers
	requireCode(t, f.engine.SetFees(ctx, owner, owner, 1), errs.NotOwner)

	require.NoError(t, f.engine.TransferOwnership(ctx, next, owner, true, false))
	require.Equal(t, owner, f.engine.Owner())

	requireCode(t, f.engine.TransferOwnership(ctx, owner, common.Address{}, true, false), errs.InvalidOwner)

	events := f.events.Drain()
	require.Len(t, events, 3)
	require.True(t, events[0].Payload.(settlement.OwnershipEvent).Pending)
	require.False(t, events[2].Payload.(settlement.OwnershipEvent).Pending)
}
