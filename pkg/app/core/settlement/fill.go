package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/stoplimit/pkg/app/core/errs"
	"github.com/uhyunpark/stoplimit/pkg/app/core/oracle"
	"github.com/uhyunpark/stoplimit/pkg/app/core/order"
	"github.com/uhyunpark/stoplimit/pkg/app/core/vault"
	"github.com/uhyunpark/stoplimit/pkg/crypto"
)

// Settlement modes, used as metric labels and in fill events.
const (
	ModeSingle    = "single"
	ModeOpen      = "open"
	ModeBatch     = "batch"
	ModeBatchOpen = "batch_open"
)

// Fill is one committed order fill.
type Fill struct {
	Digest      common.Hash
	Maker       common.Address
	Recipient   common.Address
	Amount      *big.Int
	ExpectedOut *big.Int
	Fee         *big.Int
}

// Receipt describes a committed settlement call.
type Receipt struct {
	Mode     string
	Filler   common.Address
	TokenIn  common.Address
	TokenOut common.Address
	Fills    []Fill
	Fee      *big.Int // summed fee; only open fills require the filler to pay it
}

// FillOrder settles one order.
func (e *Engine) FillOrder(ctx context.Context, req *order.FillRequest, tokenIn, tokenOut common.Address, filler Filler, data []byte) (*Receipt, error) {
	return e.run(ctx, ModeSingle, []*order.FillRequest{req}, tokenIn, tokenOut, filler, data)
}

// FillOrderOpen settles one order and additionally requires the filler to pay the engine the
// configured fee on the order's proceeds.
func (e *Engine) FillOrderOpen(ctx context.Context, req *order.FillRequest, tokenIn, tokenOut common.Address, filler Filler, data []byte) (*Receipt, error) {
	return e.run(ctx, ModeOpen, []*order.FillRequest{req}, tokenIn, tokenOut, filler, data)
}

// BatchFillOrder settles every request in one atomic call with a single filler callback.
func (e *Engine) BatchFillOrder(ctx context.Context, reqs []*order.FillRequest, tokenIn, tokenOut common.Address, filler Filler, data []byte) (*Receipt, error) {
	return e.run(ctx, ModeBatch, reqs, tokenIn, tokenOut, filler, data)
}

// BatchFillOrderOpen is BatchFillOrder with the open-fill fee.
func (e *Engine) BatchFillOrderOpen(ctx context.Context, reqs []*order.FillRequest, tokenIn, tokenOut common.Address, filler Filler, data []byte) (*Receipt, error) {
	return e.run(ctx, ModeBatchOpen, reqs, tokenIn, tokenOut, filler, data)
}

func (e *Engine) run(ctx context.Context, mode string, reqs []*order.FillRequest, tokenIn, tokenOut common.Address, filler Filler, data []byte) (*Receipt, error) {
	start := time.Now()
	receipt, err := e.settle(ctx, mode, reqs, tokenIn, tokenOut, filler, data)
	if err != nil {
		code := errs.CodeOf(err)
		e.metrics.ObserveRejection(mode, code.String(), time.Since(start))
		e.log.Infow("fill rejected", "mode", mode, "code", code.String(), "orders", len(reqs), "err", err)
		return nil, err
	}
	e.metrics.ObserveFill(mode, len(receipt.Fills), time.Since(start))
	e.log.Infow("fill committed", "mode", mode, "orders", len(receipt.Fills),
		"filler", receipt.Filler.Hex(), "fee", receipt.Fee.String())

	now := e.clock.Now()
	events := make([]Event, len(receipt.Fills))
	for i, f := range receipt.Fills {
		events[i] = newEvent(EventFill, now, FillEvent{
			Maker:       f.Maker,
			Digest:      f.Digest,
			Filler:      receipt.Filler,
			Amount:      f.Amount.String(),
			ExpectedOut: f.ExpectedOut.String(),
			Fee:         f.Fee.String(),
			TokenIn:     tokenIn,
			TokenOut:    tokenOut,
			Recipient:   f.Recipient,
			Mode:        mode,
		})
	}
	e.publish(ctx, events...)
	return receipt, nil
}

type pendingFill struct {
	req    *order.FillRequest
	digest common.Hash
	Fill
}

// prepare validates request shape and computes digests. It holds no locks.
func (e *Engine) prepare(reqs []*order.FillRequest, tokenIn, tokenOut common.Address) ([]*pendingFill, error) {
	if len(reqs) == 0 {
		return nil, errs.Errorf(errs.InvalidAmount, common.Hash{}, "no fill requests")
	}
	out := make([]*pendingFill, len(reqs))
	for i, r := range reqs {
		if r == nil {
			return nil, errs.Errorf(errs.InvalidAmount, common.Hash{}, "request %d is empty", i)
		}
		digest, err := e.signer.HashOrder(r.Args.WithTokens(tokenIn, tokenOut))
		if err != nil {
			return nil, errs.Wrap(errs.InvalidAmount, common.Hash{}, err)
		}
		if err := r.Validate(); err != nil {
			var se *errs.Error
			if errors.As(err, &se) {
				se.Digest = digest
			}
			return nil, err
		}
		out[i] = &pendingFill{req: r, digest: digest}
	}
	return out, nil
}

// validate runs the per-order checks in order: time window, whitelist, signature, stop price,
// and reservation. reserved accumulates what earlier requests in the same call already took.
func (e *Engine) validate(ctx context.Context, p *pendingFill, now *big.Int, filler common.Address, reserved map[common.Hash]*big.Int) error {
	r := p.req
	if now.Cmp(r.EndTime) >= 0 {
		return errs.Errorf(errs.Expired, p.digest, "now %s, end %s", now, r.EndTime)
	}
	if now.Cmp(r.StartTime) < 0 {
		return errs.Errorf(errs.NotStarted, p.digest, "now %s, start %s", now, r.StartTime)
	}
	if !e.config.IsWhitelisted(filler) {
		return errs.Errorf(errs.FillerNotWhitelisted, p.digest, "filler %s", filler.Hex())
	}
	if !crypto.Verify(p.digest, r.Signature, r.Maker) {
		return errs.New(errs.MakerMismatch, p.digest)
	}

	ok, rate, err := e.oracles.Check(ctx, r.OracleAddress, r.OracleData, r.StopPrice)
	if err != nil {
		if errors.Is(err, oracle.ErrUnknownOracle) {
			return errs.Wrap(errs.UnknownOracle, p.digest, err)
		}
		return errs.Wrap(errs.OracleFailure, p.digest, err)
	}
	if !ok {
		return errs.Errorf(errs.StopNotReached, p.digest, "rate %s, stop %s (%s)", rate, r.StopPrice, e.oracles.Comparison())
	}

	if err := e.ledger.Reserve(p.digest, r.AmountIn, r.Amount, reserved[p.digest]); err != nil {
		return err
	}
	if cur, ok := reserved[p.digest]; ok {
		cur.Add(cur, r.Amount)
	} else {
		reserved[p.digest] = new(big.Int).Set(r.Amount)
	}
	return nil
}

func (e *Engine) settle(ctx context.Context, mode string, reqs []*order.FillRequest, tokenIn, tokenOut common.Address, filler Filler, data []byte) (*Receipt, error) {
	if filler == nil {
		return nil, errs.Errorf(errs.FillerNotWhitelisted, common.Hash{}, "no filler")
	}
	open := mode == ModeOpen || mode == ModeBatchOpen
	fillerAddr := filler.Address()

	pending, err := e.prepare(reqs, tokenIn, tokenOut)
	if err != nil {
		return nil, err
	}
	digests := make([]common.Hash, len(pending))
	for i, p := range pending {
		digests[i] = p.digest
	}

	unlock := e.ledger.Lock(digests...)
	defer unlock()

	now := big.NewInt(e.clock.Now().Unix())
	fees := e.config.Fees()
	reserved := make(map[common.Hash]*big.Int, len(pending))

	totalIn := new(big.Int)
	totalOwed := new(big.Int)
	totalFee := new(big.Int)
	owed := make(map[common.Address]*big.Int)
	var recipients []common.Address
	firstDigest := make(map[common.Address]common.Hash)

	for _, p := range pending {
		if err := e.validate(ctx, p, now, fillerAddr, reserved); err != nil {
			return nil, err
		}
		r := p.req
		p.Fill = Fill{
			Digest:      p.digest,
			Maker:       r.Maker,
			Recipient:   r.Recipient,
			Amount:      new(big.Int).Set(r.Amount),
			ExpectedOut: r.ExpectedOut(r.Amount),
		}
		p.Fee = fees.Of(p.ExpectedOut)

		totalIn.Add(totalIn, p.Amount)
		totalOwed.Add(totalOwed, p.ExpectedOut)
		totalFee.Add(totalFee, p.Fee)
		if _, ok := owed[r.Recipient]; !ok {
			owed[r.Recipient] = new(big.Int)
			recipients = append(recipients, r.Recipient)
			firstDigest[r.Recipient] = p.digest
		}
		owed[r.Recipient].Add(owed[r.Recipient], p.ExpectedOut)
	}

	tx := e.vault.Begin()
	defer tx.Rollback()

	for _, p := range pending {
		if err := tx.Transfer(tokenIn, p.Maker, fillerAddr, p.Amount); err != nil {
			return nil, errs.Wrap(errs.CustodyFailed, p.digest, err)
		}
	}

	before := make(map[common.Address]*big.Int, len(recipients))
	for _, rcpt := range recipients {
		before[rcpt] = tx.BalanceOf(tokenOut, rcpt)
	}
	engineBefore := tx.BalanceOf(tokenOut, e.address)

	payouts := make([]Payout, len(recipients))
	for i, rcpt := range recipients {
		payouts[i] = Payout{Recipient: rcpt, Amount: new(big.Int).Set(owed[rcpt])}
	}
	feeDue := new(big.Int)
	if open {
		feeDue.Set(totalFee)
	}
	s := Settlement{
		Engine:   e.address,
		Filler:   fillerAddr,
		TokenIn:  tokenIn,
		TokenOut: tokenOut,
		AmountIn: new(big.Int).Set(totalIn),
		Owed:     new(big.Int).Set(totalOwed),
		Fee:      feeDue,
		Payouts:  payouts,
		Data:     data,
	}

	callbackDigest := common.Hash{}
	if len(pending) == 1 {
		callbackDigest = pending[0].digest
	}
	if err := filler.OnSettle(ctx, tx.Scope(fillerAddr), s); err != nil {
		return nil, errs.Wrap(errs.FillerFailed, callbackDigest, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(errs.FillerFailed, callbackDigest, err)
	}

	for _, rcpt := range recipients {
		gained := new(big.Int).Sub(tx.BalanceOf(tokenOut, rcpt), before[rcpt])
		if gained.Cmp(owed[rcpt]) < 0 {
			return nil, errs.Errorf(errs.InsufficientProceeds, firstDigest[rcpt],
				"recipient %s received %s, owed %s", rcpt.Hex(), gained, owed[rcpt])
		}
	}
	if open {
		// when the engine is also a recipient its proceeds and the fee come out of one gain
		due := new(big.Int).Set(totalFee)
		if o, ok := owed[e.address]; ok {
			due.Add(due, o)
		}
		gained := new(big.Int).Sub(tx.BalanceOf(tokenOut, e.address), engineBefore)
		if gained.Cmp(due) < 0 {
			return nil, errs.Errorf(errs.InsufficientFee, callbackDigest, "engine received %s, owed %s", gained, due)
		}
	}

	err = tx.CommitWith(func() error { return e.ledger.Commit(reserved) })
	if err != nil {
		if errs.CodeOf(err) != errs.Unknown {
			return nil, err
		}
		if errors.Is(err, vault.ErrInsufficientBalance) || errors.Is(err, vault.ErrConflict) {
			return nil, errs.Wrap(errs.CustodyFailed, callbackDigest, err)
		}
		return nil, fmt.Errorf("commit settlement: %w", err)
	}

	receipt := &Receipt{
		Mode:     mode,
		Filler:   fillerAddr,
		TokenIn:  tokenIn,
		TokenOut: tokenOut,
		Fills:    make([]Fill, len(pending)),
		Fee:      totalFee,
	}
	for i, p := range pending {
		receipt.Fills[i] = p.Fill
	}
	return receipt, nil
}
