package settlement

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/stoplimit/pkg/app/core/errs"
	"github.com/uhyunpark/stoplimit/pkg/app/core/vault"
)

var one = big.NewInt(1)

// SetFees changes the fee recipient and rate. Owner only.
func (e *Engine) SetFees(ctx context.Context, caller, recipient common.Address, numerator uint64) error {
	if err := e.config.SetFees(caller, recipient, numerator); err != nil {
		return err
	}
	fees := e.config.Fees()
	e.metrics.ObserveConfigChange("fees")
	e.log.Infow("fees updated", "recipient", recipient.Hex(), "numerator", numerator)
	e.publish(ctx, newEvent(EventFees, e.clock.Now(), FeesEvent{Recipient: fees.Recipient, Numerator: fees.Numerator, Divisor: fees.Divisor}))
	return nil
}

// SetWhitelisted toggles filler's eligibility for custody callbacks. Owner only.
func (e *Engine) SetWhitelisted(ctx context.Context, caller, filler common.Address, allowed bool) error {
	if err := e.config.SetWhitelisted(caller, filler, allowed); err != nil {
		return err
	}
	e.metrics.ObserveConfigChange("whitelist")
	e.log.Infow("whitelist updated", "filler", filler.Hex(), "allowed", allowed)
	e.publish(ctx, newEvent(EventWhitelist, e.clock.Now(), WhitelistEvent{Filler: filler, Allowed: allowed}))
	return nil
}

// TransferOwnership proposes newOwner, or installs it at once when direct is set.
func (e *Engine) TransferOwnership(ctx context.Context, caller, newOwner common.Address, direct, renounce bool) error {
	previous, err := e.config.TransferOwnership(caller, newOwner, direct, renounce)
	if err != nil {
		return err
	}
	e.metrics.ObserveConfigChange("ownership")
	e.log.Infow("ownership transfer", "previous", previous.Hex(), "new", newOwner.Hex(), "direct", direct)
	e.publish(ctx, newEvent(EventOwnership, e.clock.Now(), OwnershipEvent{Previous: previous, Owner: newOwner, Pending: !direct}))
	return nil
}

// ClaimOwnership completes a pending ownership transfer.
func (e *Engine) ClaimOwnership(ctx context.Context, caller common.Address) error {
	previous, err := e.config.ClaimOwnership(caller)
	if err != nil {
		return err
	}
	e.metrics.ObserveConfigChange("ownership")
	e.log.Infow("ownership claimed", "previous", previous.Hex(), "owner", caller.Hex())
	e.publish(ctx, newEvent(EventOwnership, e.clock.Now(), OwnershipEvent{Previous: previous, Owner: caller}))
	return nil
}

// SweepFees moves the engine's vault balance of token to the fee recipient, leaving one unit
// behind. It fails with Underflow unless the balance exceeds one unit.
func (e *Engine) SweepFees(ctx context.Context, caller, token common.Address) (*big.Int, error) {
	if err := e.config.RequireOwner(caller); err != nil {
		return nil, err
	}
	recipient := e.config.Fees().Recipient

	tx := e.vault.Begin()
	defer tx.Rollback()
	bal := tx.BalanceOf(token, e.address)
	if bal.Cmp(one) <= 0 {
		return nil, errs.Errorf(errs.Underflow, common.Hash{}, "fee balance %s of %s", bal, token.Hex())
	}
	amount := new(big.Int).Sub(bal, one)
	if err := tx.Transfer(token, e.address, recipient, amount); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		if errors.Is(err, vault.ErrConflict) {
			return nil, errs.Wrap(errs.CustodyFailed, common.Hash{}, err)
		}
		return nil, err
	}

	e.metrics.ObserveSweep("fees")
	e.log.Infow("fees swept", "token", token.Hex(), "to", recipient.Hex(), "amount", amount.String())
	e.publish(ctx, newEvent(EventSweep, e.clock.Now(), SweepEvent{Kind: "fees", Token: token, To: recipient, Amount: amount.String()}))
	return amount, nil
}

// SweepStray moves every unit of token the engine holds outside the vault to the fee
// recipient.
func (e *Engine) SweepStray(ctx context.Context, caller, token common.Address) (*big.Int, error) {
	if err := e.config.RequireOwner(caller); err != nil {
		return nil, err
	}
	if e.direct == nil {
		return nil, errors.New("settlement: no direct balance book configured")
	}
	recipient := e.config.Fees().Recipient
	amount := e.direct.BalanceOf(token, e.address)
	if amount.Sign() > 0 {
		if err := e.direct.Transfer(token, e.address, recipient, amount); err != nil {
			return nil, err
		}
	}

	e.metrics.ObserveSweep("stray")
	e.log.Infow("stray tokens swept", "token", token.Hex(), "to", recipient.Hex(), "amount", amount.String())
	e.publish(ctx, newEvent(EventSweep, e.clock.Now(), SweepEvent{Kind: "stray", Token: token, To: recipient, Amount: amount.String()}))
	return amount, nil
}
