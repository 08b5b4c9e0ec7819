package settlement

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/stoplimit/pkg/app/core/errs"
	"github.com/uhyunpark/stoplimit/pkg/app/core/order"
)

// CancelOrder freezes o's digest. Only the maker may cancel. Cancelling an already cancelled
// order succeeds and publishes the event again.
func (e *Engine) CancelOrder(ctx context.Context, caller common.Address, o *order.Order) (common.Hash, error) {
	if o == nil {
		return common.Hash{}, errs.Errorf(errs.InvalidAmount, common.Hash{}, "no order")
	}
	digest, err := e.signer.HashOrder(o)
	if err != nil {
		return common.Hash{}, errs.Wrap(errs.InvalidAmount, common.Hash{}, err)
	}
	repeat, err := e.ledger.Cancel(digest, caller, o.Maker)
	if err != nil {
		e.log.Infow("cancel rejected", "digest", digest.Hex(), "caller", caller.Hex(), "err", err)
		return digest, err
	}
	e.metrics.ObserveCancel()
	e.log.Infow("order cancelled", "digest", digest.Hex(), "maker", o.Maker.Hex(), "repeat", repeat)
	e.publish(ctx, newEvent(EventCancel, e.clock.Now(), CancelEvent{Maker: o.Maker, Digest: digest, Repeat: repeat}))
	return digest, nil
}
