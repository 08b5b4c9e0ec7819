// Package settlement settles maker-signed stop/limit orders against whitelisted fillers.
//
// A fill call validates every order, releases the makers' tokenIn to the filler inside a vault
// transaction, lets the filler run, checks the resulting balances and then commits the vault
// movements and the fill ledger together. Any failure discards the whole call.
package settlement

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/stoplimit/pkg/app/core/governance"
	"github.com/uhyunpark/stoplimit/pkg/app/core/ledger"
	"github.com/uhyunpark/stoplimit/pkg/app/core/oracle"
	"github.com/uhyunpark/stoplimit/pkg/app/core/order"
	"github.com/uhyunpark/stoplimit/pkg/app/core/vault"
	"github.com/uhyunpark/stoplimit/pkg/crypto"
	"github.com/uhyunpark/stoplimit/pkg/metrics"
	"github.com/uhyunpark/stoplimit/pkg/util"
)

const sinkTimeout = 5 * time.Second

type Options struct {
	// Address is the engine's identity: the EIP-712 verifying contract and the vault account
	// that accrues open-fill fees.
	Address common.Address
	ChainID func() *big.Int

	Ledger  *ledger.Ledger
	Config  *governance.Config
	Oracles *oracle.Gateway
	Vault   vault.Transactional
	// Direct holds tokens sent to the engine outside the vault. Optional.
	Direct vault.Vault

	Clock   util.Clock
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Sinks   []Sink
}

type Engine struct {
	address common.Address
	signer  *crypto.EIP712Signer
	ledger  *ledger.Ledger
	config  *governance.Config
	oracles *oracle.Gateway
	vault   vault.Transactional
	direct  vault.Vault
	clock   util.Clock
	log     *zap.SugaredLogger
	metrics *metrics.Metrics

	sinkMu sync.RWMutex
	sinks  []Sink
}

func New(opts Options) (*Engine, error) {
	switch {
	case opts.Ledger == nil:
		return nil, errors.New("settlement: ledger is required")
	case opts.Config == nil:
		return nil, errors.New("settlement: governance config is required")
	case opts.Oracles == nil:
		return nil, errors.New("settlement: oracle gateway is required")
	case opts.Vault == nil:
		return nil, errors.New("settlement: vault is required")
	case opts.ChainID == nil:
		return nil, errors.New("settlement: chain id source is required")
	}
	clock := opts.Clock
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Engine{
		address: opts.Address,
		signer:  crypto.NewEIP712Signer(crypto.NewDomain(opts.Address, opts.ChainID)),
		ledger:  opts.Ledger,
		config:  opts.Config,
		oracles: opts.Oracles,
		vault:   opts.Vault,
		direct:  opts.Direct,
		clock:   clock,
		log:     util.Sugar(opts.Logger).Named("settlement"),
		metrics: opts.Metrics,
		sinks:   append([]Sink(nil), opts.Sinks...),
	}, nil
}

// AddSink registers another event sink.
func (e *Engine) AddSink(s Sink) {
	e.sinkMu.Lock()
	e.sinks = append(e.sinks, s)
	e.sinkMu.Unlock()
}

func (e *Engine) publish(ctx context.Context, events ...Event) {
	e.sinkMu.RLock()
	sinks := e.sinks
	e.sinkMu.RUnlock()
	if len(sinks) == 0 {
		return
	}

	// The state change is already committed; a caller hanging up must not drop its events.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()
	for _, ev := range events {
		for _, s := range sinks {
			if err := s.Publish(ctx, ev); err != nil {
				e.metrics.ObserveSinkFailure(s.Name())
				e.log.Warnw("event publish failed", "sink", s.Name(), "event", ev.Type, "id", ev.ID, "err", err)
			}
		}
	}
}

func (e *Engine) Address() common.Address { return e.address }

// Signer exposes the engine's typed-data domain for clients that need to sign against it.
func (e *Engine) Signer() *crypto.EIP712Signer { return e.signer }

// Digest returns the digest of args traded as tokenIn for tokenOut.
func (e *Engine) Digest(args order.Args, tokenIn, tokenOut common.Address) (common.Hash, error) {
	return e.signer.HashOrder(args.WithTokens(tokenIn, tokenOut))
}

// Filled returns the cumulative filled amount of digest.
func (e *Engine) Filled(digest common.Hash) (*big.Int, error) {
	return e.ledger.Filled(digest)
}

func (e *Engine) Status(digest common.Hash) (*ledger.Record, error) {
	return e.ledger.Status(digest)
}

func (e *Engine) Statuses(digests []common.Hash) ([]*ledger.Record, error) {
	return e.ledger.Statuses(digests)
}

func (e *Engine) Fees() governance.Fees { return e.config.Fees() }

// Comparison is the rule the stop price is checked with.
func (e *Engine) Comparison() oracle.Comparison { return e.oracles.Comparison() }

func (e *Engine) IsWhitelisted(filler common.Address) bool { return e.config.IsWhitelisted(filler) }

func (e *Engine) Whitelisted() []common.Address { return e.config.Whitelisted() }

func (e *Engine) Owner() common.Address { return e.config.Owner() }

func (e *Engine) PendingOwner() common.Address { return e.config.PendingOwner() }

// VaultBalance reads owner's vault balance of token.
func (e *Engine) VaultBalance(token, owner common.Address) *big.Int {
	return e.vault.BalanceOf(token, owner)
}
