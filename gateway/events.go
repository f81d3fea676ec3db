package gateway

import (
	"context"

	"github.com/TEENet-io/spv-bridge/agreement"
	"github.com/TEENet-io/spv-bridge/retry"
)

// resolveRange pins the filter's upper bound. A nil To is the ledger's
// latest block, read once here so the iterator stays finite.
func (g *Gateway) resolveRange(ctx context.Context, filter agreement.EventFilter) (uint64, uint64, error) {
	if filter.To != nil {
		return filter.From, *filter.To, nil
	}
	latest, err := g.LatestBlock(ctx)
	if err != nil {
		return 0, 0, err
	}
	return filter.From, latest, nil
}

// newIterator builds an iterator whose page fetches are retried.
func newIterator[T any](g *Gateway, ctx context.Context, op Operation, filter agreement.EventFilter,
	fetch func(ctx context.Context, from, to uint64, walletPubKeyHash *[20]byte) ([]T, error),
) (*agreement.EventIterator[T], error) {
	from, to, err := g.resolveRange(ctx, filter)
	if err != nil {
		return nil, err
	}

	pkh := filter.WalletPubKeyHash
	return agreement.NewEventIterator(from, to, g.cfg.PageSize, func(ctx context.Context, from, to uint64) ([]T, error) {
		return retry.Do(ctx, g.log, g.cfg.Policy, string(op), func(ctx context.Context) ([]T, error) {
			return fetch(ctx, from, to, pkh)
		})
	}), nil
}

func (g *Gateway) DepositRevealedEvents(ctx context.Context, filter agreement.EventFilter) (*agreement.EventIterator[agreement.DepositRevealedEvent], error) {
	return newIterator(g, ctx, OpDepositRevealedEvents, filter, g.chain.DepositRevealedEvents)
}

func (g *Gateway) RedemptionRequestedEvents(ctx context.Context, filter agreement.EventFilter) (*agreement.EventIterator[agreement.RedemptionRequestedEvent], error) {
	return newIterator(g, ctx, OpRedemptionRequested, filter, g.chain.RedemptionRequestedEvents)
}

func (g *Gateway) NewWalletRegisteredEvents(ctx context.Context, filter agreement.EventFilter) (*agreement.EventIterator[agreement.NewWalletRegisteredEvent], error) {
	return newIterator(g, ctx, OpNewWalletRegistered, filter, g.chain.NewWalletRegisteredEvents)
}
