package agreement

import (
	"context"
	"math"
)

const DefaultBlockPageSize = 1000

// EventFilter bounds an event query.
type EventFilter struct {
	From             uint64
	To               *uint64   // nil = latest block when the iterator is created
	WalletPubKeyHash *[20]byte // nil = any wallet
}

// EventPager fetches all events in the inclusive block range [from, to].
type EventPager[T any] func(ctx context.Context, from, to uint64) ([]T, error)

// EventIterator walks events of a fixed block range, one page of blocks
// at a time. It is finite and cannot be restarted: once Next returns
// false it keeps returning false.
//
//	for it.Next(ctx) {
//		ev := it.Event()
//	}
//	if err := it.Err(); err != nil { ... }
type EventIterator[T any] struct {
	fetch    EventPager[T]
	cursor   uint64 // first block of the next page
	end      uint64 // last block, inclusive
	pageSize uint64

	buf  []T
	cur  T
	err  error
	done bool
}

// NewEventIterator creates an iterator over [from, to].
// An empty range (from > to) yields nothing.
func NewEventIterator[T any](from, to, pageSize uint64, fetch EventPager[T]) *EventIterator[T] {
	if pageSize == 0 {
		pageSize = DefaultBlockPageSize
	}
	return &EventIterator[T]{
		fetch:    fetch,
		cursor:   from,
		end:      to,
		pageSize: pageSize,
		done:     from > to,
	}
}

// Next advances to the next event, fetching pages lazily.
func (it *EventIterator[T]) Next(ctx context.Context) bool {
	for len(it.buf) == 0 {
		if it.done {
			return false
		}
		if err := ctx.Err(); err != nil {
			it.fail(err)
			return false
		}

		hi := it.end
		if it.end-it.cursor >= it.pageSize {
			hi = it.cursor + it.pageSize - 1
		}

		events, err := it.fetch(ctx, it.cursor, hi)
		if err != nil {
			it.fail(err)
			return false
		}
		it.buf = events

		if hi == it.end || hi == math.MaxUint64 {
			it.done = true
		} else {
			it.cursor = hi + 1
		}
	}

	it.cur = it.buf[0]
	it.buf = it.buf[1:]
	return true
}

// Event returns the event Next moved to.
func (it *EventIterator[T]) Event() T {
	return it.cur
}

// Err returns the error that stopped the iteration, if any.
func (it *EventIterator[T]) Err() error {
	return it.err
}

func (it *EventIterator[T]) fail(err error) {
	it.err = err
	it.done = true
	it.buf = nil
}
