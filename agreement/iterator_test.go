package agreement

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type page struct{ from, to uint64 }

func TestEventIteratorPages(t *testing.T) {
	var pages []page
	fetch := func(ctx context.Context, from, to uint64) ([]uint64, error) {
		pages = append(pages, page{from, to})
		var out []uint64
		for b := from; b <= to; b++ {
			if b%3 == 0 {
				out = append(out, b)
			}
		}
		return out, nil
	}

	it := NewEventIterator[uint64](10, 34, 10, fetch)
	var got []uint64
	for it.Next(context.Background()) {
		got = append(got, it.Event())
	}
	assert.NoError(t, it.Err())
	assert.Equal(t, []uint64{12, 15, 18, 21, 24, 27, 30, 33}, got)
	assert.Equal(t, []page{{10, 19}, {20, 29}, {30, 34}}, pages)

	// not restartable
	assert.False(t, it.Next(context.Background()))
	assert.Len(t, pages, 3)
}

func TestEventIteratorEmptyRange(t *testing.T) {
	called := false
	it := NewEventIterator[int](5, 4, 0, func(ctx context.Context, from, to uint64) ([]int, error) {
		called = true
		return nil, nil
	})
	assert.False(t, it.Next(context.Background()))
	assert.False(t, called)
	assert.NoError(t, it.Err())
}

func TestEventIteratorSkipsEmptyPages(t *testing.T) {
	it := NewEventIterator[uint64](0, 99, 10, func(ctx context.Context, from, to uint64) ([]uint64, error) {
		if from == 90 {
			return []uint64{95}, nil
		}
		return nil, nil
	})
	assert.True(t, it.Next(context.Background()))
	assert.Equal(t, uint64(95), it.Event())
	assert.False(t, it.Next(context.Background()))
}

func TestEventIteratorError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	it := NewEventIterator[int](0, 100, 10, func(ctx context.Context, from, to uint64) ([]int, error) {
		calls++
		if from == 0 {
			return []int{1}, nil
		}
		return nil, boom
	})
	assert.True(t, it.Next(context.Background()))
	assert.False(t, it.Next(context.Background()))
	assert.ErrorIs(t, it.Err(), boom)
	assert.False(t, it.Next(context.Background()))
	assert.Equal(t, 2, calls)
}

func TestEventIteratorCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	it := NewEventIterator[int](0, 10, 10, func(ctx context.Context, from, to uint64) ([]int, error) {
		t.Fatal("fetch must not run on a cancelled context")
		return nil, nil
	})
	assert.False(t, it.Next(ctx))
	assert.ErrorIs(t, it.Err(), context.Canceled)
}

func TestIdentifier(t *testing.T) {
	assert.True(t, Identifier(nil).IsZero())
	assert.True(t, Identifier(make([]byte, 20)).IsZero())
	assert.False(t, Identifier([]byte{0, 1}).IsZero())
	assert.Equal(t, "<none>", Identifier(nil).String())
	assert.Equal(t, "0001", Identifier([]byte{0, 1}).String())
}
