package tenant

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/agora/pkg/apperrors"
)

func TestSetRejectsNonPositive(t *testing.T) {
	ctx, _ := NewScope(context.Background())

	for _, id := range []int64{0, -1, -9000} {
		err := Set(ctx, id)
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperrors.ErrInvalidArgument), "id %d", id)
	}

	_, ok := Get(ctx)
	assert.False(t, ok)
}

func TestSetAndGet(t *testing.T) {
	ctx, _ := NewScope(context.Background())

	require.NoError(t, Set(ctx, 42))
	id, ok := Get(ctx)
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)

	id, err := Required(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}

func TestRequiredWhenUnbound(t *testing.T) {
	t.Run("before set", func(t *testing.T) {
		ctx, _ := NewScope(context.Background())
		_, err := Required(ctx)
		assert.True(t, errors.Is(err, apperrors.ErrIllegalState))
	})

	t.Run("after clear", func(t *testing.T) {
		ctx, _ := NewScope(context.Background())
		require.NoError(t, Set(ctx, 7))
		Clear(ctx)
		_, err := Required(ctx)
		assert.True(t, errors.Is(err, apperrors.ErrIllegalState))
	})

	t.Run("no scope installed", func(t *testing.T) {
		_, err := Required(context.Background())
		assert.True(t, errors.Is(err, apperrors.ErrIllegalState))
		assert.True(t, errors.Is(Set(context.Background(), 1), apperrors.ErrIllegalState))
	})
}

func TestClearIsIdempotent(t *testing.T) {
	ctx, s := NewScope(context.Background())
	Clear(ctx)
	s.Clear()
	Clear(context.Background())
	_, ok := s.Get()
	assert.False(t, ok)
}

func TestScopesAreIsolated(t *testing.T) {
	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make(chan error, 200)

	for i := 0; i < 100; i++ {
		for _, want := range []int64{10, 20} {
			wg.Add(1)
			go func(want int64) {
				defer wg.Done()
				ctx, _ := NewScope(context.Background())
				defer Clear(ctx)
				<-start
				if err := Set(ctx, want); err != nil {
					errs <- err
					return
				}
				for j := 0; j < 50; j++ {
					if got, _ := Get(ctx); got != want {
						errs <- errors.New("observed foreign tenant")
						return
					}
				}
			}(want)
		}
	}
	close(start)
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

func TestDetachKeepsBinding(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	ctx, _ := NewScope(parent)
	require.NoError(t, Set(ctx, 5))

	detached := Detach(ctx)
	cancel()
	Clear(ctx)

	id, ok := Get(detached)
	assert.True(t, ok)
	assert.Equal(t, int64(5), id)
	assert.NoError(t, detached.Err())
}
