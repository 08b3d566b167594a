package callable_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"taskexec/internal/taskexec/callable"
	"taskexec/internal/taskexec/instrument"
)

func TestResolve_ReturnsRegisteredFunc(t *testing.T) {
	calls := 0
	callable.Register("pkgtest.Echo", func(ctx context.Context, facade *instrument.Facade, taskCtx, inputs map[string]any) error {
		calls++
		return nil
	})

	r := callable.NewResolver(time.Minute)
	fn, err := r.Resolve(context.Background(), "pkgtest.Echo")
	require.NoError(t, err)

	require.NoError(t, fn(context.Background(), nil, nil, nil))
	require.Equal(t, 1, calls)
}

func TestResolve_UnknownName_ReturnsErrNotFound(t *testing.T) {
	r := callable.NewResolver(time.Minute)
	_, err := r.Resolve(context.Background(), "pkgtest.DoesNotExist")

	var notFound callable.ErrNotFound
	require.True(t, errors.As(err, &notFound))
}

func TestResolve_CachesAcrossCalls(t *testing.T) {
	callable.Register("pkgtest.Cached", func(ctx context.Context, facade *instrument.Facade, taskCtx, inputs map[string]any) error {
		return nil
	})

	r := callable.NewResolver(time.Minute)
	fn1, err := r.Resolve(context.Background(), "pkgtest.Cached")
	require.NoError(t, err)
	fn2, err := r.Resolve(context.Background(), "pkgtest.Cached")
	require.NoError(t, err)

	require.NoError(t, fn1(context.Background(), nil, nil, nil))
	require.NoError(t, fn2(context.Background(), nil, nil, nil))
}

func TestRegisterDecorator_WrapsResolvedCallable(t *testing.T) {
	var order []string
	callable.Register("pkgtest.Decorated", func(ctx context.Context, facade *instrument.Facade, taskCtx, inputs map[string]any) error {
		order = append(order, "body")
		return nil
	})
	callable.RegisterDecorator(func(next callable.Func) callable.Func {
		return func(ctx context.Context, facade *instrument.Facade, taskCtx, inputs map[string]any) error {
			order = append(order, "before")
			err := next(ctx, facade, taskCtx, inputs)
			order = append(order, "after")
			return err
		}
	})

	r := callable.NewResolver(time.Minute)
	fn, err := r.Resolve(context.Background(), "pkgtest.Decorated")
	require.NoError(t, err)
	require.NoError(t, fn(context.Background(), nil, nil, nil))

	require.Equal(t, []string{"before", "body", "after"}, order)
}
