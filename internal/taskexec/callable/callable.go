// Package callable resolves a task's module-path-plus-attribute descriptor
// to an invocable Go function. There is no dynamic import-by-string in Go,
// so implementations register themselves at init time under the same
// dotted name the parent serializes into a task's Callable; resolution is
// then a lookup plus a read-through cache rather than a module load.
package callable

import (
	"context"
	"fmt"
	"sync"
	"time"

	"taskexec/internal/cachemanager"
	"taskexec/internal/taskexec/instrument"
)

// Func is the shape every registered callable must satisfy: the
// worker-local storage facade every read and write is routed through, the
// task's reconstructed context state, and its input bindings — returning
// nothing beyond an error, since state changes flow through the facade
// rather than a return value.
type Func func(ctx context.Context, facade *instrument.Facade, taskCtx map[string]any, inputs map[string]any) error

// Decorator wraps a resolved Func, e.g. to add retry, timing, or
// validation behavior, without the registered implementation needing to
// know about it.
type Decorator func(Func) Func

var (
	mu         sync.RWMutex
	registered = make(map[string]Func)
	decorators []Decorator
)

// Register associates name (the "module_path.attribute" descriptor string
// a task carries) with fn. Called from implementation packages' init
// functions.
func Register(name string, fn Func) {
	mu.Lock()
	defer mu.Unlock()
	registered[name] = fn
}

// RegisterDecorator appends a decorator applied, in registration order, to
// every callable resolved after it's added.
func RegisterDecorator(d Decorator) {
	mu.Lock()
	defer mu.Unlock()
	decorators = append(decorators, d)
}

// ErrNotFound is returned by Resolve when name has no registered callable.
type ErrNotFound string

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("callable: no implementation registered for %q", string(e))
}

func resolve(_ context.Context, name string) (Func, error) {
	mu.RLock()
	fn, ok := registered[name]
	ds := decorators
	mu.RUnlock()

	if !ok {
		return nil, ErrNotFound(name)
	}

	for i := len(ds) - 1; i >= 0; i-- {
		fn = ds[i](fn)
	}
	return fn, nil
}

// Resolver resolves callable descriptors to invocable functions, caching
// the decorated result so repeated submits of the same task type skip
// re-applying decorators.
type Resolver struct {
	cache *cachemanager.ReadThroughCache[string, Func, string]
	ttl   time.Duration
}

// NewResolver builds a Resolver backed by an in-memory TTL cache.
func NewResolver(ttl time.Duration) *Resolver {
	mgr := cachemanager.NewInMemoryCacheManager[string, Func](
		"callable-resolver", ttl, cachemanager.DefaultCleanupInterval)
	return &Resolver{
		cache: cachemanager.NewReadThroughCache[string, Func, string](mgr, resolve, false),
		ttl:   ttl,
	}
}

// Resolve looks up the decorated Func for name, populating the cache on
// miss.
func (r *Resolver) Resolve(ctx context.Context, name string) (Func, error) {
	return r.cache.Get(ctx, name, name, r.ttl)
}
