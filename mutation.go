package leasing

import (
	"context"
)

// CacheWrite is one authoritative entry overwrite derived from a mutation
// result, for operations whose response is the updated entity.
type CacheWrite struct {
	Key  QueryKey
	Data any
}

// MutationConfig declares a mutation's cache effects up front rather than
// scattering them across call sites. After a successful trigger the
// Invalidate prefixes are applied first, then the Updates writes, then
// OnSuccess. Updates run last so an authoritative entity write is not
// immediately marked stale by an overlapping invalidation.
type MutationConfig[R any] struct {
	// Invalidate lists the key groups the mutation makes stale, list
	// queries of the touched resource typically.
	Invalidate []KeyPrefix

	// Updates derives direct entry overwrites from the result.
	Updates func(result R) []CacheWrite

	OnSuccess func(result R)
	OnError   func(err error)
}

// MutationFn performs the write itself.
type MutationFn[I, R any] func(ctx context.Context, input I) (R, error)

// Mutation couples a write operation to its declared cache effects.
// Mutations never retry and never roll back: a failed write leaves the
// cache as it was, and the next fetch self-corrects.
type Mutation[I, R any] struct {
	cache *Cache
	fn    MutationFn[I, R]
	cfg   MutationConfig[R]
}

func NewMutation[I, R any](cache *Cache, fn MutationFn[I, R], cfg MutationConfig[R]) *Mutation[I, R] {
	return &Mutation[I, R]{cache: cache, fn: fn, cfg: cfg}
}

// Trigger runs the mutation. The error is always returned, in addition to
// any OnError hook; callers decide how to surface it.
func (m *Mutation[I, R]) Trigger(ctx context.Context, input I) (R, error) {
	result, err := m.fn(ctx, input)
	if err != nil {
		if m.cfg.OnError != nil {
			m.cfg.OnError(err)
		}
		var zero R
		return zero, err
	}

	for _, p := range m.cfg.Invalidate {
		m.cache.InvalidatePrefix(p)
	}
	if m.cfg.Updates != nil {
		for _, w := range m.cfg.Updates(result) {
			m.cache.SetQueryData(w.Key, w.Data)
		}
	}
	if m.cfg.OnSuccess != nil {
		m.cfg.OnSuccess(result)
	}
	return result, nil
}
