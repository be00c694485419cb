package leasing

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestMutationInvalidatesDeclaredPrefixes(t *testing.T) {
	cache := NewCache(nil)
	listKey := QueryKey{Resource: "notifications", Options: map[string]any{"page": 1}, Token: "tok"}
	countKey := QueryKey{Resource: "notifications", Options: map[string]any{"isRead": false, "total": true}, Token: "tok"}
	userKey := QueryKey{Resource: "users", Token: "tok"}

	var listCalls, countCalls, userCalls int32
	counter := func(n *int32) Fetcher {
		return func(ctx context.Context) (any, error) {
			return int(atomic.AddInt32(n, 1)), nil
		}
	}
	ctx := context.Background()
	cache.Fetch(ctx, listKey, counter(&listCalls), QueryConfig{})
	cache.Fetch(ctx, countKey, counter(&countCalls), QueryConfig{})
	cache.Fetch(ctx, userKey, counter(&userCalls), QueryConfig{})

	del := NewMutation(cache,
		func(ctx context.Context, id int) (struct{}, error) {
			return struct{}{}, nil
		},
		MutationConfig[struct{}]{
			Invalidate: []KeyPrefix{{Resource: "notifications"}},
		})
	if _, err := del.Trigger(ctx, 5); err != nil {
		t.Fatalf("trigger: %v", err)
	}

	cache.Fetch(ctx, listKey, counter(&listCalls), QueryConfig{})
	cache.Fetch(ctx, countKey, counter(&countCalls), QueryConfig{})
	cache.Fetch(ctx, userKey, counter(&userCalls), QueryConfig{})

	if n := atomic.LoadInt32(&listCalls); n != 2 {
		t.Errorf("list refetched %d times, want 2", n)
	}
	if n := atomic.LoadInt32(&countCalls); n != 2 {
		t.Errorf("unread count refetched %d times, want 2", n)
	}
	if n := atomic.LoadInt32(&userCalls); n != 1 {
		t.Errorf("unrelated users query fetched %d times, want 1", n)
	}
}

func TestMutationUpdatesWriteAuthoritativeEntity(t *testing.T) {
	cache := NewCache(nil)
	detailKey := QueryKey{Resource: "equipments", Options: map[string]any{"id": 7}, Token: "tok"}

	update := NewMutation(cache,
		func(ctx context.Context, fields map[string]any) (*Equipment, error) {
			return &Equipment{ID: 7, Name: "mill", Status: EquipmentIdle}, nil
		},
		MutationConfig[*Equipment]{
			Updates: func(eq *Equipment) []CacheWrite {
				return []CacheWrite{{Key: detailKey, Data: eq}}
			},
		})

	if _, err := update.Trigger(context.Background(), map[string]any{"status": "idle"}); err != nil {
		t.Fatalf("trigger: %v", err)
	}

	data, ok := cache.GetData(detailKey)
	if !ok {
		t.Fatal("detail entry not written")
	}
	eq, ok := data.(*Equipment)
	if !ok || eq.Status != EquipmentIdle {
		t.Errorf("cached detail = %#v", data)
	}
}

func TestMutationUpdatesSurviveOverlappingInvalidation(t *testing.T) {
	cache := NewCache(nil)
	detailKey := QueryKey{Resource: "equipments", Options: map[string]any{"id": 7}, Token: "tok"}
	listKey := QueryKey{Resource: "equipments", Options: map[string]any{"page": 1}, Token: "tok"}
	cache.SetQueryData(listKey, "old list")

	m := NewMutation(cache,
		func(ctx context.Context, fields map[string]any) (*Equipment, error) {
			return &Equipment{ID: 7, Status: EquipmentIdle}, nil
		},
		MutationConfig[*Equipment]{
			Invalidate: []KeyPrefix{{Resource: "equipments"}},
			Updates: func(eq *Equipment) []CacheWrite {
				return []CacheWrite{{Key: detailKey, Data: eq}}
			},
		})
	if _, err := m.Trigger(context.Background(), nil); err != nil {
		t.Fatalf("trigger: %v", err)
	}

	// The detail write lands after the invalidation, so it stays fresh.
	var detailFetches int32
	data, _ := cache.Fetch(context.Background(), detailKey, func(ctx context.Context) (any, error) {
		atomic.AddInt32(&detailFetches, 1)
		return nil, nil
	}, QueryConfig{})
	if n := atomic.LoadInt32(&detailFetches); n != 0 {
		t.Errorf("detail refetched %d times after authoritative write", n)
	}
	if eq, ok := data.(*Equipment); !ok || eq.ID != 7 {
		t.Errorf("detail = %#v", data)
	}

	// The list is stale and refetches.
	var listFetches int32
	cache.Fetch(context.Background(), listKey, func(ctx context.Context) (any, error) {
		atomic.AddInt32(&listFetches, 1)
		return "new list", nil
	}, QueryConfig{})
	if n := atomic.LoadInt32(&listFetches); n != 1 {
		t.Errorf("list fetched %d times after invalidation, want 1", n)
	}
}

func TestMutationErrorSurfacesAndLeavesCacheAlone(t *testing.T) {
	cache := NewCache(nil)
	key := QueryKey{Resource: "users", Token: "tok"}
	cache.SetQueryData(key, "before")

	boom := &HTTPError{Status: 400, Message: "bad input"}
	var sawErr error
	m := NewMutation(cache,
		func(ctx context.Context, input string) (string, error) {
			return "", boom
		},
		MutationConfig[string]{
			Invalidate: []KeyPrefix{{Resource: "users"}},
			OnError:    func(err error) { sawErr = err },
		})

	_, err := m.Trigger(context.Background(), "x")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if !errors.Is(sawErr, boom) {
		t.Errorf("OnError saw %v", sawErr)
	}

	// No invalidation happened on failure.
	var calls int32
	data, _ := cache.Fetch(context.Background(), key, func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return "after", nil
	}, QueryConfig{})
	if data != "before" || atomic.LoadInt32(&calls) != 0 {
		t.Errorf("cache disturbed by failed mutation: %v (fetches %d)", data, calls)
	}
}

func TestMutationHookOrder(t *testing.T) {
	cache := NewCache(nil)
	detailKey := QueryKey{Resource: "users", Options: map[string]any{"id": 1}, Token: "tok"}
	var sawCachedInHook any

	m := NewMutation(cache,
		func(ctx context.Context, input struct{}) (string, error) {
			return "fresh", nil
		},
		MutationConfig[string]{
			Updates: func(r string) []CacheWrite {
				return []CacheWrite{{Key: detailKey, Data: r}}
			},
			OnSuccess: func(r string) {
				sawCachedInHook, _ = cache.GetData(detailKey)
			},
		})

	if _, err := m.Trigger(context.Background(), struct{}{}); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if sawCachedInHook != "fresh" {
		t.Errorf("OnSuccess ran before cache writes: saw %v", sawCachedInHook)
	}
}
