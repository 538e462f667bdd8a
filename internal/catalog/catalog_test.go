package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dastarkhan/food-api/internal/database"
	"github.com/dastarkhan/food-api/internal/pricing"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// --- Mock store ---

type mockStore struct {
	getDishFn       func(ctx context.Context, id int64) (database.Dish, error)
	listModifiersFn func(ctx context.Context, ids []int64) ([]database.DishModifier, error)
	dishCalls       int
	modifierCalls   int
}

func (m *mockStore) GetDish(ctx context.Context, id int64) (database.Dish, error) {
	m.dishCalls++
	return m.getDishFn(ctx, id)
}

func (m *mockStore) ListModifiersByIDs(ctx context.Context, ids []int64) ([]database.DishModifier, error) {
	m.modifierCalls++
	return m.listModifiersFn(ctx, ids)
}

// --- In-memory cache built on go-redis command results ---

type memCache struct {
	data    map[string]string
	ttls    map[string]time.Duration
	failGet bool
}

func newMemCache() *memCache {
	return &memCache{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (c *memCache) Get(ctx context.Context, key string) *redis.StringCmd {
	if c.failGet {
		return redis.NewStringResult("", errors.New("connection refused"))
	}
	v, ok := c.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (c *memCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	switch v := value.(type) {
	case []byte:
		c.data[key] = string(v)
	case string:
		c.data[key] = v
	}
	c.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (c *memCache) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := c.data[k]; ok {
			delete(c.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func plovStore() *mockStore {
	return &mockStore{
		getDishFn: func(ctx context.Context, id int64) (database.Dish, error) {
			if id != 1 {
				return database.Dish{}, pgx.ErrNoRows
			}
			return database.Dish{
				ID:          1,
				Name:        "Plov",
				Price:       database.DecimalToNumeric(decimal.NewFromInt(1500)),
				IsAvailable: true,
			}, nil
		},
		listModifiersFn: func(ctx context.Context, ids []int64) ([]database.DishModifier, error) {
			var out []database.DishModifier
			for _, id := range ids {
				if id == 10 {
					out = append(out, database.DishModifier{
						ID: 10, DishID: 1, Name: "Extra meat",
						Price: database.DecimalToNumeric(decimal.NewFromInt(400)), IsActive: true,
					})
				}
			}
			return out, nil
		},
	}
}

func TestGetDish_ReadThrough(t *testing.T) {
	store := plovStore()
	cache := newMemCache()
	c := New(store, cache, 30*time.Second)

	for i := 0; i < 3; i++ {
		dish, err := c.GetDish(context.Background(), 1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if dish.Name != "Plov" || dish.Price.StringFixed(2) != "1500.00" || !dish.IsAvailable {
			t.Errorf("unexpected dish: %+v", dish)
		}
	}
	if store.dishCalls != 1 {
		t.Errorf("store calls: got %d, want 1", store.dishCalls)
	}
	if cache.ttls["catalog:dish:1"] != 30*time.Second {
		t.Errorf("ttl: got %s, want 30s", cache.ttls["catalog:dish:1"])
	}
}

func TestGetDish_NotFound(t *testing.T) {
	c := New(plovStore(), newMemCache(), time.Minute)

	_, err := c.GetDish(context.Background(), 42)
	if !errors.Is(err, pricing.ErrDishNotFound) {
		t.Fatalf("expected ErrDishNotFound, got %v", err)
	}
}

func TestGetDish_CacheDownFallsBackToStore(t *testing.T) {
	store := plovStore()
	cache := newMemCache()
	cache.failGet = true
	c := New(store, cache, time.Minute)

	if _, err := c.GetDish(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := c.GetDish(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.dishCalls != 2 {
		t.Errorf("store calls: got %d, want 2", store.dishCalls)
	}
}

func TestGetDish_NoCache(t *testing.T) {
	store := plovStore()
	c := New(store, nil, time.Minute)

	if _, err := c.GetDish(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.InvalidateDish(context.Background(), 1); err != nil {
		t.Errorf("invalidate without cache: %v", err)
	}
}

func TestGetModifiers_OnlyMissesHitStore(t *testing.T) {
	store := plovStore()
	var requested []int64
	inner := store.listModifiersFn
	store.listModifiersFn = func(ctx context.Context, ids []int64) ([]database.DishModifier, error) {
		requested = ids
		return inner(ctx, ids)
	}
	c := New(store, newMemCache(), time.Minute)

	mods, err := c.GetModifiers(context.Background(), []int64{10, 77})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mods) != 1 || mods[0].ID != 10 || mods[0].DishID != 1 {
		t.Fatalf("unexpected modifiers: %+v", mods)
	}

	// 10 is cached now, only 77 goes to the store.
	if _, err := c.GetModifiers(context.Background(), []int64{10, 77}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(requested) != 1 || requested[0] != 77 {
		t.Errorf("second lookup requested %v, want [77]", requested)
	}
	if store.modifierCalls != 2 {
		t.Errorf("store calls: got %d, want 2", store.modifierCalls)
	}
}

func TestInvalidateDish(t *testing.T) {
	store := plovStore()
	cache := newMemCache()
	c := New(store, cache, time.Minute)

	if _, err := c.GetDish(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.InvalidateDish(context.Background(), 1); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, ok := cache.data["catalog:dish:1"]; ok {
		t.Error("expected cache entry to be removed")
	}
	if _, err := c.GetDish(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.dishCalls != 2 {
		t.Errorf("store calls: got %d, want 2", store.dishCalls)
	}
}
