// Package catalog serves dishes and modifiers to the pricing engine, reading
// through a redis cache in front of the menu tables.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dastarkhan/food-api/internal/database"
	"github.com/dastarkhan/food-api/internal/pricing"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
)

// Store is the menu slice of *database.Queries.
type Store interface {
	GetDish(ctx context.Context, id int64) (database.Dish, error)
	ListModifiersByIDs(ctx context.Context, ids []int64) ([]database.DishModifier, error)
}

// Cacher is the subset of redis.Cmdable the catalog uses.
type Cacher interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Catalog implements pricing.Catalog. A nil cache reads straight from the store.
type Catalog struct {
	store Store
	cache Cacher
	ttl   time.Duration
}

var _ pricing.Catalog = (*Catalog)(nil)

func New(store Store, cache Cacher, ttl time.Duration) *Catalog {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Catalog{store: store, cache: cache, ttl: ttl}
}

func dishKey(id int64) string     { return fmt.Sprintf("catalog:dish:%d", id) }
func modifierKey(id int64) string { return fmt.Sprintf("catalog:modifier:%d", id) }

func (c *Catalog) GetDish(ctx context.Context, id int64) (pricing.Dish, error) {
	var dish pricing.Dish
	if c.getCached(ctx, dishKey(id), &dish) {
		return dish, nil
	}

	row, err := c.store.GetDish(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pricing.Dish{}, fmt.Errorf("dish %d: %w", id, pricing.ErrDishNotFound)
		}
		return pricing.Dish{}, fmt.Errorf("get dish: %w", err)
	}
	dish = pricing.Dish{
		ID:          row.ID,
		Name:        row.Name,
		Price:       database.NumericToDecimal(row.Price),
		IsAvailable: row.IsAvailable,
	}
	c.setCached(ctx, dishKey(id), dish)
	return dish, nil
}

// GetModifiers returns the active modifiers among ids, cached one key per modifier.
func (c *Catalog) GetModifiers(ctx context.Context, ids []int64) ([]pricing.Modifier, error) {
	out := make([]pricing.Modifier, 0, len(ids))
	var missing []int64
	for _, id := range ids {
		var m pricing.Modifier
		if c.getCached(ctx, modifierKey(id), &m) {
			out = append(out, m)
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}

	rows, err := c.store.ListModifiersByIDs(ctx, missing)
	if err != nil {
		return nil, fmt.Errorf("list modifiers: %w", err)
	}
	for _, row := range rows {
		m := pricing.Modifier{
			ID:     row.ID,
			DishID: row.DishID,
			Name:   row.Name,
			Price:  database.NumericToDecimal(row.Price),
		}
		c.setCached(ctx, modifierKey(row.ID), m)
		out = append(out, m)
	}
	return out, nil
}

// InvalidateDish drops a cached dish, e.g. after the menu is edited.
func (c *Catalog) InvalidateDish(ctx context.Context, id int64) error {
	if c.cache == nil {
		return nil
	}
	return c.cache.Del(ctx, dishKey(id)).Err()
}

// InvalidateModifiers drops cached modifiers.
func (c *Catalog) InvalidateModifiers(ctx context.Context, ids ...int64) error {
	if c.cache == nil || len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = modifierKey(id)
	}
	return c.cache.Del(ctx, keys...).Err()
}

func (c *Catalog) getCached(ctx context.Context, key string, dst interface{}) bool {
	if c.cache == nil {
		return false
	}
	cached, err := c.cache.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("WARNING: catalog cache get %s: %v", key, err)
		}
		return false
	}
	if err := json.Unmarshal([]byte(cached), dst); err != nil {
		log.Printf("WARNING: catalog cache decode %s: %v", key, err)
		return false
	}
	return true
}

func (c *Catalog) setCached(ctx context.Context, key string, v interface{}) {
	if c.cache == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, key, data, c.ttl).Err(); err != nil {
		log.Printf("WARNING: catalog cache set %s: %v", key, err)
	}
}
