// Package pricing computes order line prices from the menu.
package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidQuantity  = errors.New("quantity must be >= 1")
	ErrDishNotFound     = errors.New("dish not found")
	ErrDishUnavailable  = errors.New("dish is not available")
	ErrModifierNotFound = errors.New("modifier not found")
)

// Dish is the catalog view needed for pricing.
type Dish struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	IsAvailable bool            `json:"is_available"`
}

// Modifier is a priced add-on attached to one dish.
type Modifier struct {
	ID     int64           `json:"id"`
	DishID int64           `json:"dish_id"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
}

// Catalog resolves dishes and active modifiers. GetDish returns an error
// wrapping ErrDishNotFound for unknown ids; GetModifiers silently omits ids
// that do not resolve.
type Catalog interface {
	GetDish(ctx context.Context, id int64) (Dish, error)
	GetModifiers(ctx context.Context, ids []int64) ([]Modifier, error)
}

// Line is one cart entry.
type Line struct {
	DishID      int64
	Quantity    int32
	ModifierIDs []int64
}

// PricedLine is a line with its catalog snapshot and computed prices.
type PricedLine struct {
	Dish      Dish
	Quantity  int32
	Modifiers []Modifier
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
}

type Engine struct {
	catalog Catalog
}

func NewEngine(catalog Catalog) *Engine {
	return &Engine{catalog: catalog}
}

// PriceLine computes unit = dish price + modifiers and total = unit * quantity.
// A modifier id listed twice is applied once.
func (e *Engine) PriceLine(ctx context.Context, line Line) (PricedLine, error) {
	if line.Quantity < 1 {
		return PricedLine{}, ErrInvalidQuantity
	}

	dish, err := e.catalog.GetDish(ctx, line.DishID)
	if err != nil {
		return PricedLine{}, err
	}
	if !dish.IsAvailable {
		return PricedLine{}, fmt.Errorf("%w: %s", ErrDishUnavailable, dish.Name)
	}

	ids := uniqueIDs(line.ModifierIDs)
	var modifiers []Modifier
	if len(ids) > 0 {
		found, err := e.catalog.GetModifiers(ctx, ids)
		if err != nil {
			return PricedLine{}, fmt.Errorf("get modifiers: %w", err)
		}
		byID := make(map[int64]Modifier, len(found))
		for _, m := range found {
			byID[m.ID] = m
		}
		for _, id := range ids {
			m, ok := byID[id]
			if !ok || m.DishID != dish.ID {
				return PricedLine{}, fmt.Errorf("%w: %d", ErrModifierNotFound, id)
			}
			modifiers = append(modifiers, m)
		}
	}

	unit := dish.Price
	for _, m := range modifiers {
		unit = unit.Add(m.Price)
	}

	return PricedLine{
		Dish:      dish,
		Quantity:  line.Quantity,
		Modifiers: modifiers,
		UnitPrice: unit,
		LineTotal: unit.Mul(decimal.NewFromInt32(line.Quantity)),
	}, nil
}

// PriceCart prices every line and returns the subtotal.
func (e *Engine) PriceCart(ctx context.Context, lines []Line) ([]PricedLine, decimal.Decimal, error) {
	priced := make([]PricedLine, 0, len(lines))
	subtotal := decimal.Zero
	for i, line := range lines {
		pl, err := e.PriceLine(ctx, line)
		if err != nil {
			return nil, decimal.Zero, fmt.Errorf("item[%d]: %w", i, err)
		}
		subtotal = subtotal.Add(pl.LineTotal)
		priced = append(priced, pl)
	}
	return priced, subtotal, nil
}

func uniqueIDs(ids []int64) []int64 {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
