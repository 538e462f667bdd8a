package database

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const getDish = `-- name: GetDish :one
SELECT id, name, price, is_available, created_at
FROM dishes
WHERE id = $1`

func (q *Queries) GetDish(ctx context.Context, id int64) (Dish, error) {
	row := q.db.QueryRow(ctx, getDish, id)
	var i Dish
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.Price,
		&i.IsAvailable,
		&i.CreatedAt,
	)
	return i, err
}

const listModifiersByIDs = `-- name: ListModifiersByIDs :many
SELECT id, dish_id, name, price, is_active
FROM dish_modifiers
WHERE id = ANY($1::bigint[]) AND is_active
ORDER BY id`

func (q *Queries) ListModifiersByIDs(ctx context.Context, ids []int64) ([]DishModifier, error) {
	rows, err := q.db.Query(ctx, listModifiersByIDs, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []DishModifier{}
	for rows.Next() {
		var i DishModifier
		if err := rows.Scan(
			&i.ID,
			&i.DishID,
			&i.Name,
			&i.Price,
			&i.IsActive,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const createDish = `-- name: CreateDish :one
INSERT INTO dishes (name, price, is_available)
VALUES ($1, $2, $3)
RETURNING id, name, price, is_available, created_at`

type CreateDishParams struct {
	Name        string
	Price       pgtype.Numeric
	IsAvailable bool
}

func (q *Queries) CreateDish(ctx context.Context, arg CreateDishParams) (Dish, error) {
	row := q.db.QueryRow(ctx, createDish, arg.Name, arg.Price, arg.IsAvailable)
	var i Dish
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.Price,
		&i.IsAvailable,
		&i.CreatedAt,
	)
	return i, err
}

const createDishModifier = `-- name: CreateDishModifier :one
INSERT INTO dish_modifiers (dish_id, name, price)
VALUES ($1, $2, $3)
RETURNING id, dish_id, name, price, is_active`

type CreateDishModifierParams struct {
	DishID int64
	Name   string
	Price  pgtype.Numeric
}

func (q *Queries) CreateDishModifier(ctx context.Context, arg CreateDishModifierParams) (DishModifier, error) {
	row := q.db.QueryRow(ctx, createDishModifier, arg.DishID, arg.Name, arg.Price)
	var i DishModifier
	err := row.Scan(
		&i.ID,
		&i.DishID,
		&i.Name,
		&i.Price,
		&i.IsActive,
	)
	return i, err
}
