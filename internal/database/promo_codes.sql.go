package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const promoCodeColumns = `id, code, name, description, discount_type, discount_value,
	min_order_amount, max_discount_amount, usage_limit, usage_limit_per_user,
	valid_from, valid_until, is_active, total_used, created_at, updated_at`

func scanPromoCode(row pgx.Row) (PromoCode, error) {
	var i PromoCode
	err := row.Scan(
		&i.ID,
		&i.Code,
		&i.Name,
		&i.Description,
		&i.DiscountType,
		&i.DiscountValue,
		&i.MinOrderAmount,
		&i.MaxDiscountAmount,
		&i.UsageLimit,
		&i.UsageLimitPerUser,
		&i.ValidFrom,
		&i.ValidUntil,
		&i.IsActive,
		&i.TotalUsed,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const getPromoCodeByCode = `-- name: GetPromoCodeByCode :one
SELECT ` + promoCodeColumns + `
FROM promo_codes
WHERE code = upper($1) AND is_active`

func (q *Queries) GetPromoCodeByCode(ctx context.Context, code string) (PromoCode, error) {
	row := q.db.QueryRow(ctx, getPromoCodeByCode, code)
	return scanPromoCode(row)
}

const getPromoCodeByCodeForUpdate = `-- name: GetPromoCodeByCodeForUpdate :one
SELECT ` + promoCodeColumns + `
FROM promo_codes
WHERE code = upper($1) AND is_active
FOR UPDATE`

// GetPromoCodeByCodeForUpdate locks the promo row until the surrounding
// transaction ends. Only meaningful on a pgx.Tx.
func (q *Queries) GetPromoCodeByCodeForUpdate(ctx context.Context, code string) (PromoCode, error) {
	row := q.db.QueryRow(ctx, getPromoCodeByCodeForUpdate, code)
	return scanPromoCode(row)
}

const incrementPromoCodeUsage = `-- name: IncrementPromoCodeUsage :one
UPDATE promo_codes
SET total_used = total_used + 1,
    updated_at = now()
WHERE id = $1
  AND is_active
  AND (usage_limit IS NULL OR total_used < usage_limit)
RETURNING ` + promoCodeColumns

// IncrementPromoCodeUsage bumps total_used only while it is under usage_limit.
// Returns pgx.ErrNoRows once the cap is reached.
func (q *Queries) IncrementPromoCodeUsage(ctx context.Context, id int64) (PromoCode, error) {
	row := q.db.QueryRow(ctx, incrementPromoCodeUsage, id)
	return scanPromoCode(row)
}

const decrementPromoCodeUsage = `-- name: DecrementPromoCodeUsage :exec
UPDATE promo_codes
SET total_used = GREATEST(total_used - 1, 0),
    updated_at = now()
WHERE id = $1`

func (q *Queries) DecrementPromoCodeUsage(ctx context.Context, id int64) error {
	_, err := q.db.Exec(ctx, decrementPromoCodeUsage, id)
	return err
}

const countActivePromoUsagesByUser = `-- name: CountActivePromoUsagesByUser :one
SELECT count(*)
FROM promo_code_usages
WHERE promo_code_id = $1 AND user_id = $2 AND is_active`

type CountActivePromoUsagesByUserParams struct {
	PromoCodeID int64
	UserID      int64
}

func (q *Queries) CountActivePromoUsagesByUser(ctx context.Context, arg CountActivePromoUsagesByUserParams) (int64, error) {
	row := q.db.QueryRow(ctx, countActivePromoUsagesByUser, arg.PromoCodeID, arg.UserID)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const createPromoCodeUsage = `-- name: CreatePromoCodeUsage :one
INSERT INTO promo_code_usages (promo_code_id, user_id, user_phone, user_email, order_id)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, promo_code_id, user_id, user_phone, user_email, order_id, used_at, is_active`

type CreatePromoCodeUsageParams struct {
	PromoCodeID int64
	UserID      pgtype.Int8
	UserPhone   pgtype.Text
	UserEmail   pgtype.Text
	OrderID     pgtype.Int8
}

func (q *Queries) CreatePromoCodeUsage(ctx context.Context, arg CreatePromoCodeUsageParams) (PromoCodeUsage, error) {
	row := q.db.QueryRow(ctx, createPromoCodeUsage,
		arg.PromoCodeID,
		arg.UserID,
		arg.UserPhone,
		arg.UserEmail,
		arg.OrderID,
	)
	var i PromoCodeUsage
	err := row.Scan(
		&i.ID,
		&i.PromoCodeID,
		&i.UserID,
		&i.UserPhone,
		&i.UserEmail,
		&i.OrderID,
		&i.UsedAt,
		&i.IsActive,
	)
	return i, err
}

const deactivatePromoUsagesByOrder = `-- name: DeactivatePromoUsagesByOrder :many
UPDATE promo_code_usages
SET is_active = FALSE
WHERE order_id = $1 AND is_active
RETURNING promo_code_id`

// DeactivatePromoUsagesByOrder returns the promo ids whose usage was released.
func (q *Queries) DeactivatePromoUsagesByOrder(ctx context.Context, orderID int64) ([]int64, error) {
	rows, err := q.db.Query(ctx, deactivatePromoUsagesByOrder, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []int64{}
	for rows.Next() {
		var promoCodeID int64
		if err := rows.Scan(&promoCodeID); err != nil {
			return nil, err
		}
		items = append(items, promoCodeID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const createPromoCode = `-- name: CreatePromoCode :one
INSERT INTO promo_codes (
    code, name, description, discount_type, discount_value, min_order_amount,
    max_discount_amount, usage_limit, usage_limit_per_user, valid_from, valid_until
) VALUES (
    upper($1), $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
)
ON CONFLICT (code) DO UPDATE SET updated_at = now()
RETURNING ` + promoCodeColumns

type CreatePromoCodeParams struct {
	Code              string
	Name              string
	Description       pgtype.Text
	DiscountType      string
	DiscountValue     pgtype.Numeric
	MinOrderAmount    pgtype.Numeric
	MaxDiscountAmount pgtype.Numeric
	UsageLimit        pgtype.Int4
	UsageLimitPerUser int32
	ValidFrom         pgtype.Timestamptz
	ValidUntil        pgtype.Timestamptz
}

func (q *Queries) CreatePromoCode(ctx context.Context, arg CreatePromoCodeParams) (PromoCode, error) {
	row := q.db.QueryRow(ctx, createPromoCode,
		arg.Code,
		arg.Name,
		arg.Description,
		arg.DiscountType,
		arg.DiscountValue,
		arg.MinOrderAmount,
		arg.MaxDiscountAmount,
		arg.UsageLimit,
		arg.UsageLimitPerUser,
		arg.ValidFrom,
		arg.ValidUntil,
	)
	return scanPromoCode(row)
}
