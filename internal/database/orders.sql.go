package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const orderColumns = `id, order_number, user_id, customer_name, customer_phone, customer_email,
	delivery_type, delivery_address, status, payment_method, payment_status,
	subtotal, discount_amount, delivery_fee, total_amount, promo_code, assigned_courier_id,
	customer_comment, admin_comment, utm_source, utm_medium, utm_campaign, version,
	created_at, updated_at, confirmed_at, ready_at, completed_at, delivered_at, cancelled_at`

func scanOrder(row pgx.Row) (Order, error) {
	var i Order
	err := row.Scan(
		&i.ID,
		&i.OrderNumber,
		&i.UserID,
		&i.CustomerName,
		&i.CustomerPhone,
		&i.CustomerEmail,
		&i.DeliveryType,
		&i.DeliveryAddress,
		&i.Status,
		&i.PaymentMethod,
		&i.PaymentStatus,
		&i.Subtotal,
		&i.DiscountAmount,
		&i.DeliveryFee,
		&i.TotalAmount,
		&i.PromoCode,
		&i.AssignedCourierID,
		&i.CustomerComment,
		&i.AdminComment,
		&i.UtmSource,
		&i.UtmMedium,
		&i.UtmCampaign,
		&i.Version,
		&i.CreatedAt,
		&i.UpdatedAt,
		&i.ConfirmedAt,
		&i.ReadyAt,
		&i.CompletedAt,
		&i.DeliveredAt,
		&i.CancelledAt,
	)
	return i, err
}

const createOrder = `-- name: CreateOrder :one
INSERT INTO orders (
    order_number, user_id, customer_name, customer_phone, customer_email,
    delivery_type, delivery_address, payment_method, subtotal, discount_amount,
    delivery_fee, total_amount, promo_code, customer_comment,
    utm_source, utm_medium, utm_campaign, created_at, updated_at
) VALUES (
    $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, COALESCE($18, now()), COALESCE($18, now())
)
RETURNING ` + orderColumns

type CreateOrderParams struct {
	OrderNumber     string
	UserID          pgtype.Int8
	CustomerName    string
	CustomerPhone   string
	CustomerEmail   pgtype.Text
	DeliveryType    string
	DeliveryAddress []byte
	PaymentMethod   string
	Subtotal        pgtype.Numeric
	DiscountAmount  pgtype.Numeric
	DeliveryFee     pgtype.Numeric
	TotalAmount     pgtype.Numeric
	PromoCode       pgtype.Text
	CustomerComment pgtype.Text
	UtmSource       pgtype.Text
	UtmMedium       pgtype.Text
	UtmCampaign     pgtype.Text
	CreatedAt       pgtype.Timestamptz
}

func (q *Queries) CreateOrder(ctx context.Context, arg CreateOrderParams) (Order, error) {
	row := q.db.QueryRow(ctx, createOrder,
		arg.OrderNumber,
		arg.UserID,
		arg.CustomerName,
		arg.CustomerPhone,
		arg.CustomerEmail,
		arg.DeliveryType,
		arg.DeliveryAddress,
		arg.PaymentMethod,
		arg.Subtotal,
		arg.DiscountAmount,
		arg.DeliveryFee,
		arg.TotalAmount,
		arg.PromoCode,
		arg.CustomerComment,
		arg.UtmSource,
		arg.UtmMedium,
		arg.UtmCampaign,
		arg.CreatedAt,
	)
	return scanOrder(row)
}

const getOrder = `-- name: GetOrder :one
SELECT ` + orderColumns + `
FROM orders
WHERE id = $1`

func (q *Queries) GetOrder(ctx context.Context, id int64) (Order, error) {
	row := q.db.QueryRow(ctx, getOrder, id)
	return scanOrder(row)
}

const listOrders = `-- name: ListOrders :many
SELECT ` + orderColumns + `
FROM orders
WHERE (cardinality($1::text[]) = 0 OR status = ANY($1::text[]))
  AND ($2::text IS NULL OR delivery_type = $2::text)
  AND ($3::bigint IS NULL OR assigned_courier_id = $3::bigint)
  AND (NOT $4::bool OR assigned_courier_id IS NULL)
ORDER BY created_at DESC, id DESC
LIMIT $5 OFFSET $6`

type ListOrdersParams struct {
	Statuses     []string
	DeliveryType pgtype.Text
	CourierID    pgtype.Int8
	Unassigned   bool
	Limit        int32
	Offset       int32
}

func (q *Queries) ListOrders(ctx context.Context, arg ListOrdersParams) ([]Order, error) {
	statuses := arg.Statuses
	if statuses == nil {
		statuses = []string{}
	}
	rows, err := q.db.Query(ctx, listOrders,
		statuses,
		arg.DeliveryType,
		arg.CourierID,
		arg.Unassigned,
		arg.Limit,
		arg.Offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Order{}
	for rows.Next() {
		i, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const updateOrderStatus = `-- name: UpdateOrderStatus :one
UPDATE orders
SET status              = $3,
    assigned_courier_id = COALESCE($4, assigned_courier_id),
    admin_comment       = COALESCE($5, admin_comment),
    confirmed_at        = COALESCE($6, confirmed_at),
    ready_at            = COALESCE($7, ready_at),
    completed_at        = COALESCE($8, completed_at),
    delivered_at        = COALESCE($9, delivered_at),
    cancelled_at        = COALESCE($10, cancelled_at),
    version             = version + 1,
    updated_at          = now()
WHERE id = $1 AND version = $2
RETURNING ` + orderColumns

// UpdateOrderStatusParams carries the optimistic version read by the caller.
// No row is returned (pgx.ErrNoRows) when another writer bumped the version first.
type UpdateOrderStatusParams struct {
	ID                int64
	Version           int32
	Status            string
	AssignedCourierID pgtype.Int8
	AdminComment      pgtype.Text
	ConfirmedAt       pgtype.Timestamptz
	ReadyAt           pgtype.Timestamptz
	CompletedAt       pgtype.Timestamptz
	DeliveredAt       pgtype.Timestamptz
	CancelledAt       pgtype.Timestamptz
}

func (q *Queries) UpdateOrderStatus(ctx context.Context, arg UpdateOrderStatusParams) (Order, error) {
	row := q.db.QueryRow(ctx, updateOrderStatus,
		arg.ID,
		arg.Version,
		arg.Status,
		arg.AssignedCourierID,
		arg.AdminComment,
		arg.ConfirmedAt,
		arg.ReadyAt,
		arg.CompletedAt,
		arg.DeliveredAt,
		arg.CancelledAt,
	)
	return scanOrder(row)
}

const createOrderItem = `-- name: CreateOrderItem :one
INSERT INTO order_items (
    order_id, dish_id, dish_name, dish_price, quantity, unit_price, line_total, modifiers
) VALUES (
    $1, $2, $3, $4, $5, $6, $7, $8
)
RETURNING id, order_id, dish_id, dish_name, dish_price, quantity, unit_price, line_total, modifiers, created_at`

type CreateOrderItemParams struct {
	OrderID   int64
	DishID    int64
	DishName  string
	DishPrice pgtype.Numeric
	Quantity  int32
	UnitPrice pgtype.Numeric
	LineTotal pgtype.Numeric
	Modifiers []byte
}

func (q *Queries) CreateOrderItem(ctx context.Context, arg CreateOrderItemParams) (OrderItem, error) {
	row := q.db.QueryRow(ctx, createOrderItem,
		arg.OrderID,
		arg.DishID,
		arg.DishName,
		arg.DishPrice,
		arg.Quantity,
		arg.UnitPrice,
		arg.LineTotal,
		arg.Modifiers,
	)
	var i OrderItem
	err := row.Scan(
		&i.ID,
		&i.OrderID,
		&i.DishID,
		&i.DishName,
		&i.DishPrice,
		&i.Quantity,
		&i.UnitPrice,
		&i.LineTotal,
		&i.Modifiers,
		&i.CreatedAt,
	)
	return i, err
}

const listOrderItemsByOrder = `-- name: ListOrderItemsByOrder :many
SELECT id, order_id, dish_id, dish_name, dish_price, quantity, unit_price, line_total, modifiers, created_at
FROM order_items
WHERE order_id = $1
ORDER BY id`

func (q *Queries) ListOrderItemsByOrder(ctx context.Context, orderID int64) ([]OrderItem, error) {
	rows, err := q.db.Query(ctx, listOrderItemsByOrder, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []OrderItem{}
	for rows.Next() {
		var i OrderItem
		if err := rows.Scan(
			&i.ID,
			&i.OrderID,
			&i.DishID,
			&i.DishName,
			&i.DishPrice,
			&i.Quantity,
			&i.UnitPrice,
			&i.LineTotal,
			&i.Modifiers,
			&i.CreatedAt,
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
