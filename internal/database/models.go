package database

import (
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

type User struct {
	ID             int64
	Name           string
	Phone          pgtype.Text
	Email          pgtype.Text
	HashedPassword pgtype.Text
	Role           string
	IsActive       bool
	CreatedAt      time.Time
}

type Dish struct {
	ID          int64
	Name        string
	Price       pgtype.Numeric
	IsAvailable bool
	CreatedAt   time.Time
}

type DishModifier struct {
	ID       int64
	DishID   int64
	Name     string
	Price    pgtype.Numeric
	IsActive bool
}

type PromoCode struct {
	ID                int64
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
	IsActive          bool
	TotalUsed         int32
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type PromoCodeUsage struct {
	ID          int64
	PromoCodeID int64
	UserID      pgtype.Int8
	UserPhone   pgtype.Text
	UserEmail   pgtype.Text
	OrderID     pgtype.Int8
	UsedAt      time.Time
	IsActive    bool
}

type Order struct {
	ID                int64
	OrderNumber       string
	UserID            pgtype.Int8
	CustomerName      string
	CustomerPhone     string
	CustomerEmail     pgtype.Text
	DeliveryType      string
	DeliveryAddress   []byte
	Status            string
	PaymentMethod     string
	PaymentStatus     string
	Subtotal          pgtype.Numeric
	DiscountAmount    pgtype.Numeric
	DeliveryFee       pgtype.Numeric
	TotalAmount       pgtype.Numeric
	PromoCode         pgtype.Text
	AssignedCourierID pgtype.Int8
	CustomerComment   pgtype.Text
	AdminComment      pgtype.Text
	UtmSource         pgtype.Text
	UtmMedium         pgtype.Text
	UtmCampaign       pgtype.Text
	Version           int32
	CreatedAt         time.Time
	UpdatedAt         time.Time
	ConfirmedAt       pgtype.Timestamptz
	ReadyAt           pgtype.Timestamptz
	CompletedAt       pgtype.Timestamptz
	DeliveredAt       pgtype.Timestamptz
	CancelledAt       pgtype.Timestamptz
}

type OrderItem struct {
	ID        int64
	OrderID   int64
	DishID    int64
	DishName  string
	DishPrice pgtype.Numeric
	Quantity  int32
	UnitPrice pgtype.Numeric
	LineTotal pgtype.Numeric
	Modifiers []byte
	CreatedAt time.Time
}
