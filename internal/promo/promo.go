// Package promo validates promo codes, prices the discount and records usage.
package promo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dastarkhan/food-api/internal/database"
	"github.com/dastarkhan/food-api/internal/enum"
	"github.com/dastarkhan/food-api/internal/identity"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

var (
	ErrEmptyCode             = errors.New("promo code is required")
	ErrNegativeSubtotal      = errors.New("order subtotal must be >= 0")
	ErrPromoNotFound         = errors.New("promo code not found")
	ErrPromoNotYetActive     = errors.New("promo code is not active yet")
	ErrPromoExpired          = errors.New("promo code has expired")
	ErrPromoExhausted        = errors.New("promo code usage limit reached")
	ErrPromoMinimumNotMet    = errors.New("order total is below the promo minimum")
	ErrPromoUserLimitReached = errors.New("promo code already used by this user")
)

var hundred = decimal.NewFromInt(100)

// Store is the promo slice of *database.Queries.
type Store interface {
	GetPromoCodeByCode(ctx context.Context, code string) (database.PromoCode, error)
	GetPromoCodeByCodeForUpdate(ctx context.Context, code string) (database.PromoCode, error)
	CountActivePromoUsagesByUser(ctx context.Context, arg database.CountActivePromoUsagesByUserParams) (int64, error)
	IncrementPromoCodeUsage(ctx context.Context, id int64) (database.PromoCode, error)
	CreatePromoCodeUsage(ctx context.Context, arg database.CreatePromoCodeUsageParams) (database.PromoCodeUsage, error)
	DeactivatePromoUsagesByOrder(ctx context.Context, orderID int64) ([]int64, error)
	DecrementPromoCodeUsage(ctx context.Context, id int64) error
}

// NewStore creates a Store from a pool or transaction.
type NewStore func(db database.DBTX) Store

// DB is a pool that can also start transactions. *pgxpool.Pool satisfies it.
type DB interface {
	database.DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Quote is a priced promo code.
type Quote struct {
	PromoID           int64
	Code              string
	Name              string
	Description       string
	DiscountType      string
	DiscountValue     decimal.Decimal
	MinOrderAmount    *decimal.Decimal
	MaxDiscountAmount *decimal.Decimal
	Discount          decimal.Decimal
}

// DiscountPercent is the effective percentage of subtotal, for display.
func (q Quote) DiscountPercent(subtotal decimal.Decimal) decimal.Decimal {
	if subtotal.IsZero() {
		return decimal.Zero
	}
	return q.Discount.Mul(hundred).Div(subtotal).Round(2)
}

type Engine struct {
	db       DB
	newStore NewStore
	now      func() time.Time
}

func NewEngine(db DB, newStore NewStore) *Engine {
	return &Engine{db: db, newStore: newStore, now: time.Now}
}

// Validate checks the code against subtotal and who is ordering. It does not
// write anything.
func (e *Engine) Validate(ctx context.Context, code string, subtotal decimal.Decimal, who identity.Identity) (Quote, error) {
	code, err := normalize(code, subtotal)
	if err != nil {
		return Quote{}, err
	}

	store := e.newStore(e.db)
	p, err := store.GetPromoCodeByCode(ctx, code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Quote{}, ErrPromoNotFound
		}
		return Quote{}, fmt.Errorf("get promo code: %w", err)
	}
	return e.evaluate(ctx, store, p, subtotal, who)
}

// Apply consumes one use of the code. It must run on a store bound to the
// caller's transaction: the promo row is locked, the checks re-run, and the
// counter increment refuses to pass usage_limit.
func (e *Engine) Apply(ctx context.Context, store Store, code string, subtotal decimal.Decimal, who identity.Identity, orderID *int64) (Quote, error) {
	code, err := normalize(code, subtotal)
	if err != nil {
		return Quote{}, err
	}

	p, err := store.GetPromoCodeByCodeForUpdate(ctx, code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Quote{}, ErrPromoNotFound
		}
		return Quote{}, fmt.Errorf("lock promo code: %w", err)
	}

	quote, err := e.evaluate(ctx, store, p, subtotal, who)
	if err != nil {
		return Quote{}, err
	}

	if _, err := store.IncrementPromoCodeUsage(ctx, p.ID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Quote{}, ErrPromoExhausted
		}
		return Quote{}, fmt.Errorf("increment promo usage: %w", err)
	}

	usage := database.CreatePromoCodeUsageParams{
		PromoCodeID: p.ID,
		OrderID:     database.Int8(orderID),
	}
	if who != nil {
		_, phone, email := who.Contact()
		usage.UserPhone = database.Text(phone)
		usage.UserEmail = database.Text(email)
	}
	if uid, ok := identity.UserID(who); ok {
		usage.UserID = database.Int8(&uid)
	}
	if _, err := store.CreatePromoCodeUsage(ctx, usage); err != nil {
		return Quote{}, fmt.Errorf("create promo usage: %w", err)
	}
	return quote, nil
}

// ApplyStandalone runs Apply in its own transaction, for usage not tied to an order.
func (e *Engine) ApplyStandalone(ctx context.Context, code string, subtotal decimal.Decimal, who identity.Identity) (Quote, error) {
	tx, err := e.db.Begin(ctx)
	if err != nil {
		return Quote{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	quote, err := e.Apply(ctx, e.newStore(tx), code, subtotal, who, nil)
	if err != nil {
		return Quote{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Quote{}, fmt.Errorf("commit tx: %w", err)
	}
	return quote, nil
}

// Release deactivates the usage rows of an order and frees their slots.
// It returns how many usages were released.
func (e *Engine) Release(ctx context.Context, store Store, orderID int64) (int, error) {
	promoIDs, err := store.DeactivatePromoUsagesByOrder(ctx, orderID)
	if err != nil {
		return 0, fmt.Errorf("deactivate promo usages: %w", err)
	}
	for _, id := range promoIDs {
		if err := store.DecrementPromoCodeUsage(ctx, id); err != nil {
			return 0, fmt.Errorf("decrement promo usage: %w", err)
		}
	}
	return len(promoIDs), nil
}

// evaluate runs the checks in a fixed order: validity window, global cap,
// minimum amount, per-user cap. Guests skip the per-user cap.
func (e *Engine) evaluate(ctx context.Context, store Store, p database.PromoCode, subtotal decimal.Decimal, who identity.Identity) (Quote, error) {
	now := e.now()
	if p.ValidFrom.Valid && now.Before(p.ValidFrom.Time) {
		return Quote{}, ErrPromoNotYetActive
	}
	if p.ValidUntil.Valid && now.After(p.ValidUntil.Time) {
		return Quote{}, ErrPromoExpired
	}

	if p.UsageLimit.Valid && p.TotalUsed >= p.UsageLimit.Int32 {
		return Quote{}, ErrPromoExhausted
	}

	quote := toQuote(p)
	if quote.MinOrderAmount != nil && subtotal.LessThan(*quote.MinOrderAmount) {
		return Quote{}, fmt.Errorf("%w: minimum is %s", ErrPromoMinimumNotMet, quote.MinOrderAmount.StringFixed(2))
	}

	if uid, ok := identity.UserID(who); ok && p.UsageLimitPerUser > 0 {
		used, err := store.CountActivePromoUsagesByUser(ctx, database.CountActivePromoUsagesByUserParams{
			PromoCodeID: p.ID,
			UserID:      uid,
		})
		if err != nil {
			return Quote{}, fmt.Errorf("count promo usages: %w", err)
		}
		if used >= int64(p.UsageLimitPerUser) {
			return Quote{}, ErrPromoUserLimitReached
		}
	}

	quote.Discount = Discount(quote.DiscountType, quote.DiscountValue, quote.MaxDiscountAmount, subtotal)
	return quote, nil
}

// Discount prices a promo against subtotal. Percentage discounts are capped by
// maxDiscount, fixed ones by the subtotal. Only the result is rounded, half-up
// to 2 places.
func Discount(discountType string, value decimal.Decimal, maxDiscount *decimal.Decimal, subtotal decimal.Decimal) decimal.Decimal {
	var d decimal.Decimal
	switch discountType {
	case enum.DiscountTypePercentage:
		d = subtotal.Mul(value).Div(hundred)
		if maxDiscount != nil && maxDiscount.IsPositive() && d.GreaterThan(*maxDiscount) {
			d = *maxDiscount
		}
	case enum.DiscountTypeFixed:
		d = value
	default:
		return decimal.Zero
	}
	if d.GreaterThan(subtotal) {
		d = subtotal
	}
	if d.IsNegative() {
		d = decimal.Zero
	}
	return d.Round(2)
}

func normalize(code string, subtotal decimal.Decimal) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return "", ErrEmptyCode
	}
	if subtotal.IsNegative() {
		return "", ErrNegativeSubtotal
	}
	return code, nil
}

func toQuote(p database.PromoCode) Quote {
	q := Quote{
		PromoID:       p.ID,
		Code:          p.Code,
		Name:          p.Name,
		Description:   p.Description.String,
		DiscountType:  p.DiscountType,
		DiscountValue: database.NumericToDecimal(p.DiscountValue),
	}
	if p.MinOrderAmount.Valid {
		v := database.NumericToDecimal(p.MinOrderAmount)
		q.MinOrderAmount = &v
	}
	if p.MaxDiscountAmount.Valid {
		v := database.NumericToDecimal(p.MaxDiscountAmount)
		q.MaxDiscountAmount = &v
	}
	return q
}
