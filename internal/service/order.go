package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/dastarkhan/food-api/internal/database"
	"github.com/dastarkhan/food-api/internal/enum"
	"github.com/dastarkhan/food-api/internal/events"
	"github.com/dastarkhan/food-api/internal/identity"
	"github.com/dastarkhan/food-api/internal/lifecycle"
	"github.com/dastarkhan/food-api/internal/pricing"
	"github.com/dastarkhan/food-api/internal/promo"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

const (
	maxOrderNumberRetries = 3
	// a status write is attempted once and retried once on a version conflict
	maxVersionAttempts = 2

	defaultListLimit = 50
	maxListLimit     = 200
)

// Errors returned by the order service.
var (
	ErrEmptyItems              = errors.New("items are required")
	ErrInvalidDeliveryType     = errors.New("invalid delivery_type")
	ErrInvalidPaymentMethod    = errors.New("invalid payment_method")
	ErrGuestInfoRequired       = errors.New("customer name and phone are required")
	ErrDeliveryAddressRequired = errors.New("delivery address is required for delivery orders")
	ErrOrderNotFound           = errors.New("order not found")
	ErrCourierNotFound         = errors.New("courier not found")
	ErrConflict                = errors.New("order was changed concurrently, please retry")
)

var errVersionConflict = errors.New("order version changed")

// TxBeginner starts a new database transaction.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// DB is a pool: it runs queries and starts transactions.
type DB interface {
	database.DBTX
	TxBeginner
}

// OrderStore defines the DB methods the order service needs.
// Satisfied by *database.Queries (and its WithTx variant).
type OrderStore interface {
	promo.Store
	GetUser(ctx context.Context, id int64) (database.User, error)
	ListUsersByRole(ctx context.Context, role string) ([]database.User, error)
	CreateOrder(ctx context.Context, arg database.CreateOrderParams) (database.Order, error)
	CreateOrderItem(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error)
	GetOrder(ctx context.Context, id int64) (database.Order, error)
	ListOrders(ctx context.Context, arg database.ListOrdersParams) ([]database.Order, error)
	ListOrderItemsByOrder(ctx context.Context, orderID int64) ([]database.OrderItem, error)
	UpdateOrderStatus(ctx context.Context, arg database.UpdateOrderStatusParams) (database.Order, error)
}

// NewOrderStore creates an OrderStore from a DBTX (pool or tx).
type NewOrderStore func(db database.DBTX) OrderStore

// Pricer prices cart lines.
type Pricer interface {
	PriceCart(ctx context.Context, lines []pricing.Line) ([]pricing.PricedLine, decimal.Decimal, error)
}

// PromoEngine is implemented by *promo.Engine.
type PromoEngine interface {
	Validate(ctx context.Context, code string, subtotal decimal.Decimal, who identity.Identity) (promo.Quote, error)
	Apply(ctx context.Context, store promo.Store, code string, subtotal decimal.Decimal, who identity.Identity, orderID *int64) (promo.Quote, error)
	Release(ctx context.Context, store promo.Store, orderID int64) (int, error)
}

// Notifier receives committed order changes. Implemented by *events.Fanout.
type Notifier interface {
	Publish(ctx context.Context, e events.OrderEvent)
}

// Options are the pricing and promo policies read from config.
type Options struct {
	DeliveryFee          decimal.Decimal
	FreeDeliveryFrom     decimal.Decimal
	ReleasePromoOnCancel bool
}

// DeliveryAddress is stored as JSON on the order.
type DeliveryAddress struct {
	Street    string `json:"street"`
	Entrance  string `json:"entrance,omitempty"`
	Floor     string `json:"floor,omitempty"`
	Apartment string `json:"apartment,omitempty"`
	Comment   string `json:"comment,omitempty"`
}

// UTM carries marketing attribution from the storefront.
type UTM struct {
	Source   string
	Medium   string
	Campaign string
}

// CreateOrderRequest is the validated input for creating an order.
type CreateOrderRequest struct {
	Customer      identity.Identity
	DeliveryType  string
	Address       *DeliveryAddress
	PaymentMethod string
	PromoCode     string
	Comment       string
	UTM           UTM
	Items         []pricing.Line
}

// ItemModifier is the modifier snapshot stored on an order item.
type ItemModifier struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Price string `json:"price"`
}

// OrderResult is an order with its items.
type OrderResult struct {
	Order database.Order
	Items []database.OrderItem
}

// TransitionRequest asks for a plain status change.
type TransitionRequest struct {
	OrderID int64
	Target  string
	Actor   lifecycle.Actor
	// AdminComment is stored only when an admin makes the change.
	AdminComment string
}

// ListOrdersFilter narrows dashboard listings.
type ListOrdersFilter struct {
	Statuses     []string
	DeliveryType string
	CourierID    *int64
	Unassigned   bool
	Limit        int32
	Offset       int32
}

// OrderService handles order business logic.
type OrderService struct {
	db          DB
	newStore    NewOrderStore
	pricer      Pricer
	promos      PromoEngine
	notifier    Notifier
	opts        Options
	now         func() time.Time
	orderNumber func(time.Time) string
}

// NewOrderService creates a new OrderService. notifier may be nil.
func NewOrderService(db DB, newStore NewOrderStore, pricer Pricer, promos PromoEngine, notifier Notifier, opts Options) *OrderService {
	return &OrderService{
		db:          db,
		newStore:    newStore,
		pricer:      pricer,
		promos:      promos,
		notifier:    notifier,
		opts:        opts,
		now:         time.Now,
		orderNumber: generateOrderNumber,
	}
}

// customer is the resolved contact recorded on an order.
type customer struct {
	userID *int64
	name   string
	phone  string
	email  string
}

// orderDraft holds everything computed before the insert transaction.
type orderDraft struct {
	req          CreateOrderRequest
	customer     customer
	deliveryType string
	payment      string
	address      []byte
	lines        []pricing.PricedLine
	subtotal     decimal.Decimal
	promoCode    string
	discount     decimal.Decimal
	deliveryFee  decimal.Decimal
	total        decimal.Decimal
}

// CreateOrder validates the request, prices the cart, checks the promo code
// and stores the order, its items and the promo usage in one transaction.
// Retries up to maxOrderNumberRetries times on order_number collisions.
func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*OrderResult, error) {
	deliveryType, err := validateDeliveryType(req.DeliveryType)
	if err != nil {
		return nil, err
	}
	payment, err := validatePaymentMethod(req.PaymentMethod)
	if err != nil {
		return nil, err
	}
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}

	cust, err := s.resolveCustomer(ctx, req.Customer)
	if err != nil {
		return nil, err
	}

	var address []byte
	if deliveryType == enum.DeliveryTypeDelivery {
		if req.Address == nil || strings.TrimSpace(req.Address.Street) == "" {
			return nil, ErrDeliveryAddressRequired
		}
		address, err = json.Marshal(req.Address)
		if err != nil {
			return nil, fmt.Errorf("encode address: %w", err)
		}
	}

	lines, subtotal, err := s.pricer.PriceCart(ctx, req.Items)
	if err != nil {
		return nil, err
	}

	// Validate only: the slot is taken inside the insert transaction.
	discount := decimal.Zero
	code := strings.ToUpper(strings.TrimSpace(req.PromoCode))
	if code != "" {
		quote, err := s.promos.Validate(ctx, code, subtotal, req.Customer)
		if err != nil {
			return nil, err
		}
		discount = quote.Discount
	}

	fee := s.deliveryFee(deliveryType, subtotal)
	draft := orderDraft{
		req:          req,
		customer:     cust,
		deliveryType: deliveryType,
		payment:      payment,
		address:      address,
		lines:        lines,
		subtotal:     subtotal,
		promoCode:    code,
		discount:     discount,
		deliveryFee:  fee,
		total:        subtotal.Sub(discount).Add(fee),
	}

	var lastErr error
	for attempt := 0; attempt < maxOrderNumberRetries; attempt++ {
		result, err := s.createOrderTx(ctx, draft)
		if err == nil {
			s.notify(ctx, enum.EventOrderCreated, result.Order, "")
			return result, nil
		}
		if isOrderNumberConflict(err) {
			lastErr = err
			continue
		}
		return nil, err
	}
	return nil, lastErr
}

// isOrderNumberConflict checks if the error is a unique constraint violation
// on the order number (pgconn error code 23505).
func isOrderNumberConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && pgErr.ConstraintName == "orders_order_number_key"
	}
	return false
}

func (s *OrderService) createOrderTx(ctx context.Context, d orderDraft) (*OrderResult, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)
	now := s.now()

	order, err := store.CreateOrder(ctx, database.CreateOrderParams{
		OrderNumber:     s.orderNumber(now),
		UserID:          database.Int8(d.customer.userID),
		CustomerName:    d.customer.name,
		CustomerPhone:   d.customer.phone,
		CustomerEmail:   database.Text(d.customer.email),
		DeliveryType:    d.deliveryType,
		DeliveryAddress: d.address,
		PaymentMethod:   d.payment,
		Subtotal:        database.DecimalToNumeric(d.subtotal),
		DiscountAmount:  database.DecimalToNumeric(d.discount),
		DeliveryFee:     database.DecimalToNumeric(d.deliveryFee),
		TotalAmount:     database.DecimalToNumeric(d.total),
		PromoCode:       database.Text(d.promoCode),
		CustomerComment: database.Text(strings.TrimSpace(d.req.Comment)),
		UtmSource:       database.Text(d.req.UTM.Source),
		UtmMedium:       database.Text(d.req.UTM.Medium),
		UtmCampaign:     database.Text(d.req.UTM.Campaign),
		CreatedAt:       pgtype.Timestamptz{Time: now, Valid: true},
	})
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	items := make([]database.OrderItem, 0, len(d.lines))
	for i, line := range d.lines {
		mods := make([]ItemModifier, 0, len(line.Modifiers))
		for _, m := range line.Modifiers {
			mods = append(mods, ItemModifier{ID: m.ID, Name: m.Name, Price: m.Price.StringFixed(2)})
		}
		modsJSON, err := json.Marshal(mods)
		if err != nil {
			return nil, fmt.Errorf("item[%d]: encode modifiers: %w", i, err)
		}

		item, err := store.CreateOrderItem(ctx, database.CreateOrderItemParams{
			OrderID:   order.ID,
			DishID:    line.Dish.ID,
			DishName:  line.Dish.Name,
			DishPrice: database.DecimalToNumeric(line.Dish.Price),
			Quantity:  line.Quantity,
			UnitPrice: database.DecimalToNumeric(line.UnitPrice),
			LineTotal: database.DecimalToNumeric(line.LineTotal),
			Modifiers: modsJSON,
		})
		if err != nil {
			return nil, fmt.Errorf("create order item: %w", err)
		}
		items = append(items, item)
	}

	if d.promoCode != "" {
		orderID := order.ID
		quote, err := s.promos.Apply(ctx, store, d.promoCode, d.subtotal, d.req.Customer, &orderID)
		if err != nil {
			return nil, err
		}
		if !quote.Discount.Equal(d.discount) {
			return nil, fmt.Errorf("%w: promo code terms changed", ErrConflict)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return &OrderResult{Order: order, Items: items}, nil
}

// resolveCustomer fills a member's missing contact details from their account.
func (s *OrderService) resolveCustomer(ctx context.Context, who identity.Identity) (customer, error) {
	if who == nil {
		return customer{}, ErrGuestInfoRequired
	}
	name, phone, email := who.Contact()
	c := customer{name: name, phone: phone, email: email}

	if uid, ok := identity.UserID(who); ok {
		c.userID = &uid
		if name == "" || phone == "" || email == "" {
			user, err := s.newStore(s.db).GetUser(ctx, uid)
			if err != nil && !errors.Is(err, pgx.ErrNoRows) {
				return customer{}, fmt.Errorf("get user: %w", err)
			}
			if err == nil {
				if c.name == "" {
					c.name = user.Name
				}
				if c.phone == "" {
					c.phone = user.Phone.String
				}
				if c.email == "" {
					c.email = user.Email.String
				}
			}
		}
	}

	if c.name == "" || c.phone == "" {
		return customer{}, ErrGuestInfoRequired
	}
	return c, nil
}

func (s *OrderService) deliveryFee(deliveryType string, subtotal decimal.Decimal) decimal.Decimal {
	if deliveryType != enum.DeliveryTypeDelivery {
		return decimal.Zero
	}
	if s.opts.FreeDeliveryFrom.IsPositive() && subtotal.GreaterThanOrEqual(s.opts.FreeDeliveryFrom) {
		return decimal.Zero
	}
	return s.opts.DeliveryFee
}

// ValidatePromo quotes a promo code without consuming it.
func (s *OrderService) ValidatePromo(ctx context.Context, code string, subtotal decimal.Decimal, who identity.Identity) (promo.Quote, error) {
	return s.promos.Validate(ctx, code, subtotal, who)
}

// TransitionOrder applies a plain status change for the acting role.
func (s *OrderService) TransitionOrder(ctx context.Context, req TransitionRequest) (*OrderResult, error) {
	comment := ""
	if req.Actor.Role == enum.UserRoleAdmin {
		comment = strings.TrimSpace(req.AdminComment)
	}
	return s.mutate(ctx, req.OrderID, comment, func(order database.Order) (lifecycle.Change, error) {
		return lifecycle.Transition(snapshot(order), req.Target, req.Actor)
	})
}

// AssignCourier lets an admin hand a ready delivery order to a courier.
func (s *OrderService) AssignCourier(ctx context.Context, orderID, courierID int64, actor lifecycle.Actor) (*OrderResult, error) {
	if actor.Role == enum.UserRoleAdmin && courierID > 0 {
		courier, err := s.newStore(s.db).GetUser(ctx, courierID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrCourierNotFound
			}
			return nil, fmt.Errorf("get courier: %w", err)
		}
		if courier.Role != enum.UserRoleCourier {
			return nil, ErrCourierNotFound
		}
	}
	return s.mutate(ctx, orderID, "", func(order database.Order) (lifecycle.Change, error) {
		return lifecycle.Assign(snapshot(order), courierID, actor)
	})
}

// TakeOrder lets a courier claim a ready delivery order.
func (s *OrderService) TakeOrder(ctx context.Context, orderID, courierID int64) (*OrderResult, error) {
	return s.mutate(ctx, orderID, "", func(order database.Order) (lifecycle.Change, error) {
		return lifecycle.Take(snapshot(order), courierID)
	})
}

// MarkDelivered is the assigned courier closing a delivery.
func (s *OrderService) MarkDelivered(ctx context.Context, orderID, courierID int64) (*OrderResult, error) {
	return s.TransitionOrder(ctx, TransitionRequest{
		OrderID: orderID,
		Target:  enum.OrderStatusDelivered,
		Actor:   lifecycle.Actor{Role: enum.UserRoleCourier, UserID: courierID},
	})
}

type decideFunc func(order database.Order) (lifecycle.Change, error)

// mutate reads the order, asks decide for a change and writes it guarded by
// the order version. A lost race is retried once against a fresh read.
func (s *OrderService) mutate(ctx context.Context, orderID int64, comment string, decide decideFunc) (*OrderResult, error) {
	for attempt := 0; attempt < maxVersionAttempts; attempt++ {
		result, previous, err := s.mutateTx(ctx, orderID, comment, decide)
		if errors.Is(err, errVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		s.notify(ctx, enum.EventOrderUpdated, result.Order, previous)
		return result, nil
	}
	return nil, ErrConflict
}

func (s *OrderService) mutateTx(ctx context.Context, orderID int64, comment string, decide decideFunc) (*OrderResult, string, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	order, err := store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", ErrOrderNotFound
		}
		return nil, "", fmt.Errorf("get order: %w", err)
	}

	change, err := decide(order)
	if err != nil {
		return nil, "", err
	}

	params := database.UpdateOrderStatusParams{
		ID:                order.ID,
		Version:           order.Version,
		Status:            change.To,
		AssignedCourierID: database.Int8(change.CourierID),
		AdminComment:      database.Text(comment),
	}
	stamp := pgtype.Timestamptz{Time: s.now(), Valid: true}
	switch change.Stamp {
	case lifecycle.StampConfirmed:
		params.ConfirmedAt = stamp
	case lifecycle.StampReady:
		params.ReadyAt = stamp
	case lifecycle.StampCompleted:
		params.CompletedAt = stamp
	case lifecycle.StampDelivered:
		params.DeliveredAt = stamp
	case lifecycle.StampCancelled:
		params.CancelledAt = stamp
	}

	updated, err := store.UpdateOrderStatus(ctx, params)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", errVersionConflict
		}
		return nil, "", fmt.Errorf("update order status: %w", err)
	}

	if change.To == enum.OrderStatusCancelled && s.opts.ReleasePromoOnCancel && order.PromoCode.Valid {
		if _, err := s.promos.Release(ctx, store, order.ID); err != nil {
			return nil, "", err
		}
	}

	items, err := store.ListOrderItemsByOrder(ctx, order.ID)
	if err != nil {
		return nil, "", fmt.Errorf("list order items: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, "", fmt.Errorf("commit tx: %w", err)
	}

	return &OrderResult{Order: updated, Items: items}, change.From, nil
}

// GetOrder returns an order with its items.
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*OrderResult, error) {
	store := s.newStore(s.db)
	order, err := store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	items, err := store.ListOrderItemsByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}
	return &OrderResult{Order: order, Items: items}, nil
}

// ListOrders returns orders newest first.
func (s *OrderService) ListOrders(ctx context.Context, f ListOrdersFilter) ([]database.Order, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	orders, err := s.newStore(s.db).ListOrders(ctx, database.ListOrdersParams{
		Statuses:     f.Statuses,
		DeliveryType: database.Text(f.DeliveryType),
		CourierID:    database.Int8(f.CourierID),
		Unassigned:   f.Unassigned,
		Limit:        limit,
		Offset:       offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

// ListCouriers returns active courier accounts for the assignment picker.
func (s *OrderService) ListCouriers(ctx context.Context) ([]database.User, error) {
	users, err := s.newStore(s.db).ListUsersByRole(ctx, enum.UserRoleCourier)
	if err != nil {
		return nil, fmt.Errorf("list couriers: %w", err)
	}
	return users, nil
}

func (s *OrderService) notify(ctx context.Context, eventType string, order database.Order, previous string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Publish(ctx, events.NewOrderEvent(eventType, order, previous))
}

// --- Helpers ---

func snapshot(order database.Order) lifecycle.Snapshot {
	snap := lifecycle.Snapshot{
		Status:       order.Status,
		DeliveryType: order.DeliveryType,
	}
	if order.AssignedCourierID.Valid {
		id := order.AssignedCourierID.Int64
		snap.AssignedCourierID = &id
	}
	return snap
}

// generateOrderNumber returns ORD-<year>-<6 digits>. Collisions are caught by
// the unique constraint and retried.
func generateOrderNumber(now time.Time) string {
	return fmt.Sprintf("ORD-%04d-%06d", now.Year(), rand.Intn(1_000_000))
}

func validateDeliveryType(s string) (string, error) {
	switch s {
	case enum.DeliveryTypeDelivery, enum.DeliveryTypePickup:
		return s, nil
	}
	return "", ErrInvalidDeliveryType
}

func validatePaymentMethod(s string) (string, error) {
	switch s {
	case "":
		return enum.PaymentMethodCard, nil
	case enum.PaymentMethodCard, enum.PaymentMethodCash:
		return s, nil
	}
	return "", ErrInvalidPaymentMethod
}
