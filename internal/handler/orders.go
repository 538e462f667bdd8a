package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/dastarkhan/food-api/internal/auth"
	"github.com/dastarkhan/food-api/internal/database"
	"github.com/dastarkhan/food-api/internal/enum"
	"github.com/dastarkhan/food-api/internal/identity"
	"github.com/dastarkhan/food-api/internal/lifecycle"
	"github.com/dastarkhan/food-api/internal/middleware"
	"github.com/dastarkhan/food-api/internal/pricing"
	"github.com/dastarkhan/food-api/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// OrderServicer defines the service methods needed by order handlers.
// Satisfied by *service.OrderService; narrow interface for testability.
type OrderServicer interface {
	CreateOrder(ctx context.Context, req service.CreateOrderRequest) (*service.OrderResult, error)
	GetOrder(ctx context.Context, orderID int64) (*service.OrderResult, error)
	ListOrders(ctx context.Context, f service.ListOrdersFilter) ([]database.Order, error)
	TransitionOrder(ctx context.Context, req service.TransitionRequest) (*service.OrderResult, error)
	AssignCourier(ctx context.Context, orderID, courierID int64, actor lifecycle.Actor) (*service.OrderResult, error)
	TakeOrder(ctx context.Context, orderID, courierID int64) (*service.OrderResult, error)
	ListCouriers(ctx context.Context) ([]database.User, error)
}

// OrderHandler handles customer order endpoints.
type OrderHandler struct {
	svc OrderServicer
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(svc OrderServicer) *OrderHandler {
	return &OrderHandler{svc: svc}
}

// RegisterRoutes registers order endpoints on the given Chi router.
// Create runs under OptionalAuthenticate so guests can check out; Get needs a token.
func (h *OrderHandler) RegisterRoutes(r chi.Router, jwtSecret string) {
	r.With(middleware.OptionalAuthenticate(jwtSecret)).Post("/orders", h.Create)
	r.With(middleware.Authenticate(jwtSecret)).Get("/orders/{id}", h.Get)
}

// --- Request / Response types ---

type createOrderRequest struct {
	CustomerName  string                   `json:"customer_name" validate:"max=255"`
	CustomerPhone string                   `json:"customer_phone" validate:"max=32"`
	CustomerEmail string                   `json:"customer_email" validate:"omitempty,email"`
	DeliveryType  string                   `json:"delivery_type" validate:"required,oneof=delivery pickup"`
	Address       *deliveryAddressRequest  `json:"delivery_address"`
	PaymentMethod string                   `json:"payment_method" validate:"omitempty,oneof=card cash"`
	PromoCode     string                   `json:"promo_code" validate:"max=64"`
	Comment       string                   `json:"comment" validate:"max=1000"`
	UTMSource     string                   `json:"utm_source" validate:"max=255"`
	UTMMedium     string                   `json:"utm_medium" validate:"max=255"`
	UTMCampaign   string                   `json:"utm_campaign" validate:"max=255"`
	Items         []createOrderItemRequest `json:"items" validate:"required,min=1,dive"`
}

type deliveryAddressRequest struct {
	Street    string `json:"street" validate:"max=500"`
	Entrance  string `json:"entrance" validate:"max=32"`
	Floor     string `json:"floor" validate:"max=32"`
	Apartment string `json:"apartment" validate:"max=32"`
	Comment   string `json:"comment" validate:"max=500"`
}

type createOrderItemRequest struct {
	DishID      int64   `json:"dish_id" validate:"required,gt=0"`
	Quantity    int32   `json:"quantity" validate:"required,gte=1,lte=99"`
	ModifierIDs []int64 `json:"modifier_ids" validate:"dive,gt=0"`
}

type orderResponse struct {
	ID                int64               `json:"id"`
	OrderNumber       string              `json:"order_number"`
	UserID            *int64              `json:"user_id"`
	CustomerName      string              `json:"customer_name"`
	CustomerPhone     string              `json:"customer_phone"`
	CustomerEmail     *string             `json:"customer_email"`
	DeliveryType      string              `json:"delivery_type"`
	DeliveryAddress   json.RawMessage     `json:"delivery_address"`
	Status            string              `json:"status"`
	PaymentMethod     string              `json:"payment_method"`
	PaymentStatus     string              `json:"payment_status"`
	Subtotal          string              `json:"subtotal"`
	DiscountAmount    string              `json:"discount_amount"`
	DeliveryFee       string              `json:"delivery_fee"`
	TotalAmount       string              `json:"total_amount"`
	PromoCode         *string             `json:"promo_code"`
	AssignedCourierID *int64              `json:"assigned_courier_id"`
	CustomerComment   *string             `json:"comment"`
	AdminComment      *string             `json:"admin_comment"`
	AllowedStatuses   []string            `json:"allowed_statuses,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
	ConfirmedAt       *time.Time          `json:"confirmed_at"`
	ReadyAt           *time.Time          `json:"ready_at"`
	CompletedAt       *time.Time          `json:"completed_at"`
	DeliveredAt       *time.Time          `json:"delivered_at"`
	CancelledAt       *time.Time          `json:"cancelled_at"`
	Items             []orderItemResponse `json:"items,omitempty"`
}

type orderItemResponse struct {
	ID        int64           `json:"id"`
	DishID    int64           `json:"dish_id"`
	DishName  string          `json:"dish_name"`
	DishPrice string          `json:"dish_price"`
	Quantity  int32           `json:"quantity"`
	UnitPrice string          `json:"unit_price"`
	LineTotal string          `json:"line_total"`
	Modifiers json.RawMessage `json:"modifiers"`
}

// --- Handlers ---

// Create handles POST /orders.
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	items := make([]pricing.Line, len(req.Items))
	for i, it := range req.Items {
		items[i] = pricing.Line{DishID: it.DishID, Quantity: it.Quantity, ModifierIDs: it.ModifierIDs}
	}

	svcReq := service.CreateOrderRequest{
		Customer:      customerIdentity(middleware.ClaimsFromContext(r.Context()), req.CustomerName, req.CustomerPhone, req.CustomerEmail),
		DeliveryType:  req.DeliveryType,
		PaymentMethod: req.PaymentMethod,
		PromoCode:     req.PromoCode,
		Comment:       req.Comment,
		UTM:           service.UTM{Source: req.UTMSource, Medium: req.UTMMedium, Campaign: req.UTMCampaign},
		Items:         items,
	}
	if req.Address != nil {
		svcReq.Address = &service.DeliveryAddress{
			Street:    req.Address.Street,
			Entrance:  req.Address.Entrance,
			Floor:     req.Address.Floor,
			Apartment: req.Address.Apartment,
			Comment:   req.Address.Comment,
		}
	}

	result, err := h.svc.CreateOrder(r.Context(), svcReq)
	if err != nil {
		writeServiceError(w, "create order", err)
		return
	}

	writeJSON(w, http.StatusCreated, toOrderResponse(result.Order, result.Items))
}

// Get handles GET /orders/{id}. Customers only see their own orders and
// couriers only the ones assigned to them.
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "not authenticated")
		return
	}

	orderID, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid order ID")
		return
	}

	result, err := h.svc.GetOrder(r.Context(), orderID)
	if err != nil {
		writeServiceError(w, "get order", err)
		return
	}
	if !canView(claims, result.Order) {
		writeError(w, http.StatusNotFound, "order_not_found", service.ErrOrderNotFound.Error())
		return
	}

	resp := toOrderResponse(result.Order, result.Items)
	resp.AllowedStatuses = lifecycle.AllowedTransitions(claims.Role, result.Order.Status, result.Order.DeliveryType)
	writeJSON(w, http.StatusOK, resp)
}

// --- Helpers ---

// customerIdentity is a Member when the request carries a token, a Guest otherwise.
func customerIdentity(claims *auth.Claims, name, phone, email string) identity.Identity {
	if claims != nil {
		return identity.Member{UserID: claims.UserID, Role: claims.Role, Name: name, Phone: phone, Email: email}
	}
	return identity.Guest{Name: name, Phone: phone, Email: email}
}

func canView(claims *auth.Claims, o database.Order) bool {
	switch claims.Role {
	case enum.UserRoleAdmin, enum.UserRoleKitchen:
		return true
	case enum.UserRoleCourier:
		return o.AssignedCourierID.Valid && o.AssignedCourierID.Int64 == claims.UserID
	}
	return o.UserID.Valid && o.UserID.Int64 == claims.UserID
}

func toOrderResponse(o database.Order, items []database.OrderItem) orderResponse {
	resp := orderResponse{
		ID:                o.ID,
		OrderNumber:       o.OrderNumber,
		UserID:            int8Ptr(o.UserID),
		CustomerName:      o.CustomerName,
		CustomerPhone:     o.CustomerPhone,
		CustomerEmail:     textPtr(o.CustomerEmail),
		DeliveryType:      o.DeliveryType,
		Status:            o.Status,
		PaymentMethod:     o.PaymentMethod,
		PaymentStatus:     o.PaymentStatus,
		Subtotal:          money(o.Subtotal),
		DiscountAmount:    money(o.DiscountAmount),
		DeliveryFee:       money(o.DeliveryFee),
		TotalAmount:       money(o.TotalAmount),
		PromoCode:         textPtr(o.PromoCode),
		AssignedCourierID: int8Ptr(o.AssignedCourierID),
		CustomerComment:   textPtr(o.CustomerComment),
		AdminComment:      textPtr(o.AdminComment),
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
		ConfirmedAt:       timePtr(o.ConfirmedAt),
		ReadyAt:           timePtr(o.ReadyAt),
		CompletedAt:       timePtr(o.CompletedAt),
		DeliveredAt:       timePtr(o.DeliveredAt),
		CancelledAt:       timePtr(o.CancelledAt),
	}
	if len(o.DeliveryAddress) > 0 {
		resp.DeliveryAddress = json.RawMessage(o.DeliveryAddress)
	}
	if items != nil {
		resp.Items = make([]orderItemResponse, len(items))
		for i, it := range items {
			resp.Items[i] = orderItemResponse{
				ID:        it.ID,
				DishID:    it.DishID,
				DishName:  it.DishName,
				DishPrice: money(it.DishPrice),
				Quantity:  it.Quantity,
				UnitPrice: money(it.UnitPrice),
				LineTotal: money(it.LineTotal),
				Modifiers: json.RawMessage(it.Modifiers),
			}
			if len(it.Modifiers) == 0 {
				resp.Items[i].Modifiers = json.RawMessage("[]")
			}
		}
	}
	return resp
}

func toOrderListResponse(orders []database.Order, role string) []orderResponse {
	resp := make([]orderResponse, len(orders))
	for i, o := range orders {
		resp[i] = toOrderResponse(o, nil)
		resp[i].AllowedStatuses = lifecycle.AllowedTransitions(role, o.Status, o.DeliveryType)
	}
	return resp
}

func money(n pgtype.Numeric) string {
	return database.NumericToDecimal(n).StringFixed(2)
}

func textPtr(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}

func int8Ptr(v pgtype.Int8) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}

func timePtr(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}
