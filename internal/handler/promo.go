package handler

import (
	"context"
	"net/http"

	"github.com/dastarkhan/food-api/internal/identity"
	"github.com/dastarkhan/food-api/internal/middleware"
	"github.com/dastarkhan/food-api/internal/promo"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// PromoServicer defines the promo methods needed by promo handlers.
// Satisfied by *promo.Engine.
type PromoServicer interface {
	Validate(ctx context.Context, code string, subtotal decimal.Decimal, who identity.Identity) (promo.Quote, error)
	ApplyStandalone(ctx context.Context, code string, subtotal decimal.Decimal, who identity.Identity) (promo.Quote, error)
}

// PromoHandler handles promo code lookups.
type PromoHandler struct {
	svc PromoServicer
}

// NewPromoHandler creates a new PromoHandler.
func NewPromoHandler(svc PromoServicer) *PromoHandler {
	return &PromoHandler{svc: svc}
}

// RegisterRoutes registers promo endpoints. Both accept guests.
func (h *PromoHandler) RegisterRoutes(r chi.Router, jwtSecret string) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.OptionalAuthenticate(jwtSecret))
		r.Get("/promo-codes/{code}", h.Validate)
		r.Post("/promo-codes/{code}/apply", h.Apply)
	})
}

// --- Request / Response types ---

type applyPromoRequest struct {
	OrderTotal    string `json:"order_total" validate:"required"`
	CustomerName  string `json:"customer_name" validate:"max=255"`
	CustomerPhone string `json:"customer_phone" validate:"max=32"`
	CustomerEmail string `json:"customer_email" validate:"omitempty,email"`
}

type promoQuoteResponse struct {
	Code              string  `json:"code"`
	Name              string  `json:"name"`
	Description       string  `json:"description,omitempty"`
	DiscountType      string  `json:"discount_type"`
	DiscountValue     string  `json:"discount_value"`
	MinOrderAmount    *string `json:"min_order_amount"`
	MaxDiscountAmount *string `json:"max_discount_amount"`
	OrderTotal        string  `json:"order_total"`
	DiscountAmount    string  `json:"discount_amount"`
	DiscountPercent   string  `json:"discount_percent"`
	FinalAmount       string  `json:"final_amount"`
}

// --- Handlers ---

// Validate handles GET /promo-codes/{code}?order_total=. Nothing is consumed.
func (h *PromoHandler) Validate(w http.ResponseWriter, r *http.Request) {
	subtotal, ok := parseAmount(w, r.URL.Query().Get("order_total"))
	if !ok {
		return
	}

	who := customerIdentity(middleware.ClaimsFromContext(r.Context()), "", "", "")
	quote, err := h.svc.Validate(r.Context(), chi.URLParam(r, "code"), subtotal, who)
	if err != nil {
		writeServiceError(w, "validate promo", err)
		return
	}

	writeJSON(w, http.StatusOK, toPromoQuoteResponse(quote, subtotal))
}

// Apply handles POST /promo-codes/{code}/apply: one use is consumed without
// an order attached.
func (h *PromoHandler) Apply(w http.ResponseWriter, r *http.Request) {
	var req applyPromoRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	subtotal, ok := parseAmount(w, req.OrderTotal)
	if !ok {
		return
	}

	who := customerIdentity(middleware.ClaimsFromContext(r.Context()), req.CustomerName, req.CustomerPhone, req.CustomerEmail)
	quote, err := h.svc.ApplyStandalone(r.Context(), chi.URLParam(r, "code"), subtotal, who)
	if err != nil {
		writeServiceError(w, "apply promo", err)
		return
	}

	writeJSON(w, http.StatusOK, toPromoQuoteResponse(quote, subtotal))
}

// --- Helpers ---

func parseAmount(w http.ResponseWriter, s string) (decimal.Decimal, bool) {
	if s == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "order_total is required")
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() {
		writeError(w, http.StatusBadRequest, "validation_error", "order_total must be a non-negative amount")
		return decimal.Zero, false
	}
	return d, true
}

func toPromoQuoteResponse(q promo.Quote, subtotal decimal.Decimal) promoQuoteResponse {
	resp := promoQuoteResponse{
		Code:            q.Code,
		Name:            q.Name,
		Description:     q.Description,
		DiscountType:    q.DiscountType,
		DiscountValue:   q.DiscountValue.StringFixed(2),
		OrderTotal:      subtotal.StringFixed(2),
		DiscountAmount:  q.Discount.StringFixed(2),
		DiscountPercent: q.DiscountPercent(subtotal).StringFixed(2),
		FinalAmount:     subtotal.Sub(q.Discount).StringFixed(2),
	}
	if q.MinOrderAmount != nil {
		s := q.MinOrderAmount.StringFixed(2)
		resp.MinOrderAmount = &s
	}
	if q.MaxDiscountAmount != nil {
		s := q.MaxDiscountAmount.StringFixed(2)
		resp.MaxDiscountAmount = &s
	}
	return resp
}
