package handler

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dastarkhan/food-api/internal/enum"
	"github.com/dastarkhan/food-api/internal/lifecycle"
	"github.com/dastarkhan/food-api/internal/middleware"
	"github.com/dastarkhan/food-api/internal/service"
	"github.com/go-chi/chi/v5"
)

// StaffHandler serves the admin, kitchen and courier dashboards.
type StaffHandler struct {
	svc OrderServicer
}

// NewStaffHandler creates a new StaffHandler.
func NewStaffHandler(svc OrderServicer) *StaffHandler {
	return &StaffHandler{svc: svc}
}

// RegisterAdminRoutes is mounted at /admin behind RequireRole(admin).
func (h *StaffHandler) RegisterAdminRoutes(r chi.Router) {
	r.Get("/orders", h.ListAll)
	r.Patch("/orders/{id}/status", h.UpdateStatus)
	r.Patch("/orders/{id}/assign", h.Assign)
	r.Get("/couriers", h.ListCouriers)
}

// RegisterKitchenRoutes is mounted at /kitchen behind RequireRole(kitchen).
func (h *StaffHandler) RegisterKitchenRoutes(r chi.Router) {
	r.Get("/orders", h.KitchenQueue)
	r.Patch("/orders/{id}/status", h.UpdateStatus)
}

// RegisterCourierRoutes is mounted at /courier behind RequireRole(courier).
func (h *StaffHandler) RegisterCourierRoutes(r chi.Router) {
	r.Get("/orders", h.MyDeliveries)
	r.Get("/orders/available", h.Available)
	r.Post("/orders/{id}/take", h.Take)
	r.Patch("/orders/{id}/status", h.UpdateStatus)
}

// --- Request / Response types ---

type updateStatusRequest struct {
	Status       string `json:"status" validate:"required"`
	AdminComment string `json:"admin_comment" validate:"max=1000"`
}

type assignCourierRequest struct {
	CourierID int64 `json:"courier_id" validate:"required,gt=0"`
}

type orderListResponse struct {
	Orders []orderResponse `json:"orders"`
	Limit  int32           `json:"limit"`
	Offset int32           `json:"offset"`
}

type courierResponse struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Phone     *string   `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}

var kitchenStatuses = []string{
	enum.OrderStatusConfirmed,
	enum.OrderStatusPreparing,
	enum.OrderStatusReady,
}

// --- Handlers ---

// ListAll handles GET /admin/orders?status=a,b&delivery_type=&limit=&offset=.
func (h *StaffHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	f, ok := parseListFilter(w, r)
	if !ok {
		return
	}
	h.list(w, r, f)
}

// KitchenQueue handles GET /kitchen/orders. Ready delivery orders are left
// out once a courier has them.
func (h *StaffHandler) KitchenQueue(w http.ResponseWriter, r *http.Request) {
	f, ok := parseListFilter(w, r)
	if !ok {
		return
	}
	if len(f.Statuses) == 0 {
		f.Statuses = kitchenStatuses
	}
	for _, s := range f.Statuses {
		if !slices.Contains(kitchenStatuses, s) {
			writeError(w, http.StatusBadRequest, "validation_error", "status must be one of: "+strings.Join(kitchenStatuses, ","))
			return
		}
	}
	h.list(w, r, f)
}

// MyDeliveries handles GET /courier/orders: orders assigned to the caller.
func (h *StaffHandler) MyDeliveries(w http.ResponseWriter, r *http.Request) {
	f, ok := parseListFilter(w, r)
	if !ok {
		return
	}
	id := middleware.ClaimsFromContext(r.Context()).UserID
	f.CourierID = &id
	h.list(w, r, f)
}

// Available handles GET /courier/orders/available: ready delivery orders no
// courier has taken yet.
func (h *StaffHandler) Available(w http.ResponseWriter, r *http.Request) {
	f, ok := parseListFilter(w, r)
	if !ok {
		return
	}
	f.Statuses = []string{enum.OrderStatusReady}
	f.DeliveryType = enum.DeliveryTypeDelivery
	f.Unassigned = true
	h.list(w, r, f)
}

func (h *StaffHandler) list(w http.ResponseWriter, r *http.Request, f service.ListOrdersFilter) {
	orders, err := h.svc.ListOrders(r.Context(), f)
	if err != nil {
		writeServiceError(w, "list orders", err)
		return
	}
	role := middleware.ClaimsFromContext(r.Context()).Role
	writeJSON(w, http.StatusOK, orderListResponse{
		Orders: toOrderListResponse(orders, role),
		Limit:  f.Limit,
		Offset: f.Offset,
	})
}

// UpdateStatus handles PATCH /{admin,kitchen,courier}/orders/{id}/status.
// Which targets are allowed is decided by the caller's role.
func (h *StaffHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid order ID")
		return
	}

	var req updateStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	claims := middleware.ClaimsFromContext(r.Context())
	result, err := h.svc.TransitionOrder(r.Context(), service.TransitionRequest{
		OrderID:      orderID,
		Target:       req.Status,
		Actor:        lifecycle.Actor{Role: claims.Role, UserID: claims.UserID},
		AdminComment: req.AdminComment,
	})
	if err != nil {
		writeServiceError(w, "update order status", err)
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(result.Order, result.Items))
}

// Assign handles PATCH /admin/orders/{id}/assign.
func (h *StaffHandler) Assign(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid order ID")
		return
	}

	var req assignCourierRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	claims := middleware.ClaimsFromContext(r.Context())
	result, err := h.svc.AssignCourier(r.Context(), orderID, req.CourierID, lifecycle.Actor{Role: claims.Role, UserID: claims.UserID})
	if err != nil {
		writeServiceError(w, "assign courier", err)
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(result.Order, result.Items))
}

// Take handles POST /courier/orders/{id}/take.
func (h *StaffHandler) Take(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid order ID")
		return
	}

	claims := middleware.ClaimsFromContext(r.Context())
	result, err := h.svc.TakeOrder(r.Context(), orderID, claims.UserID)
	if err != nil {
		writeServiceError(w, "take order", err)
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(result.Order, result.Items))
}

// ListCouriers handles GET /admin/couriers.
func (h *StaffHandler) ListCouriers(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.ListCouriers(r.Context())
	if err != nil {
		writeServiceError(w, "list couriers", err)
		return
	}

	resp := make([]courierResponse, len(users))
	for i, u := range users {
		resp[i] = courierResponse{ID: u.ID, Name: u.Name, Phone: textPtr(u.Phone), CreatedAt: u.CreatedAt}
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Helpers ---

// parseListFilter reads status, delivery_type, limit and offset. Out of range
// paging values fall back to the defaults, unknown statuses are rejected.
func parseListFilter(w http.ResponseWriter, r *http.Request) (service.ListOrdersFilter, bool) {
	q := r.URL.Query()
	var f service.ListOrdersFilter

	if s := q.Get("status"); s != "" {
		for _, st := range strings.Split(s, ",") {
			st = strings.TrimSpace(st)
			if !slices.Contains(lifecycle.Statuses(), st) {
				writeError(w, http.StatusBadRequest, "validation_error", "unknown status "+strconv.Quote(st))
				return f, false
			}
			f.Statuses = append(f.Statuses, st)
		}
	}

	if s := q.Get("delivery_type"); s != "" {
		if s != enum.DeliveryTypeDelivery && s != enum.DeliveryTypePickup {
			writeError(w, http.StatusBadRequest, "validation_error", "delivery_type must be delivery or pickup")
			return f, false
		}
		f.DeliveryType = s
	}

	f.Limit = 50
	if s := q.Get("limit"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			f.Limit = int32(min(v, 200))
		}
	}
	if s := q.Get("offset"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v >= 0 {
			f.Offset = int32(v)
		}
	}
	return f, true
}
