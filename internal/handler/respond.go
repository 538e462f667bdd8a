package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/dastarkhan/food-api/internal/lifecycle"
	"github.com/dastarkhan/food-api/internal/pricing"
	"github.com/dastarkhan/food-api/internal/promo"
	"github.com/dastarkhan/food-api/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// errorKind is the HTTP status and stable code reported for a service error.
type errorKind struct {
	err    error
	status int
	code   string
}

// Checked in order; more specific errors first.
var errorKinds = []errorKind{
	{service.ErrEmptyItems, http.StatusBadRequest, "validation_error"},
	{service.ErrInvalidDeliveryType, http.StatusBadRequest, "validation_error"},
	{service.ErrInvalidPaymentMethod, http.StatusBadRequest, "validation_error"},
	{service.ErrGuestInfoRequired, http.StatusBadRequest, "guest_info_required"},
	{service.ErrDeliveryAddressRequired, http.StatusBadRequest, "delivery_address_required"},
	{pricing.ErrInvalidQuantity, http.StatusBadRequest, "validation_error"},
	{promo.ErrEmptyCode, http.StatusBadRequest, "validation_error"},
	{promo.ErrNegativeSubtotal, http.StatusBadRequest, "validation_error"},

	{service.ErrOrderNotFound, http.StatusNotFound, "order_not_found"},
	{service.ErrCourierNotFound, http.StatusNotFound, "courier_not_found"},
	{promo.ErrPromoNotFound, http.StatusNotFound, "promo_not_found"},

	{pricing.ErrDishNotFound, http.StatusUnprocessableEntity, "dish_not_found"},
	{pricing.ErrDishUnavailable, http.StatusUnprocessableEntity, "dish_unavailable"},
	{pricing.ErrModifierNotFound, http.StatusUnprocessableEntity, "modifier_not_found"},
	{promo.ErrPromoNotYetActive, http.StatusUnprocessableEntity, "promo_not_yet_active"},
	{promo.ErrPromoExpired, http.StatusUnprocessableEntity, "promo_expired"},
	{promo.ErrPromoExhausted, http.StatusConflict, "promo_exhausted"},
	{promo.ErrPromoMinimumNotMet, http.StatusUnprocessableEntity, "promo_minimum_not_met"},
	{promo.ErrPromoUserLimitReached, http.StatusConflict, "promo_user_limit_reached"},

	{lifecycle.ErrInvalidStatusForRole, http.StatusForbidden, "invalid_status_for_role"},
	{lifecycle.ErrNotYourOrder, http.StatusForbidden, "not_your_order"},
	{lifecycle.ErrAlreadyAssigned, http.StatusConflict, "already_assigned"},
	{lifecycle.ErrNotDeliveryType, http.StatusUnprocessableEntity, "not_delivery_type"},
	{lifecycle.ErrNotReady, http.StatusConflict, "not_ready"},
	{lifecycle.ErrCourierRequired, http.StatusUnprocessableEntity, "courier_required"},
	{lifecycle.ErrForbiddenTransition, http.StatusConflict, "forbidden_transition"},

	{service.ErrConflict, http.StatusConflict, "conflict"},
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("ERROR: failed to encode JSON response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"error": msg, "code": code})
}

// writeServiceError maps known errors to their kind. Anything else is logged
// and reported as an internal error.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			writeError(w, k.status, k.code, err.Error())
			return
		}
	}
	log.Printf("ERROR: %s: %v", op, err)
	writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
}

// decodeJSON decodes the body into dst and runs struct validation.
// It writes the 400 response itself and returns false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid request body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", formatValidationError(err))
		return false
	}
	return true
}

func formatValidationError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), strings.SplitN(fe.Namespace(), ".", 2)[0]+".")
		switch fe.Tag() {
		case "required", "required_if":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		case "min", "gte":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s", field, fe.Param()))
		case "max", "lte":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s", field, fe.Param()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", field, fe.Param()))
		case "email":
			msgs = append(msgs, fmt.Sprintf("%s must be a valid email", field))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", field))
		}
	}
	return strings.Join(msgs, "; ")
}

// pathID parses a positive int64 URL parameter.
func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
