// Package lifecycle is the order status state machine. Every status change,
// whichever endpoint requests it, is decided by Transition, Take or Assign.
package lifecycle

import (
	"errors"
	"fmt"
	"slices"

	"github.com/dastarkhan/food-api/internal/enum"
)

var (
	ErrForbiddenTransition  = errors.New("status transition not allowed")
	ErrInvalidStatusForRole = errors.New("target status not allowed for this role")
	ErrAlreadyAssigned      = errors.New("order already has a courier")
	ErrNotDeliveryType      = errors.New("order is not a delivery order")
	ErrNotReady             = errors.New("order is not ready")
	ErrNotYourOrder         = errors.New("order is assigned to another courier")
	ErrCourierRequired      = errors.New("a courier must be assigned to start delivery")

	// ErrTerminalStatus is a ErrForbiddenTransition from delivered, completed or cancelled.
	ErrTerminalStatus = fmt.Errorf("order is closed: %w", ErrForbiddenTransition)
)

// Stamp names the timestamp column a transition sets.
type Stamp int

const (
	StampNone Stamp = iota
	StampConfirmed
	StampReady
	StampCompleted
	StampDelivered
	StampCancelled
)

// Snapshot is the part of an order the state machine looks at.
type Snapshot struct {
	Status            string
	DeliveryType      string
	AssignedCourierID *int64
}

// Actor is who requests the change.
type Actor struct {
	Role   string
	UserID int64
}

// Change is an approved transition for the caller to persist.
type Change struct {
	From      string
	To        string
	Stamp     Stamp
	CourierID *int64
}

type rule struct {
	from, to     string
	roles        []string
	deliveryType string
	stamp        Stamp
}

var rules = append([]rule{
	{from: enum.OrderStatusPending, to: enum.OrderStatusConfirmed, roles: []string{enum.UserRoleAdmin}, stamp: StampConfirmed},
	{from: enum.OrderStatusConfirmed, to: enum.OrderStatusPreparing, roles: []string{enum.UserRoleKitchen}},
	{from: enum.OrderStatusPreparing, to: enum.OrderStatusReady, roles: []string{enum.UserRoleKitchen}, stamp: StampReady},
	{from: enum.OrderStatusPreparing, to: enum.OrderStatusConfirmed, roles: []string{enum.UserRoleKitchen}},
	{from: enum.OrderStatusReady, to: enum.OrderStatusDelivering, roles: []string{enum.UserRoleCourier, enum.UserRoleAdmin}, deliveryType: enum.DeliveryTypeDelivery},
	{from: enum.OrderStatusReady, to: enum.OrderStatusCompleted, roles: []string{enum.UserRoleKitchen}, deliveryType: enum.DeliveryTypePickup, stamp: StampCompleted},
	{from: enum.OrderStatusDelivering, to: enum.OrderStatusDelivered, roles: []string{enum.UserRoleCourier}, stamp: StampDelivered},
}, cancelRules()...)

var nonTerminal = []string{
	enum.OrderStatusPending,
	enum.OrderStatusConfirmed,
	enum.OrderStatusPreparing,
	enum.OrderStatusReady,
	enum.OrderStatusDelivering,
}

// cancelRules lets admins cancel from any non-terminal status.
func cancelRules() []rule {
	out := make([]rule, 0, len(nonTerminal))
	for _, from := range nonTerminal {
		out = append(out, rule{
			from:  from,
			to:    enum.OrderStatusCancelled,
			roles: []string{enum.UserRoleAdmin},
			stamp: StampCancelled,
		})
	}
	return out
}

// Statuses lists every order status.
func Statuses() []string {
	return []string{
		enum.OrderStatusPending,
		enum.OrderStatusConfirmed,
		enum.OrderStatusPreparing,
		enum.OrderStatusReady,
		enum.OrderStatusDelivering,
		enum.OrderStatusCompleted,
		enum.OrderStatusDelivered,
		enum.OrderStatusCancelled,
	}
}

// IsTerminal reports whether no transition leaves status.
func IsTerminal(status string) bool {
	switch status {
	case enum.OrderStatusDelivered, enum.OrderStatusCompleted, enum.OrderStatusCancelled:
		return true
	}
	return false
}

// AllowedTransitions returns the statuses role may move an order to from
// status from. An empty deliveryType matches either kind of order.
func AllowedTransitions(role, from, deliveryType string) []string {
	var out []string
	for _, r := range rules {
		if r.from != from || !slices.Contains(r.roles, role) {
			continue
		}
		if deliveryType != "" && r.deliveryType != "" && r.deliveryType != deliveryType {
			continue
		}
		out = append(out, r.to)
	}
	return out
}

// RoleTargets is every status role can ever move an order to.
func RoleTargets(role string) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range rules {
		if slices.Contains(r.roles, role) && !seen[r.to] {
			seen[r.to] = true
			out = append(out, r.to)
		}
	}
	return out
}

// Transition decides a plain status change. Moving to delivering needs a
// courier and goes through Take or Assign instead.
func Transition(order Snapshot, target string, actor Actor) (Change, error) {
	if !slices.Contains(RoleTargets(actor.Role), target) {
		return Change{}, fmt.Errorf("%w: %s cannot set %q", ErrInvalidStatusForRole, actor.Role, target)
	}
	if actor.Role == enum.UserRoleCourier && !assignedTo(order, actor.UserID) {
		return Change{}, ErrNotYourOrder
	}
	if IsTerminal(order.Status) {
		return Change{}, ErrTerminalStatus
	}

	r, ok := findRule(order, target, actor.Role)
	if !ok {
		return Change{}, fmt.Errorf("%w: %s -> %s", ErrForbiddenTransition, order.Status, target)
	}
	if target == enum.OrderStatusDelivering {
		return Change{}, ErrCourierRequired
	}
	return Change{From: order.Status, To: target, Stamp: r.stamp}, nil
}

// Take is a courier claiming a ready delivery order for themselves.
func Take(order Snapshot, courierID int64) (Change, error) {
	if courierID <= 0 {
		return Change{}, ErrCourierRequired
	}
	if err := checkDispatchable(order); err != nil {
		return Change{}, err
	}
	id := courierID
	return Change{From: order.Status, To: enum.OrderStatusDelivering, CourierID: &id}, nil
}

// Assign is an admin handing a ready delivery order to a courier.
func Assign(order Snapshot, courierID int64, actor Actor) (Change, error) {
	if actor.Role != enum.UserRoleAdmin {
		return Change{}, fmt.Errorf("%w: %s cannot assign couriers", ErrInvalidStatusForRole, actor.Role)
	}
	if courierID <= 0 {
		return Change{}, ErrCourierRequired
	}
	if IsTerminal(order.Status) {
		return Change{}, ErrTerminalStatus
	}
	if err := checkDispatchable(order); err != nil {
		return Change{}, err
	}
	id := courierID
	return Change{From: order.Status, To: enum.OrderStatusDelivering, CourierID: &id}, nil
}

// checkDispatchable runs the take guards in order: courier, delivery type, status.
func checkDispatchable(order Snapshot) error {
	if order.AssignedCourierID != nil {
		return ErrAlreadyAssigned
	}
	if order.DeliveryType != enum.DeliveryTypeDelivery {
		return ErrNotDeliveryType
	}
	if order.Status != enum.OrderStatusReady {
		return ErrNotReady
	}
	return nil
}

func findRule(order Snapshot, target, role string) (rule, bool) {
	for _, r := range rules {
		if r.from != order.Status || r.to != target || !slices.Contains(r.roles, role) {
			continue
		}
		if r.deliveryType != "" && r.deliveryType != order.DeliveryType {
			continue
		}
		return r, true
	}
	return rule{}, false
}

func assignedTo(order Snapshot, courierID int64) bool {
	return order.AssignedCourierID != nil && *order.AssignedCourierID == courierID
}
