package lifecycle

import (
	"errors"
	"slices"
	"testing"

	"github.com/dastarkhan/food-api/internal/enum"
)

var (
	admin   = Actor{Role: enum.UserRoleAdmin, UserID: 1}
	kitchen = Actor{Role: enum.UserRoleKitchen, UserID: 2}
	courier = Actor{Role: enum.UserRoleCourier, UserID: 3}
)

func courierID(id int64) *int64 { return &id }

func snap(status, deliveryType string) Snapshot {
	return Snapshot{Status: status, DeliveryType: deliveryType}
}

// =====================
// Transition table
// =====================

func TestTransition_Allowed(t *testing.T) {
	tests := []struct {
		name      string
		order     Snapshot
		target    string
		actor     Actor
		wantStamp Stamp
	}{
		{"admin confirms", snap("pending", "delivery"), "confirmed", admin, StampConfirmed},
		{"kitchen starts preparing", snap("confirmed", "delivery"), "preparing", kitchen, StampNone},
		{"kitchen marks ready", snap("preparing", "pickup"), "ready", kitchen, StampReady},
		{"kitchen reverts to confirmed", snap("preparing", "delivery"), "confirmed", kitchen, StampNone},
		{"kitchen completes pickup", snap("ready", "pickup"), "completed", kitchen, StampCompleted},
		{
			"assigned courier delivers",
			Snapshot{Status: "delivering", DeliveryType: "delivery", AssignedCourierID: courierID(3)},
			"delivered", courier, StampDelivered,
		},
		{"admin cancels pending", snap("pending", "pickup"), "cancelled", admin, StampCancelled},
		{"admin cancels preparing", snap("preparing", "delivery"), "cancelled", admin, StampCancelled},
		{
			"admin cancels delivering",
			Snapshot{Status: "delivering", DeliveryType: "delivery", AssignedCourierID: courierID(3)},
			"cancelled", admin, StampCancelled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			change, err := Transition(tt.order, tt.target, tt.actor)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if change.From != tt.order.Status || change.To != tt.target {
				t.Errorf("change: got %s -> %s", change.From, change.To)
			}
			if change.Stamp != tt.wantStamp {
				t.Errorf("stamp: got %d, want %d", change.Stamp, tt.wantStamp)
			}
			if change.CourierID != nil {
				t.Error("plain transitions must not assign a courier")
			}
		})
	}
}

func TestTransition_Rejected(t *testing.T) {
	tests := []struct {
		name    string
		order   Snapshot
		target  string
		actor   Actor
		wantErr error
	}{
		{"kitchen cannot jump ready to delivered", snap("ready", "delivery"), "delivered", kitchen, ErrInvalidStatusForRole},
		{"kitchen cannot confirm pending", snap("pending", "delivery"), "confirmed", kitchen, ErrForbiddenTransition},
		{"kitchen cannot cancel", snap("confirmed", "delivery"), "cancelled", kitchen, ErrInvalidStatusForRole},
		{"admin cannot set preparing", snap("confirmed", "delivery"), "preparing", admin, ErrInvalidStatusForRole},
		{"customer cannot change status", snap("pending", "pickup"), "cancelled", Actor{Role: "customer", UserID: 9}, ErrInvalidStatusForRole},
		{"unknown target status", snap("pending", "pickup"), "eaten", admin, ErrInvalidStatusForRole},
		{"preparing requires confirmed", snap("pending", "pickup"), "preparing", kitchen, ErrForbiddenTransition},
		{"ready requires preparing", snap("confirmed", "pickup"), "ready", kitchen, ErrForbiddenTransition},
		{"delivery orders are not completed by kitchen", snap("ready", "delivery"), "completed", kitchen, ErrForbiddenTransition},
		{"admin re-confirm", snap("confirmed", "pickup"), "confirmed", admin, ErrForbiddenTransition},
		{
			"courier delivers someone else's order",
			Snapshot{Status: "delivering", DeliveryType: "delivery", AssignedCourierID: courierID(99)},
			"delivered", courier, ErrNotYourOrder,
		},
		{"courier delivers unassigned order", snap("ready", "delivery"), "delivered", courier, ErrNotYourOrder},
		{
			"courier cannot skip delivering",
			Snapshot{Status: "ready", DeliveryType: "delivery", AssignedCourierID: courierID(3)},
			"delivered", courier, ErrForbiddenTransition,
		},
		{"delivering via status endpoint needs courier", snap("ready", "delivery"), "delivering", admin, ErrCourierRequired},
		{"cancel delivered", snap("delivered", "delivery"), "cancelled", admin, ErrTerminalStatus},
		{"cancel completed", snap("completed", "pickup"), "cancelled", admin, ErrTerminalStatus},
		{"cancel cancelled", snap("cancelled", "pickup"), "cancelled", admin, ErrTerminalStatus},
		{"confirm cancelled", snap("cancelled", "pickup"), "confirmed", admin, ErrTerminalStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Transition(tt.order, tt.target, tt.actor)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestTerminalStatusIsForbiddenTransition(t *testing.T) {
	_, err := Transition(snap("delivered", "delivery"), "cancelled", admin)
	if !errors.Is(err, ErrForbiddenTransition) {
		t.Errorf("terminal errors should match ErrForbiddenTransition, got %v", err)
	}
}

// =====================
// Take / Assign
// =====================

func TestTake(t *testing.T) {
	change, err := Take(snap("ready", "delivery"), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if change.To != enum.OrderStatusDelivering || change.CourierID == nil || *change.CourierID != 3 {
		t.Errorf("unexpected change: %+v", change)
	}
}

func TestTake_Guards(t *testing.T) {
	tests := []struct {
		name    string
		order   Snapshot
		wantErr error
	}{
		{"already assigned", Snapshot{Status: "ready", DeliveryType: "delivery", AssignedCourierID: courierID(5)}, ErrAlreadyAssigned},
		{"assigned beats pickup", Snapshot{Status: "ready", DeliveryType: "pickup", AssignedCourierID: courierID(5)}, ErrAlreadyAssigned},
		{"pickup order", snap("ready", "pickup"), ErrNotDeliveryType},
		{"pickup beats not ready", snap("preparing", "pickup"), ErrNotDeliveryType},
		{"not ready", snap("preparing", "delivery"), ErrNotReady},
		{"cancelled order", snap("cancelled", "delivery"), ErrNotReady},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Take(tt.order, 3)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestAssign(t *testing.T) {
	change, err := Assign(snap("ready", "delivery"), 7, admin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if change.To != enum.OrderStatusDelivering || *change.CourierID != 7 {
		t.Errorf("unexpected change: %+v", change)
	}
}

func TestAssign_Rejected(t *testing.T) {
	tests := []struct {
		name      string
		order     Snapshot
		courierID int64
		actor     Actor
		wantErr   error
	}{
		{"kitchen cannot assign", snap("ready", "delivery"), 7, kitchen, ErrInvalidStatusForRole},
		{"courier cannot assign", snap("ready", "delivery"), 7, courier, ErrInvalidStatusForRole},
		{"missing courier", snap("ready", "delivery"), 0, admin, ErrCourierRequired},
		{"terminal order", snap("delivered", "delivery"), 7, admin, ErrTerminalStatus},
		{"already assigned", Snapshot{Status: "ready", DeliveryType: "delivery", AssignedCourierID: courierID(5)}, 7, admin, ErrAlreadyAssigned},
		{"pickup order", snap("ready", "pickup"), 7, admin, ErrNotDeliveryType},
		{"not ready", snap("confirmed", "delivery"), 7, admin, ErrNotReady},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Assign(tt.order, tt.courierID, tt.actor)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

// =====================
// AllowedTransitions
// =====================

func TestAllowedTransitions(t *testing.T) {
	tests := []struct {
		role, from, deliveryType string
		want                     []string
	}{
		{"admin", "pending", "delivery", []string{"confirmed", "cancelled"}},
		{"admin", "ready", "delivery", []string{"delivering", "cancelled"}},
		{"admin", "ready", "pickup", []string{"cancelled"}},
		{"kitchen", "preparing", "pickup", []string{"ready", "confirmed"}},
		{"kitchen", "ready", "pickup", []string{"completed"}},
		{"kitchen", "ready", "delivery", nil},
		{"kitchen", "ready", "", []string{"completed"}},
		{"courier", "ready", "delivery", []string{"delivering"}},
		{"courier", "delivering", "delivery", []string{"delivered"}},
		{"admin", "delivered", "delivery", nil},
		{"customer", "pending", "pickup", nil},
	}
	for _, tt := range tests {
		got := AllowedTransitions(tt.role, tt.from, tt.deliveryType)
		if !slices.Equal(got, tt.want) {
			t.Errorf("AllowedTransitions(%s, %s, %s) = %v, want %v", tt.role, tt.from, tt.deliveryType, got, tt.want)
		}
	}
}

func TestTerminalStatusesHaveNoExits(t *testing.T) {
	for _, status := range Statuses() {
		if !IsTerminal(status) {
			continue
		}
		for _, role := range []string{"admin", "kitchen", "courier"} {
			if got := AllowedTransitions(role, status, ""); len(got) != 0 {
				t.Errorf("%s from terminal %s: got %v, want none", role, status, got)
			}
		}
	}
}

// =====================
// Reachability properties
// =====================

// predecessors lists every status with a rule into target, over all roles.
func predecessors(target string) []string {
	var out []string
	for _, r := range rules {
		if r.to == target && !slices.Contains(out, r.from) {
			out = append(out, r.from)
		}
	}
	return out
}

func TestDeliveredOnlyFromDelivering(t *testing.T) {
	if got := predecessors("delivered"); !slices.Equal(got, []string{"delivering"}) {
		t.Errorf("predecessors of delivered: got %v", got)
	}
}

func TestPreparingOnlyFromConfirmed(t *testing.T) {
	if got := predecessors("preparing"); !slices.Equal(got, []string{"confirmed"}) {
		t.Errorf("predecessors of preparing: got %v", got)
	}
}

func TestCancelledOnlyFromNonTerminal(t *testing.T) {
	got := predecessors("cancelled")
	for _, from := range got {
		if IsTerminal(from) {
			t.Errorf("cancelled reachable from terminal %s", from)
		}
	}
	for _, status := range Statuses() {
		if !IsTerminal(status) && !slices.Contains(got, status) {
			t.Errorf("cancelled not reachable from %s", status)
		}
	}
}

// Walks the whole graph from pending and checks every path into delivered
// passes through delivering.
func TestEveryDeliveredPathPassesDelivering(t *testing.T) {
	type state struct {
		status         string
		seenDelivering bool
	}
	start := state{status: "pending"}
	queue := []state{start}
	visited := map[state]bool{start: true}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.status == "delivered" && !cur.seenDelivering {
			t.Fatal("reached delivered without delivering")
		}
		for _, r := range rules {
			if r.from != cur.status {
				continue
			}
			next := state{status: r.to, seenDelivering: cur.seenDelivering || r.to == "delivering"}
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	if !visited[state{status: "delivered", seenDelivering: true}] {
		t.Error("delivered should be reachable")
	}
}

func TestFullDeliveryPath(t *testing.T) {
	order := snap("pending", "delivery")
	steps := []struct {
		target string
		actor  Actor
	}{
		{"confirmed", admin},
		{"preparing", kitchen},
		{"ready", kitchen},
	}
	for _, s := range steps {
		change, err := Transition(order, s.target, s.actor)
		if err != nil {
			t.Fatalf("%s -> %s: %v", order.Status, s.target, err)
		}
		order.Status = change.To
	}

	change, err := Take(order, courier.UserID)
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	order.Status = change.To
	order.AssignedCourierID = change.CourierID

	change, err = Transition(order, "delivered", courier)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if change.To != "delivered" {
		t.Errorf("final status: got %s", change.To)
	}
}
