package events

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"testing"

	"github.com/dastarkhan/food-api/internal/database"
	"github.com/dastarkhan/food-api/internal/ws"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/streadway/amqp"
)

// --- Mocks ---

type mockBroadcaster struct {
	rooms  []string
	events []ws.Event
}

func (m *mockBroadcaster) Broadcast(room string, event ws.Event) {
	m.rooms = append(m.rooms, room)
	m.events = append(m.events, event)
}

type mockChannel struct {
	exchange string
	key      string
	msg      amqp.Publishing
	err      error
}

func (m *mockChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	m.exchange = exchange
	m.key = key
	m.msg = msg
	return m.err
}

type mockPublisher struct {
	got []OrderEvent
	err error
}

func (m *mockPublisher) Publish(ctx context.Context, e OrderEvent) error {
	m.got = append(m.got, e)
	return m.err
}

func int64p(v int64) *int64 { return &v }

// --- Tests ---

func TestNewOrderEvent(t *testing.T) {
	order := database.Order{
		ID:                12,
		OrderNumber:       "ORD-2026-000123",
		Status:            "delivering",
		DeliveryType:      "delivery",
		UserID:            pgtype.Int8{Int64: 4, Valid: true},
		AssignedCourierID: pgtype.Int8{Int64: 9, Valid: true},
		TotalAmount:       database.DecimalToNumeric(decimal.NewFromInt(2500)),
	}

	e := NewOrderEvent("order.status_changed", order, "ready")

	if e.ID == "" {
		t.Error("expected event id")
	}
	if e.OrderID != 12 || e.OrderNumber != "ORD-2026-000123" {
		t.Errorf("order identity: got %d %s", e.OrderID, e.OrderNumber)
	}
	if e.Status != "delivering" || e.PreviousStatus != "ready" {
		t.Errorf("status: got %s <- %s", e.Status, e.PreviousStatus)
	}
	if e.TotalAmount != "2500.00" {
		t.Errorf("total: got %s", e.TotalAmount)
	}
	if e.UserID == nil || *e.UserID != 4 || e.AssignedCourierID == nil || *e.AssignedCourierID != 9 {
		t.Errorf("ids: user %v courier %v", e.UserID, e.AssignedCourierID)
	}
}

func TestRooms(t *testing.T) {
	tests := []struct {
		name  string
		event OrderEvent
		want  []string
	}{
		{
			name:  "new guest order",
			event: OrderEvent{Status: "pending", DeliveryType: "pickup"},
			want:  []string{"admin"},
		},
		{
			name:  "confirmed member order reaches kitchen",
			event: OrderEvent{Status: "confirmed", PreviousStatus: "pending", DeliveryType: "pickup", UserID: int64p(4)},
			want:  []string{"admin", "kitchen", "user:4"},
		},
		{
			name:  "delivery order ready for couriers",
			event: OrderEvent{Status: "ready", PreviousStatus: "preparing", DeliveryType: "delivery"},
			want:  []string{"admin", "kitchen", "couriers"},
		},
		{
			name:  "taken order leaves the pool",
			event: OrderEvent{Status: "delivering", PreviousStatus: "ready", DeliveryType: "delivery", AssignedCourierID: int64p(9)},
			want:  []string{"admin", "kitchen", "couriers", "courier:9"},
		},
		{
			name:  "delivered",
			event: OrderEvent{Status: "delivered", PreviousStatus: "delivering", DeliveryType: "delivery", AssignedCourierID: int64p(9)},
			want:  []string{"admin", "courier:9"},
		},
		{
			name:  "pickup ready does not reach couriers",
			event: OrderEvent{Status: "ready", PreviousStatus: "preparing", DeliveryType: "pickup"},
			want:  []string{"admin", "kitchen"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Rooms(tt.event); !slices.Equal(got, tt.want) {
				t.Errorf("Rooms() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHubPublisher(t *testing.T) {
	b := &mockBroadcaster{}
	p := NewHubPublisher(b)

	e := OrderEvent{ID: "e1", Type: "order.status_changed", OrderID: 3, Status: "ready", PreviousStatus: "preparing", DeliveryType: "delivery"}
	if err := p.Publish(context.Background(), e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(b.rooms, []string{"admin", "kitchen", "couriers"}) {
		t.Errorf("rooms: got %v", b.rooms)
	}
	var decoded OrderEvent
	if err := json.Unmarshal(b.events[0].Payload, &decoded); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if decoded.OrderID != 3 || b.events[0].Type != "order.status_changed" {
		t.Errorf("unexpected message: %+v", b.events[0])
	}
}

func TestAMQPPublisher(t *testing.T) {
	ch := &mockChannel{}
	p := NewAMQPPublisher(ch, "orders.exchange")

	e := OrderEvent{ID: "evt-1", Type: "order.created", OrderID: 5, Status: "pending"}
	if err := p.Publish(context.Background(), e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ch.exchange != "orders.exchange" || ch.key != "order.created" {
		t.Errorf("routing: got %s/%s", ch.exchange, ch.key)
	}
	if ch.msg.ContentType != "application/json" || ch.msg.MessageId != "evt-1" {
		t.Errorf("headers: %+v", ch.msg)
	}

	var env struct {
		Pattern string     `json:"pattern"`
		ID      string     `json:"id"`
		Data    OrderEvent `json:"data"`
	}
	if err := json.Unmarshal(ch.msg.Body, &env); err != nil {
		t.Fatalf("body: %v", err)
	}
	if env.Pattern != "order.created" || env.ID != "evt-1" || env.Data.OrderID != 5 {
		t.Errorf("envelope: %+v", env)
	}
}

func TestAMQPPublisher_Error(t *testing.T) {
	ch := &mockChannel{err: amqp.ErrClosed}
	p := NewAMQPPublisher(ch, "orders.exchange")

	err := p.Publish(context.Background(), OrderEvent{Type: "order.created"})
	if !errors.Is(err, amqp.ErrClosed) {
		t.Fatalf("expected wrapped amqp.ErrClosed, got %v", err)
	}
}

func TestFanout_ContinuesAfterFailure(t *testing.T) {
	failing := &mockPublisher{err: errors.New("broker down")}
	ok := &mockPublisher{}
	f := NewFanout(failing, ok)

	f.Publish(context.Background(), OrderEvent{Type: "order.created", OrderID: 1})

	if len(failing.got) != 1 || len(ok.got) != 1 {
		t.Errorf("both publishers should be called: %d, %d", len(failing.got), len(ok.got))
	}
}
