// Package events publishes order changes after they are committed.
package events

import (
	"context"
	"log"
	"time"

	"github.com/dastarkhan/food-api/internal/database"
	"github.com/google/uuid"
)

// OrderEvent describes a committed order change.
type OrderEvent struct {
	ID                string    `json:"id"`
	Type              string    `json:"type"`
	OrderID           int64     `json:"order_id"`
	OrderNumber       string    `json:"order_number"`
	Status            string    `json:"status"`
	PreviousStatus    string    `json:"previous_status,omitempty"`
	DeliveryType      string    `json:"delivery_type"`
	UserID            *int64    `json:"user_id,omitempty"`
	AssignedCourierID *int64    `json:"assigned_courier_id,omitempty"`
	TotalAmount       string    `json:"total_amount"`
	OccurredAt        time.Time `json:"occurred_at"`
}

func NewOrderEvent(eventType string, order database.Order, previousStatus string) OrderEvent {
	e := OrderEvent{
		ID:             uuid.NewString(),
		Type:           eventType,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		Status:         order.Status,
		PreviousStatus: previousStatus,
		DeliveryType:   order.DeliveryType,
		TotalAmount:    database.NumericToDecimal(order.TotalAmount).StringFixed(2),
		OccurredAt:     time.Now().UTC(),
	}
	if order.UserID.Valid {
		id := order.UserID.Int64
		e.UserID = &id
	}
	if order.AssignedCourierID.Valid {
		id := order.AssignedCourierID.Int64
		e.AssignedCourierID = &id
	}
	return e
}

// Publisher delivers an event to one sink.
type Publisher interface {
	Publish(ctx context.Context, e OrderEvent) error
}

// Fanout sends every event to all publishers. Failures are logged and do not
// stop the remaining publishers.
type Fanout struct {
	publishers []Publisher
}

func NewFanout(publishers ...Publisher) *Fanout {
	return &Fanout{publishers: publishers}
}

func (f *Fanout) Publish(ctx context.Context, e OrderEvent) {
	for _, p := range f.publishers {
		if err := p.Publish(ctx, e); err != nil {
			log.Printf("WARNING: publish %s for order %d: %v", e.Type, e.OrderID, err)
		}
	}
}
