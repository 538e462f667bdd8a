package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dastarkhan/food-api/internal/enum"
	"github.com/dastarkhan/food-api/internal/ws"
)

// Broadcaster is satisfied by *ws.Hub.
type Broadcaster interface {
	Broadcast(room string, event ws.Event)
}

// HubPublisher pushes order events to the websocket rooms that care about them.
type HubPublisher struct {
	hub Broadcaster
}

func NewHubPublisher(hub Broadcaster) *HubPublisher {
	return &HubPublisher{hub: hub}
}

func (p *HubPublisher) Publish(ctx context.Context, e OrderEvent) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := ws.Event{Type: e.Type, Payload: payload}
	for _, room := range Rooms(e) {
		p.hub.Broadcast(room, msg)
	}
	return nil
}

// Rooms picks the audience of an event. Admins see everything; the kitchen
// sees orders entering or leaving its queue; couriers see delivery orders
// appearing in or leaving the available pool, and the assigned courier and
// the ordering member always hear about their own order.
func Rooms(e OrderEvent) []string {
	rooms := []string{ws.RoomAdmin}
	if inKitchenQueue(e.Status) || inKitchenQueue(e.PreviousStatus) {
		rooms = append(rooms, ws.RoomKitchen)
	}
	if e.DeliveryType == enum.DeliveryTypeDelivery &&
		(e.Status == enum.OrderStatusReady || e.PreviousStatus == enum.OrderStatusReady) {
		rooms = append(rooms, ws.RoomCouriers)
	}
	if e.AssignedCourierID != nil {
		rooms = append(rooms, ws.CourierRoom(*e.AssignedCourierID))
	}
	if e.UserID != nil {
		rooms = append(rooms, ws.UserRoom(*e.UserID))
	}
	return rooms
}

func inKitchenQueue(status string) bool {
	switch status {
	case enum.OrderStatusConfirmed, enum.OrderStatusPreparing, enum.OrderStatusReady:
		return true
	}
	return false
}
