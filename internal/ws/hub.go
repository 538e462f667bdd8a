package ws

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Rooms a client can join. Couriers join RoomCouriers plus their own room;
// members join their user room.
const (
	RoomAdmin    = "admin"
	RoomKitchen  = "kitchen"
	RoomCouriers = "couriers"
)

func CourierRoom(id int64) string { return fmt.Sprintf("courier:%d", id) }
func UserRoom(id int64) string    { return fmt.Sprintf("user:%d", id) }

// Event represents a WebSocket message to be broadcast
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type roomEvent struct {
	Room  string
	Event Event
}

// Hub maintains the set of active clients and broadcasts messages to them
type Hub struct {
	// Clients by room name
	rooms map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client

	broadcast chan *roomEvent

	mu sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *roomEvent, 256),
	}
}

// Run starts the hub's main loop. Call it as a goroutine: go hub.Run()
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			for _, room := range client.rooms {
				if h.rooms[room] == nil {
					h.rooms[room] = make(map[*Client]bool)
				}
				h.rooms[room][client] = true
			}
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()

		case event := <-h.broadcast:
			message, err := json.Marshal(event.Event)
			if err != nil {
				continue
			}

			h.mu.Lock()
			for client := range h.rooms[event.Room] {
				select {
				case client.send <- message:
				default:
					// Send buffer full, drop the client from every room
					h.remove(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove drops client from all its rooms and closes its send channel once.
// Caller holds h.mu.
func (h *Hub) remove(client *Client) {
	registered := false
	for _, room := range client.rooms {
		clients, ok := h.rooms[room]
		if !ok {
			continue
		}
		if _, exists := clients[client]; exists {
			registered = true
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	if registered {
		close(client.send)
	}
}

// Broadcast queues event for every client in room.
func (h *Hub) Broadcast(room string, event Event) {
	h.broadcast <- &roomEvent{
		Room:  room,
		Event: event,
	}
}
