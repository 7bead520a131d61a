// Package realtime carries folder chat and lifecycle notifications over
// WebSocket. Rooms are logical broadcast scopes: one per folder plus a
// private channel per user. Rooms have no persisted lifecycle; a room exists
// exactly while it has connections.
package realtime

import (
	"encoding/json"
	"log"
	"sync"
)

// Event is the wire frame for server-to-client notifications.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// RoomFolder is the broadcast scope for one folder's chat and membership
// events.
func RoomFolder(folderID string) string {
	return "folder:" + folderID
}

// RoomUser is the private channel a connection auto-joins at handshake.
func RoomUser(userID string) string {
	return "user:" + userID
}

type subscription struct {
	client *Client
	room   string
}

type outbound struct {
	room string
	data []byte
}

// Hub maintains room membership and fans events out to connections. All
// membership mutation happens on the Run loop.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]bool

	register   chan subscription
	unregister chan *Client
	broadcast  chan outbound
}

func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan subscription),
		unregister: make(chan *Client),
		broadcast:  make(chan outbound, 256),
	}
}

// Publish delivers an event to every connection in the room. The message is
// already durably stored by the time callers publish, so delivery order to a
// room matches persistence order.
func (h *Hub) Publish(room string, eventType string, payload any) {
	data, err := json.Marshal(Event{Type: eventType, Payload: payload})
	if err != nil {
		log.Printf("realtime: marshal %s event: %v", eventType, err)
		return
	}
	h.broadcast <- outbound{room: room, data: data}
}

// Join adds the client to a room. Authorization happens before this call;
// the hub itself trusts its callers.
func (h *Hub) Join(client *Client, room string) {
	h.register <- subscription{client: client, room: room}
}

// Drop removes the client from every room and closes its send channel.
func (h *Hub) Drop(client *Client) {
	h.unregister <- client
}

// InRoom reports whether the client is currently in the room.
func (h *Hub) InRoom(client *Client, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[room][client]
}

// Run processes membership changes and broadcasts until the hub is no longer
// needed. Runs for the life of the process.
func (h *Hub) Run() {
	for {
		select {
		case sub := <-h.register:
			if sub.client.dropped {
				// The client's read pump can outlive a Drop and race a
				// late join; registering it again would mean the next
				// broadcast sends on its closed channel.
				continue
			}
			h.mu.Lock()
			if h.rooms[sub.room] == nil {
				h.rooms[sub.room] = make(map[*Client]bool)
			}
			h.rooms[sub.room][sub.client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			client.dropped = true
			h.mu.Lock()
			for room, clients := range h.rooms {
				if clients[client] {
					delete(clients, client)
					if len(clients) == 0 {
						delete(h.rooms, room)
					}
				}
			}
			h.mu.Unlock()
			client.closeSend()

		case message := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.rooms[message.room]))
			for client := range h.rooms[message.room] {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			for _, client := range clients {
				select {
				case client.send <- message.data:
				default:
					// Slow consumer; drop the connection rather than
					// block the hub.
					go h.Drop(client)
				}
			}
		}
	}
}
