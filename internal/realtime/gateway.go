package realtime

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

// VerifyFunc authenticates a handshake token and returns the connection's
// identity. A non-nil error rejects the connection; there is no anonymous
// fallback.
type VerifyFunc func(ctx context.Context, token string) (Identity, error)

// ChatService is the slice of the application the gateway needs: join
// authorization and message posting. Both re-check access per action; the
// handshake only establishes identity.
type ChatService interface {
	CanJoinChat(ctx context.Context, folderID, userID, role string) bool
	PostChatMessage(ctx context.Context, folderID string, sender Identity, body string) (any, error)
}

// Gateway upgrades HTTP requests to WebSocket connections and wires them
// into the hub.
type Gateway struct {
	hub      *Hub
	verify   VerifyFunc
	chat     ChatService
	upgrader websocket.Upgrader
}

func NewGateway(hub *Hub, verify VerifyFunc, chat ChatService, corsOrigin string) *Gateway {
	return &Gateway{
		hub:    hub,
		verify: verify,
		chat:   chat,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if corsOrigin == "*" {
					return true
				}
				return r.Header.Get("Origin") == corsOrigin
			},
		},
	}
}

// ServeHTTP authenticates the handshake, upgrades, and starts the pumps.
// The connection auto-joins its user channel so targeted notifications
// reach it without an explicit subscribe.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := handshakeToken(r)
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	identity, err := g.verify(r.Context(), token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("realtime: upgrade failed: %v", err)
		return
	}

	client := &Client{
		gateway:  g,
		conn:     conn,
		send:     make(chan []byte, 64),
		identity: identity,
	}

	g.hub.Join(client, RoomUser(identity.UserID))

	go client.writePump()
	go client.readPump()
}

// handshakeToken pulls the bearer token from the Authorization header or,
// for browser WebSocket clients that cannot set headers, the token query
// parameter.
func handshakeToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
