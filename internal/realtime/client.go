package realtime

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Identity is the verified claim set attached to a connection at handshake.
// It never changes for the connection's lifetime.
type Identity struct {
	UserID string
	Name   string
	Email  string
	Role   string
}

// clientFrame is a client-to-server event.
type clientFrame struct {
	Type     string `json:"type"`
	FolderID string `json:"folderId"`
	Message  string `json:"message"`
}

// Client is one WebSocket connection with its verified identity.
type Client struct {
	gateway   *Gateway
	conn      *websocket.Conn
	send      chan []byte
	identity  Identity
	closeOnce sync.Once

	// dropped is read and written only by the hub's Run loop. Once set,
	// the client's send channel is closed and it must never be registered
	// into a room again.
	dropped bool
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

// readPump consumes client events until the connection drops, then removes
// the connection from every room.
func (c *Client) readPump() {
	defer func() {
		c.gateway.hub.Drop(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("realtime: read error for %s: %v", c.identity.UserID, err)
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			log.Printf("realtime: invalid frame from %s: %v", c.identity.UserID, err)
			continue
		}
		c.dispatch(frame)
	}
}

// dispatch routes one client event. Join and post failures are deliberately
// swallowed: the protocol treats them as best-effort signals, not RPCs.
func (c *Client) dispatch(frame clientFrame) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch frame.Type {
	case "join-folder":
		if frame.FolderID == "" {
			return
		}
		if !c.gateway.chat.CanJoinChat(ctx, frame.FolderID, c.identity.UserID, c.identity.Role) {
			return
		}
		c.gateway.hub.Join(c, RoomFolder(frame.FolderID))

	case "send-message":
		if frame.FolderID == "" {
			return
		}
		payload, err := c.gateway.chat.PostChatMessage(ctx, frame.FolderID, c.identity, frame.Message)
		if err != nil {
			log.Printf("realtime: send-message from %s: %v", c.identity.UserID, err)
			return
		}
		if payload == nil {
			// Empty body or unauthorized sender; no-op.
			return
		}
		c.gateway.hub.Publish(RoomFolder(frame.FolderID), "receive-message", payload)

	default:
		log.Printf("realtime: unknown frame type %q from %s", frame.Type, c.identity.UserID)
	}
}

// writePump drains the send channel to the socket and keeps the connection
// alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
