// Package client provides a Go client for the where-to-next collaboration
// gateway.
package client

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Client is a WebSocket client for the collaboration gateway.
type Client struct {
	conn *websocket.Conn
}

// Event is one decoded outbound event from the gateway. Fields beyond Type
// are populated depending on the event kind.
type Event struct {
	Type     string          `json:"type"`
	RoomID   string          `json:"roomId,omitempty"`
	Message  string          `json:"message,omitempty"`
	ID       string          `json:"id,omitempty"`
	Text     string          `json:"text,omitempty"`
	IsTyping bool            `json:"isTyping,omitempty"`
	User     *EventUser      `json:"user,omitempty"`
	Users    []EventUser     `json:"users,omitempty"`
	Messages []EventMessage  `json:"messages,omitempty"`
	Raw      json.RawMessage `json:"-"`
}

// EventUser identifies a user in gateway events.
type EventUser struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	IsOnline  bool      `json:"isOnline,omitempty"`
	JoinedAt  time.Time `json:"joinedAt,omitzero"`
	LastSeen  time.Time `json:"lastSeen,omitzero"`
	IsCreator bool      `json:"isCreator,omitempty"`
}

// EventMessage is one chat history entry.
type EventMessage struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	User      EventUser `json:"user"`
	Timestamp int64     `json:"timestamp"`
}

// Dial connects to the gateway and authenticates with the given bearer
// token. baseURL accepts http(s) or ws(s) schemes.
func Dial(baseURL, token string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if !strings.HasSuffix(u.Path, "/ws") {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	return &Client{conn: conn}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.conn.Close()
}

// ReadEvent blocks until the next event arrives.
func (c *Client) ReadEvent() (*Event, error) {
	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	evt := &Event{}
	if err := json.Unmarshal(raw, evt); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	evt.Raw = raw
	return evt, nil
}

// WaitFor reads events until one of the given type arrives. Other events
// are discarded.
func (c *Client) WaitFor(eventType string) (*Event, error) {
	for {
		evt, err := c.ReadEvent()
		if err != nil {
			return nil, err
		}
		if evt.Type == eventType {
			return evt, nil
		}
	}
}

func (c *Client) send(v any) error {
	return c.conn.WriteJSON(v)
}

// JoinRoom enters a room. shareCode may be empty for open rooms.
func (c *Client) JoinRoom(roomID, shareCode string, asCreator bool) error {
	return c.send(map[string]any{
		"type":          "join_room",
		"roomId":        roomID,
		"shareCode":     shareCode,
		"isRoomCreator": asCreator,
	})
}

// LeaveRoom leaves the current room.
func (c *Client) LeaveRoom() error {
	return c.send(map[string]any{"type": "leave_room"})
}

// SendChat sends a chat message to a room.
func (c *Client) SendChat(roomID, text string) error {
	return c.send(map[string]any{
		"type":   "chat_message",
		"roomId": roomID,
		"text":   text,
	})
}

// UpdatePreferences replaces the caller's preferences for a room.
func (c *Client) UpdatePreferences(roomID string, prefs any) error {
	return c.send(map[string]any{
		"type":        "update_preferences",
		"roomId":      roomID,
		"preferences": prefs,
	})
}

// UpdateTripTracing replaces the caller's trip-tracing state for a room.
func (c *Client) UpdateTripTracing(roomID string, state any) error {
	return c.send(map[string]any{
		"type":             "update_trip_tracing",
		"roomId":           roomID,
		"tripTracingState": state,
	})
}

// SetTyping broadcasts a typing indicator.
func (c *Client) SetTyping(roomID string, isTyping bool) error {
	return c.send(map[string]any{
		"type":     "typing_status",
		"roomId":   roomID,
		"isTyping": isTyping,
	})
}

// Ping sends a liveness probe; the gateway answers with a pong event.
func (c *Client) Ping() error {
	return c.send(map[string]any{"type": "ping"})
}
