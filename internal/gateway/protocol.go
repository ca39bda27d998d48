package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/FlyingWhaleisME/where-to-next-sub000/internal/models"
)

// Inbound frame kinds. Field names are load-bearing for interop with the
// web client.
const (
	kindJoinRoom          = "join_room"
	kindLeaveRoom         = "leave_room"
	kindChatMessage       = "chat_message"
	kindUpdatePreferences = "update_preferences"
	kindUpdateTracing     = "update_trip_tracing"
	kindTypingStatus      = "typing_status"
	kindPing              = "ping"
)

// JoinRoomFrame asks to enter a room.
type JoinRoomFrame struct {
	RoomID        string `json:"roomId"`
	ShareCode     string `json:"shareCode,omitempty"`
	IsRoomCreator bool   `json:"isRoomCreator,omitempty"`
}

// LeaveRoomFrame asks to leave the current room.
type LeaveRoomFrame struct{}

// ChatMessageFrame carries one chat message. TripID is the legacy alias
// for RoomID still sent by older clients.
type ChatMessageFrame struct {
	RoomID string `json:"roomId"`
	TripID string `json:"tripId"`
	Text   string `json:"text"`
}

// Room returns the target room id, honoring the legacy alias.
func (f *ChatMessageFrame) Room() string {
	if f.RoomID != "" {
		return f.RoomID
	}
	return f.TripID
}

// UpdatePreferencesFrame replaces the sender's trip preferences for a room.
type UpdatePreferencesFrame struct {
	RoomID      string          `json:"roomId"`
	Preferences json.RawMessage `json:"preferences"`
}

// UpdateTracingFrame replaces the sender's trip-tracing state for a room.
type UpdateTracingFrame struct {
	RoomID           string          `json:"roomId"`
	TripTracingState json.RawMessage `json:"tripTracingState"`
}

// TypingStatusFrame is an ephemeral typing indicator; never persisted.
type TypingStatusFrame struct {
	RoomID   string `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}

// PingFrame is a liveness probe.
type PingFrame struct{}

// ErrMalformed reports a frame that is not a JSON object with a type tag.
var ErrMalformed = fmt.Errorf("invalid message format")

// UnknownTypeError reports an unrecognized message type tag.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown message type: %s", e.Type)
}

// DecodeInbound parses a raw frame into its typed representation. Unknown
// tags are rejected here, at the deserialization boundary.
func DecodeInbound(raw []byte) (any, error) {
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &tag); err != nil {
		return nil, ErrMalformed
	}

	decode := func(v any) (any, error) {
		if err := json.Unmarshal(raw, v); err != nil {
			return nil, ErrMalformed
		}
		return v, nil
	}

	switch tag.Type {
	case kindJoinRoom:
		return decode(&JoinRoomFrame{})
	case kindLeaveRoom:
		return &LeaveRoomFrame{}, nil
	case kindChatMessage:
		return decode(&ChatMessageFrame{})
	case kindUpdatePreferences:
		return decode(&UpdatePreferencesFrame{})
	case kindUpdateTracing:
		return decode(&UpdateTracingFrame{})
	case kindTypingStatus:
		return decode(&TypingStatusFrame{})
	case kindPing:
		return &PingFrame{}, nil
	default:
		return nil, &UnknownTypeError{Type: tag.Type}
	}
}

// UserInfo identifies a message sender in outbound events.
type UserInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RosterUser is one entry in a room_users event.
type RosterUser struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	IsOnline  bool      `json:"isOnline"`
	JoinedAt  time.Time `json:"joinedAt"`
	LastSeen  time.Time `json:"lastSeen"`
	IsCreator bool      `json:"isCreator"`
}

// HistoryMessage is one entry in a chat_history event.
type HistoryMessage struct {
	ID        string   `json:"id"`
	Text      string   `json:"text"`
	User      UserInfo `json:"user"`
	Timestamp int64    `json:"timestamp"`
}

// encode serializes an outbound event. The event types marshal without
// error, so the result is always usable.
func encode(v any) []byte {
	data, _ := json.Marshal(v)
	return data
}

func evtConnectionEstablished(user UserInfo) []byte {
	return encode(struct {
		Type string   `json:"type"`
		User UserInfo `json:"user"`
	}{"connection_established", user})
}

func evtRoomJoined(roomID string) []byte {
	return encode(struct {
		Type   string `json:"type"`
		RoomID string `json:"roomId"`
	}{"room_joined", roomID})
}

func evtChatHistory(msgs []models.ChatMessage) []byte {
	history := make([]HistoryMessage, 0, len(msgs))
	for _, m := range msgs {
		history = append(history, HistoryMessage{
			ID:        m.ID,
			Text:      m.Text,
			User:      UserInfo{ID: m.UserID, Name: m.UserName},
			Timestamp: m.Timestamp,
		})
	}
	return encode(struct {
		Type     string           `json:"type"`
		Messages []HistoryMessage `json:"messages"`
	}{"chat_history", history})
}

func evtRoomUsers(roomID string, users []RosterUser) []byte {
	return encode(struct {
		Type   string       `json:"type"`
		RoomID string       `json:"roomId"`
		Users  []RosterUser `json:"users"`
	}{"room_users", roomID, users})
}

func evtChatMessage(msg *models.ChatMessage) []byte {
	return encode(struct {
		Type      string   `json:"type"`
		ID        string   `json:"id"`
		RoomID    string   `json:"roomId"`
		Text      string   `json:"text"`
		User      UserInfo `json:"user"`
		Timestamp int64    `json:"timestamp"`
	}{"chat_message", msg.ID, msg.RoomID, msg.Text, UserInfo{ID: msg.UserID, Name: msg.UserName}, msg.Timestamp})
}

func evtPreferencesUpdated(roomID string, user UserInfo, prefs json.RawMessage) []byte {
	return encode(struct {
		Type        string          `json:"type"`
		RoomID      string          `json:"roomId"`
		User        UserInfo        `json:"user"`
		Preferences json.RawMessage `json:"preferences"`
	}{"preferences_updated", roomID, user, prefs})
}

func evtTracingUpdated(roomID string, user UserInfo, state json.RawMessage) []byte {
	return encode(struct {
		Type             string          `json:"type"`
		RoomID           string          `json:"roomId"`
		User             UserInfo        `json:"user"`
		TripTracingState json.RawMessage `json:"tripTracingState"`
	}{"trip_tracing_updated", roomID, user, state})
}

func evtTypingStatus(roomID string, user UserInfo, isTyping bool) []byte {
	return encode(struct {
		Type     string   `json:"type"`
		RoomID   string   `json:"roomId"`
		User     UserInfo `json:"user"`
		IsTyping bool     `json:"isTyping"`
	}{"typing_status", roomID, user, isTyping})
}

func evtUserJoined(roomID string, user UserInfo) []byte {
	return encode(struct {
		Type   string   `json:"type"`
		RoomID string   `json:"roomId"`
		User   UserInfo `json:"user"`
	}{"user_joined", roomID, user})
}

func evtUserLeft(roomID string, user UserInfo) []byte {
	return encode(struct {
		Type   string   `json:"type"`
		RoomID string   `json:"roomId"`
		User   UserInfo `json:"user"`
	}{"user_left", roomID, user})
}

func evtRoomDeleted(roomID string) []byte {
	return encode(struct {
		Type    string `json:"type"`
		RoomID  string `json:"roomId"`
		Message string `json:"message"`
	}{"room_deleted", roomID, "room has been deleted"})
}

func evtPong() []byte {
	return encode(struct {
		Type string `json:"type"`
	}{"pong"})
}

func evtError(message string) []byte {
	return encode(struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}{"error", message})
}
