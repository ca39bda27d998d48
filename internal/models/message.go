package models

// ChatMessage represents a chat message stored in Redis.
type ChatMessage struct {
	ID        string `json:"id"`        // ULID
	RoomID    string `json:"room_id"`
	UserID    string `json:"user_id"`   // User UUID
	UserName  string `json:"user_name"`
	Text      string `json:"text"`
	Timestamp int64  `json:"ts"`        // Unix ms
}
