package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PreferencesRecord holds one user's trip preferences for a room.
type PreferencesRecord struct {
	UserID    uuid.UUID       `json:"user_id"`
	RoomID    string          `json:"room_id"`
	Data      json.RawMessage `json:"preferences"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// TracingRecord holds one user's trip-tracing state for a room.
type TracingRecord struct {
	UserID    uuid.UUID       `json:"user_id"`
	RoomID    string          `json:"room_id"`
	Data      json.RawMessage `json:"trip_tracing_state"`
	UpdatedAt time.Time       `json:"updated_at"`
}
