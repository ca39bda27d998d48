package store

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/FlyingWhaleisME/where-to-next-sub000/internal/models"
)

// DataStore defines the interface for persistent storage of users, room
// share codes, and per-(user, room) trip state.
// Both PostgresStore and SQLiteStore implement this interface.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// User operations
	CreateUser(ctx context.Context, name, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)

	// Room operations
	// GetRoomShareHash returns the bcrypt hash of a room's share code, or
	// "" when the room has no stored code and may be joined freely.
	GetRoomShareHash(ctx context.Context, roomID string) (string, error)

	// Trip state operations
	UpsertPreferences(ctx context.Context, userID uuid.UUID, roomID string, data json.RawMessage) error
	GetPreferences(ctx context.Context, userID uuid.UUID, roomID string) (*models.PreferencesRecord, error)
	UpsertTracing(ctx context.Context, userID uuid.UUID, roomID string, data json.RawMessage) error
	GetTracing(ctx context.Context, userID uuid.UUID, roomID string) (*models.TracingRecord, error)
}

// ChatStore defines the interface for the chat message history store.
// RedisStore implements this interface.
type ChatStore interface {
	Close() error
	Ping(ctx context.Context) error

	// AddMessage persists a message, assigning its ID and timestamp.
	AddMessage(ctx context.Context, msg *models.ChatMessage) error

	// RoomHistory returns up to limit messages for a room, ordered
	// ascending by timestamp.
	RoomHistory(ctx context.Context, roomID string, limit int) ([]models.ChatMessage, error)
}
