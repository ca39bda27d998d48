package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/FlyingWhaleisME/where-to-next-sub000/internal/models"
)

// SQLiteStore handles SQLite database operations. It is the development
// fallback when no DATABASE_URL is configured.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/wherenext.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/wherenext.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trip_rooms (
		room_id TEXT PRIMARY KEY,
		share_code_hash TEXT DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS trip_preferences (
		user_id TEXT NOT NULL,
		room_id TEXT NOT NULL,
		data TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (user_id, room_id)
	);

	CREATE TABLE IF NOT EXISTS trip_tracing (
		user_id TEXT NOT NULL,
		room_id TEXT NOT NULL,
		data TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (user_id, room_id)
	);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateUser creates a new user record.
func (s *SQLiteStore) CreateUser(ctx context.Context, name, email string) (*models.User, error) {
	now := time.Now().UTC()
	id := uuid.Must(uuid.NewV7())

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, id.String(), name, email, now, now)
	if err != nil {
		return nil, err
	}

	return &models.User{
		ID:        id,
		Name:      name,
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user := &models.User{}
	var rawID string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM users WHERE id = ?
	`, id.String()).Scan(
		&rawID,
		&user.Name,
		&user.Email,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	user.ID, err = uuid.Parse(rawID)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetRoomShareHash retrieves the share-code hash for a room.
func (s *SQLiteStore) GetRoomShareHash(ctx context.Context, roomID string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `
		SELECT share_code_hash FROM trip_rooms WHERE room_id = ?
	`, roomID).Scan(&hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return hash, nil
}

// UpsertPreferences creates or replaces the preferences for (user, room).
func (s *SQLiteStore) UpsertPreferences(ctx context.Context, userID uuid.UUID, roomID string, data json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trip_preferences (user_id, room_id, data, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, room_id)
		DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, userID.String(), roomID, string(data), time.Now().UTC())
	return err
}

// GetPreferences retrieves the preferences for (user, room).
func (s *SQLiteStore) GetPreferences(ctx context.Context, userID uuid.UUID, roomID string) (*models.PreferencesRecord, error) {
	rec := &models.PreferencesRecord{UserID: userID, RoomID: roomID}
	var data string
	err := s.db.QueryRowContext(ctx, `
		SELECT data, updated_at
		FROM trip_preferences WHERE user_id = ? AND room_id = ?
	`, userID.String(), roomID).Scan(&data, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	rec.Data = json.RawMessage(data)
	return rec, nil
}

// UpsertTracing creates or replaces the tracing state for (user, room).
func (s *SQLiteStore) UpsertTracing(ctx context.Context, userID uuid.UUID, roomID string, data json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trip_tracing (user_id, room_id, data, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, room_id)
		DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, userID.String(), roomID, string(data), time.Now().UTC())
	return err
}

// GetTracing retrieves the tracing state for (user, room).
func (s *SQLiteStore) GetTracing(ctx context.Context, userID uuid.UUID, roomID string) (*models.TracingRecord, error) {
	rec := &models.TracingRecord{UserID: userID, RoomID: roomID}
	var data string
	err := s.db.QueryRowContext(ctx, `
		SELECT data, updated_at
		FROM trip_tracing WHERE user_id = ? AND room_id = ?
	`, userID.String(), roomID).Scan(&data, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	rec.Data = json.RawMessage(data)
	return rec, nil
}
