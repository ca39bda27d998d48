package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/FlyingWhaleisME/where-to-next-sub000/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	store := &PostgresStore{pool: pool}

	if err := store.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		name TEXT NOT NULL,
		email TEXT DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS trip_rooms (
		room_id TEXT PRIMARY KEY,
		share_code_hash TEXT DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS trip_preferences (
		user_id UUID NOT NULL,
		room_id TEXT NOT NULL,
		data JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (user_id, room_id)
	);

	CREATE TABLE IF NOT EXISTS trip_tracing (
		user_id UUID NOT NULL,
		room_id TEXT NOT NULL,
		data JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (user_id, room_id)
	);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateUser creates a new user record.
func (s *PostgresStore) CreateUser(ctx context.Context, name, email string) (*models.User, error) {
	user := &models.User{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (name, email)
		VALUES ($1, $2)
		RETURNING id, name, email, created_at, updated_at
	`, name, email).Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetUserByID retrieves a user by ID. Sensitive columns are never selected.
func (s *PostgresStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user := &models.User{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM users WHERE id = $1
	`, id).Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// GetRoomShareHash retrieves the share-code hash for a room.
// Returns "" when the room has no stored record.
func (s *PostgresStore) GetRoomShareHash(ctx context.Context, roomID string) (string, error) {
	var hash string
	err := s.pool.QueryRow(ctx, `
		SELECT share_code_hash FROM trip_rooms WHERE room_id = $1
	`, roomID).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return hash, nil
}

// UpsertPreferences creates or replaces the preferences for (user, room).
// Last writer wins; no version check is performed.
func (s *PostgresStore) UpsertPreferences(ctx context.Context, userID uuid.UUID, roomID string, data json.RawMessage) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO trip_preferences (user_id, room_id, data, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id, room_id)
		DO UPDATE SET data = EXCLUDED.data, updated_at = now()
	`, userID, roomID, data)
	return err
}

// GetPreferences retrieves the preferences for (user, room).
func (s *PostgresStore) GetPreferences(ctx context.Context, userID uuid.UUID, roomID string) (*models.PreferencesRecord, error) {
	rec := &models.PreferencesRecord{}
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, room_id, data, updated_at
		FROM trip_preferences WHERE user_id = $1 AND room_id = $2
	`, userID, roomID).Scan(
		&rec.UserID,
		&rec.RoomID,
		&rec.Data,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

// UpsertTracing creates or replaces the tracing state for (user, room).
func (s *PostgresStore) UpsertTracing(ctx context.Context, userID uuid.UUID, roomID string, data json.RawMessage) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO trip_tracing (user_id, room_id, data, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id, room_id)
		DO UPDATE SET data = EXCLUDED.data, updated_at = now()
	`, userID, roomID, data)
	return err
}

// GetTracing retrieves the tracing state for (user, room).
func (s *PostgresStore) GetTracing(ctx context.Context, userID uuid.UUID, roomID string) (*models.TracingRecord, error) {
	rec := &models.TracingRecord{}
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, room_id, data, updated_at
		FROM trip_tracing WHERE user_id = $1 AND room_id = $2
	`, userID, roomID).Scan(
		&rec.UserID,
		&rec.RoomID,
		&rec.Data,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}
