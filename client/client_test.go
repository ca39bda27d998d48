package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/FlyingWhaleisME/where-to-next-sub000/internal/api"
	"github.com/FlyingWhaleisME/where-to-next-sub000/internal/auth"
	"github.com/FlyingWhaleisME/where-to-next-sub000/internal/config"
	"github.com/FlyingWhaleisME/where-to-next-sub000/internal/gateway"
	"github.com/FlyingWhaleisME/where-to-next-sub000/internal/models"
)

const testSecret = "client-test-secret"

type memData struct {
	users map[uuid.UUID]*models.User
}

func (d *memData) Close()                         {}
func (d *memData) Ping(ctx context.Context) error { return nil }

func (d *memData) CreateUser(ctx context.Context, name, email string) (*models.User, error) {
	u := &models.User{ID: uuid.Must(uuid.NewV7()), Name: name, Email: email}
	d.users[u.ID] = u
	return u, nil
}

func (d *memData) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return d.users[id], nil
}

func (d *memData) GetRoomShareHash(ctx context.Context, roomID string) (string, error) {
	return "", nil
}

func (d *memData) UpsertPreferences(ctx context.Context, userID uuid.UUID, roomID string, data json.RawMessage) error {
	return nil
}

func (d *memData) GetPreferences(ctx context.Context, userID uuid.UUID, roomID string) (*models.PreferencesRecord, error) {
	return nil, nil
}

func (d *memData) UpsertTracing(ctx context.Context, userID uuid.UUID, roomID string, data json.RawMessage) error {
	return nil
}

func (d *memData) GetTracing(ctx context.Context, userID uuid.UUID, roomID string) (*models.TracingRecord, error) {
	return nil, nil
}

type memChat struct {
	msgs map[string][]models.ChatMessage
	seq  int
}

func (c *memChat) Close() error                   { return nil }
func (c *memChat) Ping(ctx context.Context) error { return nil }

func (c *memChat) AddMessage(ctx context.Context, msg *models.ChatMessage) error {
	c.seq++
	msg.ID = fmt.Sprintf("msg-%04d", c.seq)
	msg.Timestamp = time.Now().UnixMilli()
	c.msgs[msg.RoomID] = append(c.msgs[msg.RoomID], *msg)
	return nil
}

func (c *memChat) RoomHistory(ctx context.Context, roomID string, limit int) ([]models.ChatMessage, error) {
	history := c.msgs[roomID]
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history, nil
}

func startServer(t *testing.T) (*httptest.Server, *memData) {
	t.Helper()
	data := &memData{users: make(map[uuid.UUID]*models.User)}
	chat := &memChat{msgs: make(map[string][]models.ChatMessage)}
	cfg := &config.Config{
		JWTSecret:       testSecret,
		SendBuffer:      64,
		MaxMessageSize:  16 * 1024,
		RateLimitBurst:  100,
		RateLimitRefill: time.Second,
	}
	gw := gateway.New(cfg, zerolog.Nop(), auth.NewVerifier(testSecret, data), data, chat)
	srv := httptest.NewServer(api.NewRouter(zerolog.Nop(), gw, data, chat))
	t.Cleanup(func() {
		gw.Shutdown()
		srv.Close()
	})
	return srv, data
}

func dialAs(t *testing.T, srv *httptest.Server, data *memData, name string) *Client {
	t.Helper()
	user, err := data.CreateUser(context.Background(), name, name+"@example.com")
	if err != nil {
		t.Fatal(err)
	}
	token, err := auth.MintToken(testSecret, user.ID, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	c, err := Dial(srv.URL, token)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	evt, err := c.WaitFor("connection_established")
	if err != nil {
		t.Fatalf("waiting for welcome: %v", err)
	}
	if evt.User == nil || evt.User.Name != name {
		t.Fatalf("welcome user = %+v, want %s", evt.User, name)
	}
	return c
}

func TestDialRejectsBadToken(t *testing.T) {
	srv, _ := startServer(t)

	c, err := Dial(srv.URL, "garbage")
	if err != nil {
		// The upgrade happens before authentication, so Dial itself
		// succeeds; rejection arrives as a close frame.
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	_, err = c.ReadEvent()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		t.Fatalf("ReadEvent err = %v, want close error", err)
	}
	if closeErr.Code != websocket.ClosePolicyViolation {
		t.Errorf("close code = %d, want %d", closeErr.Code, websocket.ClosePolicyViolation)
	}
}

func TestJoinAndChat(t *testing.T) {
	srv, data := startServer(t)

	alice := dialAs(t, srv, data, "alice")
	if err := alice.JoinRoom("trip-1", "", true); err != nil {
		t.Fatal(err)
	}
	if _, err := alice.WaitFor("room_joined"); err != nil {
		t.Fatalf("alice join: %v", err)
	}

	bob := dialAs(t, srv, data, "bob")
	if err := bob.JoinRoom("trip-1", "", false); err != nil {
		t.Fatal(err)
	}
	evt, err := bob.WaitFor("room_users")
	if err != nil {
		t.Fatalf("bob roster: %v", err)
	}
	if len(evt.Users) != 2 {
		t.Fatalf("roster size = %d, want 2", len(evt.Users))
	}
	if _, err := bob.WaitFor("room_joined"); err != nil {
		t.Fatalf("bob join: %v", err)
	}

	if err := alice.SendChat("trip-1", "hello"); err != nil {
		t.Fatal(err)
	}
	for name, c := range map[string]*Client{"alice": alice, "bob": bob} {
		msg, err := c.WaitFor("chat_message")
		if err != nil {
			t.Fatalf("%s chat: %v", name, err)
		}
		if msg.Text != "hello" || msg.ID == "" {
			t.Errorf("%s got %+v", name, msg)
		}
	}
}

func TestHistoryReplayOnJoin(t *testing.T) {
	srv, data := startServer(t)

	alice := dialAs(t, srv, data, "alice")
	if err := alice.JoinRoom("trip-1", "", true); err != nil {
		t.Fatal(err)
	}
	if _, err := alice.WaitFor("room_joined"); err != nil {
		t.Fatal(err)
	}
	if err := alice.SendChat("trip-1", "earlier"); err != nil {
		t.Fatal(err)
	}
	if _, err := alice.WaitFor("chat_message"); err != nil {
		t.Fatal(err)
	}

	bob := dialAs(t, srv, data, "bob")
	if err := bob.JoinRoom("trip-1", "", false); err != nil {
		t.Fatal(err)
	}
	evt, err := bob.WaitFor("chat_history")
	if err != nil {
		t.Fatalf("bob history: %v", err)
	}
	if len(evt.Messages) != 1 || evt.Messages[0].Text != "earlier" {
		t.Errorf("history = %+v, want the earlier message", evt.Messages)
	}
}

func TestRoomDeletedOnLastLeave(t *testing.T) {
	srv, data := startServer(t)

	alice := dialAs(t, srv, data, "alice")
	if err := alice.JoinRoom("trip-1", "", true); err != nil {
		t.Fatal(err)
	}
	if _, err := alice.WaitFor("room_joined"); err != nil {
		t.Fatal(err)
	}

	if err := alice.LeaveRoom(); err != nil {
		t.Fatal(err)
	}
	evt, err := alice.WaitFor("room_deleted")
	if err != nil {
		t.Fatalf("room_deleted: %v", err)
	}
	if evt.RoomID != "trip-1" {
		t.Errorf("room_deleted room = %q, want trip-1", evt.RoomID)
	}
}

func TestPingPongOverWire(t *testing.T) {
	srv, data := startServer(t)

	alice := dialAs(t, srv, data, "alice")
	if err := alice.Ping(); err != nil {
		t.Fatal(err)
	}
	if _, err := alice.WaitFor("pong"); err != nil {
		t.Fatalf("pong: %v", err)
	}
}
