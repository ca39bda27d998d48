package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/FlyingWhaleisME/where-to-next-sub000/internal/auth"
	"github.com/FlyingWhaleisME/where-to-next-sub000/internal/config"
	"github.com/FlyingWhaleisME/where-to-next-sub000/internal/metrics"
	"github.com/FlyingWhaleisME/where-to-next-sub000/internal/models"
	"github.com/FlyingWhaleisME/where-to-next-sub000/internal/store"
)

// fakeData implements store.DataStore in memory.
type fakeData struct {
	users       map[uuid.UUID]*models.User
	shareHashes map[string]string
	prefs       map[string]json.RawMessage
	tracing     map[string]json.RawMessage
	failPrefs   bool
	failTracing bool
}

func newFakeData() *fakeData {
	return &fakeData{
		users:       make(map[uuid.UUID]*models.User),
		shareHashes: make(map[string]string),
		prefs:       make(map[string]json.RawMessage),
		tracing:     make(map[string]json.RawMessage),
	}
}

func (d *fakeData) Close()                         {}
func (d *fakeData) Ping(ctx context.Context) error { return nil }

func (d *fakeData) CreateUser(ctx context.Context, name, email string) (*models.User, error) {
	u := &models.User{ID: uuid.Must(uuid.NewV7()), Name: name, Email: email}
	d.users[u.ID] = u
	return u, nil
}

func (d *fakeData) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return d.users[id], nil
}

func (d *fakeData) GetRoomShareHash(ctx context.Context, roomID string) (string, error) {
	return d.shareHashes[roomID], nil
}

func (d *fakeData) UpsertPreferences(ctx context.Context, userID uuid.UUID, roomID string, data json.RawMessage) error {
	if d.failPrefs {
		return fmt.Errorf("store down")
	}
	d.prefs[userID.String()+"/"+roomID] = data
	return nil
}

func (d *fakeData) GetPreferences(ctx context.Context, userID uuid.UUID, roomID string) (*models.PreferencesRecord, error) {
	data, ok := d.prefs[userID.String()+"/"+roomID]
	if !ok {
		return nil, nil
	}
	return &models.PreferencesRecord{UserID: userID, RoomID: roomID, Data: data}, nil
}

func (d *fakeData) UpsertTracing(ctx context.Context, userID uuid.UUID, roomID string, data json.RawMessage) error {
	if d.failTracing {
		return fmt.Errorf("store down")
	}
	d.tracing[userID.String()+"/"+roomID] = data
	return nil
}

func (d *fakeData) GetTracing(ctx context.Context, userID uuid.UUID, roomID string) (*models.TracingRecord, error) {
	data, ok := d.tracing[userID.String()+"/"+roomID]
	if !ok {
		return nil, nil
	}
	return &models.TracingRecord{UserID: userID, RoomID: roomID, Data: data}, nil
}

// fakeChat implements store.ChatStore in memory.
type fakeChat struct {
	msgs      map[string][]models.ChatMessage
	seq       int
	failAdd   bool
	lastLimit int // limit passed to the most recent RoomHistory call
}

func newFakeChat() *fakeChat {
	return &fakeChat{msgs: make(map[string][]models.ChatMessage)}
}

func (c *fakeChat) Close() error                   { return nil }
func (c *fakeChat) Ping(ctx context.Context) error { return nil }

func (c *fakeChat) AddMessage(ctx context.Context, msg *models.ChatMessage) error {
	if c.failAdd {
		return fmt.Errorf("store down")
	}
	c.seq++
	msg.ID = fmt.Sprintf("msg-%04d", c.seq)
	msg.Timestamp = time.Now().UnixMilli()
	c.msgs[msg.RoomID] = append(c.msgs[msg.RoomID], *msg)
	return nil
}

func (c *fakeChat) RoomHistory(ctx context.Context, roomID string, limit int) ([]models.ChatMessage, error) {
	c.lastLimit = limit
	history := c.msgs[roomID]
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history, nil
}

func testGateway(t *testing.T) (*Gateway, *fakeData, *fakeChat) {
	t.Helper()
	data := newFakeData()
	chat := newFakeChat()
	cfg := &config.Config{
		SendBuffer:      16,
		MaxMessageSize:  16 * 1024,
		RateLimitBurst:  100,
		RateLimitRefill: time.Second,
	}
	verifier := auth.NewVerifier("test-secret", data)
	gw := New(cfg, zerolog.Nop(), verifier, data, chat)
	return gw, data, chat
}

func connect(t *testing.T, gw *Gateway, name, connID string) (*fakeConn, *Session) {
	t.Helper()
	conn := newFakeConn(connID)
	sess := gw.Connect(conn, identity(name))
	return conn, sess
}

func frame(t *testing.T, gw *Gateway, conn *fakeConn, payload string) {
	t.Helper()
	gw.HandleFrame(context.Background(), conn, []byte(payload))
}

func join(t *testing.T, gw *Gateway, conn *fakeConn, roomID string, creator bool) {
	t.Helper()
	frame(t, gw, conn, fmt.Sprintf(`{"type":"join_room","roomId":%q,"isRoomCreator":%v}`, roomID, creator))
}

func TestConnectSendsWelcome(t *testing.T) {
	gw, _, _ := testGateway(t)
	conn, _ := connect(t, gw, "alice", "c1")

	if got := conn.eventTypes(); len(got) != 1 || got[0] != "connection_established" {
		t.Fatalf("events after connect = %v, want [connection_established]", got)
	}
}

func TestJoinRoomSequence(t *testing.T) {
	gw, _, _ := testGateway(t)
	conn, _ := connect(t, gw, "alice", "c1")

	join(t, gw, conn, "trip-1", true)

	want := []string{"connection_established", "chat_history", "room_users", "room_joined"}
	got := conn.eventTypes()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}

	var users struct {
		Users []RosterUser `json:"users"`
	}
	if !conn.lastOfType(t, "room_users", &users) {
		t.Fatal("no room_users event")
	}
	if len(users.Users) != 1 || !users.Users[0].IsCreator || !users.Users[0].IsOnline {
		t.Errorf("room_users = %+v, want single online creator", users.Users)
	}
}

// Full presence scenario: create, second join, disconnect, final leave.
func TestPresenceLifecycle(t *testing.T) {
	gw, _, _ := testGateway(t)
	aConn, _ := connect(t, gw, "alice", "c1")
	bConn, bSess := connect(t, gw, "bob", "c2")

	join(t, gw, aConn, "trip-1", true)
	join(t, gw, bConn, "trip-1", false)

	// Both receive the two-member roster; only alice sees user_joined.
	var users struct {
		Users []RosterUser `json:"users"`
	}
	for _, c := range []*fakeConn{aConn, bConn} {
		if !c.lastOfType(t, "room_users", &users) {
			t.Fatalf("%s missing room_users", c.ID())
		}
		if len(users.Users) != 2 {
			t.Fatalf("%s roster size = %d, want 2", c.ID(), len(users.Users))
		}
	}
	if aConn.countType("user_joined") != 1 {
		t.Error("alice did not receive user_joined for bob")
	}
	if bConn.countType("user_joined") != 0 {
		t.Error("bob received user_joined for his own join")
	}

	// Bob disconnects: alice sees him offline, room survives.
	gw.Disconnect(bConn)
	if !aConn.lastOfType(t, "room_users", &users) {
		t.Fatal("alice missing roster update after disconnect")
	}
	if len(users.Users) != 2 {
		t.Fatalf("roster size after disconnect = %d, want 2", len(users.Users))
	}
	for _, u := range users.Users {
		if u.ID == bSess.UserID.String() && u.IsOnline {
			t.Error("bob still online after disconnect")
		}
	}
	if gw.Registry().RoomCount() != 1 {
		t.Error("room deleted while a member is still online")
	}
	if aConn.countType("user_left") != 1 {
		t.Error("alice did not receive user_left")
	}

	// Alice leaves: room deleted, announced to every connection.
	frame(t, gw, aConn, `{"type":"leave_room"}`)
	if gw.Registry().RoomCount() != 0 {
		t.Error("room survived after last online member left")
	}
	var deleted struct {
		RoomID string `json:"roomId"`
	}
	if !aConn.lastOfType(t, "room_deleted", &deleted) {
		t.Fatal("no room_deleted event")
	}
	if deleted.RoomID != "trip-1" {
		t.Errorf("room_deleted room = %q, want trip-1", deleted.RoomID)
	}
}

func TestJoinSwitchesRooms(t *testing.T) {
	gw, _, _ := testGateway(t)
	aConn, _ := connect(t, gw, "alice", "c1")
	bConn, _ := connect(t, gw, "bob", "c2")

	join(t, gw, aConn, "trip-1", true)
	join(t, gw, bConn, "trip-1", false)
	join(t, gw, bConn, "trip-2", false)

	// Alice is told bob left trip-1; bob is in trip-2.
	if aConn.countType("user_left") != 1 {
		t.Error("old room not notified when member switched rooms")
	}
	sess := gw.Registry().SessionFor("c2")
	if sess.RoomID != "trip-2" {
		t.Errorf("session room = %q, want trip-2", sess.RoomID)
	}
}

func TestChatMessageEchoesToSender(t *testing.T) {
	gw, _, chat := testGateway(t)
	aConn, _ := connect(t, gw, "alice", "c1")
	bConn, _ := connect(t, gw, "bob", "c2")
	join(t, gw, aConn, "trip-1", true)
	join(t, gw, bConn, "trip-1", false)

	frame(t, gw, bConn, `{"type":"chat_message","roomId":"trip-1","text":"hello"}`)

	var msg struct {
		ID   string `json:"id"`
		Text string `json:"text"`
		User struct {
			Name string `json:"name"`
		} `json:"user"`
		Timestamp int64 `json:"timestamp"`
	}
	for _, c := range []*fakeConn{aConn, bConn} {
		if !c.lastOfType(t, "chat_message", &msg) {
			t.Fatalf("%s missing chat_message", c.ID())
		}
		if msg.ID == "" || msg.Timestamp == 0 {
			t.Errorf("%s got message without server id/timestamp: %+v", c.ID(), msg)
		}
		if msg.Text != "hello" || msg.User.Name != "bob" {
			t.Errorf("%s got %+v", c.ID(), msg)
		}
	}
	if len(chat.msgs["trip-1"]) != 1 {
		t.Errorf("persisted messages = %d, want 1", len(chat.msgs["trip-1"]))
	}
}

func TestChatMessageLegacyTripID(t *testing.T) {
	gw, _, chat := testGateway(t)
	conn, _ := connect(t, gw, "alice", "c1")
	join(t, gw, conn, "trip-1", true)

	frame(t, gw, conn, `{"type":"chat_message","tripId":"trip-1","text":"legacy"}`)

	if len(chat.msgs["trip-1"]) != 1 {
		t.Fatalf("persisted messages = %d, want 1", len(chat.msgs["trip-1"]))
	}
	if conn.countType("chat_message") != 1 {
		t.Error("sender did not receive echoed message")
	}
}

func TestChatMessageEmptyTextRejected(t *testing.T) {
	gw, _, chat := testGateway(t)
	conn, _ := connect(t, gw, "alice", "c1")
	join(t, gw, conn, "trip-1", true)

	frame(t, gw, conn, `{"type":"chat_message","roomId":"trip-1","text":"   "}`)

	if conn.countType("error") != 1 {
		t.Error("empty chat text did not produce an error reply")
	}
	if len(chat.msgs["trip-1"]) != 0 {
		t.Error("empty chat text was persisted")
	}
	if conn.countType("chat_message") != 0 {
		t.Error("empty chat text was broadcast")
	}
}

func TestChatPersistFailureNoBroadcast(t *testing.T) {
	gw, _, chat := testGateway(t)
	chat.failAdd = true
	aConn, _ := connect(t, gw, "alice", "c1")
	bConn, _ := connect(t, gw, "bob", "c2")
	join(t, gw, aConn, "trip-1", true)
	join(t, gw, bConn, "trip-1", false)

	frame(t, gw, bConn, `{"type":"chat_message","roomId":"trip-1","text":"hello"}`)

	var errEvt struct {
		Message string `json:"message"`
	}
	if !bConn.lastOfType(t, "error", &errEvt) {
		t.Fatal("sender did not receive error reply")
	}
	if errEvt.Message != "Failed to send message" {
		t.Errorf("error message = %q", errEvt.Message)
	}
	if aConn.countType("chat_message") != 0 {
		t.Error("failed message was still broadcast")
	}
}

func TestPreferencesExcludeSender(t *testing.T) {
	gw, data, _ := testGateway(t)
	aConn, _ := connect(t, gw, "alice", "c1")
	bConn, bSess := connect(t, gw, "bob", "c2")
	join(t, gw, aConn, "trip-1", true)
	join(t, gw, bConn, "trip-1", false)

	frame(t, gw, bConn, `{"type":"update_preferences","roomId":"trip-1","preferences":{"budget":"low"}}`)

	if aConn.countType("preferences_updated") != 1 {
		t.Error("room member did not receive preferences_updated")
	}
	if bConn.countType("preferences_updated") != 0 {
		t.Error("sender received its own preferences_updated")
	}
	rec, _ := data.GetPreferences(context.Background(), bSess.UserID, "trip-1")
	if rec == nil {
		t.Fatal("preferences not persisted")
	}
}

func TestPreferencesPersistFailure(t *testing.T) {
	gw, data, _ := testGateway(t)
	data.failPrefs = true
	aConn, _ := connect(t, gw, "alice", "c1")
	bConn, _ := connect(t, gw, "bob", "c2")
	join(t, gw, aConn, "trip-1", true)
	join(t, gw, bConn, "trip-1", false)

	frame(t, gw, bConn, `{"type":"update_preferences","roomId":"trip-1","preferences":{"budget":"low"}}`)

	var errEvt struct {
		Message string `json:"message"`
	}
	if !bConn.lastOfType(t, "error", &errEvt) || errEvt.Message != "Failed to update preferences" {
		t.Errorf("error reply = %+v, want Failed to update preferences", errEvt)
	}
	if aConn.countType("preferences_updated") != 0 {
		t.Error("partial update broadcast despite persistence failure")
	}
}

func TestTracingUpdate(t *testing.T) {
	gw, data, _ := testGateway(t)
	aConn, _ := connect(t, gw, "alice", "c1")
	bConn, bSess := connect(t, gw, "bob", "c2")
	join(t, gw, aConn, "trip-1", true)
	join(t, gw, bConn, "trip-1", false)

	frame(t, gw, bConn, `{"type":"update_trip_tracing","roomId":"trip-1","tripTracingState":{"leg":2}}`)

	if aConn.countType("trip_tracing_updated") != 1 {
		t.Error("room member did not receive trip_tracing_updated")
	}
	if bConn.countType("trip_tracing_updated") != 0 {
		t.Error("sender received its own trip_tracing_updated")
	}
	rec, _ := data.GetTracing(context.Background(), bSess.UserID, "trip-1")
	if rec == nil {
		t.Fatal("tracing state not persisted")
	}
}

func TestTypingStatusEphemeral(t *testing.T) {
	gw, _, _ := testGateway(t)
	aConn, _ := connect(t, gw, "alice", "c1")
	bConn, _ := connect(t, gw, "bob", "c2")
	join(t, gw, aConn, "trip-1", true)
	join(t, gw, bConn, "trip-1", false)

	frame(t, gw, bConn, `{"type":"typing_status","roomId":"trip-1","isTyping":true}`)

	if aConn.countType("typing_status") != 1 {
		t.Error("room member did not receive typing_status")
	}
	if bConn.countType("typing_status") != 0 {
		t.Error("sender received its own typing indicator")
	}
}

func TestPingPong(t *testing.T) {
	gw, _, _ := testGateway(t)
	conn, _ := connect(t, gw, "alice", "c1")

	frame(t, gw, conn, `{"type":"ping"}`)

	if conn.countType("pong") != 1 {
		t.Errorf("events = %v, want a pong", conn.eventTypes())
	}
}

func TestUnknownTypeRejected(t *testing.T) {
	gw, _, _ := testGateway(t)
	conn, _ := connect(t, gw, "alice", "c1")

	frame(t, gw, conn, `{"type":"teleport"}`)

	var errEvt struct {
		Message string `json:"message"`
	}
	if !conn.lastOfType(t, "error", &errEvt) {
		t.Fatal("no error reply for unknown type")
	}
	if errEvt.Message != "unknown message type: teleport" {
		t.Errorf("error message = %q", errEvt.Message)
	}
}

func TestMalformedFrameRejected(t *testing.T) {
	gw, _, _ := testGateway(t)
	conn, _ := connect(t, gw, "alice", "c1")

	frame(t, gw, conn, `not json at all`)

	if conn.countType("error") != 1 {
		t.Error("malformed frame did not produce an error reply")
	}
	// The connection survives.
	frame(t, gw, conn, `{"type":"ping"}`)
	if conn.countType("pong") != 1 {
		t.Error("connection unusable after malformed frame")
	}
}

func TestLeaveWithoutRoomRejected(t *testing.T) {
	gw, _, _ := testGateway(t)
	conn, _ := connect(t, gw, "alice", "c1")

	frame(t, gw, conn, `{"type":"leave_room"}`)

	if conn.countType("error") != 1 {
		t.Error("leave without a room did not produce an error reply")
	}
}

func TestJoinHistoryReplayedToJoinerOnly(t *testing.T) {
	gw, _, _ := testGateway(t)
	aConn, _ := connect(t, gw, "alice", "c1")
	join(t, gw, aConn, "trip-1", true)
	frame(t, gw, aConn, `{"type":"chat_message","roomId":"trip-1","text":"first"}`)
	frame(t, gw, aConn, `{"type":"chat_message","roomId":"trip-1","text":"second"}`)

	bConn, _ := connect(t, gw, "bob", "c2")
	join(t, gw, bConn, "trip-1", false)

	var history struct {
		Messages []HistoryMessage `json:"messages"`
	}
	if !bConn.lastOfType(t, "chat_history", &history) {
		t.Fatal("joiner missing chat_history")
	}
	if len(history.Messages) != 2 {
		t.Fatalf("history size = %d, want 2", len(history.Messages))
	}
	if history.Messages[0].Text != "first" || history.Messages[1].Text != "second" {
		t.Errorf("history not in ascending order: %+v", history.Messages)
	}
	if aConn.countType("chat_history") != 1 {
		t.Error("existing member received another chat_history on someone else's join")
	}
}

func TestJoinWithShareCode(t *testing.T) {
	gw, data, _ := testGateway(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("opensesame"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	data.shareHashes["trip-private"] = string(hash)

	conn, _ := connect(t, gw, "alice", "c1")

	frame(t, gw, conn, `{"type":"join_room","roomId":"trip-private","shareCode":"wrong"}`)
	var errEvt struct {
		Message string `json:"message"`
	}
	if !conn.lastOfType(t, "error", &errEvt) || errEvt.Message != "invalid share code" {
		t.Fatalf("wrong share code reply = %+v", errEvt)
	}
	if gw.Registry().SessionFor("c1").RoomID != "" {
		t.Fatal("joined despite wrong share code")
	}

	frame(t, gw, conn, `{"type":"join_room","roomId":"trip-private","shareCode":"opensesame"}`)
	if gw.Registry().SessionFor("c1").RoomID != "trip-private" {
		t.Error("correct share code did not join")
	}
}

func TestJoinHistoryBounded(t *testing.T) {
	gw, _, chat := testGateway(t)
	for i := 1; i <= 60; i++ {
		chat.AddMessage(context.Background(),
			&models.ChatMessage{RoomID: "trip-1", UserID: "u", UserName: "u", Text: fmt.Sprintf("m%02d", i)})
	}
	chat.AddMessage(context.Background(),
		&models.ChatMessage{RoomID: "trip-2", UserID: "u", UserName: "u", Text: "elsewhere"})

	conn, _ := connect(t, gw, "alice", "c1")
	join(t, gw, conn, "trip-1", true)

	if chat.lastLimit != store.HistoryLimit {
		t.Errorf("history requested with limit %d, want %d", chat.lastLimit, store.HistoryLimit)
	}

	var history struct {
		Messages []HistoryMessage `json:"messages"`
	}
	if !conn.lastOfType(t, "chat_history", &history) {
		t.Fatal("joiner missing chat_history")
	}
	if len(history.Messages) != store.HistoryLimit {
		t.Fatalf("history size = %d, want %d", len(history.Messages), store.HistoryLimit)
	}
	// The newest 50, ascending, for this room only.
	if history.Messages[0].Text != "m11" || history.Messages[len(history.Messages)-1].Text != "m60" {
		t.Errorf("history spans %q..%q, want m11..m60",
			history.Messages[0].Text, history.Messages[len(history.Messages)-1].Text)
	}
	for _, m := range history.Messages {
		if m.Text == "elsewhere" {
			t.Error("history contains another room's message")
		}
	}
}

func TestSecondDeviceEvictionAnnounced(t *testing.T) {
	gw, _, _ := testGateway(t)
	a1Conn, aSess := connect(t, gw, "alice", "c1")
	bConn, _ := connect(t, gw, "bob", "c2")
	join(t, gw, a1Conn, "trip-1", true)
	join(t, gw, bConn, "trip-1", false)

	// Alice connects from a second device without leaving first.
	a2Conn := newFakeConn("c3")
	gw.Connect(a2Conn, &auth.Identity{ID: aSess.UserID, Name: "alice", Email: "alice@example.com"})

	if bConn.countType("user_left") != 1 {
		t.Error("room not told the replaced device left")
	}
	var users struct {
		Users []RosterUser `json:"users"`
	}
	if !bConn.lastOfType(t, "room_users", &users) {
		t.Fatal("no roster update after eviction")
	}
	if len(users.Users) != 2 {
		t.Fatalf("roster size = %d, want 2", len(users.Users))
	}
	for _, u := range users.Users {
		if u.ID == aSess.UserID.String() && u.IsOnline {
			t.Error("replaced device's member still online")
		}
	}

	// Both real sockets close; nothing may linger.
	gw.Disconnect(a2Conn)
	gw.Disconnect(bConn)
	gw.Disconnect(a1Conn) // stale socket, no-op
	if gw.Registry().RoomCount() != 0 {
		t.Errorf("room count = %d after every socket closed, want 0", gw.Registry().RoomCount())
	}
}

func TestSecondDeviceEvictionReclaimsRoom(t *testing.T) {
	gw, _, _ := testGateway(t)
	a1Conn, aSess := connect(t, gw, "alice", "c1")
	join(t, gw, a1Conn, "trip-1", true)

	a2Conn := newFakeConn("c2")
	gw.Connect(a2Conn, &auth.Identity{ID: aSess.UserID, Name: "alice", Email: "alice@example.com"})

	if gw.Registry().RoomCount() != 0 {
		t.Error("room survived after its only online member was evicted")
	}
	var deleted struct {
		RoomID string `json:"roomId"`
	}
	if !a1Conn.lastOfType(t, "room_deleted", &deleted) || deleted.RoomID != "trip-1" {
		t.Errorf("stale device missed room_deleted: %+v", deleted)
	}
}

func TestConnectionGaugeBalancedAfterDeviceOverwrite(t *testing.T) {
	gw, _, _ := testGateway(t)
	baseline := testutil.ToFloat64(metrics.ActiveConnections)

	conn, sess := connect(t, gw, "alice", "c1")
	replacement := newFakeConn("c2")
	gw.Connect(replacement, &auth.Identity{ID: sess.UserID, Name: "alice", Email: "alice@example.com"})

	gw.Disconnect(replacement)
	gw.Disconnect(conn) // stale socket, no-op

	if got := testutil.ToFloat64(metrics.ActiveConnections); got != baseline {
		t.Errorf("active connections gauge = %v after all sockets closed, want %v", got, baseline)
	}
}

func TestBroadcastSurvivesSlowSocket(t *testing.T) {
	gw, _, _ := testGateway(t)
	aConn, _ := connect(t, gw, "alice", "c1")
	bConn, _ := connect(t, gw, "bob", "c2")
	join(t, gw, aConn, "trip-1", true)
	join(t, gw, bConn, "trip-1", false)

	aConn.full = true // saturated outbound queue
	frame(t, gw, bConn, `{"type":"chat_message","roomId":"trip-1","text":"hello"}`)

	if bConn.countType("chat_message") != 1 {
		t.Error("delivery to healthy socket blocked by slow one")
	}
}
