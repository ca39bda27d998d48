// Package gateway implements the real-time collaboration core: it
// authenticates WebSocket connections, tracks room membership and presence,
// routes inbound frames to handlers, and fans events out to room
// participants.
package gateway

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/FlyingWhaleisME/where-to-next-sub000/internal/auth"
	"github.com/FlyingWhaleisME/where-to-next-sub000/internal/config"
	"github.com/FlyingWhaleisME/where-to-next-sub000/internal/metrics"
	"github.com/FlyingWhaleisME/where-to-next-sub000/internal/models"
	"github.com/FlyingWhaleisME/where-to-next-sub000/internal/store"
)

// Gateway owns the registries and dispatches inbound frames. One instance
// serves the whole process.
type Gateway struct {
	cfg      *config.Config
	log      zerolog.Logger
	verifier *auth.Verifier
	reg      *Registry
	data     store.DataStore
	chats    store.ChatStore
}

// New creates a Gateway.
func New(cfg *config.Config, logger zerolog.Logger, verifier *auth.Verifier, data store.DataStore, chats store.ChatStore) *Gateway {
	return &Gateway{
		cfg:      cfg,
		log:      logger,
		verifier: verifier,
		reg:      NewRegistry(),
		data:     data,
		chats:    chats,
	}
}

// Registry exposes the session/room registry, mainly for tests and the
// health surface.
func (g *Gateway) Registry() *Registry {
	return g.reg
}

// Connect registers an authenticated connection and sends the welcome
// event. When the same user was already connected on another device, that
// device's session is evicted first: its room sees the usual leave
// announcements and its gauge entry is released here, since its own
// disconnect will no longer find a session.
func (g *Gateway) Connect(conn Conn, ident *auth.Identity) *Session {
	sess, prior, evicted := g.reg.Register(conn, ident)
	if prior != nil {
		metrics.ActiveConnections.Dec()
		g.announceLeave(evicted, sess)
		metrics.ActiveRooms.Set(float64(g.reg.RoomCount()))
	}
	metrics.ActiveConnections.Inc()

	g.log.Info().
		Str("conn_id", conn.ID()).
		Str("user_id", ident.ID.String()).
		Msg("connection established")

	conn.Send(evtConnectionEstablished(UserInfo{ID: ident.ID.String(), Name: ident.Name}))
	return sess
}

// Disconnect runs the leave transitions for a closed socket and releases
// its session. Safe to call for sockets that never registered.
func (g *Gateway) Disconnect(conn Conn) {
	res, sess := g.reg.Disconnect(conn.ID())
	if sess == nil {
		return
	}
	metrics.ActiveConnections.Dec()
	metrics.ActiveRooms.Set(float64(g.reg.RoomCount()))

	g.log.Info().
		Str("conn_id", conn.ID()).
		Str("user_id", sess.UserID.String()).
		Msg("connection closed")

	g.announceLeave(res, sess)
}

// HandleFrame processes one inbound frame from an authenticated
// connection. Frames from the same connection arrive here in receipt
// order; the read pump does not advance until this returns.
func (g *Gateway) HandleFrame(ctx context.Context, conn Conn, raw []byte) {
	sess := g.reg.SessionFor(conn.ID())
	if sess == nil {
		return
	}

	frame, err := DecodeInbound(raw)
	if err != nil {
		var unknown *UnknownTypeError
		if errors.As(err, &unknown) {
			metrics.FramesReceived.WithLabelValues("unknown").Inc()
		} else {
			metrics.FramesReceived.WithLabelValues("malformed").Inc()
		}
		conn.Send(evtError(err.Error()))
		return
	}

	switch f := frame.(type) {
	case *JoinRoomFrame:
		metrics.FramesReceived.WithLabelValues(kindJoinRoom).Inc()
		g.handleJoin(ctx, sess, f)
	case *LeaveRoomFrame:
		metrics.FramesReceived.WithLabelValues(kindLeaveRoom).Inc()
		g.handleLeave(sess)
	case *ChatMessageFrame:
		metrics.FramesReceived.WithLabelValues(kindChatMessage).Inc()
		g.handleChat(ctx, sess, f)
	case *UpdatePreferencesFrame:
		metrics.FramesReceived.WithLabelValues(kindUpdatePreferences).Inc()
		g.handlePreferences(ctx, sess, f)
	case *UpdateTracingFrame:
		metrics.FramesReceived.WithLabelValues(kindUpdateTracing).Inc()
		g.handleTracing(ctx, sess, f)
	case *TypingStatusFrame:
		metrics.FramesReceived.WithLabelValues(kindTypingStatus).Inc()
		g.handleTyping(sess, f)
	case *PingFrame:
		metrics.FramesReceived.WithLabelValues(kindPing).Inc()
		sess.Conn.Send(evtPong())
	}
}

func (g *Gateway) handleJoin(ctx context.Context, sess *Session, f *JoinRoomFrame) {
	if f.RoomID == "" {
		sess.Conn.Send(evtError("roomId is required"))
		return
	}

	// Rooms provisioned with a share code by the trip API require it on
	// join; rooms without a stored hash are open.
	hash, err := g.data.GetRoomShareHash(ctx, f.RoomID)
	if err != nil {
		g.log.Error().Err(err).Str("room_id", f.RoomID).Msg("share code lookup failed")
		sess.Conn.Send(evtError("Failed to join room"))
		return
	}
	if hash != "" {
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(f.ShareCode)) != nil {
			sess.Conn.Send(evtError("invalid share code"))
			return
		}
	}

	if sess.RoomID != "" && sess.RoomID != f.RoomID {
		g.announceLeave(g.reg.Leave(sess), sess)
	}

	res := g.reg.Join(sess, f.RoomID, f.IsRoomCreator)
	metrics.ActiveRooms.Set(float64(g.reg.RoomCount()))

	g.log.Info().
		Str("room_id", f.RoomID).
		Str("user_id", sess.UserID.String()).
		Bool("rejoined", res.Rejoined).
		Msg("user joined room")

	// Replay history to the joiner only.
	history, err := g.chats.RoomHistory(ctx, f.RoomID, store.HistoryLimit)
	if err != nil {
		g.log.Error().Err(err).Str("room_id", f.RoomID).Msg("chat history load failed")
		sess.Conn.Send(evtError("Failed to load chat history"))
	} else {
		sess.Conn.Send(evtChatHistory(history))
	}

	user := UserInfo{ID: sess.UserID.String(), Name: sess.Name}
	g.deliver(res.Conns, evtUserJoined(f.RoomID, user), sess.Conn)
	g.deliver(res.Conns, evtRoomUsers(f.RoomID, res.Roster), nil)
	sess.Conn.Send(evtRoomJoined(f.RoomID))
}

func (g *Gateway) handleLeave(sess *Session) {
	if sess.RoomID == "" {
		sess.Conn.Send(evtError("not in a room"))
		return
	}
	g.announceLeave(g.reg.Leave(sess), sess)
	metrics.ActiveRooms.Set(float64(g.reg.RoomCount()))
}

// announceLeave broadcasts the consequences of a leave: either the updated
// roster to the room, or a server-wide room_deleted when the room was
// reclaimed. A no-op result (already-deleted room) announces nothing.
func (g *Gateway) announceLeave(res LeaveResult, sess *Session) {
	if !res.Left {
		return
	}

	user := UserInfo{ID: sess.UserID.String(), Name: sess.Name}

	if res.Deleted {
		g.log.Info().Str("room_id", res.RoomID).Msg("room deleted")
		g.deliver(res.All, evtRoomDeleted(res.RoomID), nil)
		return
	}

	g.deliver(res.Conns, evtUserLeft(res.RoomID, user), nil)
	g.deliver(res.Conns, evtRoomUsers(res.RoomID, res.Roster), nil)
}

func (g *Gateway) handleChat(ctx context.Context, sess *Session, f *ChatMessageFrame) {
	roomID := f.Room()
	if roomID == "" {
		sess.Conn.Send(evtError("roomId is required"))
		return
	}
	text := strings.TrimSpace(f.Text)
	if text == "" {
		sess.Conn.Send(evtError("message text is required"))
		return
	}

	msg := &models.ChatMessage{
		RoomID:   roomID,
		UserID:   sess.UserID.String(),
		UserName: sess.Name,
		Text:     text,
	}
	if err := g.chats.AddMessage(ctx, msg); err != nil {
		metrics.PersistenceFailures.WithLabelValues("chat").Inc()
		g.log.Error().Err(err).Str("room_id", roomID).Msg("chat persist failed")
		sess.Conn.Send(evtError("Failed to send message"))
		return
	}

	// The sender sees its own message echoed with the server-assigned id
	// and timestamp.
	g.deliver(g.reg.RoomConns(roomID), evtChatMessage(msg), nil)
}

func (g *Gateway) handlePreferences(ctx context.Context, sess *Session, f *UpdatePreferencesFrame) {
	if f.RoomID == "" {
		sess.Conn.Send(evtError("roomId is required"))
		return
	}
	if len(f.Preferences) == 0 {
		sess.Conn.Send(evtError("preferences is required"))
		return
	}

	if err := g.data.UpsertPreferences(ctx, sess.UserID, f.RoomID, f.Preferences); err != nil {
		metrics.PersistenceFailures.WithLabelValues("preferences").Inc()
		g.log.Error().Err(err).Str("room_id", f.RoomID).Msg("preferences persist failed")
		sess.Conn.Send(evtError("Failed to update preferences"))
		return
	}

	user := UserInfo{ID: sess.UserID.String(), Name: sess.Name}
	g.deliver(g.reg.RoomConns(f.RoomID), evtPreferencesUpdated(f.RoomID, user, f.Preferences), sess.Conn)
}

func (g *Gateway) handleTracing(ctx context.Context, sess *Session, f *UpdateTracingFrame) {
	if f.RoomID == "" {
		sess.Conn.Send(evtError("roomId is required"))
		return
	}
	if len(f.TripTracingState) == 0 {
		sess.Conn.Send(evtError("tripTracingState is required"))
		return
	}

	if err := g.data.UpsertTracing(ctx, sess.UserID, f.RoomID, f.TripTracingState); err != nil {
		metrics.PersistenceFailures.WithLabelValues("tracing").Inc()
		g.log.Error().Err(err).Str("room_id", f.RoomID).Msg("tracing persist failed")
		sess.Conn.Send(evtError("Failed to update trip tracing"))
		return
	}

	user := UserInfo{ID: sess.UserID.String(), Name: sess.Name}
	g.deliver(g.reg.RoomConns(f.RoomID), evtTracingUpdated(f.RoomID, user, f.TripTracingState), sess.Conn)
}

func (g *Gateway) handleTyping(sess *Session, f *TypingStatusFrame) {
	if f.RoomID == "" {
		sess.Conn.Send(evtError("roomId is required"))
		return
	}
	user := UserInfo{ID: sess.UserID.String(), Name: sess.Name}
	g.deliver(g.reg.RoomConns(f.RoomID), evtTypingStatus(f.RoomID, user, f.IsTyping), sess.Conn)
}

// deliver writes a payload to every conn except exclude. Delivery is
// best-effort per socket; a full or closed socket never blocks the rest.
func (g *Gateway) deliver(conns []Conn, payload []byte, exclude Conn) {
	for _, c := range conns {
		if exclude != nil && c.ID() == exclude.ID() {
			continue
		}
		if c.Send(payload) {
			metrics.BroadcastsDelivered.Inc()
		} else {
			g.log.Warn().Str("conn_id", c.ID()).Msg("dropped event for slow connection")
		}
	}
}

// Shutdown closes every live connection. Registries empty out as the
// disconnect paths run.
func (g *Gateway) Shutdown() {
	for _, c := range g.reg.AllConns() {
		c.Close()
	}
}
