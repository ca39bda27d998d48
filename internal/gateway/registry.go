package gateway

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/FlyingWhaleisME/where-to-next-sub000/internal/auth"
)

// Conn is the transport half the registry needs from a connection.
// *Client implements it; tests substitute their own.
type Conn interface {
	ID() string
	Send(payload []byte) bool
	Close()
}

// Session is the live binding between one authenticated connection and its
// identity and current room.
type Session struct {
	Conn   Conn
	UserID uuid.UUID
	Name   string
	Email  string
	RoomID string // "" while not in a room
}

// Member is the durable record of a user's participation in a room,
// independent of current connectivity.
type Member struct {
	UserID   uuid.UUID
	Name     string
	Email    string
	JoinedAt time.Time
	LastSeen time.Time
	Online   bool
}

// room tracks live sockets and the member registry for one room.
type room struct {
	creatorID uuid.UUID // zero value until a creator is recorded
	members   map[uuid.UUID]*Member
	conns     map[string]Conn // connID -> conn
}

func (r *room) onlineCount() int {
	n := 0
	for _, m := range r.members {
		if m.Online {
			n++
		}
	}
	return n
}

func (r *room) roster() []RosterUser {
	users := make([]RosterUser, 0, len(r.members))
	for _, m := range r.members {
		users = append(users, RosterUser{
			ID:        m.UserID.String(),
			Name:      m.Name,
			Email:     m.Email,
			IsOnline:  m.Online,
			JoinedAt:  m.JoinedAt,
			LastSeen:  m.LastSeen,
			IsCreator: m.UserID == r.creatorID,
		})
	}
	return users
}

func (r *room) connList() []Conn {
	conns := make([]Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}

// JoinResult reports the outcome of a join and the sockets to notify.
type JoinResult struct {
	Rejoined bool // user was already a member of the room
	Roster   []RosterUser
	Conns    []Conn // live sockets in the room, including the joiner
}

// LeaveResult reports the outcome of a leave or disconnect.
type LeaveResult struct {
	RoomID  string
	Left    bool   // false when the session had no current room
	Deleted bool   // the room was reclaimed
	Roster  []RosterUser
	Conns   []Conn // remaining room sockets (when not deleted)
	All     []Conn // every open socket on the server (when deleted)
}

// Registry owns the session and room tables. A single mutex serializes all
// mutations; handlers hold a *Registry, never ambient global state.
type Registry struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*Session // userID -> session
	byConn   map[string]*Session    // connID -> session
	rooms    map[string]*room
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[uuid.UUID]*Session),
		byConn:   make(map[string]*Session),
		rooms:    make(map[string]*room),
	}
}

// Register binds a connection to an authenticated identity. A later
// connection from the same user overwrites the prior entry: the prior
// device's session runs the full leave transitions (so its member record
// goes offline and an emptied room is reclaimed), its socket is left open
// but unbound, and its eventual disconnect is a no-op. The returned prior
// session and LeaveResult let the caller announce the eviction.
func (r *Registry) Register(conn Conn, ident *auth.Identity) (*Session, *Session, LeaveResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var prior *Session
	var evicted LeaveResult
	if p, ok := r.sessions[ident.ID]; ok {
		prior = p
		evicted = r.leaveLocked(p)
		delete(r.byConn, p.Conn.ID())
	}

	sess := &Session{
		Conn:   conn,
		UserID: ident.ID,
		Name:   ident.Name,
		Email:  ident.Email,
	}
	r.sessions[ident.ID] = sess
	r.byConn[conn.ID()] = sess
	return sess, prior, evicted
}

// Lookup returns the session for a user id, or nil.
func (r *Registry) Lookup(userID uuid.UUID) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[userID]
}

// SessionFor returns the session bound to a connection id, or nil.
func (r *Registry) SessionFor(connID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byConn[connID]
}

// Join moves a session into a room, creating the room and member record as
// needed. A rejoin flips the member online and refreshes the display name
// but preserves the original joined-at timestamp. Creator assignment is
// sticky: once recorded it is never transferred while the room exists.
func (r *Registry) Join(sess *Session, roomID string, asCreator bool) JoinResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		rm = &room{
			members: make(map[uuid.UUID]*Member),
			conns:   make(map[string]Conn),
		}
		r.rooms[roomID] = rm
	}

	now := time.Now()
	res := JoinResult{}

	if m, ok := rm.members[sess.UserID]; ok {
		m.Online = true
		m.LastSeen = now
		m.Name = sess.Name // names may change between sessions
		m.Email = sess.Email
		res.Rejoined = true
	} else {
		rm.members[sess.UserID] = &Member{
			UserID:   sess.UserID,
			Name:     sess.Name,
			Email:    sess.Email,
			JoinedAt: now,
			LastSeen: now,
			Online:   true,
		}
	}

	if rm.creatorID == uuid.Nil && asCreator {
		rm.creatorID = sess.UserID
	}

	rm.conns[sess.Conn.ID()] = sess.Conn
	sess.RoomID = roomID

	res.Roster = rm.roster()
	res.Conns = rm.connList()
	return res
}

// Leave takes a session out of its current room. The member record is
// retained offline; when the last online member leaves, the whole room is
// deleted and every open socket on the server must be told. Leaving an
// already-deleted room is a no-op.
func (r *Registry) Leave(sess *Session) LeaveResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(sess)
}

func (r *Registry) leaveLocked(sess *Session) LeaveResult {
	res := LeaveResult{RoomID: sess.RoomID}
	if sess.RoomID == "" {
		return res
	}

	roomID := sess.RoomID
	sess.RoomID = ""

	rm, ok := r.rooms[roomID]
	if !ok {
		return res
	}
	res.Left = true

	delete(rm.conns, sess.Conn.ID())
	if m, ok := rm.members[sess.UserID]; ok {
		m.Online = false
		m.LastSeen = time.Now()
	}

	if rm.onlineCount() == 0 {
		delete(r.rooms, roomID)
		res.Deleted = true
		res.All = r.allConnsLocked()
		return res
	}

	res.Roster = rm.roster()
	res.Conns = rm.connList()
	return res
}

// Disconnect releases a connection: its session is removed and, when the
// session was in a room, the leave transitions run exactly as for an
// explicit leave_room.
func (r *Registry) Disconnect(connID string) (LeaveResult, *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.byConn[connID]
	if !ok {
		// Already-detached device (overwritten by a newer login) or a
		// socket that never authenticated.
		return LeaveResult{}, nil
	}

	res := r.leaveLocked(sess)
	delete(r.byConn, connID)
	if current, ok := r.sessions[sess.UserID]; ok && current == sess {
		delete(r.sessions, sess.UserID)
	}
	return res, sess
}

// RoomConns returns the live sockets currently in a room.
func (r *Registry) RoomConns(roomID string) []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	return rm.connList()
}

// AllConns returns every socket bound to a session.
func (r *Registry) AllConns() []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.allConnsLocked()
}

func (r *Registry) allConnsLocked() []Conn {
	conns := make([]Conn, 0, len(r.byConn))
	for _, s := range r.byConn {
		conns = append(conns, s.Conn)
	}
	return conns
}

// Roster returns the member list for a room, or nil when the room does not
// exist.
func (r *Registry) Roster(roomID string) []RosterUser {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	return rm.roster()
}

// RoomCount returns the number of live rooms.
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}
