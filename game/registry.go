package game

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Session ties a live connection to its player and room.
type Session struct {
	PlayerID string
	RoomID   string
}

type pendingEviction struct {
	roomID string
	timer  *time.Timer
}

// Registry maps connection ids to sessions and back-stops disconnects
// with a grace window: a drop starts a cancelable timer instead of
// evicting immediately, so a page refresh or flaky network hop does not
// cost the player their slot.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]Session
	pending  map[string]pendingEviction

	grace time.Duration
	evict func(roomID, playerID string)
	log   zerolog.Logger
}

func NewRegistry(grace time.Duration, log zerolog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]Session),
		pending:  make(map[string]pendingEviction),
		grace:    grace,
		log:      log,
	}
}

// SetEvictFunc wires the action taken when a grace timer fires. Called
// once at startup, before any connection is served.
func (r *Registry) SetEvictFunc(evict func(roomID, playerID string)) {
	r.evict = evict
}

func (r *Registry) Associate(connID string, s Session) {
	r.mu.Lock()
	r.sessions[connID] = s
	r.mu.Unlock()
}

func (r *Registry) Lookup(connID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[connID]
	return s, ok
}

// Drop removes a mapping without any grace handling; used on explicit
// leave, where the player already said goodbye.
func (r *Registry) Drop(connID string) {
	r.mu.Lock()
	delete(r.sessions, connID)
	r.mu.Unlock()
}

// OnDisconnect unbinds the connection and arms the eviction timer for
// its player. Nothing happens for connections that never joined.
func (r *Registry) OnDisconnect(connID string) {
	r.mu.Lock()
	s, ok := r.sessions[connID]
	delete(r.sessions, connID)
	if !ok {
		r.mu.Unlock()
		return
	}
	timer := time.AfterFunc(r.grace, func() { r.expire(s.PlayerID) })
	r.pending[s.PlayerID] = pendingEviction{roomID: s.RoomID, timer: timer}
	r.mu.Unlock()
	r.log.Debug().Str("player_id", s.PlayerID).Str("room_id", s.RoomID).Dur("grace", r.grace).Msg("disconnect grace started")
}

// Resume rebinds a returning player to a new connection, provided the
// grace timer has not fired yet. After the timer fires the slot is gone
// and the client has to join afresh.
func (r *Registry) Resume(connID, playerID, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[playerID]
	if !ok || p.roomID != roomID {
		return ErrUnauthorized
	}
	p.timer.Stop()
	delete(r.pending, playerID)
	r.sessions[connID] = Session{PlayerID: playerID, RoomID: roomID}
	r.log.Debug().Str("player_id", playerID).Str("room_id", roomID).Msg("reconnect within grace window")
	return nil
}

func (r *Registry) expire(playerID string) {
	r.mu.Lock()
	p, ok := r.pending[playerID]
	if !ok {
		// Resume won the race; nothing to do.
		r.mu.Unlock()
		return
	}
	delete(r.pending, playerID)
	evict := r.evict
	r.mu.Unlock()

	r.log.Info().Str("player_id", playerID).Str("room_id", p.roomID).Msg("disconnect grace elapsed, evicting")
	if evict != nil {
		evict(p.roomID, playerID)
	}
}
