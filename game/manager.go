package game

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"playsync/storage"
)

const maxCodeAttempts = 64

// ManagerOptions carries the room-level tunables; engine timings ride
// along because the manager instantiates the round engine.
type ManagerOptions struct {
	RoomTTL    time.Duration
	MaxPlayers int
	Engine     EngineOptions
}

// Manager owns room existence and every invariant over it: capacity,
// slot ordering, atomic join/leave, expiry. The global lock guards only
// the rooms map; each room's own lock guards its contents, so unrelated
// rooms never contend. Lock order is global-then-room, and no method
// acquires the global lock while holding a room lock.
type Manager struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	store   *storage.Store
	codes   CodeGenerator
	tickers PeriodicTickerChannelCreator
	opts    ManagerOptions
	log     zerolog.Logger
}

func NewManager(store *storage.Store, codes CodeGenerator, tickers PeriodicTickerChannelCreator, opts ManagerOptions, log zerolog.Logger) *Manager {
	if opts.MaxPlayers <= 0 {
		opts.MaxPlayers = 2
	}
	m := &Manager{
		rooms:   make(map[string]*Room),
		store:   store,
		codes:   codes,
		tickers: tickers,
		opts:    opts,
		log:     log,
	}
	m.restore()
	return m
}

// restore rebuilds room shells from the backing store. Connections are
// gone after a restart, so the persisted player list is not rehydrated
// into live slots; clients re-join with the same room code.
func (m *Manager) restore() {
	records := m.store.All()
	for _, rec := range records {
		room := &Room{
			Code:         rec.RoomID,
			CreatedAt:    rec.CreatedAt,
			MaxPlayers:   rec.MaxPlayers,
			expiresAt:    rec.ExpiresAt,
			lastActivity: rec.CreatedAt,
			players:      make([]*Player, 0, rec.MaxPlayers),
		}
		m.rooms[rec.RoomID] = room
	}
	if len(records) > 0 {
		m.log.Info().Int("rooms", len(records)).Msg("restored persisted rooms")
	}
}

// CreateRoom allocates a room under a fresh collision-checked code.
func (m *Manager) CreateRoom(now time.Time) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for range maxCodeAttempts {
		code := m.codes.Generate()
		if _, taken := m.rooms[code]; taken {
			continue
		}
		room := newRoom(code, now, m.opts.RoomTTL, m.opts.MaxPlayers)
		m.rooms[code] = room
		m.store.Put(room.recordLocked())
		m.log.Info().Str("room_id", code).Msg("room created")
		return room, nil
	}
	m.log.Error().Msg("room code space exhausted")
	return nil, ErrExhausted
}

func (m *Manager) lookup(code string) *Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rooms[code]
}

// Snapshot returns the current state of a room.
func (m *Manager) Snapshot(code string) (RoomSnapshot, error) {
	room := m.lookup(code)
	if room == nil {
		return RoomSnapshot{}, ErrRoomNotFound
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	if room.closed {
		return RoomSnapshot{}, ErrRoomNotFound
	}
	return room.snapshotLocked(), nil
}

// JoinRoom admits a player. Capacity check and slot append happen in
// one critical section under the room lock, so two concurrent joiners
// can never both land in the last slot.
func (m *Manager) JoinRoom(code, displayName, avatarColor string, conn Conn, now time.Time) (JoinResult, []sendTask, error) {
	room := m.lookup(code)
	if room == nil {
		return JoinResult{}, nil, ErrRoomNotFound
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.closed {
		return JoinResult{}, nil, ErrRoomNotFound
	}
	if !room.expiresAt.After(now) {
		return JoinResult{}, nil, ErrRoomExpired
	}
	if len(room.players) >= room.MaxPlayers {
		return JoinResult{}, nil, ErrRoomFull
	}

	player := &Player{
		ID:          uuid.NewString(),
		DisplayName: displayName,
		AvatarColor: avatarColor,
		JoinedAt:    now,
		conn:        conn,
	}
	room.players = append(room.players, player)
	room.touchLocked(now, m.opts.RoomTTL)
	m.store.Put(room.recordLocked())

	snap := room.snapshotLocked()
	tasks := room.broadcastOthersLocked(MakeEventRoomUpdated(snap), player.ID)

	m.log.Info().Str("room_id", code).Str("player_id", player.ID).Int("slot", len(room.players)-1).Msg("player joined")
	return JoinResult{PlayerID: player.ID, Slot: len(room.players) - 1, Room: snap}, tasks, nil
}

// Rebind attaches a reconnecting player's new connection.
func (m *Manager) Rebind(code, playerID string, conn Conn, now time.Time) (RoomSnapshot, []sendTask, error) {
	room := m.lookup(code)
	if room == nil {
		return RoomSnapshot{}, nil, ErrRoomNotFound
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.closed {
		return RoomSnapshot{}, nil, ErrRoomNotFound
	}
	idx := room.slotLocked(playerID)
	if idx < 0 {
		return RoomSnapshot{}, nil, ErrUnauthorized
	}
	room.players[idx].conn = conn
	room.touchLocked(now, m.opts.RoomTTL)

	snap := room.snapshotLocked()
	tasks := room.broadcastOthersLocked(MakeEventRoomUpdated(snap), playerID)
	m.log.Info().Str("room_id", code).Str("player_id", playerID).Msg("player reconnected")
	return snap, tasks, nil
}

// PlayerDisconnected detaches the connection but keeps the slot; the
// session registry decides later whether the player comes back or gets
// evicted through LeaveRoom.
func (m *Manager) PlayerDisconnected(code, playerID string) []sendTask {
	room := m.lookup(code)
	if room == nil {
		return nil
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	idx := room.slotLocked(playerID)
	if idx < 0 {
		return nil
	}
	room.players[idx].conn = nil
	return room.broadcastLocked(MakeEventRoomUpdated(room.snapshotLocked()))
}

// LeaveRoom removes a player. A room dropping below two players loses
// its active game; a room dropping to zero players is deleted, engine
// first so no driver is left holding a deleted room.
func (m *Manager) LeaveRoom(code, playerID string, now time.Time) ([]sendTask, error) {
	room := m.lookup(code)
	if room == nil {
		return nil, ErrRoomNotFound
	}

	room.mu.Lock()
	idx := room.slotLocked(playerID)
	if idx < 0 {
		room.mu.Unlock()
		return nil, ErrUnauthorized
	}
	room.players = append(room.players[:idx], room.players[idx+1:]...)
	room.touchLocked(now, m.opts.RoomTTL)

	if room.game != nil && len(room.players) < 2 {
		room.game.stopLocked()
		room.game = nil
		room.gameType = ""
		room.gameMode = ""
	}

	var tasks []sendTask
	empty := len(room.players) == 0
	if empty {
		room.closed = true
	} else {
		tasks = room.broadcastLocked(MakeEventRoomUpdated(room.snapshotLocked()))
		m.store.Put(room.recordLocked())
	}
	room.mu.Unlock()

	if empty {
		m.mu.Lock()
		delete(m.rooms, code)
		m.mu.Unlock()
		m.store.Delete(code)
		m.log.Info().Str("room_id", code).Msg("room deleted (empty)")
	} else {
		m.log.Info().Str("room_id", code).Str("player_id", playerID).Msg("player left")
	}
	return tasks, nil
}

// StartGame instantiates the round engine for the room. A running game
// is replaced; cumulative scores carry over unless resetScores asks for
// a clean slate.
func (m *Manager) StartGame(code, playerID, gameType, mode string, resetScores bool, now time.Time) ([]sendTask, error) {
	room := m.lookup(code)
	if room == nil {
		return nil, ErrRoomNotFound
	}

	room.mu.Lock()

	if room.closed {
		room.mu.Unlock()
		return nil, ErrRoomNotFound
	}
	if room.slotLocked(playerID) < 0 {
		room.mu.Unlock()
		return nil, ErrUnauthorized
	}
	if gameType != GameTypeRPS {
		room.mu.Unlock()
		return nil, ErrInvalidGameType
	}
	if len(room.players) < 2 {
		room.mu.Unlock()
		return nil, ErrNotEnoughPlayers
	}

	if room.game != nil {
		room.game.stopLocked()
	}
	if resetScores {
		for _, p := range room.players {
			p.Score = 0
		}
	}

	engine := newRoundEngine(room, m.opts.Engine, m.log)
	room.game = engine
	room.gameType = gameType
	room.gameMode = mode
	room.touchLocked(now, m.opts.RoomTTL)
	m.store.Put(room.recordLocked())

	tasks := room.broadcastLocked(MakeEventGameStarted(gameType, room.snapshotLocked()))
	engine.openRoundLocked(now)
	tasks = append(tasks, engine.takeTasksLocked()...)
	room.mu.Unlock()

	go engine.run(m.tickers)
	m.log.Info().Str("room_id", code).Str("game_type", gameType).Bool("reset_scores", resetScores).Msg("game started")
	return tasks, nil
}

// RecordChoice forwards a player's choice to the room's open round.
func (m *Manager) RecordChoice(code, playerID, choice string, now time.Time) ([]sendTask, error) {
	room := m.lookup(code)
	if room == nil {
		return nil, ErrRoomNotFound
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.slotLocked(playerID) < 0 {
		return nil, ErrUnauthorized
	}
	if room.game == nil || room.game.stopped {
		return nil, ErrNoActiveGame
	}
	if err := room.game.recordChoiceLocked(playerID, choice, now); err != nil {
		return nil, err
	}
	return room.game.takeTasksLocked(), nil
}

// BroadcastToRoom fans an already-encoded frame out to every connected
// member. Used for the chat relay, which carries no game state.
func (m *Manager) BroadcastToRoom(code string, data []byte) ([]sendTask, error) {
	room := m.lookup(code)
	if room == nil {
		return nil, ErrRoomNotFound
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	return room.broadcastLocked(data), nil
}

// DisplayName resolves a member's display name, for labelling relayed
// chat without trusting the client.
func (m *Manager) DisplayName(code, playerID string) string {
	room := m.lookup(code)
	if room == nil {
		return ""
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	if idx := room.slotLocked(playerID); idx >= 0 {
		return room.players[idx].DisplayName
	}
	return ""
}

// CleanupExpired deletes every room whose expiry timestamp has passed.
// Engines are stopped before their rooms are dropped.
func (m *Manager) CleanupExpired(now time.Time) int {
	expired := m.store.ListExpired(now)
	removed := 0
	for _, code := range expired {
		room := m.lookup(code)
		if room != nil {
			room.mu.Lock()
			if room.expiresAt.After(now) {
				// Touched since the listing; keep it.
				room.mu.Unlock()
				continue
			}
			room.closed = true
			if room.game != nil {
				room.game.stopLocked()
				room.game = nil
			}
			room.mu.Unlock()

			m.mu.Lock()
			delete(m.rooms, code)
			m.mu.Unlock()
		}
		m.store.Delete(code)
		removed++
		m.log.Info().Str("room_id", code).Msg("room cleaned up (expired)")
	}
	return removed
}
