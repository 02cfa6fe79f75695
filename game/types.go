package game

import (
	"sync"
	"time"

	"playsync/storage"
)

// Conn is the send side of one live client connection. Send must never
// block; implementations enqueue into a buffered outbox drained by a
// write pump.
type Conn interface {
	ID() string
	Send(data []byte) error
	Close(reason string)
}

// Player is one occupied slot in a room. conn is nil while the player
// is inside the disconnect grace window.
type Player struct {
	ID          string
	DisplayName string
	AvatarColor string
	Score       int
	JoinedAt    time.Time
	conn        Conn
}

// Room is a shared session container for up to MaxPlayers players and
// one active game. mu guards the player list, the game descriptor and
// all round state; it is the only lock the round engine ever takes, and
// it is never held while acquiring the manager's global lock.
type Room struct {
	Code       string
	CreatedAt  time.Time
	MaxPlayers int

	mu           sync.Mutex
	expiresAt    time.Time
	lastActivity time.Time
	players      []*Player
	game         *RoundEngine
	gameType     string
	gameMode     string
	closed       bool
}

func newRoom(code string, now time.Time, ttl time.Duration, maxPlayers int) *Room {
	return &Room{
		Code:         code,
		CreatedAt:    now,
		MaxPlayers:   maxPlayers,
		expiresAt:    now.Add(ttl),
		lastActivity: now,
		players:      make([]*Player, 0, maxPlayers),
	}
}

// slotLocked returns the player's slot index, or -1.
func (r *Room) slotLocked(playerID string) int {
	for i, p := range r.players {
		if p.ID == playerID {
			return i
		}
	}
	return -1
}

func (r *Room) connectedLocked() int {
	n := 0
	for _, p := range r.players {
		if p.conn != nil {
			n++
		}
	}
	return n
}

func (r *Room) touchLocked(now time.Time, ttl time.Duration) {
	r.lastActivity = now
	r.expiresAt = now.Add(ttl)
}

func (r *Room) snapshotLocked() RoomSnapshot {
	players := make([]PlayerSnapshot, len(r.players))
	for i, p := range r.players {
		players[i] = PlayerSnapshot{
			PlayerID:    p.ID,
			DisplayName: p.DisplayName,
			AvatarColor: p.AvatarColor,
			Slot:        i,
			Score:       p.Score,
			Connected:   p.conn != nil,
		}
	}
	snap := RoomSnapshot{
		RoomID:     r.Code,
		CreatedAt:  r.CreatedAt,
		ExpiresAt:  r.expiresAt,
		MaxPlayers: r.MaxPlayers,
		Players:    players,
	}
	if r.game != nil && !r.game.stopped {
		snap.Game = &GameSnapshot{
			GameType:     r.gameType,
			Mode:         r.gameMode,
			RoundIndex:   r.game.roundIndex,
			TimerRunning: r.game.phase == phaseOpen,
		}
	}
	return snap
}

func (r *Room) recordLocked() storage.Record {
	players := make([]storage.PlayerRecord, len(r.players))
	for i, p := range r.players {
		players[i] = storage.PlayerRecord{
			PlayerID:    p.ID,
			DisplayName: p.DisplayName,
			AvatarColor: p.AvatarColor,
			Slot:        i,
			Score:       p.Score,
		}
	}
	return storage.Record{
		RoomID:     r.Code,
		CreatedAt:  r.CreatedAt,
		ExpiresAt:  r.expiresAt,
		MaxPlayers: r.MaxPlayers,
		Players:    players,
	}
}

// sendTask is one queued outbound frame. Mutations compute their
// broadcast list under the room lock and the caller flushes after
// releasing it, so no network send ever happens while a lock is held.
type sendTask struct {
	to   Conn
	data []byte
}

func (r *Room) broadcastLocked(data []byte) []sendTask {
	tasks := make([]sendTask, 0, len(r.players))
	for _, p := range r.players {
		if p.conn != nil {
			tasks = append(tasks, sendTask{to: p.conn, data: data})
		}
	}
	return tasks
}

// broadcastOthersLocked targets everyone except the given player.
func (r *Room) broadcastOthersLocked(data []byte, exceptID string) []sendTask {
	tasks := make([]sendTask, 0, len(r.players))
	for _, p := range r.players {
		if p.conn != nil && p.ID != exceptID {
			tasks = append(tasks, sendTask{to: p.conn, data: data})
		}
	}
	return tasks
}

func flushTasks(tasks []sendTask) {
	for _, t := range tasks {
		if t.to != nil {
			// A full outbox means a slow or dead client; the read side
			// will notice and disconnect it.
			_ = t.to.Send(t.data)
		}
	}
}
