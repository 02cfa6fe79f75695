// Package storage persists room records to a flat JSON file so rooms
// survive a process restart. It is deliberately not a database: one
// process, one file, one writer.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrNotFound       = errors.New("room-not-found")
	ErrStorageCorrupt = errors.New("storage-corrupt")
)

// PlayerRecord is the persisted shape of one occupied slot.
type PlayerRecord struct {
	PlayerID    string `json:"player_id"`
	DisplayName string `json:"display_name"`
	AvatarColor string `json:"avatar_color"`
	Slot        int    `json:"slot"`
	Score       int    `json:"score"`
}

// Record is the persisted shape of one room. Round state is ephemeral
// and never written; an in-flight game does not survive a restart.
type Record struct {
	RoomID     string         `json:"room_id"`
	CreatedAt  time.Time      `json:"created_at"`
	ExpiresAt  time.Time      `json:"expires_at"`
	MaxPlayers int            `json:"max_players"`
	Players    []PlayerRecord `json:"players"`
}

// Store keeps all records in memory and mirrors them to the backing
// file. Mutations update the map under the lock and nudge the writer
// goroutine; the file is only ever written from that one goroutine, so
// concurrent operations can never interleave partial writes.
type Store struct {
	path string
	log  zerolog.Logger

	mu    sync.RWMutex
	rooms map[string]Record

	dirty    chan struct{}
	done     chan struct{}
	finished chan struct{}
	closing  sync.Once
}

// New loads the backing file and starts the writer goroutine. A missing
// file is a fresh install. An unreadable file is reported as
// ErrStorageCorrupt while the returned store still works, starting
// empty; callers log and carry on.
func New(path string, now time.Time, log zerolog.Logger) (*Store, error) {
	s := &Store{
		path:     path,
		log:      log,
		rooms:    make(map[string]Record),
		dirty:    make(chan struct{}, 1),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	err := s.load(now)
	go s.writer()
	return s, err
}

func (s *Store) load(now time.Time) error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrStorageCorrupt, err)
	}

	var rooms map[string]Record
	if err := json.Unmarshal(raw, &rooms); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageCorrupt, err)
	}

	loaded := 0
	for id, rec := range rooms {
		if !rec.ExpiresAt.After(now) {
			continue
		}
		s.rooms[id] = rec
		loaded++
	}
	s.log.Info().Int("rooms", loaded).Str("file", s.path).Msg("room storage loaded")
	return nil
}

// Put upserts a room record.
func (s *Store) Put(rec Record) {
	s.mu.Lock()
	s.rooms[rec.RoomID] = rec
	s.mu.Unlock()
	s.nudge()
}

// Get returns a room record, or ErrNotFound.
func (s *Store) Get(roomID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.rooms[roomID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// Delete removes a room record. Deleting an absent record is a no-op.
func (s *Store) Delete(roomID string) {
	s.mu.Lock()
	_, ok := s.rooms[roomID]
	delete(s.rooms, roomID)
	s.mu.Unlock()
	if ok {
		s.nudge()
	}
}

// All returns every stored record, for restoring rooms at startup.
func (s *Store) All() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.rooms))
	for _, rec := range s.rooms {
		out = append(out, rec)
	}
	return out
}

// ListExpired returns the ids of rooms whose expiry has passed.
func (s *Store) ListExpired(now time.Time) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var expired []string
	for id, rec := range s.rooms {
		if !rec.ExpiresAt.After(now) {
			expired = append(expired, id)
		}
	}
	return expired
}

// Close flushes any pending write and stops the writer goroutine.
func (s *Store) Close() {
	s.closing.Do(func() { close(s.done) })
	<-s.finished
}

func (s *Store) nudge() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

func (s *Store) writer() {
	defer close(s.finished)
	for {
		select {
		case <-s.dirty:
			s.writeFile()
		case <-s.done:
			s.writeFile()
			return
		}
	}
}

func (s *Store) writeFile() {
	s.mu.RLock()
	raw, err := json.MarshalIndent(s.rooms, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		s.log.Error().Err(err).Msg("encoding room storage failed")
		return
	}

	// Write-then-rename so a crash mid-write leaves the previous file
	// intact instead of a truncated one.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		s.log.Error().Err(err).Str("file", s.path).Msg("writing room storage failed")
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		s.log.Error().Err(err).Str("file", s.path).Msg("replacing room storage failed")
	}
}
