package game

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	outboxSize       = 256
	maxChatLength    = 500
	eventsPerSecond  = 10
	eventBurst       = 20
	avatarColorCount = 8
)

var avatarColors = [avatarColorCount]string{
	"coral", "teal", "amber", "violet", "mint", "rose", "slate", "gold",
}

// connection is one live client: a socket, an outbox and a write pump.
// Send enqueues and never blocks; a full outbox is reported, not waited
// on.
type connection struct {
	id     string
	sock   WebsocketConnection
	outbox chan []byte
	done   chan struct{}
	once   sync.Once
}

func newConnection(sock WebsocketConnection) *connection {
	return &connection{
		id:     uuid.NewString(),
		sock:   sock,
		outbox: make(chan []byte, outboxSize),
		done:   make(chan struct{}),
	}
}

func (c *connection) ID() string { return c.id }

func (c *connection) Send(data []byte) error {
	select {
	case c.outbox <- data:
		return nil
	case <-c.done:
		return ErrSendBufferFull
	default:
		return ErrSendBufferFull
	}
}

func (c *connection) Close(reason string) {
	c.once.Do(func() {
		close(c.done)
		c.sock.Close(reason)
	})
}

// writePump drains the outbox onto the socket and keeps the connection
// alive with periodic pings. It owns all socket writes.
func (c *connection) writePump(pingInterval time.Duration) {
	pings := time.NewTicker(pingInterval)
	defer pings.Stop()
	for {
		select {
		case data := <-c.outbox:
			if err := c.sock.Write(data); err != nil {
				return
			}
		case <-pings.C:
			if err := c.sock.Ping(); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// Dispatcher is the boundary between the socket layer and the session
// core. Every inbound event is authenticated against the registry
// before it can touch a room; identity always comes from the registry,
// never from the payload, so one connection cannot act as another
// player.
type Dispatcher struct {
	mgr *Manager
	reg *Registry
	log zerolog.Logger

	pingInterval time.Duration
}

func NewDispatcher(mgr *Manager, reg *Registry, pingInterval time.Duration, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{mgr: mgr, reg: reg, pingInterval: pingInterval, log: log}
}

// EvictAfterGrace is the registry's eviction hook: the grace timer
// fired with no reconnect, so the player leaves for real.
func (d *Dispatcher) EvictAfterGrace(roomID, playerID string) {
	tasks, err := d.mgr.LeaveRoom(roomID, playerID, time.Now())
	if err != nil {
		d.log.Debug().Err(err).Str("room_id", roomID).Str("player_id", playerID).Msg("grace eviction skipped")
		return
	}
	flushTasks(tasks)
}

// Serve runs the read loop for one connection until it drops, then
// hands cleanup to the registry's grace machinery.
func (d *Dispatcher) Serve(sock WebsocketConnection) {
	conn := newConnection(sock)
	go conn.writePump(d.pingInterval)

	limiter := rate.NewLimiter(eventsPerSecond, eventBurst)
	for {
		data, err := sock.Read()
		if err != nil {
			break
		}
		if !limiter.Allow() {
			continue
		}
		d.dispatch(conn, data)
	}
	d.handleDisconnect(conn)
	conn.Close("")
}

func (d *Dispatcher) handleDisconnect(conn Conn) {
	s, ok := d.reg.Lookup(conn.ID())
	d.reg.OnDisconnect(conn.ID())
	if ok {
		flushTasks(d.mgr.PlayerDisconnected(s.RoomID, s.PlayerID))
	}
}

// dispatch decodes one inbound frame and routes it. A panic in any
// handler is converted into an error event for this connection only;
// the process and every other room stay up.
func (d *Dispatcher) dispatch(conn Conn, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Any("panic", r).Str("conn_id", conn.ID()).Msg("event handler crashed")
			d.sendError(conn, fmt.Errorf("handler panic"))
		}
	}()

	var env clientEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		d.sendError(conn, ErrInvalidRequest)
		return
	}

	now := time.Now()
	var err error
	switch env.Type {
	case EventCreateRoom:
		err = d.handleCreateRoom(conn, now)
	case EventJoinRoom:
		err = d.handleJoinRoom(conn, env.Data, now)
	case EventResume:
		err = d.handleResume(conn, env.Data, now)
	case EventLeaveRoom:
		err = d.handleLeaveRoom(conn, now)
	case EventStartGame:
		err = d.handleStartGame(conn, env.Data, now)
	case EventSubmitChoice:
		err = d.handleSubmitChoice(conn, env.Data, now)
	case EventChatMessage:
		err = d.handleChat(conn, env.Data)
	default:
		err = ErrInvalidRequest
	}
	if err != nil {
		d.sendError(conn, err)
	}
}

func (d *Dispatcher) handleCreateRoom(conn Conn, now time.Time) error {
	room, err := d.mgr.CreateRoom(now)
	if err != nil {
		return err
	}
	room.mu.Lock()
	expiresAt := room.expiresAt
	room.mu.Unlock()
	return conn.Send(MakeEventRoomCreated(room.Code, expiresAt))
}

func (d *Dispatcher) handleJoinRoom(conn Conn, data json.RawMessage, now time.Time) error {
	if _, joined := d.reg.Lookup(conn.ID()); joined {
		return ErrAlreadyJoined
	}
	var req JoinRoomRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return ErrInvalidRequest
	}
	code := strings.ToUpper(strings.TrimSpace(req.RoomID))
	if code == "" {
		return ErrRoomNotFound
	}
	if req.DisplayName = strings.TrimSpace(req.DisplayName); req.DisplayName == "" {
		req.DisplayName = defaultDisplayName()
	}
	if req.AvatarColor == "" {
		req.AvatarColor = defaultAvatarColor(conn.ID())
	}

	res, tasks, err := d.mgr.JoinRoom(code, req.DisplayName, req.AvatarColor, conn, now)
	if err != nil {
		return err
	}
	d.reg.Associate(conn.ID(), Session{PlayerID: res.PlayerID, RoomID: code})
	_ = conn.Send(MakeEventJoined(res))
	flushTasks(tasks)
	return nil
}

func (d *Dispatcher) handleResume(conn Conn, data json.RawMessage, now time.Time) error {
	if _, joined := d.reg.Lookup(conn.ID()); joined {
		return ErrAlreadyJoined
	}
	var req ResumeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return ErrInvalidRequest
	}
	code := strings.ToUpper(strings.TrimSpace(req.RoomID))
	if err := d.reg.Resume(conn.ID(), req.PlayerID, code); err != nil {
		return err
	}
	snap, tasks, err := d.mgr.Rebind(code, req.PlayerID, conn, now)
	if err != nil {
		d.reg.Drop(conn.ID())
		return err
	}
	_ = conn.Send(MakeEventRoomUpdated(snap))
	flushTasks(tasks)
	return nil
}

func (d *Dispatcher) handleLeaveRoom(conn Conn, now time.Time) error {
	s, ok := d.reg.Lookup(conn.ID())
	if !ok {
		return ErrUnauthorized
	}
	d.reg.Drop(conn.ID())
	tasks, err := d.mgr.LeaveRoom(s.RoomID, s.PlayerID, now)
	if err != nil {
		return err
	}
	flushTasks(tasks)
	return nil
}

func (d *Dispatcher) handleStartGame(conn Conn, data json.RawMessage, now time.Time) error {
	s, ok := d.reg.Lookup(conn.ID())
	if !ok {
		return ErrUnauthorized
	}
	var req StartGameRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return ErrInvalidRequest
	}
	// A declared room that disagrees with the registry is someone
	// poking at another room's game.
	if req.RoomID != "" && !strings.EqualFold(req.RoomID, s.RoomID) {
		return ErrUnauthorized
	}
	tasks, err := d.mgr.StartGame(s.RoomID, s.PlayerID, strings.ToLower(req.GameType), req.Mode, req.ResetScores, now)
	if err != nil {
		return err
	}
	flushTasks(tasks)
	return nil
}

func (d *Dispatcher) handleSubmitChoice(conn Conn, data json.RawMessage, now time.Time) error {
	s, ok := d.reg.Lookup(conn.ID())
	if !ok {
		return ErrUnauthorized
	}
	var req SubmitChoiceRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return ErrInvalidRequest
	}
	tasks, err := d.mgr.RecordChoice(s.RoomID, s.PlayerID, req.Choice, now)
	if err != nil {
		return err
	}
	flushTasks(tasks)
	return nil
}

func (d *Dispatcher) handleChat(conn Conn, data json.RawMessage) error {
	s, ok := d.reg.Lookup(conn.ID())
	if !ok {
		return ErrUnauthorized
	}
	var req ChatRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return ErrInvalidRequest
	}
	msg := strings.TrimSpace(req.Message)
	if msg == "" || len(msg) > maxChatLength {
		return ErrInvalidMessage
	}
	name := d.mgr.DisplayName(s.RoomID, s.PlayerID)
	tasks, err := d.mgr.BroadcastToRoom(s.RoomID, MakeEventChat(s.PlayerID, name, msg))
	if err != nil {
		return err
	}
	flushTasks(tasks)
	return nil
}

func (d *Dispatcher) sendError(conn Conn, err error) {
	kind := errorKind(err)
	if kind == internalErrorKind {
		d.log.Error().Err(err).Str("conn_id", conn.ID()).Msg("internal fault reported to client")
	}
	_ = conn.Send(MakeEventError(kind, errorMessage(kind)))
}

func defaultDisplayName() string {
	return "Player-" + strings.ToUpper(uuid.NewString()[:4])
}

func defaultAvatarColor(seed string) string {
	h := 0
	for _, c := range seed {
		h = h*31 + int(c)
	}
	if h < 0 {
		h = -h
	}
	return avatarColors[h%avatarColorCount]
}
