package game

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(t *testing.T, grace time.Duration) *Dispatcher {
	t.Helper()
	mgr := newTestManager(t)
	reg := NewRegistry(grace, zerolog.Nop())
	d := NewDispatcher(mgr, reg, 30*time.Second, zerolog.Nop())
	reg.SetEvictFunc(d.EvictAfterGrace)
	return d
}

func frame(t *testing.T, eventType string, payload any) []byte {
	t.Helper()
	env := map[string]any{"type": eventType}
	if payload != nil {
		env["data"] = payload
	}
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	return raw
}

func errorKindOf(t *testing.T, c *recorderConn) string {
	t.Helper()
	var payload struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(c.lastEvent(t, EventError), &payload))
	return payload.Kind
}

func joinedResult(t *testing.T, c *recorderConn) JoinResult {
	t.Helper()
	var res JoinResult
	require.NoError(t, json.Unmarshal(c.lastEvent(t, EventJoined), &res))
	return res
}

func createRoomVia(t *testing.T, d *Dispatcher, c *recorderConn) string {
	t.Helper()
	d.dispatch(c, frame(t, EventCreateRoom, nil))
	var payload struct {
		RoomID string `json:"room_id"`
	}
	require.NoError(t, json.Unmarshal(c.lastEvent(t, EventRoomCreated), &payload))
	require.Len(t, payload.RoomID, roomCodeLength)
	return payload.RoomID
}

func joinVia(t *testing.T, d *Dispatcher, c *recorderConn, roomID, name string) JoinResult {
	t.Helper()
	d.dispatch(c, frame(t, EventJoinRoom, JoinRoomRequest{RoomID: roomID, DisplayName: name}))
	return joinedResult(t, c)
}

// seatedPair sets up the usual fixture: one room, two joined players.
func seatedPair(t *testing.T, d *Dispatcher) (string, *recorderConn, *recorderConn, JoinResult, JoinResult) {
	t.Helper()
	c1, c2 := newRecorderConn("conn-1"), newRecorderConn("conn-2")
	roomID := createRoomVia(t, d, c1)
	p1 := joinVia(t, d, c1, roomID, "ada")
	p2 := joinVia(t, d, c2, roomID, "grace")
	c1.clear()
	c2.clear()
	return roomID, c1, c2, p1, p2
}

func TestDispatcher_CreateAndJoin(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(t, time.Minute)
	c1, c2 := newRecorderConn("conn-1"), newRecorderConn("conn-2")

	roomID := createRoomVia(t, d, c1)

	p1 := joinVia(t, d, c1, roomID, "ada")
	assert.Equal(t, 0, p1.Slot)
	assert.NotEmpty(t, p1.PlayerID)

	// Room codes are case-insensitive on the way in.
	p2 := joinVia(t, d, c2, strings.ToLower(roomID), "grace")
	assert.Equal(t, 1, p2.Slot)
	assert.Len(t, p2.Room.Players, 2)

	assert.True(t, c1.hasEvent(t, EventRoomUpdated))
}

func TestDispatcher_DefaultsForBlankProfile(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(t, time.Minute)
	c1 := newRecorderConn("conn-1")
	roomID := createRoomVia(t, d, c1)

	res := joinVia(t, d, c1, roomID, "   ")
	assert.NotEmpty(t, res.Room.Players[0].DisplayName)
	assert.NotEmpty(t, res.Room.Players[0].AvatarColor)
}

func TestDispatcher_ThirdJoinRejected(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(t, time.Minute)
	roomID, _, _, _, _ := seatedPair(t, d)

	c3 := newRecorderConn("conn-3")
	d.dispatch(c3, frame(t, EventJoinRoom, JoinRoomRequest{RoomID: roomID, DisplayName: "edsger"}))
	assert.Equal(t, "room-full", errorKindOf(t, c3))
}

func TestDispatcher_DuplicateJoinRejected(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(t, time.Minute)
	c1 := newRecorderConn("conn-1")
	roomID := createRoomVia(t, d, c1)
	joinVia(t, d, c1, roomID, "ada")

	d.dispatch(c1, frame(t, EventJoinRoom, JoinRoomRequest{RoomID: roomID, DisplayName: "ada-again"}))
	assert.Equal(t, "already-joined", errorKindOf(t, c1))

	// The seat count did not change.
	snap, err := d.mgr.Snapshot(roomID)
	require.NoError(t, err)
	assert.Len(t, snap.Players, 1)
}

func TestDispatcher_UnknownRoomRejected(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(t, time.Minute)
	c1 := newRecorderConn("conn-1")

	d.dispatch(c1, frame(t, EventJoinRoom, JoinRoomRequest{RoomID: "NOSUCHRM", DisplayName: "ada"}))
	assert.Equal(t, "room-not-found", errorKindOf(t, c1))
}

func TestDispatcher_MalformedFrames(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(t, time.Minute)
	c1 := newRecorderConn("conn-1")

	d.dispatch(c1, []byte("not json at all"))
	assert.Equal(t, "invalid-request-format", errorKindOf(t, c1))

	c1.clear()
	d.dispatch(c1, frame(t, "no_such_event", nil))
	assert.Equal(t, "invalid-request-format", errorKindOf(t, c1))
}

func TestDispatcher_RoundFlow(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(t, time.Minute)
	_, c1, c2, p1, p2 := seatedPair(t, d)

	d.dispatch(c1, frame(t, EventStartGame, StartGameRequest{GameType: "rps"}))
	for _, c := range []*recorderConn{c1, c2} {
		assert.True(t, c.hasEvent(t, EventGameStarted))
		assert.True(t, c.hasEvent(t, EventRoundOpened))
		assert.Equal(t, 4, tickRemaining(t, c.lastEvent(t, EventRoundTick)))
	}

	d.dispatch(c1, frame(t, EventSubmitChoice, SubmitChoiceRequest{Choice: "rock"}))
	assert.False(t, c1.hasEvent(t, EventRoundResolved))

	d.dispatch(c2, frame(t, EventSubmitChoice, SubmitChoiceRequest{Choice: "scissors"}))
	res := decodeRoundResult(t, c2)
	assert.Equal(t, "win", res.Result)
	assert.Equal(t, p1.PlayerID, res.WinnerID)
	assert.Equal(t, map[string]int{p1.PlayerID: 1, p2.PlayerID: 0}, res.Scores)

	// Both players saw the exact same resolution.
	assert.Empty(t, cmp.Diff(res, decodeRoundResult(t, c1)))
}

func TestDispatcher_TieKeepsScores(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(t, time.Minute)
	_, c1, c2, p1, p2 := seatedPair(t, d)

	d.dispatch(c1, frame(t, EventStartGame, StartGameRequest{GameType: "rps"}))
	d.dispatch(c1, frame(t, EventSubmitChoice, SubmitChoiceRequest{Choice: "paper"}))
	d.dispatch(c2, frame(t, EventSubmitChoice, SubmitChoiceRequest{Choice: "paper"}))

	res := decodeRoundResult(t, c1)
	assert.Equal(t, "tie", res.Result)
	assert.Empty(t, res.WinnerID)
	assert.Equal(t, map[string]int{p1.PlayerID: 0, p2.PlayerID: 0}, res.Scores)
}

func TestDispatcher_ChoiceGuards(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(t, time.Minute)
	_, c1, c2, _, _ := seatedPair(t, d)

	d.dispatch(c1, frame(t, EventSubmitChoice, SubmitChoiceRequest{Choice: "rock"}))
	assert.Equal(t, "no-active-game", errorKindOf(t, c1))

	stranger := newRecorderConn("conn-x")
	d.dispatch(stranger, frame(t, EventSubmitChoice, SubmitChoiceRequest{Choice: "rock"}))
	assert.Equal(t, "unauthorized", errorKindOf(t, stranger))

	d.dispatch(c1, frame(t, EventStartGame, StartGameRequest{GameType: "rps"}))
	c2.clear()
	d.dispatch(c2, frame(t, EventSubmitChoice, SubmitChoiceRequest{Choice: "lizard"}))
	assert.Equal(t, "invalid-choice", errorKindOf(t, c2))
}

func TestDispatcher_StartGameGuards(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(t, time.Minute)
	_, c1, _, _, _ := seatedPair(t, d)

	d.dispatch(c1, frame(t, EventStartGame, StartGameRequest{RoomID: "OTHERRUM", GameType: "rps"}))
	assert.Equal(t, "unauthorized", errorKindOf(t, c1))

	c1.clear()
	d.dispatch(c1, frame(t, EventStartGame, StartGameRequest{GameType: "checkers"}))
	assert.Equal(t, "invalid-game-type", errorKindOf(t, c1))
}

func TestDispatcher_ChatRelay(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(t, time.Minute)
	_, c1, c2, p1, _ := seatedPair(t, d)

	d.dispatch(c1, frame(t, EventChatMessage, ChatRequest{Message: "  gg wp  "}))

	var msg struct {
		PlayerID    string `json:"player_id"`
		DisplayName string `json:"display_name"`
		Message     string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(c2.lastEvent(t, EventChat), &msg))
	assert.Equal(t, p1.PlayerID, msg.PlayerID)
	assert.Equal(t, "ada", msg.DisplayName)
	assert.Equal(t, "gg wp", msg.Message)
	// The sender hears their own message back too.
	assert.True(t, c1.hasEvent(t, EventChat))
}

func TestDispatcher_ChatLimits(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(t, time.Minute)
	_, c1, _, _, _ := seatedPair(t, d)

	d.dispatch(c1, frame(t, EventChatMessage, ChatRequest{Message: "   "}))
	assert.Equal(t, "invalid-message", errorKindOf(t, c1))

	c1.clear()
	d.dispatch(c1, frame(t, EventChatMessage, ChatRequest{Message: strings.Repeat("x", maxChatLength+1)}))
	assert.Equal(t, "invalid-message", errorKindOf(t, c1))
}

func TestDispatcher_LeaveRoom(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(t, time.Minute)
	roomID, c1, c2, _, _ := seatedPair(t, d)

	d.dispatch(c1, frame(t, EventLeaveRoom, nil))
	assert.True(t, c2.hasEvent(t, EventRoomUpdated))

	snap, err := d.mgr.Snapshot(roomID)
	require.NoError(t, err)
	assert.Len(t, snap.Players, 1)

	// The leaver's session is gone; further game traffic is refused.
	d.dispatch(c1, frame(t, EventSubmitChoice, SubmitChoiceRequest{Choice: "rock"}))
	assert.Equal(t, "unauthorized", errorKindOf(t, c1))
}

func TestDispatcher_DisconnectGraceAndResume(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(t, time.Minute)
	roomID, c1, c2, _, p2 := seatedPair(t, d)

	d.handleDisconnect(c2)

	var snap RoomSnapshot
	require.NoError(t, json.Unmarshal(c1.lastEvent(t, EventRoomUpdated), &snap))
	require.Len(t, snap.Players, 2)
	assert.False(t, snap.Players[1].Connected)

	c3 := newRecorderConn("conn-3")
	d.dispatch(c3, frame(t, EventResume, ResumeRequest{RoomID: roomID, PlayerID: p2.PlayerID}))
	require.NoError(t, json.Unmarshal(c3.lastEvent(t, EventRoomUpdated), &snap))
	assert.True(t, snap.Players[1].Connected)

	// The resumed session is fully live again.
	d.dispatch(c3, frame(t, EventChatMessage, ChatRequest{Message: "back"}))
	assert.True(t, c1.hasEvent(t, EventChat))
}

func TestDispatcher_ResumeRejectsStrangers(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(t, time.Minute)
	roomID, _, _, _, _ := seatedPair(t, d)

	c3 := newRecorderConn("conn-3")
	d.dispatch(c3, frame(t, EventResume, ResumeRequest{RoomID: roomID, PlayerID: "made-up"}))
	assert.Equal(t, "unauthorized", errorKindOf(t, c3))
}

func TestDispatcher_EvictionAfterGrace(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(t, 20*time.Millisecond)
	roomID, c1, c2, _, _ := seatedPair(t, d)

	d.handleDisconnect(c2)

	require.Eventually(t, func() bool {
		snap, err := d.mgr.Snapshot(roomID)
		return err == nil && len(snap.Players) == 1
	}, time.Second, 5*time.Millisecond)
	assert.True(t, c1.hasEvent(t, EventRoomUpdated))
}
