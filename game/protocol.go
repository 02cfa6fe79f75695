package game

import (
	"encoding/json"
	"time"
)

// Inbound event names.
const (
	EventCreateRoom   = "create_room"
	EventJoinRoom     = "join_room"
	EventLeaveRoom    = "leave_room"
	EventResume       = "resume"
	EventStartGame    = "start_game"
	EventSubmitChoice = "submit_choice"
	EventChatMessage  = "chat_message"
)

// Outbound event names.
const (
	EventRoomCreated   = "room_created"
	EventJoined        = "joined"
	EventRoomUpdated   = "room_updated"
	EventGameStarted   = "game_started"
	EventRoundOpened   = "round_opened"
	EventRoundTick     = "round_tick"
	EventRoundResolved = "round_resolved"
	EventChat          = "chat_message"
	EventError         = "error"
)

// clientEnvelope carries the discriminator; the payload is decoded into
// the matching request type once the type is known.
type clientEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type JoinRoomRequest struct {
	RoomID      string `json:"room_id"`
	DisplayName string `json:"display_name"`
	AvatarColor string `json:"avatar_color"`
}

type ResumeRequest struct {
	RoomID   string `json:"room_id"`
	PlayerID string `json:"player_id"`
}

type StartGameRequest struct {
	RoomID      string `json:"room_id"`
	GameType    string `json:"game_type"`
	Mode        string `json:"mode"`
	ResetScores bool   `json:"reset_scores"`
}

type SubmitChoiceRequest struct {
	Choice string `json:"choice"`
}

type ChatRequest struct {
	Message string `json:"message"`
}

type PlayerSnapshot struct {
	PlayerID    string `json:"player_id"`
	DisplayName string `json:"display_name"`
	AvatarColor string `json:"avatar_color"`
	Slot        int    `json:"slot"`
	Score       int    `json:"score"`
	Connected   bool   `json:"connected"`
}

type GameSnapshot struct {
	GameType     string `json:"game_type"`
	Mode         string `json:"mode,omitempty"`
	RoundIndex   int    `json:"round_index"`
	TimerRunning bool   `json:"timer_running"`
}

type RoomSnapshot struct {
	RoomID     string           `json:"room_id"`
	CreatedAt  time.Time        `json:"created_at"`
	ExpiresAt  time.Time        `json:"expires_at"`
	MaxPlayers int              `json:"max_players"`
	Players    []PlayerSnapshot `json:"players"`
	Game       *GameSnapshot    `json:"game,omitempty"`
}

type JoinResult struct {
	PlayerID string       `json:"player_id"`
	Slot     int          `json:"slot"`
	Room     RoomSnapshot `json:"room"`
}

// RoundResult is the payload of round_resolved. WinnerID is empty when
// the round tied.
type RoundResult struct {
	RoundIndex int               `json:"round_index"`
	Choices    map[string]string `json:"choices"`
	WinnerID   string            `json:"winner_id,omitempty"`
	Result     string            `json:"result"`
	Scores     map[string]int    `json:"scores"`
}

type serverEnvelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

func marshalEvent(eventType string, data any) []byte {
	raw, _ := json.Marshal(serverEnvelope{Type: eventType, Data: data})
	return raw
}

func MakeEventRoomCreated(roomID string, expiresAt time.Time) []byte {
	return marshalEvent(EventRoomCreated, map[string]any{
		"room_id":    roomID,
		"expires_at": expiresAt,
	})
}

func MakeEventJoined(res JoinResult) []byte {
	return marshalEvent(EventJoined, res)
}

func MakeEventRoomUpdated(snap RoomSnapshot) []byte {
	return marshalEvent(EventRoomUpdated, snap)
}

func MakeEventGameStarted(gameType string, snap RoomSnapshot) []byte {
	return marshalEvent(EventGameStarted, map[string]any{
		"game_type": gameType,
		"room":      snap,
	})
}

func MakeEventRoundOpened(roundIndex int) []byte {
	return marshalEvent(EventRoundOpened, map[string]any{"round_index": roundIndex})
}

func MakeEventRoundTick(roundIndex, remaining int) []byte {
	return marshalEvent(EventRoundTick, map[string]any{
		"round_index": roundIndex,
		"remaining":   remaining,
	})
}

func MakeEventRoundResolved(result RoundResult) []byte {
	return marshalEvent(EventRoundResolved, result)
}

func MakeEventChat(playerID, displayName, message string) []byte {
	return marshalEvent(EventChat, map[string]any{
		"player_id":    playerID,
		"display_name": displayName,
		"message":      message,
	})
}

func MakeEventError(kind, message string) []byte {
	return marshalEvent(EventError, map[string]any{
		"kind":    kind,
		"message": message,
	})
}
