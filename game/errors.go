package game

import "errors"

var (
	ErrRoomNotFound     = errors.New("room-not-found")
	ErrRoomFull         = errors.New("room-full")
	ErrRoomExpired      = errors.New("room-expired")
	ErrAlreadyJoined    = errors.New("already-joined")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidChoice    = errors.New("invalid-choice")
	ErrRoundNotOpen     = errors.New("round-not-open")
	ErrNoActiveGame     = errors.New("no-active-game")
	ErrInvalidGameType  = errors.New("invalid-game-type")
	ErrNotEnoughPlayers = errors.New("not-enough-players")
	ErrExhausted        = errors.New("room-codes-exhausted")
	ErrInvalidMessage   = errors.New("invalid-message")
	ErrInvalidRequest   = errors.New("invalid-request-format")
)

var ErrSendBufferFull = errors.New("send-buffer-full")

// errorMessages maps an error kind to the human-readable text sent in
// error events. Unknown faults fall back to a generic message so
// internals never leak to clients.
var errorMessages = map[string]string{
	"room-not-found":         "Room not found",
	"room-full":              "Room is full",
	"room-expired":           "Room has expired",
	"already-joined":         "Already joined a room",
	"unauthorized":           "Not allowed from this connection",
	"invalid-choice":         "Invalid choice. Use rock, paper, or scissors.",
	"round-not-open":         "Round is not accepting choices",
	"no-active-game":         "No active game in this room",
	"invalid-game-type":      "Unknown game type",
	"not-enough-players":     "Need two players to start",
	"room-codes-exhausted":   "Could not allocate a room code",
	"invalid-message":        "Message is empty or too long",
	"invalid-request-format": "Malformed request",
}

const internalErrorKind = "internal-error"

func errorKind(err error) string {
	if err == nil {
		return ""
	}
	if _, known := errorMessages[err.Error()]; known {
		return err.Error()
	}
	return internalErrorKind
}

func errorMessage(kind string) string {
	if msg, ok := errorMessages[kind]; ok {
		return msg
	}
	return "Internal server error"
}
