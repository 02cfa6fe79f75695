package game

import (
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// GameTypeRPS is the only mini-game with a server-side engine today;
// keep the identifiers in one place for when the others get one.
const GameTypeRPS = "rps"

type Choice string

const (
	ChoiceRock     Choice = "rock"
	ChoicePaper    Choice = "paper"
	ChoiceScissors Choice = "scissors"
	// ChoiceNone stands in for a player who never submitted; it loses
	// to every legal choice and ties only with itself.
	ChoiceNone Choice = "none"
)

var beats = map[Choice]Choice{
	ChoiceRock:     ChoiceScissors,
	ChoiceScissors: ChoicePaper,
	ChoicePaper:    ChoiceRock,
}

func parseChoice(raw string) (Choice, error) {
	c := Choice(strings.ToLower(raw))
	if _, ok := beats[c]; !ok {
		return "", ErrInvalidChoice
	}
	return c, nil
}

// ResolveRound returns the winning slot (0 or 1) for the two final
// choices, or -1 for a tie. It is a pure function of its inputs.
func ResolveRound(a, b Choice) int {
	if a == b {
		return -1
	}
	if a == ChoiceNone {
		return 1
	}
	if b == ChoiceNone {
		return 0
	}
	if beats[a] == b {
		return 0
	}
	return 1
}

// TiePolicy decides what a tied round does to the scores.
type TiePolicy string

const (
	TieNoPoints  TiePolicy = "none"
	TieBothPoint TiePolicy = "both"
)

func ParseTiePolicy(raw string) TiePolicy {
	if TiePolicy(raw) == TieBothPoint {
		return TieBothPoint
	}
	return TieNoPoints
}

type roundPhase int

const (
	phaseIdle roundPhase = iota
	phaseOpen
	phaseReveal
)

type EngineOptions struct {
	RoundDuration time.Duration
	TickInterval  time.Duration
	RevealPause   time.Duration
	Tie           TiePolicy
}

// RoundEngine drives one room's RPS game round-by-round. All state is
// guarded by the owning room's lock: methods with the Locked suffix
// require it held, the exported ones take it. Exactly one driver
// goroutine runs per active game, and it is stopped before the room is
// ever deleted.
type RoundEngine struct {
	room *Room
	opts EngineOptions
	log  zerolog.Logger

	phase      roundPhase
	roundIndex int
	deadline   time.Time
	choices    map[string]Choice
	lastTick   int
	stopped    bool

	stopCh   chan struct{}
	stopOnce sync.Once

	// tasks buffers outbound frames produced under the room lock; the
	// caller drains them with takeTasksLocked and flushes after unlock.
	tasks []sendTask
}

func newRoundEngine(room *Room, opts EngineOptions, log zerolog.Logger) *RoundEngine {
	return &RoundEngine{
		room:    room,
		opts:    opts,
		log:     log.With().Str("room_id", room.Code).Logger(),
		choices: make(map[string]Choice),
		stopCh:  make(chan struct{}),
	}
}

// run is the driver goroutine. A panic anywhere in the round logic is
// caught here, reported to the room as an error event, and stops the
// game without touching any other room.
func (e *RoundEngine) run(tickers PeriodicTickerChannelCreator) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Any("panic", r).Msg("round driver crashed")
			e.room.mu.Lock()
			e.stopLocked()
			tasks := e.room.broadcastLocked(MakeEventError("game-stopped", "The game hit an internal error and was stopped"))
			e.room.mu.Unlock()
			flushTasks(tasks)
		}
	}()

	ticks, stopTicker := tickers.Create(e.opts.TickInterval)
	defer stopTicker()

	for {
		select {
		case <-e.stopCh:
			return
		case now := <-ticks:
			flushTasks(e.Tick(now))
		}
	}
}

// Tick advances the state machine to the given instant and returns the
// frames to send.
func (e *RoundEngine) Tick(now time.Time) []sendTask {
	e.room.mu.Lock()
	e.handleTickLocked(now)
	tasks := e.takeTasksLocked()
	e.room.mu.Unlock()
	return tasks
}

// Stop cancels the driver. Safe to call concurrently with an in-flight
// tick, and idempotent.
func (e *RoundEngine) Stop() {
	e.room.mu.Lock()
	e.stopLocked()
	e.room.mu.Unlock()
}

func (e *RoundEngine) stopLocked() {
	if e.stopped {
		return
	}
	e.stopped = true
	e.phase = phaseIdle
	e.stopOnce.Do(func() { close(e.stopCh) })
}

func (e *RoundEngine) handleTickLocked(now time.Time) {
	if e.stopped {
		return
	}
	switch e.phase {
	case phaseOpen:
		if now.Before(e.deadline) {
			remaining := int(math.Ceil(e.deadline.Sub(now).Seconds()))
			if remaining != e.lastTick && remaining > 0 {
				e.lastTick = remaining
				e.emitLocked(MakeEventRoundTick(e.roundIndex, remaining))
			}
			return
		}
		e.resolveLocked(now)
	case phaseReveal:
		if now.Before(e.deadline) {
			return
		}
		if e.room.connectedLocked() < 2 {
			// The opponent is gone; freeze instead of playing against a
			// ghost. Leaving the room tears the engine down fully.
			e.stopLocked()
			return
		}
		e.openRoundLocked(now)
	}
}

// openRoundLocked starts the next round: index bumps by exactly one,
// choices reset, the countdown restarts. Clients get the round_opened
// marker and an initial tick with the full countdown.
func (e *RoundEngine) openRoundLocked(now time.Time) {
	e.phase = phaseOpen
	e.roundIndex++
	e.choices = make(map[string]Choice)
	e.deadline = now.Add(e.opts.RoundDuration)
	e.lastTick = int(math.Ceil(e.opts.RoundDuration.Seconds()))
	e.emitLocked(MakeEventRoundOpened(e.roundIndex))
	e.emitLocked(MakeEventRoundTick(e.roundIndex, e.lastTick))
}

// recordChoiceLocked accepts a choice while the round is open.
// Resubmitting overwrites: the last write before the deadline wins.
// Once both players have submitted the round closes early rather than
// letting the countdown run out an answer everyone already gave.
func (e *RoundEngine) recordChoiceLocked(playerID, raw string, now time.Time) error {
	if e.stopped || e.phase != phaseOpen || !now.Before(e.deadline) {
		return ErrRoundNotOpen
	}
	choice, err := parseChoice(raw)
	if err != nil {
		return err
	}
	e.choices[playerID] = choice
	if len(e.choices) >= len(e.room.players) && len(e.room.players) == 2 {
		e.resolveLocked(now)
	}
	return nil
}

// resolveLocked closes the round, computes the winner and schedules the
// reveal pause. No choice writes are accepted past this point for this
// round index.
func (e *RoundEngine) resolveLocked(now time.Time) {
	if len(e.room.players) < 2 {
		e.stopLocked()
		return
	}
	p0, p1 := e.room.players[0], e.room.players[1]
	c0, ok := e.choices[p0.ID]
	if !ok {
		c0 = ChoiceNone
	}
	c1, ok := e.choices[p1.ID]
	if !ok {
		c1 = ChoiceNone
	}

	result := RoundResult{
		RoundIndex: e.roundIndex,
		Choices:    map[string]string{p0.ID: string(c0), p1.ID: string(c1)},
	}
	switch ResolveRound(c0, c1) {
	case 0:
		p0.Score++
		result.WinnerID = p0.ID
		result.Result = "win"
	case 1:
		p1.Score++
		result.WinnerID = p1.ID
		result.Result = "win"
	default:
		result.Result = "tie"
		if e.opts.Tie == TieBothPoint {
			p0.Score++
			p1.Score++
		}
	}
	result.Scores = map[string]int{p0.ID: p0.Score, p1.ID: p1.Score}

	e.emitLocked(MakeEventRoundResolved(result))
	e.phase = phaseReveal
	e.deadline = now.Add(e.opts.RevealPause)
	e.lastTick = -1
}

func (e *RoundEngine) emitLocked(data []byte) {
	e.tasks = append(e.tasks, e.room.broadcastLocked(data)...)
}

func (e *RoundEngine) takeTasksLocked() []sendTask {
	tasks := e.tasks
	e.tasks = nil
	return tasks
}
