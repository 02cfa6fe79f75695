package game

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- PeriodicTickerChannelCreator ---

type MockPeriodicTickerChannelCreator struct {
	mock.Mock
}

func (m *MockPeriodicTickerChannelCreator) Create(duration time.Duration) (<-chan time.Time, func()) {
	args := m.Called(duration)
	return args.Get(0).(chan time.Time), args.Get(1).(func())
}

// idleTickers hands the round driver a channel that never fires, for
// tests that advance the engine by calling Tick with synthetic times.
func idleTickers() *MockPeriodicTickerChannelCreator {
	tickers := &MockPeriodicTickerChannelCreator{}
	tickers.On("Create", mock.Anything).Return(make(chan time.Time), func() {})
	return tickers
}

// --- CodeGenerator ---

type MockCodeGenerator struct {
	mock.Mock
}

func (m *MockCodeGenerator) Generate() string {
	args := m.Called()
	return args.String(0)
}

// --- Conn ---

// recorderConn captures everything sent to it so tests can assert on
// the decoded event stream.
type recorderConn struct {
	id string

	mu     sync.Mutex
	sent   [][]byte
	closed bool
}

func newRecorderConn(id string) *recorderConn {
	return &recorderConn{id: id}
}

func (c *recorderConn) ID() string { return c.id }

func (c *recorderConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, data)
	return nil
}

func (c *recorderConn) Close(reason string) {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

type recordedEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (c *recorderConn) events(t *testing.T) []recordedEvent {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]recordedEvent, 0, len(c.sent))
	for _, raw := range c.sent {
		var ev recordedEvent
		require.NoError(t, json.Unmarshal(raw, &ev))
		out = append(out, ev)
	}
	return out
}

func (c *recorderConn) eventTypes(t *testing.T) []string {
	t.Helper()
	evs := c.events(t)
	types := make([]string, len(evs))
	for i, ev := range evs {
		types[i] = ev.Type
	}
	return types
}

// lastEvent returns the payload of the most recent event of the given
// type, failing the test when none was received.
func (c *recorderConn) lastEvent(t *testing.T, eventType string) json.RawMessage {
	t.Helper()
	evs := c.events(t)
	for i := len(evs) - 1; i >= 0; i-- {
		if evs[i].Type == eventType {
			return evs[i].Data
		}
	}
	require.Failf(t, "missing event", "no %q event was sent to %s, got %v", eventType, c.id, c.eventTypes(t))
	return nil
}

func (c *recorderConn) hasEvent(t *testing.T, eventType string) bool {
	t.Helper()
	for _, ev := range c.events(t) {
		if ev.Type == eventType {
			return true
		}
	}
	return false
}

func (c *recorderConn) clear() {
	c.mu.Lock()
	c.sent = nil
	c.mu.Unlock()
}
