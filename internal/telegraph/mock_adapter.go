package telegraph

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type mockState int

const (
	mockIdle mockState = iota
	mockConnected
	mockClosed
)

// MockAdapter is an in-memory Adapter and DirectMessenger for tests.
// Inbound traffic is injected with SimulateInbound; everything sent is
// recorded for inspection.
type MockAdapter struct {
	mu          sync.Mutex
	state       mockState
	inbound     chan InboundMessage
	sent        []OutboundMessage
	direct      map[string][]string // user ID -> texts
	unreachable map[string]bool
	botUserID   string
}

var (
	_ Adapter         = (*MockAdapter)(nil)
	_ DirectMessenger = (*MockAdapter)(nil)
	_ BotUserIDer     = (*MockAdapter)(nil)
)

// NewMockAdapter creates a MockAdapter with a buffered inbound channel.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		inbound:     make(chan InboundMessage, 100),
		direct:      make(map[string][]string),
		unreachable: make(map[string]bool),
	}
}

func (m *MockAdapter) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == mockClosed {
		return fmt.Errorf("mock adapter: already closed")
	}
	m.state = mockConnected
	return nil
}

func (m *MockAdapter) Listen(ctx context.Context) (<-chan InboundMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireConnected(); err != nil {
		return nil, err
	}
	return m.inbound, nil
}

func (m *MockAdapter) Send(ctx context.Context, msg OutboundMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireConnected(); err != nil {
		return err
	}
	m.sent = append(m.sent, msg)
	return nil
}

// SendDirect records a private message. Users marked unreachable fail the
// way a platform rejects a user who never opened a DM with the bot.
func (m *MockAdapter) SendDirect(ctx context.Context, userID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireConnected(); err != nil {
		return err
	}
	if m.unreachable[userID] {
		return fmt.Errorf("mock adapter: user %s unreachable", userID)
	}
	m.direct[userID] = append(m.direct[userID], text)
	return nil
}

func (m *MockAdapter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == mockClosed {
		return nil
	}
	m.state = mockClosed
	close(m.inbound)
	return nil
}

func (m *MockAdapter) BotUserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.botUserID
}

func (m *MockAdapter) SetBotUserID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.botUserID = id
}

func (m *MockAdapter) requireConnected() error {
	if m.state != mockConnected {
		return fmt.Errorf("mock adapter: not connected")
	}
	return nil
}

// SimulateInbound queues msg as if a user had sent it, stamping it with the
// current time when unset. It must not be called after Close.
func (m *MockAdapter) SimulateInbound(msg InboundMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	m.inbound <- msg
}

// SetUnreachable makes direct messages to userID fail.
func (m *MockAdapter) SetUnreachable(userID string, unreachable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unreachable[userID] = unreachable
}

// AllSent returns a copy of every channel message sent so far.
func (m *MockAdapter) AllSent() []OutboundMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]OutboundMessage(nil), m.sent...)
}

// LastSent returns the latest channel message, or false when none was sent.
func (m *MockAdapter) LastSent() (OutboundMessage, bool) {
	sent := m.AllSent()
	if len(sent) == 0 {
		return OutboundMessage{}, false
	}
	return sent[len(sent)-1], true
}

func (m *MockAdapter) SentCount() int {
	return len(m.AllSent())
}

// DirectTo returns a copy of the private messages delivered to userID.
func (m *MockAdapter) DirectTo(userID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.direct[userID]...)
}
