package telegraph

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zulandar/courier/internal/relay"
)

// MockAdapter implements Adapter for testing. It records sent messages,
// duplicates and callback answers, and allows simulating inbound messages
// via SimulateInbound.
type MockAdapter struct {
	mu         sync.Mutex
	connected  bool
	listening  bool
	closed     bool
	inbound    chan InboundMessage
	sent       []OutboundMessage
	duplicates []DuplicateCall
	answers    []CallbackAnswer
	failFor    map[int64]error
	botUserID  int64
}

// DuplicateCall records one Duplicate invocation.
type DuplicateCall struct {
	TargetID int64
	Payload  relay.Payload
}

// CallbackAnswer records one AnswerCallback invocation.
type CallbackAnswer struct {
	CallbackID string
	Text       string
	Alert      bool
}

// NewMockAdapter creates a MockAdapter with a buffered inbound channel.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		inbound: make(chan InboundMessage, 100),
		failFor: make(map[int64]error),
	}
}

// BotUserID returns the configured bot user ID (implements BotUserIDer).
func (m *MockAdapter) BotUserID() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.botUserID
}

// SetBotUserID sets the bot user ID for testing.
func (m *MockAdapter) SetBotUserID(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.botUserID = id
}

// Connect marks the adapter as connected.
func (m *MockAdapter) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mock adapter: already closed")
	}
	m.connected = true
	return nil
}

// Listen returns the inbound message channel. Must be called after Connect.
func (m *MockAdapter) Listen(ctx context.Context) (<-chan InboundMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, fmt.Errorf("mock adapter: not connected")
	}
	m.listening = true
	return m.inbound, nil
}

// Send records the outbound message.
func (m *MockAdapter) Send(ctx context.Context, msg OutboundMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return fmt.Errorf("mock adapter: not connected")
	}
	m.sent = append(m.sent, msg)
	return nil
}

// Duplicate records the call and returns the error configured for the
// target via FailDuplicate, if any.
func (m *MockAdapter) Duplicate(ctx context.Context, targetID int64, p relay.Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return fmt.Errorf("mock adapter: not connected")
	}
	m.duplicates = append(m.duplicates, DuplicateCall{TargetID: targetID, Payload: p})
	return m.failFor[targetID]
}

// AnswerCallback records the callback answer.
func (m *MockAdapter) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return fmt.Errorf("mock adapter: not connected")
	}
	m.answers = append(m.answers, CallbackAnswer{CallbackID: callbackID, Text: text, Alert: alert})
	return nil
}

// Close shuts down the mock adapter and closes the inbound channel.
func (m *MockAdapter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.connected = false
	close(m.inbound)
	return nil
}

// --- Test helpers ---

// SimulateInbound sends a message into the inbound channel as if it came
// from the chat platform. Safe to call from any goroutine.
func (m *MockAdapter) SimulateInbound(msg InboundMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	m.inbound <- msg
}

// Listening reports whether Listen has been called on a connected adapter.
func (m *MockAdapter) Listening() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listening
}

// FailDuplicate makes every Duplicate into targetID return err.
func (m *MockAdapter) FailDuplicate(targetID int64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failFor[targetID] = err
}

// LastSent returns the most recently sent outbound message.
// Returns zero value and false if no messages have been sent.
func (m *MockAdapter) LastSent() (OutboundMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return OutboundMessage{}, false
	}
	return m.sent[len(m.sent)-1], true
}

// SentCount returns the number of outbound messages sent.
func (m *MockAdapter) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// AllSent returns a copy of all sent outbound messages.
func (m *MockAdapter) AllSent() []OutboundMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OutboundMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// Duplicates returns a copy of all Duplicate calls.
func (m *MockAdapter) Duplicates() []DuplicateCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DuplicateCall, len(m.duplicates))
	copy(out, m.duplicates)
	return out
}

// Answers returns a copy of all callback answers.
func (m *MockAdapter) Answers() []CallbackAnswer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CallbackAnswer, len(m.answers))
	copy(out, m.answers)
	return out
}
