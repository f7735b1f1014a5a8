package notify

import (
	"context"
	"log"
	"sync"
)

// MockMailer records messages instead of sending them. Used in tests
// and local development.
type MockMailer struct {
	mu   sync.Mutex
	sent []Message
}

func NewMockMailer() *MockMailer {
	return &MockMailer{}
}

func (m *MockMailer) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()
	log.Printf("mock mail to %s: %s", msg.To, msg.Subject)
	return nil
}

// Sent returns a copy of all recorded messages.
func (m *MockMailer) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.sent))
	copy(out, m.sent)
	return out
}

var _ Mailer = (*MockMailer)(nil)
