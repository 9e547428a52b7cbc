package llm

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrMockExhausted is returned once a Mock has served every scripted reply.
var ErrMockExhausted = errors.New("mock: no scripted response left")

// Reply is one scripted Mock response.
type Reply struct {
	Text  string
	Err   error
	Delay time.Duration
}

// Mock is a scripted Completer for tests and offline runs.
type Mock struct {
	mu      sync.Mutex
	replies []Reply
	calls   [][]Message
	repeat  bool
}

// NewMock serves replies in order.
func NewMock(replies ...Reply) *Mock {
	return &Mock{replies: replies}
}

// NewEchoMock answers every call with text.
func NewEchoMock(text string) *Mock {
	return &Mock{replies: []Reply{{Text: text}}, repeat: true}
}

func (m *Mock) Name() string { return "mock" }

func (m *Mock) Complete(ctx context.Context, msgs []Message, _ Options) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, append([]Message(nil), msgs...))
	if len(m.replies) == 0 {
		m.mu.Unlock()
		return "", ErrMockExhausted
	}
	r := m.replies[0]
	if !m.repeat {
		m.replies = m.replies[1:]
	}
	m.mu.Unlock()

	if r.Delay > 0 {
		select {
		case <-time.After(r.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return r.Text, r.Err
}

// Calls returns a copy of the messages received so far.
func (m *Mock) Calls() [][]Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]Message(nil), m.calls...)
}
