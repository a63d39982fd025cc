package llm

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ScriptedTurn describes what the mock completer plays for one turn:
// text deltas, then tool calls, then usage. A non-empty Err ends the
// turn with a provider error instead.
type ScriptedTurn struct {
	Text      []string
	ToolCalls []ToolCallRequest
	Usage     *TokenUsage
	Err       string
	Delay     time.Duration
}

// MockCompleter plays a fixed script, one ScriptedTurn per StreamTurn
// call. It backs the mock provider kind and the adapter tests.
type MockCompleter struct {
	mu       sync.Mutex
	turns    []ScriptedTurn
	next     int
	requests []TurnRequest
}

// NewMockCompleter creates a completer that plays the given turns in order.
func NewMockCompleter(turns ...ScriptedTurn) *MockCompleter {
	return &MockCompleter{turns: turns}
}

// StreamTurn plays the next scripted turn. It records the request so
// tests can assert on the transcript the adapter constructed.
func (m *MockCompleter) StreamTurn(ctx context.Context, req TurnRequest) (<-chan TurnEvent, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	if m.next >= len(m.turns) {
		m.mu.Unlock()
		return nil, fmt.Errorf("mock completer script exhausted after %d turns", len(m.turns))
	}
	turn := m.turns[m.next]
	m.next++
	m.mu.Unlock()

	ch := make(chan TurnEvent)
	go func() {
		defer close(ch)
		send := func(ev TurnEvent) bool {
			if turn.Delay > 0 {
				select {
				case <-time.After(turn.Delay):
				case <-ctx.Done():
					return false
				}
			}
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for _, text := range turn.Text {
			if !send(TurnEvent{Kind: TurnText, Text: text}) {
				return
			}
		}
		if turn.Err != "" {
			send(TurnEvent{Kind: TurnError, Err: turn.Err})
			return
		}
		for i := range turn.ToolCalls {
			call := turn.ToolCalls[i]
			if !send(TurnEvent{Kind: TurnToolCall, ToolCall: &call}) {
				return
			}
		}
		if turn.Usage != nil {
			send(TurnEvent{Kind: TurnUsage, Usage: turn.Usage})
		}
	}()
	return ch, nil
}

// Requests returns a copy of every TurnRequest received so far.
func (m *MockCompleter) Requests() []TurnRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TurnRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// EchoCompleter answers every turn by acknowledging the last user or
// tool message. It backs manifest entries with kind mock so the daemon
// runs end to end without provider credentials.
type EchoCompleter struct{}

// NewEchoCompleter creates the built-in development completer.
func NewEchoCompleter() *EchoCompleter {
	return &EchoCompleter{}
}

// StreamTurn emits one text event echoing the newest message, then a
// usage summary.
func (e *EchoCompleter) StreamTurn(ctx context.Context, req TurnRequest) (<-chan TurnEvent, error) {
	var last string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser || req.Messages[i].Role == RoleTool {
			last = req.Messages[i].Content
			break
		}
	}
	reply := "Echo: " + last

	ch := make(chan TurnEvent, 2)
	ch <- TurnEvent{Kind: TurnText, Text: reply}
	ch <- TurnEvent{Kind: TurnUsage, Usage: &TokenUsage{
		InputTokens:  len(req.Messages),
		OutputTokens: len(reply),
	}}
	close(ch)
	return ch, nil
}
