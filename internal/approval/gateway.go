// Package approval gates tool operations behind human decisions. It
// stores pending requests with one-shot reply slots and notifies
// observers so a UI affordance can render while the caller blocks.
package approval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stewardhq/steward/internal/common/logger"
)

// Mode controls when a request blocks on a human decision.
type Mode string

const (
	// ModeAutoApproveAll approves everything without creating a pending
	// entry or notifying anyone.
	ModeAutoApproveAll Mode = "auto"

	// ModeAutoApproveSandboxed approves sandboxed requests immediately
	// and blocks on the rest.
	ModeAutoApproveSandboxed Mode = "auto_sandboxed"

	// ModeAlwaysAsk blocks on every request.
	ModeAlwaysAsk Mode = "always_ask"
)

// ParseMode validates a configured approval mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeAutoApproveAll, ModeAutoApproveSandboxed, ModeAlwaysAsk:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unsupported approval mode %q (supported: %s, %s, %s)",
		s, ModeAutoApproveAll, ModeAutoApproveSandboxed, ModeAlwaysAsk)
}

// ErrTimeout reports that no decision arrived within the configured
// wait. It is distinct from denial: a timeout may mean the request was
// never surfaced to anyone, so callers should not treat it as a "no".
var ErrTimeout = errors.New("approval request timed out")

// DefaultTimeout is the wait applied when none is configured.
const DefaultTimeout = 5 * time.Minute

// Request is one pending approval visible to observers and the API.
type Request struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Description    string    `json:"description"`
	Sandboxed      bool      `json:"is_sandboxed"`
	CreatedAt      time.Time `json:"created_at"`
}

// Reason explains how a request left the pending set.
type Reason string

const (
	ReasonApproved  Reason = "approved"
	ReasonDenied    Reason = "denied"
	ReasonCancelled Reason = "cancelled"
	ReasonTimeout   Reason = "timeout"
)

// Decision is the terminal disposition of a request. Every requested
// notification is followed by exactly one resolved notification.
type Decision struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id,omitempty"`
	Approved       bool   `json:"approved"`
	Reason         Reason `json:"reason"`
}

// Observer receives approval lifecycle notifications. Implementations
// must not block: notifications run on the requester's goroutine.
type Observer interface {
	ApprovalRequested(req Request)
	ApprovalResolved(d Decision)
}

type pendingRequest struct {
	request Request
	replyCh chan bool
}

// Gateway owns the pending approval set. A single instance is shared by
// every stream; tools reach it through their per-stream runner rather
// than holding it directly.
type Gateway struct {
	mu        sync.RWMutex
	mode      Mode
	timeout   time.Duration
	pending   map[string]*pendingRequest
	observers []Observer
	log       *logger.Logger
}

// NewGateway creates a gateway in the given mode. A zero timeout
// selects DefaultTimeout.
func NewGateway(mode Mode, timeout time.Duration, log *logger.Logger) *Gateway {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Gateway{
		mode:    mode,
		timeout: timeout,
		pending: make(map[string]*pendingRequest),
		log:     log,
	}
}

// AddObserver registers a lifecycle observer.
func (g *Gateway) AddObserver(o Observer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.observers = append(g.observers, o)
}

// RemoveObserver unregisters a previously added observer. Streams add a
// per-run observer and remove it when the run ends.
func (g *Gateway) RemoveObserver(o Observer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, existing := range g.observers {
		if existing == o {
			g.observers = append(g.observers[:i], g.observers[i+1:]...)
			return
		}
	}
}

// Mode returns the current approval mode.
func (g *Gateway) Mode() Mode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.mode
}

// SetMode switches the approval mode at runtime. Requests already
// blocking keep waiting; only new requests see the new mode.
func (g *Gateway) SetMode(mode Mode) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.mode = mode
	g.log.Info("approval mode changed", zap.String("mode", string(mode)))
}

// Request asks for permission to run the described operation, blocking
// up to the configured timeout when the mode requires a human decision.
// It returns the decision, or ErrTimeout when none arrived in time.
// Denial is a normal false return, not an error.
func (g *Gateway) Request(ctx context.Context, conversationID, description string, sandboxed bool) (bool, error) {
	switch g.Mode() {
	case ModeAutoApproveAll:
		return true, nil
	case ModeAutoApproveSandboxed:
		if sandboxed {
			return true, nil
		}
	}

	req := Request{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Description:    description,
		Sandboxed:      sandboxed,
		CreatedAt:      time.Now(),
	}
	entry := &pendingRequest{
		request: req,
		replyCh: make(chan bool, 1),
	}

	g.mu.Lock()
	g.pending[req.ID] = entry
	observers := make([]Observer, len(g.observers))
	copy(observers, g.observers)
	g.mu.Unlock()

	g.log.Info("approval requested",
		zap.String("approval_id", req.ID),
		zap.String("conversation_id", conversationID),
		zap.Bool("is_sandboxed", sandboxed))
	for _, o := range observers {
		o.ApprovalRequested(req)
	}

	waitCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	select {
	case approved := <-entry.replyCh:
		g.remove(req.ID)
		return approved, nil

	case <-waitCtx.Done():
		g.remove(req.ID)
		if ctx.Err() != nil {
			// The caller went away (stream stopped); clear any rendered
			// affordance before propagating.
			g.notifyResolved(Decision{ID: req.ID, ConversationID: conversationID, Reason: ReasonCancelled})
			return false, ctx.Err()
		}
		// A decision that raced the deadline still wins: Resolve already
		// notified observers for it.
		select {
		case approved := <-entry.replyCh:
			return approved, nil
		default:
		}
		g.log.Warn("approval request timed out",
			zap.String("approval_id", req.ID),
			zap.Duration("timeout", g.timeout))
		g.notifyResolved(Decision{ID: req.ID, ConversationID: conversationID, Reason: ReasonTimeout})
		return false, fmt.Errorf("%w: no decision within %s", ErrTimeout, g.timeout)
	}
}

// Resolve delivers the decision for a pending id. At most one decision
// is ever delivered per id: the entry is claimed under the lock before
// the send, so a second Resolve for the same id finds nothing pending
// and returns an error without delivering anything.
func (g *Gateway) Resolve(id string, approved bool) error {
	g.mu.Lock()
	entry, ok := g.pending[id]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("approval request not found: %s", id)
	}
	delete(g.pending, id)
	g.mu.Unlock()

	// The slot is buffered and was just claimed exclusively, so the send
	// cannot block; a waiter whose deadline raced the decision drains it.
	entry.replyCh <- approved

	reason := ReasonDenied
	if approved {
		reason = ReasonApproved
	}
	g.log.Info("approval resolved",
		zap.String("approval_id", id),
		zap.Bool("approved", approved))
	g.notifyResolved(Decision{
		ID:             id,
		ConversationID: entry.request.ConversationID,
		Approved:       approved,
		Reason:         reason,
	})
	return nil
}

// Cancel withdraws a pending request without a decision. The blocked
// caller observes a false, exactly as if the reply slot was dropped.
func (g *Gateway) Cancel(id string) error {
	g.mu.Lock()
	entry, ok := g.pending[id]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("approval request not found: %s", id)
	}
	delete(g.pending, id)
	g.mu.Unlock()

	select {
	case entry.replyCh <- false:
	default:
	}
	g.notifyResolved(Decision{
		ID:             id,
		ConversationID: entry.request.ConversationID,
		Reason:         ReasonCancelled,
	})
	return nil
}

// CancelAll withdraws every pending request. Used at shutdown so no
// stream stays blocked on a decision that can never arrive.
func (g *Gateway) CancelAll() int {
	g.mu.RLock()
	ids := make([]string, 0, len(g.pending))
	for id := range g.pending {
		ids = append(ids, id)
	}
	g.mu.RUnlock()

	for _, id := range ids {
		_ = g.Cancel(id)
	}
	return len(ids)
}

// Get returns a pending request by id.
func (g *Gateway) Get(id string) (Request, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	entry, ok := g.pending[id]
	if !ok {
		return Request{}, false
	}
	return entry.request, true
}

// ListPending returns pending requests ordered by creation time.
func (g *Gateway) ListPending() []Request {
	g.mu.RLock()
	out := make([]Request, 0, len(g.pending))
	for _, entry := range g.pending {
		out = append(out, entry.request)
	}
	g.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (g *Gateway) remove(id string) {
	g.mu.Lock()
	delete(g.pending, id)
	g.mu.Unlock()
}

func (g *Gateway) notifyResolved(d Decision) {
	g.mu.RLock()
	observers := make([]Observer, len(g.observers))
	copy(observers, g.observers)
	g.mu.RUnlock()

	for _, o := range observers {
		o.ApprovalResolved(d)
	}
}
