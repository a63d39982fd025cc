package approval

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stewardhq/steward/internal/common/logger"
)

type recordingObserver struct {
	mu        sync.Mutex
	requested []Request
	resolved  []Decision
}

func (r *recordingObserver) ApprovalRequested(req Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requested = append(r.requested, req)
}

func (r *recordingObserver) ApprovalResolved(d Decision) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolved = append(r.resolved, d)
}

func (r *recordingObserver) snapshot() ([]Request, []Decision) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reqs := make([]Request, len(r.requested))
	copy(reqs, r.requested)
	decs := make([]Decision, len(r.resolved))
	copy(decs, r.resolved)
	return reqs, decs
}

type requestResult struct {
	approved bool
	err      error
}

func setupGateway(t *testing.T, mode Mode, timeout time.Duration) (*Gateway, *recordingObserver) {
	t.Helper()
	gw := NewGateway(mode, timeout, logger.NewNop())
	obs := &recordingObserver{}
	gw.AddObserver(obs)
	return gw, obs
}

// startRequest launches a blocking Request and returns its result channel.
func startRequest(gw *Gateway, conversationID, description string, sandboxed bool) <-chan requestResult {
	ch := make(chan requestResult, 1)
	go func() {
		approved, err := gw.Request(context.Background(), conversationID, description, sandboxed)
		ch <- requestResult{approved: approved, err: err}
	}()
	return ch
}

// waitForPending polls until the gateway holds n pending requests.
func waitForPending(t *testing.T, gw *Gateway, n int) []Request {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		pending := gw.ListPending()
		if len(pending) == n {
			return pending
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("gateway never reached %d pending requests", n)
	return nil
}

func TestParseMode(t *testing.T) {
	for _, valid := range []string{"auto", "auto_sandboxed", "always_ask"} {
		mode, err := ParseMode(valid)
		require.NoError(t, err)
		assert.Equal(t, Mode(valid), mode)
	}

	_, err := ParseMode("yolo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported approval mode")
}

func TestGatewayAutoApproveAll(t *testing.T) {
	gw, obs := setupGateway(t, ModeAutoApproveAll, time.Second)

	approved, err := gw.Request(context.Background(), "conv-1", "rm -rf build/", false)
	require.NoError(t, err)
	assert.True(t, approved)

	// No pending entry and no notifications for auto-approved requests.
	assert.Empty(t, gw.ListPending())
	reqs, decs := obs.snapshot()
	assert.Empty(t, reqs)
	assert.Empty(t, decs)
}

func TestGatewayAutoApproveSandboxed(t *testing.T) {
	t.Run("sandboxed command passes without blocking", func(t *testing.T) {
		gw, obs := setupGateway(t, ModeAutoApproveSandboxed, time.Second)

		approved, err := gw.Request(context.Background(), "conv-1", "make test", true)
		require.NoError(t, err)
		assert.True(t, approved)
		assert.Empty(t, gw.ListPending())
		reqs, _ := obs.snapshot()
		assert.Empty(t, reqs)
	})

	t.Run("unsandboxed command blocks until resolved", func(t *testing.T) {
		gw, _ := setupGateway(t, ModeAutoApproveSandboxed, 5*time.Second)

		resultCh := startRequest(gw, "conv-1", "make test", false)
		pending := waitForPending(t, gw, 1)
		assert.Equal(t, "make test", pending[0].Description)
		assert.False(t, pending[0].Sandboxed)

		require.NoError(t, gw.Resolve(pending[0].ID, true))
		result := <-resultCh
		require.NoError(t, result.err)
		assert.True(t, result.approved)
		assert.Empty(t, gw.ListPending())
	})
}

func TestGatewayAlwaysAsk(t *testing.T) {
	t.Run("approval returns true", func(t *testing.T) {
		gw, obs := setupGateway(t, ModeAlwaysAsk, 5*time.Second)

		resultCh := startRequest(gw, "conv-1", "ls", true)
		pending := waitForPending(t, gw, 1)

		require.NoError(t, gw.Resolve(pending[0].ID, true))
		result := <-resultCh
		require.NoError(t, result.err)
		assert.True(t, result.approved)

		reqs, decs := obs.snapshot()
		require.Len(t, reqs, 1)
		assert.Equal(t, "conv-1", reqs[0].ConversationID)
		require.Len(t, decs, 1)
		assert.Equal(t, ReasonApproved, decs[0].Reason)
		assert.True(t, decs[0].Approved)
	})

	t.Run("denial returns false without an error", func(t *testing.T) {
		gw, obs := setupGateway(t, ModeAlwaysAsk, 5*time.Second)

		resultCh := startRequest(gw, "conv-1", "ls", true)
		pending := waitForPending(t, gw, 1)

		require.NoError(t, gw.Resolve(pending[0].ID, false))
		result := <-resultCh
		require.NoError(t, result.err)
		assert.False(t, result.approved)

		_, decs := obs.snapshot()
		require.Len(t, decs, 1)
		assert.Equal(t, ReasonDenied, decs[0].Reason)
	})
}

func TestGatewayTimeout(t *testing.T) {
	gw, obs := setupGateway(t, ModeAlwaysAsk, 30*time.Millisecond)

	resultCh := startRequest(gw, "conv-1", "ls", false)
	result := <-resultCh

	require.Error(t, result.err)
	assert.True(t, errors.Is(result.err, ErrTimeout))
	assert.Contains(t, result.err.Error(), "30ms")
	assert.False(t, result.approved)

	// The entry is gone and observers saw a timeout disposition.
	assert.Empty(t, gw.ListPending())
	_, decs := obs.snapshot()
	require.Len(t, decs, 1)
	assert.Equal(t, ReasonTimeout, decs[0].Reason)
	assert.False(t, decs[0].Approved)
}

func TestGatewayCancelUnblocksCaller(t *testing.T) {
	gw, obs := setupGateway(t, ModeAlwaysAsk, 5*time.Second)

	resultCh := startRequest(gw, "conv-1", "ls", false)
	pending := waitForPending(t, gw, 1)

	require.NoError(t, gw.Cancel(pending[0].ID))
	result := <-resultCh
	require.NoError(t, result.err)
	assert.False(t, result.approved)

	_, decs := obs.snapshot()
	require.Len(t, decs, 1)
	assert.Equal(t, ReasonCancelled, decs[0].Reason)
}

func TestGatewayContextCancellation(t *testing.T) {
	gw, _ := setupGateway(t, ModeAlwaysAsk, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	resultCh := make(chan requestResult, 1)
	go func() {
		approved, err := gw.Request(ctx, "conv-1", "ls", false)
		resultCh <- requestResult{approved: approved, err: err}
	}()
	waitForPending(t, gw, 1)

	cancel()
	result := <-resultCh
	require.Error(t, result.err)
	assert.True(t, errors.Is(result.err, context.Canceled))
	assert.Empty(t, gw.ListPending())
}

func TestGatewayResolveSemantics(t *testing.T) {
	t.Run("unknown id is rejected", func(t *testing.T) {
		gw, _ := setupGateway(t, ModeAlwaysAsk, time.Second)
		err := gw.Resolve("no-such-id", true)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("only one decision is ever delivered", func(t *testing.T) {
		gw, _ := setupGateway(t, ModeAlwaysAsk, 5*time.Second)

		resultCh := startRequest(gw, "conv-1", "ls", false)
		pending := waitForPending(t, gw, 1)

		require.NoError(t, gw.Resolve(pending[0].ID, true))
		// The first decision claims the entry, so a second one always
		// finds nothing pending.
		err := gw.Resolve(pending[0].ID, false)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")

		result := <-resultCh
		require.NoError(t, result.err)
		assert.True(t, result.approved)
	})
}

func TestGatewayCancelAll(t *testing.T) {
	gw, _ := setupGateway(t, ModeAlwaysAsk, 5*time.Second)

	first := startRequest(gw, "conv-1", "ls", false)
	second := startRequest(gw, "conv-2", "pwd", false)
	waitForPending(t, gw, 2)

	assert.Equal(t, 2, gw.CancelAll())

	for _, ch := range []<-chan requestResult{first, second} {
		result := <-ch
		require.NoError(t, result.err)
		assert.False(t, result.approved)
	}
	assert.Empty(t, gw.ListPending())
}

func TestGatewayGetAndList(t *testing.T) {
	gw, _ := setupGateway(t, ModeAlwaysAsk, 5*time.Second)

	startRequest(gw, "conv-1", "first", false)
	waitForPending(t, gw, 1)
	startRequest(gw, "conv-2", "second", false)
	pending := waitForPending(t, gw, 2)

	// Ordered by creation time.
	assert.Equal(t, "first", pending[0].Description)
	assert.Equal(t, "second", pending[1].Description)

	got, ok := gw.Get(pending[1].ID)
	require.True(t, ok)
	assert.Equal(t, "conv-2", got.ConversationID)

	_, ok = gw.Get("missing")
	assert.False(t, ok)

	gw.CancelAll()
}

func TestGatewaySetMode(t *testing.T) {
	gw, _ := setupGateway(t, ModeAlwaysAsk, time.Second)
	assert.Equal(t, ModeAlwaysAsk, gw.Mode())

	gw.SetMode(ModeAutoApproveAll)
	assert.Equal(t, ModeAutoApproveAll, gw.Mode())

	approved, err := gw.Request(context.Background(), "conv-1", "ls", false)
	require.NoError(t, err)
	assert.True(t, approved)
}
