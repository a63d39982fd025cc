package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stewardhq/steward/internal/artifacts"
	"github.com/stewardhq/steward/internal/common/logger"
	"github.com/stewardhq/steward/internal/llm"
)

// stubTool records the Call it was invoked with.
type stubTool struct {
	name     string
	result   string
	lastCall Call
}

func (t *stubTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{Name: t.name, Description: "stub", Schema: objectSchema(nil)}
}

func (t *stubTool) Execute(_ context.Context, call Call) (string, error) {
	t.lastCall = call
	return t.result, nil
}

// stubApprover records the last approval request.
type stubApprover struct {
	approve         bool
	calls           int
	lastDescription string
	lastSandboxed   bool
}

func (a *stubApprover) Request(_ context.Context, _, description string, sandboxed bool) (bool, error) {
	a.calls++
	a.lastDescription = description
	a.lastSandboxed = sandboxed
	return a.approve, nil
}

func TestRegistrySpecsKeepRegistrationOrder(t *testing.T) {
	r := NewRegistry(logger.NewNop())
	r.Add(&stubTool{name: "beta"}, &stubTool{name: "alpha"}, &stubTool{name: "gamma"})

	assert.Equal(t, []string{"beta", "alpha", "gamma"}, r.Names())

	specs := r.Specs()
	require.Len(t, specs, 3)
	assert.Equal(t, "beta", specs[0].Name)
	assert.Equal(t, "gamma", specs[2].Name)
}

func TestRegistryDuplicateReplacesInPlace(t *testing.T) {
	r := NewRegistry(logger.NewNop())
	r.Add(&stubTool{name: "a"}, &stubTool{name: "b"})
	replacement := &stubTool{name: "a", result: "new"}
	r.Add(replacement)

	assert.Equal(t, []string{"a", "b"}, r.Names())
	got, ok := r.Get("a")
	require.True(t, ok)
	assert.Same(t, replacement, got)
}

func TestRunnerBindsStreamContext(t *testing.T) {
	r := NewRegistry(logger.NewNop())
	tool := &stubTool{name: "probe", result: "ok"}
	r.Add(tool)

	q := artifacts.NewQueue()
	runner := r.Runner("conv-7", q)

	out, err := runner.Run(context.Background(), "probe", `{"x":1}`)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, "conv-7", tool.lastCall.ConversationID)
	assert.Same(t, q, tool.lastCall.Artifacts)
	assert.Equal(t, json.RawMessage(`{"x":1}`), tool.lastCall.Arguments)
}

func TestRunnerUnknownTool(t *testing.T) {
	r := NewRegistry(logger.NewNop())
	runner := r.Runner("conv", nil)

	_, err := runner.Run(context.Background(), "missing", "{}")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tool")
}

func TestParseArgs(t *testing.T) {
	var out struct {
		Path string `json:"path"`
	}
	require.NoError(t, parseArgs(json.RawMessage(`{"path":"a.txt"}`), &out))
	assert.Equal(t, "a.txt", out.Path)

	require.NoError(t, parseArgs(nil, &out), "empty arguments tolerated")
	assert.Error(t, parseArgs(json.RawMessage(`{broken`), &out))
}
