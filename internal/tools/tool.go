// Package tools implements the tool layer offered to the model:
// command execution, the persistent shell, workspace filesystem reads
// and guarded writes, git operations, URL fetching, and attachment
// staging. A Registry collects tools once at startup; each stream gets
// a lightweight Runner binding the shared registry to that stream's
// conversation id and artifact queue.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/stewardhq/steward/internal/artifacts"
	"github.com/stewardhq/steward/internal/common/logger"
	"github.com/stewardhq/steward/internal/llm"
)

// Approver asks for permission before a destructive operation runs.
// Satisfied by *approval.Gateway.
type Approver interface {
	Request(ctx context.Context, conversationID, description string, sandboxed bool) (bool, error)
}

// Call carries the per-invocation context a tool needs beyond its
// arguments: which conversation asked, and where artifacts go.
type Call struct {
	ConversationID string
	Arguments      json.RawMessage
	Artifacts      *artifacts.Queue
}

// Tool is one callable capability. Execute returns model-facing result
// content; an error return becomes tool-error content upstream, so
// failures must be descriptive enough for the model to react to.
type Tool interface {
	Spec() llm.ToolSpec
	Execute(ctx context.Context, call Call) (string, error)
}

// Registry holds every registered tool in registration order.
type Registry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]Tool
	log   *logger.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{tools: make(map[string]Tool), log: log}
}

// Add registers tools. A duplicate name replaces the earlier entry and
// keeps its position.
func (r *Registry) Add(tools ...Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tools {
		name := t.Spec().Name
		if _, exists := r.tools[name]; !exists {
			r.order = append(r.order, name)
		}
		r.tools[name] = t
	}
}

// Specs lists the registered tool specs in registration order.
func (r *Registry) Specs() []llm.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]llm.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.tools[name].Spec())
	}
	return specs
}

// Names lists the registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Runner binds the registry to one stream. The returned value is what
// the completion adapter calls for every tool invocation.
func (r *Registry) Runner(conversationID string, q *artifacts.Queue) llm.ToolRunner {
	return &runner{reg: r, conversationID: conversationID, queue: q}
}

type runner struct {
	reg            *Registry
	conversationID string
	queue          *artifacts.Queue
}

func (r *runner) Specs() []llm.ToolSpec {
	return r.reg.Specs()
}

func (r *runner) Run(ctx context.Context, name, argumentsJSON string) (string, error) {
	tool, ok := r.reg.Get(name)
	if !ok {
		return "", fmt.Errorf("unknown tool %q", name)
	}
	r.reg.log.Debug("running tool",
		zap.String("tool", name),
		zap.String("conversation_id", r.conversationID))
	return tool.Execute(ctx, Call{
		ConversationID: r.conversationID,
		Arguments:      json.RawMessage(argumentsJSON),
		Artifacts:      r.queue,
	})
}

// parseArgs unmarshals tool arguments, tolerating an empty argument
// string for tools whose parameters are all optional.
func parseArgs(raw json.RawMessage, into interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("invalid tool arguments: %w", err)
	}
	return nil
}

// jsonResult renders a tool result as compact JSON.
func jsonResult(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode tool result: %w", err)
	}
	return string(data), nil
}

func objectSchema(properties map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProp(description string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": description}
}

func boolProp(description string) map[string]interface{} {
	return map[string]interface{}{"type": "boolean", "description": description}
}

func intProp(description string) map[string]interface{} {
	return map[string]interface{}{"type": "integer", "description": description}
}
