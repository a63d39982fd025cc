package llm

import "context"

// TurnEventKind discriminates events surfaced by a Completer for one
// provider turn.
type TurnEventKind string

const (
	TurnText     TurnEventKind = "text"
	TurnToolCall TurnEventKind = "tool_call"
	TurnUsage    TurnEventKind = "usage"
	TurnError    TurnEventKind = "error"
)

// TurnEvent is one provider-side event within a single completion turn.
type TurnEvent struct {
	Kind     TurnEventKind
	Text     string
	ToolCall *ToolCallRequest
	Usage    *TokenUsage
	Err      string
}

// TurnRequest describes a single completion turn: the transcript so far
// plus the tools the model may call.
type TurnRequest struct {
	Model    string
	System   string
	Messages []Message
	Tools    []ToolSpec
}

// Completer runs one streaming completion turn against a provider.
// Implementations emit events in provider order on the returned channel
// and close it when the turn finishes. Tool calls must be surfaced fully
// assembled (name plus complete arguments), never as fragments.
type Completer interface {
	StreamTurn(ctx context.Context, req TurnRequest) (<-chan TurnEvent, error)
}

// ToolRunner executes tool calls on behalf of the adapter and declares
// the tool specs advertised to the provider.
type ToolRunner interface {
	// Specs lists the tools available to the model.
	Specs() []ToolSpec

	// Run executes the named tool with raw JSON arguments and returns
	// the result content handed back to the model. An error return is
	// converted to tool-result content, not propagated, so the model
	// can react to failures.
	Run(ctx context.Context, name, argumentsJSON string) (string, error)
}
