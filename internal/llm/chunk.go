// Package llm provides the provider-agnostic streaming adapter: a closed
// set of completion backends normalized into one chunk protocol, plus the
// bounded multi-turn tool loop that drives them.
package llm

// ChunkType discriminates the wire-level events emitted by the adapter.
type ChunkType string

const (
	ChunkText              ChunkType = "text"
	ChunkToolCallStarted   ChunkType = "tool_call_started"
	ChunkToolCallInput     ChunkType = "tool_call_input"
	ChunkToolCallResult    ChunkType = "tool_call_result"
	ChunkToolCallError     ChunkType = "tool_call_error"
	ChunkApprovalRequested ChunkType = "approval_requested"
	ChunkApprovalResolved  ChunkType = "approval_resolved"
	ChunkTokenUsage        ChunkType = "token_usage"
	ChunkDone              ChunkType = "done"
	ChunkError             ChunkType = "error"
)

// Chunk is one normalized adapter event. Exactly one adapter invocation
// per user turn emits an in-order sequence of these; Done and Error are
// terminal, and no Done ever follows an Error.
type Chunk struct {
	Type ChunkType `json:"type"`

	// Text payload for ChunkText.
	Text string `json:"text,omitempty"`

	// Tool call correlation id, shared by the started/input/result/error
	// chunks of one call.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// ToolName for ChunkToolCallStarted.
	ToolName string `json:"tool_name,omitempty"`

	// ArgumentsJSON for ChunkToolCallInput.
	ArgumentsJSON string `json:"arguments_json,omitempty"`

	// Result for ChunkToolCallResult.
	Result string `json:"result,omitempty"`

	// ErrorMessage for ChunkToolCallError and ChunkError.
	ErrorMessage string `json:"error,omitempty"`

	// Approval fields for ChunkApprovalRequested / ChunkApprovalResolved.
	ApprovalID string `json:"approval_id,omitempty"`
	Command    string `json:"command,omitempty"`
	// Sandboxed and Approved always serialize: a false value is a real
	// answer (unsandboxed, denied), not an absent field.
	Sandboxed bool `json:"is_sandboxed"`
	Approved  bool `json:"approved"`

	// Usage for ChunkTokenUsage.
	Usage *TokenUsage `json:"usage,omitempty"`
}

// IsTerminal reports whether this chunk ends the sequence.
func (c Chunk) IsTerminal() bool {
	return c.Type == ChunkDone || c.Type == ChunkError
}

// TextChunk builds a ChunkText event.
func TextChunk(text string) Chunk {
	return Chunk{Type: ChunkText, Text: text}
}

// ToolCallStartedChunk builds a ChunkToolCallStarted event.
func ToolCallStartedChunk(id, name string) Chunk {
	return Chunk{Type: ChunkToolCallStarted, ToolCallID: id, ToolName: name}
}

// ToolCallInputChunk builds a ChunkToolCallInput event.
func ToolCallInputChunk(id, argumentsJSON string) Chunk {
	return Chunk{Type: ChunkToolCallInput, ToolCallID: id, ArgumentsJSON: argumentsJSON}
}

// ToolCallResultChunk builds a ChunkToolCallResult event.
func ToolCallResultChunk(id, result string) Chunk {
	return Chunk{Type: ChunkToolCallResult, ToolCallID: id, Result: result}
}

// ToolCallErrorChunk builds a ChunkToolCallError event.
func ToolCallErrorChunk(id, errMsg string) Chunk {
	return Chunk{Type: ChunkToolCallError, ToolCallID: id, ErrorMessage: errMsg}
}

// ApprovalRequestedChunk builds a ChunkApprovalRequested event.
func ApprovalRequestedChunk(id, command string, sandboxed bool) Chunk {
	return Chunk{Type: ChunkApprovalRequested, ApprovalID: id, Command: command, Sandboxed: sandboxed}
}

// ApprovalResolvedChunk builds a ChunkApprovalResolved event.
func ApprovalResolvedChunk(id string, approved bool) Chunk {
	return Chunk{Type: ChunkApprovalResolved, ApprovalID: id, Approved: approved}
}

// TokenUsageChunk builds a ChunkTokenUsage event.
func TokenUsageChunk(usage TokenUsage) Chunk {
	return Chunk{Type: ChunkTokenUsage, Usage: &usage}
}

// DoneChunk builds the normal terminal event.
func DoneChunk() Chunk {
	return Chunk{Type: ChunkDone}
}

// ErrorChunk builds the failure terminal event.
func ErrorChunk(message string) Chunk {
	return Chunk{Type: ChunkError, ErrorMessage: message}
}
