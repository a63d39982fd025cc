package llm

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry in a conversation transcript. Assistant messages
// may carry tool calls; tool messages carry the result for exactly one
// call, correlated by ToolCallID.
type Message struct {
	Role       Role              `json:"role"`
	Content    string            `json:"content,omitempty"`
	ToolCalls  []ToolCallRequest `json:"tool_calls,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
}

// UserMessage builds a user message from plain text content.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant message carrying text and any
// tool calls requested during the turn.
func AssistantMessage(content string, calls []ToolCallRequest) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// ToolResultMessage builds the tool-result message returned to the
// provider as the next turn's input.
func ToolResultMessage(toolCallID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: toolCallID}
}

// ToolCallRequest is a provider-surfaced request to invoke one tool.
// CallID is the provider's correlation id and ItemID its native item id;
// either or both may be empty depending on the backend.
type ToolCallRequest struct {
	CallID        string `json:"call_id,omitempty"`
	ItemID        string `json:"item_id,omitempty"`
	Name          string `json:"name"`
	ArgumentsJSON string `json:"arguments_json"`
}

// ToolSpec declares one tool to the provider's function-calling
// mechanism: a name, a natural-language description with example
// payloads, and a JSON Schema for the arguments.
type ToolSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Schema      map[string]interface{} `json:"schema"`
}
