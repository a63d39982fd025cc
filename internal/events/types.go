// Package events provides event types and utilities for the Steward event system.
package events

// Event types for stream lifecycle
const (
	StreamStarted  = "stream.started"  // Stream registered with the lifecycle manager
	StreamPromoted = "stream.promoted" // Pending stream relocated to its conversation id
	StreamChunk    = "stream.chunk"    // Base subject for per-conversation chunk events
	StreamEnded    = "stream.ended"    // Terminal summary for a stream
)

// Event types for approvals
const (
	ApprovalRequested = "approval.requested" // Command or write waiting on a decision
	ApprovalResolved  = "approval.resolved"  // Decision recorded (approved, denied, or timeout)
)

// Event types for conversations
const (
	ConversationCreated = "conversation.created"
	ConversationDeleted = "conversation.deleted"
	TurnRecorded        = "turn.recorded" // Completed turn persisted
)

// Event types for tool execution
const (
	ToolCallStarted  = "tool.call.started"
	ToolCallFinished = "tool.call.finished"
)

// Event types for supervisor terminals
const (
	TerminalOutput = "terminal.output" // Terminal output data
	TerminalExit   = "terminal.exit"   // Terminal process exited
)

// BuildStreamChunkSubject creates a chunk subject for a specific conversation
func BuildStreamChunkSubject(conversationID string) string {
	return StreamChunk + "." + conversationID
}

// BuildStreamChunkWildcardSubject creates a wildcard subscription for all chunk events
func BuildStreamChunkWildcardSubject() string {
	return StreamChunk + ".*"
}

// BuildStreamEndedSubject creates a stream ended subject for a specific conversation
func BuildStreamEndedSubject(conversationID string) string {
	return StreamEnded + "." + conversationID
}

// BuildStreamEndedWildcardSubject creates a wildcard subscription for all stream ended events
func BuildStreamEndedWildcardSubject() string {
	return StreamEnded + ".*"
}

// BuildTerminalOutputSubject creates a terminal output subject for a specific session
func BuildTerminalOutputSubject(sessionID string) string {
	return TerminalOutput + "." + sessionID
}

// BuildTerminalOutputWildcardSubject creates a wildcard subscription for all terminal output events
func BuildTerminalOutputWildcardSubject() string {
	return TerminalOutput + ".*"
}

// BuildTerminalExitSubject creates a terminal exit subject for a specific session
func BuildTerminalExitSubject(sessionID string) string {
	return TerminalExit + "." + sessionID
}

// BuildTerminalExitWildcardSubject creates a wildcard subscription for all terminal exit events
func BuildTerminalExitWildcardSubject() string {
	return TerminalExit + ".*"
}
