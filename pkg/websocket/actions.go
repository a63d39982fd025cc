package websocket

// Action constants for WebSocket messages
const (
	// Health
	ActionHealthCheck = "health.check"

	// Stream actions
	ActionStreamStart   = "stream.start"
	ActionStreamStop    = "stream.stop"
	ActionStreamStopAll = "stream.stop_all"
	ActionStreamList    = "stream.list"

	// Subscription actions
	ActionStreamSubscribe   = "stream.subscribe"
	ActionStreamUnsubscribe = "stream.unsubscribe"

	// Approval actions
	ActionApprovalList    = "approval.list"
	ActionApprovalResolve = "approval.resolve"

	// Conversation actions
	ActionConversationList  = "conversation.list"
	ActionConversationTurns = "conversation.turns"

	// Terminal actions
	ActionTerminalStart      = "terminal.start"
	ActionTerminalInput      = "terminal.input"
	ActionTerminalResize     = "terminal.resize"
	ActionTerminalStop       = "terminal.stop"
	ActionTerminalList       = "terminal.list"
	ActionTerminalScrollback = "terminal.scrollback"

	// Notification actions (server -> client)
	ActionStreamStarted       = "stream.started"
	ActionStreamChunk         = "stream.chunk"
	ActionStreamPromoted      = "stream.promoted"
	ActionStreamEnded         = "stream.ended"
	ActionApprovalRequested   = "approval.requested"
	ActionApprovalResolved    = "approval.resolved"
	ActionConversationCreated = "conversation.created"
	ActionTurnRecorded        = "turn.recorded"
	ActionTerminalOutput      = "terminal.output"
	ActionTerminalExited      = "terminal.exited"
)

// Error codes
const (
	ErrorCodeBadRequest    = "BAD_REQUEST"
	ErrorCodeNotFound      = "NOT_FOUND"
	ErrorCodeInternalError = "INTERNAL_ERROR"
	ErrorCodeUnauthorized  = "UNAUTHORIZED"
	ErrorCodeForbidden     = "FORBIDDEN"
	ErrorCodeValidation    = "VALIDATION_ERROR"
	ErrorCodeUnknownAction = "UNKNOWN_ACTION"
)
