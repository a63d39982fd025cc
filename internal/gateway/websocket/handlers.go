package websocket

import (
	"context"
	"encoding/base64"

	"github.com/stewardhq/steward/internal/approval"
	"github.com/stewardhq/steward/internal/persistence"
	"github.com/stewardhq/steward/internal/stream"
	ws "github.com/stewardhq/steward/pkg/websocket"
)

// StreamService is the slice of the stream control plane the gateway
// drives.
type StreamService interface {
	Start(ctx context.Context, req stream.StartRequest) (string, error)
	Stop(conversationID string) bool
	StopAll() int
	Active() []string
}

// ApprovalService is the slice of the approval gateway exposed to
// clients.
type ApprovalService interface {
	ListPending() []approval.Request
	Resolve(id string, approved bool) error
}

// ConversationStore is the read side of the persistence layer the
// gateway serves.
type ConversationStore interface {
	ListConversations(ctx context.Context) ([]persistence.Conversation, error)
	ListTurns(ctx context.Context, conversationID string) ([]persistence.Turn, error)
}

// TerminalService manages supervisor terminal sessions.
type TerminalService interface {
	Start(cols, rows uint16) (string, error)
	Input(id string, data []byte) error
	Resize(id string, cols, rows uint16) error
	Stop(id string) error
	Scrollback(id string) ([]byte, error)
	List() []string
}

// StreamHandlers exposes stream lifecycle actions.
type StreamHandlers struct {
	svc StreamService
}

// NewStreamHandlers creates handlers backed by the stream service.
func NewStreamHandlers(svc StreamService) *StreamHandlers {
	return &StreamHandlers{svc: svc}
}

// Register wires the stream actions into the dispatcher.
func (h *StreamHandlers) Register(d *ws.Dispatcher) {
	d.RegisterFunc(ws.ActionStreamStart, h.handleStart)
	d.RegisterFunc(ws.ActionStreamStop, h.handleStop)
	d.RegisterFunc(ws.ActionStreamStopAll, h.handleStopAll)
	d.RegisterFunc(ws.ActionStreamList, h.handleList)
}

func (h *StreamHandlers) handleStart(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req stream.StartRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}

	convID, err := h.svc.Start(ctx, req)
	if err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, err.Error(), nil)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
		"conversation_id": convID,
	})
}

// stopRequest targets one conversation's stream.
type stopRequest struct {
	ConversationID string `json:"conversation_id"`
}

func (h *StreamHandlers) handleStop(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req stopRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	if req.ConversationID == "" {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "conversation_id is required", nil)
	}

	stopped := h.svc.Stop(req.ConversationID)
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
		"conversation_id": req.ConversationID,
		"stopped":         stopped,
	})
}

func (h *StreamHandlers) handleStopAll(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
		"stopped": h.svc.StopAll(),
	})
}

func (h *StreamHandlers) handleList(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	active := h.svc.Active()
	if active == nil {
		active = []string{}
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
		"active": active,
	})
}

// ApprovalHandlers exposes the pending approval set.
type ApprovalHandlers struct {
	svc ApprovalService
}

// NewApprovalHandlers creates handlers backed by the approval gateway.
func NewApprovalHandlers(svc ApprovalService) *ApprovalHandlers {
	return &ApprovalHandlers{svc: svc}
}

// Register wires the approval actions into the dispatcher.
func (h *ApprovalHandlers) Register(d *ws.Dispatcher) {
	d.RegisterFunc(ws.ActionApprovalList, h.handleList)
	d.RegisterFunc(ws.ActionApprovalResolve, h.handleResolve)
}

func (h *ApprovalHandlers) handleList(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	pending := h.svc.ListPending()
	if pending == nil {
		pending = []approval.Request{}
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
		"approvals": pending,
	})
}

// resolveRequest carries one approval decision.
type resolveRequest struct {
	ID       string `json:"id"`
	Approved bool   `json:"approved"`
}

func (h *ApprovalHandlers) handleResolve(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req resolveRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	if req.ID == "" {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "id is required", nil)
	}

	if err := h.svc.Resolve(req.ID, req.Approved); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeNotFound, err.Error(), nil)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
		"id":       req.ID,
		"approved": req.Approved,
	})
}

// ConversationHandlers serves the persisted conversation history.
type ConversationHandlers struct {
	store ConversationStore
}

// NewConversationHandlers creates handlers backed by the store.
func NewConversationHandlers(store ConversationStore) *ConversationHandlers {
	return &ConversationHandlers{store: store}
}

// Register wires the conversation actions into the dispatcher.
func (h *ConversationHandlers) Register(d *ws.Dispatcher) {
	d.RegisterFunc(ws.ActionConversationList, h.handleList)
	d.RegisterFunc(ws.ActionConversationTurns, h.handleTurns)
}

func (h *ConversationHandlers) handleList(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	conversations, err := h.store.ListConversations(ctx)
	if err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeInternalError, err.Error(), nil)
	}
	if conversations == nil {
		conversations = []persistence.Conversation{}
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
		"conversations": conversations,
	})
}

// turnsRequest names the conversation to replay.
type turnsRequest struct {
	ConversationID string `json:"conversation_id"`
}

func (h *ConversationHandlers) handleTurns(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req turnsRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	if req.ConversationID == "" {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "conversation_id is required", nil)
	}

	turns, err := h.store.ListTurns(ctx, req.ConversationID)
	if err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeInternalError, err.Error(), nil)
	}
	if turns == nil {
		turns = []persistence.Turn{}
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
		"conversation_id": req.ConversationID,
		"turns":           turns,
	})
}

// TerminalHandlers exposes supervisor terminal sessions. Output flows
// back as notifications via the broadcaster; these actions cover the
// input side of the loop.
type TerminalHandlers struct {
	svc TerminalService
}

// NewTerminalHandlers creates handlers backed by the terminal manager.
func NewTerminalHandlers(svc TerminalService) *TerminalHandlers {
	return &TerminalHandlers{svc: svc}
}

// Register wires the terminal actions into the dispatcher.
func (h *TerminalHandlers) Register(d *ws.Dispatcher) {
	d.RegisterFunc(ws.ActionTerminalStart, h.handleStart)
	d.RegisterFunc(ws.ActionTerminalInput, h.handleInput)
	d.RegisterFunc(ws.ActionTerminalResize, h.handleResize)
	d.RegisterFunc(ws.ActionTerminalStop, h.handleStop)
	d.RegisterFunc(ws.ActionTerminalList, h.handleList)
	d.RegisterFunc(ws.ActionTerminalScrollback, h.handleScrollback)
}

// terminalStartRequest sizes the new PTY.
type terminalStartRequest struct {
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

func (h *TerminalHandlers) handleStart(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req terminalStartRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}

	id, err := h.svc.Start(req.Cols, req.Rows)
	if err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, err.Error(), nil)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
		"session_id": id,
	})
}

// terminalInputRequest carries base64 keystrokes so control bytes
// survive the JSON envelope.
type terminalInputRequest struct {
	SessionID string `json:"session_id"`
	Data      string `json:"data"`
}

func (h *TerminalHandlers) handleInput(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req terminalInputRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	if req.SessionID == "" {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "session_id is required", nil)
	}

	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "data must be base64", nil)
	}
	if err := h.svc.Input(req.SessionID, data); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeNotFound, err.Error(), nil)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
		"session_id": req.SessionID,
	})
}

// terminalResizeRequest adjusts a session's PTY dimensions.
type terminalResizeRequest struct {
	SessionID string `json:"session_id"`
	Cols      uint16 `json:"cols"`
	Rows      uint16 `json:"rows"`
}

func (h *TerminalHandlers) handleResize(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req terminalResizeRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	if req.SessionID == "" {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "session_id is required", nil)
	}
	if req.Cols == 0 || req.Rows == 0 {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "cols and rows must be positive", nil)
	}

	if err := h.svc.Resize(req.SessionID, req.Cols, req.Rows); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeNotFound, err.Error(), nil)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
		"session_id": req.SessionID,
	})
}

// terminalSessionRequest names an existing session.
type terminalSessionRequest struct {
	SessionID string `json:"session_id"`
}

func (h *TerminalHandlers) handleStop(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req terminalSessionRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	if req.SessionID == "" {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "session_id is required", nil)
	}

	if err := h.svc.Stop(req.SessionID); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeNotFound, err.Error(), nil)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
		"session_id": req.SessionID,
	})
}

func (h *TerminalHandlers) handleList(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	sessions := h.svc.List()
	if sessions == nil {
		sessions = []string{}
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
		"sessions": sessions,
	})
}

func (h *TerminalHandlers) handleScrollback(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req terminalSessionRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	if req.SessionID == "" {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "session_id is required", nil)
	}

	data, err := h.svc.Scrollback(req.SessionID)
	if err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeNotFound, err.Error(), nil)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
		"session_id": req.SessionID,
		"data":       base64.StdEncoding.EncodeToString(data),
	})
}
