package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stewardhq/steward/internal/approval"
	"github.com/stewardhq/steward/internal/artifacts"
	"github.com/stewardhq/steward/internal/common/logger"
	"github.com/stewardhq/steward/internal/events"
	"github.com/stewardhq/steward/internal/events/bus"
	"github.com/stewardhq/steward/internal/llm"
	"github.com/stewardhq/steward/internal/persistence"
	"github.com/stewardhq/steward/internal/tracing"
)

// TurnStore is the persistence boundary the service hands finalized
// turns to. The service never defines or inspects the storage format.
type TurnStore interface {
	CreateConversation(ctx context.Context, conv persistence.Conversation) error
	GetConversation(ctx context.Context, id string) (*persistence.Conversation, error)
	RecordTurn(ctx context.Context, turn persistence.Turn) error
	ListTurns(ctx context.Context, conversationID string) ([]persistence.Turn, error)
}

// ToolRunnerFactory builds the per-stream tool runner: tools receive the
// conversation id for approval attribution and the stream's artifact
// queue for attachment staging.
type ToolRunnerFactory interface {
	Runner(conversationID string, q *artifacts.Queue) llm.ToolRunner
}

// ServiceConfig tunes the stream service.
type ServiceConfig struct {
	// DefaultProvider names the provider used when a request omits one.
	DefaultProvider string

	// MaxTurns bounds the adapter tool loop; zero selects the adapter
	// default.
	MaxTurns int

	// SystemPrompt is threaded into every provider turn.
	SystemPrompt string
}

// StartRequest asks for one agent turn on a conversation. An empty
// ConversationID starts a new conversation through the pending slot.
type StartRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Provider       string `json:"provider,omitempty"`
	Content        string `json:"content"`
}

// Service drives one agent turn per request: it registers the stream
// with the manager, runs the adapter as its own task, pumps chunks into
// the manager, and hands the finalized turn to the store.
type Service struct {
	manager   *Manager
	providers *llm.Registry
	gateway   *approval.Gateway
	tools     ToolRunnerFactory
	store     TurnStore
	bus       bus.EventBus
	cfg       ServiceConfig
	log       *logger.Logger

	wg sync.WaitGroup
}

// NewService wires the stream control plane together.
func NewService(
	manager *Manager,
	providers *llm.Registry,
	gateway *approval.Gateway,
	tools ToolRunnerFactory,
	store TurnStore,
	b bus.EventBus,
	cfg ServiceConfig,
	log *logger.Logger,
) *Service {
	return &Service{
		manager:   manager,
		providers: providers,
		gateway:   gateway,
		tools:     tools,
		store:     store,
		bus:       b,
		cfg:       cfg,
		log:       log.WithFields(zap.String("component", "stream_service")),
	}
}

// Start launches one agent turn and returns the conversation id it runs
// under. For a new conversation the stream registers under the pending
// slot first, the conversation row is created, and the stream is
// promoted to the real id before any chunk flows.
func (s *Service) Start(ctx context.Context, req StartRequest) (string, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return "", fmt.Errorf("message content cannot be empty")
	}
	if req.ConversationID == PendingKey {
		return "", fmt.Errorf("conversation id %q is reserved", PendingKey)
	}

	providerName := req.Provider
	if providerName == "" {
		providerName = s.cfg.DefaultProvider
	}
	if providerName == "" {
		return "", fmt.Errorf("no provider requested and no default provider configured")
	}
	completer, spec, err := s.providers.Completer(providerName)
	if err != nil {
		return "", err
	}

	token := NewToken()
	queue := artifacts.NewQueue()

	convID := req.ConversationID
	var history []llm.Message

	if convID == "" {
		convID = uuid.New().String()
		s.manager.RegisterPending(token, queue)
		conv := persistence.Conversation{
			ID:       convID,
			Title:    conversationTitle(content),
			Provider: providerName,
		}
		if err := s.store.CreateConversation(ctx, conv); err != nil {
			s.manager.CancelPending()
			return "", fmt.Errorf("failed to create conversation: %w", err)
		}
		s.manager.SetPendingResolved(convID)
		s.manager.Promote(convID)
		s.publishConversationCreated(conv)
	} else {
		if _, err := s.store.GetConversation(ctx, convID); err != nil {
			return "", fmt.Errorf("unknown conversation %s: %w", convID, err)
		}
		turns, err := s.store.ListTurns(ctx, convID)
		if err != nil {
			return "", fmt.Errorf("failed to load conversation history: %w", err)
		}
		history = rebuildHistory(turns)
		s.manager.Register(convID, token, queue)
	}

	bridge := newApprovalBridge(convID)
	s.gateway.AddObserver(bridge)

	runner := s.tools.Runner(convID, queue)
	adapter := llm.NewAdapter(runner, s.log.WithConversationID(convID))

	s.wg.Add(1)
	go s.run(adapter, completer, spec.Model, history, content, convID, token, bridge)

	return convID, nil
}

// run is the stream task: one adapter invocation pumped into the
// manager, then finalization and persistence. It owns its own context
// so the HTTP request that started the stream can return immediately.
func (s *Service) run(
	adapter *llm.Adapter,
	completer llm.Completer,
	model string,
	history []llm.Message,
	content string,
	convID string,
	token *Token,
	bridge *approvalBridge,
) {
	defer s.wg.Done()
	defer s.gateway.RemoveObserver(bridge)

	streamCtx, cancelCtx := context.WithCancel(context.Background())
	defer cancelCtx()
	// The token is the correctness mechanism; the context cancel is the
	// resource backstop that unblocks in-flight approval and tool waits.
	go func() {
		select {
		case <-token.Done():
			cancelCtx()
		case <-streamCtx.Done():
		}
	}()

	recorder := tracing.NewRecorder()
	opts := llm.StreamOptions{
		MaxTurns:          s.cfg.MaxTurns,
		System:            s.cfg.SystemPrompt,
		ConversationID:    convID,
		ApprovalRequested: bridge.requested,
		ApprovalResolved:  bridge.resolved,
		IsCancelled:       token.IsCancelled,
		Trace:             recorder,
	}

	chunks, userMsg := adapter.StreamPrompt(streamCtx, completer, model, history, content, opts)

	var response strings.Builder
	var usage llm.TokenUsage
	failed := false
	for c := range chunks {
		switch c.Type {
		case llm.ChunkText:
			response.WriteString(c.Text)
		case llm.ChunkTokenUsage:
			if c.Usage != nil {
				usage = *c.Usage
			}
		case llm.ChunkError:
			failed = true
		}
		s.manager.HandleChunk(convID, c)
	}

	if failed || token.IsCancelled() {
		// The terminal event was already emitted by the error chunk
		// handling or by the stop that set the token.
		return
	}

	if trace := recorder.JSON(); trace != "" {
		s.manager.SetTrace(convID, json.RawMessage(trace))
	}
	summary := s.manager.Finalize(convID)
	if summary == nil {
		return
	}

	persistCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	turn := persistence.Turn{
		ID:             uuid.New().String(),
		ConversationID: convID,
		UserMessage:    userMsg.Content,
		ResponseText:   response.String(),
		TraceJSON:      summary.TraceJSON,
		InputTokens:    usage.InputTokens,
		OutputTokens:   usage.OutputTokens,
		Artifacts:      summary.Artifacts,
	}
	if err := s.store.RecordTurn(persistCtx, turn); err != nil {
		s.log.Error("failed to persist turn",
			zap.String("conversation_id", convID), zap.Error(err))
		return
	}
	s.publish(events.TurnRecorded, map[string]interface{}{
		"conversation_id": convID,
		"turn_id":         turn.ID,
	})
}

// Stop cancels the stream for a conversation, including a pending
// stream that has resolved to it. Reports whether one was running.
func (s *Service) Stop(conversationID string) bool {
	return s.manager.Stop(conversationID)
}

// CancelPending cancels a stream still in the pending slot.
func (s *Service) CancelPending() bool {
	return s.manager.CancelPending()
}

// StopAll cancels every active stream and returns the count.
func (s *Service) StopAll() int {
	return s.manager.StopAll()
}

// Active lists conversation ids with a running stream.
func (s *Service) Active() []string {
	return s.manager.ActiveKeys()
}

// Wait blocks until every stream task has exited. Called at shutdown
// after StopAll.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) publishConversationCreated(conv persistence.Conversation) {
	s.publish(events.ConversationCreated, map[string]interface{}{
		"conversation_id": conv.ID,
		"title":           conv.Title,
		"provider":        conv.Provider,
	})
}

func (s *Service) publish(subject string, data map[string]interface{}) {
	if s.bus == nil {
		return
	}
	ev := bus.NewEvent(subject, "stream-service", data)
	if err := s.bus.Publish(context.Background(), subject, ev); err != nil {
		s.log.Warn("failed to publish event", zap.String("subject", subject), zap.Error(err))
	}
}

// rebuildHistory converts persisted turns back into the transcript the
// next adapter run continues from.
func rebuildHistory(turns []persistence.Turn) []llm.Message {
	history := make([]llm.Message, 0, len(turns)*2)
	for _, t := range turns {
		history = append(history, llm.UserMessage(t.UserMessage))
		if t.ResponseText != "" {
			history = append(history, llm.AssistantMessage(t.ResponseText, nil))
		}
	}
	return history
}

// conversationTitle derives a short title from the first message.
func conversationTitle(content string) string {
	title := strings.TrimSpace(content)
	if idx := strings.IndexByte(title, '\n'); idx >= 0 {
		title = title[:idx]
	}
	const maxTitle = 80
	if len(title) > maxTitle {
		title = title[:maxTitle] + "..."
	}
	return title
}

// approvalBridge forwards gateway notifications for one conversation
// into the channels the adapter races against the provider stream.
// Forwarding never blocks the gateway: a full channel drops the
// notification for this stream only, the gateway's own observers and
// the resolution path are unaffected.
type approvalBridge struct {
	conversationID string
	requested      chan llm.ApprovalNotice
	resolved       chan llm.ApprovalDecision
}

func newApprovalBridge(conversationID string) *approvalBridge {
	return &approvalBridge{
		conversationID: conversationID,
		requested:      make(chan llm.ApprovalNotice, 16),
		resolved:       make(chan llm.ApprovalDecision, 16),
	}
}

// ApprovalRequested implements approval.Observer.
func (b *approvalBridge) ApprovalRequested(req approval.Request) {
	if req.ConversationID != b.conversationID {
		return
	}
	select {
	case b.requested <- llm.ApprovalNotice{
		ID:        req.ID,
		Command:   req.Description,
		Sandboxed: req.Sandboxed,
	}:
	default:
	}
}

// ApprovalResolved implements approval.Observer.
func (b *approvalBridge) ApprovalResolved(d approval.Decision) {
	if d.ConversationID != b.conversationID {
		return
	}
	select {
	case b.resolved <- llm.ApprovalDecision{ID: d.ID, Approved: d.Approved}:
	default:
	}
}
