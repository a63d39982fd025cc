package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stewardhq/steward/internal/common/logger"
	"github.com/stewardhq/steward/internal/tracing"
)

// DefaultMaxTurns bounds the tool loop when the caller does not set one.
const DefaultMaxTurns = 10

// ApprovalNotice announces a tool call waiting on a human decision.
type ApprovalNotice struct {
	ID        string
	Command   string
	Sandboxed bool
}

// ApprovalDecision reports the outcome for a previously announced id.
type ApprovalDecision struct {
	ID       string
	Approved bool
}

// StreamOptions tune one adapter invocation.
type StreamOptions struct {
	// MaxTurns caps the tool loop; zero selects DefaultMaxTurns.
	MaxTurns int

	// System is the system prompt threaded into every turn.
	System string

	// ConversationID labels trace spans; may be empty for a pending
	// stream whose conversation does not exist yet.
	ConversationID string

	// ApprovalRequested and ApprovalResolved, when non-nil, are raced
	// against provider events so approval chunks interleave with the
	// stream in arrival order.
	ApprovalRequested <-chan ApprovalNotice
	ApprovalResolved  <-chan ApprovalDecision

	// IsCancelled is polled at suspension points (turn start, each
	// received event, before each tool call). When it reports true the
	// sequence ends early with no terminal chunk; the lifecycle manager
	// owns the cancelled terminal event.
	IsCancelled func() bool

	// Trace, when non-nil, records turn and tool call entries for the
	// stream's trace document.
	Trace *tracing.Recorder
}

// Adapter normalizes provider turns into the chunk protocol and drives
// the bounded multi-turn tool loop. All backends flow through the same
// mapping so no downstream consumer needs provider-specific logic.
type Adapter struct {
	runner ToolRunner
	log    *logger.Logger
}

// NewAdapter creates an adapter that executes tool calls via runner.
func NewAdapter(runner ToolRunner, log *logger.Logger) *Adapter {
	return &Adapter{runner: runner, log: log}
}

// StreamPrompt constructs the user message for content, then produces a
// lazy, single-pass chunk sequence on the returned channel. The channel
// closes after the terminal chunk (or after early cancellation exit).
func (a *Adapter) StreamPrompt(ctx context.Context, completer Completer, model string, history []Message, content string, opts StreamOptions) (<-chan Chunk, Message) {
	userMsg := UserMessage(content)

	transcript := make([]Message, 0, len(history)+1)
	transcript = append(transcript, history...)
	transcript = append(transcript, userMsg)

	out := make(chan Chunk)
	go a.run(ctx, completer, model, transcript, out, opts)

	return out, userMsg
}

// resolvedCall pairs a provider tool call with its resolved correlation id.
type resolvedCall struct {
	id   string
	call ToolCallRequest
}

func (a *Adapter) run(ctx context.Context, completer Completer, model string, transcript []Message, out chan<- Chunk, opts StreamOptions) {
	defer close(out)

	maxTurns := opts.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	cancelled := opts.IsCancelled
	if cancelled == nil {
		cancelled = func() bool { return false }
	}

	var usage TokenUsage
	var tools []ToolSpec
	if a.runner != nil {
		tools = a.runner.Specs()
	}

	for turn := 1; turn <= maxTurns; turn++ {
		if cancelled() {
			return
		}

		turnCtx, span := tracing.TraceStreamTurn(ctx, opts.ConversationID, turn)
		if opts.Trace != nil {
			opts.Trace.Record("turn", map[string]interface{}{"turn": turn})
		}

		events, err := completer.StreamTurn(turnCtx, TurnRequest{
			Model:    model,
			System:   opts.System,
			Messages: transcript,
			Tools:    tools,
		})
		if err != nil {
			tracing.RecordResult(span, "error", err)
			span.End()
			a.emit(ctx, out, ErrorChunk(err.Error()))
			return
		}

		var assistantText strings.Builder
		var calls []resolvedCall
		failed := false

	turnLoop:
		for events != nil {
			select {
			case ev, ok := <-events:
				if !ok {
					events = nil
					continue
				}
				if cancelled() {
					span.End()
					return
				}
				switch ev.Kind {
				case TurnText:
					assistantText.WriteString(ev.Text)
					if !a.emit(ctx, out, TextChunk(ev.Text)) {
						span.End()
						return
					}
				case TurnToolCall:
					if ev.ToolCall == nil {
						continue
					}
					id := resolveToolCallID(*ev.ToolCall)
					a.log.Debug("tool call surfaced",
						zap.String("tool_call_id", id),
						zap.String("tool_name", ev.ToolCall.Name))
					if !a.emit(ctx, out, ToolCallStartedChunk(id, ev.ToolCall.Name)) {
						span.End()
						return
					}
					if !a.emit(ctx, out, ToolCallInputChunk(id, ev.ToolCall.ArgumentsJSON)) {
						span.End()
						return
					}
					calls = append(calls, resolvedCall{id: id, call: *ev.ToolCall})
				case TurnUsage:
					if ev.Usage != nil {
						usage.Add(*ev.Usage)
					}
				case TurnError:
					a.emit(ctx, out, ErrorChunk(ev.Err))
					failed = true
					break turnLoop
				}

			case notice, ok := <-opts.ApprovalRequested:
				if !ok {
					opts.ApprovalRequested = nil
					continue
				}
				if !a.emit(ctx, out, ApprovalRequestedChunk(notice.ID, notice.Command, notice.Sandboxed)) {
					span.End()
					return
				}

			case decision, ok := <-opts.ApprovalResolved:
				if !ok {
					opts.ApprovalResolved = nil
					continue
				}
				if !a.emit(ctx, out, ApprovalResolvedChunk(decision.ID, decision.Approved)) {
					span.End()
					return
				}

			case <-ctx.Done():
				span.End()
				return
			}
		}

		if failed {
			tracing.RecordResult(span, "error", nil)
			span.End()
			return
		}

		if len(calls) == 0 {
			tracing.RecordResult(span, "completed", nil)
			span.End()
			if !a.emit(ctx, out, TokenUsageChunk(usage)) {
				return
			}
			a.emit(ctx, out, DoneChunk())
			return
		}

		// Record the assistant turn, then feed each tool result back as
		// the next turn's input.
		callReqs := make([]ToolCallRequest, 0, len(calls))
		for _, rc := range calls {
			req := rc.call
			req.CallID = rc.id
			callReqs = append(callReqs, req)
		}
		transcript = append(transcript, AssistantMessage(assistantText.String(), callReqs))

		for _, rc := range calls {
			if cancelled() {
				span.End()
				return
			}
			content, ok := a.runTool(ctx, out, rc, opts)
			if !ok {
				span.End()
				return
			}
			if isErrorContent(content) {
				if !a.emit(ctx, out, ToolCallErrorChunk(rc.id, content)) {
					span.End()
					return
				}
			} else {
				if !a.emit(ctx, out, ToolCallResultChunk(rc.id, content)) {
					span.End()
					return
				}
			}
			transcript = append(transcript, ToolResultMessage(rc.id, content))
		}

		tracing.RecordResult(span, "tool_calls", nil)
		span.End()
	}

	a.emit(ctx, out, ErrorChunk(fmt.Sprintf("maximum tool turns (%d) exceeded", maxTurns)))
}

// runTool executes one call while continuing to race the approval
// channels, so approval chunks surface while the tool is blocked on a
// human decision. Returns the tool-result content and false when the
// context ended before completion.
func (a *Adapter) runTool(ctx context.Context, out chan<- Chunk, rc resolvedCall, opts StreamOptions) (string, bool) {
	type outcome struct {
		content string
		err     error
	}

	started := time.Now()
	toolCtx, span := tracing.TraceToolCall(ctx, rc.id, rc.call.Name)
	defer span.End()

	done := make(chan outcome, 1)
	go func() {
		if a.runner == nil {
			done <- outcome{err: fmt.Errorf("no tool runner configured")}
			return
		}
		content, err := a.runner.Run(toolCtx, rc.call.Name, rc.call.ArgumentsJSON)
		done <- outcome{content: content, err: err}
	}()

	for {
		select {
		case oc := <-done:
			if opts.Trace != nil {
				opts.Trace.RecordTimed("tool_call", map[string]interface{}{
					"tool_call_id": rc.id,
					"tool_name":    rc.call.Name,
				}, time.Since(started))
			}
			if oc.err != nil {
				tracing.RecordResult(span, "error", oc.err)
				return "Error: " + oc.err.Error(), true
			}
			tracing.RecordResult(span, "ok", nil)
			return oc.content, true

		case notice, ok := <-opts.ApprovalRequested:
			if !ok {
				opts.ApprovalRequested = nil
				continue
			}
			if !a.emit(ctx, out, ApprovalRequestedChunk(notice.ID, notice.Command, notice.Sandboxed)) {
				return "", false
			}

		case decision, ok := <-opts.ApprovalResolved:
			if !ok {
				opts.ApprovalResolved = nil
				continue
			}
			if !a.emit(ctx, out, ApprovalResolvedChunk(decision.ID, decision.Approved)) {
				return "", false
			}

		case <-ctx.Done():
			return "", false
		}
	}
}

// emit delivers one chunk, giving up when the context ends.
func (a *Adapter) emit(ctx context.Context, out chan<- Chunk, c Chunk) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

// resolveToolCallID picks the correlation id for a tool call: the
// provider's explicit call id, else its non-empty native item id, else a
// generated id. Some backends return an empty id and no call id, and
// without a fallback concurrent calls in one turn cannot be correlated
// to their results.
func resolveToolCallID(call ToolCallRequest) string {
	if call.CallID != "" {
		return call.CallID
	}
	if call.ItemID != "" {
		return call.ItemID
	}
	return uuid.New().String()
}

// isErrorContent reports whether tool-result content marks a failure: a
// case-insensitive "error:" prefix after leading whitespace.
func isErrorContent(content string) bool {
	trimmed := strings.TrimLeftFunc(content, unicode.IsSpace)
	if len(trimmed) < 6 {
		return false
	}
	return strings.EqualFold(trimmed[:6], "error:")
}
