package websocket

import (
	"github.com/gin-gonic/gin"

	"github.com/stewardhq/steward/internal/common/logger"
	"github.com/stewardhq/steward/internal/events/bus"
	ws "github.com/stewardhq/steward/pkg/websocket"
)

// Services collects everything the gateway exposes over the socket. Nil
// entries simply leave their actions unregistered.
type Services struct {
	Streams       StreamService
	Approvals     ApprovalService
	Conversations ConversationStore
	Terminals     TerminalService
}

// Gateway is the realtime WebSocket gateway
type Gateway struct {
	Hub         *Hub
	Dispatcher  *ws.Dispatcher
	Handler     *Handler
	Broadcaster *Broadcaster
	logger      *logger.Logger
}

// NewGateway creates a WebSocket gateway with all components
// initialized and action handlers registered.
func NewGateway(svcs Services, b bus.EventBus, log *logger.Logger) *Gateway {
	dispatcher := ws.NewDispatcher()
	hub := NewHub(dispatcher, log)
	handler := NewHandler(hub, log)

	RegisterHealthHandler(dispatcher)
	if svcs.Streams != nil {
		NewStreamHandlers(svcs.Streams).Register(dispatcher)
	}
	if svcs.Approvals != nil {
		NewApprovalHandlers(svcs.Approvals).Register(dispatcher)
	}
	if svcs.Conversations != nil {
		NewConversationHandlers(svcs.Conversations).Register(dispatcher)
	}
	if svcs.Terminals != nil {
		NewTerminalHandlers(svcs.Terminals).Register(dispatcher)
	}

	return &Gateway{
		Hub:         hub,
		Dispatcher:  dispatcher,
		Handler:     handler,
		Broadcaster: NewBroadcaster(hub, b, log),
		logger:      log,
	}
}

// SetupRoutes adds the WebSocket routes to the Gin engine
func (g *Gateway) SetupRoutes(router *gin.Engine) {
	router.GET("/ws", g.Handler.HandleConnection)
}
