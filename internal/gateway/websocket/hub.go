// Package websocket is the realtime gateway: one JSON protocol over a
// single /ws endpoint carrying requests, responses, and server-push
// notifications for streams, approvals, and supervisor terminals.
package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/stewardhq/steward/internal/common/logger"
	ws "github.com/stewardhq/steward/pkg/websocket"
)

// Hub manages all WebSocket client connections. Global notifications
// (approvals, terminals) go to every client; chunk-level stream traffic
// goes only to clients subscribed to that conversation.
type Hub struct {
	clients map[*Client]bool

	// Clients subscribed to specific conversations
	conversationSubscribers map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *ws.Message

	dispatcher *ws.Dispatcher

	mu     sync.RWMutex
	logger *logger.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(dispatcher *ws.Dispatcher, log *logger.Logger) *Hub {
	return &Hub{
		clients:                 make(map[*Client]bool),
		conversationSubscribers: make(map[string]map[*Client]bool),
		register:                make(chan *Client),
		unregister:              make(chan *Client),
		broadcast:               make(chan *ws.Message, 256),
		dispatcher:              dispatcher,
		logger:                  log.WithFields(zap.String("component", "ws_hub")),
	}
}

// Run starts the hub's main processing loop
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket hub started")
	defer h.logger.Info("WebSocket hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("Client registered", zap.String("client_id", client.ID))

		case client := <-h.unregister:
			h.removeClient(client)

		case msg := <-h.broadcast:
			h.broadcastMessage(msg)
		}
	}
}

// closeAllClients closes all client connections
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.conversationSubscribers = make(map[string]map[*Client]bool)
}

// removeClient removes a client from the hub and every subscription
func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)

		for conversationID := range client.subscriptions {
			if clients, ok := h.conversationSubscribers[conversationID]; ok {
				delete(clients, client)
				if len(clients) == 0 {
					delete(h.conversationSubscribers, conversationID)
				}
			}
		}
	}
	h.logger.Debug("Client unregistered", zap.String("client_id", client.ID))
}

// broadcastMessage sends a message to every connected client
func (h *Hub) broadcastMessage(msg *ws.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			// Client buffer full, will be cleaned up by write pump
		}
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Broadcast sends a notification to all connected clients
func (h *Hub) Broadcast(msg *ws.Message) {
	h.broadcast <- msg
}

// BroadcastToConversation sends a notification to clients subscribed to
// a specific conversation
func (h *Hub) BroadcastToConversation(conversationID string, msg *ws.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal message", zap.Error(err))
		return
	}

	h.mu.RLock()
	clients := h.conversationSubscribers[conversationID]
	h.mu.RUnlock()

	for client := range clients {
		select {
		case client.send <- data:
		default:
			// Buffer full
		}
	}
}

// SubscribeToConversation subscribes a client to a conversation's
// stream traffic
func (h *Hub) SubscribeToConversation(client *Client, conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conversationSubscribers[conversationID]; !ok {
		h.conversationSubscribers[conversationID] = make(map[*Client]bool)
	}
	h.conversationSubscribers[conversationID][client] = true
	client.subscriptions[conversationID] = true

	h.logger.Debug("Client subscribed to conversation",
		zap.String("client_id", client.ID),
		zap.String("conversation_id", conversationID))
}

// UnsubscribeFromConversation drops a client's conversation subscription
func (h *Hub) UnsubscribeFromConversation(client *Client, conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(client.subscriptions, conversationID)
	if clients, ok := h.conversationSubscribers[conversationID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.conversationSubscribers, conversationID)
		}
	}
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GetDispatcher returns the message dispatcher
func (h *Hub) GetDispatcher() *ws.Dispatcher {
	return h.dispatcher
}
