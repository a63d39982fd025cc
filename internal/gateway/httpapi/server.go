// Package httpapi exposes the control plane over plain HTTP for
// clients that do not hold a websocket: the CLI, scripts, and health
// probes.
package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/stewardhq/steward/internal/approval"
	"github.com/stewardhq/steward/internal/common/logger"
	"github.com/stewardhq/steward/internal/persistence"
	"github.com/stewardhq/steward/internal/stream"
)

// StreamService is the slice of the stream control plane the API
// drives.
type StreamService interface {
	Start(ctx context.Context, req stream.StartRequest) (string, error)
	Stop(conversationID string) bool
	StopAll() int
	Active() []string
}

// ApprovalService is the slice of the approval gateway the API exposes.
type ApprovalService interface {
	ListPending() []approval.Request
	Resolve(id string, approved bool) error
}

// ConversationStore is the persistence surface the API serves.
type ConversationStore interface {
	ListConversations(ctx context.Context) ([]persistence.Conversation, error)
	GetConversation(ctx context.Context, id string) (*persistence.Conversation, error)
	ListTurns(ctx context.Context, conversationID string) ([]persistence.Turn, error)
	DeleteConversation(ctx context.Context, id string) error
}

// Server registers the REST routes.
type Server struct {
	streams   StreamService
	approvals ApprovalService
	store     ConversationStore
	log       *logger.Logger
}

// NewServer creates the API server.
func NewServer(streams StreamService, approvals ApprovalService, store ConversationStore, log *logger.Logger) *Server {
	return &Server{
		streams:   streams,
		approvals: approvals,
		store:     store,
		log:       log.WithFields(zap.String("component", "httpapi")),
	}
}

// RegisterRoutes mounts the API under /api/v1.
func (s *Server) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")

	v1.GET("/health", s.handleHealth)

	v1.POST("/streams", s.handleStreamStart)
	v1.GET("/streams", s.handleStreamList)
	v1.POST("/streams/stop_all", s.handleStreamStopAll)
	v1.DELETE("/streams/:id", s.handleStreamStop)

	v1.GET("/approvals", s.handleApprovalList)
	v1.POST("/approvals/:id/resolve", s.handleApprovalResolve)

	v1.GET("/conversations", s.handleConversationList)
	v1.GET("/conversations/:id", s.handleConversationGet)
	v1.GET("/conversations/:id/turns", s.handleConversationTurns)
	v1.DELETE("/conversations/:id", s.handleConversationDelete)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "steward"})
}

func (s *Server) handleStreamStart(c *gin.Context) {
	var req stream.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	convID, err := s.streams.Start(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"conversation_id": convID})
}

func (s *Server) handleStreamList(c *gin.Context) {
	active := s.streams.Active()
	if active == nil {
		active = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"active": active})
}

func (s *Server) handleStreamStop(c *gin.Context) {
	id := c.Param("id")
	stopped := s.streams.Stop(id)
	if !stopped {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active stream for conversation " + id})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation_id": id, "stopped": true})
}

func (s *Server) handleStreamStopAll(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"stopped": s.streams.StopAll()})
}

func (s *Server) handleApprovalList(c *gin.Context) {
	pending := s.approvals.ListPending()
	if pending == nil {
		pending = []approval.Request{}
	}
	c.JSON(http.StatusOK, gin.H{"approvals": pending})
}

// resolveBody carries the decision for one pending approval.
type resolveBody struct {
	Approved *bool `json:"approved" binding:"required"`
}

func (s *Server) handleApprovalResolve(c *gin.Context) {
	var body resolveBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "approved is required"})
		return
	}

	id := c.Param("id")
	if err := s.approvals.Resolve(id, *body.Approved); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "approved": *body.Approved})
}

func (s *Server) handleConversationList(c *gin.Context) {
	conversations, err := s.store.ListConversations(c.Request.Context())
	if err != nil {
		s.log.Error("failed to list conversations", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list conversations"})
		return
	}
	if conversations == nil {
		conversations = []persistence.Conversation{}
	}
	c.JSON(http.StatusOK, gin.H{"conversations": conversations})
}

func (s *Server) handleConversationGet(c *gin.Context) {
	conv, err := s.store.GetConversation(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, persistence.ErrConversationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		s.log.Error("failed to load conversation", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversation"})
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (s *Server) handleConversationTurns(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.store.GetConversation(c.Request.Context(), id); err != nil {
		if errors.Is(err, persistence.ErrConversationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		s.log.Error("failed to load conversation", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversation"})
		return
	}

	turns, err := s.store.ListTurns(c.Request.Context(), id)
	if err != nil {
		s.log.Error("failed to list turns", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list turns"})
		return
	}
	if turns == nil {
		turns = []persistence.Turn{}
	}
	c.JSON(http.StatusOK, gin.H{"conversation_id": id, "turns": turns})
}

func (s *Server) handleConversationDelete(c *gin.Context) {
	id := c.Param("id")
	if err := s.store.DeleteConversation(c.Request.Context(), id); err != nil {
		if errors.Is(err, persistence.ErrConversationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		s.log.Error("failed to delete conversation", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete conversation"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation_id": id, "deleted": true})
}
