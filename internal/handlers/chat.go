package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"support-chat/internal/middleware"
	"support-chat/internal/models"
	"support-chat/internal/observability"
	"support-chat/internal/repositories"
	"support-chat/internal/telemetry"
)

var tracer = otel.Tracer("support-chat/handlers")

// ChatHandler serves the chat transport endpoints used by the widget and the console.
type ChatHandler struct {
	sessions repositories.SessionRepository
	messages repositories.MessageRepository
	events   *telemetry.EventEmitter
}

// NewChatHandler builds a ChatHandler. events may be nil.
func NewChatHandler(sessions repositories.SessionRepository, messages repositories.MessageRepository, events *telemetry.EventEmitter) *ChatHandler {
	return &ChatHandler{
		sessions: sessions,
		messages: messages,
		events:   events,
	}
}

// ListSessions returns every session matching ?status= with nested messages.
func (h *ChatHandler) ListSessions(c *gin.Context) {
	status := c.DefaultQuery("status", repositories.StatusAll)
	if status != repositories.StatusAll && !models.SessionStatus(status).Valid() {
		fail(c, http.StatusBadRequest, "invalid status filter")
		return
	}

	sessions, err := h.sessions.ListSessions(c.Request.Context(), status)
	if err != nil {
		failWithLog(c, http.StatusInternalServerError, "failed to load sessions", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "sessions": sessions})
}

// GetSession returns one session with its ordered messages.
func (h *ChatHandler) GetSession(c *gin.Context) {
	session, err := h.sessions.GetSession(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		if errors.Is(err, repositories.ErrSessionNotFound) {
			fail(c, http.StatusNotFound, "session not found")
			return
		}
		failWithLog(c, http.StatusInternalServerError, "failed to load session", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "session": session})
}

type postMessageRequest struct {
	SessionID    string             `json:"sessionId"`
	VisitorID    string             `json:"visitorId"`
	Message      string             `json:"message"`
	Sender       models.SenderRole  `json:"sender"`
	MessageType  models.MessageType `json:"messageType"`
	FileURL      *string            `json:"fileUrl"`
	FileName     *string            `json:"fileName"`
	FileDuration *int               `json:"fileDuration"`
	ClientID     *string            `json:"clientId"`
}

// PostMessage stores a message, creating the session when sessionId is absent.
func (h *ChatHandler) PostMessage(c *gin.Context) {
	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Sender == "" {
		req.Sender = models.SenderVisitor
	}
	if req.MessageType == "" {
		req.MessageType = models.MessageText
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	if len(req.VisitorID) > models.MaxClientIDLength {
		fail(c, http.StatusBadRequest, "visitorId must be at most 64 characters")
		return
	}

	if req.Sender != models.SenderVisitor && !middleware.IsAdmin(c) {
		fail(c, http.StatusForbidden, "only visitors may post without admin authorization")
		return
	}

	msg := models.ChatMessage{
		SessionID:    req.SessionID,
		ClientID:     req.ClientID,
		Sender:       req.Sender,
		Type:         req.MessageType,
		Content:      req.Message,
		FileURL:      req.FileURL,
		FileName:     req.FileName,
		FileDuration: req.FileDuration,
	}
	if err := msg.Validate(); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	ctx, span := tracer.Start(c.Request.Context(), "chat.post_message")
	defer span.End()
	span.SetAttributes(
		attribute.String("chat.sender", string(msg.Sender)),
		attribute.String("chat.message_type", string(msg.Type)),
	)

	var session models.ChatSession
	if req.SessionID == "" {
		if req.Sender != models.SenderVisitor {
			fail(c, http.StatusBadRequest, "sessionId is required")
			return
		}
		created, err := h.sessions.CreateSession(ctx, req.VisitorID)
		if err != nil {
			failWithLog(c, http.StatusInternalServerError, "could not create session", err)
			return
		}
		session = created
		msg.SessionID = created.ID
		observability.IncSessionCreated()
		h.events.Emit(ctx, telemetry.EventSessionCreated, requestID(c), created.ID, gin.H{"visitorId": created.VisitorID})
	} else {
		existing, err := h.sessions.GetSession(ctx, req.SessionID)
		if err != nil {
			if errors.Is(err, repositories.ErrSessionNotFound) {
				fail(c, http.StatusNotFound, "session not found")
				return
			}
			failWithLog(c, http.StatusInternalServerError, "failed to load session", err)
			return
		}
		session = existing
		session.Messages = nil
	}
	span.SetAttributes(attribute.String("chat.session_id", session.ID))

	stored, err := h.messages.CreateMessage(ctx, msg)
	if err != nil {
		failWithLog(c, http.StatusInternalServerError, "failed to store message", err)
		return
	}

	if err := h.sessions.TouchSession(ctx, session.ID); err != nil {
		failWithLog(c, http.StatusInternalServerError, "failed to update session", err)
		return
	}

	observability.IncMessage(string(stored.Sender), string(stored.Type))
	h.events.Emit(ctx, telemetry.EventMessageCreated, requestID(c), session.ID, gin.H{
		"messageId":   stored.ID,
		"sender":      stored.Sender,
		"messageType": stored.Type,
	})

	c.JSON(http.StatusCreated, gin.H{"success": true, "session": session, "message": stored})
}

// PatchSession updates visitor contact details; only admins may change status.
func (h *ChatHandler) PatchSession(c *gin.Context) {
	var update models.ContactUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if update.Empty() {
		fail(c, http.StatusBadRequest, "nothing to update")
		return
	}
	if update.Status != nil {
		if !middleware.IsAdmin(c) {
			fail(c, http.StatusForbidden, "only admins may change session status")
			return
		}
		if !update.Status.Valid() {
			fail(c, http.StatusBadRequest, "invalid status")
			return
		}
	}
	update.VisitorName = trimmedOrNil(update.VisitorName)
	update.VisitorPhone = trimmedOrNil(update.VisitorPhone)

	sessionID := c.Param("session_id")
	session, err := h.sessions.UpdateContact(c.Request.Context(), sessionID, update)
	if err != nil {
		if errors.Is(err, repositories.ErrSessionNotFound) {
			fail(c, http.StatusNotFound, "session not found")
			return
		}
		failWithLog(c, http.StatusInternalServerError, "could not update session", err)
		return
	}

	h.events.Emit(c.Request.Context(), telemetry.EventContactUpdated, requestID(c), sessionID, update)
	c.JSON(http.StatusOK, gin.H{"success": true, "session": session})
}

// MarkRead flags the visitor messages of a session as read by the operator.
func (h *ChatHandler) MarkRead(c *gin.Context) {
	count, err := h.messages.MarkRead(c.Request.Context(), c.Param("session_id"), models.SenderVisitor)
	if err != nil {
		failWithLog(c, http.StatusInternalServerError, "could not mark messages read", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "updated": count})
}

// DeleteSession removes a session and its messages.
func (h *ChatHandler) DeleteSession(c *gin.Context) {
	sessionID := c.Param("session_id")
	if err := h.sessions.DeleteSession(c.Request.Context(), sessionID); err != nil {
		if errors.Is(err, repositories.ErrSessionNotFound) {
			fail(c, http.StatusNotFound, "session not found")
			return
		}
		failWithLog(c, http.StatusInternalServerError, "could not delete session", err)
		return
	}

	h.events.Emit(c.Request.Context(), telemetry.EventSessionDeleted, requestID(c), sessionID, nil)
	c.Status(http.StatusNoContent)
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
