package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"dm-service/internal/authz"
	"dm-service/internal/fanout"
	"dm-service/internal/models"
	"dm-service/internal/moderation"
	"dm-service/internal/observability"
	"dm-service/internal/ratelimit"
	"dm-service/internal/repositories"
	"dm-service/internal/security"
	"dm-service/internal/telemetry"
)

// MessageHandler manages the per-session message log: sending, listing,
// reactions, read receipts and deletion.
type MessageHandler struct {
	sessionRepo repositories.SessionRepository
	messageRepo repositories.MessageRepository
	codec       *security.Codec
	filter      *moderation.Filter
	limiter     *ratelimit.Limiter
	broadcaster *fanout.Broadcaster
	audit       *telemetry.AuditEmitter
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(sessionRepo repositories.SessionRepository, messageRepo repositories.MessageRepository, codec *security.Codec, filter *moderation.Filter, limiter *ratelimit.Limiter, broadcaster *fanout.Broadcaster, audit *telemetry.AuditEmitter) *MessageHandler {
	return &MessageHandler{
		sessionRepo: sessionRepo,
		messageRepo: messageRepo,
		codec:       codec,
		filter:      filter,
		limiter:     limiter,
		broadcaster: broadcaster,
		audit:       audit,
	}
}

// List returns the full ordered message log of a session, prepared for
// display.
func (h *MessageHandler) List(c *gin.Context) {
	session, _, ok := h.sessionForParticipant(c)
	if !ok {
		return
	}

	views, err := h.broadcaster.MessageViews(c.Request.Context(), session.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": views})
}

// Send appends a message to the session log. Text is masked before it is
// encrypted, so the stored ciphertext never contains filtered terms.
func (h *MessageHandler) Send(c *gin.Context) {
	session, userID, ok := h.sessionForParticipant(c)
	if !ok {
		return
	}

	var req struct {
		Text        string              `json:"text"`
		Attachments []models.Attachment `json:"attachments"`
		ReplyTo     *int                `json:"reply_to"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !h.limiter.Allow(c.Request.Context(), strconv.Itoa(userID), ratelimit.RuleSend) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "sending too fast"})
		return
	}

	masked := h.filter.Mask(req.Text)
	if masked != req.Text {
		observability.IncMessageMasked()
	}
	if masked == "" && len(req.Attachments) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message has no text and no attachments"})
		return
	}

	params := repositories.CreateMessageParams{
		SessionID:   session.ID,
		SenderID:    userID,
		Content:     h.codec.Encrypt(masked),
		Attachments: req.Attachments,
	}
	if req.ReplyTo != nil {
		h.denormalizeReply(c, session.ID, *req.ReplyTo, &params)
	}

	msg, err := h.messageRepo.Create(c.Request.Context(), params)
	if err != nil {
		if errors.Is(err, repositories.ErrEmptyMessage) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "message has no text and no attachments"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
		return
	}
	observability.IncMessageSent()

	// The summary is denormalized best-effort: a failed update leaves the
	// session list slightly stale, never the log.
	summaryText := masked
	if summaryText == "" {
		summaryText = req.Attachments[0].Name
	}
	if err := h.sessionRepo.UpdateLastMessage(c.Request.Context(), session.ID, msg.CreatedAt, h.codec.Encrypt(summaryText), userID); err != nil {
		log.Printf("update last message for session %d: %v", session.ID, err)
	}

	h.broadcaster.MessagesChanged(c.Request.Context(), session.ID)
	h.broadcaster.SessionChanged(c.Request.Context(), session.ID)

	c.JSON(http.StatusCreated, h.broadcaster.View(msg))
}

// denormalizeReply snapshots the reply target into the new message. A
// target that is missing or belongs to another session leaves the fields
// unset, which renders as an unavailable reply.
func (h *MessageHandler) denormalizeReply(c *gin.Context, sessionID, replyToID int, params *repositories.CreateMessageParams) {
	params.ReplyToID = &replyToID

	target, err := h.messageRepo.Get(c.Request.Context(), replyToID)
	if err != nil || target.SessionID != sessionID {
		return
	}

	preview := h.codec.Decrypt(target.Content)
	if preview == "" && len(target.Attachments) > 0 {
		preview = target.Attachments[0].Name
	}
	encrypted := h.codec.Encrypt(preview)
	params.ReplyToSenderID = &target.SenderID
	params.ReplyToPreview = &encrypted
}

// React toggles the caller's reaction with the given symbol: on if absent,
// off if present.
func (h *MessageHandler) React(c *gin.Context) {
	session, userID, msg, ok := h.messageInSession(c)
	if !ok {
		return
	}

	var req struct {
		Symbol string `json:"symbol" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	role := authz.ForMessage(userID, msg.SenderID, session.User1ID, session.User2ID)
	if !role.CanReact() {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a session participant"})
		return
	}

	if err := h.messageRepo.ToggleReaction(c.Request.Context(), msg.ID, userID, req.Symbol); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not toggle reaction"})
		return
	}

	h.broadcaster.MessagesChanged(c.Request.Context(), session.ID)
	c.Status(http.StatusNoContent)
}

// MarkRead records the caller's read receipt. Marking twice is a no-op.
func (h *MessageHandler) MarkRead(c *gin.Context) {
	session, userID, msg, ok := h.messageInSession(c)
	if !ok {
		return
	}

	if err := h.messageRepo.MarkRead(c.Request.Context(), msg.ID, userID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not mark read"})
		return
	}

	h.broadcaster.MessagesChanged(c.Request.Context(), session.ID)
	c.Status(http.StatusNoContent)
}

// Delete removes a message for everyone. Only the sender may delete;
// replies that pointed at it keep their snapshotted preview.
func (h *MessageHandler) Delete(c *gin.Context) {
	session, userID, msg, ok := h.messageInSession(c)
	if !ok {
		return
	}

	role := authz.ForMessage(userID, msg.SenderID, session.User1ID, session.User2ID)
	if !role.CanDelete() {
		c.JSON(http.StatusForbidden, gin.H{"error": "only the sender can delete"})
		return
	}

	if err := h.messageRepo.Delete(c.Request.Context(), msg.ID, userID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrMessageNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "could not delete message"})
		return
	}

	h.audit.Emit(c.Request.Context(), "message_deleted", "message", msg.ID, "", requestIDFromContext(c), userIDFromContext(c))
	h.broadcaster.MessagesChanged(c.Request.Context(), session.ID)
	c.Status(http.StatusNoContent)
}

// sessionForParticipant resolves the :session_id parameter and rejects
// callers who are not part of the session.
func (h *MessageHandler) sessionForParticipant(c *gin.Context) (models.ChatSession, int, bool) {
	sessionID, err := strconv.Atoi(c.Param("session_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return models.ChatSession{}, 0, false
	}

	userID := c.GetInt("userID")
	session, err := h.sessionRepo.Get(c.Request.Context(), sessionID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrSessionNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "session not found"})
		return models.ChatSession{}, 0, false
	}
	if !authz.ForSession(userID, session.User1ID, session.User2ID).CanRead() {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a session participant"})
		return models.ChatSession{}, 0, false
	}
	return session, userID, true
}

// messageInSession additionally resolves :message_id and checks it belongs
// to the session.
func (h *MessageHandler) messageInSession(c *gin.Context) (models.ChatSession, int, models.Message, bool) {
	session, userID, ok := h.sessionForParticipant(c)
	if !ok {
		return models.ChatSession{}, 0, models.Message{}, false
	}

	messageID, err := strconv.Atoi(c.Param("message_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return models.ChatSession{}, 0, models.Message{}, false
	}

	msg, err := h.messageRepo.Get(c.Request.Context(), messageID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrMessageNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "message not found"})
		return models.ChatSession{}, 0, models.Message{}, false
	}
	if msg.SessionID != session.ID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message does not belong to session"})
		return models.ChatSession{}, 0, models.Message{}, false
	}

	return session, userID, msg, true
}
