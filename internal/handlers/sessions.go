package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"dm-service/internal/authz"
	"dm-service/internal/fanout"
	"dm-service/internal/models"
	"dm-service/internal/presence"
	"dm-service/internal/repositories"
	"dm-service/internal/telemetry"
)

// SessionHandler manages chat session endpoints: opening, listing, typing
// presence and pins.
type SessionHandler struct {
	sessionRepo repositories.SessionRepository
	connRepo    repositories.ConnectionRepository
	messageRepo repositories.MessageRepository
	directory   repositories.UserDirectory
	presence    presence.Tracker
	broadcaster *fanout.Broadcaster
	audit       *telemetry.AuditEmitter
}

// NewSessionHandler builds a SessionHandler.
func NewSessionHandler(sessionRepo repositories.SessionRepository, connRepo repositories.ConnectionRepository, messageRepo repositories.MessageRepository, directory repositories.UserDirectory, tracker presence.Tracker, broadcaster *fanout.Broadcaster, audit *telemetry.AuditEmitter) *SessionHandler {
	return &SessionHandler{
		sessionRepo: sessionRepo,
		connRepo:    connRepo,
		messageRepo: messageRepo,
		directory:   directory,
		presence:    tracker,
		broadcaster: broadcaster,
		audit:       audit,
	}
}

// Open creates or returns the one session for the caller and a connected
// friend. Sessions only exist between users with an accepted connection.
func (h *SessionHandler) Open(c *gin.Context) {
	var req struct {
		FriendID int `json:"friend_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt("userID")
	if userID == req.FriendID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot chat with yourself"})
		return
	}

	conn, err := h.connRepo.GetForPair(c.Request.Context(), userID, req.FriendID)
	if err != nil && !errors.Is(err, repositories.ErrConnectionNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify connection"})
		return
	}
	if err != nil || conn.Status != models.ConnectionAccepted {
		c.JSON(http.StatusForbidden, gin.H{"error": "users are not connected"})
		return
	}

	session, err := h.sessionRepo.OpenOrCreate(c.Request.Context(), userID, req.FriendID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not open session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"session_id": session.ID})
}

// List returns the caller's sessions with their summaries, newest activity
// first, decorated with the peer's identity.
func (h *SessionHandler) List(c *gin.Context) {
	userID := c.GetInt("userID")

	sessions, err := h.sessionRepo.ListForUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load sessions"})
		return
	}

	peerIDs := make([]int, 0, len(sessions))
	seen := map[int]struct{}{}
	for _, s := range sessions {
		peer := s.PeerOf(userID)
		if _, ok := seen[peer]; !ok {
			seen[peer] = struct{}{}
			peerIDs = append(peerIDs, peer)
		}
	}

	userByID := map[int]models.User{}
	if len(peerIDs) > 0 {
		users, err := h.directory.ByIDs(c.Request.Context(), peerIDs)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load users"})
			return
		}
		for _, u := range users {
			userByID[u.ID] = u
		}
	}

	type sessionResponse struct {
		models.SessionSummary
		Peer models.User `json:"peer"`
	}

	responses := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		peer := userByID[s.PeerOf(userID)]
		summary := h.broadcaster.Summary(c.Request.Context(), s)
		summary.TypingLabel = presence.TypingLabel(summary.Typing, map[int]string{peer.ID: peer.DisplayName}, userID)
		responses = append(responses, sessionResponse{SessionSummary: summary, Peer: peer})
	}

	c.JSON(http.StatusOK, gin.H{"sessions": responses})
}

// Get returns one session's summary with a typing label phrased for the
// caller.
func (h *SessionHandler) Get(c *gin.Context) {
	session, userID, ok := h.sessionForParticipant(c)
	if !ok {
		return
	}

	summary := h.broadcaster.Summary(c.Request.Context(), session)
	summary.TypingLabel = presence.TypingLabel(summary.Typing, h.participantNames(c, session), userID)
	c.JSON(http.StatusOK, summary)
}

// SetTyping sets or clears the caller's typing flag. The flag expires on
// its own, so clients only need to send true while composing.
func (h *SessionHandler) SetTyping(c *gin.Context) {
	session, userID, ok := h.sessionForParticipant(c)
	if !ok {
		return
	}

	var req struct {
		Typing bool `json:"typing"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.presence.SetTyping(c.Request.Context(), session.ID, userID, req.Typing); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not update typing state"})
		return
	}

	h.broadcaster.SessionChanged(c.Request.Context(), session.ID)
	c.Status(http.StatusNoContent)
}

// Pin adds a message to the session's capped pin set.
func (h *SessionHandler) Pin(c *gin.Context) {
	session, _, ok := h.sessionForParticipant(c)
	if !ok {
		return
	}

	var req struct {
		MessageID int `json:"message_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.messageRepo.Get(c.Request.Context(), req.MessageID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrMessageNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "message not found"})
		return
	}
	if msg.SessionID != session.ID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message does not belong to session"})
		return
	}

	if err := h.sessionRepo.Pin(c.Request.Context(), session.ID, req.MessageID); err != nil {
		if errors.Is(err, repositories.ErrPinLimit) {
			c.JSON(http.StatusConflict, gin.H{"error": "pin limit reached"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not pin message"})
		return
	}

	h.audit.Emit(c.Request.Context(), "message_pinned", "message", req.MessageID, "", requestIDFromContext(c), userIDFromContext(c))
	h.broadcaster.SessionChanged(c.Request.Context(), session.ID)
	c.Status(http.StatusNoContent)
}

// Unpin removes a message from the pin set. Unpinning a message that is
// not pinned is a no-op success.
func (h *SessionHandler) Unpin(c *gin.Context) {
	session, _, ok := h.sessionForParticipant(c)
	if !ok {
		return
	}

	messageID, err := strconv.Atoi(c.Param("message_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}

	if err := h.sessionRepo.Unpin(c.Request.Context(), session.ID, messageID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not unpin message"})
		return
	}

	h.broadcaster.SessionChanged(c.Request.Context(), session.ID)
	c.Status(http.StatusNoContent)
}

// ListPins returns the pinned messages of a session, oldest pin first.
func (h *SessionHandler) ListPins(c *gin.Context) {
	session, _, ok := h.sessionForParticipant(c)
	if !ok {
		return
	}

	pins, err := h.sessionRepo.ListPins(c.Request.Context(), session.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load pins"})
		return
	}

	type pinResponse struct {
		models.Pin
		Message *models.MessageView `json:"message,omitempty"`
	}

	responses := make([]pinResponse, 0, len(pins))
	for _, pin := range pins {
		resp := pinResponse{Pin: pin}
		if msg, err := h.messageRepo.Get(c.Request.Context(), pin.MessageID); err == nil {
			view := h.broadcaster.View(msg)
			resp.Message = &view
		}
		responses = append(responses, resp)
	}

	c.JSON(http.StatusOK, gin.H{"pins": responses})
}

// sessionForParticipant resolves the :session_id parameter and rejects
// callers who are not part of the session.
func (h *SessionHandler) sessionForParticipant(c *gin.Context) (models.ChatSession, int, bool) {
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

func (h *SessionHandler) participantNames(c *gin.Context, session models.ChatSession) map[int]string {
	names := map[int]string{}
	users, err := h.directory.ByIDs(c.Request.Context(), []int{session.User1ID, session.User2ID})
	if err != nil {
		return names
	}
	for _, u := range users {
		names[u.ID] = u.DisplayName
	}
	return names
}
