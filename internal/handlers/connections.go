package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"dm-service/internal/models"
	"dm-service/internal/repositories"
	"dm-service/internal/telemetry"
)

// ConnectionHandler manages contact request endpoints.
type ConnectionHandler struct {
	connRepo  repositories.ConnectionRepository
	directory repositories.UserDirectory
	audit     *telemetry.AuditEmitter
}

// NewConnectionHandler builds a ConnectionHandler.
func NewConnectionHandler(connRepo repositories.ConnectionRepository, directory repositories.UserDirectory, audit *telemetry.AuditEmitter) *ConnectionHandler {
	return &ConnectionHandler{
		connRepo:  connRepo,
		directory: directory,
		audit:     audit,
	}
}

// Request creates a pending connection addressed by email.
func (h *ConnectionHandler) Request(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt("userID")
	target, err := h.directory.ByEmail(c.Request.Context(), req.Email)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrUserNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "user not found"})
		return
	}

	conn, err := h.connRepo.Request(c.Request.Context(), userID, target.ID)
	if err != nil {
		switch {
		case errors.Is(err, repositories.ErrSelfRequest):
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot connect with yourself"})
		case errors.Is(err, repositories.ErrConnectionExists):
			c.JSON(http.StatusConflict, gin.H{"error": "connection already exists"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create connection"})
		}
		return
	}

	h.audit.Emit(c.Request.Context(), "connection_requested", "connection", conn.ID, "", requestIDFromContext(c), userIDFromContext(c))
	c.JSON(http.StatusCreated, conn)
}

// Accept transitions a pending connection to accepted. Only the receiver
// may accept.
func (h *ConnectionHandler) Accept(c *gin.Context) {
	connectionID, err := strconv.Atoi(c.Param("connection_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid connection id"})
		return
	}

	userID := c.GetInt("userID")
	conn, err := h.connRepo.Get(c.Request.Context(), connectionID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrConnectionNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "connection not found"})
		return
	}
	if conn.ReceiverID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "only the receiver can accept"})
		return
	}

	accepted, err := h.connRepo.MarkAccepted(c.Request.Context(), connectionID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotPending) {
			c.JSON(http.StatusConflict, gin.H{"error": "connection is not pending"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not accept connection"})
		return
	}

	h.audit.Emit(c.Request.Context(), "connection_accepted", "connection", accepted.ID, "", requestIDFromContext(c), userIDFromContext(c))
	c.JSON(http.StatusOK, accepted)
}

// Remove deletes a pending connection. The receiver rejecting and the
// requester cancelling are the same operation, and either party may
// re-request afterwards. Deleting twice is a no-op success.
func (h *ConnectionHandler) Remove(c *gin.Context) {
	connectionID, err := strconv.Atoi(c.Param("connection_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid connection id"})
		return
	}

	userID := c.GetInt("userID")
	conn, err := h.connRepo.Get(c.Request.Context(), connectionID)
	if err != nil {
		if errors.Is(err, repositories.ErrConnectionNotFound) {
			c.Status(http.StatusNoContent)
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load connection"})
		return
	}
	if !conn.IsParticipant(userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your connection"})
		return
	}
	if conn.Status == models.ConnectionAccepted {
		c.JSON(http.StatusConflict, gin.H{"error": "accepted connections cannot be removed"})
		return
	}

	if err := h.connRepo.Delete(c.Request.Context(), connectionID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not remove connection"})
		return
	}

	h.audit.Emit(c.Request.Context(), "connection_rejected", "connection", connectionID, "", requestIDFromContext(c), userIDFromContext(c))
	c.Status(http.StatusNoContent)
}

// List returns the caller's connections, optionally filtered by status,
// decorated with the other party's identity.
func (h *ConnectionHandler) List(c *gin.Context) {
	userID := c.GetInt("userID")
	status := c.Query("status")
	if status != "" && status != models.ConnectionPending && status != models.ConnectionAccepted {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status filter"})
		return
	}

	conns, err := h.connRepo.List(c.Request.Context(), userID, status)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load connections"})
		return
	}

	peerIDs := make([]int, 0, len(conns))
	seen := map[int]struct{}{}
	for _, conn := range conns {
		peer := conn.RequesterID
		if peer == userID {
			peer = conn.ReceiverID
		}
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

	type connectionResponse struct {
		models.Connection
		Peer models.User `json:"peer"`
	}

	responses := make([]connectionResponse, 0, len(conns))
	for _, conn := range conns {
		peer := conn.RequesterID
		if peer == userID {
			peer = conn.ReceiverID
		}
		responses = append(responses, connectionResponse{Connection: conn, Peer: userByID[peer]})
	}

	c.JSON(http.StatusOK, gin.H{"connections": responses})
}
