package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"dm-service/internal/fanout"
	"dm-service/internal/telemetry"
)

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router *gin.Engine, emitter *telemetry.AuditEmitter, hub *fanout.Hub, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitter.Emit(c.Request.Context(), "audit_test", "debug", 0, "audit test", requestIDFromContext(c), userIDFromContext(c))
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/debug/sessions/:session_id/subscribers", func(c *gin.Context) {
		sessionID, err := strconv.Atoi(c.Param("session_id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
			return
		}
		messages, sessions := hub.SubscriberCounts(sessionID)
		c.JSON(http.StatusOK, gin.H{
			"session_id":          sessionID,
			"message_subscribers": messages,
			"session_subscribers": sessions,
		})
	})
}
