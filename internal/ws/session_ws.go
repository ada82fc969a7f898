package ws

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"dm-service/internal/authz"
	"dm-service/internal/fanout"
	"dm-service/internal/middleware"
	"dm-service/internal/models"
	"dm-service/internal/observability"
	"dm-service/internal/presence"
	"dm-service/internal/repositories"
)

// SessionWebSocketHandler handles live session subscriptions. Every frame
// carries a full snapshot, either the ordered message log or the session
// summary, so clients never reconcile diffs.
type SessionWebSocketHandler struct {
	hub         *fanout.Hub
	broadcaster *fanout.Broadcaster
	sessionRepo repositories.SessionRepository
	directory   repositories.UserDirectory
	jwtSecret   []byte
}

// NewSessionWebSocketHandler constructs a SessionWebSocketHandler.
func NewSessionWebSocketHandler(hub *fanout.Hub, broadcaster *fanout.Broadcaster, sessionRepo repositories.SessionRepository, directory repositories.UserDirectory, jwtSecret []byte) *SessionWebSocketHandler {
	return &SessionWebSocketHandler{
		hub:         hub,
		broadcaster: broadcaster,
		sessionRepo: sessionRepo,
		directory:   directory,
		jwtSecret:   jwtSecret,
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// client serializes writes to one websocket connection. Message and
// session callbacks fire from different goroutines.
type client struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *client) send(event models.SessionEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteJSON(event)
}

// Handle authenticates, upgrades the connection and streams snapshots
// until the client disconnects.
func (h *SessionWebSocketHandler) Handle(c *gin.Context) {
	sessionID, err := strconv.Atoi(c.Param("session_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}

	ctx, span := otel.Tracer("dm-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, err := h.authenticate(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	session, err := h.sessionRepo.Get(ctx, sessionID)
	if err != nil || !authz.ForSession(userID, session.User1ID, session.User2ID).CanRead() {
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized for session"})
		return
	}

	names := map[int]string{}
	if users, err := h.directory.ByIDs(ctx, []int{session.User1ID, session.User2ID}); err == nil {
		for _, u := range users {
			names[u.ID] = u.DisplayName
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	traceID := span.SpanContext().TraceID().String()
	requestID := observability.RequestIDFromRequest(c.Request)
	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   requestID,
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}

	cl := &client{conn: conn}

	// Initial state so the viewer renders without waiting for a change.
	if views, err := h.broadcaster.MessageViews(ctx, sessionID); err == nil {
		cl.send(models.SessionEvent{Type: models.EventMessages, Messages: views})
	}
	summary := h.broadcaster.Summary(ctx, session)
	summary.TypingLabel = presence.TypingLabel(summary.Typing, names, userID)
	cl.send(models.SessionEvent{Type: models.EventSession, Summary: &summary})

	unsubMessages := h.hub.SubscribeMessages(sessionID, func(messages []models.MessageView) {
		cl.send(models.SessionEvent{Type: models.EventMessages, Messages: messages})
	})
	unsubSession := h.hub.SubscribeSession(sessionID, func(summary models.SessionSummary) {
		summary.TypingLabel = presence.TypingLabel(summary.Typing, names, userID)
		cl.send(models.SessionEvent{Type: models.EventSession, Summary: &summary})
	})

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	_ = observability.PublishEvent(ctx, "ws_events.sessions", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_connect",
		Payload:   wsPayload("ws_connect", sessionID, info, 0, ""),
	}, observability.BuildHeaders(requestID, traceID))

	// The read loop only exists to detect the close. net/http cancels the
	// request context once the hijacked handler returns, so publishes from
	// this goroutine use a detached context.
	go func() {
		pubCtx := context.Background()
		var closeReason string
		defer func() {
			unsubMessages()
			unsubSession()
			observability.DecWSActive()
			observability.IncWSEvent("ws_disconnect")
			_ = observability.PublishEvent(pubCtx, "ws_events.sessions", observability.EventEnvelope{
				EventType: "ws_events",
				EventName: "ws_disconnect",
				Payload:   wsPayload("ws_disconnect", sessionID, info, time.Since(info.ConnectedAt).Milliseconds(), closeReason),
			}, observability.BuildHeaders(requestID, traceID))
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				closeReason = err.Error()
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					observability.IncWSEvent("ws_error")
					_ = observability.PublishEvent(pubCtx, "ws_events.sessions", observability.EventEnvelope{
						EventType: "ws_events",
						EventName: "ws_error",
						Payload:   wsPayload("ws_error", sessionID, info, time.Since(info.ConnectedAt).Milliseconds(), closeReason),
					}, observability.BuildHeaders(requestID, traceID))
				}
				return
			}
		}
	}()
}

func (h *SessionWebSocketHandler) authenticate(c *gin.Context) (int, error) {
	token := c.GetHeader("Authorization")
	token = strings.TrimPrefix(token, "Bearer ")
	if token == "" {
		token = c.Query("token")
	}

	return middleware.ParseToken(h.jwtSecret, token)
}

func wsPayload(event string, sessionID int, info ConnInfo, durationMS int64, reason string) map[string]interface{} {
	return map[string]interface{}{
		"ws": map[string]interface{}{
			"kind":        "session",
			"resource_id": sessionID,
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": durationMS,
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}
}
