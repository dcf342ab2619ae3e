package websocket

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"meeting-sync/internal/coordinator"
	"meeting-sync/internal/hub"
	"meeting-sync/internal/middleware"
	"meeting-sync/internal/registry"
	"meeting-sync/internal/service"
)

// WebSocketHandler upgrades authenticated requests and joins the
// participant to the session actor.
type WebSocketHandler struct {
	upgrader       websocket.Upgrader
	hub            *hub.Hub
	coord          *coordinator.Coordinator
	sessionService *service.SessionService
}

func NewWebSocketHandler(h *hub.Hub, coord *coordinator.Coordinator, sessionService *service.SessionService) *WebSocketHandler {
	if h == nil {
		panic("Hub cannot be nil for WebSocketHandler")
	}
	if coord == nil {
		panic("Coordinator cannot be nil for WebSocketHandler")
	}
	if sessionService == nil {
		panic("SessionService cannot be nil for WebSocketHandler")
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// TODO: restrict origins once the frontend deployment
			// domains are fixed
			return true
		},
	}

	return &WebSocketHandler{
		upgrader:       upgrader,
		hub:            h,
		coord:          coord,
		sessionService: sessionService,
	}
}

// HandleConnection serves GET /ws/session/:sessionId. The optional
// last_seq query parameter carries the last event sequence a
// reconnecting client applied; catch-up resumes from there.
func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	participantID := c.GetString(middleware.CtxParticipantID)
	if participantID == "" {
		logrus.Warn("WS Handler: participant ID not found in context")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}
	displayName := c.GetString(middleware.CtxDisplayName)

	sessionID := c.Param("sessionId")
	logCtx := logrus.WithFields(logrus.Fields{
		"participant_id": participantID,
		"session_id":     sessionID,
	})

	if _, err := h.sessionService.FindSessionByID(c.Request.Context(), sessionID); err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			logCtx.Warn("WS Handler: Session not found")
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		} else {
			logCtx.WithError(err).Error("WS Handler: Error validating session")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to validate session"})
		}
		return
	}

	var lastSeq uint64
	if raw := c.Query("last_seq"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid last_seq"})
			return
		}
		lastSeq = parsed
	}

	sess, err := h.coord.Open(c.Request.Context(), sessionID)
	if err != nil {
		logCtx.WithError(err).Error("WS Handler: Failed to open session actor")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to open session"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade writes its own HTTP error response.
		logCtx.WithError(err).Error("WS Handler: Failed to upgrade connection")
		return
	}

	client := hub.NewClient(h.hub, conn, sess, participantID)

	// Join before the pumps start: the announcement and the catch-up
	// land in the send buffer and drain once writePump runs.
	if _, err := sess.Join(c.Request.Context(), participantID, displayName, client, lastSeq); err != nil {
		if errors.Is(err, registry.ErrDuplicateParticipant) {
			logCtx.Warn("WS Handler: Participant already connected")
			writeCloseAndDrop(conn, websocket.ClosePolicyViolation, "already connected")
		} else {
			logCtx.WithError(err).Error("WS Handler: Join failed")
			writeCloseAndDrop(conn, websocket.CloseInternalServerErr, "join failed")
		}
		return
	}

	go h.touchSession(sessionID)

	client.Run()
	logCtx.Info("WS Handler: Participant joined and pumps started")
}

func (h *WebSocketHandler) touchSession(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.sessionService.TouchSession(ctx, sessionID); err != nil {
		logrus.WithField("session_id", sessionID).WithError(err).Debug("Failed to touch session activity")
	}
}

func writeCloseAndDrop(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	conn.Close()
}
