package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"meeting-sync/internal/middleware"
	"meeting-sync/internal/service"
)

// SessionHandler serves the session management endpoints.
type SessionHandler struct {
	sessionService  *service.SessionService
	snapshotService *service.SnapshotService
}

func NewSessionHandler(sessionService *service.SessionService, snapshotService *service.SnapshotService) *SessionHandler {
	return &SessionHandler{
		sessionService:  sessionService,
		snapshotService: snapshotService,
	}
}

// CreateSessionResponse is the payload for a successful creation.
type CreateSessionResponse struct {
	Message    string `json:"message"`
	SessionID  string `json:"session_id"`
	InviteCode string `json:"invite_code"`
}

// CreateSession handles POST /api/sessions.
func (h *SessionHandler) CreateSession(c *gin.Context) {
	participantID := c.GetString(middleware.CtxParticipantID)
	if participantID == "" {
		logrus.Warn("Handler.CreateSession: participant ID not found in context, middleware missing?")
		ErrorResponse(c, http.StatusUnauthorized, "Not authenticated")
		return
	}
	logCtx := logrus.WithField("participant_id", participantID)

	session, err := h.sessionService.CreateSession(c.Request.Context(), participantID)
	if err != nil {
		logCtx.WithError(err).Error("Handler.CreateSession: Failed to create session via service")
		HandleServiceError(c, err)
		return
	}

	logCtx.WithFields(logrus.Fields{
		"session_id":  session.ID,
		"invite_code": session.InviteCode,
	}).Info("Handler.CreateSession: Session created")
	SuccessResponse(c, http.StatusOK, CreateSessionResponse{
		Message:    "Session created successfully",
		SessionID:  session.ID,
		InviteCode: session.InviteCode,
	})
}

// JoinSessionRequest is the invite code resolution request.
type JoinSessionRequest struct {
	InviteCode string `json:"invite_code" binding:"required,len=6"`
}

// JoinSessionResponse is the invite code resolution response. The
// caller takes the session id to the WebSocket endpoint to actually
// join.
type JoinSessionResponse struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// JoinSession handles POST /api/sessions/join: it resolves an invite
// code to a session id.
func (h *SessionHandler) JoinSession(c *gin.Context) {
	participantID := c.GetString(middleware.CtxParticipantID)
	if participantID == "" {
		ErrorResponse(c, http.StatusUnauthorized, "Not authenticated")
		return
	}

	var req JoinSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "invite_code is required and must be 6 characters")
		return
	}
	logCtx := logrus.WithFields(logrus.Fields{
		"participant_id": participantID,
		"invite_code":    req.InviteCode,
	})

	session, err := h.sessionService.ResolveInviteCode(c.Request.Context(), req.InviteCode)
	if err != nil {
		logCtx.WithError(err).Warn("Handler.JoinSession: Failed to resolve invite code")
		HandleServiceError(c, err)
		return
	}

	logCtx.WithField("session_id", session.ID).Info("Handler.JoinSession: Invite code resolved")
	SuccessResponse(c, http.StatusOK, JoinSessionResponse{
		Message:   "Session found",
		SessionID: session.ID,
	})
}

const defaultStatePageSize = 500

// GetSessionState handles GET /api/sessions/:sessionId/state: the
// latest folded state plus the archived events after it, so a client
// can render before (or without) attaching to the live channel.
func (h *SessionHandler) GetSessionState(c *gin.Context) {
	participantID := c.GetString(middleware.CtxParticipantID)
	if participantID == "" {
		ErrorResponse(c, http.StatusUnauthorized, "Not authenticated")
		return
	}
	sessionID := c.Param("sessionId")
	logCtx := logrus.WithFields(logrus.Fields{
		"participant_id": participantID,
		"session_id":     sessionID,
	})

	if _, err := h.sessionService.FindSessionByID(c.Request.Context(), sessionID); err != nil {
		HandleServiceError(c, err)
		return
	}

	state, err := h.snapshotService.GetSessionState(c.Request.Context(), sessionID, defaultStatePageSize)
	if err != nil {
		logCtx.WithError(err).Error("Handler.GetSessionState: Failed to load session state")
		HandleServiceError(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, state)
}

// Health handles GET /health.
func Health(c *gin.Context) {
	SuccessResponse(c, http.StatusOK, gin.H{"status": "ok"})
}
