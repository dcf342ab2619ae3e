package http_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"meeting-sync/internal/domain"
	handler "meeting-sync/internal/handler/http"
	"meeting-sync/internal/middleware"
	"meeting-sync/internal/repository"
	"meeting-sync/internal/repository/mocks"
	"meeting-sync/internal/service"
)

type handlerMocks struct {
	sessionRepo  *mocks.SessionRepository
	snapshotRepo *mocks.SnapshotRepository
	stateRepo    *mocks.StateRepository
	eventRepo    *mocks.EventRepository
}

func newHandlerMocks() *handlerMocks {
	return &handlerMocks{
		sessionRepo:  new(mocks.SessionRepository),
		snapshotRepo: new(mocks.SnapshotRepository),
		stateRepo:    new(mocks.StateRepository),
		eventRepo:    new(mocks.EventRepository),
	}
}

func setupRouter(m *handlerMocks) *gin.Engine {
	gin.SetMode(gin.TestMode)
	sessionSvc := service.NewSessionService(m.sessionRepo, nil)
	snapshotSvc := service.NewSnapshotService(m.snapshotRepo, m.stateRepo, m.eventRepo)
	h := handler.NewSessionHandler(sessionSvc, snapshotSvc)

	router := gin.New()
	// Stand-in for the auth middleware: inject a fixed identity.
	router.Use(func(c *gin.Context) {
		c.Set(middleware.CtxParticipantID, "alice")
		c.Set(middleware.CtxDisplayName, "Alice")
	})
	router.POST("/api/sessions", h.CreateSession)
	router.POST("/api/sessions/join", h.JoinSession)
	router.GET("/api/sessions/:sessionId/state", h.GetSessionState)
	return router
}

func TestCreateSessionEndpoint(t *testing.T) {
	m := newHandlerMocks()
	m.sessionRepo.On("InviteCodeExists", mock.Anything, mock.AnythingOfType("string")).Return(false, nil).Once()
	m.sessionRepo.On("Save", mock.Anything, mock.MatchedBy(func(s *domain.Session) bool {
		return s.CreatorID == "alice"
	})).Return(nil).Once()
	router := setupRouter(m)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp handler.CreateSessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.SessionID)
	assert.Len(t, resp.InviteCode, 6)
	m.sessionRepo.AssertExpectations(t)
}

func TestJoinSessionEndpoint(t *testing.T) {
	m := newHandlerMocks()
	m.sessionRepo.On("FindByInviteCode", mock.Anything, "ABC123").
		Return(&domain.Session{ID: "sess-1", InviteCode: "ABC123"}, nil).Once()
	router := setupRouter(m)

	body, err := json.Marshal(handler.JoinSessionRequest{InviteCode: "ABC123"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/sessions/join", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp handler.JoinSessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "sess-1", resp.SessionID)
	m.sessionRepo.AssertExpectations(t)
}

func TestJoinSessionEndpoint_UnknownInviteCode(t *testing.T) {
	m := newHandlerMocks()
	m.sessionRepo.On("FindByInviteCode", mock.Anything, "ZZZZZZ").
		Return(nil, repository.ErrSessionNotFound).Once()
	router := setupRouter(m)

	body, err := json.Marshal(handler.JoinSessionRequest{InviteCode: "ZZZZZZ"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/sessions/join", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestJoinSessionEndpoint_BadInviteCode(t *testing.T) {
	m := newHandlerMocks()
	router := setupRouter(m)

	body := []byte(`{"invite_code":"abc"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/sessions/join", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	m.sessionRepo.AssertNotCalled(t, "FindByInviteCode", mock.Anything, mock.Anything)
}

func TestGetSessionStateEndpoint(t *testing.T) {
	m := newHandlerMocks()
	m.sessionRepo.On("FindByID", mock.Anything, "sess-1").
		Return(&domain.Session{ID: "sess-1"}, nil).Once()

	view := domain.NewSessionView()
	view.Seq = 3
	snap := &domain.Snapshot{SessionID: "sess-1", BaseSeq: 3}
	require.NoError(t, snap.SetState(view))
	m.stateRepo.On("GetSnapshotCache", mock.Anything, "sess-1").Return(snap, nil).Once()
	m.eventRepo.On("LoadFrom", mock.Anything, "sess-1", uint64(4), 500).
		Return([]domain.Event{{SessionID: "sess-1", Seq: 4, Kind: domain.KindChat, Payload: `{"content":"hi"}`}}, nil).Once()
	m.eventRepo.On("CountSince", mock.Anything, "sess-1", uint64(4)).Return(int64(0), nil).Once()
	router := setupRouter(m)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/sess-1/state", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp service.SessionState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, uint64(3), resp.BaseSeq)
	require.Len(t, resp.Events, 1)
	assert.Equal(t, uint64(4), resp.Events[0].Seq)
	assert.Zero(t, resp.Remaining)
	m.eventRepo.AssertExpectations(t)
}

func TestGetSessionStateEndpoint_UnknownSession(t *testing.T) {
	m := newHandlerMocks()
	m.sessionRepo.On("FindByID", mock.Anything, "missing").
		Return(nil, repository.ErrSessionNotFound).Once()
	router := setupRouter(m)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/missing/state", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
