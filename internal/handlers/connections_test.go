package handlers

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

	"dm-service/internal/mocks"
	"dm-service/internal/models"
	"dm-service/internal/repositories"
)

func setupConnectionRouter(handler *ConnectionHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", 1)
		c.Next()
	})
	r.POST("/connections", handler.Request)
	r.GET("/connections", handler.List)
	r.POST("/connections/:connection_id/accept", handler.Accept)
	r.DELETE("/connections/:connection_id", handler.Remove)
	return r
}

func TestRequestConnectionSuccess(t *testing.T) {
	connRepo := new(mocks.ConnectionRepositoryMock)
	directory := new(mocks.UserDirectoryMock)
	handler := NewConnectionHandler(connRepo, directory, nil)
	router := setupConnectionRouter(handler)

	directory.On("ByEmail", mock.Anything, "bob@example.com").Return(models.User{ID: 2, Email: "bob@example.com"}, nil).Once()
	connRepo.On("Request", mock.Anything, 1, 2).Return(models.Connection{ID: 9, RequesterID: 1, ReceiverID: 2, Status: models.ConnectionPending}, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/connections", bytes.NewBufferString(`{"email":"bob@example.com"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp models.Connection
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, models.ConnectionPending, resp.Status)
	connRepo.AssertExpectations(t)
	directory.AssertExpectations(t)
}

func TestRequestConnectionUnknownEmail(t *testing.T) {
	directory := new(mocks.UserDirectoryMock)
	handler := NewConnectionHandler(new(mocks.ConnectionRepositoryMock), directory, nil)
	router := setupConnectionRouter(handler)

	directory.On("ByEmail", mock.Anything, "ghost@example.com").Return(models.User{}, repositories.ErrUserNotFound).Once()

	req := httptest.NewRequest(http.MethodPost, "/connections", bytes.NewBufferString(`{"email":"ghost@example.com"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	directory.AssertExpectations(t)
}

func TestRequestConnectionToSelf(t *testing.T) {
	connRepo := new(mocks.ConnectionRepositoryMock)
	directory := new(mocks.UserDirectoryMock)
	handler := NewConnectionHandler(connRepo, directory, nil)
	router := setupConnectionRouter(handler)

	directory.On("ByEmail", mock.Anything, "me@example.com").Return(models.User{ID: 1}, nil).Once()
	connRepo.On("Request", mock.Anything, 1, 1).Return(models.Connection{}, repositories.ErrSelfRequest).Once()

	req := httptest.NewRequest(http.MethodPost, "/connections", bytes.NewBufferString(`{"email":"me@example.com"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestConnectionDuplicate(t *testing.T) {
	connRepo := new(mocks.ConnectionRepositoryMock)
	directory := new(mocks.UserDirectoryMock)
	handler := NewConnectionHandler(connRepo, directory, nil)
	router := setupConnectionRouter(handler)

	directory.On("ByEmail", mock.Anything, "bob@example.com").Return(models.User{ID: 2}, nil).Once()
	connRepo.On("Request", mock.Anything, 1, 2).Return(models.Connection{}, repositories.ErrConnectionExists).Once()

	req := httptest.NewRequest(http.MethodPost, "/connections", bytes.NewBufferString(`{"email":"bob@example.com"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestAcceptConnectionByReceiver(t *testing.T) {
	connRepo := new(mocks.ConnectionRepositoryMock)
	handler := NewConnectionHandler(connRepo, new(mocks.UserDirectoryMock), nil)
	router := setupConnectionRouter(handler)

	pending := models.Connection{ID: 9, RequesterID: 2, ReceiverID: 1, Status: models.ConnectionPending}
	connRepo.On("Get", mock.Anything, 9).Return(pending, nil).Once()
	connRepo.On("MarkAccepted", mock.Anything, 9).Return(models.Connection{ID: 9, RequesterID: 2, ReceiverID: 1, Status: models.ConnectionAccepted}, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/connections/9/accept", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp models.Connection
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, models.ConnectionAccepted, resp.Status)
	connRepo.AssertExpectations(t)
}

func TestAcceptConnectionByRequesterForbidden(t *testing.T) {
	connRepo := new(mocks.ConnectionRepositoryMock)
	handler := NewConnectionHandler(connRepo, new(mocks.UserDirectoryMock), nil)
	router := setupConnectionRouter(handler)

	pending := models.Connection{ID: 9, RequesterID: 1, ReceiverID: 2, Status: models.ConnectionPending}
	connRepo.On("Get", mock.Anything, 9).Return(pending, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/connections/9/accept", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	connRepo.AssertNotCalled(t, "MarkAccepted", mock.Anything, mock.Anything)
}

func TestAcceptConnectionNotPending(t *testing.T) {
	connRepo := new(mocks.ConnectionRepositoryMock)
	handler := NewConnectionHandler(connRepo, new(mocks.UserDirectoryMock), nil)
	router := setupConnectionRouter(handler)

	accepted := models.Connection{ID: 9, RequesterID: 2, ReceiverID: 1, Status: models.ConnectionAccepted}
	connRepo.On("Get", mock.Anything, 9).Return(accepted, nil).Once()
	connRepo.On("MarkAccepted", mock.Anything, 9).Return(models.Connection{}, repositories.ErrNotPending).Once()

	req := httptest.NewRequest(http.MethodPost, "/connections/9/accept", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestRemovePendingConnection(t *testing.T) {
	connRepo := new(mocks.ConnectionRepositoryMock)
	handler := NewConnectionHandler(connRepo, new(mocks.UserDirectoryMock), nil)
	router := setupConnectionRouter(handler)

	pending := models.Connection{ID: 9, RequesterID: 2, ReceiverID: 1, Status: models.ConnectionPending}
	connRepo.On("Get", mock.Anything, 9).Return(pending, nil).Once()
	connRepo.On("Delete", mock.Anything, 9).Return(nil).Once()

	req := httptest.NewRequest(http.MethodDelete, "/connections/9", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	connRepo.AssertExpectations(t)
}

func TestRemoveMissingConnectionIsNoop(t *testing.T) {
	connRepo := new(mocks.ConnectionRepositoryMock)
	handler := NewConnectionHandler(connRepo, new(mocks.UserDirectoryMock), nil)
	router := setupConnectionRouter(handler)

	connRepo.On("Get", mock.Anything, 9).Return(models.Connection{}, repositories.ErrConnectionNotFound).Once()

	req := httptest.NewRequest(http.MethodDelete, "/connections/9", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	connRepo.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestRemoveAcceptedConnectionBlocked(t *testing.T) {
	connRepo := new(mocks.ConnectionRepositoryMock)
	handler := NewConnectionHandler(connRepo, new(mocks.UserDirectoryMock), nil)
	router := setupConnectionRouter(handler)

	accepted := models.Connection{ID: 9, RequesterID: 2, ReceiverID: 1, Status: models.ConnectionAccepted}
	connRepo.On("Get", mock.Anything, 9).Return(accepted, nil).Once()

	req := httptest.NewRequest(http.MethodDelete, "/connections/9", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
	connRepo.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestRemoveConnectionNotParticipant(t *testing.T) {
	connRepo := new(mocks.ConnectionRepositoryMock)
	handler := NewConnectionHandler(connRepo, new(mocks.UserDirectoryMock), nil)
	router := setupConnectionRouter(handler)

	other := models.Connection{ID: 9, RequesterID: 2, ReceiverID: 3, Status: models.ConnectionPending}
	connRepo.On("Get", mock.Anything, 9).Return(other, nil).Once()

	req := httptest.NewRequest(http.MethodDelete, "/connections/9", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestListConnectionsWithPeers(t *testing.T) {
	connRepo := new(mocks.ConnectionRepositoryMock)
	directory := new(mocks.UserDirectoryMock)
	handler := NewConnectionHandler(connRepo, directory, nil)
	router := setupConnectionRouter(handler)

	conns := []models.Connection{
		{ID: 9, RequesterID: 1, ReceiverID: 2, Status: models.ConnectionPending},
		{ID: 10, RequesterID: 3, ReceiverID: 1, Status: models.ConnectionAccepted},
	}
	connRepo.On("List", mock.Anything, 1, "").Return(conns, nil).Once()
	directory.On("ByIDs", mock.Anything, []int{2, 3}).Return([]models.User{
		{ID: 2, DisplayName: "Bob"},
		{ID: 3, DisplayName: "Cleo"},
	}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/connections", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Connections []struct {
			ID   int         `json:"id"`
			Peer models.User `json:"peer"`
		} `json:"connections"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Connections, 2)
	assert.Equal(t, "Bob", resp.Connections[0].Peer.DisplayName)
	assert.Equal(t, "Cleo", resp.Connections[1].Peer.DisplayName)
	connRepo.AssertExpectations(t)
	directory.AssertExpectations(t)
}

func TestListConnectionsBadStatusFilter(t *testing.T) {
	handler := NewConnectionHandler(new(mocks.ConnectionRepositoryMock), new(mocks.UserDirectoryMock), nil)
	router := setupConnectionRouter(handler)

	req := httptest.NewRequest(http.MethodGet, "/connections?status=rejected", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
