package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"dm-service/internal/fanout"
	"dm-service/internal/mocks"
	"dm-service/internal/models"
	"dm-service/internal/moderation"
	"dm-service/internal/presence"
	"dm-service/internal/ratelimit"
	"dm-service/internal/repositories"
	"dm-service/internal/security"
)

func newTestCodec(t *testing.T) *security.Codec {
	t.Helper()
	codec, err := security.NewCodec([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	return codec
}

func newTestBroadcaster(t *testing.T, sessionRepo repositories.SessionRepository, messageRepo repositories.MessageRepository, codec *security.Codec) *fanout.Broadcaster {
	t.Helper()
	return fanout.NewBroadcaster(fanout.NewHub(), sessionRepo, messageRepo, presence.NewMemoryTracker(0), codec)
}

func setupMessageRouter(handler *MessageHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", 1)
		c.Next()
	})
	r.GET("/sessions/:session_id/messages", handler.List)
	r.POST("/sessions/:session_id/messages", handler.Send)
	r.POST("/sessions/:session_id/messages/:message_id/reactions", handler.React)
	r.POST("/sessions/:session_id/messages/:message_id/read", handler.MarkRead)
	r.DELETE("/sessions/:session_id/messages/:message_id", handler.Delete)
	return r
}

func newMessageHandler(t *testing.T, sessionRepo *mocks.SessionRepositoryMock, messageRepo *mocks.MessageRepositoryMock) (*MessageHandler, *security.Codec) {
	t.Helper()
	codec := newTestCodec(t)
	broadcaster := newTestBroadcaster(t, sessionRepo, messageRepo, codec)
	handler := NewMessageHandler(sessionRepo, messageRepo, codec, moderation.NewFilter(), ratelimit.NewLimiter(nil), broadcaster, nil)
	return handler, codec
}

func testSession() models.ChatSession {
	return models.ChatSession{ID: 7, User1ID: 1, User2ID: 2, CreatedAt: time.Now()}
}

func TestSendMessageMasksBeforeEncrypting(t *testing.T) {
	sessionRepo := new(mocks.SessionRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler, codec := newMessageHandler(t, sessionRepo, messageRepo)
	router := setupMessageRouter(handler)

	sessionRepo.On("Get", mock.Anything, 7).Return(testSession(), nil)
	sessionRepo.On("UpdateLastMessage", mock.Anything, 7, mock.Anything, mock.Anything, 1).Return(nil).Once()

	var created repositories.CreateMessageParams
	messageRepo.On("Create", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		created = args.Get(1).(repositories.CreateMessageParams)
	}).Return(models.Message{ID: 42, SessionID: 7, SenderID: 1, CreatedAt: time.Now()}, nil).Once()
	messageRepo.On("ListBySession", mock.Anything, 7).Return([]models.Message{}, nil)

	body := bytes.NewBufferString(`{"text":"do not be stupid about it"}`)
	req := httptest.NewRequest(http.MethodPost, "/sessions/7/messages", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	// The stored ciphertext must already contain the masked text.
	stored := codec.Decrypt(created.Content)
	assert.Equal(t, "do not be **** about it", stored)
	assert.NotContains(t, stored, "stupid")
	messageRepo.AssertExpectations(t)
	sessionRepo.AssertExpectations(t)
}

func TestSendMessageEmptyRejected(t *testing.T) {
	sessionRepo := new(mocks.SessionRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler, _ := newMessageHandler(t, sessionRepo, messageRepo)
	router := setupMessageRouter(handler)

	sessionRepo.On("Get", mock.Anything, 7).Return(testSession(), nil)

	req := httptest.NewRequest(http.MethodPost, "/sessions/7/messages", bytes.NewBufferString(`{"text":""}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	messageRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestSendMessageAttachmentOnly(t *testing.T) {
	sessionRepo := new(mocks.SessionRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler, codec := newMessageHandler(t, sessionRepo, messageRepo)
	router := setupMessageRouter(handler)

	sessionRepo.On("Get", mock.Anything, 7).Return(testSession(), nil)

	var summaryText string
	sessionRepo.On("UpdateLastMessage", mock.Anything, 7, mock.Anything, mock.Anything, 1).Run(func(args mock.Arguments) {
		summaryText = args.Get(3).(string)
	}).Return(nil).Once()

	var created repositories.CreateMessageParams
	messageRepo.On("Create", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		created = args.Get(1).(repositories.CreateMessageParams)
	}).Return(models.Message{ID: 42, SessionID: 7, SenderID: 1, CreatedAt: time.Now()}, nil).Once()
	messageRepo.On("ListBySession", mock.Anything, 7).Return([]models.Message{}, nil)

	body := bytes.NewBufferString(`{"attachments":[{"name":"report.pdf","type":"application/pdf","size":1024,"url":"https://files/report.pdf"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/sessions/7/messages", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "", created.Content)
	// The session list falls back to the file name when there is no text.
	assert.Equal(t, "report.pdf", codec.Decrypt(summaryText))
}

func TestSendMessageSnapshotsReplyPreview(t *testing.T) {
	sessionRepo := new(mocks.SessionRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler, codec := newMessageHandler(t, sessionRepo, messageRepo)
	router := setupMessageRouter(handler)

	sessionRepo.On("Get", mock.Anything, 7).Return(testSession(), nil)
	sessionRepo.On("UpdateLastMessage", mock.Anything, 7, mock.Anything, mock.Anything, 1).Return(nil).Once()

	target := models.Message{ID: 5, SessionID: 7, SenderID: 2, Content: codec.Encrypt("the original"), CreatedAt: time.Now()}
	messageRepo.On("Get", mock.Anything, 5).Return(target, nil).Once()

	var created repositories.CreateMessageParams
	messageRepo.On("Create", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		created = args.Get(1).(repositories.CreateMessageParams)
	}).Return(models.Message{ID: 42, SessionID: 7, SenderID: 1, CreatedAt: time.Now()}, nil).Once()
	messageRepo.On("ListBySession", mock.Anything, 7).Return([]models.Message{}, nil)

	body := bytes.NewBufferString(`{"text":"agreed","reply_to":5}`)
	req := httptest.NewRequest(http.MethodPost, "/sessions/7/messages", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, created.ReplyToID)
	require.NotNil(t, created.ReplyToSenderID)
	require.NotNil(t, created.ReplyToPreview)
	assert.Equal(t, 5, *created.ReplyToID)
	assert.Equal(t, 2, *created.ReplyToSenderID)
	assert.Equal(t, "the original", codec.Decrypt(*created.ReplyToPreview))
}

func TestSendMessageReplyToMissingTarget(t *testing.T) {
	sessionRepo := new(mocks.SessionRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler, _ := newMessageHandler(t, sessionRepo, messageRepo)
	router := setupMessageRouter(handler)

	sessionRepo.On("Get", mock.Anything, 7).Return(testSession(), nil)
	sessionRepo.On("UpdateLastMessage", mock.Anything, 7, mock.Anything, mock.Anything, 1).Return(nil).Once()
	messageRepo.On("Get", mock.Anything, 5).Return(models.Message{}, repositories.ErrMessageNotFound).Once()

	var created repositories.CreateMessageParams
	messageRepo.On("Create", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		created = args.Get(1).(repositories.CreateMessageParams)
	}).Return(models.Message{ID: 42, SessionID: 7, SenderID: 1, CreatedAt: time.Now()}, nil).Once()
	messageRepo.On("ListBySession", mock.Anything, 7).Return([]models.Message{}, nil)

	body := bytes.NewBufferString(`{"text":"too late","reply_to":5}`)
	req := httptest.NewRequest(http.MethodPost, "/sessions/7/messages", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, created.ReplyToID)
	assert.Nil(t, created.ReplyToSenderID)
	assert.Nil(t, created.ReplyToPreview)
}

func TestListMessagesRendersUnavailableReply(t *testing.T) {
	sessionRepo := new(mocks.SessionRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler, codec := newMessageHandler(t, sessionRepo, messageRepo)
	router := setupMessageRouter(handler)

	replyTo := 5
	sessionRepo.On("Get", mock.Anything, 7).Return(testSession(), nil)
	messageRepo.On("ListBySession", mock.Anything, 7).Return([]models.Message{
		{ID: 42, SessionID: 7, SenderID: 1, Content: codec.Encrypt("too late"), ReplyToID: &replyTo, CreatedAt: time.Now()},
	}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/sessions/7/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Messages []models.MessageView `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "too late", resp.Messages[0].Text)
	require.NotNil(t, resp.Messages[0].ReplyTo)
	assert.Equal(t, models.ReplyUnavailableText, resp.Messages[0].ReplyTo.Preview)
}

func TestListMessagesNotParticipant(t *testing.T) {
	sessionRepo := new(mocks.SessionRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler, _ := newMessageHandler(t, sessionRepo, messageRepo)
	router := setupMessageRouter(handler)

	sessionRepo.On("Get", mock.Anything, 7).Return(models.ChatSession{ID: 7, User1ID: 2, User2ID: 3}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/sessions/7/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	messageRepo.AssertNotCalled(t, "ListBySession", mock.Anything, mock.Anything)
}

func TestReactTogglesReaction(t *testing.T) {
	sessionRepo := new(mocks.SessionRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler, _ := newMessageHandler(t, sessionRepo, messageRepo)
	router := setupMessageRouter(handler)

	sessionRepo.On("Get", mock.Anything, 7).Return(testSession(), nil)
	messageRepo.On("Get", mock.Anything, 5).Return(models.Message{ID: 5, SessionID: 7, SenderID: 2}, nil).Once()
	messageRepo.On("ToggleReaction", mock.Anything, 5, 1, "❤️").Return(nil).Once()
	messageRepo.On("ListBySession", mock.Anything, 7).Return([]models.Message{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/sessions/7/messages/5/reactions", bytes.NewBufferString(`{"symbol":"❤️"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	messageRepo.AssertExpectations(t)
}

func TestReactMessageFromOtherSession(t *testing.T) {
	sessionRepo := new(mocks.SessionRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler, _ := newMessageHandler(t, sessionRepo, messageRepo)
	router := setupMessageRouter(handler)

	sessionRepo.On("Get", mock.Anything, 7).Return(testSession(), nil)
	messageRepo.On("Get", mock.Anything, 5).Return(models.Message{ID: 5, SessionID: 8, SenderID: 2}, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/sessions/7/messages/5/reactions", bytes.NewBufferString(`{"symbol":"❤️"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	messageRepo.AssertNotCalled(t, "ToggleReaction", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestMarkReadSuccess(t *testing.T) {
	sessionRepo := new(mocks.SessionRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler, _ := newMessageHandler(t, sessionRepo, messageRepo)
	router := setupMessageRouter(handler)

	sessionRepo.On("Get", mock.Anything, 7).Return(testSession(), nil)
	messageRepo.On("Get", mock.Anything, 5).Return(models.Message{ID: 5, SessionID: 7, SenderID: 2}, nil).Once()
	messageRepo.On("MarkRead", mock.Anything, 5, 1).Return(nil).Once()
	messageRepo.On("ListBySession", mock.Anything, 7).Return([]models.Message{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/sessions/7/messages/5/read", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	messageRepo.AssertExpectations(t)
}

func TestDeleteMessageSenderOnly(t *testing.T) {
	sessionRepo := new(mocks.SessionRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler, _ := newMessageHandler(t, sessionRepo, messageRepo)
	router := setupMessageRouter(handler)

	sessionRepo.On("Get", mock.Anything, 7).Return(testSession(), nil)
	messageRepo.On("Get", mock.Anything, 5).Return(models.Message{ID: 5, SessionID: 7, SenderID: 2}, nil).Once()

	req := httptest.NewRequest(http.MethodDelete, "/sessions/7/messages/5", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	messageRepo.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything, mock.Anything)
}

func TestDeleteMessageBySender(t *testing.T) {
	sessionRepo := new(mocks.SessionRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler, _ := newMessageHandler(t, sessionRepo, messageRepo)
	router := setupMessageRouter(handler)

	sessionRepo.On("Get", mock.Anything, 7).Return(testSession(), nil)
	messageRepo.On("Get", mock.Anything, 5).Return(models.Message{ID: 5, SessionID: 7, SenderID: 1}, nil).Once()
	messageRepo.On("Delete", mock.Anything, 5, 1).Return(nil).Once()
	messageRepo.On("ListBySession", mock.Anything, 7).Return([]models.Message{}, nil)

	req := httptest.NewRequest(http.MethodDelete, "/sessions/7/messages/5", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	messageRepo.AssertExpectations(t)
}
