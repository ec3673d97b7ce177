package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-live/chat-sync/internal/backplane"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/cache"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/config"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/hub"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/presence"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/repository"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/room"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/service"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/syncserver"
	"github.com/weiawesome/wes-io-live/chat-sync/pkg/database"
	"github.com/weiawesome/wes-io-live/chat-sync/pkg/idgen"
	"github.com/weiawesome/wes-io-live/chat-sync/pkg/jwt"
	"github.com/weiawesome/wes-io-live/chat-sync/pkg/log"
	"github.com/weiawesome/wes-io-live/chat-sync/pkg/middleware"
)

type fixture struct {
	srv  *httptest.Server
	repo *repository.GormRepository
	jwt  *jwt.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.New(&database.Config{Driver: "sqlite", FilePath: filepath.Join(t.TempDir(), "chat.db")})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db, domain.Models()...))
	repo := repository.NewGormRepository(db)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	h := hub.NewHub()
	bp := backplane.NewLocal(h)
	router := room.NewRouter(h, bp, repo)
	chat := service.NewChatService(repo, presence.NewRedisStore(client, presence.Options{}), bp, router)
	syncSrv := syncserver.NewServer(repo, chat, cache.NewRedisDirectoryCache(client, "test"), syncserver.Options{MaxBatch: 3})

	mgr, err := jwt.NewManager("test-secret", "chat-sync", time.Hour)
	require.NoError(t, err)
	auth := middleware.NewAuthMiddleware(mgr)

	engine := gin.New()
	engine.Use(log.GinMiddleware(log.Nop()))
	NewHandler(syncSrv, auth).RegisterRoutes(engine)
	NewWSHandler(h, chat, auth, config.WebSocketConfig{
		PingInterval:   time.Minute,
		PongWait:       time.Minute,
		WriteWait:      time.Second,
		MaxMessageSize: 1 << 16,
		SendBuffer:     64,
		RateLimit:      100,
		Burst:          100,
	}).RegisterRoutes(engine)

	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, repo: repo, jwt: mgr}
}

func (f *fixture) token(t *testing.T, userID string) string {
	t.Helper()
	tok, _, err := f.jwt.GenerateToken(userID, userID)
	require.NoError(t, err)
	return tok
}

func (f *fixture) do(t *testing.T, method, path, userID string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	require.NoError(t, err)
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+f.token(t, userID))
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestSyncRequiresAuth(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/sync", "/initial-sync"} {
		resp := f.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}
}

func TestHealthIsPublic(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDeltaSyncRejectsBadSince(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/sync?since=yesterday", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFlushThenPull(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.repo.EnsureUser(ctx, "bob", "bob"))

	convID := idgen.New()
	msgID := idgen.New()
	createConv, err := domain.NewQueueItem(convID, domain.ActionConversationCreate, domain.ConversationCreatePayload{
		ParticipantIDs: []string{"bob"},
	})
	require.NoError(t, err)
	send, err := domain.NewQueueItem(msgID, domain.ActionMessageSend, domain.MessageSendPayload{
		ConversationID: convID,
		ReceiverID:     "bob",
		Content:        "hello",
		Type:           domain.ConversationPrivate,
	})
	require.NoError(t, err)

	resp := f.do(t, http.MethodPost, "/sync", "alice", []domain.QueueItem{createConv, send})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	flushed := decode[domain.FlushResponse](t, resp)
	assert.True(t, flushed.Success)
	require.Len(t, flushed.Results, 2)
	for _, r := range flushed.Results {
		assert.Equal(t, domain.ItemSuccess, r.Status, r.Error)
	}

	resp = f.do(t, http.MethodGet, "/sync", "bob", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	delta := decode[domain.DeltaResponse](t, resp)
	require.Len(t, delta.Messages, 1)
	assert.Equal(t, msgID, delta.Messages[0].ID)
	assert.Equal(t, "hello", delta.Messages[0].Content)
	require.Len(t, delta.Conversations, 1)
	assert.False(t, delta.Timestamp.IsZero())

	resp = f.do(t, http.MethodGet, "/sync?since="+delta.Timestamp.Format(time.RFC3339Nano), "bob", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	empty := decode[domain.DeltaResponse](t, resp)
	assert.True(t, empty.Empty())
}

func TestFlushRejectsOversizedBatch(t *testing.T) {
	f := newFixture(t)
	items := make([]domain.QueueItem, 4)
	for i := range items {
		items[i] = domain.QueueItem{ID: idgen.New(), Action: domain.ActionMessageRead, Payload: json.RawMessage(`{}`)}
	}
	resp := f.do(t, http.MethodPost, "/sync", "alice", items)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestFlushRejectsNonArrayBody(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodPost, "/sync", "alice", map[string]string{"id": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestInitialSyncListsDirectory(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.repo.EnsureUser(context.Background(), "bob", "bob"))

	resp := f.do(t, http.MethodGet, "/initial-sync", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[domain.InitialSyncResponse](t, resp)
	assert.True(t, body.Success)

	var ids []string
	for _, u := range body.Users {
		ids = append(ids, u.ID)
	}
	assert.ElementsMatch(t, []string{"alice", "bob"}, ids, "caller is recorded on first request")
	assert.Empty(t, body.Conversations)
}

func (f *fixture) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/chat/ws?token=" + f.token(t, userID)
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

// waitFor reads frames until one with the wanted event arrives.
func waitFor(t *testing.T, conn *websocket.Conn, event string) *domain.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, b, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", event)
		fr, err := domain.DecodeFrame(b)
		require.NoError(t, err)
		if fr.Event == event {
			return fr
		}
	}
}

func TestWebSocketRejectsBadToken(t *testing.T) {
	f := newFixture(t)
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/chat/ws?token=garbage"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocketSendAndReceive(t *testing.T) {
	f := newFixture(t)
	bob := f.dial(t, "bob")
	waitFor(t, bob, domain.EventUserOnline)
	alice := f.dial(t, "alice")
	waitFor(t, alice, domain.EventUserOnline)

	conv, _, err := f.repo.CreateConversation(context.Background(), &domain.Conversation{Type: domain.ConversationPrivate, CreatorID: "alice"}, []string{"bob"})
	require.NoError(t, err)

	require.NoError(t, alice.WriteJSON(map[string]any{
		"event": domain.EventMessageSend,
		"ackId": "1",
		"data": domain.MessageSendPayload{
			ConversationID: conv.ID,
			ReceiverID:     "bob",
			Content:        "hi bob",
			Type:           domain.ConversationPrivate,
		},
	}))

	ackFrame := waitFor(t, alice, domain.EventAck)
	assert.Equal(t, "1", ackFrame.AckID)
	var ack domain.Ack
	require.NoError(t, json.Unmarshal(ackFrame.Data, &ack))
	require.True(t, ack.Success, ack.Error)
	assert.NotEmpty(t, ack.MessageID)

	got := waitFor(t, bob, domain.EventMessageNew)
	var msg domain.Message
	require.NoError(t, json.Unmarshal(got.Data, &msg))
	assert.Equal(t, ack.MessageID, msg.ID)
	assert.Equal(t, "hi bob", msg.Content)
}

func TestWebSocketUnknownEventAndBadFrame(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "alice")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	errFrame := waitFor(t, conn, domain.EventError)
	var ack domain.Ack
	require.NoError(t, json.Unmarshal(errFrame.Data, &ack))
	assert.Equal(t, domain.CodeValidation, ack.Code)

	require.NoError(t, conn.WriteJSON(map[string]any{"event": "nope", "ackId": "9"}))
	ackFrame := waitFor(t, conn, domain.EventAck)
	assert.Equal(t, "9", ackFrame.AckID)
	require.NoError(t, json.Unmarshal(ackFrame.Data, &ack))
	assert.Equal(t, domain.CodeUnknownEvent, ack.Code)
}
