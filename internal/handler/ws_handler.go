package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/config"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/hub"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/metrics"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/service"
	"github.com/weiawesome/wes-io-live/chat-sync/pkg/log"
	"github.com/weiawesome/wes-io-live/chat-sync/pkg/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WSHandler struct {
	hub   *hub.Hub
	chat  *service.ChatService
	auth  *middleware.AuthMiddleware
	wsCfg config.WebSocketConfig
}

func NewWSHandler(h *hub.Hub, chat *service.ChatService, auth *middleware.AuthMiddleware, wsCfg config.WebSocketConfig) *WSHandler {
	return &WSHandler{
		hub:   h,
		chat:  chat,
		auth:  auth,
		wsCfg: wsCfg,
	}
}

// HandleWebSocket authenticates the handshake before upgrading; a bad or
// missing token never becomes a connection.
func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	l := log.Ctx(r.Context())

	claims, err := h.auth.Authenticate(r)
	if err != nil {
		l.Warn().Err(err).Msg("websocket handshake rejected")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	connID := uuid.New().String()
	logger := l.With().
		Str(log.FieldConnID, connID).
		Str(log.FieldUserID, claims.UserID).
		Str(log.FieldClientIP, log.ClientIP(r)).
		Logger()
	identity := domain.Identity{UserID: claims.UserID, Username: claims.Username}
	client := hub.NewClient(connID, identity, h.hub, conn, h.wsCfg, logger)

	// The request context ends when the handshake returns, so the
	// connection carries its own.
	ctx, cancel := context.WithCancel(log.WithLogger(context.Background(), logger))

	h.hub.Register(client)
	metrics.ConnectionOpened()
	h.chat.Connect(ctx, client)
	logger.Info().Msg("client connected")

	go client.WritePump()
	go client.ReadPump(
		func(c *hub.Client, message []byte) { h.handleMessage(ctx, c, message) },
		func(c *hub.Client) {
			h.hub.Unregister(c)
			h.chat.Disconnect(context.WithoutCancel(ctx), c)
			cancel()
			metrics.ConnectionClosed()
			logger.Info().Msg("client disconnected")
		},
	)
}

func (h *WSHandler) handleMessage(ctx context.Context, client *hub.Client, message []byte) {
	frame, err := domain.DecodeFrame(message)
	if err != nil || frame.Event == "" {
		h.send(client, domain.EventError, "", domain.Fail(domain.CodeValidation, "invalid frame"))
		return
	}

	if !client.Allow() {
		h.send(client, domain.EventAck, frame.AckID, domain.Fail(domain.CodeRateLimited, "too many events"))
		return
	}

	ack := h.chat.Handle(ctx, client, frame.Event, frame.Data)
	if frame.Event == domain.EventPing && frame.AckID == "" {
		h.send(client, domain.EventPong, "", nil)
		return
	}
	h.send(client, domain.EventAck, frame.AckID, ack)
}

func (h *WSHandler) send(client *hub.Client, event, ackID string, data any) {
	if err := client.SendFrame(event, ackID, data); err != nil {
		client.Logger.Error().Err(err).Str("event", event).Msg("failed to encode frame")
	}
}

func (h *WSHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/chat/ws", gin.WrapF(h.HandleWebSocket))
}
