package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/wes-io-live/chat-sync/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/metrics"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/syncserver"
	"github.com/weiawesome/wes-io-live/chat-sync/pkg/log"
	"github.com/weiawesome/wes-io-live/chat-sync/pkg/middleware"
	"github.com/weiawesome/wes-io-live/chat-sync/pkg/response"
)

// Handler serves the sync endpoints.
type Handler struct {
	sync           *syncserver.Server
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler creates a new HTTP handler.
func NewHandler(sync *syncserver.Server, authMiddleware *middleware.AuthMiddleware) *Handler {
	return &Handler{
		sync:           sync,
		authMiddleware: authMiddleware,
	}
}

// RegisterRoutes registers all routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	auth := r.Group("", h.authMiddleware.RequireAuth(), h.touch)
	{
		auth.GET("/sync", h.DeltaSync)
		auth.POST("/sync", h.BatchFlush)
		auth.GET("/initial-sync", h.InitialSync)
	}
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// touch registers the caller on every authenticated request. A failure is
// logged and the request continues.
func (h *Handler) touch(c *gin.Context) {
	ctx := c.Request.Context()
	if err := h.sync.Touch(ctx, middleware.GetUserID(c), middleware.GetUsername(c)); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Msg("failed to record user")
	}
	c.Next()
}

// DeltaSync returns everything changed after ?since. A missing since means
// the epoch, so the first pull returns the full history.
func (h *Handler) DeltaSync(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	userID := middleware.GetUserID(c)
	if userID == "" {
		response.Unauthorized(c, "unauthorized")
		return
	}

	var since time.Time
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			response.BadRequest(c, "since must be an RFC3339 timestamp")
			return
		}
		since = t
	}

	delta, err := h.sync.Pull(ctx, userID, since)
	if err != nil {
		l.Error().Err(err).Msg("failed to pull delta")
		response.InternalError(c, "failed to load changes")
		return
	}

	response.JSON(c, delta)
}

// BatchFlush applies a queue of offline operations.
func (h *Handler) BatchFlush(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	userID := middleware.GetUserID(c)
	if userID == "" {
		response.Unauthorized(c, "unauthorized")
		return
	}

	var items []domain.QueueItem
	if err := c.ShouldBindJSON(&items); err != nil {
		l.Warn().Err(err).Msg("failed to bind flush request")
		response.BadRequest(c, "body must be an array of queue items")
		return
	}

	results, err := h.sync.Flush(ctx, userID, items)
	if err != nil {
		if errors.Is(err, syncserver.ErrBatchTooLarge) {
			response.TooLarge(c, err.Error())
			return
		}
		l.Error().Err(err).Msg("failed to flush queue")
		response.InternalError(c, "failed to flush queue")
		return
	}

	response.JSON(c, domain.FlushResponse{Success: true, Results: results})
}

// InitialSync returns the user directory and the caller's conversations.
func (h *Handler) InitialSync(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	userID := middleware.GetUserID(c)
	if userID == "" {
		response.Unauthorized(c, "unauthorized")
		return
	}

	snapshot, err := h.sync.InitialSync(ctx, userID)
	if err != nil {
		l.Error().Err(err).Msg("failed to build initial sync")
		response.InternalError(c, "failed to load initial state")
		return
	}

	response.JSON(c, snapshot)
}
