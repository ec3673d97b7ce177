package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/weiawesome/wes-io-live/chat-sync/internal/backplane"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/hub"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/metrics"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/presence"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/repository"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/room"
	"github.com/weiawesome/wes-io-live/chat-sync/pkg/log"
)

// HandlerFunc handles one client event and returns its ack.
type HandlerFunc func(ctx context.Context, c *hub.Client, data json.RawMessage) domain.Ack

// ChatService implements the real-time event handlers. Every handler
// validates, persists, publishes and then acks; failures are reported in
// the ack and never retried here.
type ChatService struct {
	repo     repository.Repository
	presence presence.Store
	router   *room.Router
	notify   *Notifier
	handlers map[string]HandlerFunc
	now      func() time.Time
}

func NewChatService(repo repository.Repository, store presence.Store, bp backplane.Backplane, router *room.Router) *ChatService {
	s := &ChatService{
		repo:     repo,
		presence: store,
		router:   router,
		notify:   NewNotifier(bp, router),
		now:      func() time.Time { return time.Now().UTC() },
	}
	s.handlers = map[string]HandlerFunc{
		domain.EventMessageSend:        s.HandleSendMessage,
		domain.EventMessageRead:        s.HandleMarkRead,
		domain.EventMessageDelete:      s.HandleDeleteMessage,
		domain.EventTypingStart:        s.HandleTypingStart,
		domain.EventTypingStop:         s.HandleTypingStop,
		domain.EventTypingGet:          s.HandleTypingGet,
		domain.EventUserGetStatus:      s.HandleGetStatus,
		domain.EventConversationCreate: s.HandleCreateConversation,
		domain.EventConversationJoin:   s.HandleJoinConversation,
		domain.EventConversationLeave:  s.HandleLeaveConversation,
		domain.EventFriendRequest:      s.HandleFriendRequest,
		domain.EventFriendAccept:       s.HandleFriendAccept,
		domain.EventFriendReject:       s.HandleFriendReject,
		domain.EventFriendRemove:       s.HandleFriendRemove,
		domain.EventPing:               s.HandlePing,
	}
	return s
}

// Notifier exposes the fan-out helper for the batch flush.
func (s *ChatService) Notifier() *Notifier {
	return s.notify
}

// Handle dispatches event to its handler. A panicking handler is reported
// as an internal error.
func (s *ChatService) Handle(ctx context.Context, c *hub.Client, event string, data json.RawMessage) (ack domain.Ack) {
	ctx = log.WithLogger(ctx, c.Logger.With().Str(log.FieldEvent, event).Logger())
	l := log.Ctx(ctx)

	defer func() {
		if r := recover(); r != nil {
			l.Error().Str("panic", fmt.Sprint(r)).Msg("handler panicked")
			ack = domain.Fail(domain.CodeInternal, "internal error")
		}
		metrics.EventHandled(event, ack.Success)
		s.logOutcome(ctx, ack)
	}()

	h, ok := s.handlers[event]
	if !ok {
		return domain.Fail(domain.CodeUnknownEvent, "unknown event: "+event)
	}
	return h(ctx, c, data)
}

func (s *ChatService) logOutcome(ctx context.Context, ack domain.Ack) {
	if ack.Success {
		return
	}
	l := log.Ctx(ctx)
	switch ack.Code {
	case domain.CodeInternal, domain.CodeUnavailable, domain.CodeTimeout:
		l.Error().Str("code", ack.Code).Str("error", ack.Error).Msg("event failed")
	case domain.CodeValidation, domain.CodeUnknownEvent:
		l.Debug().Str("code", ack.Code).Str("error", ack.Error).Msg("event rejected")
	default:
		l.Warn().Str("code", ack.Code).Str("error", ack.Error).Msg("event rejected")
	}
}

// deliveryFailed logs a publish failure. The change is already persisted
// and reaches the other side through delta sync.
func deliveryFailed(ctx context.Context, err error, what string) {
	if err == nil {
		return
	}
	l := log.Ctx(ctx)
	l.Error().Err(err).Msg("failed to publish " + what)
}

// HandlePing answers a keepalive.
func (s *ChatService) HandlePing(ctx context.Context, c *hub.Client, data json.RawMessage) domain.Ack {
	return domain.OKData(map[string]time.Time{"time": s.now()})
}
