package service

import (
	"context"

	"github.com/weiawesome/wes-io-live/chat-sync/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/hub"
	"github.com/weiawesome/wes-io-live/chat-sync/pkg/log"
)

// Connect registers the user, attaches the connection to its rooms, marks
// the user online and announces it on the broadcast room. Failures are
// logged; the connection stays usable.
func (s *ChatService) Connect(ctx context.Context, c *hub.Client) {
	l := log.Ctx(ctx)

	if err := s.repo.EnsureUser(ctx, c.UserID(), c.Identity.Username); err != nil {
		l.Error().Err(err).Msg("failed to ensure user")
	}
	if _, err := s.router.AutoJoin(ctx, c); err != nil {
		l.Error().Err(err).Msg("failed to auto-join rooms")
	}

	if _, err := s.presence.Connect(ctx, c.UserID()); err != nil {
		l.Error().Err(err).Msg("failed to count connection")
	}
	if err := s.presence.SetOnline(ctx, c.UserID()); err != nil {
		l.Error().Err(err).Msg("failed to set user online")
	}

	err := s.notify.Broadcast(ctx, domain.EventUserOnline, domain.PresenceStatus{
		UserID:   c.UserID(),
		Status:   domain.PresenceOnline,
		LastSeen: s.now(),
	})
	deliveryFailed(ctx, err, domain.EventUserOnline)
}

// Disconnect releases the connection's presence. The user goes offline
// only when their last connection on any instance closes.
func (s *ChatService) Disconnect(ctx context.Context, c *hub.Client) {
	l := log.Ctx(ctx)

	remaining, err := s.presence.Disconnect(ctx, c.UserID())
	if err != nil {
		l.Error().Err(err).Msg("failed to release connection")
		return
	}
	if remaining > 0 {
		return
	}

	status, err := s.presence.SetOffline(ctx, c.UserID())
	if err != nil {
		l.Error().Err(err).Msg("failed to set user offline")
		return
	}
	deliveryFailed(ctx, s.notify.Broadcast(ctx, domain.EventUserOffline, status), domain.EventUserOffline)
}
