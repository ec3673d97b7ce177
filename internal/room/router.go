package room

import (
	"context"
	"fmt"

	"github.com/weiawesome/wes-io-live/chat-sync/internal/backplane"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/hub"
	"github.com/weiawesome/wes-io-live/chat-sync/pkg/log"
)

// GroupLister returns the group conversations a user belongs to.
type GroupLister interface {
	ListGroupConversationIDs(ctx context.Context, userID string) ([]string, error)
}

// Router decides which rooms a connection sits in. Personal, broadcast and
// group rooms are joined at connect; private rooms are joined lazily the
// first time a private event needs them.
type Router struct {
	hub    *hub.Hub
	bp     backplane.Backplane
	groups GroupLister
}

func NewRouter(h *hub.Hub, bp backplane.Backplane, groups GroupLister) *Router {
	return &Router{hub: h, bp: bp, groups: groups}
}

// AutoJoin attaches c to its personal room, the broadcast room and every
// group it belongs to. The personal and broadcast rooms are joined even if
// listing the groups fails.
func (r *Router) AutoJoin(ctx context.Context, c *hub.Client) ([]string, error) {
	l := log.Ctx(ctx)

	rooms := []string{PersonalRoomID(c.UserID()), BroadcastRoom}
	for _, name := range rooms {
		r.hub.Join(c, name)
	}

	ids, err := r.groups.ListGroupConversationIDs(ctx, c.UserID())
	if err != nil {
		l.Error().Err(err).Str(log.FieldUserID, c.UserID()).Msg("failed to list group conversations")
		return rooms, fmt.Errorf("list groups: %w", err)
	}
	for _, id := range ids {
		name := GroupRoomID(id)
		r.hub.Join(c, name)
		rooms = append(rooms, name)
	}

	l.Debug().Str(log.FieldConnID, c.ID).Strs("rooms", rooms).Msg("auto-joined rooms")
	return rooms, nil
}

// LazyJoinPrivate attaches every connection of both users to their pair
// room and returns it. Calling it again is harmless.
func (r *Router) LazyJoinPrivate(ctx context.Context, a, b string) (string, error) {
	if a == "" || b == "" {
		return "", ErrMissingCounterpart
	}
	name := PrivateRoomID(a, b)
	if err := r.bp.ForceJoin(ctx, a, name); err != nil {
		return "", err
	}
	if b != a {
		if err := r.bp.ForceJoin(ctx, b, name); err != nil {
			return "", err
		}
	}
	return name, nil
}

// RoomFor resolves the delivery room of conv for an event sent by self,
// joining the private pair room first when needed.
func (r *Router) RoomFor(ctx context.Context, conv *domain.Conversation, self string) (string, error) {
	if conv.IsGroup() {
		return GroupRoomID(conv.ID), nil
	}
	return r.LazyJoinPrivate(ctx, self, conv.Counterpart(self))
}

// JoinGroup attaches every connection of userID to the group room.
func (r *Router) JoinGroup(ctx context.Context, userID, conversationID string) (string, error) {
	name := GroupRoomID(conversationID)
	return name, r.bp.ForceJoin(ctx, userID, name)
}

// LeaveGroup detaches every connection of userID from the group room.
func (r *Router) LeaveGroup(ctx context.Context, userID, conversationID string) (string, error) {
	name := GroupRoomID(conversationID)
	return name, r.bp.ForceLeave(ctx, userID, name)
}
