package service

import (
	"context"
	"encoding/json"

	"github.com/weiawesome/wes-io-live/chat-sync/internal/audit"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/hub"
)

// Friendship changes are only announced to the counterpart's personal room.

func (s *ChatService) HandleFriendRequest(ctx context.Context, c *hub.Client, data json.RawMessage) domain.Ack {
	p, err := Decode[domain.UserRefPayload](data)
	if err != nil {
		return ErrorAck(err)
	}

	f, err := s.repo.SendFriendRequest(ctx, c.UserID(), p.UserID)
	if err != nil {
		return ErrorAck(err)
	}

	event := domain.EventFriendRequestReceived
	if f.Status == domain.FriendshipAccepted {
		event = domain.EventFriendRequestAccepted
	}
	audit.LogWithDetail(ctx, audit.ActionFriendRequest, c.UserID(), p.UserID, string(f.Status), "friend request sent")
	deliveryFailed(ctx, s.notify.ToUser(ctx, p.UserID, event, domain.FriendEvent{UserID: c.UserID(), Friendship: f}), event)

	return domain.OKData(f)
}

func (s *ChatService) HandleFriendAccept(ctx context.Context, c *hub.Client, data json.RawMessage) domain.Ack {
	return s.respondFriend(ctx, c, data, true)
}

func (s *ChatService) HandleFriendReject(ctx context.Context, c *hub.Client, data json.RawMessage) domain.Ack {
	return s.respondFriend(ctx, c, data, false)
}

func (s *ChatService) respondFriend(ctx context.Context, c *hub.Client, data json.RawMessage, accept bool) domain.Ack {
	p, err := Decode[domain.UserRefPayload](data)
	if err != nil {
		return ErrorAck(err)
	}

	f, err := s.repo.RespondFriendRequest(ctx, p.UserID, c.UserID(), accept)
	if err != nil {
		return ErrorAck(err)
	}

	action, event := audit.ActionFriendReject, domain.EventFriendRequestRejected
	if accept {
		action, event = audit.ActionFriendAccept, domain.EventFriendRequestAccepted
	}
	audit.Log(ctx, action, c.UserID(), p.UserID, "friend request answered")
	deliveryFailed(ctx, s.notify.ToUser(ctx, p.UserID, event, domain.FriendEvent{UserID: c.UserID(), Friendship: f}), event)

	return domain.OKData(f)
}

func (s *ChatService) HandleFriendRemove(ctx context.Context, c *hub.Client, data json.RawMessage) domain.Ack {
	p, err := Decode[domain.UserRefPayload](data)
	if err != nil {
		return ErrorAck(err)
	}

	if err := s.repo.RemoveFriend(ctx, c.UserID(), p.UserID); err != nil {
		return ErrorAck(err)
	}
	audit.Log(ctx, audit.ActionFriendRemove, c.UserID(), p.UserID, "friend removed")
	deliveryFailed(ctx, s.notify.ToUser(ctx, p.UserID, domain.EventFriendRemoved, domain.FriendEvent{UserID: c.UserID()}), domain.EventFriendRemoved)

	return domain.OK()
}
