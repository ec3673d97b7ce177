package service

import (
	"context"
	"encoding/json"

	"github.com/weiawesome/wes-io-live/chat-sync/internal/backplane"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/hub"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/repository"
)

func (s *ChatService) HandleTypingStart(ctx context.Context, c *hub.Client, data json.RawMessage) domain.Ack {
	return s.relayTyping(ctx, c, data, domain.EventTypingStart)
}

func (s *ChatService) HandleTypingStop(ctx context.Context, c *hub.Client, data json.RawMessage) domain.Ack {
	return s.relayTyping(ctx, c, data, domain.EventTypingStop)
}

// relayTyping records the typing state and relays it to the conversation
// room, skipping the connection that sent it.
func (s *ChatService) relayTyping(ctx context.Context, c *hub.Client, data json.RawMessage, event string) domain.Ack {
	p, err := Decode[domain.TypingPayload](data)
	if err != nil {
		return ErrorAck(err)
	}

	conv, err := s.conversationFor(ctx, p.ConversationID, p.Type, c.UserID(), p.ReceiverID)
	if err != nil {
		return ErrorAck(err)
	}
	if !conv.HasParticipant(c.UserID()) {
		return ErrorAck(repository.ErrNotParticipant)
	}

	if event == domain.EventTypingStart {
		err = s.presence.SetTyping(ctx, conv.ID, c.UserID())
	} else {
		err = s.presence.ClearTyping(ctx, conv.ID, c.UserID())
	}
	if err != nil {
		return ErrorAck(err)
	}

	name, err := s.router.RoomFor(ctx, conv, c.UserID())
	if err != nil {
		return ErrorAck(err)
	}
	err = s.notify.bp.Publish(ctx, name, event, domain.TypingEvent{
		ConversationID: conv.ID,
		UserID:         c.UserID(),
	}, backplane.ExceptConnection(c.ID))
	deliveryFailed(ctx, err, event)

	return domain.Ack{Success: true, ConversationID: conv.ID}
}

// HandleTypingGet returns who is currently typing in a conversation.
func (s *ChatService) HandleTypingGet(ctx context.Context, c *hub.Client, data json.RawMessage) domain.Ack {
	p, err := Decode[domain.ConversationRefPayload](data)
	if err != nil {
		return ErrorAck(err)
	}

	conv, err := s.repo.GetConversation(ctx, p.ConversationID)
	if err != nil {
		return ErrorAck(err)
	}
	if !conv.HasParticipant(c.UserID()) {
		return ErrorAck(repository.ErrNotParticipant)
	}

	users, err := s.presence.TypingUsers(ctx, conv.ID)
	if err != nil {
		return ErrorAck(err)
	}
	if users == nil {
		users = []string{}
	}
	return domain.Ack{
		Success:        true,
		ConversationID: conv.ID,
		Data:           map[string][]string{"userIds": users},
	}
}

// HandleGetStatus returns a user's presence. Unknown users are offline.
func (s *ChatService) HandleGetStatus(ctx context.Context, c *hub.Client, data json.RawMessage) domain.Ack {
	p, err := Decode[domain.UserRefPayload](data)
	if err != nil {
		return ErrorAck(err)
	}

	status, found, err := s.presence.GetStatus(ctx, p.UserID)
	if err != nil {
		return ErrorAck(err)
	}
	if !found {
		status = &domain.PresenceStatus{UserID: p.UserID, Status: domain.PresenceOffline}
	}
	return domain.OKData(status)
}
