package service

import (
	"context"
	"encoding/json"

	"github.com/weiawesome/wes-io-live/chat-sync/internal/audit"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/hub"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/repository"
)

// CreateConversation persists a conversation and, when it is new, joins
// and notifies every participant. It backs both the websocket event and
// the batch flush.
func (s *ChatService) CreateConversation(ctx context.Context, userID string, p *domain.ConversationCreatePayload) (*domain.Conversation, error) {
	typ := domain.ConversationPrivate
	if p.IsGroup {
		typ = domain.ConversationGroup
	}

	conv, created, err := s.repo.CreateConversation(ctx, &domain.Conversation{
		ID:        p.ID,
		Type:      typ,
		Title:     p.Title,
		CreatorID: userID,
	}, p.ParticipantIDs)
	if err != nil {
		return nil, err
	}
	if !created {
		return conv, nil
	}

	audit.LogWithDetail(ctx, audit.ActionConversationCreate, userID, conv.ID, string(conv.Type), "conversation created")
	deliveryFailed(ctx, s.notify.ConversationCreated(ctx, conv), domain.EventConversationCreated)
	return conv, nil
}

// DeleteConversation soft-deletes a conversation and notifies its
// participants.
func (s *ChatService) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	conv, err := s.repo.DeleteConversation(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	audit.Log(ctx, audit.ActionConversationDelete, userID, conv.ID, "conversation deleted")
	deliveryFailed(ctx, s.notify.ConversationDeleted(ctx, conv, userID), domain.EventConversationDeleted)
	return nil
}

func (s *ChatService) HandleCreateConversation(ctx context.Context, c *hub.Client, data json.RawMessage) domain.Ack {
	p, err := Decode[domain.ConversationCreatePayload](data)
	if err != nil {
		return ErrorAck(err)
	}
	conv, err := s.CreateConversation(ctx, c.UserID(), p)
	if err != nil {
		return ErrorAck(err)
	}
	return domain.Ack{Success: true, ConversationID: conv.ID, Data: conv}
}

func (s *ChatService) HandleJoinConversation(ctx context.Context, c *hub.Client, data json.RawMessage) domain.Ack {
	p, err := Decode[domain.ConversationRefPayload](data)
	if err != nil {
		return ErrorAck(err)
	}

	if err := s.repo.JoinConversation(ctx, p.ConversationID, c.UserID()); err != nil {
		return ErrorAck(err)
	}
	audit.Log(ctx, audit.ActionConversationJoin, c.UserID(), p.ConversationID, "joined conversation")

	name, err := s.router.JoinGroup(ctx, c.UserID(), p.ConversationID)
	if err == nil {
		err = s.notify.bp.Publish(ctx, name, domain.EventConversationJoined, domain.MemberEvent{
			ConversationID: p.ConversationID,
			UserID:         c.UserID(),
		})
	}
	deliveryFailed(ctx, err, domain.EventConversationJoined)

	return domain.Ack{Success: true, ConversationID: p.ConversationID}
}

func (s *ChatService) HandleLeaveConversation(ctx context.Context, c *hub.Client, data json.RawMessage) domain.Ack {
	p, err := Decode[domain.ConversationRefPayload](data)
	if err != nil {
		return ErrorAck(err)
	}

	conv, err := s.repo.GetConversation(ctx, p.ConversationID)
	if err != nil {
		return ErrorAck(err)
	}
	if !conv.IsGroup() {
		return ErrorAck(repository.ErrForbidden)
	}
	if err := s.repo.LeaveConversation(ctx, conv.ID, c.UserID()); err != nil {
		return ErrorAck(err)
	}
	audit.Log(ctx, audit.ActionConversationLeave, c.UserID(), conv.ID, "left conversation")

	name, err := s.router.LeaveGroup(ctx, c.UserID(), conv.ID)
	if err == nil {
		err = s.notify.bp.Publish(ctx, name, domain.EventConversationLeft, domain.MemberEvent{
			ConversationID: conv.ID,
			UserID:         c.UserID(),
		})
	}
	deliveryFailed(ctx, err, domain.EventConversationLeft)

	return domain.Ack{Success: true, ConversationID: conv.ID}
}
