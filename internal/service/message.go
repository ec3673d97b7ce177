package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/weiawesome/wes-io-live/chat-sync/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/hub"
	"github.com/weiawesome/wes-io-live/chat-sync/pkg/idgen"
	"github.com/weiawesome/wes-io-live/chat-sync/pkg/log"
)

// conversationFor loads the conversation and checks the declared type and
// counterpart against it.
func (s *ChatService) conversationFor(ctx context.Context, id string, typ domain.ConversationType, self, receiverID string) (*domain.Conversation, error) {
	conv, err := s.repo.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv.Type != typ {
		return nil, ErrTypeMismatch
	}
	if !conv.IsGroup() && receiverID != "" && conv.Counterpart(self) != receiverID {
		return nil, ErrReceiverMismatch
	}
	return conv, nil
}

// HandleSendMessage persists a message and publishes message:new. A
// replayed id is acked again without a second fan-out.
func (s *ChatService) HandleSendMessage(ctx context.Context, c *hub.Client, data json.RawMessage) domain.Ack {
	p, err := Decode[domain.MessageSendPayload](data)
	if err != nil {
		return ErrorAck(err)
	}
	ctx = log.WithStr(ctx, log.FieldConversationID, p.ConversationID)

	conv, err := s.conversationFor(ctx, p.ConversationID, p.Type, c.UserID(), p.ReceiverID)
	if err != nil {
		return ErrorAck(err)
	}

	msg := BuildMessage(p, c.UserID(), s.now())
	created, err := s.repo.CreateMessage(ctx, msg)
	if err != nil {
		return ErrorAck(err)
	}
	if created {
		deliveryFailed(ctx, s.notify.MessageNew(ctx, conv, msg), domain.EventMessageNew)
	}

	return domain.Ack{Success: true, MessageID: msg.ID, ConversationID: conv.ID}
}

// BuildMessage builds the message to persist. A client supplied creation
// time is kept unless it lies after now.
func BuildMessage(p *domain.MessageSendPayload, senderID string, now time.Time) *domain.Message {
	id := p.ID
	if id == "" {
		id = idgen.New()
	}
	msg := &domain.Message{
		ID:             id,
		ConversationID: p.ConversationID,
		SenderID:       senderID,
		Content:        p.Content,
	}
	if p.CreatedAt != nil {
		msg.CreatedAt = p.CreatedAt.UTC()
		if msg.CreatedAt.After(now) {
			msg.CreatedAt = now
		}
	}
	return msg
}

// HandleMarkRead advances the caller's read pointer and relays user:seen.
func (s *ChatService) HandleMarkRead(ctx context.Context, c *hub.Client, data json.RawMessage) domain.Ack {
	p, err := Decode[domain.MessageReadPayload](data)
	if err != nil {
		return ErrorAck(err)
	}
	ctx = log.WithStr(ctx, log.FieldConversationID, p.ConversationID)

	conv, err := s.conversationFor(ctx, p.ConversationID, p.Type, c.UserID(), "")
	if err != nil {
		return ErrorAck(err)
	}

	participant, err := s.repo.MarkRead(ctx, conv.ID, c.UserID(), p.MessageID)
	if err != nil {
		return ErrorAck(err)
	}
	deliveryFailed(ctx, s.notify.Seen(ctx, conv, c.UserID(), participant.LastReadMessageID), domain.EventUserSeen)

	return domain.Ack{
		Success:        true,
		MessageID:      participant.LastReadMessageID,
		ConversationID: conv.ID,
		Data:           map[string]int{"unreadCount": participant.UnreadCount},
	}
}

// HandleDeleteMessage soft-deletes the caller's message and relays
// message:deleted to the conversation the message belongs to.
func (s *ChatService) HandleDeleteMessage(ctx context.Context, c *hub.Client, data json.RawMessage) domain.Ack {
	p, err := Decode[domain.MessageDeletePayload](data)
	if err != nil {
		return ErrorAck(err)
	}
	ctx = log.WithStr(ctx, log.FieldMessageID, p.MessageID)

	msg, err := s.repo.DeleteMessage(ctx, p.MessageID, c.UserID())
	if err != nil {
		return ErrorAck(err)
	}

	conv, err := s.repo.GetConversation(ctx, msg.ConversationID)
	if err == nil {
		err = s.notify.MessageDeleted(ctx, conv, msg)
	}
	deliveryFailed(ctx, err, domain.EventMessageDeleted)

	return domain.Ack{Success: true, MessageID: msg.ID, ConversationID: msg.ConversationID}
}
