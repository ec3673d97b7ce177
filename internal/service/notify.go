package service

import (
	"context"
	"errors"

	"github.com/weiawesome/wes-io-live/chat-sync/internal/backplane"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/room"
	"github.com/weiawesome/wes-io-live/chat-sync/pkg/log"
)

// Notifier turns persisted changes into backplane publishes. It is shared
// by the websocket handlers and the batch flush.
type Notifier struct {
	bp     backplane.Backplane
	router *room.Router
}

func NewNotifier(bp backplane.Backplane, router *room.Router) *Notifier {
	return &Notifier{bp: bp, router: router}
}

// MessageNew publishes msg to its conversation room.
func (n *Notifier) MessageNew(ctx context.Context, conv *domain.Conversation, msg *domain.Message) error {
	name, err := n.router.RoomFor(ctx, conv, msg.SenderID)
	if err != nil {
		return err
	}
	return n.bp.Publish(ctx, name, domain.EventMessageNew, msg)
}

// Seen publishes a read receipt. A private conversation whose counterpart
// has left has nobody to tell, so nothing is published.
func (n *Notifier) Seen(ctx context.Context, conv *domain.Conversation, userID, messageID string) error {
	name, err := n.router.RoomFor(ctx, conv, userID)
	if errors.Is(err, room.ErrMissingCounterpart) {
		l := log.Ctx(ctx)
		l.Debug().Str(log.FieldConversationID, conv.ID).Msg("read receipt without counterpart not relayed")
		return nil
	}
	if err != nil {
		return err
	}
	return n.bp.Publish(ctx, name, domain.EventUserSeen, domain.SeenEvent{
		ConversationID: conv.ID,
		UserID:         userID,
		MessageID:      messageID,
	})
}

// MessageDeleted publishes a message tombstone.
func (n *Notifier) MessageDeleted(ctx context.Context, conv *domain.Conversation, msg *domain.Message) error {
	name, err := n.router.RoomFor(ctx, conv, msg.SenderID)
	if err != nil {
		return err
	}
	return n.bp.Publish(ctx, name, domain.EventMessageDeleted, domain.MessageDeletedEvent{
		ConversationID: conv.ID,
		MessageID:      msg.ID,
	})
}

// ConversationCreated attaches every participant to the conversation room
// and tells each of them on their personal room.
func (n *Notifier) ConversationCreated(ctx context.Context, conv *domain.Conversation) error {
	if conv.IsGroup() {
		for _, p := range conv.Participants {
			if _, err := n.router.JoinGroup(ctx, p.UserID, conv.ID); err != nil {
				return err
			}
		}
	} else if _, err := n.router.RoomFor(ctx, conv, conv.CreatorID); err != nil {
		return err
	}

	for _, p := range conv.Participants {
		if err := n.ToUser(ctx, p.UserID, domain.EventConversationCreated, conv); err != nil {
			return err
		}
	}
	return nil
}

// ConversationDeleted tells every participant and detaches them from the
// group room.
func (n *Notifier) ConversationDeleted(ctx context.Context, conv *domain.Conversation, byUserID string) error {
	ev := domain.ConversationDeletedEvent{ConversationID: conv.ID, UserID: byUserID}
	for _, p := range conv.Participants {
		if err := n.ToUser(ctx, p.UserID, domain.EventConversationDeleted, ev); err != nil {
			return err
		}
		if conv.IsGroup() {
			if _, err := n.router.LeaveGroup(ctx, p.UserID, conv.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// ToUser publishes to every connection of userID.
func (n *Notifier) ToUser(ctx context.Context, userID, event string, payload any) error {
	return n.bp.Publish(ctx, room.PersonalRoomID(userID), event, payload)
}

// Broadcast publishes to every connection.
func (n *Notifier) Broadcast(ctx context.Context, event string, payload any, opts ...backplane.PublishOption) error {
	return n.bp.Publish(ctx, room.BroadcastRoom, event, payload, opts...)
}
