package syncer

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/weiawesome/wes-io-live/chat-sync/internal/client/replica"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/domain"
)

// HandleEvent applies one server push to the replica. Events the replica
// does not mirror are ignored.
func (e *Engine) HandleEvent(ctx context.Context, frame domain.Frame) error {
	switch frame.Event {
	case domain.EventMessageNew:
		var msg domain.Message
		if err := json.Unmarshal(frame.Data, &msg); err != nil {
			return err
		}
		return e.store.MergeMessage(msg)

	case domain.EventUserSeen:
		var ev domain.SeenEvent
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			return err
		}
		return e.applySeen(ev)

	case domain.EventMessageDeleted:
		var ev domain.MessageDeletedEvent
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			return err
		}
		return e.store.DeleteMessage(ev.MessageID)

	case domain.EventConversationCreated:
		var conv domain.Conversation
		if err := json.Unmarshal(frame.Data, &conv); err != nil {
			return err
		}
		return e.store.PutConversation(conv)

	case domain.EventConversationDeleted:
		var ev domain.ConversationDeletedEvent
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			return err
		}
		return e.store.DeleteConversation(ev.ConversationID)

	case domain.EventConversationJoined:
		var ev domain.MemberEvent
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			return err
		}
		return e.store.PutParticipant(domain.Participant{
			ConversationID: ev.ConversationID,
			UserID:         ev.UserID,
			Role:           domain.RoleMember,
			JoinedAt:       e.now(),
			UpdatedAt:      e.now(),
		})

	case domain.EventConversationLeft:
		var ev domain.MemberEvent
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			return err
		}
		if ev.UserID == e.userID {
			return e.store.DeleteConversation(ev.ConversationID)
		}
		return e.store.RemoveParticipant(ev.ConversationID, ev.UserID)

	default:
		e.logger.Debug().Str("event", frame.Event).Msg("event not mirrored")
		return nil
	}
}

// applySeen handles a read receipt. Another user's receipt marks the
// caller's messages up to it as seen; the caller's own receipt, from
// another device, moves the local read pointer.
func (e *Engine) applySeen(ev domain.SeenEvent) error {
	if ev.UserID == e.userID {
		err := e.store.MarkConversationRead(ev.ConversationID, ev.MessageID)
		if errors.Is(err, replica.ErrNotFound) {
			return nil
		}
		return err
	}

	msgs, err := e.store.Messages(ev.ConversationID)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		if m.ID > ev.MessageID {
			break
		}
		if m.SenderID != e.userID || m.Status.Unsent() {
			continue
		}
		if _, err := e.store.SetMessageStatus(m.ID, domain.StatusSeen, ""); err != nil {
			return err
		}
	}
	return nil
}

// Consume applies pushed frames until events closes or ctx ends. A frame
// that fails to apply is logged and skipped; the next delta repairs it.
func (e *Engine) Consume(ctx context.Context, events <-chan domain.Frame) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-events:
			if !ok {
				return
			}
			if err := e.HandleEvent(ctx, frame); err != nil {
				e.logger.Warn().Err(err).Str("event", frame.Event).Msg("failed to apply event")
			}
		}
	}
}
