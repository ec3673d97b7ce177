package syncserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/weiawesome/wes-io-live/chat-sync/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/metrics"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/repository"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/service"
	"github.com/weiawesome/wes-io-live/chat-sync/pkg/idgen"
	"github.com/weiawesome/wes-io-live/chat-sync/pkg/log"
)

const defaultStoryLifetime = 24 * time.Hour

// Flush applies a client's queued operations and reports one result per
// item, in input order. Items are grouped by action in order of first
// appearance and stay FIFO inside a group. One failure never blocks the
// other items.
func (s *Server) Flush(ctx context.Context, userID string, items []domain.QueueItem) ([]domain.FlushResult, error) {
	if len(items) > s.maxBatch {
		return nil, fmt.Errorf("%w: %d items, limit %d", ErrBatchTooLarge, len(items), s.maxBatch)
	}
	l := log.Ctx(ctx)

	results := make([]domain.FlushResult, len(items))
	var order []domain.Action
	groups := make(map[domain.Action][]int)
	for i, item := range items {
		if item.ID == "" {
			results[i] = domain.Failed("", domain.CodeValidation, "id is required")
			continue
		}
		if _, ok := groups[item.Action]; !ok {
			order = append(order, item.Action)
		}
		groups[item.Action] = append(groups[item.Action], i)
	}

	for _, action := range order {
		idxs := groups[action]
		if action == domain.ActionMessageSend {
			s.flushMessages(ctx, userID, items, idxs, results)
			continue
		}
		for _, i := range idxs {
			results[i] = s.applyOne(ctx, userID, items[i])
		}
	}

	failed := 0
	for i, r := range results {
		metrics.FlushItem(string(items[i].Action), string(r.Status))
		if r.Status == domain.ItemFailed {
			failed++
		}
	}
	l.Info().Int(log.FieldItemCount, len(items)).Int("failed", failed).Msg("queue flushed")
	return results, nil
}

// applyOne runs a single non-message-send item.
func (s *Server) applyOne(ctx context.Context, userID string, item domain.QueueItem) domain.FlushResult {
	ctx = log.WithStr(ctx, log.FieldAction, string(item.Action))

	var err error
	switch item.Action {
	case domain.ActionMessageRead:
		err = s.markRead(ctx, userID, item.Payload)
	case domain.ActionMessageDelete:
		err = s.deleteMessage(ctx, userID, item.Payload)
	case domain.ActionConversationCreate:
		err = s.createConversation(ctx, userID, item)
	case domain.ActionConversationDelete:
		err = s.deleteConversation(ctx, userID, item.Payload)
	case domain.ActionStoryCreate:
		err = s.createStory(ctx, userID, item)
	case domain.ActionStoryDelete:
		err = s.deleteStory(ctx, userID, item.Payload)
	default:
		return domain.Failed(item.ID, domain.CodeUnknownAction, "unknown action: "+string(item.Action))
	}
	return result(ctx, item.ID, err)
}

func result(ctx context.Context, id string, err error) domain.FlushResult {
	if err == nil {
		return domain.Succeeded(id)
	}
	code, msg := service.ErrorCode(err)
	if domain.Retryable(code) {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str("item_id", id).Msg("flush item failed")
	}
	return domain.Failed(id, code, msg)
}

type pendingMessage struct {
	index int
	msg   *domain.Message
	typ   domain.ConversationType
}

// flushMessages inserts message sends with one batch per conversation,
// falling back to item-by-item inserts when a batch fails.
func (s *Server) flushMessages(ctx context.Context, userID string, items []domain.QueueItem, idxs []int, results []domain.FlushResult) {
	var convOrder []string
	byConv := make(map[string][]pendingMessage)
	for _, i := range idxs {
		p, err := service.Decode[domain.MessageSendPayload](items[i].Payload)
		if err != nil {
			results[i] = result(ctx, items[i].ID, err)
			continue
		}
		if p.ID == "" && idgen.Valid(items[i].ID) {
			p.ID = items[i].ID
		}
		if _, ok := byConv[p.ConversationID]; !ok {
			convOrder = append(convOrder, p.ConversationID)
		}
		byConv[p.ConversationID] = append(byConv[p.ConversationID], pendingMessage{
			index: i,
			msg:   service.BuildMessage(p, userID, s.now()),
			typ:   p.Type,
		})
	}

	for _, convID := range convOrder {
		s.flushConversation(ctx, userID, convID, items, byConv[convID], results)
	}
}

func (s *Server) flushConversation(ctx context.Context, userID, convID string, items []domain.QueueItem, pending []pendingMessage, results []domain.FlushResult) {
	ctx = log.WithStr(ctx, log.FieldConversationID, convID)
	l := log.Ctx(ctx)

	conv, err := s.repo.GetConversation(ctx, convID)
	if err != nil {
		for _, pm := range pending {
			results[pm.index] = result(ctx, items[pm.index].ID, err)
		}
		return
	}

	var batch []pendingMessage
	for _, pm := range pending {
		if pm.typ != conv.Type {
			results[pm.index] = result(ctx, items[pm.index].ID, service.ErrTypeMismatch)
			continue
		}
		batch = append(batch, pm)
	}
	if len(batch) == 0 {
		return
	}

	msgs := make([]*domain.Message, 0, len(batch))
	for _, pm := range batch {
		msgs = append(msgs, pm.msg)
	}

	out, err := s.repo.CreateMessages(ctx, convID, userID, msgs)
	if err != nil {
		l.Warn().Err(err).Int(log.FieldItemCount, len(msgs)).Msg("batch insert failed, retrying items one by one")
		s.flushOneByOne(ctx, conv, items, batch, results)
		return
	}

	fresh := make(map[string]struct{}, len(out.Inserted))
	for _, id := range out.Inserted {
		fresh[id] = struct{}{}
	}
	conflicts := make(map[string]struct{}, len(out.Conflicts))
	for _, id := range out.Conflicts {
		conflicts[id] = struct{}{}
	}
	for _, pm := range batch {
		if _, ok := conflicts[pm.msg.ID]; ok {
			results[pm.index] = result(ctx, items[pm.index].ID, repository.ErrIDConflict)
			continue
		}
		results[pm.index] = domain.Succeeded(items[pm.index].ID)
		if _, ok := fresh[pm.msg.ID]; ok {
			s.publishMessage(ctx, conv, pm.msg)
		}
	}
}

func (s *Server) flushOneByOne(ctx context.Context, conv *domain.Conversation, items []domain.QueueItem, batch []pendingMessage, results []domain.FlushResult) {
	for _, pm := range batch {
		created, err := s.repo.CreateMessage(ctx, pm.msg)
		results[pm.index] = result(ctx, items[pm.index].ID, err)
		if err == nil && created {
			s.publishMessage(ctx, conv, pm.msg)
		}
	}
}

func (s *Server) publishMessage(ctx context.Context, conv *domain.Conversation, msg *domain.Message) {
	if err := s.notify.MessageNew(ctx, conv, msg); err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldMessageID, msg.ID).Msg("failed to publish flushed message")
	}
}

func (s *Server) markRead(ctx context.Context, userID string, payload json.RawMessage) error {
	p, err := service.Decode[domain.MessageReadPayload](payload)
	if err != nil {
		return err
	}
	conv, err := s.repo.GetConversation(ctx, p.ConversationID)
	if err != nil {
		return err
	}
	if conv.Type != p.Type {
		return service.ErrTypeMismatch
	}
	participant, err := s.repo.MarkRead(ctx, conv.ID, userID, p.MessageID)
	if err != nil {
		return err
	}
	if err := s.notify.Seen(ctx, conv, userID, participant.LastReadMessageID); err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Msg("failed to publish flushed read receipt")
	}
	return nil
}

func (s *Server) deleteMessage(ctx context.Context, userID string, payload json.RawMessage) error {
	p, err := service.Decode[domain.MessageDeletePayload](payload)
	if err != nil {
		return err
	}
	msg, err := s.repo.DeleteMessage(ctx, p.MessageID, userID)
	if err != nil {
		return err
	}
	conv, err := s.repo.GetConversation(ctx, msg.ConversationID)
	if err == nil {
		err = s.notify.MessageDeleted(ctx, conv, msg)
	}
	if err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Msg("failed to publish flushed delete")
	}
	return nil
}

func (s *Server) createConversation(ctx context.Context, userID string, item domain.QueueItem) error {
	p, err := service.Decode[domain.ConversationCreatePayload](item.Payload)
	if err != nil {
		return err
	}
	if p.ID == "" && idgen.Valid(item.ID) {
		p.ID = item.ID
	}
	_, err = s.chat.CreateConversation(ctx, userID, p)
	return err
}

func (s *Server) deleteConversation(ctx context.Context, userID string, payload json.RawMessage) error {
	p, err := service.Decode[domain.ConversationRefPayload](payload)
	if err != nil {
		return err
	}
	return s.chat.DeleteConversation(ctx, userID, p.ConversationID)
}

func (s *Server) createStory(ctx context.Context, userID string, item domain.QueueItem) error {
	p, err := service.Decode[domain.StoryCreatePayload](item.Payload)
	if err != nil {
		return err
	}

	story := &domain.Story{
		ID:       p.ID,
		UserID:   userID,
		Content:  p.Content,
		MediaURL: p.MediaURL,
	}
	if story.ID == "" {
		story.ID = item.ID
	}
	if p.ExpiresAt != nil {
		story.ExpiresAt = p.ExpiresAt.UTC()
	} else {
		story.ExpiresAt = s.now().Add(defaultStoryLifetime)
	}

	_, err = s.repo.CreateStory(ctx, story)
	return err
}

func (s *Server) deleteStory(ctx context.Context, userID string, payload json.RawMessage) error {
	p, err := service.Decode[domain.StoryRefPayload](payload)
	if err != nil {
		return err
	}
	return s.repo.DeleteStory(ctx, p.StoryID, userID)
}
