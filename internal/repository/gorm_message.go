package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/weiawesome/wes-io-live/chat-sync/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-sync/pkg/log"
)

const (
	messageBatchSize      = 100
	savepointMessageBatch = "message_batch"
)

// CreateMessage inserts msg, touches the conversation and bumps the unread
// counters of the other participants in one transaction.
func (r *GormRepository) CreateMessage(ctx context.Context, msg *domain.Message) (bool, error) {
	l := log.Ctx(ctx)

	created := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := requireParticipant(tx, msg.ConversationID, msg.SenderID); err != nil {
			return err
		}

		model := domain.MessageToModel(msg)
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(model)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return r.loadReplay(tx, msg)
		}

		created = true
		msg.CreatedAt, msg.UpdatedAt = model.CreatedAt, model.UpdatedAt
		return r.bumpConversation(tx, msg.ConversationID, msg.SenderID, msg.ID, 1)
	})
	if err != nil {
		l.Error().Err(err).
			Str(log.FieldMessageID, msg.ID).
			Str(log.FieldConversationID, msg.ConversationID).
			Msg("failed to create message")
		return false, err
	}
	return created, nil
}

// loadReplay fills msg from the stored row of an already-seen id.
func (r *GormRepository) loadReplay(tx *gorm.DB, msg *domain.Message) error {
	var stored domain.MessageModel
	if err := tx.First(&stored, "id = ?", msg.ID).Error; err != nil {
		return err
	}
	if stored.SenderID != msg.SenderID || stored.ConversationID != msg.ConversationID {
		return ErrIDConflict
	}
	*msg = stored.ToDomain()
	return nil
}

// CreateMessages inserts a batch of messages from one sender into one
// conversation. Ids already stored for the same sender and conversation are
// replays and left alone; ids stored for anything else are reported as
// conflicts.
func (r *GormRepository) CreateMessages(ctx context.Context, conversationID, senderID string, msgs []*domain.Message) (*MessageBatch, error) {
	out := &MessageBatch{}
	if len(msgs) == 0 {
		return out, nil
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		out.Inserted, out.Conflicts = nil, nil
		if _, err := requireParticipant(tx, conversationID, senderID); err != nil {
			return err
		}

		ids := make([]string, 0, len(msgs))
		for _, m := range msgs {
			ids = append(ids, m.ID)
		}
		var existing []domain.MessageModel
		if err := tx.Select("id", "sender_id", "conversation_id").Where("id IN ?", ids).Find(&existing).Error; err != nil {
			return err
		}
		skip := make(map[string]struct{}, len(existing))
		for _, m := range existing {
			skip[m.ID] = struct{}{}
			if m.SenderID != senderID || m.ConversationID != conversationID {
				out.Conflicts = append(out.Conflicts, m.ID)
			}
		}

		var models []*domain.MessageModel
		var fresh []*domain.Message
		for _, m := range msgs {
			if _, ok := skip[m.ID]; ok {
				continue
			}
			skip[m.ID] = struct{}{}
			m.ConversationID, m.SenderID = conversationID, senderID
			models = append(models, domain.MessageToModel(m))
			fresh = append(fresh, m)
		}
		if len(models) == 0 {
			return nil
		}

		inserted, conflicts, err := insertMessages(tx, models)
		if err != nil {
			return err
		}
		out.Conflicts = append(out.Conflicts, conflicts...)
		if len(inserted) == 0 {
			return nil
		}

		lastID := ""
		for i, m := range fresh {
			if _, ok := inserted[m.ID]; !ok {
				continue
			}
			m.CreatedAt, m.UpdatedAt = models[i].CreatedAt, models[i].UpdatedAt
			out.Inserted = append(out.Inserted, m.ID)
			if m.ID > lastID {
				lastID = m.ID
			}
		}
		return r.bumpConversation(tx, conversationID, senderID, lastID, len(out.Inserted))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// insertMessages writes models in one batch. A batch that writes fewer rows
// than it was given lost some ids to a concurrent writer, so it is rolled
// back and the rows go in one at a time to learn which ones landed.
func insertMessages(tx *gorm.DB, models []*domain.MessageModel) (map[string]struct{}, []string, error) {
	inserted := make(map[string]struct{}, len(models))
	if err := tx.SavePoint(savepointMessageBatch).Error; err != nil {
		return nil, nil, err
	}
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(models, messageBatchSize)
	if res.Error != nil {
		return nil, nil, res.Error
	}
	if res.RowsAffected == int64(len(models)) {
		for _, m := range models {
			inserted[m.ID] = struct{}{}
		}
		return inserted, nil, nil
	}
	if err := tx.RollbackTo(savepointMessageBatch).Error; err != nil {
		return nil, nil, err
	}

	var conflicts []string
	for _, m := range models {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(m)
		if res.Error != nil {
			return nil, nil, res.Error
		}
		if res.RowsAffected == 1 {
			inserted[m.ID] = struct{}{}
			continue
		}
		var stored domain.MessageModel
		if err := tx.Select("sender_id", "conversation_id").First(&stored, "id = ?", m.ID).Error; err != nil {
			return nil, nil, err
		}
		if stored.SenderID != m.SenderID || stored.ConversationID != m.ConversationID {
			conflicts = append(conflicts, m.ID)
		}
	}
	return inserted, conflicts, nil
}

// bumpConversation advances the last message pointer and adds n unread
// messages for every active participant except the sender.
func (r *GormRepository) bumpConversation(tx *gorm.DB, conversationID, senderID, lastID string, n int) error {
	now := r.now()
	err := tx.Model(&domain.ConversationModel{}).
		Where("id = ?", conversationID).
		Updates(map[string]interface{}{
			"last_message_id": gorm.Expr("CASE WHEN COALESCE(last_message_id, '') < ? THEN ? ELSE last_message_id END", lastID, lastID),
			"updated_at":      now,
		}).Error
	if err != nil {
		return err
	}

	return tx.Model(&domain.ParticipantModel{}).
		Where("conversation_id = ? AND user_id <> ? AND left_at IS NULL", conversationID, senderID).
		Updates(map[string]interface{}{
			"unread_count": gorm.Expr("unread_count + ?", n),
			"updated_at":   now,
		}).Error
}

// DeleteMessage soft-deletes a message. Only the sender may delete it;
// deleting twice is a no-op.
func (r *GormRepository) DeleteMessage(ctx context.Context, messageID, userID string) (*domain.Message, error) {
	var out *domain.Message
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model domain.MessageModel
		if err := tx.First(&model, "id = ?", messageID).Error; err != nil {
			if isNotFound(err) {
				return ErrMessageNotFound
			}
			return err
		}
		if model.SenderID != userID {
			return ErrForbidden
		}
		if !model.IsDeleted {
			now := r.now()
			if err := tx.Model(&model).Updates(map[string]interface{}{"is_deleted": true, "updated_at": now}).Error; err != nil {
				return err
			}
			model.IsDeleted = true

			// Deleted messages never count as unread.
			if err := tx.Model(&domain.ParticipantModel{}).
				Where("conversation_id = ? AND user_id <> ? AND unread_count > 0 AND COALESCE(last_read_message_id, '') < ?",
					model.ConversationID, model.SenderID, model.ID).
				Updates(map[string]interface{}{
					"unread_count": gorm.Expr("unread_count - 1"),
					"updated_at":   now,
				}).Error; err != nil {
				return err
			}
		}
		msg := model.ToDomain()
		out = &msg
		return nil
	})
	return out, err
}

// MarkRead moves the read pointer forward to messageID and recomputes the
// unread count as the messages from others after it. The pointer never
// moves backwards.
func (r *GormRepository) MarkRead(ctx context.Context, conversationID, userID, messageID string) (*domain.Participant, error) {
	var out *domain.Participant
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := loadActiveConversation(tx, conversationID); err != nil {
			return err
		}
		p, err := loadActiveParticipant(tx, conversationID, userID)
		if err != nil {
			return err
		}

		var count int64
		if err := tx.Model(&domain.MessageModel{}).
			Where("id = ? AND conversation_id = ?", messageID, conversationID).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrMessageNotFound
		}

		if p.LastReadMessageID != "" && messageID <= p.LastReadMessageID {
			participant := p.ToDomain()
			out = &participant
			return nil
		}

		var unread int64
		if err := tx.Model(&domain.MessageModel{}).
			Where("conversation_id = ? AND sender_id <> ? AND id > ? AND is_deleted = ?", conversationID, userID, messageID, false).
			Count(&unread).Error; err != nil {
			return err
		}

		now := r.now()
		if err := tx.Model(&domain.ParticipantModel{}).
			Where("conversation_id = ? AND user_id = ?", conversationID, userID).
			Updates(map[string]interface{}{
				"last_read_message_id": messageID,
				"unread_count":         unread,
				"updated_at":           now,
			}).Error; err != nil {
			return err
		}

		p.LastReadMessageID = messageID
		p.UnreadCount = int(unread)
		p.UpdatedAt = now
		participant := p.ToDomain()
		out = &participant
		return nil
	})
	return out, err
}
