package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/weiawesome/wes-io-live/chat-sync/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/room"
	"github.com/weiawesome/wes-io-live/chat-sync/pkg/idgen"
	"github.com/weiawesome/wes-io-live/chat-sync/pkg/log"
)

func uniqueIDs(ids ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range ids {
		for _, id := range list {
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// CreateConversation creates conv with the creator and participantIDs as
// members. Private conversations are unique per pair.
func (r *GormRepository) CreateConversation(ctx context.Context, conv *domain.Conversation, participantIDs []string) (*domain.Conversation, bool, error) {
	l := log.Ctx(ctx)

	members := uniqueIDs([]string{conv.CreatorID}, participantIDs)
	if conv.CreatorID == "" {
		return nil, false, ErrInvalidConversation
	}

	var pairKey *string
	switch conv.Type {
	case domain.ConversationPrivate:
		if len(members) != 2 {
			return nil, false, ErrInvalidConversation
		}
		key := room.PrivateRoomID(members[0], members[1])
		pairKey = &key
	case domain.ConversationGroup:
	default:
		return nil, false, ErrInvalidConversation
	}

	if conv.ID == "" {
		conv.ID = idgen.New()
	}

	var existingID string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing domain.ConversationModel
		err := tx.First(&existing, "id = ?", conv.ID).Error
		if err == nil {
			if existing.CreatorID != conv.CreatorID {
				return ErrIDConflict
			}
			existingID = existing.ID
			return nil
		}
		if !isNotFound(err) {
			return err
		}

		if pairKey != nil {
			err = tx.Where("pair_key = ?", *pairKey).First(&existing).Error
			if err == nil {
				existingID = existing.ID
				return nil
			}
			if !isNotFound(err) {
				return err
			}
		}

		now := r.now()
		model := domain.ConversationModel{
			ID:        conv.ID,
			Type:      string(conv.Type),
			Title:     conv.Title,
			CreatorID: conv.CreatorID,
			PairKey:   pairKey,
		}
		if err := tx.Create(&model).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrIDConflict
			}
			return err
		}

		participants := make([]domain.ParticipantModel, 0, len(members))
		for _, id := range members {
			role := domain.RoleMember
			if conv.Type == domain.ConversationGroup && id == conv.CreatorID {
				role = domain.RoleAdmin
			}
			participants = append(participants, domain.ParticipantModel{
				ConversationID: conv.ID,
				UserID:         id,
				Role:           role,
				JoinedAt:       now,
			})
		}
		return tx.Create(&participants).Error
	})
	if err != nil {
		l.Error().Err(err).Str(log.FieldConversationID, conv.ID).Msg("failed to create conversation")
		return nil, false, err
	}

	if existingID != "" {
		out, err := r.GetConversation(ctx, existingID)
		return out, false, err
	}
	out, err := r.GetConversation(ctx, conv.ID)
	return out, true, err
}

// GetConversation loads a live conversation with its participants.
func (r *GormRepository) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	db := r.db.WithContext(ctx)
	model, err := loadActiveConversation(db, id)
	if err != nil {
		return nil, err
	}
	conv := model.ToDomain()

	byConv, err := r.loadParticipants(db, []string{id})
	if err != nil {
		return nil, err
	}
	conv.Participants = byConv[id]
	return &conv, nil
}

type participantRow struct {
	domain.ParticipantModel
	Username    string
	DisplayName string
}

// loadParticipants returns active participants grouped by conversation,
// decorated with their profile names.
func (r *GormRepository) loadParticipants(db *gorm.DB, conversationIDs []string) (map[string][]domain.Participant, error) {
	out := make(map[string][]domain.Participant, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return out, nil
	}

	var rows []participantRow
	err := db.Table("participants").
		Select("participants.*, users.username, users.display_name").
		Joins("LEFT JOIN users ON users.id = participants.user_id").
		Where("participants.conversation_id IN ? AND participants.left_at IS NULL", conversationIDs).
		Order("participants.joined_at, participants.user_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	for i := range rows {
		p := rows[i].ParticipantModel.ToDomain()
		p.Username = rows[i].Username
		p.DisplayName = rows[i].DisplayName
		out[p.ConversationID] = append(out[p.ConversationID], p)
	}
	return out, nil
}

// ListGroupConversationIDs returns the live group conversations userID
// belongs to.
func (r *GormRepository) ListGroupConversationIDs(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&domain.ConversationModel{}).
		Joins("JOIN participants ON participants.conversation_id = conversations.id").
		Where("participants.user_id = ? AND participants.left_at IS NULL", userID).
		Where("conversations.type = ? AND conversations.is_deleted = ?", string(domain.ConversationGroup), false).
		Order("conversations.id").
		Pluck("conversations.id", &ids).Error
	return ids, err
}

// JoinConversation adds userID to a group. Joining again after leaving
// restores the membership with a fresh unread count.
func (r *GormRepository) JoinConversation(ctx context.Context, conversationID, userID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		conv, err := loadActiveConversation(tx, conversationID)
		if err != nil {
			return err
		}
		if conv.Type != string(domain.ConversationGroup) {
			return ErrForbidden
		}

		now := r.now()
		var p domain.ParticipantModel
		err = tx.Where("conversation_id = ? AND user_id = ?", conversationID, userID).First(&p).Error
		switch {
		case err == nil:
			if p.LeftAt == nil {
				return nil
			}
			return tx.Model(&domain.ParticipantModel{}).
				Where("conversation_id = ? AND user_id = ?", conversationID, userID).
				Updates(map[string]interface{}{
					"left_at":              nil,
					"joined_at":            now,
					"unread_count":         0,
					"last_read_message_id": conv.LastMessageID,
					"updated_at":           now,
				}).Error
		case isNotFound(err):
			return tx.Create(&domain.ParticipantModel{
				ConversationID:    conversationID,
				UserID:            userID,
				Role:              domain.RoleMember,
				LastReadMessageID: conv.LastMessageID,
				JoinedAt:          now,
			}).Error
		default:
			return err
		}
	})
}

// LeaveConversation marks userID as having left.
func (r *GormRepository) LeaveConversation(ctx context.Context, conversationID, userID string) error {
	now := r.now()
	res := r.db.WithContext(ctx).Model(&domain.ParticipantModel{}).
		Where("conversation_id = ? AND user_id = ? AND left_at IS NULL", conversationID, userID).
		Updates(map[string]interface{}{"left_at": now, "updated_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotParticipant
	}
	return nil
}

// DeleteConversation soft-deletes a conversation. Groups may only be
// deleted by an admin; either side may delete a private conversation.
func (r *GormRepository) DeleteConversation(ctx context.Context, conversationID, userID string) (*domain.Conversation, error) {
	var out *domain.Conversation
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model domain.ConversationModel
		if err := tx.First(&model, "id = ?", conversationID).Error; err != nil {
			if isNotFound(err) {
				return ErrConversationNotFound
			}
			return err
		}

		p, err := loadActiveParticipant(tx, conversationID, userID)
		if err != nil {
			return err
		}
		if model.Type == string(domain.ConversationGroup) && p.Role != domain.RoleAdmin {
			return ErrForbidden
		}

		byConv, err := r.loadParticipants(tx, []string{conversationID})
		if err != nil {
			return err
		}

		if !model.IsDeleted {
			if err := tx.Model(&model).Updates(map[string]interface{}{"is_deleted": true, "updated_at": r.now()}).Error; err != nil {
				return err
			}
		}
		conv := model.ToDomain()
		conv.Participants = byConv[conversationID]
		out = &conv
		return nil
	})
	return out, err
}
