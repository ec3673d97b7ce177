package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/weiawesome/wes-io-live/chat-sync/internal/domain"
)

// memberOf scopes a messages query to conversations userID is active in.
func memberOf(userID string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Joins("JOIN participants ON participants.conversation_id = messages.conversation_id").
			Where("participants.user_id = ? AND participants.left_at IS NULL", userID)
	}
}

// ChangedMessages returns live messages updated after since.
func (r *GormRepository) ChangedMessages(ctx context.Context, userID string, since time.Time) ([]domain.Message, error) {
	var models []domain.MessageModel
	err := r.db.WithContext(ctx).
		Model(&domain.MessageModel{}).
		Select("messages.*").
		Scopes(memberOf(userID)).
		Where("messages.updated_at > ? AND messages.is_deleted = ?", since.UTC(), false).
		Order("messages.id").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	out := make([]domain.Message, 0, len(models))
	for i := range models {
		out = append(out, models[i].ToDomain())
	}
	return out, nil
}

// DeletedMessageIDs returns messages soft-deleted after since.
func (r *GormRepository) DeletedMessageIDs(ctx context.Context, userID string, since time.Time) ([]string, error) {
	ids := []string{}
	err := r.db.WithContext(ctx).
		Model(&domain.MessageModel{}).
		Scopes(memberOf(userID)).
		Where("messages.updated_at > ? AND messages.is_deleted = ?", since.UTC(), true).
		Order("messages.id").
		Pluck("messages.id", &ids).Error
	return ids, err
}

type conversationRow struct {
	domain.ConversationModel
	UnreadCount       int
	LastReadMessageID string
}

// ChangedConversations returns live conversations whose row or whose
// caller participant row changed after since. Unread state is the caller's.
func (r *GormRepository) ChangedConversations(ctx context.Context, userID string, since time.Time) ([]domain.Conversation, error) {
	db := r.db.WithContext(ctx)
	since = since.UTC()

	var rows []conversationRow
	err := db.Table("conversations").
		Select("conversations.*, participants.unread_count, participants.last_read_message_id").
		Joins("JOIN participants ON participants.conversation_id = conversations.id").
		Where("participants.user_id = ? AND participants.left_at IS NULL AND conversations.is_deleted = ?", userID, false).
		Where("(conversations.updated_at > ? OR participants.updated_at > ?)", since, since).
		Order("conversations.updated_at DESC, conversations.id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	byConv, err := r.loadParticipants(db, ids)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Conversation, 0, len(rows))
	for i := range rows {
		conv := rows[i].ConversationModel.ToDomain()
		conv.UnreadCount = rows[i].UnreadCount
		conv.LastReadMessageID = rows[i].LastReadMessageID
		conv.Participants = byConv[conv.ID]
		out = append(out, conv)
	}
	return out, nil
}

// DeletedConversationIDs returns conversations deleted after since plus the
// ones userID left after since.
func (r *GormRepository) DeletedConversationIDs(ctx context.Context, userID string, since time.Time) ([]string, error) {
	since = since.UTC()
	var deleted []string
	err := r.db.WithContext(ctx).
		Model(&domain.ConversationModel{}).
		Joins("JOIN participants ON participants.conversation_id = conversations.id").
		Where("participants.user_id = ?", userID).
		Where("((conversations.is_deleted = ? AND conversations.updated_at > ?) OR participants.left_at > ?)", true, since, since).
		Order("conversations.id").
		Pluck("conversations.id", &deleted).Error
	if err != nil {
		return nil, err
	}
	return uniqueIDs(deleted), nil
}

// ChangedUsers returns profiles updated after since. The directory is
// visible to every user.
func (r *GormRepository) ChangedUsers(ctx context.Context, since time.Time) ([]domain.User, error) {
	var models []domain.UserModel
	err := r.db.WithContext(ctx).
		Where("updated_at > ?", since.UTC()).
		Order("username, id").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	out := make([]domain.User, 0, len(models))
	for i := range models {
		out = append(out, models[i].ToDomain())
	}
	return out, nil
}

// storyAuthors returns userID and their accepted friends.
func (r *GormRepository) storyAuthors(ctx context.Context, userID string) ([]string, error) {
	friends, err := r.FriendIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	return uniqueIDs([]string{userID}, friends), nil
}

// ChangedStories returns unexpired stories by userID or their friends
// updated after since.
func (r *GormRepository) ChangedStories(ctx context.Context, userID string, since time.Time) ([]domain.Story, error) {
	authors, err := r.storyAuthors(ctx, userID)
	if err != nil {
		return nil, err
	}

	var models []domain.StoryModel
	err = r.db.WithContext(ctx).
		Where("user_id IN ? AND updated_at > ? AND is_deleted = ? AND expires_at > ?", authors, since.UTC(), false, r.now()).
		Order("id").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	out := make([]domain.Story, 0, len(models))
	for i := range models {
		out = append(out, models[i].ToDomain())
	}
	return out, nil
}

// DeletedStoryIDs returns stories by userID or their friends deleted after
// since.
func (r *GormRepository) DeletedStoryIDs(ctx context.Context, userID string, since time.Time) ([]string, error) {
	authors, err := r.storyAuthors(ctx, userID)
	if err != nil {
		return nil, err
	}

	ids := []string{}
	err = r.db.WithContext(ctx).
		Model(&domain.StoryModel{}).
		Where("user_id IN ? AND updated_at > ? AND is_deleted = ?", authors, since.UTC(), true).
		Order("id").
		Pluck("id", &ids).Error
	return ids, err
}
