package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/weiawesome/wes-io-live/chat-sync/internal/domain"
)

// CreateStory inserts story if its id is new.
func (r *GormRepository) CreateStory(ctx context.Context, story *domain.Story) (bool, error) {
	model := domain.StoryModel{
		ID:        story.ID,
		UserID:    story.UserID,
		Content:   story.Content,
		MediaURL:  story.MediaURL,
		ExpiresAt: story.ExpiresAt.UTC(),
	}

	created := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&model)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			created = true
			story.CreatedAt, story.UpdatedAt = model.CreatedAt, model.UpdatedAt
			return nil
		}

		var stored domain.StoryModel
		if err := tx.First(&stored, "id = ?", story.ID).Error; err != nil {
			return err
		}
		if stored.UserID != story.UserID {
			return ErrIDConflict
		}
		*story = stored.ToDomain()
		return nil
	})
	return created, err
}

// DeleteStory soft-deletes a story owned by userID.
func (r *GormRepository) DeleteStory(ctx context.Context, storyID, userID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model domain.StoryModel
		if err := tx.First(&model, "id = ?", storyID).Error; err != nil {
			if isNotFound(err) {
				return ErrStoryNotFound
			}
			return err
		}
		if model.UserID != userID {
			return ErrForbidden
		}
		if model.IsDeleted {
			return nil
		}
		return tx.Model(&model).Updates(map[string]interface{}{"is_deleted": true, "updated_at": r.now()}).Error
	})
}
