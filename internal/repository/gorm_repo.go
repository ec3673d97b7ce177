package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/weiawesome/wes-io-live/chat-sync/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-sync/pkg/log"
)

// GormRepository implements Repository using GORM.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository creates a new GORM-backed repository.
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

var _ Repository = (*GormRepository)(nil)

func (r *GormRepository) now() time.Time {
	return r.db.NowFunc().UTC()
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// isUniqueViolation reports whether err is a unique-constraint violation.
// GORM v1.25+ wraps these as gorm.ErrDuplicatedKey.
func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// EnsureUser creates the user on first sight and keeps the username current.
func (r *GormRepository) EnsureUser(ctx context.Context, id, username string) error {
	l := log.Ctx(ctx)

	var model domain.UserModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	switch {
	case err == nil:
		if username == "" || model.Username == username {
			return nil
		}
		return r.db.WithContext(ctx).Model(&model).Update("username", username).Error
	case isNotFound(err):
		model = domain.UserModel{ID: id, Username: username, DisplayName: username}
		err = r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&model).Error
		if err != nil {
			l.Error().Err(err).Str(log.FieldUserID, id).Msg("failed to create user")
		}
		return err
	default:
		l.Error().Err(err).Str(log.FieldUserID, id).Msg("failed to load user")
		return err
	}
}

// UpsertUser writes a full profile.
func (r *GormRepository) UpsertUser(ctx context.Context, user *domain.User) error {
	model := domain.UserModel{
		ID:          user.ID,
		Username:    user.Username,
		DisplayName: user.DisplayName,
		AvatarURL:   user.AvatarURL,
		IsDeleted:   user.IsDeleted,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "display_name", "avatar_url", "is_deleted", "updated_at"}),
	}).Create(&model).Error
	if err != nil {
		return err
	}
	user.CreatedAt, user.UpdatedAt = model.CreatedAt, model.UpdatedAt
	return nil
}

// loadActiveConversation returns the conversation unless it is missing or
// soft-deleted.
func loadActiveConversation(tx *gorm.DB, id string) (*domain.ConversationModel, error) {
	var model domain.ConversationModel
	if err := tx.First(&model, "id = ?", id).Error; err != nil {
		if isNotFound(err) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	if model.IsDeleted {
		return nil, ErrConversationNotFound
	}
	return &model, nil
}

func loadActiveParticipant(tx *gorm.DB, conversationID, userID string) (*domain.ParticipantModel, error) {
	var p domain.ParticipantModel
	err := tx.Where("conversation_id = ? AND user_id = ? AND left_at IS NULL", conversationID, userID).First(&p).Error
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotParticipant
		}
		return nil, err
	}
	return &p, nil
}

func requireParticipant(tx *gorm.DB, conversationID, userID string) (*domain.ConversationModel, error) {
	conv, err := loadActiveConversation(tx, conversationID)
	if err != nil {
		return nil, err
	}
	if _, err := loadActiveParticipant(tx, conversationID, userID); err != nil {
		return nil, err
	}
	return conv, nil
}
