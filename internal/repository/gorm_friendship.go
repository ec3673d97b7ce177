package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/weiawesome/wes-io-live/chat-sync/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-sync/pkg/idgen"
	"github.com/weiawesome/wes-io-live/chat-sync/pkg/log"
)

// findBetween returns the live friendship row between a and b in either
// direction.
func findBetween(tx *gorm.DB, a, b string) (*domain.FriendshipModel, error) {
	var row domain.FriendshipModel
	err := tx.Where("((requester_id = ? AND addressee_id = ?) OR (requester_id = ? AND addressee_id = ?))", a, b, b, a).
		Order("updated_at DESC").
		First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// SendFriendRequest records a request from fromID to toID. A pending
// request in the opposite direction is accepted instead.
func (r *GormRepository) SendFriendRequest(ctx context.Context, fromID, toID string) (*domain.Friendship, error) {
	l := log.Ctx(ctx)
	if fromID == toID {
		return nil, ErrInvalidFriendship
	}

	var out *domain.Friendship
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := findBetween(tx, fromID, toID)
		if err != nil && !isNotFound(err) {
			return err
		}
		if row != nil {
			switch {
			case row.Status == string(domain.FriendshipAccepted):
				return ErrAlreadyFriends
			case row.Status == string(domain.FriendshipPending) && row.RequesterID == fromID:
				out = row.ToDomain()
				return nil
			case row.Status == string(domain.FriendshipPending):
				if err := tx.Model(row).Update("status", string(domain.FriendshipAccepted)).Error; err != nil {
					return err
				}
				row.Status = string(domain.FriendshipAccepted)
				out = row.ToDomain()
				return nil
			case row.RequesterID == fromID:
				if err := tx.Model(row).Update("status", string(domain.FriendshipPending)).Error; err != nil {
					return err
				}
				row.Status = string(domain.FriendshipPending)
				out = row.ToDomain()
				return nil
			}
		}

		// Restore a previously removed request in this direction.
		res := tx.Unscoped().Model(&domain.FriendshipModel{}).
			Where("requester_id = ? AND addressee_id = ? AND deleted_at IS NOT NULL", fromID, toID).
			Updates(map[string]interface{}{
				"deleted_at": nil,
				"status":     string(domain.FriendshipPending),
				"updated_at": r.now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			var restored domain.FriendshipModel
			if err := tx.Where("requester_id = ? AND addressee_id = ?", fromID, toID).First(&restored).Error; err != nil {
				return err
			}
			out = restored.ToDomain()
			return nil
		}

		model := domain.FriendshipModel{
			ID:          idgen.New(),
			RequesterID: fromID,
			AddresseeID: toID,
			Status:      string(domain.FriendshipPending),
		}
		if err := tx.Create(&model).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrIDConflict
			}
			return err
		}
		out = model.ToDomain()
		return nil
	})
	if err != nil && !errors.Is(err, ErrAlreadyFriends) {
		l.Error().Err(err).Str(log.FieldUserID, fromID).Msg("failed to send friend request")
	}
	return out, err
}

// RespondFriendRequest accepts or rejects the pending request from
// requesterID to addresseeID.
func (r *GormRepository) RespondFriendRequest(ctx context.Context, requesterID, addresseeID string, accept bool) (*domain.Friendship, error) {
	var out *domain.Friendship
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row domain.FriendshipModel
		err := tx.Where("requester_id = ? AND addressee_id = ? AND status = ?",
			requesterID, addresseeID, string(domain.FriendshipPending)).First(&row).Error
		if err != nil {
			if isNotFound(err) {
				return ErrFriendRequestNotFound
			}
			return err
		}

		status := domain.FriendshipRejected
		if accept {
			status = domain.FriendshipAccepted
		}
		if err := tx.Model(&row).Update("status", string(status)).Error; err != nil {
			return err
		}
		row.Status = string(status)
		out = row.ToDomain()
		return nil
	})
	return out, err
}

// RemoveFriend soft-deletes the friendship between userID and otherID.
func (r *GormRepository) RemoveFriend(ctx context.Context, userID, otherID string) error {
	res := r.db.WithContext(ctx).
		Where("((requester_id = ? AND addressee_id = ?) OR (requester_id = ? AND addressee_id = ?))", userID, otherID, otherID, userID).
		Delete(&domain.FriendshipModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrFriendshipNotFound
	}
	return nil
}

// FriendIDs returns the accepted friends of userID.
func (r *GormRepository) FriendIDs(ctx context.Context, userID string) ([]string, error) {
	var rows []domain.FriendshipModel
	err := r.db.WithContext(ctx).
		Where("(requester_id = ? OR addressee_id = ?) AND status = ?", userID, userID, string(domain.FriendshipAccepted)).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		if row.RequesterID == userID {
			ids = append(ids, row.AddresseeID)
		} else {
			ids = append(ids, row.RequesterID)
		}
	}
	return uniqueIDs(ids), nil
}
