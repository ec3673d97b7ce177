package domain

import (
	"time"

	"gorm.io/gorm"
)

// UserModel is the GORM model for users table.
type UserModel struct {
	ID          string    `gorm:"type:varchar(36);primaryKey"`
	Username    string    `gorm:"type:varchar(50);not null"`
	DisplayName string    `gorm:"type:varchar(100)"`
	AvatarURL   string    `gorm:"type:varchar(500)"`
	IsDeleted   bool      `gorm:"not null;default:false"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime;index"`
}

func (UserModel) TableName() string { return "users" }

// ToDomain converts UserModel to domain User.
func (m *UserModel) ToDomain() User {
	return User{
		ID:          m.ID,
		Username:    m.Username,
		DisplayName: m.DisplayName,
		AvatarURL:   m.AvatarURL,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
		IsDeleted:   m.IsDeleted,
	}
}

// ConversationModel is the GORM model for conversations table.
type ConversationModel struct {
	ID            string `gorm:"type:varchar(36);primaryKey"`
	Type          string `gorm:"type:varchar(10);not null"`
	Title         string `gorm:"type:varchar(200)"`
	CreatorID     string `gorm:"type:varchar(36);not null"`
	LastMessageID string `gorm:"type:varchar(36)"`
	// PairKey is the private room id of a private conversation and keeps
	// one private conversation per pair. Null for groups.
	PairKey   *string   `gorm:"type:varchar(80);uniqueIndex"`
	IsDeleted bool      `gorm:"not null;default:false"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime;index"`
}

func (ConversationModel) TableName() string { return "conversations" }

// ToDomain converts ConversationModel to domain Conversation.
func (m *ConversationModel) ToDomain() Conversation {
	return Conversation{
		ID:            m.ID,
		Type:          ConversationType(m.Type),
		Title:         m.Title,
		CreatorID:     m.CreatorID,
		LastMessageID: m.LastMessageID,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
		IsDeleted:     m.IsDeleted,
	}
}

// ParticipantModel is the GORM model for participants table.
type ParticipantModel struct {
	ConversationID    string `gorm:"type:varchar(36);primaryKey"`
	UserID            string `gorm:"type:varchar(36);primaryKey;index"`
	Role              string `gorm:"type:varchar(10);not null;default:'member'"`
	UnreadCount       int    `gorm:"not null;default:0"`
	LastReadMessageID string `gorm:"type:varchar(36)"`
	JoinedAt          time.Time
	LeftAt            *time.Time
	UpdatedAt         time.Time `gorm:"autoUpdateTime;index"`
}

func (ParticipantModel) TableName() string { return "participants" }

// ToDomain converts ParticipantModel to domain Participant.
func (m *ParticipantModel) ToDomain() Participant {
	return Participant{
		ConversationID:    m.ConversationID,
		UserID:            m.UserID,
		Role:              m.Role,
		UnreadCount:       m.UnreadCount,
		LastReadMessageID: m.LastReadMessageID,
		JoinedAt:          m.JoinedAt,
		LeftAt:            m.LeftAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

// MessageModel is the GORM model for messages table.
type MessageModel struct {
	ID             string    `gorm:"type:varchar(36);primaryKey"`
	ConversationID string    `gorm:"type:varchar(36);index;not null"`
	SenderID       string    `gorm:"type:varchar(36);not null"`
	Content        string    `gorm:"type:text;not null"`
	IsDeleted      bool      `gorm:"not null;default:false"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime;index"`
}

func (MessageModel) TableName() string { return "messages" }

// ToDomain converts MessageModel to domain Message.
func (m *MessageModel) ToDomain() Message {
	return Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
		IsDeleted:      m.IsDeleted,
	}
}

// MessageToModel converts domain Message to MessageModel.
func MessageToModel(msg *Message) *MessageModel {
	return &MessageModel{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Content:        msg.Content,
		CreatedAt:      msg.CreatedAt,
	}
}

// FriendshipModel is the GORM model for friendships table. Removal is a
// gorm soft delete; a later request restores the row.
type FriendshipModel struct {
	ID          string         `gorm:"type:varchar(36);primaryKey"`
	RequesterID string         `gorm:"type:varchar(36);not null;uniqueIndex:idx_friend_pair"`
	AddresseeID string         `gorm:"type:varchar(36);not null;uniqueIndex:idx_friend_pair;index"`
	Status      string         `gorm:"type:varchar(10);not null"`
	CreatedAt   time.Time      `gorm:"autoCreateTime"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime"`
	DeletedAt   gorm.DeletedAt `gorm:"index"`
}

func (FriendshipModel) TableName() string { return "friendships" }

// ToDomain converts FriendshipModel to domain Friendship.
func (m *FriendshipModel) ToDomain() *Friendship {
	return &Friendship{
		ID:          m.ID,
		RequesterID: m.RequesterID,
		AddresseeID: m.AddresseeID,
		Status:      FriendshipStatus(m.Status),
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

// StoryModel is the GORM model for stories table.
type StoryModel struct {
	ID        string    `gorm:"type:varchar(36);primaryKey"`
	UserID    string    `gorm:"type:varchar(36);index;not null"`
	Content   string    `gorm:"type:text"`
	MediaURL  string    `gorm:"type:varchar(500)"`
	ExpiresAt time.Time `gorm:"index"`
	IsDeleted bool      `gorm:"not null;default:false"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime;index"`
}

func (StoryModel) TableName() string { return "stories" }

// ToDomain converts StoryModel to domain Story.
func (m *StoryModel) ToDomain() Story {
	return Story{
		ID:        m.ID,
		UserID:    m.UserID,
		Content:   m.Content,
		MediaURL:  m.MediaURL,
		ExpiresAt: m.ExpiresAt,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
		IsDeleted: m.IsDeleted,
	}
}

// Models lists every table for auto-migration.
func Models() []interface{} {
	return []interface{}{
		&UserModel{},
		&ConversationModel{},
		&ParticipantModel{},
		&MessageModel{},
		&FriendshipModel{},
		&StoryModel{},
	}
}
