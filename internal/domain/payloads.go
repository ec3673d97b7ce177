package domain

import "time"

// Each client event has exactly one payload type, validated by Validate
// before any handler runs.

type MessageSendPayload struct {
	ID             string           `json:"id" binding:"omitempty,len=26"`
	ConversationID string           `json:"conversationId" binding:"required"`
	Content        string           `json:"content" binding:"required,max=4000"`
	Type           ConversationType `json:"type" binding:"required,oneof=private group"`
	ReceiverID     string           `json:"receiverId" binding:"required_if=Type private"`
	CreatedAt      *time.Time       `json:"createdAt,omitempty"`
}

// MessageReadPayload marks MessageID as read. SenderID is the counterpart
// used to derive the private room for the receipt.
type MessageReadPayload struct {
	ConversationID string           `json:"conversationId" binding:"required"`
	MessageID      string           `json:"messageId" binding:"required"`
	SenderID       string           `json:"senderId"`
	Type           ConversationType `json:"type" binding:"required,oneof=private group"`
}

type MessageDeletePayload struct {
	ConversationID string           `json:"conversationId" binding:"required"`
	MessageID      string           `json:"messageId" binding:"required"`
	Type           ConversationType `json:"type" binding:"required,oneof=private group"`
	ReceiverID     string           `json:"receiverId" binding:"required_if=Type private"`
}

type TypingPayload struct {
	ConversationID string           `json:"conversationId" binding:"required"`
	Type           ConversationType `json:"type" binding:"required,oneof=private group"`
	ReceiverID     string           `json:"receiverId" binding:"required_if=Type private"`
}

type ConversationRefPayload struct {
	ConversationID string `json:"conversationId" binding:"required"`
}

type UserRefPayload struct {
	UserID string `json:"userId" binding:"required"`
}

type ConversationCreatePayload struct {
	ID             string   `json:"id" binding:"omitempty,len=26"`
	ParticipantIDs []string `json:"participantIds" binding:"required,min=1,dive,required"`
	IsGroup        bool     `json:"isGroup"`
	Title          string   `json:"title" binding:"max=200"`
}

type StoryCreatePayload struct {
	ID        string     `json:"id" binding:"omitempty,len=26"`
	Content   string     `json:"content" binding:"required_without=MediaURL,max=2000"`
	MediaURL  string     `json:"mediaUrl" binding:"omitempty,url"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

type StoryRefPayload struct {
	StoryID string `json:"storyId" binding:"required"`
}
