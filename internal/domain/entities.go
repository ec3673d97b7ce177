package domain

import "time"

// ConversationType distinguishes one-to-one from multi-party conversations.
type ConversationType string

const (
	ConversationPrivate ConversationType = "private"
	ConversationGroup   ConversationType = "group"
)

// Participant roles.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// User is the public profile projection synced to clients.
type User struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"displayName,omitempty"`
	AvatarURL   string    `json:"avatarUrl,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	IsDeleted   bool      `json:"isDeleted"`
}

// Conversation is a private or group chat. UnreadCount and
// LastReadMessageID describe the requesting user's participant row.
type Conversation struct {
	ID                string           `json:"id"`
	Type              ConversationType `json:"type"`
	Title             string           `json:"title,omitempty"`
	CreatorID         string           `json:"creatorId"`
	LastMessageID     string           `json:"lastMessageId,omitempty"`
	CreatedAt         time.Time        `json:"createdAt"`
	UpdatedAt         time.Time        `json:"updatedAt"`
	IsDeleted         bool             `json:"isDeleted"`
	UnreadCount       int              `json:"unreadCount"`
	LastReadMessageID string           `json:"lastReadMessageId,omitempty"`
	Participants      []Participant    `json:"participants,omitempty"`
}

// IsGroup reports whether c is a group conversation.
func (c *Conversation) IsGroup() bool {
	return c.Type == ConversationGroup
}

// HasParticipant reports whether userID is an active participant.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.UserID == userID && p.LeftAt == nil {
			return true
		}
	}
	return false
}

// Counterpart returns the other participant of a private conversation.
func (c *Conversation) Counterpart(self string) string {
	for _, p := range c.Participants {
		if p.UserID != self {
			return p.UserID
		}
	}
	return ""
}

// Participant links a user to a conversation.
type Participant struct {
	ConversationID    string     `json:"conversationId"`
	UserID            string     `json:"userId"`
	Role              string     `json:"role"`
	UnreadCount       int        `json:"unreadCount"`
	LastReadMessageID string     `json:"lastReadMessageId,omitempty"`
	JoinedAt          time.Time  `json:"joinedAt"`
	LeftAt            *time.Time `json:"leftAt,omitempty"`
	UpdatedAt         time.Time  `json:"updatedAt"`

	Username    string `json:"username,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// Message is a chat message. Status is tracked by clients only.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversationId"`
	SenderID       string        `json:"senderId"`
	Content        string        `json:"content"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
	IsDeleted      bool          `json:"isDeleted"`
	Status         MessageStatus `json:"status,omitempty"`
	SendError      string        `json:"sendError,omitempty"`
}

// Story is a short-lived post visible to the owner's friends.
type Story struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Content   string    `json:"content,omitempty"`
	MediaURL  string    `json:"mediaUrl,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	IsDeleted bool      `json:"isDeleted"`
}

// FriendshipStatus is the lifecycle state of a friend request.
type FriendshipStatus string

const (
	FriendshipPending  FriendshipStatus = "pending"
	FriendshipAccepted FriendshipStatus = "accepted"
	FriendshipRejected FriendshipStatus = "rejected"
)

// Friendship is a directed friend request between two users.
type Friendship struct {
	ID          string           `json:"id"`
	RequesterID string           `json:"requesterId"`
	AddresseeID string           `json:"addresseeId"`
	Status      FriendshipStatus `json:"status"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// Presence values.
const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"
)

// PresenceStatus is a user's last known presence.
type PresenceStatus struct {
	UserID   string    `json:"userId"`
	Status   string    `json:"status"`
	LastSeen time.Time `json:"lastSeen,omitempty"`
}
