package repository

import (
	"context"
	"errors"
	"time"

	"github.com/weiawesome/wes-io-live/chat-sync/internal/domain"
)

var (
	ErrConversationNotFound  = errors.New("conversation not found")
	ErrMessageNotFound       = errors.New("message not found")
	ErrStoryNotFound         = errors.New("story not found")
	ErrNotParticipant        = errors.New("user is not a participant of the conversation")
	ErrForbidden             = errors.New("operation not permitted")
	ErrInvalidConversation   = errors.New("invalid conversation")
	ErrIDConflict            = errors.New("id already used by another record")
	ErrFriendRequestNotFound = errors.New("friend request not found")
	ErrFriendshipNotFound    = errors.New("friendship not found")
	ErrAlreadyFriends        = errors.New("already friends")
	ErrInvalidFriendship     = errors.New("cannot befriend yourself")
)

// UserRepository stores the public profile directory.
type UserRepository interface {
	// EnsureUser creates the user on first sight and keeps the username
	// current.
	EnsureUser(ctx context.Context, id, username string) error
	UpsertUser(ctx context.Context, user *domain.User) error
}

// ConversationRepository persists conversations and participants.
type ConversationRepository interface {
	// CreateConversation creates the conversation and its participants in
	// one transaction. For an existing id or private pair the existing
	// conversation is returned with created=false.
	CreateConversation(ctx context.Context, conv *domain.Conversation, participantIDs []string) (*domain.Conversation, bool, error)
	GetConversation(ctx context.Context, id string) (*domain.Conversation, error)
	ListGroupConversationIDs(ctx context.Context, userID string) ([]string, error)
	JoinConversation(ctx context.Context, conversationID, userID string) error
	LeaveConversation(ctx context.Context, conversationID, userID string) error
	DeleteConversation(ctx context.Context, conversationID, userID string) (*domain.Conversation, error)
}

// MessageBatch is the per-id outcome of CreateMessages. Ids in neither list
// were replays of messages already stored for the same sender.
type MessageBatch struct {
	Inserted []string
	// Conflicts are ids already used by another sender or conversation.
	Conflicts []string
}

// MessageRepository persists messages together with their counters.
type MessageRepository interface {
	// CreateMessage inserts msg if its id is new, touches the conversation
	// and increments unread counts of the other participants, atomically.
	// created=false means the id was already stored (a replay).
	CreateMessage(ctx context.Context, msg *domain.Message) (bool, error)
	// CreateMessages is the batch form for one sender and conversation.
	CreateMessages(ctx context.Context, conversationID, senderID string, msgs []*domain.Message) (*MessageBatch, error)
	DeleteMessage(ctx context.Context, messageID, userID string) (*domain.Message, error)
	// MarkRead advances the read pointer and recomputes the unread count.
	MarkRead(ctx context.Context, conversationID, userID, messageID string) (*domain.Participant, error)
}

// FriendshipRepository persists friend requests.
type FriendshipRepository interface {
	SendFriendRequest(ctx context.Context, fromID, toID string) (*domain.Friendship, error)
	RespondFriendRequest(ctx context.Context, requesterID, addresseeID string, accept bool) (*domain.Friendship, error)
	RemoveFriend(ctx context.Context, userID, otherID string) error
	FriendIDs(ctx context.Context, userID string) ([]string, error)
}

// StoryRepository persists stories.
type StoryRepository interface {
	CreateStory(ctx context.Context, story *domain.Story) (bool, error)
	DeleteStory(ctx context.Context, storyID, userID string) error
}

// SyncRepository answers delta and initial sync queries. Every query is
// restricted to records userID may see.
type SyncRepository interface {
	ChangedMessages(ctx context.Context, userID string, since time.Time) ([]domain.Message, error)
	DeletedMessageIDs(ctx context.Context, userID string, since time.Time) ([]string, error)
	ChangedConversations(ctx context.Context, userID string, since time.Time) ([]domain.Conversation, error)
	DeletedConversationIDs(ctx context.Context, userID string, since time.Time) ([]string, error)
	ChangedUsers(ctx context.Context, since time.Time) ([]domain.User, error)
	ChangedStories(ctx context.Context, userID string, since time.Time) ([]domain.Story, error)
	DeletedStoryIDs(ctx context.Context, userID string, since time.Time) ([]string, error)
}

// Repository is the full persistence contract.
type Repository interface {
	UserRepository
	ConversationRepository
	MessageRepository
	FriendshipRepository
	StoryRepository
	SyncRepository
}
