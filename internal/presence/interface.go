package presence

import (
	"context"

	"github.com/weiawesome/wes-io-live/chat-sync/internal/domain"
)

// Store tracks who is online and who is typing. Presence keys expire on
// their own, so a crashed instance cannot leave users online forever.
type Store interface {
	// Connect and Disconnect maintain the user's connection count across
	// all instances and return the count after the change.
	Connect(ctx context.Context, userID string) (int64, error)
	Disconnect(ctx context.Context, userID string) (int64, error)

	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string) (*domain.PresenceStatus, error)
	// Refresh extends the expiry of every given online user.
	Refresh(ctx context.Context, userIDs []string) error
	// GetStatus returns found=false when no record exists.
	GetStatus(ctx context.Context, userID string) (*domain.PresenceStatus, bool, error)

	SetTyping(ctx context.Context, conversationID, userID string) error
	ClearTyping(ctx context.Context, conversationID, userID string) error
	TypingUsers(ctx context.Context, conversationID string) ([]string, error)
}
