// Package room derives delivery room names and manages which connections
// are attached to them.
package room

import (
	"errors"

	"github.com/weiawesome/wes-io-live/chat-sync/internal/domain"
)

// BroadcastRoom is joined by every connection; connect-time presence is
// announced there.
const BroadcastRoom = "broadcast"

var ErrMissingCounterpart = errors.New("private conversation requires a counterpart user id")

// PrivateRoomID is order independent: PrivateRoomID(a, b) == PrivateRoomID(b, a).
func PrivateRoomID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return "private_" + a + "_" + b
}

// GroupRoomID returns the room of a group conversation.
func GroupRoomID(conversationID string) string {
	return "group:" + conversationID
}

// PersonalRoomID returns the room every connection of userID joins.
func PersonalRoomID(userID string) string {
	return "user:" + userID
}

// PresenceKey returns the presence store key of userID.
func PresenceKey(userID string) string {
	return "presence:user:" + userID
}

// ConversationRoom resolves the delivery room for a conversation event.
// Group conversations use the group room; private ones use the pair room
// of self and counterpart.
func ConversationRoom(t domain.ConversationType, conversationID, self, counterpart string) (string, error) {
	if t == domain.ConversationGroup {
		return GroupRoomID(conversationID), nil
	}
	if counterpart == "" {
		return "", ErrMissingCounterpart
	}
	return PrivateRoomID(self, counterpart), nil
}
