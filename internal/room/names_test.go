package room

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/weiawesome/wes-io-live/chat-sync/internal/domain"
)

func TestPrivateRoomIDIsSymmetric(t *testing.T) {
	assert.Equal(t, "private_alice_bob", PrivateRoomID("alice", "bob"))
	assert.Equal(t, PrivateRoomID("alice", "bob"), PrivateRoomID("bob", "alice"))
}

func TestRoomNames(t *testing.T) {
	assert.Equal(t, "group:g1", GroupRoomID("g1"))
	assert.Equal(t, "user:u1", PersonalRoomID("u1"))
	assert.Equal(t, "presence:user:u1", PresenceKey("u1"))
}

func TestConversationRoom(t *testing.T) {
	name, err := ConversationRoom(domain.ConversationGroup, "g1", "alice", "")
	assert.NoError(t, err)
	assert.Equal(t, "group:g1", name)

	name, err = ConversationRoom(domain.ConversationPrivate, "c1", "bob", "alice")
	assert.NoError(t, err)
	assert.Equal(t, "private_alice_bob", name)

	_, err = ConversationRoom(domain.ConversationPrivate, "c1", "bob", "")
	assert.ErrorIs(t, err, ErrMissingCounterpart)
}
