package room

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-live/chat-sync/internal/backplane"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/config"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/hub"
	"github.com/weiawesome/wes-io-live/chat-sync/pkg/log"
)

type stubGroups struct {
	ids []string
	err error
}

func (s stubGroups) ListGroupConversationIDs(context.Context, string) ([]string, error) {
	return s.ids, s.err
}

func connect(h *hub.Hub, connID, userID string) *hub.Client {
	c := hub.NewClient(connID, domain.Identity{UserID: userID}, h, nil, config.WebSocketConfig{SendBuffer: 8}, log.Nop())
	h.Register(c)
	return c
}

func TestAutoJoin(t *testing.T) {
	h := hub.NewHub()
	r := NewRouter(h, backplane.NewLocal(h), stubGroups{ids: []string{"g1", "g2"}})
	c := connect(h, "c1", "alice")

	rooms, err := r.AutoJoin(context.Background(), c)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"user:alice", BroadcastRoom, "group:g1", "group:g2"}, rooms)
	assert.True(t, c.InRoom("group:g2"))
	assert.False(t, c.InRoom(PrivateRoomID("alice", "bob")))
}

func TestAutoJoinKeepsBaseRoomsOnError(t *testing.T) {
	h := hub.NewHub()
	r := NewRouter(h, backplane.NewLocal(h), stubGroups{err: errors.New("db down")})
	c := connect(h, "c1", "alice")

	_, err := r.AutoJoin(context.Background(), c)
	assert.Error(t, err)
	assert.True(t, c.InRoom("user:alice"))
	assert.True(t, c.InRoom(BroadcastRoom))
}

func TestLazyJoinPrivate(t *testing.T) {
	h := hub.NewHub()
	r := NewRouter(h, backplane.NewLocal(h), stubGroups{})
	phone := connect(h, "c1", "alice")
	laptop := connect(h, "c2", "alice")
	bob := connect(h, "c3", "bob")
	carol := connect(h, "c4", "carol")

	ctx := context.Background()
	name, err := r.LazyJoinPrivate(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, "private_alice_bob", name)

	_, err = r.LazyJoinPrivate(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, 3, h.RoomSize(name))
	for _, c := range []*hub.Client{phone, laptop, bob} {
		assert.True(t, c.InRoom(name))
	}
	assert.False(t, carol.InRoom(name))

	_, err = r.LazyJoinPrivate(ctx, "alice", "")
	assert.ErrorIs(t, err, ErrMissingCounterpart)
}

func TestRoomForAndGroupMembership(t *testing.T) {
	h := hub.NewHub()
	r := NewRouter(h, backplane.NewLocal(h), stubGroups{})
	alice := connect(h, "c1", "alice")
	connect(h, "c2", "bob")
	ctx := context.Background()

	private := &domain.Conversation{ID: "c1", Type: domain.ConversationPrivate, Participants: []domain.Participant{{UserID: "alice"}, {UserID: "bob"}}}
	name, err := r.RoomFor(ctx, private, "alice")
	require.NoError(t, err)
	assert.Equal(t, "private_alice_bob", name)
	assert.Equal(t, 2, h.RoomSize(name))

	group := &domain.Conversation{ID: "g1", Type: domain.ConversationGroup}
	name, err = r.RoomFor(ctx, group, "alice")
	require.NoError(t, err)
	assert.Equal(t, "group:g1", name)
	assert.Zero(t, h.RoomSize(name))

	_, err = r.JoinGroup(ctx, "alice", "g1")
	require.NoError(t, err)
	assert.True(t, alice.InRoom("group:g1"))
	_, err = r.LeaveGroup(ctx, "alice", "g1")
	require.NoError(t, err)
	assert.False(t, alice.InRoom("group:g1"))
}
