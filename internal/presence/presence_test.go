package presence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/domain"
)

func newStore(t *testing.T) (*redisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, Options{TTL: time.Minute, TypingTTL: 5 * time.Second}).(*redisStore), mr
}

func TestOnlineOffline(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()

	_, found, err := s.GetStatus(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, found, "absent record means unknown")

	require.NoError(t, s.SetOnline(ctx, "alice"))
	st, found, err := s.GetStatus(ctx, "alice")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, domain.PresenceOnline, st.Status)
	assert.Equal(t, time.Minute, mr.TTL("presence:user:alice"))

	off, err := s.SetOffline(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.PresenceOffline, off.Status)

	st, found, err = s.GetStatus(ctx, "alice")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, domain.PresenceOffline, st.Status)
	assert.False(t, st.LastSeen.IsZero())
	assert.Zero(t, mr.TTL("presence:user:alice"), "offline records persist")
}

func TestOnlineExpiresWithoutRefresh(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetOnline(ctx, "alice"))
	mr.FastForward(30 * time.Second)
	require.NoError(t, s.Refresh(ctx, []string{"alice"}))
	mr.FastForward(45 * time.Second)

	_, found, err := s.GetStatus(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, found, "refresh extended the record")

	mr.FastForward(2 * time.Minute)
	_, found, err = s.GetStatus(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestConnectionCounting(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	n, err := s.Connect(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	n, _ = s.Connect(ctx, "alice")
	assert.EqualValues(t, 2, n)

	n, _ = s.Disconnect(ctx, "alice")
	assert.EqualValues(t, 1, n)
	n, _ = s.Disconnect(ctx, "alice")
	assert.EqualValues(t, 0, n)
	n, _ = s.Disconnect(ctx, "alice")
	assert.EqualValues(t, 0, n, "never negative")
}

func TestTypingExpires(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	s.now = func() time.Time { return now }

	require.NoError(t, s.SetTyping(ctx, "c1", "alice"))
	require.NoError(t, s.SetTyping(ctx, "c1", "bob"))

	users, err := s.TypingUsers(ctx, "c1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, users)

	require.NoError(t, s.ClearTyping(ctx, "c1", "bob"))
	now = now.Add(6 * time.Second)

	users, err = s.TypingUsers(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, users)
}

type staticUsers []string

func (s staticUsers) ConnectedUserIDs() []string { return s }

func TestHeartbeatRefreshes(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.SetOnline(ctx, "alice"))
	mr.FastForward(50 * time.Second)

	hb := NewHeartbeat(s, staticUsers{"alice"}, time.Hour)
	hb.RefreshOnce(ctx)
	assert.Equal(t, time.Minute, mr.TTL("presence:user:alice"))

	hb.Start(ctx)
	hb.Start(ctx)
	hb.Stop()
	hb.Stop()
}
