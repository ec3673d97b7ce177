package replica

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/client/kv"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-sync/pkg/idgen"
	"github.com/weiawesome/wes-io-live/chat-sync/pkg/log"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	db, err := kv.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, log.Nop())
}

func privateConv(id string) domain.Conversation {
	return domain.Conversation{
		ID:        id,
		Type:      domain.ConversationPrivate,
		CreatorID: "alice",
		UpdatedAt: time.Now().UTC(),
		Participants: []domain.Participant{
			{UserID: "alice", Role: domain.RoleMember},
			{UserID: "bob", Role: domain.RoleMember},
		},
	}
}

func TestConversationRoundTripKeepsParticipants(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.PutConversation(privateConv("c1")))

	conv, err := s.Conversation("c1")
	require.NoError(t, err)
	require.Len(t, conv.Participants, 2)
	assert.Equal(t, "c1", conv.Participants[0].ConversationID)
	assert.Equal(t, "bob", conv.Counterpart("alice"))

	_, err = s.Conversation("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConversationsNewestFirst(t *testing.T) {
	s := newStore(t)
	older := privateConv("c1")
	older.UpdatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, s.PutConversation(older))
	require.NoError(t, s.PutConversation(privateConv("c2")))

	convs, err := s.Conversations()
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, "c2", convs[0].ID)
	assert.Equal(t, "c1", convs[1].ID)
}

func TestMessagesAreTimeOrdered(t *testing.T) {
	s := newStore(t)
	base := time.Now()
	var ids []string
	for i := 0; i < 3; i++ {
		id := idgen.NewAt(base.Add(time.Duration(i) * time.Second))
		ids = append(ids, id)
	}
	for _, i := range []int{2, 0, 1} {
		require.NoError(t, s.PutMessage(domain.Message{ID: ids[i], ConversationID: "c1", Status: domain.StatusPending}))
	}
	require.NoError(t, s.PutMessage(domain.Message{ID: idgen.New(), ConversationID: "c2"}))

	msgs, err := s.Messages("c1")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	for i, m := range msgs {
		assert.Equal(t, ids[i], m.ID)
	}
}

func TestStatusNeverMovesBackwards(t *testing.T) {
	s := newStore(t)
	id := idgen.New()
	require.NoError(t, s.PutMessage(domain.Message{ID: id, ConversationID: "c1", Status: domain.StatusPending}))

	changed, err := s.SetMessageStatus(id, domain.StatusSeen, "")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.SetMessageStatus(id, domain.StatusSent, "")
	require.NoError(t, err)
	assert.False(t, changed)

	msg, err := s.Message(id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSeen, msg.Status)

	_, err = s.SetMessageStatus("nope", domain.StatusSent, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestServerCopyMarksDelivered(t *testing.T) {
	s := newStore(t)
	sent, seen := idgen.New(), idgen.New()
	require.NoError(t, s.PutMessage(domain.Message{ID: sent, ConversationID: "c1", Status: domain.StatusSent}))
	require.NoError(t, s.PutMessage(domain.Message{ID: seen, ConversationID: "c1", Status: domain.StatusSeen}))

	require.NoError(t, s.MergeMessage(domain.Message{ID: sent, ConversationID: "c1", Content: "a"}))
	require.NoError(t, s.MergeMessage(domain.Message{ID: seen, ConversationID: "c1", Content: "b"}))

	msg, err := s.Message(sent)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, msg.Status)
	msg, err = s.Message(seen)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSeen, msg.Status)
}

func TestFailedStaysUnsent(t *testing.T) {
	s := newStore(t)
	id := idgen.New()
	require.NoError(t, s.PutMessage(domain.Message{ID: id, ConversationID: "c1", Status: domain.StatusPending}))
	_, err := s.SetMessageStatus(id, domain.StatusFailed, "conversation not found")
	require.NoError(t, err)

	unsent, err := s.UnsentMessages()
	require.NoError(t, err)
	require.Len(t, unsent, 1)
	assert.Equal(t, "conversation not found", unsent[0].SendError)

	require.NoError(t, s.MergeMessage(domain.Message{ID: id, ConversationID: "c1", Content: "x"}))
	msg, err := s.Message(id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, msg.Status)
	assert.Empty(t, msg.SendError)
}

func TestApplyDeltaUpsertsTombstonesAndCheckpoint(t *testing.T) {
	s := newStore(t)
	stale := idgen.New()
	require.NoError(t, s.PutMessage(domain.Message{ID: stale, ConversationID: "c1"}))
	require.NoError(t, s.PutConversation(privateConv("gone")))
	require.NoError(t, s.PutMessage(domain.Message{ID: idgen.New(), ConversationID: "gone"}))

	ts := time.Date(2026, 10, 1, 12, 0, 0, 123456789, time.UTC)
	fresh := idgen.New()
	err := s.ApplyDelta(&domain.DeltaResponse{
		Users:                  []domain.User{{ID: "bob", Username: "bob"}},
		Conversations:          []domain.Conversation{privateConv("c1")},
		Messages:               []domain.Message{{ID: fresh, ConversationID: "c1", Content: "hi"}},
		Stories:                []domain.Story{{ID: "s1", UserID: "bob"}},
		DeletedMessageIDs:      []string{stale, "unknown"},
		DeletedConversationIDs: []string{"gone"},
		Timestamp:              ts,
	})
	require.NoError(t, err)

	msgs, err := s.Messages("c1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, fresh, msgs[0].ID)
	assert.Equal(t, domain.StatusDelivered, msgs[0].Status)

	_, err = s.Conversation("gone")
	assert.ErrorIs(t, err, ErrNotFound)
	gone, err := s.Messages("gone")
	require.NoError(t, err)
	assert.Empty(t, gone)

	u, err := s.User("bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", u.Username)

	stories, err := s.Stories()
	require.NoError(t, err)
	assert.Len(t, stories, 1)

	cp, err := s.Checkpoint()
	require.NoError(t, err)
	assert.True(t, ts.Equal(cp))
}

func TestCheckpointZeroBeforeFirstSync(t *testing.T) {
	s := newStore(t)
	cp, err := s.Checkpoint()
	require.NoError(t, err)
	assert.True(t, cp.IsZero())

	require.NoError(t, s.ApplyInitialSync(&domain.InitialSyncResponse{Users: []domain.User{{ID: "alice"}}, Timestamp: time.Now()}))
	cp, err = s.Checkpoint()
	require.NoError(t, err)
	assert.True(t, cp.IsZero(), "initial sync leaves the checkpoint alone")
}

func TestSubscribePushesLatest(t *testing.T) {
	s := newStore(t)
	sub, err := Subscribe(s, MessagesQuery("c1"))
	require.NoError(t, err)
	defer sub.Close()
	assert.Empty(t, sub.Initial)

	require.NoError(t, s.PutMessage(domain.Message{ID: idgen.New(), ConversationID: "c1"}))
	require.NoError(t, s.PutMessage(domain.Message{ID: idgen.New(), ConversationID: "c1"}))

	select {
	case msgs := <-sub.Updates:
		assert.Len(t, msgs, 2, "only the newest result is kept")
	case <-time.After(time.Second):
		t.Fatal("no update")
	}

	require.NoError(t, s.PutUser(domain.User{ID: "bob"}))
	select {
	case <-sub.Updates:
		t.Fatal("user writes do not touch message queries")
	default:
	}
}

func TestUserQueryAndClose(t *testing.T) {
	s := newStore(t)
	sub, err := Subscribe(s, UserQuery("bob"))
	require.NoError(t, err)
	assert.Nil(t, sub.Initial)

	require.NoError(t, s.PutUser(domain.User{ID: "bob", Username: "bobby"}))
	u := <-sub.Updates
	require.NotNil(t, u)
	assert.Equal(t, "bobby", u.Username)

	sub.Close()
	_, ok := <-sub.Updates
	assert.False(t, ok)
	require.NoError(t, s.PutUser(domain.User{ID: "bob"}), "writes after close do not panic")
}

func TestConversationQueryFollowsParticipantChanges(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.PutConversation(privateConv("c1")))
	sub, err := Subscribe(s, ConversationsQuery())
	require.NoError(t, err)
	defer sub.Close()
	require.Len(t, sub.Initial, 1)

	require.NoError(t, s.RemoveParticipant("c1", "bob"))
	convs := <-sub.Updates
	require.Len(t, convs, 1)
	assert.Len(t, convs[0].Participants, 1)
}
