package repository

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/weiawesome/wes-io-live/chat-sync/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-sync/pkg/database"
	"github.com/weiawesome/wes-io-live/chat-sync/pkg/idgen"
)

func newTestRepo(t *testing.T) *GormRepository {
	t.Helper()
	db, err := database.New(&database.Config{
		Driver:   "sqlite",
		FilePath: filepath.Join(t.TempDir(), "chat.db"),
	})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db, domain.Models()...))

	repo := NewGormRepository(db)
	ctx := context.Background()
	for _, u := range []string{"alice", "bob", "carol"} {
		require.NoError(t, repo.EnsureUser(ctx, u, u))
	}
	return repo
}

func privateConv(t *testing.T, repo *GormRepository, a, b string) *domain.Conversation {
	t.Helper()
	conv, created, err := repo.CreateConversation(context.Background(), &domain.Conversation{
		Type:      domain.ConversationPrivate,
		CreatorID: a,
	}, []string{b})
	require.NoError(t, err)
	require.True(t, created)
	return conv
}

func participant(conv *domain.Conversation, userID string) domain.Participant {
	for _, p := range conv.Participants {
		if p.UserID == userID {
			return p
		}
	}
	return domain.Participant{}
}

func send(t *testing.T, repo *GormRepository, convID, sender, content string) *domain.Message {
	t.Helper()
	msg := &domain.Message{ID: idgen.New(), ConversationID: convID, SenderID: sender, Content: content}
	created, err := repo.CreateMessage(context.Background(), msg)
	require.NoError(t, err)
	require.True(t, created)
	return msg
}

func TestEnsureUserUpdatesUsername(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.EnsureUser(ctx, "alice", "alice2"))
	users, err := repo.ChangedUsers(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, users, 3)

	names := map[string]string{}
	for _, u := range users {
		names[u.ID] = u.Username
	}
	assert.Equal(t, "alice2", names["alice"])
}

func TestCreatePrivateConversationIsUniquePerPair(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	first := privateConv(t, repo, "alice", "bob")
	assert.Len(t, first.Participants, 2)
	assert.Equal(t, "bob", first.Counterpart("alice"))

	again, created, err := repo.CreateConversation(ctx, &domain.Conversation{
		Type:      domain.ConversationPrivate,
		CreatorID: "bob",
	}, []string{"alice"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
}

func TestCreateConversationReplayByID(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	conv := &domain.Conversation{ID: idgen.New(), Type: domain.ConversationGroup, Title: "team", CreatorID: "alice"}
	_, created, err := repo.CreateConversation(ctx, conv, []string{"bob"})
	require.NoError(t, err)
	require.True(t, created)

	got, created, err := repo.CreateConversation(ctx, &domain.Conversation{ID: conv.ID, Type: domain.ConversationGroup, CreatorID: "alice"}, nil)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "team", got.Title)
	assert.Equal(t, domain.RoleAdmin, participant(got, "alice").Role)

	_, _, err = repo.CreateConversation(ctx, &domain.Conversation{ID: conv.ID, Type: domain.ConversationGroup, CreatorID: "carol"}, nil)
	assert.ErrorIs(t, err, ErrIDConflict)
}

func TestCreateConversationValidation(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, _, err := repo.CreateConversation(ctx, &domain.Conversation{Type: domain.ConversationPrivate, CreatorID: "alice"}, []string{"bob", "carol"})
	assert.ErrorIs(t, err, ErrInvalidConversation)
	_, _, err = repo.CreateConversation(ctx, &domain.Conversation{Type: domain.ConversationPrivate, CreatorID: "alice"}, []string{"alice"})
	assert.ErrorIs(t, err, ErrInvalidConversation)
	_, _, err = repo.CreateConversation(ctx, &domain.Conversation{Type: "channel", CreatorID: "alice"}, nil)
	assert.ErrorIs(t, err, ErrInvalidConversation)
}

func TestCreateMessageCountsUnreadOnce(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	conv := privateConv(t, repo, "alice", "bob")

	msg := send(t, repo, conv.ID, "alice", "hi")
	assert.False(t, msg.CreatedAt.IsZero())

	replay := &domain.Message{ID: msg.ID, ConversationID: conv.ID, SenderID: "alice", Content: "hi"}
	created, err := repo.CreateMessage(ctx, replay)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, msg.CreatedAt.Unix(), replay.CreatedAt.Unix())

	got, err := repo.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, got.LastMessageID)
	assert.Equal(t, 1, participant(got, "bob").UnreadCount)
	assert.Equal(t, 0, participant(got, "alice").UnreadCount)
}

func TestCreateMessageRejectsOutsiders(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	conv := privateConv(t, repo, "alice", "bob")

	_, err := repo.CreateMessage(ctx, &domain.Message{ID: idgen.New(), ConversationID: conv.ID, SenderID: "carol", Content: "x"})
	assert.ErrorIs(t, err, ErrNotParticipant)

	_, err = repo.CreateMessage(ctx, &domain.Message{ID: idgen.New(), ConversationID: "missing", SenderID: "alice", Content: "x"})
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestCreateMessageRejectsForeignReplay(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	conv := privateConv(t, repo, "alice", "bob")
	msg := send(t, repo, conv.ID, "alice", "hi")

	_, err := repo.CreateMessage(ctx, &domain.Message{ID: msg.ID, ConversationID: conv.ID, SenderID: "bob", Content: "hijack"})
	assert.ErrorIs(t, err, ErrIDConflict)
}

func TestCreateMessagesBatch(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	conv := privateConv(t, repo, "alice", "bob")
	existing := send(t, repo, conv.ID, "alice", "one")

	batch := []*domain.Message{
		{ID: existing.ID, Content: "one"},
		{ID: idgen.New(), Content: "two"},
		{ID: idgen.New(), Content: "three"},
	}
	out, err := repo.CreateMessages(ctx, conv.ID, "alice", batch)
	require.NoError(t, err)
	assert.Equal(t, []string{batch[1].ID, batch[2].ID}, out.Inserted)
	assert.Empty(t, out.Conflicts)

	got, err := repo.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, batch[2].ID, got.LastMessageID)
	assert.Equal(t, 3, participant(got, "bob").UnreadCount)
}

func TestCreateMessagesReportsForeignIDs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	ab := privateConv(t, repo, "alice", "bob")
	bc := privateConv(t, repo, "bob", "carol")
	taken := send(t, repo, ab.ID, "alice", "mine")

	fresh := idgen.New()
	out, err := repo.CreateMessages(ctx, bc.ID, "bob", []*domain.Message{
		{ID: taken.ID, Content: "hijack"},
		{ID: fresh, Content: "hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{taken.ID}, out.Conflicts)
	assert.Equal(t, []string{fresh}, out.Inserted)

	got, err := repo.GetConversation(ctx, bc.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, participant(got, "carol").UnreadCount)
	assert.Equal(t, fresh, got.LastMessageID)
}

func TestCreateMessagesCountsOnlyRowsItWrote(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	conv := privateConv(t, repo, "alice", "bob")
	raced, fresh := idgen.New(), idgen.New()

	// A concurrent send stores raced after the existence check has run.
	var once sync.Once
	require.NoError(t, repo.db.Callback().Query().After("gorm:query").Register("test:concurrent_send", func(tx *gorm.DB) {
		if tx.Statement.Table != "messages" {
			return
		}
		once.Do(func() {
			now := time.Now().UTC()
			require.NoError(t, tx.Session(&gorm.Session{NewDB: true}).Create(&domain.MessageModel{
				ID: raced, ConversationID: conv.ID, SenderID: "alice", Content: "over the socket",
				CreatedAt: now, UpdatedAt: now,
			}).Error)
		})
	}))
	t.Cleanup(func() { _ = repo.db.Callback().Query().Remove("test:concurrent_send") })

	out, err := repo.CreateMessages(ctx, conv.ID, "alice", []*domain.Message{
		{ID: raced, Content: "over the socket"},
		{ID: fresh, Content: "queued"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{fresh}, out.Inserted)
	assert.Empty(t, out.Conflicts)

	var rows int64
	require.NoError(t, repo.db.Model(&domain.MessageModel{}).Where("id IN ?", []string{raced, fresh}).Count(&rows).Error)
	assert.EqualValues(t, 2, rows)

	got, err := repo.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, participant(got, "bob").UnreadCount, "only the row this batch wrote is counted")
}

func TestMarkReadMovesForwardOnly(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	conv := privateConv(t, repo, "alice", "bob")

	m1 := send(t, repo, conv.ID, "alice", "1")
	m2 := send(t, repo, conv.ID, "alice", "2")
	send(t, repo, conv.ID, "bob", "mine")
	m3 := send(t, repo, conv.ID, "alice", "3")

	p, err := repo.MarkRead(ctx, conv.ID, "bob", m2.ID)
	require.NoError(t, err)
	assert.Equal(t, m2.ID, p.LastReadMessageID)
	assert.Equal(t, 1, p.UnreadCount)

	p, err = repo.MarkRead(ctx, conv.ID, "bob", m1.ID)
	require.NoError(t, err)
	assert.Equal(t, m2.ID, p.LastReadMessageID)
	assert.Equal(t, 1, p.UnreadCount)

	p, err = repo.MarkRead(ctx, conv.ID, "bob", m3.ID)
	require.NoError(t, err)
	assert.Zero(t, p.UnreadCount)

	_, err = repo.MarkRead(ctx, conv.ID, "bob", "nope")
	assert.ErrorIs(t, err, ErrMessageNotFound)
	_, err = repo.MarkRead(ctx, conv.ID, "carol", m3.ID)
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestDeleteMessage(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	conv := privateConv(t, repo, "alice", "bob")
	msg := send(t, repo, conv.ID, "alice", "oops")

	_, err := repo.DeleteMessage(ctx, msg.ID, "bob")
	assert.ErrorIs(t, err, ErrForbidden)

	deleted, err := repo.DeleteMessage(ctx, msg.ID, "alice")
	require.NoError(t, err)
	assert.True(t, deleted.IsDeleted)

	_, err = repo.DeleteMessage(ctx, msg.ID, "alice")
	assert.NoError(t, err)

	_, err = repo.DeleteMessage(ctx, "missing", "alice")
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestDeleteMessageKeepsUnreadConsistent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	conv := privateConv(t, repo, "alice", "bob")
	m1 := send(t, repo, conv.ID, "alice", "1")
	m2 := send(t, repo, conv.ID, "alice", "2")
	m3 := send(t, repo, conv.ID, "alice", "3")

	_, err := repo.DeleteMessage(ctx, m3.ID, "alice")
	require.NoError(t, err)
	got, err := repo.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, participant(got, "bob").UnreadCount)

	p, err := repo.MarkRead(ctx, conv.ID, "bob", m1.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, p.UnreadCount, "recount agrees with the decremented counter")

	// Already read: deleting it leaves the counter alone.
	_, err = repo.DeleteMessage(ctx, m1.ID, "alice")
	require.NoError(t, err)
	_, err = repo.DeleteMessage(ctx, m2.ID, "alice")
	require.NoError(t, err)
	got, err = repo.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Zero(t, participant(got, "bob").UnreadCount)
}

func TestGroupMembership(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	conv, _, err := repo.CreateConversation(ctx, &domain.Conversation{Type: domain.ConversationGroup, Title: "g", CreatorID: "alice"}, []string{"bob"})
	require.NoError(t, err)

	ids, err := repo.ListGroupConversationIDs(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{conv.ID}, ids)

	require.NoError(t, repo.LeaveConversation(ctx, conv.ID, "bob"))
	assert.ErrorIs(t, repo.LeaveConversation(ctx, conv.ID, "bob"), ErrNotParticipant)
	ids, err = repo.ListGroupConversationIDs(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, ids)

	send(t, repo, conv.ID, "alice", "while away")
	require.NoError(t, repo.JoinConversation(ctx, conv.ID, "bob"))
	require.NoError(t, repo.JoinConversation(ctx, conv.ID, "carol"))
	require.NoError(t, repo.JoinConversation(ctx, conv.ID, "carol"))

	got, err := repo.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Len(t, got.Participants, 3)
	assert.Zero(t, participant(got, "bob").UnreadCount)

	private := privateConv(t, repo, "alice", "carol")
	assert.ErrorIs(t, repo.JoinConversation(ctx, private.ID, "bob"), ErrForbidden)
}

func TestDeleteConversation(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	group, _, err := repo.CreateConversation(ctx, &domain.Conversation{Type: domain.ConversationGroup, CreatorID: "alice"}, []string{"bob"})
	require.NoError(t, err)

	_, err = repo.DeleteConversation(ctx, group.ID, "bob")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = repo.DeleteConversation(ctx, group.ID, "carol")
	assert.ErrorIs(t, err, ErrNotParticipant)

	deleted, err := repo.DeleteConversation(ctx, group.ID, "alice")
	require.NoError(t, err)
	assert.True(t, deleted.IsDeleted)
	assert.Len(t, deleted.Participants, 2)

	_, err = repo.GetConversation(ctx, group.ID)
	assert.ErrorIs(t, err, ErrConversationNotFound)

	private := privateConv(t, repo, "alice", "bob")
	_, err = repo.DeleteConversation(ctx, private.ID, "bob")
	assert.NoError(t, err)
}

func TestFriendshipLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.SendFriendRequest(ctx, "alice", "alice")
	assert.ErrorIs(t, err, ErrInvalidFriendship)

	req, err := repo.SendFriendRequest(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.FriendshipPending, req.Status)

	again, err := repo.SendFriendRequest(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, req.ID, again.ID)

	_, err = repo.RespondFriendRequest(ctx, "bob", "alice", true)
	assert.ErrorIs(t, err, ErrFriendRequestNotFound)

	accepted, err := repo.RespondFriendRequest(ctx, "alice", "bob", true)
	require.NoError(t, err)
	assert.Equal(t, domain.FriendshipAccepted, accepted.Status)

	_, err = repo.SendFriendRequest(ctx, "bob", "alice")
	assert.ErrorIs(t, err, ErrAlreadyFriends)

	friends, err := repo.FriendIDs(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, friends)

	require.NoError(t, repo.RemoveFriend(ctx, "bob", "alice"))
	assert.ErrorIs(t, repo.RemoveFriend(ctx, "bob", "alice"), ErrFriendshipNotFound)

	restored, err := repo.SendFriendRequest(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, req.ID, restored.ID)
	assert.Equal(t, domain.FriendshipPending, restored.Status)
}

func TestMutualFriendRequestAccepts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.SendFriendRequest(ctx, "alice", "carol")
	require.NoError(t, err)
	f, err := repo.SendFriendRequest(ctx, "carol", "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.FriendshipAccepted, f.Status)
	assert.Equal(t, "alice", f.RequesterID)
}

func TestStories(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	since := time.Now().UTC().Add(-time.Second)

	story := &domain.Story{ID: idgen.New(), UserID: "alice", Content: "sunset", ExpiresAt: time.Now().Add(time.Hour)}
	created, err := repo.CreateStory(ctx, story)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.CreateStory(ctx, &domain.Story{ID: story.ID, UserID: "alice"})
	require.NoError(t, err)
	assert.False(t, created)

	stories, err := repo.ChangedStories(ctx, "bob", since)
	require.NoError(t, err)
	assert.Empty(t, stories)

	_, err = repo.SendFriendRequest(ctx, "alice", "bob")
	require.NoError(t, err)
	_, err = repo.RespondFriendRequest(ctx, "alice", "bob", true)
	require.NoError(t, err)

	stories, err = repo.ChangedStories(ctx, "bob", since)
	require.NoError(t, err)
	require.Len(t, stories, 1)
	assert.Equal(t, "sunset", stories[0].Content)

	assert.ErrorIs(t, repo.DeleteStory(ctx, story.ID, "bob"), ErrForbidden)
	require.NoError(t, repo.DeleteStory(ctx, story.ID, "alice"))
	assert.ErrorIs(t, repo.DeleteStory(ctx, "missing", "alice"), ErrStoryNotFound)

	ids, err := repo.DeletedStoryIDs(ctx, "bob", since)
	require.NoError(t, err)
	assert.Equal(t, []string{story.ID}, ids)
}

func TestDeltaQueries(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	conv := privateConv(t, repo, "alice", "bob")
	old := send(t, repo, conv.ID, "alice", "old")
	other := privateConv(t, repo, "alice", "carol")
	send(t, repo, other.ID, "alice", "not for bob")

	checkpoint := time.Now().UTC()
	time.Sleep(5 * time.Millisecond)

	fresh := send(t, repo, conv.ID, "alice", "new")
	_, err := repo.DeleteMessage(ctx, old.ID, "alice")
	require.NoError(t, err)

	msgs, err := repo.ChangedMessages(ctx, "bob", checkpoint)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, fresh.ID, msgs[0].ID)

	deleted, err := repo.DeletedMessageIDs(ctx, "bob", checkpoint)
	require.NoError(t, err)
	assert.Equal(t, []string{old.ID}, deleted)

	convs, err := repo.ChangedConversations(ctx, "bob", checkpoint)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, conv.ID, convs[0].ID)
	assert.Equal(t, 2, convs[0].UnreadCount)
	assert.Equal(t, "alice", participant(&convs[0], "alice").Username)

	all, err := repo.ChangedConversations(ctx, "alice", time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = repo.DeleteConversation(ctx, conv.ID, "bob")
	require.NoError(t, err)
	gone, err := repo.DeletedConversationIDs(ctx, "alice", checkpoint)
	require.NoError(t, err)
	assert.Equal(t, []string{conv.ID}, gone)

	users, err := repo.ChangedUsers(ctx, checkpoint)
	require.NoError(t, err)
	assert.Empty(t, users)
}
