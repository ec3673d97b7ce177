// Package replica is the client's durable mirror of server state. It keeps
// conversations, messages, users, participants and stories in pebble
// together with the delta sync checkpoint, and pushes changes to observers.
package replica

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/rs/zerolog"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/client/kv"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/domain"
)

// Key layout:
// conv:{id}                  Conversation (participants stripped)
// part:{conv_id}:{user_id}   Participant
// msg:{conv_id}:{msg_id}     Message; ULIDs keep a conversation time ordered
// msgidx:{msg_id}            conversation id of the message
// user:{id}                  User
// story:{id}                 Story
// meta:checkpoint            last delta sync timestamp (RFC3339Nano)
const (
	prefixConversation = "conv:"
	prefixParticipant  = "part:"
	prefixMessage      = "msg:"
	prefixMessageIndex = "msgidx:"
	prefixUser         = "user:"
	prefixStory        = "story:"
	keyCheckpoint      = "meta:checkpoint"
)

var ErrNotFound = kv.ErrNotFound

func conversationKey(id string) []byte { return []byte(prefixConversation + id) }
func participantPrefix(convID string) []byte {
	return []byte(prefixParticipant + convID + ":")
}
func participantKey(convID, userID string) []byte {
	return append(participantPrefix(convID), userID...)
}
func messagePrefix(convID string) []byte { return []byte(prefixMessage + convID + ":") }
func messageKey(convID, id string) []byte {
	return append(messagePrefix(convID), id...)
}
func messageIndexKey(id string) []byte { return []byte(prefixMessageIndex + id) }
func userKey(id string) []byte         { return []byte(prefixUser + id) }
func storyKey(id string) []byte        { return []byte(prefixStory + id) }

// Store is safe for concurrent use. Writes are serialized so observers see
// changes in commit order.
type Store struct {
	db     *pebble.DB
	logger zerolog.Logger

	mu sync.Mutex

	subMu  sync.Mutex
	subs   map[int]subscriber
	nextID int
}

// New wraps db. The caller owns db and closes it.
func New(db *pebble.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
		subs:   make(map[int]subscriber),
	}
}

// write runs fn inside one indexed batch, commits it and notifies the
// observers of the touched kinds.
func (s *Store) write(fn func(b *pebble.Batch, touched kinds) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.db.NewIndexedBatch()
	defer b.Close()

	touched := kinds{}
	if err := fn(b, touched); err != nil {
		return err
	}
	if b.Empty() {
		return nil
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return err
	}
	s.notify(touched)
	return nil
}

// Conversations returns every conversation, most recently updated first.
func (s *Store) Conversations() ([]domain.Conversation, error) {
	convs, err := kv.ScanJSON[domain.Conversation](s.db, []byte(prefixConversation))
	if err != nil {
		return nil, err
	}
	for i := range convs {
		parts, err := s.Participants(convs[i].ID)
		if err != nil {
			return nil, err
		}
		convs[i].Participants = parts
	}
	sort.SliceStable(convs, func(i, j int) bool {
		if !convs[i].UpdatedAt.Equal(convs[j].UpdatedAt) {
			return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
		}
		return convs[i].ID < convs[j].ID
	})
	return convs, nil
}

// Conversation returns one conversation with its participants.
func (s *Store) Conversation(id string) (*domain.Conversation, error) {
	return getConversation(s.db, id)
}

func getConversation(r kv.Reader, id string) (*domain.Conversation, error) {
	var conv domain.Conversation
	if err := kv.GetJSON(r, conversationKey(id), &conv); err != nil {
		return nil, err
	}
	parts, err := kv.ScanJSON[domain.Participant](r, participantPrefix(id))
	if err != nil {
		return nil, err
	}
	conv.Participants = parts
	return &conv, nil
}

// Participants returns the participants of a conversation.
func (s *Store) Participants(convID string) ([]domain.Participant, error) {
	return kv.ScanJSON[domain.Participant](s.db, participantPrefix(convID))
}

// PutConversation upserts conv. A non-empty participant list replaces the
// stored one.
func (s *Store) PutConversation(conv domain.Conversation) error {
	return s.write(func(b *pebble.Batch, touched kinds) error {
		return putConversation(b, touched, conv)
	})
}

func putConversation(b *pebble.Batch, touched kinds, conv domain.Conversation) error {
	parts := conv.Participants
	conv.Participants = nil
	if err := kv.SetJSON(b, conversationKey(conv.ID), conv); err != nil {
		return err
	}
	touched.add(KindConversations)
	if len(parts) == 0 {
		return nil
	}
	prefix := participantPrefix(conv.ID)
	if err := b.DeleteRange(prefix, kv.UpperBound(prefix), nil); err != nil {
		return err
	}
	for _, p := range parts {
		p.ConversationID = conv.ID
		if err := kv.SetJSON(b, participantKey(conv.ID, p.UserID), p); err != nil {
			return err
		}
	}
	touched.add(KindParticipants)
	return nil
}

// PutParticipant upserts one participant row.
func (s *Store) PutParticipant(p domain.Participant) error {
	return s.write(func(b *pebble.Batch, touched kinds) error {
		touched.add(KindParticipants, KindConversations)
		return kv.SetJSON(b, participantKey(p.ConversationID, p.UserID), p)
	})
}

// RemoveParticipant drops a participant row.
func (s *Store) RemoveParticipant(convID, userID string) error {
	return s.write(func(b *pebble.Batch, touched kinds) error {
		touched.add(KindParticipants, KindConversations)
		return b.Delete(participantKey(convID, userID), nil)
	})
}

// DeleteConversation removes a conversation with its participants and
// messages.
func (s *Store) DeleteConversation(id string) error {
	return s.write(func(b *pebble.Batch, touched kinds) error {
		return deleteConversation(b, touched, id)
	})
}

func deleteConversation(b *pebble.Batch, touched kinds, id string) error {
	prefix := messagePrefix(id)
	var msgIDs []string
	err := kv.Scan(b, prefix, func(key, _ []byte) error {
		msgIDs = append(msgIDs, string(key[len(prefix):]))
		return nil
	})
	if err != nil {
		return err
	}
	for _, msgID := range msgIDs {
		if err := b.Delete(messageIndexKey(msgID), nil); err != nil {
			return err
		}
	}
	if err := b.DeleteRange(prefix, kv.UpperBound(prefix), nil); err != nil {
		return err
	}
	parts := participantPrefix(id)
	if err := b.DeleteRange(parts, kv.UpperBound(parts), nil); err != nil {
		return err
	}
	touched.add(KindConversations, KindParticipants, KindMessages)
	return b.Delete(conversationKey(id), nil)
}

// MarkConversationRead records msgID as the caller's last read message.
func (s *Store) MarkConversationRead(convID, msgID string) error {
	return s.write(func(b *pebble.Batch, touched kinds) error {
		var conv domain.Conversation
		if err := kv.GetJSON(b, conversationKey(convID), &conv); err != nil {
			return err
		}
		conv.LastReadMessageID = msgID
		conv.UnreadCount = 0
		touched.add(KindConversations)
		return kv.SetJSON(b, conversationKey(convID), conv)
	})
}

// PutMessage writes a locally created message as is.
func (s *Store) PutMessage(msg domain.Message) error {
	return s.write(func(b *pebble.Batch, touched kinds) error {
		return setMessage(b, touched, msg)
	})
}

func setMessage(b *pebble.Batch, touched kinds, msg domain.Message) error {
	if err := kv.SetJSON(b, messageKey(msg.ConversationID, msg.ID), msg); err != nil {
		return err
	}
	touched.add(KindMessages)
	return b.Set(messageIndexKey(msg.ID), []byte(msg.ConversationID), nil)
}

// MergeMessage applies a server copy of a message. A copy coming back from
// the server has been stored and delivered to this device, so the local
// status becomes at least delivered and never moves backwards.
func (s *Store) MergeMessage(msg domain.Message) error {
	return s.write(func(b *pebble.Batch, touched kinds) error {
		return mergeMessage(b, touched, msg)
	})
}

func mergeMessage(b *pebble.Batch, touched kinds, msg domain.Message) error {
	status := domain.StatusDelivered
	if existing, err := getMessage(b, msg.ID); err == nil {
		status = existing.Status.Max(status)
		if existing.ConversationID != msg.ConversationID {
			if err := b.Delete(messageKey(existing.ConversationID, existing.ID), nil); err != nil {
				return err
			}
		}
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	msg.Status = msg.Status.Max(status)
	msg.SendError = ""
	return setMessage(b, touched, msg)
}

// Message returns one message by id.
func (s *Store) Message(id string) (*domain.Message, error) {
	return getMessage(s.db, id)
}

func getMessage(r kv.Reader, id string) (*domain.Message, error) {
	raw, closer, err := r.Get(messageIndexKey(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	convID := string(raw)
	closer.Close()

	var msg domain.Message
	if err := kv.GetJSON(r, messageKey(convID, id), &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Messages returns the messages of a conversation in id (time) order.
func (s *Store) Messages(convID string) ([]domain.Message, error) {
	return kv.ScanJSON[domain.Message](s.db, messagePrefix(convID))
}

// UnsentMessages returns every message the server has not confirmed.
func (s *Store) UnsentMessages() ([]domain.Message, error) {
	all, err := kv.ScanJSON[domain.Message](s.db, []byte(prefixMessage))
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, m := range all {
		if m.Status.Unsent() {
			out = append(out, m)
		}
	}
	return out, nil
}

// SetMessageStatus moves a message to status. It reports false without
// writing when the move would go backwards. reason is kept for failed.
func (s *Store) SetMessageStatus(id string, status domain.MessageStatus, reason string) (bool, error) {
	changed := false
	err := s.write(func(b *pebble.Batch, touched kinds) error {
		msg, err := getMessage(b, id)
		if err != nil {
			return err
		}
		if !msg.Status.CanTransition(status) {
			return nil
		}
		msg.Status = status
		msg.SendError = ""
		if status == domain.StatusFailed {
			msg.SendError = reason
		}
		changed = true
		return setMessage(b, touched, *msg)
	})
	return changed, err
}

// DeleteMessage removes a message. A missing message is not an error.
func (s *Store) DeleteMessage(id string) error {
	return s.write(func(b *pebble.Batch, touched kinds) error {
		return deleteMessage(b, touched, id)
	})
}

func deleteMessage(b *pebble.Batch, touched kinds, id string) error {
	msg, err := getMessage(b, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := b.Delete(messageKey(msg.ConversationID, id), nil); err != nil {
		return err
	}
	touched.add(KindMessages)
	return b.Delete(messageIndexKey(id), nil)
}

// User returns one user.
func (s *Store) User(id string) (*domain.User, error) {
	var u domain.User
	if err := kv.GetJSON(s.db, userKey(id), &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Users returns every known user ordered by id.
func (s *Store) Users() ([]domain.User, error) {
	return kv.ScanJSON[domain.User](s.db, []byte(prefixUser))
}

// PutUser upserts a user.
func (s *Store) PutUser(u domain.User) error {
	return s.write(func(b *pebble.Batch, touched kinds) error {
		touched.add(KindUsers)
		return kv.SetJSON(b, userKey(u.ID), u)
	})
}

// Stories returns every stored story ordered by id.
func (s *Store) Stories() ([]domain.Story, error) {
	return kv.ScanJSON[domain.Story](s.db, []byte(prefixStory))
}

// Checkpoint returns the last delta sync timestamp, zero before the first.
func (s *Store) Checkpoint() (time.Time, error) {
	raw, closer, err := s.db.Get([]byte(keyCheckpoint))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	defer closer.Close()
	return time.Parse(time.RFC3339Nano, string(raw))
}

// ApplyDelta commits a delta in one batch: upserts, then tombstones, then
// the checkpoint. Either all of it lands or none does.
func (s *Store) ApplyDelta(d *domain.DeltaResponse) error {
	return s.write(func(b *pebble.Batch, touched kinds) error {
		for _, u := range d.Users {
			if err := kv.SetJSON(b, userKey(u.ID), u); err != nil {
				return err
			}
			touched.add(KindUsers)
		}
		for _, c := range d.Conversations {
			if err := putConversation(b, touched, c); err != nil {
				return err
			}
		}
		for _, m := range d.Messages {
			if err := mergeMessage(b, touched, m); err != nil {
				return err
			}
		}
		for _, st := range d.Stories {
			if err := kv.SetJSON(b, storyKey(st.ID), st); err != nil {
				return err
			}
			touched.add(KindStories)
		}

		for _, id := range d.DeletedMessageIDs {
			if err := deleteMessage(b, touched, id); err != nil {
				return err
			}
		}
		for _, id := range d.DeletedConversationIDs {
			if err := deleteConversation(b, touched, id); err != nil {
				return err
			}
		}
		for _, id := range d.DeletedStoryIDs {
			if err := b.Delete(storyKey(id), nil); err != nil {
				return err
			}
			touched.add(KindStories)
		}

		return b.Set([]byte(keyCheckpoint), []byte(d.Timestamp.UTC().Format(time.RFC3339Nano)), nil)
	})
}

// ApplyInitialSync stores the directory and the caller's conversations.
// The checkpoint is left alone; messages arrive with the next delta.
func (s *Store) ApplyInitialSync(r *domain.InitialSyncResponse) error {
	return s.write(func(b *pebble.Batch, touched kinds) error {
		for _, u := range r.Users {
			if err := kv.SetJSON(b, userKey(u.ID), u); err != nil {
				return err
			}
			touched.add(KindUsers)
		}
		for _, c := range r.Conversations {
			if err := putConversation(b, touched, c); err != nil {
				return err
			}
		}
		return nil
	})
}
