package replica

import (
	"errors"
	"sync"

	"github.com/weiawesome/wes-io-live/chat-sync/internal/domain"
)

// Kind is an entity family a write can touch.
type Kind int

const (
	KindConversations Kind = iota
	KindParticipants
	KindMessages
	KindUsers
	KindStories
)

type kinds map[Kind]struct{}

func (k kinds) add(ks ...Kind) {
	for _, kind := range ks {
		k[kind] = struct{}{}
	}
}

// Query is a live read over the store. It is re-evaluated whenever a
// committed write touches one of its kinds.
type Query[T any] struct {
	kinds []Kind
	eval  func(*Store) (T, error)
}

// ConversationsQuery watches the conversation list.
func ConversationsQuery() Query[[]domain.Conversation] {
	return Query[[]domain.Conversation]{
		kinds: []Kind{KindConversations, KindParticipants},
		eval:  (*Store).Conversations,
	}
}

// MessagesQuery watches the messages of one conversation.
func MessagesQuery(convID string) Query[[]domain.Message] {
	return Query[[]domain.Message]{
		kinds: []Kind{KindMessages},
		eval:  func(s *Store) ([]domain.Message, error) { return s.Messages(convID) },
	}
}

// UserQuery watches one user. The value is nil while the user is unknown.
func UserQuery(id string) Query[*domain.User] {
	return Query[*domain.User]{
		kinds: []Kind{KindUsers},
		eval: func(s *Store) (*domain.User, error) {
			u, err := s.User(id)
			if errors.Is(err, ErrNotFound) {
				return nil, nil
			}
			return u, err
		},
	}
}

// Subscription delivers the latest result of a query. Updates holds at
// most one pending value; a slow reader only ever sees the newest.
type Subscription[T any] struct {
	Initial T
	Updates <-chan T

	updates chan T
	mu      sync.Mutex
	closed  bool
	cancel  func()
}

// Close stops the subscription and closes Updates.
func (sub *Subscription[T]) Close() {
	sub.cancel()
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if !sub.closed {
		sub.closed = true
		close(sub.updates)
	}
}

func (sub *Subscription[T]) push(v T) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return
	}
	select {
	case <-sub.updates:
	default:
	}
	sub.updates <- v
}

type subscriber interface {
	matches(touched kinds) bool
	refresh(s *Store)
}

type liveQuery[T any] struct {
	q   Query[T]
	sub *Subscription[T]
}

func (l liveQuery[T]) matches(touched kinds) bool {
	for _, k := range l.q.kinds {
		if _, ok := touched[k]; ok {
			return true
		}
	}
	return false
}

func (l liveQuery[T]) refresh(s *Store) {
	v, err := l.q.eval(s)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to re-evaluate query")
		return
	}
	l.sub.push(v)
}

// Subscribe evaluates q now and again after every write touching it.
func Subscribe[T any](s *Store, q Query[T]) (*Subscription[T], error) {
	// Holding the write lock means no commit slips between the initial
	// read and registration.
	s.mu.Lock()
	defer s.mu.Unlock()

	initial, err := q.eval(s)
	if err != nil {
		return nil, err
	}

	ch := make(chan T, 1)
	sub := &Subscription[T]{Initial: initial, Updates: ch, updates: ch}

	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = liveQuery[T]{q: q, sub: sub}
	s.subMu.Unlock()

	sub.cancel = func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
	return sub, nil
}

func (s *Store) notify(touched kinds) {
	s.subMu.Lock()
	var due []subscriber
	for _, sub := range s.subs {
		if sub.matches(touched) {
			due = append(due, sub)
		}
	}
	s.subMu.Unlock()

	for _, sub := range due {
		sub.refresh(s)
	}
}
