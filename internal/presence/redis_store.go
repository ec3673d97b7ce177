package presence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/room"
)

// Redis key patterns:
// presence:user:{user_id}          HASH   status, last_seen (expires while online)
// presence:conns:{user_id}         STRING connection count across instances
// typing:conversation:{conv_id}    ZSET   user_id scored by expiry (unix ms)

func connsKey(userID string) string {
	return fmt.Sprintf("presence:conns:%s", userID)
}

func typingKey(conversationID string) string {
	return fmt.Sprintf("typing:conversation:%s", conversationID)
}

// Options configures expiry windows.
type Options struct {
	TTL       time.Duration
	TypingTTL time.Duration
}

type redisStore struct {
	client    *redis.Client
	ttl       time.Duration
	typingTTL time.Duration
	now       func() time.Time
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, opts Options) Store {
	if opts.TTL <= 0 {
		opts.TTL = 90 * time.Second
	}
	if opts.TypingTTL <= 0 {
		opts.TypingTTL = 5 * time.Second
	}
	return &redisStore{
		client:    client,
		ttl:       opts.TTL,
		typingTTL: opts.TypingTTL,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *redisStore) Connect(ctx context.Context, userID string) (int64, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, connsKey(userID))
	pipe.Expire(ctx, connsKey(userID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (s *redisStore) Disconnect(ctx context.Context, userID string) (int64, error) {
	n, err := s.client.Decr(ctx, connsKey(userID)).Result()
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		// Counter lost its expiry race or an instance died mid-session.
		if err := s.client.Del(ctx, connsKey(userID)).Err(); err != nil {
			return 0, err
		}
		return 0, nil
	}
	return n, nil
}

func (s *redisStore) SetOnline(ctx context.Context, userID string) error {
	key := room.PresenceKey(userID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, "status", domain.PresenceOnline, "last_seen", s.now().Format(time.RFC3339Nano))
	pipe.Expire(ctx, key, s.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *redisStore) SetOffline(ctx context.Context, userID string) (*domain.PresenceStatus, error) {
	key := room.PresenceKey(userID)
	now := s.now()
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, "status", domain.PresenceOffline, "last_seen", now.Format(time.RFC3339Nano))
	pipe.Persist(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return &domain.PresenceStatus{UserID: userID, Status: domain.PresenceOffline, LastSeen: now}, nil
}

func (s *redisStore) Refresh(ctx context.Context, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	for _, id := range userIDs {
		pipe.Expire(ctx, room.PresenceKey(id), s.ttl)
		pipe.Expire(ctx, connsKey(id), s.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *redisStore) GetStatus(ctx context.Context, userID string) (*domain.PresenceStatus, bool, error) {
	vals, err := s.client.HGetAll(ctx, room.PresenceKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if len(vals) == 0 {
		return nil, false, nil
	}
	st := &domain.PresenceStatus{UserID: userID, Status: vals["status"]}
	if ts, err := time.Parse(time.RFC3339Nano, vals["last_seen"]); err == nil {
		st.LastSeen = ts
	}
	return st, true, nil
}

func (s *redisStore) SetTyping(ctx context.Context, conversationID, userID string) error {
	key := typingKey(conversationID)
	expiry := s.now().Add(s.typingTTL).UnixMilli()
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(expiry), Member: userID})
	pipe.Expire(ctx, key, 2*s.typingTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *redisStore) ClearTyping(ctx context.Context, conversationID, userID string) error {
	return s.client.ZRem(ctx, typingKey(conversationID), userID).Err()
}

func (s *redisStore) TypingUsers(ctx context.Context, conversationID string) ([]string, error) {
	key := typingKey(conversationID)
	now := strconv.FormatInt(s.now().UnixMilli(), 10)
	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", now)
	members := pipe.ZRange(ctx, key, 0, -1)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	return members.Val(), nil
}
