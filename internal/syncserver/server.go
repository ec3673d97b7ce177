// Package syncserver answers the HTTP sync surface: delta pulls, the
// initial snapshot and batch flushes of offline queues.
package syncserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/weiawesome/wes-io-live/chat-sync/internal/cache"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/metrics"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/repository"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/service"
	"github.com/weiawesome/wes-io-live/chat-sync/pkg/log"
)

var ErrBatchTooLarge = errors.New("batch too large")

// Options tunes the sync server.
type Options struct {
	MaxBatch int
	CacheTTL time.Duration
}

type Server struct {
	repo     repository.Repository
	chat     *service.ChatService
	notify   *service.Notifier
	cache    cache.DirectoryCache
	sf       singleflight.Group
	maxBatch int
	cacheTTL time.Duration
	now      func() time.Time
}

// NewServer creates a sync server. dirCache may be nil, in which case the
// directory is read from the repository on every initial sync.
func NewServer(repo repository.Repository, chat *service.ChatService, dirCache cache.DirectoryCache, opts Options) *Server {
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = 500
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Second
	}
	return &Server{
		repo:     repo,
		chat:     chat,
		notify:   chat.Notifier(),
		cache:    dirCache,
		maxBatch: opts.MaxBatch,
		cacheTTL: opts.CacheTTL,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// MaxBatch is the largest accepted flush.
func (s *Server) MaxBatch() int {
	return s.maxBatch
}

// Touch records the caller so an account that has only ever used the HTTP
// endpoints still exists in the directory.
func (s *Server) Touch(ctx context.Context, userID, username string) error {
	return s.repo.EnsureUser(ctx, userID, username)
}

// Pull returns everything visible to userID that changed after since. The
// timestamp is taken before any query runs, so a change racing the pull is
// reported again next time rather than lost.
func (s *Server) Pull(ctx context.Context, userID string, since time.Time) (*domain.DeltaResponse, error) {
	resp := &domain.DeltaResponse{Success: true, Timestamp: s.now()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		resp.Messages, err = s.repo.ChangedMessages(gctx, userID, since)
		return err
	})
	g.Go(func() (err error) {
		resp.DeletedMessageIDs, err = s.repo.DeletedMessageIDs(gctx, userID, since)
		return err
	})
	g.Go(func() (err error) {
		resp.Conversations, err = s.repo.ChangedConversations(gctx, userID, since)
		return err
	})
	g.Go(func() (err error) {
		resp.DeletedConversationIDs, err = s.repo.DeletedConversationIDs(gctx, userID, since)
		return err
	})
	g.Go(func() (err error) {
		resp.Users, err = s.repo.ChangedUsers(gctx, since)
		return err
	})
	g.Go(func() (err error) {
		resp.Stories, err = s.repo.ChangedStories(gctx, userID, since)
		return err
	})
	g.Go(func() (err error) {
		resp.DeletedStoryIDs, err = s.repo.DeletedStoryIDs(gctx, userID, since)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("delta query: %w", err)
	}

	normalize(resp)
	metrics.DeltaPull()

	l := log.Ctx(ctx)
	l.Debug().
		Time(log.FieldSince, since).
		Int("messages", len(resp.Messages)).
		Int("conversations", len(resp.Conversations)).
		Msg("delta pulled")
	return resp, nil
}

// normalize replaces nil slices so every field serializes as an array.
func normalize(resp *domain.DeltaResponse) {
	if resp.Messages == nil {
		resp.Messages = []domain.Message{}
	}
	if resp.Conversations == nil {
		resp.Conversations = []domain.Conversation{}
	}
	if resp.Users == nil {
		resp.Users = []domain.User{}
	}
	if resp.Stories == nil {
		resp.Stories = []domain.Story{}
	}
	if resp.DeletedMessageIDs == nil {
		resp.DeletedMessageIDs = []string{}
	}
	if resp.DeletedConversationIDs == nil {
		resp.DeletedConversationIDs = []string{}
	}
	if resp.DeletedStoryIDs == nil {
		resp.DeletedStoryIDs = []string{}
	}
}

// InitialSync returns the user directory and every conversation of userID
// with participants. The timestamp is never later than the directory
// snapshot it returns.
func (s *Server) InitialSync(ctx context.Context, userID string) (*domain.InitialSyncResponse, error) {
	ts := s.now()

	dir, err := s.directory(ctx)
	if err != nil {
		return nil, fmt.Errorf("load directory: %w", err)
	}
	convs, err := s.repo.ChangedConversations(ctx, userID, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("load conversations: %w", err)
	}

	if dir.FetchedAt.Before(ts) {
		ts = dir.FetchedAt
	}
	if convs == nil {
		convs = []domain.Conversation{}
	}
	return &domain.InitialSyncResponse{
		Success:       true,
		Users:         dir.Users,
		Conversations: convs,
		Timestamp:     ts,
	}, nil
}

func (s *Server) directory(ctx context.Context) (*cache.DirectoryCacheResult, error) {
	if s.cache == nil {
		return s.loadDirectory(ctx)
	}

	key := s.cache.BuildDirectoryKey()
	result, err, _ := s.sf.Do(key, func() (interface{}, error) {
		return s.fetchWithCache(ctx, key)
	})
	if err != nil {
		return nil, err
	}

	dir, ok := result.(*cache.DirectoryCacheResult)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from singleflight")
	}
	return dir, nil
}

func (s *Server) fetchWithCache(ctx context.Context, key string) (*cache.DirectoryCacheResult, error) {
	l := log.Ctx(ctx)

	cached, err := s.cache.Get(ctx, key)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		l.Warn().Err(err).Msg("cache get error")
	}

	dir, err := s.loadDirectory(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, key, dir, s.cacheTTL); err != nil {
		l.Warn().Err(err).Msg("cache set error")
	}
	return dir, nil
}

func (s *Server) loadDirectory(ctx context.Context) (*cache.DirectoryCacheResult, error) {
	fetched := s.now()
	users, err := s.repo.ChangedUsers(ctx, time.Time{})
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []domain.User{}
	}
	return &cache.DirectoryCacheResult{Users: users, FetchedAt: fetched}, nil
}
