package cache

import (
	"context"
	"time"

	"github.com/weiawesome/wes-io-live/chat-sync/internal/domain"
)

// DirectoryCacheResult is a snapshot of the user directory. FetchedAt is
// taken before the snapshot was read so it is safe as a sync checkpoint.
type DirectoryCacheResult struct {
	Users     []domain.User `json:"users"`
	FetchedAt time.Time     `json:"fetched_at"`
}

type DirectoryCache interface {
	Get(ctx context.Context, key string) (*DirectoryCacheResult, error)
	Set(ctx context.Context, key string, result *DirectoryCacheResult, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	BuildDirectoryKey() string
	Close() error
}
