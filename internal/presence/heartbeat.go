package presence

import (
	"context"
	"sync"
	"time"

	"github.com/weiawesome/wes-io-live/chat-sync/pkg/log"
)

// UserSource lists the users connected to this instance. *hub.Hub
// satisfies it.
type UserSource interface {
	ConnectedUserIDs() []string
}

// Heartbeat periodically refreshes presence expiry for locally connected
// users so their records outlive the TTL only while they stay connected.
type Heartbeat struct {
	store    Store
	users    UserSource
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewHeartbeat(store Store, users UserSource, interval time.Duration) *Heartbeat {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Heartbeat{store: store, users: users, interval: interval}
}

// Start launches the refresh loop. Calling Start twice is a no-op.
func (h *Heartbeat) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		return
	}
	ctx, h.cancel = context.WithCancel(ctx)
	h.done = make(chan struct{})
	go h.loop(ctx)

	l := log.L()
	l.Info().Dur("interval", h.interval).Msg("presence heartbeat started")
}

func (h *Heartbeat) loop(ctx context.Context) {
	defer close(h.done)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.RefreshOnce(ctx)
		}
	}
}

// RefreshOnce extends presence for every connected user.
func (h *Heartbeat) RefreshOnce(ctx context.Context) {
	users := h.users.ConnectedUserIDs()
	if err := h.store.Refresh(ctx, users); err != nil {
		l := log.L()
		l.Error().Err(err).Int("users", len(users)).Msg("failed to refresh presence")
	}
}

// Stop halts the loop and waits for it to exit.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.cancel = nil
	h.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}
