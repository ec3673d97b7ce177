package backplane

import (
	"context"
	"sync/atomic"

	"github.com/weiawesome/wes-io-live/chat-sync/internal/hub"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/metrics"
	"github.com/weiawesome/wes-io-live/chat-sync/pkg/log"
)

// Local is the single-process backplane: every connection lives in one hub.
type Local struct {
	hub    *hub.Hub
	closed atomic.Bool
}

func NewLocal(h *hub.Hub) *Local {
	return &Local{hub: h}
}

func (b *Local) Publish(ctx context.Context, room, event string, payload any, opts ...PublishOption) error {
	if b.closed.Load() {
		return ErrClosed
	}
	data, err := encode(event, payload)
	if err != nil {
		return err
	}
	o := applyOptions(opts)
	n := b.hub.Deliver(room, data, o.exceptConn)
	metrics.BackplanePublished("local", event)

	l := log.Ctx(ctx)
	l.Debug().Str(log.FieldRoom, room).Str(log.FieldEvent, event).Int("delivered", n).Msg("published")
	return nil
}

func (b *Local) ForceJoin(ctx context.Context, userID, room string) error {
	if b.closed.Load() {
		return ErrClosed
	}
	b.hub.JoinUser(userID, room)
	return nil
}

func (b *Local) ForceLeave(ctx context.Context, userID, room string) error {
	if b.closed.Load() {
		return ErrClosed
	}
	b.hub.LeaveUser(userID, room)
	return nil
}

func (b *Local) Close() error {
	b.closed.Store(true)
	return nil
}
