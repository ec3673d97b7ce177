package backplane

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/weiawesome/wes-io-live/chat-sync/internal/hub"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/metrics"
	"github.com/weiawesome/wes-io-live/chat-sync/pkg/log"
	"github.com/weiawesome/wes-io-live/chat-sync/pkg/pubsub"
)

// Distributed shares fan-out between instances over pkg/pubsub (redis or
// kafka). Every operation is applied to the local hub synchronously and
// then published on one channel; peers apply it when they receive it and
// skip events they originated.
//
// Because joins and deliveries share the channel, a peer applies a
// ForceJoin before any Publish issued after it by the same instance.
type Distributed struct {
	hub        *hub.Hub
	ps         pubsub.PubSub
	channel    string
	instanceID string
	driver     string
	closed     atomic.Bool
}

func NewDistributed(h *hub.Hub, ps pubsub.PubSub, channel, instanceID, driver string) *Distributed {
	if channel == "" {
		channel = pubsub.ChannelBackplane
	}
	return &Distributed{
		hub:        h,
		ps:         ps,
		channel:    channel,
		instanceID: instanceID,
		driver:     driver,
	}
}

// Run consumes peer events until ctx is done, resubscribing after
// transient failures.
func (b *Distributed) Run(ctx context.Context) {
	l := log.L().With().Str(log.FieldDriver, b.driver).Logger()
	for {
		if err := b.consume(ctx); err != nil {
			l.Error().Err(err).Msg("backplane subscription failed, retrying")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}

// Subscribe registers the consumer and returns once the subscription is
// live; events are applied on a background goroutine. Used by Run and by
// callers that need the subscription established before publishing.
func (b *Distributed) Subscribe(ctx context.Context) (<-chan struct{}, error) {
	events, err := b.ps.Subscribe(ctx, b.channel)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			b.apply(ev)
		}
	}()
	return done, nil
}

func (b *Distributed) consume(ctx context.Context) error {
	done, err := b.Subscribe(ctx)
	if err != nil {
		return err
	}
	<-done
	return nil
}

func (b *Distributed) apply(ev *pubsub.Event) {
	if ev.Origin == b.instanceID {
		return
	}
	l := log.L()

	switch ev.Type {
	case pubsub.EventPublish:
		var d delivery
		if err := ev.UnmarshalPayload(&d); err != nil {
			l.Warn().Err(err).Msg("malformed backplane delivery")
			return
		}
		data, err := encode(d.Event, d.Data)
		if err != nil {
			return
		}
		b.hub.Deliver(ev.RoomID, data, d.ExceptConn)

	case pubsub.EventForceJoin, pubsub.EventForceLeave:
		var m membership
		if err := ev.UnmarshalPayload(&m); err != nil {
			l.Warn().Err(err).Msg("malformed backplane membership")
			return
		}
		if ev.Type == pubsub.EventForceJoin {
			b.hub.JoinUser(m.UserID, ev.RoomID)
		} else {
			b.hub.LeaveUser(m.UserID, ev.RoomID)
		}

	default:
		l.Warn().Str("type", ev.Type).Msg("unknown backplane event type")
		return
	}
	metrics.BackplaneReceived(ev.Type)
}

func (b *Distributed) Publish(ctx context.Context, room, event string, payload any, opts ...PublishOption) error {
	if b.closed.Load() {
		return ErrClosed
	}
	o := applyOptions(opts)

	data, err := encode(event, payload)
	if err != nil {
		return err
	}
	b.hub.Deliver(room, data, o.exceptConn)

	raw, err := marshalRaw(payload)
	if err != nil {
		return err
	}
	if err := b.send(ctx, pubsub.EventPublish, room, delivery{Event: event, Data: raw, ExceptConn: o.exceptConn}); err != nil {
		return err
	}
	metrics.BackplanePublished(b.driver, event)
	return nil
}

func (b *Distributed) ForceJoin(ctx context.Context, userID, room string) error {
	if b.closed.Load() {
		return ErrClosed
	}
	b.hub.JoinUser(userID, room)
	return b.send(ctx, pubsub.EventForceJoin, room, membership{UserID: userID})
}

func (b *Distributed) ForceLeave(ctx context.Context, userID, room string) error {
	if b.closed.Load() {
		return ErrClosed
	}
	b.hub.LeaveUser(userID, room)
	return b.send(ctx, pubsub.EventForceLeave, room, membership{UserID: userID})
}

func (b *Distributed) send(ctx context.Context, typ, room string, body any) error {
	ev, err := pubsub.NewEvent(typ, room, body)
	if err != nil {
		return fmt.Errorf("encode backplane event: %w", err)
	}
	ev.Origin = b.instanceID
	if err := b.ps.Publish(ctx, b.channel, ev); err != nil {
		return fmt.Errorf("publish backplane event: %w", err)
	}
	return nil
}

func (b *Distributed) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.ps.Close()
}
