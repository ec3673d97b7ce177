// Package syncer drives the client side of the protocol. Every mutation is
// written to the replica and the outbound queue first, then emitted when a
// connection is up; the queue is replayed by FlushQueue and missed changes
// arrive through PerformDeltaSync.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/client/outbox"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/client/replica"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-sync/pkg/idgen"
)

// SyncAPI is the HTTP sync surface.
type SyncAPI interface {
	Pull(ctx context.Context, since time.Time) (*domain.DeltaResponse, error)
	Flush(ctx context.Context, items []domain.QueueItem) ([]domain.FlushResult, error)
	InitialSync(ctx context.Context) (*domain.InitialSyncResponse, error)
}

// Emitter sends one realtime event and waits for its ack.
type Emitter interface {
	Emit(ctx context.Context, event string, data any) (domain.Ack, error)
}

// Options configures an Engine.
type Options struct {
	UserID   string
	MaxBatch int
	Logger   zerolog.Logger
}

// FlushSummary counts the outcome of one FlushQueue run.
type FlushSummary struct {
	Sent    int
	Failed  int
	Retried int
}

type Engine struct {
	store  *replica.Store
	queue  *outbox.Outbox
	api    SyncAPI
	userID string
	batch  int
	logger zerolog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	socket Emitter

	syncGuard  Guard
	flushGuard Guard
}

func NewEngine(store *replica.Store, queue *outbox.Outbox, api SyncAPI, opts Options) *Engine {
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = 500
	}
	return &Engine{
		store:  store,
		queue:  queue,
		api:    api,
		userID: opts.UserID,
		batch:  opts.MaxBatch,
		logger: opts.Logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetSocket attaches the realtime connection; nil means offline.
func (e *Engine) SetSocket(s Emitter) {
	e.mu.Lock()
	e.socket = s
	e.mu.Unlock()
}

func (e *Engine) connection() Emitter {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.socket
}

// SendMessage stores a pending message, queues it and emits it when
// online. An emit failure leaves it pending for the next flush.
func (e *Engine) SendMessage(ctx context.Context, conversationID, content string) (*domain.Message, error) {
	conv, err := e.store.Conversation(conversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	now := e.now()
	msg := domain.Message{
		ID:             idgen.NewAt(now),
		ConversationID: conv.ID,
		SenderID:       e.userID,
		Content:        content,
		CreatedAt:      now,
		UpdatedAt:      now,
		Status:         domain.StatusPending,
	}
	if err := e.store.PutMessage(msg); err != nil {
		return nil, err
	}

	payload := domain.MessageSendPayload{
		ID:             msg.ID,
		ConversationID: conv.ID,
		Content:        content,
		Type:           conv.Type,
		CreatedAt:      &now,
	}
	if !conv.IsGroup() {
		payload.ReceiverID = conv.Counterpart(e.userID)
	}
	if err := e.enqueue(msg.ID, domain.ActionMessageSend, payload); err != nil {
		return nil, err
	}

	if e.emit(ctx, msg.ID, domain.EventMessageSend, payload) {
		if _, err := e.store.SetMessageStatus(msg.ID, domain.StatusSent, ""); err != nil {
			return nil, err
		}
		msg.Status = domain.StatusSent
	}
	return &msg, nil
}

// MarkRead records messageID as read locally and tells the server.
func (e *Engine) MarkRead(ctx context.Context, conversationID, messageID string) error {
	conv, err := e.store.Conversation(conversationID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	if err := e.store.MarkConversationRead(conv.ID, messageID); err != nil {
		return err
	}

	payload := domain.MessageReadPayload{
		ConversationID: conv.ID,
		MessageID:      messageID,
		Type:           conv.Type,
	}
	if msg, err := e.store.Message(messageID); err == nil {
		payload.SenderID = msg.SenderID
	}
	if !conv.IsGroup() && payload.SenderID == "" {
		payload.SenderID = conv.Counterpart(e.userID)
	}

	id := idgen.New()
	if err := e.enqueue(id, domain.ActionMessageRead, payload); err != nil {
		return err
	}
	e.emit(ctx, id, domain.EventMessageRead, payload)
	return nil
}

// DeleteMessage removes one of the caller's messages locally and tells the
// server.
func (e *Engine) DeleteMessage(ctx context.Context, messageID string) error {
	msg, err := e.store.Message(messageID)
	if err != nil {
		return fmt.Errorf("load message: %w", err)
	}
	conv, err := e.store.Conversation(msg.ConversationID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}

	if msg.Status.Unsent() {
		// The server never saw it; dropping the queued send is enough.
		if err := e.queue.Remove(msg.ID); err != nil {
			return err
		}
		return e.store.DeleteMessage(msg.ID)
	}

	if err := e.store.DeleteMessage(msg.ID); err != nil {
		return err
	}
	payload := domain.MessageDeletePayload{
		ConversationID: conv.ID,
		MessageID:      msg.ID,
		Type:           conv.Type,
	}
	if !conv.IsGroup() {
		payload.ReceiverID = conv.Counterpart(e.userID)
	}

	id := idgen.New()
	if err := e.enqueue(id, domain.ActionMessageDelete, payload); err != nil {
		return err
	}
	e.emit(ctx, id, domain.EventMessageDelete, payload)
	return nil
}

func (e *Engine) enqueue(id string, action domain.Action, payload any) error {
	item, err := domain.NewQueueItem(id, action, payload)
	if err != nil {
		return err
	}
	item.CreatedAt = e.now()
	return e.queue.Enqueue(item)
}

// emit sends the event when online and drops the queue item on a
// successful ack. It reports whether the server acked.
func (e *Engine) emit(ctx context.Context, itemID, event string, payload any) bool {
	conn := e.connection()
	if conn == nil {
		return false
	}
	l := e.logger.With().Str("event", event).Str("item_id", itemID).Logger()

	ack, err := conn.Emit(ctx, event, payload)
	if err != nil {
		l.Warn().Err(err).Msg("emit failed, left queued")
		return false
	}
	if !ack.Success {
		l.Warn().Str("code", ack.Code).Str("error", ack.Error).Msg("event rejected, left queued")
		return false
	}
	if err := e.queue.Remove(itemID); err != nil {
		l.Error().Err(err).Msg("failed to drop acked item")
	}
	return true
}

// PerformInitialSync loads the directory and the caller's conversations.
// Run PerformDeltaSync afterwards to fetch messages.
func (e *Engine) PerformInitialSync(ctx context.Context) error {
	return e.syncGuard.Do(func() error {
		resp, err := e.api.InitialSync(ctx)
		if err != nil {
			return err
		}
		if err := e.store.ApplyInitialSync(resp); err != nil {
			return err
		}
		e.logger.Info().Int("users", len(resp.Users)).Int("conversations", len(resp.Conversations)).Msg("initial sync applied")
		return nil
	})
}

// PerformDeltaSync pulls changes since the checkpoint and applies them in
// one batch. The checkpoint only moves when the batch commits.
func (e *Engine) PerformDeltaSync(ctx context.Context) (*domain.DeltaResponse, error) {
	var delta *domain.DeltaResponse
	err := e.syncGuard.Do(func() error {
		since, err := e.store.Checkpoint()
		if err != nil {
			return err
		}
		delta, err = e.api.Pull(ctx, since)
		if err != nil {
			return err
		}
		if err := e.store.ApplyDelta(delta); err != nil {
			return err
		}
		e.logger.Info().
			Int("messages", len(delta.Messages)).
			Int("conversations", len(delta.Conversations)).
			Int("users", len(delta.Users)).
			Int("deleted_messages", len(delta.DeletedMessageIDs)).
			Time("checkpoint", delta.Timestamp).
			Msg("delta applied")
		return nil
	})
	return delta, err
}

// FlushQueue replays the queue in FIFO batches. Successful items are
// dropped, permanent failures move to the dead list and transient ones
// stay queued for the next run.
func (e *Engine) FlushQueue(ctx context.Context) (FlushSummary, error) {
	var sum FlushSummary
	err := e.flushGuard.Do(func() error {
		for {
			items, err := e.queue.List(e.batch)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				return nil
			}
			results, err := e.api.Flush(ctx, items)
			if err != nil {
				return err
			}
			retried, err := e.applyResults(items, results, &sum)
			if err != nil {
				return err
			}
			if retried > 0 || len(items) < e.batch {
				// Retrying the same items again right away would not help.
				return nil
			}
		}
	})
	if err == nil {
		e.logger.Info().Int("sent", sum.Sent).Int("failed", sum.Failed).Int("retried", sum.Retried).Msg("queue flushed")
	}
	return sum, err
}

func (e *Engine) applyResults(items []domain.QueueItem, results []domain.FlushResult, sum *FlushSummary) (int, error) {
	byID := make(map[string]domain.FlushResult, len(results))
	for _, r := range results {
		byID[r.ID] = r
	}

	var done []string
	retried := 0
	for _, item := range items {
		r, ok := byID[item.ID]
		switch {
		case !ok:
			retried++
			if err := e.queue.RecordAttempt(item.ID, "no result returned"); err != nil {
				return retried, err
			}
		case r.Status == domain.ItemSuccess:
			done = append(done, item.ID)
			if item.Action == domain.ActionMessageSend {
				if err := e.settleMessage(item, domain.StatusSent, ""); err != nil {
					return retried, err
				}
			}
		case r.Retryable:
			retried++
			if err := e.queue.RecordAttempt(item.ID, r.Error); err != nil {
				return retried, err
			}
		default:
			sum.Failed++
			if err := e.queue.MarkFailed(item.ID, r.Error); err != nil {
				return retried, err
			}
			if item.Action == domain.ActionMessageSend {
				if err := e.settleMessage(item, domain.StatusFailed, r.Error); err != nil {
					return retried, err
				}
			}
		}
	}
	sum.Sent += len(done)
	sum.Retried += retried
	return retried, e.queue.Remove(done...)
}

// settleMessage updates the local copy of a queued send. The message may
// have been deleted locally in the meantime.
func (e *Engine) settleMessage(item domain.QueueItem, status domain.MessageStatus, reason string) error {
	id := item.ID
	var p domain.MessageSendPayload
	if err := json.Unmarshal(item.Payload, &p); err == nil && p.ID != "" {
		id = p.ID
	}
	_, err := e.store.SetMessageStatus(id, status, reason)
	if errors.Is(err, replica.ErrNotFound) {
		return nil
	}
	return err
}

// Retry moves a permanently failed item back into the queue and its
// message back to pending.
func (e *Engine) Retry(itemID string) error {
	if err := e.queue.Requeue(itemID); err != nil {
		return err
	}
	item, err := e.queue.Get(itemID)
	if err != nil {
		return err
	}
	if item.Action == domain.ActionMessageSend {
		return e.settleMessage(*item, domain.StatusPending, "")
	}
	return nil
}

// Reconnect attaches the new connection, flushes the queue and then pulls
// the delta so the replica reflects the flushed writes.
func (e *Engine) Reconnect(ctx context.Context, s Emitter) error {
	e.SetSocket(s)
	if _, err := e.FlushQueue(ctx); err != nil && !errors.Is(err, ErrAlreadySyncing) {
		return fmt.Errorf("flush queue: %w", err)
	}
	if _, err := e.PerformDeltaSync(ctx); err != nil && !errors.Is(err, ErrAlreadySyncing) {
		return fmt.Errorf("delta sync: %w", err)
	}
	return nil
}
