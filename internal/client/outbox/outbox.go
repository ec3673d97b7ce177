// Package outbox is the client's durable FIFO of mutations the server has
// not confirmed yet.
package outbox

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/client/kv"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/domain"
)

// Key layout:
// queue:{seq}       QueueItem, seq zero padded so keys sort FIFO
// queueidx:{id}     seq of the live item with that id
// dead:{id}         QueueItem that failed permanently
// meta:queue_seq    last assigned seq
const (
	prefixQueue = "queue:"
	prefixIndex = "queueidx:"
	prefixDead  = "dead:"
	keySeq      = "meta:queue_seq"
)

var ErrNotFound = kv.ErrNotFound

func queueKey(seq uint64) []byte { return []byte(fmt.Sprintf("%s%020d", prefixQueue, seq)) }
func indexKey(id string) []byte   { return []byte(prefixIndex + id) }
func deadKey(id string) []byte    { return []byte(prefixDead + id) }

// Outbox is safe for concurrent use.
type Outbox struct {
	db  *pebble.DB
	mu  sync.Mutex
	seq uint64
}

// New wraps db, resuming the sequence where the last run stopped.
func New(db *pebble.DB) (*Outbox, error) {
	o := &Outbox{db: db}
	raw, closer, err := db.Get([]byte(keySeq))
	switch {
	case err == nil:
		o.seq, err = strconv.ParseUint(string(raw), 10, 64)
		closer.Close()
		if err != nil {
			return nil, fmt.Errorf("corrupt queue sequence: %w", err)
		}
	case errors.Is(err, pebble.ErrNotFound):
	default:
		return nil, err
	}
	return o, nil
}

// Enqueue appends item. Enqueueing an id that is already queued is a no-op.
func (o *Outbox) Enqueue(item domain.QueueItem) error {
	if item.ID == "" {
		return errors.New("queue item id is required")
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, err := o.seqOf(item.ID); err == nil {
		return nil
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	b := o.db.NewBatch()
	defer b.Close()
	seq, err := o.appendLocked(b, item)
	if err != nil {
		return err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return err
	}
	o.seq = seq
	return nil
}

// appendLocked stages item at the tail of the queue in b.
func (o *Outbox) appendLocked(b *pebble.Batch, item domain.QueueItem) (uint64, error) {
	seq := o.seq + 1
	if err := kv.SetJSON(b, queueKey(seq), item); err != nil {
		return 0, err
	}
	if err := b.Set(indexKey(item.ID), []byte(strconv.FormatUint(seq, 10)), nil); err != nil {
		return 0, err
	}
	if err := b.Set([]byte(keySeq), []byte(strconv.FormatUint(seq, 10)), nil); err != nil {
		return 0, err
	}
	return seq, nil
}

func (o *Outbox) seqOf(id string) (uint64, error) {
	raw, closer, err := o.db.Get(indexKey(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	defer closer.Close()
	return strconv.ParseUint(string(raw), 10, 64)
}

// List returns up to limit items in insertion order; limit <= 0 means all.
func (o *Outbox) List(limit int) ([]domain.QueueItem, error) {
	items, err := kv.ScanJSON[domain.QueueItem](o.db, []byte(prefixQueue))
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// Get returns the live item with id.
func (o *Outbox) Get(id string) (*domain.QueueItem, error) {
	seq, err := o.seqOf(id)
	if err != nil {
		return nil, err
	}
	var item domain.QueueItem
	if err := kv.GetJSON(o.db, queueKey(seq), &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// Len counts the live items.
func (o *Outbox) Len() (int, error) {
	n := 0
	err := kv.Scan(o.db, []byte(prefixIndex), func(_, _ []byte) error {
		n++
		return nil
	})
	return n, err
}

// Remove drops the given ids. Unknown ids are ignored.
func (o *Outbox) Remove(ids ...string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	b := o.db.NewBatch()
	defer b.Close()
	for _, id := range ids {
		seq, err := o.seqOf(id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if err := b.Delete(queueKey(seq), nil); err != nil {
			return err
		}
		if err := b.Delete(indexKey(id), nil); err != nil {
			return err
		}
	}
	if b.Empty() {
		return nil
	}
	return b.Commit(pebble.Sync)
}

// RecordAttempt counts a transient failure on a live item; it stays queued.
func (o *Outbox) RecordAttempt(id, reason string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	seq, err := o.seqOf(id)
	if err != nil {
		return err
	}
	var item domain.QueueItem
	if err := kv.GetJSON(o.db, queueKey(seq), &item); err != nil {
		return err
	}
	item.Attempts++
	item.LastError = reason

	b := o.db.NewBatch()
	defer b.Close()
	if err := kv.SetJSON(b, queueKey(seq), item); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

// MarkFailed moves a permanently rejected item to the dead list so later
// flushes skip it.
func (o *Outbox) MarkFailed(id, reason string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	seq, err := o.seqOf(id)
	if err != nil {
		return err
	}
	var item domain.QueueItem
	if err := kv.GetJSON(o.db, queueKey(seq), &item); err != nil {
		return err
	}
	item.Attempts++
	item.LastError = reason

	b := o.db.NewBatch()
	defer b.Close()
	if err := b.Delete(queueKey(seq), nil); err != nil {
		return err
	}
	if err := b.Delete(indexKey(id), nil); err != nil {
		return err
	}
	if err := kv.SetJSON(b, deadKey(id), item); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

// Failed lists the dead items ordered by id.
func (o *Outbox) Failed() ([]domain.QueueItem, error) {
	return kv.ScanJSON[domain.QueueItem](o.db, []byte(prefixDead))
}

// Requeue moves a dead item back to the tail of the queue for a manual
// retry.
func (o *Outbox) Requeue(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var item domain.QueueItem
	if err := kv.GetJSON(o.db, deadKey(id), &item); err != nil {
		return err
	}
	item.LastError = ""

	b := o.db.NewBatch()
	defer b.Close()
	if err := b.Delete(deadKey(id), nil); err != nil {
		return err
	}
	seq, err := o.appendLocked(b, item)
	if err != nil {
		return err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return err
	}
	o.seq = seq
	return nil
}
