// Package backplane fans real-time events out to every connection in a
// room, whichever instance holds the connection.
package backplane

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/weiawesome/wes-io-live/chat-sync/internal/domain"
)

var ErrClosed = errors.New("backplane closed")

// Backplane is injected into the event handlers. Implementations deliver
// each Publish at most once to every connection attached to the room at
// the time of delivery.
type Backplane interface {
	Publish(ctx context.Context, room, event string, payload any, opts ...PublishOption) error
	// ForceJoin attaches every connection of userID, on every instance, to
	// room. It is idempotent.
	ForceJoin(ctx context.Context, userID, room string) error
	ForceLeave(ctx context.Context, userID, room string) error
	Close() error
}

type publishOptions struct {
	exceptConn string
}

// PublishOption tunes a single Publish call.
type PublishOption func(*publishOptions)

// ExceptConnection skips the given connection, typically the sender's.
func ExceptConnection(connID string) PublishOption {
	return func(o *publishOptions) { o.exceptConn = connID }
}

func applyOptions(opts []PublishOption) publishOptions {
	var o publishOptions
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// delivery is what travels between instances for a publish.
type delivery struct {
	Event      string          `json:"event"`
	Data       json.RawMessage `json:"data"`
	ExceptConn string          `json:"except_conn,omitempty"`
}

// membership travels between instances for force join / leave.
type membership struct {
	UserID string `json:"user_id"`
}

func encode(event string, payload any) ([]byte, error) {
	return domain.EncodeFrame(event, "", payload)
}

func marshalRaw(payload any) (json.RawMessage, error) {
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(payload)
}
