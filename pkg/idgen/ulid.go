// Package idgen produces the time-ordered identifiers used for messages,
// conversations and queue items. ULIDs sort lexicographically by creation
// time, which lets "messages since pointer" be answered with a string
// comparison.
package idgen

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// New returns a ULID for the current time. Ids generated within the same
// millisecond by this process are strictly increasing.
func New() string {
	return NewAt(time.Now())
}

// NewAt returns a ULID for t.
func NewAt(t time.Time) string {
	mu.Lock()
	defer mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(t), entropy)
	if err != nil {
		// Monotonic entropy overflowed inside one millisecond; fall back to a
		// fresh random source.
		return ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
	}
	return id.String()
}

// Valid reports whether id is a well-formed ULID.
func Valid(id string) bool {
	if len(id) != ulid.EncodedSize {
		return false
	}
	_, err := ulid.ParseStrict(id)
	return err == nil
}

// Time returns the timestamp encoded in id.
func Time(id string) (time.Time, error) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid ULID format: %w", err)
	}
	return ulid.Time(parsed.Time()), nil
}
