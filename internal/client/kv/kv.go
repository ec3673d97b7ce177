// Package kv holds the pebble helpers shared by the client replica and the
// outbound queue. Both live in one database so a single batch can touch
// either.
package kv

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/pebble"
)

// ErrNotFound is returned when a key is absent.
var ErrNotFound = errors.New("not found")

// Open opens (or creates) the pebble database at dir.
func Open(dir string) (*pebble.DB, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return db, nil
}

// UpperBound returns the smallest key greater than every key with prefix.
func UpperBound(prefix []byte) []byte {
	upper := make([]byte, len(prefix))
	copy(upper, prefix)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] < 0xFF {
			upper[i]++
			return upper[:i+1]
		}
	}
	return append(upper, 0xFF)
}

// Reader is satisfied by *pebble.DB, indexed batches and snapshots.
type Reader interface {
	Get(key []byte) ([]byte, io.Closer, error)
	NewIter(o *pebble.IterOptions) (*pebble.Iterator, error)
}

// GetJSON decodes the value at key into v.
func GetJSON(r Reader, key []byte, v any) error {
	raw, closer, err := r.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	defer closer.Close()
	return json.Unmarshal(raw, v)
}

// SetJSON encodes v into b at key.
func SetJSON(b *pebble.Batch, key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Set(key, raw, nil)
}

// Scan calls fn for every key under prefix in key order. Key and value are
// only valid for the duration of the call.
func Scan(r Reader, prefix []byte, fn func(key, value []byte) error) error {
	it, err := r.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: UpperBound(prefix)})
	if err != nil {
		return err
	}
	defer it.Close()
	for ok := it.First(); ok; ok = it.Next() {
		if err := fn(it.Key(), it.Value()); err != nil {
			return err
		}
	}
	return it.Error()
}

// ScanJSON decodes every value under prefix as T.
func ScanJSON[T any](r Reader, prefix []byte) ([]T, error) {
	var out []T
	err := Scan(r, prefix, func(_, value []byte) error {
		var v T
		if err := json.Unmarshal(value, &v); err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	return out, err
}
