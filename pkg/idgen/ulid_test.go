package idgen

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsMonotonic(t *testing.T) {
	ids := make([]string, 500)
	for i := range ids {
		ids[i] = New()
	}
	assert.True(t, sort.StringsAreSorted(ids))

	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}

func TestNewAtOrdersByTime(t *testing.T) {
	early := NewAt(time.Now().Add(-time.Hour))
	late := New()
	assert.Less(t, early, late)
}

func TestValidAndTime(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	id := NewAt(at)

	assert.True(t, Valid(id))
	assert.False(t, Valid("short"))
	assert.False(t, Valid("ZZZZZZZZZZZZZZZZZZZZZZZZZZ"))

	got, err := Time(id)
	require.NoError(t, err)
	assert.True(t, at.Equal(got))
}
