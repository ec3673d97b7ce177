package syncer

import (
	"errors"
	"sync/atomic"
)

var ErrAlreadySyncing = errors.New("already syncing")

// Guard lets one run at a time through and turns the rest away instead of
// queueing them behind it.
type Guard struct {
	busy atomic.Bool
}

// Do runs fn unless another call is in flight.
func (g *Guard) Do(fn func() error) error {
	if !g.busy.CompareAndSwap(false, true) {
		return ErrAlreadySyncing
	}
	defer g.busy.Store(false)
	return fn()
}

// Busy reports whether a run is in flight.
func (g *Guard) Busy() bool {
	return g.busy.Load()
}
