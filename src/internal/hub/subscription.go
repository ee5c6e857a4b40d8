// FILE: chatwisp/src/internal/hub/subscription.go
package hub

import (
	"sync/atomic"

	"chatwisp/src/internal/core"
	"chatwisp/src/internal/filter"
)

// Subscriber lifecycle
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	default:
		return "closed"
	}
}

type subscriber struct {
	ch    chan core.LogEntry
	state atomic.Int32
}

// Subscription is a viewer's handle on the hub
type Subscription struct {
	ID uint64

	// Entries from the snapshot, oldest first
	Replay []core.LogEntry

	// Live entries; closed when the subscriber is removed
	Events <-chan core.LogEntry

	// Newest replayed id, live entries at or below it were already replayed
	watermark string
	filter    *filter.Expr
	hub       *Hub
}

// Reports whether a live entry should be delivered to this viewer
func (s *Subscription) Accept(entry core.LogEntry) bool {
	if s.watermark != "" && entry.ID <= s.watermark {
		return false
	}
	return s.filter.Match(entry)
}

// Removes the subscription from its hub; idempotent
func (s *Subscription) Close() {
	s.hub.Unsubscribe(s.ID)
}
