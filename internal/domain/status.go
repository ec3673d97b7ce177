package domain

// MessageStatus is the client-side delivery state of a message.
//
//	pending → sent → delivered → seen
//
// failed marks a permanent send failure; the message is still unsent and can
// be retried, so it ranks with pending.
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusFailed    MessageStatus = "failed"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusSeen      MessageStatus = "seen"
)

func (s MessageStatus) rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusSeen:
		return 3
	default:
		return 0
	}
}

// CanTransition reports whether moving from s to next is allowed.
// Status never moves backwards.
func (s MessageStatus) CanTransition(next MessageStatus) bool {
	if s == next {
		return false
	}
	if s.rank() == 0 && next.rank() == 0 {
		return true
	}
	return next.rank() > s.rank()
}

// Unsent reports whether the message still needs to reach the server.
func (s MessageStatus) Unsent() bool {
	return s.rank() == 0
}

// Max returns the more advanced of s and other.
func (s MessageStatus) Max(other MessageStatus) MessageStatus {
	if other.rank() > s.rank() {
		return other
	}
	if s == "" {
		return other
	}
	return s
}
