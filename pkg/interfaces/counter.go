package interfaces

import "context"

// CounterStore holds one monotonically increasing counter per session.
// Next returns 0 on the first call for a session and increments by one on every call.
type CounterStore interface {
	Next(ctx context.Context, session string) (int64, error)
}

// NextIDResponse index allocation response
type NextIDResponse struct {
	ID      int64  `json:"id"`
	Session string `json:"session"`
	VMID    string `json:"vmid"`
}
