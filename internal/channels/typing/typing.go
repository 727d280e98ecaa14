// Package typing tracks per-user "working" indicator state.
//
// Chat platforms auto-expire typing indicators (Telegram after ~5s, Discord
// after ~10s), so stopping only needs to drop local membership — no transport
// call is required.
package typing

import (
	"context"
	"log/slog"
	"sync"
)

// SignalFunc requests a one-shot "working" signal from the transport
// for the given user.
type SignalFunc func(ctx context.Context, user string) error

// Tracker tracks which users currently have a working signal outstanding.
// Start is idempotent per turn: the transport is only signalled on the
// first call for a user until Stop is called.
type Tracker struct {
	mu     sync.Mutex
	active map[string]struct{}
	signal SignalFunc
}

// NewTracker creates a Tracker that signals via fn.
func NewTracker(fn SignalFunc) *Tracker {
	return &Tracker{
		active: make(map[string]struct{}),
		signal: fn,
	}
}

// Start marks the user as signaling and requests a working signal from the
// transport. No-op if the user is already signaling. Signal failures are
// logged, not returned — typing indicators are best-effort.
func (t *Tracker) Start(ctx context.Context, user string) {
	t.mu.Lock()
	if _, ok := t.active[user]; ok {
		t.mu.Unlock()
		return
	}
	t.active[user] = struct{}{}
	t.mu.Unlock()

	if err := t.signal(ctx, user); err != nil {
		slog.Warn("typing signal failed", "user", user, "error", err)
	}
}

// Stop removes the user from the signaling set. Idempotent.
func (t *Tracker) Stop(user string) {
	t.mu.Lock()
	delete(t.active, user)
	t.mu.Unlock()
}

// Signaling reports whether the user currently has a working signal outstanding.
func (t *Tracker) Signaling(user string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.active[user]
	return ok
}
