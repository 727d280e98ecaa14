package turns

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeTransport records delivered replies and working signals.
type fakeTransport struct {
	mu        sync.Mutex
	delivered []string
	signals   int
}

func (f *fakeTransport) Deliver(_ context.Context, _, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, text)
	return nil
}

func (f *fakeTransport) SignalWorking(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals++
	return nil
}

func (f *fakeTransport) replies() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.delivered))
	copy(out, f.delivered)
	return out
}

func (f *fakeTransport) signalCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signals
}

// fakeCompleter records prompts and answers with a configurable delay,
// error, or canned transform.
type fakeCompleter struct {
	mu        sync.Mutex
	prompts   []string
	cancelled int

	delay time.Duration
	err   error
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-ctx.Done():
			f.mu.Lock()
			f.cancelled++
			f.mu.Unlock()
			return "", ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if err := ctx.Err(); err != nil {
		f.mu.Lock()
		f.cancelled++
		f.mu.Unlock()
		return "", err
	}
	if f.err != nil {
		return "", f.err
	}
	return "reply:" + prompt, nil
}

func (f *fakeCompleter) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.prompts))
	copy(out, f.prompts)
	return out
}

func (f *fakeCompleter) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

func newTestCoordinator(t *testing.T, mode Mode) (*Coordinator, *fakeTransport, *fakeCompleter) {
	t.Helper()
	tr := &fakeTransport{}
	cm := &fakeCompleter{}
	c := New(tr, cm, Options{
		Window:      40 * time.Millisecond,
		EchoDelay:   10 * time.Millisecond,
		DefaultMode: mode,
	})
	return c, tr, cm
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}

// TestBatchedSingleReply sends a burst of fragments inside one window and
// expects exactly one stitched reply after the window expires.
func TestBatchedSingleReply(t *testing.T) {
	c, tr, cm := newTestCoordinator(t, ModeBatched)
	ctx := context.Background()

	c.OnMessage(ctx, "u1", "hello")
	c.OnMessage(ctx, "u1", "how are")
	c.OnMessage(ctx, "u1", "you")

	if !waitFor(t, time.Second, func() bool { return len(tr.replies()) == 1 }) {
		t.Fatalf("expected 1 reply, got %v", tr.replies())
	}
	if got, want := tr.replies()[0], "reply:hello how are you"; got != want {
		t.Errorf("reply = %q, want %q", got, want)
	}
	if calls := cm.calls(); len(calls) != 1 {
		t.Errorf("completer called %d times, want 1", len(calls))
	}
	if c.typing.Signaling("u1") {
		t.Error("typing indicator still signaling after dispatch")
	}

	// No stray second dispatch.
	time.Sleep(80 * time.Millisecond)
	if n := len(tr.replies()); n != 1 {
		t.Errorf("replies after settle = %d, want 1", n)
	}
}

// TestWindowRestartsOnArrival spaces fragments so each lands inside the
// previous window; no dispatch may happen until the final window expires.
func TestWindowRestartsOnArrival(t *testing.T) {
	c, tr, _ := newTestCoordinator(t, ModeBatched)
	ctx := context.Background()

	c.OnMessage(ctx, "u1", "a")
	time.Sleep(25 * time.Millisecond)
	if n := len(tr.replies()); n != 0 {
		t.Fatalf("dispatched before window expiry: %v", tr.replies())
	}
	c.OnMessage(ctx, "u1", "b")
	time.Sleep(25 * time.Millisecond)
	if n := len(tr.replies()); n != 0 {
		t.Fatalf("dispatched before restarted window expiry: %v", tr.replies())
	}
	c.OnMessage(ctx, "u1", "c")

	if !waitFor(t, time.Second, func() bool { return len(tr.replies()) == 1 }) {
		t.Fatalf("expected 1 reply, got %v", tr.replies())
	}
	if got, want := tr.replies()[0], "reply:a b c"; got != want {
		t.Errorf("reply = %q, want %q", got, want)
	}
}

// TestBatchedArrivalDuringGenerationVoidsTurn starts a slow generation at
// window expiry, then sends another fragment; the superseded turn must
// produce no reply and the new turn must cover all fragments.
func TestBatchedArrivalDuringGenerationVoidsTurn(t *testing.T) {
	c, tr, cm := newTestCoordinator(t, ModeBatched)
	cm.delay = 60 * time.Millisecond
	ctx := context.Background()

	c.OnMessage(ctx, "u1", "first")
	// Let the window expire and generation start.
	time.Sleep(60 * time.Millisecond)
	c.OnMessage(ctx, "u1", "second")

	if !waitFor(t, 2*time.Second, func() bool { return len(tr.replies()) == 1 }) {
		t.Fatalf("expected 1 reply, got %v", tr.replies())
	}
	if got, want := tr.replies()[0], "reply:first second"; got != want {
		t.Errorf("reply = %q, want %q", got, want)
	}
}

// TestEagerRestartsGeneration verifies that each arrival in eager mode
// issues a fresh completion over the cumulative fragments and that only the
// final result is dispatched, once.
func TestEagerRestartsGeneration(t *testing.T) {
	c, tr, cm := newTestCoordinator(t, ModeEager)
	ctx := context.Background()

	c.OnMessage(ctx, "u1", "one")
	c.OnMessage(ctx, "u1", "two")
	c.OnMessage(ctx, "u1", "three")

	if !waitFor(t, time.Second, func() bool { return len(tr.replies()) == 1 }) {
		t.Fatalf("expected 1 reply, got %v", tr.replies())
	}
	if got, want := tr.replies()[0], "reply:one two three"; got != want {
		t.Errorf("reply = %q, want %q", got, want)
	}
	calls := cm.calls()
	if len(calls) != 3 {
		t.Fatalf("completer called %d times, want 3: %v", len(calls), calls)
	}
	if calls[0] != "one" || calls[1] != "one two" || calls[2] != "one two three" {
		t.Errorf("cumulative prompts wrong: %v", calls)
	}
}

// TestEagerCancelsSupersededGeneration checks the superseded generation's
// context is cancelled when a new fragment arrives.
func TestEagerCancelsSupersededGeneration(t *testing.T) {
	c, tr, cm := newTestCoordinator(t, ModeEager)
	cm.delay = 30 * time.Millisecond
	ctx := context.Background()

	c.OnMessage(ctx, "u1", "slow")
	time.Sleep(5 * time.Millisecond)
	c.OnMessage(ctx, "u1", "again")

	if !waitFor(t, time.Second, func() bool { return len(tr.replies()) == 1 }) {
		t.Fatalf("expected 1 reply, got %v", tr.replies())
	}
	if got, want := tr.replies()[0], "reply:slow again"; got != want {
		t.Errorf("reply = %q, want %q", got, want)
	}
	if cm.cancelCount() != 1 {
		t.Errorf("cancelled completions = %d, want 1", cm.cancelCount())
	}
}

// TestEagerWaitsForGenerationAtExpiry uses a generation slower than the
// window; expiry must wait for the staged result rather than dispatch early.
func TestEagerWaitsForGenerationAtExpiry(t *testing.T) {
	c, tr, cm := newTestCoordinator(t, ModeEager)
	cm.delay = 80 * time.Millisecond
	ctx := context.Background()

	c.OnMessage(ctx, "u1", "ponder")

	// Window (40ms) expires before the 80ms generation finishes.
	time.Sleep(60 * time.Millisecond)
	if n := len(tr.replies()); n != 0 {
		t.Fatalf("dispatched before generation finished: %v", tr.replies())
	}

	if !waitFor(t, time.Second, func() bool { return len(tr.replies()) == 1 }) {
		t.Fatalf("expected 1 reply, got %v", tr.replies())
	}
	if got, want := tr.replies()[0], "reply:ponder"; got != want {
		t.Errorf("reply = %q, want %q", got, want)
	}
}

// TestEchoStitchesWithoutCompleter verifies echo mode never touches the
// completer and prefixes the stitched fragments.
func TestEchoStitchesWithoutCompleter(t *testing.T) {
	c, tr, cm := newTestCoordinator(t, ModeEcho)
	ctx := context.Background()

	c.OnMessage(ctx, "u1", "ping")
	c.OnMessage(ctx, "u1", "pong")

	if !waitFor(t, time.Second, func() bool { return len(tr.replies()) == 1 }) {
		t.Fatalf("expected 1 reply, got %v", tr.replies())
	}
	if got, want := tr.replies()[0], "You said: ping pong"; got != want {
		t.Errorf("reply = %q, want %q", got, want)
	}
	if n := len(cm.calls()); n != 0 {
		t.Errorf("completer called %d times in echo mode, want 0", n)
	}
}

// TestModeChangeDiscardsPending switches modes mid-turn; the abandoned
// turn's fragments must never be dispatched.
func TestModeChangeDiscardsPending(t *testing.T) {
	c, tr, _ := newTestCoordinator(t, ModeBatched)
	ctx := context.Background()

	c.OnMessage(ctx, "u1", "doomed")
	got := c.OnModeChange("u1", ModeEcho)
	if !strings.Contains(got, "stitch") {
		t.Errorf("confirmation = %q, want mention of stitch", got)
	}
	if c.Mode("u1") != ModeEcho {
		t.Errorf("mode = %q, want %q", c.Mode("u1"), ModeEcho)
	}
	if n := c.Status("u1").PendingCount; n != 0 {
		t.Errorf("pending after switch = %d, want 0", n)
	}

	// Give the cancelled window time to have fired if the cancel leaked.
	time.Sleep(80 * time.Millisecond)
	if n := len(tr.replies()); n != 0 {
		t.Fatalf("abandoned turn dispatched: %v", tr.replies())
	}

	// The next turn starts clean under the new mode.
	c.OnMessage(ctx, "u1", "fresh")
	if !waitFor(t, time.Second, func() bool { return len(tr.replies()) == 1 }) {
		t.Fatalf("expected 1 reply, got %v", tr.replies())
	}
	if got, want := tr.replies()[0], "You said: fresh"; got != want {
		t.Errorf("reply = %q, want %q", got, want)
	}
}

// TestUserInitResets verifies init cancels in-flight work, restores the
// default mode, and returns the welcome text.
func TestUserInitResets(t *testing.T) {
	c, tr, _ := newTestCoordinator(t, ModeBatched)
	ctx := context.Background()

	c.OnModeChange("u1", ModeEcho)
	c.OnMessage(ctx, "u1", "dropped")
	welcome := c.OnUserInit("u1")
	if welcome != WelcomeText {
		t.Errorf("welcome = %q, want %q", welcome, WelcomeText)
	}
	if c.Mode("u1") != ModeBatched {
		t.Errorf("mode after init = %q, want default %q", c.Mode("u1"), ModeBatched)
	}

	time.Sleep(80 * time.Millisecond)
	if n := len(tr.replies()); n != 0 {
		t.Fatalf("reset turn dispatched: %v", tr.replies())
	}
}

// TestBatchedFallbackOnError dispatches the apology text when the completer
// fails, and still ends the turn.
func TestBatchedFallbackOnError(t *testing.T) {
	c, tr, cm := newTestCoordinator(t, ModeBatched)
	cm.err = errors.New("upstream down")
	ctx := context.Background()

	c.OnMessage(ctx, "u1", "hi")

	if !waitFor(t, time.Second, func() bool { return len(tr.replies()) == 1 }) {
		t.Fatalf("expected 1 reply, got %v", tr.replies())
	}
	if got := tr.replies()[0]; got != FallbackReply {
		t.Errorf("reply = %q, want fallback", got)
	}
	if c.Status("u1").PendingCount != 0 {
		t.Error("pending not cleared after failed turn")
	}
	if c.typing.Signaling("u1") {
		t.Error("typing indicator still signaling after failed turn")
	}

	// A fresh turn works after the failed one.
	cm.err = nil
	c.OnMessage(ctx, "u1", "retry")
	if !waitFor(t, time.Second, func() bool { return len(tr.replies()) == 2 }) {
		t.Fatalf("expected 2 replies, got %v", tr.replies())
	}
	if got, want := tr.replies()[1], "reply:retry"; got != want {
		t.Errorf("reply = %q, want %q", got, want)
	}
}

// TestEagerFallbackImmediate dispatches the fallback as soon as generation
// fails, without waiting for the window, and window expiry adds nothing.
func TestEagerFallbackImmediate(t *testing.T) {
	c, tr, cm := newTestCoordinator(t, ModeEager)
	cm.err = errors.New("boom")
	ctx := context.Background()

	c.OnMessage(ctx, "u1", "hi")

	if !waitFor(t, 30*time.Millisecond, func() bool { return len(tr.replies()) == 1 }) {
		t.Fatalf("fallback not dispatched before window expiry: %v", tr.replies())
	}
	if got := tr.replies()[0]; got != FallbackReply {
		t.Errorf("reply = %q, want fallback", got)
	}

	time.Sleep(80 * time.Millisecond)
	if n := len(tr.replies()); n != 1 {
		t.Errorf("replies after window expiry = %d, want 1", n)
	}
}

// TestUsersAreIndependent runs two users concurrently in different modes.
func TestUsersAreIndependent(t *testing.T) {
	c, tr, _ := newTestCoordinator(t, ModeBatched)
	ctx := context.Background()

	c.OnModeChange("u2", ModeEcho)
	c.OnMessage(ctx, "u1", "alpha")
	c.OnMessage(ctx, "u2", "beta")

	if !waitFor(t, time.Second, func() bool { return len(tr.replies()) == 2 }) {
		t.Fatalf("expected 2 replies, got %v", tr.replies())
	}
	got := tr.replies()
	want := map[string]bool{"reply:alpha": true, "You said: beta": true}
	for _, r := range got {
		if !want[r] {
			t.Errorf("unexpected reply %q", r)
		}
	}
}

// TestTypingSignalOncePerTurn expects a single working signal per turn
// regardless of fragment count.
func TestTypingSignalOncePerTurn(t *testing.T) {
	c, tr, _ := newTestCoordinator(t, ModeBatched)
	ctx := context.Background()

	c.OnMessage(ctx, "u1", "a")
	c.OnMessage(ctx, "u1", "b")
	c.OnMessage(ctx, "u1", "c")

	if !waitFor(t, time.Second, func() bool { return len(tr.replies()) == 1 }) {
		t.Fatalf("expected 1 reply, got %v", tr.replies())
	}
	if n := tr.signalCount(); n != 1 {
		t.Errorf("working signals = %d, want 1", n)
	}

	// A second turn signals again.
	c.OnMessage(ctx, "u1", "next")
	if !waitFor(t, time.Second, func() bool { return len(tr.replies()) == 2 }) {
		t.Fatalf("expected 2 replies, got %v", tr.replies())
	}
	if n := tr.signalCount(); n != 2 {
		t.Errorf("working signals = %d, want 2", n)
	}
}
