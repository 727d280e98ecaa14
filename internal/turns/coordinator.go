// Package turns implements per-user message batching and debounce.
//
// Bursts of inbound messages accumulate into a turn; when the idle window
// after the last fragment expires, the turn closes and exactly one reply is
// dispatched. Three policies govern how a turn closes: batched (generate on
// expiry), eager (generate on arrival, restart on new arrivals, dispatch on
// expiry), and echo (no generation, stitched text echoed back).
package turns

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/buddy/internal/channels/typing"
)

// Transport delivers outbound text and working signals for the coordinator.
type Transport interface {
	// Deliver sends a reply to the user.
	Deliver(ctx context.Context, user, text string) error
	// SignalWorking requests a one-shot "working" indicator. Best-effort.
	SignalWorking(ctx context.Context, user string) error
}

// Completer produces a reply for a stitched prompt. Latency is unbounded
// from the coordinator's perspective; cancellation via ctx must abort the call.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Options configures turn timing and the default mode.
type Options struct {
	Window            time.Duration // idle window after the last fragment (default 5s)
	EchoDelay         time.Duration // simulated processing delay in echo mode (default 1s)
	DefaultMode       Mode          // mode for new/reset users (default ModeBatched)
	CompletionTimeout time.Duration // per-call deadline on the completer, 0 = unbounded
}

const (
	defaultWindow    = 5 * time.Second
	defaultEchoDelay = 1 * time.Second
)

// handle is a cancellable deferred operation (window timer or generation
// task). Replacing a handle cancels the old one first, so at most one of
// each kind is active per user.
type handle struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func newHandle() *handle {
	ctx, cancel := context.WithCancel(context.Background())
	return &handle{ctx: ctx, cancel: cancel}
}

// genTask is an in-flight generation request. done is closed when the task
// goroutine finishes, whether it staged a result, failed, or was cancelled.
type genTask struct {
	*handle
	done chan struct{}
}

// userState is the per-user turn record. The coordinator is its sole
// mutator; mu serializes arrivals, expiries, and resets for one user
// without blocking other users.
type userState struct {
	mu           sync.Mutex
	mode         Mode
	pending      []string
	window       *handle
	gen          *genTask
	staged       string
	lastActivity time.Time
	turnID       string
}

// Coordinator owns the user → turn state mapping and orchestrates timers,
// generation tasks, and reply dispatch.
type Coordinator struct {
	transport Transport
	completer Completer
	typing    *typing.Tracker
	opts      Options

	users sync.Map // user string → *userState
}

// New creates a Coordinator. The typing tracker signals through the
// transport's working indicator.
func New(transport Transport, completer Completer, opts Options) *Coordinator {
	if opts.Window <= 0 {
		opts.Window = defaultWindow
	}
	if opts.EchoDelay <= 0 {
		opts.EchoDelay = defaultEchoDelay
	}
	if opts.DefaultMode == "" {
		opts.DefaultMode = ModeBatched
	}

	c := &Coordinator{
		transport: transport,
		completer: completer,
		opts:      opts,
	}
	c.typing = typing.NewTracker(transport.SignalWorking)
	return c
}

// stateFor returns the turn state for a user, creating it on first contact.
// States live for the process lifetime and are reset between turns, never
// deleted.
func (c *Coordinator) stateFor(user string) *userState {
	if st, ok := c.users.Load(user); ok {
		return st.(*userState)
	}
	st, _ := c.users.LoadOrStore(user, &userState{mode: c.opts.DefaultMode})
	return st.(*userState)
}

// OnUserInit resets a user's turn state to defaults, cancelling any in-flight
// work, and returns the welcome text.
func (c *Coordinator) OnUserInit(user string) string {
	st := c.stateFor(user)
	st.mu.Lock()
	c.resetLocked(user, st)
	st.mode = c.opts.DefaultMode
	st.mu.Unlock()

	slog.Info("user state reset", "user", user, "mode", c.opts.DefaultMode)
	return WelcomeText
}

// OnModeChange cancels all in-flight work for the user, switches the mode,
// and returns the confirmation text. Pending fragments from the abandoned
// turn are discarded.
func (c *Coordinator) OnModeChange(user string, mode Mode) string {
	st := c.stateFor(user)
	st.mu.Lock()
	c.resetLocked(user, st)
	st.mode = mode
	st.mu.Unlock()

	slog.Info("mode switched", "user", user, "mode", mode)
	return mode.ConfirmationText()
}

// OnMessage appends a fragment to the user's current turn and applies the
// active mode's arrival policy. Non-blocking: timers and generation tasks
// run in their own goroutines.
func (c *Coordinator) OnMessage(ctx context.Context, user, text string) {
	st := c.stateFor(user)

	st.mu.Lock()
	st.lastActivity = time.Now()
	firstFragment := len(st.pending) == 0
	if firstFragment {
		st.turnID = uuid.NewString()[:8]
	}
	st.pending = append(st.pending, text)
	mode := st.mode
	turnID := st.turnID

	switch mode {
	case ModeEager:
		// Restart generation over the full pending set; prior work is
		// superseded, not queued.
		c.startGenerationLocked(user, st)
		c.startWindowLocked(user, st)
	default: // ModeBatched, ModeEcho
		c.startWindowLocked(user, st)
	}
	st.mu.Unlock()

	slog.Debug("fragment received",
		"user", user,
		"mode", mode,
		"turn_id", turnID,
		"first", firstFragment,
	)

	if firstFragment {
		c.typing.Start(ctx, user)
	}
}

// Mode returns the user's current mode (creating default state if absent).
func (c *Coordinator) Mode(user string) Mode {
	st := c.stateFor(user)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.mode
}

// Status describes a user's current turn state.
type Status struct {
	Mode         Mode
	PendingCount int
	LastActivity time.Time
}

// Status returns a snapshot of the user's turn state.
func (c *Coordinator) Status(user string) Status {
	st := c.stateFor(user)
	st.mu.Lock()
	defer st.mu.Unlock()
	return Status{
		Mode:         st.mode,
		PendingCount: len(st.pending),
		LastActivity: st.lastActivity,
	}
}

// resetLocked cancels the user's window timer and generation task, clears
// the turn, and stops the typing indicator. Caller holds st.mu.
func (c *Coordinator) resetLocked(user string, st *userState) {
	if st.window != nil {
		st.window.cancel()
		st.window = nil
	}
	if st.gen != nil {
		st.gen.cancel()
		st.gen = nil
	}
	st.pending = nil
	st.staged = ""
	c.typing.Stop(user)
}

// clearTurnLocked ends the current turn: pending and staged are cleared
// together, never partially. Caller holds st.mu.
func (c *Coordinator) clearTurnLocked(st *userState) {
	st.pending = nil
	st.staged = ""
}

// startWindowLocked replaces the user's window timer: the previous timer is
// cancelled before the new handle is installed. Caller holds st.mu.
func (c *Coordinator) startWindowLocked(user string, st *userState) {
	if st.window != nil {
		st.window.cancel()
	}
	w := newHandle()
	st.window = w
	go c.runWindow(user, st, w)
}

// runWindow waits out the idle window, then closes the turn under the
// active mode's expiry policy. A cancelled window has no effect.
func (c *Coordinator) runWindow(user string, st *userState, w *handle) {
	timer := time.NewTimer(c.opts.Window)
	defer timer.Stop()

	select {
	case <-w.ctx.Done():
		return
	case <-timer.C:
	}

	st.mu.Lock()
	if st.window != w {
		// Superseded between the timer firing and acquiring the lock.
		st.mu.Unlock()
		return
	}
	mode := st.mode
	st.mu.Unlock()

	switch mode {
	case ModeBatched:
		c.closeBatchedTurn(user, st, w)
	case ModeEager:
		c.closeEagerTurn(user, st, w)
	case ModeEcho:
		c.closeEchoTurn(user, st, w)
	}
}

// closeBatchedTurn generates a reply for the stitched pending fragments and
// dispatches it. The turn waits for the completion call; only a new arrival
// (which supersedes the window) can abort it.
func (c *Coordinator) closeBatchedTurn(user string, st *userState, w *handle) {
	st.mu.Lock()
	if st.window != w || len(st.pending) == 0 {
		if st.window == w {
			st.window = nil
		}
		st.mu.Unlock()
		return
	}
	prompt := strings.Join(st.pending, " ")
	turnID := st.turnID
	st.mu.Unlock()

	reply, err := c.complete(w.ctx, prompt)

	st.mu.Lock()
	defer st.mu.Unlock()
	if w.ctx.Err() != nil || st.window != w {
		// A new fragment arrived mid-generation; this turn is void.
		return
	}
	st.window = nil

	c.typing.Stop(user)
	if err != nil {
		slog.Warn("completion failed", "user", user, "turn_id", turnID, "error", err)
		c.deliver(user, FallbackReply, turnID)
	} else {
		c.deliver(user, reply, turnID)
	}
	c.clearTurnLocked(st)

	slog.Info("turn closed", "user", user, "mode", ModeBatched, "turn_id", turnID)
}

// closeEchoTurn dispatches the stitched text after a short simulated
// processing delay. No completion call.
func (c *Coordinator) closeEchoTurn(user string, st *userState, w *handle) {
	select {
	case <-w.ctx.Done():
		return
	case <-time.After(c.opts.EchoDelay):
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if w.ctx.Err() != nil || st.window != w {
		return
	}
	st.window = nil

	if len(st.pending) == 0 {
		return
	}
	turnID := st.turnID
	stitched := strings.Join(st.pending, " ")

	c.typing.Stop(user)
	c.deliver(user, "You said: "+stitched, turnID)
	c.clearTurnLocked(st)

	slog.Info("turn closed", "user", user, "mode", ModeEcho, "turn_id", turnID)
}

// closeEagerTurn waits for the in-flight generation task (expiry never
// cancels it — only a new arrival does), then dispatches the staged reply.
func (c *Coordinator) closeEagerTurn(user string, st *userState, w *handle) {
	st.mu.Lock()
	if st.window != w {
		st.mu.Unlock()
		return
	}
	g := st.gen
	st.mu.Unlock()

	if g != nil {
		select {
		case <-w.ctx.Done():
			// Superseded while waiting for generation.
			return
		case <-g.done:
		}
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if w.ctx.Err() != nil || st.window != w {
		return
	}
	st.window = nil
	st.gen = nil

	if st.staged == "" {
		// Nothing to send: empty turn, or a failed generation already
		// dispatched the fallback.
		return
	}
	turnID := st.turnID

	c.typing.Stop(user)
	c.deliver(user, st.staged, turnID)
	c.clearTurnLocked(st)

	slog.Info("turn closed", "user", user, "mode", ModeEager, "turn_id", turnID)
}

// startGenerationLocked replaces the user's generation task with a fresh one
// over the current pending set. The superseded task's eventual result is
// discarded. Caller holds st.mu.
func (c *Coordinator) startGenerationLocked(user string, st *userState) {
	if st.gen != nil {
		st.gen.cancel()
	}
	g := &genTask{handle: newHandle(), done: make(chan struct{})}
	st.gen = g
	prompt := strings.Join(st.pending, " ")
	go c.runGeneration(user, st, g, prompt)
}

// runGeneration calls the completer and stages the result. A cancelled task
// takes no effect at all; a failed task dispatches the fallback immediately.
func (c *Coordinator) runGeneration(user string, st *userState, g *genTask, prompt string) {
	defer close(g.done)

	reply, err := c.complete(g.ctx, prompt)

	st.mu.Lock()
	defer st.mu.Unlock()
	if g.ctx.Err() != nil || st.gen != g {
		return
	}

	if err != nil {
		slog.Warn("generation failed", "user", user, "turn_id", st.turnID, "error", err)
		st.gen = nil
		c.typing.Stop(user)
		c.deliver(user, FallbackReply, st.turnID)
		c.clearTurnLocked(st)
		return
	}

	st.staged = reply
}

// complete invokes the completer, applying the configured per-call deadline.
func (c *Coordinator) complete(ctx context.Context, prompt string) (string, error) {
	if c.opts.CompletionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.CompletionTimeout)
		defer cancel()
	}
	return c.completer.Complete(ctx, prompt)
}

// deliver sends the terminal reply for a turn. Delivery failures are
// surfaced in the log — the user otherwise silently receives nothing.
func (c *Coordinator) deliver(user, text, turnID string) {
	if err := c.transport.Deliver(context.Background(), user, text); err != nil {
		slog.Error("reply delivery failed", "user", user, "turn_id", turnID, "error", err)
	}
}
