// Package conductor implements the six long-lived conductor roles that
// drive the task lifecycle by reacting to bus events: Inbox, Workflow,
// Context, Quality, Learning and Chief. Each has a stable name, a
// start/stop lifecycle, and a set of event subscriptions. Conductors
// never call each other directly; they only publish events the others
// may be subscribed to.
package conductor

import (
	"log/slog"
	"sync"

	"github.com/coreclaw/coreclaw/internal/bus"
)

// Role is the lifecycle contract every conductor satisfies.
type Role interface {
	Name() string
	Start()
	Stop()
}

// base tracks one conductor's bus subscriptions so Stop can unwind all
// of them, and guards against a double Start or double Stop.
type base struct {
	name   string
	eb     *bus.Bus
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	tokens  []bus.Token
}

func newBase(name string, eb *bus.Bus, logger *slog.Logger) base {
	if logger == nil {
		logger = slog.Default()
	}
	return base{name: name, eb: eb, logger: logger}
}

// Name returns the conductor's stable role name.
func (b *base) Name() string { return b.name }

// on subscribes handler to topic and records the token so Stop can
// unsubscribe it later. Only meaningful when called from Start.
func (b *base) on(topic string, handler bus.HandlerFunc) {
	b.tokens = append(b.tokens, b.eb.Subscribe(topic, handler))
}

// markStarted flips the conductor into the running state, returning
// false if it was already running — Start is idempotent.
func (b *base) markStarted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return false
	}
	b.running = true
	return true
}

// Stop unsubscribes every handler registered via on. It is safe to
// call Stop on a conductor that was never started or already stopped.
func (b *base) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return
	}
	for _, tok := range b.tokens {
		b.eb.Unsubscribe(tok)
	}
	b.tokens = nil
	b.running = false
}
