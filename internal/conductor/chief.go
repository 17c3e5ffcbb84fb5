package conductor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/coreclaw/coreclaw/internal/bus"
)

// Chief subscribes to task.completed, task.failed and task.escalated,
// counting each, and publishes a periodic aggregate briefing. It never
// mutates a task itself; it only reports on what happened.
type Chief struct {
	base

	mu        sync.Mutex
	completed int
	failed    int
	escalated int
}

// NewChief creates the Chief conductor.
func NewChief(eb *bus.Bus, logger *slog.Logger) *Chief {
	return &Chief{base: newBase("chief", eb, logger)}
}

// Start subscribes to the task lifecycle topics it aggregates. It is
// idempotent.
func (c *Chief) Start() {
	if !c.markStarted() {
		return
	}
	c.on(bus.TopicTaskCompleted, c.count(&c.completed))
	c.on(bus.TopicTaskFailed, c.count(&c.failed))
	c.on(bus.TopicTaskEscalated, c.count(&c.escalated))
}

func (c *Chief) count(counter *int) bus.HandlerFunc {
	return func(bus.Envelope) {
		c.mu.Lock()
		*counter++
		c.mu.Unlock()
	}
}

// RunBriefing is registered with cron.ChiefBriefingJob. It publishes
// the counts accumulated since the last briefing and resets them.
func (c *Chief) RunBriefing(_ context.Context) {
	c.mu.Lock()
	ev := bus.BriefingEvent{Completed: c.completed, Failed: c.failed, Escalated: c.escalated}
	c.completed, c.failed, c.escalated = 0, 0, 0
	c.mu.Unlock()

	c.eb.Publish(bus.TopicConductorBriefing, ev)
}
