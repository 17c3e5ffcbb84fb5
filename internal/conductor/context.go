package conductor

import (
	"context"
	"log/slog"

	"github.com/coreclaw/coreclaw/internal/bus"
	"github.com/coreclaw/coreclaw/internal/store"
)

const (
	maxThreadMessages = 20
	maxBodyChars      = 500
)

// Context subscribes to task.queued. When a task references a source
// message, it gathers recent messages from the same session, queries
// any configured knowledge sources, and publishes the assembled bundle
// as context for whichever handler runs the task next.
type Context struct {
	base
	st      *store.Store
	sources []KnowledgeSource
}

// NewContext creates the Context conductor.
func NewContext(st *store.Store, eb *bus.Bus, logger *slog.Logger, sources []KnowledgeSource) *Context {
	return &Context{base: newBase("context", eb, logger), st: st, sources: sources}
}

// Start subscribes to task.queued. It is idempotent.
func (c *Context) Start() {
	if !c.markStarted() {
		return
	}
	c.on(bus.TopicTaskQueued, c.handleTaskQueued)
}

func (c *Context) handleTaskQueued(env bus.Envelope) {
	ev, ok := env.Payload.(bus.TaskStateChangedEvent)
	if !ok {
		return
	}
	ctx := context.Background()

	task, err := c.st.GetTask(ctx, ev.TaskID)
	if err != nil {
		c.logger.Error("context_get_task_failed", slog.String("task_id", ev.TaskID), slog.String("error", err.Error()))
		return
	}
	if task.MessageID == "" {
		return
	}

	msg, err := c.st.GetMessage(ctx, task.MessageID)
	if err != nil {
		c.logger.Error("context_get_message_failed", slog.String("message_id", task.MessageID), slog.String("error", err.Error()))
		return
	}

	thread := c.gatherThread(ctx, msg.SessionID)
	query := msg.Body
	if query == "" {
		query = msg.ID
	}
	snippets := c.queryKnowledgeSources(ctx, query)

	c.eb.Publish(bus.TopicConductorContextReady, bus.ContextReadyEvent{
		TaskID:         task.ID,
		ThreadMessages: thread,
		Snippets:       snippets,
	})
}

func (c *Context) gatherThread(ctx context.Context, sessionID string) []string {
	msgs, err := c.st.ListMessagesBySession(ctx, sessionID, maxThreadMessages)
	if err != nil {
		c.logger.Error("context_list_thread_failed", slog.String("session_id", sessionID), slog.String("error", err.Error()))
		return nil
	}
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, trim(m.Body, maxBodyChars))
	}
	return out
}

func (c *Context) queryKnowledgeSources(ctx context.Context, query string) []string {
	var out []string
	for _, source := range c.sources {
		snippets, err := source.Query(ctx, query)
		if err != nil {
			c.logger.Warn("context_knowledge_source_failed", slog.String("source", source.Name()), slog.String("error", err.Error()))
			continue
		}
		for _, s := range snippets {
			out = append(out, s.Title+": "+trim(s.Content, maxBodyChars))
		}
	}
	return out
}

func trim(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
