package conductor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/coreclaw/coreclaw/internal/bus"
	"github.com/coreclaw/coreclaw/internal/store"
)

type stubKnowledgeSource struct {
	name     string
	snippets []KnowledgeSnippet
	err      error
}

func (s *stubKnowledgeSource) Name() string { return s.name }
func (s *stubKnowledgeSource) Query(context.Context, string) ([]KnowledgeSnippet, error) {
	return s.snippets, s.err
}

func TestContext_GathersThreadAndKnowledgeSnippets(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	eb := bus.New(slog.Default())

	if err := st.EnsureSession(ctx, "sess-1", "email", ""); err != nil {
		t.Fatalf("ensure session: %v", err)
	}
	var last *store.Message
	for i := 0; i < 3; i++ {
		m, err := st.RecordMessage(ctx, "sess-1", "email", "alice@example.com", fmt.Sprintf("message %d", i))
		if err != nil {
			t.Fatalf("record message: %v", err)
		}
		if err := st.MarkMessageHandled(ctx, m.ID); err != nil {
			t.Fatalf("mark message handled: %v", err)
		}
		last = m
	}
	task, err := st.CreateTask(ctx, last.ID, "reply", `{}`, PriorityNormal, 3)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	good := &stubKnowledgeSource{name: "good", snippets: []KnowledgeSnippet{{Title: "T", Content: "C"}}}
	bad := &stubKnowledgeSource{name: "bad", err: fmt.Errorf("boom")}

	c := NewContext(st, eb, slog.Default(), []KnowledgeSource{good, bad})
	c.Start()
	defer c.Stop()

	var ready bus.ContextReadyEvent
	var got bool
	eb.Subscribe(bus.TopicConductorContextReady, func(env bus.Envelope) {
		ready = env.Payload.(bus.ContextReadyEvent)
		got = true
	})

	eb.Publish(bus.TopicTaskQueued, bus.TaskStateChangedEvent{TaskID: task.ID, NewStatus: string(store.TaskStatusQueued)})

	if !got {
		t.Fatal("expected context.ready to be published")
	}
	if ready.TaskID != task.ID {
		t.Fatalf("unexpected task id: %q", ready.TaskID)
	}
	if len(ready.ThreadMessages) != 3 {
		t.Fatalf("expected 3 thread messages, got %d", len(ready.ThreadMessages))
	}
	if len(ready.Snippets) != 1 || !strings.Contains(ready.Snippets[0], "T: C") {
		t.Fatalf("expected snippet from the good source only, got %+v", ready.Snippets)
	}
}

func TestContext_SkipsTasksWithNoMessage(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	eb := bus.New(slog.Default())

	task, err := st.CreateTask(ctx, "", "batch-item", `{}`, PriorityNormal, 3)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	c := NewContext(st, eb, slog.Default(), nil)
	c.Start()
	defer c.Stop()

	var got bool
	eb.Subscribe(bus.TopicConductorContextReady, func(bus.Envelope) { got = true })

	eb.Publish(bus.TopicTaskQueued, bus.TaskStateChangedEvent{TaskID: task.ID, NewStatus: string(store.TaskStatusQueued)})

	if got {
		t.Fatal("expected no context.ready for a task with no source message")
	}
}

func TestTrim_TruncatesLongStrings(t *testing.T) {
	if got := trim("hello", 10); got != "hello" {
		t.Fatalf("got %q", got)
	}
	if got := trim("hello world", 5); got != "hello" {
		t.Fatalf("got %q", got)
	}
}
