package conductor

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/coreclaw/coreclaw/internal/bus"
	"github.com/coreclaw/coreclaw/internal/config"
	"github.com/coreclaw/coreclaw/internal/store"
)

func TestInbox_TriagesAndCreatesTask(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	eb := bus.New(slog.Default())

	if err := st.EnsureSession(ctx, "sess-1", "email", ""); err != nil {
		t.Fatalf("ensure session: %v", err)
	}
	msg, err := st.RecordMessage(ctx, "sess-1", "email", "alice@example.com", "I need a refund please")
	if err != nil {
		t.Fatalf("record message: %v", err)
	}

	rules := BuildTriageRules([]config.TriageRuleConfig{
		{Keywords: []string{"refund"}, Category: "billing", Priority: "high", AgentType: "billing-agent", Reason: "refund keyword"},
	})
	in := NewInbox(st, eb, slog.Default(), rules)
	in.Start()
	defer in.Stop()

	var queued bus.TaskStateChangedEvent
	eb.Subscribe(bus.TopicTaskQueued, func(env bus.Envelope) {
		queued = env.Payload.(bus.TaskStateChangedEvent)
	})

	eb.Publish(bus.TopicMessageReceived, bus.MessageReceivedEvent{MessageID: msg.ID, Channel: "email"})

	got, err := st.GetMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if got.Category != "billing" || got.Priority != PriorityHigh || got.AgentType != "billing-agent" {
		t.Fatalf("unexpected triage result: %+v", got)
	}

	if queued.TaskID == "" {
		t.Fatal("expected task.queued to be published")
	}
	task, err := st.GetTask(ctx, queued.TaskID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	var payload taskPayload
	if err := json.Unmarshal([]byte(task.Payload), &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.MessageID != msg.ID || payload.Category != "billing" {
		t.Fatalf("unexpected task payload: %+v", payload)
	}
}

func TestInbox_FallsBackToDefaultRule(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	eb := bus.New(slog.Default())

	if err := st.EnsureSession(ctx, "sess-1", "email", ""); err != nil {
		t.Fatalf("ensure session: %v", err)
	}
	msg, err := st.RecordMessage(ctx, "sess-1", "email", "bob@example.com", "just saying hi")
	if err != nil {
		t.Fatalf("record message: %v", err)
	}

	in := NewInbox(st, eb, slog.Default(), nil)
	in.Start()
	defer in.Stop()

	eb.Publish(bus.TopicMessageReceived, bus.MessageReceivedEvent{MessageID: msg.ID, Channel: "email"})

	got, err := st.GetMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if got.Category != defaultTriageRule.Category || got.AgentType != defaultTriageRule.AgentType {
		t.Fatalf("expected default rule, got %+v", got)
	}
}

func TestBuildTriageRules_MatchIsCaseInsensitive(t *testing.T) {
	rules := BuildTriageRules([]config.TriageRuleConfig{
		{Keywords: []string{"Refund"}, Category: "billing"},
	})
	if len(rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(rules))
	}
	if !rules[0].Match(store.Message{Body: "I want a REFUND now"}) {
		t.Fatal("expected case-insensitive match")
	}
	if rules[0].Match(store.Message{Body: "nothing relevant here"}) {
		t.Fatal("expected no match")
	}
}

func TestBuildTriageRules_ChannelScopesMatch(t *testing.T) {
	rules := BuildTriageRules([]config.TriageRuleConfig{
		{Channel: "sms", Keywords: []string{"refund"}, Category: "billing"},
	})
	if rules[0].Match(store.Message{Channel: "email", Body: "I want a refund"}) {
		t.Fatal("expected no match on a different channel")
	}
	if !rules[0].Match(store.Message{Channel: "sms", Body: "I want a refund"}) {
		t.Fatal("expected match on the configured channel")
	}
}

func TestBuildTriageRules_SubjectKeywordsMatch(t *testing.T) {
	rules := BuildTriageRules([]config.TriageRuleConfig{
		{SubjectKeywords: []string{"invoice"}, Category: "billing"},
	})
	if !rules[0].Match(store.Message{Subject: "Your October Invoice", Body: "see attached"}) {
		t.Fatal("expected subject keyword match")
	}
	if rules[0].Match(store.Message{Subject: "hello", Body: "see attached"}) {
		t.Fatal("expected no match")
	}
}
