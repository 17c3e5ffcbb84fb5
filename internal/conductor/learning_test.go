package conductor

import (
	"context"
	"log/slog"
	"testing"

	"github.com/coreclaw/coreclaw/internal/bus"
	"github.com/coreclaw/coreclaw/internal/learning"
	"github.com/coreclaw/coreclaw/internal/store"
)

// seedDraftCorrection creates one draft for agentType and corrects it,
// keeping corrections and drafts in lock step so the analyser's
// correction-rate gate is driven by a realistic ratio rather than
// corrections with no backing draft.
func seedDraftCorrection(t *testing.T, st *store.Store, agentType, classification string, ratio float64) {
	t.Helper()
	ctx := context.Background()
	task, err := st.CreateTask(ctx, "", agentType, "{}", 0, 3)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	draft, err := st.CreateDraft(ctx, task.ID, "", agentType, "original body")
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	if _, err := st.RecordCorrection(ctx, draft.ID, agentType, "original body", "edited in a very different tone entirely", classification, ratio, ""); err != nil {
		t.Fatalf("record correction: %v", err)
	}
}

func TestLearning_FiresAnalysisAtBufferTrigger(t *testing.T) {
	st := openTestStore(t)
	eb := bus.New(slog.Default())
	analyser := learning.New(st, eb)

	for i := 0; i < bufferTrigger; i++ {
		seedDraftCorrection(t, st, "reply", "tone_change", 0.3)
	}

	l := NewLearning(eb, slog.Default(), analyser)
	l.Start()
	defer l.Stop()

	var insight bus.LearningInsightEvent
	var got bool
	eb.Subscribe(bus.TopicConductorLearningInsight, func(env bus.Envelope) {
		insight = env.Payload.(bus.LearningInsightEvent)
		got = true
	})

	for i := 0; i < bufferTrigger; i++ {
		eb.Publish(bus.TopicCorrectionRecorded, bus.CorrectionRecordedEvent{CorrectionID: "c", DraftID: "d", AgentType: "reply"})
	}

	if !got {
		t.Fatal("expected buffer trigger to fire an analysis")
	}
	if len(insight.AgentTypes) != 1 || insight.AgentTypes[0] != "reply" {
		t.Fatalf("unexpected insight: %+v", insight)
	}

	l.mu.Lock()
	count := l.buffer["reply"]
	l.mu.Unlock()
	if count != 0 {
		t.Fatalf("expected buffer to reset after firing, got %d", count)
	}
}

func TestLearning_DoesNotFireBelowTrigger(t *testing.T) {
	st := openTestStore(t)
	eb := bus.New(slog.Default())
	analyser := learning.New(st, eb)

	l := NewLearning(eb, slog.Default(), analyser)
	l.Start()
	defer l.Stop()

	var got bool
	eb.Subscribe(bus.TopicConductorLearningInsight, func(bus.Envelope) { got = true })

	for i := 0; i < bufferTrigger-1; i++ {
		eb.Publish(bus.TopicCorrectionRecorded, bus.CorrectionRecordedEvent{CorrectionID: "c", DraftID: "d", AgentType: "reply"})
	}

	if got {
		t.Fatal("expected no analysis below the buffer trigger")
	}
}

func TestLearning_RunPeriodicAnalysisDrainsNonEmptyBuffers(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	eb := bus.New(slog.Default())
	analyser := learning.New(st, eb)

	for i := 0; i < 3; i++ {
		seedDraftCorrection(t, st, "billing", "tone_change", 0.3)
	}

	l := NewLearning(eb, slog.Default(), analyser)
	l.Start()
	defer l.Stop()

	var got bool
	eb.Subscribe(bus.TopicConductorLearningInsight, func(bus.Envelope) { got = true })

	eb.Publish(bus.TopicCorrectionRecorded, bus.CorrectionRecordedEvent{CorrectionID: "c", DraftID: "d", AgentType: "billing"})

	l.RunPeriodicAnalysis(ctx)

	if !got {
		t.Fatal("expected periodic analysis to fire for a non-empty buffer")
	}
}

func TestLearning_ReviewResultUpdatesPromptMetrics(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	eb := bus.New(slog.Default())
	analyser := learning.New(st, eb)

	if _, err := st.AddPromptVersion(ctx, "support", "body", store.ConfidenceMedium); err != nil {
		t.Fatalf("add prompt version: %v", err)
	}
	if err := st.ActivatePromptVersion(ctx, "support", 1); err != nil {
		t.Fatalf("activate prompt version: %v", err)
	}
	task, err := st.CreateTask(ctx, "", "support", "{}", 0, 3)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := st.CreateDraft(ctx, task.ID, "", "support", "body"); err != nil {
		t.Fatalf("create draft: %v", err)
	}

	l := NewLearning(eb, slog.Default(), analyser)
	l.Start()
	defer l.Stop()

	eb.Publish(bus.TopicConductorReviewResult, bus.ReviewResultEvent{TaskID: task.ID, AgentType: "support", Approved: true, Score: 90})

	pv, err := st.GetActivePromptVersion(ctx, "support")
	if err != nil {
		t.Fatalf("get active prompt version: %v", err)
	}
	if pv.Metrics.UsageCount != 1 {
		t.Fatalf("expected usage count 1 after review result, got %d", pv.Metrics.UsageCount)
	}
}
