package conductor

import (
	"context"
	"log/slog"
	"testing"

	"github.com/coreclaw/coreclaw/internal/bus"
	"github.com/coreclaw/coreclaw/internal/store"
)

func completeTask(t *testing.T, st *store.Store, taskType, result string) *store.Task {
	t.Helper()
	ctx := context.Background()
	task, err := st.CreateTask(ctx, "", taskType, `{}`, PriorityNormal, 3)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := st.ClaimNextTask(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := st.CompleteTask(ctx, task.ID, result); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, err := st.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	return got
}

func TestQuality_ApprovesCleanOutput(t *testing.T) {
	st := openTestStore(t)
	eb := bus.New(slog.Default())
	task := completeTask(t, st, "reply", `{"status":"ok","body":"Thanks for reaching out, here is the answer you asked for."}`)

	q := NewQuality(st, eb, slog.Default(), nil)
	q.Start()
	defer q.Stop()

	var result bus.ReviewResultEvent
	eb.Subscribe(bus.TopicConductorReviewResult, func(env bus.Envelope) {
		result = env.Payload.(bus.ReviewResultEvent)
	})

	eb.Publish(bus.TopicConductorReviewRequest, bus.ReviewRequestEvent{TaskID: task.ID})

	if !result.Approved || result.Score != 80 {
		t.Fatalf("expected approved/80, got %+v", result)
	}

	got, err := st.GetTask(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Status != store.TaskStatusSucceeded {
		t.Fatalf("expected task to remain succeeded, got %s", got.Status)
	}
}

func TestQuality_ReopensTaskOnFailedReview(t *testing.T) {
	st := openTestStore(t)
	eb := bus.New(slog.Default())
	task := completeTask(t, st, "reply", `{"status":"ok","body":""}`)

	q := NewQuality(st, eb, slog.Default(), nil)
	q.Start()
	defer q.Stop()

	var result bus.ReviewResultEvent
	eb.Subscribe(bus.TopicConductorReviewResult, func(env bus.Envelope) {
		result = env.Payload.(bus.ReviewResultEvent)
	})

	eb.Publish(bus.TopicConductorReviewRequest, bus.ReviewRequestEvent{TaskID: task.ID})

	if result.Approved {
		t.Fatalf("expected review to fail for empty output, got %+v", result)
	}
	if result.Score < 20 || result.Score > 60 {
		t.Fatalf("unexpected score %d", result.Score)
	}

	got, err := st.GetTask(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Status != store.TaskStatusRunning {
		t.Fatalf("expected task reopened to running, got %s", got.Status)
	}
}

func TestQuality_ScoresDraftDeductions(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	eb := bus.New(slog.Default())

	if err := st.EnsureSession(ctx, "sess-1", "email", ""); err != nil {
		t.Fatalf("ensure session: %v", err)
	}
	msg, err := st.RecordMessage(ctx, "sess-1", "email", "alice@example.com", "hi")
	if err != nil {
		t.Fatalf("record message: %v", err)
	}
	task, err := st.CreateTask(ctx, msg.ID, "reply", `{}`, PriorityNormal, 3)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	d, err := st.CreateDraft(ctx, task.ID, msg.ID, "reply", "too short???")
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}

	q := NewQuality(st, eb, slog.Default(), nil)
	q.Start()
	defer q.Stop()

	var reviewed bus.DraftQualityReviewedEvent
	eb.Subscribe(bus.TopicDraftQualityReviewed, func(env bus.Envelope) {
		reviewed = env.Payload.(bus.DraftQualityReviewedEvent)
	})

	eb.Publish(bus.TopicDraftCreated, bus.DraftCreatedEvent{DraftID: d.ID, TaskID: task.ID, MessageID: msg.ID})

	// short body (-30) and "???" (-10) => 60
	if reviewed.Score != 60 {
		t.Fatalf("expected score 60, got %d (%v)", reviewed.Score, reviewed.Notes)
	}
}

func TestClamp(t *testing.T) {
	if clamp(-5, 0, 100) != 0 {
		t.Fatal("expected clamp to floor at 0")
	}
	if clamp(150, 0, 100) != 100 {
		t.Fatal("expected clamp to ceiling at 100")
	}
	if clamp(50, 0, 100) != 50 {
		t.Fatal("expected clamp to pass through in-range values")
	}
}
