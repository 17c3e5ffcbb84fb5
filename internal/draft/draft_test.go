package draft

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/coreclaw/coreclaw/internal/bus"
	"github.com/coreclaw/coreclaw/internal/policy"
	"github.com/coreclaw/coreclaw/internal/safety"
	"github.com/coreclaw/coreclaw/internal/store"
)

func newTestEngine(t *testing.T, mode policy.OperationMode) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	pc := policy.NewLive(policy.Policy{Mode: mode, AutonomousAgentTypes: []string{"billing"}})
	return New(st, bus.New(nil), pc, safety.NewDetector(), nil), st
}

func TestEditRatio_Identical(t *testing.T) {
	if got := EditRatio("thanks for your patience", "thanks for your patience"); got != 0 {
		t.Fatalf("expected 0 ratio for identical text, got %f", got)
	}
}

func TestEditRatio_CompletelyDifferent(t *testing.T) {
	got := EditRatio("thanks for your patience", "thanks for your patience")
	if got != 0 {
		t.Fatalf("sanity check failed: %f", got)
	}
	got = EditRatio("hello world", "goodbye moon")
	if got != 1.0 {
		t.Fatalf("expected 1.0 for fully disjoint equal-length sets, got %f", got)
	}
}

func TestClassify_Thresholds(t *testing.T) {
	cases := []struct {
		edited string
		ratio  float64
		want   string
	}{
		{"", 0, ClassificationRejection},
		{"edited", 0, ClassificationMinorEdit},
		{"edited", 0.2, ClassificationMinorEdit},
		{"edited", 0.21, ClassificationToneChange},
		{"edited", 0.5, ClassificationToneChange},
		{"edited", 0.51, ClassificationMajorRewrite},
		{"edited", 0.9, ClassificationMajorRewrite},
	}
	for _, c := range cases {
		if got := Classify(c.edited, c.ratio); got != c.want {
			t.Fatalf("Classify(%q, %f) = %s, want %s", c.edited, c.ratio, got, c.want)
		}
	}
}

func TestEngine_Create_SandboxModeSuppressesDraft(t *testing.T) {
	e, _ := newTestEngine(t, policy.ModeSandbox)
	ctx := context.Background()

	task, _ := createTestTask(t, e)
	d, err := e.Create(ctx, task, "", "support", "here is a reply")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if d != nil {
		t.Fatalf("expected nil draft in sandbox mode, got %+v", d)
	}
}

func TestEngine_Create_AutonomousModeAutoApproves(t *testing.T) {
	e, _ := newTestEngine(t, policy.ModeAutonomous)
	ctx := context.Background()

	task, _ := createTestTask(t, e)
	d, err := e.Create(ctx, task, "", "billing", "your refund has been processed")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if d == nil {
		t.Fatalf("expected draft to be created")
	}
	got, err := e.st.GetDraft(ctx, d.ID)
	if err != nil {
		t.Fatalf("get draft: %v", err)
	}
	if got.Status != store.DraftStatusAutoApproved {
		t.Fatalf("expected auto-approval, got status %s", got.Status)
	}
}

func TestEngine_EditAndApprove_RecordsCorrection(t *testing.T) {
	e, st := newTestEngine(t, policy.ModeAssist)
	ctx := context.Background()

	task, _ := createTestTask(t, e)
	d, err := e.Create(ctx, task, "", "support", "we will look into this")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := e.EditAndApprove(ctx, d.ID, "reviewer-1", "we will look into this right away, thank you", ""); err != nil {
		t.Fatalf("edit and approve: %v", err)
	}
	corrections, err := st.ListCorrectionsByAgentType(ctx, "support", d.CreatedAt, 10)
	if err != nil {
		t.Fatalf("list corrections: %v", err)
	}
	if len(corrections) != 1 {
		t.Fatalf("expected 1 correction, got %d", len(corrections))
	}
}

func createTestTask(t *testing.T, e *Engine) (string, error) {
	t.Helper()
	task, err := e.st.CreateTask(context.Background(), "", "support", "{}", 0, 3)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task.ID, nil
}
