package learning

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/coreclaw/coreclaw/internal/bus"
	"github.com/coreclaw/coreclaw/internal/store"
)

func newTestAnalyser(t *testing.T) (*Analyser, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return New(st, bus.New(nil)), st
}

// seedCorrections creates n drafts for agentType, each corrected with
// classification and ratio, so corrections and drafts stay in lock
// step (one correction per draft).
func seedCorrections(t *testing.T, st *store.Store, agentType, classification string, n int, ratio float64) {
	t.Helper()
	task, err := st.CreateTask(context.Background(), "", agentType, "{}", 0, 3)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	for i := 0; i < n; i++ {
		draft, err := st.CreateDraft(context.Background(), task.ID, "", agentType, "original")
		if err != nil {
			t.Fatalf("create draft: %v", err)
		}
		if _, err := st.RecordCorrection(context.Background(), draft.ID, agentType, "original", "edited", classification, ratio, ""); err != nil {
			t.Fatalf("record correction: %v", err)
		}
	}
}

// seedCleanDrafts creates n drafts for agentType that are never
// corrected, diluting the agent's correction rate.
func seedCleanDrafts(t *testing.T, st *store.Store, agentType string, n int) {
	t.Helper()
	task, err := st.CreateTask(context.Background(), "", agentType, "{}", 0, 3)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	for i := 0; i < n; i++ {
		if _, err := st.CreateDraft(context.Background(), task.ID, "", agentType, "clean draft"); err != nil {
			t.Fatalf("create draft: %v", err)
		}
	}
}

func TestAnalyzeAgentType_BelowThresholdProducesNoSuggestion(t *testing.T) {
	a, st := newTestAnalyser(t)
	seedCorrections(t, st, "support", "minor_edit", 2, 0.1)
	seedCleanDrafts(t, st, "support", 38)

	insight, err := a.AnalyzeAgentType(context.Background(), "support", time.Time{})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if insight.CorrectionRate >= minCorrectionRate {
		t.Fatalf("expected correction rate below threshold, got %d", insight.CorrectionRate)
	}
	if len(insight.Suggestions) != 0 {
		t.Fatalf("expected no suggestions below threshold, got %d", len(insight.Suggestions))
	}
}

func TestAnalyzeAgentType_AboveThresholdProducesSuggestion(t *testing.T) {
	a, st := newTestAnalyser(t)
	seedCorrections(t, st, "support", "tone_change", 5, 0.3)

	insight, err := a.AnalyzeAgentType(context.Background(), "support", time.Time{})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(insight.Suggestions) != 1 {
		t.Fatalf("expected 1 suggestion, got %d", len(insight.Suggestions))
	}
	s := insight.Suggestions[0]
	if s.Pattern.Classification != "tone_change" {
		t.Fatalf("unexpected classification: %s", s.Pattern.Classification)
	}
	if s.Confidence != store.ConfidenceHigh {
		t.Fatalf("expected high confidence at count 5, got %s", s.Confidence)
	}
}

func TestAnalyzeAgentType_RejectionPercentageTriggersFundamentalRewrite(t *testing.T) {
	a, st := newTestAnalyser(t)
	seedCorrections(t, st, "billing", "rejection", 3, 1.0)
	seedCorrections(t, st, "billing", "minor_edit", 12, 0.1)

	insight, err := a.AnalyzeAgentType(context.Background(), "billing", time.Time{})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	var found bool
	for _, s := range insight.Suggestions {
		if s.Kind == "fundamental_rewrite" {
			found = true
			if s.Confidence != store.ConfidenceHigh {
				t.Fatalf("expected high confidence for fundamental rewrite, got %s", s.Confidence)
			}
		}
	}
	if !found {
		t.Fatalf("expected a fundamental_rewrite suggestion, got %+v", insight.Suggestions)
	}
}

func TestAnalyzeAgentType_HighRateWithNoPatternFallsBackToGeneralClarity(t *testing.T) {
	a, st := newTestAnalyser(t)
	// minor_edit never triggers a pattern-specific rule, so a high
	// overall correction rate should fall back to general clarity.
	seedCorrections(t, st, "research", "minor_edit", 6, 0.05)
	seedCleanDrafts(t, st, "research", 4)

	insight, err := a.AnalyzeAgentType(context.Background(), "research", time.Time{})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if insight.CorrectionRate < generalClarityMinRate {
		t.Fatalf("expected correction rate >= %d, got %d", generalClarityMinRate, insight.CorrectionRate)
	}
	if len(insight.Suggestions) != 1 || insight.Suggestions[0].Kind != "general_clarity" {
		t.Fatalf("expected exactly one general_clarity suggestion, got %+v", insight.Suggestions)
	}
}

func TestUpdatePromptMetrics_TalliesDraftOutcomes(t *testing.T) {
	a, st := newTestAnalyser(t)
	ctx := context.Background()
	task, err := st.CreateTask(ctx, "", "support", "{}", 0, 3)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := st.AddPromptVersion(ctx, "support", "body", store.ConfidenceMedium); err != nil {
		t.Fatalf("add prompt version: %v", err)
	}
	if err := st.ActivatePromptVersion(ctx, "support", 1); err != nil {
		t.Fatalf("activate prompt version: %v", err)
	}

	approved, err := st.CreateDraft(ctx, task.ID, "", "support", "body")
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	if err := st.Approve(ctx, approved.ID, "reviewer-1"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	rejected, err := st.CreateDraft(ctx, task.ID, "", "support", "body")
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	if err := st.Reject(ctx, rejected.ID, "reviewer-1", "not usable"); err != nil {
		t.Fatalf("reject: %v", err)
	}

	if err := a.UpdatePromptMetrics(ctx, "support"); err != nil {
		t.Fatalf("update prompt metrics: %v", err)
	}

	pv, err := st.GetActivePromptVersion(ctx, "support")
	if err != nil {
		t.Fatalf("get active prompt version: %v", err)
	}
	if pv.Metrics.UsageCount != 2 {
		t.Fatalf("expected usage count 2, got %d", pv.Metrics.UsageCount)
	}
	if pv.Metrics.PositiveRating != 1 {
		t.Fatalf("expected positive rating 1, got %d", pv.Metrics.PositiveRating)
	}
	if pv.Metrics.NegativeRating != 1 {
		t.Fatalf("expected negative rating 1, got %d", pv.Metrics.NegativeRating)
	}
	if pv.Metrics.CorrectionRate != 50 {
		t.Fatalf("expected correction rate 50, got %d", pv.Metrics.CorrectionRate)
	}
}
