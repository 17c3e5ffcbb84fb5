package conductor

import (
	"context"
	"log/slog"
	"strings"

	"github.com/coreclaw/coreclaw/internal/bus"
	"github.com/coreclaw/coreclaw/internal/safety"
	"github.com/coreclaw/coreclaw/internal/store"
)

const (
	minSummaryChars = 10
	minDraftChars   = 20
	maxDraftChars   = 5000
)

// Quality subscribes to conductor.review_request (output review) and
// draft.created (draft scoring). It never mutates a draft or task
// beyond sending a failed-review task back to RUNNING for rework.
type Quality struct {
	base
	st       *store.Store
	detector *safety.Detector
}

// NewQuality creates the Quality conductor.
func NewQuality(st *store.Store, eb *bus.Bus, logger *slog.Logger, detector *safety.Detector) *Quality {
	if detector == nil {
		detector = safety.NewDetector()
	}
	return &Quality{base: newBase("quality", eb, logger), st: st, detector: detector}
}

// Start subscribes to conductor.review_request and draft.created. It
// is idempotent.
func (q *Quality) Start() {
	if !q.markStarted() {
		return
	}
	q.on(bus.TopicConductorReviewRequest, q.handleReviewRequest)
	q.on(bus.TopicDraftCreated, q.handleDraftCreated)
}

func (q *Quality) handleReviewRequest(env bus.Envelope) {
	ev, ok := env.Payload.(bus.ReviewRequestEvent)
	if !ok {
		return
	}
	ctx := context.Background()

	task, err := q.st.GetTask(ctx, ev.TaskID)
	if err != nil {
		q.logger.Error("quality_get_task_failed", slog.String("task_id", ev.TaskID), slog.String("error", err.Error()))
		return
	}

	var corrections []string
	output, ok := parseAgentOutput(task.Result)
	if !ok {
		corrections = append(corrections, "result is not a valid agent output frame")
	} else {
		if len(output.Summary) < minSummaryChars {
			corrections = append(corrections, "summary too short")
		}
		if output.Status == "completed" && len(output.Outputs) == 0 {
			corrections = append(corrections, "no outputs")
		}
		for _, finding := range q.detector.Scan(output.Summary) {
			corrections = append(corrections, "policy: "+finding.Pattern)
		}
		for _, item := range output.Outputs {
			for _, finding := range q.detector.Scan(item.Content) {
				corrections = append(corrections, "policy: "+finding.Pattern)
			}
		}
	}

	approved := len(corrections) == 0
	score := 80
	if !approved {
		score = 80 - 20*len(corrections)
		if score < 20 {
			score = 20
		}
		if err := q.st.ReopenForRework(ctx, task.ID); err != nil {
			q.logger.Error("quality_reopen_failed", slog.String("task_id", task.ID), slog.String("error", err.Error()))
		}
	}

	q.eb.Publish(bus.TopicConductorReviewResult, bus.ReviewResultEvent{
		TaskID:      task.ID,
		AgentType:   task.Type,
		Approved:    approved,
		Score:       score,
		Corrections: corrections,
	})
}

func (q *Quality) handleDraftCreated(env bus.Envelope) {
	ev, ok := env.Payload.(bus.DraftCreatedEvent)
	if !ok {
		return
	}
	ctx := context.Background()

	d, err := q.st.GetDraft(ctx, ev.DraftID)
	if err != nil {
		q.logger.Error("quality_get_draft_failed", slog.String("draft_id", ev.DraftID), slog.String("error", err.Error()))
		return
	}

	score := 100
	var notes []string
	if len(d.Body) < minDraftChars {
		score -= 30
		notes = append(notes, "body too short")
	}
	if len(d.Body) > maxDraftChars {
		score -= 10
		notes = append(notes, "body too long")
	}
	if len(q.detector.Scan(d.Body)) > 0 {
		score -= 30
		notes = append(notes, "sensitive content detected")
	}
	if strings.Contains(d.Body, "!!!") || strings.Contains(d.Body, "???") {
		score -= 10
		notes = append(notes, "excessive punctuation")
	}
	if len(d.Subject) > 0 && len(d.Subject) < 3 {
		score -= 15
		notes = append(notes, "subject too short")
	}
	if strings.TrimSpace(d.Recipients) == "" {
		score -= 25
		notes = append(notes, "no recipients")
	}
	score = clamp(score, 0, 100)

	joined := strings.Join(notes, "; ")
	if err := q.st.UpdateDraftQuality(ctx, d.ID, score, joined); err != nil {
		q.logger.Error("quality_update_draft_failed", slog.String("draft_id", d.ID), slog.String("error", err.Error()))
	}

	q.eb.Publish(bus.TopicDraftQualityReviewed, bus.DraftQualityReviewedEvent{DraftID: d.ID, Score: score, Notes: notes})
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
