// Package draft implements the approval engine: draft creation,
// human review decisions, and the word-set edit classifier that tells
// the learning analyser how severely a human changed a worker's reply.
package draft

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/coreclaw/coreclaw/internal/bus"
	"github.com/coreclaw/coreclaw/internal/policy"
	"github.com/coreclaw/coreclaw/internal/safety"
	"github.com/coreclaw/coreclaw/internal/store"
)

// Classification labels for a human edit, ordered from lightest to
// heaviest.
const (
	ClassificationMinorEdit    = "minor_edit"
	ClassificationToneChange   = "tone_change"
	ClassificationMajorRewrite = "major_rewrite"
	ClassificationRejection    = "rejection"
)

// Thresholds for EditRatio, the fraction of the word set that changed
// between the original and edited draft body.
const (
	toneChangeMin   = 0.2
	majorRewriteMin = 0.5
)

// Engine wires draft creation and review decisions to the store, the
// event bus, and the sensitive-pattern detector used for Quality's
// scoring pass.
type Engine struct {
	st       *store.Store
	eb       *bus.Bus
	policy   policy.Checker
	detector *safety.Detector
	logger   *slog.Logger
}

// New creates a draft Engine.
func New(st *store.Store, eb *bus.Bus, pc policy.Checker, detector *safety.Detector, logger *slog.Logger) *Engine {
	return &Engine{st: st, eb: eb, policy: pc, detector: detector, logger: logger}
}

// Create records a new worker-produced reply awaiting review. In
// ModeSandbox no draft is persisted; the body is logged only, per the
// operation mode gate on Workflow's draft-creation behavior.
func (e *Engine) Create(ctx context.Context, taskID, messageID, agentType, body string) (*store.Draft, error) {
	if e.policy != nil && e.policy.Mode() == policy.ModeSandbox {
		if e.logger != nil {
			e.logger.Info("draft_suppressed_sandbox_mode", slog.String("task_id", taskID))
		}
		return nil, nil
	}

	if e.detector != nil {
		if findings := e.detector.Scan(body); len(findings) > 0 {
			for _, f := range findings {
				e.eb.Publish(bus.TopicQualityFlagRaised, bus.QualityFlagEvent{DraftID: "", Flag: f.Pattern, Detail: f.Sample})
			}
		}
	}

	d, err := e.st.CreateDraft(ctx, taskID, messageID, agentType, body)
	if err != nil {
		return nil, fmt.Errorf("create draft: %w", err)
	}
	e.eb.Publish(bus.TopicDraftCreated, bus.DraftCreatedEvent{DraftID: d.ID, TaskID: taskID, MessageID: messageID})

	if e.policy != nil && e.policy.Mode() == policy.ModeAutonomous && e.policy.AutonomousEligible(agentType) {
		if err := e.AutoApprove(ctx, d.ID, agentType); err != nil {
			return d, fmt.Errorf("autonomous auto-approve: %w", err)
		}
	}
	return d, nil
}

// Approve accepts a draft unmodified.
func (e *Engine) Approve(ctx context.Context, draftID, reviewedBy string) error {
	d, err := e.st.GetDraft(ctx, draftID)
	if err != nil {
		return fmt.Errorf("get draft for approval: %w", err)
	}
	if err := e.st.Approve(ctx, draftID, reviewedBy); err != nil {
		return fmt.Errorf("approve draft: %w", err)
	}
	e.eb.Publish(bus.TopicDraftApproved, bus.DraftDecisionEvent{DraftID: draftID, Decision: "approved", ApprovedBy: reviewedBy})
	e.eb.Publish(bus.TopicConductorFeedback, bus.FeedbackEvent{DraftID: draftID, AgentType: d.AgentType, Positive: true})
	return nil
}

// AutoApprove accepts a draft under autonomous policy without a human
// reviewer, recording which agent type's autonomous eligibility made
// it a match.
func (e *Engine) AutoApprove(ctx context.Context, draftID, matchedRule string) error {
	d, err := e.st.GetDraft(ctx, draftID)
	if err != nil {
		return fmt.Errorf("get draft for auto-approval: %w", err)
	}
	if err := e.st.AutoApprove(ctx, draftID, matchedRule); err != nil {
		return fmt.Errorf("auto-approve draft: %w", err)
	}
	e.eb.Publish(bus.TopicDraftAutoApproved, bus.DraftDecisionEvent{DraftID: draftID, Decision: "auto_approved", ApprovedBy: "system:autonomous"})
	e.eb.Publish(bus.TopicConductorFeedback, bus.FeedbackEvent{DraftID: draftID, AgentType: d.AgentType, Positive: true})
	return nil
}

// Reject declines a draft outright. The reason is recorded as a
// correction with classification "rejection" so the learning analyser
// can see agent types that are producing unusable drafts.
func (e *Engine) Reject(ctx context.Context, draftID, reviewedBy, reason string) error {
	d, err := e.st.GetDraft(ctx, draftID)
	if err != nil {
		return fmt.Errorf("get draft for rejection: %w", err)
	}
	if err := e.st.Reject(ctx, draftID, reviewedBy, reason); err != nil {
		return fmt.Errorf("reject draft: %w", err)
	}
	if _, err := e.st.RecordCorrection(ctx, draftID, d.AgentType, d.Body, "", ClassificationRejection, 1.0, reason); err != nil {
		return fmt.Errorf("record rejection correction: %w", err)
	}
	e.eb.Publish(bus.TopicDraftRejected, bus.DraftDecisionEvent{DraftID: draftID, Decision: "rejected", ApprovedBy: reviewedBy})
	e.eb.Publish(bus.TopicCorrectionRecorded, bus.CorrectionRecordedEvent{DraftID: draftID, AgentType: d.AgentType})
	e.eb.Publish(bus.TopicConductorFeedback, bus.FeedbackEvent{DraftID: draftID, AgentType: d.AgentType, Positive: false})
	return nil
}

// EditAndApprove records a human edit to the draft body, classifies
// the edit severity, approves it, and records a Correction for the
// learning analyser. feedback is the reviewer's optional note on why
// they changed it.
func (e *Engine) EditAndApprove(ctx context.Context, draftID, reviewedBy, editedBody, feedback string) error {
	d, err := e.st.GetDraft(ctx, draftID)
	if err != nil {
		return fmt.Errorf("get draft for edit: %w", err)
	}
	ratio := EditRatio(d.Body, editedBody)
	classification := Classify(editedBody, ratio)

	if err := e.st.EditAndApprove(ctx, draftID, reviewedBy, editedBody, ratio, classification); err != nil {
		return fmt.Errorf("edit and approve draft: %w", err)
	}
	if _, err := e.st.RecordCorrection(ctx, draftID, d.AgentType, d.Body, editedBody, classification, ratio, feedback); err != nil {
		return fmt.Errorf("record edit correction: %w", err)
	}
	e.eb.Publish(bus.TopicDraftEdited, bus.DraftDecisionEvent{DraftID: draftID, Decision: classification, EditRatio: ratio, ApprovedBy: reviewedBy})
	e.eb.Publish(bus.TopicCorrectionRecorded, bus.CorrectionRecordedEvent{DraftID: draftID, AgentType: d.AgentType})
	e.eb.Publish(bus.TopicConductorFeedback, bus.FeedbackEvent{DraftID: draftID, AgentType: d.AgentType, Positive: classification != ClassificationRejection})
	return nil
}

// MarkSent records that an approved draft was delivered through its
// channel.
func (e *Engine) MarkSent(ctx context.Context, draftID string) error {
	if err := e.st.MarkSent(ctx, draftID); err != nil {
		return fmt.Errorf("mark draft sent: %w", err)
	}
	e.eb.Publish(bus.TopicDraftSent, bus.DraftCreatedEvent{DraftID: draftID})
	return nil
}

// EditRatio computes changed/(2*total) over the word sets of original
// and edited, where changed counts words present in one set but not
// the other and total is the larger of the two set sizes. This gives 0
// for an unmodified draft and approaches 1 as the two bodies share
// nothing.
func EditRatio(original, edited string) float64 {
	origWords := wordSet(original)
	editWords := wordSet(edited)
	if len(origWords) == 0 && len(editWords) == 0 {
		return 0
	}

	changed := 0
	for w := range origWords {
		if !editWords[w] {
			changed++
		}
	}
	for w := range editWords {
		if !origWords[w] {
			changed++
		}
	}
	total := len(origWords)
	if len(editWords) > total {
		total = len(editWords)
	}
	if total == 0 {
		return 0
	}
	return float64(changed) / float64(2*total)
}

// Classify maps an edited body and its edit ratio to a classification
// label. An edited body left empty means the reviewer deleted the
// draft rather than rewording it, which is a rejection regardless of
// ratio.
func Classify(edited string, ratio float64) string {
	switch {
	case strings.TrimSpace(edited) == "":
		return ClassificationRejection
	case ratio > majorRewriteMin:
		return ClassificationMajorRewrite
	case ratio > toneChangeMin:
		return ClassificationToneChange
	default:
		return ClassificationMinorEdit
	}
}

func wordSet(s string) map[string]bool {
	words := strings.Fields(strings.ToLower(s))
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}
