package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DraftStatus is the review state of a draft reply.
type DraftStatus string

// Draft review states. edited_and_sent and auto_approved are both
// terminal, sent-like states: a draft that reaches either one has
// already left the review queue for good, just like sent.
const (
	DraftStatusPendingReview DraftStatus = "pending_review"
	DraftStatusApproved      DraftStatus = "approved"
	DraftStatusRejected      DraftStatus = "rejected"
	DraftStatusSent          DraftStatus = "sent"
	DraftStatusEditedAndSent DraftStatus = "edited_and_sent"
	DraftStatusAutoApproved  DraftStatus = "auto_approved"
)

// Draft is a worker-produced reply awaiting human review before it is
// sent back through a channel.
type Draft struct {
	ID               string
	TaskID           string
	MessageID        string
	AgentType        string
	Subject          string
	Recipients       string
	CC               string
	Priority         string
	Body             string
	Status           DraftStatus
	EditedBody       string
	EditRatio        float64
	Decision         string
	ReviewedBy       string
	ConductorNotes   string
	QualityScore     int
	QualityNotes     string
	AutoApproveMatch string
	ExternalDraftID  string
	Metadata         string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	ReviewedAt       *time.Time
	SentAt           *time.Time
}

// CreateDraft records a new draft awaiting review.
func (s *Store) CreateDraft(ctx context.Context, taskID, messageID, agentType, body string) (*Draft, error) {
	d := &Draft{ID: uuid.NewString(), TaskID: taskID, MessageID: messageID, AgentType: agentType, Body: body, Priority: "normal", Status: DraftStatusPendingReview}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO drafts (id, task_id, message_id, agent_type, body, priority, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP);
	`, d.ID, taskID, messageID, agentType, body, d.Priority, DraftStatusPendingReview)
	if err != nil {
		return nil, fmt.Errorf("create draft: %w", err)
	}
	return d, nil
}

// Approve marks a pending draft approved, unmodified.
func (s *Store) Approve(ctx context.Context, draftID, reviewedBy string) error {
	return s.resolveDraft(ctx, draftID, DraftStatusApproved, "approved", reviewedBy, "", 0)
}

// AutoApprove marks a pending draft auto-approved under autonomous
// policy, recording which rule or policy made it eligible.
func (s *Store) AutoApprove(ctx context.Context, draftID, matchedRule string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE drafts
		SET status = ?, decision = ?, reviewed_by = ?, auto_approve_match = ?, updated_at = CURRENT_TIMESTAMP, reviewed_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?;
	`, DraftStatusAutoApproved, "auto_approved", "system:autonomous", matchedRule, draftID, DraftStatusPendingReview)
	if err != nil {
		return fmt.Errorf("auto-approve draft: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("auto-approve rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("draft %s not pending review", draftID)
	}
	return nil
}

// Reject marks a pending draft rejected.
func (s *Store) Reject(ctx context.Context, draftID, reviewedBy, reason string) error {
	return s.resolveDraft(ctx, draftID, DraftStatusRejected, "rejected", reviewedBy, reason, 0)
}

// EditAndApprove records a human edit alongside approval, classifying
// the edit by the word-set difference ratio so the learning analyser
// can later group corrections by severity. An edited draft always
// lands on edited_and_sent: a human rewrite that gets approved is
// handed straight back to the channel, it does not wait for a second
// review pass.
func (s *Store) EditAndApprove(ctx context.Context, draftID, reviewedBy, editedBody string, editRatio float64, classification string) error {
	return s.resolveDraft(ctx, draftID, DraftStatusEditedAndSent, classification, reviewedBy, editedBody, editRatio)
}

func (s *Store) resolveDraft(ctx context.Context, draftID string, status DraftStatus, decision, reviewedBy, editedBody string, editRatio float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE drafts
		SET status = ?, decision = ?, reviewed_by = ?, edited_body = NULLIF(?, ''), edit_ratio = ?,
			updated_at = CURRENT_TIMESTAMP, reviewed_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?;
	`, status, decision, reviewedBy, editedBody, editRatio, draftID, DraftStatusPendingReview)
	if err != nil {
		return fmt.Errorf("resolve draft: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve draft rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("draft %s not pending review", draftID)
	}
	return nil
}

// UpdateDraftQuality persists the Quality conductor's score and notes
// onto the draft row, so a later GetDraft/ListPendingDrafts reflects
// the review without requiring callers to replay the event.
func (s *Store) UpdateDraftQuality(ctx context.Context, draftID string, score int, notes string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE drafts SET quality_score = ?, quality_notes = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?;
	`, score, notes, draftID)
	if err != nil {
		return fmt.Errorf("update draft quality: %w", err)
	}
	return nil
}

// MarkSent marks an approved or auto-approved draft as sent through its
// channel.
func (s *Store) MarkSent(ctx context.Context, draftID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE drafts SET status = ?, sent_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status IN (?, ?);
	`, DraftStatusSent, draftID, DraftStatusApproved, DraftStatusAutoApproved)
	if err != nil {
		return fmt.Errorf("mark draft sent: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark sent rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("draft %s not approved", draftID)
	}
	return nil
}

// GetDraft fetches a draft by id.
func (s *Store) GetDraft(ctx context.Context, draftID string) (*Draft, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, task_id, COALESCE(message_id, ''), agent_type, COALESCE(subject, ''),
			COALESCE(recipients, ''), COALESCE(cc, ''), priority, body, status,
			COALESCE(edited_body, ''), COALESCE(edit_ratio, 0), COALESCE(decision, ''),
			COALESCE(reviewed_by, ''), COALESCE(conductor_notes, ''), COALESCE(quality_score, 0),
			COALESCE(quality_notes, ''), COALESCE(auto_approve_match, ''), COALESCE(external_draft_id, ''),
			COALESCE(metadata, ''), created_at, updated_at, reviewed_at, sent_at
		FROM drafts WHERE id = ?;
	`, draftID)
	return scanDraft(row.Scan)
}

// ListPendingDrafts returns drafts awaiting human review, oldest
// first.
func (s *Store) ListPendingDrafts(ctx context.Context, limit int) ([]*Draft, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, COALESCE(message_id, ''), agent_type, COALESCE(subject, ''),
			COALESCE(recipients, ''), COALESCE(cc, ''), priority, body, status,
			COALESCE(edited_body, ''), COALESCE(edit_ratio, 0), COALESCE(decision, ''),
			COALESCE(reviewed_by, ''), COALESCE(conductor_notes, ''), COALESCE(quality_score, 0),
			COALESCE(quality_notes, ''), COALESCE(auto_approve_match, ''), COALESCE(external_draft_id, ''),
			COALESCE(metadata, ''), created_at, updated_at, reviewed_at, sent_at
		FROM drafts WHERE status = ? ORDER BY created_at ASC LIMIT ?;
	`, DraftStatusPendingReview, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending drafts: %w", err)
	}
	defer rows.Close()

	var out []*Draft
	for rows.Next() {
		d, err := scanDraft(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ListDraftsSince returns drafts created at or after since, newest
// first, for the learning analyser's correction-rate computation.
func (s *Store) ListDraftsSince(ctx context.Context, agentType string, since time.Time, limit int) ([]*Draft, error) {
	if limit <= 0 || limit > 2000 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, COALESCE(message_id, ''), agent_type, COALESCE(subject, ''),
			COALESCE(recipients, ''), COALESCE(cc, ''), priority, body, status,
			COALESCE(edited_body, ''), COALESCE(edit_ratio, 0), COALESCE(decision, ''),
			COALESCE(reviewed_by, ''), COALESCE(conductor_notes, ''), COALESCE(quality_score, 0),
			COALESCE(quality_notes, ''), COALESCE(auto_approve_match, ''), COALESCE(external_draft_id, ''),
			COALESCE(metadata, ''), created_at, updated_at, reviewed_at, sent_at
		FROM drafts WHERE agent_type = ? AND created_at >= ? ORDER BY created_at DESC LIMIT ?;
	`, agentType, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list drafts since: %w", err)
	}
	defer rows.Close()

	var out []*Draft
	for rows.Next() {
		d, err := scanDraft(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDraft(scanFn func(dest ...any) error) (*Draft, error) {
	var d Draft
	var reviewedAt, sentAt sql.NullTime
	if err := scanFn(&d.ID, &d.TaskID, &d.MessageID, &d.AgentType, &d.Subject,
		&d.Recipients, &d.CC, &d.Priority, &d.Body, &d.Status,
		&d.EditedBody, &d.EditRatio, &d.Decision, &d.ReviewedBy, &d.ConductorNotes,
		&d.QualityScore, &d.QualityNotes, &d.AutoApproveMatch, &d.ExternalDraftID,
		&d.Metadata, &d.CreatedAt, &d.UpdatedAt, &reviewedAt, &sentAt); err != nil {
		return nil, err
	}
	if reviewedAt.Valid {
		d.ReviewedAt = &reviewedAt.Time
	}
	if sentAt.Valid {
		d.SentAt = &sentAt.Time
	}
	return &d, nil
}
