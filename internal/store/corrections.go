package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Correction is the human-edit record the learning analyser groups by
// agent type to extract recurring patterns.
type Correction struct {
	ID             string
	DraftID        string
	AgentType      string
	OriginalBody   string
	CorrectedBody  string
	Classification string
	EditRatio      float64
	Feedback       string
	CreatedAt      time.Time
}

// RecordCorrection persists a human edit (or rejection) for later
// pattern analysis. feedback carries the reviewer's stated reason for
// a rejection, or is empty for an ordinary edit.
func (s *Store) RecordCorrection(ctx context.Context, draftID, agentType, original, corrected, classification string, editRatio float64, feedback string) (*Correction, error) {
	c := &Correction{
		ID: uuid.NewString(), DraftID: draftID, AgentType: agentType,
		OriginalBody: original, CorrectedBody: corrected,
		Classification: classification, EditRatio: editRatio, Feedback: feedback,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO corrections (id, draft_id, agent_type, original_body, corrected_body, classification, edit_ratio, feedback, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP);
	`, c.ID, draftID, agentType, original, corrected, classification, editRatio, feedback)
	if err != nil {
		return nil, fmt.Errorf("record correction: %w", err)
	}
	return c, nil
}

// ListCorrectionsByAgentType returns corrections for agentType, newest
// first, for the learning analyser's periodic pattern sweep.
func (s *Store) ListCorrectionsByAgentType(ctx context.Context, agentType string, since time.Time, limit int) ([]*Correction, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, draft_id, agent_type, original_body, corrected_body, classification, edit_ratio, COALESCE(feedback, ''), created_at
		FROM corrections
		WHERE agent_type = ? AND created_at >= ?
		ORDER BY created_at DESC
		LIMIT ?;
	`, agentType, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list corrections: %w", err)
	}
	defer rows.Close()

	var out []*Correction
	for rows.Next() {
		var c Correction
		if err := rows.Scan(&c.ID, &c.DraftID, &c.AgentType, &c.OriginalBody, &c.CorrectedBody, &c.Classification, &c.EditRatio, &c.Feedback, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan correction: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// PromptMetrics are the rolling usage/outcome tallies the Learning
// conductor recomputes onto an agent type's active prompt version.
type PromptMetrics struct {
	UsageCount     int
	PositiveRating int
	NegativeRating int
	CorrectionRate int // percentage, 0-100
}

// Confidence levels a learning suggestion can carry, per the literal
// count/percentage thresholds in the analyser.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
)

// PromptVersion is a versioned agent-type system prompt, with the
// confidence level of the suggestion that produced it and its rolling
// usage metrics.
type PromptVersion struct {
	ID         string
	AgentType  string
	Version    int
	Body       string
	Confidence string
	Active     bool
	Metrics    PromptMetrics
	CreatedAt  time.Time
}

// AddPromptVersion records a new candidate prompt revision for
// agentType, inactive until explicitly activated.
func (s *Store) AddPromptVersion(ctx context.Context, agentType, body, confidence string) (*PromptVersion, error) {
	var nextVersion int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0) + 1 FROM prompt_versions WHERE agent_type = ?;
	`, agentType).Scan(&nextVersion); err != nil {
		return nil, fmt.Errorf("compute next prompt version: %w", err)
	}
	pv := &PromptVersion{ID: uuid.NewString(), AgentType: agentType, Version: nextVersion, Body: body, Confidence: confidence}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO prompt_versions (id, agent_type, version, body, confidence, active, created_at)
		VALUES (?, ?, ?, ?, ?, 0, CURRENT_TIMESTAMP);
	`, pv.ID, agentType, nextVersion, body, confidence)
	if err != nil {
		return nil, fmt.Errorf("insert prompt version: %w", err)
	}
	return pv, nil
}

// ActivatePromptVersion makes version the single active prompt for
// agentType.
func (s *Store) ActivatePromptVersion(ctx context.Context, agentType string, version int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin activate prompt tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `UPDATE prompt_versions SET active = 0 WHERE agent_type = ?;`, agentType); err != nil {
		return fmt.Errorf("deactivate prompts: %w", err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE prompt_versions SET active = 1 WHERE agent_type = ? AND version = ?;`, agentType, version)
	if err != nil {
		return fmt.Errorf("activate prompt: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("activate prompt rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("prompt version %d for %s not found", version, agentType)
	}
	return tx.Commit()
}

// GetActivePromptVersion returns the currently active prompt version
// for agentType, or nil if none is active.
func (s *Store) GetActivePromptVersion(ctx context.Context, agentType string) (*PromptVersion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, agent_type, version, body, confidence, active, usage_count, positive_rating, negative_rating, correction_rate, created_at
		FROM prompt_versions WHERE agent_type = ? AND active = 1;
	`, agentType)
	pv, err := scanPromptVersion(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active prompt version: %w", err)
	}
	return pv, nil
}

// UpdatePromptMetrics overwrites the active prompt version's rolling
// metrics for agentType. It is a no-op if no version is active.
func (s *Store) UpdatePromptMetrics(ctx context.Context, agentType string, m PromptMetrics) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE prompt_versions
		SET usage_count = ?, positive_rating = ?, negative_rating = ?, correction_rate = ?
		WHERE agent_type = ? AND active = 1;
	`, m.UsageCount, m.PositiveRating, m.NegativeRating, m.CorrectionRate, agentType)
	if err != nil {
		return fmt.Errorf("update prompt metrics: %w", err)
	}
	return nil
}

func scanPromptVersion(scanFn func(dest ...any) error) (*PromptVersion, error) {
	var pv PromptVersion
	var active int
	if err := scanFn(&pv.ID, &pv.AgentType, &pv.Version, &pv.Body, &pv.Confidence, &active,
		&pv.Metrics.UsageCount, &pv.Metrics.PositiveRating, &pv.Metrics.NegativeRating, &pv.Metrics.CorrectionRate, &pv.CreatedAt); err != nil {
		return nil, err
	}
	pv.Active = active != 0
	return &pv, nil
}
