package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AppliedSkill records the last applied version of a skill and where
// its pre-apply backup lives, so the skill engine can roll it back.
type AppliedSkill struct {
	Name        string
	Version     string
	ContentHash string
	AppliedAt   time.Time
	BackupPath  string
}

// RecordAppliedSkill upserts the applied-skill ledger entry after a
// successful apply.
func (s *Store) RecordAppliedSkill(ctx context.Context, name, version, contentHash, backupPath string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO applied_skills (name, version, content_hash, applied_at, backup_path)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP, ?)
		ON CONFLICT(name) DO UPDATE SET
			version = excluded.version,
			content_hash = excluded.content_hash,
			applied_at = excluded.applied_at,
			backup_path = excluded.backup_path;
	`, name, version, contentHash, backupPath)
	if err != nil {
		return fmt.Errorf("record applied skill: %w", err)
	}
	return nil
}

// GetAppliedSkill returns the ledger entry for name, or nil if it was
// never applied.
func (s *Store) GetAppliedSkill(ctx context.Context, name string) (*AppliedSkill, error) {
	var a AppliedSkill
	err := s.db.QueryRowContext(ctx, `
		SELECT name, version, content_hash, applied_at, COALESCE(backup_path, '')
		FROM applied_skills WHERE name = ?;
	`, name).Scan(&a.Name, &a.Version, &a.ContentHash, &a.AppliedAt, &a.BackupPath)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get applied skill: %w", err)
	}
	return &a, nil
}

// RemoveAppliedSkill drops the ledger entry after a successful
// uninstall.
func (s *Store) RemoveAppliedSkill(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM applied_skills WHERE name = ?;`, name)
	if err != nil {
		return fmt.Errorf("remove applied skill: %w", err)
	}
	return nil
}

// ListAppliedSkills returns every currently applied skill.
func (s *Store) ListAppliedSkills(ctx context.Context) ([]*AppliedSkill, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, version, content_hash, applied_at, COALESCE(backup_path, '')
		FROM applied_skills ORDER BY name;
	`)
	if err != nil {
		return nil, fmt.Errorf("list applied skills: %w", err)
	}
	defer rows.Close()

	var out []*AppliedSkill
	for rows.Next() {
		var a AppliedSkill
		if err := rows.Scan(&a.Name, &a.Version, &a.ContentHash, &a.AppliedAt, &a.BackupPath); err != nil {
			return nil, fmt.Errorf("scan applied skill: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
