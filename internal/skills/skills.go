// Package skills implements the skill engine: manifest parsing, a
// hand-written three-way text merge, and atomic apply/rollback against
// the files a skill touches.
package skills

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/coreclaw/coreclaw/internal/bus"
	"github.com/coreclaw/coreclaw/internal/store"
)

// Manifest describes a skill package: the files it edits and their
// base/skill content, parsed from SKILL.yaml.
type Manifest struct {
	Name    string   `yaml:"name"`
	Version string   `yaml:"version"`
	Depends []string `yaml:"depends,omitempty"`
	Conflicts []string `yaml:"conflicts,omitempty"`
	Files   []FilePatch `yaml:"files"`
}

// FilePatch is one file a skill wants to modify.
type FilePatch struct {
	Path string `yaml:"path"` // path relative to CORECLAW_HOME, the file to modify
	Base string `yaml:"base"` // the skill author's expected current content
	New  string `yaml:"new"`  // the skill's desired replacement content
}

// LoadManifest parses a SKILL.yaml file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if m.Name == "" {
		return nil, fmt.Errorf("manifest missing name")
	}
	return &m, nil
}

// ApplyError wraps the step that failed during Apply along with
// whether rollback of the partial change succeeded.
type ApplyError struct {
	Step            string
	RollbackSucceeded bool
	Err             error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("skill apply failed at %s (rollback ok=%v): %v", e.Step, e.RollbackSucceeded, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

// Engine applies and rolls back skills against files under homeDir.
type Engine struct {
	homeDir string
	st      *store.Store
	eb      *bus.Bus
	logger  *slog.Logger
}

// New creates a skill Engine rooted at homeDir.
func New(homeDir string, st *store.Store, eb *bus.Bus, logger *slog.Logger) *Engine {
	return &Engine{homeDir: homeDir, st: st, eb: eb, logger: logger}
}

// Apply three-way merges every file in manifest against its current
// on-disk content, backs up originals, writes merged content, and
// records the applied-skill ledger entry. If any file merge produces a
// conflict, or any write fails, every change made so far is rolled
// back from the backups taken in this call.
func (e *Engine) Apply(m *Manifest) (err error) {
	backups := make(map[string]string) // original path -> backup path
	defer func() {
		if err != nil {
			rollbackOK := e.rollback(backups)
			if e.eb != nil {
				e.eb.Publish(bus.TopicSkillFailed, bus.SkillLifecycleEvent{SkillName: m.Name, Version: m.Version, Reason: err.Error()})
			}
			err = &ApplyError{Step: "apply", RollbackSucceeded: rollbackOK, Err: err}
		}
	}()

	for _, patch := range m.Files {
		target := filepath.Join(e.homeDir, patch.Path)
		current, readErr := readOrEmpty(target)
		if readErr != nil {
			return fmt.Errorf("read %s: %w", patch.Path, readErr)
		}

		merged, conflict := ThreeWayMerge(patch.Base, current, patch.New)
		if conflict {
			return fmt.Errorf("merge conflict in %s", patch.Path)
		}

		backupPath, backupErr := backupFile(target)
		if backupErr != nil {
			return fmt.Errorf("backup %s: %w", patch.Path, backupErr)
		}
		backups[target] = backupPath

		if writeErr := atomicWrite(target, merged); writeErr != nil {
			return fmt.Errorf("write %s: %w", patch.Path, writeErr)
		}
	}

	hash := contentHash(m)
	backupManifest := joinBackupPaths(backups)
	if recErr := e.st.RecordAppliedSkill(bgCtx(), m.Name, m.Version, hash, backupManifest); recErr != nil {
		return fmt.Errorf("record applied skill: %w", recErr)
	}
	if e.eb != nil {
		e.eb.Publish(bus.TopicSkillApplied, bus.SkillLifecycleEvent{SkillName: m.Name, Version: m.Version})
	}
	return nil
}

// Rollback restores every file touched by a previously applied skill
// from its recorded backup.
func (e *Engine) Rollback(name string) error {
	applied, err := e.st.GetAppliedSkill(bgCtx(), name)
	if err != nil {
		return fmt.Errorf("get applied skill: %w", err)
	}
	if applied == nil {
		return fmt.Errorf("skill %s is not applied", name)
	}
	backups := splitBackupPaths(applied.BackupPath)
	if !e.rollback(backups) {
		return fmt.Errorf("rollback incomplete for skill %s", name)
	}
	if err := e.st.RemoveAppliedSkill(bgCtx(), name); err != nil {
		return err
	}
	if e.eb != nil {
		e.eb.Publish(bus.TopicSkillRolledBack, bus.SkillLifecycleEvent{SkillName: name, Version: applied.Version})
	}
	return nil
}

func (e *Engine) rollback(backups map[string]string) bool {
	ok := true
	for target, backupPath := range backups {
		if backupPath == "" {
			continue
		}
		if err := os.Rename(backupPath, target); err != nil {
			ok = false
			if e.logger != nil {
				e.logger.Error("skill_rollback_failed", slog.String("target", target), slog.String("error", err.Error()))
			}
		}
	}
	return ok
}

func readOrEmpty(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}

func backupFile(target string) (string, error) {
	if _, err := os.Stat(target); os.IsNotExist(err) {
		return "", nil // nothing to back up
	}
	backupPath := target + ".skillbak"
	data, err := os.ReadFile(target)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(backupPath), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return "", err
	}
	return backupPath, nil
}

func atomicWrite(target, content string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, target)
}

func contentHash(m *Manifest) string {
	h := sha256.New()
	for _, f := range m.Files {
		_, _ = h.Write([]byte(f.Path))
		_, _ = h.Write([]byte(f.New))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func joinBackupPaths(backups map[string]string) string {
	out := ""
	for target, backup := range backups {
		if out != "" {
			out += "\n"
		}
		out += target + "=" + backup
	}
	return out
}

func splitBackupPaths(serialized string) map[string]string {
	out := map[string]string{}
	start := 0
	for i := 0; i <= len(serialized); i++ {
		if i == len(serialized) || serialized[i] == '\n' {
			line := serialized[start:i]
			start = i + 1
			if line == "" {
				continue
			}
			for j := 0; j < len(line); j++ {
				if line[j] == '=' {
					out[line[:j]] = line[j+1:]
					break
				}
			}
		}
	}
	return out
}
