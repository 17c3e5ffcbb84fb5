package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of a task record.
type TaskStatus string

// Canonical task states.
const (
	TaskStatusQueued    TaskStatus = "QUEUED"
	TaskStatusRunning   TaskStatus = "RUNNING"
	TaskStatusSucceeded TaskStatus = "SUCCEEDED"
	TaskStatusFailed    TaskStatus = "FAILED"
	TaskStatusRetryWait TaskStatus = "RETRY_WAIT"
	TaskStatusCanceled  TaskStatus = "CANCELED"
)

var allowedTransitions = map[TaskStatus]map[TaskStatus]bool{
	TaskStatusQueued:    {TaskStatusRunning: true, TaskStatusCanceled: true},
	TaskStatusRunning:   {TaskStatusSucceeded: true, TaskStatusFailed: true, TaskStatusRetryWait: true, TaskStatusCanceled: true},
	TaskStatusRetryWait: {TaskStatusQueued: true, TaskStatusFailed: true, TaskStatusCanceled: true},
	// SUCCEEDED -> RUNNING lets the Quality conductor send a task back
	// for rework when its output fails review.
	TaskStatusSucceeded: {TaskStatusRunning: true},
}

func canTransition(from, to TaskStatus) bool {
	return allowedTransitions[from][to]
}

// Task is a unit of work dispatched to the worker invoker.
type Task struct {
	ID            string
	MessageID     string
	ParentTaskID  string
	Type          string
	Status        TaskStatus
	Priority      int
	Attempt       int
	MaxAttempts   int
	AvailableAt   time.Time
	Payload       string
	Result        string
	Error         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CreateTask inserts a new QUEUED task.
func (s *Store) CreateTask(ctx context.Context, messageID, taskType, payload string, priority, maxAttempts int) (*Task, error) {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	task := &Task{
		ID:          uuid.NewString(),
		MessageID:   messageID,
		Type:        taskType,
		Status:      TaskStatusQueued,
		Priority:    priority,
		MaxAttempts: maxAttempts,
		Payload:     payload,
	}
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin create task tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var msgID any
		if messageID != "" {
			msgID = messageID
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (id, message_id, type, status, priority, attempt, max_attempts, available_at, payload, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, 0, ?, CURRENT_TIMESTAMP, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP);
		`, task.ID, msgID, taskType, TaskStatusQueued, priority, maxAttempts, payload); err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		if err := s.appendTaskEventTx(ctx, tx, task.ID, "", TaskStatusQueued, "task.created", "{}"); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// CreateSubtask inserts a task that waits on parentTaskID's plan wave,
// used by the Workflow conductor's DAG planning.
func (s *Store) CreateSubtask(ctx context.Context, parentTaskID, taskType, payload string, priority int) (*Task, error) {
	task, err := s.CreateTask(ctx, "", taskType, payload, priority, 3)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE tasks SET parent_task_id = ? WHERE id = ?;`, parentTaskID, task.ID); err != nil {
		return nil, fmt.Errorf("set parent task: %w", err)
	}
	task.ParentTaskID = parentTaskID
	return task, nil
}

// ClaimNextTask atomically selects and marks RUNNING the highest
// priority, oldest available QUEUED task.
func (s *Store) ClaimNextTask(ctx context.Context) (*Task, error) {
	var result *Task
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin claim tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		row := tx.QueryRowContext(ctx, `
			SELECT id, COALESCE(message_id, ''), COALESCE(parent_task_id, ''), type, status, priority,
				attempt, max_attempts, available_at, payload, COALESCE(result, ''), COALESCE(error, ''),
				created_at, updated_at
			FROM tasks
			WHERE status = ? AND available_at <= CURRENT_TIMESTAMP
			ORDER BY priority DESC, created_at ASC
			LIMIT 1;
		`, TaskStatusQueued)
		task, err := scanTask(row.Scan)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return err
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE tasks SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND status = ?;
		`, TaskStatusRunning, task.ID, TaskStatusQueued)
		if err != nil {
			return fmt.Errorf("claim task: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("claim rows affected: %w", err)
		}
		if affected != 1 {
			return nil
		}
		if err := s.appendTaskEventTx(ctx, tx, task.ID, TaskStatusQueued, TaskStatusRunning, "task.claimed", "{}"); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit claim tx: %w", err)
		}
		task.Status = TaskStatusRunning
		result = task
		return nil
	})
	return result, err
}

// CompleteTask transitions a RUNNING task to SUCCEEDED and records its
// result payload.
func (s *Store) CompleteTask(ctx context.Context, taskID, result string) error {
	return s.transition(ctx, taskID, []TaskStatus{TaskStatusRunning}, TaskStatusSucceeded, "task.succeeded", &result, nil)
}

// FailTask transitions a RUNNING task to RETRY_WAIT (if attempts
// remain) or FAILED, and returns whether it will retry.
func (s *Store) FailTask(ctx context.Context, taskID, errMsg string, nextAvailableAt time.Time) (willRetry bool, err error) {
	var attempt, maxAttempts int
	if err := s.db.QueryRowContext(ctx, `SELECT attempt, max_attempts FROM tasks WHERE id = ?;`, taskID).Scan(&attempt, &maxAttempts); err != nil {
		return false, fmt.Errorf("read task attempts: %w", err)
	}
	willRetry = attempt+1 < maxAttempts
	to := TaskStatusFailed
	if willRetry {
		to = TaskStatusRetryWait
	}

	err = retryOnBusy(ctx, 5, func() error {
		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("begin fail tx: %w", txErr)
		}
		defer func() { _ = tx.Rollback() }()

		var current TaskStatus
		if scanErr := tx.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?;`, taskID).Scan(&current); scanErr != nil {
			return fmt.Errorf("read task status: %w", scanErr)
		}
		if current != TaskStatusRunning {
			return fmt.Errorf("task %s not running (status=%s)", taskID, current)
		}
		if !canTransition(current, to) {
			return fmt.Errorf("illegal transition %s -> %s", current, to)
		}
		if _, execErr := tx.ExecContext(ctx, `
			UPDATE tasks
			SET status = ?, attempt = attempt + 1, available_at = ?, error = ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ?;
		`, to, nextAvailableAt, errMsg, taskID); execErr != nil {
			return fmt.Errorf("update failed task: %w", execErr)
		}
		if to == TaskStatusRetryWait {
			if _, execErr := tx.ExecContext(ctx, `UPDATE tasks SET status = ? WHERE id = ?;`, TaskStatusQueued, taskID); execErr != nil {
				return fmt.Errorf("requeue task: %w", execErr)
			}
		}
		if evErr := s.appendTaskEventTx(ctx, tx, taskID, current, to, "task.failed", `{"error":true}`); evErr != nil {
			return evErr
		}
		return tx.Commit()
	})
	if err != nil {
		return false, err
	}
	return willRetry, nil
}

func (s *Store) transition(ctx context.Context, taskID string, allowedFrom []TaskStatus, to TaskStatus, eventType string, result, errMsg *string) error {
	return retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transition tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var current TaskStatus
		if err := tx.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?;`, taskID).Scan(&current); err != nil {
			return fmt.Errorf("read task status: %w", err)
		}
		allowed := false
		for _, f := range allowedFrom {
			if f == current {
				allowed = true
				break
			}
		}
		if !allowed || !canTransition(current, to) {
			return fmt.Errorf("illegal transition %s -> %s", current, to)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks
			SET status = ?,
				result = CASE WHEN ? THEN ? ELSE result END,
				error = CASE WHEN ? THEN ? ELSE error END,
				updated_at = CURRENT_TIMESTAMP
			WHERE id = ?;
		`, to, result != nil, orEmpty(result), errMsg != nil, orEmpty(errMsg), taskID); err != nil {
			return fmt.Errorf("update task: %w", err)
		}
		if err := s.appendTaskEventTx(ctx, tx, taskID, current, to, eventType, "{}"); err != nil {
			return err
		}
		return tx.Commit()
	})
}

func orEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (s *Store) appendTaskEventTx(ctx context.Context, tx *sql.Tx, taskID string, from, to TaskStatus, eventType, payload string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO task_events (task_id, event_type, state_from, state_to, payload, created_at)
		VALUES (?, ?, NULLIF(?, ''), ?, ?, CURRENT_TIMESTAMP);
	`, taskID, eventType, string(from), string(to), payload)
	if err != nil {
		return fmt.Errorf("insert task_event: %w", err)
	}
	return nil
}

// ReopenForRework transitions a SUCCEEDED task back to RUNNING, used
// by the Quality conductor when output review finds it unacceptable.
func (s *Store) ReopenForRework(ctx context.Context, taskID string) error {
	return s.transition(ctx, taskID, []TaskStatus{TaskStatusSucceeded}, TaskStatusRunning, "task.reopened_for_rework", nil, nil)
}

// MarkSupersededByPlan cancels a QUEUED task once the Workflow
// conductor has fanned it out into a subtask plan, so ClaimNextTask
// never dispatches the parent itself alongside its subtasks.
func (s *Store) MarkSupersededByPlan(ctx context.Context, taskID string) error {
	return s.transition(ctx, taskID, []TaskStatus{TaskStatusQueued}, TaskStatusCanceled, "task.superseded_by_plan", nil, nil)
}

// CountTasksByStatus returns the number of tasks in each status, for
// the status CLI command's summary view.
func (s *Store) CountTasksByStatus(ctx context.Context) (map[TaskStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status;`)
	if err != nil {
		return nil, fmt.Errorf("count tasks by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[TaskStatus]int)
	for rows.Next() {
		var status TaskStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan task status count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// GetTask fetches a task by id.
func (s *Store) GetTask(ctx context.Context, taskID string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(message_id, ''), COALESCE(parent_task_id, ''), type, status, priority,
			attempt, max_attempts, available_at, payload, COALESCE(result, ''), COALESCE(error, ''),
			created_at, updated_at
		FROM tasks WHERE id = ?;
	`, taskID)
	return scanTask(row.Scan)
}

func scanTask(scanFn func(dest ...any) error) (*Task, error) {
	var t Task
	if err := scanFn(&t.ID, &t.MessageID, &t.ParentTaskID, &t.Type, &t.Status, &t.Priority,
		&t.Attempt, &t.MaxAttempts, &t.AvailableAt, &t.Payload, &t.Result, &t.Error,
		&t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

// RecordAgentOutput stores a worker invoker's parsed frame (or parse
// failure) against its task.
func (s *Store) RecordAgentOutput(ctx context.Context, taskID, status, body, errMsg, rawFrame string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_outputs (id, task_id, status, body, error, raw_frame, created_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP);
	`, uuid.NewString(), taskID, status, body, errMsg, rawFrame)
	if err != nil {
		return fmt.Errorf("record agent output: %w", err)
	}
	return nil
}
