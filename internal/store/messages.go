package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageStatus is the processing state of an inbound or outbound
// communication.
type MessageStatus string

// Canonical message states.
const (
	MessageStatusNew        MessageStatus = "new"
	MessageStatusProcessing MessageStatus = "processing"
	MessageStatusHandled    MessageStatus = "handled"
	MessageStatusFailed     MessageStatus = "failed"
)

// Message is a communication recorded by a channel adapter, either
// inbound (awaiting triage) or outbound (a sent reply).
type Message struct {
	ID           string
	SessionID    string
	Channel      string
	Sender       string
	To           string
	Subject      string
	Body         string
	Direction    string
	Status       MessageStatus
	Category     string
	Priority     int
	AgentType    string
	TriageReason string
	ExternalID   string
	TaskID       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// EnsureSession creates the session row for sessionID if it does not
// already exist.
func (s *Store) EnsureSession(ctx context.Context, sessionID, channel, externalRef string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, channel, external_ref, created_at, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO NOTHING;
	`, sessionID, channel, externalRef)
	if err != nil {
		return fmt.Errorf("ensure session: %w", err)
	}
	return nil
}

// RecordMessage inserts a new inbound message, pre-triage, in status
// "new" and direction "inbound".
func (s *Store) RecordMessage(ctx context.Context, sessionID, channel, sender, body string) (*Message, error) {
	msg := &Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Channel:   channel,
		Sender:    sender,
		Body:      body,
		Direction: "inbound",
		Status:    MessageStatusNew,
	}
	err := retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO messages (id, session_id, channel, sender, body, direction, status, priority, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP);
		`, msg.ID, sessionID, channel, sender, body, msg.Direction, MessageStatusNew)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("record message: %w", err)
	}
	return msg, nil
}

// TriageMessage records the category, priority, agent type and reason
// that the Inbox conductor's rule ladder assigned to a message.
func (s *Store) TriageMessage(ctx context.Context, messageID, category string, priority int, agentType, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET category = ?, priority = ?, agent_type = ?, triage_reason = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?;
	`, category, priority, agentType, reason, messageID)
	if err != nil {
		return fmt.Errorf("triage message: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("triage message rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("message %s not found", messageID)
	}
	return nil
}

// LinkMessageTask records which task a message was routed to and marks
// it processing, so a restart can tell which messages are mid-flight.
func (s *Store) LinkMessageTask(ctx context.Context, messageID, taskID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages SET task_id = ?, status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?;
	`, taskID, MessageStatusProcessing, messageID)
	if err != nil {
		return fmt.Errorf("link message task: %w", err)
	}
	return nil
}

// MarkMessageHandled transitions a message to "handled" once its reply
// has been sent or its task otherwise resolved without a reply.
func (s *Store) MarkMessageHandled(ctx context.Context, messageID string) error {
	if messageID == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?;
	`, MessageStatusHandled, messageID)
	if err != nil {
		return fmt.Errorf("mark message handled: %w", err)
	}
	return nil
}

// MarkMessageFailed transitions a message to "failed" when its task
// exhausts retries without producing a usable result.
func (s *Store) MarkMessageFailed(ctx context.Context, messageID string) error {
	if messageID == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?;
	`, MessageStatusFailed, messageID)
	if err != nil {
		return fmt.Errorf("mark message failed: %w", err)
	}
	return nil
}

// GetMessage fetches a single message by id.
func (s *Store) GetMessage(ctx context.Context, messageID string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, channel, sender, COALESCE(recipient, ''), COALESCE(subject, ''), body,
			COALESCE(direction, 'inbound'), COALESCE(status, 'new'),
			COALESCE(category, ''), priority, COALESCE(agent_type, ''),
			COALESCE(triage_reason, ''), COALESCE(external_id, ''), COALESCE(task_id, ''),
			created_at, updated_at
		FROM messages WHERE id = ?;
	`, messageID)
	return scanMessage(row.Scan)
}

// ListMessagesBySession returns up to limit handled messages from
// sessionID, most recent first, for the Context conductor's thread
// gathering. Only handled messages are eligible: a message still being
// triaged or processed has no settled content to summarize.
func (s *Store) ListMessagesBySession(ctx context.Context, sessionID string, limit int) ([]*Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, channel, sender, COALESCE(recipient, ''), COALESCE(subject, ''), body,
			COALESCE(direction, 'inbound'), COALESCE(status, 'new'),
			COALESCE(category, ''), priority, COALESCE(agent_type, ''),
			COALESCE(triage_reason, ''), COALESCE(external_id, ''), COALESCE(task_id, ''),
			created_at, updated_at
		FROM messages WHERE session_id = ? AND status = ? ORDER BY created_at DESC LIMIT ?;
	`, sessionID, MessageStatusHandled, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages by session: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		m, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMessage(scanFn func(dest ...any) error) (*Message, error) {
	var m Message
	if err := scanFn(&m.ID, &m.SessionID, &m.Channel, &m.Sender, &m.To, &m.Subject, &m.Body,
		&m.Direction, &m.Status, &m.Category, &m.Priority, &m.AgentType, &m.TriageReason,
		&m.ExternalID, &m.TaskID, &m.CreatedAt, &m.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan message: %w", err)
	}
	return &m, nil
}
