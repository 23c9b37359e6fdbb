package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// --- Session operations ---

// CreateSession inserts a new chat session.
func (s *Store) CreateSession(ctx context.Context, sess Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, document_ids, message_count) VALUES (?, ?, ?)`,
		sess.ID, sess.DocumentIDs, sess.MessageCount)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// GetSession returns the session with the given id.
func (s *Store) GetSession(ctx context.Context, id string) (Session, error) {
	var sess Session
	var summary sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_ids, summary, message_count, created_at, updated_at
		FROM sessions WHERE id = ?`, id).Scan(
		&sess.ID, &sess.DocumentIDs, &summary, &sess.MessageCount,
		&sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return sess, ErrNotFound
	}
	if err != nil {
		return sess, fmt.Errorf("querying session: %w", err)
	}
	sess.Summary = summary.String
	return sess, nil
}

// UpdateSessionSummary replaces the session summary.
func (s *Store) UpdateSessionSummary(ctx context.Context, id, summary string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET summary = ?, updated_at = datetime('now') WHERE id = ?`,
		nullable(summary), id)
	return err
}

// IncrementSessionMessageCount bumps the message count and returns the new
// value.
func (s *Store) IncrementSessionMessageCount(ctx context.Context, id string) (int, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET message_count = message_count + 1, updated_at = datetime('now')
		WHERE id = ?`, id)
	if err != nil {
		return 0, err
	}
	var n int
	err = s.db.QueryRowContext(ctx,
		`SELECT message_count FROM sessions WHERE id = ?`, id).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return n, err
}

// DeleteSession removes a session and, via cascade, its messages.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

// --- Message operations ---

// InsertMessage stores a chat message.
func (s *Store) InsertMessage(ctx context.Context, m Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, role, content, token_count, citations)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, m.Role, m.Content, m.TokenCount, nullable(m.Citations))
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// ListMessages returns a session's messages in chronological order.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	return s.listMessages(ctx, sessionID, "ASC")
}

// ListMessagesDesc returns a session's messages newest first.
func (s *Store) ListMessagesDesc(ctx context.Context, sessionID string) ([]Message, error) {
	return s.listMessages(ctx, sessionID, "DESC")
}

func (s *Store) listMessages(ctx context.Context, sessionID, order string) ([]Message, error) {
	// rowid breaks ties between messages created within the same second.
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, session_id, role, content, token_count, citations, created_at
		FROM messages WHERE session_id = ?
		ORDER BY created_at %s, rowid %s`, order, order), sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		var citations sql.NullString
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content,
			&m.TokenCount, &citations, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Citations = citations.String
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// DeleteMessages removes the messages with the given ids.
func (s *Store) DeleteMessages(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM messages WHERE id IN (%s)`, placeholders), args...)
	return err
}
