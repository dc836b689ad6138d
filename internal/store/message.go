package store

import (
	"fmt"
	"strings"
	"time"
)

// InsertMessages stores messages and adds their chats to the roster.
// Load-more signals are not stored. Messages whose server ID is already
// present are ignored. It returns the number of rows inserted.
func (db *DB) InsertMessages(msgs []Message) (int, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	inserted := 0
	for _, m := range msgs {
		if m.LoadMore {
			continue
		}
		chatID := m.ChatID()
		if _, err := tx.Exec(`
			INSERT INTO contacts (id, is_chat, updated_at) VALUES (?, 1, ?)
			ON CONFLICT(id) DO UPDATE SET is_chat = 1`,
			chatID, now); err != nil {
			return 0, fmt.Errorf("mark chat %q: %w", chatID, err)
		}
		res, err := tx.Exec(`
			INSERT OR IGNORE INTO messages (msg_id, chat_id, from_id, to_id, message_type, content, created_at, is_incoming)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, chatID, m.FromID, m.ToID, m.Type, m.Content, m.CreatedAt.UnixMilli(), m.IsIncoming)
		if err != nil {
			return 0, fmt.Errorf("insert message %q: %w", m.ID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit messages: %w", err)
	}
	return inserted, nil
}

// ListMessages returns messages for a chat using keyset pagination by
// timestamp (unix milliseconds), newest first.
func (db *DB) ListMessages(chatID string, beforeMs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeMs <= 0 {
		beforeMs = time.Now().UnixMilli() + 1
	}
	return db.queryMessages(`
		SELECT msg_id, from_id, to_id, message_type, content, created_at, is_incoming
		FROM messages
		WHERE chat_id = ? AND created_at < ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, chatID, beforeMs, limit)
}

// SearchMessages returns messages whose content contains query,
// case-insensitively, newest first. An empty chatID searches every chat.
func (db *DB) SearchMessages(query, chatID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `
		SELECT msg_id, from_id, to_id, message_type, content, created_at, is_incoming
		FROM messages
		WHERE content LIKE ? ESCAPE '\'`
	args := []any{"%" + escapeLike(strings.TrimSpace(query)) + "%"}
	if chatID != "" {
		q += " AND chat_id = ?"
		args = append(args, chatID)
	}
	q += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)
	return db.queryMessages(q, args...)
}

// MessageCount returns the total number of messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

func (db *DB) queryMessages(q string, args ...any) ([]Message, error) {
	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var (
			m  Message
			ms int64
		)
		if err := rows.Scan(&m.ID, &m.FromID, &m.ToID, &m.Type, &m.Content, &ms, &m.IsIncoming); err != nil {
			return nil, err
		}
		m.CreatedAt = time.UnixMilli(ms).Local()
		m.ShortTime = m.CreatedAt.Format("15:04")
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
