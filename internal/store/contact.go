package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const contactColumns = `id, display_name, remark_name, signature, avatar_url, muted, sort_key, is_group, member_count`

// UpsertContacts inserts or updates contacts and replaces their member lists
// in a single transaction. Later entries win over earlier ones with the same ID.
func (db *DB) UpsertContacts(contacts []Contact) error {
	if len(contacts) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, c := range contacts {
		if _, err := tx.Exec(`
			INSERT INTO contacts (id, display_name, remark_name, signature, avatar_url, muted, sort_key, is_group, member_count, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				display_name = excluded.display_name,
				remark_name = excluded.remark_name,
				signature = excluded.signature,
				avatar_url = excluded.avatar_url,
				muted = excluded.muted,
				sort_key = excluded.sort_key,
				is_group = excluded.is_group,
				member_count = excluded.member_count,
				updated_at = excluded.updated_at`,
			c.ID, c.DisplayName, c.RemarkName, c.Signature, c.AvatarURL, c.Muted, c.SortKey, c.IsGroup, c.MemberCount, now); err != nil {
			return fmt.Errorf("upsert contact %q: %w", c.ID, err)
		}
		if !c.IsGroup {
			continue
		}
		if _, err := tx.Exec(`DELETE FROM members WHERE group_id = ?`, c.ID); err != nil {
			return fmt.Errorf("clear members of %q: %w", c.ID, err)
		}
		for i, m := range c.Members {
			if _, err := tx.Exec(`
				INSERT INTO members (group_id, position, member_id, nick_name, display_name)
				VALUES (?, ?, ?, ?, ?)`,
				c.ID, i, m.ID, m.NickName, m.DisplayName); err != nil {
				return fmt.Errorf("insert member of %q: %w", c.ID, err)
			}
		}
	}
	return tx.Commit()
}

// MarkChats flags contacts as part of the chat roster.
func (db *DB) MarkChats(ids []string) error {
	return db.mark("is_chat", ids)
}

// MarkDirectory flags contacts as part of the contact directory.
func (db *DB) MarkDirectory(ids []string) error {
	return db.mark("in_directory", ids)
}

func (db *DB) mark(column string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, id := range ids {
		if _, err := tx.Exec(`
			INSERT INTO contacts (id, `+column+`, updated_at) VALUES (?, 1, ?)
			ON CONFLICT(id) DO UPDATE SET `+column+` = 1`,
			id, now); err != nil {
			return fmt.Errorf("mark %s %q: %w", column, id, err)
		}
	}
	return tx.Commit()
}

// GetContact returns a contact by ID with its members, or nil if unknown.
func (db *DB) GetContact(id string) (*Contact, error) {
	c, err := scanContact(db.QueryRow(`SELECT `+contactColumns+` FROM contacts WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if c.IsGroup {
		if c.Members, err = db.members(c.ID); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

// ListContacts returns directory contacts ordered by sort bucket ("#" last)
// and name. A non-empty filter keeps contacts whose display or remark name
// contains it, case-insensitively.
func (db *DB) ListContacts(filter string, limit, offset int) ([]Contact, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + contactColumns + ` FROM contacts WHERE in_directory = 1`
	var args []any
	if filter = strings.TrimSpace(filter); filter != "" {
		q += ` AND (display_name LIKE ? ESCAPE '\' OR remark_name LIKE ? ESCAPE '\')`
		pattern := "%" + escapeLike(filter) + "%"
		args = append(args, pattern, pattern)
	}
	q += ` ORDER BY sort_key = '#', sort_key, COALESCE(NULLIF(remark_name,''), NULLIF(display_name,''), id) LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var contacts []Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// ContactCount returns the number of directory contacts.
func (db *DB) ContactCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM contacts WHERE in_directory = 1`).Scan(&count)
	return count, err
}

func (db *DB) members(groupID string) ([]Member, error) {
	rows, err := db.Query(`
		SELECT member_id, nick_name, display_name FROM members
		WHERE group_id = ? ORDER BY position`, groupID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var members []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ID, &m.NickName, &m.DisplayName); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContact(row rowScanner) (Contact, error) {
	var c Contact
	err := row.Scan(&c.ID, &c.DisplayName, &c.RemarkName, &c.Signature, &c.AvatarURL, &c.Muted, &c.SortKey, &c.IsGroup, &c.MemberCount)
	return c, err
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
