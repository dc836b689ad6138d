package store

import "unicode/utf8"

const previewLen = 100

// ListChats returns roster chats, most recently active first. Chats without
// messages follow, in sort bucket order.
func (db *DB) ListChats(limit, offset int) ([]Chat, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT c.id, c.display_name, c.remark_name, c.signature, c.avatar_url, c.muted, c.sort_key, c.is_group, c.member_count,
			COALESCE(m.created_at, 0), COALESCE(m.content, '')
		FROM contacts c
		LEFT JOIN messages m ON m.id = (
			SELECT id FROM messages WHERE chat_id = c.id ORDER BY created_at DESC, id DESC LIMIT 1
		)
		WHERE c.is_chat = 1
		ORDER BY COALESCE(m.created_at, 0) DESC, c.sort_key = '#', c.sort_key, c.id
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.DisplayName, &c.RemarkName, &c.Signature, &c.AvatarURL, &c.Muted, &c.SortKey, &c.IsGroup, &c.MemberCount,
			&c.LastMessageAt, &c.LastMessagePreview); err != nil {
			return nil, err
		}
		c.LastMessagePreview = truncate(c.LastMessagePreview, previewLen)
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// ChatCount returns the number of roster chats.
func (db *DB) ChatCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM contacts WHERE is_chat = 1`).Scan(&count)
	return count, err
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
