package store

import (
	"strings"
	"time"
)

// Contact is a person or group chat known to the account.
type Contact struct {
	ID          string
	DisplayName string
	RemarkName  string
	Signature   string
	AvatarURL   string
	Muted       bool
	SortKey     string
	IsGroup     bool
	MemberCount int
	Members     []Member
}

// Name returns the label a user would recognise: remark first, then display name, then ID.
func (c Contact) Name() string {
	switch {
	case c.RemarkName != "":
		return c.RemarkName
	case c.DisplayName != "":
		return c.DisplayName
	}
	return c.ID
}

// Member is the summary of one participant of a group chat.
type Member struct {
	ID          string
	NickName    string
	DisplayName string
}

// Name returns the group-specific display name, falling back to the nickname.
func (m Member) Name() string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	return m.NickName
}

// Message is one chat event received through a sync delta.
type Message struct {
	ID         string
	FromID     string
	ToID       string
	Type       int
	Content    string
	CreatedAt  time.Time
	ShortTime  string
	IsIncoming bool

	// LoadMore marks the synthetic status notification that lists chats
	// whose details still have to be fetched.
	LoadMore        bool
	NotifyUserNames string
}

// ChatID returns the identifier of the conversation the message belongs to,
// seen from the current user.
func (m Message) ChatID() string {
	if m.IsIncoming {
		return m.FromID
	}
	return m.ToID
}

// LoadMoreIDs splits the comma-delimited identifier list carried by a load-more message.
func (m Message) LoadMoreIDs() []string {
	if !m.LoadMore || m.NotifyUserNames == "" {
		return nil
	}
	var ids []string
	for _, id := range strings.Split(m.NotifyUserNames, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// Chat is a roster entry joined with its latest message.
type Chat struct {
	Contact
	LastMessageAt      int64
	LastMessagePreview string
}
