package model

import (
	"cmp"
	"slices"
	"strings"
	"sync"

	"github.com/matheus3301/wxm/internal/store"
)

// DefaultHistory is how many messages per chat the roster keeps.
const DefaultHistory = 200

// ChatRow is a chat as the conversation list shows it.
type ChatRow struct {
	store.Chat
	Unread int
}

type chatEntry struct {
	row      ChatRow
	messages []store.Message
	seen     map[string]struct{}
}

// Roster is the viewer's in-memory picture of the account, fed by dispatcher
// callbacks and read by the render loop. It is safe for concurrent use.
type Roster struct {
	mu        sync.RWMutex
	chats     map[string]*chatEntry
	directory []store.Contact
	active    string
	history   int
}

// NewRoster creates an empty roster keeping at most history messages per chat.
func NewRoster(history int) *Roster {
	if history <= 0 {
		history = DefaultHistory
	}
	return &Roster{chats: make(map[string]*chatEntry), history: history}
}

// UpsertChats adds chats or replaces their contact details, keeping activity
// and history.
func (r *Roster) UpsertChats(cs []store.Contact) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range cs {
		r.entry(c.ID).row.Contact = c
	}
}

// SetDirectory replaces the contact directory. Order is kept as delivered.
func (r *Roster) SetDirectory(cs []store.Contact) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.directory = slices.Clone(cs)
}

// AddMessages appends messages to their chats and returns the IDs of the
// chats that changed. Load-more signals are not conversation content and are
// ignored, as are repeated server message IDs.
func (r *Roster) AddMessages(ms []store.Message) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var touched []string
	for _, m := range ms {
		if m.LoadMore {
			continue
		}
		id := m.ChatID()
		e := r.entry(id)
		if m.ID != "" {
			if _, dup := e.seen[m.ID]; dup {
				continue
			}
			e.seen[m.ID] = struct{}{}
		}
		e.messages = append(e.messages, m)
		if over := len(e.messages) - r.history; over > 0 {
			e.messages = slices.Delete(e.messages, 0, over)
		}
		if at := m.CreatedAt.UnixMilli(); at >= e.row.LastMessageAt {
			e.row.LastMessageAt = at
			e.row.LastMessagePreview = m.Content
		}
		if m.IsIncoming && id != r.active {
			e.row.Unread++
		}
		if !slices.Contains(touched, id) {
			touched = append(touched, id)
		}
	}
	return touched
}

// Open marks a chat as the one being read and clears its unread count.
func (r *Roster) Open(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = id
	if e, ok := r.chats[id]; ok {
		e.row.Unread = 0
	}
}

// Active returns the chat being read, if any.
func (r *Roster) Active() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Chat returns one chat.
func (r *Roster) Chat(id string) (ChatRow, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.chats[id]
	if !ok {
		return ChatRow{}, false
	}
	return e.row, true
}

// Chats returns chats whose name or latest message contains filter, most
// recently active first. Idle chats follow by sort bucket, "#" last.
func (r *Roster) Chats(filter string) []ChatRow {
	r.mu.RLock()
	rows := make([]ChatRow, 0, len(r.chats))
	for _, e := range r.chats {
		if matches(filter, e.row.Name(), e.row.LastMessagePreview) {
			rows = append(rows, e.row)
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(rows, func(a, b ChatRow) int {
		if c := cmp.Compare(b.LastMessageAt, a.LastMessageAt); c != 0 {
			return c
		}
		if c := compareBuckets(a.SortKey, b.SortKey); c != 0 {
			return c
		}
		return cmp.Compare(a.Name(), b.Name())
	})
	return rows
}

// Contacts returns directory contacts whose name contains filter.
func (r *Roster) Contacts(filter string) []store.Contact {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]store.Contact, 0, len(r.directory))
	for _, c := range r.directory {
		if matches(filter, c.Name(), c.ID) {
			out = append(out, c)
		}
	}
	return out
}

// Messages returns a chat's retained history, oldest first.
func (r *Roster) Messages(id string) []store.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.chats[id]; ok {
		return slices.Clone(e.messages)
	}
	return nil
}

// Counts returns the number of chats, directory contacts and retained messages.
func (r *Roster) Counts() (chats, contacts, messages int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.chats {
		messages += len(e.messages)
	}
	return len(r.chats), len(r.directory), messages
}

// entry returns the chat entry for id, creating a placeholder for chats only
// known from a message. Callers hold mu.
func (r *Roster) entry(id string) *chatEntry {
	e, ok := r.chats[id]
	if !ok {
		e = &chatEntry{seen: make(map[string]struct{})}
		e.row.ID = id
		r.chats[id] = e
	}
	return e
}

func matches(filter string, fields ...string) bool {
	if filter = strings.ToLower(strings.TrimSpace(filter)); filter == "" {
		return true
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), filter) {
			return true
		}
	}
	return false
}

// compareBuckets orders sort buckets alphabetically with "#" (or none) last.
func compareBuckets(a, b string) int {
	if a == "" {
		a = "#"
	}
	if b == "" {
		b = "#"
	}
	switch {
	case a == b:
		return 0
	case a == "#":
		return 1
	case b == "#":
		return -1
	}
	return cmp.Compare(a, b)
}
