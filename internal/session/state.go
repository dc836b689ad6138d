package session

import (
	"errors"
	"slices"
	"sync"

	"github.com/matheus3301/wxm/internal/store"
	"github.com/matheus3301/wxm/internal/wx"
)

var errSelfAlreadySet = errors.New("current user already set")

// State is the in-memory view of the signed-in account that the sync engine
// consults between polls: who the current user is, which chats and directory
// contacts are already known, and the sync cursor. All methods are safe for
// concurrent use; identifiers count as known only once their records have
// been applied.
type State struct {
	mu       sync.RWMutex
	self     *store.Contact
	chats    map[string]struct{}
	contacts map[string]struct{}
	cursor   wx.SyncKey
}

// NewState creates an empty session state.
func NewState() *State {
	return &State{
		chats:    make(map[string]struct{}),
		contacts: make(map[string]struct{}),
	}
}

// SetSelf records the current user. It may only be called once.
func (s *State) SetSelf(c store.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.self != nil {
		return errSelfAlreadySet
	}
	s.self = &c
	return nil
}

// Self returns the current user, if set.
func (s *State) Self() (store.Contact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.self == nil {
		return store.Contact{}, false
	}
	return *s.self, true
}

// SelfID returns the current user's identifier or "" before initialization.
func (s *State) SelfID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.self == nil {
		return ""
	}
	return s.self.ID
}

// Cursor returns a copy of the current sync cursor.
func (s *State) Cursor() wx.SyncKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return wx.SyncKey{Count: s.cursor.Count, List: slices.Clone(s.cursor.List)}
}

// SetCursor replaces the cursor with one returned by the remote. Empty keys
// are ignored so a partial response never rewinds the cursor.
func (s *State) SetCursor(k wx.SyncKey) bool {
	if k.IsZero() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = wx.SyncKey{Count: k.Count, List: slices.Clone(k.List)}
	return true
}

// AddChats marks contacts as part of the chat roster and returns how many were new.
func (s *State) AddChats(cs []store.Contact) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return addIDs(s.chats, cs)
}

// AddContacts marks contacts as part of the directory and returns how many were new.
func (s *State) AddContacts(cs []store.Contact) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return addIDs(s.contacts, cs)
}

// HasChat reports whether id is in the chat roster.
func (s *State) HasChat(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.chats[id]
	return ok
}

// UnknownChats returns the identifiers from ids that are not yet in the chat
// roster, deduplicated and in input order.
func (s *State) UnknownChats(ids []string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{}, len(ids))
	var out []string
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := s.chats[id]; ok {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// ChatCount returns the number of roster entries.
func (s *State) ChatCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chats)
}

// ContactCount returns the number of directory entries.
func (s *State) ContactCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.contacts)
}

func addIDs(set map[string]struct{}, cs []store.Contact) int {
	added := 0
	for _, c := range cs {
		if _, ok := set[c.ID]; !ok {
			set[c.ID] = struct{}{}
			added++
		}
	}
	return added
}
