package dispatch

import (
	"github.com/google/uuid"
	"github.com/matheus3301/wxm/internal/store"
)

// Kind selects which consumer callback receives a batch.
type Kind int

const (
	ContactsAdded Kind = iota + 1
	ContactsUpdated
	MessagesSynced
	DirectoryLoaded
	SessionEnded
)

func (k Kind) String() string {
	switch k {
	case ContactsAdded:
		return "contacts_added"
	case ContactsUpdated:
		return "contacts_updated"
	case MessagesSynced:
		return "messages_synced"
	case DirectoryLoaded:
		return "directory_loaded"
	case SessionEnded:
		return "session_ended"
	}
	return "unknown"
}

// Batch is one ordered unit of change handed to the consumer.
type Batch struct {
	ID       uuid.UUID
	Seq      uint64
	Kind     Kind
	Contacts []store.Contact
	Messages []store.Message
	// Err is set on SessionEnded batches.
	Err error
}

func (b Batch) empty() bool {
	switch b.Kind {
	case MessagesSynced:
		return len(b.Messages) == 0
	case SessionEnded:
		return false
	}
	return len(b.Contacts) == 0
}

// Size is the number of entities the batch carries.
func (b Batch) Size() int {
	return len(b.Contacts) + len(b.Messages)
}

// Consumer receives entity changes. Its methods are only ever called from the
// dispatcher's goroutine, one at a time, in submission order.
type Consumer interface {
	OnContactsAdded(contacts []store.Contact)
	OnContactsUpdated(contacts []store.Contact)
	OnMessagesSynced(messages []store.Message)
	OnDirectoryLoaded(contacts []store.Contact)
}

// SessionEndHandler is implemented by consumers that want the terminal signal
// raised when the remote session is invalidated.
type SessionEndHandler interface {
	OnSessionEnded(err error)
}
