package store

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// Mirror applies delivered entity changes to the database. It is meant to be
// the single consumer of the sync dispatcher, so its callbacks never run
// concurrently.
type Mirror struct {
	db     *DB
	logger *zap.Logger
	ended  atomic.Pointer[error]
}

// NewMirror creates a mirror consumer writing to db.
func NewMirror(db *DB, logger *zap.Logger) *Mirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mirror{db: db, logger: logger}
}

func (m *Mirror) OnContactsAdded(contacts []Contact) {
	m.applyChats(contacts, "added")
}

func (m *Mirror) OnContactsUpdated(contacts []Contact) {
	m.applyChats(contacts, "updated")
}

func (m *Mirror) OnDirectoryLoaded(contacts []Contact) {
	if err := m.db.UpsertContacts(contacts); err != nil {
		m.logger.Error("failed to store directory", zap.Error(err), zap.Int("count", len(contacts)))
		return
	}
	if err := m.db.MarkDirectory(ids(contacts)); err != nil {
		m.logger.Error("failed to mark directory", zap.Error(err))
		return
	}
	m.logger.Info("directory mirrored", zap.Int("contacts", len(contacts)))
}

func (m *Mirror) OnMessagesSynced(msgs []Message) {
	n, err := m.db.InsertMessages(msgs)
	if err != nil {
		m.logger.Error("failed to store messages", zap.Error(err), zap.Int("count", len(msgs)))
		return
	}
	m.logger.Debug("messages mirrored", zap.Int("received", len(msgs)), zap.Int("inserted", n))
}

// OnSessionEnded records the terminal error reported by the engine.
func (m *Mirror) OnSessionEnded(err error) {
	m.ended.Store(&err)
	m.logger.Warn("session ended, mirror is frozen", zap.Error(err))
}

// Ended returns the terminal error, or nil while the session is alive.
func (m *Mirror) Ended() error {
	if p := m.ended.Load(); p != nil {
		return *p
	}
	return nil
}

func (m *Mirror) applyChats(contacts []Contact, op string) {
	if err := m.db.UpsertContacts(contacts); err != nil {
		m.logger.Error("failed to store contacts", zap.String("op", op), zap.Error(err), zap.Int("count", len(contacts)))
		return
	}
	if err := m.db.MarkChats(ids(contacts)); err != nil {
		m.logger.Error("failed to mark chats", zap.String("op", op), zap.Error(err))
		return
	}
	m.logger.Debug("contacts mirrored", zap.String("op", op), zap.Int("count", len(contacts)))
}

func ids(contacts []Contact) []string {
	out := make([]string, len(contacts))
	for i, c := range contacts {
		out[i] = c.ID
	}
	return out
}
