package relay

import (
	"errors"
	"sync"
)

// ErrDuplicateID is returned when registering a client ID that is
// already connected. Generated IDs make this practically impossible,
// but caller-supplied IDs must still be checked.
var ErrDuplicateID = errors.New("client id already registered")

// Directory tracks every connected session by client ID.
type Directory struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewDirectory() *Directory {
	return &Directory{sessions: make(map[string]*Session)}
}

// Register inserts a session keyed by its client ID.
func (d *Directory) Register(s *Session) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.sessions[s.ID]; ok {
		return ErrDuplicateID
	}
	d.sessions[s.ID] = s
	return nil
}

// Lookup returns the session for id, if connected.
func (d *Directory) Lookup(id string) (*Session, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.sessions[id]
	return s, ok
}

// Remove deletes and returns the session for id. Removing an absent
// id is a no-op, which makes racing cleanup paths idempotent.
func (d *Directory) Remove(id string) (*Session, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions[id]
	if ok {
		delete(d.sessions, id)
	}
	return s, ok
}

// Len returns the number of connected sessions.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sessions)
}

// All returns a snapshot of every connected session.
func (d *Directory) All() []*Session {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Session, 0, len(d.sessions))
	for _, s := range d.sessions {
		out = append(out, s)
	}
	return out
}
