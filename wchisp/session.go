package wchisp

import (
	"context"
	"errors"
	"sync"
)

// Handle identifies an open session in a SessionManager.
type Handle uint32

// ErrUnknownHandle is used when a handle does not refer to an open
// session.
var ErrUnknownHandle = errors.New("wchisp: unknown session handle")

// SessionManager tracks sessions by opaque handle for boundary layers
// that cannot hold Go pointers, such as FFI bridges.
//
// Open and Close are its only mutators. The lock guards the map alone and
// is never held across a transport call, so independent sessions flash in
// parallel.
type SessionManager struct {
	mu       sync.Mutex
	next     Handle
	sessions map[Handle]*Session
}

// NewSessionManager returns an empty manager. Construct one per process
// and pass it explicitly to the boundary layer.
func NewSessionManager() *SessionManager {
	return &SessionManager{sessions: make(map[Handle]*Session)}
}

// Open identifies the device behind hal and registers the resulting
// session under a fresh handle.
func (m *SessionManager) Open(ctx context.Context, hal HAL, opts ...Option) (Handle, *Session, error) {
	// Identification talks to the device; keep it outside the lock.
	s, err := NewSession(ctx, hal, opts...)
	if err != nil {
		return 0, nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	h := m.next
	m.sessions[h] = s
	return h, s, nil
}

// Get returns the session for a handle.
func (m *SessionManager) Get(h Handle) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[h]
	if !ok {
		return nil, ErrUnknownHandle
	}
	return s, nil
}

// Close releases the handle. The transport itself belongs to the caller
// and is not closed here.
func (m *SessionManager) Close(h Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[h]; !ok {
		return ErrUnknownHandle
	}
	delete(m.sessions, h)
	return nil
}

// Len reports the number of open sessions.
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
