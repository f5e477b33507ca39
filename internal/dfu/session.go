package dfu

import (
	"sync"
	"time"
)

// session is the one in-flight update. Fields other than controller are set
// before the session is published to the holder and never change.
type session struct {
	id            string
	deviceAddress string
	platform      Platform
	startedAt     time.Time
	completion    *Completion

	// controller is guarded by sessionHolder.mu.
	controller Controller
}

// SessionInfo is a read-only snapshot of the active session.
type SessionInfo struct {
	ID            string
	DeviceAddress string
	Platform      Platform
	StartedAt     time.Time
}

func (s *session) info() SessionInfo {
	return SessionInfo{
		ID:            s.id,
		DeviceAddress: s.deviceAddress,
		Platform:      s.platform,
		StartedAt:     s.startedAt,
	}
}

// sessionHolder owns the at-most-one active session.
type sessionHolder struct {
	mu  sync.Mutex
	cur *session
}

// tryAcquire installs s as the active session, or fails with ErrInProgress
// leaving the existing session untouched.
func (h *sessionHolder) tryAcquire(s *session) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cur != nil {
		return newError(ErrInProgress, "update of %s already running", h.cur.deviceAddress)
	}
	h.cur = s
	return nil
}

// release clears s if it is still the active session. It reports whether
// this call cleared it, so exactly one terminal path wins.
func (h *sessionHolder) release(s *session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cur != s || s == nil {
		return false
	}
	h.cur = nil
	return true
}

func (h *sessionHolder) isCurrent(s *session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cur == s
}

// current returns the active session and its controller, if any.
func (h *sessionHolder) current() (*session, Controller) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cur == nil {
		return nil, nil
	}
	return h.cur, h.cur.controller
}

// attach records the engine controller for s. It is a no-op when s has
// already ended.
func (h *sessionHolder) attach(s *session, ctrl Controller) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cur == s {
		s.controller = ctrl
	}
}
