package http

import (
	"context"
	"sync"

	"github.com/printlot-io/printlot/internal/core"
	"github.com/printlot-io/printlot/internal/core/model"
)

// maxSessions bounds the hub's memory; the oldest session is evicted when a
// new one would exceed it.
const maxSessions = 32

var _ core.EventSink = (*SessionHub)(nil)

// SessionHub buffers scraping session events so the REST surface can serve
// them after the fact. It implements core.EventSink and is registered as a
// sink on the orchestrator.
type SessionHub struct {
	mu       sync.RWMutex
	sessions map[string][]model.Event
	order    []string
}

// NewSessionHub creates an empty hub.
func NewSessionHub() *SessionHub {
	return &SessionHub{sessions: make(map[string][]model.Event)}
}

// Publish records one event under its session id.
func (h *SessionHub) Publish(_ context.Context, event model.Event) {
	if event.SessionID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions[event.SessionID]; !ok {
		h.order = append(h.order, event.SessionID)
		for len(h.order) > maxSessions {
			delete(h.sessions, h.order[0])
			h.order = h.order[1:]
		}
	}
	h.sessions[event.SessionID] = append(h.sessions[event.SessionID], event)
}

// Events returns a copy of the session's events in publish order, and
// whether the session is known at all.
func (h *SessionHub) Events(sessionID string) ([]model.Event, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	events, ok := h.sessions[sessionID]
	if !ok {
		return nil, false
	}
	out := make([]model.Event, len(events))
	copy(out, events)
	return out, true
}
