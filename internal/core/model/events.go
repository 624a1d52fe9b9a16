package model

import (
	"time"
)

// EventType enumerates scraping session progress events.
type EventType string

const (
	EventSessionStart    EventType = "session_start"
	EventScraperStart    EventType = "scraper_start"
	EventScraperProgress EventType = "scraper_progress"
	EventScraperComplete EventType = "scraper_complete"
	EventSessionComplete EventType = "session_complete"
)

// Event is one structured progress event emitted by the scraper
// orchestrator. Ordering guarantees: per adapter, start precedes progress
// precedes complete; session_complete is observed after every adapter
// completion. Events for different adapters may interleave.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Time      time.Time `json:"time"`

	// Adapter-scoped fields. On scraper_progress Index and Total count items
	// against the adapter's size hint; on scraper_start and scraper_complete
	// they are the adapter's position within the session.
	Adapter  string `json:"adapter,omitempty"`
	Index    int    `json:"index,omitempty"`
	Total    int    `json:"total,omitempty"`
	Vehicles int    `json:"vehicles,omitempty"`
	Errors   int    `json:"errors,omitempty"`
	Status   string `json:"status,omitempty"`

	// Completion fields.
	Success bool   `json:"success,omitempty"`
	Reason  string `json:"reason,omitempty"`

	// DataSource is the adapter-defined classification tag for the rows it
	// produced ("real", "fallback", ...). Treated as opaque.
	DataSource string `json:"data_source,omitempty"`

	// Summary is set on session_complete only.
	Summary *SessionSummary `json:"summary,omitempty"`
}

// SessionSummary carries the aggregate totals of a scraping session.
type SessionSummary struct {
	SessionID     string            `json:"session_id"`
	ImportID      string            `json:"import_id"`
	Dealerships   int               `json:"dealerships"`
	Succeeded     int               `json:"succeeded"`
	Failed        int               `json:"failed"`
	TotalVehicles int               `json:"total_vehicles"`
	BySource      map[string]int    `json:"by_source,omitempty"`
	AdapterErrors map[string]string `json:"adapter_errors,omitempty"`
	Duration      time.Duration     `json:"duration"`
}
