package models

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultEnvironment is the environment name recorded for events that carry none.
const DefaultEnvironment = ""

// Event is a stored error event. GroupID and EnvironmentID are resolved at ingest.
type Event struct {
	ID            int64             `json:"id"`
	ProjectID     int64             `json:"project_id"`
	EventID       string            `json:"event_id"`
	GroupID       int64             `json:"group_id"`
	EnvironmentID int64             `json:"environment_id"`
	Environment   string            `json:"environment"`
	Message       string            `json:"message"`
	Timestamp     time.Time         `json:"timestamp"`
	Tags          map[string]string `json:"tags,omitempty"`
}

// NewEvent is what the ingestion path hands to the store.
type NewEvent struct {
	ProjectID   int64
	EventID     string
	Message     string
	Environment string
	Fingerprint []string
	Timestamp   time.Time
	Tags        map[string]string
}

// EventIngestRequest is the POST /events payload.
// event_id is optional; the Idempotency-Key header wins when both are present.
type EventIngestRequest struct {
	EventID     string            `json:"event_id,omitempty"`
	Message     string            `json:"message"`
	Environment string            `json:"environment,omitempty"`
	Fingerprint []string          `json:"fingerprint,omitempty"`
	Timestamp   string            `json:"timestamp"`
	Tags        map[string]string `json:"tags,omitempty"`
}

// EventIngestResponse is returned by POST /events.
// Duplicate indicates idempotent success (the event already existed).
type EventIngestResponse struct {
	EventID       string `json:"event_id"`
	GroupID       int64  `json:"group_id"`
	EnvironmentID int64  `json:"environment_id"`
	Duplicate     bool   `json:"duplicate"`
}

// ErrInvalidEventID is returned by NormalizeEventID for malformed identifiers.
var ErrInvalidEventID = errors.New("event_id must be a 32 character hex UUID")

// NormalizeEventID returns the canonical 32 hex character form of id.
// Any textual UUID form is accepted; the dashes are dropped.
func NormalizeEventID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrInvalidEventID
	}
	u, err := uuid.Parse(id)
	if err != nil {
		return "", ErrInvalidEventID
	}
	return strings.ReplaceAll(u.String(), "-", ""), nil
}

// NewEventID generates a random event identifier in canonical form.
func NewEventID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
