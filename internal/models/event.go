package models

import (
	"time"

	"github.com/google/uuid"
)

// EventLog represents an event log entry
type EventLog struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	DeviceID *string `json:"deviceId,omitempty" db:"device_id"`

	Type        EventType  `json:"type" db:"type"`
	Level       EventLevel `json:"level" db:"level"`
	Description string     `json:"description" db:"description"`

	Details Variables `json:"details,omitempty" db:"details"`
}

// EventType represents event types
type EventType string

const (
	// Telemetry events
	EventTypeTelemetry      EventType = "TELEMETRY"
	EventTypeReplayRejected EventType = "REPLAY_REJECTED"
	EventTypeAuthFailed     EventType = "AUTH_FAILED"
	EventTypeDecodeFailed   EventType = "DECODE_FAILED"

	// OTA events
	EventTypeOTAStarted   EventType = "OTA_STARTED"
	EventTypeOTACompleted EventType = "OTA_COMPLETED"
	EventTypeOTAFailed    EventType = "OTA_FAILED"
	EventTypeOTACancelled EventType = "OTA_CANCELLED"

	// Command events
	EventTypeCommandQueued EventType = "COMMAND_QUEUED"
	EventTypeCommandResult EventType = "COMMAND_RESULT"

	// System events
	EventTypeAPICall EventType = "API_CALL"
)

// EventLevel represents event severity levels
type EventLevel string

const (
	EventLevelDebug   EventLevel = "DEBUG"
	EventLevelInfo    EventLevel = "INFO"
	EventLevelWarning EventLevel = "WARNING"
	EventLevelError   EventLevel = "ERROR"
)
