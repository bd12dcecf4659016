package models

import (
	"time"
)

// CommandStatus represents the lifecycle state of a device command.
// Transitions are strictly forward: PENDING -> EXECUTING -> COMPLETED|FAILED.
type CommandStatus string

const (
	CommandStatusPending   CommandStatus = "PENDING"
	CommandStatusExecuting CommandStatus = "EXECUTING"
	CommandStatusCompleted CommandStatus = "COMPLETED"
	CommandStatusFailed    CommandStatus = "FAILED"
)

// Command represents a remotely issued device command
type Command struct {
	CommandID  string        `json:"command_id"`
	DeviceID   string        `json:"device_id"`
	Type       string        `json:"type"`
	Parameters Variables     `json:"parameters,omitempty"`
	Status     CommandStatus `json:"status"`

	QueuedAt    time.Time  `json:"queued_at"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Result Variables `json:"result,omitempty"`
	Error  string    `json:"error,omitempty"`
}

// IsTerminal reports whether the command reached a final state
func (c *Command) IsTerminal() bool {
	return c.Status == CommandStatusCompleted || c.Status == CommandStatusFailed
}
