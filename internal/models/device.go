package models

import (
	"time"
)

// Device represents a registered energy-monitoring device
type Device struct {
	BaseModel

	DeviceID    string `json:"deviceId" db:"device_id"`
	Name        string `json:"name" db:"name"`
	Description string `json:"description" db:"description"`

	// Hardware identity
	HardwareRevision string `json:"hardwareRevision" db:"hardware_revision"`
	FirmwareVersion  string `json:"firmwareVersion" db:"firmware_version"`

	// Register map reported by the device (meter register ids)
	RegisterCount int `json:"registerCount" db:"register_count"`

	IsActive bool `json:"isActive" db:"is_active"`

	LastSeenAt *time.Time `json:"lastSeenAt,omitempty" db:"last_seen_at"`
	LastNonce  uint32     `json:"lastNonce" db:"last_nonce"`
	Tags       Variables  `json:"tags" db:"tags"`
}
