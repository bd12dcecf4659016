package models

import (
	"time"
)

// OTAStatus represents the status of a firmware update session
type OTAStatus string

const (
	OTAStatusInProgress OTAStatus = "IN_PROGRESS"
	OTAStatusCompleted  OTAStatus = "COMPLETED"
	OTAStatusFailed     OTAStatus = "FAILED"
	OTAStatusCancelled  OTAStatus = "CANCELLED"
)

// OTASession tracks one in-progress firmware transfer to one device.
// At most one live session exists per device.
type OTASession struct {
	DeviceID        string    `json:"deviceId"`
	SessionID       string    `json:"sessionId"`
	FirmwareVersion string    `json:"firmwareVersion"`
	Status          OTAStatus `json:"status"`

	CurrentChunk     int   `json:"currentChunk"`
	TotalChunks      int   `json:"totalChunks"`
	BytesTransferred int64 `json:"bytesTransferred"`

	StartedAt      time.Time `json:"startedAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
}

// FirmwareManifest describes one published firmware image. The image,
// hash and signature are produced by the build pipeline; the server only
// serves them.
type FirmwareManifest struct {
	Version     string `json:"version" db:"version"`
	SHA256Hash  string `json:"sha256_hash" db:"sha256_hash"`
	Signature   string `json:"signature" db:"signature"`
	IV          string `json:"iv" db:"iv"`
	ChunkSize   int    `json:"chunk_size" db:"chunk_size"`
	TotalChunks int    `json:"total_chunks" db:"total_chunks"`

	SizeBytes int64     `json:"size_bytes" db:"size_bytes"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
