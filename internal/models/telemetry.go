package models

import (
	"time"
)

// TelemetryReading represents one decoded telemetry frame from a device
type TelemetryReading struct {
	BaseModel

	DeviceID string    `json:"deviceId" db:"device_id"`
	Values   []float64 `json:"values" db:"sample_values"`

	// Encoding observability
	Method           string  `json:"method" db:"method"`
	CompressedSize   int     `json:"compressedSize" db:"compressed_size"`
	LogicalSize      int     `json:"logicalSize" db:"logical_size"`
	CompressionRatio float64 `json:"compressionRatio" db:"compression_ratio"`

	ReceivedAt time.Time `json:"receivedAt" db:"received_at"`
}
