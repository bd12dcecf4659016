package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/energymon-server/energymon-server/internal/models"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrInvalidData  = errors.New("invalid data")
)

// Store defines the storage interface
type Store interface {
	// User methods
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error
	DeleteUser(ctx context.Context, id uuid.UUID) error
	ListUsers(ctx context.Context, limit, offset int) ([]*models.User, int64, error)

	// Device methods
	CreateDevice(ctx context.Context, device *models.Device) error
	GetDevice(ctx context.Context, deviceID string) (*models.Device, error)
	UpdateDevice(ctx context.Context, device *models.Device) error
	UpdateDeviceNonce(ctx context.Context, deviceID string, nonce uint32) error
	DeleteDevice(ctx context.Context, deviceID string) error
	ListDevices(ctx context.Context, limit, offset int) ([]*models.Device, int64, error)
	ListDeviceNonces(ctx context.Context) (map[string]uint32, error)

	// Telemetry methods
	CreateTelemetryReading(ctx context.Context, reading *models.TelemetryReading) error
	ListTelemetryReadings(ctx context.Context, deviceID string, limit, offset int) ([]*models.TelemetryReading, int64, error)

	// Firmware methods
	CreateFirmwareImage(ctx context.Context, manifest *models.FirmwareManifest, image []byte) error
	LatestVersion(ctx context.Context) (string, error)
	GetManifest(ctx context.Context, version string) (*models.FirmwareManifest, error)
	GetFirmwareChunk(ctx context.Context, version string, index int) ([]byte, error)
	ListManifests(ctx context.Context) ([]*models.FirmwareManifest, error)
	DeleteFirmwareImage(ctx context.Context, version string) error

	// Event log methods
	CreateEventLog(ctx context.Context, event *models.EventLog) error
	ListEventLogs(ctx context.Context, filters EventLogFilters, limit, offset int) ([]*models.EventLog, int64, error)

	// Close the store
	Close() error
}

// EventLogFilters represents filters for event logs
type EventLogFilters struct {
	DeviceID  *string
	Type      *models.EventType
	Level     *models.EventLevel
	StartTime *time.Time
	EndTime   *time.Time
}
