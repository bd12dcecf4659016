package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/energymon-server/energymon-server/internal/models"
)

// ========== Device Methods ==========

// CreateDevice creates a new device
func (s *PostgresStore) CreateDevice(ctx context.Context, device *models.Device) error {
	if device.ID == uuid.Nil {
		device.ID = uuid.New()
	}

	now := time.Now()
	device.CreatedAt = now
	device.UpdatedAt = now

	query := `
        INSERT INTO devices (
            id, created_at, updated_at, device_id, name, description,
            hardware_revision, firmware_version, register_count,
            is_active, last_nonce, tags
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.db.ExecContext(ctx, query,
		device.ID, device.CreatedAt, device.UpdatedAt, device.DeviceID,
		device.Name, device.Description, device.HardwareRevision,
		device.FirmwareVersion, device.RegisterCount, device.IsActive,
		device.LastNonce, device.Tags,
	)

	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrDuplicateKey
		}
		return err
	}

	return nil
}

// GetDevice gets a device by its device identifier
func (s *PostgresStore) GetDevice(ctx context.Context, deviceID string) (*models.Device, error) {
	query := `
        SELECT id, created_at, updated_at, device_id, name, description,
               hardware_revision, firmware_version, register_count,
               is_active, last_seen_at, last_nonce, tags
        FROM devices
        WHERE device_id = $1`

	device := &models.Device{}
	err := s.db.QueryRowContext(ctx, query, deviceID).Scan(
		&device.ID, &device.CreatedAt, &device.UpdatedAt, &device.DeviceID,
		&device.Name, &device.Description, &device.HardwareRevision,
		&device.FirmwareVersion, &device.RegisterCount, &device.IsActive,
		&device.LastSeenAt, &device.LastNonce, &device.Tags,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return device, nil
}

// UpdateDevice updates a device
func (s *PostgresStore) UpdateDevice(ctx context.Context, device *models.Device) error {
	device.UpdatedAt = time.Now()

	query := `
        UPDATE devices SET
            updated_at = $2, name = $3, description = $4,
            hardware_revision = $5, firmware_version = $6, register_count = $7,
            is_active = $8, last_seen_at = $9, last_nonce = $10, tags = $11
        WHERE device_id = $1`

	result, err := s.db.ExecContext(ctx, query,
		device.DeviceID, device.UpdatedAt, device.Name, device.Description,
		device.HardwareRevision, device.FirmwareVersion, device.RegisterCount,
		device.IsActive, device.LastSeenAt, device.LastNonce, device.Tags,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// UpdateDeviceNonce persists the device's accepted envelope nonce and
// bumps last_seen_at. Called on every accepted frame.
func (s *PostgresStore) UpdateDeviceNonce(ctx context.Context, deviceID string, nonce uint32) error {
	query := `
        UPDATE devices SET
            last_nonce = $2, last_seen_at = $3, updated_at = $3
        WHERE device_id = $1`

	result, err := s.db.ExecContext(ctx, query, deviceID, nonce, time.Now())
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// DeleteDevice deletes a device
func (s *PostgresStore) DeleteDevice(ctx context.Context, deviceID string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM devices WHERE device_id = $1", deviceID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// ListDevices lists devices
func (s *PostgresStore) ListDevices(ctx context.Context, limit, offset int) ([]*models.Device, int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM devices").Scan(&count)
	if err != nil {
		return nil, 0, err
	}

	query := `
        SELECT id, created_at, updated_at, device_id, name, description,
               hardware_revision, firmware_version, register_count,
               is_active, last_seen_at, last_nonce, tags
        FROM devices
        ORDER BY created_at DESC
        LIMIT $1 OFFSET $2`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var devices []*models.Device
	for rows.Next() {
		device := &models.Device{}
		err := rows.Scan(
			&device.ID, &device.CreatedAt, &device.UpdatedAt, &device.DeviceID,
			&device.Name, &device.Description, &device.HardwareRevision,
			&device.FirmwareVersion, &device.RegisterCount, &device.IsActive,
			&device.LastSeenAt, &device.LastNonce, &device.Tags,
		)
		if err != nil {
			return nil, 0, err
		}
		devices = append(devices, device)
	}

	return devices, count, nil
}

// ListDeviceNonces loads the persisted nonce high-water marks for every
// active device. Used to seed anti-replay state at startup.
func (s *PostgresStore) ListDeviceNonces(ctx context.Context) (map[string]uint32, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT device_id, last_nonce FROM devices WHERE is_active = true")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	nonces := make(map[string]uint32)
	for rows.Next() {
		var deviceID string
		var nonce uint32
		if err := rows.Scan(&deviceID, &nonce); err != nil {
			return nil, err
		}
		nonces[deviceID] = nonce
	}

	return nonces, rows.Err()
}
