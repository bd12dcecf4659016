package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/energymon-server/energymon-server/internal/models"
)

// ========== Telemetry Methods ==========

// The sample column is named sample_values because "values" is a
// reserved word in postgres and cannot appear unquoted.
const (
	insertTelemetryQuery = `
        INSERT INTO telemetry_readings (
            id, created_at, updated_at, device_id, sample_values,
            method, compressed_size, logical_size, compression_ratio,
            received_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	listTelemetryQuery = `
        SELECT id, created_at, updated_at, device_id, sample_values,
               method, compressed_size, logical_size, compression_ratio,
               received_at
        FROM telemetry_readings
        WHERE device_id = $1
        ORDER BY received_at DESC
        LIMIT $2 OFFSET $3`
)

// CreateTelemetryReading stores one decoded telemetry frame
func (s *PostgresStore) CreateTelemetryReading(ctx context.Context, reading *models.TelemetryReading) error {
	if reading.ID == uuid.Nil {
		reading.ID = uuid.New()
	}

	now := time.Now()
	reading.CreatedAt = now
	reading.UpdatedAt = now
	if reading.ReceivedAt.IsZero() {
		reading.ReceivedAt = now
	}

	_, err := s.db.ExecContext(ctx, insertTelemetryQuery,
		reading.ID, reading.CreatedAt, reading.UpdatedAt, reading.DeviceID,
		pq.Array(reading.Values), reading.Method, reading.CompressedSize,
		reading.LogicalSize, reading.CompressionRatio, reading.ReceivedAt,
	)

	return err
}

// ListTelemetryReadings lists a device's readings, newest first
func (s *PostgresStore) ListTelemetryReadings(ctx context.Context, deviceID string, limit, offset int) ([]*models.TelemetryReading, int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM telemetry_readings WHERE device_id = $1", deviceID,
	).Scan(&count)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, listTelemetryQuery, deviceID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var readings []*models.TelemetryReading
	for rows.Next() {
		reading := &models.TelemetryReading{}
		err := rows.Scan(
			&reading.ID, &reading.CreatedAt, &reading.UpdatedAt,
			&reading.DeviceID, pq.Array(&reading.Values), &reading.Method,
			&reading.CompressedSize, &reading.LogicalSize,
			&reading.CompressionRatio, &reading.ReceivedAt,
		)
		if err != nil {
			return nil, 0, err
		}
		readings = append(readings, reading)
	}

	return readings, count, nil
}
