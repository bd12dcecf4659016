package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/energymon-server/energymon-server/internal/models"
)

// ========== Event Log Methods ==========

// CreateEventLog creates an event log entry
func (s *PostgresStore) CreateEventLog(ctx context.Context, event *models.EventLog) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	query := `
        INSERT INTO event_logs (
            id, created_at, device_id, type, level, description, details
        ) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.db.ExecContext(ctx, query,
		event.ID, event.CreatedAt, event.DeviceID, event.Type, event.Level,
		event.Description, event.Details,
	)

	return err
}

// ListEventLogs lists event logs matching the filters, newest first
func (s *PostgresStore) ListEventLogs(ctx context.Context, filters EventLogFilters, limit, offset int) ([]*models.EventLog, int64, error) {
	where := "WHERE 1=1"
	args := []interface{}{}
	argn := 0

	addArg := func(clause string, value interface{}) {
		argn++
		where += fmt.Sprintf(" AND %s $%d", clause, argn)
		args = append(args, value)
	}

	if filters.DeviceID != nil {
		addArg("device_id =", *filters.DeviceID)
	}
	if filters.Type != nil {
		addArg("type =", *filters.Type)
	}
	if filters.Level != nil {
		addArg("level =", *filters.Level)
	}
	if filters.StartTime != nil {
		addArg("created_at >=", *filters.StartTime)
	}
	if filters.EndTime != nil {
		addArg("created_at <=", *filters.EndTime)
	}

	var count int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM event_logs "+where, args...,
	).Scan(&count)
	if err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
        SELECT id, created_at, device_id, type, level, description, details
        FROM event_logs
        %s
        ORDER BY created_at DESC
        LIMIT $%d OFFSET $%d`, where, argn+1, argn+2)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var events []*models.EventLog
	for rows.Next() {
		event := &models.EventLog{}
		err := rows.Scan(
			&event.ID, &event.CreatedAt, &event.DeviceID, &event.Type,
			&event.Level, &event.Description, &event.Details,
		)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, event)
	}

	return events, count, nil
}
