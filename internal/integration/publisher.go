package integration

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/energymon-server/energymon-server/internal/config"
	"github.com/energymon-server/energymon-server/internal/models"
)

// Connect establishes the NATS connection with the configured reconnect
// behaviour.
func Connect(cfg *config.NATSConfig) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectInterval),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	if cfg.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return nc, nil
}

// Publisher publishes decoded telemetry and server events onto the bus.
// Subjects follow device.<id>.telemetry and device.<id>.event.
type Publisher struct {
	nc *nats.Conn
}

// NewPublisher creates a bus publisher
func NewPublisher(nc *nats.Conn) *Publisher {
	return &Publisher{nc: nc}
}

// PublishTelemetry publishes a decoded reading
func (p *Publisher) PublishTelemetry(reading *models.TelemetryReading) {
	if p.nc == nil {
		return
	}

	data, err := json.Marshal(reading)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal telemetry")
		return
	}

	subject := fmt.Sprintf("device.%s.telemetry", reading.DeviceID)
	if err := p.nc.Publish(subject, data); err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("Failed to publish telemetry")
	}
}

// PublishEvent publishes a server event
func (p *Publisher) PublishEvent(event *models.EventLog) {
	if p.nc == nil {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal event")
		return
	}

	deviceID := "server"
	if event.DeviceID != nil {
		deviceID = *event.DeviceID
	}

	subject := fmt.Sprintf("device.%s.event", deviceID)
	if err := p.nc.Publish(subject, data); err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("Failed to publish event")
	}
}
