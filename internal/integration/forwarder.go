package integration

import (
	"context"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/energymon-server/energymon-server/internal/config"
)

// ForwarderService republishes bus traffic to an external MQTT broker
// so downstream consumers (dashboards, historians) can subscribe without
// touching NATS. Topics mirror the bus subjects under the configured
// prefix: <prefix>/<device_id>/telemetry and <prefix>/<device_id>/event.
type ForwarderService struct {
	nc  *nats.Conn
	cfg *config.MQTTConfig

	client mqtt.Client
}

// NewForwarderService creates the MQTT forwarder
func NewForwarderService(nc *nats.Conn, cfg *config.MQTTConfig) *ForwarderService {
	return &ForwarderService{
		nc:  nc,
		cfg: cfg,
	}
}

// Start connects to the broker and bridges bus subjects until the
// context is cancelled.
func (s *ForwarderService) Start(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.Broker).
		SetClientID(s.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)

	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		log.Info().Str("broker", s.cfg.Broker).Msg("MQTT forwarder connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT forwarder connection lost")
	})

	s.client = mqtt.NewClient(opts)
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect to MQTT broker: %w", token.Error())
	}

	subTelemetry, err := s.nc.Subscribe("device.*.telemetry", s.handleBusMessage)
	if err != nil {
		return fmt.Errorf("subscribe to telemetry: %w", err)
	}

	subEvents, err := s.nc.Subscribe("device.*.event", s.handleBusMessage)
	if err != nil {
		return fmt.Errorf("subscribe to events: %w", err)
	}

	log.Info().Msg("Integration forwarder service started")

	<-ctx.Done()

	subTelemetry.Unsubscribe()
	subEvents.Unsubscribe()
	s.client.Disconnect(250)

	return nil
}

// handleBusMessage maps a bus subject onto an MQTT topic and republishes
func (s *ForwarderService) handleBusMessage(msg *nats.Msg) {
	// device.<id>.telemetry -> <prefix>/<id>/telemetry
	parts := strings.Split(msg.Subject, ".")
	if len(parts) != 3 {
		return
	}

	topic := fmt.Sprintf("%s/%s/%s", s.cfg.TopicPrefix, parts[1], parts[2])

	token := s.client.Publish(topic, s.cfg.QoS, false, msg.Data)
	token.Wait()
	if token.Error() != nil {
		log.Error().Err(token.Error()).Str("topic", topic).Msg("Failed to forward message")
	}
}
