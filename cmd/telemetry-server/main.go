package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energymon-server/energymon-server/internal/api"
	"github.com/energymon-server/energymon-server/internal/command"
	"github.com/energymon-server/energymon-server/internal/compression"
	"github.com/energymon-server/energymon-server/internal/config"
	"github.com/energymon-server/energymon-server/internal/integration"
	"github.com/energymon-server/energymon-server/internal/metrics"
	"github.com/energymon-server/energymon-server/internal/ota"
	"github.com/energymon-server/energymon-server/internal/security"
	"github.com/energymon-server/energymon-server/internal/storage"
)

func main() {
	// Command line flags
	var configFile string
	flag.StringVar(&configFile, "config", "config/telemetry-server.yml", "Configuration file path")
	flag.Parse()

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Load configuration
	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Connect to database
	store, err := storage.NewPostgresStore(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer store.Close()

	log.Info().Msg("Connected to database")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Seed anti-replay state from persisted nonces so a restart does
	// not reopen the replay window
	nonces := security.NewNonceStore()
	persisted, err := store.ListDeviceNonces(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load device nonces")
	}
	for deviceID, nonce := range persisted {
		nonces.Restore(deviceID, nonce)
	}
	log.Info().Int("devices", len(persisted)).Msg("Restored anti-replay state")

	verifier := security.NewVerifier(nonces,
		[]byte(cfg.Security.HMACKey),
		[]byte(cfg.Security.AESKey),
		[]byte(cfg.Security.AESIV),
	)

	codec := compression.NewCodec(compression.NewTemporalStateStore())
	otaMgr := ota.NewManager(store, cfg.OTA.StaleTimeout)
	commands := command.NewQueue()
	m := metrics.New()

	// Optional NATS bus. The publisher no-ops without a connection.
	publisher := integration.NewPublisher(nil)
	var wg sync.WaitGroup

	if cfg.NATS.URL != "" {
		nc, err := integration.Connect(&cfg.NATS)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to NATS, continuing without bus")
		} else {
			defer nc.Close()
			log.Info().Str("url", cfg.NATS.URL).Msg("Connected to NATS")
			publisher = integration.NewPublisher(nc)

			if cfg.MQTT.Enabled {
				forwarder := integration.NewForwarderService(nc, &cfg.MQTT)
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := forwarder.Start(ctx); err != nil {
						log.Error().Err(err).Msg("MQTT forwarder stopped")
					}
				}()
			}
		}
	} else {
		log.Info().Msg("NATS not configured, running in standalone mode")
	}

	// Start REST API server
	apiServer := api.NewRESTServer(cfg, store, verifier, codec, otaMgr, commands, publisher, m)

	wg.Add(1)
	go func() {
		defer wg.Done()
		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		if err := apiServer.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("REST API server failed")
		}
	}()

	// Wait for signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")

	cancel()

	if err := apiServer.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown API server gracefully")
	}

	wg.Wait()

	log.Info().Msg("Telemetry server stopped")
}
