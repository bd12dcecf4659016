package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/energymon-server/energymon-server/internal/compression"
	"github.com/energymon-server/energymon-server/internal/models"
	"github.com/energymon-server/energymon-server/internal/ota"
	"github.com/energymon-server/energymon-server/internal/security"
	"github.com/energymon-server/energymon-server/internal/storage"
)

// ========== Device ingress handlers ==========
//
// Every ingress request body is a SecuredEnvelope. The envelope MAC is
// the device's authentication; failures are logged as events but the
// response bodies stay terse since the consumer is firmware.

// openEnvelope decodes and verifies the request envelope, returning the
// plaintext payload. On failure it writes the error response itself and
// returns false.
func (s *RESTServer) openEnvelope(w http.ResponseWriter, r *http.Request, deviceID string) ([]byte, bool) {
	var env models.SecuredEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}

	plaintext, err := s.verifier.Verify(&env, deviceID)
	if err != nil {
		s.rejectEnvelope(w, deviceID, err)
		return nil, false
	}

	s.metrics.FramesAccepted.Inc()

	// Persist the accepted nonce so anti-replay survives restarts
	if err := s.store.UpdateDeviceNonce(r.Context(), deviceID, s.verifier.LastNonce(deviceID)); err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Warn().Err(err).Str("deviceID", deviceID).Msg("Failed to persist device nonce")
	}

	return plaintext, true
}

// rejectEnvelope maps a verification error onto a status code and
// records the rejection
func (s *RESTServer) rejectEnvelope(w http.ResponseWriter, deviceID string, err error) {
	switch {
	case errors.Is(err, security.ErrReplayRejected):
		s.metrics.ReplaysRejected.Inc()
		s.recordEvent(deviceID, models.EventTypeReplayRejected, models.EventLevelWarning, err.Error(), nil)
		s.respondError(w, http.StatusConflict, "replay rejected")

	case errors.Is(err, security.ErrMissingField), errors.Is(err, security.ErrBase64):
		s.metrics.FramesRejected.WithLabelValues("malformed").Inc()
		s.respondError(w, http.StatusBadRequest, "malformed envelope")

	default:
		s.metrics.FramesRejected.WithLabelValues("auth").Inc()
		s.recordEvent(deviceID, models.EventTypeAuthFailed, models.EventLevelWarning, err.Error(), nil)
		s.respondError(w, http.StatusUnauthorized, "envelope verification failed")
	}
}

// HandleIngestTelemetry accepts one compressed telemetry frame. The
// envelope plaintext is JSON carrying the base64 binary frame.
func (s *RESTServer) HandleIngestTelemetry(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device_id")

	plaintext, ok := s.openEnvelope(w, r, deviceID)
	if !ok {
		return
	}

	var req struct {
		Frame string `json:"frame"` // base64 binary frame
	}
	if err := json.Unmarshal(plaintext, &req); err != nil || req.Frame == "" {
		s.respondError(w, http.StatusBadRequest, "invalid telemetry payload")
		return
	}

	frame, err := base64.StdEncoding.DecodeString(req.Frame)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid frame encoding")
		return
	}

	values, stats, err := s.codec.Decode(frame, deviceID)
	if err != nil {
		s.metrics.FramesRejected.WithLabelValues("decode").Inc()
		s.recordEvent(deviceID, models.EventTypeDecodeFailed, models.EventLevelWarning, err.Error(), models.Variables{
			"frame_size": len(frame),
		})

		switch {
		case errors.Is(err, compression.ErrMissingBaseline):
			// The device must resend a baseline frame
			s.respondError(w, http.StatusPreconditionFailed, "baseline required")
		default:
			s.respondError(w, http.StatusBadRequest, "frame decode failed")
		}
		return
	}

	reading := &models.TelemetryReading{
		DeviceID:         deviceID,
		Values:           values,
		Method:           stats.Method,
		CompressedSize:   stats.CompressedSize,
		LogicalSize:      stats.LogicalSize,
		CompressionRatio: stats.Ratio,
	}

	if err := s.store.CreateTelemetryReading(r.Context(), reading); err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to store reading")
		return
	}

	s.metrics.DecodedFrames.WithLabelValues(stats.Method).Inc()
	if stats.Ratio > 0 {
		s.metrics.CompressionRatio.Observe(stats.Ratio)
	}
	s.publisher.PublishTelemetry(reading)

	log.Info().
		Str("deviceID", deviceID).
		Str("method", stats.Method).
		Int("samples", len(values)).
		Float64("ratio", stats.Ratio).
		Msg("Telemetry ingested")

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"samples": len(values),
		"method":  stats.Method,
	})
}

// HandleOTACheck reports whether newer firmware exists for the device
func (s *RESTServer) HandleOTACheck(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device_id")

	plaintext, ok := s.openEnvelope(w, r, deviceID)
	if !ok {
		return
	}

	var req struct {
		CurrentVersion string `json:"current_version"`
	}
	if err := json.Unmarshal(plaintext, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	manifest, available, err := s.otaMgr.CheckForUpdate(r.Context(), deviceID, req.CurrentVersion)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "update check failed")
		return
	}

	if !available {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{"update_available": false})
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"update_available": true,
		"manifest":         manifest,
	})
}

// HandleOTABegin starts a firmware update session
func (s *RESTServer) HandleOTABegin(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device_id")

	plaintext, ok := s.openEnvelope(w, r, deviceID)
	if !ok {
		return
	}

	var req struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(plaintext, &req); err != nil || req.Version == "" {
		s.respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	session, err := s.otaMgr.Initiate(r.Context(), deviceID, req.Version)
	if err != nil {
		switch {
		case errors.Is(err, ota.ErrUnknownVersion):
			s.respondError(w, http.StatusNotFound, "unknown firmware version")
		case errors.Is(err, ota.ErrSessionConflict):
			s.respondError(w, http.StatusConflict, "update already in progress")
		default:
			s.respondError(w, http.StatusInternalServerError, "failed to start session")
		}
		return
	}

	s.metrics.OTASessionsStarted.Inc()
	s.recordEvent(deviceID, models.EventTypeOTAStarted, models.EventLevelInfo, "firmware update started", models.Variables{
		"version":    req.Version,
		"session_id": session.SessionID,
	})

	s.respondJSON(w, http.StatusOK, session)
}

// HandleOTAChunk serves one firmware chunk. Chunk transfers are GET
// with query parameters so constrained devices avoid another envelope
// round-trip on the hot path; the session itself was opened through an
// authenticated begin.
func (s *RESTServer) HandleOTAChunk(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device_id")
	version := r.URL.Query().Get("version")
	index, err := strconv.Atoi(r.URL.Query().Get("index"))
	if err != nil || version == "" {
		s.respondError(w, http.StatusBadRequest, "version and index are required")
		return
	}

	chunk, err := s.otaMgr.GetChunk(r.Context(), deviceID, version, index)
	if err != nil {
		switch {
		case errors.Is(err, ota.ErrNoActiveSession):
			s.respondError(w, http.StatusNotFound, "no active session")
		case errors.Is(err, ota.ErrVersionMismatch):
			s.respondError(w, http.StatusConflict, "version mismatch")
		case errors.Is(err, ota.ErrInvalidChunkIndex):
			s.respondError(w, http.StatusBadRequest, "chunk index out of range")
		default:
			s.respondError(w, http.StatusInternalServerError, "chunk fetch failed")
		}
		return
	}

	s.metrics.OTAChunksServed.Inc()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-Chunk-Index", strconv.Itoa(index))
	w.WriteHeader(http.StatusOK)
	w.Write(chunk)
}

// HandleOTAComplete records the device-reported update outcome
func (s *RESTServer) HandleOTAComplete(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device_id")

	plaintext, ok := s.openEnvelope(w, r, deviceID)
	if !ok {
		return
	}

	var req struct {
		Success bool   `json:"success"`
		Version string `json:"version"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(plaintext, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	if !s.otaMgr.Complete(deviceID, req.Success) {
		s.respondError(w, http.StatusNotFound, "no active session")
		return
	}

	if req.Success {
		s.metrics.OTASessionsCompleted.WithLabelValues("completed").Inc()
		s.recordEvent(deviceID, models.EventTypeOTACompleted, models.EventLevelInfo, "firmware update completed", models.Variables{
			"version": req.Version,
		})

		// Track the running version on the device record
		if device, err := s.store.GetDevice(r.Context(), deviceID); err == nil {
			device.FirmwareVersion = req.Version
			if err := s.store.UpdateDevice(r.Context(), device); err != nil {
				log.Warn().Err(err).Str("deviceID", deviceID).Msg("Failed to update firmware version")
			}
		}
	} else {
		s.metrics.OTASessionsCompleted.WithLabelValues("failed").Inc()
		s.recordEvent(deviceID, models.EventTypeOTAFailed, models.EventLevelWarning, "firmware update failed", models.Variables{
			"version": req.Version,
			"error":   req.Error,
		})
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{"acknowledged": true})
}

// HandleCommandPoll hands the device its pending commands
func (s *RESTServer) HandleCommandPoll(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device_id")

	plaintext, ok := s.openEnvelope(w, r, deviceID)
	if !ok {
		return
	}

	var req struct {
		Limit int `json:"limit"`
	}
	if err := json.Unmarshal(plaintext, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	cmds := s.commands.Poll(deviceID, req.Limit)

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"commands": cmds,
	})
}

// HandleCommandResult records a device-reported command outcome
func (s *RESTServer) HandleCommandResult(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device_id")

	plaintext, ok := s.openEnvelope(w, r, deviceID)
	if !ok {
		return
	}

	var req struct {
		CommandID string           `json:"command_id"`
		Success   bool             `json:"success"`
		Result    models.Variables `json:"result"`
		Error     string           `json:"error"`
	}
	if err := json.Unmarshal(plaintext, &req); err != nil || req.CommandID == "" {
		s.respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	cmd, err := s.commands.SubmitResult(req.CommandID, req.Success, req.Result, req.Error)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "command not found")
		return
	}

	outcome := "completed"
	if !req.Success {
		outcome = "failed"
	}
	s.metrics.CommandsCompleted.WithLabelValues(outcome).Inc()
	s.recordEvent(deviceID, models.EventTypeCommandResult, models.EventLevelInfo, "command result received", models.Variables{
		"command_id": req.CommandID,
		"success":    req.Success,
	})

	s.respondJSON(w, http.StatusOK, cmd)
}
