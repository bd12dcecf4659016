package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/energymon-server/energymon-server/internal/models"
	"github.com/energymon-server/energymon-server/internal/storage"
)

// ========== Firmware handlers ==========

// HandleListFirmware lists published firmware manifests
func (s *RESTServer) HandleListFirmware(w http.ResponseWriter, r *http.Request) {
	manifests, err := s.store.ListManifests(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"firmware": manifests,
	})
}

// HandleUploadFirmware publishes a firmware image. The image arrives
// base64-encoded with its build-pipeline hash and signature.
func (s *RESTServer) HandleUploadFirmware(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Version    string `json:"version" validate:"required"`
		SHA256Hash string `json:"sha256_hash" validate:"required"`
		Signature  string `json:"signature" validate:"required"`
		IV         string `json:"iv"`
		ChunkSize  int    `json:"chunk_size"`
		Image      string `json:"image" validate:"required"` // base64
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	image, err := base64.StdEncoding.DecodeString(req.Image)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid image encoding")
		return
	}
	if len(image) == 0 {
		s.respondError(w, http.StatusBadRequest, "empty image")
		return
	}

	if req.ChunkSize <= 0 {
		req.ChunkSize = 1024
	}

	manifest := &models.FirmwareManifest{
		Version:    req.Version,
		SHA256Hash: req.SHA256Hash,
		Signature:  req.Signature,
		IV:         req.IV,
		ChunkSize:  req.ChunkSize,
	}

	if err := s.store.CreateFirmwareImage(r.Context(), manifest, image); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			s.respondError(w, http.StatusConflict, "version already published")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusCreated, manifest)
}

// HandleDeleteFirmware unpublishes a firmware version
func (s *RESTServer) HandleDeleteFirmware(w http.ResponseWriter, r *http.Request) {
	version := chi.URLParam(r, "version")

	if err := s.store.DeleteFirmwareImage(r.Context(), version); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "firmware version not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleOTAStats returns the session manager's counters
func (s *RESTServer) HandleOTAStats(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.otaMgr.Stats())
}

// HandleGetOTASession returns a device's live update session
func (s *RESTServer) HandleGetOTASession(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device_id")

	session, ok := s.otaMgr.Session(deviceID)
	if !ok {
		s.respondError(w, http.StatusNotFound, "no active session")
		return
	}

	s.respondJSON(w, http.StatusOK, session)
}

// HandleCancelOTASession terminates a device's update session
func (s *RESTServer) HandleCancelOTASession(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device_id")

	if !s.otaMgr.Cancel(deviceID) {
		s.respondError(w, http.StatusNotFound, "no active session")
		return
	}

	s.metrics.OTASessionsCompleted.WithLabelValues("cancelled").Inc()
	s.recordEvent(deviceID, models.EventTypeOTACancelled, models.EventLevelInfo, "firmware update cancelled", nil)

	w.WriteHeader(http.StatusNoContent)
}
