package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/energymon-server/energymon-server/internal/models"
	"github.com/energymon-server/energymon-server/internal/storage"
)

// ========== Device handlers ==========

// HandleListDevices lists devices
func (s *RESTServer) HandleListDevices(w http.ResponseWriter, r *http.Request) {
	limit, offset := paginationParams(r)

	devices, total, err := s.store.ListDevices(r.Context(), limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"devices": devices,
		"total":   total,
	})
}

// HandleCreateDevice registers a device
func (s *RESTServer) HandleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID         string           `json:"device_id" validate:"required,min=3,max=64"`
		Name             string           `json:"name" validate:"required"`
		Description      string           `json:"description"`
		HardwareRevision string           `json:"hardware_revision"`
		FirmwareVersion  string           `json:"firmware_version"`
		RegisterCount    int              `json:"register_count"`
		Tags             models.Variables `json:"tags"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	device := &models.Device{
		DeviceID:         req.DeviceID,
		Name:             req.Name,
		Description:      req.Description,
		HardwareRevision: req.HardwareRevision,
		FirmwareVersion:  req.FirmwareVersion,
		RegisterCount:    req.RegisterCount,
		IsActive:         true,
		Tags:             req.Tags,
	}

	if err := s.store.CreateDevice(r.Context(), device); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			s.respondError(w, http.StatusConflict, "device already exists")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusCreated, device)
}

// HandleGetDevice gets a device
func (s *RESTServer) HandleGetDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device_id")

	device, err := s.store.GetDevice(r.Context(), deviceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "device not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, device)
}

// HandleUpdateDevice updates a device
func (s *RESTServer) HandleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device_id")

	device, err := s.store.GetDevice(r.Context(), deviceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "device not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var req struct {
		Name          *string           `json:"name"`
		Description   *string           `json:"description"`
		RegisterCount *int              `json:"register_count"`
		IsActive      *bool             `json:"is_active"`
		Tags          *models.Variables `json:"tags"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Name != nil {
		device.Name = *req.Name
	}
	if req.Description != nil {
		device.Description = *req.Description
	}
	if req.RegisterCount != nil {
		device.RegisterCount = *req.RegisterCount
	}
	if req.IsActive != nil {
		device.IsActive = *req.IsActive
	}
	if req.Tags != nil {
		device.Tags = *req.Tags
	}

	if err := s.store.UpdateDevice(r.Context(), device); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, device)
}

// HandleDeleteDevice deletes a device
func (s *RESTServer) HandleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device_id")

	if err := s.store.DeleteDevice(r.Context(), deviceID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "device not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleListTelemetry lists a device's decoded readings
func (s *RESTServer) HandleListTelemetry(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device_id")
	limit, offset := paginationParams(r)

	readings, total, err := s.store.ListTelemetryReadings(r.Context(), deviceID, limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"readings": readings,
		"total":    total,
	})
}
