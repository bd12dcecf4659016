package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/energymon-server/energymon-server/internal/models"
	"github.com/energymon-server/energymon-server/internal/storage"
)

// ========== Command handlers ==========

// HandleEnqueueCommand queues a command for a device
func (s *RESTServer) HandleEnqueueCommand(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device_id")

	// Only registered devices get commands queued
	if _, err := s.store.GetDevice(r.Context(), deviceID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "device not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var req struct {
		Type       string           `json:"type" validate:"required"`
		Parameters models.Variables `json:"parameters"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	cmd := s.commands.Enqueue(deviceID, req.Type, req.Parameters)

	s.metrics.CommandsQueued.Inc()
	s.recordEvent(deviceID, models.EventTypeCommandQueued, models.EventLevelInfo, "command queued", models.Variables{
		"command_id": cmd.CommandID,
		"type":       cmd.Type,
	})

	s.respondJSON(w, http.StatusCreated, cmd)
}

// HandleListCommands lists a device's command history
func (s *RESTServer) HandleListCommands(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device_id")

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"commands": s.commands.List(deviceID),
	})
}

// HandleGetCommand gets a command by ID
func (s *RESTServer) HandleGetCommand(w http.ResponseWriter, r *http.Request) {
	cmd, err := s.commands.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusNotFound, "command not found")
		return
	}

	s.respondJSON(w, http.StatusOK, cmd)
}

// HandleCommandStats returns the queue's derived counters
func (s *RESTServer) HandleCommandStats(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.commands.Stats())
}
