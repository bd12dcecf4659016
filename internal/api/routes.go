package api

import (
	"github.com/go-chi/chi/v5"
)

// setupAPIRoutes sets up API v1 routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	// Health check
	r.Get("/health", s.HandleHealth)
	r.Get("/", s.HandleRoot)

	// Auth routes (public)
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.HandleLogin)
		r.Post("/refresh", s.HandleRefresh)
	})

	// Device ingress routes. Authentication is the envelope MAC, not a
	// bearer token: every request body is a SecuredEnvelope.
	r.Route("/ingress/{device_id}", func(r chi.Router) {
		r.Post("/telemetry", s.HandleIngestTelemetry)
		r.Post("/ota/check", s.HandleOTACheck)
		r.Post("/ota/begin", s.HandleOTABegin)
		r.Get("/ota/chunk", s.HandleOTAChunk)
		r.Post("/ota/complete", s.HandleOTAComplete)
		r.Post("/commands/poll", s.HandleCommandPoll)
		r.Post("/commands/result", s.HandleCommandResult)
	})

	// Protected operator routes
	r.Group(func(r chi.Router) {
		// Users
		r.Route("/users", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/", s.HandleListUsers)
			r.Post("/", s.HandleCreateUser)
			r.Get("/me", s.HandleGetCurrentUser)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.HandleGetUser)
				r.Put("/", s.HandleUpdateUser)
				r.Delete("/", s.HandleDeleteUser)
			})
		})

		// Devices
		r.Route("/devices", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/", s.HandleListDevices)
			r.Post("/", s.HandleCreateDevice)
			r.Route("/{device_id}", func(r chi.Router) {
				r.Get("/", s.HandleGetDevice)
				r.Put("/", s.HandleUpdateDevice)
				r.Delete("/", s.HandleDeleteDevice)
				r.Get("/telemetry", s.HandleListTelemetry)
				r.Post("/commands", s.HandleEnqueueCommand)
				r.Get("/commands", s.HandleListCommands)
				r.Get("/ota/session", s.HandleGetOTASession)
				r.Delete("/ota/session", s.HandleCancelOTASession)
			})
		})

		// Commands
		r.Route("/commands", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/stats", s.HandleCommandStats)
			r.Get("/{id}", s.HandleGetCommand)
		})

		// Firmware
		r.Route("/firmware", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/", s.HandleListFirmware)
			r.Post("/", s.HandleUploadFirmware)
			r.Delete("/{version}", s.HandleDeleteFirmware)
			r.Get("/stats", s.HandleOTAStats)
		})

		// Events
		r.Route("/events", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/", s.HandleListEvents)
		})
	})
}
