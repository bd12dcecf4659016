package ota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/energymon-server/energymon-server/internal/models"
)

// DefaultStaleTimeout is how long a session may sit without chunk
// activity before a new Initiate may reclaim it.
const DefaultStaleTimeout = 600 * time.Second

// OTA errors
var (
	ErrUnknownVersion    = errors.New("unknown firmware version")
	ErrSessionConflict   = errors.New("update session already in progress")
	ErrNoActiveSession   = errors.New("no active update session")
	ErrVersionMismatch   = errors.New("version does not match active session")
	ErrInvalidChunkIndex = errors.New("chunk index out of range")
)

// ManifestStore is the read-only firmware source the manager serves
// from. Implemented by the storage layer.
type ManifestStore interface {
	LatestVersion(ctx context.Context) (string, error)
	GetManifest(ctx context.Context, version string) (*models.FirmwareManifest, error)
	GetFirmwareChunk(ctx context.Context, version string, index int) ([]byte, error)
}

// Stats are the manager's aggregate counters
type Stats struct {
	Active    int    `json:"active"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Cancelled uint64 `json:"cancelled"`
}

// Manager tracks one chunked firmware transfer per device. Sessions are
// created by Initiate, advanced by GetChunk and torn down by Complete or
// Cancel; an abandoned session self-heals via the staleness rule on the
// next Initiate, so no background reaper runs.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*models.OTASession

	manifests  ManifestStore
	staleAfter time.Duration
	fault      FaultInjector

	completed uint64
	failed    uint64
	cancelled uint64

	now func() time.Time
}

// NewManager creates a session manager. staleAfter <= 0 selects the
// default reclamation timeout.
func NewManager(manifests ManifestStore, staleAfter time.Duration) *Manager {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleTimeout
	}
	return &Manager{
		sessions:   make(map[string]*models.OTASession),
		manifests:  manifests,
		staleAfter: staleAfter,
		fault:      NopInjector{},
		now:        time.Now,
	}
}

// SetFaultInjector replaces the chunk fault hook (tests only)
func (m *Manager) SetFaultInjector(f FaultInjector) {
	if f == nil {
		f = NopInjector{}
	}
	m.fault = f
}

// CheckForUpdate compares the device's running version against the
// newest published manifest and returns the manifest when they differ.
func (m *Manager) CheckForUpdate(ctx context.Context, deviceID, currentVersion string) (*models.FirmwareManifest, bool, error) {
	latest, err := m.manifests.LatestVersion(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("latest version: %w", err)
	}
	if latest == "" || latest == currentVersion {
		return nil, false, nil
	}

	manifest, err := m.manifests.GetManifest(ctx, latest)
	if err != nil {
		return nil, false, fmt.Errorf("manifest %s: %w", latest, err)
	}

	log.Debug().
		Str("deviceID", deviceID).
		Str("current", currentVersion).
		Str("available", latest).
		Msg("Firmware update available")

	return manifest, true, nil
}

// Initiate starts a new update session for a device. An InProgress
// session with chunk activity inside the stale window blocks a new one;
// a stale session is discarded and replaced.
func (m *Manager) Initiate(ctx context.Context, deviceID, version string) (*models.OTASession, error) {
	manifest, err := m.manifests.GetManifest(ctx, version)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVersion, version)
	}

	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[deviceID]; ok {
		if now.Sub(existing.LastActivityAt) <= m.staleAfter {
			return nil, fmt.Errorf("%w: session %s for %s", ErrSessionConflict, existing.SessionID, existing.FirmwareVersion)
		}

		// The device disappeared mid-transfer; reclaim its session.
		delete(m.sessions, deviceID)
		m.failed++
		log.Warn().
			Str("deviceID", deviceID).
			Str("sessionID", existing.SessionID).
			Dur("idle", now.Sub(existing.LastActivityAt)).
			Msg("Discarding stale OTA session")
	}

	session := &models.OTASession{
		DeviceID:        deviceID,
		SessionID:       uuid.New().String(),
		FirmwareVersion: version,
		Status:          models.OTAStatusInProgress,
		TotalChunks:     manifest.TotalChunks,
		StartedAt:       now,
		LastActivityAt:  now,
	}
	m.sessions[deviceID] = session

	log.Info().
		Str("deviceID", deviceID).
		Str("sessionID", session.SessionID).
		Str("version", version).
		Int("totalChunks", manifest.TotalChunks).
		Msg("OTA session started")

	return copySession(session), nil
}

// GetChunk validates the request against the device's session, fetches
// the chunk and records progress. The chunk fetch itself happens outside
// the lock.
func (m *Manager) GetChunk(ctx context.Context, deviceID, version string, index int) ([]byte, error) {
	m.mu.Lock()
	session, ok := m.sessions[deviceID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: device %s", ErrNoActiveSession, deviceID)
	}
	if session.FirmwareVersion != version {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: session has %s, request has %s", ErrVersionMismatch, session.FirmwareVersion, version)
	}
	if index < 0 || index >= session.TotalChunks {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %d of %d", ErrInvalidChunkIndex, index, session.TotalChunks)
	}
	m.mu.Unlock()

	chunk, err := m.manifests.GetFirmwareChunk(ctx, version, index)
	if err != nil {
		return nil, fmt.Errorf("fetch chunk %d: %w", index, err)
	}

	m.mu.Lock()
	if session, ok = m.sessions[deviceID]; ok && session.FirmwareVersion == version {
		session.CurrentChunk = index
		session.BytesTransferred += int64(len(chunk))
		session.LastActivityAt = m.now()
	}
	m.mu.Unlock()

	return m.fault.CorruptChunk(deviceID, index, chunk), nil
}

// Complete records the terminal outcome reported by the device and
// removes the session. It returns false when no session exists, which
// also covers a second completion racing a first: terminal outcomes are
// recorded exactly once and never overwritten.
func (m *Manager) Complete(deviceID string, success bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[deviceID]
	if !ok {
		return false
	}

	if success {
		session.Status = models.OTAStatusCompleted
		m.completed++
	} else {
		session.Status = models.OTAStatusFailed
		m.failed++
	}
	delete(m.sessions, deviceID)

	log.Info().
		Str("deviceID", deviceID).
		Str("sessionID", session.SessionID).
		Str("version", session.FirmwareVersion).
		Bool("success", success).
		Int64("bytes", session.BytesTransferred).
		Msg("OTA session completed")

	return true
}

// Cancel is the operator-initiated termination, counted separately from
// a device-reported failure.
func (m *Manager) Cancel(deviceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[deviceID]
	if !ok {
		return false
	}

	session.Status = models.OTAStatusCancelled
	m.cancelled++
	delete(m.sessions, deviceID)

	log.Info().
		Str("deviceID", deviceID).
		Str("sessionID", session.SessionID).
		Msg("OTA session cancelled")

	return true
}

// Session returns a copy of the device's live session, if any
func (m *Manager) Session(deviceID string) (*models.OTASession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[deviceID]
	if !ok {
		return nil, false
	}
	return copySession(session), true
}

// Stats returns the aggregate counters
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Stats{
		Active:    len(m.sessions),
		Completed: m.completed,
		Failed:    m.failed,
		Cancelled: m.cancelled,
	}
}

func copySession(s *models.OTASession) *models.OTASession {
	c := *s
	return &c
}
