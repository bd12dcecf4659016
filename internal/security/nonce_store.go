package security

import (
	"sync"
)

// NonceStore tracks the last accepted nonce per device. An entry is
// created on the first successful verification and only ever moves
// forward; nothing is mutated on a failed verification.
type NonceStore struct {
	mu   sync.Mutex
	last map[string]uint32
}

// NewNonceStore creates an empty nonce store
func NewNonceStore() *NonceStore {
	return &NonceStore{
		last: make(map[string]uint32),
	}
}

// Last returns the last accepted nonce for a device (0 if unseen)
func (s *NonceStore) Last(deviceID string) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last[deviceID]
}

// Advance records a newly accepted nonce. It returns false when the
// nonce is not strictly greater than the stored value, which can happen
// when two requests for the same device race between precheck and
// commit; the caller must treat that as a replay.
func (s *NonceStore) Advance(deviceID string, nonce uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if nonce <= s.last[deviceID] {
		return false
	}
	s.last[deviceID] = nonce
	return true
}

// Next reserves and returns the next outbound nonce for a device.
// Outbound server messages share the per-device counter with inbound
// verification.
func (s *NonceStore) Next(deviceID string) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.last[deviceID]++
	return s.last[deviceID]
}

// Restore seeds the store from persisted device state at startup
func (s *NonceStore) Restore(deviceID string, nonce uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if nonce > s.last[deviceID] {
		s.last[deviceID] = nonce
	}
}
