package compression

import (
	"sync"
)

// baseline is the last fully reconstructed register set for one device
type baseline struct {
	layout []uint8
	values []uint16
}

// TemporalStateStore keeps the per-device baseline that temporal delta
// frames are reconstructed against. A baseline is established by a base
// frame and updated in place by every delta frame; devices are fully
// independent of each other.
type TemporalStateStore struct {
	mu     sync.Mutex
	states map[string]*baseline
}

// NewTemporalStateStore creates an empty store
func NewTemporalStateStore() *TemporalStateStore {
	return &TemporalStateStore{
		states: make(map[string]*baseline),
	}
}

// SetBaseline establishes or overwrites the baseline for a device
func (s *TemporalStateStore) SetBaseline(deviceID string, layout []uint8, values []uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[deviceID] = &baseline{
		layout: append([]uint8(nil), layout...),
		values: append([]uint16(nil), values...),
	}
}

// ApplyDeltas adds one delta per stored register to the device baseline,
// clamping each result to [0, 65535], and updates the baseline in place.
// It returns a copy of the updated values, or false when the device has
// no baseline or the delta count does not match the stored layout.
func (s *TemporalStateStore) ApplyDeltas(deviceID string, deltas []int) ([]uint16, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[deviceID]
	if !ok || len(deltas) != len(state.layout) {
		return nil, false
	}

	out := make([]uint16, len(deltas))
	for i, d := range deltas {
		v := int(state.values[i]) + d
		if v < 0 {
			v = 0
		} else if v > 65535 {
			v = 65535
		}
		state.values[i] = uint16(v)
		out[i] = uint16(v)
	}
	return out, true
}

// Reset drops the baseline for a device
func (s *TemporalStateStore) Reset(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, deviceID)
}
