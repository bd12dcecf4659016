package ota

import (
	"math/rand"
)

// FaultInjector may alter chunk bytes before they are returned to the
// device, for exercising device-side hash/signature verification.
// Production wiring uses NopInjector; the hook never appears in the
// decision path beyond this single call site.
type FaultInjector interface {
	CorruptChunk(deviceID string, index int, chunk []byte) []byte
}

// NopInjector returns chunks untouched
type NopInjector struct{}

// CorruptChunk implements FaultInjector
func (NopInjector) CorruptChunk(_ string, _ int, chunk []byte) []byte {
	return chunk
}

// BitFlipInjector flips a single bit in a configurable fraction of
// chunks. Used by the frame tool and integration test scenarios.
type BitFlipInjector struct {
	Rate float64 // fraction of chunks to corrupt, [0,1]
	rng  *rand.Rand
}

// NewBitFlipInjector creates a bit-flip injector with a fixed seed so
// test scenarios are reproducible.
func NewBitFlipInjector(rate float64, seed int64) *BitFlipInjector {
	return &BitFlipInjector{
		Rate: rate,
		rng:  rand.New(rand.NewSource(seed)),
	}
}

// CorruptChunk implements FaultInjector
func (f *BitFlipInjector) CorruptChunk(_ string, _ int, chunk []byte) []byte {
	if len(chunk) == 0 || f.rng.Float64() >= f.Rate {
		return chunk
	}

	out := make([]byte, len(chunk))
	copy(out, chunk)
	out[f.rng.Intn(len(out))] ^= 1 << uint(f.rng.Intn(8))
	return out
}
