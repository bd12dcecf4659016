package compression

import (
	"encoding/binary"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCodec() *Codec {
	return NewCodec(NewTemporalStateStore())
}

func f32le(v float32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
	return b[:]
}

func u16le(v uint16) []byte {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return b[:]
}

func TestDecodeDictionaryBitmask(t *testing.T) {
	c := newTestCodec()

	// 4 samples over a 2-entry dictionary: 1 bit per index, LSB-first,
	// indices 0,1,1,0 -> bitmask 0b00000110
	frame := []byte{MarkerDictionary, 4, 2}
	frame = append(frame, f32le(1.5)...)
	frame = append(frame, f32le(2.5)...)
	frame = append(frame, 0x06)

	values, stats, err := c.Decode(frame, "meter-001")
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5, 2.5, 2.5, 1.5}, values)
	assert.Equal(t, "dictionary_bitmask", stats.Method)
	assert.Equal(t, len(frame), stats.CompressedSize)
	assert.Equal(t, 16, stats.LogicalSize)
}

func TestDecodeDictionarySingleEntry(t *testing.T) {
	c := newTestCodec()

	// One pattern needs zero index bits and no bitmask at all
	frame := []byte{MarkerDictionary, 3, 1}
	frame = append(frame, f32le(42)...)

	values, _, err := c.Decode(frame, "meter-001")
	require.NoError(t, err)
	assert.Equal(t, []float64{42, 42, 42}, values)
}

func TestDecodeDictionaryTruncated(t *testing.T) {
	c := newTestCodec()

	// Declares 2 dictionary entries but carries only one
	frame := []byte{MarkerDictionary, 4, 2}
	frame = append(frame, f32le(1.5)...)

	_, _, err := c.Decode(frame, "meter-001")
	assert.ErrorIs(t, err, ErrTruncatedData)
}

func TestDecodeTemporalBaseThenDelta(t *testing.T) {
	c := newTestCodec()

	base := []byte{MarkerTemporalBase, 3, 0x01, 0x02, 0x03}
	base = append(base, u16le(100)...)
	base = append(base, u16le(200)...)
	base = append(base, u16le(65530)...)

	values, stats, err := c.Decode(base, "meter-007")
	require.NoError(t, err)
	assert.Equal(t, []float64{100, 200, 65530}, values)
	assert.Equal(t, "temporal_base", stats.Method)

	// +5 inline, -3 inline, +10 as explicit int16 (clamped at 65535)
	delta := []byte{MarkerTemporalDelta, 3, 0x85, 0xFD, 0x01}
	delta = append(delta, u16le(10)...)

	values, stats, err = c.Decode(delta, "meter-007")
	require.NoError(t, err)
	assert.Equal(t, []float64{105, 197, 65535}, values)
	assert.Equal(t, "temporal_delta", stats.Method)

	// Deltas chain off the updated baseline, not the original base
	delta2 := []byte{MarkerTemporalDelta, 3, 0x81, 0x81, 0x00, 0xF6}
	values, _, err = c.Decode(delta2, "meter-007")
	require.NoError(t, err)
	assert.Equal(t, []float64{106, 198, 65525}, values)
}

func TestDecodeTemporalDeltaInt8(t *testing.T) {
	c := newTestCodec()

	base := []byte{MarkerTemporalBase, 1, 0x01}
	base = append(base, u16le(500)...)
	_, _, err := c.Decode(base, "meter-008")
	require.NoError(t, err)

	// Explicit int8 delta of -100
	delta := []byte{MarkerTemporalDelta, 1, 0x00, 0x9C}
	values, _, err := c.Decode(delta, "meter-008")
	require.NoError(t, err)
	assert.Equal(t, []float64{400}, values)
}

func TestDecodeTemporalDeltaClampsAtZero(t *testing.T) {
	c := newTestCodec()

	base := []byte{MarkerTemporalBase, 1, 0x01}
	base = append(base, u16le(5)...)
	_, _, err := c.Decode(base, "meter-009")
	require.NoError(t, err)

	delta := []byte{MarkerTemporalDelta, 1, 0x00, 0x9C} // -100
	values, _, err := c.Decode(delta, "meter-009")
	require.NoError(t, err)
	assert.Equal(t, []float64{0}, values)
}

func TestDecodeTemporalDeltaWithoutBaseline(t *testing.T) {
	c := newTestCodec()

	delta := []byte{MarkerTemporalDelta, 1, 0x85}
	_, _, err := c.Decode(delta, "never-seen")
	assert.ErrorIs(t, err, ErrMissingBaseline)
}

func TestDecodeTemporalDeltaLayoutMismatch(t *testing.T) {
	c := newTestCodec()

	base := []byte{MarkerTemporalBase, 2, 0x01, 0x02}
	base = append(base, u16le(1)...)
	base = append(base, u16le(2)...)
	_, _, err := c.Decode(base, "meter-010")
	require.NoError(t, err)

	// Delta for 3 registers against a 2-register baseline
	delta := []byte{MarkerTemporalDelta, 3, 0x85, 0x85, 0x85}
	_, _, err = c.Decode(delta, "meter-010")
	assert.ErrorIs(t, err, ErrMissingBaseline)
}

func TestDecodeTemporalLegacy(t *testing.T) {
	c := newTestCodec()

	frame := []byte{MarkerTemporalLegacy, 2}
	frame = append(frame, f32le(10.0)...)
	frame = append(frame, u16le(150)...)            // +1.50
	frame = append(frame, u16le(uint16(0xFFCE))...) // int16(-50) -> -0.50

	values, stats, err := c.Decode(frame, "meter-001")
	require.NoError(t, err)
	require.Len(t, values, 2)
	assert.InDelta(t, 11.5, values[0], 1e-6)
	assert.InDelta(t, 11.0, values[1], 1e-6)
	assert.Equal(t, "temporal_legacy", stats.Method)
}

func TestDecodeSemanticRLE(t *testing.T) {
	c := newTestCodec()

	for _, marker := range []byte{MarkerRLE, MarkerRLELegacy} {
		frame := []byte{marker, 5}
		frame = append(frame, f32le(3.25)...)
		frame = append(frame, 3)
		frame = append(frame, f32le(7.5)...)
		frame = append(frame, 2)

		values, stats, err := c.Decode(frame, "meter-001")
		require.NoError(t, err)
		assert.Equal(t, []float64{3.25, 3.25, 3.25, 7.5, 7.5}, values)
		assert.Equal(t, "semantic_rle", stats.Method)
	}
}

func TestDecodeSemanticRLETruncated(t *testing.T) {
	c := newTestCodec()

	// Declares 10 samples but the pairs only cover 3
	frame := []byte{MarkerRLE, 10}
	frame = append(frame, f32le(1)...)
	frame = append(frame, 3)

	_, _, err := c.Decode(frame, "meter-001")
	assert.ErrorIs(t, err, ErrTruncatedData)
}

func TestBitPackedRoundTrip(t *testing.T) {
	c := newTestCodec()
	rng := rand.New(rand.NewSource(7))

	for bits := 1; bits <= 16; bits++ {
		for _, count := range []int{1, 7, 64, 255} {
			limit := 1<<bits - 1
			values := make([]uint16, count)
			for i := range values {
				values[i] = uint16(rng.Intn(limit + 1))
			}

			frame, err := EncodeBitPacked(values, bits)
			require.NoError(t, err)

			decoded, stats, err := c.Decode(frame, "meter-001")
			require.NoError(t, err, "bits=%d count=%d", bits, count)
			require.Len(t, decoded, count)
			for i, v := range values {
				assert.Equal(t, float64(v), decoded[i], "bits=%d sample=%d", bits, i)
			}
			assert.Equal(t, "bit_packed", stats.Method)
		}
	}
}

func TestBitPackedTruncated(t *testing.T) {
	c := newTestCodec()

	// 10 samples of 9 bits need 12 bytes; give 4
	frame := []byte{MarkerBitPacked, 9, 10, 0xAA, 0xBB, 0xCC, 0xDD}
	_, _, err := c.Decode(frame, "meter-001")
	assert.ErrorIs(t, err, ErrTruncatedData)
}

func TestBitPackedBadWidth(t *testing.T) {
	c := newTestCodec()

	_, _, err := c.Decode([]byte{MarkerBitPacked, 0, 4}, "meter-001")
	assert.ErrorIs(t, err, ErrTruncatedData)

	_, _, err = c.Decode([]byte{MarkerBitPacked, 17, 4}, "meter-001")
	assert.ErrorIs(t, err, ErrTruncatedData)

	_, err = EncodeBitPacked([]uint16{1}, 17)
	assert.Error(t, err)
}

func TestDecodeRejectsDeprecatedAndUnknownMarkers(t *testing.T) {
	c := newTestCodec()

	_, _, err := c.Decode([]byte{MarkerUncompressed, 1, 2, 3}, "meter-001")
	assert.ErrorIs(t, err, ErrUnknownMarker)

	_, _, err = c.Decode([]byte{0x99, 1, 2, 3}, "meter-001")
	assert.ErrorIs(t, err, ErrUnknownMarker)

	_, _, err = c.Decode(nil, "meter-001")
	assert.ErrorIs(t, err, ErrTruncatedData)
}

func TestBaselinesAreIndependentPerDevice(t *testing.T) {
	c := newTestCodec()

	base := []byte{MarkerTemporalBase, 1, 0x01}
	base = append(base, u16le(100)...)
	_, _, err := c.Decode(base, "meter-a")
	require.NoError(t, err)

	// meter-b never sent a base frame
	delta := []byte{MarkerTemporalDelta, 1, 0x85}
	_, _, err = c.Decode(delta, "meter-b")
	assert.ErrorIs(t, err, ErrMissingBaseline)

	values, _, err := c.Decode(delta, "meter-a")
	require.NoError(t, err)
	assert.Equal(t, []float64{105}, values)
}
