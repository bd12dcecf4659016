package compression

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Frame marker bytes. The first byte of every compressed telemetry frame
// selects the decoding algorithm.
const (
	MarkerUncompressed    = 0x00 // deprecated, rejected
	MarkerBitPacked       = 0x01
	MarkerRLE             = 0x50
	MarkerTemporalBase    = 0x70
	MarkerTemporalDelta   = 0x71
	MarkerRLELegacy       = 0xAD
	MarkerBitPackedLegacy = 0xBF
	MarkerDictionary      = 0xD0
	MarkerTemporalLegacy  = 0xDE
)

// Decoding errors
var (
	ErrUnknownMarker   = errors.New("unknown compression marker")
	ErrTruncatedData   = errors.New("truncated compressed data")
	ErrMissingBaseline = errors.New("no temporal baseline for device")
)

// Stats describes one decode for observability. It never influences
// control flow.
type Stats struct {
	Method         string  `json:"method"`
	CompressedSize int     `json:"compressedSize"`
	LogicalSize    int     `json:"logicalSize"`
	Ratio          float64 `json:"ratio"`
}

// Codec decodes the binary telemetry encodings used by the fleet.
// Temporal delta frames need the per-device baseline store; the other
// formats are stateless.
type Codec struct {
	temporal *TemporalStateStore
}

// NewCodec creates a codec backed by the given baseline store
func NewCodec(temporal *TemporalStateStore) *Codec {
	return &Codec{temporal: temporal}
}

// Decode dispatches on the frame marker and returns the reconstructed
// sample values. deviceID is only consulted for the stateful temporal
// delta format.
func (c *Codec) Decode(frame []byte, deviceID string) ([]float64, Stats, error) {
	if len(frame) == 0 {
		return nil, Stats{}, fmt.Errorf("%w: empty frame", ErrTruncatedData)
	}

	var (
		values []float64
		method string
		err    error
	)

	switch frame[0] {
	case MarkerDictionary:
		method = "dictionary_bitmask"
		values, err = c.decodeDictionary(frame[1:])
	case MarkerTemporalBase:
		method = "temporal_base"
		values, err = c.decodeTemporalBase(frame[1:], deviceID)
	case MarkerTemporalDelta:
		method = "temporal_delta"
		values, err = c.decodeTemporalDelta(frame[1:], deviceID)
	case MarkerTemporalLegacy:
		method = "temporal_legacy"
		values, err = c.decodeTemporalLegacy(frame[1:])
	case MarkerRLE, MarkerRLELegacy:
		method = "semantic_rle"
		values, err = c.decodeRLE(frame[1:])
	case MarkerBitPacked, MarkerBitPackedLegacy:
		method = "bit_packed"
		values, err = c.decodeBitPacked(frame[1:])
	case MarkerUncompressed:
		// Legacy uncompressed frames are explicitly deprecated; devices
		// still emitting them must not pass as valid telemetry.
		return nil, Stats{}, fmt.Errorf("%w: deprecated uncompressed marker 0x00", ErrUnknownMarker)
	default:
		return nil, Stats{}, fmt.Errorf("%w: 0x%02X", ErrUnknownMarker, frame[0])
	}

	if err != nil {
		return nil, Stats{}, err
	}

	stats := Stats{
		Method:         method,
		CompressedSize: len(frame),
		LogicalSize:    len(values) * 4,
	}
	if stats.CompressedSize > 0 {
		stats.Ratio = float64(stats.LogicalSize) / float64(stats.CompressedSize)
	}

	return values, stats, nil
}

// decodeDictionary expands a dictionary/bitmask frame: a small float32
// dictionary followed by LSB-first packed indices, one per sample.
func (c *Codec) decodeDictionary(body []byte) ([]float64, error) {
	if len(body) < 2 {
		return nil, fmt.Errorf("%w: dictionary header", ErrTruncatedData)
	}

	sampleCount := int(body[0])
	patternCount := int(body[1])
	if patternCount == 0 {
		return nil, fmt.Errorf("%w: empty dictionary", ErrTruncatedData)
	}

	pos := 2
	dict := make([]float64, patternCount)
	for i := 0; i < patternCount; i++ {
		if pos+4 > len(body) {
			return nil, fmt.Errorf("%w: dictionary entry %d", ErrTruncatedData, i)
		}
		dict[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(body[pos:])))
		pos += 4
	}

	bits := bitsFor(patternCount)
	needed := (sampleCount*bits + 7) / 8
	if len(body)-pos < needed {
		return nil, fmt.Errorf("%w: index bitmask", ErrTruncatedData)
	}

	r := bitReader{data: body[pos : pos+needed]}
	values := make([]float64, sampleCount)
	for i := 0; i < sampleCount; i++ {
		idx, _ := r.readLSB(bits)
		if int(idx) >= patternCount {
			return nil, fmt.Errorf("%w: index %d out of dictionary range", ErrTruncatedData, idx)
		}
		values[i] = dict[idx]
	}

	return values, nil
}

// decodeTemporalBase reads raw register values and establishes the
// device baseline, overwriting any previous one.
func (c *Codec) decodeTemporalBase(body []byte, deviceID string) ([]float64, error) {
	if len(body) < 1 {
		return nil, fmt.Errorf("%w: base header", ErrTruncatedData)
	}

	count := int(body[0])
	if len(body) < 1+count+count*2 {
		return nil, fmt.Errorf("%w: base frame needs %d bytes", ErrTruncatedData, 1+count+count*2)
	}

	layout := make([]uint8, count)
	copy(layout, body[1:1+count])

	raw := make([]uint16, count)
	values := make([]float64, count)
	pos := 1 + count
	for i := 0; i < count; i++ {
		raw[i] = binary.LittleEndian.Uint16(body[pos:])
		values[i] = float64(raw[i])
		pos += 2
	}

	c.temporal.SetBaseline(deviceID, layout, raw)

	return values, nil
}

// decodeTemporalDelta reads one variable-length signed delta per sample
// and applies it to the stored baseline. Each delta is added to the
// previous reconstructed value and the baseline is updated in place for
// the next frame.
func (c *Codec) decodeTemporalDelta(body []byte, deviceID string) ([]float64, error) {
	if len(body) < 1 {
		return nil, fmt.Errorf("%w: delta header", ErrTruncatedData)
	}

	count := int(body[0])
	deltas := make([]int, count)
	pos := 1
	for i := 0; i < count; i++ {
		if pos >= len(body) {
			return nil, fmt.Errorf("%w: delta %d", ErrTruncatedData, i)
		}

		b := body[pos]
		pos++
		switch {
		case b&0x80 != 0:
			// 7-bit inline two's complement
			d := int(b & 0x7F)
			if d >= 64 {
				d -= 128
			}
			deltas[i] = d
		case b == 0x00:
			if pos >= len(body) {
				return nil, fmt.Errorf("%w: int8 delta %d", ErrTruncatedData, i)
			}
			deltas[i] = int(int8(body[pos]))
			pos++
		case b == 0x01:
			if pos+2 > len(body) {
				return nil, fmt.Errorf("%w: int16 delta %d", ErrTruncatedData, i)
			}
			deltas[i] = int(int16(binary.LittleEndian.Uint16(body[pos:])))
			pos += 2
		default:
			return nil, fmt.Errorf("%w: bad delta prefix 0x%02X", ErrTruncatedData, b)
		}
	}

	updated, ok := c.temporal.ApplyDeltas(deviceID, deltas)
	if !ok {
		// No guessing: without a matching baseline the frame is
		// unreconstructable and the device must resend a base frame.
		return nil, fmt.Errorf("%w: device %q", ErrMissingBaseline, deviceID)
	}

	values := make([]float64, len(updated))
	for i, v := range updated {
		values[i] = float64(v)
	}
	return values, nil
}

// decodeTemporalLegacy handles the self-contained legacy format: a
// float32 starting value followed by int16 deltas at 1/100 scale. It
// needs no per-device state.
func (c *Codec) decodeTemporalLegacy(body []byte) ([]float64, error) {
	if len(body) < 5 {
		return nil, fmt.Errorf("%w: legacy temporal header", ErrTruncatedData)
	}

	count := int(body[0])
	running := float64(math.Float32frombits(binary.LittleEndian.Uint32(body[1:])))

	if len(body) < 5+count*2 {
		return nil, fmt.Errorf("%w: legacy temporal needs %d delta bytes", ErrTruncatedData, count*2)
	}

	values := make([]float64, count)
	pos := 5
	for i := 0; i < count; i++ {
		d := int16(binary.LittleEndian.Uint16(body[pos:]))
		running += float64(d) / 100
		values[i] = running
		pos += 2
	}

	return values, nil
}

// decodeRLE expands (value, runLength) pairs until the declared sample
// count is produced.
func (c *Codec) decodeRLE(body []byte) ([]float64, error) {
	if len(body) < 1 {
		return nil, fmt.Errorf("%w: rle header", ErrTruncatedData)
	}

	total := int(body[0])
	values := make([]float64, 0, total)
	pos := 1
	for len(values) < total {
		if pos+5 > len(body) {
			return nil, fmt.Errorf("%w: rle pair at offset %d", ErrTruncatedData, pos)
		}
		v := float64(math.Float32frombits(binary.LittleEndian.Uint32(body[pos:])))
		run := int(body[pos+4])
		pos += 5

		for i := 0; i < run && len(values) < total; i++ {
			values = append(values, v)
		}
	}

	return values, nil
}

// decodeBitPacked unpacks fixed-width samples from an MSB-first bit
// stream; values cross byte boundaries as needed.
func (c *Codec) decodeBitPacked(body []byte) ([]float64, error) {
	if len(body) < 2 {
		return nil, fmt.Errorf("%w: bit-pack header", ErrTruncatedData)
	}

	bits := int(body[0])
	count := int(body[1])
	if bits < 1 || bits > 16 {
		return nil, fmt.Errorf("%w: bits per value %d out of range", ErrTruncatedData, bits)
	}

	r := bitReader{data: body[2:]}
	values := make([]float64, count)
	for i := 0; i < count; i++ {
		v, ok := r.readMSB(bits)
		if !ok {
			return nil, fmt.Errorf("%w: sample %d", ErrTruncatedData, i)
		}
		values[i] = float64(v)
	}

	return values, nil
}

// EncodeBitPacked builds a bit-packed frame from integer samples. Used
// by the frame tool and tests; the server itself only decodes.
func EncodeBitPacked(values []uint16, bitsPerValue int) ([]byte, error) {
	if bitsPerValue < 1 || bitsPerValue > 16 {
		return nil, fmt.Errorf("bits per value %d out of range [1,16]", bitsPerValue)
	}
	if len(values) > 255 {
		return nil, fmt.Errorf("too many samples: %d", len(values))
	}

	limit := uint32(1)<<bitsPerValue - 1
	w := bitWriter{}
	for _, v := range values {
		if uint32(v) > limit {
			return nil, fmt.Errorf("value %d does not fit in %d bits", v, bitsPerValue)
		}
		w.writeMSB(uint32(v), bitsPerValue)
	}

	frame := make([]byte, 0, 3+len(w.data))
	frame = append(frame, MarkerBitPacked, byte(bitsPerValue), byte(len(values)))
	frame = append(frame, w.data...)
	return frame, nil
}
