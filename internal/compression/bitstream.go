package compression

// bitReader reads individual bits from a packed byte stream. Dictionary
// indices are packed LSB-first while bit-packed samples are MSB-first,
// so both orders are supported.
type bitReader struct {
	data []byte
	pos  int // absolute bit position
}

// remaining returns the number of unread bits
func (r *bitReader) remaining() int {
	return len(r.data)*8 - r.pos
}

// readLSB reads n bits LSB-first: the first bit consumed becomes the
// least significant bit of the result.
func (r *bitReader) readLSB(n int) (uint32, bool) {
	if n > r.remaining() {
		return 0, false
	}

	var v uint32
	for i := 0; i < n; i++ {
		bit := (r.data[r.pos/8] >> (r.pos % 8)) & 1
		v |= uint32(bit) << i
		r.pos++
	}
	return v, true
}

// readMSB reads n bits MSB-first: the first bit consumed becomes the
// most significant bit of the result.
func (r *bitReader) readMSB(n int) (uint32, bool) {
	if n > r.remaining() {
		return 0, false
	}

	var v uint32
	for i := 0; i < n; i++ {
		bit := (r.data[r.pos/8] >> (7 - r.pos%8)) & 1
		v = v<<1 | uint32(bit)
		r.pos++
	}
	return v, true
}

// bitWriter packs values MSB-first, mirroring readMSB
type bitWriter struct {
	data []byte
	pos  int
}

// writeMSB appends the low n bits of v, most significant first
func (w *bitWriter) writeMSB(v uint32, n int) {
	for i := n - 1; i >= 0; i-- {
		if w.pos%8 == 0 {
			w.data = append(w.data, 0)
		}
		bit := (v >> i) & 1
		w.data[w.pos/8] |= byte(bit) << (7 - w.pos%8)
		w.pos++
	}
}

// bitsFor returns the number of bits needed to index count entries
func bitsFor(count int) int {
	bits := 0
	for 1<<bits < count {
		bits++
	}
	return bits
}
