package esb

import "fmt"

const (
	crc8Poly  = 0x07
	crc8Init  = 0xFF
	crc16Poly = 0x1021
	crc16Init = 0xFFFF
)

// FrameLayout describes how a frame is laid out on air.
//
//	address | PCF: length (LengthBits), PID (2), NO_ACK (1) | payload | CRC
//
// Fields are packed MSB first with no padding between them; the frame is
// zero padded to a whole byte at the end.
type FrameLayout struct {
	AddressLength int
	// LengthBits is 6 or 8 for dynamic framing, 0 for fixed framing.
	LengthBits int
	// FixedLength is the payload size when LengthBits is 0.
	FixedLength int
	CRC         CRC
}

// Frame is the decoded form of an on-air frame.
type Frame struct {
	Address []byte
	PID     uint8
	NoAck   bool
	Payload []byte
	// CRC is the checksum carried by the frame. Set by DecodeFrame.
	CRC uint16
}

func (l FrameLayout) pcfBits() int {
	return l.LengthBits + 3
}

func (l FrameLayout) maxPayload() int {
	if l.LengthBits == 0 {
		return l.FixedLength
	}
	return 1<<l.LengthBits - 1
}

// Size returns the encoded size in bytes of a frame carrying n payload bytes.
func (l FrameLayout) Size(n int) int {
	bits := l.AddressLength*8 + l.pcfBits() + n*8 + l.CRC.bits()
	return (bits + 7) / 8
}

// EncodeFrame serializes f according to l.
func EncodeFrame(l FrameLayout, f Frame) ([]byte, error) {
	if len(f.Address) != l.AddressLength {
		return nil, fmt.Errorf("%w: address has %d bytes, layout needs %d", ErrInvalidParam, len(f.Address), l.AddressLength)
	}
	if l.LengthBits == 0 && len(f.Payload) != l.FixedLength {
		return nil, fmt.Errorf("%w: fixed frame needs %d bytes, got %d", ErrInvalidLength, l.FixedLength, len(f.Payload))
	}
	if len(f.Payload) > l.maxPayload() {
		return nil, fmt.Errorf("%w: %d bytes do not fit a %d bit length field", ErrInvalidLength, len(f.Payload), l.LengthBits)
	}

	w := bitWriter{buf: make([]byte, 0, l.Size(len(f.Payload)))}
	for _, b := range f.Address {
		w.write(uint32(b), 8)
	}
	if l.LengthBits > 0 {
		w.write(uint32(len(f.Payload)), l.LengthBits)
	}
	w.write(uint32(f.PID&pidMask), 2)
	if f.NoAck {
		w.write(1, 1)
	} else {
		w.write(0, 1)
	}
	for _, b := range f.Payload {
		w.write(uint32(b), 8)
	}
	if width := l.CRC.bits(); width > 0 {
		w.write(uint32(checksum(l.CRC, w.buf, w.n)), width)
	}
	return w.buf, nil
}

// DecodeFrame parses b according to l. Trailing bytes after the checksum
// are ignored. A checksum mismatch returns the decoded frame and ErrCRC.
func DecodeFrame(l FrameLayout, b []byte) (Frame, error) {
	r := bitReader{buf: b}
	var f Frame

	if len(b) < l.Size(0) {
		return f, fmt.Errorf("%w: %d byte frame is shorter than its header", ErrInvalidLength, len(b))
	}
	f.Address = make([]byte, l.AddressLength)
	for i := range f.Address {
		f.Address[i] = byte(r.read(8))
	}
	n := l.FixedLength
	if l.LengthBits > 0 {
		n = int(r.read(l.LengthBits))
	}
	f.PID = uint8(r.read(2))
	f.NoAck = r.read(1) == 1
	if len(b) < l.Size(n) {
		return f, fmt.Errorf("%w: frame announces %d payload bytes, only %d bytes on air", ErrInvalidLength, n, len(b))
	}
	f.Payload = make([]byte, n)
	for i := range f.Payload {
		f.Payload[i] = byte(r.read(8))
	}
	if width := l.CRC.bits(); width > 0 {
		covered := r.pos
		f.CRC = uint16(r.read(width))
		if want := checksum(l.CRC, b, covered); want != f.CRC {
			return f, fmt.Errorf("%w: got %04X, computed %04X", ErrCRC, f.CRC, want)
		}
	}
	return f, nil
}

// checksum runs the CRC bitwise over the first nbits of buf, MSB first.
func checksum(c CRC, buf []byte, nbits int) uint16 {
	switch c {
	case CRC8:
		crc := uint16(crc8Init)
		for i := range nbits {
			bit := uint16(buf[i/8]>>(7-i%8)) & 1
			msb := (crc >> 7) & 1
			crc = (crc << 1) & 0xFF
			if msb^bit == 1 {
				crc ^= crc8Poly
			}
		}
		return crc
	case CRC16:
		crc := uint16(crc16Init)
		for i := range nbits {
			bit := uint16(buf[i/8]>>(7-i%8)) & 1
			msb := crc >> 15
			crc <<= 1
			if msb^bit == 1 {
				crc ^= crc16Poly
			}
		}
		return crc
	default:
		return 0
	}
}

type bitWriter struct {
	buf []byte
	n   int
}

// write appends the low count bits of v, MSB first.
func (w *bitWriter) write(v uint32, count int) {
	for i := count - 1; i >= 0; i-- {
		if w.n%8 == 0 {
			w.buf = append(w.buf, 0)
		}
		if (v>>i)&1 == 1 {
			w.buf[w.n/8] |= 1 << (7 - w.n%8)
		}
		w.n++
	}
}

// bitReader reads fields written by bitWriter. Callers check the length
// up front, reads past the end return zero bits.
type bitReader struct {
	buf []byte
	pos int
}

func (r *bitReader) read(count int) uint32 {
	var v uint32
	for range count {
		v <<= 1
		if r.pos/8 < len(r.buf) {
			v |= uint32(r.buf[r.pos/8]>>(7-r.pos%8)) & 1
		}
		r.pos++
	}
	return v
}
