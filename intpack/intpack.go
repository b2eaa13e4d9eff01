// Package intpack implements WiredTiger's order-preserving variable-length
// integer encoding. Record ids, cell lengths and block address cookies are
// all packed with it. The encoding sorts: for two non-negative integers a < b,
// the packed bytes of a compare lexicographically below the packed bytes of b.
package intpack

import "errors"

// Marker bits in the first byte select the encoding class.
const (
	negMultiMarker = 0x10
	neg2ByteMarker = 0x20
	neg1ByteMarker = 0x40
	pos1ByteMarker = 0x80
	pos2ByteMarker = 0xc0
	posMultiMarker = 0xe0

	pos1ByteMax = 0x3f
	pos2ByteMax = pos1ByteMax + 0x2000

	neg1ByteMin = -0x40
	neg2ByteMin = neg1ByteMin - 0x2000

	// Multi-byte encodings carry at most 8 payload bytes.
	maxPayload = 8
)

// MaxEncodedLen is the largest number of bytes a packed integer occupies.
const MaxEncodedLen = 9

// ErrMalformed reports an encoding that no packer could have produced:
// a payload length over 8 bytes, an unknown marker, or a truncated buffer.
var ErrMalformed = errors.New("intpack: malformed integer encoding")

// AppendUint appends the packed encoding of x to buf.
func AppendUint(buf []byte, x uint64) []byte {
	switch {
	case x <= pos1ByteMax:
		return append(buf, pos1ByteMarker|byte(x))
	case x <= pos2ByteMax:
		x -= pos1ByteMax + 1
		return append(buf, pos2ByteMarker|byte(x>>8), byte(x))
	default:
		x -= pos2ByteMax + 1
		n := payloadLen(x)
		buf = append(buf, posMultiMarker|byte(n))
		for shift := (n - 1) * 8; shift >= 0; shift -= 8 {
			buf = append(buf, byte(x>>uint(shift)))
		}
		return buf
	}
}

// AppendInt appends the packed encoding of the signed value x to buf.
func AppendInt(buf []byte, x int64) []byte {
	switch {
	case x >= 0:
		return AppendUint(buf, uint64(x))
	case x >= neg1ByteMin:
		return append(buf, neg1ByteMarker|byte(x-neg1ByteMin))
	case x >= neg2ByteMin:
		v := x - neg2ByteMin
		return append(buf, neg2ByteMarker|byte(v>>8), byte(v))
	default:
		// Two's complement with the leading 0xff bytes stripped; the decoder
		// refills them. The marker nibble holds the stripped-byte count, so
		// more-negative values (longer payloads) sort first.
		u := uint64(x)
		n := maxPayload
		for n > 1 && byte(u>>uint((n-1)*8)) == 0xff {
			n--
		}
		buf = append(buf, negMultiMarker|byte(maxPayload-n))
		for shift := (n - 1) * 8; shift >= 0; shift -= 8 {
			buf = append(buf, byte(u>>uint(shift)))
		}
		return buf
	}
}

// Uint decodes a packed unsigned integer from the start of buf, returning the
// value and the number of bytes consumed. Negative encodings are rejected.
func Uint(buf []byte) (uint64, int, error) {
	if len(buf) == 0 {
		return 0, 0, ErrMalformed
	}
	b := buf[0]
	switch {
	case b&pos1ByteMarker != 0 && b < pos2ByteMarker:
		return uint64(b & pos1ByteMax), 1, nil
	case b >= pos2ByteMarker && b < posMultiMarker:
		if len(buf) < 2 {
			return 0, 0, ErrMalformed
		}
		return (uint64(b&0x1f)<<8 | uint64(buf[1])) + pos1ByteMax + 1, 2, nil
	case b >= posMultiMarker:
		n := int(b &^ posMultiMarker)
		if n > maxPayload || len(buf) < 1+n {
			return 0, 0, ErrMalformed
		}
		var x uint64
		for _, p := range buf[1 : 1+n] {
			x = x<<8 | uint64(p)
		}
		x += pos2ByteMax + 1
		if x < pos2ByteMax+1 {
			return 0, 0, ErrMalformed // overflowed uint64
		}
		return x, 1 + n, nil
	default:
		return 0, 0, ErrMalformed
	}
}

// Int decodes a packed signed integer from the start of buf.
func Int(buf []byte) (int64, int, error) {
	if len(buf) == 0 {
		return 0, 0, ErrMalformed
	}
	b := buf[0]
	switch {
	case b >= pos1ByteMarker:
		u, n, err := Uint(buf)
		if err != nil {
			return 0, 0, err
		}
		if u > 1<<63-1 {
			return 0, 0, ErrMalformed
		}
		return int64(u), n, nil
	case b >= neg1ByteMarker:
		return int64(b&0x3f) + neg1ByteMin, 1, nil
	case b >= neg2ByteMarker:
		if len(buf) < 2 {
			return 0, 0, ErrMalformed
		}
		return (int64(b&0x1f)<<8 | int64(buf[1])) + neg2ByteMin, 2, nil
	case b >= negMultiMarker:
		n := maxPayload - int(b&0x0f)
		if n <= 0 || len(buf) < 1+n {
			return 0, 0, ErrMalformed
		}
		u := ^uint64(0)
		for _, p := range buf[1 : 1+n] {
			u = u<<8 | uint64(p)
		}
		return int64(u), 1 + n, nil
	default:
		return 0, 0, ErrMalformed
	}
}

func payloadLen(x uint64) int {
	n := 1
	for x >>= 8; x != 0; x >>= 8 {
		n++
	}
	return n
}
