// Package modbus parses and rewrites the fixed Modbus/TCP application
// header. It is pure and allocation-light on the parse path; the only
// allocation happens on RewriteTID, which is rare (mismatch + rewrite
// policy only).
package modbus

import "encoding/binary"

// HeaderLen is the number of bytes in the Modbus/TCP application header
// (transaction id, protocol id, length, unit id), not counting the
// function code byte that follows it.
const HeaderLen = 7

// Header is the parsed view of a Modbus/TCP application header.
type Header struct {
	TID  uint16
	PID  uint16
	Len  uint16
	UID  uint8
	Func uint8
}

// ParseHeader extracts the fixed 7-byte header plus function code from
// buf. ok is false if buf is too short to hold a header and function
// code (< 8 bytes); callers must treat the frame as unparsed and skip
// any header-dependent logic.
func ParseHeader(buf []byte) (h Header, ok bool) {
	if len(buf) < HeaderLen+1 {
		return Header{}, false
	}
	h.TID = binary.BigEndian.Uint16(buf[0:2])
	h.PID = binary.BigEndian.Uint16(buf[2:4])
	h.Len = binary.BigEndian.Uint16(buf[4:6])
	h.UID = buf[6]
	h.Func = buf[7]
	return h, true
}

// RewriteTID returns a new buffer with bytes 0-1 replaced by the
// big-endian encoding of tid. Bytes 2..end are copied verbatim. buf is
// never mutated. The caller is responsible for ensuring len(buf) >= 2;
// this is always true for any buffer that ParseHeader reported as
// parseable.
func RewriteTID(buf []byte, tid uint16) []byte {
	out := make([]byte, len(buf))
	copy(out, buf)
	binary.BigEndian.PutUint16(out[0:2], tid)
	return out
}
