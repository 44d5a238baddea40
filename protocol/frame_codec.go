// File: protocol/frame_codec.go
// Package protocol implements zero-copy frame codec with frame size enforcement.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Implements WebSocket frame encoding/decoding with payload size limits
// to prevent resource exhaustion from hostile peers.

package protocol

import (
	"encoding/binary"
	"math"
)

// DefaultMaxPayload is used when a Codec has no explicit limit.
const DefaultMaxPayload = 1 << 20 // 1 MiB

// Codec decodes and encodes frames for one endpoint role.
// The zero value is a server codec with DefaultMaxPayload.
type Codec struct {
	Role Role
	// MaxPayload bounds data frame payloads. Non-positive means DefaultMaxPayload.
	MaxPayload int64
}

func (c Codec) limit() int64 {
	if c.MaxPayload <= 0 {
		return DefaultMaxPayload
	}
	return c.MaxPayload
}

// DecodeFrame parses one frame from the front of buf.
//
// It returns the frame and the number of bytes it occupies. When buf holds
// an incomplete frame it returns ErrNeedMoreData and consumes nothing.
// Header violations are reported as soon as the header bytes are present,
// so an oversized or malformed frame never causes payload buffering.
//
// A masked payload is unmasked in place: buf is modified.
func (c Codec) DecodeFrame(buf []byte) (Frame, int, error) {
	var f Frame
	if len(buf) < 2 {
		return f, 0, ErrNeedMoreData
	}
	b0, b1 := buf[0], buf[1]

	f.Fin = b0&FinBit != 0
	f.Rsv = b0 & RsvBits
	f.Opcode = Opcode(b0 & OpcodeBits)
	f.Masked = b1&MaskBit != 0

	if f.Rsv != 0 {
		return f, 0, ErrReservedBits
	}
	if f.Opcode.IsReserved() {
		return f, 0, ErrReservedOpcode
	}
	if f.Opcode.IsControl() && !f.Fin {
		return f, 0, ErrControlFragmented
	}
	switch {
	case c.Role == RoleServer && !f.Masked:
		return f, 0, ErrMaskRequired
	case c.Role == RoleClient && f.Masked:
		return f, 0, ErrMaskUnexpected
	}

	offset := 2
	length := int64(b1 & LenBits)
	switch length {
	case len16Marker:
		if len(buf) < offset+2 {
			return f, 0, ErrNeedMoreData
		}
		length = int64(binary.BigEndian.Uint16(buf[offset:]))
		offset += 2
		if length <= MaxControlPayloadLen {
			return f, 0, ErrInvalidLength
		}
	case len64Marker:
		if len(buf) < offset+8 {
			return f, 0, ErrNeedMoreData
		}
		u := binary.BigEndian.Uint64(buf[offset:])
		if u > math.MaxInt64 || u <= 0xFFFF {
			return f, 0, ErrInvalidLength
		}
		length = int64(u)
		offset += 8
	}

	if f.Opcode.IsControl() {
		if length > MaxControlPayloadLen {
			return f, 0, ErrControlTooLarge
		}
	} else if length > c.limit() {
		return f, 0, ErrMessageTooLarge
	}
	f.Length = length

	if f.Masked {
		if len(buf) < offset+4 {
			return f, 0, ErrNeedMoreData
		}
		copy(f.MaskKey[:], buf[offset:offset+4])
		offset += 4
	}

	if int64(len(buf)-offset) < length {
		return f, 0, ErrNeedMoreData
	}
	end := offset + int(length)
	f.Payload = buf[offset:end:end]
	if f.Masked {
		MaskInPlace(f.Payload, f.MaskKey, 0)
	}
	return f, end, nil
}

// AppendFrame appends one encoded frame to dst and returns the extended
// slice. Client codecs mask the copied payload with a fresh random key;
// payload itself is never modified.
func (c Codec) AppendFrame(dst []byte, op Opcode, payload []byte, fin bool) []byte {
	mask := c.Role.masksOutbound()
	n := len(payload)

	b0 := byte(op) & OpcodeBits
	if fin {
		b0 |= FinBit
	}
	var maskBit byte
	if mask {
		maskBit = MaskBit
	}

	switch {
	case n <= MaxControlPayloadLen:
		dst = append(dst, b0, byte(n)|maskBit)
	case n <= 0xFFFF:
		dst = append(dst, b0, len16Marker|maskBit, 0, 0)
		binary.BigEndian.PutUint16(dst[len(dst)-2:], uint16(n))
	default:
		dst = append(dst, b0, len64Marker|maskBit, 0, 0, 0, 0, 0, 0, 0, 0)
		binary.BigEndian.PutUint64(dst[len(dst)-8:], uint64(n))
	}

	if !mask {
		return append(dst, payload...)
	}
	key := NewMaskKey()
	dst = append(dst, key[:]...)
	start := len(dst)
	dst = append(dst, payload...)
	MaskInPlace(dst[start:], key, 0)
	return dst
}

// EncodeFrame serializes a single frame into a freshly allocated slice.
func (c Codec) EncodeFrame(op Opcode, payload []byte, fin bool) []byte {
	dst := make([]byte, 0, HeaderLen(len(payload), c.Role.masksOutbound())+len(payload))
	return c.AppendFrame(dst, op, payload, fin)
}

// AppendMessage appends a complete data message, split into frames of at
// most fragmentSize payload bytes. fragmentSize <= 0 emits a single frame.
// The first frame carries op; the rest are continuations.
func (c Codec) AppendMessage(dst []byte, op Opcode, payload []byte, fragmentSize int) []byte {
	if fragmentSize <= 0 || len(payload) <= fragmentSize {
		return c.AppendFrame(dst, op, payload, true)
	}
	for len(payload) > 0 {
		n := fragmentSize
		if n > len(payload) {
			n = len(payload)
		}
		dst = c.AppendFrame(dst, op, payload[:n], n == len(payload))
		payload = payload[n:]
		op = OpcodeContinuation
	}
	return dst
}
