// Package protocol
// Author: momentics <momentics@gmail.com>
//
// WebSocket frame representation.
//
// A Frame is a transient parse result: its Payload aliases the buffer that
// was handed to DecodeFrame and is only valid until that buffer is reused.

package protocol

// Frame represents a decoded WebSocket frame.
type Frame struct {
	Fin     bool    // FIN bit
	Rsv     byte    // RSV1..RSV3 as the high nibble bits 0x70
	Opcode  Opcode  // Operation code
	Masked  bool    // Whether the frame was masked on the wire
	MaskKey [4]byte // Valid only when Masked
	Length  int64   // Declared payload length
	Payload []byte  // Unmasked view into the input buffer
}

// IsControl reports whether the frame is a close, ping or pong frame.
func (f *Frame) IsControl() bool { return f.Opcode.IsControl() }

// Role selects the masking policy of an endpoint. Servers require masked
// input and never mask output; clients do the opposite.
type Role uint8

const (
	RoleServer Role = iota
	RoleClient
)

func (r Role) String() string {
	if r == RoleClient {
		return "client"
	}
	return "server"
}

// masksOutbound reports whether frames written by this role carry a mask.
func (r Role) masksOutbound() bool { return r == RoleClient }

// HeaderLen returns the encoded header size for a payload of n bytes.
func HeaderLen(n int, masked bool) int {
	h := 2
	switch {
	case n > 0xFFFF:
		h += 8
	case n > MaxControlPayloadLen:
		h += 2
	}
	if masked {
		h += 4
	}
	return h
}
