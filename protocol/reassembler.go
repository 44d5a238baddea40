// File: protocol/reassembler.go
// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Reassembler joins fragmented data frames into messages under a size ceiling.

package protocol

var errControlToReassembler = newProtocolError("control frame passed to reassembler")

// Message is a complete data message produced by the Reassembler.
// Payload is only valid until the next call to Push.
type Message struct {
	Opcode  Opcode
	Payload []byte
}

// IsText reports whether the message was sent as text.
func (m Message) IsText() bool { return m.Opcode == OpcodeText }

// Reassembler holds the partial message state of one connection.
// It is not safe for concurrent use.
type Reassembler struct {
	max    int64
	active bool
	opcode Opcode
	buf    []byte
}

// NewReassembler returns a reassembler enforcing maxMessage bytes per message.
// Non-positive maxMessage means DefaultMaxPayload.
func NewReassembler(maxMessage int64) *Reassembler {
	if maxMessage <= 0 {
		maxMessage = DefaultMaxPayload
	}
	return &Reassembler{max: maxMessage}
}

// Max returns the configured message ceiling.
func (r *Reassembler) Max() int64 { return r.max }

// InProgress reports whether a fragmented message is open.
func (r *Reassembler) InProgress() bool { return r.active }

// Buffered returns the number of bytes accumulated for the open message.
func (r *Reassembler) Buffered() int { return len(r.buf) }

// Push consumes one data frame. It returns the completed message and true
// when f finishes one. Control frames must be handled by the caller and are
// rejected here. After an error the partial state is discarded.
//
// An unfragmented message is returned without copying: its Payload aliases
// f.Payload. Fragments are copied into an internal buffer that is reused
// for the next message.
func (r *Reassembler) Push(f *Frame) (Message, bool, error) {
	if f.Opcode.IsControl() {
		return Message{}, false, errControlToReassembler
	}

	if !r.active {
		if f.Opcode == OpcodeContinuation {
			return Message{}, false, ErrUnexpectedContinuation
		}
		if int64(len(f.Payload)) > r.max {
			return Message{}, false, ErrMessageTooLarge
		}
		if f.Fin {
			return Message{Opcode: f.Opcode, Payload: f.Payload}, true, nil
		}
		r.active = true
		r.opcode = f.Opcode
		r.buf = append(r.buf[:0], f.Payload...)
		return Message{}, false, nil
	}

	if f.Opcode != OpcodeContinuation {
		r.Reset()
		return Message{}, false, ErrExpectedContinuation
	}
	if int64(len(r.buf))+int64(len(f.Payload)) > r.max {
		r.Reset()
		return Message{}, false, ErrMessageTooLarge
	}
	r.buf = append(r.buf, f.Payload...)
	if !f.Fin {
		return Message{}, false, nil
	}
	msg := Message{Opcode: r.opcode, Payload: r.buf}
	r.active = false
	r.buf = r.buf[:0]
	return msg, true, nil
}

// Reset drops any partial message.
func (r *Reassembler) Reset() {
	r.active = false
	r.opcode = 0
	r.buf = r.buf[:0]
}
