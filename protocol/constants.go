// File: protocol/constants.go
// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// WebSocket wire protocol constants.

package protocol

// Opcode is the 4-bit frame type.
type Opcode byte

const (
	OpcodeContinuation Opcode = 0x0
	OpcodeText         Opcode = 0x1
	OpcodeBinary       Opcode = 0x2
	OpcodeClose        Opcode = 0x8
	OpcodePing         Opcode = 0x9
	OpcodePong         Opcode = 0xA
)

// IsControl reports whether op is a control opcode (close/ping/pong).
func (op Opcode) IsControl() bool { return op&0x8 != 0 }

// IsData reports whether op starts a data message.
func (op Opcode) IsData() bool { return op == OpcodeText || op == OpcodeBinary }

// IsReserved reports whether op is one of the unassigned opcodes 0x3-0x7, 0xB-0xF.
func (op Opcode) IsReserved() bool {
	switch op {
	case OpcodeContinuation, OpcodeText, OpcodeBinary, OpcodeClose, OpcodePing, OpcodePong:
		return false
	}
	return true
}

func (op Opcode) String() string {
	switch op {
	case OpcodeContinuation:
		return "continuation"
	case OpcodeText:
		return "text"
	case OpcodeBinary:
		return "binary"
	case OpcodeClose:
		return "close"
	case OpcodePing:
		return "ping"
	case OpcodePong:
		return "pong"
	default:
		return "reserved"
	}
}

const (
	// Frame limit settings
	MaxControlPayloadLen = 125
	MaxFrameHeaderLen    = 14 // 2 + 8 extended length + 4 mask key

	// Bit masks
	FinBit     = 0x80
	RsvBits    = 0x70
	OpcodeBits = 0x0F
	MaskBit    = 0x80
	LenBits    = 0x7F

	len16Marker = 126
	len64Marker = 127
)

// CloseCode is a close frame status code (RFC 6455 §7.4).
type CloseCode uint16

const (
	CloseNormalClosure      CloseCode = 1000
	CloseGoingAway          CloseCode = 1001
	CloseProtocolError      CloseCode = 1002
	CloseUnsupportedData    CloseCode = 1003
	CloseNoStatusRcvd       CloseCode = 1005
	CloseAbnormalClosure    CloseCode = 1006
	CloseInvalidPayloadData CloseCode = 1007
	ClosePolicyViolation    CloseCode = 1008
	CloseMessageTooBig      CloseCode = 1009
	CloseMissingExtension   CloseCode = 1010
	CloseInternalServerErr  CloseCode = 1011
	CloseServiceRestart     CloseCode = 1012
	CloseTryAgainLater      CloseCode = 1013
	CloseBadGateway         CloseCode = 1014
	CloseTLSHandshake       CloseCode = 1015
)

// Sendable reports whether code may appear on the wire. 1005, 1006 and
// 1015 are reserved for local reporting only.
func (c CloseCode) Sendable() bool {
	switch {
	case c >= 1000 && c <= 1003:
		return true
	case c >= 1007 && c <= 1014:
		return true
	case c >= 3000 && c <= 4999:
		return true
	}
	return false
}
