// File: protocol/close.go
// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Close frame payload handling (RFC 6455 §5.5.1).

package protocol

import (
	"encoding/binary"
	"unicode/utf8"
)

// ParseClosePayload extracts the status code and reason from a close frame
// payload. An empty payload yields CloseNoStatusRcvd. A one-byte payload, a
// code that may not be sent on the wire, or a reason that is not UTF-8 are
// protocol errors.
func ParseClosePayload(p []byte) (CloseCode, string, error) {
	switch len(p) {
	case 0:
		return CloseNoStatusRcvd, "", nil
	case 1:
		return 0, "", ErrInvalidClosePayload
	}
	code := CloseCode(binary.BigEndian.Uint16(p))
	if !code.Sendable() {
		return code, "", ErrInvalidClosePayload
	}
	reason := p[2:]
	if !utf8.Valid(reason) {
		return code, "", ErrInvalidClosePayload
	}
	return code, string(reason), nil
}

// AppendClosePayload appends the payload of a close frame. The reason is
// truncated so the payload fits a control frame.
func AppendClosePayload(dst []byte, code CloseCode, reason string) []byte {
	if len(reason) > MaxControlPayloadLen-2 {
		reason = truncateUTF8(reason, MaxControlPayloadLen-2)
	}
	dst = append(dst, byte(code>>8), byte(code))
	return append(dst, reason...)
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
