// File: protocol/mask.go
// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Payload masking (RFC 6455 §5.3).

package protocol

import (
	"crypto/rand"
	"encoding/binary"
)

// MaskInPlace XORs buf with key starting at key offset pos and returns the
// offset to continue with for the next chunk of the same payload. Masking
// and unmasking are the same operation.
func MaskInPlace(buf []byte, key [4]byte, pos int) int {
	pos &= 3
	i := 0
	// Align to the key so the 8-byte loop can use a fixed pattern.
	for ; i < len(buf) && pos != 0; i++ {
		buf[i] ^= key[pos]
		pos = (pos + 1) & 3
	}
	if rem := len(buf) - i; rem >= 8 {
		k32 := binary.LittleEndian.Uint32(key[:])
		k64 := uint64(k32) | uint64(k32)<<32
		for ; len(buf)-i >= 8; i += 8 {
			v := binary.LittleEndian.Uint64(buf[i:])
			binary.LittleEndian.PutUint64(buf[i:], v^k64)
		}
	}
	for ; i < len(buf); i++ {
		buf[i] ^= key[pos]
		pos = (pos + 1) & 3
	}
	return pos
}

// NewMaskKey returns a random masking key.
func NewMaskKey() [4]byte {
	var k [4]byte
	if _, err := rand.Read(k[:]); err != nil {
		// crypto/rand does not fail on supported platforms.
		panic("protocol: mask key: " + err.Error())
	}
	return k
}
