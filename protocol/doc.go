// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Implements the stateless WebSocket protocol logic (RFC 6455) for hioload-wsengine.
//
// Everything here operates on byte slices handed in by the caller and never
// touches a socket:
//   - Frame decoding/encoding over borrowed buffers, with in-place unmasking
//   - Message reassembly with a hard size ceiling
//   - Upgrade request validation and Sec-WebSocket-Accept computation
//   - Close frame payload parsing and construction
//
// Decoding is incremental: a buffer holding a partial frame yields
// ErrNeedMoreData and nothing is consumed, so the caller keeps the bytes and
// retries once the reactor delivers more.
package protocol
