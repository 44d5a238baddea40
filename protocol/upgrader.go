// File: protocol/upgrader.go
// Package protocol implements HTTP→WebSocket handshake logic with strict validation.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// UpgradeToWebSocket adapts a net/http request to the handshake validator,
// enforcing a limit on the combined header size first.

package protocol

import (
	"fmt"
	"net/http"
	"strings"
)

// UpgradeToWebSocket performs the WebSocket handshake validation and header generation.
func UpgradeToWebSocket(r *http.Request, selector SubprotocolSelector) (*HandshakeResponse, error) {
	// Enforce maximum header size to mitigate header flooding.
	total := 0
	for k, vs := range r.Header {
		total += len(k)
		for _, v := range vs {
			total += len(v)
		}
		if total > MaxHandshakeHeadersSize {
			return nil, rejected(fmt.Sprintf("headers exceed %d bytes", MaxHandshakeHeadersSize))
		}
	}

	return ValidateHandshake(HandshakeRequest{
		Method:     r.Method,
		Upgrade:    strings.Join(r.Header.Values(HeaderUpgrade), ","),
		Connection: strings.Join(r.Header.Values(HeaderConnection), ","),
		Key:        r.Header.Get(HeaderSecWebSocketKey),
		Version:    r.Header.Get(HeaderSecWebSocketVer),
		Protocols:  splitTokens(r.Header.Values(HeaderSecWebSocketProto)),
	}, selector)
}
