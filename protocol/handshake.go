// File: protocol/handshake.go
// Package protocol implements the core WebSocket handshake logic.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Validates the upgrade request headers, computes Sec-WebSocket-Accept and
// builds the 101 Switching Protocols response descriptor. Nothing here reads
// from or writes to a socket.

package protocol

import (
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Constants used for handshake processing.
const (
	WebSocketGUID            = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"
	HeaderConnection         = "Connection"
	HeaderUpgrade            = "Upgrade"
	HeaderSecWebSocketKey    = "Sec-WebSocket-Key"
	HeaderSecWebSocketVer    = "Sec-WebSocket-Version"
	HeaderSecWebSocketAccept = "Sec-WebSocket-Accept"
	HeaderSecWebSocketProto  = "Sec-WebSocket-Protocol"
	RequiredWebSocketVersion = "13"
	MaxHandshakeHeadersSize  = 8192
)

// HandshakeRequest carries the parts of an upgrade request the validator
// looks at. The HTTP layer fills it from whatever request type it parsed.
type HandshakeRequest struct {
	Method     string
	Upgrade    string
	Connection string
	Key        string
	Version    string
	// Protocols lists the offered subprotocols in client preference order.
	Protocols []string
}

// HandshakeResponse describes the 101 response to send.
type HandshakeResponse struct {
	StatusCode  int
	Header      http.Header
	Subprotocol string
}

// SubprotocolSelector picks one of the offered subprotocols. Returning
// ok=false means none is acceptable and the header is omitted.
type SubprotocolSelector func(offered []string) (selected string, ok bool)

// SelectFirstSupported returns a selector choosing the first offered
// subprotocol that appears in supported.
func SelectFirstSupported(supported ...string) SubprotocolSelector {
	return func(offered []string) (string, bool) {
		for _, o := range offered {
			for _, s := range supported {
				if o == s {
					return o, true
				}
			}
		}
		return "", false
	}
}

func rejected(reason string) error {
	return &HandshakeError{Reason: reason}
}

// ValidateHandshake checks req and returns the response descriptor on
// success. Every failure satisfies errors.Is(err, ErrHandshakeRejected).
// selector may be nil, in which case no subprotocol is negotiated.
func ValidateHandshake(req HandshakeRequest, selector SubprotocolSelector) (*HandshakeResponse, error) {
	if req.Method != http.MethodGet {
		return nil, rejected(fmt.Sprintf("method %q is not GET", req.Method))
	}
	if !strings.EqualFold(strings.TrimSpace(req.Upgrade), "websocket") {
		return nil, rejected("Upgrade header does not request websocket")
	}
	if !containsToken(req.Connection, "Upgrade") {
		return nil, rejected("Connection header lacks the Upgrade token")
	}
	if strings.TrimSpace(req.Version) != RequiredWebSocketVersion {
		hdr := make(http.Header)
		hdr.Set(HeaderSecWebSocketVer, RequiredWebSocketVersion)
		return nil, &HandshakeError{
			Reason: fmt.Sprintf("unsupported version %q; only %s is supported", req.Version, RequiredWebSocketVersion),
			Header: hdr,
		}
	}
	key := strings.TrimSpace(req.Key)
	if key == "" {
		return nil, rejected("missing Sec-WebSocket-Key header")
	}

	resp := &HandshakeResponse{
		StatusCode: http.StatusSwitchingProtocols,
		Header:     make(http.Header, 4),
	}
	resp.Header.Set(HeaderUpgrade, "websocket")
	resp.Header.Set(HeaderConnection, "Upgrade")
	resp.Header.Set(HeaderSecWebSocketAccept, ComputeAcceptKey(key))

	if selector != nil && len(req.Protocols) > 0 {
		if p, ok := selector(req.Protocols); ok {
			resp.Subprotocol = p
			resp.Header.Set(HeaderSecWebSocketProto, p)
		}
	}
	return resp, nil
}

// ComputeAcceptKey computes the Sec-WebSocket-Accept value from the client's key.
// This implements the algorithm specified in RFC6455 Section 1.3.
func ComputeAcceptKey(clientKey string) string {
	hash := sha1.Sum([]byte(clientKey + WebSocketGUID))
	return base64.StdEncoding.EncodeToString(hash[:])
}

// WriteTo writes the HTTP/1.1 101 Switching Protocols response.
func (r *HandshakeResponse) WriteTo(w io.Writer) (int64, error) {
	var sb strings.Builder
	sb.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	if err := r.Header.Write(&sb); err != nil {
		return 0, err
	}
	sb.WriteString("\r\n")
	n, err := io.WriteString(w, sb.String())
	return int64(n), err
}

// containsToken checks if a comma-separated header value contains token (case-insensitive).
func containsToken(headerValue, token string) bool {
	for _, p := range strings.Split(headerValue, ",") {
		if strings.EqualFold(strings.TrimSpace(p), token) {
			return true
		}
	}
	return false
}

// splitTokens splits comma-separated header values into trimmed, non-empty tokens.
func splitTokens(values []string) []string {
	var out []string
	for _, v := range values {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
