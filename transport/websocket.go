// Package transport provides alternative net.Conn-compatible dial
// paths for connecting to an MQTT broker, for use where a raw TCP/TLS
// net.Conn would otherwise be handed to mq.NewSession.
package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/gorilla/websocket"
)

// WebSocketDialer dials an MQTT-over-WebSocket broker and adapts the
// resulting connection to net.Conn, so it can be handed directly to
// mq.NewSession in place of a raw TCP/TLS net.Conn.
//
// MQTT-over-WebSocket brokers expect the "mqtt" subprotocol; Subprotocol
// defaults to that when empty.
type WebSocketDialer struct {
	// Subprotocol is the Sec-WebSocket-Protocol value to negotiate.
	// Defaults to "mqtt" when empty.
	Subprotocol string
	// Header carries extra HTTP headers for the upgrade request (for
	// example Authorization).
	Header http.Header
}

// DialContext dials address (a ws:// or wss:// URL) and returns a
// net.Conn backed by the WebSocket connection's binary message stream.
func (d *WebSocketDialer) DialContext(ctx context.Context, _, address string) (net.Conn, error) {
	sub := d.Subprotocol
	if sub == "" {
		sub = "mqtt"
	}

	dialer := websocket.Dialer{Subprotocols: []string{sub}}
	wsConn, resp, err := dialer.DialContext(ctx, address, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("transport: websocket dial to %s failed (status %s): %w", address, resp.Status, err)
		}
		return nil, fmt.Errorf("transport: websocket dial to %s failed: %w", address, err)
	}

	return websocket.NetConn(ctx, wsConn, websocket.BinaryMessage), nil
}
