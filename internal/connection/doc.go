// Package connection implements the real-time socket client.
//
// A Socket speaks Socket.IO v5 over Engine.IO v4 and is pinned to the
// websocket transport:
//   - No long-polling, no transport upgrade probing
//   - Event listeners keyed by event name, fired in registration order
//   - Emits made while connecting are queued and flushed after the handshake
//   - Heartbeat pings are answered; a silent server closes the socket
//   - No reconnection: a closed Socket stays closed
package connection
