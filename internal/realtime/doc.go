// Package realtime owns the process-wide real-time connection to the backend.
//
// Every caller of Acquire shares one Socket, created on first use and pointed
// at the configured WebSocket base URL. The socket connects in the background;
// listeners may be registered and events emitted immediately. Emits made
// before the handshake completes are queued and flushed in order.
//
// There is no reconnection. Once the shared socket disconnects it stays
// closed for the life of the process.
package realtime
