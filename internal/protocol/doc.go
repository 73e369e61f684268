// Package protocol implements the wire codecs spoken by the real-time socket.
//
// Two layers are encoded here:
//   - Engine.IO v4: the transport framing (open, close, ping, pong, message).
//     Only the websocket transport is supported, so every text frame carries
//     exactly one Engine.IO packet.
//   - Socket.IO v5: the namespaced event protocol carried inside Engine.IO
//     message packets (connect, disconnect, event, ack, connect_error).
//
// Binary attachments are decoded far enough to be recognised and rejected.
package protocol
