// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Socket connection state and connect failures
//   - Events received and emitted, by event name
//   - Packets buffered while the socket is still connecting
//   - Documents API request counts and latencies
package metrics
