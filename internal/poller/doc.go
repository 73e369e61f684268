// Package poller implements the backend health poller.
//
// The poller:
//   - Calls GET /api/v1/health on a fixed interval, starting immediately
//   - Publishes the result as the docchat_api_up gauge
//   - Reports transitions between up and down to a callback
package poller
