// Package api provides the REST client for the document chat backend.
//
// Endpoints (relative to the API base URL):
//   - GET  /api/v1/health
//   - POST /api/v1/documents (multipart: file, title)
//
// Requests carry the caller's identity in the X-User-Id header. Server errors
// and rate limiting are retried with jittered exponential backoff.
package api
