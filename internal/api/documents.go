package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrNoFile is returned when an upload has no content source.
var ErrNoFile = errors.New("upload requires a file body")

// HealthStatus is the body of GET /api/v1/health.
type HealthStatus struct {
	OK bool `json:"ok"`
}

// UploadRequest describes a document to ingest.
type UploadRequest struct {
	Filename    string
	Title       string // Optional; the server falls back to the filename
	ContentType string // Defaults to application/pdf
	Body        io.Reader
}

type uploadResponse struct {
	DocumentID string `json:"document_id"`
}

// Health reports whether the backend is up.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	var status HealthStatus
	if err := c.get(ctx, "/api/v1/health", "health", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// UploadDocument sends a document for ingestion and returns its id.
func (c *Client) UploadDocument(ctx context.Context, up UploadRequest) (uuid.UUID, error) {
	if up.Body == nil {
		return uuid.Nil, ErrNoFile
	}

	body, contentType, err := encodeUpload(up)
	if err != nil {
		return uuid.Nil, err
	}

	resp, err := c.doWithRetry(ctx, request{
		method:      http.MethodPost,
		path:        "/api/v1/documents",
		endpoint:    "upload_document",
		body:        body,
		contentType: contentType,
	})
	if err != nil {
		return uuid.Nil, err
	}

	var out uploadResponse
	if err := json.Unmarshal(resp, &out); err != nil {
		return uuid.Nil, fmt.Errorf("unmarshal response: %w", err)
	}
	id, err := uuid.Parse(out.DocumentID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse document_id %q: %w", out.DocumentID, err)
	}

	c.logger.Debug("document uploaded", "document_id", id, "filename", up.Filename)
	return id, nil
}

// encodeUpload renders the multipart form once so retries can replay it.
func encodeUpload(up UploadRequest) ([]byte, string, error) {
	filename := filepath.Base(up.Filename)
	if up.Filename == "" {
		filename = "document.pdf"
	}
	contentType := up.ContentType
	if contentType == "" {
		contentType = "application/pdf"
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(filename)))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := io.Copy(part, up.Body); err != nil {
		return nil, "", fmt.Errorf("read upload body: %w", err)
	}

	if up.Title != "" {
		if err := w.WriteField("title", up.Title); err != nil {
			return nil, "", fmt.Errorf("write title: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart: %w", err)
	}

	return buf.Bytes(), w.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
