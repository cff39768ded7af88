// Package objectstore uploads photo evidence to a Supabase-compatible
// object storage API.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/couchcryptid/resqnet-dispatch/internal/domain"
	"github.com/couchcryptid/resqnet-dispatch/internal/observability"
)

// Uploader stores objects under a single bucket and returns their public URLs.
type Uploader struct {
	baseURL    string
	bucket     string
	token      string
	httpClient *http.Client
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewUploader creates an Uploader for the storage API at baseURL.
func NewUploader(baseURL, bucket, token string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Uploader {
	return &Uploader{
		baseURL:    strings.TrimRight(baseURL, "/"),
		bucket:     bucket,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		metrics:    metrics,
		logger:     logger,
	}
}

// Upload writes data under key, overwriting any previous object, and returns
// the public URL. Every failure is a *domain.UploadError.
func (u *Uploader) Upload(ctx context.Context, key string, data []byte) (string, error) {
	objectPath := url.PathEscape(u.bucket) + "/" + escapeKey(key)
	endpoint := u.baseURL + "/storage/v1/object/" + objectPath

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", u.fail(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", http.DetectContentType(data))
	req.Header.Set("x-upsert", "true")
	if u.token != "" {
		req.Header.Set("Authorization", "Bearer "+u.token)
	}

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return "", u.fail(fmt.Errorf("upload %s: %w", key, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", u.fail(fmt.Errorf("upload %s: status %d: %s", key, resp.StatusCode, strings.TrimSpace(string(body))))
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	u.metrics.MediaUploads.WithLabelValues("success").Inc()
	publicURL := u.baseURL + "/storage/v1/object/public/" + objectPath
	u.logger.Debug("photo uploaded", "key", key, "bytes", len(data))
	return publicURL, nil
}

func (u *Uploader) fail(err error) error {
	u.metrics.MediaUploads.WithLabelValues("error").Inc()
	return &domain.UploadError{Err: err}
}

// escapeKey escapes each path segment, keeping "/" separators.
func escapeKey(key string) string {
	parts := strings.Split(strings.TrimLeft(key, "/"), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
