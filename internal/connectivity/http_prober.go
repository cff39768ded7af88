package connectivity

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPProber checks reachability with GET {server}/healthz.
type HTTPProber struct {
	url        string
	httpClient *http.Client
}

// NewHTTPProber creates a prober against the given server base URL.
func NewHTTPProber(serverURL string, timeout time.Duration) *HTTPProber {
	return &HTTPProber{
		url:        strings.TrimRight(serverURL, "/") + "/healthz",
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Probe returns nil when the health endpoint answers with a 2xx status.
func (p *HTTPProber) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, http.NoBody)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", p.url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("probe %s: status %d", p.url, resp.StatusCode)
	}
	return nil
}
