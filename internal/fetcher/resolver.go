package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxRedirectBody bounds the plain-text redirect response
const maxRedirectBody = 8 * 1024

// Resolver implements the indirect fetch strategy: the export's download
// link is split at its query separator, the query portion is POSTed as form
// data to the base URL, and the response body is the real media URL.
type Resolver struct {
	httpClient *http.Client
}

// NewResolver creates a resolver with a bounded request timeout
func NewResolver() *Resolver {
	return &Resolver{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Resolve exchanges an indirect download link for the direct media URL
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (string, error) {
	base, query, found := strings.Cut(rawURL, "?")
	if !found || query == "" {
		return "", fmt.Errorf("indirect link has no query portion: %s", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base, strings.NewReader(query))
	if err != nil {
		return "", fmt.Errorf("failed to create resolve request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to resolve download link: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("resolver returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRedirectBody))
	if err != nil {
		return "", fmt.Errorf("failed to read resolver response: %w", err)
	}

	target := strings.TrimSpace(string(body))
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		return "", errors.New("resolver response is not a URL")
	}
	return target, nil
}
