package m3u

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

// Fetch downloads the playlist at url and parses it. userAgent is optional.
func Fetch(ctx context.Context, url, userAgent string, timeout time.Duration) ([]Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("NewRequest: %w", err)
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return Parse(resp.Body)
}

// Load reads a playlist from an http(s) URL or a local file path.
func Load(ctx context.Context, src, userAgent string, timeout time.Duration) ([]Entry, error) {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		return Fetch(ctx, src, userAgent, timeout)
	}
	f, err := os.Open(src)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}
