// Package health probes the health endpoint of registered services.
package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Timeout bounds a single health probe.
const Timeout = 5 * time.Second

// HTTPChecker issues GET requests against service health URLs. Any 2xx response is healthy.
type HTTPChecker struct {
	Client *http.Client
}

// NewHTTPChecker returns a checker using a client bounded by Timeout.
func NewHTTPChecker() *HTTPChecker {
	return &HTTPChecker{Client: &http.Client{Timeout: Timeout}}
}

// Check returns nil when url answers with a 2xx status within Timeout.
func (c *HTTPChecker) Check(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health check %s: status %d", url, resp.StatusCode)
	}
	return nil
}
