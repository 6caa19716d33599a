package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// WakePath is the endpoint peers expose for HTTP wakes.
const WakePath = "/v1/scheduler/wake"

// HTTPClient broadcasts wakes by POSTing to each peer's WakePath.
type HTTPClient struct {
	client  *http.Client
	timeout time.Duration
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPClient sets the underlying http.Client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPClient) {
		if c != nil {
			h.client = c
		}
	}
}

// WithRequestTimeout bounds each per-peer request.
func WithRequestTimeout(d time.Duration) HTTPOption {
	return func(h *HTTPClient) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// NewHTTPClient creates an HTTPClient.
func NewHTTPClient(opts ...HTTPOption) *HTTPClient {
	h := &HTTPClient{
		client:  http.DefaultClient,
		timeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// BroadcastWake POSTs to every peer concurrently and joins the failures.
func (h *HTTPClient) BroadcastWake(ctx context.Context, peers []string) error {
	if len(peers) == 0 {
		return nil
	}

	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	for _, peer := range peers {
		wg.Add(1)
		go func(peer string) {
			defer wg.Done()
			if err := h.wake(ctx, peer); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(peer)
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (h *HTTPClient) wake(ctx context.Context, peer string) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	url := strings.TrimRight(peer, "/") + WakePath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("periodic/notify: wake %s: %w", peer, err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("periodic/notify: wake %s: %w", peer, err)
	}
	resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("periodic/notify: wake %s: status %d", peer, resp.StatusCode)
	}
	return nil
}
