package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// StatusError is returned for non-2xx responses so callers can map specific
// status codes (404 vs transport failures) onto their own error kinds.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s", e.Status, e.Body)
}

// Client is a JSON HTTP client with bounded retries and exponential backoff.
// Retries apply to transport errors and 5xx responses only; 4xx responses are
// returned immediately since they indicate a non-transient input problem.
type Client struct {
	client  *http.Client
	retries int
	backoff time.Duration
}

func New(timeout time.Duration, retries int, backoff time.Duration) *Client {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if retries < 0 {
		retries = 0
	}
	if backoff == 0 {
		backoff = 300 * time.Millisecond
	}
	return &Client{client: &http.Client{Timeout: timeout}, retries: retries, backoff: backoff}
}

// GetJSON issues a GET and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, url string, headers map[string]string, out any) error {
	return c.DoJSON(ctx, http.MethodGet, url, headers, nil, out)
}

// DoJSON sends an optional JSON body and decodes the JSON response into out.
func (c *Client) DoJSON(ctx context.Context, method, url string, headers map[string]string, body any, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = b
	}

	var lastErr error
	tries := c.retries + 1
	for attempt := 0; attempt < tries; attempt++ {
		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return err
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		if payload != nil && req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
		} else {
			done, err := consume(resp, out)
			if done {
				return err
			}
			lastErr = err
		}

		if attempt < tries-1 {
			select {
			case <-time.After(c.backoff * time.Duration(1<<attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}

// consume reads one response. It reports done=true when the result is final
// (success or non-retryable status) and the loop should stop.
func consume(resp *http.Response, out any) (done bool, err error) {
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return true, nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return true, err
		}
		return true, nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	serr := &StatusError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(b)}
	// 4xx is final, 5xx is worth another attempt
	return resp.StatusCode < 500, serr
}
