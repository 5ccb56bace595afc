package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"time"

	agenterr "github.com/predixlabs/predix-agent/internal/errors"
)

type Client struct {
	httpClient *http.Client
	retries    int
	userAgent  string
}

func New(timeout time.Duration, retries int) *Client {
	if retries < 0 {
		retries = 0
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		retries:    retries,
		userAgent:  "predix-agent/1.0",
	}
}

// DoJSON issues req, retrying transient failures, and decodes the 2xx body
// into out. Not-found statuses surface as CodeNotFound so callers can fail
// soft on absent resources.
func (c *Client) DoJSON(ctx context.Context, req *http.Request, out any) (http.Header, error) {
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	header, buf, err := c.do(ctx, req)
	if err != nil {
		return header, err
	}
	if out == nil {
		return header, nil
	}
	if len(bytes.TrimSpace(buf)) == 0 {
		return header, agenterr.New(agenterr.CodeUnavailable, "upstream returned empty response")
	}
	if err := json.Unmarshal(buf, out); err != nil {
		return header, agenterr.Wrap(agenterr.CodeUnavailable, "decode upstream JSON", err)
	}
	return header, nil
}

// DoText issues req and returns the 2xx body verbatim. Used for the agent
// endpoint, which replies with plain text rather than JSON.
func (c *Client) DoText(ctx context.Context, req *http.Request) (string, error) {
	_, buf, err := c.do(ctx, req)
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

func (c *Client) do(ctx context.Context, req *http.Request) (http.Header, []byte, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, nil, agenterr.Wrap(agenterr.CodeUnavailable, "request cancelled", ctx.Err())
			case <-time.After(backoff(attempt)):
			}
		}

		cloneReq := req.Clone(ctx)
		if req.Body != nil && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, nil, agenterr.Wrap(agenterr.CodeInternal, "clone request body", err)
			}
			cloneReq.Body = body
		}

		resp, err := c.httpClient.Do(cloneReq)
		if err != nil {
			lastErr = mapNetError(err)
			if attempt < c.retries {
				continue
			}
			return nil, nil, lastErr
		}

		buf, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return resp.Header, nil, agenterr.Wrap(agenterr.CodeUnavailable, "read upstream response", readErr)
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = agenterr.New(agenterr.CodeRateLimited, "upstream rate limited request")
			if attempt < c.retries {
				continue
			}
			return resp.Header, nil, lastErr
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return resp.Header, nil, agenterr.New(agenterr.CodeAuth, "upstream authentication failed")
		case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
			return resp.Header, nil, agenterr.New(agenterr.CodeNotFound, "upstream resource not found")
		case resp.StatusCode >= http.StatusInternalServerError:
			lastErr = agenterr.New(agenterr.CodeUnavailable, fmt.Sprintf("upstream unavailable (status %d)", resp.StatusCode))
			if attempt < c.retries {
				continue
			}
			return resp.Header, nil, lastErr
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			return resp.Header, nil, agenterr.New(agenterr.CodeUnsupported, fmt.Sprintf("upstream returned unexpected status %d", resp.StatusCode))
		}

		return resp.Header, buf, nil
	}

	if lastErr != nil {
		return nil, nil, lastErr
	}
	return nil, nil, agenterr.New(agenterr.CodeUnavailable, "request failed")
}

// DoBodyJSON builds a request with an optional JSON body and decodes the
// JSON response into out.
func DoBodyJSON(ctx context.Context, c *Client, method, url string, body []byte, headers map[string]string, out any) (http.Header, error) {
	req, err := buildRequest(ctx, method, url, body, headers)
	if err != nil {
		return nil, err
	}
	return c.DoJSON(ctx, req, out)
}

// DoBodyText builds a request with an optional JSON body and returns the
// plain-text response.
func DoBodyText(ctx context.Context, c *Client, method, url string, body []byte, headers map[string]string) (string, error) {
	req, err := buildRequest(ctx, method, url, body, headers)
	if err != nil {
		return "", err
	}
	return c.DoText(ctx, req)
}

func buildRequest(ctx context.Context, method, url string, body []byte, headers map[string]string) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, agenterr.Wrap(agenterr.CodeInternal, "build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func mapNetError(err error) error {
	if nerr, ok := err.(net.Error); ok {
		if nerr.Timeout() {
			return agenterr.Wrap(agenterr.CodeUnavailable, "upstream timeout", err)
		}
	}
	return agenterr.Wrap(agenterr.CodeUnavailable, "upstream request failed", err)
}

func backoff(attempt int) time.Duration {
	base := 120 * time.Millisecond
	d := base * time.Duration(1<<uint(attempt-1))
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	jitter := time.Duration(rand.Intn(75)) * time.Millisecond
	return d + jitter
}
