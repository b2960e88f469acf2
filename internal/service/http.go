package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const maxBody = 4 << 20

// DefaultHTTPClient is used by clients constructed without one.
func DefaultHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// GetJSON performs a GET and decodes a JSON body into out. Transport errors
// and non-2xx statuses map to ErrUnavailable (404 maps to ErrNotFound);
// decode failures map to ErrMalformed.
func GetJSON(ctx context.Context, hc *http.Client, url string, header http.Header, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return doJSON(hc, req, header, out)
}

// PostJSON encodes in as the request body and decodes the reply like GetJSON.
func PostJSON(ctx context.Context, hc *http.Client, url string, header http.Header, in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return doJSON(hc, req, header, out)
}

func doJSON(hc *http.Client, req *http.Request, header http.Header, out any) error {
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	m := req.Method
	resp, err := hc.Do(req)
	if err != nil {
		return Unavailable(err, "%s %s", m, req.URL.Path)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return Unavailable(err, "read %s", req.URL.Path)
	}
	if resp.StatusCode == http.StatusNotFound {
		return NotFound("%s %s: status 404", m, req.URL.Path)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return &Throttled{Path: req.URL.Path, After: retryAfter(resp.Header.Get("Retry-After"))}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Unavailable(nil, "%s %s: status %d", m, req.URL.Path, resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return Malformed(err, "decode %s", req.URL.Path)
	}
	return nil
}

// retryAfter reads a Retry-After header in seconds. Dates and garbage fall
// back to a minute.
func retryAfter(v string) time.Duration {
	if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n >= 0 {
		return time.Duration(n) * time.Second
	}
	return time.Minute
}
