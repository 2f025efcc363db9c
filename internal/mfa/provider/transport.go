// Package provider holds the outbound edge of the console: the JSON
// transport, identity-platform endpoint construction, and the user
// lookup collaborator. Nothing here interprets protocol state, callers
// get the raw status and body back and classify failures themselves.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/curtismu7/mfa-console/internal/mfa/tracker"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxAttempts = 3
	bodySampleLimit    = 2048
)

// Reply is one finished exchange. A non-2xx status is not an error at
// this layer; only failures to complete the exchange at all are.
type Reply struct {
	Status int
	Body   []byte
	Header http.Header
}

func (r *Reply) OK() bool { return r.Status >= 200 && r.Status < 300 }

// Decode unmarshals the body into target.
func (r *Reply) Decode(target any) error {
	if err := json.Unmarshal(r.Body, target); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Transport issues JSON and form requests with a fixed attempt budget.
// Network-level failures on idempotent methods are retried; anything
// the server answered, even a 5xx, is returned as a Reply. Every
// exchange is recorded with the call tracker.
type Transport struct {
	httpClient  *http.Client
	track       tracker.Tracker
	maxAttempts int
}

func NewTransport(httpClient *http.Client, track tracker.Tracker, maxAttempts int) *Transport {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if track == nil {
		track = tracker.Nop{}
	}
	if maxAttempts < 1 {
		maxAttempts = defaultMaxAttempts
	}
	return &Transport{
		httpClient:  httpClient,
		track:       track,
		maxAttempts: maxAttempts,
	}
}

// DoJSON sends body as application/json and returns the reply.
func (t *Transport) DoJSON(
	ctx context.Context,
	method, rawURL string,
	headers map[string]string,
	body any,
) (*Reply, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
	}
	return t.do(ctx, method, rawURL, "application/json", payload, headers)
}

// DoForm sends form as application/x-www-form-urlencoded. Used for
// token endpoint requests.
func (t *Transport) DoForm(
	ctx context.Context,
	method, rawURL string,
	headers map[string]string,
	form url.Values,
) (*Reply, error) {
	return t.do(ctx, method, rawURL, "application/x-www-form-urlencoded", []byte(form.Encode()), headers)
}

func (t *Transport) do(
	ctx context.Context,
	method, rawURL, contentType string,
	payload []byte,
	headers map[string]string,
) (*Reply, error) {
	var lastErr error

	for attempt := 1; attempt <= t.maxAttempts; attempt++ {
		var bodyReader io.Reader
		if len(payload) > 0 {
			bodyReader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, rawURL, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		if len(payload) > 0 {
			req.Header.Set("Content-Type", contentType)
		}
		for key, value := range headers {
			req.Header.Set(key, value)
		}

		start := time.Now()
		resp, err := t.httpClient.Do(req)
		if err != nil {
			t.track.Record(tracker.Call{
				At:       start,
				Method:   method,
				URL:      rawURL,
				Duration: time.Since(start),
				Error:    err.Error(),
				Attempt:  attempt,
			})

			lastErr = err
			if ctx.Err() != nil || !retryable(method) {
				break
			}
			continue
		}

		replyBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		t.track.Record(tracker.Call{
			At:         start,
			Method:     method,
			URL:        rawURL,
			Status:     resp.StatusCode,
			Duration:   time.Since(start),
			RequestID:  resp.Header.Get("X-Request-Id"),
			Attempt:    attempt,
			BodySample: sample(replyBody),
		})

		if readErr != nil {
			return nil, fmt.Errorf("failed to read response body: %w", readErr)
		}

		return &Reply{
			Status: resp.StatusCode,
			Body:   replyBody,
			Header: resp.Header,
		}, nil
	}

	return nil, fmt.Errorf("failed to send request: %w", lastErr)
}

// retryable reports whether a method is safe to re-send after a
// network-level failure. Protocol POSTs create state and get one shot.
func retryable(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead:
		return true
	default:
		return false
	}
}

func sample(body []byte) string {
	if len(body) > bodySampleLimit {
		body = body[:bodySampleLimit]
	}
	return string(body)
}
