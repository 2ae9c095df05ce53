// Package remote submits media to the hosted classification service
// when the on-device path is unavailable.
//
// The service accepts a multipart upload of the recording plus optional
// location parameters and returns predictions in the same shape as the
// on-device models. Transport details (auth header, retry with backoff)
// live here; the orchestrator only sees Submit.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/perchlabs/birdsense/pkg/predict"
)

// Client talks to the remote classification endpoint.
type Client struct {
	client     *http.Client
	baseURL    string
	apiKey     string
	maxRetries int
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.client = hc }
}

// WithAPIKey sets the bearer token sent with each request.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) { c.apiKey = key }
}

// WithMaxRetries sets how many times a retryable failure is retried
// (default 2).
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// NewClient creates a Client for the given base URL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		client:     &http.Client{Timeout: 60 * time.Second},
		baseURL:    baseURL,
		maxRetries: 2,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SubmitOptions carries the optional parameters of a submission.
type SubmitOptions struct {
	// Latitude/Longitude of the observation; sent only when HasLocation.
	HasLocation bool
	Latitude    float64
	Longitude   float64

	// Week of year (1–48), 0 to omit.
	Week int

	// MinConfidence asks the service to pre-filter its response.
	MinConfidence float32

	// MaxResults caps the returned prediction count, 0 for the
	// service default.
	MaxResults int
}

// submitResponse is the service's wire shape.
type submitResponse struct {
	Predictions []struct {
		CommonName     string  `json:"common_name"`
		ScientificName string  `json:"scientific_name"`
		Confidence     float32 `json:"confidence"`
		StartSec       float64 `json:"start_sec"`
		EndSec         float64 `json:"end_sec"`
	} `json:"predictions"`
	Error *Error `json:"error,omitempty"`
}

// Submit uploads a recording and returns the service's predictions.
// Retryable failures (rate limit, 5xx, transport errors) are retried
// with exponential backoff up to the configured limit.
func (c *Client) Submit(ctx context.Context, filename string, payload []byte, opts SubmitOptions) (predict.Set, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff: 1s, 2s, 4s, ...
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		set, err := c.submit(ctx, filename, payload, opts)
		if err == nil {
			return set, nil
		}
		lastErr = err

		if apiErr, ok := AsError(err); ok && !apiErr.Retryable() {
			return nil, err
		}
	}
	return nil, lastErr
}

// submit performs a single upload.
func (c *Client) submit(ctx context.Context, filename string, payload []byte, opts SubmitOptions) (predict.Set, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("media", filename)
	if err != nil {
		return nil, fmt.Errorf("remote: build request: %w", err)
	}
	if _, err := fw.Write(payload); err != nil {
		return nil, fmt.Errorf("remote: build request: %w", err)
	}
	if opts.HasLocation {
		_ = mw.WriteField("lat", strconv.FormatFloat(opts.Latitude, 'f', 4, 64))
		_ = mw.WriteField("lon", strconv.FormatFloat(opts.Longitude, 'f', 4, 64))
	}
	if opts.Week > 0 {
		_ = mw.WriteField("week", strconv.Itoa(opts.Week))
	}
	if opts.MinConfidence > 0 {
		_ = mw.WriteField("min_confidence", strconv.FormatFloat(float64(opts.MinConfidence), 'f', 3, 32))
	}
	if opts.MaxResults > 0 {
		_ = mw.WriteField("max_results", strconv.Itoa(opts.MaxResults))
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("remote: build request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/classify", &body)
	if err != nil {
		return nil, fmt.Errorf("remote: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote: do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("remote: read response: %w", err)
	}

	var sr submitResponse
	if err := json.Unmarshal(data, &sr); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, &Error{HTTPStatus: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return nil, fmt.Errorf("remote: decode response: %w", err)
	}
	if sr.Error != nil {
		sr.Error.HTTPStatus = resp.StatusCode
		return nil, sr.Error
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{HTTPStatus: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	set := make(predict.Set, 0, len(sr.Predictions))
	for _, p := range sr.Predictions {
		set = append(set, predict.Prediction{
			CommonName:     p.CommonName,
			ScientificName: p.ScientificName,
			Confidence:     p.Confidence,
			StartTime:      time.Duration(p.StartSec * float64(time.Second)),
			EndTime:        time.Duration(p.EndSec * float64(time.Second)),
		})
	}
	set.Sort()
	return set, nil
}
