// Package inference calls the external classification service and carries
// the optional result cache and label normalization in front of it.
package inference

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/zeebo/xxh3"

	"camgate/capture"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ServiceError reports a failed classification call. Status is the HTTP
// status code, zero for transport-level failures.
type ServiceError struct {
	Status int
	Detail string
	Err    error
}

func (e *ServiceError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("inference: service returned %d: %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("inference: %s: %v", e.Detail, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Options configure the classification client.
type Options struct {
	URL     string
	APIKey  string
	Model   string
	Timeout time.Duration
	Cache   *Cache    // optional; nil disables caching
	Labels  *LabelSet // optional; nil passes labels through unchanged
}

// Client posts frame payloads to the classification service. The payload
// travels base64-encoded as a form-url-encoded body; the API key and model
// identifier ride as query parameters. The service owns retries and rate
// limiting, the gateway does not retry.
type Client struct {
	base   *url.URL
	apiKey string
	model  string
	client *http.Client
	cache  *Cache
	labels *LabelSet
}

// NewClient validates opts and builds the HTTP client.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, fmt.Errorf("inference: service URL required")
	}
	if strings.TrimSpace(opts.Model) == "" {
		return nil, fmt.Errorf("inference: model identifier required")
	}
	base, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("inference: parse URL: %w", err)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		base:   base,
		apiKey: strings.TrimSpace(opts.APIKey),
		model:  strings.TrimSpace(opts.Model),
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
			},
		},
		cache:  opts.Cache,
		labels: opts.Labels,
	}, nil
}

// response mirrors the service's JSON shape: a predictions list ordered by
// the service, each entry carrying a class label, numeric class id, and a
// confidence in [0,1].
type response struct {
	Predictions []struct {
		Class      string  `json:"class"`
		ClassID    int     `json:"class_id"`
		Confidence float64 `json:"confidence"`
	} `json:"predictions"`
}

// Classify returns the top prediction for payload. Identical payloads hit
// the cache when one is configured; the cache never changes the outcome of a
// call, only whether the HTTP round trip happens.
func (c *Client) Classify(ctx context.Context, payload []byte) (capture.Prediction, error) {
	hash := xxh3.Hash(payload)
	if c.cache != nil {
		if pred, ok := c.cache.Get(c.model, hash); ok {
			pred.Cached = true
			return pred, nil
		}
	}

	pred, err := c.post(ctx, payload)
	if err != nil {
		return capture.Prediction{}, err
	}
	if c.cache != nil && pred.RawLabel != "" {
		c.cache.Put(c.model, hash, pred)
	}
	return pred, nil
}

func (c *Client) post(ctx context.Context, payload []byte) (capture.Prediction, error) {
	u := *c.base
	q := u.Query()
	q.Set("api_key", c.apiKey)
	q.Set("model", c.model)
	u.RawQuery = q.Encode()

	body := base64.StdEncoding.EncodeToString(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), strings.NewReader(body))
	if err != nil {
		return capture.Prediction{}, &ServiceError{Detail: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return capture.Prediction{}, &ServiceError{Detail: "call service", Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return capture.Prediction{}, &ServiceError{Detail: "read response", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return capture.Prediction{}, &ServiceError{Status: resp.StatusCode, Detail: preview(data)}
	}

	var decoded response
	if err := json.Unmarshal(data, &decoded); err != nil {
		return capture.Prediction{}, &ServiceError{Detail: "decode response", Err: err}
	}

	// The service orders predictions, but pick the highest confidence
	// explicitly rather than trusting position.
	best := -1
	for i, p := range decoded.Predictions {
		if best < 0 || p.Confidence > decoded.Predictions[best].Confidence {
			best = i
		}
	}
	if best < 0 {
		// An empty predictions list is a valid answer: nothing recognized.
		return capture.Prediction{}, nil
	}

	top := decoded.Predictions[best]
	pred := capture.Prediction{
		RawLabel:   top.Class,
		Label:      top.Class,
		ClassID:    top.ClassID,
		Confidence: top.Confidence,
	}
	if c.labels != nil {
		if normalized, ok := c.labels.Normalize(top.Class); ok {
			pred.Label = normalized
		}
	}
	return pred, nil
}

// preview trims a response body down to something loggable.
func preview(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
