// Package apiclient is the single point of outbound communication with the
// strawberry backend. It absorbs transient network flakiness on reads with a
// short-lived response cache, in-flight request coalescing and bounded
// retries; mutating calls go straight through so a failure never hides a
// duplicated side effect.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"strawberrytrace/internal/models"
)

const (
	// CacheTTL is the maximum age a cached read may be served at.
	CacheTTL = 30 * time.Second

	maxAttempts    = 3
	retryBaseDelay = 100 * time.Millisecond
)

// APIError is returned for non-2xx responses. Status lets callers tell
// "not found" apart from transient failures.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error: status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api error: status %d", e.Status)
}

type cacheEntry struct {
	ts   time.Time
	data []byte
}

// call is a single underlying request shared by every coalesced caller.
type call struct {
	done chan struct{}
	data []byte
	err  error
}

// Client owns the base configuration, the response cache and the in-flight
// map. Construct one per logical consumer; there is no package-level state.
type Client struct {
	baseURL string
	httpc   *http.Client

	mu       sync.Mutex
	cache    map[string]cacheEntry
	inflight map[string]*call

	useMock bool
	debug   bool
	now     func() time.Time
	sleep   func(time.Duration)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying transport.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.httpc = h } }

// WithTimeout sets the request timeout on the default transport.
func WithTimeout(d time.Duration) Option { return func(c *Client) { c.httpc.Timeout = d } }

// WithMockFallback enables the deterministic offline fixtures for reads that
// fail at the network level. Development convenience, not production
// resilience: responses carrying an HTTP status always propagate as errors.
func WithMockFallback(enabled bool) Option { return func(c *Client) { c.useMock = enabled } }

// WithDebug logs every request and response status.
func WithDebug(enabled bool) Option { return func(c *Client) { c.debug = enabled } }

// WithClock injects the time source used for cache aging.
func WithClock(now func() time.Time) Option { return func(c *Client) { c.now = now } }

// WithSleep injects the delay function used between retry attempts.
func WithSleep(sleep func(time.Duration)) Option { return func(c *Client) { c.sleep = sleep } }

// New creates a client for the backend at baseURL (e.g.
// "http://localhost:5000/api").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		httpc:    &http.Client{Timeout: 30 * time.Second},
		cache:    make(map[string]cacheEntry),
		inflight: make(map[string]*call),
		now:      time.Now,
		sleep:    time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// cacheKey canonicalizes the path plus parameters. url.Values.Encode sorts
// keys, so logically identical queries always share a key.
func cacheKey(path string, params url.Values) string {
	return path + "?" + params.Encode()
}

// getCached serves path from the cache when fresh, joins an identical
// in-flight request when one exists, and otherwise issues a single network
// call with bounded retries. Exactly one network call occurs per key no
// matter how many callers arrive concurrently.
func (c *Client) getCached(ctx context.Context, path string, params url.Values) ([]byte, error) {
	key := cacheKey(path, params)

	// The hit/in-flight checks and the in-flight registration happen under
	// one lock acquisition, before any network work starts.
	c.mu.Lock()
	if hit, ok := c.cache[key]; ok && c.now().Sub(hit.ts) < CacheTTL {
		c.mu.Unlock()
		return hit.data, nil
	}
	if cl, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		select {
		case <-cl.done:
			return cl.data, cl.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	cl := &call{done: make(chan struct{})}
	c.inflight[key] = cl
	c.mu.Unlock()

	cl.data, cl.err = c.getWithRetry(ctx, path, params)

	c.mu.Lock()
	if cl.err == nil {
		c.cache[key] = cacheEntry{ts: c.now(), data: cl.data}
	}
	delete(c.inflight, key)
	c.mu.Unlock()
	close(cl.done)

	return cl.data, cl.err
}

// getWithRetry makes up to maxAttempts attempts; failed attempt n (0-based)
// waits 100*2^n ms. Network errors and non-2xx statuses both count as
// failures here; the most recent error is returned.
func (c *Client) getWithRetry(ctx context.Context, path string, params url.Values) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		data, err := c.doGet(ctx, path, params)
		if err == nil {
			return data, nil
		}
		lastErr = err
		c.sleep(retryBaseDelay << attempt)
		if ctx.Err() != nil {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

func (c *Client) doGet(ctx context.Context, path string, params url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) postJSON(ctx context.Context, path string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) postMultipart(ctx context.Context, path string, fields map[string]string, fileField, filename string, file []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile(fileField, filename)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(file); err != nil {
		return nil, err
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := w.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return c.do(req)
}

// do executes the request and maps non-2xx statuses to *APIError, keeping
// the backend's message when the body carries the standard envelope.
func (c *Client) do(req *http.Request) ([]byte, error) {
	if c.debug {
		log.Printf("api request: %s %s", req.Method, req.URL)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		if c.debug {
			log.Printf("api error: %s %s: %v", req.Method, req.URL, err)
		}
		return nil, fmt.Errorf("request %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if c.debug {
		log.Printf("api response: %d %s", resp.StatusCode, req.URL)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var envelope models.Response[json.RawMessage]
		if jsonErr := json.Unmarshal(body, &envelope); jsonErr == nil {
			apiErr.Message = envelope.Message
		}
		return nil, apiErr
	}
	return body, nil
}

// invalidate drops all cached reads. Called after every mutation so a
// follow-up list never serves data older than the write.
func (c *Client) invalidate() {
	c.mu.Lock()
	c.cache = make(map[string]cacheEntry)
	c.mu.Unlock()
}

// networkLevel reports whether err carried no HTTP response at all.
func networkLevel(err error) bool {
	var apiErr *APIError
	return err != nil && !errors.As(err, &apiErr)
}

func decode[T any](data []byte) (models.Response[T], error) {
	var resp models.Response[T]
	if err := json.Unmarshal(data, &resp); err != nil {
		return resp, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

// ListOptions filters GetStrawberries.
type ListOptions struct {
	Status string
	Limit  int
}

func (o ListOptions) values() url.Values {
	params := url.Values{}
	if o.Status != "" {
		params.Set("status", o.Status)
	}
	if o.Limit > 0 {
		params.Set("limit", strconv.Itoa(o.Limit))
	}
	return params
}

// HealthCheck calls the backend liveness endpoint. Not cached.
func (c *Client) HealthCheck(ctx context.Context) (models.Response[json.RawMessage], error) {
	data, err := c.doGet(ctx, "/health", nil)
	if err != nil {
		return models.Response[json.RawMessage]{}, err
	}
	return decode[json.RawMessage](data)
}

// GetStrawberries lists plants, served from the cache within the TTL.
// With the mock fallback enabled, a network-level failure substitutes the
// deterministic fixture instead.
func (c *Client) GetStrawberries(ctx context.Context, opts ListOptions) (models.Response[[]models.Strawberry], error) {
	data, err := c.getCached(ctx, "/strawberries", opts.values())
	if err != nil {
		if c.useMock && networkLevel(err) {
			return mockStrawberryResponse(opts), nil
		}
		return models.Response[[]models.Strawberry]{}, err
	}
	return decode[[]models.Strawberry](data)
}

// GetStatistics returns the aggregate counts, cached like GetStrawberries.
func (c *Client) GetStatistics(ctx context.Context) (models.Response[models.Statistics], error) {
	data, err := c.getCached(ctx, "/statistics", nil)
	if err != nil {
		if c.useMock && networkLevel(err) {
			return mockStatisticsResponse(), nil
		}
		return models.Response[models.Statistics]{}, err
	}
	return decode[models.Statistics](data)
}

// CreateStrawberry registers a new plant. Mutations bypass the cache and are
// never retried automatically.
func (c *Client) CreateStrawberry(ctx context.Context, notes, customPrefix string) (models.Response[models.Strawberry], error) {
	payload := map[string]string{}
	if notes != "" {
		payload["notes"] = notes
	}
	if customPrefix != "" {
		payload["custom_prefix"] = customPrefix
	}
	data, err := c.postJSON(ctx, "/strawberries", payload)
	if err != nil {
		return models.Response[models.Strawberry]{}, err
	}
	c.invalidate()
	return decode[models.Strawberry](data)
}

// DeleteStrawberry removes a plant and all of its records.
func (c *Client) DeleteStrawberry(ctx context.Context, id int) (models.Response[json.RawMessage], error) {
	data, err := c.postJSON(ctx, fmt.Sprintf("/strawberries/%d/delete", id), nil)
	if err != nil {
		return models.Response[json.RawMessage]{}, err
	}
	c.invalidate()
	return decode[json.RawMessage](data)
}

// GetStrawberryDetail fetches a plant with its full record history.
func (c *Client) GetStrawberryDetail(ctx context.Context, id int) (models.Response[models.StrawberryFullInfo], error) {
	data, err := c.doGet(ctx, fmt.Sprintf("/strawberries/%d", id), nil)
	if err != nil {
		return models.Response[models.StrawberryFullInfo]{}, err
	}
	return decode[models.StrawberryFullInfo](data)
}

// UpdateStrawberryStatus transitions a plant between active and inactive.
func (c *Client) UpdateStrawberryStatus(ctx context.Context, id int, status string) (models.Response[json.RawMessage], error) {
	data, err := c.postJSON(ctx, fmt.Sprintf("/strawberries/%d/status", id), map[string]string{"status": status})
	if err != nil {
		return models.Response[json.RawMessage]{}, err
	}
	c.invalidate()
	return decode[json.RawMessage](data)
}

// SearchStrawberryByQR looks a plant up by its scanned code.
func (c *Client) SearchStrawberryByQR(ctx context.Context, qrCode string) (models.Response[models.StrawberryFullInfo], error) {
	params := url.Values{}
	params.Set("qr_code", qrCode)
	data, err := c.doGet(ctx, "/strawberries/search", params)
	if err != nil {
		return models.Response[models.StrawberryFullInfo]{}, err
	}
	return decode[models.StrawberryFullInfo](data)
}

// RecordFields carries the optional annotations on an observation upload.
type RecordFields struct {
	Notes        string
	GrowthStage  string
	HealthStatus string
}

// AddObservationRecord uploads an observation image with optional
// annotations for the given plant.
func (c *Client) AddObservationRecord(ctx context.Context, strawberryID int, filename string, image []byte, fields RecordFields) (models.Response[models.ObservationRecord], error) {
	form := map[string]string{
		"notes":         fields.Notes,
		"growth_stage":  fields.GrowthStage,
		"health_status": fields.HealthStatus,
	}
	data, err := c.postMultipart(ctx, fmt.Sprintf("/strawberries/%d/records", strawberryID), form, "image", filename, image)
	if err != nil {
		return models.Response[models.ObservationRecord]{}, err
	}
	c.invalidate()
	return decode[models.ObservationRecord](data)
}

// DeleteStrawberryRecord removes a single observation record.
func (c *Client) DeleteStrawberryRecord(ctx context.Context, strawberryID, recordID int) (models.Response[json.RawMessage], error) {
	data, err := c.postJSON(ctx, fmt.Sprintf("/strawberries/%d/records/%d/delete", strawberryID, recordID), nil)
	if err != nil {
		return models.Response[json.RawMessage]{}, err
	}
	c.invalidate()
	return decode[json.RawMessage](data)
}

// GetAIConfig reads the AI provider configuration.
func (c *Client) GetAIConfig(ctx context.Context) (models.Response[models.AIConfig], error) {
	data, err := c.doGet(ctx, "/ai/config", nil)
	if err != nil {
		return models.Response[models.AIConfig]{}, err
	}
	return decode[models.AIConfig](data)
}

// UpdateAIConfig writes the AI provider configuration.
func (c *Client) UpdateAIConfig(ctx context.Context, cfg models.AIConfig) (models.Response[json.RawMessage], error) {
	data, err := c.postJSON(ctx, "/ai/config", cfg)
	if err != nil {
		return models.Response[json.RawMessage]{}, err
	}
	return decode[json.RawMessage](data)
}

// TestAIConnection asks the backend to probe its configured AI provider.
func (c *Client) TestAIConnection(ctx context.Context) (models.Response[json.RawMessage], error) {
	data, err := c.postJSON(ctx, "/ai/test", nil)
	if err != nil {
		return models.Response[json.RawMessage]{}, err
	}
	return decode[json.RawMessage](data)
}

// GetAIStatus reports AI enablement and credential presence.
func (c *Client) GetAIStatus(ctx context.Context) (models.Response[models.AIStatus], error) {
	data, err := c.doGet(ctx, "/ai/status", nil)
	if err != nil {
		return models.Response[models.AIStatus]{}, err
	}
	return decode[models.AIStatus](data)
}

// AnalyzeImageWithAI requests an AI description for the uploaded image.
func (c *Client) AnalyzeImageWithAI(ctx context.Context, filename string, image []byte) (models.Response[models.AIAnalysis], error) {
	data, err := c.postMultipart(ctx, "/ai/analyze", nil, "image", filename, image)
	if err != nil {
		return models.Response[models.AIAnalysis]{}, err
	}
	return decode[models.AIAnalysis](data)
}

// CapturePhoto persists a raw captured frame to the backend photo directory.
func (c *Client) CapturePhoto(ctx context.Context, filename string, image []byte) (models.Response[models.CapturedPhoto], error) {
	data, err := c.postMultipart(ctx, "/photos/capture", nil, "image", filename, image)
	if err != nil {
		return models.Response[models.CapturedPhoto]{}, err
	}
	return decode[models.CapturedPhoto](data)
}

// ImageURL returns the fetch URL for a stored image path.
func (c *Client) ImageURL(imagePath string) string {
	return c.baseURL + "/images/" + url.PathEscape(imagePath)
}
