package layout

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultFetchTimeout is the default HTTP request timeout for estimate fetches.
	DefaultFetchTimeout = 30 * time.Second

	// DefaultMaxRetries is the default number of attempts per frame.
	DefaultMaxRetries = 3

	defaultBaseBackoff = 500 * time.Millisecond

	// a (2, 1024) float64 estimate is well under 1 MB of JSON
	maxResponseBytes = 8 << 20
)

// FetchOption configures an HTTPEstimates source.
type FetchOption func(*fetchConfig)

type fetchConfig struct {
	timeout     time.Duration
	maxRetries  int
	baseBackoff time.Duration
	client      *http.Client
}

func defaultFetchConfig() fetchConfig {
	return fetchConfig{
		timeout:     DefaultFetchTimeout,
		maxRetries:  DefaultMaxRetries,
		baseBackoff: defaultBaseBackoff,
	}
}

// WithTimeout sets the HTTP request timeout.
func WithTimeout(d time.Duration) FetchOption {
	return func(c *fetchConfig) {
		c.timeout = d
	}
}

// WithMaxRetries sets the maximum number of attempts.
func WithMaxRetries(n int) FetchOption {
	return func(c *fetchConfig) {
		if n > 0 {
			c.maxRetries = n
		}
	}
}

// WithBaseBackoff sets the base delay for exponential backoff between retries.
func WithBaseBackoff(d time.Duration) FetchOption {
	return func(c *fetchConfig) {
		c.baseBackoff = d
	}
}

// WithHTTPClient overrides the default HTTP client (useful for testing).
func WithHTTPClient(client *http.Client) FetchOption {
	return func(c *fetchConfig) {
		c.client = client
	}
}

// HTTPEstimates asks a model server for estimates: GET <BaseURL>/<id>
// answers with the same JSON document the MQTT service accepts.
type HTTPEstimates struct {
	BaseURL string
	ctx     context.Context
	cfg     fetchConfig
}

// NewHTTPEstimates creates an estimate source for a model server.
func NewHTTPEstimates(ctx context.Context, baseURL string, opts ...FetchOption) (*HTTPEstimates, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("estimate server: URL is empty")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("estimate server: %w", err)
	}
	cfg := defaultFetchConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.client == nil {
		cfg.client = &http.Client{Timeout: cfg.timeout}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return &HTTPEstimates{BaseURL: strings.TrimSuffix(baseURL, "/"), ctx: ctx, cfg: cfg}, nil
}

// Estimate fetches one frame's estimate, retrying transient failures with
// exponential backoff. A 404 means the server has no estimate for the frame
// and is reported as ErrMissingData without retrying.
func (h *HTTPEstimates) Estimate(id string) (PhiCoords, error) {
	u := h.BaseURL + "/" + url.PathEscape(id)

	var lastErr error
	for attempt := range h.cfg.maxRetries {
		if attempt > 0 {
			backoff := h.cfg.baseBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-h.ctx.Done():
				return PhiCoords{}, fmt.Errorf("fetch estimate %s: %w", id, h.ctx.Err())
			case <-time.After(backoff):
			}
		}

		body, status, err := doFetch(h.ctx, h.cfg.client, u)
		if status == http.StatusNotFound {
			return PhiCoords{}, fmt.Errorf("%w: no estimate for %s at %s", ErrMissingData, id, u)
		}
		if err != nil {
			lastErr = err
			continue
		}

		_, pc, err := DecodeEstimate(id, body)
		if err != nil {
			// a malformed document will not fix itself
			return PhiCoords{}, fmt.Errorf("fetch estimate %s: %w", id, err)
		}
		return pc, nil
	}

	return PhiCoords{}, fmt.Errorf("fetch estimate %s: all %d attempts failed: %w", id, h.cfg.maxRetries, lastErr)
}

// doFetch performs a single HTTP GET and returns the body and status code.
func doFetch(ctx context.Context, client *http.Client, u string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("HTTP GET %s: %w", u, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, fmt.Errorf("HTTP GET %s: status %d", u, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading response from %s: %w", u, err)
	}
	return body, resp.StatusCode, nil
}
