// Package sdk provides the client-side library for the invasions read API.
package sdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/celerix-dev/invasions/pkg/schema"
)

// DefaultURL is used when INVASIONS_API_URL is not set.
const DefaultURL = "http://localhost:8000"

// Client is a remote client for the read API. It implements Reader.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	attempts   int
	logger     *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithAttempts sets how many times a request is tried before giving up.
func WithAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.attempts = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", baseURL)
	}
	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		attempts:   3,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FromEnv creates a client for INVASIONS_API_URL, falling back to DefaultURL.
func FromEnv(opts ...Option) (*Client, error) {
	addr := os.Getenv("INVASIONS_API_URL")
	if addr == "" {
		addr = DefaultURL
	}
	return New(addr, opts...)
}

// statusError carries a non-2xx response.
type statusError struct {
	code    int
	message string
}

func (e *statusError) Error() string {
	if e.message == "" {
		return fmt.Sprintf("unexpected status %d", e.code)
	}
	return fmt.Sprintf("status %d: %s", e.code, e.message)
}

// Internal helper for HTTP communication. Transport errors and 5xx replies
// are retried with a growing pause; 4xx replies are returned at once.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	var err error

	// Try up to c.attempts times with backoff
	for i := 0; i < c.attempts; i++ {
		err = c.do(ctx, path, out)
		if err == nil {
			return nil
		}
		var se *statusError
		if errors.As(err, &se) && se.code < 500 {
			return c.mapStatus(se)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if i == c.attempts-1 {
			break
		}

		c.logger.Warn("request failed, retrying", "path", path, "attempt", i+1, "error", err)

		// Wait before retrying
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration((i+1)*200) * time.Millisecond):
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", c.attempts, err)
}

func (c *Client) do(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL.String()+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &e)
		return &statusError{code: resp.StatusCode, message: e.Error}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) mapStatus(se *statusError) error {
	switch se.code {
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", se.message, ErrNotFound)
	case http.StatusBadRequest:
		return fmt.Errorf("%s: %w", se.message, ErrBadRequest)
	}
	return se
}

// --- Generics Support ---

// get decodes the JSON at path into a value of type T.
func get[T any](ctx context.Context, c *Client, path string) (T, error) {
	var target T
	err := c.getJSON(ctx, path, &target)
	return target, err
}

func (c *Client) ListCities(ctx context.Context) (schema.CityList, error) {
	return get[schema.CityList](ctx, c, "/api/cities")
}

func (c *Client) GetCity(ctx context.Context, id int64) (schema.City, error) {
	return get[schema.City](ctx, c, "/api/cities/"+strconv.FormatInt(id, 10))
}

func (c *Client) ListCityInvasions(ctx context.Context, cityID int64) (schema.CityInvasions, error) {
	return get[schema.CityInvasions](ctx, c, "/api/cities/"+strconv.FormatInt(cityID, 10)+"/invasions")
}

func (c *Client) ListTribes(ctx context.Context) (schema.TribeList, error) {
	return get[schema.TribeList](ctx, c, "/api/tribes")
}

func (c *Client) GetTribe(ctx context.Context, id int64) (schema.Tribe, error) {
	return get[schema.Tribe](ctx, c, "/api/tribes/"+strconv.FormatInt(id, 10))
}

func (c *Client) ListTribeInvasions(ctx context.Context, tribeID int64) (schema.TribeInvasions, error) {
	return get[schema.TribeInvasions](ctx, c, "/api/tribes/"+strconv.FormatInt(tribeID, 10)+"/invasions")
}

// Health returns the readiness report. A 503 is returned as an error that
// includes the server's message.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	return get[map[string]any](ctx, c, "/health/ready")
}
