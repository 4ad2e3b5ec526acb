// Package transport provides the HTTP channel the connector talks to a remote
// model service through, plus the schema channel object types are declared on.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/R3E-Network/remote_connector/internal/logging"
	"github.com/R3E-Network/remote_connector/remote/model"
)

// maxBodySize caps how much of a response body is read.
const maxBodySize = 8 << 20

// Request is one HTTP exchange to perform against the remote service.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Headers map[string]string
	Body    any
}

// Response is a raw HTTP response.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// JSON unmarshals the response body into v.
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Empty reports whether the response carries no payload.
func (r *Response) Empty() bool {
	trimmed := bytes.TrimSpace(r.Body)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// Transport is what the connector needs from a remote channel: issuing
// requests and accepting object type declarations.
type Transport interface {
	Do(ctx context.Context, req Request) (*Response, error)
	DefineObjectType(name string, def model.TypeDefinition)
	ObjectType(name string) (model.TypeDefinition, bool)
}

// Config holds client configuration.
type Config struct {
	URL        string
	Timeout    time.Duration
	Headers    map[string]string
	HTTPClient *http.Client
	// RequestsPerSecond paces outbound requests; zero disables pacing.
	RequestsPerSecond float64
	Burst             int
	// CircuitBreaker is disabled when FailureThreshold is zero.
	CircuitBreaker CircuitBreakerConfig
	Logger         *logging.Logger
}

// Client is the HTTP implementation of Transport.
type Client struct {
	baseURL    string
	headers    map[string]string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *CircuitBreaker
	log        *logging.Logger

	mu    sync.RWMutex
	types map[string]model.TypeDefinition
}

// New creates a new HTTP transport.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("URL is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	log := cfg.Logger
	if log == nil {
		log = logging.NewDefault("transport")
	}

	c := &Client{
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		headers:    cfg.Headers,
		httpClient: httpClient,
		log:        log,
		types:      make(map[string]model.TypeDefinition),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	if cfg.CircuitBreaker.FailureThreshold > 0 {
		c.breaker = NewCircuitBreaker(cfg.CircuitBreaker, log)
	}
	return c, nil
}

// BaseURL returns the root URL requests are issued against.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// CircuitState returns the breaker state; closed when no breaker is configured.
func (c *Client) CircuitState() CircuitState {
	if c.breaker == nil {
		return CircuitClosed
	}
	return c.breaker.State()
}

// =============================================================================
// Schema channel
// =============================================================================

// DefineObjectType records the wire shape of a model. Later definitions for
// the same name replace earlier ones; deduplication is the registry's job.
func (c *Client) DefineObjectType(name string, def model.TypeDefinition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.types[name] = def
	c.log.Entry().WithField("model", name).Debug("object type defined")
}

// ObjectType returns the recorded wire shape of a model.
func (c *Client) ObjectType(name string) (model.TypeDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.types[name]
	return def, ok
}

// =============================================================================
// Requests
// =============================================================================

// Do performs one HTTP exchange. Only failures to complete the exchange are
// returned as errors; non-2xx responses are returned as responses.
func (c *Client) Do(ctx context.Context, r Request) (*Response, error) {
	reqURL := c.baseURL + r.Path
	if len(r.Query) > 0 {
		reqURL += "?" + r.Query.Encode()
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &Error{Method: r.Method, URL: reqURL, Err: err}
		}
	}

	var body io.Reader
	if r.Body != nil {
		data, err := json.Marshal(r.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(ctx, req, r)

	if c.breaker != nil {
		if err := c.breaker.Allow(r.Method, reqURL); err != nil {
			return nil, err
		}
	}

	resp, err := c.do(req)
	if err != nil {
		terr := &Error{Method: r.Method, URL: reqURL, Err: err}
		if c.breaker != nil {
			c.breaker.Failure(terr)
		}
		c.log.WithContext(ctx).WithField("url", reqURL).WithError(err).Warn("remote request failed")
		return nil, terr
	}
	if c.breaker != nil {
		if resp.StatusCode >= 500 {
			c.breaker.Failure(&Error{Method: r.Method, URL: reqURL, Err: fmt.Errorf("%w: status %d", errServerStatus, resp.StatusCode)})
		} else {
			c.breaker.Success()
		}
	}
	return resp, nil
}

func (c *Client) setHeaders(ctx context.Context, req *http.Request, r Request) {
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if r.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id := logging.RequestID(ctx); id != "" {
		req.Header.Set(RequestIDHeader, id)
	}
}

func (c *Client) do(req *http.Request) (*Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       body,
		Headers:    resp.Header,
	}, nil
}
