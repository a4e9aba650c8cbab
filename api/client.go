// Package api is the client for the remote storefront API. It owns the
// request and response schemas at the collaborator boundary and maps every
// failure onto the client error taxonomy (NetworkError, ValidationError,
// AuthenticationError, RemoteError).
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout = 15 * time.Second
	maxBodySize    = 4 << 20
)

// idempotencyNamespace scopes verification idempotency keys.
var idempotencyNamespace = uuid.MustParse("5b0f8e1c-3d59-4c1e-9a57-1f2e6c0b7d41")

// TokenSource supplies the current access credential. An empty string means
// the call is made anonymously.
type TokenSource interface {
	AccessToken() string
}

// Client talks to the remote storefront API.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
	limiter *rate.Limiter
	logger  *zap.Logger

	mu     sync.RWMutex
	tokens TokenSource
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.Timeout = d
	}
}

// WithLogger sets the structured logger. Default: no-op.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit paces outgoing requests to rps with the given burst.
// rps <= 0 disables pacing.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithTokenSource sets the bearer credential source.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) {
		c.tokens = ts
	}
}

// NewClient creates a client for the API rooted at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker = gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "storefront-api",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return c
}

// SetTokenSource sets the bearer credential source after construction, for
// wiring where the source itself depends on the client.
func (c *Client) SetTokenSource(ts TokenSource) {
	c.mu.Lock()
	c.tokens = ts
	c.mu.Unlock()
}

func (c *Client) accessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.tokens == nil {
		return ""
	}
	return c.tokens.AccessToken()
}

// BaseURL returns the API root this client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type validator interface {
	Validate() error
}

// call describes one API round trip.
type call struct {
	op     string
	method string
	path   string
	in     any
	out    any
	auth   bool
	header http.Header
}

// serverError carries a 5xx response through the breaker so it counts as a failure.
type serverError struct {
	status int
	body   []byte
}

func (e *serverError) Error() string {
	return fmt.Sprintf("server error (HTTP %d)", e.status)
}

func (c *Client) do(ctx context.Context, cl call) error {
	var body []byte
	if cl.in != nil {
		var err error
		body, err = json.Marshal(cl.in)
		if err != nil {
			return fmt.Errorf("%s: encoding request: %w", cl.op, err)
		}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &NetworkError{Op: cl.op, Err: err}
		}
	}

	start := time.Now()
	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, cl.method, c.baseURL+cl.path, rd)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, vs := range cl.header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		if cl.auth {
			if tok := c.accessToken(); tok != "" {
				req.Header.Set("Authorization", "Bearer "+tok)
			}
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
			resp.Body.Close()
			return nil, &serverError{status: resp.StatusCode, body: data}
		}
		return resp, nil
	})
	if err != nil {
		c.logger.Debug("api request failed",
			zap.String("op", cl.op),
			zap.String("method", cl.method),
			zap.String("path", cl.path),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		var se *serverError
		switch {
		case errors.As(err, &se):
			return decodeError(se.status, se.body, cl.op+" failed")
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return &NetworkError{Op: cl.op, Err: fmt.Errorf("%w: %v", ErrUnavailable, err)}
		default:
			return &NetworkError{Op: cl.op, Err: err}
		}
	}
	defer resp.Body.Close()

	c.logger.Debug("api request",
		zap.String("op", cl.op),
		zap.String("method", cl.method),
		zap.String("path", cl.path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return &NetworkError{Op: cl.op, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp.StatusCode, data, cl.op+" failed")
	}
	if cl.out == nil {
		return nil
	}
	if err := json.Unmarshal(data, cl.out); err != nil {
		return &RemoteError{Status: resp.StatusCode, Message: cl.op + ": malformed response body"}
	}
	if v, ok := cl.out.(validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("%s: invalid response: %w", cl.op, err)
		}
	}
	return nil
}

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, creds Credentials) (TokenPair, error) {
	if err := creds.Validate(); err != nil {
		return TokenPair{}, err
	}
	var out TokenPair
	if err := c.do(ctx, call{op: "login", method: http.MethodPost, path: "/api/auth/token/", in: creds, out: &out}); err != nil {
		return TokenPair{}, err
	}
	return out, nil
}

// Refresh exchanges a refresh credential for a new access credential.
func (c *Client) Refresh(ctx context.Context, refresh string) (RefreshResponse, error) {
	if refresh == "" {
		return RefreshResponse{}, &AuthenticationError{Message: "no refresh credential"}
	}
	var out RefreshResponse
	err := c.do(ctx, call{op: "refresh", method: http.MethodPost, path: "/api/auth/token/refresh/", in: RefreshRequest{Refresh: refresh}, out: &out})
	if err != nil {
		return RefreshResponse{}, err
	}
	if out.Access == "" {
		return RefreshResponse{}, &ValidationError{Message: "refresh response is missing the access credential"}
	}
	return out, nil
}

// Register creates an account. Field-level rejections come back as a
// ValidationError with Fields populated.
func (c *Client) Register(ctx context.Context, reg Registration) (*Account, error) {
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	var out Account
	if err := c.do(ctx, call{op: "register", method: http.MethodPost, path: "/api/auth/register/", in: reg, out: &out}); err != nil {
		return nil, err
	}
	return &out, nil
}

// Products lists the available catalog entries.
func (c *Client) Products(ctx context.Context) ([]Product, error) {
	var out []Product
	if err := c.do(ctx, call{op: "list products", method: http.MethodGet, path: "/api/products/", out: &out}); err != nil {
		return nil, err
	}
	for _, p := range out {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("list products: invalid product %d: %w", p.ID, err)
		}
	}
	return out, nil
}

// Product fetches one catalog entry by slug.
func (c *Client) Product(ctx context.Context, slug string) (*Product, error) {
	if slug == "" {
		return nil, &ValidationError{Fields: map[string][]string{"slug": {"must not be empty"}}}
	}
	var out Product
	if err := c.do(ctx, call{op: "get product", method: http.MethodGet, path: "/api/products/" + url.PathEscape(slug) + "/", out: &out}); err != nil {
		return nil, err
	}
	return &out, nil
}

// Categories lists the catalog categories.
func (c *Client) Categories(ctx context.Context) ([]Category, error) {
	var out []Category
	if err := c.do(ctx, call{op: "list categories", method: http.MethodGet, path: "/api/categories/", out: &out}); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateOrder creates an unpaid order for the given shipping details and lines.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var out Order
	if err := c.do(ctx, call{op: "create order", method: http.MethodPost, path: "/api/orders/create/", in: req, out: &out, auth: true}); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartPayment creates a payment intent for an order.
func (c *Client) StartPayment(ctx context.Context, orderID int64) (*PaymentIntent, error) {
	if orderID <= 0 {
		return nil, &ValidationError{Fields: map[string][]string{"order_id": {"Order ID is required."}}}
	}
	var out PaymentIntent
	if err := c.do(ctx, call{op: "start payment", method: http.MethodPost, path: "/api/orders/pay/", in: PaymentRequest{OrderID: orderID}, out: &out, auth: true}); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyPayment forwards the widget's success values for server-side
// signature verification. Repeating the call with the same values is safe:
// the request carries an idempotency key derived from them.
func (c *Client) VerifyPayment(ctx context.Context, v PaymentVerification) (*Order, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	var out Order
	err := c.do(ctx, call{
		op:     "verify payment",
		method: http.MethodPost,
		path:   "/api/orders/verify-payment/",
		in:     v,
		out:    &out,
		auth:   true,
		header: http.Header{"Idempotency-Key": {IdempotencyKey(v)}},
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// IdempotencyKey derives a stable key from the three verification values.
func IdempotencyKey(v PaymentVerification) string {
	return uuid.NewSHA1(idempotencyNamespace, []byte(v.ProviderOrderID+"|"+v.ProviderPaymentID+"|"+v.Signature)).String()
}
