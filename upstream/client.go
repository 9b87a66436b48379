// Package upstream is the client tools use to reach the upstream REST API.
// The bearer token and namespace selection are read at the moment of each
// call: the token from the request context, the namespace from the session
// registry.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ggoodman/mcp-gateway-go/internal/logctx"
	"github.com/ggoodman/mcp-gateway-go/reqctx"
)

// ErrNoToken is returned when a token is required but the request context
// carries none.
var ErrNoToken = errors.New("upstream: no bearer token in request context")

// maxErrorBody bounds how much of a failed response is read for its message.
const maxErrorBody = 4 << 10

// Error is a non-2xx upstream response.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("upstream: %d %s", e.Status, e.Message)
}

// NotFound reports whether the upstream said the resource does not exist.
func (e *Error) NotFound() bool { return e.Status == http.StatusNotFound }

// NamespaceSource resolves the namespace selected for a session.
// sessions.Registry satisfies it.
type NamespaceSource interface {
	Namespace(ctx context.Context, sessionID string) (string, error)
}

// Config configures a Client.
type Config struct {
	BaseURL         string        `env:"UPSTREAM_BASE_URL,default=http://localhost:3000"`
	NamespaceHeader string        `env:"UPSTREAM_NAMESPACE_HEADER,default=X-Fortemi-Memory"`
	Timeout         time.Duration `env:"UPSTREAM_TIMEOUT,default=30s"`
	// RequireToken makes calls without a bearer token fail with ErrNoToken
	// instead of going out unauthenticated.
	RequireToken bool `env:"UPSTREAM_REQUIRE_TOKEN,default=false"`
}

// Client calls the upstream API.
type Client struct {
	base         *url.URL
	header       string
	requireToken bool
	ns           NamespaceSource
	http         *http.Client
	log          *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// New builds a Client. ns may be nil, in which case no namespace header is
// ever sent.
func New(cfg Config, ns NamespaceSource, opts ...Option) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream base URL %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("upstream base URL must use HTTP or HTTPS scheme, got %q", base.Scheme)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		base:         base,
		header:       cfg.NamespaceHeader,
		requireToken: cfg.RequireToken,
		ns:           ns,
		http:         &http.Client{Timeout: timeout},
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logctx.Wrap(c.log)
	return c, nil
}

// Do sends one request. body, when non-nil, is JSON encoded. A 2xx response
// body is decoded into out when out is non-nil. Other statuses yield *Error.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	rc := reqctx.From(ctx)
	if rc.BearerToken == "" && c.requireToken {
		return ErrNoToken
	}

	var namespace string
	if c.ns != nil && c.header != "" && rc.HasSession() {
		ns, err := c.ns.Namespace(ctx, rc.SessionID)
		if err != nil {
			return fmt.Errorf("upstream: resolve namespace: %w", err)
		}
		namespace = ns
	}

	u := c.base.JoinPath(path)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("upstream: encode body: %w", err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), rdr)
	if err != nil {
		return fmt.Errorf("upstream: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if rc.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+rc.BearerToken)
	}
	if namespace != "" {
		req.Header.Set(c.header, namespace)
	}

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		c.log.WarnContext(ctx, "upstream.request.fail", slog.String("method", method), slog.String("path", path), slog.String("err", err.Error()))
		return fmt.Errorf("upstream: %s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		uerr := &Error{Status: res.StatusCode, Message: errorMessage(res)}
		c.log.InfoContext(ctx, "upstream.request.status", slog.String("method", method), slog.String("path", path), slog.Int("status", res.StatusCode))
		return uerr
	}
	c.log.DebugContext(ctx, "upstream.request.ok", slog.String("method", method), slog.String("path", path), slog.Int("status", res.StatusCode), slog.Duration("dur", time.Since(start)))

	if out == nil || res.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("upstream: decode response: %w", err)
	}
	return nil
}

// errorMessage extracts a short message from a failed response. JSON bodies
// with an "error" or "message" string are preferred; anything else falls back
// to the status text.
func errorMessage(res *http.Response) string {
	b, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(b, &body) == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	if s := strings.TrimSpace(string(b)); s != "" && len(s) <= 200 && !strings.ContainsAny(s, "<{") {
		return s
	}
	return http.StatusText(res.StatusCode)
}
