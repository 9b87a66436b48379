package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ggoodman/mcp-gateway-go/auth"
	"github.com/ggoodman/mcp-gateway-go/internal/logctx"
	"github.com/ggoodman/mcp-gateway-go/internal/transport"
	"github.com/ggoodman/mcp-gateway-go/internal/wellknown"
	"github.com/ggoodman/mcp-gateway-go/sessions"
	"github.com/ggoodman/mcp-gateway-go/sse"
	"github.com/ggoodman/mcp-gateway-go/streaminghttp"
	"github.com/google/uuid"
)

var _ http.Handler = (*Router)(nil)

const (
	defaultStreamPath  = "/sse"
	defaultMessagePath = "/messages"
)

// Option configures a Router.
type Option func(*options)

type options struct {
	log         *slog.Logger
	serverName  string
	realm       string
	security    *auth.SecurityConfig
	streamPath  string
	messagePath string
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithServerName sets the resource name advertised in protected resource
// metadata.
func WithServerName(name string) Option {
	return func(o *options) { o.serverName = name }
}

// WithRealm sets the realm advertised in WWW-Authenticate challenges. Empty
// (the default) omits it.
func WithRealm(realm string) Option {
	return func(o *options) { o.realm = strings.TrimSpace(realm) }
}

// WithSecurityConfig overrides the security configuration advertised in
// protected resource metadata. By default it is taken from the
// authenticator when it implements auth.SecurityDescriptor.
func WithSecurityConfig(sc auth.SecurityConfig) Option {
	return func(o *options) { c := sc.Copy(); o.security = &c }
}

// WithLegacyPaths overrides where the legacy stream and message endpoints
// are mounted.
func WithLegacyPaths(stream, message string) Option {
	return func(o *options) { o.streamPath, o.messagePath = stream, message }
}

// Router is the request router: the only path by which a request reaches a
// transport adapter.
type Router struct {
	mux     *http.ServeMux
	log     *slog.Logger
	binder  *transport.Binder
	metrics *metrics
	prmURL  *url.URL
}

// New builds a Router serving the modern transport at publicEndpoint's path.
// publicEndpoint is the externally visible URL of that endpoint; it names the
// protected resource.
func New(publicEndpoint string, b *transport.Binder, authenticator auth.Authenticator, opts ...Option) (*Router, error) {
	if b == nil {
		return nil, fmt.Errorf("binder is required")
	}
	if authenticator == nil {
		return nil, fmt.Errorf("authenticator is required")
	}
	mcpURL, err := url.Parse(publicEndpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL %q: %w", publicEndpoint, err)
	}
	if mcpURL.Scheme != "https" && mcpURL.Scheme != "http" {
		return nil, fmt.Errorf("server URL must use HTTP or HTTPS scheme, got %q", mcpURL.Scheme)
	}

	o := &options{log: slog.Default(), streamPath: defaultStreamPath, messagePath: defaultMessagePath}
	for _, opt := range opts {
		opt(o)
	}
	log := logctx.Wrap(o.log)

	var sc auth.SecurityConfig
	switch {
	case o.security != nil:
		sc = o.security.Copy()
	default:
		if sd, ok := authenticator.(auth.SecurityDescriptor); ok {
			sc = sd.SecurityConfig().Copy()
		}
	}

	rt := &Router{
		mux:    http.NewServeMux(),
		log:    log,
		binder: b,
		prmURL: wellknown.MetadataURL(mcpURL),
	}
	rt.metrics = newMetrics(b.Registry().Counts)

	gk := auth.NewGatekeeper(authenticator, log)
	requireAuth := transport.RequireAuth(gk, transport.Challenge{Realm: o.realm, ResourceMetadata: rt.prmURL.String()}, rt.metrics.observeAuth, log)

	modern := streaminghttp.New(b, streaminghttp.WithLogger(log))
	legacy := sse.New(b, o.messagePath, sse.WithLogger(log))

	mcpPath := mcpURL.Path
	if mcpPath == "" {
		mcpPath = "/"
	}
	if mcpPath == "/" {
		// "/" alone would also match every unknown path.
		mcpPath = "/{$}"
	}
	rt.mux.Handle(mcpPath, requireAuth(modern))
	rt.mux.Handle("GET "+o.streamPath, requireAuth(http.HandlerFunc(legacy.HandleStream)))
	rt.mux.Handle("POST "+o.messagePath, requireAuth(http.HandlerFunc(legacy.HandleMessage)))

	rt.mux.HandleFunc("GET /healthz", rt.handleHealth)
	rt.mux.Handle("GET /metrics", rt.metrics.handler())

	prm := wellknown.Handler(wellknown.NewProtectedResourceMetadata(mcpURL, sc, o.serverName))
	prmPath := rt.prmURL.Path
	rt.mux.Handle("GET "+prmPath, prm)
	rt.mux.Handle("OPTIONS "+prmPath, prm)
	if prmPath != wellknown.PathPrefix {
		// Some clients only look at the root location.
		rt.mux.Handle("GET "+wellknown.PathPrefix, prm)
		rt.mux.Handle("OPTIONS "+wellknown.PathPrefix, prm)
	}

	return rt, nil
}

// ResourceMetadataURL is where the protected resource metadata is served.
func (rt *Router) ResourceMetadataURL() *url.URL { u := *rt.prmURL; return &u }

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})
	rw := &statusWriter{ResponseWriter: w}
	defer func() {
		if rec := recover(); rec != nil {
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			rt.metrics.panics.Inc()
			rt.log.ErrorContext(ctx, "http.panic", slog.String("panic", fmt.Sprint(rec)))
			if !rw.wrote {
				transport.WriteJSONError(rw, http.StatusInternalServerError, "internal server error")
			}
		}
	}()
	rt.mux.ServeHTTP(rw, r.WithContext(ctx))
}

type healthResponse struct {
	Status   string         `json:"status"`
	Sessions map[string]int `json:"sessions"`
}

func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	counts, err := rt.binder.Registry().Counts(ctx)
	if err != nil {
		rt.log.ErrorContext(ctx, "health.counts.fail", slog.String("err", err.Error()))
		transport.WriteJSONError(w, http.StatusServiceUnavailable, "session registry unavailable")
		return
	}
	out := healthResponse{Status: "ok", Sessions: make(map[string]int, len(counts))}
	for _, k := range sessions.Kinds() {
		out.Sessions[string(k)] = counts[k]
	}
	_ = transport.WriteJSON(w, http.StatusOK, out)
}

// Close removes every session this process holds from the registry.
func (rt *Router) Close(ctx context.Context) error {
	if err := rt.binder.CloseAll(ctx); err != nil {
		rt.log.ErrorContext(ctx, "gateway.close.fail", slog.String("err", err.Error()))
		return errors.Join(errors.New("gateway: close sessions"), err)
	}
	return nil
}

// statusWriter remembers whether a response was started so a recovered
// panic does not write a second status line.
type statusWriter struct {
	http.ResponseWriter
	wrote bool
}

func (s *statusWriter) WriteHeader(code int) {
	s.wrote = true
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusWriter) Write(b []byte) (int, error) {
	s.wrote = true
	return s.ResponseWriter.Write(b)
}

func (s *statusWriter) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		s.wrote = true
		f.Flush()
	}
}

func (s *statusWriter) Unwrap() http.ResponseWriter { return s.ResponseWriter }
