package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"monspark/gateway/middleware"
	"monspark/observability"
	"monspark/services/sparkd/core"
	"monspark/services/sparkd/ledger"
)

// Version is reported by the service info endpoint.
const Version = "1.0.0"

// Config defines HTTP server parameters.
type Config struct {
	ListenAddress   string
	AllowedOrigin   string
	RateLimit       middleware.RateLimit
	Operator        middleware.AuthConfig
	LogRequests     bool
	ShutdownTimeout time.Duration
}

// Stream delivers live activity entries. *activity.Recorder satisfies it.
type Stream interface {
	Subscribe(ctx context.Context) (<-chan ledger.Activity, func(), []ledger.Activity, error)
	Subscribers() int
}

// IdempotencyStore caches responses keyed by the Idempotency-Key header.
// *ledger.Store satisfies it.
type IdempotencyStore interface {
	LoadIdempotent(key string) (*ledger.IdempotentResponse, error)
	SaveIdempotent(rec ledger.IdempotentResponse) error
}

// Server exposes the sparkd HTTP API.
type Server struct {
	cfg     Config
	core    *core.Service
	stream  Stream
	idem    IdempotencyStore
	logger  *slog.Logger
	metrics *observability.SparkdMetrics
	now     func() time.Time

	obs     *middleware.Observability
	limiter *middleware.RateLimiter
	auth    *middleware.Authenticator
	idemMu  *ledger.KeyLock
	router  http.Handler
}

// Option customises the server.
type Option func(*Server)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStream enables the websocket activity stream.
func WithStream(stream Stream) Option {
	return func(s *Server) { s.stream = stream }
}

// WithIdempotency enables Idempotency-Key replay on POST routes.
func WithIdempotency(store IdempotencyStore) Option {
	return func(s *Server) { s.idem = store }
}

// WithMetrics wires the process-wide sparkd collectors.
func WithMetrics(metrics *observability.SparkdMetrics) Option {
	return func(s *Server) { s.metrics = metrics }
}

// WithClock overrides the time source used in responses.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		if clock != nil {
			s.now = clock
		}
	}
}

// New constructs the HTTP server around svc.
func New(cfg Config, svc *core.Service, opts ...Option) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("core service required")
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":5000"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	s := &Server{
		cfg:    cfg,
		core:   svc,
		logger: slog.Default(),
		now:    time.Now,
		idemMu: ledger.NewKeyLock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.obs = middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName: "sparkd",
		LogRequests: cfg.LogRequests,
	}, s.logger)
	s.limiter = middleware.NewRateLimiter(map[string]middleware.RateLimit{
		"writes": cfg.RateLimit,
	}, s.logger)
	s.auth = middleware.NewAuthenticator(cfg.Operator, s.logger)
	s.router = s.buildRouter()
	return s, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("server not configured")
	}
	srv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           otelhttp.NewHandler(s.router, "sparkd"),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server listening", "addr", s.cfg.ListenAddress)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:   []string{s.cfg.AllowedOrigin},
		AllowCredentials: true,
	}))
	r.Use(s.obs.Middleware)

	r.Get("/", s.handleInfo)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(prometheus.Gatherers{
		prometheus.DefaultGatherer,
		s.obs.Registry(),
	}, promhttp.HandlerOpts{}))

	writes := func(h http.HandlerFunc) http.Handler {
		return s.limiter.Middleware("writes")(s.idempotent(h))
	}

	r.Route("/api", func(api chi.Router) {
		api.Route("/quests", func(q chi.Router) {
			q.Get("/", s.handleQuests)
			q.Get("/progress/{address}", s.handleProgress)
			q.Get("/{id}", s.handleQuest)
			q.Method(http.MethodPost, "/{id}/complete", writes(s.handleCompleteQuest))
		})
		api.Route("/gas", func(g chi.Router) {
			g.Get("/eligibility/{address}", s.handleEligibility)
			g.Method(http.MethodPost, "/allocate", writes(s.handleAllocate))
			g.Method(http.MethodPost, "/revert", writes(s.handleRevert))
			g.Get("/pool", s.handlePool)
			g.Get("/allocations/{address}", s.handleAllocations)
		})
		api.Route("/bridge", func(b chi.Router) {
			b.Post("/calculate", s.handleCalculate)
			b.Method(http.MethodPost, "/initiate", writes(s.handleInitiate))
			b.With(s.auth.Middleware("bridge:complete")).
				Method(http.MethodPost, "/complete", writes(s.handleCompleteBridge))
			b.Get("/request/{requestId}", s.handleBridgeRequest)
			b.Get("/supported", s.handleSupported)
		})
		api.Route("/activity", func(a chi.Router) {
			a.Get("/", s.handleActivities)
			a.Get("/stream", s.handleStream)
			a.Get("/{address}", s.handleUserActivities)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{
			Error:   "Not found",
			Message: fmt.Sprintf("Route %s %s not found", r.Method, r.URL.Path),
		})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{
			Error:   "Not found",
			Message: fmt.Sprintf("Route %s %s not found", r.Method, r.URL.Path),
		})
	})
	return r
}

// originPatterns converts the allowed origin into websocket host patterns.
func originPatterns(origin string) []string {
	origin = strings.TrimSpace(origin)
	if origin == "" || origin == "*" {
		return []string{"*"}
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return []string{origin}
	}
	return []string{parsed.Host}
}
