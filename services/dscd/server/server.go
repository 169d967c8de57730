package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"dscengine/crypto"
	nativecommon "dscengine/native/common"
	"dscengine/native/dsc"
	"dscengine/native/token"
	"dscengine/observability"
	"dscengine/services/dscd/storage"
)

// Sequencer serialises engine mutations. The engine fails fast on concurrent
// mutating calls, so every writer goes through Do; readers share Read.
type Sequencer struct {
	mu         sync.RWMutex
	afterWrite func() error
	logger     *slog.Logger
}

// NewSequencer returns a sequencer that runs afterWrite, when set, after every
// successful Do while still holding the lock.
func NewSequencer(afterWrite func() error, logger *slog.Logger) *Sequencer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sequencer{afterWrite: afterWrite, logger: logger}
}

// Do runs fn exclusively. Once fn succeeds the mutation is committed, so a
// failing afterWrite is logged and Do still reports success; the next write or
// shutdown retries the persistence.
func (s *Sequencer) Do(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fn(); err != nil {
		return err
	}
	if s.afterWrite != nil {
		if err := s.afterWrite(); err != nil {
			s.logger.Error("dscd: persist state after committed write", "error", err)
		}
	}
	return nil
}

// Read runs fn alongside other readers.
func (s *Sequencer) Read(fn func() error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn()
}

// Config captures the dependencies required to construct the server.
type Config struct {
	Engine      *dsc.Engine
	Collateral  []*token.Token
	Debt        *token.Token
	Auth        *Authenticator
	RateLimiter *RateLimiter
	Sequencer   *Sequencer
	// Pauses and Operator enable the admin pause route.
	Pauses   *nativecommon.PauseSet
	Operator crypto.Address
	// Events enables the audit history routes when set.
	Events   *storage.Storage
	Metrics  *observability.DSCMetrics
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Server exposes the engine over HTTP.
type Server struct {
	engine   *dsc.Engine
	tokens   []*token.Token
	debt     *token.Token
	auth     *Authenticator
	limiter  *RateLimiter
	seq      *Sequencer
	pauses   *nativecommon.PauseSet
	operator crypto.Address
	events   *storage.Storage
	metrics  *observability.DSCMetrics
	gatherer prometheus.Gatherer
	logger   *slog.Logger

	router http.Handler
}

// New constructs a configured HTTP router.
func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine required")
	}
	if cfg.Debt == nil {
		return nil, fmt.Errorf("debt token required")
	}
	if cfg.Auth == nil {
		return nil, fmt.Errorf("authenticator required")
	}
	srv := &Server{
		engine:   cfg.Engine,
		debt:     cfg.Debt,
		auth:     cfg.Auth,
		limiter:  cfg.RateLimiter,
		seq:      cfg.Sequencer,
		pauses:   cfg.Pauses,
		operator: cfg.Operator,
		events:   cfg.Events,
		metrics:  cfg.Metrics,
		gatherer: cfg.Gatherer,
		logger:   cfg.Logger,
	}
	srv.tokens = append(srv.tokens, cfg.Collateral...)
	srv.tokens = append(srv.tokens, cfg.Debt)
	if srv.seq == nil {
		srv.seq = NewSequencer(nil, cfg.Logger)
	}
	if srv.limiter == nil {
		srv.limiter = NewRateLimiter(20, 40)
	}
	if srv.gatherer == nil {
		srv.gatherer = prometheus.DefaultGatherer
	}
	if srv.logger == nil {
		srv.logger = slog.Default()
	}
	srv.router = srv.buildRouter()
	return srv, nil
}

// Handler exposes the configured HTTP router wrapped for tracing.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "dscd")
}

// Sequencer returns the lock shared with other engine writers.
func (s *Server) Sequencer() *Sequencer {
	return s.seq
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(api chi.Router) {
		api.Group(func(public chi.Router) {
			public.Use(s.limiter.Middleware)
			public.Get("/params", s.handleParams)
			public.Get("/system", s.handleSystem)
			public.Get("/health-factor", s.handleCalculateHealthFactor)
			public.Get("/assets", s.handleAssets)
			public.Get("/assets/{asset}/value", s.handleUSDValue)
			public.Get("/assets/{asset}/amount", s.handleTokenAmount)
			public.Get("/accounts/{account}", s.handleAccount)
			public.Get("/accounts/{account}/events", s.handleAccountEvents)
			public.Get("/tokens/{token}/balances/{account}", s.handleTokenBalance)
		})
		api.Group(func(protected chi.Router) {
			protected.Use(s.auth.Middleware)
			protected.Use(s.limiter.Middleware)
			protected.Post("/collateral/deposit", s.handleDeposit)
			protected.Post("/collateral/deposit-mint", s.handleDepositAndMint)
			protected.Post("/collateral/redeem", s.handleRedeem)
			protected.Post("/collateral/redeem-burn", s.handleRedeemForDsc)
			protected.Post("/dsc/mint", s.handleMint)
			protected.Post("/dsc/burn", s.handleBurn)
			protected.Post("/liquidations", s.handleLiquidate)
			protected.Post("/tokens/{token}/approve", s.handleApprove)
			protected.Post("/tokens/{token}/transfer", s.handleTransfer)
			protected.Post("/tokens/{token}/mint", s.handleTokenMint)
			protected.Post("/admin/pause", s.handlePause)
		})
	})
	return r
}

// observe records request metrics and an access log line.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		observability.HTTP().Observe(route, r.Method, status, elapsed)
		s.logger.Info("dscd: request",
			"method", r.Method,
			"route", route,
			"status", status,
			"duration_ms", elapsed.Milliseconds(),
			"request_id", chimw.GetReqID(r.Context()))
	})
}

// tokenByRef resolves a token by symbol, bech32 address or hex address.
func (s *Server) tokenByRef(ref string) (*token.Token, error) {
	trimmed := strings.TrimSpace(ref)
	for _, tok := range s.tokens {
		if strings.EqualFold(tok.Symbol(), trimmed) {
			return tok, nil
		}
	}
	if addr, err := crypto.ParseAddress(trimmed, crypto.AssetPrefix); err == nil {
		for _, tok := range s.tokens {
			if tok.Address() == addr.WithPrefix(tok.Address().Prefix()) {
				return tok, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: token %q", errNotFound, ref)
}

// assetAddress resolves an asset reference for engine calls. Unknown but well
// formed addresses pass through so the engine reports them as not allowed.
func (s *Server) assetAddress(ref string) (crypto.Address, error) {
	if tok, err := s.tokenByRef(ref); err == nil {
		return tok.Address(), nil
	}
	addr, err := crypto.ParseAddress(ref, crypto.AssetPrefix)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%w: asset %q", errNotFound, ref)
	}
	return addr, nil
}

func (s *Server) symbolOf(asset crypto.Address) string {
	for _, tok := range s.tokens {
		if tok.Address() == asset {
			return tok.Symbol()
		}
	}
	return ""
}
