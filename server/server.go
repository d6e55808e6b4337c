// Package server assembles the scoring HTTP service: the provider backends,
// the scoring core with its result cache, request validation and the
// middleware chain, served by chi.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/teilomillet/promptscore/config"
	"github.com/teilomillet/promptscore/server/cache"
	"github.com/teilomillet/promptscore/server/handlers"
	"github.com/teilomillet/promptscore/server/metrics"
	"github.com/teilomillet/promptscore/server/middleware"
	"github.com/teilomillet/promptscore/server/provider"
	"github.com/teilomillet/promptscore/server/scoring"
	"github.com/teilomillet/promptscore/server/validation"
)

// Backend is the completion layer the server scores through: a completer
// plus the set of models it serves.
type Backend interface {
	scoring.Completer
	Supports(model string) bool
	DefaultModel() string
}

var _ Backend = (*provider.Manager)(nil)

// Options carries optional collaborators. Zero values are built from the
// configuration.
type Options struct {
	Logger *zap.Logger

	// Level, when set, follows logging.level across config reloads.
	Level *zap.AtomicLevel

	// Watcher delivers reloaded configurations.
	Watcher config.Watcher

	// Backend replaces the provider manager built from cfg.
	Backend Backend

	Metrics *metrics.Metrics
}

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
	level      *zap.AtomicLevel
	watcher    config.Watcher
	metrics    *metrics.Metrics
	scorer     *scoring.Scorer

	cfg      atomic.Pointer[config.Config]
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds a server for cfg.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.NewMetrics()
	}

	counter := validation.NewTokenCounter(cfg.Validation.TokenizerModel, logger.Named("tokens"))

	backend := opts.Backend
	if backend == nil {
		mgr, err := provider.NewManager(ctx, cfg, logger.Named("provider"), m, counter)
		if err != nil {
			return nil, fmt.Errorf("create backends: %w", err)
		}
		backend = mgr
	}

	scorer, err := newScorer(cfg, backend, logger.Named("scoring"), m)
	if err != nil {
		return nil, err
	}

	s := &Server{
		logger:  logger,
		level:   opts.Level,
		watcher: opts.Watcher,
		metrics: m,
		scorer:  scorer,
		done:    make(chan struct{}),
	}
	s.cfg.Store(cfg)

	v := validation.New(validation.Options{
		Schema:          scorer.Schema(),
		Models:          backend,
		Counter:         counter,
		MaxPromptTokens: cfg.Validation.MaxPromptTokens,
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
		Logger:          logger.Named("validation"),
	})

	s.httpServer = &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        s.routes(cfg, v),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	if s.watcher != nil {
		s.wg.Add(1)
		go s.watchConfig(s.watcher.Subscribe())
	}
	return s, nil
}

func newScorer(cfg *config.Config, backend Backend, logger *zap.Logger, m *metrics.Metrics) (*scoring.Scorer, error) {
	builder, err := scoring.NewBuilder(scoring.CurrentSchema)
	if err != nil {
		return nil, fmt.Errorf("create request builder: %w", err)
	}

	invoker := scoring.NewInvoker(backend, scoring.InvokerConfig{
		ReasoningPrefixes:           cfg.LLM.ReasoningModelPrefixes,
		ReasoningEffort:             cfg.LLM.ReasoningEffort,
		MaxCompletionTokens:         cfg.LLM.MaxCompletionTokens,
		MaxCompletionTokensCap:      cfg.LLM.MaxCompletionTokensCap,
		StandardMaxCompletionTokens: cfg.LLM.StandardMaxCompletionTokens,
		Temperature:                 cfg.LLM.Temperature,
		Seed:                        cfg.LLM.Seed,
		Verbosity:                   cfg.LLM.Verbosity,
	}, logger.Named("invoker"), m)

	opts := scoring.Options{
		Builder:      builder,
		Invoker:      invoker,
		Normalizer:   scoring.Normalizer{MaxTextRunes: cfg.Scoring.MaxTextRunes},
		DefaultModel: backend.DefaultModel(),
		Logger:       logger,
		Metrics:      m,
	}
	if cfg.Cache.Enabled {
		opts.Cache = cache.New[scoring.CachedEvaluation](cache.Options{
			TTL:            cfg.Cache.TTL,
			MaxEntries:     cfg.Cache.MaxEntries,
			Metrics:        m,
			ComputeTimeout: cfg.Server.ScoreTimeout,
		})
	}
	return scoring.NewScorer(opts)
}

func (s *Server) routes(cfg *config.Config, v *validation.Validator) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(s.logger.Named("http")))
	r.Use(middleware.Recovery(s.logger))
	r.Use(middleware.PrometheusMetrics(s.metrics))
	r.Use(middleware.CORS(cfg.Server.CORS))

	r.Get("/health", handlers.Health)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Group(func(r chi.Router) {
		if cfg.RateLimit.Enabled {
			r.Use(middleware.NewRateLimiter(cfg.RateLimit, s.metrics).Handler)
		}
		r.Use(middleware.Deadline(cfg.Server.ScoreTimeout))
		r.Use(v.Middleware)
		r.Method(http.MethodPost, "/score", handlers.NewScoreHandler(s.scorer, s.logger.Named("score")))
	})

	if dir := cfg.Server.StaticDir; dir != "" {
		index := filepath.Join(dir, "index.html")
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			http.ServeFile(w, r, index)
		})
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(dir))))
	}

	return r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Config returns the most recent configuration seen by the server.
func (s *Server) Config() *config.Config {
	return s.cfg.Load()
}

// watchConfig applies reloaded configurations. Only the log level is
// applied live; other sections take effect on restart.
func (s *Server) watchConfig(updates <-chan *config.Config) {
	defer s.wg.Done()
	for {
		select {
		case cfg, ok := <-updates:
			if !ok {
				return
			}
			s.applyConfig(cfg)
		case <-s.done:
			return
		}
	}
}

func (s *Server) applyConfig(cfg *config.Config) {
	prev := s.cfg.Swap(cfg)
	if s.level != nil {
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
			s.logger.Warn("Ignoring invalid log level", zap.String("level", cfg.Logging.Level))
		} else if lvl != s.level.Level() {
			s.level.SetLevel(lvl)
			s.logger.Info("Log level changed", zap.String("level", lvl.String()))
		}
	}
	if prev != nil && (prev.Server.Port != cfg.Server.Port || prev.LLM.Model != cfg.LLM.Model) {
		s.logger.Warn("Configuration change requires a restart to take effect",
			zap.Int("port", cfg.Server.Port),
			zap.String("model", cfg.LLM.Model))
	}
}

// Start listens on the configured port and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully within
// server.shutdown_timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("Server started", zap.String("address", ln.Addr().String()))
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown()
	case err, ok := <-errChan:
		s.stop()
		if ok {
			return err
		}
		return nil
	}
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown() error {
	defer s.stop()

	timeout := s.cfg.Load().Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("Shutting down server", zap.Duration("timeout", timeout))
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("error during server shutdown: %w", err)
	}
	return nil
}

func (s *Server) stop() {
	s.stopOnce.Do(func() { close(s.done) })
	s.wg.Wait()
}
