// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mbd888/mevguard/internal/config"
	"github.com/mbd888/mevguard/internal/execution"
	"github.com/mbd888/mevguard/internal/guard"
	"github.com/mbd888/mevguard/internal/health"
	"github.com/mbd888/mevguard/internal/journey"
	"github.com/mbd888/mevguard/internal/logging"
	"github.com/mbd888/mevguard/internal/metrics"
	"github.com/mbd888/mevguard/internal/pool"
	"github.com/mbd888/mevguard/internal/ratelimit"
	"github.com/mbd888/mevguard/internal/realtime"
	"github.com/mbd888/mevguard/internal/security"
	"github.com/mbd888/mevguard/internal/traces"
	"github.com/mbd888/mevguard/internal/tuning"
	"github.com/mbd888/mevguard/internal/validation"
	"github.com/mbd888/mevguard/migrations"
)

// DefaultDrainDelay is how long Shutdown waits for load balancers to stop
// routing before closing listeners.
const DefaultDrainDelay = 5 * time.Second

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg           *config.Config
	guard         *guard.Service
	journeys      journey.Store
	executor      execution.Executor
	realtimeHub   *realtime.Hub
	tuning        *tuning.Loader
	stopWatch     func()
	observer      *pool.Observer
	kafka         *guard.KafkaReporter
	kafkaProducer sarama.SyncProducer
	health        *health.Registry
	rateLimiter   *ratelimit.Limiter
	db            *sql.DB            // nil unless DATABASE_URL is set
	bolt          *journey.BoltStore // nil unless JOURNEY_ARCHIVE_PATH is set
	router        *gin.Engine
	httpSrv       *http.Server
	logger        *slog.Logger
	drainDelay    time.Duration
	cancelRunCtx  context.CancelFunc // cancels background goroutines started in Run
	stopTracing   func(context.Context) error

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithExecutor replaces the built-in execution simulator
func WithExecutor(e execution.Executor) Option {
	return func(s *Server) {
		s.executor = e
	}
}

// WithKafkaProducer publishes terminal journeys through p instead of dialing
// cfg.KafkaBrokers (for testing)
func WithKafkaProducer(p sarama.SyncProducer) Option {
	return func(s *Server) {
		s.kafkaProducer = p
	}
}

// WithDrainDelay overrides DefaultDrainDelay
func WithDrainDelay(d time.Duration) Option {
	return func(s *Server) {
		s.drainDelay = d
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		health:     health.NewRegistry(),
		drainDelay: DefaultDrainDelay,
	}

	// Apply options first (may set executor/logger)
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Journey archive: Postgres, a bbolt file, or in-memory
	switch {
	case cfg.DatabaseURL != "":
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := migrations.Up(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}

		s.db = db
		s.journeys = journey.NewPostgresStore(db)
		s.health.Register("database", health.Ping("database", db.PingContext))
		s.logger.Info("using PostgreSQL journey archive", "url", maskDSN(cfg.DatabaseURL))
	case cfg.ArchivePath != "":
		store, err := journey.OpenBoltStore(cfg.ArchivePath)
		if err != nil {
			return nil, err
		}
		s.bolt = store
		s.journeys = store
		s.health.Register("archive", health.Ping("archive", store.Ping))
		s.logger.Info("using bbolt journey archive", "path", cfg.ArchivePath)
	default:
		s.journeys = journey.NewMemoryStore()
		s.logger.Info("using in-memory journey archive (data will not persist)")
	}

	// Scoring configuration, hot-reloaded when TUNING_FILE is set
	loader, err := tuning.NewLoader(cfg.TuningFile, s.logger)
	if err != nil {
		s.closeDB()
		return nil, fmt.Errorf("failed to load tuning: %w", err)
	}
	s.tuning = loader

	// Realtime hub: WebSocket fan-out of transitions, terminal journeys, and pool updates
	s.realtimeHub = realtime.NewHub(s.logger)

	if s.executor == nil {
		s.executor = execution.NewSimulator(execution.WithLatency(cfg.SimulatedLatency))
		s.logger.Info("using execution simulator", "latency", cfg.SimulatedLatency)
	}

	guardOpts := []guard.Option{
		guard.WithLogger(s.logger),
		guard.WithRelayURL(cfg.PrivateRelayURL),
		guard.WithExecutionTimeout(cfg.ExecutionTimeout),
		guard.WithBatchConcurrency(cfg.BatchConcurrency),
		guard.WithStore(s.journeys),
		guard.WithReporter("realtime", s.realtimeHub),
		guard.WithTransitionListener(s.realtimeHub),
	}

	// Terminal journey stream
	switch {
	case s.kafkaProducer != nil:
		s.kafka = guard.NewKafkaReporterWithProducer(s.kafkaProducer, cfg.KafkaTopic)
	case len(cfg.KafkaBrokers) > 0:
		k, err := guard.NewKafkaReporter(cfg.KafkaBrokers, cfg.KafkaTopic, nil)
		if err != nil {
			s.closeDB()
			return nil, fmt.Errorf("failed to connect to kafka: %w", err)
		}
		s.kafka = k
		s.logger.Info("publishing journeys to kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	if s.kafka != nil {
		guardOpts = append(guardOpts, guard.WithReporter("kafka", s.kafka))
	}

	holder := pool.NewHolder()
	s.guard, err = guard.New(holder, s.executor, loader.Current(), guardOpts...)
	if err != nil {
		s.closeDB()
		return nil, fmt.Errorf("failed to create protection service: %w", err)
	}
	loader.OnChange(func(t *tuning.Tuning) {
		if err := s.guard.Retune(t); err != nil {
			s.logger.Error("rejected reloaded tuning", "error", err)
			return
		}
		s.logger.Info("tuning applied")
	})

	// Pool observer (optional; without it the pool is push-only via PUT /v1/pool)
	if cfg.RPCURL != "" {
		obsCfg := pool.DefaultObserverConfig()
		obsCfg.RPCURL = cfg.RPCURL
		obsCfg.PollInterval = cfg.PoolPollInterval
		observer, err := pool.DialObserver(obsCfg, holder, s.watchedPattern, s.logger,
			pool.WithPublisher(s.realtimeHub))
		if err != nil {
			s.closeDB()
			return nil, err
		}
		s.observer = observer
		s.health.Register("pool_observer", health.Flag("pool_observer", observer.Healthy, "rpc circuit open"))
	}

	// Gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// watchedPattern feeds the observer's same-target window with the selectors
// the current tuning treats as swap or arbitrage calls.
func (s *Server) watchedPattern(payload []byte) bool {
	cfg := s.tuning.Current().Threat
	return cfg.SwapSelectors.Matches(payload) || cfg.ArbitrageSelectors.Matches(payload)
}

func (s *Server) closeDB() {
	if s.db != nil {
		_ = s.db.Close()
	}
	if s.bolt != nil {
		_ = s.bolt.Close()
	}
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.AllowedOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	if s.cfg.RateLimitRPM > 0 {
		s.rateLimiter = ratelimit.New(ratelimit.ForRPM(s.cfg.RateLimitRPM))
		s.router.Use(s.rateLimiter.Middleware())
	}

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Keep an upstream request ID (load balancer, client SDK)
		requestID := validation.SanitizeString(c.GetHeader("X-Request-ID"), 64)
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger.With("request_id", requestID))
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Debug("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for real-time journey streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	v1 := s.router.Group("/v1")
	{
		v1.GET("/info", s.infoHandler)
		guard.NewHandler(s.guard, s.realtimeHub).RegisterRoutes(v1)
		journey.NewHandler(s.journeys).RegisterRoutes(v1)
	}
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, checks := s.health.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   s.cfg.Version,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	t := s.tuning.Current()
	c.JSON(http.StatusOK, gin.H{
		"version":      s.cfg.Version,
		"privateRelay": s.cfg.PrivateRelayURL,
		"poolSource":   s.poolSource(),
		"archive":      s.archiveKind(),
		"weights":      t.Threat.Weights,
		"bands":        t.Threat.Bands,
		"realtime":     s.realtimeHub.Stats(),
	})
}

func (s *Server) poolSource() string {
	if s.observer != nil {
		return "rpc"
	}
	return "push"
}

func (s *Server) archiveKind() string {
	switch {
	case s.db != nil:
		return "postgres"
	case s.bolt != nil:
		return "bolt"
	default:
		return "memory"
	}
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	stopTracing, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.cfg.Version, s.logger)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	s.stopTracing = stopTracing

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.cfg.ExecutionTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"relay", s.cfg.PrivateRelayURL,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)

	if s.observer != nil {
		s.observer.Start(runCtx)
	}

	if s.cfg.TuningFile != "" {
		stop, err := s.tuning.Watch()
		if err != nil {
			s.logger.Error("failed to watch tuning file", "path", s.cfg.TuningFile, "error", err)
		} else {
			s.stopWatch = stop
		}
	}

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		_ = s.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Give load balancers time to stop sending traffic
	time.Sleep(s.drainDelay)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var shutdownErr error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			shutdownErr = err
		}
	}

	// Background goroutines stop after in-flight requests have drained
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	if s.observer != nil {
		s.observer.Stop()
		s.logger.Info("pool observer stopped")
	}

	if s.stopWatch != nil {
		s.stopWatch()
		s.logger.Info("tuning watcher stopped")
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.kafka != nil {
		if err := s.kafka.Close(); err != nil {
			s.logger.Error("kafka producer close error", "error", err)
		}
	}

	if s.stopTracing != nil {
		if err := s.stopTracing(ctx); err != nil {
			s.logger.Error("tracing shutdown error", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}
	if s.bolt != nil {
		if err := s.bolt.Close(); err != nil {
			s.logger.Error("journey archive close error", "error", err)
		}
	}

	s.logger.Info("server stopped")
	return shutdownErr
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Guard returns the protection service
func (s *Server) Guard() *guard.Service {
	return s.guard
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
