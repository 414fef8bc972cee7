// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
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

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/sentrapay/sentra/internal/auth"
	"github.com/sentrapay/sentra/internal/circuitbreaker"
	"github.com/sentrapay/sentra/internal/config"
	"github.com/sentrapay/sentra/internal/fraudapi"
	"github.com/sentrapay/sentra/internal/fraudreport"
	"github.com/sentrapay/sentra/internal/health"
	"github.com/sentrapay/sentra/internal/idgen"
	"github.com/sentrapay/sentra/internal/ledger"
	"github.com/sentrapay/sentra/internal/logging"
	"github.com/sentrapay/sentra/internal/metrics"
	"github.com/sentrapay/sentra/internal/payment"
	"github.com/sentrapay/sentra/internal/ratelimit"
	"github.com/sentrapay/sentra/internal/realtime"
	"github.com/sentrapay/sentra/internal/receiver"
	"github.com/sentrapay/sentra/internal/risk"
	"github.com/sentrapay/sentra/internal/security"
	"github.com/sentrapay/sentra/internal/sender"
	"github.com/sentrapay/sentra/internal/trust"
	"github.com/sentrapay/sentra/internal/validation"
	"github.com/sentrapay/sentra/migrations"
)

// Version is reported by the health endpoint; set by cmd/server.
var Version = "dev"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	fraudAPI     *fraudapi.Client
	breaker      *circuitbreaker.Breaker
	verifier     *receiver.Verifier
	coordinator  *risk.Coordinator
	book         *ledger.Book
	reports      *fraudreport.Registry
	profiles     sender.Store
	payments     *payment.Service
	sweeper      *payment.Sweeper
	realtimeHub  *realtime.Hub
	rateLimiter  *ratelimit.Limiter
	health       *health.Registry
	db           *sql.DB       // nil if using in-memory
	redis        *redis.Client // nil if fraud reports are in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	drainDelay   time.Duration
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

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

// WithFraudAPI sets a custom platform client (for testing)
func WithFraudAPI(c *fraudapi.Client) Option {
	return func(s *Server) {
		s.fraudAPI = c
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		health:     health.NewRegistry(),
		drainDelay: 5 * time.Second,
	}

	// Apply options first (may set client/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Context for initialization
	ctx := context.Background()

	var (
		ledgerStore  ledger.Store
		riskStore    risk.Store
		reportsStore fraudreport.Store
	)

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := migrations.Up(ctx, db); err != nil {
			return nil, err
		}

		s.db = db
		s.health.RegisterPing("database", db.PingContext)
		s.profiles = sender.NewPostgresStore(db)
		ledgerStore = ledger.NewPostgresStore(db)
		riskStore = risk.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		s.profiles = sender.NewMemoryStore()
		ledgerStore = ledger.NewMemoryStore()
		riskStore = risk.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Fraud reports in Redis when REDIS_URL is set
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		s.redis = redis.NewClient(opt)
		store := fraudreport.NewRedisStore(s.redis)
		if err := store.Ping(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		s.health.RegisterPing("redis", store.Ping)
		reportsStore = store
		s.logger.Info("fraud reports stored in redis", "url", maskDSN(cfg.RedisURL))
	} else {
		reportsStore = fraudreport.NewMemoryStore()
	}
	s.reports = fraudreport.NewRegistry(reportsStore, s.logger)

	// External fraud-scoring platform behind a circuit breaker
	if s.fraudAPI == nil {
		s.fraudAPI = fraudapi.New(fraudapi.Config{BaseURL: cfg.FraudAPIURL})
	}
	s.breaker = circuitbreaker.New(cfg.BreakerThreshold, cfg.BreakerOpenDuration)
	s.breaker.OnTransition(func(key string, from, to circuitbreaker.State) {
		s.logger.Warn("circuit breaker state change", "key", key, "from", from.String(), "to", to.String())
	})
	s.health.Register("fraud_scoring", func(context.Context) health.Status {
		state := s.breaker.State(risk.RemoteBreakerKey)
		return health.Status{
			Name:    "fraud_scoring",
			Healthy: state != circuitbreaker.StateOpen,
			Detail:  state.String(),
		}
	})

	s.verifier = receiver.NewVerifier(s.fraudAPI, cfg.ReceiverTimeout, s.logger)
	riskCfg := risk.DefaultConfig()
	riskCfg.Weights = risk.Weights{
		Behavior: cfg.RiskWeightBehavior,
		Amount:   cfg.RiskWeightAmount,
		Receiver: cfg.RiskWeightReceiver,
	}
	riskCfg.AmountFloor = cfg.RiskAmountFloor

	s.book = ledger.NewBook(ledgerStore, cfg.LedgerCapacity, s.logger).WithHistory(s.fraudAPI)
	s.coordinator = risk.NewCoordinator(
		risk.WithAnalyzer(risk.NewAnalyzer(riskCfg)),
		risk.WithDenylist(s.reports),
		risk.WithRemote(risk.NewRemoteStrategy(s.fraudAPI, s.breaker, cfg.FraudAPITimeout)),
		risk.WithResolver(s.verifier),
		risk.WithProfiles(s.profiles),
		risk.WithActivity(s.book),
		risk.WithStore(riskStore),
		risk.WithLogger(s.logger),
	)

	// Create realtime hub for WebSocket streaming
	s.realtimeHub = realtime.NewHub(s.logger)

	attempts := payment.NewMemoryStore()
	s.payments = payment.NewService(attempts, s.verifier, s.coordinator, s.book, s.reports, s.profiles, s.logger).
		WithConfirmer(s.fraudAPI).
		WithNotifier(s.realtimeHub).
		WithTTL(cfg.AttemptTTL)
	s.sweeper = payment.NewSweeper(s.payments, attempts, s.logger)

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
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

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.WithPrefix("req_")
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
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

		// Log level based on status code
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
			logger.Info("request completed",
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

	// V1 API group. Every request gets a sender: the token's subject or the
	// demo sender.
	v1 := s.router.Group("/v1")
	v1.Use(auth.Middleware(auth.NewVerifier(s.cfg.JWTSecret), s.cfg.DemoSenderID))

	// WebSocket for the sender's live events
	v1.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request, auth.SenderID(c))
	})

	// Read endpoints
	receiver.NewHandler(s.verifier).RegisterRoutes(v1)
	ledger.NewHandler(s.book).RegisterRoutes(v1)
	trust.NewHandler(s.book).RegisterRoutes(v1)
	fraudreport.NewHandler(s.reports, s.payments).RegisterRoutes(v1)

	// Scoring and payments are rate limited per sender
	s.rateLimiter = ratelimit.New(ratelimit.Config{RequestsPerMinute: s.cfg.RateLimitPerMinute})
	limited := v1.Group("")
	limited.Use(s.rateLimiter.Middleware(auth.SenderKey))
	{
		risk.NewHandler(s.coordinator).RegisterRoutes(limited)
		payment.NewHandler(s.payments).RegisterRoutes(limited)
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
	Realtime  map[string]any  `json:"realtime,omitempty"`
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
		Version:   Version,
		Checks:    checks,
		Realtime:  s.realtimeHub.Stats(),
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

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"fraud_api", s.cfg.FraudAPIURL,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start abandoned-attempt sweeper
	go s.sweeper.Start(runCtx)

	// Sample connection pool stats
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
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

	// Cancel the context for all background goroutines (hub, sweeper, collectors)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(s.drainDelay)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.sweeper.Stop()

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		}
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
