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

	"github.com/paymentops/reconciler/internal/config"
	"github.com/paymentops/reconciler/internal/detector"
	"github.com/paymentops/reconciler/internal/health"
	"github.com/paymentops/reconciler/internal/idgen"
	"github.com/paymentops/reconciler/internal/logging"
	"github.com/paymentops/reconciler/internal/metrics"
	"github.com/paymentops/reconciler/internal/realtime"
	"github.com/paymentops/reconciler/internal/recon"
	"github.com/paymentops/reconciler/internal/scheduler"
	"github.com/paymentops/reconciler/internal/sources"
	"github.com/paymentops/reconciler/internal/traces"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	reconService *recon.Service
	findings     *detector.Detector
	alertRouter  *detector.Router
	controller   *scheduler.Controller
	cron         *scheduler.Cron
	realtimeHub  *realtime.Hub
	healthReg    *health.Registry
	settlements  recon.SettlementSource
	events       recon.EventSource
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run
	stopTracing  func(context.Context) error

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

// WithSources injects custom settlement and event providers (for testing)
func WithSources(settlements recon.SettlementSource, events recon.EventSource) Option {
	return func(s *Server) {
		s.settlements = settlements
		s.events = events
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
	}

	// Apply options first (may set sources/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Context for initialization
	ctx := context.Background()

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		outcomeStore   recon.OutcomeStore
		alertStore     detector.StateStore
		executionStore scheduler.ExecutionStore
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		pgOutcomes := recon.NewPostgresStore(db)
		if err := pgOutcomes.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate outcome store", "error", err)
		}
		outcomeStore = pgOutcomes

		pgAlerts := detector.NewPostgresStateStore(db)
		if err := pgAlerts.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate alert store", "error", err)
		}
		alertStore = pgAlerts

		pgExecutions := scheduler.NewPostgresStore(db)
		if err := pgExecutions.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate execution store", "error", err)
		}
		executionStore = pgExecutions
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")
		outcomeStore = recon.NewMemoryStore()
		alertStore = detector.NewMemoryStateStore()
		executionStore = scheduler.NewMemoryStore()
	}

	// Settlement and event providers. The deterministic fixture source
	// serves both sides unless providers were injected; a Stripe key routes
	// the "stripe" platform to the live ledger.
	if s.settlements == nil || s.events == nil {
		static := sources.NewStaticSource(0)
		if s.events == nil {
			s.events = static
		}
		if s.settlements == nil {
			if cfg.StripeAPIKey != "" {
				s.settlements = &settlementMux{
					stripe:   sources.NewStripeSource(cfg.StripeAPIKey),
					fallback: static,
				}
				s.logger.Info("stripe settlement source enabled")
			} else {
				s.settlements = static
			}
		}
	}

	// Reconciliation service
	s.reconService = recon.NewService(s.settlements, s.events, outcomeStore, cfg.Platforms)
	s.logger.Info("reconciliation enabled", "platforms", cfg.Platforms)

	// Discrepancy detection and alert routing
	s.findings = detector.New(outcomeStore)

	channels := []detector.Channel{detector.NewLogChannel()}
	for i, u := range cfg.AlertWebhookURLs {
		channels = append(channels, detector.NewWebhookChannel(fmt.Sprintf("webhook-%d", i+1), u))
	}
	s.alertRouter = detector.NewRouter(channels, alertStore, detector.Recipients{
		Ops:        []string{"payments-ops"},
		OnCall:     []string{"payments-oncall"},
		Management: []string{"finance-leads"},
	})
	s.alertRouter.SetCooldown(cfg.CooldownWindow)
	s.logger.Info("alert routing enabled", "channels", len(channels), "cooldown", cfg.CooldownWindow)

	// Execution controller and cron triggers
	s.controller = scheduler.NewController(
		s.reconService, s.findings, s.alertRouter,
		executionStore, cfg.Workers, cfg.MaxRetries, cfg.RetryDelay,
	)

	hour, minute := cfg.DailyRunClock()
	s.cron = scheduler.NewCron(s.controller, s.reconService, s.alertRouter, s.alertRouter, scheduler.CronConfig{
		DailyHour:       hour,
		DailyMinute:     minute,
		MonitorInterval: cfg.MonitorInterval,
		BusinessHourMin: cfg.BusinessHourMin,
		BusinessHourMax: cfg.BusinessHourMax,
		Platforms:       cfg.Platforms,
	})
	s.logger.Info("scheduler enabled",
		"daily_run_at", cfg.DailyRunAt, "workers", cfg.Workers, "max_retries", cfg.MaxRetries)

	// Realtime hub for WebSocket streaming; feed it alert and execution
	// transitions.
	s.realtimeHub = realtime.NewHub(s.logger)
	s.alertRouter.SetNotifier(s.realtimeHub)
	s.controller.SetNotifier(s.realtimeHub)
	s.logger.Info("realtime streaming enabled")

	// Health checks
	s.healthReg = health.NewRegistry()
	if s.db != nil {
		db := s.db
		s.healthReg.Register("database", func(ctx context.Context) health.Status {
			ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	}
	s.healthReg.Register("scheduler", func(ctx context.Context) health.Status {
		h, err := s.controller.Health(ctx)
		if err != nil {
			return health.Status{Name: "scheduler", Healthy: false, Detail: err.Error()}
		}
		if h.Status == scheduler.HealthCritical {
			return health.Status{Name: "scheduler", Healthy: false, Detail: string(h.Status)}
		}
		return health.Status{Name: "scheduler", Healthy: true, Detail: string(h.Status)}
	})

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
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

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
			requestID = idgen.New()
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

	// API info
	s.router.GET("/api", s.infoHandler)

	// WebSocket for real-time streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})
	s.router.GET("/ws/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.realtimeHub.Stats())
	})

	// V1 API group
	v1 := s.router.Group("/v1")

	recon.NewHandler(s.reconService).RegisterRoutes(v1)
	detector.NewHandler(s.alertRouter).RegisterRoutes(v1)
	scheduler.NewHandler(s.controller).RegisterRoutes(v1)

	// Next scheduled run, useful for ops dashboards
	v1.GET("/scheduler/next", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"nextRun": s.cron.NextDailyRun()})
	})
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
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, checks := s.healthReg.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
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
	c.JSON(http.StatusOK, gin.H{
		"name":        "Reconciler",
		"description": "Settlement reconciliation pipeline",
		"version":     "0.1.0",
		"platforms":   s.cfg.Platforms,
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	// Tracing (no-op when no OTLP endpoint is configured)
	stop, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("tracing init failed, continuing without export", "error", err)
	} else {
		s.stopTracing = stop
	}

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
			"env", s.cfg.Env,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start cron triggers
	if err := s.cron.Start(logging.WithLogger(runCtx, s.logger)); err != nil {
		s.logger.Error("failed to start cron triggers", "error", err)
	}

	// DB stats for the metrics endpoint
	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready", "next_daily_run", s.cron.NextDailyRun())
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

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

	// Stop cron first so no new executions get submitted
	s.cron.Stop()
	s.logger.Info("cron triggers stopped")

	// Cancel the context for all background goroutines (hub, workers)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop the execution controller's retry timers and workers
	s.controller.Stop()
	s.logger.Info("execution controller stopped")

	// Flush traces
	if s.stopTracing != nil {
		if err := s.stopTracing(ctx); err != nil {
			s.logger.Warn("trace shutdown error", "error", err)
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

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

// settlementMux routes the "stripe" platform to the live Stripe ledger and
// everything else to the fallback source.
type settlementMux struct {
	stripe   recon.SettlementSource
	fallback recon.SettlementSource
}

func (m *settlementMux) FetchSettlements(ctx context.Context, platform string, date time.Time) ([]recon.SettlementRecord, error) {
	if platform == "stripe" {
		return m.stripe.FetchSettlements(ctx, platform, date)
	}
	return m.fallback.FetchSettlements(ctx, platform, date)
}
