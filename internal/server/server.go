// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"log/slog"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/mbd888/wardflow/internal/config"
	"github.com/mbd888/wardflow/internal/dataset"
	"github.com/mbd888/wardflow/internal/health"
	"github.com/mbd888/wardflow/internal/logging"
	"github.com/mbd888/wardflow/internal/metrics"
	"github.com/mbd888/wardflow/internal/ratelimit"
	"github.com/mbd888/wardflow/internal/realtime"
	"github.com/mbd888/wardflow/internal/security"
	"github.com/mbd888/wardflow/internal/traces"
	"github.com/mbd888/wardflow/internal/validation"
	"github.com/mbd888/wardflow/internal/wardmatch"
	"github.com/mbd888/wardflow/internal/webhooks"
	"github.com/mbd888/wardflow/internal/workflow"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	sessions     workflow.Store
	datasets     dataset.Store
	wardRegistry wardmatch.Registry
	service      *workflow.Service
	sessionTimer *workflow.Timer
	dispatcher   *webhooks.Dispatcher
	webhookStore webhooks.Store
	realtimeHub  *realtime.Hub
	rateLimiter  *ratelimit.Limiter
	checks       *health.Registry
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

// WithClassifier injects an intent classifier (for testing, or to plug in
// an external NLU service)
func WithClassifier(c workflow.IntentClassifier) Option {
	return func(s *Server) {
		if s.service != nil {
			s.service.SetClassifier(c)
		}
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
		checks: health.NewRegistry(),
	}

	// Context for initialization
	ctx := context.Background()

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
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.sessions = workflow.NewPostgresStore(db)
		s.webhookStore = webhooks.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		s.sessions = workflow.NewMemoryStore()
		s.webhookStore = webhooks.NewMemoryStore()
		s.logger.Info("using in-memory storage (sessions will not persist)")
	}

	// Datasets are held in memory regardless of session storage: uploads are
	// immutable working sets for the lifetime of an analysis.
	s.datasets = dataset.NewMemoryStore()

	// Canonical ward registry, optionally seeded from a JSON file
	registry := wardmatch.NewMemoryRegistry()
	s.wardRegistry = registry
	if cfg.WardRegistryPath != "" {
		n, err := loadWardRegistry(ctx, registry, cfg.WardRegistryPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load ward registry: %w", err)
		}
		s.logger.Info("ward registry loaded", "path", cfg.WardRegistryPath, "wards", n)
	} else {
		s.logger.Warn("no ward registry configured, ward names will not be reconciled")
	}

	// Workflow engine
	s.service = workflow.NewService(s.sessions, s.datasets, s.wardRegistry, workflow.Config{
		FuzzyCutoff:    cfg.FuzzyCutoff,
		UrbanThreshold: cfg.UrbanTPRThreshold,
		RuralThreshold: cfg.RuralTPRThreshold,
		MinConfidence:  cfg.ClassifierMinConf,
	})
	s.sessionTimer = workflow.NewTimer(s.service, s.sessions, cfg.SessionTTL, s.logger)

	// Webhook dispatcher
	s.dispatcher = webhooks.NewDispatcher(s.webhookStore)
	s.logger.Info("webhooks enabled")

	// Realtime hub for WebSocket streaming
	s.realtimeHub = realtime.NewHub(s.logger)
	s.logger.Info("realtime streaming enabled")

	// Fan session events out to both WebSocket clients and webhook subscribers
	s.service.SetEmitter(fanoutEmitter{
		realtime.NewEmitter(s.realtimeHub),
		webhooks.NewEmitter(s.dispatcher, s.logger),
	})

	// Apply options (may swap logger or inject a classifier)
	for _, opt := range opts {
		opt(s)
	}

	s.registerHealthChecks()

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

// loadWardRegistry reads a JSON array of canonical wards into the registry.
func loadWardRegistry(ctx context.Context, registry *wardmatch.MemoryRegistry, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var wards []wardmatch.CanonicalWard
	if err := json.Unmarshal(data, &wards); err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := registry.Load(ctx, wards); err != nil {
		return 0, err
	}
	return len(wards), nil
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

func (s *Server) registerHealthChecks() {
	if s.db != nil {
		s.checks.Register("database", func(ctx context.Context) health.Status {
			ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			if err := s.db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	}
	s.checks.Register("ward_registry", func(ctx context.Context) health.Status {
		states, err := s.wardRegistry.States(ctx)
		if err != nil {
			return health.Status{Name: "ward_registry", Healthy: false, Detail: err.Error()}
		}
		return health.Status{
			Name:    "ward_registry",
			Healthy: true,
			Detail:  fmt.Sprintf("%d state(s) loaded", len(states)),
		}
	})
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

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit, sized for bulk facility-record uploads
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxUploadSize))

	// Rate limiting
	rlCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPS > 0 {
		rlCfg.RequestsPerMinute = s.cfg.RateLimitRPS * 60
	}
	s.rateLimiter = ratelimit.New(rlCfg)
	s.router.Use(s.rateLimiter.Middleware())

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
			requestID = generateRequestID()
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

	// WebSocket for real-time streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// API info
	s.router.GET("/", s.infoHandler)
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")
	// Validate :id URL params on all v1 routes (no-op when param absent)
	v1.Use(validation.IDParamMiddleware())

	// Dataset upload and retrieval
	dataset.NewHandler(s.datasets).RegisterRoutes(v1)

	// Analysis sessions
	workflow.NewHandler(s.service).RegisterRoutes(v1)

	// Webhook subscriptions
	webhooks.NewHandler(s.webhookStore).RegisterRoutes(v1)

	// Canonical ward registry
	v1.POST("/wards", s.loadWardsHandler)
	v1.GET("/wards/states", s.wardStatesHandler)
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

	healthy, statuses := s.checks.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    statuses,
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
		"name":        "Wardflow",
		"description": "Guided ward-level test positivity rate analysis",
		"version":     "0.1.0",
		"endpoints": gin.H{
			"datasets": "POST /v1/datasets, GET /v1/datasets",
			"sessions": "POST /v1/sessions, POST /v1/sessions/{id}/messages",
			"realtime": "GET /ws",
			"webhooks": "POST /v1/webhooks",
		},
	})
}

// loadWardsHandler handles POST /v1/wards
// Bulk-loads canonical ward entries into the registry, replacing any
// previously loaded wards for the states present in the payload.
func (s *Server) loadWardsHandler(c *gin.Context) {
	var req struct {
		Wards []wardmatch.CanonicalWard `json:"wards" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Body must be {\"wards\": [{code, name, lga, state}, ...]}",
		})
		return
	}

	for i, w := range req.Wards {
		if w.Name == "" || w.LGA == "" || w.State == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_ward",
				"message": fmt.Sprintf("ward %d is missing name, lga, or state", i),
			})
			return
		}
	}

	if err := s.wardRegistry.Load(c.Request.Context(), req.Wards); err != nil {
		logging.L(c.Request.Context()).Error("failed to load wards", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load ward registry",
		})
		return
	}

	s.logger.Info("ward registry updated", "wards", len(req.Wards))
	c.JSON(http.StatusOK, gin.H{"loaded": len(req.Wards)})
}

// wardStatesHandler handles GET /v1/wards/states
func (s *Server) wardStatesHandler(c *gin.Context) {
	states, err := s.wardRegistry.States(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list registry states",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"states": states,
		"count":  len(states),
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

	// Tracing (no-op when OTLP_ENDPOINT is unset)
	stopTracing, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.stopTracing = stopTracing
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
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Export connection pool stats
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Start idle-session expiry sweep
	go s.sessionTimer.Start(runCtx)

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
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

	// Cancel the context for all background goroutines (hub, session timer)
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

	// Stop session expiry timer
	if s.sessionTimer != nil {
		s.sessionTimer.Stop()
		s.logger.Info("session timer stopped")
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Flush traces
	if s.stopTracing != nil {
		if err := s.stopTracing(ctx); err != nil {
			s.logger.Error("trace shutdown error", "error", err)
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

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}

// fanoutEmitter forwards each workflow event to every registered emitter.
type fanoutEmitter []workflow.EventEmitter

func (f fanoutEmitter) Emit(event workflow.Event) {
	for _, e := range f {
		e.Emit(event)
	}
}

var _ workflow.EventEmitter = (fanoutEmitter)(nil)
