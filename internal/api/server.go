package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"

	"trade-setup-assistant/config"
	"trade-setup-assistant/internal/acquisition"
	"trade-setup-assistant/internal/analysis"
	"trade-setup-assistant/internal/cache"
	"trade-setup-assistant/internal/events"
	"trade-setup-assistant/internal/exchange"
	"trade-setup-assistant/internal/logging"
	"trade-setup-assistant/internal/metrics"
	"trade-setup-assistant/internal/order"
	"trade-setup-assistant/internal/risk"
	"trade-setup-assistant/internal/strategy"
	"trade-setup-assistant/internal/vault"
)

// AccessKeyHeader carries the optional shared access key
const AccessKeyHeader = "X-Access-Key"

// ExecutionStore persists placement reports
type ExecutionStore interface {
	SaveExecution(ctx context.Context, report *order.ExecutionReport) (int64, error)
}

// HealthCheck reports the state of one dependency
type HealthCheck func(ctx context.Context) error

// Deps are the collaborators the API drives. Executions and Checks may be nil.
type Deps struct {
	Exchange    exchange.ExchangeClient
	Credentials *vault.Client
	Risk        *risk.Manager
	Orders      *order.Manager
	Catalog     *strategy.Catalog
	Sessions    *acquisition.Registry
	Dispatcher  *analysis.Dispatcher
	Series      cache.SeriesStore
	Executions  ExecutionStore
	Bus         *events.EventBus
	Checks      map[string]HealthCheck
}

// Server represents the HTTP API server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	config     config.ServerConfig
	deps       Deps
	started    time.Time
}

// NewServer creates a new API server
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	if cfg.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", AccessKeyHeader}
	corsConfig.ExposeHeaders = []string{"Content-Length"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:  router,
		config:  cfg,
		deps:    deps,
		started: time.Now(),
	}
	s.setupRoutes()
	return s
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group("/api")
	api.GET("/health", s.handleHealth)

	protected := api.Group("")
	protected.Use(accessKeyMiddleware(s.config.AccessKeyHash))
	{
		protected.POST("/credentials", s.handleStoreCredentials)
		protected.DELETE("/credentials/:profile", s.handleDeleteCredentials)

		ex := protected.Group("/exchange")
		{
			ex.GET("/price/:symbol", s.handleGetPrice)
			ex.GET("/symbols", s.handleListSymbols)
			ex.GET("/account", s.handleGetAccount)
			ex.GET("/authorized-symbols", s.handleGetAuthorizedSymbols)
			ex.POST("/diagnostics", s.handleDiagnostics)
		}

		protected.GET("/strategies", s.handleListStrategies)
		protected.GET("/risk/parameters", s.handleGetRiskParameters)
		protected.PUT("/risk/parameters", s.handleSetRiskParameters)
		protected.POST("/risk/evaluate", s.handleEvaluateRisk)
		protected.POST("/orders", s.handlePlaceOrder)
		protected.GET("/orders", s.handleOrderHistory)
		protected.GET("/orders/breaker", s.handleBreakerStatus)
		protected.POST("/orders/breaker/reset", s.handleBreakerReset)

		protected.PUT("/series/:name", s.handlePutSeries)
		protected.GET("/series", s.handleListSeries)
		protected.DELETE("/series/:name", s.handleDeleteSeries)

		sessions := protected.Group("/sessions")
		{
			sessions.POST("", s.handleCreateSession)
			sessions.GET("/:id", s.handleGetSession)
			sessions.DELETE("/:id", s.handleDeleteSession)
			sessions.POST("/:id/start", s.handleStartSession)
			sessions.POST("/:id/images", s.handleSubmitImage)
			sessions.POST("/:id/preload", s.handlePreload)
			sessions.POST("/:id/reset", s.handleResetSession)
			sessions.POST("/:id/analyze", s.handleAnalyze)
			sessions.GET("/:id/capture", s.handleCapture)
		}
	}
}

// accessKeyMiddleware checks X-Access-Key against a bcrypt hash. An empty
// hash disables the check.
func accessKeyMiddleware(hash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if hash == "" {
			c.Next()
			return
		}
		key := c.GetHeader(AccessKeyHeader)
		if key == "" {
			key = c.Query("access_key") // browsers cannot set headers on websocket upgrades
		}
		if key == "" || bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) != nil {
			errorResponse(c, http.StatusUnauthorized, "invalid or missing access key")
			c.Abort()
			return
		}
		c.Next()
	}
}

// requestLogger logs each request through the structured logger and
// records its latency
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx, log := logging.WithTraceContext(c.Request.Context())
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		metrics.ObserveHTTPRequest(c.Request.Method, route, status, time.Since(start))

		if route == "/metrics" || route == "/api/health" {
			return
		}
		l := log.WithDuration(time.Since(start))
		if status >= http.StatusInternalServerError {
			l.Warn("Request failed", "method", c.Request.Method, "route", route, "status", status)
		} else {
			l.Debug("Request served", "method", c.Request.Method, "route", route, "status", status)
		}
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: seconds(s.config.ReadTimeout, 15),
		// analysis calls and the capture websocket outlive a short write deadline
		WriteTimeout: seconds(s.config.WriteTimeout, 180),
		IdleTimeout:  60 * time.Second,
	}

	logging.WithComponent("api").Info("Starting HTTP server", "addr", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	logging.WithComponent("api").Info("Shutting down HTTP server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func seconds(v, fallback int) time.Duration {
	if v <= 0 {
		v = fallback
	}
	return time.Duration(v) * time.Second
}

// handleHealth returns server health status
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	components := gin.H{}
	healthy := true
	for name, check := range s.deps.Checks {
		if err := check(ctx); err != nil {
			components[name] = "unhealthy: " + err.Error()
			healthy = false
			continue
		}
		components[name] = "healthy"
	}

	body := gin.H{
		"status":     "healthy",
		"components": components,
		"uptime":     time.Since(s.started).Round(time.Second).String(),
	}
	if s.deps.Sessions != nil {
		body["sessions"] = s.deps.Sessions.Len()
	}
	if !healthy {
		body["status"] = "degraded"
	}
	c.JSON(http.StatusOK, body)
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

// successResponse is a helper to send success responses
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

// profileParam reads the credential profile from the query or a header
func profileParam(c *gin.Context) string {
	if p := strings.TrimSpace(c.Query("profile")); p != "" {
		return p
	}
	return c.GetHeader("X-Credential-Profile")
}

// credentials resolves the profile's stored credentials, writing an error
// response when none are available
func (s *Server) credentials(c *gin.Context, profile string) (exchange.Credentials, bool) {
	if s.deps.Credentials == nil {
		errorResponse(c, http.StatusServiceUnavailable, "credential store not configured")
		return exchange.Credentials{}, false
	}
	creds, err := s.deps.Credentials.Get(c.Request.Context(), profile)
	if err != nil {
		if errors.Is(err, vault.ErrNotFound) || errors.Is(err, exchange.ErrMissingCredentials) {
			errorResponse(c, http.StatusPreconditionFailed, exchange.ErrMissingCredentials.Error())
			return exchange.Credentials{}, false
		}
		errorResponse(c, http.StatusBadGateway, err.Error())
		return exchange.Credentials{}, false
	}
	return creds, true
}

// exchangeError maps a venue error to an HTTP status, keeping the body
func exchangeError(c *gin.Context, err error) {
	var apiErr *exchange.APIError
	switch {
	case errors.Is(err, exchange.ErrMissingCredentials), errors.Is(err, exchange.ErrEmptySecret):
		errorResponse(c, http.StatusPreconditionFailed, err.Error())
	case errors.As(err, &apiErr):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":          true,
			"message":        err.Error(),
			"exchangeStatus": apiErr.StatusCode,
			"exchangeBody":   apiErr.Body,
		})
	default:
		errorResponse(c, http.StatusBadGateway, err.Error())
	}
}
