// Package httpapi serves the HTTP surface: auth endpoints, the chamber
// query surface, the WebSocket upgrade endpoint, health, and metrics.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"fruitripe.dev/chamber-hub/internal/auth"
	"fruitripe.dev/chamber-hub/internal/store"
	"fruitripe.dev/chamber-hub/pkg/metrics"
)

// AuthService is the token lifecycle surface the handlers call.
type AuthService interface {
	Register(ctx context.Context, name, email, password string) (*auth.Session, error)
	Login(ctx context.Context, email, password string) (*auth.Session, error)
	Refresh(ctx context.Context, refreshToken string) (*auth.Session, error)
	Logout(ctx context.Context, refreshToken string) error
	ForgotPassword(ctx context.Context, email string) (*auth.ResetRequest, error)
	ResetPassword(ctx context.Context, token, newPassword string) error
	VerifyAccessToken(token string) (*auth.Claims, error)
}

// QueryStore is the read/upsert surface behind the chamber endpoints. Every
// method scopes by the caller's user id; ownership failures are
// indistinguishable from missing data.
type QueryStore interface {
	ListChambersWithLatest(ctx context.Context, userID uint) ([]store.ChamberWithReading, error)
	ReadingsInRange(ctx context.Context, chamberID, userID uint, since time.Time, limit int) ([]store.SensorReading, error)
	RecentDeviceEvents(ctx context.Context, chamberID, userID uint, limit int) ([]store.DeviceEvent, error)
	AlertRules(ctx context.Context, chamberID, userID uint) ([]store.AlertRule, error)
	UpsertAlertRule(ctx context.Context, rule *store.AlertRule) error
	ChamberOwned(ctx context.Context, chamberID, userID uint) (bool, error)
}

// claimsKey is the gin context key the auth middleware stores claims under.
const claimsKey = "auth_claims"

// Server is the HTTP API server.
type Server struct {
	logger     *slog.Logger
	engine     *gin.Engine
	httpServer *http.Server
	authSvc    AuthService
	queries    QueryStore
	config     *Config
	metrics    *metrics.HTTPMetrics // Optional metrics
}

// Config holds the configuration for the Server.
type Config struct {
	Logger *slog.Logger

	// Port is the HTTP listen port.
	Port int

	// CORSOrigins lists the allowed cross-origin callers. "*" allows all.
	CORSOrigins []string

	// AuthService handles the auth endpoints.
	AuthService AuthService

	// Queries handles the chamber endpoints.
	Queries QueryStore

	// WSHandler serves the realtime upgrade endpoint. Optional.
	WSHandler http.Handler
}

// NewServer creates a new Server instance.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Port <= 0 {
		return nil, errors.New("HTTP port must be positive")
	}

	if cfg.AuthService == nil {
		return nil, errors.New("auth service cannot be nil")
	}

	if cfg.Queries == nil {
		return nil, errors.New("query store cannot be nil")
	}

	s := &Server{
		logger:  cfg.Logger,
		authSvc: cfg.AuthService,
		queries: cfg.Queries,
		config:  cfg,
	}
	s.engine = s.setupRoutes()

	return s, nil
}

// SetMetrics sets the metrics collector for this server.
// Must be called before Run.
func (s *Server) SetMetrics(m *metrics.HTTPMetrics) {
	s.metrics = m
}

// Engine exposes the router for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// setupRoutes builds the gin router.
func (s *Server) setupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(s.observe())

	corsCfg := cors.DefaultConfig()
	if len(s.config.CORSOrigins) == 0 || contains(s.config.CORSOrigins, "*") {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = s.config.CORSOrigins
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
	engine.Use(cors.New(corsCfg))

	engine.GET("/healthz", s.handleHealth)
	engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	if s.config.WSHandler != nil {
		engine.GET("/ws", gin.WrapH(s.config.WSHandler))
	}

	authGroup := engine.Group("/api/auth")
	{
		authGroup.POST("/register", s.handleRegister)
		authGroup.POST("/login", s.handleLogin)
		authGroup.POST("/refresh", s.handleRefresh)
		authGroup.POST("/logout", s.handleLogout)
		authGroup.POST("/forgot", s.handleForgotPassword)
		authGroup.POST("/reset", s.handleResetPassword)
	}

	api := engine.Group("/api")
	api.Use(s.requireAuth())
	{
		api.GET("/chambers", s.handleListChambers)
		api.GET("/chambers/:id/readings", s.handleReadings)
		api.GET("/chambers/:id/events", s.handleEvents)
		api.GET("/chambers/:id/alerts", s.handleListAlerts)
		api.PUT("/chambers/:id/alerts", s.handleUpsertAlert)
	}

	return engine
}

// observe records request metrics.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.metrics == nil {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		s.metrics.RequestsTotal.WithLabelValues(
			c.Request.Method, path, strconv.Itoa(c.Writer.Status()),
		).Inc()
		s.metrics.RequestDuration.WithLabelValues(
			c.Request.Method, path,
		).Observe(time.Since(start).Seconds())
	}
}

// requireAuth verifies the bearer access token and stores the claims on the
// request context.
func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		claims, err := s.authSvc.VerifyAccessToken(header[len(prefix):])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

// currentClaims returns the verified claims set by requireAuth.
func currentClaims(c *gin.Context) *auth.Claims {
	value, ok := c.Get(claimsKey)
	if !ok {
		return nil
	}
	claims, _ := value.(*auth.Claims)
	return claims
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Run starts the HTTP server and blocks until the context is canceled.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("starting HTTP server", "address", s.httpServer.Addr)

	httpErr := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(httpErr)
	}()

	select {
	case err := <-httpErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.logger.Info("shutting down HTTP server")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown failed: %w", err)
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
