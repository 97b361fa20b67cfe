package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"aibot-license-server/config"
	"aibot-license-server/internal/auth"
	"aibot-license-server/internal/cache"
	"aibot-license-server/internal/database"
	"aibot-license-server/internal/events"
	"aibot-license-server/internal/license"
	"aibot-license-server/internal/vault"
)

// Server represents the HTTP API server
type Server struct {
	router         *gin.Engine
	httpServer     *http.Server
	repo           *database.Repository
	eventBus       *events.EventBus
	authService    *auth.Service
	licenseService *license.Service
	adminJWT       *auth.AdminJWTManager
	tokenCache     *cache.TokenCache
	vaultClient    *vault.Client
	hub            *WSHub
	config         config.Config
	logger         zerolog.Logger
}

// NewServer creates a new API server
func NewServer(
	cfg config.Config,
	repo *database.Repository,
	eventBus *events.EventBus,
	authService *auth.Service,
	licenseService *license.Service,
	loginLimiter auth.LoginLimiter, // Can be nil if Redis is disabled
	tokenCache *cache.TokenCache, // Can be nil if Redis is disabled
	vaultClient *vault.Client, // Can be nil if vault is disabled
	logger zerolog.Logger,
) *Server {
	if cfg.ServerConfig.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = strings.Split(cfg.ServerConfig.AllowedOrigins, ",")
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.ExposeHeaders = []string{"Content-Length"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:         router,
		repo:           repo,
		eventBus:       eventBus,
		authService:    authService,
		licenseService: licenseService,
		adminJWT:       auth.NewAdminJWTManager(cfg.AdminConfig.SessionSecret, cfg.AdminConfig.SessionTokenDuration),
		tokenCache:     tokenCache,
		vaultClient:    vaultClient,
		hub:            NewWSHub(logger),
		config:         cfg,
		logger:         logger.With().Str("component", "api").Logger(),
	}

	server.setupRoutes(loginLimiter)
	server.hub.AttachBus(eventBus)
	go server.hub.Run()

	return server
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes(loginLimiter auth.LoginLimiter) {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/api/health", s.handleHealth)

	api := s.router.Group("/api")

	// Client-facing auth endpoints.
	authHandlers := auth.NewHandlers(s.authService, loginLimiter, newTokenCacheAdapter(s.tokenCache))
	authHandlers.RegisterRoutes(api)

	// Desktop license endpoints.
	api.POST("/activate", s.handleActivate)
	api.POST("/verify", s.handleVerify)
	api.POST("/license_info", s.handleLicenseInfo)
	api.POST("/record_usage", s.handleRecordUsage)
	api.POST("/record_user_usage", s.handleRecordUserUsage)

	// Admin endpoints. Authenticated by admin key or a dashboard session JWT.
	api.POST("/admin_login", s.handleAdminLogin)
	admin := api.Group("")
	admin.Use(s.adminAuthMiddleware())
	{
		admin.POST("/create_license", s.handleCreateLicense)
		admin.POST("/extend_license", s.handleExtendLicense)
		admin.POST("/list_licenses", s.handleListLicenses)
		admin.POST("/create_user", s.handleCreateUser)
		admin.POST("/list_users", s.handleListUsers)
		admin.POST("/set_user_active", s.handleSetUserActive)
		admin.POST("/extend_user_subscription", s.handleExtendUserSubscription)
		admin.POST("/stats", s.handleStats)
	}

	// Admin event stream.
	s.router.GET("/ws/admin", s.handleAdminWS)
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.ServerConfig.Host, s.config.ServerConfig.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ServerConfig.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.ServerConfig.WriteTimeout) * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info().Msg("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the gin engine for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
