// Package server is the HTTP edge of the gateway: the OpenAI-compatible
// /v1 surface and the cookie-authenticated admin surface.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/DreamFate/DeepClaude/internal/auth"
	"github.com/DreamFate/DeepClaude/internal/config"
	"github.com/DreamFate/DeepClaude/internal/data/db"
	"github.com/DreamFate/DeepClaude/internal/dispatch"
	"github.com/DreamFate/DeepClaude/internal/server/middleware"
)

// Server is the gateway HTTP server.
type Server struct {
	config     *config.Config
	store      *db.Store
	dispatcher *dispatch.Dispatcher
	jwtManager *auth.JWTManager
	engine     *gin.Engine
	httpServer *http.Server

	authMW *middleware.AuthMiddleware

	// options
	host    string
	version string
}

// ServerOption is a functional option for Server configuration.
type ServerOption func(*Server)

// WithHost sets the listen host. Empty means all interfaces.
func WithHost(host string) ServerOption {
	return func(s *Server) {
		s.host = host
	}
}

// WithVersion sets the version string reported by the root endpoint.
func WithVersion(version string) ServerOption {
	return func(s *Server) {
		s.version = version
	}
}

// NewServer wires the edge over the store and dispatcher.
func NewServer(cfg *config.Config, store *db.Store, dispatcher *dispatch.Dispatcher, opts ...ServerOption) (*Server, error) {
	jwtManager, err := auth.NewJWTManager(auth.ConfigFromEnv())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize session tokens: %w", err)
	}

	server := &Server{
		config:     cfg,
		store:      store,
		dispatcher: dispatcher,
		jwtManager: jwtManager,
		engine:     gin.New(),
		version:    "dev",
	}
	for _, opt := range opts {
		opt(server)
	}

	server.authMW = middleware.NewAuthMiddleware(store, jwtManager)
	server.setupMiddleware()
	server.setupRoutes()
	return server, nil
}

func (s *Server) setupMiddleware() {
	s.engine.Use(gin.Recovery())
	s.engine.Use(middleware.CORS())
}

func (s *Server) setupRoutes() {
	gateway := s.authMW.GatewayAuth()
	session := s.authMW.SessionAuth()

	s.engine.GET("/", gateway, s.Root)

	v1 := s.engine.Group("/v1", gateway)
	{
		v1.POST("/chat/completions", s.ChatCompletions)
		v1.POST("/cancel", s.CancelRequest)
		v1.GET("/models", s.ListModels)
	}

	authGroup := s.engine.Group("/auth")
	{
		authGroup.POST("/verify", s.AuthVerify)
		authGroup.GET("/status", s.AuthStatus)
		authGroup.POST("/logout", s.AuthLogout)
	}

	providers := s.engine.Group("/providers", session)
	{
		providers.GET("/get_all_providers", s.GetAllProviders)
		providers.GET("/get_all_valid_provider", s.GetAllValidProviders)
		providers.GET("/get_provider_for_id/:id", s.GetProviderByID)
		providers.GET("/get_provider_for_name/:name", s.GetProviderByName)
		providers.POST("/save_provider", s.SaveProvider)
		providers.DELETE("/delete_provider/:id", s.DeleteProvider)
	}

	models := s.engine.Group("/models", session)
	{
		models.GET("/get_all_models", s.GetAllModels)
		models.GET("/get_all_models/:model_type", s.GetAllModelsByType)
		models.GET("/get_all_valid_models", s.GetAllValidModels)
		models.GET("/get_model_for_id/:id", s.GetModelByID)
		models.GET("/get_model_for_name/:name", s.GetModelByName)
		models.POST("/save_model", s.SaveModel)
		models.DELETE("/delete_model/:id", s.DeleteModel)
	}

	composites := s.engine.Group("/composite_models", session)
	{
		composites.GET("/get_all_composite_models", s.GetAllComposites)
		composites.GET("/get_composite_model_for_id/:id", s.GetCompositeByID)
		composites.GET("/get_composite_model_for_name/:name", s.GetCompositeByName)
		composites.POST("/save_composite_model", s.SaveComposite)
		composites.DELETE("/delete_composite_model/:id", s.DeleteComposite)
	}

	settings := s.engine.Group("/system_settings", session)
	{
		settings.GET("/get_all_settings", s.GetAllSettings)
		settings.GET("/get_setting_for_key/:key", s.GetSettingForKey)
		settings.POST("/save_setting", s.SaveSettings)
		settings.POST("/save_api_key", s.SaveAPIKey)
		settings.POST("/set_log_level", s.SetLogLevel)
		settings.POST("/set_tcp_connector", s.SetTCPConnector)
		settings.GET("/export_config", s.ExportConfig)
		settings.POST("/import_config", s.ImportConfig)
	}
}

// Root answers a welcome message plus the running version.
func (s *Server) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "Welcome to DeepClaude API",
		"version": s.version,
	})
}

// Start begins serving on the given port and blocks until the listener
// fails or Stop is called.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf("%s:%d", s.host, port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.engine,
	}
	logrus.Infof("listening on %s", addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	logrus.Info("shutting down server")
	return s.httpServer.Shutdown(ctx)
}

// GetRouter exposes the gin engine for tests.
func (s *Server) GetRouter() *gin.Engine {
	return s.engine
}
