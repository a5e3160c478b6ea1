// Package v1 provides HTTP API version 1.
package v1

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"barcodeseq/internal/core/sequence"
	"barcodeseq/internal/domain/auth"
	"barcodeseq/internal/domain/settings"
	"barcodeseq/internal/infrastructure/http/v1/handlers"
	"barcodeseq/internal/infrastructure/http/v1/middleware"
	"barcodeseq/pkg/logger"
)

// RouterConfig holds router dependencies.
type RouterConfig struct {
	// Logger for request logging
	Logger *logger.Logger

	// Allocator issues barcode blocks
	Allocator handlers.Allocator

	// Settings stores the client settings document
	Settings *settings.Service

	// Store backs /sequences and the readiness check
	Store  sequence.Store
	Driver string

	// Depth reports the allocation queue depth (optional)
	Depth func() int

	// Info describes the store backend (optional)
	Info func() map[string]any

	// JWTValidator for token validation. Nil disables authentication.
	JWTValidator middleware.JWTValidator

	// CORSOrigins lists allowed origins; "*" allows all
	CORSOrigins []string

	// Metrics serves /metrics when set
	Metrics http.Handler
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace(cfg.Logger))
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())
	router.Use(cors.New(corsConfig(cfg.CORSOrigins)))

	healthHandler := handlers.NewHealthHandler(cfg.Store, cfg.Driver, cfg.Depth, cfg.Info)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
		health.GET("/info", healthHandler.Info)
	}

	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics))
	}

	api := router.Group("")
	if cfg.JWTValidator != nil {
		api.Use(middleware.Auth(cfg.JWTValidator))
	}

	baseHandler := handlers.NewBaseHandler()

	barcodeHandler := handlers.NewBarcodeHandler(baseHandler, cfg.Allocator)
	api.POST("/next-barcode", middleware.RequireScope(auth.ScopeAllocate), barcodeHandler.Next)
	api.POST("/dev-next-barcode", middleware.RequireScope(auth.ScopeAllocate), barcodeHandler.DevNext)

	settingsHandler := handlers.NewSettingsHandler(baseHandler, cfg.Settings)
	api.POST("/save-settings", middleware.RequireScope(auth.ScopeSettings), settingsHandler.Save)
	api.GET("/load-settings", settingsHandler.Load)

	sequenceHandler := handlers.NewSequenceHandler(baseHandler, cfg.Store)
	api.GET("/sequences", middleware.RequireScope(auth.ScopeAdmin), sequenceHandler.Get)

	return router
}

func corsConfig(origins []string) cors.Config {
	c := cors.DefaultConfig()
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	c.AddAllowHeaders("Authorization", middleware.HeaderRequestID, middleware.HeaderTraceID)
	c.AddExposeHeaders(middleware.HeaderRequestID, middleware.HeaderTraceID)
	c.MaxAge = 12 * time.Hour
	return c
}
