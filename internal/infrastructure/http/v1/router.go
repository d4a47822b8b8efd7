// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"

	"backoffice/internal/core/idempotency"
	"backoffice/internal/core/numerator"
	"backoffice/internal/domain/vouchers"
	"backoffice/internal/infrastructure/http/v1/handlers"
	"backoffice/internal/infrastructure/http/v1/middleware"
	"backoffice/pkg/logger"
)

// RouterConfig holds router configuration.
type RouterConfig struct {
	// Logger for request logging
	Logger *logger.Logger

	// JWTValidator validates bearer tokens. Nil disables token auth and the
	// tenant is taken from the X-Tenant-ID header.
	JWTValidator middleware.JWTValidator

	// AdminRole guards renumbering and policy writes when token auth is on
	AdminRole string

	// Vouchers is the voucher service
	Vouchers *vouchers.Service

	// Policies reads and writes numbering policies
	Policies handlers.PolicyService

	// Pending lists scopes awaiting reconciliation; may be nil
	Pending numerator.PendingQueue

	// Idempotency replays voucher creation repeated with X-Idempotency-Key; may be nil
	Idempotency idempotency.Store

	// DB is checked by the readiness check
	DB handlers.Pinger

	// Driver and Version are reported by /health/info
	Driver  string
	Version string
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	if cfg.Logger != nil {
		router.Use(middleware.Logger(cfg.Logger))
	}
	router.Use(middleware.ErrorHandler())

	healthHandler := handlers.NewHealthHandler(cfg.DB, cfg.Driver, cfg.Version)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
		health.GET("/info", healthHandler.Info)
	}

	api := router.Group("/api/v1")
	if cfg.JWTValidator != nil {
		api.Use(middleware.Auth(cfg.JWTValidator))
	} else {
		api.Use(middleware.TenantHeaderAuth())
	}

	admin := func() []gin.HandlerFunc {
		if cfg.JWTValidator == nil || cfg.AdminRole == "" {
			return nil
		}
		return []gin.HandlerFunc{middleware.RequireRole(cfg.AdminRole)}
	}

	base := handlers.NewBaseHandler()
	var create []gin.HandlerFunc
	if cfg.Idempotency != nil {
		create = append(create, middleware.Idempotency(cfg.Idempotency))
	}
	registerVoucherRoutes(api, handlers.NewVoucherHandler(base, cfg.Vouchers), create, admin())
	registerSettingsRoutes(api, handlers.NewSettingsHandler(base, cfg.Policies, cfg.Pending), admin())

	return router
}

func registerVoucherRoutes(rg *gin.RouterGroup, h *handlers.VoucherHandler, create, admin []gin.HandlerFunc) {
	rg.GET("/voucher-types", h.Types)

	group := rg.Group("/vouchers/:type")
	group.GET("", h.List)
	group.POST("", append(create, h.Create)...)
	group.GET("/:id", h.Get)
	group.PATCH("/:id/date", h.UpdateDate)
	group.DELETE("/:id", h.Delete)
	group.POST("/renumber", append(admin, h.Renumber)...)
}

func registerSettingsRoutes(rg *gin.RouterGroup, h *handlers.SettingsHandler, admin []gin.HandlerFunc) {
	rg.GET("/settings/numbering/:family", h.GetPolicy)
	rg.PUT("/settings/numbering/:family", append(admin, h.PutPolicy)...)
	rg.GET("/numbering/pending", h.Pending)
}
