package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/charlesng35/storefront/internal/app"
	"github.com/charlesng35/storefront/internal/handlers"
	"github.com/charlesng35/storefront/internal/identity"
	"github.com/charlesng35/storefront/internal/ingest"
	"github.com/charlesng35/storefront/internal/middleware"
	"github.com/charlesng35/storefront/internal/services"
)

// NewRouter builds the Gin engine, wires middleware and registers the catalog
// routes. Reads are public; mutations sit behind the admin role.
func NewRouter(catalog *services.CatalogService, pipeline *ingest.Pipeline, verifier identity.Verifier, cfg *app.Config, rateStore middleware.RateStore) (*gin.Engine, error) {
	if catalog == nil {
		return nil, fmt.Errorf("catalog service must be provided")
	}
	if pipeline == nil {
		return nil, fmt.Errorf("ingest pipeline must be provided")
	}
	if verifier == nil {
		return nil, fmt.Errorf("token verifier must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS())
	// Basic rate limiting: 100 requests/minute per IP+path
	if rateStore == nil {
		rateStore = middleware.NewMemoryRateStore()
	}
	r.Use(middleware.RateLimitWithStore(rateStore, 100, time.Minute))

	// Health endpoint (public)
	r.GET("/health", handlers.Health())

	itemHandler := handlers.NewItemHandler(catalog, pipeline)

	api := r.Group("/api")

	// Public catalog reads. Downloads stay public so cached attachment URLs
	// keep working in storefront pages.
	items := api.Group("/items")
	{
		items.GET("", itemHandler.List)
		items.GET("/:id", itemHandler.Get)
		items.GET("/:id/attachments/:attachmentID", itemHandler.Download)
	}

	// Catalog writes require an authenticated admin. Auth runs before the
	// multipart body is touched.
	admin := api.Group("/items")
	admin.Use(middleware.Auth(verifier), middleware.RequireRole("admin"))
	{
		admin.POST("", itemHandler.Create)
		admin.PUT("/:id", itemHandler.Update)
		admin.DELETE("/:id", itemHandler.Delete)
	}

	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := strings.TrimSpace(cfg.Monitoring.Prometheus.Endpoint)
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
