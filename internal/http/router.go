// Package httpapi wires the ops HTTP surface (Gin) to the order lifecycle:
// manual dispatch and expiry passes, time-frame recalculation, inspection,
// plus health and Prometheus endpoints.
//
// Middleware order:
//  1. OpenTelemetry
//  2. RequestID
//  3. Logger (masked headers, scrubbed query)
//  4. Recovery
//  5. Body size limit
//  6. Metrics
//  7. Rate limiter (per caller or IP)
//  8. CORS and security headers
//  9. gzip
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-interpreter-orders/internal/config"
	"github.com/tbourn/go-interpreter-orders/internal/domain"
	"github.com/tbourn/go-interpreter-orders/internal/http/handlers"
	"github.com/tbourn/go-interpreter-orders/internal/http/middleware"
	"github.com/tbourn/go-interpreter-orders/internal/repo"
)

// orderRepoShim adapts the repository free functions to handlers.OrderReader.
type orderRepoShim struct{ db *gorm.DB }

// Order proxies repo.GetOrderWithAppointment.
func (s orderRepoShim) Order(ctx context.Context, id string) (*domain.AppointmentOrder, error) {
	return repo.GetOrderWithAppointment(ctx, s.db, id)
}

// OrderGroup proxies repo.GetOrderGroup.
func (s orderRepoShim) OrderGroup(ctx context.Context, id string) (*domain.OrderGroup, error) {
	return repo.GetOrderGroup(ctx, s.db, id)
}

// DueOrders proxies repo.ListDueOrders at the current time.
func (s orderRepoShim) DueOrders(ctx context.Context, limit int) ([]domain.AppointmentOrder, error) {
	return repo.ListDueOrders(ctx, s.db, time.Now().UTC(), limit)
}

// DueGroups proxies repo.ListDueGroups at the current time.
func (s orderRepoShim) DueGroups(ctx context.Context, limit int) ([]domain.OrderGroup, error) {
	return repo.ListDueGroups(ctx, s.db, time.Now().UTC(), limit)
}

// Deps are the services behind the ops API.
type Deps struct {
	DB         *gorm.DB
	Lifecycle  handlers.Lifecycle
	TimeFrames handlers.TimeFrameService
	Log        zerolog.Logger
}

// RegisterRoutes attaches middleware, health and metrics endpoints, and the
// ops API under cfg.APIBasePath.
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Log, middleware.LogOptions{
		MaskHeaders: []string{"X-API-Key"},
	}))
	r.Use(middleware.Recovery(deps.Log))
	r.Use(limitBody(1 << 20))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByCallerOrIP())

	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins))
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS: cfg.Security.EnableHSTS,
		HSTSMaxAge: cfg.Security.HSTSMaxAge,
	}))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	h := handlers.New(deps.Lifecycle, deps.TimeFrames, orderRepoShim{db: deps.DB})

	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(rl.Handler())
	{
		api.GET("/orders/:id", h.GetOrder)
		api.POST("/orders/:id/search", h.SearchOrder)
		api.POST("/orders/:id/expire", h.ExpireOrder)

		api.GET("/order-groups/:id", h.GetOrderGroup)
		api.POST("/order-groups/:id/search", h.SearchOrderGroup)
		api.POST("/order-groups/:id/time-frames", h.RecalculateTimeFrames)
		api.POST("/order-groups/:id/expire", h.ExpireOrderGroup)

		api.POST("/scheduler/tick", h.Tick)
		api.GET("/scheduler/due", h.Due)
	}
}

// corsMiddleware allows every origin when none are configured, otherwise
// only the listed ones. Credentials are never allowed.
func corsMiddleware(origins []string) gin.HandlerFunc {
	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderCaller},
		ExposeHeaders: []string{"X-Request-ID", "Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	return cors.New(c)
}

// limitBody caps request bodies at maxBytes. The ops API takes no bodies, so
// anything large is a client bug.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
