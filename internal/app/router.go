package app

import (
	"net/http"

	"courtbook/internal/middleware"
	"courtbook/internal/modules/admin"
	"courtbook/internal/modules/booking"
	"courtbook/internal/modules/live"
	"courtbook/internal/modules/payment"
	"courtbook/internal/modules/reconcile"
	"courtbook/internal/modules/refund"
	jwtsvc "courtbook/internal/pkg/jwt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterDeps are the HTTP-only collaborators the router needs besides the
// services.
type RouterDeps struct {
	JWT     *jwtsvc.Service
	Hub     *live.Hub
	Limiter *middleware.RateLimiter
}

// NewRouter mounts every route of the public API.
func (a *App) NewRouter(deps RouterDeps) *gin.Engine {
	cfg := a.Config
	r := gin.New()
	r.Use(middleware.ErrorLogger(a.Logger))
	r.Use(middleware.RequestLogger(a.Logger))
	r.Use(middleware.CORS(cfg.CORSAllowedOrigins))
	r.Use(middleware.Metrics())

	r.GET("/health", a.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limited := []gin.HandlerFunc{}
	if deps.Limiter != nil {
		limited = append(limited, deps.Limiter.Middleware())
	}

	v1 := r.Group("/api/v1")
	{
		booking.NewHandler(a.Booking).RegisterRoutes(v1)
		if deps.Hub != nil {
			live.NewHandler(deps.Hub, a.Booking, cfg.CORSAllowedOrigins, a.Logger.Named("live")).RegisterRoutes(v1)
		}

		webhooks := v1.Group("/", limited...)
		payment.NewHandler(a.Verifier, a.Processor, a.Logger.Named("webhook")).RegisterRoutes(webhooks)

		ops := v1.Group("/admin", limited...)
		{
			recovery := ops.Group("/", middleware.APIKeyAuth(cfg.RecoveryAPIKey, a.Logger))
			reconcile.NewHandler(a.Reconciler).RegisterRoutes(recovery)

			staff := ops.Group("/", middleware.JWTAuth(deps.JWT), middleware.AdminOnly())
			refund.NewHandler(a.Refunds).RegisterRoutes(staff)
			admin.NewHandler(a.Console).RegisterRoutes(staff)
		}
	}
	return r
}

func (a *App) health(c *gin.Context) {
	sqlDB, err := a.DB.DB()
	if err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
