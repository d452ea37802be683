package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"icu-capacity-backend/config"
	"icu-capacity-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(cfg *config.Config, handler *Handler) *gin.Engine {
	r := gin.Default()
	r.Use(corsMiddleware(cfg.Server.AllowedOrigins))

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.Server.RateLimitPerSec), cfg.Server.RateLimitBurst)
	actor := mw.Actor(cfg.Auth.JWTSecret)

	ttl := time.Duration(cfg.Server.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(ttl, 2*ttl)
	caching := mw.Cache(cacheStore, ttl)

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	icu := r.Group("/api/icu")
	icu.Use(rateLimiter, actor)
	{
		icu.GET("/live", handler.LiveEvents)

		cached := icu.Group("", caching)
		cached.GET("/capacity-status", handler.GetCapacityStatus)
		cached.GET("/waitlist", handler.GetWaitlist)
		cached.GET("/forecast", handler.GetForecast)
		cached.GET("/analytics", handler.GetAnalytics)
		cached.GET("/recommendations", handler.GetRecommendations)
		cached.GET("/audit-log", handler.GetAuditLog)

		cached.POST("/waitlist", handler.PostWaitlist)
		cached.DELETE("/waitlist/:patient_id", handler.DeleteWaitlist)
		cached.POST("/allocate", handler.PostAllocate)
		cached.POST("/auto-allocate", handler.PostAutoAllocate)
		cached.PUT("/bed-status", handler.PutBedStatus)
		cached.POST("/beds", handler.PostBed)
		cached.POST("/allocations/:id/discharge", handler.PostDischarge)
	}

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/subscriptions", handler.GetSubscription)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	return r
}

func corsMiddleware(allowed string) gin.HandlerFunc {
	origins := strings.Split(allowed, ",")
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "X-Admin-User"},
		ExposeHeaders: []string{"Content-Length", "X-Cache"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 1 && strings.TrimSpace(origins[0]) == "*" {
		cfg.AllowAllOrigins = true
	} else {
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
}
