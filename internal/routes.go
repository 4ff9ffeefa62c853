package internal

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/karloscodes/cartridge"
	cartridgemiddleware "github.com/karloscodes/cartridge/middleware"
	"gorm.io/gorm"

	"github.com/wp-statistics/wp-statistics-sub013/internal/config"
	"github.com/wp-statistics/wp-statistics-sub013/internal/http"
)

// publicCORSConfig lets dashboards on other origins post batches.
var publicCORSConfig = &cors.Config{
	AllowOrigins: "*",
	AllowMethods: "POST,GET,OPTIONS",
	AllowHeaders: "Origin, Content-Type, Accept, Authorization",
}

// NewServerConfig returns the server configuration for the analytics API.
// Callers are dashboards on other origins and host servers that send no
// Sec-Fetch-Site header, so the global Sec-Fetch-Site check is off; a
// per-route skip would run after it.
func NewServerConfig() *cartridge.ServerConfig {
	cfg := cartridge.DefaultServerConfig()
	cfg.EnableTemplates = false
	cfg.EnableStaticAssets = false
	cfg.EnableSecFetchSite = false
	return cfg
}

// MountAppRoutes returns the route mount function for the analytics API.
func MountAppRoutes(cfg *config.Config, runner http.BatchRunner, db *gorm.DB) func(*cartridge.Server) {
	return func(srv *cartridge.Server) {
		// rate limiting only applies in production; it would get in the way of tests
		conditionalRateLimiter := func(limiter fiber.Handler) fiber.Handler {
			return func(c *fiber.Ctx) error {
				if cfg.IsProduction() {
					return limiter(c)
				}
				return c.Next()
			}
		}

		// a dashboard load fires a handful of batches, so 120/min per IP is generous
		queryRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
			cartridgemiddleware.WithMax(120),
			cartridgemiddleware.WithDuration(time.Minute),
		))

		queryAPIConfig := &cartridge.RouteConfig{
			EnableCORS:       true,
			WriteConcurrency: false,
			CustomMiddleware: []fiber.Handler{queryRateLimiter},
			CORSConfig:       publicCORSConfig,
		}

		// Health check endpoint
		srv.Get("/_health", http.HealthIndexAction(db))
		srv.Head("/_health", http.HealthIndexAction(db))

		// === ANALYTICS API ===
		srv.Post("/api/v1/analytics/query", http.AnalyticsQueryAction(runner), queryAPIConfig)
		srv.Options("/api/v1/analytics/query", func(ctx *cartridge.Context) error {
			return ctx.SendStatus(fiber.StatusNoContent)
		}, queryAPIConfig)
	}
}
