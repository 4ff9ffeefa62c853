package http

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	"gorm.io/gorm"
)

// HealthStatus represents the health check response
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	DBStatus  string    `json:"db_status"`
}

// HealthIndexAction reports whether the analytics store answers pings.
func HealthIndexAction(db *gorm.DB) func(*cartridge.Context) error {
	return func(ctx *cartridge.Context) error {
		health := HealthStatus{
			Status:    "ok",
			Timestamp: time.Now(),
			DBStatus:  "ok",
		}

		if err := ping(ctx, db); err != nil {
			ctx.Logger.Error("Database ping failed", slog.Any("error", err))
			health.Status = "degraded"
			health.DBStatus = "error"
			return ctx.Status(fiber.StatusServiceUnavailable).JSON(health)
		}

		return ctx.JSON(health)
	}
}

func ping(ctx *cartridge.Context, db *gorm.DB) error {
	if db == nil {
		return gorm.ErrInvalidDB
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx.Ctx.Context())
}
