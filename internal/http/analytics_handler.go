package http

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"github.com/wp-statistics/wp-statistics-sub013/internal/analytics"
)

// BatchRunner executes an analytics batch.
type BatchRunner interface {
	Run(ctx context.Context, req *analytics.BatchRequest) (*analytics.BatchResponse, error)
}

// AnalyticsQueryAction serves POST /api/v1/analytics/query. Sub-query
// failures travel inside a 200 response; only a rejected payload or a batch
// that produced nothing before cancellation changes the status.
func AnalyticsQueryAction(runner BatchRunner) func(*cartridge.Context) error {
	return func(ctx *cartridge.Context) error {
		var req analytics.BatchRequest
		if err := ctx.BodyParser(&req); err != nil {
			ctx.Logger.Debug("Failed to parse analytics request", slog.Any("error", err))
			return errorResponse(ctx.Ctx, fiber.StatusBadRequest, analytics.CodeInvalidRequest, "request body must be a JSON object")
		}

		resp, err := runner.Run(ctx.Ctx.Context(), &req)
		if err != nil {
			var qe *analytics.QueryError
			if !errors.As(err, &qe) {
				ctx.Logger.Error("Analytics batch failed", slog.Any("error", err))
				return errorResponse(ctx.Ctx, fiber.StatusInternalServerError, analytics.CodeStoreUnavailable, "error reading analytics data")
			}

			switch qe.Code {
			case analytics.CodeInvalidRequest:
				ctx.Logger.Debug("Rejected analytics request", slog.String("reason", qe.Message))
				return errorResponse(ctx.Ctx, fiber.StatusBadRequest, qe.Code, qe.Message)
			case analytics.CodeCancelled:
				ctx.Logger.Warn("Analytics batch cancelled", slog.Any("error", qe.Err))
				return errorResponse(ctx.Ctx, fiber.StatusServiceUnavailable, qe.Code, qe.Message)
			default:
				ctx.Logger.Error("Analytics batch failed", slog.Any("error", err))
				return errorResponse(ctx.Ctx, fiber.StatusInternalServerError, qe.Code, qe.Message)
			}
		}

		return ctx.Status(fiber.StatusOK).JSON(resp)
	}
}

func errorResponse(c *fiber.Ctx, status int, code analytics.ErrorCode, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error": fiber.Map{
			"code":    code,
			"message": message,
		},
	})
}
