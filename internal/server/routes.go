package server

import (
	"github.com/gofiber/fiber/v2"

	"github.com/jacksenechal/scan-mcp/internal/config"
	"github.com/jacksenechal/scan-mcp/internal/core/device"
	"github.com/jacksenechal/scan-mcp/internal/core/scan"
	"github.com/jacksenechal/scan-mcp/internal/health"
	"github.com/jacksenechal/scan-mcp/internal/platform/redis"
	tasks "github.com/jacksenechal/scan-mcp/internal/platform/tasks"
)

type Dependencies struct {
	Config config.Config
	Scan   *scan.Service
	Prober device.Prober
	Tasks  *tasks.Client
	Redis  *redis.Service
}

func RegisterRoutes(app *fiber.App, d Dependencies) *health.HealthHandler {
	// Health endpoints
	healthHandler := health.NewHealthHandler(d.Config, d.Redis)
	app.Get("/v1/health", health.HealthLimiter(), healthHandler.HandleHealth)

	api := app.Group("/v1")

	deviceHandler := device.NewHandler(d.Prober)
	api.Get("/devices", deviceHandler.HandleList)
	api.Get("/devices/options", deviceHandler.HandleOptions)

	scanHandler := scan.NewHandler(d.Scan, d.Tasks)
	api.Post("/scans", scanHandler.HandleCreate)
	api.Get("/scans", scanHandler.HandleList)
	api.Get("/scans/:jobId", scanHandler.HandleGet)
	api.Delete("/scans/:jobId", scanHandler.HandleCancel)
	api.Get("/scans/:jobId/manifest", scanHandler.HandleManifest)
	api.Get("/scans/:jobId/events", scanHandler.HandleEvents)
	api.Get("/scans/:jobId/pages/:index", scanHandler.HandlePage)
	api.Get("/scans/:jobId/documents/:index", scanHandler.HandleDocument)

	return healthHandler
}
