package main

import (
	"bytes"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"

	"github.com/jacksenechal/scan-mcp/internal/config"
	"github.com/jacksenechal/scan-mcp/internal/core/device"
	"github.com/jacksenechal/scan-mcp/internal/core/scan"
	"github.com/jacksenechal/scan-mcp/internal/core/state"
	"github.com/jacksenechal/scan-mcp/internal/core/upload"
	"github.com/jacksenechal/scan-mcp/internal/logger"
	"github.com/jacksenechal/scan-mcp/internal/platform/redis"
	tasks "github.com/jacksenechal/scan-mcp/internal/platform/tasks"
	"github.com/jacksenechal/scan-mcp/internal/preflight"
	"github.com/jacksenechal/scan-mcp/internal/server"
	"github.com/jacksenechal/scan-mcp/internal/worker"
)

func main() {
	cfg := config.Load()
	log.Printf("[scan-mcp] starting at %s (env=%s mock=%v)\n", cfg.HTTPAddr, cfg.AppEnv, cfg.ScanMock)

	logr := logger.New("main")

	if err := preflight.Check(cfg); err != nil {
		log.Fatal(err)
	}

	// Optional queue backend. Without redis, jobs run on background
	// goroutines inside this process.
	var (
		redisSvc    *redis.Service
		taskClient  *tasks.Client
		asynqServer *asynq.Server
	)
	if cfg.RedisAddr != "" {
		var err error
		redisSvc, err = redis.New(redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			log.Fatal(err)
		}
		defer redisSvc.Close()
		taskClient = tasks.New(redisSvc)
		asynqServer = asynq.NewServer(redisSvc.AsynqRedisOpt(), asynq.Config{
			Concurrency: 2,
			Queues:      map[string]int{"default": 1},
		})
	}

	// Core services
	prober := device.NewSaneProber(cfg)
	stateSvc := state.New(cfg)
	uploader, err := upload.New(cfg)
	if err != nil {
		log.Fatal(err)
	}
	scanSvc := scan.NewService(cfg, prober, stateSvc, uploader)

	if asynqServer != nil {
		mux := worker.NewMux()
		mux.HandleFunc(scan.TaskTypeScan, scanSvc.HandleTask)
		go func() {
			if err := asynqServer.Start(mux.Mux()); err != nil {
				log.Printf("[worker] stopped: %v\n", err)
			}
		}()
	}

	// HTTP server
	app := fiber.New(fiber.Config{
		AppName: "scan-mcp Engine",
		JSONEncoder: func(v interface{}) ([]byte, error) {
			var buf bytes.Buffer
			encoder := json.NewEncoder(&buf)
			encoder.SetEscapeHTML(false)
			if err := encoder.Encode(v); err != nil {
				return nil, err
			}
			return buf.Bytes(), nil
		},
	})
	// Serve raw job artifacts from the inbox under /files
	app.Static("/files", cfg.InboxDir)

	deps := server.Dependencies{
		Config: cfg,
		Scan:   scanSvc,
		Prober: prober,
		Tasks:  taskClient,
		Redis:  redisSvc,
	}
	healthHandler := server.RegisterRoutes(app, deps)

	go func() {
		time.Sleep(1 * time.Second)
		healthHandler.SetReady()
	}()

	// Graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-shutdown
		logr.LogInfo("Shutting down...")
		if asynqServer != nil {
			asynqServer.Shutdown()
		}
		_ = app.ShutdownWithTimeout(5 * time.Second)
	}()

	if err := app.Listen(cfg.HTTPAddr); err != nil {
		log.Fatalf("server listen: %v", err)
	}
}
