package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"kvk-backend/config"
	"kvk-backend/controllers"
	"kvk-backend/database"
	"kvk-backend/kvk"
	"kvk-backend/leaderboard"
	"kvk-backend/routes"

	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Load env vars from .env file
	if os.Getenv("RENDER") == "" {
		err := godotenv.Load()
		if err != nil {
			log.Println("No .env file found, continuing with system environment variables")
		}
	}

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store kvk.Store
	switch cfg.Store {
	case config.StoreMemory:
		log.Println("Using in-memory upload store")
		store = kvk.NewMemoryRepository()
	default:
		db, err := database.Connect(ctx, cfg.Postgres.DSN)
		if err != nil {
			log.Fatal(err)
		}
		defer db.Close()
		if err := database.Migrate(db); err != nil {
			log.Fatal(err)
		}
		store = kvk.NewPostgresRepository(db)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	service := kvk.NewIngestService(store,
		kvk.WithBatchSize(cfg.Ingest.BatchSize),
		kvk.WithConcurrency(cfg.Ingest.Concurrency),
		kvk.WithMetrics(kvk.NewMetrics(reg)),
	)
	cache := leaderboard.NewCache(snapshotSource(cfg, store), cfg.Snapshot.TTL, leaderboard.WithLoadMetrics(reg))

	app := routes.NewApp(routes.AppConfig{
		BodyLimitMB: cfg.Server.BodyLimitMB,
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	// Setup routes
	routes.Register(app, routes.Handlers{
		Uploads:     controllers.NewUploadController(service, cache),
		Leaderboard: controllers.NewLeaderboardController(cache, cfg.Leaderboard.TopN),
		Metrics:     adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
		JWTSecret:   cfg.Auth.JWTSecret,
	})
	if cfg.Auth.JWTSecret == "" {
		log.Println("JWT_SECRET not set, upload routes are unauthenticated")
	}

	go func() {
		<-ctx.Done()
		log.Println("Shutting down")
		_ = app.Shutdown()
	}()

	// Start server
	log.Println("Server running on port " + cfg.Server.Port)
	if err := app.Listen(":" + cfg.Server.Port); err != nil {
		log.Fatal(err)
	}
}

func snapshotSource(cfg config.Config, store kvk.Store) leaderboard.Source {
	switch {
	case cfg.Snapshot.URL != "":
		return leaderboard.URLSource{URL: cfg.Snapshot.URL}
	case cfg.Snapshot.Path != "":
		return leaderboard.FileSource{Path: cfg.Snapshot.Path}
	default:
		return leaderboard.StoreSource{Store: store, UploadID: cfg.Snapshot.UploadID}
	}
}
