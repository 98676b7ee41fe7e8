package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/dorkfun/backend/internal/api"
	"github.com/dorkfun/backend/internal/config"
	"github.com/dorkfun/backend/internal/database"
	"github.com/dorkfun/backend/internal/game"
	"github.com/dorkfun/backend/internal/game/sudoku"
	"github.com/dorkfun/backend/internal/game/tictactoe"
	"github.com/dorkfun/backend/internal/match"
	"github.com/dorkfun/backend/internal/migrations"
	"github.com/dorkfun/backend/internal/redis"
	"github.com/dorkfun/backend/internal/settlement"
	"github.com/dorkfun/backend/internal/ws"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Initialize configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Apply schema migrations on start if requested
	if os.Getenv("MIGRATE_ON_START") == "true" {
		if err := migrations.Run(cfg.DatabaseURL); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
	}

	// Initialize Redis
	rdb, err := redis.Connect(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer rdb.Close()

	// Register game modules
	game.Register(tictactoe.New())
	game.Register(sudoku.New())

	// Settlement coordinator: on-chain when configured, no-op otherwise
	settle, err := settlement.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize settlement coordinator: %v", err)
	}
	finalizer := settlement.NewFinalizer(db, settle, time.Duration(cfg.DisputeWindowMin)*time.Minute)

	// Initialize the match lifecycle service
	match.InitializeManager(db, rdb, cfg, settle, finalizer)

	// WebSocket gateway receives all lifecycle fanout
	gateway := ws.NewGateway(match.Manager, db, cfg)
	match.Manager.SetNotifier(gateway)

	// Recover live matches from the transcript log, then reschedule any
	// settlements whose dispute window is still open
	ctx := context.Background()
	if err := match.Manager.RestoreActiveMatches(ctx); err != nil {
		log.Printf("[RECOVERY] Restore on startup failed: %v", err)
	}
	finalizer.ReconcileOnStartup(ctx)

	// Background workers
	go match.Manager.StartCleanupWorker(ctx)
	go finalizer.StartDueSweep(ctx, time.Minute)

	// Set up Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	// Initialize API handlers
	api.SetupRoutes(router, gateway, db, cfg)

	// Start server
	port := cfg.Port
	if port == "" {
		port = "8080"
	}

	log.Printf("Starting dork.fun game server on port %s", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
