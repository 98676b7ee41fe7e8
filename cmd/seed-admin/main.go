package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/dorkfun/backend/internal/admin"
	"github.com/dorkfun/backend/internal/config"
	"github.com/dorkfun/backend/internal/database"
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

	// Seed admin account
	username := os.Getenv("ADMIN_USERNAME")
	if username == "" {
		username = "admin"
		log.Printf("Using default admin username: %s", username)
	}

	password := os.Getenv("ADMIN_PASSWORD")
	if password == "" {
		password = "change-me-in-production"
		log.Printf("WARNING: Using default admin password. Set ADMIN_PASSWORD env var in production!")
	}

	if err := admin.CreateAccount(db, username, password); err != nil {
		log.Fatalf("Failed to create admin account: %v", err)
	}

	log.Printf("✓ Admin account created/updated successfully")
	log.Printf("  Username: %s", username)
	log.Println("\nYou can now login at POST /api/admin/login")
}
