package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"fleet-route-planner/internal/database"
	"fleet-route-planner/internal/server"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	// .env is optional; environment variables win either way
	if err := godotenv.Load(); err == nil {
		log.Printf("Loaded configuration from .env")
	}

	addr := getEnv("SERVER_ADDR", "127.0.0.1:"+getEnv("PORT", "8080"))

	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		var err error
		dbPath, err = database.GetDefaultDBPath()
		if err != nil {
			return fmt.Errorf("failed to resolve database path: %w", err)
		}
	}

	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		var err error
		dataDir, err = database.GetDefaultProjectsDir()
		if err != nil {
			return fmt.Errorf("failed to resolve data directory: %w", err)
		}
	}

	maxConcurrent := 0
	if v := os.Getenv("TMAP_MAX_CONCURRENT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("TMAP_MAX_CONCURRENT must be a positive integer, got %q", v)
		}
		maxConcurrent = n
	}

	srv, err := server.New(server.Config{
		Addr:          addr,
		DBPath:        dbPath,
		DataDir:       dataDir,
		TMapBaseURL:   getEnv("TMAP_BASE_URL", "https://apis.openapi.sk.com"),
		TMapAppKey:    os.Getenv("TMAP_APP_KEY"),
		MaxConcurrent: maxConcurrent,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if _, err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	sig := <-shutdown
	log.Printf("Received signal %v, starting graceful shutdown", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("could not gracefully shutdown the server: %w", err)
	}

	log.Println("Server stopped")
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
