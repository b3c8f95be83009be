package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"

	"github.com/rpattn/metacat/internal/auth"
	"github.com/rpattn/metacat/internal/catalog"
	"github.com/rpattn/metacat/internal/config"
	"github.com/rpattn/metacat/internal/db"
	"github.com/rpattn/metacat/internal/domain"
	"github.com/rpattn/metacat/internal/job"
	"github.com/rpattn/metacat/internal/merge"
	"github.com/rpattn/metacat/internal/middleware"
	"github.com/rpattn/metacat/internal/repository"
)

func main() {
	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Setup database connection
	conn, err := db.NewConnection(ctx, cfg.DB)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer conn.Close()

	// Run migrations
	if err := db.RunMigrations(cfg.DB, cfg.MigrationsPath); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Create repositories
	snapshotRepo := repository.NewSnapshotRepository(conn)
	historyRepo := repository.NewChangeHistoryRepository(conn.Pool)
	referenceRepo := repository.NewReferenceRepository(conn.Pool)

	// Register the built-in entity types
	registry := catalog.NewRegistry()
	definitions := []catalog.TypeDefinition{
		catalog.UserDefinition(),
		catalog.TeamDefinition(),
		catalog.RoleDefinition(),
		catalog.PolicyDefinition(),
	}
	descriptors := make([]domain.EntityDescriptor, 0, len(definitions))
	for _, def := range definitions {
		if err := registry.Register(def); err != nil {
			log.Fatalf("Failed to register entity type: %v", err)
		}
		descriptors = append(descriptors, def.Descriptor)
	}

	authorizer := auth.NewDescriptorAuthorizer(descriptors...)

	engine := merge.NewEngine(
		snapshotRepo,
		historyRepo,
		authorizer,
		merge.WithSessionWindow(cfg.SessionWindow),
		merge.WithRetryBudget(cfg.RetryBudget),
	)

	runner := job.NewRunner(job.NewStore())

	service := catalog.NewService(
		registry,
		engine,
		snapshotRepo,
		referenceRepo,
		runner,
		catalog.WithImportParallelism(cfg.ImportParallelism),
	)

	// Setup CORS
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000"},
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	apiHandler := middleware.LoggingMiddleware(
		middleware.CallerMiddleware(catalog.NewHTTPHandler(service)),
	)
	http.Handle("/api/", corsHandler.Handler(apiHandler))

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.ListenAddr,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Starting catalog server on %s", cfg.ListenAddr)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
