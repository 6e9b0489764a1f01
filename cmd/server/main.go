package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-sperlich/digital-twin-db/internal/api"
	"github.com/m-sperlich/digital-twin-db/internal/audit"
	"github.com/m-sperlich/digital-twin-db/internal/config"
	"github.com/m-sperlich/digital-twin-db/internal/db"
	"github.com/m-sperlich/digital-twin-db/internal/export"
	"github.com/m-sperlich/digital-twin-db/internal/ingestion"
	"github.com/m-sperlich/digital-twin-db/internal/lineage"
	"github.com/m-sperlich/digital-twin-db/internal/middleware"
	"github.com/m-sperlich/digital-twin-db/internal/mutation"
	"github.com/m-sperlich/digital-twin-db/internal/process"
	"github.com/m-sperlich/digital-twin-db/internal/registry"
	"github.com/m-sperlich/digital-twin-db/internal/repository"
	"github.com/m-sperlich/digital-twin-db/internal/revert"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup database connection
	conn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		zap.S().Fatalf("Failed to connect to database: %v", err)
	}
	defer conn.Close()

	// Run migrations
	if err := db.RunMigrations(cfg.Database); err != nil {
		zap.S().Fatalf("Failed to run migrations: %v", err)
	}

	reg := registry.Default()

	// Create repositories
	variantRepo := repository.NewVariantRepository(conn, reg)
	auditRepo := repository.NewAuditRepository(conn, reg)
	processRepo := repository.NewProcessRepository(conn)
	parameterRepo := repository.NewParameterRepository(conn, reg)
	ingestionLogRepo := repository.NewIngestionLogRepository(conn)
	referenceRepo := repository.NewReferenceRepository(conn)

	// Create services
	auditService := audit.NewService(auditRepo, variantRepo, cfg.Audit.HistoryLimit, cfg.Audit.RecentLimit)
	lineageManager := lineage.NewManager(conn, variantRepo, auditService, processRepo, parameterRepo, referenceRepo, reg, cfg.Audit.MaxLineageDepth)
	interceptor := mutation.NewInterceptor(conn, variantRepo, auditService, reg, cfg.Authz.OwnerOnlyUpdates)
	revertEngine := revert.NewEngine(auditService, interceptor)
	processService := process.NewService(conn, processRepo, parameterRepo, variantRepo)
	ingestService := ingestion.NewService(lineageManager, interceptor, ingestionLogRepo, reg, cfg.Ingest.MaxRows)
	exportService := export.NewService(auditService)

	handler := api.NewHandler(
		reg,
		variantRepo,
		referenceRepo,
		lineageManager,
		interceptor,
		revertEngine,
		auditService,
		processService,
		ingestService,
		exportService,
	)

	// Setup CORS
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	apiHandler := middleware.Logging(
		middleware.Caller(
			middleware.DataLoader(variantRepo, reg)(handler.Routes()),
		),
	)

	// Health probes: liveness is process-local, readiness requires the
	// database to answer.
	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(500))
	health.AddReadinessCheck("postgres", func() error {
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer pingCancel()
		return conn.Pool.Ping(pingCtx)
	})

	mux := http.NewServeMux()
	mux.Handle("/api/", corsHandler.Handler(apiHandler))
	mux.HandleFunc("/live", health.LiveEndpoint)
	mux.HandleFunc("/ready", health.ReadyEndpoint)
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		zap.S().Infof("serving API on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.S().Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zap.S().Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zap.S().Fatalf("Server forced to shutdown: %v", err)
	}

	zap.S().Info("server exited")
}

// newLogger builds the process logger. Development mode uses zap's
// console encoder, production structured JSON.
func newLogger(cfg config.Logging) (*zap.Logger, error) {
	if cfg.Development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
