package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/receiptly/be-approvals/internal/client"
	"github.com/receiptly/be-approvals/internal/config"
	"github.com/receiptly/be-approvals/internal/database"
	"github.com/receiptly/be-approvals/internal/handler"
	"github.com/receiptly/be-approvals/internal/logger"
	"github.com/receiptly/be-approvals/internal/middleware"
	"github.com/receiptly/be-approvals/internal/repository"
	"github.com/receiptly/be-approvals/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting Approvals Service")

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.Connect(ctx, database.Config{
		URL:      cfg.Database.URL,
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	if err := database.RunMigrations(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	// Connect to NATS. Without a configured URL, notifications are log-only.
	var natsConn *nats.Conn
	if cfg.NATS.URL != "" {
		natsConn, err = nats.Connect(cfg.NATS.URL,
			nats.Name(cfg.Service.Name),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer natsConn.Close()
		log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")
	} else {
		log.Warn().Msg("NATS_URL not set, notifications will only be logged")
	}

	// Initialize repositories
	rulesRepo := repository.NewApprovalRulesRepository(db)
	requestsRepo := repository.NewApprovalRequestsRepository(db)
	delegationsRepo := repository.NewApprovalDelegationsRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	// Initialize services
	notifier := client.NewNotificationPublisher(natsConn, log)
	resolver := service.NewDelegationResolver(delegationsRepo, log)
	engine := service.NewRuleEngine(rulesRepo, log)
	approvalService := service.NewApprovalService(rulesRepo, requestsRepo, resolver, notifier, auditRepo, log)
	ruleService := service.NewRuleService(rulesRepo, auditRepo, log)
	delegationService := service.NewDelegationService(delegationsRepo, notifier, auditRepo, log)

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(engine, approvalService, ruleService, delegationService, auditRepo, log)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Metrics
	mux.Handle("/metrics", promhttp.Handler())

	// Rule routes
	mux.HandleFunc("/api/v1/rules", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			httpHandler.ListRules(w, r)
		case http.MethodPost:
			httpHandler.CreateRule(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/api/v1/rules/get", httpHandler.GetRule)
	mux.HandleFunc("/api/v1/rules/update", httpHandler.UpdateRule)
	mux.HandleFunc("/api/v1/rules/deactivate", httpHandler.DeactivateRule)

	// Approval routes
	mux.HandleFunc("/api/v1/approvals/evaluate", httpHandler.Evaluate)
	mux.HandleFunc("/api/v1/approvals/submit", httpHandler.Submit)
	mux.HandleFunc("/api/v1/approvals/get", httpHandler.GetRequest)
	mux.HandleFunc("/api/v1/approvals/action", httpHandler.Action)
	mux.HandleFunc("/api/v1/approvals/escalate", httpHandler.Escalate)
	mux.HandleFunc("/api/v1/approvals/pending", httpHandler.PendingApprovals)
	mux.HandleFunc("/api/v1/approvals/audit", httpHandler.AuditTrail)

	// Delegation routes
	mux.HandleFunc("/api/v1/delegations", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			httpHandler.ListDelegations(w, r)
		case http.MethodPost:
			httpHandler.CreateDelegation(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	// Apply middleware
	var h http.Handler = mux
	h = middleware.RequestID(h)
	h = middleware.Logger(&log)(h)
	h = middleware.Recovery(&log)(h)
	h = middleware.CORS([]string{"*"})(h)
	h = middleware.Timeout(cfg.Server.RequestTimeout)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}
