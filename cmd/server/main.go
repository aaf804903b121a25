package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"

	"github.com/tradepromo/be-pwp-workflow/internal/client"
	"github.com/tradepromo/be-pwp-workflow/internal/config"
	"github.com/tradepromo/be-pwp-workflow/internal/handler"
	"github.com/tradepromo/be-pwp-workflow/internal/platform/database"
	"github.com/tradepromo/be-pwp-workflow/internal/platform/logger"
	"github.com/tradepromo/be-pwp-workflow/internal/platform/middleware"
	"github.com/tradepromo/be-pwp-workflow/internal/service"
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
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("environment", cfg.Service.Environment).
		Msg("Starting PWP workflow service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// Activity sink: optional, the service runs without it
	var natsConn *nats.Conn
	if cfg.NATS.URL != "" {
		natsConn, err = nats.Connect(cfg.NATS.URL,
			nats.Name(cfg.Service.Name),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			log.Warn().Err(err).Msg("NATS unavailable, activity publishing disabled")
		} else {
			defer natsConn.Close()
			log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")
		}
	}
	activity := client.NewActivityPublisher(natsConn, cfg.NATS.PublishTimeout, log)

	// Approval policy resolver
	policy := client.NewPolicyClient(cfg.Policy.BaseURL, cfg.Policy.Timeout)

	// Wire the workflow core
	stores := service.NewPGStores(db)
	runner := service.NewPGRunner(db)
	reconciler := service.NewReconciler(stores, log)
	workflow := service.NewWorkflowService(runner, stores, reconciler, policy, activity, log)

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(workflow, log)
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	mux.HandleFunc("/api/v1/plans", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			httpHandler.ListPlans(w, r)
		case http.MethodPost:
			httpHandler.SubmitPlan(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/api/v1/plans/get", httpHandler.GetPlan)
	mux.HandleFunc("/api/v1/plans/history", httpHandler.ApprovalHistory)
	mux.HandleFunc("/api/v1/plans/approve", httpHandler.ApprovePlan)
	mux.HandleFunc("/api/v1/plans/decline", httpHandler.DeclinePlan)
	mux.HandleFunc("/api/v1/plans/sendback", httpHandler.SendBackPlan)
	mux.HandleFunc("/api/v1/plans/resubmit", httpHandler.ResubmitPlan)
	mux.HandleFunc("/api/v1/plans/cancel", httpHandler.CancelPlan)
	mux.HandleFunc("/api/v1/plans/delete", httpHandler.RemovePlan)

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
