package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/floroz/hammer/pkg/auth"
	"github.com/floroz/hammer/pkg/clock"
	"github.com/floroz/hammer/pkg/config"
	pkgdb "github.com/floroz/hammer/pkg/database"
	"github.com/floroz/hammer/pkg/logging"
	"github.com/floroz/hammer/services/auction-service/internal/adapters/api"
	"github.com/floroz/hammer/services/auction-service/internal/adapters/database"
	"github.com/floroz/hammer/services/auction-service/internal/adapters/events"
	"github.com/floroz/hammer/services/auction-service/internal/domain/bids"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log.Level)

	if err := errors.Join(cfg.Validate(), cfg.RequireDatabase(), cfg.RequireAuth()); err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Postgres
	pool, err := pkgdb.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		logger.Error("Failed to connect to Postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("Postgres Connected")

	// 2. Token verification
	publicKey, err := os.ReadFile(cfg.Auth.PublicKeyPath)
	if err != nil {
		logger.Error("Failed to read auth public key", "path", cfg.Auth.PublicKeyPath, "error", err)
		os.Exit(1)
	}
	verifier, err := auth.NewSignerFromPublicKey(publicKey, cfg.Auth.Issuer)
	if err != nil {
		logger.Error("Failed to load auth public key", "error", err)
		os.Exit(1)
	}

	// 3. Repositories and domain services
	txManager := pkgdb.NewPostgresTransactionManager(pool, cfg.Database.LockTimeout)
	registry := database.NewPostgresAuctionRegistry(pool)
	ledger := database.NewPostgresBidLedger(pool)
	schedules := database.NewPostgresFeeScheduleRepository(pool)
	emitter := events.NewOutboxEmitter(database.NewPostgresOutboxRepository(pool))

	biddingService, err := bids.NewBiddingService(txManager, registry, ledger, emitter, clock.NewSystem(), logger)
	if err != nil {
		logger.Error("Failed to create bidding service", "error", err)
		os.Exit(1)
	}

	// 4. ConnectRPC handler
	handler := api.NewAuctionServiceHandler(biddingService, registry, schedules)
	path, h := handler.Routes(connect.WithInterceptors(auth.NewAuthInterceptor(verifier, api.PublicProcedures...)))

	mux := http.NewServeMux()
	mux.Handle(path, h)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// h2c serves HTTP/2 without TLS for internal callers.
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting Auction Service API", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down API...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", "error", err)
	}
	logger.Info("API stopped")
}
