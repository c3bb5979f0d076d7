// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"contract-service/config"
	"contract-service/internal/app"
	"contract-service/internal/handler"
	"contract-service/internal/middleware"
	"contract-service/internal/router"
	"contract-service/internal/server"
	"contract-service/internal/worker"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func newLogger() (*zap.Logger, error) {
	if os.Getenv("ENVIRONMENT") == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func main() {
	// Load .env (optional)
	_ = godotenv.Load()

	logger, err := newLogger()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("starting contract service")

	cfg, err := config.Load(logger)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize service", zap.Error(err))
	}
	defer a.Close()

	if n, err := a.Migrate(ctx); err != nil {
		logger.Fatal("failed to apply migrations", zap.Error(err))
	} else if n > 0 {
		logger.Info("migrations applied", zap.Int("count", n))
	}

	// Auth
	pubKey, err := middleware.LoadRSAPublicKeyFromPEM(cfg.JWT.PublicKeyPath)
	if err != nil {
		logger.Fatal("failed to load JWT public key", zap.Error(err))
	}
	verifier := middleware.NewVerifier(pubKey, cfg.JWT.Issuer, cfg.JWT.Audience)
	auth := middleware.NewAuthMiddleware(verifier, a.Repos.Identities, a.Cache, cfg.Ledger.IdentityCacheTTL, logger)

	// Handlers
	contractHandler := handler.NewContractHandler(a.Contracts, logger)
	paymentHandler := handler.NewPaymentHandler(a.Payments, logger)
	withdrawalHandler := handler.NewWithdrawalHandler(a.Withdrawals, logger)
	callbackHandler := handler.NewCallbackHandler(a.Payments, cfg.Gateway.WebhookSecret, cfg.Gateway.WebhookTolerance, logger)

	balanceHub := handler.NewBalanceHub(a.Withdrawals, cfg.Server.AllowedOrigins, logger)
	defer balanceHub.Close()
	if a.Redis != nil {
		go balanceHub.RelayFrom(ctx, a.Redis)
	} else {
		a.Local.Subscribe(balanceHub.Publish)
	}

	r := router.SetupRoutes(
		contractHandler,
		paymentHandler,
		withdrawalHandler,
		callbackHandler,
		balanceHub,
		auth,
		a.Cache,
		cfg,
		logger,
	)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// gRPC health
	checks := map[string]server.Check{}
	if a.DB != nil {
		checks["postgres"] = func(ctx context.Context) error { return a.DB.Ping(ctx) }
	}
	if a.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() }
	}
	grpcServer := server.NewGRPCServer(cfg.Server.GRPCAddr, checks, 15*time.Second, logger)
	go func() {
		if err := grpcServer.Start(ctx); err != nil {
			logger.Error("gRPC server failed", zap.Error(err))
		}
	}()

	// Reconciler
	var reconciler *worker.PaymentReconciler
	if cfg.Reconciler.Enabled {
		reconciler = worker.NewPaymentReconciler(a.Payments, cfg.Reconciler, logger)
		go reconciler.Start(ctx)
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	logger.Info("contract service started successfully",
		zap.String("port", cfg.Server.Port),
		zap.String("grpc_addr", cfg.Server.GRPCAddr),
		zap.String("environment", cfg.Server.Env))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if reconciler != nil {
		reconciler.Stop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	grpcServer.Stop()
	stop()

	logger.Info("server stopped")
}
