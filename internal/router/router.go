// internal/router/router.go
package router

import (
	"net/http"

	"contract-service/config"
	"contract-service/internal/handler"
	"contract-service/internal/middleware"
	"contract-service/internal/repository"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func SetupRoutes(
	contractHandler *handler.ContractHandler,
	paymentHandler *handler.PaymentHandler,
	withdrawalHandler *handler.WithdrawalHandler,
	callbackHandler *handler.CallbackHandler,
	balanceHub *handler.BalanceHub,
	auth *middleware.AuthMiddleware,
	cache *repository.Cache,
	cfg *config.Config,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.LoggerMiddleware(logger))
	r.Use(chimw.Recoverer)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id", "X-Signature", "X-Timestamp"},
		ExposedHeaders:   []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Long-lived; kept out of the request timeout.
	r.With(auth.Authenticate).Get("/payments/balance/ws", balanceHub.ServeWS)

	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(cfg.Server.RequestTimeout))

		// ============================================
		// PUBLIC
		// ============================================
		r.Get("/contracts/invitation/{token}", contractHandler.GetInvitation)
		r.Post("/payments/callbacks/gateway", callbackHandler.HandleGatewayCallback)

		// ============================================
		// AUTHENTICATED
		// ============================================
		r.Group(func(r chi.Router) {
			r.Use(auth.Authenticate)
			r.Use(middleware.RateLimiter(cache, cfg.RateLimit, "ratelimit:api"))

			r.Route("/contracts", func(r chi.Router) {
				r.Post("/", contractHandler.Create)
				r.Get("/", contractHandler.List)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", contractHandler.Get)
					r.Put("/", contractHandler.Update)
					r.Delete("/", contractHandler.Delete)
					r.Patch("/status", contractHandler.ChangeStatus)
					r.Patch("/milestones/{index}/status", contractHandler.ChangeMilestoneStatus)
				})
			})

			r.Route("/payments", func(r chi.Router) {
				r.Route("/milestones/{contractId}/{index}", func(r chi.Router) {
					r.Post("/pay", paymentHandler.Pay)
					r.Post("/retry", paymentHandler.Retry)
					r.Get("/status", paymentHandler.Status)
				})

				r.Get("/balance", withdrawalHandler.Balance)
				r.Get("/withdrawal-info", withdrawalHandler.GetInfo)
				r.Put("/withdrawal-info", withdrawalHandler.UpdateInfo)
				r.With(middleware.RequireVerified).Post("/withdraw", withdrawalHandler.Withdraw)
				r.Get("/withdrawals", withdrawalHandler.ListMine)

				r.Route("/admin/withdrawals", func(r chi.Router) {
					r.Use(middleware.RequireAdmin)
					r.Get("/", withdrawalHandler.AdminList)
					r.Patch("/{id}", withdrawalHandler.AdminProcess)
				})
			})
		})
	})

	return r
}
