package httpapi

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/playforge/walletd/internal/transport/httpapi/handler"
	"github.com/playforge/walletd/internal/transport/httpapi/middleware"
	"github.com/playforge/walletd/pkg/logger"
)

// Config holds router configuration
type Config struct {
	Logger            *logger.Logger
	AllowedOrigins    []string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	WalletHandler     *handler.WalletHandler
	AdminHandler      *handler.AdminHandler
	HealthHandler     *handler.HealthHandler
}

// NewRouter creates a new HTTP router
func NewRouter(cfg Config) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(chimiddleware.Compress(5))
	r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

	// Health check endpoints
	r.Get("/health", handler.GetHealth)
	if cfg.HealthHandler != nil {
		r.Get("/health/ready", cfg.HealthHandler.GetReadiness)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/wallets", func(r chi.Router) {
			r.Post("/topup", cfg.WalletHandler.TopUp)
			r.Post("/bonus", cfg.WalletHandler.Bonus)
			r.Post("/spend", cfg.WalletHandler.Spend)
			r.Get("/{userId}/balance/{assetCode}", cfg.WalletHandler.GetBalance)
			r.Get("/{userId}/history/{assetCode}", cfg.WalletHandler.GetHistory)
			r.Get("/{userId}/verify/{assetCode}", cfg.WalletHandler.Verify)
		})

		if cfg.AdminHandler != nil {
			r.Route("/admin", func(r chi.Router) {
				r.Post("/asset-types", cfg.AdminHandler.CreateAssetType)
				r.Get("/asset-types", cfg.AdminHandler.ListAssetTypes)
				r.Post("/asset-types/{id}/deactivate", cfg.AdminHandler.DeactivateAssetType)
				r.Post("/accounts", cfg.AdminHandler.CreateAccount)
				r.Get("/accounts", cfg.AdminHandler.ListAccounts)
				r.Get("/transactions", cfg.AdminHandler.ListTransactions)
				r.Get("/system-balances", cfg.AdminHandler.SystemBalances)
			})
		}
	})

	return r
}
