package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cypherlabs/cipher-score-api/internal/config"
	"github.com/cypherlabs/cipher-score-api/internal/handlers"
	"github.com/cypherlabs/cipher-score-api/internal/services"
	"github.com/cypherlabs/cipher-score-api/pkg/database"
	"github.com/cypherlabs/cipher-score-api/pkg/ledger"
	"github.com/cypherlabs/cipher-score-api/pkg/mxe"
)

func main() {
	// Setup logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log.Info().Str("environment", cfg.Environment).Msg("Starting Cypher Credit Score API")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to database
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Run migrations
	log.Info().Msg("Running database migrations...")
	if err := db.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}
	log.Info().Msg("Migrations completed successfully")

	// Ledger client and computation event stream
	ledgerClient := ledger.NewClient(cfg.LedgerRPCURL, cfg.RedisURL, cfg.LedgerRateLimit)
	defer ledgerClient.Close()

	events := mxe.NewStream(cfg.MXEEventsURL)
	go events.Start(ctx)

	// Runtime init runs in the background so identity endpoints come up
	// immediately; computation endpoints fail fast until it completes.
	runtime := services.NewRuntime(cfg, ledgerClient, events)
	go func() {
		if err := runtime.Init(ctx); err != nil {
			log.Error().Err(err).Msg("Computation runtime initialization failed")
		}
	}()

	// Initialize services
	sessionService := services.NewSessionService(db, cfg)
	apiKeyService := services.NewApiKeyService(db)
	usageLedger := services.NewUsageLedger(db)
	scoreService := services.NewScoreService(cfg, runtime)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(sessionService)
	keyHandler := handlers.NewKeyHandler(apiKeyService)
	profileHandler := handlers.NewProfileHandler(db)
	scoreHandler := handlers.NewScoreHandler(scoreService, usageLedger)
	adminHandler := handlers.NewAdminHandler(runtime)
	healthHandler := handlers.NewHealthHandler(db, runtime)

	authLimiter := handlers.NewIPRateLimiter(cfg.AuthRatePerSecond, cfg.AuthRateBurst)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(90 * time.Second))

	// CORS
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-API-Key, X-Session-Token, X-Admin-Key")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", healthHandler.Health)

	// Wallet login flow
	r.Route("/wallet-auth", func(r chi.Router) {
		r.With(authLimiter.Middleware).Post("/request-nonce", authHandler.RequestNonce)
		r.With(authLimiter.Middleware).Post("/verify-signature", authHandler.VerifySignature)

		r.Group(func(r chi.Router) {
			r.Use(handlers.SessionAuthMiddleware(sessionService))
			r.Get("/session", authHandler.GetSession)
			r.Post("/logout", authHandler.Logout)
		})
	})

	// Dashboard, session-authenticated
	r.Route("/dashboard", func(r chi.Router) {
		r.Use(handlers.SessionAuthMiddleware(sessionService))

		r.Route("/api-keys", func(r chi.Router) {
			r.Get("/", keyHandler.ListKeys)
			r.Post("/", keyHandler.CreateKey)
			r.Get("/stats/usage", keyHandler.GetStats)
			r.Get("/{id}", keyHandler.GetKey)
			r.Patch("/{id}", keyHandler.RenameKey)
			r.Delete("/{id}", keyHandler.DeactivateKey)
		})

		r.Get("/profile", profileHandler.GetProfile)
		r.Patch("/profile", profileHandler.UpdateProfile)
	})

	// Scoring API, key-authenticated and quota-metered
	r.Group(func(r chi.Router) {
		r.Use(handlers.APIKeyAuthMiddleware(apiKeyService))
		r.Post("/calculate_credit_score", scoreHandler.CalculateCreditScore)
		r.Get("/wallet_status", scoreHandler.GetOwnWalletStatus)
		r.Get("/wallet_status/{address}", scoreHandler.GetWalletStatus)
	})

	// Operational endpoints
	r.With(handlers.AdminAuthMiddleware(cfg)).Get("/wallet", adminHandler.GetWallet)
	r.Route("/admin", func(r chi.Router) {
		r.Use(handlers.AdminAuthMiddleware(cfg))
		r.Post("/init_comp_def", adminHandler.InitCompDef)
		r.Get("/sample_wallets", adminHandler.GetSampleWallets)
	})

	// Start server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("Shutting down server...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
		cancel()
	}()

	log.Info().Str("port", cfg.Port).Msg("Server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Server error")
	}

	log.Info().Msg("Server stopped")
}
