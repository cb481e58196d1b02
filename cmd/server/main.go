package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/bancosur/backend/docs"
	"github.com/bancosur/backend/internal/database"
	mW "github.com/bancosur/backend/internal/middleware"
	"github.com/bancosur/backend/internal/services"
)

// @title Banco Sur Ledger API
// @version 1.0
// @description Transactional ledger for business banking: transfers, credits, loans and client onboarding
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env
	viper.ReadInConfig()        // read .env file

	// Set environment variable prefix
	viper.SetEnvPrefix("")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")
	viper.BindEnv("argon2.time", "ARGON2_TIME")
	viper.BindEnv("argon2.memory", "ARGON2_MEMORY")
	viper.BindEnv("argon2.threads", "ARGON2_THREADS")
	viper.BindEnv("argon2.key_length", "ARGON2_KEY_LENGTH")
	viper.BindEnv("argon2.salt_length", "ARGON2_SALT_LENGTH")

	viper.BindEnv("ledger.treasury_alias", "LEDGER_TREASURY_ALIAS")
	viper.BindEnv("ledger.max_retries", "LEDGER_MAX_RETRIES")
	viper.BindEnv("ledger.retry_backoff", "LEDGER_RETRY_BACKOFF")
	viper.BindEnv("ledger.routing_prefix", "LEDGER_ROUTING_PREFIX")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "Banco Sur Ledger API"
	docs.SwaggerInfo.Description = "Transactional ledger for business banking"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	ledgerService := services.NewLedgerService(db)
	accountService := services.NewAccountService(db)
	movementService := services.NewMovementService(db)
	approvalService := services.NewApprovalService(db)
	loanService := services.NewLoanService(db, ledgerService)
	receiptService := services.NewReceiptService(movementService, redisClient)
	authService := services.NewAuthService(db, redisClient)

	// Initialize auth middleware with Redis
	mW.InitAuthMiddleware(redisClient)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/auth/register", authService.Register)
		r.Post("/auth/login", authService.Login)
		r.Post("/auth/logout", authService.Logout)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/auth/account", authService.GetUserAccount)

			// Account endpoints
			r.Get("/accounts/me", accountService.GetMyAccount)
			r.Get("/accounts/resolve", accountService.ResolveAccount)

			// Transfers
			r.Post("/transfers", ledgerService.TransferFunds)

			// Movement log
			r.Get("/movements/recent", movementService.RecentMovements)
			r.Get("/movements/statement", movementService.Statement)
			r.Get("/movements/statement/export", movementService.ExportStatement)

			// Receipts
			r.Get("/receipts/{txID}", movementService.GetReceipt)
			r.Get("/receipts/{txID}/qr", receiptService.ReceiptQR)
			r.Get("/receipts/{txID}/iso20022", receiptService.ReceiptISO20022)

			// Loans
			r.Post("/loans", loanService.RequestLoanHandler)
			r.Get("/loans", loanService.ListMyLoans)

			// Employee endpoints
			r.Group(func(r chi.Router) {
				r.Use(mW.RequireBankRole(db))

				r.Post("/admin/credits", ledgerService.BankCredit)
				r.Get("/admin/accounts", accountService.SearchAccounts)
				r.Get("/admin/accounts/{uid}/movements", movementService.AccountMovements)
				r.Get("/admin/clients/pending", approvalService.ListPendingClients)
				r.Post("/admin/clients/{userID}/approve", approvalService.ApproveClientHandler)
				r.Get("/admin/loans/pending", loanService.ListPendingLoans)
				r.Post("/admin/loans/{loanID}/approve", loanService.ApproveLoanHandler)
			})
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
