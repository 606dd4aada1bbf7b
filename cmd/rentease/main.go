package main

import (
	"github.com/Carey99/RentEase-sub000/internal/daraja"
	"github.com/Carey99/RentEase-sub000/internal/handlers"
	"github.com/Carey99/RentEase-sub000/pkg/auth"
	"github.com/Carey99/RentEase-sub000/pkg/config"
	"github.com/Carey99/RentEase-sub000/pkg/crypto"
	"github.com/Carey99/RentEase-sub000/pkg/database"
	"github.com/Carey99/RentEase-sub000/pkg/monitoring"
	"github.com/Carey99/RentEase-sub000/pkg/server"
	"github.com/Carey99/RentEase-sub000/pkg/version"

	"github.com/Carey99/RentEase-sub000/pkg/logging"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("rentease-payments")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting RentEase payments core")

	dbURL := config.RequireEnv("DATABASE_URL")
	jwtSecret := config.RequireEnv("JWT_SECRET")
	callbackURL := config.RequireEnv("DARAJA_CALLBACK_URL")

	// Connect to database and apply the embedded schema
	dbConfig := database.DefaultConfig()
	dbConfig.URL = dbURL
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	if err := database.ApplySchema(db, logger); err != nil {
		logger.WithError(err).Fatal("Schema migration failed")
	}

	// Credential encryption for stored Daraja secrets
	encryptor, err := crypto.NewFieldEncryptorFromEnv(logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize field encryption")
	}

	// Outbound Daraja client, shared by all request handlers
	darajaClient := daraja.NewClient(daraja.Config{
		CallbackURL: callbackURL,
		Logger:      logger,
	})

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("rentease-payments", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("rentease-payments", version.Version, version.GitCommit)

	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL":        dbURL,
		"JWT_SECRET":          jwtSecret,
		"DARAJA_CALLBACK_URL": callbackURL,
	}))

	// Custom payment metrics
	metrics := &handlers.PaymentMetrics{
		STKPushes:          metricsCollector.NewCounter("stk_pushes_total", "STK push initiations", []string{"result"}),
		CallbacksReceived:  metricsCollector.NewCounter("daraja_callbacks_total", "Daraja callbacks received", []string{"kind"}),
		StatementsIngested: metricsCollector.NewCounter("statements_ingested_total", "M-Pesa statements ingested", []string{"status"}),
		MatchReviews:       metricsCollector.NewCounter("match_reviews_total", "Transaction match reviews", []string{"action"}),
		DarajaDuration:     metricsCollector.NewHistogram("daraja_request_duration_seconds", "Outbound Daraja request duration", []string{"operation"}),
	}

	// Initialize handlers
	handlers.Init(db, logger, encryptor, darajaClient, metrics)

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "rentease-payments", healthChecker, metricsCollector)

	{
		// Daraja posts here; no auth, the callback path validates by shape
		router.POST("/api/daraja/callback", handlers.HandleDarajaCallback)
		router.POST("/api/daraja/timeout", handlers.HandleDarajaTimeout)

		protected := router.Group("")
		protected.Use(auth.JWTAuthMiddleware([]byte(jwtSecret)))
		{
			// STK push lifecycle
			protected.POST("/api/payments/stk", handlers.InitiateSTKPush)
			protected.GET("/api/payments/stk/:checkoutRequestID", handlers.GetSTKStatus)
			// A param segment cannot share the /api/payments level with the
			// static stk routes, hence the receipt prefix.
			protected.GET("/api/payments/receipt/:paymentId", handlers.GetPaymentReceipt)

			// Per-landlord gateway configuration
			protected.POST("/api/landlords/:id/daraja/configure", handlers.ConfigureDaraja)
			protected.GET("/api/landlords/:id/daraja/status", handlers.GetDarajaStatus)
			protected.POST("/api/landlords/:id/daraja/test", handlers.TestDarajaConnection)
			protected.DELETE("/api/landlords/:id/daraja/configure", handlers.DeleteDarajaConfig)

			// Statement reconciliation
			protected.POST("/api/mpesa/statements", handlers.UploadStatement)
			protected.GET("/api/mpesa/statements", handlers.ListStatements)
			protected.GET("/api/mpesa/statements/:id", handlers.GetStatement)
			protected.DELETE("/api/mpesa/statements/:id", handlers.DeleteStatement)
			protected.POST("/api/mpesa/matches/:id/approve", handlers.ApproveMatch)
			protected.POST("/api/mpesa/matches/:id/reject", handlers.RejectMatch)
			protected.POST("/api/mpesa/matches/:id/manual-match", handlers.ManualMatch)
		}
	}

	// Start server with graceful shutdown
	serverConfig := server.DefaultConfig("rentease-payments", "18080")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
