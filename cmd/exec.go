package cmd

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"evanda/config"
	"evanda/handlers"
	"evanda/internal/api"
	"evanda/internal/checkout"
	"evanda/internal/recon"
	"evanda/internal/scanner"
	"evanda/monitoring"
	"evanda/security"
	"evanda/utils"
)

// Start wires the storefront gateway and serves until interrupted.
func Start() error {
	// Load configuration
	cfg := config.LoadConfig()

	// Initialize Redis
	redisClient := utils.NewRedisClient(cfg.RedisURL)
	defer redisClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Remote ticketing API client. A configured token pins the credential;
	// otherwise the login endpoint fills the shared session.
	session := &api.Session{}
	var tokens api.TokenSource = session
	if cfg.APIToken != "" {
		tokens = api.StaticToken(cfg.APIToken)
	}
	client := api.NewClient(cfg.APIBaseURL, cfg.RequestTimeout, tokens)

	// Reconciliation journal
	journal := recon.NewJournal(redisClient)

	// Optional settlement pushes; polling alone is still correct.
	var notifier checkout.Notifier
	if cfg.PubNubSubscribeKey != "" {
		notifier = checkout.NewPubNubNotifier(ctx, checkout.PubNubConfig{
			SubscribeKey: cfg.PubNubSubscribeKey,
			UserID:       cfg.PubNubUserID,
			Channel:      cfg.PubNubChannel,
		})
		slog.Info("settlement pushes enabled", "channel", cfg.PubNubChannel)
	}

	var monitor *monitoring.Monitor
	if cfg.EnableMetrics {
		monitor = monitoring.NewMonitor(redisClient)
	}

	checkoutCfg := checkout.Config{
		PollInterval: cfg.SettlementPollInterval,
		MaxWait:      cfg.SettlementMaxWait,
	}

	// Initialize handlers
	checkoutHandler := handlers.NewCheckoutHandler(client, journal, notifier, monitor, checkoutCfg)
	validator := scanner.NewValidator(cfg.StationID, client)
	scannerHandler := handlers.NewScannerHandler(validator, client, monitor)
	rateLimiter := security.NewRateLimiter(redisClient, cfg.ScanRateLimit, cfg.ScanRateWindow)

	authHandler := handlers.NewAuthHandler(client, session)

	e := echo.New()

	// Auth endpoints
	e.POST("/api/login", authHandler.Login)
	e.POST("/api/logout", authHandler.Logout)

	// Storefront endpoints
	e.GET("/api/events", checkoutHandler.ListEvents)
	e.GET("/api/events/:id/tickets", checkoutHandler.ListEventTickets)
	e.POST("/api/checkout", checkoutHandler.StartCheckout)
	e.GET("/api/checkout/:id", checkoutHandler.GetCheckout)
	e.POST("/api/checkout/:id/items", checkoutHandler.AdjustQuantity)
	e.POST("/api/checkout/:id/submit", checkoutHandler.Submit)
	e.POST("/api/checkout/:id/pay", checkoutHandler.Pay)
	e.POST("/api/checkout/:id/retry", checkoutHandler.Retry)
	e.POST("/api/checkout/:id/cancel", checkoutHandler.Cancel)

	// Scan station endpoints
	scan := e.Group("/api/scan", rateLimiter.ScanRateLimit())
	scan.POST("", scannerHandler.Scan)
	scan.GET("", scannerHandler.Status)
	scan.POST("/reset", scannerHandler.Reset)
	e.POST("/api/admin/scanners", scannerHandler.AddScanner)

	// Health check
	e.GET("/health", func(c echo.Context) error {
		if err := utils.RedisHealthCheck(redisClient); err != nil {
			return c.JSON(503, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
		}
		if err := client.Health(c.Request().Context()); err != nil {
			return c.JSON(503, map[string]string{
				"status": "degraded",
				"error":  "ticketing service unreachable",
			})
		}
		return c.JSON(200, map[string]string{"status": "healthy"})
	})

	if cfg.EnableMetrics {
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}

	log.Println("Server routes registered")

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: e,
	}

	// Setup graceful shutdown
	go handleShutdown(cancel)

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown", "error", err)
		}
	}()

	slog.Info("starting server", "port", cfg.Port, "environment", cfg.Environment)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handleShutdown handles graceful shutdown
func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
	cancel()
}
