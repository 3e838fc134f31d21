package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	container "gitlab.com/safex/safex.telemetry/src/production/SFX.Container"
	evaluator "gitlab.com/safex/safex.telemetry/src/production/SFX.Evaluator"
	monitor "gitlab.com/safex/safex.telemetry/src/production/SFX.Monitor"
	"gitlab.com/safex/safex.telemetry/src/production/SFX.MonitorService/client"
)

func main() {
	// Initialize dependency injection container
	ctr, err := container.NewMonitorContainer()
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize container: %v", err))
	}

	logger := ctr.GetLogger()
	logger.Info("Starting Monitor Service")

	config := ctr.GetConfig()

	apiClient := client.NewAPIClient(config.ApiServiceURL, config.HTTPTimeout)
	eval := evaluator.New(config.Alerts)
	mon := monitor.New(apiClient, eval, config.PollInterval, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		mon.Run(ctx)
	}()

	srv := startStatusServer(ctr, mon, apiClient)

	logger.Logger.Info().
		Str("api", config.ApiServiceURL).
		Dur("poll_interval", config.PollInterval).
		Dur("stale_after", config.Alerts.StaleAfter).
		Msg("Monitor running... press Ctrl+C to stop")

	// Wait for shutdown signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("Shutting down...")
	cancel()
	<-done

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithError(err, "Status server forced to shutdown")
	}
}

// startStatusServer serves the current verdict plus health and metrics
func startStatusServer(ctr *container.MonitorContainer, mon *monitor.Monitor, apiClient *client.APIClient) *http.Server {
	logger := ctr.GetLogger()
	config := ctr.GetConfig()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, mon.Snapshot())
	})
	router.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		apiStatus := "connected"
		code := http.StatusOK
		if err := apiClient.Health(ctx); err != nil {
			apiStatus = "disconnected"
			code = http.StatusServiceUnavailable
		}

		c.JSON(code, gin.H{
			"timestamp":       time.Now().UTC().Format(time.RFC3339),
			"api_service":     apiStatus,
			"circuit_breaker": apiClient.GetCircuitBreakerStatus(),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:         ":" + config.Server.Port,
		Handler:      router,
		ReadTimeout:  config.Server.ReadTimeout,
		WriteTimeout: config.Server.WriteTimeout,
		IdleTimeout:  config.Server.IdleTimeout,
	}

	go func() {
		logger.Info("Status server starting on port " + config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.FatalWithError(err, "Failed to start status server")
		}
	}()

	return srv
}
