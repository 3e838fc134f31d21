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
	health "gitlab.com/safex/safex.telemetry/src/production/SFX.Health"
	sfxingestor "gitlab.com/safex/safex.telemetry/src/production/SFX.Ingestor"
)

func main() {
	// Initialize dependency injection container
	ctr, err := container.NewIngestorContainer()
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize container: %v", err))
	}
	defer ctr.Shutdown(context.Background())

	logger := ctr.GetLogger()
	logger.Info("Starting MQTT Ingestor Service")

	config := ctr.GetConfig()

	// The store must be reachable before we accept any message
	storeCtx, storeCancel := context.WithTimeout(context.Background(), config.Store.ConnectTimeout)
	store, err := ctr.GetReadingStore(storeCtx)
	storeCancel()
	if err != nil {
		logger.FatalWithError(err, "Failed to connect to reading store")
	}

	ing := sfxingestor.New(config.MQTT, config.Ingest, store, logger)

	connectCtx, connectCancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = ing.Start(connectCtx)
	connectCancel()
	if err != nil {
		logger.FatalWithError(err, "Failed to start MQTT ingestor")
	}

	checker := health.NewHealthChecker(3*time.Second).
		Add("store", store.Ping).
		Add("mqtt", func(context.Context) error {
			if state := ing.State(); state != sfxingestor.Subscribed {
				return fmt.Errorf("subscriber is %s", state)
			}
			return nil
		})

	srv := startHealthServer(ctr, checker)

	logger.Logger.Info().Str("topic", config.MQTT.Topic).Str("broker", config.MQTT.GetMQTTBrokerURL()).Msg("MQTT ingestor running... press Ctrl+C to stop")

	// Wait for shutdown signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("Shutting down...")

	// Disconnect and drain before the store is closed by the container
	ing.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithError(err, "Health server forced to shutdown")
	}
}

// startHealthServer serves liveness, readiness and metrics for the ingestor
func startHealthServer(ctr *container.IngestorContainer, checker *health.HealthChecker) *http.Server {
	logger := ctr.GetLogger()
	config := ctr.GetConfig()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/health", func(c *gin.Context) {
		status, ok := checker.GetHealthStatus(c.Request.Context())
		if !ok {
			c.JSON(http.StatusServiceUnavailable, status)
			return
		}
		c.JSON(http.StatusOK, status)
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
		logger.Info("Health server starting on port " + config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.FatalWithError(err, "Failed to start health server")
		}
	}()

	return srv
}
