package container

import (
	"context"
	"fmt"
	"sync"

	config "gitlab.com/safex/safex.telemetry/src/production/SFX.Config"
	health "gitlab.com/safex/safex.telemetry/src/production/SFX.Health"
	logger "gitlab.com/safex/safex.telemetry/src/production/SFX.Logger"
	implementation "gitlab.com/safex/safex.telemetry/src/production/SFX.Repository/Implementation"
	interfaces "gitlab.com/safex/safex.telemetry/src/production/SFX.Repository/Interfaces"
)

// Container manages the dependencies shared by the services and their lifecycle
type Container struct {
	storeConfig *config.StoreConfig
	logger      *logger.Logger
	store       interfaces.ReadingStore

	// Mutex for thread-safe access
	mu sync.Mutex

	// Cleanup functions, run in reverse order on Shutdown
	cleanupFuncs []func(ctx context.Context) error
}

// IngestorContainer manages dependencies for the MQTT Ingestor service
type IngestorContainer struct {
	*Container
	config *config.IngestorConfig
}

// ApiContainer manages dependencies for the query API service
type ApiContainer struct {
	*Container
	config *config.ApiConfig
}

// MonitorContainer manages dependencies for the monitor service. The monitor
// only talks HTTP, so it has no store.
type MonitorContainer struct {
	config *config.MonitorConfig
	logger *logger.Logger
}

// NewIngestorContainer creates a new container for the MQTT Ingestor service
func NewIngestorContainer() (*IngestorContainer, error) {
	cfg, err := config.LoadIngestorConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load ingestor configuration: %w", err)
	}

	log := logger.NewLogger(&cfg.Logging).WithService("sfx-ingestor")

	return &IngestorContainer{
		Container: newContainer(&cfg.Store, log),
		config:    cfg,
	}, nil
}

// NewApiContainer creates a new container for the API service
func NewApiContainer() (*ApiContainer, error) {
	cfg, err := config.LoadApiConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load API configuration: %w", err)
	}

	log := logger.NewLogger(&cfg.Logging).WithService("sfx-api")

	return &ApiContainer{
		Container: newContainer(&cfg.Store, log),
		config:    cfg,
	}, nil
}

// NewMonitorContainer creates a new container for the monitor service
func NewMonitorContainer() (*MonitorContainer, error) {
	cfg, err := config.LoadMonitorConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load monitor configuration: %w", err)
	}

	return &MonitorContainer{
		config: cfg,
		logger: logger.NewLogger(&cfg.Logging).WithService("sfx-monitor"),
	}, nil
}

func newContainer(storeCfg *config.StoreConfig, log *logger.Logger) *Container {
	return &Container{
		storeConfig: storeCfg,
		logger:      log,
	}
}

// GetConfig returns the ingestor configuration
func (c *IngestorContainer) GetConfig() *config.IngestorConfig {
	return c.config
}

// GetConfig returns the API configuration
func (c *ApiContainer) GetConfig() *config.ApiConfig {
	return c.config
}

// GetConfig returns the monitor configuration
func (c *MonitorContainer) GetConfig() *config.MonitorConfig {
	return c.config
}

// GetLogger returns the logger
func (c *Container) GetLogger() *logger.Logger {
	return c.logger
}

// GetLogger returns the logger
func (c *MonitorContainer) GetLogger() *logger.Logger {
	return c.logger
}

// GetReadingStore connects the configured backend on first use, wrapping it
// in the Redis latest-reading cache when REDIS_ADDR is set.
func (c *Container) GetReadingStore(ctx context.Context) (interfaces.ReadingStore, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.store != nil {
		return c.store, nil
	}

	store, err := c.openBackend(ctx)
	if err != nil {
		return nil, err
	}

	if c.storeConfig.RedisAddr != "" {
		rdb, err := health.ConnectRedis(c.storeConfig)
		if err != nil {
			// Still wrap: the cache must see every append once Redis is back.
			c.logger.Logger.Warn().Err(err).Msg("Redis not reachable, serving from the primary store until it is")
		}
		store = implementation.NewCachedReadingStore(store, rdb, c.storeConfig.RedisKey, c.storeConfig.RedisTTL, c.logger)
		c.logger.Logger.Info().Str("addr", c.storeConfig.RedisAddr).Msg("Latest-reading cache enabled")
	}

	c.store = store
	c.cleanupFuncs = append(c.cleanupFuncs, store.Close)
	return store, nil
}

func (c *Container) openBackend(ctx context.Context) (interfaces.ReadingStore, error) {
	cfg := c.storeConfig

	switch cfg.Backend {
	case config.BackendMongo:
		client, err := health.ConnectMongoWithTimeout(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		store, err := implementation.NewMongoReadingStore(ctx, client, cfg.MongoDB, cfg.MongoCollection)
		if err != nil {
			_ = client.Disconnect(context.Background())
			return nil, fmt.Errorf("failed to initialize reading store: %w", err)
		}
		c.logger.Logger.Info().Str("db", cfg.MongoDB).Str("collection", cfg.MongoCollection).Msg("Connected to MongoDB")
		return store, nil

	case config.BackendPostgres:
		db, err := health.ConnectPostgresWithTimeout(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		store, err := implementation.NewPostgresReadingStore(ctx, db)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize reading store: %w", err)
		}
		c.logger.Info("Connected to PostgreSQL")
		return store, nil

	case config.BackendMemory:
		c.logger.Warn("Using in-memory reading store, data is lost on restart")
		return implementation.NewMemoryReadingStore(), nil
	}

	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

// Shutdown gracefully shuts down the container and all its dependencies
func (c *Container) Shutdown(ctx context.Context) error {
	c.logger.Info("Shutting down container...")

	c.mu.Lock()
	funcs := c.cleanupFuncs
	c.cleanupFuncs = nil
	c.mu.Unlock()

	for i := len(funcs) - 1; i >= 0; i-- {
		if err := funcs[i](ctx); err != nil {
			c.logger.ErrorWithError(err, "Error during cleanup")
		}
	}

	c.logger.Info("Container shutdown completed")
	return nil
}
