package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends understood by the containers.
const (
	BackendMongo    = "mongo"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port         string        `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// MQTTConfig holds MQTT-related configuration
type MQTTConfig struct {
	BrokerHost  string        `json:"broker_host"`
	BrokerPort  int           `json:"broker_port"`
	BrokerUser  string        `json:"broker_user"`
	BrokerPass  string        `json:"-"`
	UseTLS      bool          `json:"use_tls"`
	CACertPath  string        `json:"ca_cert_path"`
	Topic       string        `json:"topic"`
	ErrorTopic  string        `json:"error_topic"`
	ClientID    string        `json:"client_id"`
	QoS         byte          `json:"qos"`
	KeepAlive   time.Duration `json:"keep_alive"`
	PingTimeout time.Duration `json:"ping_timeout"`
}

// StoreConfig selects and configures the reading store
type StoreConfig struct {
	Backend         string `json:"backend"`
	MongoURI        string `json:"-"`
	MongoDB         string `json:"mongo_db"`
	MongoCollection string `json:"mongo_collection"`
	PostgresURL     string `json:"-"`
	PostgresMaxConn int    `json:"postgres_max_conns"`

	// Redis latest-reading cache; disabled when RedisAddr is empty.
	RedisAddr     string        `json:"redis_addr"`
	RedisPassword string        `json:"-"`
	RedisDB       int           `json:"redis_db"`
	RedisKey      string        `json:"redis_key"`
	RedisTTL      time.Duration `json:"redis_ttl"`

	ConnectTimeout time.Duration `json:"connect_timeout"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level        string `json:"level"`
	Format       string `json:"format"` // json or text
	Output       string `json:"output"` // stdout, stderr, or file path
	EnableCaller bool   `json:"enable_caller"`
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	ExposedHeaders   []string `json:"exposed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
	MaxAge           int      `json:"max_age"`
}

// IngestConfig tunes the ingestion worker
type IngestConfig struct {
	BufferSize   int           `json:"buffer_size"`
	WriteTimeout time.Duration `json:"write_timeout"`
	KeepUnknown  bool          `json:"keep_unknown"`
}

// AlertConfig holds the evaluator thresholds
type AlertConfig struct {
	StaleAfter    time.Duration `json:"stale_after"`
	HeartRateLow  float64       `json:"heart_rate_low"`
	HeartRateHigh float64       `json:"heart_rate_high"`
	SpO2Low       float64       `json:"spo2_low"`
	COVoltHigh    float64       `json:"co_volt_high"`
}

// IngestorConfig holds configuration for the MQTT Ingestor service
type IngestorConfig struct {
	Server  ServerConfig  `json:"server"`
	MQTT    MQTTConfig    `json:"mqtt"`
	Store   StoreConfig   `json:"store"`
	Ingest  IngestConfig  `json:"ingest"`
	Logging LoggingConfig `json:"logging"`
}

// ApiConfig holds configuration for the query API service
type ApiConfig struct {
	Server  ServerConfig  `json:"server"`
	Store   StoreConfig   `json:"store"`
	Logging LoggingConfig `json:"logging"`
	CORS    CORSConfig    `json:"cors"`
}

// MonitorConfig holds configuration for the polling monitor service
type MonitorConfig struct {
	Server        ServerConfig  `json:"server"`
	ApiServiceURL string        `json:"api_service_url"`
	PollInterval  time.Duration `json:"poll_interval"`
	HTTPTimeout   time.Duration `json:"http_timeout"`
	Alerts        AlertConfig   `json:"alerts"`
	Logging       LoggingConfig `json:"logging"`
}

// LoadIngestorConfig loads configuration for the MQTT Ingestor service
func LoadIngestorConfig() (*IngestorConfig, error) {
	loadDotEnv()
	e := &env{}

	config := &IngestorConfig{
		Server:  e.server("INGESTOR_PORT", "9003"),
		MQTT:    e.mqtt(),
		Store:   e.store(),
		Logging: e.logging(),
		Ingest: IngestConfig{
			BufferSize:   e.getInt("INGEST_BUFFER", 1024),
			WriteTimeout: e.getDuration("STORE_WRITE_TIMEOUT", 5*time.Second),
			KeepUnknown:  e.getBool("NORMALIZER_KEEP_UNKNOWN", false),
		},
	}
	if e.err != nil {
		return nil, e.err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return config, nil
}

// LoadApiConfig loads configuration for the API service
func LoadApiConfig() (*ApiConfig, error) {
	loadDotEnv()
	e := &env{}

	config := &ApiConfig{
		Server:  e.server("PORT", "3001"),
		Store:   e.store(),
		Logging: e.logging(),
		CORS: CORSConfig{
			AllowedOrigins:   e.getStringSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			AllowedMethods:   e.getStringSlice("CORS_ALLOWED_METHODS", []string{"GET", "OPTIONS"}),
			AllowedHeaders:   e.getStringSlice("CORS_ALLOWED_HEADERS", []string{"Origin", "Content-Type", "Accept", "Authorization"}),
			ExposedHeaders:   e.getStringSlice("CORS_EXPOSED_HEADERS", []string{"Content-Length", "X-Request-ID"}),
			AllowCredentials: e.getBool("CORS_ALLOW_CREDENTIALS", true),
			MaxAge:           e.getInt("CORS_MAX_AGE", 43200), // 12 hours
		},
	}
	if e.err != nil {
		return nil, e.err
	}

	if err := config.Store.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return config, nil
}

// LoadMonitorConfig loads configuration for the monitor service
func LoadMonitorConfig() (*MonitorConfig, error) {
	loadDotEnv()
	e := &env{}

	config := &MonitorConfig{
		Server:        e.server("MONITOR_PORT", "9004"),
		ApiServiceURL: e.getEnv("API_SERVICE_URL", "http://localhost:3001"),
		PollInterval:  e.getDuration("POLL_INTERVAL", 5*time.Second),
		HTTPTimeout:   e.getDuration("MONITOR_HTTP_TIMEOUT", 3*time.Second),
		Alerts: AlertConfig{
			StaleAfter:    e.getDuration("STALE_THRESHOLD", 60*time.Second),
			HeartRateLow:  e.getFloat("ALERT_HR_LOW", 70),
			HeartRateHigh: e.getFloat("ALERT_HR_HIGH", 130),
			SpO2Low:       e.getFloat("ALERT_SPO2_LOW", 95),
			COVoltHigh:    e.getFloat("ALERT_CO_VOLT_HIGH", 0.6),
		},
		Logging: e.logging(),
	}
	if e.err != nil {
		return nil, e.err
	}

	if config.ApiServiceURL == "" {
		return nil, fmt.Errorf("API_SERVICE_URL is required")
	}
	if config.PollInterval <= 0 {
		return nil, fmt.Errorf("POLL_INTERVAL must be positive")
	}
	if config.Alerts.StaleAfter <= 0 {
		return nil, fmt.Errorf("STALE_THRESHOLD must be positive")
	}
	return config, nil
}

// Validate validates the ingestor configuration
func (c *IngestorConfig) Validate() error {
	if c.MQTT.BrokerHost == "" {
		return fmt.Errorf("BROKER_HOST is required")
	}
	if c.MQTT.Topic == "" {
		return fmt.Errorf("MQTT_TOPIC is required")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("MQTT_QOS must be 0, 1 or 2")
	}
	if c.Ingest.BufferSize < 1 {
		return fmt.Errorf("INGEST_BUFFER must be at least 1")
	}
	return c.Store.Validate()
}

// Validate checks that the selected backend has what it needs
func (s *StoreConfig) Validate() error {
	switch s.Backend {
	case BackendMongo:
		if s.MongoURI == "" {
			return fmt.Errorf("MONGODB_URI is required for store backend %q", s.Backend)
		}
	case BackendPostgres:
		if s.PostgresURL == "" {
			return fmt.Errorf("POSTGRES_URL is required for store backend %q", s.Backend)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", s.Backend)
	}
	return nil
}

// GetMQTTBrokerURL returns the MQTT broker URL
func (c *MQTTConfig) GetMQTTBrokerURL() string {
	scheme := "tcp"
	if c.UseTLS {
		scheme = "tcps"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.BrokerHost, c.BrokerPort)
}

func loadDotEnv() {
	// A missing .env is fine, the process environment is used as is.
	_ = godotenv.Load()
}

func (e *env) server(portKey, defaultPort string) ServerConfig {
	return ServerConfig{
		Port:         e.getEnv(portKey, defaultPort),
		ReadTimeout:  e.getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout: e.getDuration("WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:  e.getDuration("IDLE_TIMEOUT", 120*time.Second),
	}
}

func (e *env) mqtt() MQTTConfig {
	return MQTTConfig{
		BrokerHost:  e.getEnv("BROKER_HOST", "localhost"),
		BrokerPort:  e.getInt("BROKER_PORT", 1883),
		BrokerUser:  e.getEnv("BROKER_USER", ""),
		BrokerPass:  e.getEnv("BROKER_PASS", ""),
		UseTLS:      e.getBool("BROKER_TLS", false),
		CACertPath:  e.getEnv("BROKER_CA_FILE", ""),
		Topic:       e.getEnv("MQTT_TOPIC", "wearable/device-01/data"),
		ErrorTopic:  e.getEnv("MQTT_ERROR_TOPIC", "wearable/device-01/errors"),
		ClientID:    e.getEnv("MQTT_CLIENT_ID", "sfx-ingestor"),
		QoS:         byte(e.getInt("MQTT_QOS", 1)),
		KeepAlive:   e.getDuration("MQTT_KEEP_ALIVE", 30*time.Second),
		PingTimeout: e.getDuration("MQTT_PING_TIMEOUT", 10*time.Second),
	}
}

func (e *env) store() StoreConfig {
	return StoreConfig{
		Backend:         strings.ToLower(e.getEnv("STORE_BACKEND", BackendMongo)),
		MongoURI:        e.getEnv("MONGODB_URI", ""),
		MongoDB:         e.getEnv("MONGODB_DB", "wearableDataDB"),
		MongoCollection: e.getEnv("MONGODB_COLLECTION", "sensorReadings"),
		PostgresURL:     e.getEnv("POSTGRES_URL", ""),
		PostgresMaxConn: e.getInt("POSTGRES_MAX_CONNS", 10),
		RedisAddr:       e.getEnv("REDIS_ADDR", ""),
		RedisPassword:   e.getEnv("REDIS_PASSWORD", ""),
		RedisDB:         e.getInt("REDIS_DB", 0),
		RedisKey:        e.getEnv("REDIS_LATEST_KEY", "sfx:reading:latest"),
		RedisTTL:        e.getDuration("REDIS_CACHE_TTL", 24*time.Hour),
		ConnectTimeout:  e.getDuration("STORE_CONNECT_TIMEOUT", 20*time.Second),
	}
}

func (e *env) logging() LoggingConfig {
	return LoggingConfig{
		Level:        e.getEnv("LOG_LEVEL", "info"),
		Format:       e.getEnv("LOG_FORMAT", "text"),
		Output:       e.getEnv("LOG_OUTPUT", "stdout"),
		EnableCaller: e.getBool("LOG_ENABLE_CALLER", false),
	}
}

// env reads typed values and keeps the first parse error.
type env struct {
	err error
}

func (e *env) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}

func (e *env) getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (e *env) getInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		e.fail(key, err)
		return defaultValue
	}
	return intValue
}

func (e *env) getFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		e.fail(key, err)
		return defaultValue
	}
	return f
}

func (e *env) getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	switch value {
	case "1", "true", "TRUE":
		return true
	case "0", "false", "FALSE":
		return false
	}
	e.fail(key, fmt.Errorf("%q (expected true/false or 1/0)", value))
	return defaultValue
}

func (e *env) getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		e.fail(key, err)
		return defaultValue
	}
	return duration
}

func (e *env) getStringSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
