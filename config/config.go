package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Auth          AuthConfig
	Registry      RegistryConfig
	ModelSource   ModelSourceConfig
	Storage       StorageConfig
	RateLimit     RateLimitConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	TLS             struct {
		Enabled  bool
		CertFile string
		KeyFile  string
	}
}

// DatabaseConfig holds the credential store connection settings.
// Driver is either "sqlite" (Path) or "postgres" (ConnectionString or individual fields).
type DatabaseConfig struct {
	Driver           string
	Path             string
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// AuthConfig holds credential and token settings
type AuthConfig struct {
	AdminUsername  string
	AdminPassword  string
	AdminAPIKey    string // optional; generated when empty
	SystemUsername string // optional env-only principal with admin role
	SystemKey      string
	TokenTTL       time.Duration
	BcryptCost     int
}

// RegistryConfig holds model registry and background load settings
type RegistryConfig struct {
	CacheDir             string
	LoadWorkers          int
	LoadQueueSize        int
	LoadTimeout          time.Duration
	RehydrateConcurrency int
	RehydrateTimeout     time.Duration
}

// ModelSourceConfig holds the external model source endpoints
type ModelSourceConfig struct {
	TrackingURI          string
	TrackingToken        string
	ServingURLTemplate   string
	HubEndpoint          string
	HubInferenceEndpoint string
	HubToken             string
	HTTPTimeout          time.Duration
}

// StorageConfig holds blob and variable store locations
type StorageConfig struct {
	DataDirectory          string
	DataGroup              string
	VariableStoreDirectory string
}

// RateLimitConfig holds per-principal prediction limits. RequestsPerSecond <= 0 disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or console
	MetricsEnabled bool
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 120*time.Second),
			RequestTimeout:  getEnvAsDuration("SERVER_REQUEST_TIMEOUT", 110*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:*", "https://*"}),
			TLS: struct {
				Enabled  bool
				CertFile string
				KeyFile  string
			}{
				Enabled:  getEnvAsBool("TLS_ENABLED", false),
				CertFile: getEnv("TLS_CERT_FILE", "certs/cert.pem"),
				KeyFile:  getEnv("TLS_KEY_FILE", "certs/key.pem"),
			},
		},
		Database: loadDatabaseConfig(),
		Auth: AuthConfig{
			AdminUsername:  getEnv("ADMIN_USERNAME", ""),
			AdminPassword:  getEnv("ADMIN_PASSWORD", ""),
			AdminAPIKey:    getEnv("ADMIN_API_KEY", ""),
			SystemUsername: getEnv("SYSTEM_USERNAME", ""),
			SystemKey:      getEnv("SYSTEM_KEY", ""),
			TokenTTL:       getEnvAsDuration("ACCESS_TOKEN_TTL", 30*time.Minute),
			BcryptCost:     getEnvAsInt("BCRYPT_COST", 10),
		},
		Registry: RegistryConfig{
			CacheDir:             getEnv("MODEL_CACHE_DIR", filepath.Join(".", ".model_cache")),
			LoadWorkers:          getEnvAsInt("LOAD_WORKERS", 2),
			LoadQueueSize:        getEnvAsInt("LOAD_QUEUE_SIZE", 64),
			LoadTimeout:          getEnvAsDuration("LOAD_TIMEOUT", 30*time.Minute),
			RehydrateConcurrency: getEnvAsInt("REHYDRATE_CONCURRENCY", 4),
			RehydrateTimeout:     getEnvAsDuration("REHYDRATE_TIMEOUT", 10*time.Minute),
		},
		ModelSource: ModelSourceConfig{
			TrackingURI:          getEnv("MLFLOW_TRACKING_URI", "http://localhost:5000"),
			TrackingToken:        getEnv("MLFLOW_TRACKING_TOKEN", ""),
			ServingURLTemplate:   getEnv("MODEL_SERVING_URL", "http://localhost:5001/models/{name}/{version}"),
			HubEndpoint:          getEnv("HF_ENDPOINT", "https://huggingface.co"),
			HubInferenceEndpoint: getEnv("HF_INFERENCE_ENDPOINT", "https://api-inference.huggingface.co"),
			HubToken:             getEnv("HF_TOKEN", ""),
			HTTPTimeout:          getEnvAsDuration("MODEL_SOURCE_TIMEOUT", 60*time.Second),
		},
		Storage: StorageConfig{
			DataDirectory:          getEnv("DATA_DIRECTORY", filepath.Join(".", "data")),
			DataGroup:              getEnv("DATA_GROUP", ""),
			VariableStoreDirectory: getEnv("VARIABLE_STORE_DIRECTORY", filepath.Join(".", ".variable_store")),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsFloat("RATE_LIMIT_RPS", 0),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 20),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for sqlite: set DB_PATH")
		}
	case "postgres":
		if c.Database.ConnectionString == "" && c.Database.Host == "" {
			return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
		}
		if c.Database.ConnectionString == "" {
			if c.Database.User == "" {
				return fmt.Errorf("database user is required")
			}
			if c.Database.Database == "" {
				return fmt.Errorf("database name is required")
			}
		}
	default:
		return fmt.Errorf("unsupported database driver %q: use sqlite or postgres", c.Database.Driver)
	}

	if c.Auth.AdminUsername == "" || c.Auth.AdminPassword == "" {
		return fmt.Errorf("bootstrap admin credentials are required: set ADMIN_USERNAME and ADMIN_PASSWORD")
	}
	if (c.Auth.SystemUsername == "") != (c.Auth.SystemKey == "") {
		return fmt.Errorf("SYSTEM_USERNAME and SYSTEM_KEY must be set together")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("access token TTL must be positive")
	}

	if c.Registry.CacheDir == "" {
		return fmt.Errorf("model cache directory is required")
	}
	if c.Registry.LoadWorkers < 1 {
		return fmt.Errorf("at least one load worker is required")
	}
	if c.Registry.LoadQueueSize < 1 {
		return fmt.Errorf("load queue size must be positive")
	}

	if c.ModelSource.TrackingURI == "" {
		return fmt.Errorf("model tracking URI is required: set MLFLOW_TRACKING_URI")
	}
	if _, err := url.Parse(c.ModelSource.TrackingURI); err != nil {
		return fmt.Errorf("invalid MLFLOW_TRACKING_URI: %w", err)
	}

	if c.Storage.DataDirectory == "" || c.Storage.VariableStoreDirectory == "" {
		return fmt.Errorf("data and variable store directories are required")
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the driver-specific data source name.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "sqlite" {
		return c.Path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password).
func (c *DatabaseConfig) LogString() string {
	if c.Driver == "sqlite" {
		return fmt.Sprintf("sqlite path=%s", c.Path)
	}
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

func loadDatabaseConfig() DatabaseConfig {
	cfg := DatabaseConfig{
		Driver:          getEnv("DB_DRIVER", "sqlite"),
		Path:            getEnv("DB_PATH", filepath.Join(".", "control_plane.db")),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
	if cfg.Driver != "postgres" {
		return cfg
	}
	if dbURL := getEnv("DATABASE_URL", ""); dbURL != "" {
		cfg.ConnectionString = dbURL
		return cfg
	}
	cfg.Host = getEnv("DB_HOST", "localhost")
	cfg.Port = getEnvAsInt("DB_PORT", 5432)
	cfg.User = getEnv("DB_USER", "control_plane")
	cfg.Password = getEnv("DB_PASSWORD", "")
	cfg.Database = getEnv("DB_NAME", "control_plane")
	cfg.SSLMode = getEnv("DB_SSLMODE", "disable")
	return cfg
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// CacheFile returns the path of the durable model cache
func (c *RegistryConfig) CacheFile() string {
	return filepath.Join(c.CacheDir, "models.json")
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	for _, key := range []string{"PORT", "SERVER_PORT"} {
		if value := os.Getenv(key); value != "" {
			if p, err := strconv.Atoi(value); err == nil {
				return p
			}
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
