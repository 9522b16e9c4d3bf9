package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers
const (
	StoreMongo  = "mongo"
	StoreMemory = "memory"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Port            string        `json:"port"`
	RealtimePort    string        `json:"realtime_port"`
	Env             string        `json:"env"`
	ServiceName     string        `json:"service_name"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	HTTPTimeout     time.Duration `json:"http_timeout"`
	AllowedOrigins  []string      `json:"allowed_origins"`

	// Document store
	StoreDriver   string `json:"store_driver"`
	MongoURI      string `json:"mongo_uri"`
	MongoDatabase string `json:"mongo_database"`

	// Redis configuration
	RedisURL    string        `json:"redis_url"`
	RedisPrefix string        `json:"redis_prefix"`
	DedupeTTL   time.Duration `json:"dedupe_ttl"`

	// AI Configuration
	OllamaHost string        `json:"ollama_host"`
	AIModel    string        `json:"ai_model"`
	AITimeout  time.Duration `json:"ai_timeout"`

	// Jobs
	RunWorkers         bool          `json:"run_workers"`
	GenerationDelay    time.Duration `json:"generation_delay"`
	WorkerConcurrency  int           `json:"worker_concurrency"`
	WorkerPollInterval time.Duration `json:"worker_poll_interval"`
	JobTimeout         time.Duration `json:"job_timeout"`
	JobLease           time.Duration `json:"job_lease"`
	JobMaxAttempts     int           `json:"job_max_attempts"`

	// Security
	JWTSecret   string        `json:"-"`
	JWTTTL      time.Duration `json:"jwt_ttl"`
	AdminAPIKey string        `json:"-"`

	// CloudFlare R2 archive (optional)
	R2Endpoint  string `json:"r2_endpoint"`
	R2AccessKey string `json:"-"`
	R2SecretKey string `json:"-"`
	R2Bucket    string `json:"r2_bucket"`
	R2Region    string `json:"r2_region"`

	// Logging and tracing
	LogLevel     string `json:"log_level"`
	LogFile      string `json:"log_file"`
	OTLPEndpoint string `json:"otlp_endpoint"`
}

// Load loads configuration from environment variables and validates it
func Load() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: Error loading .env file: %v", err)
	}

	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	return cfg
}

// FromEnv reads the configuration from the process environment without validating it.
func FromEnv() *Config {
	return &Config{
		// Server configuration
		Port:            getEnv("PORT", "3001"),
		RealtimePort:    getEnv("REALTIME_PORT", "3002"),
		Env:             getEnv("APP_ENV", "development"),
		ServiceName:     getEnv("SERVICE_NAME", "contentgen"),
		ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		HTTPTimeout:     getEnvAsDuration("HTTP_TIMEOUT", 30*time.Second),
		AllowedOrigins:  getEnvAsList("ALLOWED_ORIGINS", []string{"*"}),

		StoreDriver:   getEnv("STORE_DRIVER", StoreMongo),
		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase: getEnv("MONGO_DATABASE", "contentgen"),

		// Redis configuration
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RedisPrefix: getEnv("REDIS_PREFIX", "contentgen:"),
		DedupeTTL:   getEnvAsDuration("DEDUPE_TTL", 24*time.Hour),

		// AI Configuration
		OllamaHost: getEnv("OLLAMA_HOST", "http://localhost:11434"),
		AIModel:    getEnv("AI_MODEL", "llama3"),
		AITimeout:  getEnvAsDuration("AI_TIMEOUT", 120*time.Second),

		RunWorkers:         getEnvAsBool("RUN_WORKERS", true),
		GenerationDelay:    getEnvAsDuration("GENERATION_DELAY", 60*time.Second),
		WorkerConcurrency:  getEnvAsInt("WORKER_CONCURRENCY", 2),
		WorkerPollInterval: getEnvAsDuration("WORKER_POLL_INTERVAL", time.Second),
		JobTimeout:         getEnvAsDuration("JOB_TIMEOUT", 3*time.Minute),
		JobLease:           getEnvAsDuration("JOB_LEASE", 5*time.Minute),
		JobMaxAttempts:     getEnvAsInt("JOB_MAX_ATTEMPTS", 1),

		JWTSecret:   getEnv("JWT_SECRET", ""),
		JWTTTL:      getEnvAsDuration("JWT_TTL", 24*time.Hour),
		AdminAPIKey: getEnv("ADMIN_API_KEY", ""),

		// CloudFlare R2 Configuration
		R2Endpoint:  getEnv("R2_ENDPOINT", ""),
		R2AccessKey: getEnv("R2_ACCESS_KEY", ""),
		R2SecretKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
		R2Bucket:    getEnv("R2_BUCKET", ""),
		R2Region:    getEnv("R2_REGION", "auto"),

		// Logging
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogFile:      getEnv("LOG_FILE", ""),
		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []error

	switch c.StoreDriver {
	case StoreMongo:
		if c.MongoURI == "" {
			errs = append(errs, errors.New("MONGO_URI is required for the mongo store"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}

	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.WorkerConcurrency < 1 {
		errs = append(errs, errors.New("WORKER_CONCURRENCY must be at least 1"))
	}
	if c.JobMaxAttempts < 1 {
		errs = append(errs, errors.New("JOB_MAX_ATTEMPTS must be at least 1"))
	}
	if c.JobLease <= c.JobTimeout {
		errs = append(errs, errors.New("JOB_LEASE must be longer than JOB_TIMEOUT"))
	}
	if c.GenerationDelay < 0 {
		errs = append(errs, errors.New("GENERATION_DELAY must not be negative"))
	}

	return errors.Join(errs...)
}

// LogOutput returns the logger destination: LOG_FILE when set, otherwise stdout.
func (c *Config) LogOutput() string {
	if c.LogFile != "" {
		return c.LogFile
	}
	return "stdout"
}

// IsProduction reports whether the service runs with production defaults.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions for environment variable handling
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(name string, defaultVal int) int {
	valueStr := getEnv(name, "")
	if valueStr == "" {
		return defaultVal
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid %s value: %v, using default: %d", name, err, defaultVal)
		return defaultVal
	}
	return value
}

func getEnvAsBool(name string, defaultVal bool) bool {
	valueStr := getEnv(name, "")
	if valueStr == "" {
		return defaultVal
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Invalid %s value: %v, using default: %t", name, err, defaultVal)
		return defaultVal
	}
	return value
}

func getEnvAsDuration(name string, defaultVal time.Duration) time.Duration {
	valueStr := getEnv(name, "")
	if valueStr == "" {
		return defaultVal
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Printf("Invalid %s value: %v, using default: %v", name, err, defaultVal)
		return defaultVal
	}
	return value
}

func getEnvAsList(name string, defaultVal []string) []string {
	valueStr := getEnv(name, "")
	if valueStr == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
