package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	RateLimit     RateLimitConfig
	Providers     ProvidersConfig
	Embedding     EmbeddingConfig
	Reranker      RerankerConfig
	Retrieval     RetrievalConfig
	Router        RouterConfig
	Usage         UsageConfig
	Auth          AuthConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	TLS             struct {
		Enabled  bool
		CertFile string
		KeyFile  string
	}
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
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
	InitSchema       bool
}

// RedisConfig holds Redis configuration. Addr empty means Redis is not used.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RateLimitConfig holds the fixed-window admission settings
type RateLimitConfig struct {
	Store            string // postgres or redis
	WindowSeconds    int
	PlanCeilings     map[string]int
	SuspendedCeiling int
	GCProbability    float64
	PlansFile        string
}

// ProvidersConfig holds generation provider configurations
type ProvidersConfig struct {
	Anthropic AnthropicConfig
	OpenAI    OpenAIConfig
}

// AnthropicConfig holds the primary generation provider configuration
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// OpenAIConfig holds the secondary generation provider configuration
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// EmbeddingConfig holds the text and page embedding service configuration.
// Model and dimensions must match what the ingestion service wrote.
type EmbeddingConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	Dimensions     int
	PageBaseURL    string
	PageAPIKey     string
	PageModel      string
	PageDimensions int
	Timeout        time.Duration
	ProbeOnStart   bool
}

// RerankerConfig holds the reranking service configuration.
// An empty APIKey disables the remote reranker.
type RerankerConfig struct {
	BaseURL      string
	APIKey       string
	Model        string
	Timeout      time.Duration
	ContentChars int
}

// RetrievalConfig holds retrieval sizing
type RetrievalConfig struct {
	TopK              int
	OverFetchFactor   int
	MaxCandidates     int
	PageMinSimilarity float64
	PageLimit         int
}

// RouterConfig holds model selection and retry settings
type RouterConfig struct {
	DefaultModel string
	MaxAttempts  int
	Backoff      []time.Duration
	MaxTokens    int
}

// UsageConfig holds the async usage logger settings
type UsageConfig struct {
	BufferSize  int
	WorkerCount int
	PricingFile string
}

// AuthConfig holds JWT verification settings
type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or text
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
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
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
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			Store:            getEnv("RATE_LIMIT_STORE", "postgres"),
			WindowSeconds:    getEnvAsInt("RATE_LIMIT_WINDOW_SECONDS", 3600),
			PlanCeilings:     DefaultPlanCeilings(),
			SuspendedCeiling: getEnvAsInt("RATE_LIMIT_SUSPENDED_CEILING", 5),
			GCProbability:    getEnvAsFloat("RATE_LIMIT_GC_PROBABILITY", 0.01),
			PlansFile:        getEnv("RATE_LIMIT_PLANS_FILE", ""),
		},
		Providers: ProvidersConfig{
			Anthropic: AnthropicConfig{
				APIKey:  getEnv("ANTHROPIC_API_KEY", ""),
				BaseURL: getEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
				Timeout: getEnvAsDuration("ANTHROPIC_TIMEOUT", 60*time.Second),
			},
			OpenAI: OpenAIConfig{
				APIKey:  getEnv("OPENAI_API_KEY", ""),
				BaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
				Timeout: getEnvAsDuration("OPENAI_TIMEOUT", 60*time.Second),
			},
		},
		Embedding: EmbeddingConfig{
			BaseURL:        getEnv("EMBEDDING_BASE_URL", "https://api.openai.com/v1"),
			APIKey:         getEnv("EMBEDDING_API_KEY", getEnv("OPENAI_API_KEY", "")),
			Model:          getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
			Dimensions:     getEnvAsInt("EMBEDDING_DIMENSIONS", 1536),
			PageBaseURL:    getEnv("PAGE_EMBEDDING_BASE_URL", "https://api.voyageai.com/v1"),
			PageAPIKey:     getEnv("PAGE_EMBEDDING_API_KEY", ""),
			PageModel:      getEnv("PAGE_EMBEDDING_MODEL", "voyage-multimodal-3"),
			PageDimensions: getEnvAsInt("PAGE_EMBEDDING_DIMENSIONS", 1024),
			Timeout:        getEnvAsDuration("EMBEDDING_TIMEOUT", 15*time.Second),
			ProbeOnStart:   getEnvAsBool("EMBEDDING_PROBE_ON_START", true),
		},
		Reranker: RerankerConfig{
			BaseURL:      getEnv("RERANKER_BASE_URL", "https://api.cohere.com"),
			APIKey:       getEnv("RERANKER_API_KEY", ""),
			Model:        getEnv("RERANKER_MODEL", "rerank-v3.5"),
			Timeout:      getEnvAsDuration("RERANKER_TIMEOUT", 10*time.Second),
			ContentChars: getEnvAsInt("RERANKER_CONTENT_CHARS", 1000),
		},
		Retrieval: RetrievalConfig{
			TopK:              getEnvAsInt("RETRIEVAL_TOP_K", 5),
			OverFetchFactor:   getEnvAsInt("RETRIEVAL_OVERFETCH_FACTOR", 3),
			MaxCandidates:     getEnvAsInt("RETRIEVAL_MAX_CANDIDATES", 50),
			PageMinSimilarity: getEnvAsFloat("PAGE_MIN_SIMILARITY", 0.3),
			PageLimit:         getEnvAsInt("PAGE_SEARCH_LIMIT", 5),
		},
		Router: RouterConfig{
			DefaultModel: getEnv("ROUTER_DEFAULT_MODEL", "claude-sonnet-4-20250514"),
			MaxAttempts:  getEnvAsInt("ROUTER_MAX_ATTEMPTS", 3),
			Backoff:      getEnvAsDurations("ROUTER_BACKOFF", []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}),
			MaxTokens:    getEnvAsInt("ROUTER_MAX_TOKENS", 1024),
		},
		Usage: UsageConfig{
			BufferSize:  getEnvAsInt("USAGE_BUFFER_SIZE", 10000),
			WorkerCount: getEnvAsInt("USAGE_WORKER_COUNT", 2),
			PricingFile: getEnv("USAGE_PRICING_FILE", ""),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			Issuer:    getEnv("JWT_ISSUER", ""),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}

	if cfg.RateLimit.PlansFile != "" {
		ceilings, err := LoadPlanCeilings(cfg.RateLimit.PlansFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load plan ceilings: %w", err)
		}
		for plan, ceiling := range ceilings {
			cfg.RateLimit.PlanCeilings[plan] = ceiling
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// DefaultPlanCeilings returns the built-in plan to requests-per-window table
func DefaultPlanCeilings() map[string]int {
	return map[string]int{
		"free":    20,
		"family":  100,
		"premium": 500,
	}
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
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

	switch c.RateLimit.Store {
	case "postgres":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("REDIS_ADDR is required when RATE_LIMIT_STORE=redis")
		}
	default:
		return fmt.Errorf("unknown rate limit store %q", c.RateLimit.Store)
	}
	if c.RateLimit.WindowSeconds <= 0 {
		return fmt.Errorf("rate limit window must be positive")
	}
	if c.RateLimit.GCProbability < 0 || c.RateLimit.GCProbability > 1 {
		return fmt.Errorf("rate limit GC probability must be within [0, 1]")
	}

	if c.Embedding.Dimensions <= 0 || c.Embedding.PageDimensions <= 0 {
		return fmt.Errorf("embedding dimensions must be positive")
	}

	if c.Router.MaxAttempts < 1 {
		return fmt.Errorf("router max attempts must be at least 1")
	}
	if len(c.Router.Backoff) == 0 {
		return fmt.Errorf("router backoff schedule cannot be empty")
	}

	if c.IsProduction() {
		if c.Providers.Anthropic.APIKey == "" {
			return fmt.Errorf("primary provider (ANTHROPIC_API_KEY) is required in production")
		}
		if c.Providers.OpenAI.APIKey == "" {
			return fmt.Errorf("secondary provider (OPENAI_API_KEY) is required in production")
		}
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required in production")
		}
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

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
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

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars
func loadDatabaseConfig() DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL != "" {
		return DatabaseConfig{
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			InitSchema:       getEnvAsBool("DB_INIT_SCHEMA", false),
		}
	}
	return DatabaseConfig{
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "dev"),
		Password:        getEnv("DB_PASSWORD", "rag_password"),
		Database:        getEnv("DB_NAME", "rag"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		InitSchema:      getEnvAsBool("DB_INIT_SCHEMA", false),
	}
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
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

// getEnvAsDurations parses a comma separated list such as "2s,4s,8s"
func getEnvAsDurations(key string, defaultValue []time.Duration) []time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []time.Duration
	for _, part := range strings.Split(valueStr, ",") {
		d, err := time.ParseDuration(strings.TrimSpace(part))
		if err != nil {
			return defaultValue
		}
		out = append(out, d)
	}
	return out
}
