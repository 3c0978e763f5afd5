// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// Server configuration
	Host string `envconfig:"PROP_HOST" yaml:"host"`
	Port int    `envconfig:"PROP_PORT" yaml:"port"`

	// Embedding backend configuration
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Cache configuration
	Cache CacheConfig `yaml:"cache"`

	// Qdrant configuration
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Search configuration
	Search SearchConfig `yaml:"search"`

	// Ranking weight overrides (partial; unset fields keep defaults)
	Ranking RankingConfig `yaml:"ranking"`

	// Bus configuration
	Bus BusConfig `yaml:"bus"`

	// Logging configuration
	Log LogConfig `yaml:"log"`

	// Security configuration
	Security SecurityConfig `yaml:"security"`
}

// EmbeddingConfig holds embedding backend settings.
type EmbeddingConfig struct {
	// URLs is a comma-separated ordered list of embedding service endpoints.
	// The first entry is the primary; later entries are failover targets.
	URLs    string        `envconfig:"PROP_EMBED_URLS" yaml:"urls"`
	Model   string        `envconfig:"PROP_EMBED_MODEL" yaml:"model"`
	Timeout time.Duration `envconfig:"PROP_EMBED_TIMEOUT" yaml:"timeout"`
	Retries int           `envconfig:"PROP_EMBED_RETRIES" yaml:"retries"`

	// RequestsPerSecond paces upstream embedding calls. 0 = unlimited.
	RequestsPerSecond float64 `envconfig:"PROP_EMBED_RPS" yaml:"requests_per_second"`

	// CostPerRequest is the assumed dollar cost of one upstream call,
	// used only for estimated-savings reporting.
	CostPerRequest float64 `envconfig:"PROP_COST_PER_REQUEST" yaml:"cost_per_request"`
}

// EndpointList returns the parsed, ordered endpoint URLs.
func (e EmbeddingConfig) EndpointList() []string {
	parts := strings.Split(e.URLs, ",")
	urls := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			urls = append(urls, strings.TrimRight(p, "/"))
		}
	}
	return urls
}

// CacheConfig holds embedding cache settings.
type CacheConfig struct {
	Type     string        `envconfig:"PROP_CACHE_TYPE" yaml:"type"`
	Size     int           `envconfig:"PROP_CACHE_SIZE" yaml:"size"`
	TTL      time.Duration `envconfig:"PROP_CACHE_TTL" yaml:"ttl"`
	RedisURL string        `envconfig:"PROP_REDIS_URL" yaml:"redis_url"`
}

// QdrantConfig holds Qdrant connection settings.
type QdrantConfig struct {
	Host             string `envconfig:"QDRANT_HOST" yaml:"host"`
	Port             int    `envconfig:"QDRANT_PORT" yaml:"port"`
	APIKey           string `envconfig:"QDRANT_API_KEY" yaml:"api_key"`
	UseTLS           bool   `envconfig:"QDRANT_USE_TLS" yaml:"use_tls"`
	CollectionPrefix string `envconfig:"QDRANT_COLLECTION_PREFIX" yaml:"collection_prefix"`
	VectorSize       int    `envconfig:"QDRANT_VECTOR_SIZE" yaml:"vector_size"`
}

// SearchConfig holds search pipeline settings.
type SearchConfig struct {
	SimilarityThreshold float64 `envconfig:"PROP_SIMILARITY_THRESHOLD" yaml:"similarity_threshold"`
	DefaultPageSize     int     `envconfig:"PROP_DEFAULT_PAGE_SIZE" yaml:"default_page_size"`
	MaxPageSize         int     `envconfig:"PROP_MAX_PAGE_SIZE" yaml:"max_page_size"`

	// FallbackEnabled degrades to filter-only search when the embedding
	// backend is unavailable instead of failing the request.
	FallbackEnabled bool `envconfig:"PROP_FALLBACK_ENABLED" yaml:"fallback_enabled"`
}

// RankingConfig holds partial ranking weight overrides. Pointer fields
// distinguish "not set" from an explicit zero so a partial override merges
// over the defaults instead of replacing them.
type RankingConfig struct {
	BaseScore         *float64 `yaml:"base_score"`
	FeatureMatch      *float64 `yaml:"feature_match"`
	CityMatch         *float64 `yaml:"city_match"`
	PriceInRange      *float64 `yaml:"price_in_range"`
	BedroomsMatch     *float64 `yaml:"bedrooms_match"`
	PropertyTypeMatch *float64 `yaml:"property_type_match"`
	Recency           *float64 `yaml:"recency"`
}

// BusConfig holds event bus settings.
type BusConfig struct {
	Type         string `envconfig:"PROP_BUS_TYPE" yaml:"type"`
	KafkaBrokers string `envconfig:"PROP_KAFKA_BROKERS" yaml:"kafka_brokers"`
	KafkaGroup   string `envconfig:"PROP_KAFKA_GROUP" yaml:"kafka_group"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `envconfig:"PROP_LOG_LEVEL" yaml:"level"`
	Format string `envconfig:"PROP_LOG_FORMAT" yaml:"format"`
}

// SecurityConfig holds security settings.
type SecurityConfig struct {
	RateLimit   int    `envconfig:"PROP_RATE_LIMIT" yaml:"rate_limit"` // req/sec per client, 0 = disabled
	CORSOrigins string `envconfig:"PROP_CORS_ORIGINS" yaml:"cors_origins"`
}

// Load loads configuration from environment variables and optional config file.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	// Set defaults first
	setDefaults(cfg)

	// Load from YAML file if provided (overrides defaults)
	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	// Override with environment variables (highest priority)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("processing env config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() (*Config, error) {
	return Load("")
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func setDefaults(cfg *Config) {
	cfg.Host = "0.0.0.0"
	cfg.Port = 8080

	cfg.Embedding = EmbeddingConfig{
		URLs:           "http://localhost:8001",
		Model:          "all-MiniLM-L6-v2",
		Timeout:        10 * time.Second,
		Retries:        3,
		CostPerRequest: 0.001,
	}

	cfg.Cache = CacheConfig{
		Type:     "memory",
		Size:     10000,
		TTL:      24 * time.Hour,
		RedisURL: "redis://localhost:6379",
	}

	cfg.Qdrant = QdrantConfig{
		Host:             "localhost",
		Port:             6334,
		CollectionPrefix: "prop_",
		VectorSize:       384,
	}

	cfg.Search = SearchConfig{
		SimilarityThreshold: 0.3,
		DefaultPageSize:     20,
		MaxPageSize:         100,
		FallbackEnabled:     true,
	}

	cfg.Bus = BusConfig{
		Type: "memory",
	}

	cfg.Log = LogConfig{
		Level:  "info",
		Format: "text",
	}

	cfg.Security = SecurityConfig{
		RateLimit:   0,
		CORSOrigins: "*",
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, "port must be between 1 and 65535")
	}

	if len(c.Embedding.EndpointList()) == 0 {
		errs = append(errs, "at least one embedding endpoint must be configured")
	}

	if c.Embedding.Timeout <= 0 {
		errs = append(errs, "embedding timeout must be positive")
	}

	if c.Embedding.Retries < 1 {
		errs = append(errs, "embedding retries must be at least 1")
	}

	validCacheTypes := map[string]bool{"memory": true, "redis": true}
	if !validCacheTypes[c.Cache.Type] {
		errs = append(errs, fmt.Sprintf("invalid cache type: %s (must be memory or redis)", c.Cache.Type))
	}

	if c.Cache.TTL <= 0 {
		errs = append(errs, "cache ttl must be positive")
	}

	if c.Qdrant.VectorSize < 1 {
		errs = append(errs, "vector_size must be positive")
	}

	if c.Search.SimilarityThreshold < 0 || c.Search.SimilarityThreshold > 1 {
		errs = append(errs, "similarity_threshold must be between 0 and 1")
	}

	if c.Search.DefaultPageSize < 1 {
		errs = append(errs, "default_page_size must be positive")
	}

	if c.Search.MaxPageSize < c.Search.DefaultPageSize {
		errs = append(errs, "max_page_size must be at least default_page_size")
	}

	for name, w := range map[string]*float64{
		"base_score":          c.Ranking.BaseScore,
		"feature_match":       c.Ranking.FeatureMatch,
		"city_match":          c.Ranking.CityMatch,
		"price_in_range":      c.Ranking.PriceInRange,
		"bedrooms_match":      c.Ranking.BedroomsMatch,
		"property_type_match": c.Ranking.PropertyTypeMatch,
		"recency":             c.Ranking.Recency,
	} {
		if w != nil && (*w < 0 || *w > 1) {
			errs = append(errs, fmt.Sprintf("ranking weight %s must be between 0 and 1", name))
		}
	}

	validBusTypes := map[string]bool{"memory": true, "kafka": true}
	if !validBusTypes[c.Bus.Type] {
		errs = append(errs, fmt.Sprintf("invalid bus type: %s (must be memory or kafka)", c.Bus.Type))
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("invalid log format: %s (must be text or json)", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// Address returns the server address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
