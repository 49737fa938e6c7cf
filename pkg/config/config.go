package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig
	VectorStore   VectorStoreConfig
	Neo4j         Neo4jConfig
	SQLite        SQLiteConfig
	Redis         RedisConfig
	Embedding     EmbeddingConfig
	Throttle      ThrottleConfig
	Chunker       ChunkerConfig
	Temporal      TemporalConfig
	Retrieval     RetrievalConfig
	Ingestion     IngestionConfig
	Relationships RelationshipsConfig
	Vocabulary    VocabularyConfig
	Logging       LoggingConfig
}

type ServerConfig struct {
	Host               string
	Port               int
	ReadTimeout        int
	WriteTimeout       int
	BodyLimit          int
	RateLimitPerMinute int
	AllowedOrigins     []string
	Development        bool
}

type VectorStoreConfig struct {
	Backend    string
	Endpoint   string
	APIKey     string
	Collection string
	Dimension  int
}

type Neo4jConfig struct {
	Enabled  bool
	URI      string
	Username string
	Password string
	Database string
}

type SQLiteConfig struct {
	Enabled bool
	Path    string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	TTLHours int
}

type EmbeddingConfig struct {
	Provider      string
	APIKey        string
	BaseURL       string
	Model         string
	Dimensions    int
	TimeoutSec    int
	MaxInputChars int
}

type ThrottleConfig struct {
	RequestsPerMinute int
	Burst             int
	MaxConcurrent     int
}

type ChunkerConfig struct {
	TargetWords int
}

type TemporalConfig struct {
	HorizonDays  int
	UndatedScore float64
	// Estimates overrides or extends the processing-time table, keyed by
	// entity.
	Estimates map[string]EstimateConfig
}

type EstimateConfig struct {
	MinDays int
	MaxDays int
}

type RetrievalConfig struct {
	MinScore      float64
	DefaultLimit  int
	MaxLimit      int
	InsightsLimit int
	FlowDepth     int
	CacheTTLSec   int
}

type IngestionConfig struct {
	Workers            int
	DocumentTimeoutSec int
	RetryAttempts      int
	RetryInitialMs     int
	RetryMaxMs         int
}

type RelationshipsConfig struct {
	Policy        string
	MinConfidence float64
}

type VocabularyConfig struct {
	ExtraFile string
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

// Load reads config.yaml (optional), a .env file (optional) and
// IMMIGRATION_RAG_* environment variables, in increasing precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/immigration-rag")

	v.SetEnvPrefix("IMMIGRATION_RAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.VectorStore.Backend {
	case "memory", "milvus":
	default:
		return fmt.Errorf("invalid vectorStore.backend %q: want memory or milvus", c.VectorStore.Backend)
	}
	switch c.Embedding.Provider {
	case "openai", "hash":
	default:
		return fmt.Errorf("invalid embedding.provider %q: want openai or hash", c.Embedding.Provider)
	}
	switch c.Relationships.Policy {
	case "entity_intersection", "phrase_chunk":
	default:
		return fmt.Errorf("invalid relationships.policy %q", c.Relationships.Policy)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	if c.VectorStore.Dimension != c.Embedding.Dimensions {
		return fmt.Errorf("vectorStore.dimension (%d) must equal embedding.dimensions (%d)", c.VectorStore.Dimension, c.Embedding.Dimensions)
	}
	if c.Temporal.HorizonDays <= 0 {
		return fmt.Errorf("temporal.horizonDays must be positive, got %d", c.Temporal.HorizonDays)
	}
	if c.Retrieval.FlowDepth < 0 || c.Retrieval.DefaultLimit < 0 || c.Retrieval.MaxLimit < 0 || c.Retrieval.InsightsLimit < 0 {
		return fmt.Errorf("retrieval limits and flowDepth must not be negative")
	}
	if c.Retrieval.MinScore < 0 || c.Retrieval.MinScore > 1 {
		return fmt.Errorf("retrieval.minScore must be within [0,1], got %g", c.Retrieval.MinScore)
	}
	if c.Throttle.RequestsPerMinute <= 0 || c.Throttle.MaxConcurrent <= 0 {
		return fmt.Errorf("throttle.requestsPerMinute and throttle.maxConcurrent must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 120)
	v.SetDefault("server.bodyLimit", 10485760)
	v.SetDefault("server.rateLimitPerMinute", 120)
	v.SetDefault("server.development", false)

	v.SetDefault("vectorStore.backend", "memory")
	v.SetDefault("vectorStore.endpoint", "localhost:19530")
	v.SetDefault("vectorStore.collection", "immigration_docs_enhanced")
	v.SetDefault("vectorStore.dimension", 3072)

	v.SetDefault("neo4j.enabled", false)
	v.SetDefault("neo4j.uri", "bolt://localhost:7687")
	v.SetDefault("neo4j.username", "neo4j")
	v.SetDefault("neo4j.password", "password")
	v.SetDefault("neo4j.database", "neo4j")

	v.SetDefault("sqlite.enabled", true)
	v.SetDefault("sqlite.path", "./data/registry.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttlHours", 24)

	v.SetDefault("embedding.provider", "openai")
	v.SetDefault("embedding.model", "text-embedding-3-large")
	v.SetDefault("embedding.dimensions", 3072)
	v.SetDefault("embedding.timeoutSec", 30)
	v.SetDefault("embedding.maxInputChars", 8000)

	v.SetDefault("throttle.requestsPerMinute", 1000)
	v.SetDefault("throttle.burst", 20)
	v.SetDefault("throttle.maxConcurrent", 8)

	v.SetDefault("chunker.targetWords", 500)

	v.SetDefault("temporal.horizonDays", 365)
	v.SetDefault("temporal.undatedScore", 0.5)

	v.SetDefault("retrieval.minScore", 0.5)
	v.SetDefault("retrieval.defaultLimit", 5)
	v.SetDefault("retrieval.maxLimit", 100)
	v.SetDefault("retrieval.insightsLimit", 10)
	v.SetDefault("retrieval.flowDepth", 3)
	v.SetDefault("retrieval.cacheTTLSec", 900)

	v.SetDefault("ingestion.workers", 4)
	v.SetDefault("ingestion.documentTimeoutSec", 300)
	v.SetDefault("ingestion.retryAttempts", 3)
	v.SetDefault("ingestion.retryInitialMs", 500)
	v.SetDefault("ingestion.retryMaxMs", 8000)

	v.SetDefault("relationships.policy", "entity_intersection")
	v.SetDefault("relationships.minConfidence", 0.5)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
