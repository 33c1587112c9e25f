// Package vconfig loads the vault's runtime configuration the way the
// teacher's internal/config/loader.go does: environment variables are the
// source of truth, an optional YAML file overlays defaults, and a small set
// of hard requirements fail the boot in production mode.
package vconfig

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"maxConns"`
	MaxConnLifetime time.Duration `yaml:"maxConnLifetime"`
	MaxConnIdleTime time.Duration `yaml:"maxConnIdleTime"`
}

type QdrantConfig struct {
	Addr             string `yaml:"addr"`
	APIKey           string `yaml:"apiKey"`
	CollectionPrefix string `yaml:"collectionPrefix"`
	Dimensions       int    `yaml:"dimensions"`
	Metric           string `yaml:"metric"`
}

type RedisConfig struct {
	Addr string `yaml:"addr"`
	DB   int    `yaml:"db"`
}

type EmbeddingConfig struct {
	Provider string        `yaml:"provider"` // openai, deterministic
	BaseURL  string        `yaml:"baseURL"`
	Model    string        `yaml:"model"`
	APIKey   string        `yaml:"apiKey"`
	Dim      int           `yaml:"dim"`
	Timeout  time.Duration `yaml:"timeout"`
}

type LLMConfig struct {
	Provider   string        `yaml:"provider"` // anthropic, openai, google
	Model      string        `yaml:"model"`
	APIKey     string        `yaml:"apiKey"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"maxRetries"`
}

type SchedulerConfig struct {
	SynthesisInterval  time.Duration `yaml:"synthesisInterval"`
	UtilityInterval    time.Duration `yaml:"utilityInterval"`
	OrphanInterval     time.Duration `yaml:"orphanInterval"`
	InactivityInterval time.Duration `yaml:"inactivityInterval"`
	SynthesisBatch     int           `yaml:"synthesisBatch"`
}

type PrivacyConfig struct {
	DefaultTier   string `yaml:"defaultTier"`
	RetentionDays int    `yaml:"retentionDays"`
}

// FeatureFlags gates the nine optional subsystems named in spec §6. Only
// enableMemoryVault defaults on; everything else opts in explicitly, so a
// bare deployment behaves as the minimal vault (no cross-project layer, no
// constitutional validation, etc.) until an operator turns a flag on.
type FeatureFlags struct {
	EnableMemoryVault             bool `yaml:"enableMemoryVault"`
	EnableConstitutionalValidation bool `yaml:"enableConstitutionalValidation"`
	EnableRouterMRP                bool `yaml:"enableRouterMRP"`
	EnableDocumentIndexing          bool `yaml:"enableDocumentIndexing"`
	EnableCrossProjectMemory        bool `yaml:"enableCrossProjectMemory"`
	EnableThrottle                  bool `yaml:"enableThrottle"`
	EnableTemporalIntelligence      bool `yaml:"enableTemporalIntelligence"`
	EnableBubbleInterface           bool `yaml:"enableBubbleInterface"`
	EnableGuidance                  bool `yaml:"enableGuidance"`
}

type EncryptionConfig struct {
	Enabled     bool   `yaml:"enabled"`
	KeyProvider string `yaml:"keyProvider"` // file, env
	KeyPath     string `yaml:"keyPath"`
}

type ObservabilityConfig struct {
	OTelEndpoint  string `yaml:"otelEndpoint"`
	ClickHouseDSN string `yaml:"clickhouseDSN"`
	ServiceName   string `yaml:"serviceName"`
}

// GDPRExportConfig points the export archiver at cold storage. Empty
// Bucket means "no S3 archive configured" — exportUserData then archives
// into an in-memory store, so no durable copy is written.
type GDPRExportConfig struct {
	Bucket       string `yaml:"bucket"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	AccessKey    string `yaml:"accessKey"`
	SecretKey    string `yaml:"secretKey"`
	Prefix       string `yaml:"prefix"`
	UsePathStyle bool   `yaml:"usePathStyle"`
}

type Config struct {
	Env           string              `yaml:"env"`
	Server        ServerConfig        `yaml:"server"`
	Postgres      PostgresConfig      `yaml:"postgres"`
	Qdrant        QdrantConfig        `yaml:"qdrant"`
	Redis         RedisConfig         `yaml:"redis"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	LLM           LLMConfig           `yaml:"llm"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Privacy       PrivacyConfig       `yaml:"privacy"`
	Encryption    EncryptionConfig    `yaml:"encryption"`
	Observability ObservabilityConfig `yaml:"observability"`
	GDPRExport    GDPRExportConfig    `yaml:"gdprExport"`
	Flags         FeatureFlags        `yaml:"flags"`
	LogLevel      string              `yaml:"logLevel"`
	LogFormat     string              `yaml:"logFormat"`
}

// Load reads .env (if present), applies environment variables, overlays an
// optional YAML file named by VAULT_CONFIG (or ./vault.yaml if present),
// then applies defaults and validates hard requirements.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{
		Env:    getenv("VAULT_ENV", "dev"),
		Server: ServerConfig{Addr: getenv("VAULT_ADDR", ":8089")},
		Postgres: PostgresConfig{
			DSN:             os.Getenv("POSTGRES_DSN"),
			MaxConns:        int32(getenvInt("POSTGRES_MAX_CONNS", 8)),
			MaxConnLifetime: getenvDuration("POSTGRES_MAX_CONN_LIFETIME", time.Hour),
			MaxConnIdleTime: getenvDuration("POSTGRES_MAX_CONN_IDLE", 5*time.Minute),
		},
		Qdrant: QdrantConfig{
			Addr:             getenv("QDRANT_ADDR", ""),
			APIKey:           os.Getenv("QDRANT_API_KEY"),
			CollectionPrefix: getenv("QDRANT_COLLECTION_PREFIX", "osqr"),
			Dimensions:       getenvInt("QDRANT_DIMENSIONS", 1536),
			Metric:           getenv("QDRANT_METRIC", "cosine"),
		},
		Redis: RedisConfig{
			Addr: getenv("REDIS_ADDR", ""),
			DB:   getenvInt("REDIS_DB", 0),
		},
		Embedding: EmbeddingConfig{
			Provider: getenv("EMBED_PROVIDER", "deterministic"),
			BaseURL:  getenv("EMBED_BASE_URL", "https://api.openai.com"),
			Model:    getenv("EMBED_MODEL", "text-embedding-3-small"),
			APIKey:   os.Getenv("EMBED_API_KEY"),
			Dim:      getenvInt("EMBED_DIM", 1536),
			Timeout:  getenvDuration("EMBED_TIMEOUT", 30*time.Second),
		},
		LLM: LLMConfig{
			Provider:   getenv("LLM_PROVIDER", "anthropic"),
			Model:      getenv("LLM_MODEL", "claude-sonnet"),
			APIKey:     os.Getenv("LLM_API_KEY"),
			Timeout:    getenvDuration("LLM_TIMEOUT", 30*time.Second),
			MaxRetries: getenvInt("LLM_MAX_RETRIES", 3),
		},
		Scheduler: SchedulerConfig{
			SynthesisInterval:  getenvDuration("SCHED_SYNTHESIS_INTERVAL", 10*time.Second),
			UtilityInterval:    getenvDuration("SCHED_UTILITY_INTERVAL", 24*time.Hour),
			OrphanInterval:     getenvDuration("SCHED_ORPHAN_INTERVAL", time.Hour),
			InactivityInterval: getenvDuration("SCHED_INACTIVITY_INTERVAL", 5*time.Minute),
			SynthesisBatch:     getenvInt("SCHED_SYNTHESIS_BATCH", 10),
		},
		Privacy: PrivacyConfig{
			DefaultTier:   getenv("PRIVACY_DEFAULT_TIER", "contextual"),
			RetentionDays: getenvInt("PRIVACY_RETENTION_DAYS", 90),
		},
		Encryption: EncryptionConfig{
			Enabled:     getenvBool("ENCRYPTION_ENABLED", false),
			KeyProvider: getenv("ENCRYPTION_KEY_PROVIDER", "env"),
			KeyPath:     os.Getenv("ENCRYPTION_KEY_PATH"),
		},
		Observability: ObservabilityConfig{
			OTelEndpoint:  os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
			ClickHouseDSN: os.Getenv("CLICKHOUSE_DSN"),
			ServiceName:   getenv("OTEL_SERVICE_NAME", "osqr-vault"),
		},
		GDPRExport: GDPRExportConfig{
			Bucket:       os.Getenv("GDPR_EXPORT_BUCKET"),
			Region:       getenv("GDPR_EXPORT_REGION", "us-east-1"),
			Endpoint:     os.Getenv("GDPR_EXPORT_ENDPOINT"),
			AccessKey:    os.Getenv("GDPR_EXPORT_ACCESS_KEY"),
			SecretKey:    os.Getenv("GDPR_EXPORT_SECRET_KEY"),
			Prefix:       getenv("GDPR_EXPORT_PREFIX", "gdpr-exports"),
			UsePathStyle: getenvBool("GDPR_EXPORT_USE_PATH_STYLE", false),
		},
		Flags: FeatureFlags{
			EnableMemoryVault:              getenvBool("FLAG_ENABLE_MEMORY_VAULT", true),
			EnableConstitutionalValidation:  getenvBool("FLAG_ENABLE_CONSTITUTIONAL_VALIDATION", false),
			EnableRouterMRP:                 getenvBool("FLAG_ENABLE_ROUTER_MRP", false),
			EnableDocumentIndexing:          getenvBool("FLAG_ENABLE_DOCUMENT_INDEXING", false),
			EnableCrossProjectMemory:        getenvBool("FLAG_ENABLE_CROSS_PROJECT_MEMORY", false),
			EnableThrottle:                  getenvBool("FLAG_ENABLE_THROTTLE", false),
			EnableTemporalIntelligence:      getenvBool("FLAG_ENABLE_TEMPORAL_INTELLIGENCE", false),
			EnableBubbleInterface:           getenvBool("FLAG_ENABLE_BUBBLE_INTERFACE", false),
			EnableGuidance:                  getenvBool("FLAG_ENABLE_GUIDANCE", false),
		},
		LogLevel:  getenv("LOG_LEVEL", "info"),
		LogFormat: getenv("LOG_FORMAT", "json"),
	}

	if overlay := getenv("VAULT_CONFIG", "vault.yaml"); overlay != "" {
		if data, err := os.ReadFile(overlay); err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config overlay %s: %w", overlay, err)
			}
		}
	}

	if cfg.Env == "production" && cfg.Postgres.DSN == "" {
		return Config{}, fmt.Errorf("POSTGRES_DSN is required in production")
	}

	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
