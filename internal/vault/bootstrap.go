package vault

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"osqr/internal/crossproject"
	"osqr/internal/crypto"
	"osqr/internal/embedding"
	"osqr/internal/episodic"
	"osqr/internal/extract"
	"osqr/internal/gdpr/s3export"
	"osqr/internal/objectstore"
	"osqr/internal/privacy"
	"osqr/internal/privacy/auditsink"
	"osqr/internal/procedural"
	"osqr/internal/queue/bus"
	"osqr/internal/queue/eventlog"
	"osqr/internal/semantic"
	memstore "osqr/internal/store/memory"
	pgstore "osqr/internal/store/postgres"
	"osqr/internal/store/vector"
	"osqr/internal/vconfig"
)

// FromConfig assembles a Vault from a loaded vconfig.Config, the way every
// vault-hosting binary (vaultd, vault-mcp, vaultctl) needs to. Postgres,
// Redis, and ClickHouse each degrade to an in-process fallback (the
// in-memory semantic persister, a nil bus, privacy.MemorySink) when
// unconfigured or unreachable, so a bare process with no environment still
// boots and serves the in-memory vault rather than failing startup.
// Grounded on the teacher's cmd/agentd construction sequence generalized
// into a shared helper, since here three binaries need it rather than one.
func FromConfig(ctx context.Context, cfg vconfig.Config) *Vault {
	var redisClient redis.UniversalClient
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Msg("redis ping failed, running without the window cache/writer lock")
			redisClient = nil
		}
	}

	// vconfig has no first-class Kafka config surface yet; the eventlog
	// mirror stays nil (no-op) until one is added.
	var eventLog *eventlog.Producer

	return New(Config{
		Flags:        cfg.Flags,
		Privacy:      cfg.Privacy,
		Scheduler:    cfg.Scheduler,
		Episodic:     episodic.New(),
		Semantic:     semantic.NewWithIndex(semanticPersister(ctx, cfg.Postgres), similarityIndex(cfg.Qdrant)),
		Procedural:   procedural.New(),
		CrossProject: crossproject.New(),
		Embedder:     embedding.NewServiceFromConfig(cfg.Embedding),
		Completer:    extract.NewCompleter(ctx, cfg.LLM.Provider, "", cfg.LLM.APIKey, cfg.LLM.Model),
		Gate:         privacy.New(buildAuditSink(ctx, cfg.Observability.ClickHouseDSN), privacy.DefaultRules()),
		Crypto:       crypto.New(crypto.NewInMemoryKeyProvider()),
		Bus:          bus.New(redisClient),
		EventLog:     eventLog,
		Archive:      buildArchiver(ctx, cfg.GDPRExport),
	})
}

// buildArchiver wires exportUserData's cold-storage copy. A configured
// bucket gets a real S3Store; an empty one falls back to an in-memory
// store (exports still archive within the process, useful for local
// development and tests, but nothing survives a restart).
func buildArchiver(ctx context.Context, cfg vconfig.GDPRExportConfig) *s3export.Archiver {
	if cfg.Bucket == "" {
		return s3export.New(objectstore.NewMemoryStore(), cfg.Prefix)
	}
	store, err := objectstore.NewS3Store(ctx, objectstore.S3Config{
		Bucket:       cfg.Bucket,
		Region:       cfg.Region,
		Endpoint:     cfg.Endpoint,
		AccessKey:    cfg.AccessKey,
		SecretKey:    cfg.SecretKey,
		Prefix:       cfg.Prefix,
		UsePathStyle: cfg.UsePathStyle,
	})
	if err != nil {
		log.Warn().Err(err).Msg("s3 export archive unavailable, falling back to the in-memory object store")
		return s3export.New(objectstore.NewMemoryStore(), cfg.Prefix)
	}
	return s3export.New(store, cfg.Prefix)
}

// similarityIndex builds the accelerated candidate index retrieval.Pipeline
// consults ahead of its recency/utility scoring pass. A configured Qdrant
// address gets a real gRPC-backed index; otherwise memory stays brute-force,
// which is exact and fine at the memory sizes a single process holds.
func similarityIndex(cfg vconfig.QdrantConfig) vector.Index {
	dim := cfg.Dimensions
	if dim <= 0 {
		dim = 1536
	}
	if cfg.Addr == "" {
		return vector.NewInMemoryIndex(dim)
	}
	collection := cfg.CollectionPrefix
	if collection == "" {
		collection = "osqr_memories"
	}
	dsn := cfg.Addr
	if cfg.APIKey != "" {
		dsn += "?api_key=" + cfg.APIKey
	}
	idx, err := vector.NewQdrantIndex(dsn, collection, dim, cfg.Metric)
	if err != nil {
		log.Warn().Err(err).Msg("qdrant connect failed, falling back to the in-memory similarity index")
		return vector.NewInMemoryIndex(dim)
	}
	return idx
}

func semanticPersister(ctx context.Context, cfg vconfig.PostgresConfig) semantic.Persister {
	if cfg.DSN == "" {
		return memstore.New()
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		log.Warn().Err(err).Msg("postgres connect failed, falling back to the in-memory semantic store")
		return memstore.New()
	}
	store := pgstore.New(pool)
	if err := store.Init(ctx); err != nil {
		log.Warn().Err(err).Msg("postgres schema init failed, falling back to the in-memory semantic store")
		return memstore.New()
	}
	return store
}

func buildAuditSink(ctx context.Context, clickhouseDSN string) privacy.AuditSink {
	sink, err := auditsink.New(ctx, auditsink.Config{DSN: clickhouseDSN})
	if err != nil {
		log.Warn().Err(err).Msg("clickhouse audit sink unavailable, using the in-memory sink")
		return privacy.NewMemorySink()
	}
	if sink == nil {
		return privacy.NewMemorySink()
	}
	return sink
}
