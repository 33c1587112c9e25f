// Package auditsink mirrors the privacy gate's append-only access log into
// ClickHouse for getVaultStats-style analytics, independent of the
// in-process MemorySink used for request-time enforcement. Grounded on the
// teacher's clickhouseLogMetrics (internal/agentd/logs_clickhouse.go):
// same ParseDSN/Open/Ping-with-timeout construction, same sanitized static
// table name, same window+limit query shape.
package auditsink

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"osqr/internal/model"
)

// Config configures the ClickHouse mirror.
type Config struct {
	DSN            string
	Database       string
	Table          string // default "vault_access_log"
	TimeoutSeconds int    // default 5
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Table) == "" {
		c.Table = "vault_access_log"
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 5
	}
}

// Sink is a ClickHouse-backed mirror of the access log. It implements
// privacy.AuditSink.
type Sink struct {
	conn    clickhouse.Conn
	table   string
	timeout time.Duration
}

// New connects to cfg.DSN, ensures the mirror table exists, and returns a
// Sink. Returns (nil, nil) when cfg.DSN is empty, so callers can wire this
// unconditionally and fall back to privacy.MemorySink when unconfigured.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, nil
	}
	cfg.applyDefaults()

	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("auditsink: parse dsn: %w", err)
	}
	if cfg.Database != "" {
		opts.Auth.Database = cfg.Database
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("auditsink: open connection: %w", err)
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("auditsink: ping: %w", err)
	}

	s := &Sink{conn: conn, table: cfg.Table, timeout: timeout}
	if err := s.ensureTable(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureTable(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.conn.Exec(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    id String,
    requester_id String,
    requester_type String,
    user_id String,
    categories_requested Array(String),
    categories_provided Array(String),
    redactions_applied Array(String),
    timestamp DateTime64(3)
) ENGINE = MergeTree()
ORDER BY (user_id, timestamp)`, s.table))
}

// Append mirrors one access log entry into ClickHouse. Satisfies
// privacy.AuditSink; a write failure is logged, not surfaced, since the
// gate's enforcement decision has already been made by the time Append
// runs — the mirror is for analytics, not access control.
func (s *Sink) Append(ctx context.Context, entry model.AccessLogEntry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	err := s.conn.Exec(ctx, fmt.Sprintf(`
INSERT INTO %s (id, requester_id, requester_type, user_id, categories_requested, categories_provided, redactions_applied, timestamp)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, s.table),
		entry.ID, entry.RequesterID, string(entry.RequesterType), entry.UserID,
		entry.CategoriesRequested, entry.CategoriesProvided, entry.RedactionsApplied, entry.Timestamp)
	if err != nil {
		log.Error().Err(err).Str("userId", entry.UserID).Msg("auditsink_append_failed")
	}
}

// CountByRequesterType returns how many access-log entries userID
// accumulated per requester type since since, for getVaultStats.
func (s *Sink) CountByRequesterType(ctx context.Context, userID string, since time.Time) (map[string]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	rows, err := s.conn.Query(ctx, fmt.Sprintf(`
SELECT requester_type, count() AS n
FROM %s
WHERE user_id = ? AND timestamp >= ?
GROUP BY requester_type`, s.table), userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			requesterType string
			n             int64
		)
		if err := rows.Scan(&requesterType, &n); err != nil {
			return nil, err
		}
		out[requesterType] = n
	}
	return out, rows.Err()
}

// Close releases the underlying connection.
func (s *Sink) Close() error {
	return s.conn.Close()
}
