// FILE: chatwisp/src/internal/store/postgres.go
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"chatwisp/src/internal/config"
	"chatwisp/src/internal/core"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/lixenwraith/log"
)

// PostgresStore keeps entries as JSONB rows keyed by their sortable id.
// Insert and trim run in one transaction holding a transaction-scoped
// advisory lock, so several writer processes still respect the cap.
type PostgresStore struct {
	pool       *pgxpool.Pool
	table      string
	errTable   string
	maxEntries int
	maxErrors  int
	logger     *log.Logger

	totalAppended atomic.Uint64
	failedWrites  atomic.Uint64
}

func NewPostgresStore(ctx context.Context, cfg config.PostgresStoreConfig, maxEntries, maxErrors int, logger *log.Logger) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.ConnectConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	p := &PostgresStore{
		pool:       pool,
		table:      cfg.Table,
		errTable:   cfg.Table + "_errors",
		maxEntries: maxEntries,
		maxErrors:  maxErrors,
		logger:     logger,
	}

	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *PostgresStore) migrate(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			body JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, p.table),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			seq BIGSERIAL PRIMARY KEY,
			body JSONB NOT NULL
		)`, p.errTable),
	}
	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to prepare schema: %w", err)
		}
	}
	return nil
}

func (p *PostgresStore) Append(ctx context.Context, entry core.LogEntry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode entry: %w", err)
	}

	if err := p.insertCapped(ctx, p.table,
		fmt.Sprintf(`INSERT INTO %s (id, body) VALUES ($1, $2)`, p.table),
		fmt.Sprintf(`DELETE FROM %[1]s WHERE id IN (SELECT id FROM %[1]s ORDER BY id DESC OFFSET $1)`, p.table),
		p.maxEntries, entry.ID, body); err != nil {
		p.failedWrites.Add(1)
		return core.StoreError("append", err)
	}

	p.totalAppended.Add(1)
	return nil
}

func (p *PostgresStore) List(ctx context.Context, limit int) ([]core.LogEntry, error) {
	if limit <= 0 {
		return []core.LogEntry{}, nil
	}

	rows, err := p.pool.Query(ctx,
		fmt.Sprintf(`SELECT body FROM %s ORDER BY id DESC LIMIT $1`, p.table), limit)
	if err != nil {
		return nil, core.StoreError("list", err)
	}
	defer rows.Close()

	entries := make([]core.LogEntry, 0, limit)
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, core.StoreError("scan", err)
		}
		var entry core.LogEntry
		if err := json.Unmarshal(body, &entry); err != nil {
			entry = core.LogEntry{Raw: body}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, core.StoreError("list", err)
	}
	return entries, nil
}

func (p *PostgresStore) RecordError(ctx context.Context, rec core.ErrorRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode error record: %w", err)
	}

	if err := p.insertCapped(ctx, p.errTable,
		fmt.Sprintf(`INSERT INTO %s (body) VALUES ($1)`, p.errTable),
		fmt.Sprintf(`DELETE FROM %[1]s WHERE seq IN (SELECT seq FROM %[1]s ORDER BY seq DESC OFFSET $1)`, p.errTable),
		p.maxErrors, body); err != nil {
		return core.StoreError("record error", err)
	}
	return nil
}

func (p *PostgresStore) Errors(ctx context.Context, limit int) ([]core.ErrorRecord, error) {
	rows, err := p.pool.Query(ctx,
		fmt.Sprintf(`SELECT body FROM %s ORDER BY seq DESC LIMIT $1`, p.errTable), limit)
	if err != nil {
		return nil, core.StoreError("list errors", err)
	}
	defer rows.Close()

	var records []core.ErrorRecord
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, core.StoreError("scan", err)
		}
		var rec core.ErrorRecord
		if err := json.Unmarshal(body, &rec); err == nil {
			records = append(records, rec)
		}
	}
	return records, rows.Err()
}

// Runs insert then trim in one transaction under an advisory lock keyed on table
func (p *PostgresStore) insertCapped(ctx context.Context, table, insertSQL, trimSQL string, capacity int, args ...any) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, table); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if _, err := tx.Exec(ctx, insertSQL, args...); err != nil {
		return fmt.Errorf("failed to insert: %w", err)
	}
	if _, err := tx.Exec(ctx, trimSQL, capacity); err != nil {
		return fmt.Errorf("failed to trim: %w", err)
	}
	return tx.Commit(ctx)
}

func (p *PostgresStore) Name() string {
	return "postgres"
}

func (p *PostgresStore) GetStats() map[string]any {
	poolStats := p.pool.Stat()
	return map[string]any{
		"backend":        "postgres",
		"table":          p.table,
		"max_entries":    p.maxEntries,
		"total_appended": p.totalAppended.Load(),
		"failed_writes":  p.failedWrites.Load(),
		"pool_total":     poolStats.TotalConns(),
		"pool_idle":      poolStats.IdleConns(),
	}
}

func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
