package catalog

import (
	"context"
	_ "embed"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/withObsrvr/obsrvr-order-warehouse/internal/logging"
)

//go:embed catalog.sql
var schemaSQL string

// PostgresWriter implements Writer using PostgreSQL.
type PostgresWriter struct {
	pool *pgxpool.Pool
}

// NewPostgresWriter connects to the catalog database and creates the _meta_*
// tables if they don't exist.
func NewPostgresWriter(ctx context.Context, dsn string) (*PostgresWriter, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}

	poolCfg.MaxConns = 5
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	logging.Component("catalog").Info("connected to PostgreSQL catalog")
	return &PostgresWriter{pool: pool}, nil
}

// RecordRun upserts the run and replaces its relation rows in one transaction.
func (w *PostgresWriter) RecordRun(ctx context.Context, rec RunRecord) error {
	return pgx.BeginFunc(ctx, w.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO _meta_runs (
				run_id, warehouse, reference_date, source_fingerprint, status,
				started_at, finished_at, producer_version, error_message
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (run_id)
			DO UPDATE SET
				status = EXCLUDED.status,
				finished_at = EXCLUDED.finished_at,
				error_message = EXCLUDED.error_message
		`,
			rec.RunID,
			rec.Warehouse,
			rec.ReferenceDate,
			rec.SourceFingerprint,
			rec.Status,
			rec.StartedAt,
			rec.FinishedAt,
			rec.ProducerVersion,
			nullable(rec.ErrorMessage),
		)
		if err != nil {
			return fmt.Errorf("record run: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM _meta_relations WHERE run_id = $1`, rec.RunID); err != nil {
			return fmt.Errorf("clear relations: %w", err)
		}

		names := make([]string, 0, len(rec.Relations))
		for name := range rec.Relations {
			names = append(names, name)
		}
		sort.Strings(names)

		batch := &pgx.Batch{}
		for _, name := range names {
			info := rec.Relations[name]
			batch.Queue(`
				INSERT INTO _meta_relations (run_id, relation, row_count, byte_size, checksum, storage_path)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, rec.RunID, name, info.RowCount, info.ByteSize, info.Checksum, info.File)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("record relations: %w", err)
		}
		return nil
	})
}

// RecordQuality writes one row per check. A run without issues still gets a
// row for the overall result under the check name "all".
func (w *PostgresWriter) RecordQuality(ctx context.Context, rec QualityRecord) error {
	counts := rec.Counts
	if len(counts) == 0 {
		counts = map[string]int{"all": 0}
	}

	batch := &pgx.Batch{}
	for check, n := range counts {
		batch.Queue(`
			INSERT INTO _meta_quality (run_id, check_name, issue_count, passed, error_message)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (run_id, check_name)
			DO UPDATE SET
				issue_count = EXCLUDED.issue_count,
				passed = EXCLUDED.passed,
				error_message = EXCLUDED.error_message,
				created_at = NOW()
		`, rec.RunID, check, int64(n), rec.Passed, nullable(rec.ErrorMessage))
	}
	if err := w.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert quality: %w", err)
	}
	return nil
}

// Close releases database connections.
func (w *PostgresWriter) Close() error {
	w.pool.Close()
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
