package warehouse

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore persists relations in PostgreSQL. Replace runs one
// transaction per call, so readers see all replaced relations change at once.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to PostgreSQL and creates the relations if needed.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
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

	s := &PostgresStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	log.Println("[warehouse] connected to PostgreSQL")
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// Replace deletes and re-copies every given relation inside one transaction.
func (s *PostgresStore) Replace(ctx context.Context, tables ...Table) error {
	if err := checkUnique(tables); err != nil {
		return err
	}

	infos := make([]TableInfo, len(tables))
	for i, t := range tables {
		info, err := Describe(t)
		if err != nil {
			return fmt.Errorf("describe %s: %w", t.Name(), err)
		}
		infos[i] = info
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for i, t := range tables {
		ident := pgx.Identifier{t.Name()}

		if _, err := tx.Exec(ctx, "DELETE FROM "+ident.Sanitize()); err != nil {
			return fmt.Errorf("clear %s: %w", t.Name(), err)
		}

		cols := append([]string{"_ord"}, t.columns()...)
		_, err := tx.CopyFrom(ctx, ident, cols, pgx.CopyFromSlice(t.Len(), func(row int) ([]any, error) {
			return append([]any{int64(row)}, t.row(row)...), nil
		}))
		if err != nil {
			return fmt.Errorf("copy %s: %w", t.Name(), err)
		}

		query := `
			INSERT INTO _warehouse_relations (name, row_count, checksum, replaced_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (name)
			DO UPDATE SET row_count = EXCLUDED.row_count,
			              checksum = EXCLUDED.checksum,
			              replaced_at = EXCLUDED.replaced_at
		`
		if _, err := tx.Exec(ctx, query, t.Name(), infos[i].RowCount, infos[i].Checksum); err != nil {
			return fmt.Errorf("record %s: %w", t.Name(), err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Fill reads a relation in write order.
func (s *PostgresStore) Fill(ctx context.Context, dst Table) error {
	var rowCount int64
	err := s.pool.QueryRow(ctx,
		`SELECT row_count FROM _warehouse_relations WHERE name = $1`, dst.Name(),
	).Scan(&rowCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", dst.Name(), ErrRelationNotFound)
	}
	if err != nil {
		return fmt.Errorf("lookup %s: %w", dst.Name(), err)
	}

	cols := dst.columns()
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY _ord",
		strings.Join(quoted, ", "), pgx.Identifier{dst.Name()}.Sanitize())

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("query %s: %w", dst.Name(), err)
	}
	defer rows.Close()

	for rows.Next() {
		if err := dst.scanInto(rows.Scan); err != nil {
			return fmt.Errorf("scan %s: %w", dst.Name(), err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read %s: %w", dst.Name(), err)
	}
	if int64(dst.Len()) != rowCount {
		return fmt.Errorf("relation %s: read %d rows, catalog records %d", dst.Name(), dst.Len(), rowCount)
	}
	return nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
