// Package warehouse holds the relation schemas of the order warehouse and the
// stores that persist them.
package warehouse

import (
	"context"
	"errors"
	"fmt"
	"log"
)

var (
	// ErrRelationNotFound is returned when a relation has never been written.
	// Stages treat it as a structural failure.
	ErrRelationNotFound = errors.New("relation not found")
)

// Store persists relations.
//
// Replace must be atomic for readers: a concurrent Fill observes either the
// complete previous contents of every replaced relation or the complete new
// contents, never a mix.
type Store interface {
	// Replace swaps in the full contents of every given table.
	Replace(ctx context.Context, tables ...Table) error

	// Fill loads the relation named by dst.Name() into dst.
	Fill(ctx context.Context, dst Table) error

	// Close releases backend resources.
	Close() error
}

// Load reads the relation called name from s.
func Load[T any](ctx context.Context, s Store, name string) ([]T, error) {
	dst := &Rows[T]{name: name}
	if err := s.Fill(ctx, dst); err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	return dst.rows, nil
}

// StorageConfig configures the warehouse backend.
type StorageConfig struct {
	Backend     string // "memory" | "postgres" | "blob"
	PostgresDSN string
	BucketURL   string // file:///path, s3://bucket?region=..., gs://bucket, mem://
	Prefix      string
}

// NewStore creates a store based on configuration.
func NewStore(ctx context.Context, cfg StorageConfig) (Store, error) {
	switch cfg.Backend {
	case "memory", "":
		log.Println("[warehouse] using in-memory store")
		return NewMemoryStore(), nil
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres backend requires a DSN")
		}
		return NewPostgresStore(ctx, cfg.PostgresDSN)
	case "blob":
		if cfg.BucketURL == "" {
			return nil, fmt.Errorf("blob backend requires a bucket URL")
		}
		return OpenBlobStore(ctx, cfg.BucketURL, cfg.Prefix)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

func checkUnique(tables []Table) error {
	seen := make(map[string]bool, len(tables))
	for _, t := range tables {
		if seen[t.Name()] {
			return fmt.Errorf("relation %s given twice", t.Name())
		}
		seen[t.Name()] = true
	}
	return nil
}
