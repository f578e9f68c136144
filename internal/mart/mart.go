// Package mart publishes analytics relations with all-or-nothing semantics.
package mart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/withObsrvr/obsrvr-order-warehouse/internal/logging"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/warehouse"
)

// ErrBuildFailed wraps the error of the build that stopped a materialization.
var ErrBuildFailed = errors.New("mart build failed")

// Build computes the full contents of one relation.
type Build struct {
	Name string
	Run  func(ctx context.Context) (warehouse.Table, error)
}

// Of wraps a computation producing rows into a Build for the named relation.
func Of[T any](name string, compute func() ([]T, error)) Build {
	return Build{
		Name: name,
		Run: func(context.Context) (warehouse.Table, error) {
			rows, err := compute()
			if err != nil {
				return nil, err
			}
			return warehouse.NewTable(name, rows), nil
		},
	}
}

// Static publishes rows already in hand.
func Static[T any](name string, rows []T) Build {
	return Of(name, func() ([]T, error) { return rows, nil })
}

// DefaultParallelism bounds how many builds compute at once.
const DefaultParallelism = 4

// Materializer runs builds and publishes their results in one replace.
type Materializer struct {
	store       warehouse.Store
	parallelism int
	logger      *slog.Logger
}

// New creates a materializer writing to store.
func New(store warehouse.Store) *Materializer {
	return &Materializer{
		store:       store,
		parallelism: DefaultParallelism,
		logger:      logging.Component("mart"),
	}
}

// WithParallelism sets how many builds may compute concurrently.
func (m *Materializer) WithParallelism(n int) *Materializer {
	if n < 1 {
		n = 1
	}
	m.parallelism = n
	return m
}

type buildResult struct {
	table warehouse.Table
	err   error
}

// Materialize computes every build first, at most parallelism at a time.
// Builds must only read shared inputs. If any build fails, or the context is
// canceled, nothing is written and the previous contents of every mart stay
// visible. Otherwise all results are published in a single atomic
// Store.Replace, in build order.
func (m *Materializer) Materialize(ctx context.Context, builds ...Build) ([]warehouse.Table, error) {
	results := make([]buildResult, len(builds))
	sem := make(chan struct{}, m.parallelism)
	var wg sync.WaitGroup

	for i, b := range builds {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return nil, ctx.Err()
		}

		wg.Add(1)
		go func(i int, b Build) {
			defer wg.Done()
			defer func() { <-sem }()
			t, err := b.Run(ctx)
			results[i] = buildResult{table: t, err: err}
		}(i, b)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tables := make([]warehouse.Table, 0, len(builds))
	for i, b := range builds {
		r := results[i]
		if r.err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrBuildFailed, b.Name, r.err)
		}
		if r.table == nil {
			return nil, fmt.Errorf("%w: %s produced no relation", ErrBuildFailed, b.Name)
		}
		if r.table.Name() != b.Name {
			return nil, fmt.Errorf("%w: %s produced relation %s", ErrBuildFailed, b.Name, r.table.Name())
		}
		tables = append(tables, r.table)
	}

	if err := m.store.Replace(ctx, tables...); err != nil {
		return nil, fmt.Errorf("replace marts: %w", err)
	}

	for _, t := range tables {
		m.logger.Info("mart replaced", "relation", t.Name(), "rows", t.Len())
	}
	return tables, nil
}
