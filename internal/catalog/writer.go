// Package catalog records the lineage of warehouse runs: which relations a
// run replaced, with what checksums, and what quality checks found.
package catalog

import (
	"context"
	"sync"
	"time"

	"github.com/withObsrvr/obsrvr-order-warehouse/internal/config"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/warehouse"
)

// Run statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// RunRecord is one row of _meta_runs plus its relations.
type RunRecord struct {
	RunID             string
	Warehouse         string
	ReferenceDate     time.Time
	SourceFingerprint string
	Status            string
	StartedAt         time.Time
	FinishedAt        time.Time
	ProducerVersion   string
	ErrorMessage      string
	Relations         map[string]warehouse.TableInfo
}

// QualityRecord summarizes the checks of one run. Counts are per check name.
type QualityRecord struct {
	RunID        string
	Passed       bool
	Counts       map[string]int
	ErrorMessage string
}

// Writer persists run lineage.
type Writer interface {
	RecordRun(ctx context.Context, rec RunRecord) error
	RecordQuality(ctx context.Context, rec QualityRecord) error
	Close() error
}

// NewWriter returns a PostgreSQL writer when a DSN is configured and a no-op
// writer otherwise.
func NewWriter(ctx context.Context, cfg config.CatalogConfig) (Writer, error) {
	if cfg.PostgresDSN == "" {
		return noopWriter{}, nil
	}
	return NewPostgresWriter(ctx, cfg.PostgresDSN)
}

type noopWriter struct{}

func (noopWriter) RecordRun(context.Context, RunRecord) error         { return nil }
func (noopWriter) RecordQuality(context.Context, QualityRecord) error { return nil }
func (noopWriter) Close() error                                       { return nil }

// MemoryWriter keeps records in memory.
type MemoryWriter struct {
	mu      sync.Mutex
	runs    []RunRecord
	quality []QualityRecord
}

func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{}
}

func (m *MemoryWriter) RecordRun(_ context.Context, rec RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, rec)
	return nil
}

func (m *MemoryWriter) RecordQuality(_ context.Context, rec QualityRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quality = append(m.quality, rec)
	return nil
}

// Runs returns the recorded runs in recording order.
func (m *MemoryWriter) Runs() []RunRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RunRecord(nil), m.runs...)
}

// Quality returns the recorded quality summaries in recording order.
func (m *MemoryWriter) Quality() []QualityRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]QualityRecord(nil), m.quality...)
}

func (m *MemoryWriter) Close() error { return nil }
