package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/withObsrvr/obsrvr-order-warehouse/internal/config"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/warehouse"
)

func TestNewWriterWithoutDSN(t *testing.T) {
	w, err := NewWriter(context.Background(), config.CatalogConfig{})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if _, ok := w.(noopWriter); !ok {
		t.Errorf("expected no-op writer, got %T", w)
	}
	if err := w.RecordRun(context.Background(), RunRecord{RunID: "r1"}); err != nil {
		t.Errorf("no-op RecordRun: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("no-op Close: %v", err)
	}
}

func TestNewWriterBadDSN(t *testing.T) {
	if _, err := NewWriter(context.Background(), config.CatalogConfig{PostgresDSN: "::not a dsn::"}); err == nil {
		t.Error("expected error for an unparseable DSN")
	}
}

func TestMemoryWriter(t *testing.T) {
	ctx := context.Background()
	w := NewMemoryWriter()

	rec := RunRecord{
		RunID:         "r1",
		Warehouse:     "default",
		ReferenceDate: time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
		Status:        StatusSuccess,
		Relations: map[string]warehouse.TableInfo{
			warehouse.TableFactSales: {Checksum: "sha256:abc", RowCount: 3},
		},
	}
	if err := w.RecordRun(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if err := w.RecordQuality(ctx, QualityRecord{RunID: "r1", Passed: true, Counts: map[string]int{"validation": 2}}); err != nil {
		t.Fatal(err)
	}

	runs := w.Runs()
	if len(runs) != 1 || runs[0].Relations[warehouse.TableFactSales].RowCount != 3 {
		t.Errorf("unexpected runs: %+v", runs)
	}
	q := w.Quality()
	if len(q) != 1 || q[0].Counts["validation"] != 2 {
		t.Errorf("unexpected quality: %+v", q)
	}
}
