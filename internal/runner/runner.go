// Package runner drives complete warehouse runs: it reads the source,
// recomputes the warehouse, and records what the run produced.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/withObsrvr/obsrvr-order-warehouse/internal/audit"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/catalog"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/checkpoint"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/logging"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/metrics"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/pipeline"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/source"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/warehouse"
)

// Version information (set via ldflags)
var (
	Version = "v0.1.0"
	GitSHA  = "unknown"
)

const producerName = "order-warehouse"

// Source yields raw snapshots. Fingerprint must be cheaper than Read and
// change whenever Read would return different bytes.
type Source interface {
	Read(ctx context.Context) (*source.Snapshot, error)
	Fingerprint(ctx context.Context) (string, error)
}

// Options configures a Runner.
type Options struct {
	// Warehouse names the target in the catalog, audit chain and checkpoint.
	Warehouse string

	Pipeline pipeline.Options

	// SkipUnchanged skips a run when the checkpoint already covers the
	// current source fingerprint and reference date.
	SkipUnchanged bool
}

// Outcome describes one Run call.
type Outcome struct {
	RunID   string
	Skipped bool
	Result  *pipeline.Result
}

// Runner orchestrates warehouse runs against one store.
type Runner struct {
	opts       Options
	src        Source
	store      warehouse.Store
	catalog    catalog.Writer
	audit      audit.Emitter
	checkpoint checkpoint.Manager
	metrics    *metrics.Metrics
	log        *slog.Logger
}

// New creates a runner. Catalog, audit, checkpoint and metrics are optional
// and attached with the With* methods.
func New(opts Options, src Source, store warehouse.Store) *Runner {
	return &Runner{
		opts:  opts,
		src:   src,
		store: store,
		log:   logging.Component("runner").With("warehouse", opts.Warehouse),
	}
}

func (r *Runner) WithCatalog(w catalog.Writer) *Runner {
	r.catalog = w
	return r
}

func (r *Runner) WithAudit(e audit.Emitter) *Runner {
	r.audit = e
	return r
}

func (r *Runner) WithCheckpoint(m checkpoint.Manager) *Runner {
	r.checkpoint = m
	return r
}

func (r *Runner) WithMetrics(m *metrics.Metrics) *Runner {
	r.metrics = m
	return r
}

// Run performs one run. A skipped run returns an Outcome with Skipped set
// and no error.
func (r *Runner) Run(ctx context.Context) (*Outcome, error) {
	runID := logging.NewRunID()
	ctx = logging.WithRunID(ctx, runID)
	refDate := warehouse.Day(r.opts.Pipeline.ReferenceDate).Format("2006-01-02")
	log := r.log.With("run_id", runID, "reference_date", refDate)
	out := &Outcome{RunID: runID}

	if r.opts.SkipUnchanged {
		skip, err := r.unchanged(ctx, refDate)
		if err != nil {
			log.Warn("unchanged check failed, running anyway", "error", err)
		} else if skip {
			log.Info("skipping run (source unchanged since last checkpoint)")
			r.metrics.IncRuns(catalog.StatusSkipped)
			out.Skipped = true
			return out, nil
		}
	}

	res, fingerprint, err := r.publish(ctx, runID, log)
	if err != nil {
		r.metrics.IncRuns(catalog.StatusFailed)
		return out, err
	}
	r.metrics.IncRuns(catalog.StatusSuccess)
	r.metrics.SetLastSuccess(float64(time.Now().Unix()))

	log.Info("run published",
		"fingerprint", fingerprint,
		"relations", len(res.Relations),
		"rejected", res.Cleanse.Rejected(),
		"issues", res.Issues,
		"duration", res.Duration.String())
	out.Result = res
	return out, nil
}

func (r *Runner) unchanged(ctx context.Context, refDate string) (bool, error) {
	if r.checkpoint == nil {
		return false, nil
	}
	cp, err := r.checkpoint.Load(ctx, r.opts.Warehouse)
	if errors.Is(err, checkpoint.ErrNoCheckpoint) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load checkpoint: %w", err)
	}
	fp, err := r.src.Fingerprint(ctx)
	if err != nil {
		return false, fmt.Errorf("fingerprint source: %w", err)
	}
	return cp.Covers(fp, refDate), nil
}
