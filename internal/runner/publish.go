package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/withObsrvr/obsrvr-order-warehouse/internal/audit"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/catalog"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/checkpoint"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/pipeline"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/warehouse"
)

// publish is the lifecycle of one run. The order of operations matters:
//  1. Read the source snapshot
//  2. Recompute every relation (the pipeline commits to the store)
//  3. Record the run and its quality in the catalog
//  4. Emit the audit event (references committed relations)
//  5. Update checkpoint
//
// Steps 3 to 5 run only after the store holds the new relations. Their
// failures are logged; the warehouse is already consistent.
func (r *Runner) publish(ctx context.Context, runID string, log *slog.Logger) (*pipeline.Result, string, error) {
	started := time.Now().UTC()
	ref := warehouse.Day(r.opts.Pipeline.ReferenceDate)

	rec := catalog.RunRecord{
		RunID:           runID,
		Warehouse:       r.opts.Warehouse,
		ReferenceDate:   ref,
		StartedAt:       started,
		ProducerVersion: fmt.Sprintf("%s@%s", producerName, Version),
	}

	// Step 1: Read the source
	snap, err := r.src.Read(ctx)
	if err != nil {
		err = fmt.Errorf("read source: %w", err)
		r.recordFailure(ctx, rec, err, log)
		return nil, "", err
	}
	rec.SourceFingerprint = snap.Fingerprint

	// Step 2: Recompute
	res, err := pipeline.New(r.store, r.opts.Pipeline).WithMetrics(r.metrics).Run(ctx, snap)
	if err != nil {
		r.recordFailure(ctx, rec, err, log)
		return nil, snap.Fingerprint, err
	}

	// Step 3: Catalog
	if r.catalog != nil {
		rec.Status = catalog.StatusSuccess
		rec.FinishedAt = time.Now().UTC()
		rec.Relations = res.Relations
		if err := r.catalog.RecordRun(ctx, rec); err != nil {
			log.Warn("failed to record run", "error", err)
		}
		if err := r.catalog.RecordQuality(ctx, catalog.QualityRecord{
			RunID:  runID,
			Passed: res.Quality.Passed,
			Counts: res.IssueCounts,
		}); err != nil {
			log.Warn("failed to record quality", "error", err)
		}
	}

	// Step 4: Audit
	if r.audit != nil {
		evt := &audit.RunEvent{
			Run: audit.RunInfo{
				Warehouse:         r.opts.Warehouse,
				RunID:             runID,
				ReferenceDate:     ref.Format("2006-01-02"),
				SourceFingerprint: snap.Fingerprint,
			},
			Tables: audit.Tables(res.Relations),
			Quality: audit.QualityInfo{
				Passed:       res.Quality.Passed,
				RejectedRows: res.Cleanse.Rejected(),
				Issues:       res.Issues,
			},
			Producer: audit.ProducerInfo{
				Name:    producerName,
				Version: Version,
				GitSHA:  GitSHA,
			},
		}
		if err := r.audit.Emit(ctx, evt); err != nil {
			log.Warn("failed to emit audit event", "error", err)
		}
	}

	// Step 5: Checkpoint, only after everything else succeeded
	r.updateCheckpoint(ctx, runID, snap.Fingerprint, ref, res, log)

	return res, snap.Fingerprint, nil
}

func (r *Runner) recordFailure(ctx context.Context, rec catalog.RunRecord, cause error, log *slog.Logger) {
	log.Error("run failed", "error", cause)
	if r.catalog == nil {
		return
	}
	rec.Status = catalog.StatusFailed
	rec.FinishedAt = time.Now().UTC()
	rec.ErrorMessage = cause.Error()
	if err := r.catalog.RecordRun(ctx, rec); err != nil {
		log.Warn("failed to record failed run", "error", err)
	}
}

func (r *Runner) updateCheckpoint(ctx context.Context, runID, fingerprint string, ref time.Time, res *pipeline.Result, log *slog.Logger) {
	if r.checkpoint == nil {
		return
	}

	checksums := make(map[string]string, len(res.Relations))
	for name, info := range res.Relations {
		checksums[name] = info.Checksum
	}
	cp := &checkpoint.Checkpoint{
		Warehouse:         r.opts.Warehouse,
		RunID:             runID,
		SourceFingerprint: fingerprint,
		ReferenceDate:     ref.Format("2006-01-02"),
		Relations:         checksums,
		UpdatedAt:         time.Now().UTC(),
	}
	if err := r.checkpoint.Save(ctx, cp); err != nil {
		log.Warn("failed to save checkpoint", "error", err)
	}
}
