// Package pipeline runs one full recomputation of the warehouse from a raw
// snapshot: cleanse, stage, dimensions, facts, quality, then scoring and
// marts. Each stage reads what the previous stage committed to the store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/withObsrvr/obsrvr-order-warehouse/internal/cleanse"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/dimension"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/fact"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/logging"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/mart"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/metrics"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/quality"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/scoring"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/source"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/staging"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/warehouse"
)

// ErrIntegrity is returned when built dimensions and facts fail validation.
// Marts are left untouched.
var ErrIntegrity = errors.New("integrity validation failed")

// ErrReferenceDate is returned when the reference date falls before the
// latest qualifying purchase. Recency would be negative.
var ErrReferenceDate = errors.New("reference date precedes latest purchase")

// Stage names used in logs and metrics.
const (
	StageCleanse   = "cleanse"
	StageStage     = "stage"
	StageDimension = "dimension"
	StageFact      = "fact"
	StageQuality   = "quality"
	StageMarts     = "marts"
)

// Options is the configuration the core consumes.
type Options struct {
	// ReferenceDate anchors recency and risk. Only its UTC day is used.
	ReferenceDate time.Time

	// QualifyingStatuses are the order statuses that count as purchases.
	QualifyingStatuses []string

	// InactivityThresholdDays is the longest gap since the last order for
	// which a customer is still active.
	InactivityThresholdDays int
}

// DefaultOptions returns the default configuration anchored at ref.
func DefaultOptions(ref time.Time) Options {
	return Options{
		ReferenceDate:           ref,
		QualifyingStatuses:      append([]string(nil), warehouse.DefaultQualifyingStatuses...),
		InactivityThresholdDays: 90,
	}
}

// Validate rejects options the pipeline cannot run with.
func (o Options) Validate() error {
	var errs []error
	if o.ReferenceDate.IsZero() {
		errs = append(errs, errors.New("reference date is required"))
	}
	if len(o.QualifyingStatuses) == 0 {
		errs = append(errs, errors.New("at least one qualifying status is required"))
	}
	if o.InactivityThresholdDays < 0 {
		errs = append(errs, fmt.Errorf("inactivity threshold must be non-negative, got %d", o.InactivityThresholdDays))
	}
	return errors.Join(errs...)
}

// Result describes a completed run.
type Result struct {
	ReferenceDate time.Time
	Cleanse       cleanse.Report
	Defects       map[string]int
	Quality       quality.Result
	Issues        int
	IssueCounts   map[string]int

	// Relations describes every relation the run replaced.
	Relations map[string]warehouse.TableInfo

	Duration time.Duration
}

// RelationNames returns the replaced relations in name order.
func (r *Result) RelationNames() []string {
	names := make([]string, 0, len(r.Relations))
	for name := range r.Relations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Pipeline recomputes the warehouse in a store.
type Pipeline struct {
	store   warehouse.Store
	opts    Options
	metrics *metrics.Metrics
}

// New creates a pipeline writing to store.
func New(store warehouse.Store, opts Options) *Pipeline {
	return &Pipeline{store: store, opts: opts}
}

// WithMetrics records stage durations, row counts and defects on m.
func (p *Pipeline) WithMetrics(m *metrics.Metrics) *Pipeline {
	p.metrics = m
	return p
}

// Run recomputes every relation from snap. Stages run strictly in order and
// a structural failure aborts the run before any mart is replaced.
func (p *Pipeline) Run(ctx context.Context, snap *source.Snapshot) (*Result, error) {
	if err := p.opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	log := logging.Component("pipeline")
	if id := logging.RunID(ctx); id != "" {
		log = log.With("run_id", id)
	}
	ref := warehouse.Day(p.opts.ReferenceDate)
	statuses := warehouse.NewStatusSet(p.opts.QualifyingStatuses)
	log.Info("run started", "reference_date", ref.Format("2006-01-02"), "fingerprint", snap.Fingerprint)
	start := time.Now()

	res := &Result{
		ReferenceDate: ref,
		Relations:     make(map[string]warehouse.TableInfo),
	}

	var cleansed *cleanse.Result
	err := p.stage(ctx, log, StageCleanse, func() error {
		var err error
		if cleansed, err = cleanse.Cleanse(ctx, snap); err != nil {
			return err
		}
		res.Cleanse = cleansed.Report
		for _, e := range source.Entities {
			er := cleansed.Report.Entity(e)
			p.metrics.AddRowsAccepted(string(e), er.Accepted)
			p.metrics.AddRowsRejected(string(e), "invalid", er.Rejected)
			p.metrics.AddRowsRejected(string(e), "duplicate", er.Duplicates)
		}
		log.Info("cleansed", "accepted", cleansed.Report.Summary(), "rejected", cleansed.Report.Rejected())
		if latest, ok := LatestPurchase(cleansed.Orders, statuses); ok && ref.Before(latest) {
			return fmt.Errorf("%w: reference date %s, latest purchase %s",
				ErrReferenceDate, ref.Format("2006-01-02"), latest.Format("2006-01-02"))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := p.stage(ctx, log, StageStage, func() error {
		tables, err := staging.Stage(ctx, p.store, cleansed)
		if err != nil {
			return err
		}
		return p.describe(res, tables)
	}); err != nil {
		return nil, err
	}

	var staged *staging.Snapshot
	var dims *dimension.Result
	if err := p.stage(ctx, log, StageDimension, func() error {
		var err error
		if staged, err = staging.Load(ctx, p.store); err != nil {
			return err
		}
		dims, err = dimension.Materialize(ctx, p.store, staged, dimension.Options{
			ReferenceDate:           ref,
			QualifyingStatuses:      statuses,
			InactivityThresholdDays: p.opts.InactivityThresholdDays,
		})
		if err != nil {
			return err
		}
		return p.describe(res, dims.Tables())
	}); err != nil {
		return nil, err
	}

	var facts *fact.Result
	if err := p.stage(ctx, log, StageFact, func() error {
		var err error
		if facts, err = fact.Materialize(ctx, p.store); err != nil {
			return err
		}
		res.Defects = facts.DefectCounts()
		return p.describe(res, facts.Tables())
	}); err != nil {
		return nil, err
	}

	var issues []warehouse.Issue
	if err := p.stage(ctx, log, StageQuality, func() error {
		issues = quality.Issues(
			quality.Rejections(cleansed.Report.Errors),
			facts.Defects,
			quality.Temporal(staged.Orders),
		)
		res.Issues = len(issues)
		res.IssueCounts = quality.Counts(issues)
		for check, n := range res.IssueCounts {
			if check != quality.CheckValidation {
				p.metrics.AddDefects(check, n)
			}
		}

		res.Quality = quality.Validate(dims, facts, issues)
		for _, w := range res.Quality.Warnings {
			log.Warn("data quality", "finding", w)
		}
		if !res.Quality.Passed {
			return fmt.Errorf("%w: %s", ErrIntegrity, res.Quality.Error())
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if err := p.stage(ctx, log, StageMarts, func() error {
		in, err := scoring.LoadInputs(ctx, p.store)
		if err != nil {
			return err
		}
		builds := scoring.Builds(in, scoring.Options{ReferenceDate: ref, QualifyingStatuses: statuses})
		builds = append(builds, mart.Static(warehouse.TableQualityIssues, issues))
		tables, err := mart.New(p.store).Materialize(ctx, builds...)
		if err != nil {
			return err
		}
		return p.describe(res, tables)
	}); err != nil {
		return nil, err
	}

	res.Duration = time.Since(start)
	log.Info("run complete", "relations", len(res.Relations), "issues", res.Issues, "duration", res.Duration.String())
	return res, nil
}

// LatestPurchase returns the calendar day of the most recent order whose
// status is in statuses.
func LatestPurchase(orders []warehouse.StagedOrder, statuses warehouse.StatusSet) (time.Time, bool) {
	var latest time.Time
	found := false
	for _, o := range orders {
		if !statuses[o.Status] {
			continue
		}
		if d := warehouse.Day(o.PurchasedAt); !found || d.After(latest) {
			latest, found = d, true
		}
	}
	return latest, found
}

// stage runs one stage, timing it and tagging its error with the stage name.
func (p *Pipeline) stage(ctx context.Context, log *slog.Logger, name string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	p.metrics.ObserveStageDuration(name, elapsed.Seconds())
	if err != nil {
		log.Error("stage failed", "stage", name, "error", err)
		return fmt.Errorf("%s: %w", name, err)
	}
	log.Debug("stage complete", "stage", name, "duration", elapsed.String())
	return nil
}

func (p *Pipeline) describe(res *Result, tables []warehouse.Table) error {
	for _, t := range tables {
		info, err := warehouse.Describe(t)
		if err != nil {
			return fmt.Errorf("describe %s: %w", t.Name(), err)
		}
		res.Relations[t.Name()] = info
		p.metrics.SetRelationRows(t.Name(), t.Len())
	}
	return nil
}
