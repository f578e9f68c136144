// Command order-warehouse recomputes the order warehouse from raw extracts.
//
// Usage:
//
//	order-warehouse run    [--config warehouse.yaml] [--reference-date 2018-10-17]
//	order-warehouse watch  [--config warehouse.yaml]
//	order-warehouse export [--config warehouse.yaml] --to file://./bi_exports [relation...]
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"gocloud.dev/blob"

	"github.com/withObsrvr/obsrvr-order-warehouse/internal/audit"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/catalog"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/checkpoint"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/config"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/export"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/logging"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/metrics"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/pipeline"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/runner"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/source"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/warehouse"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/watcher"
)

func main() {
	app := &cli.App{
		Name:    "order-warehouse",
		Usage:   "Recompute the e-commerce order warehouse from raw extracts",
		Version: fmt.Sprintf("%s (%s)", runner.Version, runner.GitSHA),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML config file",
				EnvVars: []string{"ORDER_WAREHOUSE_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "reference-date",
				Usage: "Reference date (YYYY-MM-DD) for recency and risk; defaults to today",
			},
		},
		Commands: []*cli.Command{
			runCommand(),
			watchCommand(),
			exportCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run the warehouse once",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "skip-unchanged",
				Usage: "Skip when the checkpoint already covers the current source",
			},
		},
		Action: func(c *cli.Context) error {
			return withApp(c, func(ctx context.Context, a *app) error {
				if c.Bool("skip-unchanged") {
					a.cfg.Checkpoint.SkipUnchanged = true
				}
				_, err := a.runner().Run(ctx)
				return err
			})
		},
	}
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Poll the source and rerun whenever the extracts change",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Poll interval (overrides watch.interval)",
			},
		},
		Action: func(c *cli.Context) error {
			return withApp(c, func(ctx context.Context, a *app) error {
				interval := a.cfg.Watch.Interval
				if c.IsSet("interval") {
					interval = c.Duration("interval")
				}
				w := watcher.New(a.src, interval, func(ctx context.Context) error {
					_, err := a.runner().Run(ctx)
					return err
				})
				return w.Run(ctx)
			})
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "Export relations as XLSX workbooks",
		ArgsUsage: "[relation...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "to",
				Value: "file://./bi_exports",
				Usage: "Destination bucket URL",
			},
			&cli.StringFlag{
				Name:  "prefix",
				Usage: "Key prefix inside the destination bucket",
			},
		},
		Action: func(c *cli.Context) error {
			return withApp(c, func(ctx context.Context, a *app) error {
				bucket, err := blob.OpenBucket(ctx, c.String("to"))
				if err != nil {
					return fmt.Errorf("open export bucket: %w", err)
				}
				defer bucket.Close()

				written, err := export.New(a.store, bucket, c.String("prefix")).Export(ctx, c.Args().Slice()...)
				for _, w := range written {
					fmt.Printf("%s\t%d rows\t%d columns\t%s\n", w.Relation, w.Rows, w.Columns, w.Key)
				}
				return err
			})
		},
	}
}

// app holds what every command shares.
type app struct {
	cfg     config.Config
	ref     time.Time
	src     *source.BucketSource
	store   warehouse.Store
	catalog catalog.Writer
	audit   audit.Emitter
	cp      checkpoint.Manager
	metrics *metrics.Metrics
}

func (a *app) runner() *runner.Runner {
	ref := a.ref
	if ref.IsZero() {
		ref = time.Now().UTC()
	}
	opts := runner.Options{
		Warehouse: a.cfg.Catalog.Warehouse,
		Pipeline: pipeline.Options{
			ReferenceDate:           ref,
			QualifyingStatuses:      a.cfg.Scoring.QualifyingStatuses,
			InactivityThresholdDays: a.cfg.Scoring.InactivityThresholdDays,
		},
		SkipUnchanged: a.cfg.Checkpoint.SkipUnchanged,
	}
	return runner.New(opts, a.src, a.store).
		WithCatalog(a.catalog).
		WithAudit(a.audit).
		WithCheckpoint(a.cp).
		WithMetrics(a.metrics)
}

// withApp loads configuration, wires every dependency, and runs fn with a
// context canceled on SIGINT or SIGTERM.
func withApp(c *cli.Context, fn func(ctx context.Context, a *app) error) error {
	cfg := config.MustLoad(c.String("config"))
	if v := c.String("reference-date"); v != "" {
		cfg.Scoring.ReferenceDate = v
	}
	ref, err := cfg.ReferenceDate()
	if err != nil {
		return err
	}

	closer := logging.Setup(logging.Config{
		Format:     cfg.Logging.Format,
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer closer.Close()

	log.Printf("[main] order-warehouse %s (%s)", runner.Version, runner.GitSHA)

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	// Graceful shutdown handler
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-ch:
			log.Printf("[shutdown] received signal: %v", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	a := &app{cfg: cfg, ref: ref}

	if cfg.Metrics.Enabled {
		a.metrics = metrics.Init(cfg.Metrics.Namespace)
		go func() {
			if err := metrics.StartServer(cfg.Metrics.Address); err != nil {
				log.Printf("[metrics] server stopped: %v", err)
			}
		}()
		log.Printf("[metrics] serving on %s", cfg.Metrics.Address)
	}

	src, err := source.Open(ctx, cfg.Source.BucketURL, cfg.Source.Prefix, cfg.Source.Objects)
	if err != nil {
		return fmt.Errorf("create source: %w", err)
	}
	defer src.Close()
	a.src = src

	store, err := warehouse.NewStore(ctx, warehouse.StorageConfig{
		Backend:     cfg.Storage.Backend,
		PostgresDSN: cfg.Storage.PostgresDSN,
		BucketURL:   cfg.Storage.BucketURL,
		Prefix:      cfg.Storage.Prefix,
	})
	if err != nil {
		return fmt.Errorf("create storage: %w", err)
	}
	defer store.Close()
	a.store = store

	cat, err := catalog.NewWriter(ctx, cfg.Catalog)
	if err != nil {
		log.Printf("[main] catalog unavailable, continuing without it: %v", err)
	} else {
		defer cat.Close()
		a.catalog = cat
	}

	a.audit = audit.NewEmitter(cfg.Audit)
	defer a.audit.Close()

	cp, err := checkpoint.NewManager(checkpoint.Config{
		Enabled: cfg.Checkpoint.Enabled,
		Dir:     cfg.Checkpoint.Dir,
	})
	if err != nil {
		log.Printf("[main] checkpoint unavailable: %v", err)
	} else {
		a.cp = cp
	}

	err = fn(ctx, a)
	if err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled) {
		log.Printf("[main] shutdown complete")
		return nil
	}
	return err
}
