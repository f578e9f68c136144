// Package watcher triggers warehouse runs when the source extracts change.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/withObsrvr/obsrvr-order-warehouse/internal/logging"
)

// Fingerprinter identifies the current state of the source.
type Fingerprinter interface {
	Fingerprint(ctx context.Context) (string, error)
}

// RunFunc performs one warehouse run.
type RunFunc func(ctx context.Context) error

type Watcher struct {
	src      Fingerprinter
	run      RunFunc
	interval time.Duration
	last     string
	log      *slog.Logger
}

func New(src Fingerprinter, interval time.Duration, run RunFunc) *Watcher {
	return &Watcher{
		src:      src,
		run:      run,
		interval: interval,
		log:      logging.Component("watcher"),
	}
}

// Poll checks the source once and runs when its fingerprint differs from
// the last successful run. A failed run is retried on the next poll.
func (w *Watcher) Poll(ctx context.Context) (bool, error) {
	fp, err := w.src.Fingerprint(ctx)
	if err != nil {
		return false, fmt.Errorf("fingerprint source: %w", err)
	}
	if fp == w.last {
		return false, nil
	}

	w.log.Info("source changed", "fingerprint", fp, "previous", w.last)
	if err := w.run(ctx); err != nil {
		return true, err
	}
	w.last = fp
	return true, nil
}

// Run polls immediately and then every interval until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	w.log.Info("watching source", "interval", w.interval.String())

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.log.Error("poll failed", "error", err)
		}

		select {
		case <-ctx.Done():
			w.log.Info("watcher stopped")
			return nil
		case <-ticker.C:
		}
	}
}
