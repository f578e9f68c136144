package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/withObsrvr/obsrvr-order-warehouse/internal/config"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/logging"
)

// Emitter publishes run events.
type Emitter interface {
	Emit(ctx context.Context, evt *RunEvent) error
	Close() error
}

// sink delivers a sealed event somewhere beyond the local backup.
type sink interface {
	publish(ctx context.Context, evt *RunEvent, payload []byte) error
	close() error
}

// NewEmitter creates an emitter based on configuration. Brokers select the
// Kafka emitter; otherwise events are only written to the audit directory.
func NewEmitter(cfg config.AuditConfig) Emitter {
	log := logging.Component("audit")
	if !cfg.Enabled {
		log.Info("disabled, using no-op emitter")
		return noopEmitter{}
	}

	if len(cfg.KafkaBrokers) > 0 {
		emitter, err := NewKafkaEmitter(cfg.Dir, cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			log.Warn("failed to create kafka emitter, falling back to file-only", "error", err)
			return fileOrNoop(cfg.Dir, log)
		}
		log.Info("using kafka emitter", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
		return emitter
	}

	return fileOrNoop(cfg.Dir, log)
}

func fileOrNoop(dir string, log *slog.Logger) Emitter {
	emitter, err := NewFileEmitter(dir)
	if err != nil {
		log.Warn("failed to create file emitter, using no-op", "error", err)
		return noopEmitter{}
	}
	log.Info("using file-only emitter", "dir", dir)
	return emitter
}

// ChainedEmitter seals each event into its warehouse's hash chain, backs it
// up locally and hands it to an optional sink.
type ChainedEmitter struct {
	chain  *ChainTracker
	backup *FileBackup
	sink   sink
	log    *slog.Logger
}

func newChainedEmitter(dir string, s sink) (*ChainedEmitter, error) {
	chain, err := NewChainTracker(dir)
	if err != nil {
		return nil, fmt.Errorf("create chain tracker: %w", err)
	}
	backup, err := NewFileBackup(dir)
	if err != nil {
		return nil, fmt.Errorf("create file backup: %w", err)
	}
	return &ChainedEmitter{chain: chain, backup: backup, sink: s, log: logging.Component("audit")}, nil
}

// NewFileEmitter creates an emitter that only writes to local files.
func NewFileEmitter(dir string) (*ChainedEmitter, error) {
	return newChainedEmitter(dir, nil)
}

// Emit seals and publishes evt. The chain head only advances once every
// destination accepted the event.
func (e *ChainedEmitter) Emit(ctx context.Context, evt *RunEvent) error {
	chainKey := evt.Run.ChainKey()

	var prevHash string
	head, err := e.chain.Head(chainKey)
	switch {
	case err == nil:
		prevHash = head.EventHash
	case !errors.Is(err, ErrNoChainHead):
		return fmt.Errorf("get chain head: %w", err)
	}

	evt.Version = EventVersion
	evt.EventType = EventType
	evt.EventID = GenerateEventID()
	evt.Timestamp = time.Now().UTC()
	evt.SetChainHashes(prevHash)

	e.log.Info("emitting run event",
		"warehouse", chainKey,
		"run_id", evt.Run.RunID,
		"prev_hash", prevHash,
		"event_hash", evt.Chain.EventHash)

	if err := e.backup.Save(evt); err != nil {
		return err
	}

	if e.sink != nil {
		payload, err := json.Marshal(evt)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		if err := e.sink.publish(ctx, evt, payload); err != nil {
			return err
		}
	}

	if err := e.chain.Advance(evt); err != nil {
		e.log.Warn("failed to update chain head", "error", err)
	}
	return nil
}

// Close releases the sink.
func (e *ChainedEmitter) Close() error {
	if e.sink != nil {
		return e.sink.close()
	}
	return nil
}

// noopEmitter discards all events.
type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *RunEvent) error { return nil }

func (noopEmitter) Close() error { return nil }
