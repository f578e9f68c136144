package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrNoCheckpoint is returned when no checkpoint exists.
	ErrNoCheckpoint = errors.New("no checkpoint found")
)

// Checkpoint records the last successful run of a warehouse.
type Checkpoint struct {
	Warehouse         string            `json:"warehouse"`
	RunID             string            `json:"run_id"`
	SourceFingerprint string            `json:"source_fingerprint"`
	ReferenceDate     string            `json:"reference_date"`
	Relations         map[string]string `json:"relations,omitempty"` // relation -> checksum
	UpdatedAt         time.Time         `json:"updated_at"`
}

// Covers reports whether the checkpointed run already computed the warehouse
// for this source snapshot and reference date.
func (cp *Checkpoint) Covers(fingerprint, referenceDate string) bool {
	return cp != nil &&
		cp.SourceFingerprint != "" &&
		cp.SourceFingerprint == fingerprint &&
		cp.ReferenceDate == referenceDate
}

// Manager handles checkpoint persistence and retrieval.
type Manager interface {
	// Load reads the checkpoint of a warehouse.
	Load(ctx context.Context, warehouse string) (*Checkpoint, error)

	// Save persists the checkpoint.
	Save(ctx context.Context, cp *Checkpoint) error
}

// Config configures the checkpoint manager.
type Config struct {
	Enabled bool
	Dir     string // Directory for checkpoint files
}

// NewManager creates a checkpoint manager based on configuration.
func NewManager(cfg Config) (Manager, error) {
	if !cfg.Enabled {
		return &noopManager{}, nil
	}

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory %s: %w", cfg.Dir, err)
	}

	return &fileManager{dir: cfg.Dir}, nil
}

// fileManager persists one checkpoint file per warehouse.
type fileManager struct {
	dir string
}

func (m *fileManager) checkpointPath(warehouse string) string {
	name := strings.NewReplacer("/", "-", "\\", "-", ":", "-", " ", "-").Replace(warehouse)
	return filepath.Join(m.dir, fmt.Sprintf("checkpoint_%s.json", name))
}

// Load reads the checkpoint from file.
func (m *fileManager) Load(ctx context.Context, warehouse string) (*Checkpoint, error) {
	data, err := os.ReadFile(m.checkpointPath(warehouse))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCheckpoint
		}
		return nil, fmt.Errorf("read checkpoint file: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint file: %w", err)
	}

	return &cp, nil
}

// Save persists the checkpoint to file.
func (m *fileManager) Save(ctx context.Context, cp *Checkpoint) error {
	path := m.checkpointPath(cp.Warehouse)

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	// Write atomically
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write checkpoint temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename checkpoint file: %w", err)
	}

	return nil
}

// noopManager is a no-op checkpoint manager for when checkpointing is disabled.
type noopManager struct{}

func (m *noopManager) Load(ctx context.Context, warehouse string) (*Checkpoint, error) {
	return nil, ErrNoCheckpoint
}

func (m *noopManager) Save(ctx context.Context, cp *Checkpoint) error {
	return nil
}
