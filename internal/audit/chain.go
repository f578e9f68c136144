package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNoChainHead indicates no run has been audited for a warehouse yet.
	ErrNoChainHead = errors.New("no chain head found")

	// ErrBrokenChain is returned by Verify when an event does not hash to its
	// recorded value or does not link to its predecessor.
	ErrBrokenChain = errors.New("audit chain broken")
)

const headsFile = "audit-chain-heads.json"

// ComputeEventHash digests what a run published: the link to the previous
// event, run identity, producer, quality summary and one line per relation
// in name order. EventHash itself is not part of the digest.
func ComputeEventHash(evt *RunEvent) string {
	h := sha256.New()
	field := func(name, value string) {
		fmt.Fprintf(h, "%s=%s\n", name, value)
	}

	field("prev", evt.Chain.PrevEventHash)
	field("version", evt.Version)
	field("type", evt.EventType)
	field("id", evt.EventID)
	field("at", evt.Timestamp.UTC().Format(time.RFC3339Nano))

	field("warehouse", evt.Run.Warehouse)
	field("run", evt.Run.RunID)
	field("reference_date", evt.Run.ReferenceDate)
	field("source", evt.Run.SourceFingerprint)

	field("producer", evt.Producer.Name+"@"+evt.Producer.Version+"+"+evt.Producer.GitSHA)
	field("quality", fmt.Sprintf("passed=%t rejected=%d issues=%d",
		evt.Quality.Passed, evt.Quality.RejectedRows, evt.Quality.Issues))

	writeRelations(h, evt.Tables)
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

func writeRelations(h hash.Hash, tables map[string]TableInfo) {
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		t := tables[name]
		fmt.Fprintf(h, "relation=%s %s rows=%d bytes=%d path=%s\n",
			name, t.Checksum, t.RowCount, t.ByteSize, t.StoragePath)
	}
}

// Verify checks that events, oldest first, form one unbroken chain: every
// event hashes to its EventHash and names its predecessor's hash.
func Verify(events []RunEvent) error {
	prev := ""
	for i := range events {
		evt := &events[i]
		if i > 0 && evt.Chain.PrevEventHash != prev {
			return fmt.Errorf("%w: run %s links to %q, previous event is %q",
				ErrBrokenChain, evt.Run.RunID, evt.Chain.PrevEventHash, prev)
		}
		if got := ComputeEventHash(evt); got != evt.Chain.EventHash {
			return fmt.Errorf("%w: run %s hashes to %s, recorded %s",
				ErrBrokenChain, evt.Run.RunID, got, evt.Chain.EventHash)
		}
		prev = evt.Chain.EventHash
	}
	return nil
}

// ChainHead is the last audited run of one warehouse.
type ChainHead struct {
	EventHash     string    `json:"event_hash"`
	RunID         string    `json:"run_id"`
	ReferenceDate string    `json:"reference_date"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ChainTracker keeps the head of every warehouse's chain in one JSON file.
type ChainTracker struct {
	mu    sync.RWMutex
	heads map[string]ChainHead
	path  string
}

// NewChainTracker opens the heads file in dir, creating dir if needed.
func NewChainTracker(dir string) (*ChainTracker, error) {
	if dir == "" {
		dir = "./state"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create chain tracker dir: %w", err)
	}

	ct := &ChainTracker{
		heads: make(map[string]ChainHead),
		path:  filepath.Join(dir, headsFile),
	}
	data, err := os.ReadFile(ct.path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("read chain heads: %w", err)
	default:
		if err := json.Unmarshal(data, &ct.heads); err != nil {
			return nil, fmt.Errorf("parse chain heads: %w", err)
		}
	}
	return ct, nil
}

// Head returns the last audited run of a warehouse.
func (ct *ChainTracker) Head(warehouse string) (ChainHead, error) {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	head, ok := ct.heads[warehouse]
	if !ok || head.EventHash == "" {
		return ChainHead{}, ErrNoChainHead
	}
	return head, nil
}

// Advance makes evt the head of its warehouse's chain. evt must already
// link to the current head.
func (ct *ChainTracker) Advance(evt *RunEvent) error {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	key := evt.Run.ChainKey()
	if cur := ct.heads[key]; cur.EventHash != evt.Chain.PrevEventHash {
		return fmt.Errorf("%w: head of %s moved to %s", ErrBrokenChain, key, cur.EventHash)
	}

	next := make(map[string]ChainHead, len(ct.heads)+1)
	for k, v := range ct.heads {
		next[k] = v
	}
	next[key] = ChainHead{
		EventHash:     evt.Chain.EventHash,
		RunID:         evt.Run.RunID,
		ReferenceDate: evt.Run.ReferenceDate,
		UpdatedAt:     evt.Timestamp,
	}
	if err := ct.write(next); err != nil {
		return err
	}
	ct.heads = next
	return nil
}

func (ct *ChainTracker) write(heads map[string]ChainHead) error {
	data, err := json.MarshalIndent(heads, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal chain heads: %w", err)
	}
	tmp := ct.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write chain heads: %w", err)
	}
	if err := os.Rename(tmp, ct.path); err != nil {
		return fmt.Errorf("commit chain heads: %w", err)
	}
	return nil
}

// GenerateEventID creates a unique event ID.
func GenerateEventID() string {
	return "run_evt_" + uuid.NewString()
}
