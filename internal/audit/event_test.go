package audit

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/withObsrvr/obsrvr-order-warehouse/internal/config"
)

func newEvent(runID string, tables map[string]TableInfo) RunEvent {
	return RunEvent{
		Version:   EventVersion,
		EventType: EventType,
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Run: RunInfo{
			Warehouse:         "memory",
			RunID:             runID,
			ReferenceDate:     "2026-01-01",
			SourceFingerprint: "sha256:source",
		},
		Tables:   tables,
		Producer: ProducerInfo{Name: "order-warehouse", Version: "v0.1.0", GitSHA: "abcdef"},
	}
}

func TestComputeEventHash(t *testing.T) {
	event := newEvent("r1", map[string]TableInfo{
		"fct_sales": {Checksum: "sha256:abc123", RowCount: 10, ByteSize: 1234},
	})
	event.SetChainHashes("")

	if len(event.Chain.EventHash) < 7 || event.Chain.EventHash[:7] != "sha256:" {
		t.Errorf("EventHash should start with 'sha256:', got: %s", event.Chain.EventHash)
	}
	if event.Chain.PrevEventHash != "" {
		t.Errorf("PrevEventHash should be empty for first in chain, got: %s", event.Chain.PrevEventHash)
	}
}

func TestHashChainDeterminism(t *testing.T) {
	tables := map[string]TableInfo{"a": {Checksum: "sha256:aaa"}, "b": {Checksum: "sha256:bbb"}}
	event1 := newEvent("r1", tables)
	event1.SetChainHashes("prev_hash_123")
	event2 := newEvent("r1", tables)
	event2.SetChainHashes("prev_hash_123")

	if event1.Chain.EventHash != event2.Chain.EventHash {
		t.Errorf("identical events should hash identically: %s vs %s", event1.Chain.EventHash, event2.Chain.EventHash)
	}
}

func TestHashChainDifferentPrevHash(t *testing.T) {
	tables := map[string]TableInfo{"fct_sales": {Checksum: "sha256:xyz"}}
	event1 := newEvent("r1", tables)
	event1.SetChainHashes("prev_hash_A")
	event2 := newEvent("r1", tables)
	event2.SetChainHashes("prev_hash_B")

	if event1.Chain.EventHash == event2.Chain.EventHash {
		t.Error("different prev_hash should produce a different event_hash")
	}
}

func TestHashChainDifferentContent(t *testing.T) {
	event1 := newEvent("r1", map[string]TableInfo{"fct_sales": {Checksum: "sha256:checksum_A"}})
	event1.SetChainHashes("")
	event2 := newEvent("r1", map[string]TableInfo{"fct_sales": {Checksum: "sha256:checksum_B"}})
	event2.SetChainHashes("")

	if event1.Chain.EventHash == event2.Chain.EventHash {
		t.Error("different content should produce a different event_hash")
	}
}

func TestTableOrderingDeterminism(t *testing.T) {
	event1 := newEvent("r1", map[string]TableInfo{
		"zebra":  {Checksum: "sha256:z"},
		"alpha":  {Checksum: "sha256:a"},
		"middle": {Checksum: "sha256:m"},
	})
	event1.SetChainHashes("")
	event2 := newEvent("r1", map[string]TableInfo{
		"alpha":  {Checksum: "sha256:a"},
		"zebra":  {Checksum: "sha256:z"},
		"middle": {Checksum: "sha256:m"},
	})
	event2.SetChainHashes("")

	if event1.Chain.EventHash != event2.Chain.EventHash {
		t.Errorf("table order should not affect the hash: %s vs %s", event1.Chain.EventHash, event2.Chain.EventHash)
	}
}

func TestFileEmitterLinksChain(t *testing.T) {
	dir := t.TempDir()
	emitter, err := NewFileEmitter(dir)
	if err != nil {
		t.Fatalf("NewFileEmitter: %v", err)
	}
	defer emitter.Close()

	first := newEvent("r1", map[string]TableInfo{"fct_sales": {Checksum: "sha256:1"}})
	if err := emitter.Emit(context.Background(), &first); err != nil {
		t.Fatalf("emit first: %v", err)
	}
	second := newEvent("r2", map[string]TableInfo{"fct_sales": {Checksum: "sha256:2"}})
	if err := emitter.Emit(context.Background(), &second); err != nil {
		t.Fatalf("emit second: %v", err)
	}

	if first.Chain.PrevEventHash != "" {
		t.Errorf("first event should start the chain, prev = %s", first.Chain.PrevEventHash)
	}
	if second.Chain.PrevEventHash != first.Chain.EventHash {
		t.Errorf("second event should link to the first: %s vs %s", second.Chain.PrevEventHash, first.Chain.EventHash)
	}
	if first.EventID == second.EventID {
		t.Error("event ids should be unique")
	}

	data, err := os.ReadFile(emitter.backup.Path(&second))
	if err != nil {
		t.Fatalf("backup not written: %v", err)
	}
	var saved RunEvent
	if err := json.Unmarshal(data, &saved); err != nil {
		t.Fatalf("parse backup: %v", err)
	}
	if saved.Chain.EventHash != second.Chain.EventHash || ComputeEventHash(&saved) != saved.Chain.EventHash {
		t.Error("saved event does not verify against its hash")
	}

	// A new tracker over the same directory resumes the chain.
	reopened, err := NewChainTracker(dir)
	if err != nil {
		t.Fatalf("reopen tracker: %v", err)
	}
	head, err := reopened.Head("memory")
	if err != nil || head.EventHash != second.Chain.EventHash || head.RunID != "r2" {
		t.Errorf("head = %+v, %v; want %s for r2", head, err, second.Chain.EventHash)
	}

	if err := Verify([]RunEvent{first, second}); err != nil {
		t.Errorf("emitted events should verify: %v", err)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	first := newEvent("r1", map[string]TableInfo{"fct_sales": {Checksum: "sha256:1", RowCount: 3}})
	first.SetChainHashes("")
	second := newEvent("r2", map[string]TableInfo{"fct_sales": {Checksum: "sha256:2", RowCount: 4}})
	second.SetChainHashes(first.Chain.EventHash)

	if err := Verify([]RunEvent{first, second}); err != nil {
		t.Fatalf("untouched chain should verify: %v", err)
	}

	edited := second
	edited.Tables = map[string]TableInfo{"fct_sales": {Checksum: "sha256:2", RowCount: 40}}
	if err := Verify([]RunEvent{first, edited}); !errors.Is(err, ErrBrokenChain) {
		t.Errorf("edited row count should break the chain, got %v", err)
	}

	if err := Verify([]RunEvent{second}); err != nil {
		t.Errorf("a suffix of the chain verifies on its own: %v", err)
	}
	if err := Verify([]RunEvent{second, first}); !errors.Is(err, ErrBrokenChain) {
		t.Errorf("reordered events should break the chain, got %v", err)
	}
}

func TestAdvanceRejectsStaleLink(t *testing.T) {
	ct, err := NewChainTracker(t.TempDir())
	if err != nil {
		t.Fatalf("NewChainTracker: %v", err)
	}
	first := newEvent("r1", nil)
	first.SetChainHashes("")
	if err := ct.Advance(&first); err != nil {
		t.Fatalf("Advance first: %v", err)
	}

	stale := newEvent("r2", nil)
	stale.SetChainHashes("")
	if err := ct.Advance(&stale); !errors.Is(err, ErrBrokenChain) {
		t.Errorf("event not linked to the head should be rejected, got %v", err)
	}
	head, _ := ct.Head("memory")
	if head.RunID != "r1" {
		t.Errorf("head moved to %s", head.RunID)
	}
}

type failingSink struct{ closed bool }

func (f *failingSink) publish(context.Context, *RunEvent, []byte) error {
	return errors.New("broker unavailable")
}

func (f *failingSink) close() error {
	f.closed = true
	return nil
}

func TestFailedPublishKeepsChainHead(t *testing.T) {
	sink := &failingSink{}
	emitter, err := newChainedEmitter(t.TempDir(), sink)
	if err != nil {
		t.Fatalf("newChainedEmitter: %v", err)
	}

	evt := newEvent("r1", nil)
	if err := emitter.Emit(context.Background(), &evt); err == nil {
		t.Fatal("expected publish error")
	}
	if _, err := emitter.chain.Head("memory"); !errors.Is(err, ErrNoChainHead) {
		t.Errorf("chain head should not advance after a failed publish, got %v", err)
	}

	if err := emitter.Close(); err != nil || !sink.closed {
		t.Error("Close should close the sink")
	}
}

func TestNewEmitterDisabled(t *testing.T) {
	e := NewEmitter(config.AuditConfig{})
	if _, ok := e.(noopEmitter); !ok {
		t.Errorf("disabled audit should use the no-op emitter, got %T", e)
	}
	evt := newEvent("r1", nil)
	if err := e.Emit(context.Background(), &evt); err != nil {
		t.Errorf("no-op emit: %v", err)
	}
}
