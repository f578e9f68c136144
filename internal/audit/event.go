package audit

import (
	"time"

	"github.com/withObsrvr/obsrvr-order-warehouse/internal/warehouse"
)

const (
	EventVersion = "1.0"
	EventType    = "warehouse_run"
)

// RunEvent is the audit record of one completed warehouse run.
type RunEvent struct {
	Version   string    `json:"version"`
	EventType string    `json:"event_type"`
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`

	Run      RunInfo              `json:"run"`
	Tables   map[string]TableInfo `json:"tables"`
	Quality  QualityInfo          `json:"quality"`
	Producer ProducerInfo         `json:"producer"`
	Chain    ChainInfo            `json:"chain"`
}

// RunInfo identifies the run being audited.
type RunInfo struct {
	Warehouse         string `json:"warehouse"`
	RunID             string `json:"run_id"`
	ReferenceDate     string `json:"reference_date"`
	SourceFingerprint string `json:"source_fingerprint"`
}

// TableInfo contains checksum and metadata for a single relation.
type TableInfo struct {
	Checksum    string `json:"checksum"`
	RowCount    int64  `json:"row_count"`
	StoragePath string `json:"storage_path"`
	ByteSize    int64  `json:"byte_size"`
}

// QualityInfo summarizes what the run rejected or flagged.
type QualityInfo struct {
	Passed       bool `json:"passed"`
	RejectedRows int  `json:"rejected_rows"`
	Issues       int  `json:"issues"`
}

// ProducerInfo identifies the software that produced the data.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	GitSHA  string `json:"git_sha"`
}

// ChainInfo links each event to the previous one of the same warehouse.
type ChainInfo struct {
	PrevEventHash string `json:"prev_event_hash"`
	EventHash     string `json:"event_hash"`
}

// ChainKey returns the key of the chain this run belongs to.
func (r RunInfo) ChainKey() string {
	return r.Warehouse
}

// Tables converts described relations into event table entries.
func Tables(relations map[string]warehouse.TableInfo) map[string]TableInfo {
	out := make(map[string]TableInfo, len(relations))
	for name, info := range relations {
		out[name] = TableInfo{
			Checksum:    info.Checksum,
			RowCount:    info.RowCount,
			StoragePath: info.File,
			ByteSize:    info.ByteSize,
		}
	}
	return out
}

// SetChainHashes links the event to prev and computes its own hash.
func (e *RunEvent) SetChainHashes(prev string) {
	e.Chain.PrevEventHash = prev
	e.Chain.EventHash = ComputeEventHash(e)
}
