package cleanse

import (
	"errors"
	"fmt"

	"github.com/withObsrvr/obsrvr-order-warehouse/internal/source"
)

var (
	// ErrMissingColumn is returned when an extract lacks a required column.
	// It aborts the run.
	ErrMissingColumn = errors.New("required column missing")
)

// ValidationError describes one rejected raw row. Rejections are counted and
// reported, never fatal.
type ValidationError struct {
	Entity source.Entity
	Line   int    // 1-based line in the extract, header is line 1
	Key    string // natural key when it could be read
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	key := e.Key
	if key == "" {
		key = "?"
	}
	return fmt.Sprintf("%s line %d (key %s): %s %s", e.Entity, e.Line, key, e.Field, e.Reason)
}

// RecordKey identifies the rejected row for reporting.
func (e ValidationError) RecordKey() string {
	if e.Key != "" {
		return e.Key
	}
	return fmt.Sprintf("line %d", e.Line)
}

// EntityReport counts what happened to one extract.
type EntityReport struct {
	Entity     source.Entity
	Read       int
	Accepted   int
	Rejected   int // failed parsing or validation
	Duplicates int // dropped by grain deduplication
}

// Report summarizes a cleansing pass.
type Report struct {
	Entities map[source.Entity]*EntityReport
	Errors   []ValidationError
}

// Entity returns the report for e.
func (r *Report) Entity(e source.Entity) EntityReport {
	if er, ok := r.Entities[e]; ok {
		return *er
	}
	return EntityReport{Entity: e}
}

// Rejected returns the total number of rejected rows.
func (r *Report) Rejected() int {
	total := 0
	for _, er := range r.Entities {
		total += er.Rejected
	}
	return total
}
