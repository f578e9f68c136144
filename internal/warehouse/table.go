package warehouse

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"reflect"
	"sync"

	"github.com/parquet-go/parquet-go"
)

// Table is a named, fully materialized relation. Tables are created with
// NewTable and read back with Load; the unexported methods let every backend
// move rows without knowing the row type.
type Table interface {
	Name() string
	Len() int

	columns() []string
	row(i int) []any
	encodeParquet(w io.Writer) error
	decodeParquet(data []byte) error
	scanInto(scan func(dest ...any) error) error
	assign(src Table) error
	clone() Table
}

// Rows is the generic Table implementation.
type Rows[T any] struct {
	name string
	rows []T
}

// NewTable wraps rows as the relation called name.
func NewTable[T any](name string, rows []T) *Rows[T] {
	return &Rows[T]{name: name, rows: rows}
}

// Name returns the relation name.
func (r *Rows[T]) Name() string { return r.name }

// Len returns the number of rows.
func (r *Rows[T]) Len() int { return len(r.rows) }

// All returns the rows.
func (r *Rows[T]) All() []T { return r.rows }

func (r *Rows[T]) columns() []string {
	return fieldsOf(reflect.TypeOf((*T)(nil)).Elem()).names
}

func (r *Rows[T]) row(i int) []any {
	v := reflect.ValueOf(&r.rows[i]).Elem()
	fs := fieldsOf(v.Type())
	out := make([]any, len(fs.index))
	for j, idx := range fs.index {
		out[j] = v.Field(idx).Interface()
	}
	return out
}

func (r *Rows[T]) scanInto(scan func(dest ...any) error) error {
	var row T
	v := reflect.ValueOf(&row).Elem()
	fs := fieldsOf(v.Type())
	dest := make([]any, len(fs.index))
	for j, idx := range fs.index {
		dest[j] = v.Field(idx).Addr().Interface()
	}
	if err := scan(dest...); err != nil {
		return err
	}
	r.rows = append(r.rows, row)
	return nil
}

func (r *Rows[T]) encodeParquet(w io.Writer) error {
	pw := parquet.NewGenericWriter[T](w)
	if len(r.rows) > 0 {
		if _, err := pw.Write(r.rows); err != nil {
			pw.Close()
			return fmt.Errorf("write %s rows: %w", r.name, err)
		}
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("close %s writer: %w", r.name, err)
	}
	return nil
}

func (r *Rows[T]) decodeParquet(data []byte) error {
	pr := parquet.NewGenericReader[T](bytes.NewReader(data))
	defer pr.Close()

	rows := make([]T, pr.NumRows())
	read := 0
	for read < len(rows) {
		n, err := pr.Read(rows[read:])
		read += n
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read %s rows: %w", r.name, err)
		}
	}
	r.rows = rows[:read]
	return nil
}

func (r *Rows[T]) assign(src Table) error {
	s, ok := src.(*Rows[T])
	if !ok {
		return fmt.Errorf("relation %s: stored rows are %T, requested %T", r.name, src, r)
	}
	r.rows = append([]T(nil), s.rows...)
	return nil
}

func (r *Rows[T]) clone() Table {
	return &Rows[T]{name: r.name, rows: append([]T(nil), r.rows...)}
}

// EncodeParquet returns the parquet encoding of t.
func EncodeParquet(t Table) ([]byte, error) {
	var buf bytes.Buffer
	if err := t.encodeParquet(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ComputeChecksum computes a SHA256 checksum for the given data.
func ComputeChecksum(data []byte) string {
	hash := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(hash[:])
}

// VerifyChecksum verifies that data matches the expected checksum.
func VerifyChecksum(data []byte, expected string) bool {
	return ComputeChecksum(data) == expected
}

// Columns returns the column names of t in declaration order.
func Columns(t Table) []string { return t.columns() }

// Values returns the cells of row i of t, in Columns order.
func Values(t Table, i int) []any { return t.row(i) }

// TableInfo summarizes a persisted relation.
type TableInfo struct {
	File     string `json:"file,omitempty"`
	Checksum string `json:"checksum"`
	RowCount int64  `json:"row_count"`
	ByteSize int64  `json:"byte_size"`
}

// Describe computes the checksum and size of t's parquet encoding.
// Identical rows always produce identical checksums.
func Describe(t Table) (TableInfo, error) {
	data, err := EncodeParquet(t)
	if err != nil {
		return TableInfo{}, err
	}
	return TableInfo{
		Checksum: ComputeChecksum(data),
		RowCount: int64(t.Len()),
		ByteSize: int64(len(data)),
	}, nil
}

type fieldSet struct {
	names []string
	index []int
}

var fieldCache sync.Map // reflect.Type -> fieldSet

// fieldsOf lists the db-tagged fields of a row struct in declaration order.
func fieldsOf(t reflect.Type) fieldSet {
	if cached, ok := fieldCache.Load(t); ok {
		return cached.(fieldSet)
	}
	var fs fieldSet
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("db")
		if tag == "" || tag == "-" {
			continue
		}
		fs.names = append(fs.names, tag)
		fs.index = append(fs.index, i)
	}
	fieldCache.Store(t, fs)
	return fs
}
