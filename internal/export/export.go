// Package export writes warehouse relations as XLSX workbooks for BI tools,
// one workbook per relation.
package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"time"

	"github.com/xuri/excelize/v2"
	"gocloud.dev/blob"

	"github.com/withObsrvr/obsrvr-order-warehouse/internal/logging"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/warehouse"
)

// DefaultRelations are the relations exported when none are named.
var DefaultRelations = []string{
	warehouse.TableCustomerRFM,
	warehouse.TableCustomerRisk,
	warehouse.TableMonthlyRevenue,
	warehouse.TableProductPerformance,
	warehouse.TableFactSales,
}

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// maxSheetName is Excel's sheet name limit.
const maxSheetName = 31

// Written describes one exported workbook.
type Written struct {
	Relation string
	Key      string
	Rows     int
	Columns  int
	Bytes    int
}

// Exporter copies relations from a store into a bucket.
type Exporter struct {
	store  warehouse.Store
	bucket *blob.Bucket
	prefix string
	log    *slog.Logger
}

func New(store warehouse.Store, bucket *blob.Bucket, prefix string) *Exporter {
	return &Exporter{store: store, bucket: bucket, prefix: prefix, log: logging.Component("export")}
}

// Export writes {prefix}{relation}.xlsx for every named relation, or for
// DefaultRelations when names is empty. It stops at the first failure.
func (e *Exporter) Export(ctx context.Context, names ...string) ([]Written, error) {
	if len(names) == 0 {
		names = DefaultRelations
	}

	out := make([]Written, 0, len(names))
	for _, name := range names {
		t, err := warehouse.Empty(name)
		if err != nil {
			return out, err
		}
		if err := e.store.Fill(ctx, t); err != nil {
			return out, fmt.Errorf("load %s: %w", name, err)
		}

		var buf bytes.Buffer
		if err := WriteXLSX(&buf, t); err != nil {
			return out, fmt.Errorf("encode %s: %w", name, err)
		}

		key := e.prefix + name + ".xlsx"
		if err := e.bucket.WriteAll(ctx, key, buf.Bytes(), &blob.WriterOptions{ContentType: xlsxContentType}); err != nil {
			return out, fmt.Errorf("write %s: %w", key, err)
		}

		w := Written{Relation: name, Key: key, Rows: t.Len(), Columns: len(warehouse.Columns(t)), Bytes: buf.Len()}
		e.log.Info("exported relation", "relation", name, "key", key, "rows", w.Rows, "columns", w.Columns)
		out = append(out, w)
	}
	return out, nil
}

// WriteXLSX writes t as a single-sheet workbook: a header row of column
// names followed by one row per record. Null cells are left empty.
func WriteXLSX(w io.Writer, t warehouse.Table) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := t.Name()
	if len(sheet) > maxSheetName {
		sheet = sheet[:maxSheetName]
	}
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}

	dateStyle, err := f.NewStyle(&excelize.Style{NumFmt: 22}) // m/d/yy h:mm
	if err != nil {
		return fmt.Errorf("create date style: %w", err)
	}

	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return fmt.Errorf("open stream writer: %w", err)
	}

	cols := warehouse.Columns(t)
	header := make([]interface{}, len(cols))
	for i, c := range cols {
		header[i] = c
	}
	if err := sw.SetRow("A1", header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i := 0; i < t.Len(); i++ {
		values := warehouse.Values(t, i)
		row := make([]interface{}, len(values))
		for j, v := range values {
			row[j] = cell(v, dateStyle)
		}
		ref, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(ref, row); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flush sheet: %w", err)
	}
	return f.Write(w)
}

// cell dereferences nullable columns and styles timestamps. Nil pointers
// become empty cells.
func cell(v any, dateStyle int) any {
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		v = rv.Elem().Interface()
	}
	if t, ok := v.(time.Time); ok {
		return excelize.Cell{StyleID: dateStyle, Value: t}
	}
	return v
}
