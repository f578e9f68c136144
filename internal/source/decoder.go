package source

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/xuri/excelize/v2"
)

// Decoder turns extract objects into RawTables based on their extension.
type Decoder struct {
	zstdDecoder *zstd.Decoder
}

// NewDecoder creates a new extract decoder.
func NewDecoder() (*Decoder, error) {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Decoder{zstdDecoder: dec}, nil
}

// Close releases decoder resources.
func (d *Decoder) Close() {
	if d.zstdDecoder != nil {
		d.zstdDecoder.Close()
	}
}

// Decode decodes data read from the object called key.
func (d *Decoder) Decode(entity Entity, key string, data []byte) (*RawTable, error) {
	lower := strings.ToLower(key)
	switch {
	case strings.HasSuffix(lower, ".csv.zst"):
		raw, err := d.zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress %s: %w", key, err)
		}
		return decodeCSV(entity, bytes.NewReader(raw))
	case strings.HasSuffix(lower, ".csv"):
		return decodeCSV(entity, bytes.NewReader(data))
	case strings.HasSuffix(lower, ".xlsx"):
		return decodeXLSX(entity, data)
	default:
		return nil, fmt.Errorf("%s: %w", key, ErrUnsupportedFormat)
	}
}

func decodeCSV(entity Entity, r io.Reader) (*RawTable, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = false

	header, err := cr.Read()
	if err == io.EOF {
		return &RawTable{Entity: entity}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s header: %w", entity, err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	table := &RawTable{Entity: entity, Header: header}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s row %d: %w", entity, len(table.Rows)+1, err)
		}
		table.Rows = append(table.Rows, rec)
	}
	return table, nil
}

func decodeXLSX(entity Entity, data []byte) (*RawTable, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open %s workbook: %w", entity, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return &RawTable{Entity: entity}, nil
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read %s sheet %s: %w", entity, sheets[0], err)
	}
	if len(rows) == 0 {
		return &RawTable{Entity: entity}, nil
	}
	return &RawTable{Entity: entity, Header: rows[0], Rows: rows[1:]}, nil
}
