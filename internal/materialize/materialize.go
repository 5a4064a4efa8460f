// Package materialize decodes Arrow record batches into generic Go values.
//
// Output values are int64, float64, string, nil and map[string]any. Null
// handling per layout:
//
//	int64, float64, timestamp   nil
//	text                        ""
//	map row                     empty map
//	map float64 value           nil
//	map text value              ""
//
// Timestamps are formatted as "2006-01-02T15:04:05" in UTC. Decoding never
// mutates its input, and any failure returns no partial result.
package materialize

import (
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"duckframe/internal/domain"
)

// TimestampFormat is the layout of decoded timestamps.
const TimestampFormat = "2006-01-02T15:04:05"

// Columns maps each column name to its values in row order.
type Columns map[string][]any

// Record decodes a single record batch.
func Record(rec arrow.Record) (Columns, error) {
	return Records(rec.Schema(), []arrow.Record{rec})
}

// Records decodes a sequence of record batches sharing schema. Every column
// of every batch is classified before any value is decoded.
func Records(schema *arrow.Schema, recs []arrow.Record) (Columns, error) {
	fields := schema.Fields()
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if _, dup := seen[f.Name]; dup {
			return nil, domain.ErrArrowLayout(f.Name, f.Type.String(), "duplicate column name")
		}
		seen[f.Name] = struct{}{}
	}

	batches := make([][]column, len(recs))
	var total int64
	for i, rec := range recs {
		cols, err := classifyRecord(fields, rec)
		if err != nil {
			return nil, err
		}
		batches[i] = cols
		total += rec.NumRows()
	}

	out := make(Columns, len(fields))
	for _, f := range fields {
		out[f.Name] = make([]any, 0, total)
	}
	for _, cols := range batches {
		for _, c := range cols {
			out[c.name] = decode(c, out[c.name])
		}
	}
	return out, nil
}

// Reader drains rdr and decodes everything it yields.
func Reader(rdr array.RecordReader) (Columns, error) {
	var recs []arrow.Record
	defer func() {
		for _, rec := range recs {
			rec.Release()
		}
	}()
	for rdr.Next() {
		rec := rdr.Record()
		rec.Retain()
		recs = append(recs, rec)
	}
	if err := rdr.Err(); err != nil {
		return nil, fmt.Errorf("read record batches: %w", err)
	}
	return Records(rdr.Schema(), recs)
}

func classifyRecord(fields []arrow.Field, rec arrow.Record) ([]column, error) {
	if int(rec.NumCols()) != len(fields) {
		return nil, domain.ErrArrowLayout("", "record", "batch has %d columns, schema has %d", rec.NumCols(), len(fields))
	}
	cols := make([]column, len(fields))
	for i, f := range fields {
		arr := rec.Column(i)
		if got := rec.ColumnName(i); got != f.Name {
			return nil, domain.ErrArrowLayout(f.Name, f.Type.String(), "batch column %d is named %q", i, got)
		}
		if int64(arr.Len()) != rec.NumRows() {
			return nil, domain.ErrArrowLayout(f.Name, f.Type.String(), "array has %d rows, batch has %d", arr.Len(), rec.NumRows())
		}
		layout, err := Classify(f, arr)
		if err != nil {
			return nil, err
		}
		cols[i] = column{name: f.Name, layout: layout, arr: arr}
	}
	return cols, nil
}

// decode appends the values of c to dst. c has been classified, so the type
// assertions hold.
func decode(c column, dst []any) []any {
	switch c.layout {
	case LayoutInt64:
		a := c.arr.(*array.Int64)
		for i := 0; i < a.Len(); i++ {
			if a.IsNull(i) {
				dst = append(dst, nil)
				continue
			}
			dst = append(dst, a.Value(i))
		}
	case LayoutFloat64:
		dst = appendFloats(dst, c.arr.(*array.Float64))
	case LayoutUtf8, LayoutLargeUtf8, LayoutUtf8View:
		dst = appendText(dst, c.arr)
	case LayoutTimestampMilli, LayoutTimestampNano:
		a := c.arr.(*array.Timestamp)
		unit := a.DataType().(*arrow.TimestampType).Unit
		for i := 0; i < a.Len(); i++ {
			if a.IsNull(i) {
				dst = append(dst, nil)
				continue
			}
			dst = append(dst, FormatTimestamp(int64(a.Value(i)), unit))
		}
	case LayoutMapUtf8, LayoutMapFloat64:
		dst = appendMaps(dst, c.arr.(*array.Map), c.layout)
	}
	return dst
}

func appendFloats(dst []any, a *array.Float64) []any {
	for i := 0; i < a.Len(); i++ {
		if a.IsNull(i) {
			dst = append(dst, nil)
			continue
		}
		dst = append(dst, a.Value(i))
	}
	return dst
}

func appendText(dst []any, arr arrow.Array) []any {
	for i := 0; i < arr.Len(); i++ {
		dst = append(dst, textAt(arr, i))
	}
	return dst
}

// textAt reads row i of a string array; null reads as "".
func textAt(arr arrow.Array, i int) string {
	if arr.IsNull(i) {
		return ""
	}
	switch a := arr.(type) {
	case *array.String:
		return a.Value(i)
	case *array.LargeString:
		return a.Value(i)
	case *array.StringView:
		return a.Value(i)
	}
	return ""
}

// appendMaps decodes each map row by zipping the key and value children of
// the entries struct between the row's offsets. Later duplicate keys
// overwrite earlier ones.
func appendMaps(dst []any, m *array.Map, layout Layout) []any {
	entries := m.ListValues().(*array.Struct)
	keys, values := entries.Field(0), entries.Field(1)

	for i := 0; i < m.Len(); i++ {
		row := map[string]any{}
		if m.IsNull(i) {
			dst = append(dst, row)
			continue
		}
		start, end := m.ValueOffsets(i)
		for j := int(start); j < int(end); j++ {
			k := textAt(keys, j)
			if layout == LayoutMapFloat64 {
				vals := values.(*array.Float64)
				if vals.IsNull(j) {
					row[k] = nil
				} else {
					row[k] = vals.Value(j)
				}
				continue
			}
			row[k] = textAt(values, j)
		}
		dst = append(dst, row)
	}
	return dst
}

var unitsPerSecond = map[arrow.TimeUnit]int64{
	arrow.Second:      1,
	arrow.Millisecond: 1_000,
	arrow.Microsecond: 1_000_000,
	arrow.Nanosecond:  1_000_000_000,
}

// FormatTimestamp splits v into whole seconds and a sub-second remainder in
// unit and formats the instant in UTC.
func FormatTimestamp(v int64, unit arrow.TimeUnit) string {
	per := unitsPerSecond[unit]
	secs, rem := v/per, v%per
	if rem < 0 {
		secs--
		rem += per
	}
	nanos := rem * (1_000_000_000 / per)
	return time.Unix(secs, nanos).UTC().Format(TimestampFormat)
}
