package engine

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"sort"
	"time"

	duckdb "github.com/duckdb/duckdb-go/v2"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/decimal128"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// opaque carries values of DuckDB types that have no Arrow counterpart,
// rendered as text. Decoding reports such columns as unhandled.
var opaque arrow.DataType = arrow.BinaryTypes.Binary

// statementSchema reads the output schema of a prepared statement. Preparing
// binds the statement but runs nothing.
func statementSchema(stmt *duckdb.Stmt) (*arrow.Schema, error) {
	n, err := stmt.ColumnCount()
	if err != nil {
		return nil, err
	}
	fields := make([]arrow.Field, n)
	for i := range n {
		name, err := stmt.ColumnName(i)
		if err != nil {
			return nil, err
		}
		dt, err := columnType(stmt, i)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", name, err)
		}
		fields[i] = arrow.Field{Name: name, Type: dt, Nullable: true}
	}
	return arrow.NewSchema(fields, nil), nil
}

// columnType returns the Arrow type column i is collected as. Types the
// driver cannot describe, such as SQLNULL or a list of SQLNULL, fall back to
// their top-level type.
func columnType(stmt *duckdb.Stmt, i int) (arrow.DataType, error) {
	info, err := stmt.ColumnTypeInfo(i)
	if err == nil {
		return arrowType(info), nil
	}
	t, terr := stmt.ColumnType(i)
	if terr != nil {
		return nil, terr
	}
	if t == duckdb.TYPE_SQLNULL {
		return arrow.Null, nil
	}
	return opaque, nil
}

// arrowType maps a DuckDB type to the Arrow type it is collected as.
func arrowType(info duckdb.TypeInfo) arrow.DataType {
	switch info.InternalType() {
	case duckdb.TYPE_BOOLEAN:
		return arrow.FixedWidthTypes.Boolean
	case duckdb.TYPE_TINYINT:
		return arrow.PrimitiveTypes.Int8
	case duckdb.TYPE_SMALLINT:
		return arrow.PrimitiveTypes.Int16
	case duckdb.TYPE_INTEGER:
		return arrow.PrimitiveTypes.Int32
	case duckdb.TYPE_BIGINT:
		return arrow.PrimitiveTypes.Int64
	case duckdb.TYPE_UTINYINT:
		return arrow.PrimitiveTypes.Uint8
	case duckdb.TYPE_USMALLINT:
		return arrow.PrimitiveTypes.Uint16
	case duckdb.TYPE_UINTEGER:
		return arrow.PrimitiveTypes.Uint32
	case duckdb.TYPE_UBIGINT:
		return arrow.PrimitiveTypes.Uint64
	case duckdb.TYPE_FLOAT:
		return arrow.PrimitiveTypes.Float32
	case duckdb.TYPE_DOUBLE:
		return arrow.PrimitiveTypes.Float64
	case duckdb.TYPE_HUGEINT:
		return &arrow.Decimal128Type{Precision: 38, Scale: 0}
	case duckdb.TYPE_DECIMAL:
		d := info.Details().(*duckdb.DecimalDetails)
		return &arrow.Decimal128Type{Precision: int32(d.Width), Scale: int32(d.Scale)}
	case duckdb.TYPE_VARCHAR, duckdb.TYPE_ENUM:
		return arrow.BinaryTypes.String
	case duckdb.TYPE_BLOB:
		return arrow.BinaryTypes.Binary
	case duckdb.TYPE_UUID:
		return &arrow.FixedSizeBinaryType{ByteWidth: 16}
	case duckdb.TYPE_DATE:
		return arrow.FixedWidthTypes.Date32
	case duckdb.TYPE_TIME:
		return arrow.FixedWidthTypes.Time64us
	case duckdb.TYPE_INTERVAL:
		return arrow.FixedWidthTypes.MonthDayNanoInterval
	case duckdb.TYPE_TIMESTAMP_S:
		return &arrow.TimestampType{Unit: arrow.Second}
	case duckdb.TYPE_TIMESTAMP_MS:
		return &arrow.TimestampType{Unit: arrow.Millisecond}
	case duckdb.TYPE_TIMESTAMP:
		return &arrow.TimestampType{Unit: arrow.Microsecond}
	case duckdb.TYPE_TIMESTAMP_NS:
		return &arrow.TimestampType{Unit: arrow.Nanosecond}
	case duckdb.TYPE_TIMESTAMP_TZ:
		return &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}
	case duckdb.TYPE_LIST:
		return arrow.ListOf(arrowType(info.Details().(*duckdb.ListDetails).Child))
	case duckdb.TYPE_ARRAY:
		d := info.Details().(*duckdb.ArrayDetails)
		return arrow.FixedSizeListOf(int32(d.Size), arrowType(d.Child))
	case duckdb.TYPE_STRUCT:
		entries := info.Details().(*duckdb.StructDetails).Entries
		fields := make([]arrow.Field, len(entries))
		for i, e := range entries {
			fields[i] = arrow.Field{Name: e.Name(), Type: arrowType(e.Info()), Nullable: true}
		}
		return arrow.StructOf(fields...)
	case duckdb.TYPE_MAP:
		d := info.Details().(*duckdb.MapDetails)
		return arrow.MapOf(arrowType(d.Key), arrowType(d.Value))
	default:
		return opaque
	}
}

// encoder turns DuckDB result rows into Arrow record batches.
type encoder struct {
	mem    memory.Allocator
	schema *arrow.Schema
}

func newEncoder(schema *arrow.Schema, mem memory.Allocator) *encoder {
	return &encoder{mem: mem, schema: schema}
}

// encode drains rows into batches of at most batchRows rows. An empty result
// yields no records.
func (e *encoder) encode(ctx context.Context, rows driver.Rows) (*Batches, error) {
	out := &Batches{Schema: e.schema}
	b := array.NewRecordBuilder(e.mem, e.schema)
	defer b.Release()

	vals := make([]driver.Value, len(e.schema.Fields()))
	pending := 0
	for {
		err := rows.Next(vals)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			out.Release()
			return nil, fmt.Errorf("read row: %w", err)
		}
		for i, v := range vals {
			if err := appendValue(b.Field(i), v); err != nil {
				out.Release()
				return nil, fmt.Errorf("column %q: %w", e.schema.Field(i).Name, err)
			}
		}
		pending++
		if pending == batchRows {
			out.Records = append(out.Records, b.NewRecord())
			pending = 0
			if err := ctx.Err(); err != nil {
				out.Release()
				return nil, err
			}
		}
	}
	if pending > 0 {
		out.Records = append(out.Records, b.NewRecord())
	}
	return out, nil
}

// appendAs appends v to b when v has the builder's value type.
func appendAs[T any](b interface{ Append(T) }, v any) error {
	x, ok := v.(T)
	if !ok {
		var want T
		return unexpected(v, fmt.Sprintf("%T", want))
	}
	b.Append(x)
	return nil
}

// appendValue appends one driver value to b.
func appendValue(b array.Builder, v any) error {
	if v == nil {
		b.AppendNull()
		return nil
	}
	switch b := b.(type) {
	case *array.BooleanBuilder:
		return appendAs[bool](b, v)
	case *array.Int8Builder:
		return appendAs[int8](b, v)
	case *array.Int16Builder:
		return appendAs[int16](b, v)
	case *array.Int32Builder:
		return appendAs[int32](b, v)
	case *array.Int64Builder:
		return appendAs[int64](b, v)
	case *array.Uint8Builder:
		return appendAs[uint8](b, v)
	case *array.Uint16Builder:
		return appendAs[uint16](b, v)
	case *array.Uint32Builder:
		return appendAs[uint32](b, v)
	case *array.Uint64Builder:
		return appendAs[uint64](b, v)
	case *array.Float32Builder:
		return appendAs[float32](b, v)
	case *array.Float64Builder:
		return appendAs[float64](b, v)
	case *array.StringBuilder:
		if s, ok := v.(string); ok {
			b.Append(s)
			return nil
		}
		// JSON columns arrive already decoded.
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		b.Append(string(data))
	case *array.BinaryBuilder:
		if raw, ok := v.([]byte); ok {
			b.Append(raw)
			return nil
		}
		b.Append([]byte(render(v)))
	case *array.FixedSizeBinaryBuilder:
		return appendAs[[]byte](b, v)
	case *array.Decimal128Builder:
		return appendDecimal(b, v)
	case *array.Date32Builder:
		t, ok := v.(time.Time)
		if !ok {
			return unexpected(v, "time.Time")
		}
		b.Append(arrow.Date32FromTime(t))
	case *array.Time64Builder:
		t, ok := v.(time.Time)
		if !ok {
			return unexpected(v, "time.Time")
		}
		b.Append(arrow.Time64(timeOfDay(t).Microseconds()))
	case *array.MonthDayNanoIntervalBuilder:
		iv, ok := v.(duckdb.Interval)
		if !ok {
			return unexpected(v, "duckdb.Interval")
		}
		b.Append(arrow.MonthDayNanoInterval{Months: iv.Months, Days: iv.Days, Nanoseconds: iv.Micros * 1000})
	case *array.TimestampBuilder:
		t, ok := v.(time.Time)
		if !ok {
			return unexpected(v, "time.Time")
		}
		b.Append(timestamp(t, b.Type().(*arrow.TimestampType).Unit))
	case *array.ListBuilder:
		items, ok := v.([]any)
		if !ok {
			return unexpected(v, "[]any")
		}
		b.Append(true)
		return appendAll(b.ValueBuilder(), items)
	case *array.FixedSizeListBuilder:
		items, ok := v.([]any)
		if !ok {
			return unexpected(v, "[]any")
		}
		if n := b.Type().(*arrow.FixedSizeListType).Len(); int32(len(items)) != n {
			return fmt.Errorf("array has %d items, expected %d", len(items), n)
		}
		b.Append(true)
		return appendAll(b.ValueBuilder(), items)
	case *array.StructBuilder:
		m, ok := v.(map[string]any)
		if !ok {
			return unexpected(v, "map[string]any")
		}
		b.Append(true)
		for i, f := range b.Type().(*arrow.StructType).Fields() {
			if err := appendValue(b.FieldBuilder(i), m[f.Name]); err != nil {
				return fmt.Errorf("field %q: %w", f.Name, err)
			}
		}
	case *array.MapBuilder:
		m, ok := v.(duckdb.Map)
		if !ok {
			return unexpected(v, "duckdb.Map")
		}
		return appendMap(b, m)
	default:
		return fmt.Errorf("no builder for %s", b.Type())
	}
	return nil
}

func appendAll(b array.Builder, items []any) error {
	for _, item := range items {
		if err := appendValue(b, item); err != nil {
			return err
		}
	}
	return nil
}

// appendDecimal appends a DECIMAL or HUGEINT value.
func appendDecimal(b *array.Decimal128Builder, v any) error {
	var n *big.Int
	switch v := v.(type) {
	case duckdb.Decimal:
		n = v.Value
	case *big.Int:
		n = v
	default:
		return unexpected(v, "duckdb.Decimal")
	}
	if n == nil {
		b.AppendNull()
		return nil
	}
	if n.BitLen() > 127 {
		return fmt.Errorf("value %s does not fit in 128 bits", n)
	}
	b.Append(decimal128.FromBigInt(n))
	return nil
}

// appendMap appends m as one map row with keys in sorted order, since the
// driver hands maps over unordered.
func appendMap(b *array.MapBuilder, m duckdb.Map) error {
	keys := make([]any, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keyLess(keys[i], keys[j]) })

	b.Append(true)
	for _, k := range keys {
		if err := appendValue(b.KeyBuilder(), k); err != nil {
			return fmt.Errorf("map key: %w", err)
		}
		if err := appendValue(b.ItemBuilder(), m[k]); err != nil {
			return err
		}
	}
	return nil
}

func keyLess(a, b any) bool {
	switch a := a.(type) {
	case string:
		if b, ok := b.(string); ok {
			return a < b
		}
	case int64:
		if b, ok := b.(int64); ok {
			return a < b
		}
	case int32:
		if b, ok := b.(int32); ok {
			return a < b
		}
	}
	return render(a) < render(b)
}

func timestamp(t time.Time, unit arrow.TimeUnit) arrow.Timestamp {
	switch unit {
	case arrow.Second:
		return arrow.Timestamp(t.Unix())
	case arrow.Millisecond:
		return arrow.Timestamp(t.UnixMilli())
	case arrow.Nanosecond:
		return arrow.Timestamp(t.UnixNano())
	default:
		return arrow.Timestamp(t.UnixMicro())
	}
}

func timeOfDay(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second +
		time.Duration(t.Nanosecond())
}

func render(v any) string {
	if s, ok := v.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprint(v)
}

func unexpected(v any, want string) error {
	return fmt.Errorf("driver returned %T, expected %s", v, want)
}
