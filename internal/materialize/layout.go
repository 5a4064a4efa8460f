package materialize

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"duckframe/internal/domain"
)

// Layout is a supported physical column layout. The set is closed: a column
// that classifies to none of these cannot be decoded.
type Layout int

// Supported layouts.
const (
	LayoutInt64 Layout = iota + 1
	LayoutFloat64
	LayoutUtf8
	LayoutLargeUtf8
	LayoutUtf8View
	LayoutTimestampMilli
	LayoutTimestampNano
	LayoutMapUtf8
	LayoutMapFloat64
)

var layoutNames = map[Layout]string{
	LayoutInt64:          "int64",
	LayoutFloat64:        "float64",
	LayoutUtf8:           "utf8",
	LayoutLargeUtf8:      "large_utf8",
	LayoutUtf8View:       "utf8_view",
	LayoutTimestampMilli: "timestamp[ms]",
	LayoutTimestampNano:  "timestamp[ns]",
	LayoutMapUtf8:        "map<utf8, utf8>",
	LayoutMapFloat64:     "map<utf8, float64>",
}

func (l Layout) String() string {
	if name, ok := layoutNames[l]; ok {
		return name
	}
	return fmt.Sprintf("layout(%d)", int(l))
}

// column is a classified column ready for decoding.
type column struct {
	name   string
	layout Layout
	arr    arrow.Array
}

// Classify returns the layout of arr, whose declared type is field.Type.
//
// A declared type with no handler fails with UnhandledColumnType. A textual
// declared type backed by an unknown string encoding fails with
// UnsupportedPhysicalLayout. Any other disagreement between the declared type
// and the Go array type is an *domain.ArrowLayoutError.
func Classify(field arrow.Field, arr arrow.Array) (Layout, error) {
	declared := field.Type.String()

	switch dt := field.Type.(type) {
	case *arrow.Int64Type:
		if _, ok := arr.(*array.Int64); !ok {
			return 0, mismatch(field, arr)
		}
		return LayoutInt64, nil

	case *arrow.Float64Type:
		if _, ok := arr.(*array.Float64); !ok {
			return 0, mismatch(field, arr)
		}
		return LayoutFloat64, nil

	case *arrow.StringType, *arrow.LargeStringType, *arrow.StringViewType:
		return textLayout(field, arr)

	case *arrow.TimestampType:
		if _, ok := arr.(*array.Timestamp); !ok {
			return 0, mismatch(field, arr)
		}
		switch dt.Unit {
		case arrow.Millisecond:
			return LayoutTimestampMilli, nil
		case arrow.Nanosecond:
			return LayoutTimestampNano, nil
		default:
			return 0, domain.ErrDecode(domain.UnsupportedTimestampUnit, field.Name, declared, "unit %s", dt.Unit)
		}

	case *arrow.MapType:
		return mapLayout(field, dt, arr)

	default:
		return 0, &domain.DecodeError{Kind: domain.UnhandledColumnType, Column: field.Name, Type: declared}
	}
}

func textLayout(field arrow.Field, arr arrow.Array) (Layout, error) {
	switch arr.(type) {
	case *array.String:
		return LayoutUtf8, nil
	case *array.LargeString:
		return LayoutLargeUtf8, nil
	case *array.StringView:
		return LayoutUtf8View, nil
	default:
		return 0, domain.ErrDecode(domain.UnsupportedPhysicalLayout, field.Name, field.Type.String(), "array is %T", arr)
	}
}

func mapLayout(field arrow.Field, dt *arrow.MapType, arr arrow.Array) (Layout, error) {
	declared := dt.String()
	if !isText(dt.KeyType()) {
		return 0, domain.ErrDecode(domain.UnhandledColumnType, field.Name, declared, "map key type %s", dt.KeyType())
	}
	m, ok := arr.(*array.Map)
	if !ok {
		return 0, mismatch(field, arr)
	}
	entries, ok := m.ListValues().(*array.Struct)
	if !ok || entries.NumField() != 2 {
		return 0, domain.ErrArrowLayout(field.Name, declared, "map entries are %T", m.ListValues())
	}
	if _, err := textLayout(arrow.Field{Name: field.Name, Type: dt.KeyType()}, entries.Field(0)); err != nil {
		return 0, err
	}

	item := dt.ItemType()
	switch {
	case isText(item):
		if _, err := textLayout(arrow.Field{Name: field.Name, Type: item}, entries.Field(1)); err != nil {
			return 0, err
		}
		return LayoutMapUtf8, nil
	case item.ID() == arrow.FLOAT64:
		if _, ok := entries.Field(1).(*array.Float64); !ok {
			return 0, domain.ErrArrowLayout(field.Name, declared, "map values are %T", entries.Field(1))
		}
		return LayoutMapFloat64, nil
	default:
		return 0, domain.ErrDecode(domain.UnsupportedMapValueType, field.Name, declared, "value type %s", item)
	}
}

func isText(dt arrow.DataType) bool {
	switch dt.ID() {
	case arrow.STRING, arrow.LARGE_STRING, arrow.STRING_VIEW:
		return true
	}
	return false
}

func mismatch(field arrow.Field, arr arrow.Array) error {
	return domain.ErrArrowLayout(field.Name, field.Type.String(), "array is %T", arr)
}
