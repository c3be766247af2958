// Package batch encodes table snapshots as Arrow IPC streams, the columnar
// payload handed to table sync.
package batch

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/kadirbelkuyu/dbsync/internal/catalog"
	"github.com/kadirbelkuyu/dbsync/internal/value"
)

var ErrEmptyBatch = errors.New("cannot infer column types from an empty batch")

type Column struct {
	Name string
	Type catalog.DataType
}

// Batch is an encoded snapshot. Data is an Arrow IPC stream with a single
// record.
type Batch struct {
	Columns []Column
	Rows    int
	Data    []byte
}

// InferColumns derives column types from the first non-null value of every
// column. Integer columns that also hold floats become float64; columns with
// no values at all become strings.
func InferColumns(names []string, rows [][]value.Scalar) ([]Column, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyBatch
	}
	columns := make([]Column, len(names))
	for i, name := range names {
		columns[i] = Column{Name: name, Type: inferType(rows, i)}
	}
	return columns, nil
}

func inferType(rows [][]value.Scalar, i int) catalog.DataType {
	var inferred catalog.DataType
	for _, row := range rows {
		if i >= len(row) || row[i].IsNull() {
			continue
		}
		t := typeOf(row[i])
		switch {
		case inferred == "":
			inferred = t
		case inferred == t:
		case isNumeric(inferred) && isNumeric(t):
			inferred = catalog.Float64
		default:
			return catalog.String
		}
	}
	if inferred == "" {
		return catalog.String
	}
	return inferred
}

func typeOf(v value.Scalar) catalog.DataType {
	switch v.Kind() {
	case value.KindBool:
		return catalog.Bool
	case value.KindInt:
		return catalog.Int64
	case value.KindFloat:
		return catalog.Float64
	default:
		return catalog.String
	}
}

func isNumeric(t catalog.DataType) bool {
	return t == catalog.Int64 || t == catalog.Float64
}

func arrowType(t catalog.DataType) (arrow.DataType, error) {
	switch t {
	case catalog.Bool:
		return arrow.FixedWidthTypes.Boolean, nil
	case catalog.Int32:
		return arrow.PrimitiveTypes.Int32, nil
	case catalog.Int64:
		return arrow.PrimitiveTypes.Int64, nil
	case catalog.Float32:
		return arrow.PrimitiveTypes.Float32, nil
	case catalog.Float64:
		return arrow.PrimitiveTypes.Float64, nil
	case catalog.String:
		return arrow.BinaryTypes.String, nil
	case catalog.Bytes:
		return arrow.BinaryTypes.Binary, nil
	default:
		return nil, fmt.Errorf("unsupported data type %q", t)
	}
}

func dataType(t arrow.DataType) (catalog.DataType, error) {
	switch t.ID() {
	case arrow.BOOL:
		return catalog.Bool, nil
	case arrow.INT32:
		return catalog.Int32, nil
	case arrow.INT64:
		return catalog.Int64, nil
	case arrow.FLOAT32:
		return catalog.Float32, nil
	case arrow.FLOAT64:
		return catalog.Float64, nil
	case arrow.STRING:
		return catalog.String, nil
	case arrow.BINARY:
		return catalog.Bytes, nil
	default:
		return "", fmt.Errorf("unsupported arrow type %s", t)
	}
}

// Encode writes rows as one Arrow record. Values of bytes columns are base64
// strings and are stored decoded.
func Encode(columns []Column, rows [][]value.Scalar) (*Batch, error) {
	fields := make([]arrow.Field, len(columns))
	for i, col := range columns {
		t, err := arrowType(col.Type)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col.Name, err)
		}
		fields[i] = arrow.Field{Name: col.Name, Type: t, Nullable: true}
	}
	schema := arrow.NewSchema(fields, nil)

	builder := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer builder.Release()

	for r, row := range rows {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("row %d has %d values for %d columns", r, len(row), len(columns))
		}
		for i, v := range row {
			if err := appendValue(builder.Field(i), columns[i].Type, v); err != nil {
				return nil, fmt.Errorf("row %d column %s: %w", r, columns[i].Name, err)
			}
		}
	}

	record := builder.NewRecord()
	defer record.Release()

	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(schema), ipc.WithAllocator(memory.DefaultAllocator))
	if err := w.Write(record); err != nil {
		return nil, fmt.Errorf("failed to write arrow record: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close arrow stream: %w", err)
	}

	return &Batch{Columns: columns, Rows: len(rows), Data: buf.Bytes()}, nil
}

func appendValue(b array.Builder, t catalog.DataType, v value.Scalar) error {
	if v.IsNull() {
		b.AppendNull()
		return nil
	}
	switch t {
	case catalog.Bool:
		if v.Kind() != value.KindBool {
			return fmt.Errorf("expected bool, got %s", v.Kind())
		}
		b.(*array.BooleanBuilder).Append(v.Bool())
	case catalog.Int32, catalog.Int64:
		if v.Kind() != value.KindInt {
			return fmt.Errorf("expected int, got %s", v.Kind())
		}
		if t == catalog.Int32 {
			b.(*array.Int32Builder).Append(int32(v.Int()))
		} else {
			b.(*array.Int64Builder).Append(v.Int())
		}
	case catalog.Float32, catalog.Float64:
		f, err := toFloat(v)
		if err != nil {
			return err
		}
		if t == catalog.Float32 {
			b.(*array.Float32Builder).Append(float32(f))
		} else {
			b.(*array.Float64Builder).Append(f)
		}
	case catalog.String:
		b.(*array.StringBuilder).Append(v.String())
	case catalog.Bytes:
		if v.Kind() != value.KindString {
			return fmt.Errorf("expected base64 string, got %s", v.Kind())
		}
		raw, err := base64.StdEncoding.DecodeString(v.Str())
		if err != nil {
			return fmt.Errorf("invalid base64: %w", err)
		}
		b.(*array.BinaryBuilder).Append(raw)
	}
	return nil
}

func toFloat(v value.Scalar) (float64, error) {
	switch v.Kind() {
	case value.KindFloat:
		return v.Float(), nil
	case value.KindInt:
		return float64(v.Int()), nil
	default:
		return 0, fmt.Errorf("expected number, got %s", v.Kind())
	}
}

// Decode reads every record of an encoded batch back into rows.
func Decode(data []byte) ([]Column, [][]value.Scalar, error) {
	r, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(memory.DefaultAllocator))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open arrow stream: %w", err)
	}
	defer r.Release()

	schema := r.Schema()
	columns := make([]Column, schema.NumFields())
	for i, field := range schema.Fields() {
		t, err := dataType(field.Type)
		if err != nil {
			return nil, nil, fmt.Errorf("column %s: %w", field.Name, err)
		}
		columns[i] = Column{Name: field.Name, Type: t}
	}

	var rows [][]value.Scalar
	for r.Next() {
		record := r.Record()
		for i := 0; i < int(record.NumRows()); i++ {
			row := make([]value.Scalar, len(columns))
			for c := range columns {
				row[c] = scalarAt(record.Column(c), i)
			}
			rows = append(rows, row)
		}
	}
	if err := r.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read arrow stream: %w", err)
	}
	return columns, rows, nil
}

func scalarAt(arr arrow.Array, i int) value.Scalar {
	if arr.IsNull(i) {
		return value.Null()
	}
	switch a := arr.(type) {
	case *array.Boolean:
		return value.Bool(a.Value(i))
	case *array.Int32:
		return value.Int(int64(a.Value(i)))
	case *array.Int64:
		return value.Int(a.Value(i))
	case *array.Float32:
		return value.Float(float64(a.Value(i)))
	case *array.Float64:
		return value.Float(a.Value(i))
	case *array.String:
		return value.String(a.Value(i))
	case *array.Binary:
		return value.String(base64.StdEncoding.EncodeToString(a.Value(i)))
	default:
		return value.Null()
	}
}

// Names returns the column names in order.
func (b *Batch) Names() []string {
	names := make([]string, len(b.Columns))
	for i, col := range b.Columns {
		names[i] = col.Name
	}
	return names
}

// Decode reads the rows of b.
func (b *Batch) Decode() ([][]value.Scalar, error) {
	_, rows, err := Decode(b.Data)
	return rows, err
}
