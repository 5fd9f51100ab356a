// © Copyright 2026, the monetdb-go authors
// SPDX-License-Identifier: MPL-2.0

package mapi

import (
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// arrowType maps a column kind to its Arrow data type. Decimals keep their
// exact wire text as strings rather than losing precision in a float.
func arrowType(kind TypeKind) arrow.DataType {
	switch kind {
	case TypeBool:
		return arrow.FixedWidthTypes.Boolean
	case TypeInt8:
		return arrow.PrimitiveTypes.Int8
	case TypeInt16:
		return arrow.PrimitiveTypes.Int16
	case TypeInt32:
		return arrow.PrimitiveTypes.Int32
	case TypeInt64:
		return arrow.PrimitiveTypes.Int64
	case TypeFloat32:
		return arrow.PrimitiveTypes.Float32
	case TypeFloat64:
		return arrow.PrimitiveTypes.Float64
	case TypeBlob:
		return arrow.BinaryTypes.Binary
	case TypeDate:
		return arrow.FixedWidthTypes.Date32
	case TypeTime, TypeTimeTz:
		return arrow.FixedWidthTypes.Time64us
	case TypeTimestamp:
		return &arrow.TimestampType{Unit: arrow.Microsecond}
	case TypeTimestampTz:
		return &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}
	case TypeUUID:
		return &arrow.FixedSizeBinaryType{ByteWidth: 16}
	default: // TypeDecimal, TypeText, best-effort fallbacks
		return arrow.BinaryTypes.String
	}
}

// Schema returns the Arrow schema equivalent of the result's columns. Every
// field is nullable; the server type name travels in field metadata.
func (r *TableResult) Schema() *arrow.Schema {
	fields := make([]arrow.Field, len(r.columns))
	for i, d := range r.columns {
		fields[i] = arrow.Field{
			Name:     d.Name,
			Type:     arrowType(d.Kind),
			Nullable: true,
			Metadata: arrow.NewMetadata(
				[]string{"monetdb.type", "monetdb.table"},
				[]string{d.TypeName, d.TableName},
			),
		}
	}
	return arrow.NewSchema(fields, nil)
}

// Record converts the window into an Arrow record batch. Null sentinels in
// fixed-width columns become Arrow validity bits, so downstream consumers
// see ordinary nullable arrays. The caller owns the returned record and
// must Release it.
func (b *RowBlock) Record(mem memory.Allocator, schema *arrow.Schema) (arrow.Record, error) {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	if len(schema.Fields()) != len(b.cols) {
		return nil, fmt.Errorf("mapi: schema has %d fields, window has %d columns",
			len(schema.Fields()), len(b.cols))
	}
	rb := array.NewRecordBuilder(mem, schema)
	defer rb.Release()

	for col := range b.cols {
		if err := b.appendColumn(rb.Field(col), col); err != nil {
			return nil, err
		}
	}
	return rb.NewRecord(), nil
}

func (b *RowBlock) appendColumn(fb array.Builder, col int) error {
	c := &b.cols[col]
	for row := 0; row < b.rows; row++ {
		if b.IsNull(row, col) {
			fb.AppendNull()
			continue
		}
		switch c.kind {
		case TypeBool:
			fb.(*array.BooleanBuilder).Append(c.i8[row] == 1)
		case TypeInt8:
			fb.(*array.Int8Builder).Append(c.i8[row])
		case TypeInt16:
			fb.(*array.Int16Builder).Append(c.i16[row])
		case TypeInt32:
			fb.(*array.Int32Builder).Append(c.i32[row])
		case TypeInt64:
			fb.(*array.Int64Builder).Append(c.i64[row])
		case TypeFloat32:
			fb.(*array.Float32Builder).Append(c.f32[row])
		case TypeFloat64:
			fb.(*array.Float64Builder).Append(c.f64[row])
		case TypeDecimal, TypeText:
			fb.(*array.StringBuilder).Append(c.str[row])
		case TypeBlob:
			fb.(*array.BinaryBuilder).Append(c.bytes[row])
		case TypeDate:
			fb.(*array.Date32Builder).Append(arrow.Date32FromTime(c.times[row]))
		case TypeTime, TypeTimeTz:
			fb.(*array.Time64Builder).Append(arrow.Time64(sinceMidnight(c.times[row]) / time.Microsecond))
		case TypeTimestamp, TypeTimestampTz:
			fb.(*array.TimestampBuilder).Append(arrow.Timestamp(c.times[row].UnixMicro()))
		case TypeUUID:
			u := c.uuids[row]
			fb.(*array.FixedSizeBinaryBuilder).Append(u[:])
		default:
			return fmt.Errorf("mapi: column %d has unconvertible kind %d", col, c.kind)
		}
	}
	return nil
}

func sinceMidnight(t time.Time) time.Duration {
	h, m, s := t.Clock()
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second + time.Duration(t.Nanosecond())
}
