// © Copyright 2026, the monetdb-go authors
// SPDX-License-Identifier: MPL-2.0

package mapi

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RowBlock is a column-major store of decoded values for one window of a
// TableResult. Fixed-width numeric columns are dense typed slices with a
// type-specific null sentinel (see the Null* constants); all other kinds
// are boxed with an explicit null mask. Every column holds exactly Rows()
// values. A RowBlock is replaced, never merged, when the cursor moves to a
// new window.
type RowBlock struct {
	offset int64
	rows   int
	descs  []ColumnDescriptor
	cols   []column
}

// column is the per-kind storage of one decoded column. Exactly one of the
// value slices is in use, selected by kind.
type column struct {
	kind TypeKind

	i8    []int8 // bool and tinyint
	i16   []int16
	i32   []int32
	i64   []int64
	f32   []float32
	f64   []float64
	str   []string // text and decimal
	bytes [][]byte
	times []time.Time
	uuids []uuid.UUID
	null  []bool // boxed kinds only
}

func newRowBlock(descs []ColumnDescriptor, offset int64, capacity int) *RowBlock {
	b := &RowBlock{offset: offset, descs: descs, cols: make([]column, len(descs))}
	for i, d := range descs {
		c := column{kind: d.Kind}
		switch d.Kind {
		case TypeBool, TypeInt8:
			c.i8 = make([]int8, 0, capacity)
		case TypeInt16:
			c.i16 = make([]int16, 0, capacity)
		case TypeInt32:
			c.i32 = make([]int32, 0, capacity)
		case TypeInt64:
			c.i64 = make([]int64, 0, capacity)
		case TypeFloat32:
			c.f32 = make([]float32, 0, capacity)
		case TypeFloat64:
			c.f64 = make([]float64, 0, capacity)
		case TypeDecimal, TypeText:
			c.str = make([]string, 0, capacity)
			c.null = make([]bool, 0, capacity)
		case TypeBlob:
			c.bytes = make([][]byte, 0, capacity)
			c.null = make([]bool, 0, capacity)
		case TypeDate, TypeTime, TypeTimeTz, TypeTimestamp, TypeTimestampTz:
			c.times = make([]time.Time, 0, capacity)
			c.null = make([]bool, 0, capacity)
		case TypeUUID:
			c.uuids = make([]uuid.UUID, 0, capacity)
			c.null = make([]bool, 0, capacity)
		}
		b.cols[i] = c
	}
	return b
}

// Offset returns the logical row index of the first row in this window.
func (b *RowBlock) Offset() int64 { return b.offset }

// Rows returns the number of rows in this window.
func (b *RowBlock) Rows() int { return b.rows }

// Contains reports whether the logical row index falls inside this window.
func (b *RowBlock) Contains(row int64) bool {
	return row >= b.offset && row < b.offset+int64(b.rows)
}

// Local translates a logical row index into this window's local index. The
// caller must first check Contains.
func (b *RowBlock) Local(row int64) int { return int(row - b.offset) }

// appendTuple decodes one '[' line into the window.
func (b *RowBlock) appendTuple(line string) error {
	tokens, err := tokenizeTuple(line)
	if err != nil {
		return err
	}
	if len(tokens) != len(b.cols) {
		return protocolErrf("tuple carries %d values, result has %d columns: %q",
			len(tokens), len(b.cols), line)
	}
	for i := range b.cols {
		if err := b.cols[i].append(tokens[i]); err != nil {
			return err
		}
	}
	b.rows++
	return nil
}

// append decodes one raw token into the column's storage.
func (c *column) append(token string) error {
	isNull := token == nullToken
	switch c.kind {
	case TypeBool:
		switch {
		case isNull:
			c.i8 = append(c.i8, NullInt8)
		case token == "true":
			c.i8 = append(c.i8, 1)
		case token == "false":
			c.i8 = append(c.i8, 0)
		default:
			return protocolErrf("malformed boolean token %q", token)
		}
	case TypeInt8, TypeInt16, TypeInt32, TypeInt64:
		return c.appendInt(token, isNull)
	case TypeFloat32:
		if isNull {
			c.f32 = append(c.f32, NullFloat32)
			return nil
		}
		v, err := strconv.ParseFloat(token, 32)
		if err != nil {
			return protocolErrf("malformed real token %q: %v", token, err)
		}
		c.f32 = append(c.f32, float32(v))
	case TypeFloat64:
		if isNull {
			c.f64 = append(c.f64, NullFloat64)
			return nil
		}
		v, err := strconv.ParseFloat(token, 64)
		if err != nil {
			return protocolErrf("malformed double token %q: %v", token, err)
		}
		c.f64 = append(c.f64, v)
	case TypeDecimal:
		c.str = append(c.str, stripQuotes(token))
		c.null = append(c.null, isNull)
	case TypeText:
		if isNull {
			c.str = append(c.str, "")
			c.null = append(c.null, true)
			return nil
		}
		s, err := unquoteString(token)
		if err != nil {
			return err
		}
		c.str = append(c.str, s)
		c.null = append(c.null, false)
	case TypeBlob:
		if isNull {
			c.bytes = append(c.bytes, nil)
			c.null = append(c.null, true)
			return nil
		}
		data, err := parseBlob(stripQuotes(token))
		if err != nil {
			return err
		}
		c.bytes = append(c.bytes, data)
		c.null = append(c.null, false)
	case TypeDate, TypeTime, TypeTimeTz, TypeTimestamp, TypeTimestampTz:
		if isNull {
			c.times = append(c.times, time.Time{})
			c.null = append(c.null, true)
			return nil
		}
		t, err := parseTemporal(c.kind, stripQuotes(token))
		if err != nil {
			return err
		}
		c.times = append(c.times, t)
		c.null = append(c.null, false)
	case TypeUUID:
		if isNull {
			c.uuids = append(c.uuids, uuid.Nil)
			c.null = append(c.null, true)
			return nil
		}
		u, err := uuid.Parse(stripQuotes(token))
		if err != nil {
			return protocolErrf("malformed uuid token %q: %v", token, err)
		}
		c.uuids = append(c.uuids, u)
		c.null = append(c.null, false)
	}
	return nil
}

func (c *column) appendInt(token string, isNull bool) error {
	var bits int
	switch c.kind {
	case TypeInt8:
		bits = 8
	case TypeInt16:
		bits = 16
	case TypeInt32:
		bits = 32
	default:
		bits = 64
	}
	var v int64
	if !isNull {
		var err error
		if v, err = strconv.ParseInt(token, 10, bits); err != nil {
			return protocolErrf("malformed integer token %q: %v", token, err)
		}
	}
	switch c.kind {
	case TypeInt8:
		if isNull {
			v = int64(NullInt8)
		}
		c.i8 = append(c.i8, int8(v))
	case TypeInt16:
		if isNull {
			v = int64(NullInt16)
		}
		c.i16 = append(c.i16, int16(v))
	case TypeInt32:
		if isNull {
			v = int64(NullInt32)
		}
		c.i32 = append(c.i32, int32(v))
	default:
		if isNull {
			v = NullInt64
		}
		c.i64 = append(c.i64, v)
	}
	return nil
}

// stripQuotes removes surrounding double quotes when present; temporal,
// uuid, blob and decimal tokens appear both bare and quoted depending on
// server version.
func stripQuotes(token string) string {
	if len(token) >= 2 && strings.HasPrefix(token, `"`) && strings.HasSuffix(token, `"`) {
		return token[1 : len(token)-1]
	}
	return token
}

// IsNull reports whether the value at the window-local row is NULL. For
// fixed-width numeric columns this is the sentinel comparison, so a genuine
// minimum-value row reads as NULL.
func (b *RowBlock) IsNull(row, col int) bool {
	c := &b.cols[col]
	switch c.kind {
	case TypeBool, TypeInt8:
		return c.i8[row] == NullInt8
	case TypeInt16:
		return c.i16[row] == NullInt16
	case TypeInt32:
		return c.i32[row] == NullInt32
	case TypeInt64:
		return c.i64[row] == NullInt64
	case TypeFloat32:
		return c.f32[row] == NullFloat32
	case TypeFloat64:
		return c.f64[row] == NullFloat64
	default:
		return c.null[row]
	}
}

// Bool returns the boolean at the window-local row. isNull reports NULL.
func (b *RowBlock) Bool(row, col int) (v, isNull bool) {
	c := &b.cols[col]
	return c.i8[row] == 1, c.i8[row] == NullInt8
}

// Int64 returns any integer-kind column widened to int64.
func (b *RowBlock) Int64(row, col int) (v int64, isNull bool) {
	c := &b.cols[col]
	switch c.kind {
	case TypeInt8:
		return int64(c.i8[row]), c.i8[row] == NullInt8
	case TypeInt16:
		return int64(c.i16[row]), c.i16[row] == NullInt16
	case TypeInt32:
		return int64(c.i32[row]), c.i32[row] == NullInt32
	default:
		return c.i64[row], c.i64[row] == NullInt64
	}
}

// Float64 returns a floating-kind column widened to float64.
func (b *RowBlock) Float64(row, col int) (v float64, isNull bool) {
	c := &b.cols[col]
	if c.kind == TypeFloat32 {
		return float64(c.f32[row]), c.f32[row] == NullFloat32
	}
	return c.f64[row], c.f64[row] == NullFloat64
}

// Text returns a text or decimal column value.
func (b *RowBlock) Text(row, col int) (v string, isNull bool) {
	c := &b.cols[col]
	return c.str[row], c.null[row]
}

// Bytes returns a blob column value. The returned slice is owned by the
// block and must not be modified.
func (b *RowBlock) Bytes(row, col int) (v []byte, isNull bool) {
	c := &b.cols[col]
	return c.bytes[row], c.null[row]
}

// Time returns a temporal column value.
func (b *RowBlock) Time(row, col int) (v time.Time, isNull bool) {
	c := &b.cols[col]
	return c.times[row], c.null[row]
}

// UUID returns a uuid column value.
func (b *RowBlock) UUID(row, col int) (v uuid.UUID, isNull bool) {
	c := &b.cols[col]
	return c.uuids[row], c.null[row]
}

// Value returns the value at the window-local row as a generic Go value,
// or nil when NULL.
func (b *RowBlock) Value(row, col int) any {
	if b.IsNull(row, col) {
		return nil
	}
	c := &b.cols[col]
	switch c.kind {
	case TypeBool:
		return c.i8[row] == 1
	case TypeInt8:
		return c.i8[row]
	case TypeInt16:
		return c.i16[row]
	case TypeInt32:
		return c.i32[row]
	case TypeInt64:
		return c.i64[row]
	case TypeFloat32:
		return c.f32[row]
	case TypeFloat64:
		return c.f64[row]
	case TypeDecimal, TypeText:
		return c.str[row]
	case TypeBlob:
		return c.bytes[row]
	case TypeUUID:
		return c.uuids[row]
	default:
		return c.times[row]
	}
}

// Fetch returns the row window containing startRow, reusing the cached
// window when it already covers the row and otherwise replacing it with a
// freshly fetched one. Windows are aligned to multiples of the session's
// reply size; the last window of a result is short. Fetching from a stale
// or released result fails; the engine never stitches two windows together.
func (s *Session) Fetch(ctx context.Context, r *TableResult, startRow int64) (*RowBlock, error) {
	if r.released {
		return nil, &Error{Kind: KindStaleResult, Message: "table result already released"}
	}
	if s.Stale(r) {
		return nil, &Error{Kind: KindStaleResult,
			Message: fmt.Sprintf("result %d was invalidated by a later statement", r.id)}
	}
	if startRow < 0 || (startRow >= r.rowCount && r.rowCount > 0) {
		return nil, fmt.Errorf("mapi: row %d out of range [0,%d)", startRow, r.rowCount)
	}
	if r.block != nil && r.block.Contains(startRow) {
		return r.block, nil
	}
	if r.rowCount == 0 {
		return r.block, nil
	}

	window := int64(s.replySize)
	if window <= 0 {
		window = r.rowCount
	}
	wstart := startRow / window * window
	count := window
	if remaining := r.rowCount - wstart; remaining < count {
		count = remaining
	}

	cmd := fmt.Sprintf("export %d %d %d", r.id, wstart, count)
	block, err := s.exchangeFetch(ctx, r, cmd, wstart, int(count))
	if err != nil {
		return nil, err
	}
	r.block = block
	return block, nil
}

// exchangeFetch issues one fetch command and returns the validated
// continuation window built by the dispatcher.
func (s *Session) exchangeFetch(ctx context.Context, r *TableResult, cmd string, offset int64, count int) (*RowBlock, error) {
	req := &fetchRequest{res: r, offset: offset, count: count}
	if _, err := s.exchange(ctx, ExchangeFetch, s.language.commandTemplate(cmd), req, false); err != nil {
		return nil, err
	}
	return req.block, nil
}

// Release frees the caller's hold on a table result. When the server-side
// cursor may still hold rows (the result was never fully shipped and has
// not gone stale), a close command is issued for the result id.
func (s *Session) Release(ctx context.Context, r *TableResult) error {
	if r.released {
		return nil
	}
	r.released = true
	r.block = nil
	if s.Stale(r) || int64(r.blockRows) >= r.rowCount {
		return nil
	}
	_, err := s.exchange(ctx, ExchangeCommand, s.language.commandTemplate(fmt.Sprintf("close %d", r.id)), nil, false)
	return err
}

// Stale reports whether a later statement on the session has invalidated
// the result's server-side cursor. Staleness is a generation comparison,
// not a back-pointer walk.
func (s *Session) Stale(r *TableResult) bool {
	return r.gen != s.gen
}
