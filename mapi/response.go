// © Copyright 2026, the monetdb-go authors
// SPDX-License-Identifier: MPL-2.0

package mapi

import (
	"strconv"
	"strings"
)

// Response is the closed set of server reply variants an exchange can
// produce. Concrete types: *TableResult, *UpdateResult, *SchemaResult,
// *TransactionState. Server errors are not a Response; they surface as a
// *Error with KindServer and leave the session usable.
type Response interface {
	response()
}

// TableResult is a tabular query result backed by a server-side cursor.
// Rows are materialized window by window through Session.Fetch. A
// TableResult becomes Stale once a later statement runs on its session;
// fetching from a stale result fails with a KindStaleResult error.
type TableResult struct {
	id          int
	rowCount    int64
	columnCount int
	blockRows   int // rows the server ships per window for this result
	columns     []ColumnDescriptor
	block       *RowBlock // currently cached window, nil before first use
	gen         uint64    // session generation at creation, staleness check
	released    bool
}

func (*TableResult) response() {}

// ID returns the server-side result identifier.
func (r *TableResult) ID() int { return r.id }

// RowCount returns the total number of rows of the result.
func (r *TableResult) RowCount() int64 { return r.rowCount }

// Columns returns the column descriptors in result order.
func (r *TableResult) Columns() []ColumnDescriptor { return r.columns }

// Cached returns the currently cached row window, or nil when no window has
// been materialized yet.
func (r *TableResult) Cached() *RowBlock { return r.block }

// UpdateResult reports a statement that changed rows.
type UpdateResult struct {
	// AffectedRows is the server-reported row count.
	AffectedRows int64
	// LastID is the last generated key, or -1 when the statement
	// generated none.
	LastID int64
}

func (*UpdateResult) response() {}

// SchemaResult reports a schema-changing statement that produced no rows
// and no count.
type SchemaResult struct{}

func (*SchemaResult) response() {}

// TransactionState reports the session's auto-commit flag as echoed by the
// server after transaction statements.
type TransactionState struct {
	AutoCommit bool
}

func (*TransactionState) response() {}

// sohFields splits the whitespace-separated fields following a '&N' header.
func sohFields(line string) []string {
	return strings.Fields(line[2:])
}

func sohInt(fields []string, i int, line string) (int64, error) {
	if i >= len(fields) {
		return 0, protocolErrf("result header %q is missing field %d", line, i)
	}
	v, err := strconv.ParseInt(fields[i], 10, 64)
	if err != nil {
		return 0, protocolErrf("result header %q field %d: %v", line, i, err)
	}
	return v, nil
}

// parseTableHeader parses '&1 id tuplecount columncount rowsinblock'
// (also used for '&5' prepare replies, which share the shape).
func parseTableHeader(line string, gen uint64) (*TableResult, error) {
	f := sohFields(line)
	id, err := sohInt(f, 0, line)
	if err != nil {
		return nil, err
	}
	rows, err := sohInt(f, 1, line)
	if err != nil {
		return nil, err
	}
	cols, err := sohInt(f, 2, line)
	if err != nil {
		return nil, err
	}
	blockRows, err := sohInt(f, 3, line)
	if err != nil {
		return nil, err
	}
	if cols <= 0 {
		return nil, protocolErrf("result header %q declares %d columns", line, cols)
	}
	if rows < 0 || blockRows < 0 || blockRows > rows {
		return nil, protocolErrf("result header %q has inconsistent row counts", line)
	}
	return &TableResult{
		id:          int(id),
		rowCount:    rows,
		columnCount: int(cols),
		blockRows:   int(blockRows),
		gen:         gen,
	}, nil
}

// parseUpdateHeader parses '&2 affected lastid'.
func parseUpdateHeader(line string) (*UpdateResult, error) {
	f := sohFields(line)
	affected, err := sohInt(f, 0, line)
	if err != nil {
		return nil, err
	}
	lastID := int64(-1)
	if len(f) > 1 {
		if lastID, err = sohInt(f, 1, line); err != nil {
			return nil, err
		}
	}
	return &UpdateResult{AffectedRows: affected, LastID: lastID}, nil
}

// parseTransHeader parses '&4 t|f'. 't' reports auto-commit enabled.
func parseTransHeader(line string) (*TransactionState, error) {
	f := sohFields(line)
	if len(f) != 1 || (f[0] != "t" && f[0] != "f") {
		return nil, protocolErrf("malformed transaction header %q", line)
	}
	return &TransactionState{AutoCommit: f[0] == "t"}, nil
}

// blockHeader is the parsed '&6 id columncount rowcount offset' header of a
// fetch continuation.
type blockHeader struct {
	id      int
	columns int
	rows    int
	offset  int64
}

func parseBlockHeader(line string) (*blockHeader, error) {
	f := sohFields(line)
	id, err := sohInt(f, 0, line)
	if err != nil {
		return nil, err
	}
	cols, err := sohInt(f, 1, line)
	if err != nil {
		return nil, err
	}
	rows, err := sohInt(f, 2, line)
	if err != nil {
		return nil, err
	}
	offset, err := sohInt(f, 3, line)
	if err != nil {
		return nil, err
	}
	if rows < 0 || offset < 0 {
		return nil, protocolErrf("continuation header %q has negative counts", line)
	}
	return &blockHeader{id: int(id), columns: int(cols), rows: int(rows), offset: offset}, nil
}

// tableBuilder accumulates the metadata and first row window of a
// TableResult: one '%' line per metadata field, then exactly blockRows
// tuple lines.
type tableBuilder struct {
	res *TableResult

	names     []string
	types     []string
	tables    []string
	lengths   []int
	typesizes [][2]int // digits, scale
	haveName  bool
	haveType  bool
	finalized bool
	block     *RowBlock
}

func newTableBuilder(res *TableResult) *tableBuilder {
	return &tableBuilder{res: res}
}

// addHeader consumes one '%' metadata line:
//
//	% v1,\tv2,\t... # name|type|length|table_name|typesizes
func (b *tableBuilder) addHeader(line string) error {
	if b.finalized {
		return protocolErrf("column metadata after tuple data: %q", line)
	}
	body := line[1:]
	idx := strings.LastIndex(body, " # ")
	if idx < 0 {
		return protocolErrf("malformed column metadata line %q", line)
	}
	tag := strings.TrimSpace(body[idx+3:])
	values := strings.Split(body[:idx], ",\t")
	for i := range values {
		values[i] = strings.Trim(values[i], " \t")
	}
	if len(values) != b.res.columnCount {
		return protocolErrf("metadata %q carries %d values, result has %d columns",
			tag, len(values), b.res.columnCount)
	}

	switch tag {
	case "name":
		b.names = values
		b.haveName = true
	case "type":
		b.types = values
		b.haveType = true
	case "table_name":
		b.tables = values
	case "length":
		b.lengths = make([]int, len(values))
		for i, v := range values {
			n, err := strconv.Atoi(v)
			if err != nil {
				return protocolErrf("malformed length %q in %q", v, line)
			}
			b.lengths[i] = n
		}
	case "typesizes":
		b.typesizes = make([][2]int, len(values))
		for i, v := range values {
			digits, scale, _ := strings.Cut(v, " ")
			d, err := strconv.Atoi(digits)
			if err != nil {
				return protocolErrf("malformed typesizes %q in %q", v, line)
			}
			sc := 0
			if scale != "" {
				if sc, err = strconv.Atoi(scale); err != nil {
					return protocolErrf("malformed typesizes %q in %q", v, line)
				}
			}
			b.typesizes[i] = [2]int{d, sc}
		}
	default:
		return protocolErrf("unknown column metadata tag %q", tag)
	}
	return nil
}

// finalize turns the accumulated metadata lines into column descriptors.
func (b *tableBuilder) finalize() error {
	if !b.haveName || !b.haveType {
		return protocolErrf("result %d is missing name or type metadata", b.res.id)
	}
	descs := make([]ColumnDescriptor, b.res.columnCount)
	for i := range descs {
		d := ColumnDescriptor{Name: b.names[i], TypeName: b.types[i]}
		if b.tables != nil {
			d.TableName = b.tables[i]
		}
		if b.typesizes != nil {
			d.Digits = b.typesizes[i][0]
			d.Scale = b.typesizes[i][1]
		} else if b.lengths != nil {
			d.Digits = b.lengths[i]
		}
		d.Kind, d.BestEffort = mapType(d.TypeName, d.Digits, d.Scale)
		descs[i] = d
	}
	b.res.columns = descs
	b.block = newRowBlock(descs, 0, b.res.blockRows)
	b.finalized = true
	return nil
}

// addTuple consumes one '[' data line into the first row window.
func (b *tableBuilder) addTuple(line string) error {
	if !b.finalized {
		if err := b.finalize(); err != nil {
			return err
		}
	}
	if b.block.rows >= b.res.blockRows {
		return protocolErrf("result %d: more tuple lines than the declared %d",
			b.res.id, b.res.blockRows)
	}
	return b.block.appendTuple(line)
}

// wantsMore reports whether tuple lines are still owed to this builder.
func (b *tableBuilder) wantsMore() bool {
	return b.block == nil && b.res.blockRows > 0 || b.block != nil && b.block.rows < b.res.blockRows
}

// finish validates the declared counts and attaches the first window.
func (b *tableBuilder) finish() (*TableResult, error) {
	if !b.finalized {
		// Zero-row results ship metadata but no tuples.
		if err := b.finalize(); err != nil {
			return nil, err
		}
	}
	if b.block.rows != b.res.blockRows {
		return nil, protocolErrf("result %d: got %d tuple lines, header declared %d",
			b.res.id, b.block.rows, b.res.blockRows)
	}
	b.res.block = b.block
	return b.res, nil
}
