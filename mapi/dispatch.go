// © Copyright 2026, the monetdb-go authors
// SPDX-License-Identifier: MPL-2.0

package mapi

// fetchRequest carries the expectations of an in-flight fetch command so the
// dispatcher can validate the continuation block against what was asked.
type fetchRequest struct {
	res    *TableResult
	offset int64
	count  int
	block  *RowBlock // filled by the dispatcher
}

// dispatcher consumes one reassembled server message line by line. Each
// line's first byte selects its class; classified lines feed the active
// response builder. Dispatcher state lives for a single message, except for
// the fetch expectations handed in by the session.
type dispatcher struct {
	gen          uint64
	fetch        *fetchRequest
	onAutoCommit func(bool)
	onInfo       func(string)

	table     *tableBuilder
	responses []Response
	srvErr    *Error
	done      bool
}

// line classifies and routes one response line. Unclassified lines are a
// protocol violation and fail fast, never silently ignored.
func (d *dispatcher) line(text string) error {
	if d.done || text == "" {
		return nil
	}
	switch text[0] {
	case markSOHeader:
		return d.startOfHeader(text)
	case markHeader:
		if d.table == nil {
			return protocolErrf("column metadata outside a table result: %q", text)
		}
		return d.table.addHeader(text)
	case markTuple:
		return d.tuple(text)
	case markError:
		// The error aborts whatever was being built and is surfaced as the
		// outcome of the whole exchange.
		d.srvErr = serverError(text[1:])
		d.table = nil
		d.done = true
		return nil
	case markRedirect:
		return protocolErrf("unexpected redirect outside the handshake: %q", text)
	case markInfo:
		if d.onInfo != nil {
			d.onInfo(text[1:])
		}
		return nil
	case markPrompt:
		d.done = true
		return nil
	default:
		return protocolErrf("unclassifiable response line: %q", text)
	}
}

func (d *dispatcher) startOfHeader(text string) error {
	if len(text) < 2 {
		return protocolErrf("truncated result header %q", text)
	}
	if d.table != nil && d.table.wantsMore() {
		return protocolErrf("new result header while result %d still owes rows", d.table.res.id)
	}
	if err := d.closeTable(); err != nil {
		return err
	}

	switch text[1] {
	case sohTable, sohPrepare:
		res, err := parseTableHeader(text, d.gen)
		if err != nil {
			return err
		}
		d.table = newTableBuilder(res)
		return nil
	case sohUpdate:
		res, err := parseUpdateHeader(text)
		if err != nil {
			return err
		}
		d.responses = append(d.responses, res)
		return nil
	case sohSchema:
		d.responses = append(d.responses, &SchemaResult{})
		return nil
	case sohTrans:
		res, err := parseTransHeader(text)
		if err != nil {
			return err
		}
		if d.onAutoCommit != nil {
			d.onAutoCommit(res.AutoCommit)
		}
		d.responses = append(d.responses, res)
		return nil
	case sohBlock:
		return d.startBlock(text)
	default:
		return protocolErrf("unknown result header tag %q", text)
	}
}

// startBlock validates a '&6' continuation header against the outstanding
// fetch request and allocates the replacement window.
func (d *dispatcher) startBlock(text string) error {
	if d.fetch == nil {
		return protocolErrf("continuation block outside a fetch: %q", text)
	}
	hdr, err := parseBlockHeader(text)
	if err != nil {
		return err
	}
	req := d.fetch
	if hdr.id != req.res.id {
		return protocolErrf("continuation for result %d, expected %d", hdr.id, req.res.id)
	}
	if hdr.columns != req.res.columnCount {
		return protocolErrf("continuation carries %d columns, result has %d",
			hdr.columns, req.res.columnCount)
	}
	if hdr.offset != req.offset || hdr.rows != req.count {
		return protocolErrf("continuation window [%d,%d) does not match requested [%d,%d)",
			hdr.offset, hdr.offset+int64(hdr.rows), req.offset, req.offset+int64(req.count))
	}
	req.block = newRowBlock(req.res.columns, hdr.offset, hdr.rows)
	return nil
}

func (d *dispatcher) tuple(text string) error {
	if d.fetch != nil && d.fetch.block != nil {
		if d.fetch.block.rows >= d.fetch.count {
			return protocolErrf("fetch window overflow: more than %d tuple lines", d.fetch.count)
		}
		return d.fetch.block.appendTuple(text)
	}
	if d.table == nil {
		return protocolErrf("tuple line outside a result: %q", text)
	}
	return d.table.addTuple(text)
}

// closeTable finishes a completed table builder, if any.
func (d *dispatcher) closeTable() error {
	if d.table == nil {
		return nil
	}
	res, err := d.table.finish()
	if err != nil {
		return err
	}
	d.responses = append(d.responses, res)
	d.table = nil
	return nil
}

// finish validates end-of-message state and picks the primary response:
// the first result-bearing variant, falling back to a transaction state
// reply, or nil for a bare prompt.
func (d *dispatcher) finish() (Response, error) {
	if d.srvErr != nil {
		return nil, d.srvErr
	}
	if d.table != nil && d.table.wantsMore() {
		return nil, protocolErrf("message ended while result %d still owes rows", d.table.res.id)
	}
	if err := d.closeTable(); err != nil {
		return nil, err
	}
	if d.fetch != nil {
		if d.fetch.block == nil {
			return nil, protocolErrf("fetch produced no continuation block")
		}
		if d.fetch.block.rows != d.fetch.count {
			return nil, protocolErrf("fetch window carries %d rows, requested %d",
				d.fetch.block.rows, d.fetch.count)
		}
	}

	var trans Response
	for _, r := range d.responses {
		if _, ok := r.(*TransactionState); ok {
			if trans == nil {
				trans = r
			}
			continue
		}
		return r, nil
	}
	return trans, nil
}
